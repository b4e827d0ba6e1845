//go:build !windows

package cmd

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchSignals(t *testing.T) {
	tests := []struct {
		name string
		sig  syscall.Signal
	}{
		{"SIGINT", syscall.SIGINT},
		{"SIGTERM", syscall.SIGTERM},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := captureLog(t)
			exitCh := make(chan int, 1)
			stop := watchSignals(func(code int) { exitCh <- code })
			defer stop()

			require.NoError(t, syscall.Kill(syscall.Getpid(), tt.sig))

			select {
			case code := <-exitCh:
				assert.Equal(t, 0, code)
			case <-time.After(5 * time.Second):
				t.Fatal("exit was not called")
			}
			assert.Contains(t, log.String(), "Received signal")
			assert.Contains(t, log.String(), "Exiting gracefully.")
		})
	}
}

func TestWatchSignals_Stop(t *testing.T) {
	called := false
	stop := watchSignals(func(int) { called = true })
	stop()
	assert.False(t, called)
}
