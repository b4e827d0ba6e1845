package cmd

import (
	"os"
	"os/signal"

	"github.com/cameronsjo/stackrender/internal/ui"
)

// watchSignals calls exit(0) on the first interrupt or termination signal.
// The run in progress is abandoned; partial output is left as is.
// The returned stop function unregisters the handler.
func watchSignals(exit func(int)) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, shutdownSignals...)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			ui.Warning("Received signal %v. Exiting gracefully.", sig)
			exit(0)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
