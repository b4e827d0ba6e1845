package config

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ".", cfg.Root)
	assert.Equal(t, "template", cfg.TemplateDir)
	require.Len(t, cfg.Targets, 2)
	assert.Equal(t, Target{Template: "docker-compose.yaml.j2", Output: "docker-compose.yaml"}, cfg.Targets[0])
	assert.Equal(t, Target{Template: "environment.j2", Output: "stack.env"}, cfg.Targets[1])
	assert.False(t, cfg.DryRun)
	assert.False(t, cfg.Diff)
	assert.False(t, cfg.KeepTrailingNewline)
}

func TestConfig_Paths(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := DefaultConfig()

		assert.Equal(t, "template", cfg.TemplatePath())
		assert.Equal(t, filepath.Join("template", "variables.yaml"), cfg.VariablesPath())
		assert.Equal(t, filepath.Join("template", "secrets.sops.yaml"), cfg.SecretsPath())
		assert.Equal(t, "docker-compose.yaml", cfg.OutputPath(cfg.Targets[0]))
		assert.Equal(t, "stack.env", cfg.OutputPath(cfg.Targets[1]))
	})

	t.Run("custom root", func(t *testing.T) {
		root := t.TempDir()
		cfg := DefaultConfig()
		cfg.Root = root

		assert.Equal(t, filepath.Join(root, "template"), cfg.TemplatePath())
		assert.Equal(t, filepath.Join(root, "template", "variables.yaml"), cfg.VariablesPath())
		assert.Equal(t, filepath.Join(root, "stack.env"), cfg.OutputPath(cfg.Targets[1]))
	})

	t.Run("variables file follows template dir", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TemplateDir = "deploy/templates"

		assert.Equal(t, filepath.Join("deploy", "templates", "variables.yaml"), cfg.VariablesPath())
	})

	t.Run("explicit variables and secrets files", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Root = "project"
		cfg.VariablesFile = "vars/prod.yaml"
		cfg.SecretsFile = "vars/prod.sops.yaml"

		assert.Equal(t, filepath.Join("project", "vars", "prod.yaml"), cfg.VariablesPath())
		assert.Equal(t, filepath.Join("project", "vars", "prod.sops.yaml"), cfg.SecretsPath())
	})

	t.Run("absolute paths ignore root", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("unix paths")
		}
		cfg := DefaultConfig()
		cfg.Root = "project"
		cfg.VariablesFile = "/etc/stack/vars.yaml"

		assert.Equal(t, "/etc/stack/vars.yaml", cfg.VariablesPath())
	})

	t.Run("empty root behaves as working directory", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Root = ""

		assert.Equal(t, "template", cfg.TemplatePath())
	})
}

func TestConfig_ApplyEnv(t *testing.T) {
	env := map[string]string{SecretsFileEnv: "  secrets/prod.sops.yaml "}
	getenv := func(k string) string { return env[k] }

	t.Run("fills unset secrets file", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ApplyEnv(getenv)
		assert.Equal(t, "secrets/prod.sops.yaml", cfg.SecretsFile)
	})

	t.Run("explicit value wins", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.SecretsFile = "flag.sops.yaml"
		cfg.ApplyEnv(getenv)
		assert.Equal(t, "flag.sops.yaml", cfg.SecretsFile)
	})

	t.Run("unset env leaves default", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ApplyEnv(func(string) string { return "" })
		assert.Empty(t, cfg.SecretsFile)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "empty template dir",
			mutate:  func(c *Config) { c.TemplateDir = " " },
			wantErr: "template directory is empty",
		},
		{
			name:    "no targets",
			mutate:  func(c *Config) { c.Targets = nil },
			wantErr: "no render targets",
		},
		{
			name:    "target without output",
			mutate:  func(c *Config) { c.Targets = []Target{{Template: "a.j2"}} },
			wantErr: "template and output are required",
		},
		{
			name: "duplicate outputs",
			mutate: func(c *Config) {
				c.Targets = []Target{
					{Template: "a.j2", Output: "out.yaml"},
					{Template: "b.j2", Output: "./out.yaml"},
				}
			},
			wantErr: "both write",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
