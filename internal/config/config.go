// Package config holds the run configuration: where templates and variables
// live and which templates render to which files.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// SecretsFileEnv names the environment variable that overrides the secrets file.
const SecretsFileEnv = "STACKRENDER_SECRETS_FILE"

const (
	// DefaultTemplateDir is the template directory relative to Root.
	DefaultTemplateDir = "template"

	variablesFileName = "variables.yaml"
	secretsFileName   = "secrets.sops.yaml"
)

// Target pairs a template name with the file it renders to.
type Target struct {
	// Template is the template name, resolved inside the template directory.
	Template string
	// Output is the destination path, relative to Root unless absolute.
	Output string
}

// Config holds the stackrender run configuration.
type Config struct {
	// Root is the directory outputs and relative paths resolve against.
	Root string

	// TemplateDir holds the templates and, by default, the variable files.
	TemplateDir string

	// VariablesFile is the plain YAML variables file.
	// Empty means variables.yaml inside TemplateDir.
	VariablesFile string

	// SecretsFile is the SOPS-encrypted overlay.
	// Empty means secrets.sops.yaml inside TemplateDir.
	SecretsFile string

	// Targets are rendered in order.
	Targets []Target

	// KeepTrailingNewline keeps the final newline of template sources.
	KeepTrailingNewline bool

	// DryRun prints rendered documents instead of writing them.
	DryRun bool

	// Diff prints a diff against the existing outputs before writing.
	Diff bool
}

// DefaultTargets returns the compose file and env file targets, in render order.
func DefaultTargets() []Target {
	return []Target{
		{Template: "docker-compose.yaml.j2", Output: "docker-compose.yaml"},
		{Template: "environment.j2", Output: "stack.env"},
	}
}

// DefaultConfig returns a Config rooted at the working directory.
func DefaultConfig() *Config {
	return &Config{
		Root:        ".",
		TemplateDir: DefaultTemplateDir,
		Targets:     DefaultTargets(),
	}
}

// ApplyEnv fills settings that may come from the environment.
// Values already set take precedence.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if c.SecretsFile == "" {
		if v := strings.TrimSpace(getenv(SecretsFileEnv)); v != "" {
			c.SecretsFile = v
		}
	}
}

// Validate checks the configuration for mistakes that would only surface mid-run.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.TemplateDir) == "" {
		return errors.New("template directory is empty")
	}
	if len(c.Targets) == 0 {
		return errors.New("no render targets configured")
	}

	seen := make(map[string]string, len(c.Targets))
	for i, t := range c.Targets {
		if t.Template == "" || t.Output == "" {
			return fmt.Errorf("target %d: template and output are required", i)
		}
		out := c.OutputPath(t)
		if prev, ok := seen[out]; ok {
			return fmt.Errorf("targets %s and %s both write %s", prev, t.Template, out)
		}
		seen[out] = t.Template
	}
	return nil
}

// TemplatePath returns the resolved template directory.
func (c *Config) TemplatePath() string {
	return c.resolve(c.TemplateDir)
}

// VariablesPath returns the resolved variables file.
func (c *Config) VariablesPath() string {
	if c.VariablesFile != "" {
		return c.resolve(c.VariablesFile)
	}
	return filepath.Join(c.TemplatePath(), variablesFileName)
}

// SecretsPath returns the resolved SOPS overlay file.
func (c *Config) SecretsPath() string {
	if c.SecretsFile != "" {
		return c.resolve(c.SecretsFile)
	}
	return filepath.Join(c.TemplatePath(), secretsFileName)
}

// OutputPath returns the resolved destination for a target.
func (c *Config) OutputPath(t Target) string {
	return c.resolve(t.Output)
}

func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	root := c.Root
	if root == "" {
		root = "."
	}
	return filepath.Join(root, path)
}
