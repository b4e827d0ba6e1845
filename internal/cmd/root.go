// Package cmd provides the CLI commands for stackrender.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/cameronsjo/stackrender/internal/config"
	"github.com/cameronsjo/stackrender/internal/runner"
	"github.com/cameronsjo/stackrender/internal/ui"
)

const version = "0.1.0"

// renderOptions holds the flag values for one command instance.
type renderOptions struct {
	chdir               string
	templateDir         string
	variablesFile       string
	secretsFile         string
	dryRun              bool
	diff                bool
	keepTrailingNewline bool
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	opts := &renderOptions{}

	cmd := &cobra.Command{
		Use:   "stackrender",
		Short: "Render docker-compose.yaml and stack.env from templates",
		Long: `stackrender - render a Compose stack from templates

Renders template/docker-compose.yaml.j2 to docker-compose.yaml and
template/environment.j2 to stack.env using Jinja-style templates.

Variables come from, in increasing precedence:
  template/variables.yaml      plain YAML mapping (optional)
  template/secrets.sops.yaml   SOPS-encrypted YAML mapping (optional)
  the process environment      every variable, as strings

Unknown variables render as empty strings. SIGINT and SIGTERM end the run
immediately with exit status 0.

Examples:
  # Render both files in the current directory
  stackrender

  # Preview without writing
  stackrender --dry-run

  # Show what would change, then write
  stackrender --diff -C /srv/stacks/media`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.chdir, "chdir", "C", "", "Project directory (default: current directory)")
	flags.StringVar(&opts.templateDir, "template-dir", config.DefaultTemplateDir, "Template directory, relative to the project directory")
	flags.StringVar(&opts.variablesFile, "variables", "", "Variables file (default: <template-dir>/variables.yaml)")
	flags.StringVarP(&opts.secretsFile, "secrets", "s", "", "SOPS secrets file (default: $"+config.SecretsFileEnv+" or <template-dir>/secrets.sops.yaml)")
	flags.BoolVarP(&opts.dryRun, "dry-run", "n", false, "Print rendered files instead of writing them")
	flags.BoolVarP(&opts.diff, "diff", "d", false, "Show a diff against existing files before writing")
	flags.BoolVar(&opts.keepTrailingNewline, "keep-trailing-newline", false, "Keep the final newline of each template")

	cmd.MarkFlagsMutuallyExclusive("dry-run", "diff")
	cmd.SetVersionTemplate("stackrender version {{.Version}}\n")

	return cmd
}

func runRender(cmd *cobra.Command, opts *renderOptions) error {
	cfg := config.DefaultConfig()
	if opts.chdir != "" {
		cfg.Root = opts.chdir
	}
	cfg.TemplateDir = opts.templateDir
	cfg.VariablesFile = opts.variablesFile
	cfg.SecretsFile = opts.secretsFile
	cfg.ApplyEnv(os.Getenv)
	cfg.DryRun = opts.dryRun
	cfg.Diff = opts.diff
	cfg.KeepTrailingNewline = opts.keepTrailingNewline

	r := runner.New(cfg, runner.WithStdout(cmd.OutOrStdout()))
	return r.Run(cmd.Context())
}

// Execute runs the root command and exits the process.
// Signals end the process with status 0; any error ends it with status 1.
func Execute() {
	stop := watchSignals(os.Exit)
	code := execute(rootCmd)
	stop()
	os.Exit(code)
}

// execute runs cmd and maps its result to an exit status.
func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		reportError(err)
		return 1
	}
	return 0
}

// stackTracer is implemented by errors created with github.com/pkg/errors.
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// reportError logs err and the deepest stack trace recorded in its chain.
func reportError(err error) {
	ui.Error("An error occurred during template rendering: %v", err)

	var trace errors.StackTrace
	for e := err; e != nil; e = errors.Unwrap(e) {
		if st, ok := e.(stackTracer); ok {
			trace = st.StackTrace()
		}
	}
	if trace != nil {
		ui.Detail("%s", formatTrace(trace))
	}
}

func formatTrace(trace errors.StackTrace) string {
	return strings.TrimPrefix(fmt.Sprintf("%+v", trace), "\n")
}
