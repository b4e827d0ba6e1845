// Package runner orchestrates one stackrender run: load variables, then
// render every configured target in order, stopping at the first failure.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/k14s/difflib"
	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/cameronsjo/stackrender/internal/config"
	"github.com/cameronsjo/stackrender/internal/fileutil"
	"github.com/cameronsjo/stackrender/internal/render"
	"github.com/cameronsjo/stackrender/internal/ui"
	"github.com/cameronsjo/stackrender/internal/variables"
)

// VariableLoader produces the merged variable set.
type VariableLoader interface {
	Load(ctx context.Context) (variables.Set, error)
}

// Renderer renders named templates.
type Renderer interface {
	// Render returns the rendered document.
	Render(name string, vars map[string]any) ([]byte, error)
	// RenderFile renders and writes the document to outputPath.
	RenderFile(name string, vars map[string]any, outputPath string) error
}

// Runner executes a render run.
type Runner struct {
	config   *config.Config
	loader   VariableLoader
	renderer Renderer
	stdout   io.Writer
}

// Option is a functional option for configuring the Runner.
type Option func(*Runner)

// WithLoader sets the VariableLoader implementation.
func WithLoader(loader VariableLoader) Option {
	return func(r *Runner) {
		r.loader = loader
	}
}

// WithRenderer sets the Renderer implementation.
func WithRenderer(renderer Renderer) Option {
	return func(r *Runner) {
		r.renderer = renderer
	}
}

// WithStdout sets where dry-run documents and diffs are printed.
func WithStdout(w io.Writer) Option {
	return func(r *Runner) {
		r.stdout = w
	}
}

// New creates a Runner for cfg. Unless overridden, variables come from the
// configured files plus os.Environ and templates from the template directory.
func New(cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{
		config: cfg,
		stdout: os.Stdout,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.loader == nil {
		r.loader = variables.NewLoader(cfg.VariablesPath(),
			variables.WithSecretsFile(cfg.SecretsPath()),
		)
	}

	return r
}

// Run loads variables and renders each target.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.config.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	vars, err := r.loader.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load variables")
	}

	renderer, err := r.rendererFor()
	if err != nil {
		return err
	}

	for _, target := range r.config.Targets {
		if err := ctx.Err(); err != nil {
			return errors.WithStack(err)
		}
		if err := r.renderTarget(renderer, target, vars); err != nil {
			return errors.WithMessagef(err, "render %s", target.Template)
		}
	}

	return nil
}

func (r *Runner) rendererFor() (Renderer, error) {
	if r.renderer != nil {
		return r.renderer, nil
	}
	engine, err := render.New(r.config.TemplatePath(),
		render.WithKeepTrailingNewline(r.config.KeepTrailingNewline),
	)
	if err != nil {
		return nil, err
	}
	r.renderer = engine
	return engine, nil
}

func (r *Runner) renderTarget(renderer Renderer, target config.Target, vars variables.Set) error {
	outputPath := r.config.OutputPath(target)

	if !r.config.DryRun && !r.config.Diff {
		return renderer.RenderFile(target.Template, vars, outputPath)
	}

	data, err := renderer.Render(target.Template, vars)
	if err != nil {
		return err
	}

	if r.config.DryRun {
		if err := r.printDocument(outputPath, data); err != nil {
			return err
		}
		ui.Info("Dry run: %s not written", outputPath)
		return nil
	}

	if err := r.printDiff(outputPath, data); err != nil {
		return err
	}
	return render.WriteOutput(target.Template, data, outputPath)
}

func (r *Runner) printDocument(outputPath string, data []byte) error {
	banner := isTerminal(r.stdout)
	if banner {
		ui.Banner(r.stdout, "%s", outputPath)
	}
	if _, err := r.stdout.Write(data); err != nil {
		return errors.Wrapf(err, "print %s", outputPath)
	}
	if banner && len(data) > 0 && data[len(data)-1] != '\n' {
		if _, err := fmt.Fprintln(r.stdout); err != nil {
			return errors.Wrapf(err, "print %s", outputPath)
		}
	}
	return nil
}

func (r *Runner) printDiff(outputPath string, data []byte) error {
	existing, found, err := fileutil.ReadIfExists(outputPath)
	if err != nil {
		return errors.Wrapf(err, "read existing %s", outputPath)
	}

	switch {
	case found && string(existing) == string(data):
		ui.Info("%s unchanged", outputPath)
		return nil
	case !found:
		ui.Info("%s does not exist yet", outputPath)
	}

	ui.Banner(r.stdout, "diff %s", outputPath)
	diff := difflib.PPDiff(splitLines(existing), splitLines(data))
	ui.Plain(r.stdout, "%s\n", diff)
	return nil
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	return strings.Split(string(data), "\n")
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
