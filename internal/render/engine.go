// Package render renders Jinja-syntax templates with pongo2.
//
// The engine produces the same bytes Jinja2 does with trim_blocks and
// lstrip_blocks enabled: a block tag's trailing newline is dropped,
// indentation before a block tag that starts its line is dropped, and the
// final newline of each template source is removed unless asked otherwise.
// Whitespace control happens when a template is loaded, before pongo2 parses
// it. Autoescaping is off and undefined variables render as empty strings.
//
// Templates are parsed by pongo2. The Jinja spellings it does not accept
// (single-quoted strings, filter(arg) calls, dict.items(), "~" and "is"
// tests) are rewritten on load. Mappings loop in document order and lists
// and floats print the way Python prints them.
package render

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/flosch/pongo2/v6"
	"github.com/pkg/errors"

	"github.com/cameronsjo/stackrender/internal/fileutil"
	"github.com/cameronsjo/stackrender/internal/ui"
)

// Engine renders templates from a single directory.
type Engine struct {
	dir string
	set *pongo2.TemplateSet
}

type engineConfig struct {
	keepTrailingNewline bool
}

// Option configures an Engine.
type Option func(*engineConfig)

// WithKeepTrailingNewline keeps the final newline of template sources.
func WithKeepTrailingNewline(keep bool) Option {
	return func(cfg *engineConfig) {
		cfg.keepTrailingNewline = keep
	}
}

// New creates an Engine loading templates from templateDir.
func New(templateDir string, opts ...Option) (*Engine, error) {
	cfg := &engineConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	local, err := pongo2.NewLocalFileSystemLoader(templateDir)
	if err != nil {
		return nil, errors.Wrapf(err, "open template directory %s", templateDir)
	}

	// Autoescaping, filters and tags are process-wide pongo2 state shared by
	// every Engine. Generated YAML and env files must carry values verbatim.
	pongo2.SetAutoescape(false)
	if err := registerExtensions(); err != nil {
		return nil, err
	}

	set := pongo2.NewSet("stackrender", &sourceLoader{
		TemplateLoader: local,
		lex: lexConfig{
			trimBlocks:          true,
			lstripBlocks:        true,
			keepTrailingNewline: cfg.keepTrailingNewline,
		},
	})
	// preprocess already applied Jinja's whitespace rules.
	set.Options.TrimBlocks = false
	set.Options.LStripBlocks = false

	return &Engine{dir: templateDir, set: set}, nil
}

// Render renders the named template with vars as the context. Variable
// names that are not identifiers are left out of the context.
func (e *Engine) Render(name string, vars map[string]any) ([]byte, error) {
	tmpl, err := e.set.FromFile(name)
	if err != nil {
		return nil, errors.Wrapf(err, "load template %s", filepath.Join(e.dir, name))
	}

	out, err := tmpl.ExecuteBytes(newContext(vars))
	if err != nil {
		return nil, errors.Wrapf(err, "execute template %s", name)
	}
	return out, nil
}

// RenderFile renders the named template and writes the result to outputPath.
func (e *Engine) RenderFile(name string, vars map[string]any, outputPath string) error {
	out, err := e.Render(name, vars)
	if err != nil {
		return err
	}
	return WriteOutput(name, out, outputPath)
}

// WriteOutput writes an already rendered document, replacing any previous content.
func WriteOutput(name string, data []byte, outputPath string) error {
	if err := fileutil.WriteFile(outputPath, data); err != nil {
		return errors.Wrapf(err, "write %s", outputPath)
	}
	ui.Success("Rendered %s to %s", name, outputPath)
	return nil
}

// sourceLoader applies Jinja's whitespace rules to each template source and
// rewrites Jinja-only syntax for pongo2.
type sourceLoader struct {
	pongo2.TemplateLoader
	lex lexConfig
}

func (l *sourceLoader) Get(path string) (io.Reader, error) {
	r, err := l.TemplateLoader.Get(path)
	if err != nil {
		return nil, err
	}

	src, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "read template %s", path)
	}
	out, err := preprocess(string(src), l.lex)
	if err != nil {
		return nil, errors.Wrapf(err, "parse template %s", path)
	}
	return strings.NewReader(out), nil
}
