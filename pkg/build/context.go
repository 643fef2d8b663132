package build

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"text/template"
)

// renderTarget maps one context template to the file it produces.
type renderTarget struct {
	template string // file name under the templates directory
	output   string // file name inside the build context
}

// renderTargets is the fixed, ordered set of files rendered into every build
// context. The order is part of the contract: identical requests against the
// same template set produce byte-identical files.
var renderTargets = []renderTarget{
	{template: "dockerfile.tmpl", output: "Dockerfile"},
	{template: "package.json.tmpl", output: "package.json"},
	{template: "wrapper.js.tmpl", output: "index.js"},
	{template: "func.yaml.tmpl", output: "func.yaml"},
}

// contextParams is the projection of a build request the context templates
// are rendered with. Field names are a template contract.
type contextParams struct {
	ThirdPartyId string
	ParserId     string
}

// ContextBuilder assembles the build context for one attempt: the rendered
// template set plus any static assets copied verbatim.
type ContextBuilder struct {
	templatesDir string
	templates    map[string]*template.Template
}

// NewContextBuilder parses every context template under dir up front so a
// broken template set fails the process at startup, not mid-build.
func NewContextBuilder(dir string) (*ContextBuilder, error) {
	cb := &ContextBuilder{
		templatesDir: dir,
		templates:    make(map[string]*template.Template, len(renderTargets)),
	}
	for _, target := range renderTargets {
		path := filepath.Join(dir, target.template)
		tpl, err := template.ParseFiles(path)
		if err != nil {
			return nil, fmt.Errorf("parsing context template %s: %w", path, err)
		}
		cb.templates[target.template] = tpl
	}
	return cb, nil
}

// Populate renders the template set into dir and copies the static subtree.
// Any render or copy failure aborts the attempt; a partially assembled
// context must never be uploaded.
func (cb *ContextBuilder) Populate(req Request, dir string) error {
	params := contextParams{ThirdPartyId: req.ThirdPartyID, ParserId: req.ParserID}

	for _, target := range renderTargets {
		var buf bytes.Buffer
		if err := cb.templates[target.template].Execute(&buf, params); err != nil {
			return fmt.Errorf("rendering %s: %w", target.output, err)
		}
		if err := os.WriteFile(filepath.Join(dir, target.output), buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", target.output, err)
		}
	}

	if err := cb.copyStatic(dir); err != nil {
		return fmt.Errorf("copying static assets: %w", err)
	}
	return nil
}

// copyStatic copies the contents of the templates' static/ subtree into the
// context root, preserving nested directories. A template set without static
// assets is fine.
func (cb *ContextBuilder) copyStatic(dir string) error {
	staticDir := filepath.Join(cb.templatesDir, "static")
	if _, err := os.Stat(staticDir); errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}

	return filepath.WalkDir(staticDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(staticDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		dst := filepath.Join(dir, rel)
		if d.IsDir() {
			return os.MkdirAll(dst, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(dst, data, 0o644)
	})
}
