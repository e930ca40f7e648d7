// Package pug renders pug templates to HTML documents.
package pug

import (
	"bytes"
	"html/template"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Joker/hpp"
	"github.com/Joker/jade"
	"github.com/rotisserie/eris"
)

// Renderer compiles pug sources. Absolute includes resolve against BaseDir.
type Renderer struct {
	BaseDir string
	Pretty  bool
}

// New creates a renderer for templates under baseDir.
func New(baseDir string, pretty bool) *Renderer {
	return &Renderer{BaseDir: baseDir, Pretty: pretty}
}

// Render compiles src, named name relative to BaseDir, into markup.
// Files with an .html extension are markup already and pass through.
func (r *Renderer) Render(name string, src []byte) ([]byte, error) {
	if strings.EqualFold(path.Ext(name), ".html") {
		return src, nil
	}

	tpl, err := jade.ParseWithFileSystem(name, src, http.Dir(r.BaseDir))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to compile %s", name)
	}

	t, err := template.New(name).Parse(tpl)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse compiled %s", name)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, nil); err != nil {
		return nil, eris.Wrapf(err, "failed to render %s", name)
	}

	if !r.Pretty {
		return buf.Bytes(), nil
	}
	return []byte(hpp.PrPrint(buf.String())), nil
}

// RenderFile reads and renders the template at file.
func (r *Renderer) RenderFile(file string) ([]byte, error) {
	src, err := os.ReadFile(file)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", file)
	}

	return r.Render(r.Name(file), src)
}

// Name returns file relative to BaseDir when it lives below it.
func (r *Renderer) Name(file string) string {
	base, err := filepath.Abs(r.BaseDir)
	if err != nil {
		return filepath.ToSlash(file)
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return filepath.ToSlash(file)
	}
	if rel, err := filepath.Rel(base, abs); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(file)
}

// OutputName maps a template path to its document path.
func OutputName(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".pug", ".jade":
		return strings.TrimSuffix(name, path.Ext(name)) + ".html"
	}
	return name
}

// SourceName maps a requested document path to its pug source path.
func SourceName(name string) string {
	return strings.TrimSuffix(name, path.Ext(name)) + ".pug"
}
