package server

import (
	"html/template"
	"io/fs"
	"net/http"

	pkgerrors "github.com/pkg/errors"
)

// Renderer turns a "render this template with this data" instruction into a
// response. The login flow only produces such instructions and never touches
// template syntax itself.
type Renderer interface {
	Render(w http.ResponseWriter, status int, name string, data map[string]any) error
}

// HTMLRenderer renders html/template files from a filesystem.
type HTMLRenderer struct {
	templates *template.Template
}

var _ Renderer = (*HTMLRenderer)(nil)

// NewHTMLRenderer parses every .html file in fsys (subdirectories included).
func NewHTMLRenderer(fsys fs.FS) (*HTMLRenderer, error) {
	templates := template.New("")
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !matchesHTML(p) {
			return err
		}
		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		_, err = templates.New(p).Parse(string(content))
		return err
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[NewHTMLRenderer] parse templates")
	}
	return &HTMLRenderer{templates: templates}, nil
}

func (r *HTMLRenderer) Render(w http.ResponseWriter, status int, name string, data map[string]any) error {
	tmpl := r.templates.Lookup(name)
	if tmpl == nil {
		return pkgerrors.Errorf("[HTMLRenderer.Render] unknown template %q", name)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	return tmpl.Execute(w, data)
}

func matchesHTML(p string) bool {
	return len(p) > 5 && p[len(p)-5:] == ".html"
}
