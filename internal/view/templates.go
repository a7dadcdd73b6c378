package view

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/snies/snies-admin/internal/shared"
	"github.com/snies/snies-admin/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// NavItem is one entry of the sidebar.
type NavItem struct {
	Label  string
	Path   string
	Active bool
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	User        string
	Nav         []NavItem
	Data        any
}

var titleCaser = cases.Title(language.Spanish)

// ModuleLabel turns a module key such as "continuing_education" into a
// display label.
func ModuleLabel(module string) string {
	if module == "" {
		return ""
	}
	return titleCaser.String(strings.ReplaceAll(module, "_", " "))
}

// NewEngine parses templates at build-time.
func NewEngine() (*Engine, error) {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
		"moduleLabel": ModuleLabel,
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// Render executes a named template with TemplateData. Callers that need a
// status other than 200 set headers and status before calling.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	return e.templates.ExecuteTemplate(w, name, data)
}
