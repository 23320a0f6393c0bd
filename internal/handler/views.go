// Package handler contains the HTTP handlers for SmartBot's pages and JSON
// API.
//
// Handlers are glue: they read the request, call a service or the client's
// App, and write a response. Flow logic lives in internal/service and
// internal/chat; gating lives in internal/guard.
package handler

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/smartbot/internal/forms"
	"github.com/sakif/smartbot/internal/identity"
	"github.com/sakif/smartbot/internal/service"
)

//go:embed templates/*.html
var templateFS embed.FS

// Page names, one per template file.
const (
	pageLogin          = "login"
	pageRegister       = "register"
	pageForgotPassword = "forgot_password"
	pageVerifyCode     = "verify_code"
	pageResetPassword  = "reset_password"
	pageOnboarding     = "onboarding"
	pageChat           = "chat"
)

var pages = []string{
	pageLogin, pageRegister, pageForgotPassword, pageVerifyCode,
	pageResetPassword, pageOnboarding, pageChat,
}

// Page is the data every template receives. Data carries the
// page-specific view model.
type Page struct {
	Title     string
	Alerts    []string
	Banner    string
	Error     string
	Fields    forms.Errors
	Values    map[string]string
	Providers []string
	Data      any
}

// Views holds one parsed template set per page, each composed with the
// shared base layout.
type Views struct {
	pages  map[string]*template.Template
	logger *slog.Logger
}

var funcs = template.FuncMap{
	"join":  strings.Join,
	"title": titleCase,
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// NewViews parses the embedded templates.
func NewViews(logger *slog.Logger) (*Views, error) {
	v := &Views{pages: make(map[string]*template.Template, len(pages)), logger: logger}
	for _, name := range pages {
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS,
			"templates/base.html",
			"templates/"+name+".html",
		)
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", name, err)
		}
		v.pages[name] = t
	}
	return v, nil
}

// render executes the page into a buffer first so a template error can
// still become a clean 500.
func (v *Views) render(w http.ResponseWriter, status int, name string, p Page) {
	t, ok := v.pages[name]
	if !ok {
		v.logger.Error("unknown page", slog.String("page", name))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "base", p); err != nil {
		v.logger.Error("failed to render template",
			slog.String("page", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// renderForm re-renders a form page after a failed submission. Field
// errors show next to their inputs; gateway failures show above the form.
func (v *Views) renderForm(w http.ResponseWriter, name string, p Page, err error) {
	var fieldErrs forms.Errors
	var formErr *service.FormError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &fieldErrs):
		p.Fields = fieldErrs
		status = http.StatusUnprocessableEntity
	case errors.As(err, &formErr):
		p.Error = formErr.Message
		status = http.StatusBadRequest
	default:
		v.logger.Error("form submission failed", slog.String("error", err.Error()))
		p.Error = identity.Fallback
	}
	v.render(w, status, name, p)
}
