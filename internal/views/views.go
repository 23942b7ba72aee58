// Package views renders the console's server-side pages.
package views

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/damio-kids/admin-console/internal/domain"
	"github.com/damio-kids/admin-console/internal/events"
)

//go:embed templates/*.html
var templateFS embed.FS

// NavItem is a sidebar link.
type NavItem struct {
	Label  string
	Path   string
	Active bool
}

// LoginData feeds the login form.
type LoginData struct {
	Action string
	From   string
	Email  string
	Error  string
}

// LoadingData feeds the placeholder shown while a session is still verifying.
type LoadingData struct {
	Path           string
	RefreshSeconds int
	// Name is the cached admin name, empty when nothing is cached.
	Name string
}

// DeniedData lists what a view requires next to what the session holds.
type DeniedData struct {
	Path                string
	RequiredPermissions []string
	RequiredRoles       []string
	HeldPermissions     []string
	HeldRole            string
	LandingPath         string
}

// PageData feeds an authenticated page.
type PageData struct {
	AppName    string
	Title      string
	Section    string
	Admin      *domain.AdminProfile
	Nav        []NavItem
	LogoutPath string
	APIPath    string
	Events     []events.Event
}

// Renderer executes the embedded templates.
type Renderer struct {
	tmpl *template.Template
}

// New parses the embedded templates.
func New() (*Renderer, error) {
	funcs := template.FuncMap{
		"join": strings.Join,
		"time": func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04:05") },
	}
	tmpl, err := template.New("views").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render writes template name with status.
func (r *Renderer) Render(c *fiber.Ctx, status int, name string, data any) error {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	c.Status(status)
	c.Type("html", "utf-8")
	return c.Send(buf.Bytes())
}
