package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/damio-kids/admin-console/internal/domain"
	"github.com/damio-kids/admin-console/internal/guard"
	"github.com/damio-kids/admin-console/internal/service"
	"github.com/damio-kids/admin-console/internal/views"
)

const auditPageSize = 100

// Section is a console page and what it requires.
type Section struct {
	Key      string
	Title    string
	Path     string
	Requires guard.Requirements
}

// DefaultSections are the console pages, in sidebar order.
func DefaultSections(landingPath string) []Section {
	superAdminOnly := guard.Requirements{Roles: []domain.AdminRole{domain.RoleSuperAdmin}}
	return []Section{
		{Key: "dashboard", Title: "Dashboard", Path: landingPath},
		{Key: "products", Title: "Products", Path: "/admin/products", Requires: guard.Requirements{Permissions: []string{domain.PermReadProducts}}},
		{Key: "orders", Title: "Orders", Path: "/admin/orders", Requires: guard.Requirements{Permissions: []string{domain.PermReadOrders}}},
		{Key: "categories", Title: "Categories", Path: "/admin/categories", Requires: guard.Requirements{Permissions: []string{domain.PermReadCategories}}},
		{Key: "users", Title: "Admin users", Path: "/admin/users", Requires: superAdminOnly},
		{Key: "audit", Title: "Session audit", Path: "/admin/audit", Requires: superAdminOnly},
	}
}

// PagesHandler renders the authenticated console pages.
type PagesHandler struct {
	appName  string
	guard    guard.Config
	views    *views.Renderer
	sections []Section
	audit    *service.SessionAuditService
}

// NewPagesHandler constructs handler.
func NewPagesHandler(appName string, cfg guard.Config, renderer *views.Renderer, sections []Section, audit *service.SessionAuditService) *PagesHandler {
	return &PagesHandler{appName: appName, guard: cfg, views: renderer, sections: sections, audit: audit}
}

// Sections returns the pages to register.
func (h *PagesHandler) Sections() []Section {
	return h.sections
}

// Page renders a section shell. Its data is fetched through the backend
// passthrough.
func (h *PagesHandler) Page(sec Section) fiber.Handler {
	return func(c *fiber.Ctx) error {
		data, err := h.pageData(c, sec)
		if err != nil {
			return err
		}
		if sec.Key == "audit" {
			recent, err := h.audit.Recent(c.UserContext(), auditPageSize)
			if err != nil {
				return err
			}
			data.Events = recent
			return h.views.Render(c, http.StatusOK, "audit.html", data)
		}
		return h.views.Render(c, http.StatusOK, "page.html", data)
	}
}

func (h *PagesHandler) pageData(c *fiber.Ctx, current Section) (views.PageData, error) {
	ctrl, err := controller(c)
	if err != nil {
		return views.PageData{}, err
	}
	admin := ctrl.Snapshot(c.UserContext()).Admin

	nav := make([]views.NavItem, 0, len(h.sections))
	for _, sec := range h.sections {
		if !sec.Requires.Satisfied(admin) {
			continue
		}
		nav = append(nav, views.NavItem{Label: sec.Title, Path: sec.Path, Active: sec.Key == current.Key})
	}
	return views.PageData{
		AppName:    h.appName,
		Title:      current.Title,
		Section:    current.Key,
		Admin:      admin,
		Nav:        nav,
		LogoutPath: "/admin/logout",
		APIPath:    "/admin/api/backend/" + current.Key,
	}, nil
}
