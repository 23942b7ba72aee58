package http

import (
	nethttp "net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/damio-kids/admin-console/internal/api/http/handlers"
	"github.com/damio-kids/admin-console/internal/config"
	"github.com/damio-kids/admin-console/internal/guard"
	"github.com/damio-kids/admin-console/pkg/apperrors"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health  *handlers.HealthHandler
	Auth    *handlers.AuthHandler
	Pages   *handlers.PagesHandler
	Session *handlers.SessionHandler
	Proxy   *handlers.ProxyHandler
	Push    *handlers.PushHandler
	Metrics nethttp.Handler

	Sessions guard.Sessions
	Cookie   guard.CookieConfig
	Guard    guard.Config
	Login    config.LoginConfig
}

// RegisterRoutes wires HTTP routes. Health checks and metrics are registered before
// the session loader so they never create browser sessions.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	app.Use(guard.SessionLoader(cfg.Sessions, cfg.Cookie))

	toLanding := func(c *fiber.Ctx) error { return c.Redirect(cfg.Guard.LandingPath, fiber.StatusFound) }
	app.Get("/", toLanding)
	app.Get("/admin", toLanding)

	publicOnly := guard.PublicOnly(cfg.Guard)
	app.Get(cfg.Guard.LoginPath, publicOnly, cfg.Auth.LoginPage)
	app.Post(cfg.Guard.LoginPath, LoginRateLimit(cfg.Login.RatePerMinute, cfg.Login.Burst), publicOnly, cfg.Auth.Login)
	app.Post("/admin/logout", cfg.Auth.Logout)

	for _, sec := range cfg.Pages.Sections() {
		app.Get(sec.Path, guard.Protected(cfg.Guard, sec.Requires), cfg.Pages.Page(sec))
	}

	signedIn := guard.Protected(cfg.Guard, guard.Requirements{})
	api := app.Group("/admin/api")
	api.Get("/session", cfg.Session.Get)
	api.Delete("/session/error", cfg.Session.ClearError)
	api.Post("/session/refresh", signedIn, cfg.Session.RefreshProfile)
	api.Post("/session/token", signedIn, cfg.Session.RefreshToken)
	api.Patch("/session/profile", signedIn, cfg.Session.UpdateProfile)
	api.Post("/push/subscribe", signedIn, cfg.Push.Subscribe)
	api.All("/backend/*", signedIn, cfg.Proxy.Forward)

	app.Use(func(c *fiber.Ctx) error {
		if cfg.Guard.WantsJSON(c) {
			return apperrors.NewNotFound("route", map[string]any{"path": c.Path()})
		}
		return c.Redirect(cfg.Guard.LandingPath, fiber.StatusFound)
	})
}
