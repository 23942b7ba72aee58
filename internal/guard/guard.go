// Package guard decides, per request, whether a console view renders or the
// browser is sent elsewhere. Guards read session state only and never call
// the backend.
package guard

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/damio-kids/admin-console/internal/auth"
	"github.com/damio-kids/admin-console/internal/domain"
	"github.com/damio-kids/admin-console/internal/session"
	"github.com/damio-kids/admin-console/internal/views"
	"github.com/damio-kids/admin-console/pkg/apperrors"
)

const loadingRefreshSeconds = 1

var errNoSession = errors.New("guard: session loader not installed")

// Config is shared by every guard.
type Config struct {
	LoginPath   string
	LandingPath string
	// APIPrefix marks routes whose clients expect JSON.
	APIPrefix string
	// InitWait bounds how long a guard waits for startup verification before
	// rendering the loading placeholder.
	InitWait time.Duration
	Views    *views.Renderer
}

// Requirements a session must meet to see a view. All permissions are
// required; any one of Roles suffices. Empty sets impose nothing.
type Requirements struct {
	Permissions []string
	Roles       []domain.AdminRole
}

// Satisfied reports whether profile meets r.
func (r Requirements) Satisfied(profile *domain.AdminProfile) bool {
	if len(auth.MissingPermissions(profile, r.Permissions)) > 0 {
		return false
	}
	if len(r.Roles) > 0 && !auth.HasRole(profile, r.Roles...) {
		return false
	}
	return true
}

// PublicOnly admits anonymous sessions and sends signed-in ones to the
// landing page.
func PublicOnly(cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctrl, ok := ControllerFrom(c)
		if !ok {
			return apperrors.NewInternalError(errNoSession)
		}
		snap, ready := resolve(c, ctrl, cfg.InitWait)
		if !ready {
			return loading(c, cfg, snap)
		}
		if snap.IsAuthenticated {
			if cfg.WantsJSON(c) {
				return c.JSON(fiber.Map{"status": snap.Status, "redirect": cfg.LandingPath})
			}
			return redirect(c, cfg.LandingPath)
		}
		return c.Next()
	}
}

// Protected admits authenticated sessions meeting req.
func Protected(cfg Config, req Requirements) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctrl, ok := ControllerFrom(c)
		if !ok {
			return apperrors.NewInternalError(errNoSession)
		}
		snap, ready := resolve(c, ctrl, cfg.InitWait)
		if !ready {
			return loading(c, cfg, snap)
		}
		if !snap.IsAuthenticated {
			return cfg.ToLogin(c)
		}
		if !req.Satisfied(snap.Admin) {
			return deny(c, cfg, snap.Admin, req)
		}
		return c.Next()
	}
}

// LoginURL is the login route remembering from as the return location.
func (cfg Config) LoginURL(from string) string {
	if from == "" || from == cfg.LoginPath {
		return cfg.LoginPath
	}
	return cfg.LoginPath + "?from=" + url.QueryEscape(from)
}

// ToLogin sends the browser to the login view, or answers 401 to JSON clients.
func (cfg Config) ToLogin(c *fiber.Ctx) error {
	target := cfg.LoginURL(c.OriginalURL())
	if cfg.WantsJSON(c) {
		return apperrors.NewUnauthenticated("sign in to continue", target)
	}
	return redirect(c, target)
}

// SafeReturn returns from when it is a console path, else the landing page.
func (cfg Config) SafeReturn(from string) string {
	if from == "" || !strings.HasPrefix(from, "/") || strings.HasPrefix(from, "//") || strings.Contains(from, `\`) {
		return cfg.LandingPath
	}
	u, err := url.Parse(from)
	if err != nil || u.Host != "" || u.Scheme != "" || u.Path == cfg.LoginPath {
		return cfg.LandingPath
	}
	return from
}

// WantsJSON reports whether the client expects JSON rather than a page.
func (cfg Config) WantsJSON(c *fiber.Ctx) bool {
	if cfg.APIPrefix != "" && strings.HasPrefix(c.Path(), cfg.APIPrefix) {
		return true
	}
	return c.Accepts(fiber.MIMETextHTML, fiber.MIMEApplicationJSON) == fiber.MIMEApplicationJSON
}

// resolve waits up to wait for startup verification and reports whether the
// session has left the initializing state.
func resolve(c *fiber.Ctx, ctrl *session.Controller, wait time.Duration) (session.Snapshot, bool) {
	if wait > 0 {
		ctx, cancel := context.WithTimeout(c.UserContext(), wait)
		_ = ctrl.Wait(ctx)
		cancel()
	}
	snap := ctrl.Snapshot(c.UserContext())
	return snap, snap.Resolved()
}

func loading(c *fiber.Ctx, cfg Config, snap session.Snapshot) error {
	c.Set(fiber.HeaderRetryAfter, "1")
	if cfg.WantsJSON(c) || cfg.Views == nil {
		return c.Status(http.StatusAccepted).JSON(fiber.Map{"status": session.StatusInitializing})
	}
	data := views.LoadingData{
		Path:           c.OriginalURL(),
		RefreshSeconds: loadingRefreshSeconds,
	}
	if snap.Restoring != nil {
		data.Name = snap.Restoring.FullName()
	}
	return cfg.Views.Render(c, http.StatusOK, "loading.html", data)
}

func deny(c *fiber.Ctx, cfg Config, profile *domain.AdminProfile, req Requirements) error {
	data := views.DeniedData{
		Path:                c.Path(),
		RequiredPermissions: req.Permissions,
		RequiredRoles:       roleNames(req.Roles),
		HeldPermissions:     profile.Permissions,
		HeldRole:            string(profile.Role),
		LandingPath:         cfg.LandingPath,
	}
	if cfg.WantsJSON(c) || cfg.Views == nil {
		return apperrors.NewAccessDenied(map[string]any{
			"requiredPermissions": data.RequiredPermissions,
			"requiredRoles":       data.RequiredRoles,
			"heldPermissions":     data.HeldPermissions,
			"heldRole":            data.HeldRole,
		})
	}
	return cfg.Views.Render(c, http.StatusForbidden, "denied.html", data)
}

func roleNames(roles []domain.AdminRole) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}

func redirect(c *fiber.Ctx, location string) error {
	if c.Method() == fiber.MethodGet || c.Method() == fiber.MethodHead {
		return c.Redirect(location, fiber.StatusFound)
	}
	return c.Redirect(location, fiber.StatusSeeOther)
}
