package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/damio-kids/admin-console/internal/api/dto"
	"github.com/damio-kids/admin-console/internal/guard"
	"github.com/damio-kids/admin-console/pkg/apperrors"
)

// SessionHandler exposes the session controller to the browser.
type SessionHandler struct {
	guard guard.Config
}

// NewSessionHandler constructs handler.
func NewSessionHandler(cfg guard.Config) *SessionHandler {
	return &SessionHandler{guard: cfg}
}

// Get handles GET /admin/api/session.
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	ctrl, err := controller(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ctrl.Snapshot(c.UserContext())})
}

// RefreshProfile handles POST /admin/api/session/refresh.
func (h *SessionHandler) RefreshProfile(c *fiber.Ctx) error {
	ctrl, err := controller(c)
	if err != nil {
		return err
	}
	profile, err := ctrl.RefreshProfile(c.UserContext())
	if err != nil {
		return mapSessionError(h.guard, err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"admin": profile}})
}

// RefreshToken handles POST /admin/api/session/token.
func (h *SessionHandler) RefreshToken(c *fiber.Ctx) error {
	ctrl, err := controller(c)
	if err != nil {
		return err
	}
	profile, err := ctrl.RefreshToken(c.UserContext())
	if err != nil {
		return mapSessionError(h.guard, err)
	}
	snap := ctrl.Snapshot(c.UserContext())
	return c.JSON(fiber.Map{"data": fiber.Map{"admin": profile, "expiresAt": snap.ExpiresAt}})
}

// UpdateProfile handles PATCH /admin/api/session/profile.
func (h *SessionHandler) UpdateProfile(c *fiber.Ctx) error {
	ctrl, err := controller(c)
	if err != nil {
		return err
	}
	var req dto.ProfileUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	patch := req.Patch()
	if patch.Empty() {
		return apperrors.NewValidationError("no profile fields to update", nil)
	}
	profile, err := ctrl.UpdateProfileLocally(c.UserContext(), patch)
	if err != nil {
		return mapSessionError(h.guard, err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"admin": profile}})
}

// ClearError handles DELETE /admin/api/session/error.
func (h *SessionHandler) ClearError(c *fiber.Ctx) error {
	ctrl, err := controller(c)
	if err != nil {
		return err
	}
	ctrl.ClearError()
	return c.SendStatus(http.StatusNoContent)
}
