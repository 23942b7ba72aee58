package handlers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/damio-kids/admin-console/internal/api/dto"
	"github.com/damio-kids/admin-console/internal/guard"
	"github.com/damio-kids/admin-console/internal/session"
	"github.com/damio-kids/admin-console/internal/views"
	"github.com/damio-kids/admin-console/pkg/apperrors"
)

const missingCredentialsMessage = "Email and password are required"

// AuthHandler serves sign-in and sign-out.
type AuthHandler struct {
	guard guard.Config
	views *views.Renderer
}

// NewAuthHandler constructs handler.
func NewAuthHandler(cfg guard.Config, renderer *views.Renderer) *AuthHandler {
	return &AuthHandler{guard: cfg, views: renderer}
}

// LoginPage handles GET on the login path.
func (h *AuthHandler) LoginPage(c *fiber.Ctx) error {
	ctrl, err := controller(c)
	if err != nil {
		return err
	}
	snap := ctrl.Snapshot(c.UserContext())
	return h.views.Render(c, http.StatusOK, "login.html", views.LoginData{
		Action: h.guard.LoginPath,
		From:   c.Query("from"),
		Error:  snap.Error,
	})
}

// Login handles POST on the login path, from the form or as JSON.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	ctrl, err := controller(c)
	if err != nil {
		return err
	}
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	req.Normalize()
	asJSON := h.guard.WantsJSON(c)

	if req.Email == "" || req.Password == "" {
		if asJSON {
			return apperrors.NewValidationError(missingCredentialsMessage, nil)
		}
		return h.renderForm(c, http.StatusBadRequest, req, missingCredentialsMessage)
	}

	profile, err := ctrl.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		var loginErr *session.LoginError
		if !asJSON && errors.As(err, &loginErr) {
			return h.renderForm(c, http.StatusUnauthorized, req, loginErr.Message)
		}
		if !asJSON && errors.Is(err, session.ErrAlreadyAuthenticated) {
			return c.Redirect(h.guard.LandingPath, fiber.StatusSeeOther)
		}
		return mapSessionError(h.guard, err)
	}

	target := h.guard.SafeReturn(req.From)
	if asJSON {
		return c.JSON(fiber.Map{"data": fiber.Map{"admin": profile, "redirect": target}})
	}
	return c.Redirect(target, fiber.StatusSeeOther)
}

func (h *AuthHandler) renderForm(c *fiber.Ctx, status int, req dto.LoginRequest, msg string) error {
	return h.views.Render(c, status, "login.html", views.LoginData{
		Action: h.guard.LoginPath,
		From:   req.From,
		Email:  req.Email,
		Error:  msg,
	})
}

// Logout ends the session. It always succeeds.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	ctrl, err := controller(c)
	if err != nil {
		return err
	}
	ctrl.Logout(c.UserContext())
	if h.guard.WantsJSON(c) {
		return c.JSON(fiber.Map{"data": fiber.Map{"status": session.StatusAnonymous, "redirect": h.guard.LoginPath}})
	}
	return c.Redirect(h.guard.LoginPath, fiber.StatusSeeOther)
}
