package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/damio-kids/admin-console/internal/api/dto"
	"github.com/damio-kids/admin-console/internal/guard"
	"github.com/damio-kids/admin-console/pkg/apperrors"
)

const webPushSubscribePath = "/api/admin/webpush/subscribe"

type pushSubscribeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// PushHandler registers browsers for web push.
type PushHandler struct {
	guard guard.Config
}

// NewPushHandler constructs handler.
func NewPushHandler(cfg guard.Config) *PushHandler {
	return &PushHandler{guard: cfg}
}

// Subscribe handles POST /admin/api/push/subscribe.
func (h *PushHandler) Subscribe(c *fiber.Ctx) error {
	ctrl, err := controller(c)
	if err != nil {
		return err
	}
	var req dto.PushSubscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if problems := req.Validate(); problems != nil {
		return apperrors.NewValidationError("invalid push subscription", problems)
	}
	if req.UserAgent == "" {
		req.UserAgent = c.Get(fiber.HeaderUserAgent)
	}

	var resp pushSubscribeResponse
	if err := ctrl.API().Do(c.UserContext(), http.MethodPost, webPushSubscribePath, req, &resp); err != nil {
		return mapSessionError(h.guard, err)
	}
	if !resp.Success {
		msg := messageOr(resp.Error, messageOr(resp.Message, "push subscription was not accepted"))
		return apperrors.NewDomainError("PUSH_SUBSCRIBE_FAILED", msg, http.StatusBadGateway, nil)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": fiber.Map{"success": true, "deviceType": req.DeviceType}})
}
