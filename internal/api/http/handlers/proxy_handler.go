package handlers

import (
	"net/url"
	"path"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/damio-kids/admin-console/internal/apiclient"
	"github.com/damio-kids/admin-console/internal/guard"
	"github.com/damio-kids/admin-console/pkg/apperrors"
)

const (
	backendAdminPrefix = "/api/admin/"
	// Backend auth routes belong to the session controller.
	backendAuthPath = "auth"
)

// ProxyHandler relays feature-view calls to the backend through the
// session's client, so credential rejections end the session.
type ProxyHandler struct {
	guard guard.Config
}

// NewProxyHandler constructs handler.
func NewProxyHandler(cfg guard.Config) *ProxyHandler {
	return &ProxyHandler{guard: cfg}
}

// Forward handles ANY /admin/api/backend/*.
func (h *ProxyHandler) Forward(c *fiber.Ctx) error {
	target := c.Params("*")
	if reservedBackendPath(target) {
		return apperrors.NewForbidden("authentication endpoints are not reachable through the console")
	}

	ctrl, err := controller(c)
	if err != nil {
		return err
	}

	resp, err := ctrl.API().Forward(c.UserContext(), apiclient.ForwardRequest{
		Method:      c.Method(),
		Path:        backendAdminPrefix + target,
		RawQuery:    string(c.Request().URI().QueryString()),
		ContentType: c.Get(fiber.HeaderContentType),
		Body:        c.Body(),
	})
	if err != nil {
		apiErr, ok := apiclient.AsError(err)
		if !ok || apiErr.CredentialInvalid() {
			return mapSessionError(h.guard, err)
		}
		return relay(c, apiErr.StatusCode, apiErr.ContentType, apiErr.Body)
	}
	return relay(c, resp.StatusCode, resp.ContentType, resp.Body)
}

// reservedBackendPath reports whether p, once unescaped and cleaned, falls
// under the backend's auth routes.
func reservedBackendPath(p string) bool {
	unescaped, err := url.PathUnescape(p)
	if err != nil {
		return true
	}
	cleaned := strings.ToLower(strings.TrimPrefix(path.Clean("/"+unescaped), "/"))
	return cleaned == backendAuthPath || strings.HasPrefix(cleaned, backendAuthPath+"/")
}

// relay passes the backend's answer through unmodified.
func relay(c *fiber.Ctx, status int, contentType string, body []byte) error {
	if contentType != "" {
		c.Set(fiber.HeaderContentType, contentType)
	}
	return c.Status(status).Send(body)
}
