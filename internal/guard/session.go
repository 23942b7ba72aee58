package guard

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/damio-kids/admin-console/internal/session"
)

const (
	sessionIDKey  = "session_id"
	registryKey   = "session_registry"
	controllerKey = "session_controller"
)

// Sessions resolves a browser session id to its controller.
type Sessions interface {
	Get(sessionID string) *session.Controller
}

// CookieConfig describes the browser session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

// SessionLoader attaches the browser's session id to the request, issuing a
// new session cookie when the browser has none. The controller itself is only
// created when a guard or handler asks for it.
func SessionLoader(sessions Sessions, cookie CookieConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sid := c.Cookies(cookie.Name)
		if _, err := uuid.Parse(sid); err != nil {
			sid = uuid.NewString()
		}
		c.Cookie(&fiber.Cookie{
			Name:     cookie.Name,
			Value:    sid,
			Path:     "/",
			MaxAge:   int(cookie.MaxAge.Seconds()),
			Secure:   cookie.Secure,
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
		c.Locals(sessionIDKey, sid)
		c.Locals(registryKey, sessions)
		return c.Next()
	}
}

// ControllerFrom returns the request's session controller, creating it on
// first use.
func ControllerFrom(c *fiber.Ctx) (*session.Controller, bool) {
	if ctrl, ok := c.Locals(controllerKey).(*session.Controller); ok && ctrl != nil {
		return ctrl, true
	}
	sessions, ok := c.Locals(registryKey).(Sessions)
	sid, _ := c.Locals(sessionIDKey).(string)
	if !ok || sid == "" {
		return nil, false
	}
	ctrl := sessions.Get(sid)
	if ctrl == nil {
		return nil, false
	}
	c.Locals(controllerKey, ctrl)
	return ctrl, true
}
