package events

import (
	"time"

	"github.com/damio-kids/admin-console/internal/ids"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventSessionLogin       EventType = "session_login"
	EventSessionLoginFailed EventType = "session_login_failed"
	EventSessionLogout      EventType = "session_logout"
	EventSessionExpired     EventType = "session_expired"
	EventCredentialRejected EventType = "credential_rejected"
	EventProfileUpdated     EventType = "profile_updated"
	EventTokenRefreshed     EventType = "token_refreshed"
)

// AllEventTypes lists every session event type.
var AllEventTypes = []EventType{
	EventSessionLogin,
	EventSessionLoginFailed,
	EventSessionLogout,
	EventSessionExpired,
	EventCredentialRejected,
	EventProfileUpdated,
	EventTokenRefreshed,
}

// Event is a session lifecycle event emitted by session controllers.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	AdminID   string         `json:"admin_id,omitempty"`
	Email     string         `json:"email,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// NewEvent stamps an event with a sortable id and the current time.
func NewEvent(eventType EventType, sessionID string) Event {
	return Event{
		ID:        ids.New(),
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
}
