package dto

import (
	"net/url"
	"strings"
)

// Device types the backend accepts for web push.
const (
	DeviceWeb        = "web"
	DeviceIOSPWA     = "ios-pwa"
	DeviceAndroidPWA = "android-pwa"
)

// PushKeys are the subscription's encryption keys.
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription mirrors the browser's PushSubscription JSON.
type PushSubscription struct {
	Endpoint       string   `json:"endpoint"`
	ExpirationTime *int64   `json:"expirationTime"`
	Keys           PushKeys `json:"keys"`
}

// PushSubscribeRequest registers a browser for web push.
type PushSubscribeRequest struct {
	Subscription PushSubscription `json:"subscription"`
	DeviceType   string           `json:"deviceType"`
	UserAgent    string           `json:"userAgent,omitempty"`
}

// Validate returns field problems keyed by JSON path, or nil.
func (r PushSubscribeRequest) Validate() map[string]any {
	problems := map[string]any{}
	u, err := url.Parse(strings.TrimSpace(r.Subscription.Endpoint))
	if r.Subscription.Endpoint == "" || err != nil || u.Scheme != "https" || u.Host == "" {
		problems["subscription.endpoint"] = "must be an https URL"
	}
	if r.Subscription.Keys.P256dh == "" || r.Subscription.Keys.Auth == "" {
		problems["subscription.keys"] = "p256dh and auth are required"
	}
	switch r.DeviceType {
	case DeviceWeb, DeviceIOSPWA, DeviceAndroidPWA:
	default:
		problems["deviceType"] = "must be one of web, ios-pwa, android-pwa"
	}
	if len(problems) == 0 {
		return nil
	}
	return problems
}
