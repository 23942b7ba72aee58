package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Backend codes meaning the credential itself is unusable.
const (
	CodeNoToken        = "NO_TOKEN"
	CodeInvalidToken   = "INVALID_TOKEN"
	CodeTokenExpired   = "TOKEN_EXPIRED"
	CodeMalformedToken = "MALFORMED_TOKEN"
	CodeAdminNotFound  = "ADMIN_NOT_FOUND"
)

var credentialInvalidCodes = map[string]struct{}{
	CodeNoToken:        {},
	CodeInvalidToken:   {},
	CodeTokenExpired:   {},
	CodeMalformedToken: {},
	CodeAdminNotFound:  {},
}

// Error is a non-successful backend response.
type Error struct {
	StatusCode  int
	Code        string
	Message     string
	ContentType string
	Body        []byte
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("backend %d %s: %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("backend %d: %s", e.StatusCode, msg)
}

// CredentialInvalid reports a 401 whose code says the credential is unusable,
// as opposed to a permission or validation rejection.
func (e *Error) CredentialInvalid() bool {
	if e == nil || e.StatusCode != http.StatusUnauthorized {
		return false
	}
	_, ok := credentialInvalidCodes[strings.ToUpper(e.Code)]
	return ok
}

// IsCredentialInvalid unwraps err looking for a credential rejection.
func IsCredentialInvalid(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.CredentialInvalid()
}

// AsError unwraps err to a backend *Error.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// errorEnvelope accepts {code,message}, {error:{code,message}} and {error:"msg"}.
type errorEnvelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
}

func parseError(status int, contentType string, body []byte) *Error {
	apiErr := &Error{StatusCode: status, ContentType: contentType, Body: body}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return apiErr
	}
	apiErr.Code = env.Code
	apiErr.Message = env.Message

	if len(env.Error) > 0 {
		var nested struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		var text string
		switch {
		case json.Unmarshal(env.Error, &nested) == nil:
			if apiErr.Code == "" {
				apiErr.Code = nested.Code
			}
			if apiErr.Message == "" {
				apiErr.Message = nested.Message
			}
		case json.Unmarshal(env.Error, &text) == nil:
			if apiErr.Message == "" {
				apiErr.Message = text
			}
		}
	}
	return apiErr
}
