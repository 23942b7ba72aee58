package apiclient

import (
	"context"
	"net/http"

	"github.com/damio-kids/admin-console/internal/domain"
)

const authBase = "/api/admin/auth"

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by login, verify, profile and refresh.
type AuthResponse struct {
	Success bool                 `json:"success"`
	Message string               `json:"message,omitempty"`
	Token   string               `json:"token,omitempty"`
	Admin   *domain.AdminProfile `json:"admin,omitempty"`
}

// Login exchanges email and password for a credential and profile.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.Do(ctx, http.MethodPost, authBase+"/login", loginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	if err := unsuccessful(&resp, "Login failed", true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout tells the backend the session ended.
func (c *Client) Logout(ctx context.Context) error {
	return c.Do(ctx, http.MethodPost, authBase+"/logout", nil, nil)
}

// Verify checks the stored credential and returns its profile.
func (c *Client) Verify(ctx context.Context) (*domain.AdminProfile, error) {
	var resp AuthResponse
	if err := c.Do(ctx, http.MethodGet, authBase+"/verify", nil, &resp); err != nil {
		return nil, err
	}
	if err := unsuccessful(&resp, "Token verification failed", false); err != nil {
		return nil, err
	}
	return resp.Admin, nil
}

// Profile fetches the current profile.
func (c *Client) Profile(ctx context.Context) (*domain.AdminProfile, error) {
	var resp AuthResponse
	if err := c.Do(ctx, http.MethodGet, authBase+"/profile", nil, &resp); err != nil {
		return nil, err
	}
	if err := unsuccessful(&resp, "Failed to get profile", false); err != nil {
		return nil, err
	}
	return resp.Admin, nil
}

// Refresh trades the stored credential for a fresh one.
func (c *Client) Refresh(ctx context.Context) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.Do(ctx, http.MethodPost, authBase+"/refresh", nil, &resp); err != nil {
		return nil, err
	}
	if err := unsuccessful(&resp, "Token refresh failed", true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// unsuccessful turns a 2xx body that still reports failure into an *Error.
func unsuccessful(resp *AuthResponse, fallback string, needToken bool) error {
	if resp.Success && resp.Admin != nil && (!needToken || resp.Token != "") {
		return nil
	}
	msg := resp.Message
	if msg == "" {
		msg = fallback
	}
	return &Error{StatusCode: http.StatusOK, Message: msg}
}
