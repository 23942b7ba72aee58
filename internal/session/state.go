package session

import (
	"context"
	"errors"
	"time"

	"github.com/damio-kids/admin-console/internal/apiclient"
	"github.com/damio-kids/admin-console/internal/domain"
)

// Status is a session controller state.
type Status string

const (
	StatusInitializing   Status = "initializing"
	StatusAnonymous      Status = "anonymous"
	StatusAuthenticating Status = "authenticating"
	StatusAuthenticated  Status = "authenticated"
	StatusError          Status = "error"
)

var (
	ErrInitializing         = errors.New("session is still initializing")
	ErrBusy                 = errors.New("a sign-in or sign-out is already in progress")
	ErrAlreadyAuthenticated = errors.New("already signed in")
	ErrNotAuthenticated     = errors.New("not signed in")
	// ErrStale is returned when the session changed while a backend call was in
	// flight and its result was discarded.
	ErrStale = errors.New("session changed while the request was in flight")
)

// LoginError carries the user-facing message for a failed sign-in.
type LoginError struct {
	Message string
	Err     error
}

func (e *LoginError) Error() string { return e.Message }

func (e *LoginError) Unwrap() error { return e.Err }

// Snapshot is the session state views render from.
type Snapshot struct {
	Status          Status               `json:"status"`
	IsAuthenticated bool                 `json:"isAuthenticated"`
	IsLoading       bool                 `json:"isLoading"`
	Error           string               `json:"error,omitempty"`
	Admin           *domain.AdminProfile `json:"admin,omitempty"`
	// Restoring is the cached identity shown while a stored credential is
	// being verified. It grants nothing.
	Restoring *domain.AdminProfile `json:"restoring,omitempty"`
	ExpiresAt *time.Time           `json:"expiresAt,omitempty"`
}

// Resolved reports whether startup verification has finished.
func (s Snapshot) Resolved() bool {
	return s.Status != StatusInitializing
}

// Backend is the slice of the REST backend a controller drives.
type Backend interface {
	Warmup(ctx context.Context) error
	Login(ctx context.Context, email, password string) (*apiclient.AuthResponse, error)
	Logout(ctx context.Context) error
	Verify(ctx context.Context) (*domain.AdminProfile, error)
	Profile(ctx context.Context) (*domain.AdminProfile, error)
	Refresh(ctx context.Context) (*apiclient.AuthResponse, error)
	Do(ctx context.Context, method, path string, in, out any) error
	Forward(ctx context.Context, fr apiclient.ForwardRequest) (*apiclient.ForwardResponse, error)
}

// BackendFactory builds a session's backend around its token storage and the
// controller's credential-rejection callback.
type BackendFactory func(tokens apiclient.TokenSource, onAuthFailure apiclient.AuthFailureFunc) Backend

// ClientFactory builds apiclient.Clients sharing opts.
func ClientFactory(opts apiclient.Options) BackendFactory {
	return func(tokens apiclient.TokenSource, onAuthFailure apiclient.AuthFailureFunc) Backend {
		return apiclient.New(opts, tokens, onAuthFailure)
	}
}
