// Package tokenstore keeps a browser session's bearer credential and cached
// admin profile between requests.
package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/damio-kids/admin-console/internal/domain"
)

const (
	credentialKey = "adminToken"
	profileKey    = "adminData"
)

// Backend is the key-value storage a Store writes through.
type Backend interface {
	// Get returns ok=false when the key is absent or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	// Delete removes keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// Purger is implemented by backends that need expired entries swept.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// Store is the credential and profile storage of one browser session.
type Store struct {
	backend Backend
	scope   string
	logger  *zap.Logger
}

// New binds a Store to scope on backend.
func New(backend Backend, scope string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, scope: scope, logger: logger}
}

// Scope returns the browser session id the store is bound to.
func (s *Store) Scope() string {
	return s.scope
}

func (s *Store) key(name string) string {
	return s.scope + ":" + name
}

// GetCredential returns the stored bearer credential, or "" when absent.
// The value is not validated.
func (s *Store) GetCredential(ctx context.Context) (string, error) {
	val, ok, err := s.backend.Get(ctx, s.key(credentialKey))
	if err != nil {
		return "", fmt.Errorf("get credential: %w", err)
	}
	if !ok {
		return "", nil
	}
	return val, nil
}

// SetCredential overwrites the stored credential.
func (s *Store) SetCredential(ctx context.Context, value string) error {
	if err := s.backend.Set(ctx, s.key(credentialKey), value); err != nil {
		return fmt.Errorf("set credential: %w", err)
	}
	return nil
}

// GetCachedProfile returns the cached profile. Corrupt data reads as absent.
func (s *Store) GetCachedProfile(ctx context.Context) (*domain.AdminProfile, error) {
	val, ok, err := s.backend.Get(ctx, s.key(profileKey))
	if err != nil {
		return nil, fmt.Errorf("get cached profile: %w", err)
	}
	if !ok || val == "" {
		return nil, nil
	}
	var profile domain.AdminProfile
	if err := json.Unmarshal([]byte(val), &profile); err != nil {
		s.logger.Debug("discarding corrupt cached profile", zap.String("scope", s.scope), zap.Error(err))
		return nil, nil
	}
	return &profile, nil
}

// SetCachedProfile serializes and stores profile.
func (s *Store) SetCachedProfile(ctx context.Context, profile *domain.AdminProfile) error {
	if profile == nil {
		return s.backend.Delete(ctx, s.key(profileKey))
	}
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if err := s.backend.Set(ctx, s.key(profileKey), string(data)); err != nil {
		return fmt.Errorf("set cached profile: %w", err)
	}
	return nil
}

// ClearCredential clears the store only while it still holds expected, and
// reports whether it did. A credential replaced by a newer sign-in survives a
// late rejection of the old one.
func (s *Store) ClearCredential(ctx context.Context, expected string) (bool, error) {
	current, err := s.GetCredential(ctx)
	if err != nil {
		return false, err
	}
	if current != expected {
		return false, nil
	}
	if err := s.ClearAll(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ClearAll removes the credential and the cached profile. Safe to repeat.
func (s *Store) ClearAll(ctx context.Context) error {
	if err := s.backend.Delete(ctx, s.key(credentialKey), s.key(profileKey)); err != nil {
		return fmt.Errorf("clear session storage: %w", err)
	}
	return nil
}
