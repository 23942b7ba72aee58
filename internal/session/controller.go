package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/damio-kids/admin-console/internal/apiclient"
	"github.com/damio-kids/admin-console/internal/auth"
	"github.com/damio-kids/admin-console/internal/domain"
	"github.com/damio-kids/admin-console/internal/events"
	"github.com/damio-kids/admin-console/internal/tokenstore"
)

const (
	fallbackLoginMessage = "Login failed"
	timeoutLoginMessage  = "The server took too long to respond. Please try again."
)

// Options configure a Controller.
type Options struct {
	Logger *zap.Logger
	Events events.Dispatcher
	Now    func() time.Time
}

// Controller owns one browser session's lifecycle. It is the only component
// that reads or writes the session's Token Store for authentication.
//
// Every login success, logout and credential rejection bumps gen; results of
// backend calls started under an older gen are discarded. Store access that
// must stay consistent with status happens under mu; backend calls never do.
// credential is the token the current session was established with, so a
// rejection can be matched to the session it belongs to.
type Controller struct {
	store   *tokenstore.Store
	backend Backend
	logger  *zap.Logger
	events  events.Dispatcher
	now     func() time.Time

	mu         sync.Mutex
	status     Status
	profile    *domain.AdminProfile
	restoring  *domain.AdminProfile
	credential string
	expiresAt  time.Time
	lastErr    string
	gen        uint64

	initOnce sync.Once
	ready    chan struct{}
}

// NewController builds a controller in the initializing state. Call
// Initialize to resolve it.
func NewController(store *tokenstore.Store, factory BackendFactory, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Controller{
		store:  store,
		logger: opts.Logger.With(zap.String("session_id", store.Scope())),
		events: opts.Events,
		now:    opts.Now,
		status: StatusInitializing,
		ready:  make(chan struct{}),
	}
	c.backend = factory(sessionTokens{c}, c.onCredentialRejected)
	return c
}

// sessionTokens is the controller's storage as seen by its backend client.
// Compare-and-clear runs under the controller lock so it cannot interleave
// with a sign-in writing a new credential.
type sessionTokens struct {
	c *Controller
}

func (t sessionTokens) GetCredential(ctx context.Context) (string, error) {
	return t.c.store.GetCredential(ctx)
}

func (t sessionTokens) ClearCredential(ctx context.Context, cred string) (bool, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	return t.c.store.ClearCredential(ctx, cred)
}

// ID returns the browser session id.
func (c *Controller) ID() string {
	return c.store.Scope()
}

// API returns the backend client feature views must use, so credential
// rejections are handled the same way everywhere.
func (c *Controller) API() Backend {
	return c.backend
}

// Initialize resolves the initial state from the stored credential. Only the
// first call does any work.
func (c *Controller) Initialize(ctx context.Context) {
	c.initOnce.Do(func() {
		defer close(c.ready)
		c.initialize(ctx)
	})
}

// Wait blocks until Initialize has resolved the session or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) initialize(ctx context.Context) {
	go func() {
		if err := c.backend.Warmup(context.WithoutCancel(ctx)); err != nil {
			c.logger.Debug("backend warm-up failed", zap.Error(err))
		}
	}()

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	raw, err := c.store.GetCredential(ctx)
	if err != nil {
		c.logger.Warn("reading stored credential failed", zap.Error(err))
		c.resolveAnonymous(ctx, gen)
		return
	}
	if raw == "" {
		c.resolveAnonymous(ctx, gen)
		return
	}

	cred, err := auth.ValidateCredential(raw, c.now())
	if err != nil {
		c.logger.Info("discarding stored credential", zap.Error(err))
		c.resolveAnonymous(ctx, gen)
		c.publish(ctx, events.EventSessionExpired, nil, map[string]any{"reason": err.Error()})
		return
	}

	if cached, err := c.store.GetCachedProfile(ctx); err == nil && cached != nil {
		c.mu.Lock()
		if c.gen == gen && c.status == StatusInitializing {
			c.restoring = cached
		}
		c.mu.Unlock()
	}

	profile, err := c.backend.Verify(ctx)
	if err != nil || profile == nil {
		c.logger.Info("stored credential failed verification", zap.Error(err))
		c.resolveAnonymous(ctx, gen)
		return
	}

	c.mu.Lock()
	if c.gen != gen || c.status != StatusInitializing {
		c.mu.Unlock()
		return
	}
	if err := c.store.SetCachedProfile(ctx, profile); err != nil {
		c.logger.Warn("caching verified profile failed", zap.Error(err))
	}
	c.status = StatusAuthenticated
	c.profile = profile.Clone()
	c.restoring = nil
	c.credential = raw
	c.expiresAt = cred.ExpiresAt
	c.mu.Unlock()

	c.logger.Debug("session restored", zap.String("admin_id", profile.ID))
}

// resolveAnonymous clears storage and leaves initializing, unless something
// else already moved the session on.
func (c *Controller) resolveAnonymous(ctx context.Context, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.status != StatusInitializing {
		return
	}
	if err := c.store.ClearAll(context.WithoutCancel(ctx)); err != nil {
		c.logger.Error("clearing session storage failed", zap.Error(err))
	}
	c.setAnonymousLocked()
}

func (c *Controller) setAnonymousLocked() {
	c.status = StatusAnonymous
	c.profile = nil
	c.restoring = nil
	c.credential = ""
	c.expiresAt = time.Time{}
}

// Login signs in with email and password.
func (c *Controller) Login(ctx context.Context, email, password string) (*domain.AdminProfile, error) {
	c.mu.Lock()
	switch c.status {
	case StatusInitializing:
		c.mu.Unlock()
		return nil, ErrInitializing
	case StatusAuthenticated:
		c.mu.Unlock()
		return nil, ErrAlreadyAuthenticated
	case StatusAuthenticating:
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.status = StatusAuthenticating
	c.lastErr = ""
	gen := c.gen
	c.mu.Unlock()

	email = strings.TrimSpace(email)
	resp, err := c.backend.Login(ctx, email, password)
	var cred auth.Credential
	if err == nil {
		cred, err = auth.ValidateCredential(resp.Token, c.now())
	}
	if err != nil {
		return nil, c.failLogin(ctx, gen, email, err)
	}

	c.mu.Lock()
	if c.gen != gen || c.status != StatusAuthenticating {
		c.mu.Unlock()
		return nil, ErrStale
	}
	if err := c.persistLocked(ctx, resp.Token, resp.Admin); err != nil {
		c.mu.Unlock()
		c.logger.Error("persisting session failed", zap.Error(err))
		return nil, c.failLogin(ctx, gen, email, err)
	}
	c.status = StatusAuthenticated
	c.profile = resp.Admin.Clone()
	c.credential = resp.Token
	c.expiresAt = cred.ExpiresAt
	c.lastErr = ""
	c.gen++
	profile := c.profile.Clone()
	c.mu.Unlock()

	c.logger.Info("admin signed in", zap.String("admin_id", profile.ID), zap.String("role", string(profile.Role)))
	c.publish(ctx, events.EventSessionLogin, profile, nil)
	return profile, nil
}

func (c *Controller) persistLocked(ctx context.Context, token string, profile *domain.AdminProfile) error {
	if err := c.store.SetCredential(ctx, token); err != nil {
		return err
	}
	if err := c.store.SetCachedProfile(ctx, profile); err != nil {
		_ = c.store.ClearAll(context.WithoutCancel(ctx))
		return err
	}
	return nil
}

func (c *Controller) failLogin(ctx context.Context, gen uint64, email string, cause error) error {
	msg := loginMessage(cause)

	c.mu.Lock()
	if c.gen == gen && c.status == StatusAuthenticating {
		if err := c.store.ClearAll(context.WithoutCancel(ctx)); err != nil {
			c.logger.Error("clearing session storage failed", zap.Error(err))
		}
		c.setAnonymousLocked()
		c.status = StatusError
		c.lastErr = msg
	}
	c.mu.Unlock()

	c.logger.Info("admin sign-in failed", zap.String("email", email), zap.Error(cause))
	c.publish(ctx, events.EventSessionLoginFailed, nil, map[string]any{"email": email, "message": msg})
	return &LoginError{Message: msg, Err: cause}
}

// loginMessage is the single place backend failures become user-facing text.
func loginMessage(err error) string {
	if apiErr, ok := apiclient.AsError(err); ok && apiErr.Message != "" {
		return apiErr.Message
	}
	if apiclient.IsTimeout(err) {
		return timeoutLoginMessage
	}
	return fallbackLoginMessage
}

// Logout ends the session. The client side is always cleared, whatever the
// backend answers.
func (c *Controller) Logout(ctx context.Context) {
	c.mu.Lock()
	wasAuthenticated := c.status == StatusAuthenticated
	profile := c.profile.Clone()
	c.status = StatusAuthenticating
	c.gen++
	c.mu.Unlock()

	if wasAuthenticated {
		if err := c.backend.Logout(ctx); err != nil {
			c.logger.Warn("backend logout failed", zap.Error(err))
		}
	}

	c.mu.Lock()
	if err := c.store.ClearAll(context.WithoutCancel(ctx)); err != nil {
		c.logger.Error("clearing session storage failed", zap.Error(err))
	}
	c.setAnonymousLocked()
	c.lastErr = ""
	c.gen++
	c.mu.Unlock()

	if wasAuthenticated {
		c.logger.Info("admin signed out", zap.String("admin_id", profile.ID))
		c.publish(ctx, events.EventSessionLogout, profile, nil)
	}
}

// onCredentialRejected runs after the client cleared storage because the
// backend refused rejected. Only the session holding that credential ends.
func (c *Controller) onCredentialRejected(ctx context.Context, rejected string) {
	c.mu.Lock()
	if c.status != StatusAuthenticated || rejected != c.credential {
		c.mu.Unlock()
		c.logger.Debug("credential rejection does not match the current session")
		return
	}
	if err := c.store.ClearAll(ctx); err != nil {
		c.logger.Error("clearing session storage failed", zap.Error(err))
	}
	profile := c.profile.Clone()
	c.setAnonymousLocked()
	c.gen++
	c.mu.Unlock()

	c.logger.Info("credential rejected by backend, session ended")
	c.publish(ctx, events.EventCredentialRejected, profile, nil)
}

// RefreshProfile re-reads the profile from the backend. A credential
// rejection ends the session; other failures leave it untouched.
func (c *Controller) RefreshProfile(ctx context.Context) (*domain.AdminProfile, error) {
	gen, err := c.authenticatedGen()
	if err != nil {
		return nil, err
	}

	profile, err := c.backend.Profile(ctx)
	if err == nil && profile == nil {
		err = &apiclient.Error{Message: "empty profile"}
	}
	if err != nil {
		return nil, c.refreshFailed(ctx, "profile refresh failed", err)
	}

	c.mu.Lock()
	if c.gen != gen || c.status != StatusAuthenticated {
		c.mu.Unlock()
		return nil, ErrStale
	}
	if err := c.store.SetCachedProfile(ctx, profile); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.profile = profile.Clone()
	c.mu.Unlock()

	c.publish(ctx, events.EventProfileUpdated, profile, map[string]any{"source": "backend"})
	return profile.Clone(), nil
}

// RefreshToken trades the current credential for a new one.
func (c *Controller) RefreshToken(ctx context.Context) (*domain.AdminProfile, error) {
	gen, err := c.authenticatedGen()
	if err != nil {
		return nil, err
	}

	resp, err := c.backend.Refresh(ctx)
	var cred auth.Credential
	if err == nil {
		cred, err = auth.ValidateCredential(resp.Token, c.now())
	}
	if err != nil {
		return nil, c.refreshFailed(ctx, "token refresh failed", err)
	}

	c.mu.Lock()
	if c.gen != gen || c.status != StatusAuthenticated {
		c.mu.Unlock()
		return nil, ErrStale
	}
	if err := c.persistLocked(ctx, resp.Token, resp.Admin); err != nil {
		c.setAnonymousLocked()
		c.gen++
		c.mu.Unlock()
		return nil, err
	}
	c.profile = resp.Admin.Clone()
	c.credential = resp.Token
	c.expiresAt = cred.ExpiresAt
	profile := c.profile.Clone()
	c.mu.Unlock()

	c.publish(ctx, events.EventTokenRefreshed, profile, map[string]any{"expires_at": cred.ExpiresAt})
	return profile, nil
}

func (c *Controller) authenticatedGen() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusAuthenticated {
		return 0, ErrNotAuthenticated
	}
	return c.gen, nil
}

func (c *Controller) refreshFailed(ctx context.Context, msg string, err error) error {
	if apiclient.IsCredentialInvalid(err) {
		c.Logout(ctx)
		return err
	}
	c.logger.Warn(msg, zap.Error(err))
	return err
}

// UpdateProfileLocally merges patch into the current profile and caches it,
// for edits that already went through the backend.
func (c *Controller) UpdateProfileLocally(ctx context.Context, patch domain.ProfilePatch) (*domain.AdminProfile, error) {
	c.mu.Lock()
	if c.status != StatusAuthenticated || c.profile == nil {
		c.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	merged := c.profile.Merge(patch)
	if err := c.store.SetCachedProfile(ctx, merged); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.profile = merged
	out := merged.Clone()
	c.mu.Unlock()

	c.publish(ctx, events.EventProfileUpdated, out, map[string]any{"source": "local"})
	return out, nil
}

// ClearError dismisses the last sign-in failure.
func (c *Controller) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = ""
	if c.status == StatusError {
		c.status = StatusAnonymous
	}
}

// Snapshot returns the current state, first ending the session if its
// credential has expired or is gone from storage.
func (c *Controller) Snapshot(ctx context.Context) Snapshot {
	c.expireIfDue(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		Status:          c.status,
		IsAuthenticated: c.profile != nil,
		IsLoading:       c.status == StatusInitializing || c.status == StatusAuthenticating,
		Error:           c.lastErr,
		Admin:           c.profile.Clone(),
	}
	if c.status == StatusInitializing {
		snap.Restoring = c.restoring.Clone()
	}
	if !c.expiresAt.IsZero() {
		exp := c.expiresAt
		snap.ExpiresAt = &exp
	}
	return snap
}

// expireIfDue ends an authenticated session whose credential passed its exp
// or no longer sits in storage (idle TTL, another replica signing out). A
// storage read error keeps the session.
func (c *Controller) expireIfDue(ctx context.Context) {
	c.mu.Lock()
	if c.status != StatusAuthenticated {
		c.mu.Unlock()
		return
	}
	reason, wipe := "", true
	if !c.expiresAt.IsZero() && !c.now().Before(c.expiresAt) {
		reason = "credential expired"
	} else {
		stored, err := c.store.GetCredential(ctx)
		switch {
		case err != nil:
			c.logger.Warn("reading stored credential failed", zap.Error(err))
		case stored != c.credential:
			reason = "credential no longer stored"
			// A different credential belongs to someone else's sign-in.
			wipe = stored == ""
		}
	}
	if reason == "" {
		c.mu.Unlock()
		return
	}
	profile := c.profile.Clone()
	if wipe {
		if err := c.store.ClearAll(context.WithoutCancel(ctx)); err != nil {
			c.logger.Error("clearing session storage failed", zap.Error(err))
		}
	}
	c.setAnonymousLocked()
	c.gen++
	c.mu.Unlock()

	c.logger.Info("session ended", zap.String("reason", reason))
	c.publish(ctx, events.EventSessionExpired, profile, map[string]any{"reason": reason})
}

// HasPermission reports whether the signed-in admin holds permission.
func (c *Controller) HasPermission(permission string) bool {
	profile := c.activeProfile()
	return profile != nil && auth.HasPermission(profile, permission)
}

// HasRole reports whether the signed-in admin's role is one of roles.
func (c *Controller) HasRole(roles ...domain.AdminRole) bool {
	profile := c.activeProfile()
	return profile != nil && auth.HasRole(profile, roles...)
}

// activeProfile is the profile of a usable session, nil otherwise.
func (c *Controller) activeProfile() *domain.AdminProfile {
	c.expireIfDue(context.Background())

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusAuthenticated {
		return nil
	}
	if !c.expiresAt.IsZero() && !c.now().Before(c.expiresAt) {
		return nil
	}
	return c.profile
}

func (c *Controller) publish(ctx context.Context, eventType events.EventType, profile *domain.AdminProfile, payload map[string]any) {
	if c.events == nil {
		return
	}
	event := events.NewEvent(eventType, c.ID())
	if profile != nil {
		event.AdminID = profile.ID
		event.Email = profile.Email
	}
	event.Payload = payload
	if err := c.events.Publish(context.WithoutCancel(ctx), event); err != nil {
		c.logger.Warn("session event handler failed", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}
