package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/damio-kids/admin-console/internal/apiclient"
	"github.com/damio-kids/admin-console/internal/domain"
	"github.com/damio-kids/admin-console/internal/events"
	"github.com/damio-kids/admin-console/internal/tokenstore"
)

// fakeAPI is a scripted stand-in for the Damio Kids backend.
type fakeAPI struct {
	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	hits   map[string]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{routes: make(map[string]http.HandlerFunc), hits: make(map[string]int)}
}

func (f *fakeAPI) handle(path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[path] = h
}

func (f *fakeAPI) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *fakeAPI) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.hits {
		n += v
	}
	return n
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits[r.URL.Path]++
	h := f.routes[r.URL.Path]
	f.mu.Unlock()
	if h == nil {
		reply(http.StatusNotFound, map[string]any{"message": "not found"})(w, r)
		return
	}
	h(w, r)
}

func reply(status int, body any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []events.EventType
}

func (r *recorder) handler(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e.Type)
	return nil
}

func (r *recorder) has(t events.EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == t {
			return true
		}
	}
	return false
}

type harness struct {
	ctrl   *Controller
	store  *tokenstore.Store
	api    *fakeAPI
	clock  *clock
	events *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessOn(t, tokenstore.NewMemoryBackend(0))
}

func newHarnessOn(t *testing.T, backend tokenstore.Backend) *harness {
	t.Helper()
	api := newFakeAPI()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	rec := &recorder{}
	dispatcher := events.NewInMemoryDispatcher()
	for _, et := range events.AllEventTypes {
		dispatcher.Subscribe(et, rec.handler)
	}

	clk := &clock{t: time.Now()}
	store := tokenstore.New(backend, "sid-1", nil)
	factory := ClientFactory(apiclient.Options{
		BaseURL:    srv.URL,
		HTTPClient: apiclient.NewHTTPClient(2 * time.Second),
	})
	ctrl := NewController(store, factory, Options{Events: dispatcher, Now: clk.Now})
	return &harness{ctrl: ctrl, store: store, api: api, clock: clk, events: rec}
}

func (h *harness) token(t *testing.T, ttl time.Duration) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin-1",
		"exp": h.clock.Now().Add(ttl).Unix(),
	}).SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return raw
}

func (h *harness) credential(t *testing.T) string {
	t.Helper()
	raw, err := h.store.GetCredential(context.Background())
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	return raw
}

func adminBody(role domain.AdminRole, perms ...string) map[string]any {
	return map[string]any{
		"_id":         "admin-1",
		"firstName":   "Nadia",
		"lastName":    "Benali",
		"email":       "nadia@damio.kids",
		"role":        role,
		"permissions": perms,
	}
}

func (h *harness) signIn(t *testing.T, role domain.AdminRole, perms ...string) {
	t.Helper()
	h.api.handle("/api/admin/auth/login", reply(http.StatusOK, map[string]any{
		"success": true,
		"token":   h.token(t, time.Hour),
		"admin":   adminBody(role, perms...),
	}))
	h.ctrl.Initialize(context.Background())
	if _, err := h.ctrl.Login(context.Background(), "nadia@damio.kids", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
}

func TestInitializeWithoutCredential(t *testing.T) {
	h := newHarness(t)
	h.ctrl.Initialize(context.Background())

	snap := h.ctrl.Snapshot(context.Background())
	if snap.Status != StatusAnonymous || snap.IsAuthenticated || snap.IsLoading {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if h.api.total() != 0 {
		t.Fatalf("expected no backend calls, got %d", h.api.total())
	}
}

func TestInitializeExpiredCredentialSkipsNetwork(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.store.SetCredential(ctx, h.token(t, -time.Minute)); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}
	if err := h.store.SetCachedProfile(ctx, &domain.AdminProfile{ID: "admin-1"}); err != nil {
		t.Fatalf("SetCachedProfile: %v", err)
	}

	h.ctrl.Initialize(ctx)

	if got := h.ctrl.Snapshot(ctx).Status; got != StatusAnonymous {
		t.Fatalf("expected anonymous, got %s", got)
	}
	if h.api.total() != 0 {
		t.Fatalf("expected no backend calls, got %d", h.api.total())
	}
	if h.credential(t) != "" {
		t.Fatal("expected credential to be cleared")
	}
	if p, _ := h.store.GetCachedProfile(ctx); p != nil {
		t.Fatal("expected cached profile to be cleared")
	}
	if !h.events.has(events.EventSessionExpired) {
		t.Fatal("expected session_expired event")
	}
}

func TestInitializeVerifiesStoredCredential(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	raw := h.token(t, time.Hour)
	if err := h.store.SetCredential(ctx, raw); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}
	h.api.handle("/api/admin/auth/verify", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+raw {
			reply(http.StatusUnauthorized, map[string]any{"code": "NO_TOKEN"})(w, r)
			return
		}
		reply(http.StatusOK, map[string]any{"success": true, "admin": adminBody(domain.RoleAdmin, domain.PermReadOrders)})(w, r)
	})

	h.ctrl.Initialize(ctx)

	snap := h.ctrl.Snapshot(ctx)
	if snap.Status != StatusAuthenticated || !snap.IsAuthenticated {
		t.Fatalf("expected authenticated, got %+v", snap)
	}
	if snap.Admin == nil || snap.Admin.ID != "admin-1" {
		t.Fatalf("unexpected profile %+v", snap.Admin)
	}
	if snap.ExpiresAt == nil {
		t.Fatal("expected expiry to be reported")
	}
	cached, err := h.store.GetCachedProfile(ctx)
	if err != nil || cached == nil || cached.Email != "nadia@damio.kids" {
		t.Fatalf("expected verified profile cached, got %+v (%v)", cached, err)
	}
}

func TestInitializeRejectedCredential(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   map[string]any
	}{
		{name: "token expired", status: http.StatusUnauthorized, body: map[string]any{"code": "TOKEN_EXPIRED", "message": "jwt expired"}},
		{name: "admin not found", status: http.StatusUnauthorized, body: map[string]any{"code": "ADMIN_NOT_FOUND"}},
		{name: "server error", status: http.StatusInternalServerError, body: map[string]any{"message": "boom"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			if err := h.store.SetCredential(ctx, h.token(t, time.Hour)); err != nil {
				t.Fatalf("SetCredential: %v", err)
			}
			h.api.handle("/api/admin/auth/verify", reply(tt.status, tt.body))

			h.ctrl.Initialize(ctx)

			if got := h.ctrl.Snapshot(ctx).Status; got != StatusAnonymous {
				t.Fatalf("expected anonymous, got %s", got)
			}
			if h.credential(t) != "" {
				t.Fatal("expected storage cleared")
			}
		})
	}
}

func TestLoginSuccess(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, domain.RoleAdmin, domain.PermReadProducts)

	snap := h.ctrl.Snapshot(context.Background())
	if snap.Status != StatusAuthenticated || snap.Error != "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if h.credential(t) == "" {
		t.Fatal("expected credential stored")
	}
	if !h.ctrl.HasPermission(domain.PermReadProducts) || h.ctrl.HasPermission(domain.PermReadOrders) {
		t.Fatal("unexpected permission answers")
	}
	if !h.events.has(events.EventSessionLogin) {
		t.Fatal("expected session_login event")
	}
}

func TestLoginTrimsEmail(t *testing.T) {
	h := newHarness(t)
	var gotEmail string
	h.api.handle("/api/admin/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email string `json:"email"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotEmail = body.Email
		reply(http.StatusOK, map[string]any{"success": true, "token": h.token(t, time.Hour), "admin": adminBody(domain.RoleAdmin)})(w, r)
	})
	h.ctrl.Initialize(context.Background())

	if _, err := h.ctrl.Login(context.Background(), "  nadia@damio.kids ", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if gotEmail != "nadia@damio.kids" {
		t.Fatalf("expected trimmed email, got %q", gotEmail)
	}
}

func TestLoginFailure(t *testing.T) {
	tests := []struct {
		name    string
		handler func(h *harness, t *testing.T) http.HandlerFunc
		message string
	}{
		{
			name: "backend message",
			handler: func(*harness, *testing.T) http.HandlerFunc {
				return reply(http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid credentials"})
			},
			message: "Invalid credentials",
		},
		{
			name: "credential rejection code",
			handler: func(*harness, *testing.T) http.HandlerFunc {
				return reply(http.StatusUnauthorized, map[string]any{"code": "ADMIN_NOT_FOUND", "message": "Admin not found"})
			},
			message: "Admin not found",
		},
		{
			name: "unsuccessful body",
			handler: func(*harness, *testing.T) http.HandlerFunc {
				return reply(http.StatusOK, map[string]any{"success": false})
			},
			message: "Login failed",
		},
		{
			name: "expired token issued",
			handler: func(h *harness, t *testing.T) http.HandlerFunc {
				return reply(http.StatusOK, map[string]any{"success": true, "token": h.token(t, -time.Minute), "admin": adminBody(domain.RoleAdmin)})
			},
			message: "Login failed",
		},
		{
			name: "html error page",
			handler: func(*harness, *testing.T) http.HandlerFunc {
				return func(w http.ResponseWriter, _ *http.Request) {
					w.Header().Set("Content-Type", "text/html")
					w.WriteHeader(http.StatusBadGateway)
					_, _ = w.Write([]byte("<html>bad gateway</html>"))
				}
			},
			message: "Login failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.api.handle("/api/admin/auth/login", tt.handler(h, t))
			h.ctrl.Initialize(context.Background())

			_, err := h.ctrl.Login(context.Background(), "nadia@damio.kids", "wrong")
			var loginErr *LoginError
			if !errors.As(err, &loginErr) {
				t.Fatalf("expected LoginError, got %v", err)
			}

			snap := h.ctrl.Snapshot(context.Background())
			if snap.Status != StatusError || snap.IsAuthenticated {
				t.Fatalf("unexpected snapshot %+v", snap)
			}
			if snap.Error != tt.message || loginErr.Message != tt.message {
				t.Fatalf("expected message %q, got %q / %q", tt.message, snap.Error, loginErr.Message)
			}
			if h.credential(t) != "" {
				t.Fatal("expected storage cleared after failed login")
			}
			if !h.events.has(events.EventSessionLoginFailed) {
				t.Fatal("expected session_login_failed event")
			}
		})
	}
}

func TestLoginGuards(t *testing.T) {
	t.Run("initializing", func(t *testing.T) {
		h := newHarness(t)
		if _, err := h.ctrl.Login(context.Background(), "a@b.c", "x"); !errors.Is(err, ErrInitializing) {
			t.Fatalf("expected ErrInitializing, got %v", err)
		}
	})
	t.Run("already authenticated", func(t *testing.T) {
		h := newHarness(t)
		h.signIn(t, domain.RoleAdmin)
		before := h.api.count("/api/admin/auth/login")

		if _, err := h.ctrl.Login(context.Background(), "other@damio.kids", "x"); !errors.Is(err, ErrAlreadyAuthenticated) {
			t.Fatalf("expected ErrAlreadyAuthenticated, got %v", err)
		}
		if h.api.count("/api/admin/auth/login") != before {
			t.Fatal("expected no second login call")
		}
		if h.ctrl.Snapshot(context.Background()).Admin.Email != "nadia@damio.kids" {
			t.Fatal("expected original session kept")
		}
	})
}

func TestClearErrorReturnsToAnonymous(t *testing.T) {
	h := newHarness(t)
	h.api.handle("/api/admin/auth/login", reply(http.StatusUnauthorized, map[string]any{"message": "Invalid credentials"}))
	h.ctrl.Initialize(context.Background())
	_, _ = h.ctrl.Login(context.Background(), "a@b.c", "x")

	h.ctrl.ClearError()

	snap := h.ctrl.Snapshot(context.Background())
	if snap.Status != StatusAnonymous || snap.Error != "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestLogoutClearsEvenWhenBackendFails(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, domain.RoleAdmin)
	h.api.handle("/api/admin/auth/logout", reply(http.StatusInternalServerError, map[string]any{"message": "down"}))

	h.ctrl.Logout(context.Background())

	snap := h.ctrl.Snapshot(context.Background())
	if snap.Status != StatusAnonymous || snap.Admin != nil {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if h.credential(t) != "" {
		t.Fatal("expected storage cleared")
	}
	if h.api.count("/api/admin/auth/logout") != 1 {
		t.Fatal("expected backend logout to be attempted")
	}
	if !h.events.has(events.EventSessionLogout) {
		t.Fatal("expected session_logout event")
	}
}

func TestLogoutWhenAnonymousSkipsBackend(t *testing.T) {
	h := newHarness(t)
	h.ctrl.Initialize(context.Background())

	h.ctrl.Logout(context.Background())

	if h.api.count("/api/admin/auth/logout") != 0 {
		t.Fatal("expected no backend logout call")
	}
	if h.ctrl.Snapshot(context.Background()).Status != StatusAnonymous {
		t.Fatal("expected anonymous")
	}
}

func TestCredentialRejectedDuringFeatureCall(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, domain.RoleAdmin, domain.PermReadOrders)
	h.api.handle("/api/admin/orders", reply(http.StatusUnauthorized, map[string]any{"code": "INVALID_TOKEN"}))

	err := h.ctrl.API().Do(context.Background(), http.MethodGet, "/api/admin/orders", nil, nil)
	if !apiclient.IsCredentialInvalid(err) {
		t.Fatalf("expected credential-invalid error, got %v", err)
	}

	if h.ctrl.Snapshot(context.Background()).Status != StatusAnonymous {
		t.Fatal("expected session to end")
	}
	if h.credential(t) != "" {
		t.Fatal("expected storage cleared")
	}
	if h.ctrl.HasPermission(domain.PermReadOrders) {
		t.Fatal("expected no permissions after rejection")
	}
	if !h.events.has(events.EventCredentialRejected) {
		t.Fatal("expected credential_rejected event")
	}
}

func TestRefreshProfile(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		h := newHarness(t)
		h.signIn(t, domain.RoleAdmin)
		updated := adminBody(domain.RoleAdmin, domain.PermReadCategories)
		updated["firstName"] = "Nadia-Rose"
		h.api.handle("/api/admin/auth/profile", reply(http.StatusOK, map[string]any{"success": true, "admin": updated}))

		profile, err := h.ctrl.RefreshProfile(context.Background())
		if err != nil {
			t.Fatalf("RefreshProfile: %v", err)
		}
		if profile.FirstName != "Nadia-Rose" || !h.ctrl.HasPermission(domain.PermReadCategories) {
			t.Fatalf("expected refreshed profile, got %+v", profile)
		}
	})
	t.Run("credential rejected logs out", func(t *testing.T) {
		h := newHarness(t)
		h.signIn(t, domain.RoleAdmin)
		h.api.handle("/api/admin/auth/profile", reply(http.StatusUnauthorized, map[string]any{"code": "TOKEN_EXPIRED"}))

		if _, err := h.ctrl.RefreshProfile(context.Background()); !apiclient.IsCredentialInvalid(err) {
			t.Fatalf("expected credential-invalid error, got %v", err)
		}
		if h.ctrl.Snapshot(context.Background()).Status != StatusAnonymous {
			t.Fatal("expected anonymous")
		}
		if h.credential(t) != "" {
			t.Fatal("expected storage cleared")
		}
	})
	t.Run("other failure keeps session", func(t *testing.T) {
		h := newHarness(t)
		h.signIn(t, domain.RoleAdmin)
		h.api.handle("/api/admin/auth/profile", reply(http.StatusServiceUnavailable, map[string]any{"message": "busy"}))

		if _, err := h.ctrl.RefreshProfile(context.Background()); err == nil {
			t.Fatal("expected error")
		}
		if h.ctrl.Snapshot(context.Background()).Status != StatusAuthenticated {
			t.Fatal("expected session kept")
		}
		if h.credential(t) == "" {
			t.Fatal("expected credential kept")
		}
	})
	t.Run("not signed in", func(t *testing.T) {
		h := newHarness(t)
		h.ctrl.Initialize(context.Background())
		if _, err := h.ctrl.RefreshProfile(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
			t.Fatalf("expected ErrNotAuthenticated, got %v", err)
		}
	})
}

func TestStaleProfileRefreshIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, domain.RoleAdmin)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.api.handle("/api/admin/auth/profile", func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		reply(http.StatusOK, map[string]any{"success": true, "admin": adminBody(domain.RoleSuperAdmin)})(w, r)
	})
	h.api.handle("/api/admin/auth/logout", reply(http.StatusOK, map[string]any{"success": true}))

	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.RefreshProfile(context.Background())
		done <- err
	}()

	<-entered
	h.ctrl.Logout(context.Background())
	close(release)

	if err := <-done; !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	snap := h.ctrl.Snapshot(context.Background())
	if snap.Status != StatusAnonymous || snap.Admin != nil {
		t.Fatalf("stale refresh resurrected session: %+v", snap)
	}
	if p, _ := h.store.GetCachedProfile(context.Background()); p != nil {
		t.Fatal("stale refresh wrote a cached profile")
	}
}

func TestRefreshToken(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, domain.RoleAdmin)
	before := h.credential(t)
	h.clock.Advance(time.Minute)
	fresh := h.token(t, 2*time.Hour)
	h.api.handle("/api/admin/auth/refresh", reply(http.StatusOK, map[string]any{"success": true, "token": fresh, "admin": adminBody(domain.RoleAdmin)}))

	if _, err := h.ctrl.RefreshToken(context.Background()); err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if got := h.credential(t); got != fresh || got == before {
		t.Fatal("expected refreshed credential stored")
	}
	if !h.events.has(events.EventTokenRefreshed) {
		t.Fatal("expected token_refreshed event")
	}
}

func TestSnapshotExpiresCredential(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, domain.RoleAdmin, domain.PermReadProducts)

	h.clock.Advance(2 * time.Hour)

	if h.ctrl.HasPermission(domain.PermReadProducts) {
		t.Fatal("expired session must not grant permissions")
	}
	snap := h.ctrl.Snapshot(context.Background())
	if snap.Status != StatusAnonymous {
		t.Fatalf("expected anonymous, got %s", snap.Status)
	}
	if h.credential(t) != "" {
		t.Fatal("expected storage cleared")
	}
	if !h.events.has(events.EventSessionExpired) {
		t.Fatal("expected session_expired event")
	}
}

func TestSuperuserHoldsEveryPermission(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, domain.RoleSuperAdmin)

	for _, perm := range []string{domain.PermReadUsers, domain.PermManageSettings, "anything_new"} {
		if !h.ctrl.HasPermission(perm) {
			t.Errorf("super admin should hold %s", perm)
		}
	}
	if !h.ctrl.HasRole(domain.RoleSuperAdmin) || h.ctrl.HasRole(domain.RoleModerator) {
		t.Fatal("unexpected role answers")
	}
}

func TestUpdateProfileLocally(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := "Nadia-Rose"

	h.ctrl.Initialize(ctx)
	if _, err := h.ctrl.UpdateProfileLocally(ctx, domain.ProfilePatch{FirstName: &first}); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}

	h.signIn(t, domain.RoleAdmin)
	calls := h.api.total()
	profile, err := h.ctrl.UpdateProfileLocally(ctx, domain.ProfilePatch{FirstName: &first})
	if err != nil {
		t.Fatalf("UpdateProfileLocally: %v", err)
	}
	if profile.FirstName != first || profile.Email != "nadia@damio.kids" {
		t.Fatalf("unexpected merged profile %+v", profile)
	}
	cached, _ := h.store.GetCachedProfile(ctx)
	if cached == nil || cached.FirstName != first {
		t.Fatalf("expected merged profile cached, got %+v", cached)
	}
	if h.api.total() != calls {
		t.Fatal("local update must not call the backend")
	}
}

func TestSnapshotShowsCachedIdentityWhileVerifying(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.store.SetCredential(ctx, h.token(t, time.Hour)); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}
	cached := &domain.AdminProfile{ID: "admin-1", FirstName: "Nadia", Role: domain.RoleAdmin}
	if err := h.store.SetCachedProfile(ctx, cached); err != nil {
		t.Fatalf("SetCachedProfile: %v", err)
	}
	release := make(chan struct{})
	h.api.handle("/api/admin/auth/verify", func(w http.ResponseWriter, r *http.Request) {
		<-release
		reply(http.StatusOK, map[string]any{"success": true, "admin": adminBody(domain.RoleAdmin)})(w, r)
	})

	go h.ctrl.Initialize(ctx)

	var snap Snapshot
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap = h.ctrl.Snapshot(ctx); snap.Restoring != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if snap.Restoring == nil || snap.Restoring.FirstName != "Nadia" {
		t.Fatalf("expected cached identity while verifying, got %+v", snap)
	}
	if snap.Status != StatusInitializing || snap.IsAuthenticated || snap.Admin != nil {
		t.Fatalf("cached identity must not authenticate, got %+v", snap)
	}
	if h.ctrl.HasPermission(domain.PermReadOrders) {
		t.Fatal("cached identity must not grant permissions")
	}

	close(release)
	if err := h.ctrl.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	snap = h.ctrl.Snapshot(ctx)
	if snap.Status != StatusAuthenticated || snap.Restoring != nil {
		t.Fatalf("expected verified session, got %+v", snap)
	}
}

func TestSessionEndsWhenStoredCredentialDisappears(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, domain.RoleAdmin, domain.PermReadOrders)
	ctx := context.Background()

	if err := h.store.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}

	if h.ctrl.HasPermission(domain.PermReadOrders) {
		t.Fatal("permissions must go with the stored credential")
	}
	snap := h.ctrl.Snapshot(ctx)
	if snap.Status != StatusAnonymous || snap.IsAuthenticated || snap.Admin != nil {
		t.Fatalf("expected anonymous session, got %+v", snap)
	}
	if !h.events.has(events.EventSessionExpired) {
		t.Fatal("expected session_expired event")
	}
}

func TestIdleTTLSlidesWithUse(t *testing.T) {
	h := newHarnessOn(t, tokenstore.NewMemoryBackend(150*time.Millisecond))
	h.signIn(t, domain.RoleAdmin, domain.PermReadOrders)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		time.Sleep(30 * time.Millisecond)
		if snap := h.ctrl.Snapshot(ctx); snap.Status != StatusAuthenticated {
			t.Fatalf("active session ended after %d polls: %+v", i, snap)
		}
	}

	time.Sleep(250 * time.Millisecond)
	if snap := h.ctrl.Snapshot(ctx); snap.Status != StatusAnonymous || snap.IsAuthenticated {
		t.Fatalf("idle session should end with its stored credential, got %+v", snap)
	}
	if h.ctrl.HasPermission(domain.PermReadOrders) {
		t.Fatal("expected no permissions after idle expiry")
	}
}

func TestLateRejectionOfOldCredentialKeepsNewSession(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, domain.RoleAdmin, domain.PermReadOrders)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	h.api.handle("/api/admin/orders", func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		reply(http.StatusUnauthorized, map[string]any{"code": "TOKEN_EXPIRED"})(w, r)
	})
	h.api.handle("/api/admin/auth/logout", reply(http.StatusOK, map[string]any{"success": true}))

	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.API().Forward(ctx, apiclient.ForwardRequest{Method: http.MethodGet, Path: "/api/admin/orders"})
		done <- err
	}()
	<-started

	h.ctrl.Logout(ctx)
	h.clock.Advance(time.Minute)
	fresh := h.token(t, time.Hour)
	h.api.handle("/api/admin/auth/login", reply(http.StatusOK, map[string]any{
		"success": true,
		"token":   fresh,
		"admin":   adminBody(domain.RoleAdmin, domain.PermReadOrders),
	}))
	if _, err := h.ctrl.Login(ctx, "nadia@damio.kids", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	close(release)
	if err := <-done; !apiclient.IsCredentialInvalid(err) {
		t.Fatalf("expected the old request to fail with credential-invalid, got %v", err)
	}

	snap := h.ctrl.Snapshot(ctx)
	if snap.Status != StatusAuthenticated || !snap.IsAuthenticated {
		t.Fatalf("new session must survive the old rejection, got %+v", snap)
	}
	if h.credential(t) != fresh {
		t.Fatal("new credential must stay stored")
	}
	if h.events.has(events.EventCredentialRejected) {
		t.Fatal("stale rejection must not be reported as ending the session")
	}
}
