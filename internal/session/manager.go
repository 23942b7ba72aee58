package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/damio-kids/admin-console/internal/events"
	"github.com/damio-kids/admin-console/internal/observability"
	"github.com/damio-kids/admin-console/internal/tokenstore"
)

// ManagerOptions configure a Manager.
type ManagerOptions struct {
	Storage     tokenstore.Backend
	Factory     BackendFactory
	Logger      *zap.Logger
	Events      events.Dispatcher
	Metrics     *observability.Metrics
	InitTimeout time.Duration
	// MaxSessions caps live controllers; the least recently used one is
	// dropped to make room. Its stored credential survives, so the browser
	// is simply re-verified on its next request.
	MaxSessions int
	Now         func() time.Time
}

const defaultMaxSessions = 10000

type entry struct {
	ctrl     *Controller
	lastSeen time.Time
}

// Manager keeps one Controller per browser session id.
type Manager struct {
	opts ManagerOptions

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewManager creates an empty registry.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = time.Minute
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = defaultMaxSessions
	}
	return &Manager{opts: opts, sessions: make(map[string]*entry)}
}

// Get returns the controller for sessionID, creating it and starting its
// initialization in the background on first use.
func (m *Manager) Get(sessionID string) *Controller {
	m.mu.Lock()
	now := m.opts.Now()
	if e, ok := m.sessions[sessionID]; ok {
		e.lastSeen = now
		m.mu.Unlock()
		return e.ctrl
	}

	if len(m.sessions) >= m.opts.MaxSessions {
		m.evictOldestLocked()
	}

	store := tokenstore.New(m.opts.Storage, sessionID, m.opts.Logger)
	ctrl := NewController(store, m.opts.Factory, Options{
		Logger: m.opts.Logger,
		Events: m.opts.Events,
		Now:    m.opts.Now,
	})
	m.sessions[sessionID] = &entry{ctrl: ctrl, lastSeen: now}
	m.opts.Metrics.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.InitTimeout)
		defer cancel()
		ctrl.Initialize(ctx)
	}()
	return ctrl
}

func (m *Manager) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, e := range m.sessions {
		if oldestID == "" || e.lastSeen.Before(oldest) {
			oldestID, oldest = id, e.lastSeen
		}
	}
	if oldestID != "" {
		delete(m.sessions, oldestID)
		m.opts.Logger.Debug("session limit reached, dropped least recently used", zap.String("session_id", oldestID))
	}
}

// Sweep drops controllers untouched for longer than idle. Stored credentials
// are left alone, so a returning browser is re-verified from storage.
func (m *Manager) Sweep(idle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.opts.Now().Add(-idle)
	removed := 0
	for id, e := range m.sessions {
		if e.lastSeen.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	m.opts.Metrics.SetActiveSessions(len(m.sessions))
	if removed > 0 {
		m.opts.Logger.Debug("swept idle sessions", zap.Int("removed", removed))
	}
	return removed
}

// Len returns the number of live controllers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
