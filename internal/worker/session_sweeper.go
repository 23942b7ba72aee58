package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/damio-kids/admin-console/internal/observability"
	"github.com/damio-kids/admin-console/internal/tokenstore"
)

// SessionRegistry is the part of session.Manager the sweeper drives.
type SessionRegistry interface {
	Sweep(idle time.Duration) int
	Len() int
}

// SessionSweeper evicts idle session controllers and purges expired stored
// credentials on a fixed interval.
type SessionSweeper struct {
	sessions SessionRegistry
	storage  tokenstore.Backend
	idle     time.Duration
	interval time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewSessionSweeper builds the worker.
func NewSessionSweeper(sessions SessionRegistry, storage tokenstore.Backend, idle, interval time.Duration, logger *zap.Logger, metrics *observability.Metrics) *SessionSweeper {
	return &SessionSweeper{
		sessions: sessions,
		storage:  storage,
		idle:     idle,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run sweeps until ctx is cancelled.
func (s *SessionSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass and reports what it removed.
func (s *SessionSweeper) SweepOnce(ctx context.Context) (evicted int, purged int64) {
	evicted = s.sessions.Sweep(s.idle)
	s.metrics.SetActiveSessions(s.sessions.Len())

	if purger, ok := s.storage.(tokenstore.Purger); ok {
		n, err := purger.Purge(ctx)
		if err != nil {
			s.logger.Warn("purging expired session storage failed", zap.Error(err))
		}
		purged = n
	}

	if evicted > 0 || purged > 0 {
		s.logger.Debug("session sweep",
			zap.Int("evicted", evicted),
			zap.Int64("purged", purged),
			zap.Int("active", s.sessions.Len()))
	}
	return evicted, purged
}
