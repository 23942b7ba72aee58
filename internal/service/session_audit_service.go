package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/damio-kids/admin-console/internal/events"
	"github.com/damio-kids/admin-console/internal/observability"
	"github.com/damio-kids/admin-console/internal/repository"
)

const persistTimeout = 3 * time.Second

// SessionAuditService records session lifecycle events.
type SessionAuditService struct {
	dispatcher events.Dispatcher
	repo       repository.SessionEventRepository
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewSessionAuditService creates the service.
func NewSessionAuditService(dispatcher events.Dispatcher, repo repository.SessionEventRepository, logger *zap.Logger, metrics *observability.Metrics) *SessionAuditService {
	return &SessionAuditService{
		dispatcher: dispatcher,
		repo:       repo,
		logger:     logger,
		metrics:    metrics,
	}
}

// RegisterHandlers subscribes to every session event.
func (s *SessionAuditService) RegisterHandlers() {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.SubscribeAll(s.handle)
}

func (s *SessionAuditService) handle(ctx context.Context, event events.Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("session_id", event.SessionID),
	}
	if event.AdminID != "" {
		fields = append(fields, zap.String("admin_id", event.AdminID))
	}
	if len(event.Payload) > 0 {
		fields = append(fields, zap.Any("payload", event.Payload))
	}
	s.logger.Info(string(event.Type), fields...)
	s.metrics.RecordSessionEvent(string(event.Type))

	if s.repo == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	return s.repo.Insert(ctx, event)
}

// Recent returns the newest events first.
func (s *SessionAuditService) Recent(ctx context.Context, limit int) ([]events.Event, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.ListRecent(ctx, limit)
}
