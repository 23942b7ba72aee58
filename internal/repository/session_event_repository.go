package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/damio-kids/admin-console/internal/events"
)

// SessionEventRepository stores the session audit trail.
type SessionEventRepository interface {
	Insert(ctx context.Context, event events.Event) error
	ListRecent(ctx context.Context, limit int) ([]events.Event, error)
}

type sessionEventRepository struct {
	pool *pgxpool.Pool
}

// NewSessionEventRepository builds the Postgres-backed repository.
func NewSessionEventRepository(pool *pgxpool.Pool) SessionEventRepository {
	return &sessionEventRepository{pool: pool}
}

func (r *sessionEventRepository) Insert(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if event.Payload == nil {
		payload = []byte("{}")
	}
	const query = `
        INSERT INTO session_events (id, event_type, session_id, admin_id, email, payload, occurred_at)
        VALUES ($1,$2,$3,NULLIF($4,''),NULLIF($5,''),$6,$7)
        ON CONFLICT (id) DO NOTHING`
	_, err = r.pool.Exec(ctx, query,
		event.ID,
		string(event.Type),
		event.SessionID,
		event.AdminID,
		event.Email,
		payload,
		event.Timestamp,
	)
	return err
}

func (r *sessionEventRepository) ListRecent(ctx context.Context, limit int) ([]events.Event, error) {
	const query = `
        SELECT id, event_type, session_id, COALESCE(admin_id,''), COALESCE(email,''), payload, occurred_at
        FROM session_events ORDER BY occurred_at DESC, id DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []events.Event
	for rows.Next() {
		var (
			event     events.Event
			eventType string
			payload   []byte
		)
		if err := rows.Scan(
			&event.ID,
			&eventType,
			&event.SessionID,
			&event.AdminID,
			&event.Email,
			&payload,
			&event.Timestamp,
		); err != nil {
			return nil, err
		}
		event.Type = events.EventType(eventType)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &event.Payload); err != nil {
				return nil, fmt.Errorf("decode payload of %s: %w", event.ID, err)
			}
		}
		result = append(result, event)
	}
	return result, rows.Err()
}

// memorySessionEventRepository keeps the most recent events in a ring.
type memorySessionEventRepository struct {
	mu     sync.Mutex
	buf    []events.Event
	next   int
	filled bool
}

// NewMemorySessionEventRepository keeps at most capacity events in process.
func NewMemorySessionEventRepository(capacity int) SessionEventRepository {
	if capacity <= 0 {
		capacity = 500
	}
	return &memorySessionEventRepository{buf: make([]events.Event, capacity)}
}

func (r *memorySessionEventRepository) Insert(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = event
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.filled = true
	}
	return nil
}

func (r *memorySessionEventRepository) ListRecent(_ context.Context, limit int) ([]events.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.filled {
		size = len(r.buf)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	result := make([]events.Event, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		result = append(result, r.buf[idx])
	}
	return result, nil
}
