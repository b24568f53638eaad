package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

// relayLockID serializes relays across processes for the duration of a batch
// transaction.
const relayLockID int64 = 0x686d735f6f7574 // "hms_out"

// Store is the relay's view of the outbox table. Every method runs on the
// transaction carried by ctx when there is one.
type Store interface {
	TryLock(ctx context.Context) (bool, error)
	FetchPending(ctx context.Context, limit, maxRetries int) ([]*Entry, error)
	MarkProcessed(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	Stats(ctx context.Context, maxRetries int) (*Stats, error)
}

type Stats struct {
	Pending       int64      `json:"pending"`
	Processed24h  int64      `json:"processed24h"`
	Parked        int64      `json:"parked"`
	OldestPending *time.Time `json:"oldestPending,omitempty"`
}

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, s.pool)
}

// TryLock takes a transaction-scoped advisory lock; it is released on commit
// or rollback.
func (s *PGStore) TryLock(ctx context.Context) (bool, error) {
	var acquired bool
	err := s.conn(ctx).QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1)", relayLockID).Scan(&acquired)
	if err != nil {
		return false, fmt.Errorf("outbox advisory lock: %w", err)
	}
	return acquired, nil
}

func (s *PGStore) FetchPending(ctx context.Context, limit, maxRetries int) ([]*Entry, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, payload,
		       topic, message_key, trace_parent, created_at, retry_count, last_error
		FROM outbox
		WHERE processed_at IS NULL AND retry_count < $1
		ORDER BY id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &e.Payload,
			&e.Topic, &e.MessageKey, &e.TraceParent, &e.CreatedAt, &e.RetryCount, &e.LastError); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PGStore) MarkProcessed(ctx context.Context, id int64) error {
	_, err := s.conn(ctx).Exec(ctx, `UPDATE outbox SET processed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox entry %d processed: %w", id, err)
	}
	return nil
}

func (s *PGStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	_, err := s.conn(ctx).Exec(ctx,
		`UPDATE outbox SET retry_count = retry_count + 1, last_error = $2 WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("mark outbox entry %d failed: %w", id, err)
	}
	return nil
}

func (s *PGStore) Stats(ctx context.Context, maxRetries int) (*Stats, error) {
	st := &Stats{}
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE processed_at IS NULL AND retry_count < $1),
			COUNT(*) FILTER (WHERE processed_at > NOW() - INTERVAL '24 hours'),
			COUNT(*) FILTER (WHERE processed_at IS NULL AND retry_count >= $1),
			MIN(created_at) FILTER (WHERE processed_at IS NULL)
		FROM outbox`, maxRetries).Scan(&st.Pending, &st.Processed24h, &st.Parked, &st.OldestPending)
	if err != nil {
		return nil, fmt.Errorf("outbox stats: %w", err)
	}
	return st, nil
}

// Cleanup deletes rows processed before olderThan ago.
func (s *PGStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.conn(ctx).Exec(ctx,
		`DELETE FROM outbox WHERE processed_at IS NOT NULL AND processed_at < NOW() - make_interval(secs => $1)`,
		olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("outbox cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}
