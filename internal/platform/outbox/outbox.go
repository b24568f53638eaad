// Package outbox implements the transactional outbox: domain services write
// events in the same transaction as the state change, and a relay publishes
// committed rows to Kafka and to the websocket hub.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/tracing"
)

// Topic suffixes; the full topic is "<prefix>.<suffix>".
const (
	TopicPharmacy   = "pharmacy"
	TopicNursing    = "nursing"
	TopicWard       = "ward"
	TopicScheduling = "scheduling"
)

// Suffixes lists every engine topic suffix.
var Suffixes = []string{TopicPharmacy, TopicNursing, TopicWard, TopicScheduling}

func TopicName(prefix, suffix string) string {
	if prefix == "" {
		return suffix
	}
	return prefix + "." + suffix
}

// Event is what a domain service emits. Payload is JSON encoded on write.
type Event struct {
	AggregateID   string
	AggregateType string
	EventType     string
	Topic         string
	Payload       interface{}
}

// Entry is a persisted outbox row.
type Entry struct {
	ID            int64
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       json.RawMessage
	Topic         string
	MessageKey    string
	TraceParent   string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	RetryCount    int
	LastError     *string
}

// Writer appends events to the outbox. Implementations join the transaction
// carried by ctx.
type Writer interface {
	Write(ctx context.Context, events ...Event) error
}

type PGWriter struct {
	pool   db.Querier
	prefix string
}

func NewPGWriter(pool *pgxpool.Pool, topicPrefix string) *PGWriter {
	return &PGWriter{pool: pool, prefix: topicPrefix}
}

func (w *PGWriter) Write(ctx context.Context, events ...Event) error {
	conn := db.Conn(ctx, w.pool)
	traceParent := tracing.TraceParent(ctx)
	for _, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", e.EventType, err)
		}
		_, err = conn.Exec(ctx, `
			INSERT INTO outbox (aggregate_id, aggregate_type, event_type, payload, topic, message_key, trace_parent)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.AggregateID, e.AggregateType, e.EventType, payload,
			TopicName(w.prefix, e.Topic), e.AggregateID, traceParent,
		)
		if err != nil {
			return fmt.Errorf("write outbox entry %s: %w", e.EventType, err)
		}
	}
	return nil
}
