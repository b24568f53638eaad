package outbox

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/metrics"
	"github.com/hms/hms/internal/platform/tracing"
	"github.com/hms/hms/internal/platform/websocket"
)

// Publisher delivers one entry to the message broker.
type Publisher interface {
	Publish(ctx context.Context, entry *Entry) error
}

// Fanout receives every successfully published entry, e.g. the websocket hub.
type Fanout interface {
	Publish(ctx context.Context, event websocket.Event) error
}

type RelayConfig struct {
	BatchSize    int
	PollInterval time.Duration
	MaxRetries   int
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		BatchSize:    100,
		PollInterval: time.Second,
		MaxRetries:   10,
	}
}

// Relay moves committed outbox rows to the publisher. Batches run inside one
// transaction holding an advisory lock, so concurrent relays never publish
// the same row twice.
type Relay struct {
	tx        db.TxRunner
	store     Store
	publisher Publisher
	fanout    Fanout
	cfg       RelayConfig
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

// NewRelay builds a relay. publisher may be nil when no broker is configured;
// entries are then only fanned out. fanout and m may be nil.
func NewRelay(tx db.TxRunner, store Store, publisher Publisher, fanout Fanout, cfg RelayConfig, logger zerolog.Logger, m *metrics.Metrics) *Relay {
	return &Relay{
		tx:        tx,
		store:     store,
		publisher: publisher,
		fanout:    fanout,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		tracer:    otel.Tracer("hms/outbox"),
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.logger.Info().
		Int("batch_size", r.cfg.BatchSize).
		Dur("poll_interval", r.cfg.PollInterval).
		Bool("kafka", r.publisher != nil).
		Msg("outbox relay started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error().Err(err).Msg("outbox batch failed")
			}
		}
	}
}

// ProcessBatch publishes at most one batch and returns how many entries were
// published. It returns 0 without error when another relay holds the lock.
func (r *Relay) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "outbox.process_batch")
	defer span.End()

	var delivered []*Entry
	err := r.tx.WithTx(ctx, func(ctx context.Context) error {
		delivered = delivered[:0]
		ok, err := r.store.TryLock(ctx)
		if err != nil || !ok {
			return err
		}

		entries, err := r.store.FetchPending(ctx, r.cfg.BatchSize, r.cfg.MaxRetries)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.Int("batch_size", len(entries)))

		for _, e := range entries {
			if err := r.processEntry(ctx, e); err != nil {
				r.logger.Warn().Err(err).
					Int64("id", e.ID).
					Str("event_type", e.EventType).
					Int("retry_count", e.RetryCount+1).
					Msg("outbox publish failed")
				if err := r.store.MarkFailed(ctx, e.ID, err.Error()); err != nil {
					return err
				}
				r.metrics.ObserveOutboxPublish(false)
				continue
			}
			if err := r.store.MarkProcessed(ctx, e.ID); err != nil {
				return err
			}
			r.metrics.ObserveOutboxPublish(true)
			delivered = append(delivered, e)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	// Fan out committed rows only.
	r.fanOut(ctx, delivered)

	published := len(delivered)
	if published > 0 {
		r.logger.Debug().Int("published", published).Msg("outbox batch published")
	}
	r.refreshPending(ctx)
	return published, nil
}

func (r *Relay) processEntry(ctx context.Context, e *Entry) error {
	ctx = tracing.ContextFromTraceParent(ctx, e.TraceParent)
	ctx, span := r.tracer.Start(ctx, "outbox.publish",
		trace.WithAttributes(
			attribute.Int64("outbox.id", e.ID),
			attribute.String("event_type", e.EventType),
			attribute.String("topic", e.Topic),
		))
	defer span.End()

	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, e); err != nil {
			span.RecordError(err)
			return err
		}
	}
	return nil
}

func (r *Relay) fanOut(ctx context.Context, entries []*Entry) {
	if r.fanout == nil {
		return
	}
	for _, e := range entries {
		err := r.fanout.Publish(tracing.ContextFromTraceParent(ctx, e.TraceParent), websocket.Event{
			Type:          e.EventType,
			Topic:         e.Topic,
			AggregateType: e.AggregateType,
			AggregateID:   e.AggregateID,
			Timestamp:     e.CreatedAt,
			Data:          e.Payload,
		})
		if err != nil {
			r.logger.Debug().Err(err).Int64("id", e.ID).Msg("outbox fan-out failed")
		}
	}
}

func (r *Relay) refreshPending(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	st, err := r.store.Stats(ctx, r.cfg.MaxRetries)
	if err != nil {
		r.logger.Debug().Err(err).Msg("outbox stats unavailable")
		return
	}
	r.metrics.SetOutboxPending(st.Pending)
}
