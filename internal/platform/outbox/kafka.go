package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

type KafkaConfig struct {
	Brokers  []string
	ClientID string
	// Linger trades latency for batching; the relay publishes synchronously
	// per entry so this stays small.
	Linger      time.Duration
	MaxRetries  int
	Compression string
}

func DefaultKafkaConfig(brokers []string) KafkaConfig {
	return KafkaConfig{
		Brokers:     brokers,
		ClientID:    "hms-outbox-relay",
		Linger:      5 * time.Millisecond,
		MaxRetries:  3,
		Compression: "lz4",
	}
}

// KafkaPublisher produces outbox entries with franz-go, keyed by aggregate id
// so events of one aggregate stay ordered within a partition.
type KafkaPublisher struct {
	client *kgo.Client
	logger zerolog.Logger
}

func NewKafkaPublisher(cfg KafkaConfig, logger zerolog.Logger) (*KafkaPublisher, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.ProducerLinger(cfg.Linger),
		kgo.RecordRetries(cfg.MaxRetries),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	switch cfg.Compression {
	case "lz4":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.Lz4Compression()))
	case "snappy":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.SnappyCompression()))
	case "zstd":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.ZstdCompression()))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, logger: logger}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, e *Entry) error {
	rec := Record(e)
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce %s to %s: %w", e.EventType, e.Topic, err)
	}
	p.logger.Debug().
		Str("topic", rec.Topic).
		Int32("partition", rec.Partition).
		Int64("offset", rec.Offset).
		Msg("outbox entry produced")
	return nil
}

// Ping checks broker connectivity.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *KafkaPublisher) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("flush kafka producer on close")
	}
	p.client.Close()
}

// Record maps an outbox entry to a Kafka record.
func Record(e *Entry) *kgo.Record {
	rec := &kgo.Record{
		Topic: e.Topic,
		Key:   []byte(e.MessageKey),
		Value: e.Payload,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(e.EventType)},
			{Key: "aggregate_type", Value: []byte(e.AggregateType)},
			{Key: "outbox_id", Value: []byte(fmt.Sprintf("%d", e.ID))},
		},
	}
	if e.TraceParent != "" {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: "traceparent", Value: []byte(e.TraceParent)})
	}
	return rec
}
