package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

type TopicConfig struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Configs           map[string]*string
}

// EngineTopics returns the topic layout for every engine topic under prefix.
func EngineTopics(prefix string, replication int16) []TopicConfig {
	ptr := func(s string) *string { return &s }

	topics := make([]TopicConfig, 0, len(Suffixes))
	for _, s := range Suffixes {
		topics = append(topics, TopicConfig{
			Name:              TopicName(prefix, s),
			Partitions:        6,
			ReplicationFactor: replication,
			Configs: map[string]*string{
				"retention.ms":     ptr("604800000"),
				"cleanup.policy":   ptr("delete"),
				"compression.type": ptr("lz4"),
			},
		})
	}
	return topics
}

type Admin struct {
	client *kadm.Client
	logger zerolog.Logger
}

func NewAdmin(brokers []string, logger zerolog.Logger) (*Admin, error) {
	kgoClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Admin{client: kadm.NewClient(kgoClient), logger: logger}, nil
}

// EnsureTopics creates missing topics; existing topics are left untouched.
func (a *Admin) EnsureTopics(ctx context.Context, topics []TopicConfig) error {
	for _, cfg := range topics {
		resp, err := a.client.CreateTopics(ctx, cfg.Partitions, cfg.ReplicationFactor, cfg.Configs, cfg.Name)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", cfg.Name, err)
		}
		for _, r := range resp {
			if r.Err != nil {
				if errors.Is(r.Err, kerr.TopicAlreadyExists) {
					a.logger.Info().Str("topic", r.Topic).Msg("topic already exists")
					continue
				}
				return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
			}
			a.logger.Info().Str("topic", r.Topic).Int32("partitions", cfg.Partitions).Msg("topic created")
		}
	}
	return nil
}

func (a *Admin) ListTopics(ctx context.Context) ([]string, error) {
	topics, err := a.client.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return topics.Names(), nil
}

func (a *Admin) Close() {
	a.client.Close()
}
