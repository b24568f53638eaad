package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/metrics"
	"github.com/hms/hms/internal/platform/outbox"
	"github.com/hms/hms/migrations"
)

// outboxRetention is how long processed outbox rows are kept before sweep
// deletes them.
const outboxRetention = 7 * 24 * time.Hour

func migrator(pool *pgxpool.Pool, dir string) *db.Migrator {
	if dir == "" {
		return db.NewFSMigrator(pool, migrations.FS)
	}
	return db.NewMigrator(pool, dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			cfg, logger, pool, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if schema == "" {
				schema = cfg.DBSchema
			}

			count, err := migrator(pool, dir).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			logger.Info().Str("schema", schema).Int("applied", count).Msg("migrations applied")
			return nil
		},
	}
	upCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	upCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded migrations)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			cfg, _, pool, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if schema == "" {
				schema = cfg.DBSchema
			}

			statuses, err := migrator(pool, dir).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	statusCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded migrations)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func relayConfig(cfg *config.Config) outbox.RelayConfig {
	rc := outbox.DefaultRelayConfig()
	if cfg.OutboxBatchSize > 0 {
		rc.BatchSize = cfg.OutboxBatchSize
	}
	if cfg.OutboxPollInterval > 0 {
		rc.PollInterval = cfg.OutboxPollInterval
	}
	if cfg.OutboxMaxRetries > 0 {
		rc.MaxRetries = cfg.OutboxMaxRetries
	}
	return rc
}

// newRelay builds the outbox relay. Without brokers the relay only fans
// events out to fanout. The returned func releases the Kafka client.
func newRelay(cfg *config.Config, pool *pgxpool.Pool, fanout outbox.Fanout, logger zerolog.Logger, m *metrics.Metrics) (*outbox.Relay, func(), error) {
	relayLogger := logger.With().Str("component", "outbox").Logger()
	var publisher outbox.Publisher
	closeFn := func() {}
	if cfg.KafkaEnabled() {
		kp, err := outbox.NewKafkaPublisher(outbox.DefaultKafkaConfig(cfg.KafkaBrokers), relayLogger)
		if err != nil {
			return nil, nil, fmt.Errorf("create kafka publisher: %w", err)
		}
		publisher = outbox.NewBreakerPublisher(kp, outbox.DefaultBreakerConfig("kafka"), relayLogger, m)
		closeFn = kp.Close
	}
	relay := outbox.NewRelay(db.NewTxRunner(pool), outbox.NewPGStore(pool), publisher, fanout, relayConfig(cfg), relayLogger, m)
	return relay, closeFn, nil
}

func relayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Publish committed outbox events to Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, logger, pool, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if !cfg.KafkaEnabled() {
				return fmt.Errorf("KAFKA_BROKERS is required to run the relay")
			}

			relay, closeRelay, err := newRelay(cfg, pool, nil, logger, metrics.New())
			if err != nil {
				return err
			}
			defer closeRelay()
			relay.Run(ctx)
			return nil
		},
	}
}

func topicsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Manage Kafka topics",
	}
	ensure := &cobra.Command{
		Use:   "ensure",
		Short: "Create missing engine topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			replication, _ := cmd.Flags().GetInt16("replication")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.KafkaEnabled() {
				return fmt.Errorf("KAFKA_BROKERS is required")
			}
			logger := newLogger(cfg.Env)

			admin, err := outbox.NewAdmin(cfg.KafkaBrokers, logger)
			if err != nil {
				return err
			}
			defer admin.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return admin.EnsureTopics(ctx, outbox.EngineTopics(cfg.KafkaTopicPrefix, replication))
		},
	}
	ensure.Flags().Int16("replication", 1, "Replication factor for created topics")
	cmd.AddCommand(ensure)
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Reclassify expired drugs, expire lapsed prescriptions and prune the outbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, logger, pool, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svcs := newServices(cfg, pool, logger, nil)

			drugs, err := svcs.pharmacy.SweepExpired(ctx)
			if err != nil {
				return fmt.Errorf("sweep expired drugs: %w", err)
			}
			prescriptions, err := svcs.nursing.ExpireLapsed(ctx)
			if err != nil {
				return fmt.Errorf("expire lapsed prescriptions: %w", err)
			}
			pruned, err := outbox.NewPGStore(pool).Cleanup(ctx, outboxRetention)
			if err != nil {
				return fmt.Errorf("prune outbox: %w", err)
			}

			logger.Info().
				Int("drugs_expired", drugs).
				Int("prescriptions_expired", prescriptions).
				Int64("outbox_pruned", pruned).
				Msg("sweep complete")
			return nil
		},
	}
}
