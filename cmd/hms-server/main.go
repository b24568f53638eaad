package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/domain/nursing"
	"github.com/hms/hms/internal/domain/pharmacy"
	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/domain/ward"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/metrics"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/outbox"
	"github.com/hms/hms/internal/platform/tracing"
	"github.com/hms/hms/internal/platform/websocket"
)

const (
	serviceName = "hms-server"
	version     = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Hospital clinical resource and lifecycle engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(relayCmd())
	rootCmd.AddCommand(topicsCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", serviceName).Logger()
}

// bootstrap loads configuration and opens the pool shared by every command.
func bootstrap(ctx context.Context) (*config.Config, zerolog.Logger, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		return nil, logger, nil, err
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
	})
	if err != nil {
		return nil, logger, nil, err
	}
	return cfg, logger, pool, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// services holds the engine, constructed once per process.
type services struct {
	identity   *identity.Service
	pharmacy   *pharmacy.Service
	nursing    *nursing.Service
	ward       *ward.Service
	scheduling *scheduling.Service
}

func newServices(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger, m *metrics.Metrics) *services {
	tx := db.NewTxRunner(pool)
	events := outbox.NewPGWriter(pool, cfg.KafkaTopicPrefix)

	identitySvc := identity.NewService(identity.NewUserRepoPG(pool))
	return &services{
		identity: identitySvc,
		pharmacy: pharmacy.NewService(
			pharmacy.NewDrugRepoPG(pool), pharmacy.NewPrescriptionRepoPG(pool),
			tx, events, logger, m,
			pharmacy.WithMaxRetries(cfg.DispenseMaxRetries),
		),
		nursing: nursing.NewService(
			nursing.NewMedicationRepoPG(pool), nursing.NewPrescriptionRepoPG(pool), nursing.NewAdministrationRepoPG(pool),
			identitySvc, tx, events, logger, m,
			nursing.WithRecentWindow(cfg.RecentAdministrationWindow),
		),
		ward: ward.NewService(ward.NewBedRepoPG(pool), identitySvc, tx, events, logger, m),
		scheduling: scheduling.NewService(
			scheduling.NewAppointmentRepoPG(pool), scheduling.NewSurgeryRepoPG(pool),
			identitySvc, tx, events, logger, m,
		),
	}
}

func runServer() error {
	ctx := context.Background()
	cfg, logger, pool, err := bootstrap(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	tp, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTelEndpoint,
		SampleRate:     cfg.OTelSampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer tp.Shutdown(context.Background())

	m := metrics.New()
	hub := websocket.NewHub(
		websocket.WithPolicy(topicPolicy(cfg.KafkaTopicPrefix)),
		websocket.WithLogger(logger.With().Str("component", "websocket").Logger()),
		websocket.WithClientGauge(m.SetWebsocketClients),
	)
	svcs := newServices(cfg, pool, logger, m)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Tracing(serviceName))
	e.Use(middleware.Metrics(m))
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "traceparent"},
	}))
	e.Use(echomw.Secure())
	e.Use(echomw.BodyLimit("1M"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
	var authMW echo.MiddlewareFunc
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtCfg)
	} else {
		authMW = auth.JWTMiddleware(jwtCfg)
	}

	ws := e.Group("", authMW)
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(ws)

	apiV1 := e.Group("/api/v1", authMW)
	identity.NewHandler(svcs.identity).RegisterRoutes(apiV1)
	pharmacy.NewHandler(svcs.pharmacy).RegisterRoutes(apiV1)
	nursing.NewHandler(svcs.nursing).RegisterRoutes(apiV1)
	ward.NewHandler(svcs.ward).RegisterRoutes(apiV1)
	scheduling.NewHandler(svcs.scheduling).RegisterRoutes(apiV1)

	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()
	relay, closeRelay, err := newRelay(cfg, pool, hub, logger, m)
	if err != nil {
		return err
	}
	defer closeRelay()
	go relay.Run(relayCtx)

	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stopRelay()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// topicPolicy limits websocket subscriptions to the roles that act on each
// stream. ADMIN passes every topic.
func topicPolicy(prefix string) websocket.TopicRoles {
	return websocket.TopicRoles{
		outbox.TopicName(prefix, outbox.TopicPharmacy):   {auth.RolePharmacist},
		outbox.TopicName(prefix, outbox.TopicNursing):    {auth.RoleNurse, auth.RoleDoctor},
		outbox.TopicName(prefix, outbox.TopicWard):       {auth.RoleNurse, auth.RoleDoctor},
		outbox.TopicName(prefix, outbox.TopicScheduling): {auth.RoleDoctor},
	}
}
