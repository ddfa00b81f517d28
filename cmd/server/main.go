package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vn.io.arda/cropalert/internal/application"
	"vn.io.arda/cropalert/internal/config"
	"vn.io.arda/cropalert/internal/infrastructure/agriapi"
	"vn.io.arda/cropalert/internal/infrastructure/postgres"
	kafkaconsumer "vn.io.arda/cropalert/internal/kafka"
	"vn.io.arda/cropalert/internal/poller"
	transporthttp "vn.io.arda/cropalert/internal/transport/http"
)

func main() {
	// ── Logging ──────────────────────────────────────────────────────────────
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// ── Config ───────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.Server.Env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if cfg.Server.LogLevel != "" {
		if lvl, err := zerolog.ParseLevel(cfg.Server.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		} else {
			log.Warn().Str("log_level", cfg.Server.LogLevel).Msg("unknown log level, keeping default")
		}
	}

	log.Info().Str("env", cfg.Server.Env).Str("port", cfg.Server.Port).Msg("starting cropalert")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Database ──────────────────────────────────────────────────────────────
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping failed")
	}
	log.Info().Msg("postgres connected")

	repo := postgres.New(pool)
	if err := repo.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}

	// ── Agri backend client ───────────────────────────────────────────────────
	backend := agriapi.New(cfg.Backend.BaseURL,
		agriapi.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout}),
		agriapi.WithRateLimit(cfg.Backend.RateLimit, cfg.Backend.RateBurst),
		agriapi.WithPreferenceCacheTTL(cfg.Backend.PreferenceCacheTTL),
	)
	log.Info().Str("base_url", cfg.Backend.BaseURL).Msg("agri backend configured")

	// ── Application Service ───────────────────────────────────────────────────
	hub := transporthttp.NewHub()
	svc := application.NewService(repo, hub, backend, cfg.Auth.TokenTTL,
		poller.WithInterval(cfg.Poller.Interval),
		poller.WithPageSize(cfg.Poller.PageSize),
	)

	if _, err := svc.Restore(ctx); err != nil {
		log.Error().Err(err).Msg("failed to restore sessions")
	}

	// ── HTTP Server ───────────────────────────────────────────────────────────
	handler := transporthttp.NewHandler(svc, hub, cfg.Auth.SessionSecret, cfg.Auth.TokenTTL)
	router := transporthttp.NewRouter(handler)

	// ── Kafka Consumer ────────────────────────────────────────────────────────
	consumerDone := make(chan struct{})
	if cfg.Kafka.Enabled {
		consumer, err := kafkaconsumer.New(
			cfg.Kafka.Brokers,
			cfg.Kafka.ConsumerGroupID,
			cfg.Kafka.Topics,
			svc,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka consumer")
		}

		go func() {
			defer close(consumerDone)
			consumer.Start(ctx)
		}()
		log.Info().Strs("topics", cfg.Kafka.Topics).Msg("kafka consumer started")
	} else {
		close(consumerDone)
		log.Warn().Msg("kafka disabled, pollers rely on their own ticks")
	}

	// ── TTL Purge Job (toasts + expired sessions) ─────────────────────────────
	scheduler := cron.New(cron.WithLocation(time.UTC))
	if _, err := scheduler.AddFunc(cfg.TTL.Schedule, func() {
		svc.PurgeTTL(ctx, cfg.TTL.RetentionDays)
		if _, err := svc.ExpireSessions(ctx); err != nil {
			log.Error().Err(err).Msg("session expiry failed")
		}
	}); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.TTL.Schedule).Msg("invalid purge schedule")
	}
	scheduler.Start()

	// ── Start HTTP Server ─────────────────────────────────────────────────────
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := router.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server stopped")
			stop()
		}
	}()

	// ── Graceful Shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	<-scheduler.Stop().Done()
	<-consumerDone
	svc.Shutdown()

	log.Info().Msg("cropalert stopped")
}
