package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/markethub/admission-gateway/internal/admission"
	"github.com/markethub/admission-gateway/internal/config"
	"github.com/markethub/admission-gateway/internal/obs"
	"github.com/markethub/admission-gateway/internal/repository"
	"github.com/markethub/admission-gateway/internal/server"
	"github.com/markethub/admission-gateway/internal/service"
	"github.com/markethub/admission-gateway/internal/storage"
)

func main() {
	// Load env if it exists
	godotenv.Load()

	cfg, err := config.Load("config.json")
	if err != nil {
		fatal(zerolog.Nop(), err, "failed to load config")
	}

	log := obs.SetupLogger(cfg.Server.LogLevel)

	redis, err := connectRedis(cfg, log)
	if err != nil {
		fatal(log, err, "failed to connect to redis")
	}
	defer redis.Close()
	log.Info().Str("addr", cfg.Redis.GetRedisAddr()).Msg("connected to redis")

	postgres, err := connectPostgres(cfg, log)
	if err != nil {
		fatal(log, err, "failed to connect to postgres")
	}
	defer postgres.Close()

	if err := postgres.AutoMigrate(); err != nil {
		fatal(log, err, "failed to run migrations")
	}
	log.Info().Msg("connected to postgres")

	registry := prometheus.NewRegistry()
	metrics := obs.NewMetrics(registry)

	controller := admission.NewController(redis, cfg.Admission.Engine(), log, metrics)
	controller.Start()

	srv := server.New(cfg, redis, postgres, controller, registry, log)

	if cfg.DecisionLog.RetentionDays > 0 {
		go runLogRetention(postgres, cfg.DecisionLog.RetentionDays, log)
	}

	go func() {
		addr := ":" + cfg.Server.Port
		if err := srv.Run(addr); err != nil && err != http.ErrServerClosed {
			fatal(log, err, "server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Resolves every queued admission request before exiting.
	controller.Stop()

	log.Info().Msg("exited")
}

// connectRedis retries the initial connection so a restart does not
// race the cache coming up.
func connectRedis(cfg *config.Config, log zerolog.Logger) (*storage.RedisClient, error) {
	var client *storage.RedisClient

	operation := func() error {
		var err error
		client, err = storage.NewRedis(cfg.Redis.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB, log)
		return err
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return client, nil
}

func connectPostgres(cfg *config.Config, log zerolog.Logger) (*storage.Postgres, error) {
	var db *storage.Postgres

	operation := func() error {
		var err error
		db, err = storage.NewPostgres(cfg.Postgres.DSN)
		if err != nil {
			log.Warn().Err(err).Msg("postgres not ready, retrying")
		}
		return err
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return db, nil
}

// runLogRetention prunes old decision logs twice a day.
func runLogRetention(postgres *storage.Postgres, retentionDays int, log zerolog.Logger) {
	analytics := service.NewAnalyticsService(repository.NewDecisionLogRepository(postgres))

	ticker := time.NewTicker(12 * time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		removed, err := analytics.CleanupOldLogs(context.Background(), retentionDays)
		if err != nil {
			log.Warn().Err(err).Msg("decision log cleanup failed")
			continue
		}
		if removed > 0 {
			log.Info().Int64("removed", removed).Msg("pruned old decision logs")
		}
	}
}

func fatal(log zerolog.Logger, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	os.Exit(1)
}
