// cmd/main.go is the application entry point.
// It wires together all layers, starts the notification sweeper and the HTTP
// server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Shivanand-hulikatti/listening-parties/internal/config"
	"github.com/Shivanand-hulikatti/listening-parties/internal/database"
	"github.com/Shivanand-hulikatti/listening-parties/internal/handler"
	"github.com/Shivanand-hulikatti/listening-parties/internal/lib/logger/sl"
	"github.com/Shivanand-hulikatti/listening-parties/internal/lock"
	"github.com/Shivanand-hulikatti/listening-parties/internal/metrics"
	"github.com/Shivanand-hulikatti/listening-parties/internal/notify"
	"github.com/Shivanand-hulikatti/listening-parties/internal/repository"
	"github.com/Shivanand-hulikatti/listening-parties/internal/repository/sqlite"
	"github.com/Shivanand-hulikatti/listening-parties/internal/service"
	"github.com/Shivanand-hulikatti/listening-parties/internal/sweeper"
	"github.com/Shivanand-hulikatti/listening-parties/internal/validate"
)

type partyStore interface {
	service.PartyStore
	sweeper.PartyStore
}

type notifier interface {
	sweeper.Notifier
	Close() error
}

func main() {
	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)
	log.Info("starting listening parties", slog.String("env", cfg.Env), slog.String("storage", cfg.Storage.Driver))

	if err := run(cfg, log); err != nil {
		log.Error("application stopped with error", sl.Err(err))
		os.Exit(1)
	}
	log.Info("application stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Storage
	parties, enrollments, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// 2. Scope lock
	locker, closeLocker, err := openLocker(ctx, log, cfg.Lock)
	if err != nil {
		return err
	}
	defer closeLocker()

	// 3. Service
	m := metrics.New()
	svc := service.New(log, parties, enrollments, locker, service.Config{
		Policy: validate.Policy{
			MinTopicLength: cfg.Schedule.MinTopicLength,
			MinDuration:    cfg.Schedule.MinDuration,
			MaxDuration:    cfg.Schedule.MaxDuration,
		},
		LookAhead: cfg.Schedule.LookAhead,
		Metrics:   m,
	})

	// 4. Notification sweeper
	n, err := openNotifier(ctx, cfg.Notifier, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			log.Warn("failed to close notifier", sl.Err(err))
		}
	}()

	sw := sweeper.New(log, parties, enrollments, n,
		sweeper.WithWindow(cfg.Sweep.Window),
		sweeper.WithMetrics(m),
	)
	if cfg.Sweep.Enabled {
		if err := sw.Start(cfg.Sweep.Schedule); err != nil {
			return err
		}
	}

	// 5. HTTP
	var limiter *handler.RateLimiter
	if cfg.HTTP.RateLimit > 0 {
		limiter = handler.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst)
		defer limiter.Stop()
	}
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.NewRouter(log, handler.NewPartyHandler(log, svc), m, limiter),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", slog.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sw.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (partyStore, service.EnrollmentStore, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := database.NewPool(ctx, log, cfg.Storage.Postgres)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Info("connected to postgres")
		return repository.NewPartyRepository(pool), repository.NewEnrollmentRepository(pool), pool.Close, nil
	default:
		st, err := sqlite.Open(cfg.Storage.SQLite.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Info("opened sqlite store", slog.String("path", cfg.Storage.SQLite.Path))
		return st, st, func() { _ = st.Close() }, nil
	}
}

func openLocker(ctx context.Context, log *slog.Logger, cfg config.LockConfig) (lock.Locker, func(), error) {
	if cfg.Driver != "redis" {
		return lock.NewLocal(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	l := lock.NewRedis(log, client, cfg.TTL)
	return l, func() { _ = l.Close() }, nil
}

func openNotifier(ctx context.Context, cfg config.NotifierConfig, log *slog.Logger) (notifier, error) {
	switch cfg.Driver {
	case "rabbitmq":
		return notify.DialRabbitMQ(ctx, log, cfg.RabbitMQURL, cfg.RabbitMQExchange)
	case "kafka":
		return notify.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	default:
		return notify.NewLog(log), nil
	}
}

func setupLogger(env string) *slog.Logger {
	var logger *slog.Logger

	switch env {
	case config.EnvDev:
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case config.EnvProd:
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	return logger
}
