// Package app provides shared application setup and lifecycle management.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/stiffinWanjohi/courier/internal/config"
	"github.com/stiffinWanjohi/courier/internal/logging"
	"github.com/stiffinWanjohi/courier/internal/notification"
	"github.com/stiffinWanjohi/courier/internal/observability"
	"github.com/stiffinWanjohi/courier/migrations"
	"github.com/stiffinWanjohi/courier/pkg/backoff"

	// Register metrics and tracing backends.
	_ "github.com/stiffinWanjohi/courier/internal/observability/otel"
	_ "github.com/stiffinWanjohi/courier/internal/observability/prometheus"
)

var log = logging.Component("app")

// Services holds all initialized application services.
type Services struct {
	Config         *config.Config
	Pool           *pgxpool.Pool
	Redis          *redis.Client
	Metrics        *observability.Metrics
	MetricsHandler http.Handler // nil unless the provider serves a scrape endpoint
	Tracer         *observability.Tracer
	Notification   *notification.Service

	metricsProvider observability.MetricsProvider
}

// Close closes all services gracefully.
func (s *Services) Close(ctx context.Context) {
	if s.Notification != nil {
		_ = s.Notification.Close()
	}
	if s.Tracer != nil {
		if err := s.Tracer.Shutdown(ctx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}
	if s.metricsProvider != nil {
		_ = s.metricsProvider.Flush(ctx)
		_ = s.metricsProvider.Close(ctx)
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// ConnectPostgres connects to PostgreSQL, retrying while the server comes up.
func ConnectPostgres(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	err = backoff.NewCalculator().Retry(ctx, cfg.Database.ConnectAttempts, pool.Ping,
		func(attempt int, wait time.Duration, err error) {
			log.Warn("database not reachable, retrying", "attempt", attempt, "wait", wait, "error", err)
		})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return pool, nil
}

// ConnectRedis connects to Redis. REDIS_URL may be a redis:// URL or a
// plain host:port.
func ConnectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	opts := &redis.Options{Addr: cfg.Redis.URL}
	if strings.Contains(cfg.Redis.URL, "://") {
		parsed, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		opts = parsed
	}
	opts.PoolSize = cfg.Redis.PoolSize
	opts.ReadTimeout = cfg.Redis.ReadTimeout
	opts.WriteTimeout = cfg.Redis.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

func observabilityConfig(cfg *config.Config) observability.MetricsConfig {
	return observability.MetricsConfig{
		ServiceName:    cfg.Metrics.ServiceName,
		ServiceVersion: cfg.Metrics.ServiceVersion,
		Environment:    cfg.Metrics.Environment,
		Endpoint:       cfg.Metrics.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	}
}

// NewMetricsProvider creates a metrics provider based on configuration.
func NewMetricsProvider(ctx context.Context, cfg *config.Config) (observability.MetricsProvider, *observability.Metrics, error) {
	provider, err := observability.NewMetricsProviderByName(ctx, cfg.Metrics.Provider, observabilityConfig(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	metrics := observability.NewMetrics(provider, cfg.Metrics.ServiceName)
	return provider, metrics, nil
}

// NewTracer creates a tracer. Tracing is a no-op unless enabled.
func NewTracer(ctx context.Context, cfg *config.Config) (*observability.Tracer, error) {
	name := "noop"
	if cfg.Tracing.Enabled {
		name = "otel"
	}

	tc := observabilityConfig(cfg)
	if cfg.Tracing.Endpoint != "" {
		tc.Endpoint = cfg.Tracing.Endpoint
	}

	provider, err := observability.NewTracingProviderByName(ctx, name, tc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	return observability.NewTracer(provider, cfg.Metrics.ServiceName), nil
}

// NewNotificationService creates a notification service based on configuration.
func NewNotificationService(cfg *config.Config) *notification.Service {
	return notification.NewService(notification.Config{
		Enabled:         cfg.Notification.Enabled,
		Async:           cfg.Notification.Async,
		SlackWebhookURL: cfg.Notification.SlackWebhookURL,
		SMTPHost:        cfg.Notification.SMTPHost,
		SMTPPort:        cfg.Notification.SMTPPort,
		SMTPUsername:    cfg.Notification.SMTPUsername,
		SMTPPassword:    cfg.Notification.SMTPPassword,
		EmailFrom:       cfg.Notification.EmailFrom,
		EmailTo:         cfg.Notification.EmailTo,
	})
}

// RunMigrations applies all pending schema migrations.
func RunMigrations(cfg *config.Config) error {
	version, err := migrations.Up(cfg.Database.URL)
	if err != nil {
		return err
	}
	log.Info("database schema up to date", "version", version)
	return nil
}

// InitAll connects to PostgreSQL and Redis concurrently and sets up
// metrics, tracing and notifications. Close the returned Services when done.
func InitAll(ctx context.Context, cfg *config.Config) (*Services, error) {
	s := &Services{Config: cfg}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pool, err := ConnectPostgres(gctx, cfg)
		s.Pool = pool
		return err
	})
	g.Go(func() error {
		client, err := ConnectRedis(gctx, cfg)
		s.Redis = client
		return err
	})
	if err := g.Wait(); err != nil {
		s.Close(ctx)
		return nil, err
	}

	if err := s.initObservability(ctx); err != nil {
		s.Close(ctx)
		return nil, err
	}

	s.Notification = NewNotificationService(cfg)
	return s, nil
}

// InitDatabase connects to PostgreSQL only, for one-shot commands.
func InitDatabase(ctx context.Context, cfg *config.Config) (*Services, error) {
	pool, err := ConnectPostgres(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Services{Config: cfg, Pool: pool}, nil
}

func (s *Services) initObservability(ctx context.Context) error {
	provider, metrics, err := NewMetricsProvider(ctx, s.Config)
	if err != nil {
		return err
	}
	s.metricsProvider = provider
	s.Metrics = metrics
	if hp, ok := provider.(observability.HandlerProvider); ok {
		s.MetricsHandler = hp.Handler()
	}

	tracer, err := NewTracer(ctx, s.Config)
	if err != nil {
		return err
	}
	s.Tracer = tracer
	return nil
}

// WaitForShutdown blocks until SIGINT or SIGTERM is received.
func WaitForShutdown() {
	<-ShutdownChannel()
}

// ShutdownChannel returns a channel that receives shutdown signals.
func ShutdownChannel() <-chan os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	return quit
}
