package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-dial-flow/config"
	"github.com/ramiqadoumi/go-dial-flow/internal/kafka"
	"github.com/ramiqadoumi/go-dial-flow/internal/postgres"
	redisstore "github.com/ramiqadoumi/go-dial-flow/internal/redis"
	"github.com/ramiqadoumi/go-dial-flow/internal/telephony"
	"github.com/ramiqadoumi/go-dial-flow/pkg/clock"
	"github.com/ramiqadoumi/go-dial-flow/pkg/retry"
	"github.com/ramiqadoumi/go-dial-flow/pkg/telemetry"
	"github.com/ramiqadoumi/go-dial-flow/services/ops"
	"github.com/ramiqadoumi/go-dial-flow/services/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduling engine and ops API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address (host:port)")
	serveCmd.Flags().String("kafka-brokers", "", "comma-separated Kafka broker addresses; empty disables event publishing")
	serveCmd.Flags().String("http-addr", ":8080", "ops API listen address")
	serveCmd.Flags().String("metrics-addr", ":9090", "Prometheus metrics server address")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")
	serveCmd.Flags().String("provider-base-url", "http://localhost:8089", "telephony provider API base URL")
	serveCmd.Flags().String("provider-api-key", "", "telephony provider API key")
	serveCmd.Flags().Bool("production", false, "production mode: retention sweep runs daily at a quiet hour")

	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("http_addr", serveCmd.Flags(), "http-addr")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	bindFlag("provider_base_url", serveCmd.Flags(), "provider-base-url")
	bindFlag("provider_api_key", serveCmd.Flags(), "provider-api-key")
	bindFlag("production", serveCmd.Flags(), "production")

	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = viper.BindEnv("provider_api_key", "PROVIDER_API_KEY")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel)

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "dialflow", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	pool, err := connectPostgres(cfg.PostgresDSN, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient := redisstore.NewClient(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()

	var producer kafka.Producer
	if cfg.KafkaBrokers != "" {
		producer = kafka.NewProducer(strings.Split(cfg.KafkaBrokers, ","))
		defer func() { _ = producer.Close() }()
		logger.Info("kafka event publishing enabled", slog.String("brokers", cfg.KafkaBrokers))
	}

	provider := telephony.NewHTTPClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey)

	items := postgres.NewCallQueueRepository(pool)
	history := postgres.NewCallHistoryRepository(pool)
	agents := redisstore.NewAgentDirectory(redisClient)
	configStore := redisstore.NewConfigStore(redisClient, logger)
	guard := redisstore.NewDialGuard(redisClient, time.Minute)

	runtime := scheduler.New(scheduler.Deps{
		Items:      items,
		History:    history,
		Agents:     agents,
		Config:     configStore,
		Guard:      guard,
		Dialer:     provider,
		Presence:   provider,
		Producer:   producer,
		Clock:      clock.System(),
		Logger:     logger,
		Production: cfg.Production,
	})
	if err := runtime.Initialize(context.Background()); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	defer runtime.Shutdown()

	rest := ops.NewREST(runtime, items, history, agents, configStore, clock.System(), logger)
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      rest.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	telemetry.StartMetricsServer(ctx, cfg.MetricsAddr, runtime.Ready, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ops API listening", slog.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	select {
	case err := <-errCh:
		return fmt.Errorf("ops server: %w", err)
	case <-quit:
		logger.Info("shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown", slog.String("error", err.Error()))
	}
	runtime.Shutdown()
	logger.Info("stopped")
	return nil
}

// connectPostgres dials the pool with a few retries so the engine survives a
// database that comes up slightly after it.
func connectPostgres(dsn string, logger *slog.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var pool *pgxpool.Pool
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		OnRetry: func(attempt int, err error) {
			logger.Warn("postgres not ready",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		},
	}, func() error {
		var err error
		pool, err = postgres.NewPool(ctx, dsn)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}
