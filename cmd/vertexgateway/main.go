package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felipepmaragno/vertex-gateway/internal/api"
	"github.com/felipepmaragno/vertex-gateway/internal/backend"
	"github.com/felipepmaragno/vertex-gateway/internal/config"
	"github.com/felipepmaragno/vertex-gateway/internal/credentials"
	"github.com/felipepmaragno/vertex-gateway/internal/crypto"
	"github.com/felipepmaragno/vertex-gateway/internal/httputil"
	"github.com/felipepmaragno/vertex-gateway/internal/notifications"
	"github.com/felipepmaragno/vertex-gateway/internal/telemetry"
	"github.com/felipepmaragno/vertex-gateway/internal/usage"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	closeLog := setupLogger(cfg.LogLevel, cfg.LogFile)
	defer closeLog()

	slog.Info("starting vertex gateway",
		"addr", cfg.Addr,
		"version", api.Version,
		"model", cfg.BackendModel,
		"stream_mode", cfg.StreamMode,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: telemetry.ServiceName,
		Version:     api.Version,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRatio: cfg.OTLPSampleRatio,
	})
	if err != nil {
		slog.Warn("failed to initialize telemetry", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	var alerter *notifications.Alerter
	if cfg.AlertTopicARN != "" {
		notifier, err := notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.AlertTopicARN)
		if err != nil {
			slog.Error("failed to create sns notifier", "error", err)
			os.Exit(1)
		}
		alerter = notifications.NewAlerter(notifier, cfg.AlertCooldown)
		slog.Info("alerts enabled", "topic", cfg.AlertTopicARN)
	}

	var healthCheckers []api.HealthChecker

	cache, store, err := newCredentialCache(ctx, cfg, alerter)
	if err != nil {
		slog.Error("failed to set up credentials", "error", err)
		os.Exit(1)
	}
	healthCheckers = append(healthCheckers, cache)
	if store != nil {
		defer store.Close()
		healthCheckers = append(healthCheckers, store)
	}

	recorder, pgSink, err := newRecorder(ctx, cfg)
	if err != nil {
		slog.Error("failed to set up usage recorder", "error", err)
		os.Exit(1)
	}
	if pgSink != nil {
		defer pgSink.Close()
		healthCheckers = append(healthCheckers, pgSink)
	}

	httpClient := httputil.NewClient(httputil.ClientConfig{
		ConnectTimeout:        cfg.BackendConnectTimeout,
		TLSHandshakeTimeout:   cfg.BackendConnectTimeout,
		ResponseHeaderTimeout: cfg.BackendReadTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
	})

	backendClient := backend.New(backend.Config{
		BaseURL:        cfg.BackendBaseURL,
		RequestTimeout: cfg.BackendRequestTimeout,
		IdleTimeout:    cfg.StreamIdleTimeout,
	}, httpClient)

	handler := api.NewHandler(api.HandlerConfig{
		Credentials:    cache,
		Backend:        backendClient,
		Recorder:       recorder,
		Alerter:        alerter,
		Model:          cfg.BackendModel,
		StreamMode:     cfg.StreamMode,
		HealthCheckers: healthCheckers,
	})

	// No WriteTimeout: streamed replies last as long as the backend keeps
	// sending, bounded instead by STREAM_IDLE_TIMEOUT.
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	alerter.Wait()

	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("failed to flush traces", "error", err)
	}

	slog.Info("server stopped")
}

func newCredentialCache(ctx context.Context, cfg *config.Config, alerter *notifications.Alerter) (*credentials.Cache, *credentials.RedisStore, error) {
	var keys credentials.KeyLoader
	if cfg.ServiceAccountSecret != "" {
		loader, err := credentials.NewSecretsManagerKeyLoader(ctx, cfg.AWSRegion, cfg.ServiceAccountSecret)
		if err != nil {
			return nil, nil, err
		}
		keys = loader
		slog.Info("service account key from secrets manager", "secret", cfg.ServiceAccountSecret)
	} else {
		keys = credentials.NewFileKeyLoader(cfg.ServiceAccountFile)
		slog.Info("service account key from file", "path", cfg.ServiceAccountFile)
	}

	source := credentials.NewGoogleSource(keys, httputil.DefaultClient(), cfg.TokenScope)

	opts := []credentials.Option{
		credentials.WithRefreshErrorHook(func(err error) {
			alerter.Alert(notifications.Notification{
				Type:    notifications.NotificationCredentialRefreshFailed,
				Message: err.Error(),
			})
		}),
	}

	var store *credentials.RedisStore
	if cfg.RedisURL != "" {
		client, err := credentials.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}

		var sealer *crypto.Sealer
		if cfg.EncryptionKey != "" {
			sealer, err = crypto.NewSealer(cfg.EncryptionKey)
			if err != nil {
				client.Close()
				return nil, nil, err
			}
		} else {
			slog.Warn("shared token store has no encryption key, tokens stored in plain text")
		}

		store = credentials.NewRedisStore(client, credentials.DefaultRedisKey, sealer)
		opts = append(opts, credentials.WithStore(store))
		slog.Info("using redis shared token store")
	}

	cache := credentials.New(source, credentials.Config{
		RefreshMargin: cfg.TokenRefreshMargin,
		Lifetime:      cfg.TokenLifetime,
	}, opts...)

	return cache, store, nil
}

func newRecorder(ctx context.Context, cfg *config.Config) (*usage.Recorder, *usage.PostgresSink, error) {
	sinks := []usage.Sink{usage.NewFileSink(cfg.UsageLogFile)}
	slog.Info("usage log", "path", cfg.UsageLogFile)

	var pgSink *usage.PostgresSink
	if cfg.DatabaseURL != "" {
		db, err := usage.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}

		pgSink = usage.NewPostgresSink(db)
		if err := pgSink.Migrate(ctx); err != nil {
			pgSink.Close()
			return nil, nil, err
		}
		sinks = append(sinks, pgSink)
		slog.Info("usage records to postgres")
	}

	if cfg.UsageQueueURL != "" {
		sink, err := usage.NewSQSSink(ctx, cfg.AWSRegion, cfg.UsageQueueURL)
		if err != nil {
			if pgSink != nil {
				pgSink.Close()
			}
			return nil, nil, err
		}
		sinks = append(sinks, sink)
		slog.Info("usage records to sqs", "queue", cfg.UsageQueueURL)
	}

	return usage.NewRecorder(newCalculator(cfg), sinks...), pgSink, nil
}

func newCalculator(cfg *config.Config) *usage.Calculator {
	calc := usage.NewCalculator()
	if cfg.BackendPricing != nil {
		calc.SetPricing(cfg.BackendModel, *cfg.BackendPricing)
		slog.Info("backend model priced",
			"model", cfg.BackendModel,
			"input_per_million", cfg.BackendPricing.InputPerMillion,
			"output_per_million", cfg.BackendPricing.OutputPerMillion,
		)
	}
	return calc
}

// setupLogger installs a JSON slog handler on stdout, and on a rotating file
// when logFile is set. The returned func closes the file.
func setupLogger(level, logFile string) func() {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	closeFn := func() {}

	if logFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closeFn = func() { _ = rotator.Close() }
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	return closeFn
}
