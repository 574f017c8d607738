package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"wazoopass/observability"
	"wazoopass/observability/logging"
	telemetry "wazoopass/observability/otel"
	"wazoopass/passes/avatar"
	"wazoopass/passes/compose"
	"wazoopass/passes/flow"
	"wazoopass/passes/roles"
	"wazoopass/passes/store"
	"wazoopass/services/passd"
)

func main() {
	configPath := flag.String("config", envDefault("PASSD_CONFIG", "passd.yaml"), "path to the passd configuration file (.yaml or .toml)")
	flag.Parse()

	cfg, err := passd.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	env := cfg.Environment
	if override := strings.TrimSpace(os.Getenv("PASSD_ENV")); override != "" {
		env = override
	}
	logger := logging.SetupWithFile("passd", env, cfg.Log)

	endpoint := cfg.Telemetry.Endpoint
	if override := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); override != "" {
		endpoint = override
	}
	headers := cfg.Telemetry.Headers
	if raw := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); raw != "" {
		headers = telemetry.ParseHeaders(raw)
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "passd",
		Environment: env,
		Endpoint:    endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if err := run(cfg, logger); err != nil {
		logger.Error("passd failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg passd.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	passStore, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer passStore.Close()

	compositor, err := compose.Load(cfg.Compositor, logger)
	if err != nil {
		return err
	}
	fetcher := avatar.New(avatar.Config{
		Timeout:           cfg.Avatar.Timeout.Duration,
		MaxBytes:          cfg.Avatar.MaxBytes,
		FallbackSize:      cfg.Avatar.FallbackSize,
		RequestsPerSecond: cfg.Avatar.RequestsPerSecond,
		Burst:             cfg.Avatar.Burst,
	})
	machine, err := flow.New(flow.Config{
		Store:     passStore,
		Resolver:  roles.NewResolver(cfg.Roles),
		Avatars:   fetcher,
		Renderer:  compositor,
		OutputDir: cfg.OutputDir,
		InviteURL: cfg.InviteURL,
	}, flow.WithLogger(logger), flow.WithMetrics(observability.Passes()))
	if err != nil {
		return err
	}

	server, err := passd.NewServer(machine, passd.ServerConfig{
		PublicBaseURL: cfg.PublicBaseURL,
		Auth:          passd.NewAuthenticator(cfg.Auth, logger),
		RateLimiter:   passd.NewRateLimiter(cfg.RateLimit),
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(server, "passd"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("passd listening", slog.String("addr", cfg.ListenAddress), slog.String("store", cfg.Store.Driver))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger.Info("passd shutting down")
	return srv.Shutdown(shutdownCtx)
}

func envDefault(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return def
}
