package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"

	"github.com/avasconcelos114/hashgate/internal/blocklist"
	"github.com/avasconcelos114/hashgate/internal/blocklist/sqlite"
	"github.com/avasconcelos114/hashgate/internal/config"
	"github.com/avasconcelos114/hashgate/internal/gate"
	"github.com/avasconcelos114/hashgate/internal/gate/retry"
	"github.com/avasconcelos114/hashgate/internal/http/rest"
	"github.com/avasconcelos114/hashgate/internal/logctx"
	"github.com/avasconcelos114/hashgate/internal/registry"
	registryrest "github.com/avasconcelos114/hashgate/internal/registry/rest"
	"github.com/avasconcelos114/hashgate/internal/telemetry"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("hashgate starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	blocks := sqlite.NewInstrumentedBlockRepository(database, tel)
	retries := sqlite.NewInstrumentedRetryRepository(database, tel)

	// =========================================================================
	// Start Registry Client
	policy := registry.BackoffPolicy{
		InitialDelay: cfg.RetryInitialDelay,
		MaxDelay:     cfg.RetryMaxDelay,
		MaxAttempts:  cfg.RetryMaxAttempts,
	}

	tokens := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.RegistryToken})

	reg := registry.NewInstrumentedClient(registryrest.NewClient(
		cfg.RegistryBaseURL,
		tokens,
		registryrest.WithTTL(cfg.RegistryTTL),
		registryrest.WithTimeout(cfg.RegistryTimeout),
		registryrest.WithBackoffPolicy(policy),
	), tel)

	// =========================================================================
	// Start Gates
	sendGate := gate.NewSendGate(blocks, reg, tel)
	downloadGate := gate.NewDownloadGate(blocks, retries, reg, policy, tel)

	// =========================================================================
	// Start Retry Runner
	runner := retry.NewRunner(retries, reg, policy, cfg.SweepInterval, cfg.SweepBatchSize, cfg.RecheckMaxCount, tel)

	go runner.Run(ctx)

	setupReactivationLog(ctx, runner)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cfg, tel, sendGate, downloadGate, blocks, retries)

	go func() {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("gates ready",
		"registry", cfg.RegistryBaseURL,
		"sweep_interval", cfg.SweepInterval.String(),
		"recheck_max_count", cfg.RecheckMaxCount,
	)

	// =========================================================================
	// Wait for shutdown
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Let in-flight fingerprint contributions finish.
		sendGate.Wait()

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

// setupReactivationLog consumes reactivation events. The attachment
// pipeline tails these log lines (or the review endpoint) to resume
// downloads whose fingerprint left the registry.
func setupReactivationLog(ctx context.Context, runner *retry.Runner) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		for item := range runner.OnReactivated {
			logger.Info("download reactivated",
				"attachment_ref", item.AttachmentRef,
				"attempt_count", item.AttemptCount)
		}
	}()
}

// setupServer prepares the handlers and services to create the http rest
// server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	tel *telemetry.Telemetry,
	sendGate *gate.SendGate,
	downloadGate *gate.DownloadGate,
	blocks blocklist.BlockRepository,
	retries blocklist.RetryRepository,
) *http.Server {
	gateHandler := rest.NewGateHandler(cfg.API.Username, cfg.API.Password, sendGate, downloadGate, blocks, retries)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Method(http.MethodGet, "/metrics", tel.Handler())
	r.Mount("/", gateHandler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
