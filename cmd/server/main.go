package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/vanshika/walletgate/internal/config"
	"github.com/vanshika/walletgate/internal/gate"
	"github.com/vanshika/walletgate/internal/graph"
	"github.com/vanshika/walletgate/internal/logging"
	"github.com/vanshika/walletgate/internal/metrics"
	"github.com/vanshika/walletgate/internal/registry"
	"github.com/vanshika/walletgate/internal/repository"
	"github.com/vanshika/walletgate/internal/server"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Logging)
	defer logCloser.Close()

	graphClient, err := buildGraphClient(ctx, cfg)
	if err != nil {
		logger.Error("failed to create graph client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := graphClient.Close(context.Background()); err != nil {
			logger.Warn("closing graph client failed", "error", err)
		}
	}()

	wallets := registry.New(repository.New(graphClient), logger)

	var recorder *metrics.Recorder
	gateCfg := gate.Config{
		Policy: cfg.Gate.Policy,
		Retry:  retryConfig(cfg.Gate),
		Resume: resumeConfig(cfg.Gate),
		Logger: logger.With("component", "gate"),
		OnOutcome: func(out gate.Outcome, err error) {
			if errors.Is(err, gate.ErrPersistenceFailed) {
				logger.Error("redelivered transfer not persisted", "decision", out.Decision, "pending", len(out.Pending), "resuming", out.Resuming)
			}
		},
	}
	if cfg.HTTP.MetricsEnabled {
		recorder = metrics.NewRecorder()
		gateCfg.Recorder = recorder
	}

	transferGate, err := gate.New(wallets, gateCfg)
	if err != nil {
		logger.Error("failed to build transfer gate", "error", err)
		os.Exit(1)
	}
	defer transferGate.Close()

	deps := server.RouterDependencies{
		Health:           server.GraphHealthService{Client: graphClient},
		Stats:            transferGate,
		API:              server.NewAPIHandlers(logger, wallets, transferGate),
		AllowedOrigins:   parseAllowedOrigins(cfg.HTTP.AllowedOriginsCSV),
		AllowCredentials: true,
	}
	if recorder != nil {
		deps.Metrics = recorder.Handler()
	}

	srv := server.New(logger, cfg.HTTP, server.NewRouter(logger, deps))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	if n := transferGate.PendingRetries(); n > 0 {
		logger.Warn("dropping scheduled re-deliveries", "count", n)
	}
	if n := transferGate.PendingResumes(); n > 0 {
		logger.Warn("abandoning pending writes", "count", n)
	}
}

func retryConfig(cfg config.GateConfig) gate.RetryConfig {
	return gate.RetryConfig{
		Delay:       cfg.RequeueDelay,
		MaxAttempts: cfg.MaxRequeueAttempts,
		Backoff:     cfg.RequeueBackoff,
		MaxDelay:    cfg.MaxRequeueDelay,
	}
}

func resumeConfig(cfg config.GateConfig) gate.ResumeConfig {
	return gate.ResumeConfig{
		Enabled:     cfg.ResumeWrites,
		Delay:       cfg.ResumeDelay,
		MaxDelay:    cfg.MaxResumeDelay,
		MaxAttempts: cfg.MaxResumeAttempts,
	}
}

func buildGraphClient(ctx context.Context, cfg config.Config) (graph.Client, error) {
	return graph.NewNeo4jClient(ctx, graph.Options{
		URI:            cfg.Graph.URI,
		Database:       cfg.Graph.Database,
		Username:       cfg.Graph.Username,
		Password:       cfg.Graph.Password,
		MaxConnections: cfg.Graph.MaxConnections,
		TxTimeout:      cfg.Graph.TxTimeout,
	})
}

func parseAllowedOrigins(csv string) []string {
	if csv == "" {
		return nil
	}
	var origins []string
	for _, part := range strings.Split(csv, ",") {
		if origin := strings.TrimSpace(part); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
