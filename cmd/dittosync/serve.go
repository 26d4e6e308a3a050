package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittosync/internal/logger"
	"github.com/marmos91/dittosync/pkg/config"
	"github.com/marmos91/dittosync/pkg/metrics"
	"github.com/marmos91/dittosync/pkg/server"
	"github.com/spf13/pflag"
)

func runServe(ctx context.Context, fs *pflag.FlagSet, common *commonFlags) error {
	if fs.NArg() > 0 {
		return usageError(fs, "serve takes no arguments")
	}

	cfg, err := loadConfig(common)
	if err != nil {
		return err
	}

	fmt.Println("DittoSync - Asset Replication Provider")
	logger.Info("Log level set to: %s", cfg.Logging.Level)
	logger.Info("Content store: %s", cfg.Content.Type)
	logger.Info("Checksum cache: %s", cfg.Checksum.Type)

	storage, err := config.InitializeStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := storage.Close(); err != nil {
			logger.Warn("Storage close error: %v", err)
		}
	}()

	metricsResult := config.InitializeMetrics(cfg)
	stopMetrics := startMetricsServer(ctx, metricsResult.Server)
	defer stopMetrics()

	srv := server.New(storage.Store, storage.Resolver)
	srv.StopTimeout = cfg.Server.ShutdownTimeout

	adapters, err := config.CreateAdapters(cfg, metricsResult.Replication)
	if err != nil {
		return err
	}
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			return fmt.Errorf("failed to add %s adapter: %w", a.Protocol(), err)
		}
	}

	logProviderConfig(cfg)
	logger.Info("Provider is running. Press Ctrl+C to stop.")

	err = srv.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("Provider stopped gracefully")
	return nil
}

// startMetricsServer runs the metrics endpoint in the background. The
// returned function stops it and waits for it to finish.
func startMetricsServer(ctx context.Context, srv *metrics.Server) func() {
	if srv == nil {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Start(ctx); err != nil {
			logger.Error("Metrics server error: %v", err)
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func logProviderConfig(cfg *config.Config) {
	p := cfg.Provider
	logger.Info("Provider configuration:")
	logger.Info("  Port: %d", p.Port)
	if p.MaxConnections > 0 {
		logger.Info("  Max connections: %d", p.MaxConnections)
	} else {
		logger.Info("  Max connections: unlimited")
	}
	logger.Info("  Idle timeout: %v", p.IdleTimeout)
	logger.Info("  Stall timeout: %v", p.StallTimeout)
	logger.Info("  Write timeout: %v", p.WriteTimeout)
	logger.Info("  Shutdown timeout: %v", p.ShutdownTimeout)
	logger.Info("  notFound reply: %v", p.NotFoundReply)
	if p.MetricsLogInterval == 0 {
		logger.Info("  (metrics logging disabled)")
	}
}
