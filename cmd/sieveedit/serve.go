package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/migadu/sieveedit/config"
	"github.com/migadu/sieveedit/editor"
	"github.com/migadu/sieveedit/logger"
	"github.com/migadu/sieveedit/pkg/metrics"
	"github.com/migadu/sieveedit/server/editorapi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveFlags struct {
	statsInterval time.Duration
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the editor HTTP API",
	Long: `Serve the editor HTTP API over the configured store. The [api] section sets
the listen address, API key and allowed client networks; [metrics] enables a
separate Prometheus endpoint.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().DurationVar(&serveFlags.statsInterval, "stats-interval", 15*time.Second, "how often workspace gauges are updated")
}

func runServe(cmd *cobra.Command, args []string) error {
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.Info("sieveedit starting", "version", Version, "store", cfg.Store.Type)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalChan)
	go func() {
		select {
		case sig := <-signalChan:
			logger.Infof("Received signal: %s, shutting down...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	s, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Type, err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("Failed to close store", "type", cfg.Store.Type, "error", err)
		}
	}()

	maxSize, err := cfg.Sieve.GetMaxScriptSize()
	if err != nil {
		return err
	}
	ws := editor.New(s, editor.Options{
		Extensions:    cfg.Sieve.SupportedExtensions,
		MaxScriptSize: maxSize,
	})
	if err := ws.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to list scripts: %w", err)
	}

	if cfg.Store.RefreshSchedule != "" {
		scheduler, err := editor.NewRefreshScheduler(ws, cfg.Store.RefreshSchedule)
		if err != nil {
			return err
		}
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
		defer scheduler.Stop()
	}

	collector := metrics.NewCollector(ws, serveFlags.statsInterval)
	go collector.Start(ctx)
	defer collector.Stop()

	options, err := editorapi.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}

	errChan := make(chan error, 2)
	if cfg.Metrics.Enabled {
		go startMetricsServer(ctx, cfg.Metrics, errChan)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		editorapi.Start(ctx, ws, options, errChan)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Waiting for the API server to stop...")
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			logger.Warn("API server shutdown timeout reached after 10 seconds")
		}
		if dirty := ws.CanClose(); len(dirty) > 0 {
			logger.Warn("Unsaved documents discarded", "documents", dirty)
		}
		return nil
	case err := <-errChan:
		cancel()
		return err
	}
}

func startMetricsServer(ctx context.Context, metricsConfig config.MetricsConfig, errChan chan error) {
	mux := http.NewServeMux()
	mux.Handle(metricsConfig.Path, promhttp.Handler())

	server := &http.Server{
		Addr:              metricsConfig.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error shutting down metrics server", "error", err)
		}
	}()

	logger.Info("Metrics server listening", "addr", metricsConfig.Addr, "path", metricsConfig.Path)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errChan <- fmt.Errorf("metrics server failed: %w", err)
	}
}
