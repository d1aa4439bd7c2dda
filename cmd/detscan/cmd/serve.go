package cmd

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

	"github.com/MeKo-Tech/detscan/internal/pipeline"
	"github.com/MeKo-Tech/detscan/internal/server"
	"github.com/MeKo-Tech/detscan/internal/version"
	"github.com/spf13/cobra"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP analysis API",
		Long: `Start an HTTP server that accepts image uploads and serves stored results.

The server provides the following endpoints:
  POST   /images/analyze       - Analyze an uploaded image (multipart field "image")
  GET    /images/{id}/result   - Retrieve a completed analysis
  GET    /images               - List completed analyses
  DELETE /images/{id}          - Delete an analysis and its files
  GET    /detections           - Search stored detections
  GET    /ws/runs              - Stream run events over WebSocket
  GET    /health               - Health check endpoint
  GET    /metrics              - Prometheus metrics

Examples:
  detscan serve
  detscan serve --port 8080
  detscan serve --host 0.0.0.0 --port 3000 --rate-limit-enabled`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), c)
		},
	}

	f := cmd.Flags()
	f.StringP("host", "H", "localhost", "server host")
	f.IntP("port", "p", 8000, "server port")
	f.String("cors-origin", "*", "CORS allowed origins")
	f.Int("max-upload-size", 20, "maximum upload size in MB")
	f.Int("timeout", 120, "request timeout in seconds")
	f.Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	f.String("backend", "onnx", "detector backend: onnx or http")
	f.String("model", "", "override detection model path")
	f.String("labels", "", "override class labels file")
	f.String("endpoint", "", "inference endpoint for the http backend")
	f.Float64("conf-threshold", 0.25, "minimum detection confidence (0..1)")
	f.StringSlice("languages", nil, "text recognition languages (e.g. eng,kor)")
	f.Bool("rate-limit-enabled", false, "enable rate limiting of uploads")
	f.Int("requests-per-minute", 60, "maximum uploads per minute per client")
	f.Int("requests-per-hour", 1000, "maximum uploads per hour per client")
	f.Bool("trace", false, "enable OpenTelemetry tracing")
	f.String("trace-exporter", "stdout", "trace exporter: stdout, otlp or none")
	return cmd
}

func runServe(ctx context.Context, c *cli) error {
	cfg := c.cfg
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", cfg.Server.Port)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	svc, err := newServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close(context.Background()) }()

	hub := server.NewHub()
	p, err := svc.pipeline(hub, pipeline.NewLogProgressCallback(slog.Default(), slog.LevelDebug))
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	apiServer, err := server.NewServer(server.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		CORSOrigin:  cfg.Server.CORSOrigin,
		MaxUploadMB: int64(cfg.Server.MaxUploadMB),
		TimeoutSec:  cfg.Server.TimeoutSec,
		MediaRoot:   svc.artifacts.MediaRoot(),
		Version:     version.Version,
		RateLimit: server.RateLimitConfig{
			Enabled:           cfg.Server.RateLimitEnabled,
			RequestsPerMinute: cfg.Server.RequestsPerMinute,
			RequestsPerHour:   cfg.Server.RequestsPerHour,
			MaxRequestsPerDay: cfg.Server.MaxRequestsPerDay,
			MaxDataPerDay:     cfg.Server.MaxDataPerDay,
		},
	}, server.Deps{
		Analyzer: p,
		Runs:     svc.repo,
		Files:    svc.artifacts,
		Hub:      hub,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	timeout := time.Duration(cfg.Server.TimeoutSec) * time.Second
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout,
	}

	go func() {
		slog.Info("Starting analysis server", "host", cfg.Server.Host, "port", cfg.Server.Port,
			"results_root", cfg.Artifacts.ResultsRoot, "backend", cfg.Detector.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("Context cancelled, initiating shutdown")
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Close(); err != nil {
		slog.Error("Server cleanup error", "error", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server shutdown completed")
	}

	slog.Info("Graceful shutdown completed")
	return nil
}
