// Transitd is the traffic-law assistant daemon.
//
// It serves the assistant over HTTP (turns, classification, sessions,
// learned patterns, health and Prometheus metrics) or, with the mcp
// subcommand, as MCP tools over stdio.
//
// Configuration comes from compiled defaults, an optional YAML file and
// TRANSITD_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the HTTP daemon with defaults
//	transitd
//
//	# Use a config file and a redis session backend
//	TRANSITD_SESSION_BACKEND=redis transitd --config /etc/transitd/config.yaml
//
//	# Serve MCP over stdio
//	transitd mcp
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/transitd/internal/config"
	"github.com/fyrsmithlabs/transitd/internal/httpapi"
	"github.com/fyrsmithlabs/transitd/internal/logging"
	"github.com/fyrsmithlabs/transitd/internal/metrics"
	"github.com/fyrsmithlabs/transitd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "transitd",
		Short: "Colombian traffic-law assistant daemon",
		Long: `transitd classifies citizen questions about Colombian traffic law, keeps
per-conversation context, retrieves answers from the knowledge catalogue and
learns from user feedback.

Without a subcommand it serves the HTTP API.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithSignals(cmd.Context(), serveHTTP)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.AddCommand(newMCPCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "transitd by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}

// runWithSignals cancels the context passed to fn on SIGINT or SIGTERM.
func runWithSignals(parent context.Context, fn func(context.Context) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return fn(ctx)
}

// base bundles what both serving modes need before building the app.
type base struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	metrics   *metrics.Metrics
}

// bootstrap loads configuration, then builds the logger and telemetry.
// stderrLogs keeps stdout free for a stdio protocol.
func bootstrap(ctx context.Context, stderrLogs bool) (*base, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logCfg.Output.Stderr = stderrLogs
	logCfg.Output.OTEL = cfg.Observability.EnableTelemetry

	// Telemetry comes first so the logger can bridge into its log provider.
	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if tel.Degraded() {
		logger.Warn(ctx, "telemetry degraded, continuing without export")
	}

	return &base{cfg: cfg, logger: logger, telemetry: tel, metrics: metrics.New()}, nil
}

func (rt *base) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := rt.telemetry.Shutdown(ctx); err != nil {
		rt.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = rt.logger.Sync() // Best-effort sync on shutdown
}

// serveHTTP runs the HTTP daemon until ctx is cancelled.
func serveHTTP(ctx context.Context) error {
	rt, err := bootstrap(ctx, false)
	if err != nil {
		return err
	}
	defer rt.shutdown()
	logger := rt.logger.Underlying()

	logger.Info("Starting transitd",
		zap.String("version", version),
		zap.String("host", rt.cfg.Server.Host),
		zap.Int("port", rt.cfg.Server.Port),
		zap.Duration("shutdown_timeout", rt.cfg.Server.ShutdownTimeout.Duration()))

	a, err := newApp(ctx, rt.cfg, logger, rt.metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer a.Close()

	opts := append(a.healthOptions(), httpapi.WithVersion(version))
	srv, err := httpapi.NewServer(a.engine, logger, rt.cfg.Server, opts...)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("Server shutdown complete")
	return nil
}
