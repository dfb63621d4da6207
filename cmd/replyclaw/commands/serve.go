package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/api"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/responder"
)

// newServeCmd creates the `replyclaw serve` command that starts the
// auto-responder daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the auto-responder daemon",
		Long: `Start ReplyClaw as a daemon: launches the browser, validates or
restores the WhatsApp Web session and runs the monitoring loop.

Examples:
  replyclaw serve
  replyclaw serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger := buildLogger(cmd, cfg.Logging)
	if configPath != "" {
		logger.Info("configuration loaded", "path", configPath)
	} else {
		logger.Info("no config file found, using defaults")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := responder.New(cfg, logger)
	if err := svc.Start(ctx); err != nil {
		return err
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.New(cfg.API, svc, logger)
		apiServer.Start()
	}

	logger.Info("ReplyClaw running. Press Ctrl+C to stop.",
		"interval", cfg.Monitor.Interval,
		"api", cfg.API.Address)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")
	cancel()

	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = apiServer.Stop(shutdownCtx)
		shutdownCancel()
	}
	svc.Stop()
	return nil
}

// buildLogger configures slog per the logging config, with --verbose
// forcing debug level.
func buildLogger(cmd *cobra.Command, cfg responder.LoggingConfig) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
