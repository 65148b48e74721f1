/*
main.go - Application entry point

PURPOSE:
  Command line for the market engine: the HTTP server and one-shot
  maintenance commands. All commands share one wiring (app.go).

COMMANDS:
  serve            HTTP API plus the trigger poller
  triggers drain   Process every due markets-created trigger and exit

CONFIGURATION:
  --config path    YAML file (else $MARKET_CONFIG)
  MARKET_*         Environment overrides, see config/config.go

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the trigger poller
  2. Stop accepting new connections
  3. Wait for active requests (shutdown_timeout)
  4. Close both stores

EXAMPLES:
  market-engine serve --config ./market.yaml
  MARKET_RELATIONAL_DRIVER=postgres MARKET_RELATIONAL_DSN=postgres://... market-engine serve
  market-engine triggers drain

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Keys and defaults
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/market-engine/api"
	"github.com/warp/market-engine/config"
)

var (
	configPath string

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "market-engine",
	Short:         "Prediction market balance, quest and report service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if logger, err = cfg.NewLogger(); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the trigger poller",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

var triggersCmd = &cobra.Command{
	Use:   "triggers",
	Short: "Markets-created trigger queue",
}

var triggersDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Process queued triggers until none are left",
	Args:  cobra.NoArgs,
	RunE:  drainTriggers,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default $"+config.EnvFile+")")
	triggersCmd.AddCommand(triggersDrainCmd)
	rootCmd.AddCommand(serveCmd, triggersCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	router := api.NewRouter(a.handler(), api.RouterOptions{
		AllowedOrigins: cfg.CORSOrigins,
		Metrics:        a.metrics,
		Logger:         logger,
	})
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	poller := a.poller()
	poller.Start()
	defer poller.Stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	poller.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func drainTriggers(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	total, err := a.poller().Drain(ctx)
	if err != nil {
		return err
	}
	logger.Info("triggers drained", zap.Int("processed", total))
	fmt.Fprintf(cmd.OutOrStdout(), "processed %d triggers\n", total)
	return nil
}
