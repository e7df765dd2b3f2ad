// Command chaosproxy forwards TCP traffic to a geyser endpoint and randomly
// drops every connection, to exercise client reconnects.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/geyserstream/geyserstream/internal/chaosproxy"
	"github.com/geyserstream/geyserstream/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional
	_ = godotenv.Load()

	sugar, err := logging.NewSugaredLogger(os.Getenv("CHAOS_VERBOSE") != "")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	cfg, err := chaosproxy.LoadConfig()
	if err != nil {
		return err
	}
	sugar.Infow("config",
		"listen", cfg.ListenAddr(),
		"upstream", cfg.UpstreamAddr(),
		"minUp", cfg.MinUp,
		"maxUp", cfg.MaxUp,
		"minDown", cfg.MinDown,
		"maxDown", cfg.MaxDown,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = chaosproxy.New(cfg, sugar).ListenAndServe(ctx)
	if errors.Is(err, context.Canceled) {
		sugar.Info("shutting down")
		return nil
	}
	return err
}
