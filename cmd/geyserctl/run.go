package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	geyserstream "github.com/geyserstream/geyserstream"
	"github.com/geyserstream/geyserstream/internal/logging"
	"github.com/geyserstream/geyserstream/internal/metricsserver"
)

const metricsShutdownTimeout = 5 * time.Second

// env bundles what every command needs once flags are parsed.
type env struct {
	cfg     Config
	log     *zap.SugaredLogger
	metrics *geyserstream.Metrics
}

// withEnv parses global flags, builds the logger and optional metrics server,
// and runs fn under a context cancelled on SIGINT or SIGTERM.
func withEnv(c *cli.Context, fn func(ctx context.Context, e env) error) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := logging.NewSugaredLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Infow("config",
		"endpoint", cfg.Endpoint,
		"insecure", cfg.Insecure,
		"commitment", cfg.Commitment.String(),
		"metricsAddr", cfg.MetricsAddr,
		"maxAttempts", cfg.MaxAttempts,
	)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := env{cfg: cfg, log: sugar}
	if cfg.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		e.metrics, err = geyserstream.NewMetrics(registry)
		if err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
		server := metricsserver.New(cfg.MetricsAddr, registry)
		errCh := server.Start()
		sugar.Infof("metrics server listening on http://%s/metrics", cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				sugar.Warnw("metrics server shutdown", "error", err)
			}
		}()
		go func() {
			for err := range errCh {
				sugar.Errorw("metrics server failed", "error", err)
			}
		}()
	}

	err = fn(ctx, e)
	if errors.Is(err, context.Canceled) {
		sugar.Info("exiting due to context cancellation")
		return nil
	}
	if err != nil {
		sugar.Errorw("command failed", "error", err)
		return err
	}
	return nil
}

// withUnary runs op on a fresh connection, retrying with exponential backoff
// until it succeeds or --max-attempts is reached.
func withUnary(c *cli.Context, op func(ctx context.Context, u *geyserstream.Unary, e env) error) error {
	return withEnv(c, func(ctx context.Context, e env) error {
		transport := geyserstream.NewGRPCTransport(e.cfg.ClientConfig())
		defer transport.Close() //nolint:errcheck // best-effort shutdown

		u := geyserstream.NewUnary(transport)
		return geyserstream.Retry(ctx, geyserstream.DefaultBackoffConfig(), e.cfg.MaxAttempts, e.log,
			func(ctx context.Context) error {
				return op(ctx, u, e)
			})
	})
}

// subscription describes one streaming command.
type subscription struct {
	filter func(e env) (*geyserstream.FilterSpec, error)
	// configure adjusts the client config for the built filter, e.g. to enable price decoding.
	configure func(cfg *geyserstream.Config, filter *geyserstream.FilterSpec) error
	// wrap adapts the logging sink, e.g. to correlate statuses with block times.
	wrap func(cfg geyserstream.Config, next geyserstream.Sink) geyserstream.Sink
}

func runSubscription(c *cli.Context, sub subscription) error {
	return withEnv(c, func(ctx context.Context, e env) error {
		filter, err := sub.filter(e)
		if err != nil {
			return err
		}

		cfg := e.cfg.ClientConfig()
		if sub.configure != nil {
			if err := sub.configure(&cfg, filter); err != nil {
				return err
			}
		}

		var sink geyserstream.Sink = logSink{log: e.log}
		if sub.wrap != nil {
			sink = sub.wrap(cfg, sink)
		}

		client := geyserstream.NewClient(cfg,
			geyserstream.WithLogger(e.log),
			geyserstream.WithMetrics(e.metrics),
		)
		defer client.Close()

		errCh := make(chan error, 1)
		err = client.SubscribeWithContext(ctx, filter, sink, func(err error) {
			errCh <- err
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe: %w", err)
		}
		e.log.Infow("subscribed", "commitment", filter.Commitment().String())

		<-client.Done()
		e.log.Infow("subscription stopped", "dropped", client.Dropped())
		select {
		case err := <-errCh:
			return err
		default:
			return ctx.Err()
		}
	})
}
