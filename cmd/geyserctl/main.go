// Command geyserctl queries and streams from a Yellowstone geyser gRPC endpoint.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"google.golang.org/grpc/health/grpc_health_v1"

	geyserstream "github.com/geyserstream/geyserstream"
)

// Raydium CLMM pools keep sqrt_price_x64 at this offset of the pool account.
const defaultPriceOffset = 253

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "geyserctl",
		Usage:   "Command line tool for Yellowstone geyser gRPC",
		Version: geyserstream.SDKVersion,
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			{
				Name:   "version",
				Usage:  "Print the server version",
				Action: getVersion,
			},
			{
				Name:   "health-check",
				Usage:  "Query the gRPC health service once",
				Action: healthCheck,
			},
			{
				Name:   "health-watch",
				Usage:  "Stream gRPC health status changes",
				Action: healthWatch,
			},
			{
				Name:  "ping",
				Usage: "Send a unary ping",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "count", Usage: "Value echoed by the server"},
				},
				Action: ping,
			},
			{
				Name:   "latest-blockhash",
				Usage:  "Get the latest blockhash",
				Action: latestBlockhash,
			},
			{
				Name:   "slot",
				Usage:  "Get the current slot",
				Action: getSlot,
			},
			{
				Name:   "block-height",
				Usage:  "Get the current block height",
				Action: blockHeight,
			},
			{
				Name:  "is-blockhash-valid",
				Usage: "Check whether a blockhash is still valid",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "blockhash", Aliases: []string{"b"}, Required: true},
				},
				Action: isBlockhashValid,
			},
			{
				Name:   "subscribe-tx",
				Usage:  "Stream transactions touching the given accounts",
				Flags:  []cli.Flag{accountFlag(true)},
				Action: subscribeTx,
			},
			{
				Name:   "subscribe-account",
				Usage:  "Stream writes to the given accounts",
				Flags:  []cli.Flag{accountFlag(true)},
				Action: subscribeAccount,
			},
			{
				Name:  "subscribe-token-price",
				Usage: "Stream the price of a concentrated-liquidity pool",
				Flags: []cli.Flag{
					accountFlag(true),
					&cli.Uint64Flag{
						Name:  "offset",
						Usage: "Offset of the Q64.64 sqrt price in the pool account",
						Value: defaultPriceOffset,
					},
				},
				Action: subscribeTokenPrice,
			},
			{
				Name:   "tx-blocktime",
				Usage:  "Print the block time of every matching transaction",
				Flags: append(txFilterFlags(), &cli.Uint64Flag{
					Name:    "depth",
					Usage:   "Slots a transaction status waits for its block time",
					Value:   geyserstream.DefaultCorrelationDepth,
					EnvVars: []string{"CORRELATION_DEPTH"},
				}),
				Action: txBlocktime,
			},
			{
				Name:  "subscribe-ping",
				Usage: "Stream slots while sending client pings",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "interval", Usage: "Client ping interval", Value: 3 * time.Second},
				},
				Action: subscribePing,
			},
		},
	}
}

func getVersion(c *cli.Context) error {
	return withUnary(c, func(ctx context.Context, u *geyserstream.Unary, e env) error {
		version, err := u.GetVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Version response: %s\n", prettyJSON(version))
		return nil
	})
}

func healthCheck(c *cli.Context) error {
	return withUnary(c, func(ctx context.Context, u *geyserstream.Unary, e env) error {
		status, err := u.HealthCheck(ctx)
		if err != nil {
			return err
		}
		e.log.Infow("health check response", "status", status.String())
		return nil
	})
}

func healthWatch(c *cli.Context) error {
	return withUnary(c, func(ctx context.Context, u *geyserstream.Unary, e env) error {
		e.log.Info("health_watch stream started")
		err := u.HealthWatch(ctx, func(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
			e.log.Infow("health message", "status", status.String())
		})
		if err == nil {
			e.log.Info("health_watch stream ended")
		}
		return err
	})
}

func ping(c *cli.Context) error {
	count := int32(c.Int("count"))
	return withUnary(c, func(ctx context.Context, u *geyserstream.Unary, e env) error {
		got, err := u.Ping(ctx, count)
		if err != nil {
			return err
		}
		e.log.Infow("ping response", "count", got)
		return nil
	})
}

func latestBlockhash(c *cli.Context) error {
	return withUnary(c, func(ctx context.Context, u *geyserstream.Unary, e env) error {
		resp, err := u.GetLatestBlockhash(ctx, e.cfg.Commitment)
		if err != nil {
			return err
		}
		e.log.Infow("latest blockhash",
			"slot", resp.Slot,
			"blockhash", resp.Blockhash,
			"lastValidBlockHeight", resp.LastValidBlockHeight,
		)
		return nil
	})
}

func getSlot(c *cli.Context) error {
	return withUnary(c, func(ctx context.Context, u *geyserstream.Unary, e env) error {
		slot, err := u.GetSlot(ctx, e.cfg.Commitment)
		if err != nil {
			return err
		}
		e.log.Infow("slot", "slot", slot)
		return nil
	})
}

func blockHeight(c *cli.Context) error {
	return withUnary(c, func(ctx context.Context, u *geyserstream.Unary, e env) error {
		height, err := u.GetBlockHeight(ctx, e.cfg.Commitment)
		if err != nil {
			return err
		}
		e.log.Infow("block height", "blockHeight", height)
		return nil
	})
}

func isBlockhashValid(c *cli.Context) error {
	blockhash := c.String("blockhash")
	return withUnary(c, func(ctx context.Context, u *geyserstream.Unary, e env) error {
		resp, err := u.IsBlockhashValid(ctx, blockhash, e.cfg.Commitment)
		if err != nil {
			return err
		}
		e.log.Infow("is blockhash valid", "blockhash", blockhash, "slot", resp.Slot, "valid", resp.Valid)
		return nil
	})
}

func subscribeTx(c *cli.Context) error {
	accounts := c.StringSlice("account")
	return runSubscription(c, subscription{
		filter: func(e env) (*geyserstream.FilterSpec, error) {
			return txFilter(accounts, e.cfg.Commitment)
		},
	})
}

func subscribeAccount(c *cli.Context) error {
	accounts := c.StringSlice("account")
	return runSubscription(c, subscription{
		filter: func(e env) (*geyserstream.FilterSpec, error) {
			return accountFilter(accounts, e.cfg.Commitment)
		},
	})
}

func subscribeTokenPrice(c *cli.Context) error {
	accounts := c.StringSlice("account")
	offset := c.Uint64("offset")
	return runSubscription(c, subscription{
		filter: func(e env) (*geyserstream.FilterSpec, error) {
			return tokenPriceFilter(accounts, offset, e.cfg.Commitment)
		},
		configure: configurePrice(offset),
	})
}

// configurePrice points the decoder at the sqrt price inside the received
// data, which only holds the requested slice.
func configurePrice(offset uint64) func(*geyserstream.Config, *geyserstream.FilterSpec) error {
	return func(cfg *geyserstream.Config, filter *geyserstream.FilterSpec) error {
		pos, ok := filter.ReceivedOffset(offset, priceSliceLen)
		if !ok {
			return fmt.Errorf("filter does not request the %d bytes at offset %d", priceSliceLen, offset)
		}
		cfg.PriceOffset = &pos
		return nil
	}
}

func txBlocktime(c *cli.Context) error {
	opts, err := parseTxFilterOptions(c)
	if err != nil {
		return err
	}
	depth := c.Uint64("depth")
	if depth == 0 {
		return errors.New("depth must be > 0")
	}
	return runSubscription(c, subscription{
		filter: func(e env) (*geyserstream.FilterSpec, error) {
			return txBlocktimeFilter(opts, e.cfg.Commitment)
		},
		configure: func(cfg *geyserstream.Config, _ *geyserstream.FilterSpec) error {
			cfg.CorrelationDepth = depth
			return nil
		},
		wrap: correlatingSink,
	})
}

func correlatingSink(cfg geyserstream.Config, next geyserstream.Sink) geyserstream.Sink {
	return geyserstream.NewCorrelatingSink(cfg.NewCorrelationBuffer(), next)
}

func subscribePing(c *cli.Context) error {
	interval := c.Duration("interval")
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", interval)
	}
	return runSubscription(c, subscription{
		filter: func(e env) (*geyserstream.FilterSpec, error) {
			return slotFilter(e.cfg.Commitment)
		},
		configure: func(cfg *geyserstream.Config, _ *geyserstream.FilterSpec) error {
			cfg.PingInterval = interval
			return nil
		},
	})
}

// prettyJSON indents s when it is a JSON document and returns it unchanged otherwise.
func prettyJSON(s string) string {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return s
	}
	return string(out)
}
