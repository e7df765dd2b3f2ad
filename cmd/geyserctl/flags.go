package main

import (
	"github.com/urfave/cli/v2"
)

// globalFlags are shared by every command.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "endpoint",
			Aliases:  []string{"e"},
			Usage:    "Geyser gRPC endpoint, e.g. https://host:443",
			EnvVars:  []string{"GRPC_ENDPOINT"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "x-token",
			Usage:   "Access token sent as x-token metadata",
			EnvVars: []string{"GRPC_X_TOKEN"},
		},
		&cli.BoolFlag{
			Name:    "insecure",
			Usage:   "Use plaintext instead of TLS",
			EnvVars: []string{"GRPC_INSECURE"},
		},
		&cli.StringFlag{
			Name:    "commitment",
			Aliases: []string{"c"},
			Usage:   "Commitment level: processed, confirmed or finalized",
			EnvVars: []string{"GRPC_COMMITMENT"},
			Value:   "processed",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "Serve Prometheus metrics on this address (disabled when empty)",
			EnvVars: []string{"METRICS_ADDR"},
		},
		&cli.IntFlag{
			Name:    "max-attempts",
			Usage:   "Give up after this many consecutive failed attempts (0 retries forever)",
			EnvVars: []string{"MAX_ATTEMPTS"},
		},
	}
}

func accountFlag(required bool) *cli.StringSliceFlag {
	return &cli.StringSliceFlag{
		Name:     "account",
		Aliases:  []string{"a"},
		Usage:    "Account address (base58), repeatable",
		Required: required,
	}
}

func txFilterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "account-include",
			Usage: "Transactions touching any of these accounts",
		},
		&cli.StringSliceFlag{
			Name:  "account-exclude",
			Usage: "Skip transactions touching any of these accounts",
		},
		&cli.StringSliceFlag{
			Name:  "account-required",
			Usage: "Transactions touching all of these accounts",
		},
		&cli.StringFlag{
			Name:  "vote",
			Usage: "Filter vote transactions (true or false)",
		},
		&cli.StringFlag{
			Name:  "failed",
			Usage: "Filter failed transactions (true or false)",
		},
		&cli.StringFlag{
			Name:  "signature",
			Usage: "Only the transaction with this signature",
		},
	}
}
