package main

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	geyserstream "github.com/geyserstream/geyserstream"
)

// Config holds the global settings of one geyserctl invocation.
type Config struct {
	Verbose     bool
	Endpoint    string
	XToken      string
	Insecure    bool
	Commitment  geyserstream.CommitmentLevel
	MetricsAddr string
	MaxAttempts int
}

func buildConfig(c *cli.Context) (Config, error) {
	commitment, err := geyserstream.ParseCommitment(c.String("commitment"))
	if err != nil {
		return Config{}, err
	}
	if c.Int("max-attempts") < 0 {
		return Config{}, fmt.Errorf("max-attempts must be >= 0, got %d", c.Int("max-attempts"))
	}
	return Config{
		Verbose:     c.Bool("verbose"),
		Endpoint:    c.String("endpoint"),
		XToken:      c.String("x-token"),
		Insecure:    c.Bool("insecure"),
		Commitment:  commitment,
		MetricsAddr: c.String("metrics-addr"),
		MaxAttempts: c.Int("max-attempts"),
	}, nil
}

// ClientConfig converts the CLI settings into library settings.
func (c Config) ClientConfig() geyserstream.Config {
	cfg := geyserstream.NewConfig(c.Endpoint, c.XToken)
	cfg.Insecure = c.Insecure
	cfg.MaxReconnectAttempts = c.MaxAttempts
	return cfg
}

// txFilterOptions are the transaction filter flags shared by subscribe-tx and tx-blocktime.
type txFilterOptions struct {
	Include   []string
	Exclude   []string
	Required  []string
	Vote      *bool
	Failed    *bool
	Signature string
}

func parseTxFilterOptions(c *cli.Context) (txFilterOptions, error) {
	vote, err := optionalBool(c.String("vote"))
	if err != nil {
		return txFilterOptions{}, fmt.Errorf("invalid --vote: %w", err)
	}
	failed, err := optionalBool(c.String("failed"))
	if err != nil {
		return txFilterOptions{}, fmt.Errorf("invalid --failed: %w", err)
	}
	return txFilterOptions{
		Include:   c.StringSlice("account-include"),
		Exclude:   c.StringSlice("account-exclude"),
		Required:  c.StringSlice("account-required"),
		Vote:      vote,
		Failed:    failed,
		Signature: c.String("signature"),
	}, nil
}

func (o txFilterOptions) apply(b *geyserstream.FilterBuilder) *geyserstream.FilterBuilder {
	b = b.AccountInclude(o.Include...).
		AccountExclude(o.Exclude...).
		AccountRequired(o.Required...)
	if o.Vote != nil {
		b = b.Vote(*o.Vote)
	}
	if o.Failed != nil {
		b = b.Failed(*o.Failed)
	}
	if o.Signature != "" {
		b = b.Signature(o.Signature)
	}
	return b
}

func optionalBool(s string) (*bool, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
