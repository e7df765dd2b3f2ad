package chaosproxy

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls where the proxy listens, where it forwards to, and how long
// it stays up or down between flips.
type Config struct {
	LocalPort  int           `env:"LOCAL_PROXY_PORT,required"`
	RemoteHost string        `env:"PROXY_ENDPOINT,required"`
	RemotePort int           `env:"PROXY_PORT,required"`
	MinUp      time.Duration `env:"CHAOS_MIN_UP"   envDefault:"20s"`
	MaxUp      time.Duration `env:"CHAOS_MAX_UP"   envDefault:"60s"`
	MinDown    time.Duration `env:"CHAOS_MIN_DOWN" envDefault:"5s"`
	MaxDown    time.Duration `env:"CHAOS_MAX_DOWN" envDefault:"30s"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse proxy config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.LocalPort < 0 || c.LocalPort > 65535 {
		return fmt.Errorf("invalid LOCAL_PROXY_PORT %d", c.LocalPort)
	}
	if c.RemotePort <= 0 || c.RemotePort > 65535 {
		return fmt.Errorf("invalid PROXY_PORT %d", c.RemotePort)
	}
	if c.RemoteHost == "" {
		return errors.New("PROXY_ENDPOINT is required")
	}
	if c.MinUp <= 0 || c.MaxUp < c.MinUp {
		return fmt.Errorf("invalid up window [%s, %s]", c.MinUp, c.MaxUp)
	}
	if c.MinDown <= 0 || c.MaxDown < c.MinDown {
		return fmt.Errorf("invalid down window [%s, %s]", c.MinDown, c.MaxDown)
	}
	return nil
}

func (c Config) ListenAddr() string {
	return ":" + strconv.Itoa(c.LocalPort)
}

func (c Config) UpstreamAddr() string {
	return net.JoinHostPort(c.RemoteHost, strconv.Itoa(c.RemotePort))
}
