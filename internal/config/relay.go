package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type RelayConfig struct {
	Host     string `env:"MUMBLE_HOST, required"`
	Port     int    `env:"MUMBLE_PORT, default=64738"`
	Nickname string `env:"MUMBLE_NICKNAME, default=delay-relay"`
	Password string `env:"MUMBLE_PASSWORD"`

	SourceChannel string        `env:"RELAY_SOURCE_CHANNEL, required"`
	DestChannel   string        `env:"RELAY_DEST_CHANNEL, required"`
	Delay         time.Duration `env:"RELAY_DELAY, default=90s"`
	MimicName     string        `env:"RELAY_MIMIC_NAME, default=Mimic-{name}"`
	Ignore        []string      `env:"RELAY_IGNORE"`
	ReportCron    string        `env:"RELAY_REPORT_CRON"`

	LogLevel slog.Level `env:"LOG_LEVEL, default=info"`

	TLS TLSConfig
}

func NewRelayConfigFromEnv() (*RelayConfig, error) {
	return NewRelayConfig(context.Background(), nil)
}

// NewRelayConfig reads the relay configuration through lookuper, or the
// process environment when lookuper is nil.
func NewRelayConfig(ctx context.Context, lookuper envconfig.Lookuper) (*RelayConfig, error) {
	var cfg RelayConfig
	if err := process(ctx, &cfg, lookuper); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *RelayConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("MUMBLE_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.Delay < 0 {
		return fmt.Errorf("RELAY_DELAY must not be negative, got %s", c.Delay)
	}
	if !strings.Contains(c.MimicName, "{name}") {
		return fmt.Errorf("RELAY_MIMIC_NAME %q must contain {name}", c.MimicName)
	}
	return nil
}

// IgnoredNames returns the trimmed, non-empty entries of RELAY_IGNORE.
func (c *RelayConfig) IgnoredNames() []string {
	var names []string
	for _, name := range c.Ignore {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}
