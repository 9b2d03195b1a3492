package config

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"github.com/sethvargo/go-envconfig"
)

type PostgresConfig struct {
	Host     string `env:"POSTGRES_HOST"`
	Port     string `env:"POSTGRES_PORT, default=5432"`
	Username string `env:"POSTGRES_USERNAME"`
	Password string `env:"POSTGRES_PASSWORD"`
	Database string `env:"POSTGRES_DATABASE, default=delay_relay"`
	SSLMode  string `env:"POSTGRES_SSLMODE, default=disable"`
}

func NewPostgresConfigFromEnv() (*PostgresConfig, error) {
	return NewPostgresConfig(context.Background(), nil)
}

func NewPostgresConfig(ctx context.Context, lookuper envconfig.Lookuper) (*PostgresConfig, error) {
	var cfg PostgresConfig
	if err := process(ctx, &cfg, lookuper); err != nil {
		return nil, err
	}
	if cfg.Enabled() && cfg.Username == "" {
		return nil, fmt.Errorf("POSTGRES_USERNAME is required when POSTGRES_HOST is set")
	}
	return &cfg, nil
}

func (c *PostgresConfig) Enabled() bool {
	return c.Host != ""
}

func (c *PostgresConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}
