package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

type DiscordConfig struct {
	// WebhookURL looks like https://discord.com/api/webhooks/<id>/<token>.
	WebhookURL string `env:"DISCORD_WEBHOOK_URL"`
	Username   string `env:"DISCORD_USERNAME, default=delay-relay"`
}

func NewDiscordConfigFromEnv() (*DiscordConfig, error) {
	return NewDiscordConfig(context.Background(), nil)
}

func NewDiscordConfig(ctx context.Context, lookuper envconfig.Lookuper) (*DiscordConfig, error) {
	var cfg DiscordConfig
	if err := process(ctx, &cfg, lookuper); err != nil {
		return nil, err
	}
	if cfg.Enabled() {
		if _, _, err := cfg.Webhook(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func (c *DiscordConfig) Enabled() bool {
	return c.WebhookURL != ""
}

// Webhook splits WebhookURL into its id and token.
func (c *DiscordConfig) Webhook() (id, token string, err error) {
	_, rest, ok := strings.Cut(c.WebhookURL, "/webhooks/")
	if !ok {
		return "", "", fmt.Errorf("DISCORD_WEBHOOK_URL is not a webhook url")
	}
	id, token, ok = strings.Cut(strings.TrimSuffix(rest, "/"), "/")
	if !ok || id == "" || token == "" || strings.Contains(token, "/") {
		return "", "", fmt.Errorf("DISCORD_WEBHOOK_URL is missing the webhook id or token")
	}
	return id, token, nil
}
