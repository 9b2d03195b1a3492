// Package notify posts relay events to a Discord webhook.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/delay-relay/internal/config"
	"github.com/glizzus/delay-relay/internal/presenters"
	"github.com/glizzus/delay-relay/internal/relay"
)

// WebhookExecutor is the part of *discordgo.Session the notifier uses.
type WebhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ WebhookExecutor = (*discordgo.Session)(nil)

// WebhookError reports a message Discord refused.
type WebhookError struct {
	Events int
	Err    error
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("failed to post %d events to discord: %v", e.Events, e.Err)
}

func (e *WebhookError) Unwrap() error { return e.Err }

var _ error = (*WebhookError)(nil)

type DiscordNotifier struct {
	exec      WebhookExecutor
	webhookID string
	token     string
	username  string
	kinds     map[relay.EventKind]bool
	log       *slog.Logger
}

// NewDiscordNotifier posts to the webhook in cfg. Webhooks need no bot
// token, so the session is unauthenticated. With kinds set only those event
// kinds are posted.
func NewDiscordNotifier(cfg *config.DiscordConfig, kinds ...relay.EventKind) (*DiscordNotifier, error) {
	id, token, err := cfg.Webhook()
	if err != nil {
		return nil, err
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	return NewDiscordNotifierWithExecutor(session, id, token, cfg.Username, kinds...), nil
}

func NewDiscordNotifierWithExecutor(exec WebhookExecutor, webhookID, token, username string, kinds ...relay.EventKind) *DiscordNotifier {
	n := &DiscordNotifier{
		exec:      exec,
		webhookID: webhookID,
		token:     token,
		username:  username,
		log:       slog.With("component", "discord-notifier"),
	}
	if len(kinds) > 0 {
		n.kinds = make(map[relay.EventKind]bool, len(kinds))
		for _, k := range kinds {
			n.kinds[k] = true
		}
	}
	return n
}

func (n *DiscordNotifier) HandleEvents(ctx context.Context, events ...relay.Event) error {
	var selected []relay.Event
	for _, e := range events {
		if n.kinds == nil || n.kinds[e.Kind] {
			selected = append(selected, e)
		}
	}

	for _, params := range presenters.BuildEventWebhookParams(n.username, selected) {
		if _, err := n.exec.WebhookExecute(n.webhookID, n.token, false, params, discordgo.WithContext(ctx)); err != nil {
			return &WebhookError{Events: len(params.Embeds), Err: err}
		}
		n.log.Debug("posted events", "count", len(params.Embeds))
	}
	return nil
}
