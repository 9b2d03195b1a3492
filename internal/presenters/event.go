package presenters

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/delay-relay/internal/relay"
)

// MaxEmbedsPerMessage is Discord's limit on embeds in one message.
const MaxEmbedsPerMessage = 10

const timeLayout = "2006-01-02 15:04:05"

var eventColors = map[relay.EventKind]int{
	relay.EventTracked:      0x5865f2,
	relay.EventConnected:    0x57f287,
	relay.EventResumed:      0x57f287,
	relay.EventDraining:     0xfee75c,
	relay.EventReconnecting: 0xed4245,
	relay.EventDisconnected: 0x99aab5,
	relay.EventReport:       0x99aab5,
	relay.EventRecorded:     0xeb459e,
}

func EventTitle(e relay.Event) string {
	switch e.Kind {
	case relay.EventTracked:
		return fmt.Sprintf("Now mimicking %s as %s", e.SpeakerName, e.MimicName)
	case relay.EventConnected:
		return fmt.Sprintf("%s joined", e.MimicName)
	case relay.EventDraining:
		return fmt.Sprintf("%s left, %s is catching up", e.SpeakerName, e.MimicName)
	case relay.EventResumed:
		return fmt.Sprintf("%s is back", e.SpeakerName)
	case relay.EventDisconnected:
		return fmt.Sprintf("%s left", e.MimicName)
	case relay.EventReconnecting:
		return fmt.Sprintf("%s dropped, reconnecting", e.MimicName)
	case relay.EventReport:
		return "Relay status"
	case relay.EventRecorded:
		return fmt.Sprintf("Recorded %s", e.SpeakerName)
	}
	return string(e.Kind)
}

func EventEmbed(e relay.Event) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       EventTitle(e),
		Description: e.Detail,
		Color:       eventColors[e.Kind],
		Timestamp:   e.At.UTC().Format(time.RFC3339),
	}
	if e.SpeakerName != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Speaker",
			Value:  e.SpeakerName,
			Inline: true,
		})
	}
	if e.MimicName != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Mimic",
			Value:  e.MimicName,
			Inline: true,
		})
	}
	return embed
}

// BuildEventWebhookParams splits events into as few webhook messages as
// Discord allows. Mentions are never parsed.
func BuildEventWebhookParams(username string, events []relay.Event) []*discordgo.WebhookParams {
	var out []*discordgo.WebhookParams
	for start := 0; start < len(events); start += MaxEmbedsPerMessage {
		end := min(start+MaxEmbedsPerMessage, len(events))
		params := &discordgo.WebhookParams{
			Username:        username,
			AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
		}
		for _, e := range events[start:end] {
			params.Embeds = append(params.Embeds, EventEmbed(e))
		}
		out = append(out, params)
	}
	return out
}

// EventLine is a one-line rendering for terminals.
func EventLine(e relay.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-12s", e.At.UTC().Format(timeLayout), e.Kind)
	switch {
	case e.SpeakerName != "" && e.MimicName != "":
		fmt.Fprintf(&b, "  %s -> %s", e.SpeakerName, e.MimicName)
	case e.SpeakerName != "":
		fmt.Fprintf(&b, "  %s", e.SpeakerName)
	}
	if e.MimicSession != 0 {
		fmt.Fprintf(&b, " (session %d)", e.MimicSession)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, "  %s", e.Detail)
	}
	return b.String()
}

// StatusLines renders one line per tracked mimic.
func StatusLines(status []relay.MimicStatus) []string {
	if len(status) == 0 {
		return []string{"no speakers tracked"}
	}
	lines := make([]string, 0, len(status))
	for _, s := range status {
		line := fmt.Sprintf("%s -> %s  %s  queued=%d sent=%d",
			s.SpeakerName, s.Name, s.State, s.Queued, s.Sent)
		if s.Attempt > 0 {
			line += fmt.Sprintf(" attempt=%d", s.Attempt)
		}
		lines = append(lines, line)
	}
	return lines
}
