package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/glizzus/delay-relay/internal/relay"
	"github.com/redis/go-redis/v9"
)

const (
	EventStream = "relay_events"
	EventGroup  = "relay_event_workers"
)

type EventHandler interface {
	HandleEvents(ctx context.Context, events ...relay.Event) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, events ...relay.Event) error

func (f EventHandlerFunc) HandleEvents(ctx context.Context, events ...relay.Event) error {
	return f(ctx, events...)
}

type PrintingEventHandler struct{}

func (h *PrintingEventHandler) HandleEvents(ctx context.Context, events ...relay.Event) error {
	for _, e := range events {
		slog.InfoContext(
			ctx,
			"Relay event",
			slog.String("kind", string(e.Kind)),
			slog.String("speaker", e.SpeakerName),
			slog.String("mimic", e.MimicName),
			slog.String("mimicID", e.MimicID),
			slog.String("at", e.At.Format("2006-01-02 15:04:05.000")),
			slog.String("detail", e.Detail),
		)
	}
	return nil
}

// EventToValues flattens e into stream entry fields.
func EventToValues(e relay.Event) map[string]any {
	return map[string]any{
		"id":             e.ID,
		"kind":           string(e.Kind),
		"mimicID":        e.MimicID,
		"speakerSession": strconv.FormatUint(uint64(e.SpeakerSession), 10),
		"speakerName":    e.SpeakerName,
		"mimicName":      e.MimicName,
		"mimicSession":   strconv.FormatUint(uint64(e.MimicSession), 10),
		"at":             e.At.UTC().Format(time.RFC3339Nano),
		"detail":         e.Detail,
	}
}

// EventFromValues reverses EventToValues. Missing optional fields are left
// zero; a missing id, kind or time is an error.
func EventFromValues(values map[string]any) (relay.Event, error) {
	get := func(key string) string {
		s, _ := values[key].(string)
		return s
	}

	var e relay.Event
	e.ID = get("id")
	e.Kind = relay.EventKind(get("kind"))
	if e.ID == "" || e.Kind == "" {
		return relay.Event{}, errors.New("event is missing its id or kind")
	}
	e.MimicID = get("mimicID")
	e.SpeakerName = get("speakerName")
	e.MimicName = get("mimicName")
	e.Detail = get("detail")

	at, err := time.Parse(time.RFC3339Nano, get("at"))
	if err != nil {
		return relay.Event{}, fmt.Errorf("invalid event time: %w", err)
	}
	e.At = at

	for key, dst := range map[string]*uint32{
		"speakerSession": &e.SpeakerSession,
		"mimicSession":   &e.MimicSession,
	} {
		raw := get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return relay.Event{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = uint32(n)
	}
	return e, nil
}

func createGroup(ctx context.Context, client *redis.Client) error {
	err := client.XGroupCreateMkStream(ctx, EventStream, EventGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// RedisEventHandler appends events to the relay event stream.
type RedisEventHandler struct {
	client *redis.Client
	maxLen int64
}

// NewRedisEventHandler makes sure the stream and its consumer group exist,
// so events published before any worker starts are kept.
func NewRedisEventHandler(ctx context.Context, client *redis.Client) (*RedisEventHandler, error) {
	if err := createGroup(ctx, client); err != nil {
		return nil, err
	}
	return &RedisEventHandler{client: client, maxLen: 100_000}, nil
}

func (h *RedisEventHandler) HandleEvents(ctx context.Context, events ...relay.Event) error {
	_, err := h.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range events {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: EventStream,
				MaxLen: h.maxLen,
				Approx: true,
				Values: EventToValues(e),
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish %d events: %w", len(events), err)
	}
	return nil
}

var (
	_ EventHandler = (*PrintingEventHandler)(nil)
	_ EventHandler = (*RedisEventHandler)(nil)
	_ EventHandler = EventHandlerFunc(nil)
)

// Delivery is an event read from the stream, to be acknowledged once
// handled.
type Delivery struct {
	StreamID string
	Event    relay.Event
}

type RedisEventReceiver struct {
	client   *redis.Client
	consumer string
	count    int64
	block    time.Duration
	// backlog is set until this consumer's unacknowledged entries from a
	// previous run have been read back.
	backlog bool
	log     *slog.Logger
}

func NewRedisEventReceiver(ctx context.Context, client *redis.Client, consumer string) (*RedisEventReceiver, error) {
	if err := createGroup(ctx, client); err != nil {
		return nil, err
	}
	return &RedisEventReceiver{
		client:   client,
		consumer: consumer,
		count:    100,
		block:    5 * time.Second,
		backlog:  true,
		log:      slog.With("component", "event-receiver", "consumer", consumer),
	}, nil
}

// ReceiveEvents blocks until events are available or the block timeout
// passes, in which case it returns no events and no error. Malformed entries
// are acknowledged and skipped.
func (r *RedisEventReceiver) ReceiveEvents(ctx context.Context) ([]Delivery, error) {
	start := ">"
	if r.backlog {
		start = "0"
	}

	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    EventGroup,
		Consumer: r.consumer,
		Streams:  []string{EventStream, start},
		Count:    r.count,
		Block:    r.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	var deliveries []Delivery
	var malformed []string
	for _, stream := range streams {
		if r.backlog && len(stream.Messages) == 0 {
			r.backlog = false
		}
		for _, msg := range stream.Messages {
			e, err := EventFromValues(msg.Values)
			if err != nil {
				r.log.Warn("skipping malformed event", "streamID", msg.ID, slog.Any("error", err))
				malformed = append(malformed, msg.ID)
				continue
			}
			deliveries = append(deliveries, Delivery{StreamID: msg.ID, Event: e})
		}
	}
	if len(malformed) > 0 {
		if err := r.Ack(ctx, malformed...); err != nil {
			return nil, err
		}
	}
	return deliveries, nil
}

// Rewind makes the next read start again from this consumer's
// unacknowledged events.
func (r *RedisEventReceiver) Rewind() {
	r.backlog = true
}

func (r *RedisEventReceiver) Ack(ctx context.Context, streamIDs ...string) error {
	if len(streamIDs) == 0 {
		return nil
	}
	if err := r.client.XAck(ctx, EventStream, EventGroup, streamIDs...).Err(); err != nil {
		return fmt.Errorf("failed to acknowledge %d events: %w", len(streamIDs), err)
	}
	return nil
}
