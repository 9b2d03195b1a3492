// Package app assembles the listener, the orchestrator and the mimic
// connections on one loop.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/glizzus/delay-relay/internal/mumble"
	"github.com/glizzus/delay-relay/internal/relay"
	"github.com/glizzus/delay-relay/internal/schedule"
)

// DefaultShutdownGrace is how long the loop keeps running after the relay
// stops, so mimics can flush their goodbyes.
const DefaultShutdownGrace = 500 * time.Millisecond

type Options struct {
	// Server holds the connection settings shared by the listener and the
	// mimics. Nickname is the listener's.
	Server mumble.Settings
	Relay  relay.Config

	Events   relay.EventSink
	Ignore   relay.Ignorer
	Recorder relay.RecorderFactory

	ShutdownGrace time.Duration
}

type Relay struct {
	Loop         *schedule.Loop
	Listener     *mumble.Client
	Orchestrator *relay.Orchestrator

	grace time.Duration
}

func NewRelay(opts Options) (*Relay, error) {
	loop := schedule.NewLoop()

	dial := func(nickname string, hooks mumble.Hooks) relay.Conn {
		s := opts.Server
		s.Nickname = nickname
		s.AutoJoinChannel = opts.Relay.DestChannel
		return mumble.NewClient(loop, s, hooks)
	}

	orch, err := relay.New(loop, opts.Relay, dial, relay.Options{
		Events:   opts.Events,
		Ignore:   opts.Ignore,
		Recorder: opts.Recorder,
	})
	if err != nil {
		return nil, err
	}

	listenerSettings := opts.Server
	listenerSettings.AutoJoinChannel = opts.Relay.SourceChannel
	listener := mumble.NewClient(loop, listenerSettings, orch.ListenerHooks())
	orch.Attach(listener)

	grace := opts.ShutdownGrace
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	return &Relay{
		Loop:         loop,
		Listener:     listener,
		Orchestrator: orch,
		grace:        grace,
	}, nil
}

// Run connects the listener and runs the loop until the relay has stopped.
// Cancelling ctx disconnects the listener, which stops the relay. The
// returned error is the reason the listener went away, nil when ctx ended
// it.
func (r *Relay) Run(ctx context.Context) error {
	r.Loop.Post(r.Listener.Connect)

	go func() {
		select {
		case <-ctx.Done():
			slog.Info("Shutting down relay")
			r.Loop.Post(r.Listener.Disconnect)
		case <-r.Orchestrator.Done():
		}
		<-r.Orchestrator.Done()
		time.AfterFunc(r.grace, r.Loop.Stop)
	}()

	if err := r.Loop.Run(context.Background()); err != nil {
		return err
	}
	return r.Orchestrator.Err()
}

// Status returns the mimics' state, read on the loop. It returns nil if ctx
// ends first, as it does once the loop has stopped.
func (r *Relay) Status(ctx context.Context) []relay.MimicStatus {
	ch := make(chan []relay.MimicStatus, 1)
	r.Loop.Post(func() { ch <- r.Orchestrator.Status() })
	select {
	case status := <-ch:
		return status
	case <-ctx.Done():
		return nil
	}
}
