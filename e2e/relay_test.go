package e2e_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glizzus/delay-relay/e2e"
	"github.com/glizzus/delay-relay/internal/app"
	"github.com/glizzus/delay-relay/internal/mumble/mumbletest"
	"github.com/glizzus/delay-relay/internal/relay"
	"github.com/glizzus/delay-relay/internal/repository"
	"github.com/glizzus/delay-relay/internal/voice"
	"github.com/glizzus/delay-relay/internal/worker"
	"github.com/google/go-cmp/cmp"
)

const (
	delay       = 300 * time.Millisecond
	waitTimeout = 5 * time.Second
)

type eventLog struct {
	mu     sync.Mutex
	events []relay.Event
}

func (l *eventLog) Publish(e relay.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) kinds(speaker string) []relay.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []relay.EventKind
	for _, e := range l.events {
		if e.SpeakerName == speaker {
			out = append(out, e.Kind)
		}
	}
	return out
}

type relayRun struct {
	relay  *app.Relay
	cancel context.CancelFunc
	done   chan error
}

func startRelay(t *testing.T, srv *mumbletest.Server, events relay.EventSink, ignore relay.Ignorer) *relayRun {
	t.Helper()
	r, err := app.NewRelay(app.Options{
		Server: srv.Settings("relay"),
		Relay: relay.Config{
			SourceChannel: "Live",
			DestChannel:   "Delayed",
			Delay:         delay,
			MimicName:     "Mimic-{name}",
			StartDelay:    20 * time.Millisecond,
		},
		Events:        events,
		Ignore:        ignore,
		ShutdownGrace: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewRelay() error = %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	run := &relayRun{relay: r, cancel: cancel, done: make(chan error, 1)}
	go func() { run.done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-run.done:
		case <-time.After(waitTimeout):
			t.Error("relay did not stop")
		}
	})
	return run
}

func (r *relayRun) stop(t *testing.T) error {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.done:
		r.done <- err
		return err
	case <-time.After(waitTimeout):
		t.Fatal("relay did not stop")
		return nil
	}
}

func inChannel(srv *mumbletest.Server, name, channel string) func() bool {
	return func() bool {
		u, ok := srv.UserByName(name)
		return ok && u.ChannelID == srv.ChannelID(channel)
	}
}

func gone(srv *mumbletest.Server, name string) func() bool {
	return func() bool {
		_, ok := srv.UserByName(name)
		return !ok
	}
}

func audioFrom(srv *mumbletest.Server, name string) []mumbletest.Audio {
	var out []mumbletest.Audio
	for _, a := range srv.Audio() {
		if a.Name == name {
			out = append(out, a)
		}
	}
	return out
}

// celt builds the data of a CELT packet: sequence and one final frame.
func celt(seq int64, frame string) []byte {
	data := voice.AppendVarint(nil, seq)
	data = append(data, byte(len(frame)+127))
	return append(data, frame...)
}

func TestRelayMimicsSpeakerWithDelay(t *testing.T) {
	srv := mumbletest.NewServer(t, "Live", "Delayed")
	alice := srv.AddUser("Alice", "Live")
	events := &eventLog{}
	run := startRelay(t, srv, events, nil)

	mumbletest.Eventually(t, waitTimeout, inChannel(srv, "relay", "Live"), "listener joins Live")
	mumbletest.Eventually(t, waitTimeout, inChannel(srv, "Mimic-Alice", "Delayed"), "mimic joins Delayed")

	var spoke []time.Time
	var sent [][]byte
	for seq := range 3 {
		data := celt(int64(seq), "frame")
		spoke = append(spoke, time.Now())
		srv.Speak(alice, 0x00, data)
		sent = append(sent, append([]byte{0x00}, data...))
		time.Sleep(20 * time.Millisecond)
	}

	mumbletest.Eventually(t, waitTimeout, func() bool {
		return len(audioFrom(srv, "Mimic-Alice")) == len(sent)
	}, "mimic re-emits every packet")

	for i, a := range audioFrom(srv, "Mimic-Alice") {
		if !bytes.Equal(a.Packet, sent[i]) {
			t.Errorf("packet %d = %x, want %x", i, a.Packet, sent[i])
		}
		if lag := a.At.Sub(spoke[i]); lag < delay {
			t.Errorf("packet %d re-emitted after %s, want at least %s", i, lag, delay)
		}
		if a.ChannelID != srv.ChannelID("Delayed") {
			t.Errorf("packet %d sent from channel %d, want Delayed", i, a.ChannelID)
		}
	}
	if got := audioFrom(srv, "relay"); len(got) != 0 {
		t.Errorf("listener sent %d packets, want none", len(got))
	}

	srv.MoveUser(alice, "Root")
	mumbletest.Eventually(t, waitTimeout, gone(srv, "Mimic-Alice"), "mimic leaves after draining")

	if err := run.stop(t); err != nil {
		t.Errorf("Run() error = %v", err)
	}
	mumbletest.Eventually(t, waitTimeout, gone(srv, "relay"), "listener disconnects")

	want := []relay.EventKind{relay.EventTracked, relay.EventConnected, relay.EventDraining, relay.EventDisconnected}
	if diff := cmp.Diff(want, events.kinds("Alice")); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestRelayReconnectsDroppedMimic(t *testing.T) {
	srv := mumbletest.NewServer(t, "Live", "Delayed")
	srv.AddUser("Bob", "Live")
	events := &eventLog{}
	startRelay(t, srv, events, nil)

	mumbletest.Eventually(t, waitTimeout, inChannel(srv, "Mimic-Bob", "Delayed"), "mimic joins Delayed")
	first, _ := srv.UserByName("Mimic-Bob")
	srv.Drop(first.Session)

	// The replacement may get a suffix if the listener still sees the old
	// session when it picks the name.
	mumbletest.Eventually(t, waitTimeout, func() bool {
		for _, u := range srv.Users() {
			if strings.HasPrefix(u.Name, "Mimic-Bob") && u.Session != first.Session &&
				u.ChannelID == srv.ChannelID("Delayed") {
				return true
			}
		}
		return false
	}, "replacement mimic joins Delayed")

	want := []relay.EventKind{relay.EventTracked, relay.EventConnected, relay.EventReconnecting, relay.EventConnected}
	mumbletest.Eventually(t, waitTimeout, func() bool {
		return cmp.Equal(want, events.kinds("Bob"))
	}, "reconnect events")
}

func TestRelayIgnoresListedSpeakers(t *testing.T) {
	srv := mumbletest.NewServer(t, "Live", "Delayed")
	srv.AddUser("MusicBot", "Live")
	srv.AddUser("Carol", "Live")
	startRelay(t, srv, nil, worker.NewMemoryIgnoreList("musicbot"))

	mumbletest.Eventually(t, waitTimeout, inChannel(srv, "Mimic-Carol", "Delayed"), "Carol's mimic joins")
	if _, ok := srv.UserByName("Mimic-MusicBot"); ok {
		t.Error("an ignored speaker was mimicked")
	}
}

func TestRelayStopsWhenListenerIsKicked(t *testing.T) {
	srv := mumbletest.NewServer(t, "Live", "Delayed")
	srv.AddUser("Dave", "Live")
	run := startRelay(t, srv, nil, nil)

	mumbletest.Eventually(t, waitTimeout, inChannel(srv, "Mimic-Dave", "Delayed"), "mimic joins Delayed")
	listener, _ := srv.UserByName("relay")
	srv.RemoveUser(listener.Session)

	select {
	case err := <-run.done:
		run.done <- err
		if err == nil {
			t.Error("Run() returned nil after the listener was kicked, want an error")
		}
	case <-time.After(waitTimeout):
		t.Fatal("relay kept running without its listener")
	}
	mumbletest.Eventually(t, waitTimeout, gone(srv, "Mimic-Dave"), "mimics leave with the listener")
}

func TestRelayEventsReachTheEventStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	ctx := t.Context()
	rdb := e2e.UseRedis(t)
	pool := e2e.UsePostgres(t)

	handler, err := worker.NewRedisEventHandler(ctx, rdb)
	if err != nil {
		t.Fatalf("NewRedisEventHandler() error = %v", err)
	}
	dispatcher := worker.NewDispatcher(0, handler)
	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		dispatcher.Run(dispatchCtx)
	}()

	srv := mumbletest.NewServer(t, "Live", "Delayed")
	erin := srv.AddUser("Erin", "Live")
	run := startRelay(t, srv, dispatcher, nil)
	mumbletest.Eventually(t, waitTimeout, inChannel(srv, "Mimic-Erin", "Delayed"), "mimic joins Delayed")
	srv.RemoveUser(erin)
	mumbletest.Eventually(t, waitTimeout, gone(srv, "Mimic-Erin"), "mimic leaves")
	if err := run.stop(t); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	stopDispatch()
	<-dispatched

	receiver, err := worker.NewRedisEventReceiver(ctx, rdb, "e2e")
	if err != nil {
		t.Fatalf("NewRedisEventReceiver() error = %v", err)
	}
	repo := repository.NewPostgresEventRepository(pool)
	consumer := &worker.Consumer{Source: receiver, Durable: repo}
	for range 3 {
		if _, err := consumer.ProcessBatch(ctx); err != nil {
			t.Fatalf("ProcessBatch() error = %v", err)
		}
	}

	stored, err := repo.List(ctx, repository.EventFilter{SpeakerName: "Erin"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var kinds []relay.EventKind
	for i := len(stored) - 1; i >= 0; i-- {
		kinds = append(kinds, stored[i].Kind)
	}
	want := []relay.EventKind{relay.EventTracked, relay.EventConnected, relay.EventDraining, relay.EventDisconnected}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("stored events mismatch (-want +got):\n%s", diff)
	}
}
