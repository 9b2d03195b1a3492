package mumble_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/glizzus/delay-relay/internal/mumble"
	"github.com/glizzus/delay-relay/internal/mumble/mumbletest"
	"github.com/glizzus/delay-relay/internal/mumbleproto"
	"github.com/glizzus/delay-relay/internal/schedule"
	"github.com/glizzus/delay-relay/internal/voice"
	"github.com/google/go-cmp/cmp"
)

const waitTimeout = 3 * time.Second

func startLoop(t *testing.T) *schedule.Loop {
	t.Helper()
	loop := schedule.NewLoop()
	go loop.Run(context.Background())
	t.Cleanup(loop.Stop)
	return loop
}

// onLoop runs fn on the loop and waits for its result.
func onLoop[T any](t *testing.T, loop *schedule.Loop, fn func() T) T {
	t.Helper()
	ch := make(chan T, 1)
	loop.Post(func() { ch <- fn() })
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("loop did not run the function")
	}
	var zero T
	return zero
}

func receive[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func connect(t *testing.T, loop *schedule.Loop, settings mumble.Settings, hooks mumble.Hooks) *mumble.Client {
	t.Helper()
	client := onLoop(t, loop, func() *mumble.Client {
		c := mumble.NewClient(loop, settings, hooks)
		c.Connect()
		return c
	})
	t.Cleanup(func() {
		loop.Post(client.Disconnect)
		select {
		case <-client.Done():
		case <-time.After(waitTimeout):
		}
	})
	return client
}

func TestClientConnectsAndAutoJoins(t *testing.T) {
	loop := startLoop(t)
	srv := mumbletest.NewServer(t, "Match", "Spectate")
	spectate := srv.ChannelID("Spectate")

	settings := srv.Settings("relay")
	settings.AutoJoinChannel = "Spectate"
	connected := make(chan uint32, 1)
	client := connect(t, loop, settings, mumble.Hooks{
		OnConnect: func(session uint32) { connected <- session },
	})

	session := receive(t, connected, "OnConnect")
	if got := onLoop(t, loop, client.SessionID); got != session {
		t.Errorf("SessionID() = %d, want %d", got, session)
	}
	select {
	case <-client.Connected():
	default:
		t.Error("Connected() not closed after OnConnect")
	}

	mumbletest.Eventually(t, waitTimeout, func() bool {
		u, ok := srv.UserByName("relay")
		return ok && u.ChannelID == spectate
	}, "server to see the client in Spectate")

	mumbletest.Eventually(t, waitTimeout, func() bool {
		u := onLoop(t, loop, func() mumble.User {
			u, _ := client.User(session)
			return u
		})
		return u.ChannelID == spectate && u.Name == "relay"
	}, "client to see itself in Spectate")

	ch := onLoop(t, loop, func() mumble.Channel {
		ch, _ := client.ChannelByName("Match")
		return ch
	})
	if ch.ID != srv.ChannelID("Match") || ch.Name != "Match" {
		t.Errorf("ChannelByName(Match) = %+v", ch)
	}
}

func TestClientHandshake(t *testing.T) {
	loop := startLoop(t)
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { serverSide.Close() })

	msgs := make(chan mumbleproto.Message, 16)
	go func() {
		d := mumble.NewFrameDecoder()
		d.OnMessage = func(msg mumbleproto.Message) { msgs <- msg }
		buf := make([]byte, 1024)
		for {
			n, err := serverSide.Read(buf)
			if n > 0 {
				d.Feed(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	connect(t, loop, mumble.Settings{
		Host:         "voice.example",
		Nickname:     "relay",
		Password:     "hunter2",
		PingInterval: 20 * time.Millisecond,
		Dial: func(context.Context, string, string) (net.Conn, error) {
			return clientSide, nil
		},
	}, mumble.Hooks{})

	want := []mumbleproto.Message{
		&mumbleproto.Version{
			Version:   mumbleproto.Uint32(66053),
			Release:   mumbleproto.String("1.2.5"),
			OS:        mumbleproto.String(runtime.GOOS),
			OSVersion: mumbleproto.String(runtime.GOARCH),
		},
		&mumbleproto.Authenticate{
			Username:     mumbleproto.String("relay"),
			Password:     mumbleproto.String("hunter2"),
			CELTVersions: []int32{-2147483637, -2147483632},
			Opus:         mumbleproto.Bool(true),
		},
		&mumbleproto.CodecVersion{
			Alpha:       mumbleproto.Int32(-2147483637),
			Beta:        mumbleproto.Int32(0),
			PreferAlpha: mumbleproto.Bool(true),
		},
	}
	var got []mumbleproto.Message
	for range want {
		got = append(got, receive(t, msgs, "handshake message"))
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("handshake mismatch (-want +got):\n%s", diff)
	}

	ping, ok := receive(t, msgs, "first ping").(*mumbleproto.Ping)
	if !ok {
		t.Fatal("fourth message is not a ping")
	}
	if ping.TCPPackets == nil || *ping.TCPPackets != 1 {
		t.Errorf("ping counter = %v, want 1", ping.TCPPackets)
	}
	if ping.Timestamp == nil || *ping.Timestamp == 0 {
		t.Error("ping has no timestamp")
	}
	if ping.Good == nil || *ping.Good != 0 || ping.UDPPingAvg == nil || *ping.UDPPingAvg != 0 {
		t.Errorf("ping statistics not zeroed: %+v", ping)
	}

	second, ok := receive(t, msgs, "second ping").(*mumbleproto.Ping)
	if !ok || second.TCPPackets == nil || *second.TCPPackets != 2 {
		t.Errorf("second ping = %+v, want counter 2", second)
	}
}

func TestClientSendAudioBeforeSync(t *testing.T) {
	loop := startLoop(t)
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { serverSide.Close() })
	go io.Copy(io.Discard, serverSide)

	client := connect(t, loop, mumble.Settings{
		Nickname: "relay",
		Dial: func(context.Context, string, string) (net.Conn, error) {
			return clientSide, nil
		},
	}, mumble.Hooks{})

	mumbletest.Eventually(t, waitTimeout, func() bool {
		err := onLoop(t, loop, func() error { return client.SendAudio([]byte{0x80, 0x00}) })
		return errors.Is(err, mumble.ErrHandshakeIncomplete)
	}, "SendAudio to report the incomplete handshake")

	if onLoop(t, loop, client.Synced) {
		t.Error("Synced() = true without ServerSync")
	}
}

func TestClientRejected(t *testing.T) {
	loop := startLoop(t)
	srv := mumbletest.NewServer(t, "Match")
	srv.AddUser("taken", "Match")

	disconnected := make(chan error, 1)
	connect(t, loop, srv.Settings("taken"), mumble.Hooks{
		OnConnect:    func(uint32) { t.Error("OnConnect called for a rejected client") },
		OnDisconnect: func(err error) { disconnected <- err },
	})

	err := receive(t, disconnected, "OnDisconnect")
	var rerr *mumble.RejectError
	if !errors.As(err, &rerr) {
		t.Fatalf("OnDisconnect error = %v, want *RejectError", err)
	}
	if rerr.Type != mumbletest.RejectUsernameInUse {
		t.Errorf("reject type = %d, want %d", rerr.Type, mumbletest.RejectUsernameInUse)
	}
}

func TestClientHandlersRunAfterBookkeeping(t *testing.T) {
	loop := startLoop(t)
	srv := mumbletest.NewServer(t, "Match", "Spectate")

	connected := make(chan uint32, 1)
	client := connect(t, loop, srv.Settings("relay"), mumble.Hooks{
		OnConnect: func(session uint32) { connected <- session },
	})
	receive(t, connected, "OnConnect")

	seen := make(chan mumble.User, 8)
	onLoop(t, loop, func() bool {
		client.Handle(mumbleproto.KindUserState, func(m mumbleproto.Message) {
			msg := m.(*mumbleproto.UserState)
			u, _ := client.User(*msg.Session)
			seen <- u
		})
		return true
	})

	alice := srv.AddUser("alice", "Match")
	u := receive(t, seen, "UserState for alice")
	if u.Session != alice || u.Name != "alice" || u.ChannelID != srv.ChannelID("Match") {
		t.Errorf("handler saw %+v before bookkeeping", u)
	}

	// A move carries only the channel, the name must survive it.
	srv.MoveUser(alice, "Spectate")
	u = receive(t, seen, "UserState for the move")
	want := mumble.User{Session: alice, Name: "alice", ChannelID: srv.ChannelID("Spectate")}
	if diff := cmp.Diff(want, u); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	srv.RemoveUser(alice)
	mumbletest.Eventually(t, waitTimeout, func() bool {
		for _, u := range onLoop(t, loop, client.Users) {
			if u.Session == alice {
				return false
			}
		}
		return true
	}, "alice to be removed")
}

func TestClientReceivesAudio(t *testing.T) {
	loop := startLoop(t)
	srv := mumbletest.NewServer(t, "Match")

	settings := srv.Settings("relay")
	settings.AutoJoinChannel = "Match"
	packets := make(chan voice.Packet, 1)
	connect(t, loop, settings, mumble.Hooks{
		OnAudio: func(p voice.Packet) { packets <- p },
	})

	match := srv.ChannelID("Match")
	mumbletest.Eventually(t, waitTimeout, func() bool {
		u, ok := srv.UserByName("relay")
		return ok && u.ChannelID == match
	}, "client to join Match")

	alice := srv.AddUser("alice", "Match")
	data := []byte{0x05, 0x82, 0xaa, 0xbb}
	srv.Speak(alice, 0x80, data)

	got := receive(t, packets, "voice packet")
	want := voice.Packet{Header: 0x80, Session: alice, Data: data}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestClientDisconnect(t *testing.T) {
	tests := []struct {
		name      string
		end       func(srv *mumbletest.Server, client *mumble.Client, loop *schedule.Loop, session uint32)
		wantErr   error
		requested bool
	}{
		{
			name: "dropped by the network",
			end: func(srv *mumbletest.Server, _ *mumble.Client, _ *schedule.Loop, session uint32) {
				srv.Drop(session)
			},
			wantErr: mumble.ErrConnectionDropped,
		},
		{
			name: "requested",
			end: func(_ *mumbletest.Server, client *mumble.Client, loop *schedule.Loop, _ uint32) {
				loop.Post(client.Disconnect)
			},
			requested: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loop := startLoop(t)
			srv := mumbletest.NewServer(t, "Match")

			connected := make(chan uint32, 1)
			disconnected := make(chan error, 2)
			client := connect(t, loop, srv.Settings("relay"), mumble.Hooks{
				OnConnect:    func(session uint32) { connected <- session },
				OnDisconnect: func(err error) { disconnected <- err },
			})
			session := receive(t, connected, "OnConnect")

			tt.end(srv, client, loop, session)
			err := receive(t, disconnected, "OnDisconnect")
			if tt.requested && err != nil {
				t.Errorf("OnDisconnect error = %v, want nil", err)
			}
			if !tt.requested && !errors.Is(err, tt.wantErr) {
				t.Errorf("OnDisconnect error = %v, want %v", err, tt.wantErr)
			}
			receive(t, client.Done(), "Done")

			mumbletest.Eventually(t, waitTimeout, func() bool {
				_, ok := srv.UserByName("relay")
				return !ok
			}, "server to forget the client")

			err = onLoop(t, loop, func() error { return client.SendAudio([]byte{0x80}) })
			if !errors.Is(err, mumble.ErrNotConnected) {
				t.Errorf("SendAudio() after disconnect = %v, want ErrNotConnected", err)
			}
			select {
			case err := <-disconnected:
				t.Errorf("OnDisconnect fired twice, second error %v", err)
			default:
			}
		})
	}
}

func TestClientDialFailure(t *testing.T) {
	loop := startLoop(t)
	dialErr := errors.New("no route")

	disconnected := make(chan error, 1)
	connect(t, loop, mumble.Settings{
		Nickname: "relay",
		Dial: func(context.Context, string, string) (net.Conn, error) {
			return nil, dialErr
		},
	}, mumble.Hooks{OnDisconnect: func(err error) { disconnected <- err }})

	err := receive(t, disconnected, "OnDisconnect")
	if !errors.Is(err, mumble.ErrConnectionDropped) || !errors.Is(err, dialErr) {
		t.Errorf("OnDisconnect error = %v, want both ErrConnectionDropped and the dial error", err)
	}
}

func TestClientKeepalive(t *testing.T) {
	loop := startLoop(t)
	srv := mumbletest.NewServer(t, "Match")

	settings := srv.Settings("relay")
	settings.PingInterval = 10 * time.Millisecond
	connect(t, loop, settings, mumble.Hooks{})

	mumbletest.Eventually(t, waitTimeout, func() bool {
		return srv.Pings() >= 3
	}, "three pings")
}

func TestClientRoundTripTime(t *testing.T) {
	loop := startLoop(t)
	srv := mumbletest.NewServer(t, "Match")
	srv.HoldPings()

	markers := 0
	// flush returns once client has handled everything the server sent
	// before it; messages on one connection are handled in order.
	flush := func(t *testing.T, client *mumble.Client) {
		t.Helper()
		markers++
		name := fmt.Sprintf("marker-%d", markers)
		srv.AddUser(name, "Match")
		mumbletest.Eventually(t, waitTimeout, func() bool {
			return onLoop(t, loop, func() bool {
				for _, u := range client.Users() {
					if u.Name == name {
						return true
					}
				}
				return false
			})
		}, name)
	}
	rtt := func(t *testing.T, client *mumble.Client) time.Duration {
		return onLoop(t, loop, client.RTT)
	}

	t.Run("echo before any ping is ignored", func(t *testing.T) {
		settings := srv.Settings("quiet")
		settings.PingInterval = time.Hour
		synced := make(chan uint32, 1)
		client := connect(t, loop, settings, mumble.Hooks{OnConnect: func(s uint32) { synced <- s }})
		session := receive(t, synced, "server sync")

		srv.Send(session, &mumbleproto.Ping{Timestamp: mumbleproto.Uint64(0)})
		flush(t, client)
		if got := rtt(t, client); got != 0 {
			t.Errorf("RTT() = %s, want 0", got)
		}
	})

	t.Run("matching echo sets it and stale echoes do not", func(t *testing.T) {
		settings := srv.Settings("relay")
		settings.PingInterval = 50 * time.Millisecond
		synced := make(chan uint32, 1)
		client := connect(t, loop, settings, mumble.Hooks{OnConnect: func(s uint32) { synced <- s }})
		session := receive(t, synced, "server sync")

		// Each attempt echoes the newest ping; one sent before the client's
		// next ping matches.
		mumbletest.Eventually(t, waitTimeout, func() bool {
			if ts, ok := srv.LastPingTimestamp(); ok {
				srv.Send(session, &mumbleproto.Ping{Timestamp: mumbleproto.Uint64(ts)})
			}
			return rtt(t, client) > 0
		}, "round trip time from a matching echo")
		flush(t, client)
		want := rtt(t, client)

		ts, _ := srv.LastPingTimestamp()
		srv.Send(session, &mumbleproto.Ping{Timestamp: mumbleproto.Uint64(ts - 1)})
		srv.Send(session, &mumbleproto.Ping{})
		flush(t, client)
		if got := rtt(t, client); got != want {
			t.Errorf("RTT() after stale echoes = %s, want %s", got, want)
		}
	})
}
