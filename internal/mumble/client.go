package mumble

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/glizzus/delay-relay/internal/mumbleproto"
	"github.com/glizzus/delay-relay/internal/schedule"
	"github.com/glizzus/delay-relay/internal/voice"
)

var (
	// ErrHandshakeIncomplete is returned by speaker-facing calls made before
	// the server confirmed the session.
	ErrHandshakeIncomplete = errors.New("handshake incomplete")
	// ErrConnectionDropped wraps transport failures.
	ErrConnectionDropped = errors.New("connection dropped")
	// ErrNotConnected is returned by sends on a client that never connected
	// or has closed.
	ErrNotConnected = errors.New("not connected")
)

// RejectError is the reason the server gave for refusing a connection.
type RejectError struct {
	Type   uint32
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("rejected by server (type %d): %s", e.Type, e.Reason)
}

var _ error = (*RejectError)(nil)

const (
	DefaultPort         = 64738
	DefaultPingInterval = 5 * time.Second
	DefaultDialTimeout  = 10 * time.Second

	readBufferSize = 16 << 10
	closeGrace     = 5 * time.Second
)

// Settings describe how a Client reaches and identifies itself to a server.
type Settings struct {
	Host     string
	Port     int
	Nickname string
	Password string
	// TLSConfig secures the connection. A nil config means plain TCP.
	TLSConfig *tls.Config
	// AutoJoinChannel is the name of the channel the client moves itself
	// into once the session is established. Empty means stay put.
	AutoJoinChannel string

	DialTimeout  time.Duration
	PingInterval time.Duration
	MaxOutbox    int
	// Dial replaces the default dialer, mostly for tests.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Address returns host:port.
func (s Settings) Address() string {
	port := s.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port))
}

// Hooks are called on the scheduler. Any of them may be nil.
type Hooks struct {
	// OnConnect fires once the server has assigned the session.
	OnConnect func(session uint32)
	// OnDisconnect fires exactly once per Connect. err is nil when the
	// disconnect was requested.
	OnDisconnect func(err error)
	OnAudio      func(packet voice.Packet)
}

// HandlerFunc reacts to one decoded control message.
type HandlerFunc func(msg mumbleproto.Message)

type phase int

const (
	phaseIdle phase = iota
	phaseDialing
	phaseHandshaking
	phaseSynced
	phaseClosed
)

// Client is one control connection to a server. Apart from Done and
// Connected, its methods must be called from the scheduler it was created
// with.
type Client struct {
	loop     schedule.Scheduler
	settings Settings
	hooks    Hooks
	log      *slog.Logger

	internal map[mumbleproto.Kind]HandlerFunc
	handlers map[mumbleproto.Kind]HandlerFunc

	phase      phase
	conn       net.Conn
	out        *outbox
	decoder    *FrameDecoder
	cancelDial context.CancelFunc

	state       *state
	session     uint32
	autoJoinID  uint32
	hasAutoJoin bool

	pingTimer schedule.Timer
	pingCount uint32
	lastPing  uint64
	rtt       time.Duration

	err       error
	connected chan struct{}
	done      chan struct{}
}

func NewClient(loop schedule.Scheduler, settings Settings, hooks Hooks) *Client {
	if settings.PingInterval <= 0 {
		settings.PingInterval = DefaultPingInterval
	}
	if settings.DialTimeout <= 0 {
		settings.DialTimeout = DefaultDialTimeout
	}

	c := &Client{
		loop:      loop,
		settings:  settings,
		hooks:     hooks,
		log:       slog.With("component", "mumble", "nickname", settings.Nickname),
		handlers:  make(map[mumbleproto.Kind]HandlerFunc),
		state:     newState(),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
	c.internal = map[mumbleproto.Kind]HandlerFunc{
		mumbleproto.KindPing:          c.handlePing,
		mumbleproto.KindReject:        c.handleReject,
		mumbleproto.KindServerSync:    c.handleServerSync,
		mumbleproto.KindChannelState:  c.handleChannelState,
		mumbleproto.KindChannelRemove: c.handleChannelRemove,
		mumbleproto.KindUserState:     c.handleUserState,
		mumbleproto.KindUserRemove:    c.handleUserRemove,
	}
	return c
}

// Handle registers fn to run after the client's own bookkeeping for every
// message of the given kind. A later registration replaces an earlier one.
func (c *Client) Handle(kind mumbleproto.Kind, fn HandlerFunc) {
	if fn == nil {
		delete(c.handlers, kind)
		return
	}
	c.handlers[kind] = fn
}

// Connect starts dialing. The outcome is reported through the hooks.
func (c *Client) Connect() {
	if c.phase != phaseIdle {
		return
	}
	c.phase = phaseDialing

	ctx, cancel := context.WithTimeout(context.Background(), c.settings.DialTimeout)
	c.cancelDial = cancel
	addr := c.settings.Address()
	dial := c.settings.Dial
	if dial == nil {
		dial = c.defaultDial
	}

	c.log.Debug("dialing", "addr", addr, "tls", c.settings.TLSConfig != nil)
	go func() {
		conn, err := dial(ctx, "tcp", addr)
		c.loop.Post(func() { c.onDial(conn, err) })
	}()
}

func (c *Client) defaultDial(ctx context.Context, network, addr string) (net.Conn, error) {
	if c.settings.TLSConfig == nil {
		var d net.Dialer
		return d.DialContext(ctx, network, addr)
	}
	d := tls.Dialer{Config: c.settings.TLSConfig}
	return d.DialContext(ctx, network, addr)
}

func (c *Client) onDial(conn net.Conn, err error) {
	c.cancelDial()
	if c.phase != phaseDialing {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.finish(fmt.Errorf("%w: %w", ErrConnectionDropped, err))
		return
	}

	c.conn = conn
	c.out = newOutbox(c.settings.MaxOutbox)
	c.decoder = NewFrameDecoder()
	c.decoder.OnAudio = c.onAudio
	c.decoder.OnMessage = c.dispatch
	c.decoder.OnUnknown = func(kind mumbleproto.Kind, body []byte) {
		c.log.Debug("ignoring unknown message", "kind", kind, "length", len(body))
	}
	c.decoder.OnError = func(kind mumbleproto.Kind, err error) {
		c.log.Warn("failed to decode message", "kind", kind, slog.Any("error", err))
	}
	c.phase = phaseHandshaking

	go c.writeLoop(conn, c.out)
	go c.readLoop(conn)

	for _, msg := range handshake(c.settings) {
		if err := c.Send(msg); err != nil {
			return
		}
	}
	c.pingTimer = schedule.Every(c.loop, c.settings.PingInterval, c.sendPing)
	c.log.Debug("handshake sent", "addr", conn.RemoteAddr())
}

func (c *Client) readLoop(conn net.Conn) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.loop.Post(func() { c.feed(chunk) })
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			c.loop.Post(func() { c.fail(err) })
			return
		}
	}
}

func (c *Client) writeLoop(conn net.Conn, out *outbox) {
	err := out.writeTo(conn)
	conn.Close()
	if err != nil {
		c.loop.Post(func() { c.fail(err) })
	}
}

func (c *Client) feed(chunk []byte) {
	if c.phase != phaseHandshaking && c.phase != phaseSynced {
		return
	}
	if err := c.decoder.Feed(chunk); err != nil {
		c.fail(err)
	}
}

func (c *Client) onAudio(body []byte) {
	packet, err := voice.ParsePacket(body)
	if err != nil {
		c.log.Debug("dropping voice packet", slog.Any("error", err))
		return
	}
	if c.hooks.OnAudio != nil {
		c.hooks.OnAudio(packet)
	}
}

func (c *Client) dispatch(msg mumbleproto.Message) {
	kind := msg.Kind()
	if fn, ok := c.internal[kind]; ok {
		fn(msg)
	}
	// The internal handler may have ended the connection.
	if c.phase == phaseClosed {
		return
	}
	if fn, ok := c.handlers[kind]; ok {
		fn(msg)
	}
}

func (c *Client) sendPing() {
	c.pingCount++
	c.lastPing = uint64(c.loop.Now().UnixMicro())
	rtt := float32(c.rtt.Microseconds()) / 1000
	if err := c.Send(keepalive(c.pingCount, c.lastPing, rtt)); err != nil {
		c.log.Debug("failed to send ping", slog.Any("error", err))
	}
}

func (c *Client) handlePing(m mumbleproto.Message) {
	msg := m.(*mumbleproto.Ping)
	if msg.Timestamp == nil || *msg.Timestamp != c.lastPing || c.lastPing == 0 {
		return
	}
	now := uint64(c.loop.Now().UnixMicro())
	if now >= *msg.Timestamp {
		c.rtt = time.Duration(now-*msg.Timestamp) * time.Microsecond
	}
}

func (c *Client) handleReject(m mumbleproto.Message) {
	msg := m.(*mumbleproto.Reject)
	rerr := &RejectError{}
	if msg.Type != nil {
		rerr.Type = *msg.Type
	}
	if msg.Reason != nil {
		rerr.Reason = *msg.Reason
	}
	c.finish(rerr)
}

func (c *Client) handleServerSync(m mumbleproto.Message) {
	msg := m.(*mumbleproto.ServerSync)
	if c.phase != phaseHandshaking || msg.Session == nil {
		return
	}
	c.session = *msg.Session
	c.phase = phaseSynced
	c.log = c.log.With("session", c.session)
	c.log.Info("session established")

	if c.hasAutoJoin {
		c.JoinChannelID(c.autoJoinID)
	} else if c.settings.AutoJoinChannel != "" {
		c.log.Warn("auto-join channel not found", "channel", c.settings.AutoJoinChannel)
	}

	close(c.connected)
	if c.hooks.OnConnect != nil {
		c.hooks.OnConnect(c.session)
	}
}

func (c *Client) handleChannelState(m mumbleproto.Message) {
	ch := c.state.applyChannelState(m.(*mumbleproto.ChannelState))
	if ch == nil || c.settings.AutoJoinChannel == "" {
		return
	}
	if ch.Name == c.settings.AutoJoinChannel {
		c.autoJoinID = ch.ID
		c.hasAutoJoin = true
	}
}

func (c *Client) handleChannelRemove(m mumbleproto.Message) {
	msg := m.(*mumbleproto.ChannelRemove)
	if msg.ChannelID != nil {
		delete(c.state.channels, *msg.ChannelID)
	}
}

func (c *Client) handleUserState(m mumbleproto.Message) {
	c.state.applyUserState(m.(*mumbleproto.UserState))
}

func (c *Client) handleUserRemove(m mumbleproto.Message) {
	msg := m.(*mumbleproto.UserRemove)
	if msg.Session != nil {
		c.state.removeUser(*msg.Session)
	}
}

// JoinChannelID asks the server to move this client into the channel.
func (c *Client) JoinChannelID(id uint32) error {
	if c.phase != phaseSynced {
		return ErrHandshakeIncomplete
	}
	return c.Send(&mumbleproto.UserState{
		Session:   mumbleproto.Uint32(c.session),
		ChannelID: mumbleproto.Uint32(id),
	})
}

// Send queues a control message.
func (c *Client) Send(msg mumbleproto.Message) error {
	if c.phase != phaseHandshaking && c.phase != phaseSynced {
		return ErrNotConnected
	}
	frame, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Kind(), err)
	}
	return c.enqueue(frame)
}

// SendAudio queues a client-to-server voice packet.
func (c *Client) SendAudio(packet []byte) error {
	switch c.phase {
	case phaseSynced:
	case phaseHandshaking:
		return ErrHandshakeIncomplete
	default:
		return ErrNotConnected
	}
	return c.enqueue(EncodeAudio(packet))
}

func (c *Client) enqueue(frame []byte) error {
	if err := c.out.enqueue(frame); err != nil {
		// Tear down outside the caller, which may be iterating its own state.
		c.loop.Post(func() { c.fail(err) })
		return err
	}
	return nil
}

// Disconnect closes the connection once queued frames are written.
func (c *Client) Disconnect() {
	switch c.phase {
	case phaseClosed:
		return
	case phaseIdle:
		c.phase = phaseClosed
		close(c.done)
		return
	}
	c.finish(nil)
}

func (c *Client) fail(err error) {
	if c.phase == phaseClosed {
		return
	}
	var sizeErr *FrameSizeError
	if !errors.As(err, &sizeErr) && !errors.Is(err, ErrOutboxFull) {
		err = fmt.Errorf("%w: %w", ErrConnectionDropped, err)
	}
	c.finish(err)
}

func (c *Client) finish(err error) {
	if c.phase == phaseClosed {
		return
	}
	wasDialing := c.phase == phaseDialing
	c.phase = phaseClosed
	c.err = err

	if c.pingTimer != nil {
		c.pingTimer.Stop()
	}
	if wasDialing && c.cancelDial != nil {
		c.cancelDial()
	}
	if c.out != nil {
		c.out.close()
	}
	if c.conn != nil {
		if err == nil {
			// The writer closes the socket after flushing.
			c.conn.SetWriteDeadline(time.Now().Add(closeGrace))
		} else {
			c.conn.Close()
		}
	}

	if err != nil {
		c.log.Info("disconnected", slog.Any("error", err))
	} else {
		c.log.Info("disconnected")
	}
	close(c.done)
	if c.hooks.OnDisconnect != nil {
		c.hooks.OnDisconnect(err)
	}
}

// SessionID returns the session assigned by the server, or zero before the
// session is established.
func (c *Client) SessionID() uint32 { return c.session }

// Synced reports whether the session is established and the connection is
// still up.
func (c *Client) Synced() bool { return c.phase == phaseSynced }

// User returns the known state of the user with the given session.
func (c *Client) User(session uint32) (User, bool) {
	u, ok := c.state.users[session]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// Users returns every known user ordered by session.
func (c *Client) Users() []User { return c.state.sortedUsers() }

// Channel returns the known state of a channel.
func (c *Client) Channel(id uint32) (Channel, bool) {
	ch, ok := c.state.channels[id]
	if !ok {
		return Channel{}, false
	}
	return *ch, true
}

// ChannelByName returns the first channel with the given name, lowest id
// first.
func (c *Client) ChannelByName(name string) (Channel, bool) {
	var found *Channel
	for _, ch := range c.state.channels {
		if ch.Name == name && (found == nil || ch.ID < found.ID) {
			found = ch
		}
	}
	if found == nil {
		return Channel{}, false
	}
	return *found, true
}

// RTT is the latest control round trip measured by the keepalive.
func (c *Client) RTT() time.Duration { return c.rtt }

// Connected is closed once the session is established.
func (c *Client) Connected() <-chan struct{} { return c.connected }

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended. It is nil while connected and after
// a requested disconnect.
func (c *Client) Err() error { return c.err }
