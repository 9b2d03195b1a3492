// Package mumbletest runs a small in-process voice server for tests. It
// speaks the real control framing over TCP, tracks users and channels,
// echoes pings and routes voice packets between users of the same channel.
package mumbletest

import (
	"errors"
	"net"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/glizzus/delay-relay/internal/mumble"
	"github.com/glizzus/delay-relay/internal/mumbleproto"
	"github.com/glizzus/delay-relay/internal/voice"
)

// RejectUsernameInUse is the reject type murmur uses for duplicate names.
const RejectUsernameInUse = 5

// User is the server's record of a user.
type User struct {
	Session   uint32
	Name      string
	ChannelID uint32
	// Fake users have no connection; the test drives them.
	Fake bool
}

// Audio is a voice packet a client sent to the server.
type Audio struct {
	Session   uint32
	Name      string
	ChannelID uint32
	At        time.Time
	// Packet is the client-to-server form: header and data.
	Packet []byte
}

type Server struct {
	t  testing.TB
	ln net.Listener

	mu          sync.Mutex
	channels    []channel
	users       map[uint32]*User
	conns       map[uint32]*serverConn
	nextSession uint32
	audio       []Audio
	pings       int
	holdPings   bool
	lastPing    *uint64
	closed      bool
	wg          sync.WaitGroup
}

type channel struct {
	id   uint32
	name string
}

// NewServer starts a server with a Root channel (id 0) and the named
// channels as its children, numbered from 1. It is closed when the test ends.
func NewServer(t testing.TB, channels ...string) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	s := &Server{
		t:           t,
		ln:          ln,
		channels:    []channel{{id: 0, name: "Root"}},
		users:       make(map[uint32]*User),
		conns:       make(map[uint32]*serverConn),
		nextSession: 1,
	}
	for i, name := range channels {
		s.channels = append(s.channels, channel{id: uint32(i + 1), name: name})
	}

	s.wg.Add(1)
	go s.accept()
	t.Cleanup(s.Close)
	return s
}

// Settings returns client settings pointing at the server over plain TCP.
func (s *Server) Settings(nickname string) mumble.Settings {
	addr := s.ln.Addr().(*net.TCPAddr)
	return mumble.Settings{
		Host:     addr.IP.String(),
		Port:     addr.Port,
		Nickname: nickname,
	}
}

func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, c := range s.conns {
		c.conn.Close()
	}
	s.mu.Unlock()

	s.ln.Close()
	s.wg.Wait()
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c := &serverConn{server: s, conn: conn}
			c.serve()
		}()
	}
}

// ChannelID returns the id of the named channel. The test fails if it does
// not exist.
func (s *Server) ChannelID(name string) uint32 {
	s.t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.channelIDLocked(name)
	if !ok {
		s.t.Fatalf("no channel named %q", name)
	}
	return id
}

func (s *Server) channelIDLocked(name string) (uint32, bool) {
	for _, ch := range s.channels {
		if ch.name == name {
			return ch.id, true
		}
	}
	return 0, false
}

// AddUser adds a user without a connection in the named channel and
// announces it.
func (s *Server) AddUser(name, channelName string) uint32 {
	s.t.Helper()
	id := s.ChannelID(channelName)

	s.mu.Lock()
	defer s.mu.Unlock()
	u := &User{Session: s.nextSession, Name: name, ChannelID: id, Fake: true}
	s.nextSession++
	s.users[u.Session] = u
	s.broadcastLocked(userState(u), 0)
	return u.Session
}

// MoveUser moves a user and announces the new channel.
func (s *Server) MoveUser(session uint32, channelName string) {
	s.t.Helper()
	id := s.ChannelID(channelName)

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[session]
	if !ok {
		s.t.Fatalf("no user with session %d", session)
	}
	u.ChannelID = id
	s.broadcastLocked(&mumbleproto.UserState{
		Session:   mumbleproto.Uint32(session),
		ChannelID: mumbleproto.Uint32(id),
	}, 0)
}

// RemoveUser removes a fake user, or kicks a connected one.
func (s *Server) RemoveUser(session uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conns[session]; ok {
		c.conn.Close()
		return
	}
	s.removeLocked(session)
}

// Drop closes a client's connection without telling anyone, as a network
// failure would.
func (s *Server) Drop(session uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conns[session]; ok {
		c.conn.Close()
	}
}

// Speak sends a voice packet from session to every client in its channel.
// data is everything after the session: sequence, frames and trailing data.
func (s *Server) Speak(session uint32, header byte, data []byte) {
	s.t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[session]
	if !ok {
		s.t.Fatalf("no user with session %d", session)
	}
	s.routeAudioLocked(u, header, data)
}

// Users returns every user ordered by session.
func (s *Server) Users() []User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Session < out[j].Session })
	return out
}

// UserByName returns the user with the given name.
func (s *Server) UserByName(name string) (User, bool) {
	for _, u := range s.Users() {
		if u.Name == name {
			return u, true
		}
	}
	return User{}, false
}

// Audio returns every voice packet received from clients so far.
func (s *Server) Audio() []Audio {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Audio(nil), s.audio...)
}

// Pings reports how many pings the server has received.
func (s *Server) Pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

// HoldPings stops the server from echoing pings. Tests answer them with Send.
func (s *Server) HoldPings() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdPings = true
}

// LastPingTimestamp returns the timestamp of the newest ping received.
func (s *Server) LastPingTimestamp() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPing == nil {
		return 0, false
	}
	return *s.lastPing, true
}

// Send writes msg to the client connected as session.
func (s *Server) Send(session uint32, msg mumbleproto.Message) {
	s.t.Helper()
	s.mu.Lock()
	c, ok := s.conns[session]
	s.mu.Unlock()
	if !ok {
		s.t.Fatalf("no connection with session %d", session)
	}
	c.send(msg)
}

// Eventually polls cond until it holds or the timeout passes.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting: %s", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (s *Server) removeLocked(session uint32) {
	if _, ok := s.users[session]; !ok {
		return
	}
	delete(s.users, session)
	delete(s.conns, session)
	s.broadcastLocked(&mumbleproto.UserRemove{Session: mumbleproto.Uint32(session)}, 0)
}

func (s *Server) broadcastLocked(msg mumbleproto.Message, except uint32) {
	frame, err := mumble.EncodeMessage(msg)
	if err != nil {
		s.t.Errorf("failed to encode %s: %v", msg.Kind(), err)
		return
	}
	for session, c := range s.conns {
		if session == except || !c.synced {
			continue
		}
		c.write(frame)
	}
}

func (s *Server) routeAudioLocked(from *User, header byte, data []byte) {
	frame := mumble.EncodeAudio(voice.AppendPacket(nil, header, from.Session, data))
	for session, c := range s.conns {
		if session == from.Session || !c.synced {
			continue
		}
		if u := s.users[session]; u != nil && u.ChannelID == from.ChannelID {
			c.write(frame)
		}
	}
}

func userState(u *User) *mumbleproto.UserState {
	return &mumbleproto.UserState{
		Session:   mumbleproto.Uint32(u.Session),
		Name:      mumbleproto.String(u.Name),
		ChannelID: mumbleproto.Uint32(u.ChannelID),
	}
}

type serverConn struct {
	server  *Server
	conn    net.Conn
	session uint32
	synced  bool
	writeMu sync.Mutex
}

func (c *serverConn) write(frame []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	c.conn.Write(frame)
}

func (c *serverConn) send(msg mumbleproto.Message) {
	frame, err := mumble.EncodeMessage(msg)
	if err != nil {
		c.server.t.Errorf("failed to encode %s: %v", msg.Kind(), err)
		return
	}
	c.write(frame)
}

func (c *serverConn) serve() {
	s := c.server
	defer func() {
		c.conn.Close()
		s.mu.Lock()
		if c.session != 0 && s.conns[c.session] == c {
			s.removeLocked(c.session)
		}
		s.mu.Unlock()
	}()

	d := mumble.NewFrameDecoder()
	d.OnMessage = c.onMessage
	d.OnAudio = c.onAudio

	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			if ferr := d.Feed(buf[:n]); ferr != nil {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.t.Logf("mumbletest: connection %d ended: %v", c.session, err)
			}
			return
		}
	}
}

func (c *serverConn) onMessage(msg mumbleproto.Message) {
	s := c.server
	switch m := msg.(type) {
	case *mumbleproto.Authenticate:
		c.authenticate(m)
	case *mumbleproto.Ping:
		s.mu.Lock()
		s.pings++
		if m.Timestamp != nil {
			s.lastPing = mumbleproto.Uint64(*m.Timestamp)
		}
		hold := s.holdPings
		s.mu.Unlock()
		if !hold {
			c.send(m)
		}
	case *mumbleproto.UserState:
		s.mu.Lock()
		defer s.mu.Unlock()
		if !c.synced || m.ChannelID == nil {
			return
		}
		target := c.session
		if m.Session != nil {
			target = *m.Session
		}
		u, ok := s.users[target]
		if !ok {
			return
		}
		u.ChannelID = *m.ChannelID
		s.broadcastLocked(&mumbleproto.UserState{
			Session:   mumbleproto.Uint32(target),
			Actor:     mumbleproto.Uint32(c.session),
			ChannelID: m.ChannelID,
		}, 0)
	}
}

func (c *serverConn) authenticate(m *mumbleproto.Authenticate) {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.synced || m.Username == nil {
		return
	}

	for _, u := range s.users {
		if u.Name == *m.Username {
			c.send(&mumbleproto.Reject{
				Type:   mumbleproto.Uint32(RejectUsernameInUse),
				Reason: mumbleproto.String("Username already in use"),
			})
			c.conn.Close()
			return
		}
	}

	u := &User{Session: s.nextSession, Name: *m.Username}
	s.nextSession++
	c.session = u.Session

	for _, ch := range s.channels {
		state := &mumbleproto.ChannelState{
			ChannelID: mumbleproto.Uint32(ch.id),
			Name:      mumbleproto.String(ch.name),
		}
		if ch.id != 0 {
			state.Parent = mumbleproto.Uint32(0)
		}
		c.send(state)
	}
	for _, other := range s.users {
		c.send(userState(other))
	}

	s.users[u.Session] = u
	s.broadcastLocked(userState(u), 0)
	s.conns[u.Session] = c
	c.synced = true
	c.send(userState(u))
	c.send(&mumbleproto.ServerSync{
		Session:     mumbleproto.Uint32(u.Session),
		WelcomeText: mumbleproto.String("mumbletest " + strconv.Itoa(int(u.Session))),
	})
}

func (c *serverConn) onAudio(body []byte) {
	s := c.server
	if len(body) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[c.session]
	if !ok {
		return
	}
	packet := append([]byte(nil), body...)
	s.audio = append(s.audio, Audio{
		Session:   u.Session,
		Name:      u.Name,
		ChannelID: u.ChannelID,
		At:        time.Now(),
		Packet:    packet,
	})
	s.routeAudioLocked(u, packet[0], packet[1:])
}
