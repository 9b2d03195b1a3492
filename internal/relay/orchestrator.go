package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glizzus/delay-relay/internal/generator"
	"github.com/glizzus/delay-relay/internal/mumble"
	"github.com/glizzus/delay-relay/internal/mumbleproto"
	"github.com/glizzus/delay-relay/internal/schedule"
	"github.com/glizzus/delay-relay/internal/util"
	"github.com/glizzus/delay-relay/internal/voice"
)

const (
	NamePlaceholder = "{name}"

	// DefaultStartDelay is how long after the listener's session is
	// established the first tick runs.
	DefaultStartDelay = time.Second

	// minIdleWake bounds how often the tick runs when nothing is queued.
	minIdleWake = 10 * time.Millisecond

	maxNameAttempts = 1000
)

// Config is what the orchestrator needs to know about the channels and the
// delay.
type Config struct {
	SourceChannel string
	DestChannel   string
	Delay         time.Duration
	// MimicName is a template; NamePlaceholder is replaced by the speaker's
	// name.
	MimicName  string
	StartDelay time.Duration
	// ReportCron, when set, emits a report event at each matching time.
	ReportCron string
}

func (c Config) Validate() error {
	if c.SourceChannel == "" {
		return errors.New("source channel is required")
	}
	if c.DestChannel == "" {
		return errors.New("destination channel is required")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay must not be negative, got %s", c.Delay)
	}
	if !strings.Contains(c.MimicName, NamePlaceholder) {
		return fmt.Errorf("mimic name template %q must contain %s", c.MimicName, NamePlaceholder)
	}
	if c.ReportCron != "" {
		if err := schedule.ValidateCron(c.ReportCron); err != nil {
			return err
		}
	}
	return nil
}

// Listener is the orchestrator's own connection, sitting in the source
// channel.
type Listener interface {
	SessionID() uint32
	User(session uint32) (mumble.User, bool)
	Users() []mumble.User
	ChannelByName(name string) (mumble.Channel, bool)
	Handle(kind mumbleproto.Kind, fn mumble.HandlerFunc)
	RTT() time.Duration
}

// Ignorer reports speakers who must never be mimicked.
type Ignorer interface {
	Ignored(name string) bool
}

// Options are the orchestrator's optional collaborators.
type Options struct {
	Events   EventSink
	Ignore   Ignorer
	Recorder RecorderFactory
	IDs      generator.Generator[string]
}

// Orchestrator mirrors every speaker of the source channel with a mimic in
// the destination channel, delayed. Every method must be called from the
// scheduler it was created with.
type Orchestrator struct {
	loop     schedule.Scheduler
	cfg      Config
	dial     Dialer
	opts     Options
	listener Listener
	log      *slog.Logger

	// speakers is keyed by the speaker's session, mimics by the mimic's own.
	speakers map[uint32]*Mimic
	mimics   map[uint32]*Mimic

	synced bool
	closed bool
	tick   schedule.Timer
	report schedule.Timer
	done   chan struct{}
	err    error
}

func New(loop schedule.Scheduler, cfg Config, dial Dialer, opts Options) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid relay config: %w", err)
	}
	if cfg.StartDelay <= 0 {
		cfg.StartDelay = DefaultStartDelay
	}
	if opts.IDs == nil {
		opts.IDs = &generator.UUIDV4Generator{}
	}

	return &Orchestrator{
		loop:     loop,
		cfg:      cfg,
		dial:     dial,
		opts:     opts,
		log:      slog.With("component", "relay"),
		speakers: make(map[uint32]*Mimic),
		mimics:   make(map[uint32]*Mimic),
		done:     make(chan struct{}),
	}, nil
}

// Attach makes l the listening connection and subscribes to its membership
// updates.
func (o *Orchestrator) Attach(l Listener) {
	o.listener = l
	l.Handle(mumbleproto.KindUserState, func(m mumbleproto.Message) {
		msg := m.(*mumbleproto.UserState)
		if msg.Session != nil {
			o.Reconcile(*msg.Session)
		}
	})
	l.Handle(mumbleproto.KindUserRemove, func(m mumbleproto.Message) {
		msg := m.(*mumbleproto.UserRemove)
		if msg.Session != nil {
			o.SpeakerRemoved(*msg.Session)
		}
	})
}

// ListenerHooks wires the listening connection's lifecycle to the
// orchestrator.
func (o *Orchestrator) ListenerHooks() mumble.Hooks {
	return mumble.Hooks{
		OnConnect:    func(uint32) { o.Start() },
		OnAudio:      o.Ingest,
		OnDisconnect: o.Shutdown,
	}
}

// Start runs once the listener's session is established: it reconciles
// every known user and schedules the first tick.
func (o *Orchestrator) Start() {
	if o.synced || o.closed {
		return
	}
	o.synced = true
	o.log.Info("listener synced", "session", o.listener.SessionID(), "source", o.cfg.SourceChannel, "destination", o.cfg.DestChannel, "delay", o.cfg.Delay)

	for _, u := range o.listener.Users() {
		o.Reconcile(u.Session)
	}
	o.tick = o.loop.AfterFunc(o.cfg.StartDelay, o.runTick)

	if o.cfg.ReportCron != "" {
		timer, err := schedule.EveryCron(o.loop, o.cfg.ReportCron, o.emitReport)
		if err != nil {
			o.log.Error("failed to schedule status report", slog.Any("error", err))
		} else {
			o.report = timer
		}
	}
}

// Reconcile brings the tracking of one user in line with their channel.
func (o *Orchestrator) Reconcile(session uint32) {
	if !o.synced || o.closed || session == o.listener.SessionID() {
		return
	}
	if _, ok := o.mimics[session]; ok {
		return
	}
	u, ok := o.listener.User(session)
	if !ok || o.isPendingMimic(u.Name) {
		return
	}
	inSource := o.inSource(u.ChannelID)

	if m, ok := o.speakers[session]; ok {
		want := !inSource
		if want == m.wantDisconnect {
			return
		}
		m.wantDisconnect = want
		if want {
			o.log.Info("speaker left the source channel", "speaker", m.SpeakerName, "mimic", m.Name, "queued", m.queue.Len())
			o.emit(EventDraining, m, "")
		} else {
			o.log.Info("speaker returned to the source channel", "speaker", m.SpeakerName, "mimic", m.Name)
			o.emit(EventResumed, m, "")
		}
		return
	}

	if !inSource {
		return
	}
	if o.opts.Ignore != nil && o.opts.Ignore.Ignored(u.Name) {
		o.log.Debug("ignoring speaker", "speaker", u.Name)
		return
	}
	o.track(u)
}

// SpeakerRemoved handles a user leaving the server. Their mimic drains and
// then leaves as if they had left the channel.
func (o *Orchestrator) SpeakerRemoved(session uint32) {
	m, ok := o.speakers[session]
	if !ok || m.wantDisconnect {
		return
	}
	m.wantDisconnect = true
	o.log.Info("speaker left the server", "speaker", m.SpeakerName, "mimic", m.Name, "queued", m.queue.Len())
	o.emit(EventDraining, m, "speaker left the server")
}

// Ingest queues a speaker's voice packet for their mimic.
func (o *Orchestrator) Ingest(packet voice.Packet) {
	m, ok := o.speakers[packet.Session]
	if !ok || m.wantDisconnect || o.closed {
		return
	}
	m.queue.Push(o.loop.Now().Add(o.cfg.Delay), packet.Outgoing())
}

func (o *Orchestrator) inSource(channelID uint32) bool {
	ch, ok := o.listener.ChannelByName(o.cfg.SourceChannel)
	return ok && ch.ID == channelID
}

// isPendingMimic reports whether name belongs to a mimic whose session is
// not known yet.
func (o *Orchestrator) isPendingMimic(name string) bool {
	for _, m := range o.speakers {
		if !m.connected && m.Name == name {
			return true
		}
	}
	return false
}

func (o *Orchestrator) mimicName(speakerName string) string {
	base := strings.ReplaceAll(o.cfg.MimicName, NamePlaceholder, speakerName)

	taken := make(map[string]struct{})
	for _, u := range o.listener.Users() {
		taken[u.Name] = struct{}{}
	}
	for _, m := range o.speakers {
		taken[m.Name] = struct{}{}
	}

	name, err := generator.FirstUnused(&generator.SuffixGenerator{Base: base}, func(n string) bool {
		_, ok := taken[n]
		return ok
	}, maxNameAttempts)
	if err != nil {
		// The server rejects the duplicate and the next membership update
		// retries.
		o.log.Warn("failed to find an unused mimic name", "base", base, slog.Any("error", err))
		return base
	}
	return name
}

func (o *Orchestrator) newID() string {
	id, err := o.opts.IDs.Next()
	if err != nil {
		o.log.Warn("failed to generate id", slog.Any("error", err))
		return ""
	}
	return id
}

func (o *Orchestrator) track(u mumble.User) {
	m := &Mimic{
		ID:          o.newID(),
		Speaker:     u.Session,
		SpeakerName: u.Name,
		queue:       &DelayQueue{},
	}
	m.Name = o.mimicName(u.Name)
	o.log.Info("tracking speaker", "speaker", u.Name, "session", u.Session, "mimic", m.Name)
	o.emit(EventTracked, m, "")
	o.start(m)
}

// start registers m for its speaker, then connects it.
func (o *Orchestrator) start(m *Mimic) {
	o.speakers[m.Speaker] = m
	if o.opts.Recorder != nil && m.recorder == nil {
		m.recorder = o.opts.Recorder(m.ID, m.SpeakerName)
	}
	m.conn = o.dial(m.Name, mumble.Hooks{
		OnConnect:    func(session uint32) { o.mimicConnected(m, session) },
		OnDisconnect: func(err error) { o.mimicDisconnected(m, err) },
	})
	m.conn.Connect()
}

func (o *Orchestrator) mimicConnected(m *Mimic, session uint32) {
	m.session = session
	m.connected = true
	o.mimics[session] = m

	if pruned := m.queue.PruneBefore(o.loop.Now()); pruned > 0 {
		o.log.Warn("dropped overdue audio", "mimic", m.Name, "packets", pruned)
	}
	o.log.Info("mimic connected", "speaker", m.SpeakerName, "mimic", m.Name, "session", session)
	o.emit(EventConnected, m, "")

	if o.closed {
		m.conn.Disconnect()
	}
}

func (o *Orchestrator) mimicDisconnected(m *Mimic, err error) {
	if m.gone {
		return
	}
	m.gone = true
	if m.connected && o.mimics[m.session] == m {
		delete(o.mimics, m.session)
	}
	current := o.speakers[m.Speaker] == m
	if current {
		delete(o.speakers, m.Speaker)
	}

	if current && !m.wantDisconnect && m.connected && !o.closed {
		o.log.Warn("mimic dropped, reconnecting", "speaker", m.SpeakerName, "mimic", m.Name, slog.Any("error", err))
		o.emit(EventReconnecting, m, errString(err))

		replacement := &Mimic{
			ID:          m.ID,
			Speaker:     m.Speaker,
			SpeakerName: m.SpeakerName,
			Attempt:     m.Attempt + 1,
			queue:       m.queue,
			recorder:    m.recorder,
			sent:        m.sent,
		}
		replacement.Name = o.mimicName(m.SpeakerName)
		o.start(replacement)
		return
	}

	if err != nil {
		o.log.Info("mimic disconnected", "speaker", m.SpeakerName, "mimic", m.Name, "sent", m.sent, slog.Any("error", err))
	} else {
		o.log.Info("mimic disconnected", "speaker", m.SpeakerName, "mimic", m.Name, "sent", m.sent)
	}
	o.emit(EventDisconnected, m, errString(err))
	if m.recorder != nil {
		m.recorder.Close()
		m.recorder = nil
	}
}

// checkMimics disconnects every draining mimic whose queue is empty. It is
// the only place a mimic is disconnected while the relay runs.
func (o *Orchestrator) checkMimics() {
	for _, speaker := range util.SortedKeys(o.speakers) {
		m := o.speakers[speaker]
		if !m.wantDisconnect || m.queue.Len() > 0 {
			continue
		}
		delete(o.speakers, speaker)
		if m.connected {
			delete(o.mimics, m.session)
		}
		o.log.Debug("mimic drained", "mimic", m.Name)
		m.conn.Disconnect()
	}
}

func (o *Orchestrator) runTick() {
	o.tick = nil
	if o.closed {
		return
	}
	o.checkMimics()

	var now time.Time
	for {
		now = o.loop.Now()
		sent := false
		for _, session := range util.SortedKeys(o.mimics) {
			m := o.mimics[session]
			for {
				packet, ok := m.queue.PopDue(now)
				if !ok {
					break
				}
				o.transmit(m, now, packet)
				sent = true
			}
		}
		if !sent {
			break
		}
	}
	// Mimics drained by this tick leave now rather than a full delay later.
	o.checkMimics()

	idle := max(o.cfg.Delay, minIdleWake)
	next := now.Add(idle)
	for _, m := range o.mimics {
		if due, ok := m.queue.Peek(); ok && due.Before(next) {
			next = due
		}
	}
	o.tick = o.loop.AfterFunc(max(next.Sub(now), 0), o.runTick)
}

func (o *Orchestrator) transmit(m *Mimic, now time.Time, packet []byte) {
	if err := m.conn.SendAudio(packet); err != nil {
		o.log.Debug("failed to send audio", "mimic", m.Name, slog.Any("error", err))
		return
	}
	m.sent++
	if m.recorder != nil {
		m.recorder.Record(now, packet)
	}
}

// Status returns every tracked mimic ordered by speaker session.
func (o *Orchestrator) Status() []MimicStatus {
	out := make([]MimicStatus, 0, len(o.speakers))
	for _, speaker := range util.SortedKeys(o.speakers) {
		out = append(out, o.speakers[speaker].status())
	}
	return out
}

func (o *Orchestrator) emitReport() {
	status := o.Status()
	queued := 0
	for _, s := range status {
		queued += s.Queued
	}
	var rtt time.Duration
	if o.listener != nil {
		rtt = o.listener.RTT()
	}
	o.publish(Event{
		ID:     o.newID(),
		Kind:   EventReport,
		At:     o.loop.Now(),
		Detail: fmt.Sprintf("%d speakers, %d packets queued, rtt %s", len(status), queued, rtt),
	})
}

func (o *Orchestrator) emit(kind EventKind, m *Mimic, detail string) {
	o.publish(Event{
		ID:             o.newID(),
		Kind:           kind,
		MimicID:        m.ID,
		SpeakerSession: m.Speaker,
		SpeakerName:    m.SpeakerName,
		MimicName:      m.Name,
		MimicSession:   m.session,
		At:             o.loop.Now(),
		Detail:         detail,
	})
}

func (o *Orchestrator) publish(e Event) {
	if o.opts.Events != nil {
		o.opts.Events.Publish(e)
	}
}

// Shutdown stops the relay and disconnects every mimic. Queued audio is
// discarded. err is the reason the listener went away, if any.
func (o *Orchestrator) Shutdown(err error) {
	if o.closed {
		return
	}
	o.closed = true
	o.err = err
	if o.tick != nil {
		o.tick.Stop()
		o.tick = nil
	}
	if o.report != nil {
		o.report.Stop()
		o.report = nil
	}

	for _, speaker := range util.SortedKeys(o.speakers) {
		m := o.speakers[speaker]
		m.wantDisconnect = true
		if m.queue.Len() > 0 {
			o.log.Warn("discarding queued audio", "mimic", m.Name, "packets", m.queue.Len())
		}
		m.conn.Disconnect()
	}
	if err != nil {
		o.log.Error("listener disconnected", slog.Any("error", err))
	} else {
		o.log.Info("relay stopped")
	}
	close(o.done)
}

// Done is closed once the relay has shut down.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Err reports why the relay shut down.
func (o *Orchestrator) Err() error { return o.err }

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
