package relay

import (
	"time"

	"github.com/glizzus/delay-relay/internal/mumble"
)

// Conn is a mimic's connection. Connect must not report through the hooks
// before it returns.
type Conn interface {
	Connect()
	Disconnect()
	SendAudio(packet []byte) error
}

// Dialer creates an unstarted connection that joins the destination channel
// under the given nickname.
type Dialer func(nickname string, hooks mumble.Hooks) Conn

// Recorder receives every packet a mimic re-emits. Close is called once the
// mimic is gone and must not block.
type Recorder interface {
	Record(at time.Time, packet []byte)
	Close()
}

// RecorderFactory starts a recording for a mimic. It may return nil to skip
// recording.
type RecorderFactory func(id string, speakerName string) Recorder

// State is where a mimic is in its lifecycle.
type State string

const (
	StateConnecting   State = "connecting"
	StateMimicking    State = "mimicking"
	StateDraining     State = "draining"
	StateReconnecting State = "reconnecting"
)

// Mimic re-emits one speaker's audio, delayed, in the destination channel.
type Mimic struct {
	ID          string
	Speaker     uint32
	SpeakerName string
	Name        string
	// Attempt counts replacements after unexpected drops.
	Attempt int

	conn      Conn
	queue     *DelayQueue
	recorder  Recorder
	session   uint32
	connected bool
	// wantDisconnect is set once the speaker has left the source channel.
	wantDisconnect bool
	gone           bool
	sent           int
}

func (m *Mimic) state() State {
	switch {
	case m.wantDisconnect:
		return StateDraining
	case m.connected:
		return StateMimicking
	case m.Attempt > 0:
		return StateReconnecting
	}
	return StateConnecting
}

// MimicStatus is a point-in-time view of a mimic.
type MimicStatus struct {
	Speaker     uint32
	SpeakerName string
	Name        string
	Session     uint32
	State       State
	Queued      int
	Sent        int
	Attempt     int
}

func (m *Mimic) status() MimicStatus {
	return MimicStatus{
		Speaker:     m.Speaker,
		SpeakerName: m.SpeakerName,
		Name:        m.Name,
		Session:     m.session,
		State:       m.state(),
		Queued:      m.queue.Len(),
		Sent:        m.sent,
		Attempt:     m.Attempt,
	}
}
