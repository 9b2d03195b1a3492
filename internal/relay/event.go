package relay

import "time"

type EventKind string

const (
	// EventTracked: a speaker entered the source channel and a mimic was
	// created for them.
	EventTracked EventKind = "tracked"
	// EventConnected: a mimic's session was established.
	EventConnected EventKind = "connected"
	// EventDraining: the speaker left, the mimic plays out its queue.
	EventDraining EventKind = "draining"
	// EventResumed: the speaker came back before the mimic drained.
	EventResumed EventKind = "resumed"
	// EventDisconnected: the mimic is gone.
	EventDisconnected EventKind = "disconnected"
	// EventReconnecting: the mimic dropped and a replacement was started.
	EventReconnecting EventKind = "reconnecting"
	// EventReport: periodic status.
	EventReport EventKind = "report"
	// EventRecorded: a mimic's recording was stored. Detail is the object
	// key.
	EventRecorded EventKind = "recorded"
)

// Event describes a change in a mimic's lifecycle.
type Event struct {
	ID   string
	Kind EventKind
	// MimicID is shared by every event of one mimic, replacements included.
	// Recordings are stored under it.
	MimicID        string
	SpeakerSession uint32
	SpeakerName    string
	MimicName      string
	MimicSession   uint32
	At             time.Time
	Detail         string
}

// EventSink receives events. The orchestrator publishes on the scheduler;
// Publish must not block.
type EventSink interface {
	Publish(event Event)
}
