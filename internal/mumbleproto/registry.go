// Package mumbleproto holds the control messages exchanged over the framed
// TCP stream and the registry mapping wire type ids to them.
//
// Message bodies are protobuf encoded. Only the messages the relay reads or
// writes have typed fields; every other kind round trips as Raw.
package mumbleproto

import (
	"errors"
	"fmt"
)

// ErrUnknownKind is returned for a wire type id outside the registry.
var ErrUnknownKind = errors.New("unknown message type")

// Kind is the wire type id of a control message. Ids index the registry by
// position.
type Kind uint16

const (
	KindVersion Kind = iota
	KindUDPTunnel
	KindAuthenticate
	KindPing
	KindReject
	KindServerSync
	KindChannelRemove
	KindChannelState
	KindUserRemove
	KindUserState
	KindBanList
	KindTextMessage
	KindPermissionDenied
	KindACL
	KindQueryUsers
	KindCryptSetup
	KindContextActionModify
	KindContextAction
	KindUserList
	KindVoiceTarget
	KindPermissionQuery
	KindCodecVersion
	KindUserStats
	KindRequestBlob
	KindServerConfig
	KindSuggestConfig
)

var kindNames = [...]string{
	"Version",
	"UDPTunnel",
	"Authenticate",
	"Ping",
	"Reject",
	"ServerSync",
	"ChannelRemove",
	"ChannelState",
	"UserRemove",
	"UserState",
	"BanList",
	"TextMessage",
	"PermissionDenied",
	"ACL",
	"QueryUsers",
	"CryptSetup",
	"ContextActionModify",
	"ContextAction",
	"UserList",
	"VoiceTarget",
	"PermissionQuery",
	"CodecVersion",
	"UserStats",
	"RequestBlob",
	"ServerConfig",
	"SuggestConfig",
}

// KindAudio is the reserved id of the tunnelled audio sub-stream. Its body is
// a raw voice packet, never a registered message.
const KindAudio = KindUDPTunnel

func (k Kind) String() string {
	if k.Known() {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint16(k))
}

// Known reports whether k is inside the registry.
func (k Kind) Known() bool { return int(k) < len(kindNames) }

// Kinds returns every registered kind in wire order.
func Kinds() []Kind {
	out := make([]Kind, len(kindNames))
	for i := range kindNames {
		out[i] = Kind(i)
	}
	return out
}

// Message is a control message that can be framed on the wire.
type Message interface {
	Kind() Kind
	// AppendWire appends the protobuf encoding of the message to b.
	AppendWire(b []byte) []byte
	// UnmarshalWire merges the protobuf encoding in b into the message.
	UnmarshalWire(b []byte) error
}

// New returns an empty message for kind.
func New(kind Kind) (Message, error) {
	switch kind {
	case KindVersion:
		return &Version{}, nil
	case KindAuthenticate:
		return &Authenticate{}, nil
	case KindPing:
		return &Ping{}, nil
	case KindReject:
		return &Reject{}, nil
	case KindServerSync:
		return &ServerSync{}, nil
	case KindChannelRemove:
		return &ChannelRemove{}, nil
	case KindChannelState:
		return &ChannelState{}, nil
	case KindUserRemove:
		return &UserRemove{}, nil
	case KindUserState:
		return &UserState{}, nil
	case KindTextMessage:
		return &TextMessage{}, nil
	case KindCryptSetup:
		return &CryptSetup{}, nil
	case KindPermissionQuery:
		return &PermissionQuery{}, nil
	case KindCodecVersion:
		return &CodecVersion{}, nil
	case KindServerConfig:
		return &ServerConfig{}, nil
	}
	if !kind.Known() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint16(kind))
	}
	return &Raw{K: kind}, nil
}

// Unmarshal decodes body as a message of the given kind.
func Unmarshal(kind Kind, body []byte) (Message, error) {
	msg, err := New(kind)
	if err != nil {
		return nil, err
	}
	if err := msg.UnmarshalWire(body); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", kind, err)
	}
	return msg, nil
}

// Marshal returns the kind and body of msg.
func Marshal(msg Message) (Kind, []byte, error) {
	kind := msg.Kind()
	if !kind.Known() {
		return 0, nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint16(kind))
	}
	return kind, msg.AppendWire(nil), nil
}

// Raw is a registered message the relay does not interpret. The body is kept
// as received.
type Raw struct {
	K    Kind
	Body []byte
}

func (m *Raw) Kind() Kind { return m.K }

func (m *Raw) AppendWire(b []byte) []byte { return append(b, m.Body...) }

func (m *Raw) UnmarshalWire(b []byte) error {
	m.Body = append(m.Body[:0], b...)
	return nil
}
