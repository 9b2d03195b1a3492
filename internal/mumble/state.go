package mumble

import (
	"sort"

	"github.com/glizzus/delay-relay/internal/mumbleproto"
)

// User is the client's view of one connected user.
type User struct {
	Session         uint32
	Name            string
	UserID          uint32
	Registered      bool
	ChannelID       uint32
	Mute            bool
	Deaf            bool
	Suppress        bool
	SelfMute        bool
	SelfDeaf        bool
	PrioritySpeaker bool
	Recording       bool
	Comment         string
	Hash            string
}

// Channel is the client's view of one channel.
type Channel struct {
	ID          uint32
	Parent      uint32
	Name        string
	Description string
	Temporary   bool
	Position    int32
}

// state holds the users and channels announced on one connection. It is
// owned by a single Client and never shared.
type state struct {
	users    map[uint32]*User
	channels map[uint32]*Channel
}

func newState() *state {
	return &state{
		users:    make(map[uint32]*User),
		channels: make(map[uint32]*Channel),
	}
}

// applyUserState merges the fields present in msg into the user's record,
// creating it if needed. Actor is never applied.
func (s *state) applyUserState(msg *mumbleproto.UserState) *User {
	if msg.Session == nil {
		return nil
	}
	u, ok := s.users[*msg.Session]
	if !ok {
		u = &User{Session: *msg.Session}
		s.users[*msg.Session] = u
	}

	setString(&u.Name, msg.Name)
	if msg.UserID != nil {
		u.UserID = *msg.UserID
		u.Registered = true
	}
	setUint32(&u.ChannelID, msg.ChannelID)
	setBool(&u.Mute, msg.Mute)
	setBool(&u.Deaf, msg.Deaf)
	setBool(&u.Suppress, msg.Suppress)
	setBool(&u.SelfMute, msg.SelfMute)
	setBool(&u.SelfDeaf, msg.SelfDeaf)
	setBool(&u.PrioritySpeaker, msg.PrioritySpeaker)
	setBool(&u.Recording, msg.Recording)
	setString(&u.Comment, msg.Comment)
	setString(&u.Hash, msg.Hash)
	return u
}

func (s *state) removeUser(session uint32) (*User, bool) {
	u, ok := s.users[session]
	delete(s.users, session)
	return u, ok
}

func (s *state) applyChannelState(msg *mumbleproto.ChannelState) *Channel {
	if msg.ChannelID == nil {
		return nil
	}
	ch, ok := s.channels[*msg.ChannelID]
	if !ok {
		ch = &Channel{ID: *msg.ChannelID}
		s.channels[*msg.ChannelID] = ch
	}
	setUint32(&ch.Parent, msg.Parent)
	setString(&ch.Name, msg.Name)
	setString(&ch.Description, msg.Description)
	setBool(&ch.Temporary, msg.Temporary)
	if msg.Position != nil {
		ch.Position = *msg.Position
	}
	return ch
}

func (s *state) sortedUsers() []User {
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Session < out[j].Session })
	return out
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setUint32(dst *uint32, v *uint32) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
