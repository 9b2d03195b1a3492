package voice

import (
	"fmt"
)

// Codec is the audio type carried in the top three bits of a packet header.
type Codec uint8

const (
	CodecCELTAlpha Codec = 0
	CodecPing      Codec = 1
	CodecSpeex     Codec = 2
	CodecCELTBeta  Codec = 3
	CodecOpus      Codec = 4
)

func (c Codec) String() string {
	switch c {
	case CodecCELTAlpha:
		return "celt-alpha"
	case CodecPing:
		return "ping"
	case CodecSpeex:
		return "speex"
	case CodecCELTBeta:
		return "celt-beta"
	case CodecOpus:
		return "opus"
	}
	return fmt.Sprintf("codec(%d)", uint8(c))
}

// Packet is a voice packet received from the server over the control
// connection.
type Packet struct {
	Header  byte
	Session uint32
	// Data is everything after the session varint: the sequence number, the
	// frames and any trailing positional data.
	Data []byte
}

// Codec reports the audio codec named by the header.
func (p Packet) Codec() Codec { return Codec(p.Header >> 5) }

// Target reports the voice target named by the header.
func (p Packet) Target() byte { return p.Header & 0x1f }

// ParsePacket parses a server-to-client voice packet:
// header(1) | session varint | data.
func ParsePacket(body []byte) (Packet, error) {
	if len(body) == 0 {
		return Packet{}, fmt.Errorf("%w: empty voice packet", ErrMalformedVarint)
	}
	session, n, err := DecodeVarint(body, 1)
	if err != nil {
		return Packet{}, fmt.Errorf("failed to decode session: %w", err)
	}
	if session < 0 || session > 0xffffffff {
		return Packet{}, fmt.Errorf("%w: session %d out of range", ErrMalformedVarint, session)
	}
	return Packet{
		Header:  body[0],
		Session: uint32(session),
		Data:    body[1+n:],
	}, nil
}

// ParseOutgoing parses a client-to-server voice packet: header(1) | data.
// The session is left zero.
func ParseOutgoing(body []byte) (Packet, error) {
	if len(body) == 0 {
		return Packet{}, fmt.Errorf("%w: empty voice packet", ErrMalformedVarint)
	}
	return Packet{Header: body[0], Data: body[1:]}, nil
}

// Frames splits the packet data with the scheme matching its codec.
func (p Packet) Frames() (Frames, error) {
	if p.Codec() == CodecOpus {
		f, _, err := SplitOpusFrame(p.Data)
		return f, err
	}
	return SplitFrames(p.Data)
}

// Outgoing returns the client-to-server form of the packet: the header
// followed by the data, without the session.
func (p Packet) Outgoing() []byte {
	out := make([]byte, 0, 1+len(p.Data))
	out = append(out, p.Header)
	return append(out, p.Data...)
}

// AppendPacket builds a server-to-client packet, used by tests and the fake
// server.
func AppendPacket(dst []byte, header byte, session uint32, data []byte) []byte {
	dst = append(dst, header)
	dst = AppendVarint(dst, int64(session))
	return append(dst, data...)
}
