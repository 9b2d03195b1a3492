package mumble

import (
	"encoding/binary"
	"fmt"

	"github.com/glizzus/delay-relay/internal/mumbleproto"
)

// HeaderSize is the size of the frame header: a big-endian uint16 type id
// followed by a big-endian uint32 body length.
const HeaderSize = 6

// DefaultMaxBodySize bounds the body length a FrameDecoder accepts.
const DefaultMaxBodySize = 8 << 20

// FrameSizeError is returned when a frame header declares a body larger than
// the decoder accepts. The stream cannot be resynchronised after it.
type FrameSizeError struct {
	Kind   mumbleproto.Kind
	Length uint32
	Max    uint32
}

func (e *FrameSizeError) Error() string {
	return fmt.Sprintf("frame of type %s declares %d bytes, max %d", e.Kind, e.Length, e.Max)
}

var _ error = (*FrameSizeError)(nil)

type decoderState int

const (
	awaitingHeader decoderState = iota
	awaitingBody
)

// FrameDecoder reassembles frames from a byte stream delivered in chunks of
// any size.
//
// The callbacks run synchronously from Feed. Errors reported through OnError
// concern a single frame; decoding continues with the next one.
type FrameDecoder struct {
	OnAudio   func(body []byte)
	OnMessage func(msg mumbleproto.Message)
	OnUnknown func(kind mumbleproto.Kind, body []byte)
	OnError   func(kind mumbleproto.Kind, err error)

	MaxBodySize uint32

	state decoderState
	need  int
	kind  mumbleproto.Kind
	buf   []byte
}

// NewFrameDecoder returns a decoder waiting for its first header.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{
		MaxBodySize: DefaultMaxBodySize,
		state:       awaitingHeader,
		need:        HeaderSize,
	}
}

// Feed consumes chunk. It returns an error only when the stream itself is
// unusable; the decoder must not be fed again afterwards.
func (d *FrameDecoder) Feed(chunk []byte) error {
	for len(chunk) > 0 {
		take := d.need - len(d.buf)
		if take > len(chunk) {
			take = len(chunk)
		}
		d.buf = append(d.buf, chunk[:take]...)
		chunk = chunk[take:]

		if len(d.buf) < d.need {
			return nil
		}
		if err := d.complete(); err != nil {
			return err
		}
	}
	return nil
}

// Buffered reports how many bytes of the current header or body are held.
func (d *FrameDecoder) Buffered() int { return len(d.buf) }

func (d *FrameDecoder) complete() error {
	switch d.state {
	case awaitingHeader:
		d.kind = mumbleproto.Kind(binary.BigEndian.Uint16(d.buf[0:2]))
		length := binary.BigEndian.Uint32(d.buf[2:6])
		if d.MaxBodySize > 0 && length > d.MaxBodySize {
			return &FrameSizeError{Kind: d.kind, Length: length, Max: d.MaxBodySize}
		}
		d.buf = d.buf[:0]
		if length == 0 {
			d.deliver(nil)
			d.need = HeaderSize
			return nil
		}
		d.state = awaitingBody
		d.need = int(length)
	case awaitingBody:
		// Callbacks may keep the body, so hand over this buffer and start a
		// fresh one.
		body := d.buf
		d.buf = nil
		d.state = awaitingHeader
		d.need = HeaderSize
		d.deliver(body)
	}
	return nil
}

func (d *FrameDecoder) deliver(body []byte) {
	if d.kind == mumbleproto.KindAudio {
		if d.OnAudio != nil {
			d.OnAudio(body)
		}
		return
	}

	if !d.kind.Known() {
		if d.OnUnknown != nil {
			d.OnUnknown(d.kind, body)
		}
		return
	}

	msg, err := mumbleproto.Unmarshal(d.kind, body)
	if err != nil {
		if d.OnError != nil {
			d.OnError(d.kind, err)
		}
		return
	}
	if d.OnMessage != nil {
		d.OnMessage(msg)
	}
}

// AppendHeader appends a frame header to b.
func AppendHeader(b []byte, kind mumbleproto.Kind, length int) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(kind))
	return binary.BigEndian.AppendUint32(b, uint32(length))
}

// EncodeMessage frames a control message.
func EncodeMessage(msg mumbleproto.Message) ([]byte, error) {
	kind, body, err := mumbleproto.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if kind == mumbleproto.KindAudio {
		return nil, fmt.Errorf("%s is reserved for audio", kind)
	}
	out := make([]byte, 0, HeaderSize+len(body))
	out = AppendHeader(out, kind, len(body))
	return append(out, body...), nil
}

// EncodeAudio frames a voice packet with the reserved audio type.
func EncodeAudio(packet []byte) []byte {
	out := make([]byte, 0, HeaderSize+len(packet))
	out = AppendHeader(out, mumbleproto.KindAudio, len(packet))
	return append(out, packet...)
}
