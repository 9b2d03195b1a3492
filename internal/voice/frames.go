package voice

import (
	"errors"
	"fmt"
)

// ErrTruncatedFrame is returned when a frame header declares more bytes than
// the payload holds.
var ErrTruncatedFrame = errors.New("truncated audio frame")

// Frames is the result of splitting a voice payload.
type Frames struct {
	Sequence int64
	Frames   [][]byte
	// Trailing holds whatever followed the last frame, typically positional
	// audio data. It is not parsed.
	Trailing []byte
}

// SplitFrames splits a CELT/Speex voice payload: a sequence varint followed
// by frames, each prefixed with one length byte. A byte below 128 is the
// length of a frame with more to follow; 128 and above is the final frame,
// with length b-127.
//
// The returned slices alias payload.
func SplitFrames(payload []byte) (Frames, error) {
	seq, n, err := DecodeVarint(payload, 0)
	if err != nil {
		return Frames{}, fmt.Errorf("failed to decode sequence: %w", err)
	}

	out := Frames{Sequence: seq}
	pos := n
	for pos < len(payload) {
		header := int(payload[pos])
		length, last := header, false
		if header > 127 {
			length, last = header-127, true
		}

		start := pos + 1
		end := start + length
		if end > len(payload) {
			return Frames{}, fmt.Errorf("%w: frame %d declares %d bytes, %d remain",
				ErrTruncatedFrame, len(out.Frames), length, len(payload)-start)
		}
		out.Frames = append(out.Frames, payload[start:end])
		pos = end
		if last {
			break
		}
	}
	out.Trailing = payload[pos:]
	return out, nil
}

// SplitOpusFrame splits an Opus voice payload: a sequence varint, a varint
// header whose low 13 bits are the frame size and whose 0x2000 bit marks the
// end of the transmission, then the frame itself.
func SplitOpusFrame(payload []byte) (Frames, bool, error) {
	seq, n, err := DecodeVarint(payload, 0)
	if err != nil {
		return Frames{}, false, fmt.Errorf("failed to decode sequence: %w", err)
	}
	header, hn, err := DecodeVarint(payload, n)
	if err != nil {
		return Frames{}, false, fmt.Errorf("failed to decode opus header: %w", err)
	}

	size := int(header & 0x1fff)
	terminator := header&0x2000 != 0
	start := n + hn
	if start+size > len(payload) {
		return Frames{}, false, fmt.Errorf("%w: opus frame declares %d bytes, %d remain",
			ErrTruncatedFrame, size, len(payload)-start)
	}

	return Frames{
		Sequence: seq,
		Frames:   [][]byte{payload[start : start+size]},
		Trailing: payload[start+size:],
	}, terminator, nil
}
