package recording

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/glizzus/delay-relay/internal/voice"
	"github.com/jonas747/ogg"
)

// Summary describes a stored recording.
type Summary struct {
	Codec  voice.Codec
	Frames int
	Bytes  int
	// Sizes holds the length of each frame in order.
	Sizes []int
}

// Read decodes a recording and calls fn, if not nil, with every frame.
func Read(r io.Reader, fn func(frame []byte)) (Summary, error) {
	dec := ogg.NewPacketDecoder(ogg.NewDecoder(r))

	first, _, err := dec.Decode()
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read header: %w", err)
	}
	if len(first) != len(Magic)+2 || !bytes.HasPrefix(first, []byte(Magic)) {
		return Summary{}, ErrNotRecording
	}
	if v := first[len(Magic)]; v != Version {
		return Summary{}, fmt.Errorf("%w: unsupported version %d", ErrNotRecording, v)
	}

	s := Summary{Codec: voice.Codec(first[len(Magic)+1])}
	for {
		packet, _, err := dec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return s, nil
			}
			return s, fmt.Errorf("failed to read frame %d: %w", s.Frames, err)
		}
		// The end-of-stream page carries no audio.
		if len(packet) == 0 {
			continue
		}
		s.Frames++
		s.Bytes += len(packet)
		s.Sizes = append(s.Sizes, len(packet))
		if fn != nil {
			fn(packet)
		}
	}
}
