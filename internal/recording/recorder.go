// Package recording stores what each mimic re-emits as an Ogg stream.
//
// A recording starts with one header packet, Magic followed by a version byte
// and the codec number, then carries one Ogg packet per audio frame, each on
// its own page with the voice packet's sequence number as granule position.
// An empty end-of-stream page closes the stream.
package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glizzus/delay-relay/internal/datalayer"
	"github.com/glizzus/delay-relay/internal/generator"
	"github.com/glizzus/delay-relay/internal/relay"
	"github.com/glizzus/delay-relay/internal/voice"
	"github.com/jonas747/ogg"
)

const (
	Magic       = "DelayRelay"
	Version     = 1
	ContentType = "audio/ogg"

	// DefaultMaxBytes stops a recording from growing without bound when a
	// speaker never leaves.
	DefaultMaxBytes = 64 << 20

	uploadTimeout = time.Minute
)

var ErrNotRecording = errors.New("not a delay-relay recording")

// Key is where the recording of mimic id for speakerName is stored.
func Key(speakerName, id string) string {
	return "recordings/" + sanitize(speakerName) + "/" + id + ".ogg"
}

func sanitize(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		}
		return '_'
	}, name)
	if clean == "" || strings.Trim(clean, ".") == "" {
		return "_"
	}
	return clean
}

func header(codec voice.Codec) []byte {
	return append([]byte(Magic), Version, byte(codec))
}

// Recorder encodes one mimic's audio into memory. Record and Close are
// called from the relay loop; the upload runs in the background.
type Recorder struct {
	id      string
	speaker string
	factory *Factory

	buf     bytes.Buffer
	enc     *ogg.Encoder
	codec   voice.Codec
	started time.Time
	last    time.Time
	frames  int

	full   bool
	closed bool
	log    *slog.Logger
}

var _ relay.Recorder = (*Recorder)(nil)

// Record appends the frames of an outgoing voice packet. Packets that do not
// parse, or whose codec differs from the first packet's, are skipped.
func (r *Recorder) Record(at time.Time, packet []byte) {
	if r.closed || r.full {
		return
	}
	p, err := voice.ParseOutgoing(packet)
	if err != nil {
		r.log.Debug("skipping unparsable packet", slog.Any("error", err))
		return
	}
	frames, err := p.Frames()
	if err != nil {
		r.log.Debug("skipping packet with bad frames", slog.Any("error", err))
		return
	}

	if r.enc == nil {
		r.codec = p.Codec()
		r.started = at
		r.enc = ogg.NewEncoder(serial(r.id), &r.buf)
		if err := r.enc.EncodeBOS(0, header(r.codec)); err != nil {
			r.fail(err)
			return
		}
	} else if p.Codec() != r.codec {
		r.log.Debug("skipping packet with a different codec", "codec", p.Codec(), "recording", r.codec)
		return
	}

	written := 0
	for _, f := range frames.Frames {
		if len(f) == 0 {
			continue
		}
		if err := r.enc.Encode(frames.Sequence, f); err != nil {
			r.fail(err)
			return
		}
		written++
	}
	if written == 0 {
		return
	}
	r.frames += written
	r.last = at

	if r.buf.Len() >= r.factory.maxBytes {
		r.log.Warn("recording reached its size limit", "bytes", r.buf.Len())
		if err := r.finish(); err != nil {
			r.fail(err)
			return
		}
		r.full = true
	}
}

func (r *Recorder) finish() error {
	if r.enc == nil {
		return nil
	}
	return r.enc.EncodeEOS()
}

func (r *Recorder) fail(err error) {
	r.log.Error("failed to encode recording", slog.Any("error", err))
	r.closed = true
	r.buf.Reset()
}

// Close ends the stream and uploads it in the background. A recording with
// no frames is discarded.
func (r *Recorder) Close() {
	if r.closed {
		return
	}
	r.closed = true
	if r.frames == 0 {
		return
	}
	if !r.full {
		if err := r.finish(); err != nil {
			r.log.Error("failed to finish recording", slog.Any("error", err))
			return
		}
	}
	r.factory.upload(r)
}

func serial(id string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return h.Sum32()
}

// Factory creates a Recorder per mimic and stores finished recordings.
type Factory struct {
	store    datalayer.BlobStorage
	events   relay.EventSink
	ids      generator.Generator[string]
	maxBytes int
	wg       sync.WaitGroup
	log      *slog.Logger
}

type FactoryOptions struct {
	// Events, when set, receives a recorded event after each upload.
	Events   relay.EventSink
	IDs      generator.Generator[string]
	MaxBytes int
}

func NewFactory(store datalayer.BlobStorage, opts FactoryOptions) *Factory {
	if opts.IDs == nil {
		opts.IDs = &generator.UUIDV4Generator{}
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	return &Factory{
		store:    store,
		events:   opts.Events,
		ids:      opts.IDs,
		maxBytes: opts.MaxBytes,
		log:      slog.With("component", "recording"),
	}
}

// New starts a recording. It matches relay.RecorderFactory.
func (f *Factory) New(id, speakerName string) relay.Recorder {
	return &Recorder{
		id:      id,
		speaker: speakerName,
		factory: f,
		log:     f.log.With("mimicID", id, "speaker", speakerName),
	}
}

func (f *Factory) upload(r *Recorder) {
	key := Key(r.speaker, r.id)
	data := r.buf.Bytes()
	frames, started, ended := r.frames, r.started, r.last

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
		defer cancel()

		err := f.store.Put(ctx, key, bytes.NewReader(data), datalayer.PutOptions{
			Size:        int64(len(data)),
			ContentType: ContentType,
		})
		if err != nil {
			r.log.Error("failed to upload recording", "key", key, slog.Any("error", err))
			return
		}
		r.log.Info("stored recording", "key", key, "frames", frames, "bytes", len(data))

		if f.events == nil {
			return
		}
		id, err := f.ids.Next()
		if err != nil {
			r.log.Warn("failed to generate id", slog.Any("error", err))
			return
		}
		f.events.Publish(relay.Event{
			ID:          id,
			Kind:        relay.EventRecorded,
			MimicID:     r.id,
			SpeakerName: r.speaker,
			At:          ended,
			Detail:      fmt.Sprintf("%s (%d frames, %s)", key, frames, ended.Sub(started).Round(time.Millisecond)),
		})
	}()
}

// Wait blocks until every upload started so far has finished.
func (f *Factory) Wait() {
	f.wg.Wait()
}
