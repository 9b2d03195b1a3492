package voice_test

import (
	"errors"
	"testing"

	"github.com/glizzus/delay-relay/internal/voice"
	"github.com/google/go-cmp/cmp"
)

func TestSplitFrames(t *testing.T) {
	table := []struct {
		name    string
		payload []byte
		want    voice.Frames
	}{
		{
			name:    "single terminal frame",
			payload: []byte{0x05, 127 + 2, 0xaa, 0xbb},
			want: voice.Frames{
				Sequence: 5,
				Frames:   [][]byte{{0xaa, 0xbb}},
				Trailing: []byte{},
			},
		},
		{
			name:    "continuation then terminal",
			payload: []byte{0x80, 0x90, 0x02, 0x01, 0x02, 127 + 1, 0x03},
			want: voice.Frames{
				Sequence: 0x90,
				Frames:   [][]byte{{0x01, 0x02}, {0x03}},
				Trailing: []byte{},
			},
		},
		{
			name:    "terminal frame leaves trailing bytes unparsed",
			payload: []byte{0x01, 127 + 1, 0x07, 0x02, 0xde, 0xad},
			want: voice.Frames{
				Sequence: 1,
				Frames:   [][]byte{{0x07}},
				Trailing: []byte{0x02, 0xde, 0xad},
			},
		},
		{
			name:    "buffer exhausted without terminal",
			payload: []byte{0x02, 0x01, 0x09, 0x02, 0x0a, 0x0b},
			want: voice.Frames{
				Sequence: 2,
				Frames:   [][]byte{{0x09}, {0x0a, 0x0b}},
				Trailing: []byte{},
			},
		},
		{
			name:    "sequence only",
			payload: []byte{0x03},
			want: voice.Frames{
				Sequence: 3,
				Trailing: []byte{},
			},
		},
	}

	for _, tc := range table {
		t.Run(tc.name, func(t *testing.T) {
			got, err := voice.SplitFrames(tc.payload)
			if err != nil {
				t.Fatalf("SplitFrames(%x) returned error: %v", tc.payload, err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("SplitFrames(%x) mismatch (-want +got):\n%s", tc.payload, diff)
			}
		})
	}
}

func TestSplitFramesTruncated(t *testing.T) {
	table := []struct {
		name    string
		payload []byte
	}{
		{name: "continuation frame too long", payload: []byte{0x00, 0x05, 0x01, 0x02}},
		{name: "terminal frame too long", payload: []byte{0x00, 0x01, 0x01, 127 + 3, 0x01}},
	}

	for _, tc := range table {
		t.Run(tc.name, func(t *testing.T) {
			_, err := voice.SplitFrames(tc.payload)
			if !errors.Is(err, voice.ErrTruncatedFrame) {
				t.Errorf("SplitFrames(%x) error = %v; want ErrTruncatedFrame", tc.payload, err)
			}
		})
	}
}

func TestSplitFramesBadSequence(t *testing.T) {
	_, err := voice.SplitFrames([]byte{0xc0})
	if !errors.Is(err, voice.ErrMalformedVarint) {
		t.Errorf("SplitFrames error = %v; want ErrMalformedVarint", err)
	}
}

func TestSplitOpusFrame(t *testing.T) {
	payload := []byte{0x07, 0x80 | 0x20, 0x03, 0x01, 0x02, 0x03, 0xff}
	got, terminator, err := voice.SplitOpusFrame(payload)
	if err != nil {
		t.Fatalf("SplitOpusFrame returned error: %v", err)
	}
	want := voice.Frames{
		Sequence: 7,
		Frames:   [][]byte{{0x01, 0x02, 0x03}},
		Trailing: []byte{0xff},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SplitOpusFrame mismatch (-want +got):\n%s", diff)
	}
	if !terminator {
		t.Errorf("expected terminator bit to be reported")
	}

	if _, _, err := voice.SplitOpusFrame([]byte{0x07, 0x05, 0x01}); !errors.Is(err, voice.ErrTruncatedFrame) {
		t.Errorf("SplitOpusFrame error = %v; want ErrTruncatedFrame", err)
	}
}
