package voice_test

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/glizzus/delay-relay/internal/voice"
)

func TestDecodeVarintReencodes(t *testing.T) {
	table := []struct {
		name  string
		input []byte
		want  int64
	}{
		{name: "1 byte zero", input: []byte{0x00}, want: 0},
		{name: "1 byte max", input: []byte{0x7f}, want: 127},
		{name: "2 byte min", input: []byte{0x80, 0x80}, want: 128},
		{name: "2 byte max", input: []byte{0xbf, 0xff}, want: 0x3fff},
		{name: "3 byte", input: []byte{0xc1, 0x02, 0x03}, want: 0x010203},
		{name: "3 byte max", input: []byte{0xdf, 0xff, 0xff}, want: 0x1fffff},
		{name: "4 byte", input: []byte{0xe1, 0x02, 0x03, 0x04}, want: 0x01020304},
		{name: "4 byte max", input: []byte{0xef, 0xff, 0xff, 0xff}, want: 0x0fffffff},
		{name: "5 byte", input: []byte{0xf0, 0x10, 0x00, 0x00, 0x00}, want: 0x10000000},
		{name: "5 byte max", input: []byte{0xf0, 0xff, 0xff, 0xff, 0xff}, want: 0xffffffff},
		{name: "9 byte", input: []byte{0xf4, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00}, want: 0x100000000},
		{name: "9 byte max", input: []byte{0xf4, 0x7f, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, want: math.MaxInt64},
		{name: "small negative", input: []byte{0xfd}, want: -1},
		{name: "small negative max", input: []byte{0xff}, want: -3},
		{name: "negated", input: []byte{0xf8, 0x04}, want: -4},
		{name: "negated 2 byte", input: []byte{0xf8, 0x81, 0x00}, want: -256},
	}

	for _, tc := range table {
		t.Run(tc.name, func(t *testing.T) {
			got, n, err := voice.DecodeVarint(tc.input, 0)
			if err != nil {
				t.Fatalf("DecodeVarint(%x) returned error: %v", tc.input, err)
			}
			if got != tc.want {
				t.Errorf("DecodeVarint(%x) = %d; want %d", tc.input, got, tc.want)
			}
			if n != len(tc.input) {
				t.Errorf("DecodeVarint(%x) consumed %d bytes; want %d", tc.input, n, len(tc.input))
			}
			if enc := voice.EncodeVarint(got); !bytes.Equal(enc, tc.input) {
				t.Errorf("EncodeVarint(%d) = %x; want %x", got, enc, tc.input)
			}
		})
	}
}

func TestVarintRoundTrip(t *testing.T) {
	values := []int64{
		0, 1, 127, 128, 0x3fff, 0x4000, 0x1fffff, 0x200000,
		0x0fffffff, 0x10000000, 0xffffffff, 0x100000000, math.MaxInt64,
		-1, -2, -3, -4, -128, -0x4000, -0xffffffff, math.MinInt64 + 1, math.MinInt64,
	}
	for _, v := range values {
		enc := voice.EncodeVarint(v)
		got, n, err := voice.DecodeVarint(enc, 0)
		if err != nil {
			t.Fatalf("DecodeVarint(EncodeVarint(%d)) returned error: %v", v, err)
		}
		if got != v || n != len(enc) {
			t.Errorf("DecodeVarint(EncodeVarint(%d)) = (%d, %d); want (%d, %d)", v, got, n, v, len(enc))
		}
	}
}

func TestDecodeVarintOffset(t *testing.T) {
	buf := []byte{0xaa, 0x80, 0x80, 0x05}
	got, n, err := voice.DecodeVarint(buf, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 128 || n != 2 {
		t.Errorf("DecodeVarint at offset 1 = (%d, %d); want (128, 2)", got, n)
	}
}

func TestDecodeVarintMalformed(t *testing.T) {
	table := []struct {
		name   string
		input  []byte
		offset int
	}{
		{name: "empty", input: nil},
		{name: "offset past end", input: []byte{0x01}, offset: 1},
		{name: "negative offset", input: []byte{0x01}, offset: -1},
		{name: "short 2 byte", input: []byte{0x80}},
		{name: "short 3 byte", input: []byte{0xc0, 0x00}},
		{name: "short 4 byte", input: []byte{0xe0, 0x00, 0x00}},
		{name: "short 5 byte", input: []byte{0xf0, 0x00, 0x00, 0x00}},
		{name: "short 9 byte", input: []byte{0xf4, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}},
		{name: "dangling negation", input: []byte{0xf8}},
		{name: "nested negation", input: []byte{0xf8, 0xf8, 0x04}},
		{name: "negated inline negative", input: []byte{0xf8, 0xfd}},
		{name: "negation run", input: bytes.Repeat([]byte{0xf8}, 1<<20)},
	}

	for _, tc := range table {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := voice.DecodeVarint(tc.input, tc.offset)
			if !errors.Is(err, voice.ErrMalformedVarint) {
				t.Errorf("DecodeVarint(%x, %d) error = %v; want ErrMalformedVarint", tc.input, tc.offset, err)
			}
		})
	}
}
