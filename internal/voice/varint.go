package voice

import (
	"errors"
	"fmt"
)

// ErrMalformedVarint is returned when a buffer does not hold a complete
// varint at the requested offset.
var ErrMalformedVarint = errors.New("malformed varint")

// DecodeVarint decodes the variable-length integer starting at buf[offset].
// It returns the value and the number of bytes it was stored in.
func DecodeVarint(buf []byte, offset int) (int64, int, error) {
	if offset < 0 || offset >= len(buf) {
		return 0, 0, fmt.Errorf("%w: offset %d outside buffer of %d bytes", ErrMalformedVarint, offset, len(buf))
	}

	b := buf[offset]
	switch {
	case b&0xfc == 0xf8:
		if offset+1 >= len(buf) {
			return 0, 0, fmt.Errorf("%w: negation marker at end of buffer", ErrMalformedVarint)
		}
		// Only a plain magnitude may follow the marker.
		if next := buf[offset+1]; next&0xf8 == 0xf8 {
			return 0, 0, fmt.Errorf("%w: prefix 0x%02x after negation marker", ErrMalformedVarint, next)
		}
		v, n, err := decodeMagnitude(buf, offset+1)
		if err != nil {
			return 0, 0, err
		}
		return -v, n + 1, nil
	case b&0xfc == 0xfc:
		return -int64(b & 0x03), 1, nil
	}
	return decodeMagnitude(buf, offset)
}

// decodeMagnitude decodes the non-negative classes. buf[offset] must exist.
func decodeMagnitude(buf []byte, offset int) (int64, int, error) {
	b := buf[offset]
	need := func(n int) error {
		if len(buf)-offset < n {
			return fmt.Errorf("%w: need %d bytes, have %d", ErrMalformedVarint, n, len(buf)-offset)
		}
		return nil
	}

	switch {
	case b&0x80 == 0x00:
		return int64(b & 0x7f), 1, nil
	case b&0xc0 == 0x80:
		if err := need(2); err != nil {
			return 0, 0, err
		}
		return int64(b&0x3f)<<8 | int64(buf[offset+1]), 2, nil
	case b&0xe0 == 0xc0:
		if err := need(3); err != nil {
			return 0, 0, err
		}
		return int64(b&0x1f)<<16 | int64(buf[offset+1])<<8 | int64(buf[offset+2]), 3, nil
	case b&0xf0 == 0xe0:
		if err := need(4); err != nil {
			return 0, 0, err
		}
		return int64(b&0x0f)<<24 | int64(buf[offset+1])<<16 | int64(buf[offset+2])<<8 | int64(buf[offset+3]), 4, nil
	case b&0xfc == 0xf0:
		if err := need(5); err != nil {
			return 0, 0, err
		}
		return int64(readUint(buf[offset+1 : offset+5])), 5, nil
	case b&0xfc == 0xf4:
		if err := need(9); err != nil {
			return 0, 0, err
		}
		return int64(readUint(buf[offset+1 : offset+9])), 9, nil
	}
	return 0, 0, fmt.Errorf("%w: unexpected prefix 0x%02x", ErrMalformedVarint, b)
}

func readUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// AppendVarint appends the shortest encoding of v to dst.
func AppendVarint(dst []byte, v int64) []byte {
	if v < 0 {
		if v >= -3 {
			return append(dst, 0xfc|byte(-v))
		}
		// -v wraps for math.MinInt64; as unsigned it is still the magnitude.
		return appendUvarint(append(dst, 0xf8), uint64(-v))
	}
	return appendUvarint(dst, uint64(v))
}

func appendUvarint(dst []byte, u uint64) []byte {
	switch {
	case u < 0x80:
		return append(dst, byte(u))
	case u < 0x4000:
		return append(dst, 0x80|byte(u>>8), byte(u))
	case u < 0x200000:
		return append(dst, 0xc0|byte(u>>16), byte(u>>8), byte(u))
	case u < 0x10000000:
		return append(dst, 0xe0|byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
	case u <= 0xffffffff:
		return append(dst, 0xf0, byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
	}
	return append(dst, 0xf4,
		byte(u>>56), byte(u>>48), byte(u>>40), byte(u>>32),
		byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}

// EncodeVarint returns the shortest encoding of v.
func EncodeVarint(v int64) []byte {
	return AppendVarint(make([]byte, 0, 9), v)
}
