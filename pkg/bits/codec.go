package bits

import (
	"errors"
	"fmt"
)

// ByteOrder selects the byte significance of an encoded integer.
type ByteOrder int

const (
	BigEndian ByteOrder = iota
	LittleEndian
)

func (o ByteOrder) String() string {
	if o == LittleEndian {
		return "little-endian"
	}
	return "big-endian"
}

// MaxWidth is the widest integer the codec handles, in bytes.
const MaxWidth = 4

var (
	// ErrRange is returned when a value does not fit the requested width.
	ErrRange = errors.New("value out of range")
	// ErrWidth is returned for widths outside 1..MaxWidth.
	ErrWidth = errors.New("unsupported byte width")
)

// Encode writes n as an unsigned integer of exactly width bytes.
// Negative values, values of 2^32 and above, and values that need more than
// width bytes are rejected with ErrRange.
func Encode(n int64, width int, order ByteOrder) ([]byte, error) {
	if width < 1 || width > MaxWidth {
		return nil, fmt.Errorf("encode %d on %d bytes: %w", n, width, ErrWidth)
	}
	if n < 0 || n >= 1<<32 || uint64(n)>>(8*uint(width)) != 0 {
		return nil, fmt.Errorf("encode %d on %d bytes: %w", n, width, ErrRange)
	}

	out := make([]byte, width)
	v := uint64(n)
	for i := 0; i < width; i++ {
		shift := 8 * uint(i)
		if order == BigEndian {
			out[width-1-i] = byte(v >> shift)
		} else {
			out[i] = byte(v >> shift)
		}
	}
	return out, nil
}

// MustEncode is Encode for values the caller has already bounded.
// It panics on error.
func MustEncode(n int64, width int, order ByteOrder) []byte {
	out, err := Encode(n, width, order)
	if err != nil {
		panic(err)
	}
	return out
}

// Decode reads an unsigned integer from b, which must be 1..MaxWidth bytes long.
func Decode(b []byte, order ByteOrder) (uint32, error) {
	if len(b) < 1 || len(b) > MaxWidth {
		return 0, fmt.Errorf("decode %d bytes: %w", len(b), ErrWidth)
	}

	var v uint32
	for i := range b {
		if order == BigEndian {
			v = v<<8 | uint32(b[i])
		} else {
			v = v<<8 | uint32(b[len(b)-1-i])
		}
	}
	return v, nil
}

// Uint16LE reads a little-endian 16-bit value at offset off.
// The caller guarantees the buffer is long enough.
func Uint16LE(b []byte, off int) uint16 {
	v, _ := Decode(b[off:off+2], LittleEndian)
	return uint16(v)
}

// Uint32LE reads a little-endian 32-bit value at offset off.
func Uint32LE(b []byte, off int) uint32 {
	v, _ := Decode(b[off:off+4], LittleEndian)
	return v
}
