package bptree

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Codec encodes and decodes a fixed-size value of type T to and from a
// byte slice of exactly Size() bytes. The engine assumes trivially
// copyable, fixed-width keys and values; Codec is how that assumption is
// expressed without resorting to unsafe pointer casts.
type Codec[T any] interface {
	// Size is the fixed encoded width in bytes. It must be > 0 and must
	// not vary across calls for a given Codec instance.
	Size() int

	// Encode writes v into dst, which is guaranteed to be exactly
	// Size() bytes long.
	Encode(dst []byte, v T)

	// Decode reads a value from src, which is guaranteed to be exactly
	// Size() bytes long.
	Decode(src []byte) T
}

// Uint64Codec encodes uint64 values in 8 bytes, little-endian.
type Uint64Codec struct{}

func (Uint64Codec) Size() int                  { return 8 }
func (Uint64Codec) Encode(dst []byte, v uint64) { binary.LittleEndian.PutUint64(dst, v) }
func (Uint64Codec) Decode(src []byte) uint64    { return binary.LittleEndian.Uint64(src) }

// Int64Codec encodes int64 values in 8 bytes, little-endian, via a
// sign-preserving bit cast.
type Int64Codec struct{}

func (Int64Codec) Size() int { return 8 }
func (Int64Codec) Encode(dst []byte, v int64) {
	binary.LittleEndian.PutUint64(dst, uint64(v))
}
func (Int64Codec) Decode(src []byte) int64 {
	return int64(binary.LittleEndian.Uint64(src))
}

// Uint32Codec encodes uint32 values in 4 bytes, little-endian.
type Uint32Codec struct{}

func (Uint32Codec) Size() int                  { return 4 }
func (Uint32Codec) Encode(dst []byte, v uint32) { binary.LittleEndian.PutUint32(dst, v) }
func (Uint32Codec) Decode(src []byte) uint32    { return binary.LittleEndian.Uint32(src) }

// Float64Codec encodes float64 values in 8 bytes via their IEEE-754 bit
// pattern, little-endian.
type Float64Codec struct{}

func (Float64Codec) Size() int { return 8 }
func (Float64Codec) Encode(dst []byte, v float64) {
	binary.LittleEndian.PutUint64(dst, math.Float64bits(v))
}
func (Float64Codec) Decode(src []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(src))
}

// FixedBytesCodec encodes a fixed-length byte slice, e.g. a 16-byte UUID
// or a short fixed-width string, by direct copy.
type FixedBytesCodec struct{ Width int }

// NewFixedBytesCodec returns a codec for byte slices of exactly width
// bytes. Encode panics on a length mismatch: a caller passing the wrong
// width is a programming error, not a recoverable condition.
func NewFixedBytesCodec(width int) FixedBytesCodec {
	if width <= 0 {
		panic("bptree: fixed byte codec width must be > 0")
	}
	return FixedBytesCodec{Width: width}
}

func (c FixedBytesCodec) Size() int { return c.Width }

func (c FixedBytesCodec) Encode(dst []byte, v []byte) {
	if len(v) != c.Width {
		panic(fmt.Sprintf("bptree: fixed byte codec: value has length %d, want %d", len(v), c.Width))
	}
	copy(dst, v)
}

func (c FixedBytesCodec) Decode(src []byte) []byte {
	out := make([]byte, c.Width)
	copy(out, src)
	return out
}
