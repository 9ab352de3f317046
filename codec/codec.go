// Package codec implements the fixed-size key/value codec contract
// consumed by btree.Tree, plus concrete codecs for common Go types.
// Grounded on the teacher's fixed-width row encoding
// (internal/storage/pager/row_codec.go), which converts typed column
// values to and from byte slices the same way.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/pagedkv/pagedkv/kvengine"
)

// Codec converts a value of type T to and from a fixed-size byte
// record. Size() must return the same constant for the whole lifetime
// of the codec.
type Codec[T any] interface {
	// Size is the fixed record length in bytes.
	Size() int64
	// Serialize writes v into buf, which is exactly Size() bytes long.
	Serialize(v T, buf []byte)
	// Deserialize reads a value out of buf, which is exactly Size()
	// bytes long. It returns a wrapped kvengine.ErrCorruptData if buf
	// does not hold a valid encoding.
	Deserialize(buf []byte) (T, error)
}

// Uint64Codec encodes uint64 as 8 little-endian bytes.
type Uint64Codec struct{}

func (Uint64Codec) Size() int64 { return 8 }

func (Uint64Codec) Serialize(v uint64, buf []byte) {
	binary.LittleEndian.PutUint64(buf, v)
}

func (Uint64Codec) Deserialize(buf []byte) (uint64, error) {
	if len(buf) != 8 {
		return 0, fmt.Errorf("codec: uint64: %w: expected 8 bytes, got %d", kvengine.ErrCorruptData, len(buf))
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// Int64Codec encodes int64 as 8 little-endian bytes, via the standard
// two's-complement bit pattern, which preserves ordering for the
// application's comparator to interpret (the codec itself does not
// impose ordering — that is the comparator's job, per spec.md §4.3).
type Int64Codec struct{}

func (Int64Codec) Size() int64 { return 8 }

func (Int64Codec) Serialize(v int64, buf []byte) {
	binary.LittleEndian.PutUint64(buf, uint64(v))
}

func (Int64Codec) Deserialize(buf []byte) (int64, error) {
	if len(buf) != 8 {
		return 0, fmt.Errorf("codec: int64: %w: expected 8 bytes, got %d", kvengine.ErrCorruptData, len(buf))
	}
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

// FixedString encodes a string into exactly N bytes: the string's bytes
// followed by zero padding. Serialize rejects nothing: a string longer
// than N is truncated to its first N bytes. Deserialize strips trailing
// zero bytes, so a string that itself ends in zero bytes does not
// round-trip.
type FixedString struct {
	N int64
}

func (c FixedString) Size() int64 { return c.N }

func (c FixedString) Serialize(v string, buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	copy(buf, v)
}

func (c FixedString) Deserialize(buf []byte) (string, error) {
	if int64(len(buf)) != c.N {
		return "", fmt.Errorf("codec: fixed string: %w: expected %d bytes, got %d", kvengine.ErrCorruptData, c.N, len(buf))
	}
	end := len(buf)
	for end > 0 && buf[end-1] == 0 {
		end--
	}
	return string(buf[:end]), nil
}

// FixedBytes passes a fixed-length []byte slice through unchanged; it
// is the identity codec for already-fixed-size binary keys/values.
type FixedBytes struct {
	N int64
}

func (c FixedBytes) Size() int64 { return c.N }

func (c FixedBytes) Serialize(v []byte, buf []byte) {
	copy(buf, v)
}

func (c FixedBytes) Deserialize(buf []byte) ([]byte, error) {
	if int64(len(buf)) != c.N {
		return nil, fmt.Errorf("codec: fixed bytes: %w: expected %d bytes, got %d", kvengine.ErrCorruptData, c.N, len(buf))
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}
