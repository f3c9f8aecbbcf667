// Package codec implements the binary entry format used by metric regions.
//
// File format:
//   - Header:
//   - 4 bytes: u32 - total size of metrics in file.
//   - 4 bytes: NUL byte padding.
//   - Repeating metrics entries:
//   - 4 bytes: u32 - entry key size.
//   - N bytes: UTF-8 encoded JSON string used as entry key.
//   - (8 - (4 + N) % 8) bytes: 1 to 8 padding space (0x20) bytes to
//     reach 8-byte alignment.
//   - 8 bytes: f64 - entry value.
//
// All numbers are saved in native-endian format, buffers are not portable
// across architectures of different endianness.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// HeaderSize is the region header, the u32 used length plus reserved
	// padding.
	HeaderSize = 8

	// MaxKeyLen is the largest accepted entry key length.
	MaxKeyLen = math.MaxInt32

	u32Size = 4
	f64Size = 8
)

// ErrKeyLength is returned when an entry key exceeds MaxKeyLen.
var ErrKeyLength = fmt.Errorf("key length gt %d", int64(MaxKeyLen))

// BoundsError reports offset arithmetic landing outside a buffer. It is never
// retried, it indicates a programming bug or corrupted data.
type BoundsError struct {
	Offset int
	Len    int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("offset %d out of bounds of len %d", e.Offset, e.Len)
}

// OverflowError reports integer arithmetic on lengths or capacities that
// overflowed. Surfaced distinctly from BoundsError.
type OverflowError struct {
	A, B int
	Op   string
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("overflow when %s %d and %d", e.Op, e.A, e.B)
}

// AddChk adds a and b, failing with OverflowError instead of wrapping.
func AddChk(a, b int) (int, error) {
	s := a + b
	if b > 0 && s < a || b < 0 && s > a {
		return 0, &OverflowError{A: a, B: b, Op: "adding"}
	}
	return s, nil
}

// MulChk multiplies a and b, failing with OverflowError instead of wrapping.
func MulChk(a, b int) (int, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	m := a * b
	if m/b != a {
		return 0, &OverflowError{A: a, B: b, Op: "multiplying"}
	}
	return m, nil
}

// PaddingLen returns the number of space bytes appended to the key to reach
// 8-byte alignment, always in [1, 8]. Does not validate the key length.
func PaddingLen(encodedLen int) int {
	return 8 - (u32Size+encodedLen)%8
}

// ValueOffset returns the offset of the f64 value within an entry: length
// prefix, key and padding.
func ValueOffset(encodedLen int) (int, error) {
	if err := checkEncodedLen(encodedLen); err != nil {
		return 0, err
	}
	return u32Size + encodedLen + PaddingLen(encodedLen), nil
}

// TotalLen returns the full entry length including the value, always a
// multiple of 8.
func TotalLen(encodedLen int) (int, error) {
	off, err := ValueOffset(encodedLen)
	if err != nil {
		return 0, err
	}
	return AddChk(off, f64Size)
}

func checkEncodedLen(encodedLen int) error {
	if encodedLen < 0 || int64(encodedLen) > int64(MaxKeyLen) {
		return ErrKeyLength
	}
	return nil
}

// Save encodes one entry at the start of buf, returning the offset of the
// value within it.
func Save(buf []byte, key []byte, value float64) (int, error) {
	totalLen, err := TotalLen(len(key))
	if err != nil {
		return 0, err
	}
	if totalLen > len(buf) {
		return 0, fmt.Errorf("entry length %d larger than slice length %d", totalLen, len(buf))
	}

	binary.NativeEndian.PutUint32(buf, uint32(len(key)))
	n := u32Size
	n += copy(buf[n:], key)
	for range PaddingLen(len(key)) {
		buf[n] = ' '
		n++
	}
	binary.NativeEndian.PutUint64(buf[n:], math.Float64bits(value))
	return n, nil
}

// Entry is one decoded region entry. Key aliases the source buffer with
// padding excluded.
type Entry struct {
	Key      []byte
	Value    float64
	TotalLen int
}

// Decode parses the entry at the start of buf.
func Decode(buf []byte) (e Entry, err error) {
	keyLen, err := ReadU32(buf, 0)
	if err != nil {
		return e, err
	}
	totalLen, err := TotalLen(int(keyLen))
	if err != nil {
		return e, err
	}
	if totalLen > len(buf) {
		return e, &BoundsError{Offset: totalLen, Len: len(buf)}
	}
	e.Key = buf[u32Size : u32Size+int(keyLen)]
	e.TotalLen = totalLen
	e.Value, err = ReadF64(buf, totalLen-f64Size)
	return e, err
}

// ReadU32 reads a native-endian u32 at offset.
func ReadU32(buf []byte, offset int) (uint32, error) {
	if offset < 0 || offset+u32Size > len(buf) {
		return 0, &BoundsError{Offset: offset, Len: len(buf)}
	}
	return binary.NativeEndian.Uint32(buf[offset:]), nil
}

// PutU32 writes a native-endian u32 at offset.
func PutU32(buf []byte, offset int, v uint32) error {
	if offset < 0 || offset+u32Size > len(buf) {
		return &BoundsError{Offset: offset, Len: len(buf)}
	}
	binary.NativeEndian.PutUint32(buf[offset:], v)
	return nil
}

// ReadF64 reads a native-endian f64 at offset.
func ReadF64(buf []byte, offset int) (float64, error) {
	if offset < 0 || offset+f64Size > len(buf) {
		return 0, &BoundsError{Offset: offset + f64Size, Len: len(buf)}
	}
	return math.Float64frombits(binary.NativeEndian.Uint64(buf[offset:])), nil
}

// PutF64 writes a native-endian f64 at offset.
func PutF64(buf []byte, offset int, v float64) error {
	if offset < 0 || offset+f64Size > len(buf) {
		return &BoundsError{Offset: offset + f64Size, Len: len(buf)}
	}
	binary.NativeEndian.PutUint64(buf[offset:], math.Float64bits(v))
	return nil
}
