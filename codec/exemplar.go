package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// OpenMetrics caps the combined label name and value of an exemplar at 128
// Unicode code points. We reserve 4 bytes per code point, worst case UTF-8.
const (
	maxExemplarRunes = 128

	// SlotSize is the fixed exemplar payload size: label storage plus value
	// and timestamp. Fixed slots allow in-place updates and scanning at a
	// constant stride.
	SlotSize = maxExemplarRunes*4 + f64Size + 8
)

// ErrExemplarLabelLen is returned when an exemplar label name and value
// exceed the 128 code point cap.
var ErrExemplarLabelLen = fmt.Errorf("exemplar label name and value exceed %d code points", maxExemplarRunes)

// Exemplar is the payload stored in an exemplar slot, serialized as a small
// self-describing JSON record zero-padded to SlotSize.
type Exemplar struct {
	LabelName  string  `json:"LabelName"`
	LabelValue string  `json:"LabelValue"`
	Value      float64 `json:"Value"`
	Timestamp  uint64  `json:"Timestamp"`
}

func (e *Exemplar) check() error {
	if utf8.RuneCountInString(e.LabelName)+utf8.RuneCountInString(e.LabelValue) > maxExemplarRunes {
		return ErrExemplarLabelLen
	}
	return nil
}

// ExemplarTotalLen is the full exemplar entry length for a key of
// encodedLen bytes: length prefix, key, padding and the fixed slot.
func ExemplarTotalLen(encodedLen int) (int, error) {
	off, err := ValueOffset(encodedLen)
	if err != nil {
		return 0, err
	}
	return AddChk(off, SlotSize)
}

// SaveExemplar encodes one exemplar entry at the start of buf, returning the
// offset of the slot within it. Entries share the record key layout, only the
// value differs: a fixed slot instead of an f64.
func SaveExemplar(buf []byte, key []byte, ex *Exemplar) (int, error) {
	if err := ex.check(); err != nil {
		return 0, err
	}
	totalLen, err := ExemplarTotalLen(len(key))
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
	if err := PutExemplar(buf, n, ex); err != nil {
		return 0, err
	}
	return n, nil
}

// PutExemplar overwrites the slot at offset in place.
func PutExemplar(buf []byte, offset int, ex *Exemplar) error {
	if err := ex.check(); err != nil {
		return err
	}
	if offset < 0 || offset+SlotSize > len(buf) {
		return &BoundsError{Offset: offset + SlotSize, Len: len(buf)}
	}
	data, err := json.Marshal(ex)
	if err != nil {
		return err
	}
	if len(data) > SlotSize {
		return fmt.Errorf("exemplar payload %d larger than slot %d", len(data), SlotSize)
	}
	slot := buf[offset : offset+SlotSize]
	n := copy(slot, data)
	for i := n; i < SlotSize; i++ {
		slot[i] = 0
	}
	return nil
}

// ReadExemplar decodes the slot at offset, excluding zero padding.
func ReadExemplar(buf []byte, offset int) (ex Exemplar, err error) {
	if offset < 0 || offset+SlotSize > len(buf) {
		return ex, &BoundsError{Offset: offset + SlotSize, Len: len(buf)}
	}
	slot := buf[offset : offset+SlotSize]
	if i := bytes.IndexByte(slot, 0); i >= 0 {
		slot = slot[:i]
	}
	err = json.Unmarshal(slot, &ex)
	return ex, err
}

// ExemplarEntry is one decoded exemplar entry.
type ExemplarEntry struct {
	Key      []byte
	Ex       Exemplar
	TotalLen int
}

// DecodeExemplar parses the exemplar entry at the start of buf.
func DecodeExemplar(buf []byte) (e ExemplarEntry, err error) {
	keyLen, err := ReadU32(buf, 0)
	if err != nil {
		return e, err
	}
	totalLen, err := ExemplarTotalLen(int(keyLen))
	if err != nil {
		return e, err
	}
	if totalLen > len(buf) {
		return e, &BoundsError{Offset: totalLen, Len: len(buf)}
	}
	e.Key = buf[u32Size : u32Size+int(keyLen)]
	e.TotalLen = totalLen
	e.Ex, err = ReadExemplar(buf, totalLen-SlotSize)
	return e, err
}
