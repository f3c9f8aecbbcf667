// Package aggregate merges the record streams of many per-process regions
// into one deduplicated, deterministically ordered entry set ready for
// exposition.
package aggregate

import (
	"cmp"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/prometheus/common/promslog"

	"github.com/gernest/mmprom/buffer"
	"github.com/gernest/mmprom/codec"
	"github.com/gernest/mmprom/internal/magic"
	"github.com/gernest/mmprom/internal/pools"
)

// Source describes one region file to scan: its path, how to combine its
// values and which process wrote it.
type Source struct {
	Path string
	Mode Mode
	Type Type
	PID  string
}

// CorruptionError is fatal for the region it names: the header or an entry
// length disagrees with the physical file.
type CorruptionError struct {
	Path string
	Msg  string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("source file %s corrupted, %s", e.Path, e.Msg)
}

// CountError reports entries dropped between scanning and output, a
// corruption signal surfaced once per aggregation instead of partial output.
type CountError struct {
	Processed int
	Total     int
}

func (e *CountError) Error() string {
	return fmt.Sprintf("processed entries %d != map entries %d", e.Processed, e.Total)
}

// entryKey dedups entries: the JSON key payload plus the pid when it is
// significant.
type entryKey struct {
	json string
	pid  string
}

// Map accumulates merged entries across regions. Construct through Get,
// return through Release, a fresh aggregation is built per request and
// discarded after rendering.
type Map struct {
	m       map[entryKey]*Meta
	lo      *slog.Logger
	scanned int
	skipped int
}

type mapItem struct{}

func (mapItem) Init() *Map { return &Map{m: make(map[entryKey]*Meta, 1024)} }

func (mapItem) Reset(m *Map) *Map {
	clear(m.m)
	m.lo = nil
	m.scanned = 0
	m.skipped = 0
	return m
}

var mapPool = pools.Pool[*Map]{Init: mapItem{}}

var bytesPool buffer.Pool

// Get returns an empty Map logging through lo, nil for no logging.
func Get(lo *slog.Logger) *Map {
	m := mapPool.Get()
	if lo == nil {
		lo = promslog.NewNopLogger()
	}
	m.lo = lo
	return m
}

// Release returns m to the pool.
func (m *Map) Release() { mapPool.Put(m) }

// Len is the number of distinct entry keys merged so far.
func (m *Map) Len() int { return len(m.m) }

// ScanAll scans every source in order, one full region at a time. Regions
// are single-writer by construction, no cross-region coordination happens
// here. After all sources are read, entries skipped over malformed payloads
// surface as one CountError.
func (m *Map) ScanAll(srcs []Source) error {
	for i := range srcs {
		if err := m.Scan(srcs[i]); err != nil {
			return err
		}
	}
	if m.skipped != 0 {
		return &CountError{Processed: m.scanned - m.skipped, Total: m.scanned}
	}
	return nil
}

// Scan reads one region file and merges its entries. Header corruption is
// fatal for the region, an entry with an invalid UTF-8 key is skipped and
// counted.
func (m *Map) Scan(src Source) error {
	f, err := os.Open(src.Path)
	if err != nil {
		return errors.Wrapf(err, "opening source %s", src.Path)
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "stating source %s", src.Path)
	}
	size := int(stat.Size())
	if size < codec.HeaderSize {
		// Nothing written yet, OK.
		return nil
	}

	b := bytesPool.Get()
	defer bytesPool.Put(b)
	b.B = slices.Grow(b.B[:0], size)[:size]
	if _, err := io.ReadFull(f, b.B); err != nil {
		return errors.Wrapf(err, "reading source %s", src.Path)
	}
	return m.process(src, b.B)
}

func (m *Map) process(src Source, data []byte) error {
	used, err := codec.ReadU32(data, 0)
	if err != nil {
		return err
	}
	end := int(used)
	if end == 0 {
		end = codec.HeaderSize
	}
	if end > len(data) {
		return &CorruptionError{
			Path: src.Path,
			Msg:  fmt.Sprintf("used %d > file size %d", end, len(data)),
		}
	}

	pos := codec.HeaderSize
	for pos+4 < end {
		var key []byte
		var meta Meta
		var totalLen int

		// Entries decode against the whole file so a record straddling the
		// used boundary surfaces as corruption below, not as a short read.
		if src.Type == Exemplar {
			e, err := codec.DecodeExemplar(data[pos:])
			if err != nil {
				return m.decodeErr(src, err, pos, len(data), "exemplar entry")
			}
			ex := e.Ex
			key, totalLen = e.Key, e.TotalLen
			meta = Meta{Mode: src.Mode, Type: src.Type, Value: ex.Value, Ex: &ex}
		} else {
			e, err := codec.Decode(data[pos:])
			if err != nil {
				return m.decodeErr(src, err, pos, len(data), "entry")
			}
			key, totalLen = e.Key, e.TotalLen
			meta = Meta{Mode: src.Mode, Type: src.Type, Value: e.Value}
		}
		if pos+totalLen > end {
			return &CorruptionError{
				Path: src.Path,
				Msg:  fmt.Sprintf("used %d < stored data length %d", end, pos+totalLen),
			}
		}

		m.scanned++
		if !utf8.Valid(key) {
			m.skipped++
			m.lo.Warn("skipping entry with invalid UTF-8 key",
				"path", src.Path, "offset", pos)
			pos += totalLen
			continue
		}

		var pid string
		if PidSignificant(src.Type, src.Mode) {
			pid = src.PID
		}
		m.mergeOrInsert(key, pid, meta)
		pos += totalLen
	}
	return nil
}

// decodeErr classifies an entry decode failure: a record reaching past the
// physical file is corruption of that region, anything else keeps its context.
func (m *Map) decodeErr(src Source, err error, pos, size int, what string) error {
	var bounds *codec.BoundsError
	if errors.As(err, &bounds) {
		return &CorruptionError{
			Path: src.Path,
			Msg:  fmt.Sprintf("%s at offset %d exceeds file size %d", what, pos, size),
		}
	}
	return errors.Wrapf(err, "decoding %s in %s at offset %d", what, src.Path, pos)
}

// mergeOrInsert probes the map with a borrowed view of key, allocating an
// owned copy only on a true miss. On a hit the merge policy combines the
// values.
func (m *Map) mergeOrInsert(key []byte, pid string, meta Meta) {
	probe := entryKey{json: magic.String(key), pid: pid}
	if existing, ok := m.m[probe]; ok {
		existing.Merge(&meta)
		return
	}
	owned := entryKey{json: strings.Clone(probe.json), pid: pid}
	m.m[owned] = &meta
}

// Entry is one finalized aggregation result. PID is empty unless the pid was
// significant for the entry.
type Entry struct {
	Key  string
	PID  string
	Meta Meta
}

// Finalize flattens the map into a list sorted by (key, pid), byte
// lexicographic. The order is total, repeated aggregations of the same
// sources render identically. Since the family name is the first field of
// the key payload, the list is also grouped by family.
func (m *Map) Finalize() []Entry {
	out := make([]Entry, 0, len(m.m))
	for k, meta := range m.m {
		out = append(out, Entry{Key: k.json, PID: k.pid, Meta: *meta})
	}
	slices.SortFunc(out, func(a, b Entry) int {
		return cmp.Or(
			strings.Compare(a.Key, b.Key),
			strings.Compare(a.PID, b.PID),
		)
	})
	return out
}
