// Package store maintains one process's writable metric file: a growable
// mmapped record arena fronted by an in-memory index from entry key to the
// offset of its value slot.
package store

import (
	"iter"
	"sync"

	"github.com/google/btree"
	"github.com/pkg/errors"

	"github.com/gernest/mmprom/codec"
	"github.com/gernest/mmprom/region"
)

// slot is one index node: entry key and the offset of its value or exemplar
// slot inside the region.
type slot struct {
	key string
	off int
}

// Store is safe for concurrent use by a single process. Cross-process
// visibility goes through the backing file, other processes read it with the
// aggregate package and never write it.
type Store struct {
	mu       sync.Mutex
	r        *region.Region
	index    *btree.BTreeG[slot]
	exemplar bool
}

// Open maps the record file at path, creating it when absent, and rebuilds
// the key index from the entries already written.
func Open(path string) (*Store, error) {
	return open(path, false)
}

// OpenExemplar is Open for a file holding exemplar slot entries instead of
// f64 values.
func OpenExemplar(path string) (*Store, error) {
	return open(path, true)
}

func open(path string, exemplar bool) (*Store, error) {
	r, err := region.Open(path)
	if err != nil {
		return nil, err
	}
	s := &Store{
		r: r,
		index: btree.NewG(32, func(a, b slot) bool {
			return a.key < b.key
		}),
		exemplar: exemplar,
	}
	if err := s.reindex(); err != nil {
		r.Close()
		return nil, errors.Wrapf(err, "indexing store %s", path)
	}
	return s, nil
}

func (s *Store) reindex() error {
	return s.r.View(func(data []byte) error {
		pos := codec.HeaderSize
		for pos+4 < len(data) {
			var key []byte
			var totalLen int
			if s.exemplar {
				e, err := codec.DecodeExemplar(data[pos:])
				if err != nil {
					return err
				}
				key, totalLen = e.Key, e.TotalLen
			} else {
				e, err := codec.Decode(data[pos:])
				if err != nil {
					return err
				}
				key, totalLen = e.Key, e.TotalLen
			}
			off, err := codec.ValueOffset(len(key))
			if err != nil {
				return err
			}
			s.index.ReplaceOrInsert(slot{key: string(key), off: pos + off})
			pos += totalLen
		}
		return nil
	})
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.r.Path() }

// Len is the number of distinct keys in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Len()
}

// Fetch returns the value stored under key. A new key is initialized to
// value first, so repeated fetches of the same key are stable.
func (s *Store) Fetch(key []byte, value float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.index.Get(slot{key: string(key)}); ok {
		return s.r.LoadValue(n.off)
	}
	if err := s.insert(key, value); err != nil {
		return 0, err
	}
	return value, nil
}

// Upsert sets the value stored under key, appending the entry when the key
// is new.
func (s *Store) Upsert(key []byte, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.index.Get(slot{key: string(key)}); ok {
		return s.r.SaveValue(n.off, value)
	}
	return s.insert(key, value)
}

func (s *Store) insert(key []byte, value float64) error {
	off, err := s.r.AppendEntry(key, value)
	if err = s.retryFull(err, func() error {
		off, err = s.r.AppendEntry(key, value)
		return err
	}); err != nil {
		return err
	}
	s.index.ReplaceOrInsert(slot{key: string(key), off: off})
	return nil
}

// FetchExemplar returns the exemplar stored under key, false when the key is
// unknown.
func (s *Store) FetchExemplar(key []byte) (codec.Exemplar, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.index.Get(slot{key: string(key)})
	if !ok {
		return codec.Exemplar{}, false, nil
	}
	ex, err := s.r.LoadExemplar(n.off)
	return ex, err == nil, err
}

// UpsertExemplar overwrites the exemplar slot stored under key in place,
// appending a new slot when the key is new.
func (s *Store) UpsertExemplar(key []byte, ex *codec.Exemplar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.index.Get(slot{key: string(key)}); ok {
		return s.r.SaveExemplar(n.off, ex)
	}
	off, err := s.r.AppendExemplar(key, ex)
	if err = s.retryFull(err, func() error {
		off, err = s.r.AppendExemplar(key, ex)
		return err
	}); err != nil {
		return err
	}
	s.index.ReplaceOrInsert(slot{key: string(key), off: off})
	return nil
}

// retryFull grows the region and retries once when an append ran out of
// capacity. Any other error passes through.
func (s *Store) retryFull(err error, retry func() error) error {
	var full *region.CapacityError
	if !errors.As(err, &full) {
		return err
	}
	// Grow past the exact need so the region never ends up exactly full.
	if err := s.r.ExpandToFit(full.Need + 1); err != nil {
		return err
	}
	return retry()
}

// Keys yields every indexed key in sorted order.
func (s *Store) Keys() iter.Seq[string] {
	return func(yield func(string) bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.index.Ascend(func(n slot) bool {
			return yield(n.key)
		})
	}
}

// Flush writes dirty pages back to the file.
func (s *Store) Flush(async bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Flush(async)
}

// Close flushes and unmaps the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Close()
}
