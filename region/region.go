// Package region owns a single process's growable memory-mapped backing
// store for metric entries. A region is written only by its owning process;
// readers of foreign regions go through the aggregate package instead.
package region

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/gernest/mmprom/codec"
	"github.com/gernest/mmprom/internal/syswrap"
)

// HeaderSize is the region header: u32 used length plus reserved padding.
const HeaderSize = codec.HeaderSize

// ErrConcurrentAccess is returned when a read or write is attempted while
// another operation holds the region. Calls never block, callers retry at a
// higher level if needed.
var ErrConcurrentAccess = errors.New("read/write operation attempted while region was being written to")

// ErrShrink is returned when a remap to a smaller length is requested.
var ErrShrink = errors.New("can't reduce the size of region mapping")

// CapacityError reports an append that does not fit the current mapping.
// The caller must grow the region first.
type CapacityError struct {
	Cap  int
	Need int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("region capacity %d less than %d", e.Cap, e.Need)
}

// Region is a resizable mmapped byte arena. All entry addresses handed out
// are offsets validated against the used length and capacity on every
// access, never raw pointers, so they survive growth.
type Region struct {
	mu   sync.RWMutex
	file *os.File
	path string
	data []byte

	// OnMove is invoked under the exclusive lock whenever growth remaps the
	// region, with the old base address, the new base address and the old
	// mapping length. A hosting layer that tracks live views into the mapping
	// subscribes here.
	OnMove func(oldBase, newBase uintptr, oldLen int)
}

// Open maps the file at path, creating it if absent. The backing file is
// pre-extended to at least one OS page, mapping a file shorter than a page
// faults on access.
func Open(path string) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open region %s %w", path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat region %s %w", path, err)
	}
	size := int(stat.Size())

	reserve := syswrap.Pagesize()
	for reserve < size {
		reserve, err = codec.MulChk(reserve, 2)
		if err != nil {
			f.Close()
			return nil, err
		}
	}
	if reserve > size {
		if err := f.Truncate(int64(reserve)); err != nil {
			f.Close()
			return nil, fmt.Errorf("reserve %d bytes for region %s %w", reserve, path, err)
		}
	}

	data, err := syswrap.Mmap(int(f.Fd()), reserve, true)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap region %s %w", path, err)
	}
	return &Region{file: f, path: path, data: data}, nil
}

// Path returns the backing file path.
func (r *Region) Path() string { return r.path }

// Capacity is the total length of the mapping.
func (r *Region) Capacity() (int, error) {
	if !r.mu.TryRLock() {
		return 0, ErrConcurrentAccess
	}
	defer r.mu.RUnlock()
	return len(r.data), nil
}

// LoadUsed reads the header, the byte length of the record stream including
// the header itself. A zero header reads as HeaderSize, the empty region.
func (r *Region) LoadUsed() (int, error) {
	if !r.mu.TryRLock() {
		return 0, ErrConcurrentAccess
	}
	defer r.mu.RUnlock()
	return r.loadUsed()
}

func (r *Region) loadUsed() (int, error) {
	used, err := codec.ReadU32(r.data, 0)
	if err != nil {
		return 0, err
	}
	if used == 0 {
		return HeaderSize, nil
	}
	return int(used), nil
}

// SaveUsed updates the header.
func (r *Region) SaveUsed(used int) error {
	if !r.mu.TryLock() {
		return ErrConcurrentAccess
	}
	defer r.mu.Unlock()
	return codec.PutU32(r.data, 0, uint32(used))
}

// LoadValue reads the f64 at offset. Offsets inside the header or beyond the
// used length are rejected.
func (r *Region) LoadValue(offset int) (float64, error) {
	if !r.mu.TryRLock() {
		return 0, ErrConcurrentAccess
	}
	defer r.mu.RUnlock()
	if err := r.checkValue(offset, 8); err != nil {
		return 0, err
	}
	return codec.ReadF64(r.data, offset)
}

// SaveValue updates the f64 at offset in place.
func (r *Region) SaveValue(offset int, value float64) error {
	if !r.mu.TryLock() {
		return ErrConcurrentAccess
	}
	defer r.mu.Unlock()
	if err := r.checkValue(offset, 8); err != nil {
		return err
	}
	return codec.PutF64(r.data, offset, value)
}

// LoadExemplar reads the exemplar slot at offset.
func (r *Region) LoadExemplar(offset int) (codec.Exemplar, error) {
	if !r.mu.TryRLock() {
		return codec.Exemplar{}, ErrConcurrentAccess
	}
	defer r.mu.RUnlock()
	if err := r.checkValue(offset, codec.SlotSize); err != nil {
		return codec.Exemplar{}, err
	}
	return codec.ReadExemplar(r.data, offset)
}

// SaveExemplar overwrites the exemplar slot at offset in place.
func (r *Region) SaveExemplar(offset int, ex *codec.Exemplar) error {
	if !r.mu.TryLock() {
		return ErrConcurrentAccess
	}
	defer r.mu.Unlock()
	if err := r.checkValue(offset, codec.SlotSize); err != nil {
		return err
	}
	return codec.PutExemplar(r.data, offset, ex)
}

// checkValue validates a value slot of size bytes at offset against both the
// header and the written extent. Requires at least a read lock.
func (r *Region) checkValue(offset, size int) error {
	if offset < HeaderSize {
		return fmt.Errorf("writing to offset %d would overwrite region header", offset)
	}
	used, err := r.loadUsed()
	if err != nil {
		return err
	}
	end, err := codec.AddChk(offset, size)
	if err != nil {
		return err
	}
	if end > used || end > len(r.data) {
		return &codec.BoundsError{Offset: end, Len: used}
	}
	return nil
}

// AppendEntry adds a new entry at the end of the record stream and returns
// the offset of its value. Fails with CapacityError when the entry does not
// fit, callers grow the region first.
func (r *Region) AppendEntry(key []byte, value float64) (int, error) {
	entryLen, err := codec.TotalLen(len(key))
	if err != nil {
		return 0, err
	}
	return r.append(entryLen, func(dst []byte) (int, error) {
		return codec.Save(dst, key, value)
	})
}

// AppendExemplar adds a new exemplar entry and returns the offset of its
// slot.
func (r *Region) AppendExemplar(key []byte, ex *codec.Exemplar) (int, error) {
	entryLen, err := codec.ExemplarTotalLen(len(key))
	if err != nil {
		return 0, err
	}
	return r.append(entryLen, func(dst []byte) (int, error) {
		return codec.SaveExemplar(dst, key, ex)
	})
}

func (r *Region) append(entryLen int, save func(dst []byte) (int, error)) (int, error) {
	if !r.mu.TryLock() {
		return 0, ErrConcurrentAccess
	}
	defer r.mu.Unlock()

	used, err := r.loadUsed()
	if err != nil {
		return 0, err
	}
	newUsed, err := codec.AddChk(used, entryLen)
	if err != nil {
		return 0, err
	}
	if len(r.data) < newUsed {
		return 0, &CapacityError{Cap: len(r.data), Need: newUsed}
	}
	valueOffset, err := save(r.data[used:newUsed])
	if err != nil {
		return 0, err
	}
	if err := codec.PutU32(r.data, 0, uint32(newUsed)); err != nil {
		return 0, err
	}
	return used + valueOffset, nil
}

// ExpandToFit grows the region until its capacity is at least target,
// strictly doubling. A target at or below the current capacity is a no-op,
// growth never shrinks the mapping. Growth remaps the file: any raw pointer
// into the old mapping is invalid afterwards, which is why it runs fully
// serialized under the exclusive lock and reports through OnMove.
func (r *Region) ExpandToFit(target int) error {
	if !r.mu.TryLock() {
		return ErrConcurrentAccess
	}
	defer r.mu.Unlock()

	newCap := len(r.data)
	if target <= newCap {
		return nil
	}
	var err error
	for newCap < target {
		newCap, err = codec.MulChk(newCap, 2)
		if err != nil {
			return err
		}
	}
	return r.remap(newCap)
}

// remap releases the mapping, extends the file with a hole punch and maps it
// again. Requires the exclusive lock.
func (r *Region) remap(size int) error {
	if size < len(r.data) {
		return ErrShrink
	}
	oldBase := uintptr(0)
	oldLen := len(r.data)
	if oldLen > 0 {
		oldBase = baseOf(r.data)
	}

	if err := r.file.Sync(); err != nil {
		return fmt.Errorf("sync region %s %w", r.path, err)
	}
	if err := syswrap.Munmap(r.data); err != nil {
		return fmt.Errorf("munmap region %s %w", r.path, err)
	}
	r.data = nil

	// Seek past the end and write one zero byte. The file grows as a sparse
	// hole, no disk blocks are allocated until written to.
	if _, err := r.file.Seek(int64(size)-1, 0); err != nil {
		return fmt.Errorf("lseek %d in region %s %w", size-1, r.path, err)
	}
	if n, err := r.file.Write([]byte{0}); err != nil || n != 1 {
		return fmt.Errorf("extend region %s to %d %w", r.path, size, err)
	}

	data, err := syswrap.Mmap(int(r.file.Fd()), size, true)
	if err != nil {
		return fmt.Errorf("mmap region %s %w", r.path, err)
	}
	r.data = data
	if r.OnMove != nil {
		r.OnMove(oldBase, baseOf(r.data), oldLen)
	}
	return nil
}

// Flush writes modified pages back to the file, asynchronously when async is
// set.
func (r *Region) Flush(async bool) error {
	if !r.mu.TryLock() {
		return ErrConcurrentAccess
	}
	defer r.mu.Unlock()
	if async {
		return syswrap.MsyncAsync(r.data)
	}
	return syswrap.Msync(r.data)
}

// View runs f with the written part of the mapping, header included, under a
// shared lock. f must not retain the slice, growth invalidates it.
func (r *Region) View(f func(data []byte) error) error {
	if !r.mu.TryRLock() {
		return ErrConcurrentAccess
	}
	defer r.mu.RUnlock()
	used, err := r.loadUsed()
	if err != nil {
		return err
	}
	if used > len(r.data) {
		return &codec.BoundsError{Offset: used, Len: len(r.data)}
	}
	return f(r.data[:used])
}

func baseOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// Close unmaps the region and closes the backing file.
func (r *Region) Close() error {
	if !r.mu.TryLock() {
		return ErrConcurrentAccess
	}
	defer r.mu.Unlock()
	if r.data != nil {
		if err := syswrap.Munmap(r.data); err != nil {
			return err
		}
		r.data = nil
	}
	return r.file.Close()
}
