// Package backup snapshots a directory of metric files into one compressed
// archive stream and restores it, verifying a per-file checksum on the way
// back in.
package backup

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/gernest/mmprom/compress"
	"github.com/gernest/mmprom/internal/checksum"
	"github.com/gernest/mmprom/internal/magic"
)

var pool compress.Pool

// Frame limits bound allocations sized from untrusted archive headers. A
// frame claiming more is corrupt, no region file comes close to either.
const (
	maxFrameName = 1 << 10
	maxFrameData = 1 << 31
)

// Archive entries are framed inside the compressed stream as
// u32 name length | name | u64 data length | u64 checksum | data.
// Lengths and checksums are little endian regardless of host order, archives
// move between machines.

// Write archives every .db file directly under dir into w. Files are written
// in sorted name order.
func Write(w io.Writer, dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.db"))
	if err != nil {
		return err
	}
	zw := pool.GetWriter()
	defer pool.PutWriter(zw)
	zw.Reset(w)

	for _, file := range files {
		if err := writeFile(zw, file); err != nil {
			return errors.Wrapf(err, "archiving %s", file)
		}
	}
	return zw.Close()
}

func writeFile(w io.Writer, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	name := filepath.Base(file)

	var head [20]byte
	binary.LittleEndian.PutUint32(head[0:], uint32(len(name)))
	binary.LittleEndian.PutUint64(head[4:], uint64(len(data)))
	binary.LittleEndian.PutUint64(head[12:], checksum.Hash(data))
	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	if _, err := w.Write(magic.Slice(name)); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Restore unpacks an archive written by Write into dir, creating it when
// absent. A file whose checksum does not match its archived one fails the
// whole restore before anything of it is written.
func Restore(r io.Reader, dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	zr := pool.GetReader()
	defer pool.PutReader(zr)
	zr.Reset(r)

	for {
		name, data, err := readFile(zr)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
			return errors.Wrapf(err, "restoring %s", name)
		}
	}
}

func readFile(r io.Reader) (string, []byte, error) {
	var head [20]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		// EOF on a frame boundary ends the archive cleanly.
		if err == io.EOF {
			return "", nil, io.EOF
		}
		return "", nil, errors.Wrap(err, "reading archive frame header")
	}
	nameLen := int(binary.LittleEndian.Uint32(head[0:]))
	dataLen := binary.LittleEndian.Uint64(head[4:])
	sum := binary.LittleEndian.Uint64(head[12:])
	if nameLen == 0 || nameLen > maxFrameName {
		return "", nil, fmt.Errorf("archive frame name length %d out of range", nameLen)
	}
	if dataLen > maxFrameData {
		return "", nil, fmt.Errorf("archive frame length %d exceeds limit %d", dataLen, uint64(maxFrameData))
	}

	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return "", nil, errors.Wrap(err, "reading archive frame name")
	}
	if filepath.Base(string(name)) != string(name) {
		return "", nil, fmt.Errorf("archive frame name %q is not a bare file name", name)
	}
	data := make([]byte, dataLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", nil, errors.Wrapf(err, "reading archive frame %s", name)
	}
	if got := checksum.Hash(data); got != sum {
		return "", nil, fmt.Errorf("checksum mismatch for %s, %x != %x", name, got, sum)
	}
	return string(name), data, nil
}
