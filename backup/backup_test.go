package backup

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "counter_1.db"), []byte("alpha"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(src, "gauge_2.db"), []byte("beta"), 0o600))
	// Not part of the snapshot.
	require.NoError(t, os.WriteFile(filepath.Join(src, "notes.txt"), []byte("skip"), 0o600))

	var archive bytes.Buffer
	require.NoError(t, Write(&archive, src))

	dst := filepath.Join(t.TempDir(), "restored")
	require.NoError(t, Restore(bytes.NewReader(archive.Bytes()), dst))

	got, err := os.ReadFile(filepath.Join(dst, "counter_1.db"))
	require.NoError(t, err)
	require.Equal(t, []byte("alpha"), got)
	files, err := filepath.Glob(filepath.Join(dst, "*"))
	require.NoError(t, err)
	require.Len(t, files, 2)
}

func TestEmptyDir(t *testing.T) {
	var archive bytes.Buffer
	require.NoError(t, Write(&archive, t.TempDir()))

	dst := filepath.Join(t.TempDir(), "restored")
	require.NoError(t, Restore(bytes.NewReader(archive.Bytes()), dst))
	files, err := filepath.Glob(filepath.Join(dst, "*"))
	require.NoError(t, err)
	require.Empty(t, files)
}

// restoreFrame compresses one hand-built frame and feeds it to Restore.
func restoreFrame(t *testing.T, nameLen uint32, dataLen uint64, name string) error {
	t.Helper()
	var head [20]byte
	binary.LittleEndian.PutUint32(head[0:], nameLen)
	binary.LittleEndian.PutUint64(head[4:], dataLen)

	var archive bytes.Buffer
	zw := pool.GetWriter()
	zw.Reset(&archive)
	_, err := zw.Write(head[:])
	require.NoError(t, err)
	_, err = zw.Write([]byte(name))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	pool.PutWriter(zw)

	return Restore(bytes.NewReader(archive.Bytes()), filepath.Join(t.TempDir(), "restored"))
}

func TestRestoreBadFrameLengths(t *testing.T) {
	// Header lengths come from untrusted input, a frame claiming an absurd
	// payload must fail the restore instead of sizing an allocation from it.
	name := "counter_1.db"
	err := restoreFrame(t, uint32(len(name)), 1<<62, name)
	require.ErrorContains(t, err, "exceeds limit")

	err = restoreFrame(t, 1<<30, 0, name)
	require.ErrorContains(t, err, "out of range")

	err = restoreFrame(t, 0, 0, "")
	require.ErrorContains(t, err, "out of range")
}

func TestChecksumMismatch(t *testing.T) {
	src := t.TempDir()
	data := bytes.Repeat([]byte("payload "), 512)
	require.NoError(t, os.WriteFile(filepath.Join(src, "counter_1.db"), data, 0o600))

	var archive bytes.Buffer
	require.NoError(t, Write(&archive, src))

	// Recompress a tampered frame so only the checksum disagrees.
	zr := pool.GetReader()
	zr.Reset(bytes.NewReader(archive.Bytes()))
	raw := new(bytes.Buffer)
	_, err := raw.ReadFrom(zr)
	pool.PutReader(zr)
	require.NoError(t, err)
	frame := raw.Bytes()
	frame[len(frame)-1] ^= 0xff

	var tampered bytes.Buffer
	zw := pool.GetWriter()
	zw.Reset(&tampered)
	_, err = zw.Write(frame)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	pool.PutWriter(zw)

	err = Restore(bytes.NewReader(tampered.Bytes()), filepath.Join(t.TempDir(), "restored"))
	require.ErrorContains(t, err, "checksum mismatch")
}
