package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveDecode(t *testing.T) {
	key := []byte(`["family","name",["a"],["b"]]`)
	totalLen, err := TotalLen(len(key))
	require.NoError(t, err)
	buf := make([]byte, totalLen)

	off, err := Save(buf, key, 3.5)
	require.NoError(t, err)
	want, err := ValueOffset(len(key))
	require.NoError(t, err)
	require.Equal(t, want, off)

	pad := buf[u32Size+len(key) : off]
	require.Equal(t, bytes.Repeat([]byte{' '}, len(pad)), pad)

	e, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, key, e.Key)
	require.Equal(t, 3.5, e.Value)
	require.Equal(t, totalLen, e.TotalLen)
}

func TestPadding(t *testing.T) {
	for n := range 65 {
		pad := PaddingLen(n)
		require.GreaterOrEqual(t, pad, 1, "key length %d", n)
		require.LessOrEqual(t, pad, 8, "key length %d", n)
		require.Zero(t, (u32Size+n+pad)%8, "key length %d", n)
	}
}

func TestValueOffset(t *testing.T) {
	// 4 byte prefix + 61 byte key + 7 padding bytes.
	off, err := ValueOffset(61)
	require.NoError(t, err)
	require.Equal(t, 72, off)

	_, err = ValueOffset(-1)
	require.ErrorIs(t, err, ErrKeyLength)
}

func TestSaveShortBuffer(t *testing.T) {
	key := []byte(`["family","name",[],[]]`)
	totalLen, err := TotalLen(len(key))
	require.NoError(t, err)

	_, err = Save(make([]byte, totalLen-1), key, 1)
	require.Error(t, err)
}

func TestDecodeShortBuffer(t *testing.T) {
	key := []byte(`["family","name",[],[]]`)
	totalLen, err := TotalLen(len(key))
	require.NoError(t, err)
	buf := make([]byte, totalLen)
	_, err = Save(buf, key, 1)
	require.NoError(t, err)

	var bounds *BoundsError
	_, err = Decode(buf[:totalLen-1])
	require.ErrorAs(t, err, &bounds)
	_, err = Decode(buf[:2])
	require.ErrorAs(t, err, &bounds)
}
