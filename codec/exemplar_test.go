package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExemplarSaveDecode(t *testing.T) {
	key := []byte(`["family","name",[],[]]`)
	ex := &Exemplar{
		LabelName:  "trace_id",
		LabelValue: "abc123",
		Value:      2,
		Timestamp:  1700000000000,
	}
	totalLen, err := ExemplarTotalLen(len(key))
	require.NoError(t, err)
	buf := make([]byte, totalLen)

	off, err := SaveExemplar(buf, key, ex)
	require.NoError(t, err)

	got, err := ReadExemplar(buf, off)
	require.NoError(t, err)
	require.Equal(t, *ex, got)

	e, err := DecodeExemplar(buf)
	require.NoError(t, err)
	require.Equal(t, key, e.Key)
	require.Equal(t, *ex, e.Ex)
	require.Equal(t, totalLen, e.TotalLen)
}

func TestExemplarLabelCap(t *testing.T) {
	buf := make([]byte, SlotSize)
	err := PutExemplar(buf, 0, &Exemplar{
		LabelName:  strings.Repeat("a", 64),
		LabelValue: strings.Repeat("b", 65),
	})
	require.ErrorIs(t, err, ErrExemplarLabelLen)

	err = PutExemplar(buf, 0, &Exemplar{
		LabelName:  strings.Repeat("a", 64),
		LabelValue: strings.Repeat("b", 64),
	})
	require.NoError(t, err)
}

func TestExemplarInPlaceUpdate(t *testing.T) {
	buf := make([]byte, SlotSize)
	require.NoError(t, PutExemplar(buf, 0, &Exemplar{
		LabelName:  "trace_id",
		LabelValue: strings.Repeat("x", 80),
		Value:      1,
		Timestamp:  1,
	}))
	// A shorter payload must not leave residue of the longer one behind.
	require.NoError(t, PutExemplar(buf, 0, &Exemplar{
		LabelName:  "trace_id",
		LabelValue: "y",
		Value:      2,
		Timestamp:  2,
	}))

	got, err := ReadExemplar(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "y", got.LabelValue)
	require.Equal(t, 2.0, got.Value)
}
