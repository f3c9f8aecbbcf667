package store

import (
	"fmt"
	"path/filepath"
	"slices"
	"testing"

	"github.com/prometheus/prometheus/model/labels"
	"github.com/stretchr/testify/require"

	"github.com/gernest/mmprom/codec"
)

func TestFetchUpsert(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "counter_1.db"))
	require.NoError(t, err)
	defer st.Close()
	key := []byte(`["family","name",[],[]]`)

	v, err := st.Fetch(key, 7)
	require.NoError(t, err)
	require.Equal(t, 7.0, v)

	// The initial value sticks, the default of a later fetch is ignored.
	v, err = st.Fetch(key, 3)
	require.NoError(t, err)
	require.Equal(t, 7.0, v)

	require.NoError(t, st.Upsert(key, 9))
	v, err = st.Fetch(key, 0)
	require.NoError(t, err)
	require.Equal(t, 9.0, v)
	require.Equal(t, 1, st.Len())
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter_1.db")
	st, err := Open(path)
	require.NoError(t, err)
	a := []byte(`["family","a",[],[]]`)
	b := []byte(`["family","b",[],[]]`)
	require.NoError(t, st.Upsert(a, 1))
	require.NoError(t, st.Upsert(b, 2))
	require.NoError(t, st.Close())

	st, err = Open(path)
	require.NoError(t, err)
	defer st.Close()
	require.Equal(t, 2, st.Len())

	v, err := st.Fetch(a, 0)
	require.NoError(t, err)
	require.Equal(t, 1.0, v)
	v, err = st.Fetch(b, 0)
	require.NoError(t, err)
	require.Equal(t, 2.0, v)

	keys := slices.Collect(st.Keys())
	require.Equal(t, []string{string(a), string(b)}, keys)
}

func TestGrow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter_1.db")
	st, err := Open(path)
	require.NoError(t, err)

	// Enough entries to outgrow the initial page several times over.
	for i := range 500 {
		key := fmt.Appendf(nil, `["family","name",["i"],["%04d"]]`, i)
		require.NoError(t, st.Upsert(key, float64(i)))
	}
	require.NoError(t, st.Close())

	st, err = Open(path)
	require.NoError(t, err)
	defer st.Close()
	require.Equal(t, 500, st.Len())
	for i := range 500 {
		key := fmt.Appendf(nil, `["family","name",["i"],["%04d"]]`, i)
		v, err := st.Fetch(key, -1)
		require.NoError(t, err)
		require.Equal(t, float64(i), v)
	}
}

func TestExemplarStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter_exemplar_1.db")
	st, err := OpenExemplar(path)
	require.NoError(t, err)
	key := []byte(`["family","name",[],[]]`)

	_, ok, err := st.FetchExemplar(key)
	require.NoError(t, err)
	require.False(t, ok)

	ex := codec.Exemplar{LabelName: "trace_id", LabelValue: "abc", Value: 1, Timestamp: 10}
	require.NoError(t, st.UpsertExemplar(key, &ex))

	got, ok, err := st.FetchExemplar(key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ex, got)

	// Slot updates happen in place, the store stays at one entry.
	ex.Timestamp = 20
	require.NoError(t, st.UpsertExemplar(key, &ex))
	require.Equal(t, 1, st.Len())
	require.NoError(t, st.Close())

	st, err = OpenExemplar(path)
	require.NoError(t, err)
	defer st.Close()
	got, ok, err = st.FetchExemplar(key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(20), got.Timestamp)
}

func TestKey(t *testing.T) {
	key, err := Key("family", "name", labels.FromStrings("b", "y", "a", "x"))
	require.NoError(t, err)
	require.Equal(t, `["family","name",["a","b"],["x","y"]]`, string(key))

	key, err = Key("family", "name", labels.EmptyLabels())
	require.NoError(t, err)
	require.Equal(t, `["family","name",[],[]]`, string(key))
}
