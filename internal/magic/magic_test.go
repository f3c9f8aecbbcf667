package magic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	s := "metric_key_payload"
	require.Equal(t, []byte(s), Slice(s))
	require.Equal(t, s, String([]byte(s)))
}
