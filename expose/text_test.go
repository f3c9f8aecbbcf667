package expose

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gernest/mmprom/aggregate"
)

func gauge(key, pid string, v float64) aggregate.Entry {
	return aggregate.Entry{Key: key, PID: pid, Meta: aggregate.Meta{Type: aggregate.Gauge, Value: v}}
}

func TestRenderText(t *testing.T) {
	cases := []struct {
		name    string
		entries []aggregate.Entry
		want    string
	}{
		{
			name:    "labels with pid",
			entries: []aggregate.Entry{gauge(`["family","name",["a","b"],["x","y"]]`, "worker-1", 1)},
			want: "# HELP family Multiprocess metric\n" +
				"# TYPE family gauge\n" +
				"name{a=\"x\",b=\"y\",pid=\"worker-1\"} 1\n",
		},
		{
			name:    "no labels no pid",
			entries: []aggregate.Entry{gauge(`["family","name",[],[]]`, "", 2.5)},
			want: "# HELP family Multiprocess metric\n" +
				"# TYPE family gauge\n" +
				"name 2.5\n",
		},
		{
			name:    "no labels with pid",
			entries: []aggregate.Entry{gauge(`["family","name",[],[]]`, "8", 1)},
			want: "# HELP family Multiprocess metric\n" +
				"# TYPE family gauge\n" +
				"name{pid=\"8\"} 1\n",
		},
		{
			name:    "null and numeric label values",
			entries: []aggregate.Entry{gauge(`["family","name",["a","b"],[null,404]]`, "", 1)},
			want: "# HELP family Multiprocess metric\n" +
				"# TYPE family gauge\n" +
				"name{a=\"\",b=\"404\"} 1\n",
		},
		{
			name: "header per family",
			entries: []aggregate.Entry{
				gauge(`["alpha","alpha",[],[]]`, "", 1),
				gauge(`["beta","beta_a",[],[]]`, "", 2),
				gauge(`["beta","beta_b",[],[]]`, "", 3),
			},
			want: "# HELP alpha Multiprocess metric\n" +
				"# TYPE alpha gauge\n" +
				"alpha 1\n" +
				"# HELP beta Multiprocess metric\n" +
				"# TYPE beta gauge\n" +
				"beta_a 2\n" +
				"beta_b 3\n",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var b bytes.Buffer
			require.NoError(t, RenderText(&b, c.entries, nil))
			require.Equal(t, c.want, b.String())
		})
	}
}

func TestRenderTextHelp(t *testing.T) {
	var b bytes.Buffer
	help := func(family string) string { return "Custom help for " + family }
	require.NoError(t, RenderText(&b, []aggregate.Entry{gauge(`["family","name",[],[]]`, "", 1)}, help))
	require.Contains(t, b.String(), "# HELP family Custom help for family\n")
}

func TestRenderTextAllOrNothing(t *testing.T) {
	entries := []aggregate.Entry{
		gauge(`["family","name",[],[]]`, "", 1),
		gauge(`not json`, "", 2),
		gauge(`["family","name",["a"],[]]`, "", 3),
	}
	var b bytes.Buffer
	err := RenderText(&b, entries, nil)
	var count *aggregate.CountError
	require.ErrorAs(t, err, &count)
	require.Equal(t, 1, count.Processed)
	require.Equal(t, 3, count.Total)
	require.Zero(t, b.Len())
}
