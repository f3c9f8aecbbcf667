// Package expose renders finalized aggregation entries in the Prometheus
// text format and in the length-delimited protobuf family format.
package expose

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/gernest/mmprom/aggregate"
	"github.com/gernest/mmprom/buffer"
	"github.com/gernest/mmprom/internal/magic"
)

// DefaultHelp is the HELP text emitted when no metadata source knows the
// family.
const DefaultHelp = "Multiprocess metric"

// HelpFunc resolves the HELP line for a family. A nil HelpFunc renders
// DefaultHelp for every family.
type HelpFunc func(family string) string

func defaultHelp(string) string { return DefaultHelp }

// metricText is the decoded entry key payload:
// [family_name, metric_name, labels[], values[]].
type metricText struct {
	FamilyName string
	MetricName string
	Labels     []string
	Values     []json.RawMessage
}

func decodeKey(key string) (mt metricText, err error) {
	var fields []json.RawMessage
	if err = json.Unmarshal(magic.Slice(key), &fields); err != nil {
		return mt, err
	}
	if len(fields) != 4 {
		return mt, fmt.Errorf("key payload has %d fields instead of 4", len(fields))
	}
	if err = json.Unmarshal(fields[0], &mt.FamilyName); err != nil {
		return mt, err
	}
	if err = json.Unmarshal(fields[1], &mt.MetricName); err != nil {
		return mt, err
	}
	if err = json.Unmarshal(fields[2], &mt.Labels); err != nil {
		return mt, err
	}
	err = json.Unmarshal(fields[3], &mt.Values)
	return mt, err
}

var textPool buffer.Pool

// RenderText writes the entries as Prometheus text exposition. Entries must
// be in finalized order, families arrive grouped because the family name
// leads the key payload. Entries with malformed keys or mismatched
// label/value counts are excluded, and any exclusion fails the whole render
// with CountError, partial output is never written.
func RenderText(w io.Writer, entries []aggregate.Entry, help HelpFunc) error {
	if help == nil {
		help = defaultHelp
	}
	b := textPool.Get()
	defer textPool.Put(b)

	var prevFamily string
	havePrev := false
	processed := 0

	for i := range entries {
		e := &entries[i]
		mt, err := decodeKey(e.Key)
		if err != nil {
			// Keep going so the total number of invalid entries is
			// reflected in the final count check.
			continue
		}
		if len(mt.Labels) != len(mt.Values) {
			continue
		}

		if !havePrev || prevFamily != mt.FamilyName {
			b.B = appendHeader(b.B, mt.FamilyName, help(mt.FamilyName), e.Meta.Type)
			prevFamily = mt.FamilyName
			havePrev = true
		}
		b.B = appendMetric(b.B, &mt, e.PID)
		b.B = strconv.AppendFloat(b.B, e.Meta.Value, 'g', -1, 64)
		b.B = append(b.B, '\n')
		processed++
	}

	if processed != len(entries) {
		return &aggregate.CountError{Processed: processed, Total: len(entries)}
	}
	_, err := w.Write(b.B)
	return err
}

func appendHeader(b []byte, family, help string, t aggregate.Type) []byte {
	b = append(b, "# HELP "...)
	b = append(b, family...)
	b = append(b, ' ')
	b = append(b, help...)
	b = append(b, "\n# TYPE "...)
	b = append(b, family...)
	b = append(b, ' ')
	b = append(b, t.String()...)
	return append(b, '\n')
}

func appendMetric(b []byte, mt *metricText, pid string) []byte {
	b = append(b, mt.MetricName...)

	if len(mt.Labels) == 0 {
		if pid != "" {
			b = append(b, `{pid="`...)
			b = append(b, pid...)
			b = append(b, `"}`...)
		}
		return append(b, ' ')
	}

	b = append(b, '{')
	for i, name := range mt.Labels {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, name...)
		b = append(b, '=')
		b = appendLabelValue(b, mt.Values[i])
	}
	if pid != "" {
		b = append(b, `,pid="`...)
		b = append(b, pid...)
		b = append(b, '"')
	}
	b = append(b, '}')
	return append(b, ' ')
}

// appendLabelValue renders one raw JSON label value: quoted strings pass
// through, null renders as the empty string, bare numbers get quoted.
func appendLabelValue(b []byte, raw json.RawMessage) []byte {
	switch {
	case string(raw) == "null":
		return append(b, `""`...)
	case len(raw) > 0 && raw[0] == '"':
		return append(b, raw...)
	default:
		b = append(b, '"')
		b = append(b, raw...)
		return append(b, '"')
	}
}
