package expose

import (
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/immutable"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/gernest/mmprom/aggregate"
	"github.com/gernest/mmprom/codec"
	"github.com/gernest/mmprom/internal/checksum"
	"github.com/gernest/mmprom/internal/magic"
)

// familyGroup accumulates all entries sharing a family and a label set,
// excluding the per-type discriminator label (le for histograms, quantile
// for summaries).
type familyGroup struct {
	family string
	name   string
	typ    aggregate.Type
	labels []*dto.LabelPair

	value     float64
	ex        *codec.Exemplar
	buckets   map[float64]float64
	quantiles map[float64]float64
	count     uint64
	countF    float64
	sum       float64
	hasCount  bool
	hasSum    bool
}

// RenderProto writes one length-delimited MetricFamily message per (family,
// label set) group, the conventional Prometheus protobuf schema framed with
// a varint size prefix. Families are emitted in sorted group-key order,
// deterministic but unrelated to the text exposition's ordering.
func RenderProto(w io.Writer, entries []aggregate.Entry, help HelpFunc) error {
	if help == nil {
		help = defaultHelp
	}
	groups := immutable.NewSortedMapBuilder[string, *familyGroup](nil)

	for i := range entries {
		e := &entries[i]
		mt, err := decodeKey(e.Key)
		if err != nil {
			continue
		}
		if len(mt.Labels) != len(mt.Values) {
			continue
		}
		if e.Meta.Type == aggregate.Exemplar {
			// Standalone exemplar entries have no sample to attach to.
			continue
		}
		if err := addToGroup(groups, e, &mt); err != nil {
			return err
		}
	}

	itr := groups.Map().Iterator()
	for !itr.Done() {
		_, g, _ := itr.Next()
		fam, err := g.message(help)
		if err != nil {
			return err
		}
		if _, err := protodelim.MarshalTo(w, fam); err != nil {
			return err
		}
	}
	return nil
}

func addToGroup(groups *immutable.SortedMapBuilder[string, *familyGroup], e *aggregate.Entry, mt *metricText) error {
	disc := ""
	switch e.Meta.Type {
	case aggregate.Histogram:
		disc = "le"
	case aggregate.Summary:
		disc = "quantile"
	case aggregate.Counter, aggregate.Gauge:
	default:
		return fmt.Errorf("unhandled metric type %s", e.Meta.Type)
	}

	// Hash all label pairs excluding the discriminator so that buckets and
	// quantiles of one series land in one group.
	values := make([]string, len(mt.Values))
	var bound float64
	boundSeen := false
	chunks := make([][]byte, 0, 2*len(mt.Labels)+1)
	for i, name := range mt.Labels {
		values[i] = trimQuotes(string(mt.Values[i]))
		if name == disc && disc != "" {
			if e.Meta.Type == aggregate.Histogram && values[i] == "+Inf" {
				// The implicit +Inf bucket is dropped entirely.
				return nil
			}
			b, err := strconv.ParseFloat(values[i], 64)
			if err != nil {
				return fmt.Errorf("failed to parse %s %q %w", disc, values[i], err)
			}
			bound, boundSeen = b, true
			continue
		}
		chunks = append(chunks, magic.Slice(name), magic.Slice(values[i]))
	}
	chunks = append(chunks, magic.Slice(e.Meta.Type.String()))
	sum := checksum.Sum128Concat(chunks...)
	key := mt.FamilyName + "\xff" + e.Meta.Type.String() + "\xff" + hex.EncodeToString(sum[:])

	g, ok := groups.Get(key)
	if !ok {
		g = &familyGroup{
			family:    mt.FamilyName,
			name:      baseName(e.Meta.Type, mt.MetricName),
			typ:       e.Meta.Type,
			labels:    labelPairs(mt.Labels, values, disc),
			buckets:   map[float64]float64{},
			quantiles: map[float64]float64{},
		}
		groups.Set(key, g)
	}
	return g.add(e, mt, bound, boundSeen)
}

func (g *familyGroup) add(e *aggregate.Entry, mt *metricText, bound float64, boundSeen bool) error {
	v := e.Meta.Value
	switch g.typ {
	case aggregate.Counter, aggregate.Gauge:
		g.value = v
		if e.Meta.Ex != nil {
			g.ex = e.Meta.Ex
		}
	case aggregate.Histogram:
		switch {
		case boundSeen:
			g.buckets[bound] += v
		case strings.HasSuffix(mt.MetricName, "_sum"):
			g.sum += v
			g.hasSum = true
		case strings.HasSuffix(mt.MetricName, "_count"):
			g.countF += v
			g.hasCount = true
		default:
			return fmt.Errorf("histogram entry %s has no le label", mt.MetricName)
		}
	case aggregate.Summary:
		switch {
		case strings.HasSuffix(mt.MetricName, "_count"):
			g.count += uint64(v)
			g.hasCount = true
		case strings.HasSuffix(mt.MetricName, "_sum"):
			g.sum += v
			g.hasSum = true
		case boundSeen:
			g.quantiles[bound] += v
		default:
			return fmt.Errorf("summary entry %s has no quantile label", mt.MetricName)
		}
	}
	return nil
}

func (g *familyGroup) message(help HelpFunc) (*dto.MetricFamily, error) {
	m := &dto.Metric{Label: g.labels}
	var mtype dto.MetricType

	switch g.typ {
	case aggregate.Counter:
		mtype = dto.MetricType_COUNTER
		m.Counter = &dto.Counter{Value: proto.Float64(g.value)}
		if g.ex != nil {
			m.Counter.Exemplar = &dto.Exemplar{
				Label: []*dto.LabelPair{{
					Name:  proto.String(g.ex.LabelName),
					Value: proto.String(g.ex.LabelValue),
				}},
				Value:     proto.Float64(g.ex.Value),
				Timestamp: timestamppb.New(time.UnixMilli(int64(g.ex.Timestamp))),
			}
		}
	case aggregate.Gauge:
		mtype = dto.MetricType_GAUGE
		m.Gauge = &dto.Gauge{Value: proto.Float64(g.value)}
	case aggregate.Histogram:
		mtype = dto.MetricType_HISTOGRAM
		h := &dto.Histogram{Bucket: make([]*dto.Bucket, 0, len(g.buckets))}
		for _, bound := range sortedKeys(g.buckets) {
			h.Bucket = append(h.Bucket, &dto.Bucket{
				CumulativeCountFloat: proto.Float64(g.buckets[bound]),
				UpperBound:           proto.Float64(bound),
			})
		}
		if g.hasSum {
			h.SampleSum = proto.Float64(g.sum)
		}
		if g.hasCount {
			h.SampleCountFloat = proto.Float64(g.countF)
		}
		m.Histogram = h
	case aggregate.Summary:
		mtype = dto.MetricType_SUMMARY
		s := &dto.Summary{Quantile: make([]*dto.Quantile, 0, len(g.quantiles))}
		for _, q := range sortedKeys(g.quantiles) {
			s.Quantile = append(s.Quantile, &dto.Quantile{
				Quantile: proto.Float64(q),
				Value:    proto.Float64(g.quantiles[q]),
			})
		}
		if g.hasCount {
			s.SampleCount = proto.Uint64(g.count)
		}
		if g.hasSum {
			s.SampleSum = proto.Float64(g.sum)
		}
		m.Summary = s
	default:
		return nil, fmt.Errorf("unhandled metric type %s", g.typ)
	}

	return &dto.MetricFamily{
		Name:   proto.String(g.name),
		Help:   proto.String(help(g.family)),
		Type:   mtype.Enum(),
		Metric: []*dto.Metric{m},
	}, nil
}

// baseName strips the _bucket/_sum/_count suffixes so all series of one
// histogram or summary share the family's base name.
func baseName(t aggregate.Type, name string) string {
	if t != aggregate.Histogram && t != aggregate.Summary {
		return name
	}
	for _, suffix := range []string{"_bucket", "_sum", "_count"} {
		if s, ok := strings.CutSuffix(name, suffix); ok {
			return s
		}
	}
	return name
}

func labelPairs(names, values []string, disc string) []*dto.LabelPair {
	out := make([]*dto.LabelPair, 0, len(names))
	for i, name := range names {
		if name == disc && disc != "" {
			continue
		}
		out = append(out, &dto.LabelPair{
			Name:  proto.String(name),
			Value: proto.String(values[i]),
		})
	}
	return out
}

func trimQuotes(s string) string {
	s = strings.TrimPrefix(s, `"`)
	return strings.TrimSuffix(s, `"`)
}

func sortedKeys(m map[float64]float64) []float64 {
	out := make([]float64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Float64s(out)
	return out
}
