package aggregate

import (
	"fmt"

	"github.com/gernest/mmprom/codec"
)

// Type is the closed set of metric types carried by region descriptors.
// Compared by value, never interned.
type Type uint8

const (
	Counter Type = iota + 1
	Gauge
	Histogram
	Summary
	Exemplar
)

var typeNames = map[Type]string{
	Counter:   "counter",
	Gauge:     "gauge",
	Histogram: "histogram",
	Summary:   "summary",
	Exemplar:  "exemplar",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseType maps a metric type name to its Type.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unhandled metric type %s", s)
}

// Mode is the closed set of aggregation modes controlling how gauge values
// from separate processes combine. The zero value is the default "all" mode.
type Mode uint8

const (
	All Mode = iota
	Min
	Max
	LiveSum
)

var modeNames = map[Mode]string{
	All:     "all",
	Min:     "min",
	Max:     "max",
	LiveSum: "livesum",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// ParseMode maps an aggregation mode name to its Mode. The empty string is
// the default mode.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return All, nil
	}
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unhandled aggregation mode %s", s)
}

// PidSignificant reports whether per-process values of an entry stay
// distinct: true exactly for gauges outside the min/max/livesum modes, where
// the pid becomes part of the dedup key.
func PidSignificant(t Type, m Mode) bool {
	return t == Gauge && m != Min && m != Max && m != LiveSum
}

// Meta is the mutable metadata merged per entry key.
type Meta struct {
	Mode  Mode
	Type  Type
	Value float64
	Ex    *codec.Exemplar
}

// Merge combines the value of other into m. Min, max and livesum gauges
// combine commutatively; for the default gauge mode the last applied value
// wins, the pid is part of the key there so true collisions only occur for
// identical-key identical-pid updates. Exemplar entries never combine
// values, only the newest exemplar survives. Every other type sums.
func (m *Meta) Merge(other *Meta) {
	switch {
	case other.Type == Exemplar:
		m.mergeEx(other.Ex)
		return
	case m.Type == Exemplar:
		// A sample entry replaces an exemplar placeholder but keeps the
		// exemplar it carried.
		ex := m.Ex
		*m = *other
		m.mergeEx(ex)
		return
	case m.Type == Gauge:
		switch m.Mode {
		case Min:
			m.Value = min(m.Value, other.Value)
		case Max:
			m.Value = max(m.Value, other.Value)
		case LiveSum:
			m.Value += other.Value
		default:
			m.Value = other.Value
		}
	default:
		m.Value += other.Value
	}
	m.mergeEx(other.Ex)
}

// mergeEx keeps the exemplar with the newest timestamp.
func (m *Meta) mergeEx(ex *codec.Exemplar) {
	if ex != nil && (m.Ex == nil || ex.Timestamp >= m.Ex.Timestamp) {
		m.Ex = ex
	}
}
