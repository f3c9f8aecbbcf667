package store

import (
	"encoding/json"

	"github.com/prometheus/prometheus/model/labels"
)

// Key builds the canonical entry key payload for a sample: the JSON array
// [family, metric, label names, label values]. Label order follows ls, which
// labels.New keeps sorted by name.
func Key(family, metric string, ls labels.Labels) ([]byte, error) {
	names := make([]string, 0, ls.Len())
	values := make([]string, 0, ls.Len())
	ls.Range(func(l labels.Label) {
		names = append(names, l.Name)
		values = append(values, l.Value)
	})
	return json.Marshal([]any{family, metric, names, values})
}
