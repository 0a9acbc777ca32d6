// Package entry defines the unit record that flows through a graph: a
// stable identity, a monotonic revision, and an open payload.
package entry

import "encoding/json"

// Entry is the unit of data flowing between nodes. Idx is a stable string
// identity, unique within a single pipeline run. Rev starts at 0 and
// increases only when a node produces a new generation of the record.
// Data is an open mapping from string key to JSON-serializable value.
type Entry struct {
	Idx  string
	Rev  int64
	Data map[string]interface{}
}

// New creates an Entry at revision 0 with the given data. A nil data map
// is normalized to an empty, non-nil map.
func New(idx string, data map[string]interface{}) Entry {
	if data == nil {
		data = map[string]interface{}{}
	}
	return Entry{Idx: idx, Rev: 0, Data: data}
}

// Clone deep-copies an Entry so a node's user callback cannot mutate the
// buffer's stored copy.
func (e Entry) Clone() Entry {
	clone := Entry{Idx: e.Idx, Rev: e.Rev}
	if e.Data == nil {
		return clone
	}
	clone.Data = make(map[string]interface{}, len(e.Data))
	for k, v := range e.Data {
		clone.Data[k] = deepCopyValue(v)
	}
	return clone
}

// WithRev returns a copy of the Entry at the given revision.
func (e Entry) WithRev(rev int64) Entry {
	c := e
	c.Rev = rev
	return c
}

// Get reads a field from Data, reporting whether it was present.
func (e Entry) Get(key string) (interface{}, bool) {
	if e.Data == nil {
		return nil, false
	}
	v, ok := e.Data[key]
	return v, ok
}

// Set returns a copy of the Entry with the given field set in Data.
func (e Entry) Set(key string, value interface{}) Entry {
	c := e.Clone()
	if c.Data == nil {
		c.Data = map[string]interface{}{}
	}
	c.Data[key] = value
	return c
}

// CompareRev compares two entries' revisions: negative if a < b, zero if
// equal, positive if a > b.
func CompareRev(a, b Entry) int {
	switch {
	case a.Rev < b.Rev:
		return -1
	case a.Rev > b.Rev:
		return 1
	default:
		return 0
	}
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, vv := range t {
			out[k] = deepCopyValue(vv)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, vv := range t {
			out[i] = deepCopyValue(vv)
		}
		return out
	default:
		return v
	}
}

// MarshalCanonicalJSON renders a value as JSON with map keys sorted, so
// structurally identical requests always hash identically regardless of
// map iteration order. encoding/json already sorts map[string]... keys on
// marshal, so this is a thin, explicit wrapper documenting that reliance.
func MarshalCanonicalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
