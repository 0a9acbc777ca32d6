package ops

import "github.com/batchgraph/engine/pkg/entry"

// ApplyFunc adapts a plain data-mutating function into a Mapper, grounded
// on original_source's Apply(func, *keys) wrapper around ApplyOp: the
// callback sees and mutates entry.Data directly rather than returning a
// replacement Entry.
func ApplyFunc(fn func(data map[string]interface{})) Mapper {
	return MapperFunc(func(e entry.Entry) (*entry.Entry, error) {
		out := e.Clone()
		fn(out.Data)
		return &out, nil
	})
}

// SetFieldMapper sets a fixed set of fields on every entry it sees,
// grounded on original_source's SetField.
func SetFieldMapper(fields map[string]interface{}) Mapper {
	return ApplyFunc(func(data map[string]interface{}) {
		for k, v := range fields {
			data[k] = v
		}
	})
}

// RemoveFieldMapper deletes the given fields from every entry, grounded on
// original_source's RemoveField.
func RemoveFieldMapper(keys ...string) Mapper {
	return ApplyFunc(func(data map[string]interface{}) {
		for _, k := range keys {
			delete(data, k)
		}
	})
}

// RenameFieldMapper renames keys per the from->to map, grounded on
// original_source's RenameField. If copy is true, the source field is
// retained rather than deleted.
func RenameFieldMapper(keysMap map[string]string, copy bool) Mapper {
	return ApplyFunc(func(data map[string]interface{}) {
		for from, to := range keysMap {
			v, ok := data[from]
			if !ok {
				continue
			}
			data[to] = v
			if !copy {
				delete(data, from)
			}
		}
	})
}
