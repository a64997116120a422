// Package document provides the loosely typed JSON documents that flow
// between controllers and their storage collections, together with the
// dotted-path helpers the update operations are built on.
package document

import (
	"fmt"
	"strconv"
	"strings"
)

// Document is a JSON object as it comes out of a decoder.
type Document map[string]interface{}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return cloneValue(map[string]interface{}(d)).(map[string]interface{})
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case Document:
		return cloneValue(map[string]interface{}(t))
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}

// Get resolves a dotted path like "address.city" inside the document.
func (d Document) Get(path string) (interface{}, bool) {
	var current interface{} = map[string]interface{}(d)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Set assigns a value at a dotted path, creating intermediate objects as
// needed. A non-object value in the middle of the path is replaced.
func (d Document) Set(path string, value interface{}) {
	parts := strings.Split(path, ".")
	current := map[string]interface{}(d)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(current[part])
		if !ok {
			next = map[string]interface{}{}
			current[part] = next
		}
		current[part] = next
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// Delete removes the value at a dotted path, if present.
func (d Document) Delete(path string) {
	parts := strings.Split(path, ".")
	current := map[string]interface{}(d)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(current[part])
		if !ok {
			return
		}
		current = next
	}
	delete(current, parts[len(parts)-1])
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case Document:
		return map[string]interface{}(t), true
	}
	return nil, false
}

// Flatten converts a nested patch into dotted-path assignments, so that
// {"a":{"b":1}} updates only a.b instead of replacing the whole a subtree.
// Arrays and empty objects are treated as leaf values.
func Flatten(patch Document) Document {
	out := Document{}
	flattenInto(out, "", map[string]interface{}(patch))
	return out
}

func flattenInto(out Document, prefix string, m map[string]interface{}) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := asMap(v); ok && len(nested) > 0 {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = v
	}
}

// Project applies a field projection to a copy of the document. Fields mapped
// to 1 are included, fields mapped to 0 are excluded. As soon as one field is
// included the projection switches to include-only mode and keeps nothing
// else, mirroring the storage-native semantics of document databases.
func Project(d Document, projection map[string]int) Document {
	if len(projection) == 0 {
		return d.Clone()
	}
	includeMode := false
	for _, mode := range projection {
		if mode == 1 {
			includeMode = true
			break
		}
	}
	out := Document{}
	if includeMode {
		for field, mode := range projection {
			if mode != 1 {
				continue
			}
			if v, ok := d.Get(field); ok {
				out.Set(field, cloneValue(v))
			}
		}
		return out
	}
	out = d.Clone()
	for field, mode := range projection {
		if mode == 0 {
			out.Delete(field)
		}
	}
	return out
}

// Equal compares two document values loosely: JSON numbers compare by value
// regardless of their Go representation, everything else falls back to the
// string form. This keeps query-string values comparable with decoded JSON.
func Equal(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == b
	}
	fa, aok := asFloat(a)
	fb, bok := asFloat(b)
	if aok && bok {
		return fa == fb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// Less orders two document values for sorting: numerically when both values
// are numbers, lexicographically otherwise. Nil sorts first.
func Less(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b != nil
	}
	fa, aok := asFloat(a)
	fb, bok := asFloat(b)
	if aok && bok {
		return fa < fb
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func asFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}
