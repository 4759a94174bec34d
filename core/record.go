package core

import (
	"encoding/json"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Record is one unit of input or output: an ordered set of fields plus metadata
// that is never serialized. A Record has a single owner at a time; stages that
// keep a record must not hand the same pointer downstream until they let go of it.
type Record struct {
	fields   *orderedmap.OrderedMap[string, any]
	metadata *orderedmap.OrderedMap[string, any]
}

// NewRecord creates an empty record
func NewRecord() *Record {
	return &Record{
		fields:   orderedmap.New[string, any](),
		metadata: orderedmap.New[string, any](),
	}
}

// RecordFromMap builds a record from m. Field order follows keys when given,
// otherwise map iteration order.
func RecordFromMap(m map[string]any, keys ...string) *Record {
	r := NewRecord()
	if len(keys) == 0 {
		for k, v := range m {
			r.Set(k, v)
		}
		return r
	}
	for _, k := range keys {
		if v, ok := m[k]; ok {
			r.Set(k, v)
		}
	}
	return r
}

// EventType implements Event
func (r *Record) EventType() EventType {
	return EventTypeRecord
}

func (r *Record) init() {
	if r.fields == nil {
		r.fields = orderedmap.New[string, any]()
	}
	if r.metadata == nil {
		r.metadata = orderedmap.New[string, any]()
	}
}

// Get returns the top-level field and whether it is present
func (r *Record) Get(field string) (any, bool) {
	r.init()
	return r.fields.Get(field)
}

// Set stores value under field, keeping the field's position if it already exists
func (r *Record) Set(field string, value any) {
	r.init()
	r.fields.Set(field, value)
}

// Delete removes field and reports whether it was present
func (r *Record) Delete(field string) bool {
	r.init()
	_, ok := r.fields.Delete(field)
	return ok
}

// Len returns the number of top-level fields
func (r *Record) Len() int {
	r.init()
	return r.fields.Len()
}

// Keys returns the field names in order
func (r *Record) Keys() []string {
	r.init()
	keys := make([]string, 0, r.fields.Len())
	for pair := r.fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Range calls fn for each field in order until fn returns false
func (r *Record) Range(fn func(field string, value any) bool) {
	r.init()
	for pair := r.fields.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, pair.Value) {
			return
		}
	}
}

// Metadata returns the record's metadata as a plain map copy
func (r *Record) Metadata() map[string]any {
	r.init()
	out := make(map[string]any, r.metadata.Len())
	for pair := r.metadata.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = copyValue(pair.Value)
	}
	return out
}

// SetMetadata stores a metadata entry
func (r *Record) SetMetadata(key string, value any) {
	r.init()
	r.metadata.Set(key, value)
}

// GetMetadata returns a metadata entry and whether it is present
func (r *Record) GetMetadata(key string) (any, bool) {
	r.init()
	return r.metadata.Get(key)
}

// Lookup resolves a field reference. A bare name addresses a top-level field;
// "[a][b]" walks nested objects, and numeric segments index arrays.
// "[@metadata][k]" addresses metadata.
func (r *Record) Lookup(ref string) (any, bool) {
	path := ParseFieldRef(ref)
	if len(path) == 0 {
		return nil, false
	}

	var current any
	var ok bool
	if path[0] == MetadataField {
		if len(path) == 1 {
			return r.Metadata(), true
		}
		r.init()
		current, ok = r.metadata.Get(path[1])
		path = path[1:]
	} else {
		current, ok = r.Get(path[0])
	}
	if !ok {
		return nil, false
	}

	for _, segment := range path[1:] {
		switch node := current.(type) {
		case map[string]any:
			current, ok = node[segment]
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil {
				return nil, false
			}
			if idx < 0 {
				idx += len(node)
			}
			if idx < 0 || idx >= len(node) {
				return nil, false
			}
			current, ok = node[idx], true
		default:
			return nil, false
		}
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// ParseFieldRef splits a field reference into path segments
func ParseFieldRef(ref string) []string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	if !strings.HasPrefix(ref, "[") {
		return []string{ref}
	}

	var path []string
	for _, part := range strings.Split(ref, "[") {
		part = strings.TrimSuffix(part, "]")
		if part != "" {
			path = append(path, part)
		}
	}
	return path
}

// IsBlank reports whether a looked-up value counts as absent:
// missing, null, or the empty string.
func IsBlank(value any, present bool) bool {
	if !present || value == nil {
		return true
	}
	if s, ok := value.(string); ok && s == "" {
		return true
	}
	return false
}

// Tag adds tag to the record's tags field unless it is already there
func (r *Record) Tag(tag string) {
	tags := r.Tags()
	for _, t := range tags {
		if t == tag {
			return
		}
	}
	values := make([]any, 0, len(tags)+1)
	for _, t := range tags {
		values = append(values, t)
	}
	r.Set(TagsField, append(values, tag))
}

// Tags returns the string entries of the tags field
func (r *Record) Tags() []string {
	raw, ok := r.Get(TagsField)
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		tags := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
		return tags
	case string:
		return []string{v}
	}
	return nil
}

// HasTag reports whether the record carries tag
func (r *Record) HasTag(tag string) bool {
	for _, t := range r.Tags() {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy owned by the caller
func (r *Record) Clone() *Record {
	r.init()
	out := NewRecord()
	for pair := r.fields.Oldest(); pair != nil; pair = pair.Next() {
		out.fields.Set(pair.Key, copyValue(pair.Value))
	}
	for pair := r.metadata.Oldest(); pair != nil; pair = pair.Next() {
		out.metadata.Set(pair.Key, copyValue(pair.Value))
	}
	return out
}

// MarshalJSON encodes the fields in order; metadata is not serialized
func (r *Record) MarshalJSON() ([]byte, error) {
	r.init()
	return json.Marshal(r.fields)
}

// UnmarshalJSON decodes a JSON object, keeping field order
func (r *Record) UnmarshalJSON(data []byte) error {
	fields := orderedmap.New[string, any]()
	if err := json.Unmarshal(data, fields); err != nil {
		return err
	}
	r.fields = fields
	if r.metadata == nil {
		r.metadata = orderedmap.New[string, any]()
	}
	return nil
}

// CopyValue deep-copies JSON-like values (objects, arrays, scalars)
func CopyValue(v any) any {
	return copyValue(v)
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	case *Record:
		return val.Clone()
	default:
		return val
	}
}
