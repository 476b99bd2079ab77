// Package record models a single job-posting entry as returned by the jobs API.
//
// A Record is whatever JSON value appears in the API "results" array. Objects keep
// their keys in document order, which is what the tabular writer relies on to
// derive a stable column header.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrEmpty is returned when decoding an empty JSON document.
var ErrEmpty = errors.New("empty record")

// Record is one element of a results page.
type Record struct {
	raw    json.RawMessage
	fields *orderedmap.OrderedMap[string, json.RawMessage] // nil unless raw is a JSON object
}

// Parse decodes a single JSON value into a Record.
func Parse(data []byte) (Record, error) {
	var r Record
	if err := r.UnmarshalJSON(data); err != nil {
		return Record{}, err
	}
	return r, nil
}

// MustParse is Parse for literals in tests and examples.
func MustParse(data string) Record {
	r, err := Parse([]byte(data))
	if err != nil {
		panic(err)
	}
	return r
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return ErrEmpty
	}
	if !json.Valid(trimmed) {
		return fmt.Errorf("decode record: invalid JSON")
	}

	r.raw = append(json.RawMessage(nil), trimmed...)
	r.fields = nil

	if trimmed[0] != '{' {
		return nil
	}

	fields := orderedmap.New[string, json.RawMessage]()
	if err := fields.UnmarshalJSON(trimmed); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	r.fields = fields
	return nil
}

// MarshalJSON returns the record exactly as it was received.
func (r Record) MarshalJSON() ([]byte, error) {
	if len(r.raw) == 0 {
		return []byte("null"), nil
	}
	return r.raw, nil
}

// Raw returns the undecoded JSON value.
func (r Record) Raw() json.RawMessage {
	return r.raw
}

// IsObject reports whether the record is a JSON object (a mapping of field names to values).
func (r Record) IsObject() bool {
	return r.fields != nil
}

// Len returns the number of fields, 0 for non-object records.
func (r Record) Len() int {
	if r.fields == nil {
		return 0
	}
	return r.fields.Len()
}

// Keys returns the field names in document order.
func (r Record) Keys() []string {
	if r.fields == nil {
		return nil
	}
	keys := make([]string, 0, r.fields.Len())
	for pair := r.fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Has reports whether the record carries the field.
func (r Record) Has(key string) bool {
	if r.fields == nil {
		return false
	}
	_, ok := r.fields.Get(key)
	return ok
}

// Get returns the raw JSON value of a field.
func (r Record) Get(key string) (json.RawMessage, bool) {
	if r.fields == nil {
		return nil, false
	}
	return r.fields.Get(key)
}

// Text returns the field value rendered as a table cell.
// The second result is false when the field is absent.
func (r Record) Text(key string) (string, bool) {
	value, ok := r.Get(key)
	if !ok {
		return "", false
	}
	return Stringify(value), true
}

// Stringify renders a raw JSON value as cell text:
//
//	null          -> ""
//	"text"        -> text
//	12.50         -> 12.50 (literal kept)
//	true / false  -> true / false
//	{...} / [...] -> compact JSON
func Stringify(value json.RawMessage) string {
	v := bytes.TrimSpace(value)
	if len(v) == 0 {
		return ""
	}

	switch v[0] {
	case 'n':
		return ""
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return string(v)
		}
		return s
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return string(v)
		}
		return buf.String()
	default:
		return string(v)
	}
}

// UnionKeys returns every field name found across the object records,
// in the order each name is first seen.
func UnionKeys(records []Record) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, r := range records {
		if r.fields == nil {
			continue
		}
		for pair := r.fields.Oldest(); pair != nil; pair = pair.Next() {
			if _, ok := seen[pair.Key]; ok {
				continue
			}
			seen[pair.Key] = struct{}{}
			keys = append(keys, pair.Key)
		}
	}
	return keys
}
