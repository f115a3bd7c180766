package sheet

import (
	"fmt"

	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
	"golang.org/x/text/unicode/norm"
)

// Reserved columns. Every appended record starts with these two.
const (
	ColTimestamp = "timestamp"
	ColIP        = "IP"
)

// Record is one sheet row: column names in insertion order, each with a
// string value.
//
// The zero value is an empty record ready to use.
type Record struct {
	keys   []string
	values map[string]string
}

// NewRecord builds a record from alternating key/value pairs.
// Panics on an odd number of arguments.
//
//	NewRecord("timestamp", "", "IP", "", "name", "Jane")
func NewRecord(kv ...string) Record {
	if len(kv)%2 != 0 {
		panic("sheet.NewRecord: odd number of arguments")
	}
	var r Record
	for i := 0; i < len(kv); i += 2 {
		r.Set(kv[i], kv[i+1])
	}
	return r
}

// Set assigns value to key. A key not yet present is added after all
// existing keys; an existing key keeps its position.
func (r *Record) Set(key, value string) {
	if r.values == nil {
		r.values = make(map[string]string)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value stored under key.
func (r Record) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Value returns the value under key, or "" when the key is absent.
func (r Record) Value(key string) string {
	return r.values[key]
}

// Has reports whether key is a column of the record.
func (r Record) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

// Keys returns the column names in order. The slice is a copy.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of columns.
func (r Record) Len() int {
	return len(r.keys)
}

// IsBlank reports whether every value is the empty string. A record with no
// columns is blank.
func (r Record) IsBlank() bool {
	for _, k := range r.keys {
		if r.values[k] != "" {
			return false
		}
	}
	return true
}

// NormalizeKey returns the NFC form of a column name so visually identical
// keys from different clients land in the same column. Keys decoded from a
// stored sheet are kept as written.
func NormalizeKey(key string) string {
	return norm.NFC.String(key)
}

// MarshalJSON encodes the record as a JSON object in column order.
func (r Record) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	r.writeJSON(&w)
	return w.BuildBytes()
}

// UnmarshalJSON decodes a JSON object, keeping its key order.
func (r *Record) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("record: invalid json")
	}
	res := gjson.ParseBytes(data)
	rec, err := recordFromResult(res)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

func (r Record) writeJSON(w *jwriter.Writer) {
	w.RawByte('{')
	for i, k := range r.keys {
		if i > 0 {
			w.RawByte(',')
		}
		w.String(k)
		w.RawByte(':')
		w.String(r.values[k])
	}
	w.RawByte('}')
}

// recordFromResult converts a parsed JSON object to a Record. Non-string
// scalars keep their literal text, null becomes "", and nested values keep
// their raw JSON.
func recordFromResult(res gjson.Result) (Record, error) {
	if !res.IsObject() {
		return Record{}, fmt.Errorf("record: expected object, got %s", res.Type)
	}
	var rec Record
	res.ForEach(func(key, value gjson.Result) bool {
		rec.Set(key.String(), value.String())
		return true
	})
	return rec, nil
}
