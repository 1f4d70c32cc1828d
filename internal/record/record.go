package record

import "strings"

const (
	RefPrefix = "_ref_"
	RelPrefix = "_rel_"
)

// Value is a nullable field value.
type Value struct {
	S     string
	Valid bool
}

// Null is the absent value.
var Null = Value{}

func String(s string) Value { return Value{S: s, Valid: true} }

// Blank reports whether the value is null or the empty string.
func (v Value) Blank() bool { return !v.Valid || v.S == "" }

// Normalize turns blank values into Null.
func (v Value) Normalize() Value {
	if v.Blank() {
		return Null
	}
	return v
}

// Record is one exported row: an ordered mapping of field name to nullable value.
type Record struct {
	keys   []string
	values map[string]Value
}

func New() *Record {
	return &Record{values: map[string]Value{}}
}

// FromPairs builds a record from alternating field/value arguments.
// The literal "null" is kept as a string; use Set with Null for absent values.
func FromPairs(pairs ...string) *Record {
	r := New()
	for i := 0; i+1 < len(pairs); i += 2 {
		r.Set(pairs[i], String(pairs[i+1]))
	}
	return r
}

func (r *Record) Get(field string) (Value, bool) {
	v, ok := r.values[field]
	return v, ok
}

// Str returns the field value or "" when the field is absent or null.
func (r *Record) Str(field string) string {
	return r.values[field].S
}

func (r *Record) Has(field string) bool {
	_, ok := r.values[field]
	return ok
}

func (r *Record) Set(field string, v Value) {
	if _, ok := r.values[field]; !ok {
		r.keys = append(r.keys, field)
	}
	r.values[field] = v
}

func (r *Record) SetString(field, s string) { r.Set(field, String(s)) }

func (r *Record) Delete(field string) {
	if _, ok := r.values[field]; !ok {
		return
	}
	delete(r.values, field)
	for i, k := range r.keys {
		if k == field {
			r.keys = append(r.keys[:i:i], r.keys[i+1:]...)
			break
		}
	}
}

// Rename moves the value of from to to, keeping the position of from.
// An existing to field is replaced.
func (r *Record) Rename(from, to string) {
	v, ok := r.values[from]
	if !ok || from == to {
		return
	}
	r.Delete(to)
	for i, k := range r.keys {
		if k == from {
			r.keys[i] = to
			break
		}
	}
	delete(r.values, from)
	r.values[to] = v
}

// Keys returns the field names in insertion order.
func (r *Record) Keys() []string {
	return append([]string(nil), r.keys...)
}

func (r *Record) Len() int { return len(r.keys) }

func (r *Record) Clone() *Record {
	c := &Record{keys: append([]string(nil), r.keys...), values: make(map[string]Value, len(r.values))}
	for k, v := range r.values {
		c.values[k] = v
	}
	return c
}

// IsScaffold reports whether the field is an export-time reference or relationship column.
func IsScaffold(field string) bool {
	return strings.HasPrefix(field, RefPrefix) || strings.HasPrefix(field, RelPrefix)
}

// CloneAll copies every record of a batch.
func CloneAll(records []*Record) []*Record {
	out := make([]*Record, len(records))
	for i, rec := range records {
		out[i] = rec.Clone()
	}
	return out
}
