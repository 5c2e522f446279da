package componentstate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrUnsupportedValue is returned when decoding a JSON value that has no
// Value variant.
var ErrUnsupportedValue = errors.New("unsupported data value")

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	// KindInvalid is the zero Kind.
	KindInvalid Kind = iota
	// KindString holds a string.
	KindString
	// KindNumber holds a float64.
	KindNumber
	// KindBool holds a bool.
	KindBool
	// KindRecords holds a list of records, e.g. search results.
	KindRecords
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindRecords:
		return "records"
	default:
		return "invalid"
	}
}

// Record is a single entry of a records list.
type Record map[string]Value

// Value is one workflow field value. The zero Value is invalid.
type Value struct {
	kind    Kind
	str     string
	num     float64
	boolean bool
	records []Record
}

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a number Value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Bool returns a bool Value.
func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }

// Records returns a records Value. The records are copied.
func Records(rs ...Record) Value {
	return Value{kind: KindRecords, records: cloneRecords(rs)}
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// AsString returns the string and whether v is a string.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsNumber returns the number and whether v is a number.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsBool returns the bool and whether v is a bool.
func (v Value) AsBool() (b, ok bool) { return v.boolean, v.kind == KindBool }

// AsRecords returns a copy of the records and whether v is a records list.
func (v Value) AsRecords() ([]Record, bool) {
	if v.kind != KindRecords {
		return nil, false
	}
	return cloneRecords(v.records), true
}

// Valid reports whether v holds a variant. A records value is valid only
// if every field of every record is.
func (v Value) Valid() bool {
	switch v.kind {
	case KindString, KindNumber, KindBool:
		return true
	case KindRecords:
		for _, r := range v.records {
			for _, val := range r {
				if !val.Valid() {
					return false
				}
			}
		}
		return true
	default:
		return false
	}
}

// Equal reports whether two values hold the same variant and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.boolean == o.boolean
	case KindRecords:
		return slices.EqualFunc(v.records, o.records, func(a, b Record) bool {
			return maps.EqualFunc(a, b, Value.Equal)
		})
	default:
		return true
	}
}

func (v Value) clone() Value {
	if v.kind == KindRecords {
		v.records = cloneRecords(v.records)
	}
	return v
}

func cloneRecords(rs []Record) []Record {
	if rs == nil {
		return nil
	}
	out := make([]Record, len(rs))
	for i, r := range rs {
		cp := make(Record, len(r))
		for k, val := range r {
			cp[k] = val.clone()
		}
		out[i] = cp
	}
	return out
}

// MarshalJSON encodes v as its native JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.boolean)
	case KindRecords:
		if v.records == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.records)
	default:
		return nil, fmt.Errorf("marshaling %s value: %w", v.kind, ErrUnsupportedValue)
	}
}

// UnmarshalJSON decodes a string, number, bool or array of objects.
func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return ErrUnsupportedValue
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("decoding string value: %w", err)
		}
		*v = String(s)
	case 't', 'f':
		var bv bool
		if err := json.Unmarshal(b, &bv); err != nil {
			return fmt.Errorf("decoding bool value: %w", err)
		}
		*v = Bool(bv)
	case '[':
		var rs []Record
		if err := json.Unmarshal(b, &rs); err != nil {
			return fmt.Errorf("decoding records value: %w", err)
		}
		if rs == nil {
			rs = []Record{}
		}
		*v = Value{kind: KindRecords, records: rs}
	case 'n':
		return fmt.Errorf("null: %w", ErrUnsupportedValue)
	case '{':
		return fmt.Errorf("object: %w", ErrUnsupportedValue)
	default:
		var n float64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("decoding number value: %w", err)
		}
		*v = Number(n)
	}
	return nil
}

// Data is the ordered bag of workflow fields attached to a component.
// The zero Data is empty and ready to use.
type Data struct {
	keys []string
	vals map[string]Value
}

// NewData builds Data from alternating string keys and Values in order.
// It panics on an odd argument count, a non-string key, or a value that
// is not a valid Value.
func NewData(kv ...any) Data {
	if len(kv)%2 == 1 {
		panic(fmt.Sprintf("componentstate: NewData: odd argument count %d", len(kv)))
	}
	var d Data
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("componentstate: NewData: key %d is %T, not string", i/2, kv[i]))
		}
		v, ok := kv[i+1].(Value)
		if !ok || !v.Valid() {
			panic(fmt.Sprintf("componentstate: NewData: value for %q is not a valid Value", k))
		}
		d.Set(k, v)
	}
	return d
}

// Set stores v at key, keeping the key's original position if present.
// An invalid v is ignored, so a Data always encodes.
func (d *Data) Set(key string, v Value) {
	if !v.Valid() {
		return
	}
	if d.vals == nil {
		d.vals = make(map[string]Value)
	}
	if _, ok := d.vals[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.vals[key] = v.clone()
}

// Get returns the value at key.
func (d Data) Get(key string) (Value, bool) {
	v, ok := d.vals[key]
	if !ok {
		return Value{}, false
	}
	return v.clone(), true
}

// Keys returns the keys in insertion order.
func (d Data) Keys() []string { return slices.Clone(d.keys) }

// Len returns the number of keys.
func (d Data) Len() int { return len(d.keys) }

// Merge shallow-merges other into d: keys in other overwrite, keys absent
// from other are preserved.
func (d *Data) Merge(other Data) {
	for _, k := range other.keys {
		d.Set(k, other.vals[k])
	}
}

// Clone returns a deep copy of d.
func (d Data) Clone() Data {
	var out Data
	out.Merge(d)
	return out
}

// Equal reports whether both bags hold the same keys in the same order
// with equal values.
func (d Data) Equal(o Data) bool {
	if !slices.Equal(d.keys, o.keys) {
		return false
	}
	for _, k := range d.keys {
		if !d.vals[k].Equal(o.vals[k]) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes d as a JSON object preserving key order.
func (d Data) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshaling key %q: %w", k, err)
		}
		vb, err := d.vals[k].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("marshaling key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the document's key order.
func (d *Data) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decoding data: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("data must be a JSON object: %w", ErrUnsupportedValue)
	}

	var out Data
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decoding data key: %w", err)
		}
		key, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("decoding data value for %q: %w", key, err)
		}
		var v Value
		if err := v.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		out.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decoding data: %w", err)
	}
	*d = out
	return nil
}
