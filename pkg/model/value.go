// value.go defines the closed payload value type.
//
// Event payloads are not open dynamic values: every payload field is one
// of null, string, number, bool, or a nested payload. The sealed Value
// interface makes that closed set a compile-time property, and Payload
// keeps fields in insertion order so two replicas that apply the same
// events render byte-identical JSON.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Value is a sealed payload value. Only Null, String, Number, Bool, and
// Payload implement it.
type Value interface {
	value() // sealed
}

// Null is the JSON-null payload value.
type Null struct{}

func (Null) value() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// String is a string payload value.
type String string

func (String) value() {}

// Number is a numeric payload value.
type Number float64

func (Number) value() {}

// Bool is a boolean payload value.
type Bool bool

func (Bool) value() {}

// Field is one key/value entry of a payload.
type Field struct {
	Key string
	Val Value
}

// Payload is an ordered list of fields — the "nested map" variant of the
// Value sum. Field order is preserved through JSON round-trips.
type Payload []Field

func (Payload) value() {}

// F is a shorthand field constructor:
// model.Payload{model.F("content", model.String("Hello"))}.
func F(key string, val Value) Field { return Field{Key: key, Val: val} }

// Get returns the value for key and whether it is present.
func (p Payload) Get(key string) (Value, bool) {
	for _, f := range p {
		if f.Key == key {
			return f.Val, true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the payload.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	cp := make(Payload, len(p))
	for i, f := range p {
		cp[i] = f
		if nested, ok := f.Val.(Payload); ok {
			cp[i].Val = nested.Clone()
		}
	}
	return cp
}

// MarshalJSON renders the payload as a JSON object in field order.
func (p Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(f.Val)
		if err != nil {
			return nil, fmt.Errorf("marshal payload field %q: %w", f.Key, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving key order.
func (p *Payload) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*p = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("payload: expected object, got %v", tok)
	}
	fields, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*p = fields
	return nil
}

// decodeObject reads fields until the closing brace. The opening brace
// has already been consumed.
func decodeObject(dec *json.Decoder) (Payload, error) {
	var fields Payload
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("payload: bad key %v", keyTok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, fmt.Errorf("payload field %q: %w", key, err)
		}
		fields = append(fields, Field{Key: key, Val: val})
	}
	if _, err := dec.Token(); err != nil { // consume '}'
		return nil, err
	}
	return fields, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case nil:
		return Null{}, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, err
		}
		return Number(f), nil
	case json.Delim:
		if t == '{' {
			return decodeObject(dec)
		}
		return nil, fmt.Errorf("unsupported value delimiter %v", t)
	}
	return nil, fmt.Errorf("unsupported value %v", tok)
}

// PayloadFromMap converts a plain map into a payload with keys in sorted
// order (plain maps carry no field order of their own). Used by the YAML
// scenario loader. Map values may be string, bool, numeric, nil, or a
// nested map[string]any.
func PayloadFromMap(m map[string]any) (Payload, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var p Payload
	for _, k := range keys {
		v, err := valueFromAny(m[k])
		if err != nil {
			return nil, fmt.Errorf("payload field %q: %w", k, err)
		}
		p = append(p, Field{Key: k, Val: v})
	}
	return p, nil
}

func valueFromAny(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null{}, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Number(t), nil
	case int64:
		return Number(t), nil
	case uint64:
		return Number(t), nil
	case float64:
		return Number(t), nil
	case map[string]any:
		return PayloadFromMap(t)
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}
