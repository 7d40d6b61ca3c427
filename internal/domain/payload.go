package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Field is one named value of a record payload.
type Field struct {
	Name  string
	Value any
}

// Payload is an ordered field name → value mapping. Order is the order in
// which the source delivered the fields and is preserved through JSON.
type Payload []Field

// PayloadFromMap builds a payload with keys in sorted order.
func PayloadFromMap(m map[string]any) Payload {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	p := make(Payload, 0, len(keys))
	for _, k := range keys {
		p = append(p, Field{Name: k, Value: m[k]})
	}
	return p
}

// Get returns the raw value for name.
func (p Payload) Get(name string) (any, bool) {
	for _, f := range p {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// String returns the value for name rendered as a string, "" when absent or nil.
func (p Payload) String(name string) string {
	v, ok := p.Get(name)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Has reports whether name is present with a non-blank value.
func (p Payload) Has(name string) bool {
	return strings.TrimSpace(p.String(name)) != ""
}

// Set replaces the value for name, appending the field if absent.
func (p *Payload) Set(name string, value any) {
	for i := range *p {
		if (*p)[i].Name == name {
			(*p)[i].Value = value
			return
		}
	}
	*p = append(*p, Field{Name: name, Value: value})
}

// Keys returns field names in order.
func (p Payload) Keys() []string {
	keys := make([]string, len(p))
	for i, f := range p {
		keys[i] = f.Name
	}
	return keys
}

// Clone returns a shallow copy that can be mutated independently.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	copy(out, p)
	return out
}

// Map returns the payload as an unordered map.
func (p Payload) Map() map[string]any {
	m := make(map[string]any, len(p))
	for _, f := range p {
		m[f.Name] = f.Value
	}
	return m
}

// MarshalJSON writes the payload as a JSON object in field order.
func (p Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", f.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping key order. Numbers are kept as
// json.Number so identifiers like PSNs never lose digits.
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
		return fmt.Errorf("payload must be a JSON object")
	}

	out := Payload{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("payload key must be a string")
		}
		var val any
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("decode field %q: %w", key, err)
		}
		out.Set(key, val)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = out
	return nil
}
