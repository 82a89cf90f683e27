package charms

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"
)

// cborNull is the canonical encoding of the empty value.
var cborNull = []byte{0xf6}

// Data is an opaque charm value or app input. It holds the canonical CBOR
// encoding of the value; the core never interprets it beyond equality and
// serialization. The zero Data is the empty value (CBOR null).
type Data struct {
	raw []byte
}

// NewData canonically encodes v. Values produced by encoding/json (with
// UseNumber) or yaml.v3 decoding are accepted.
func NewData(v any) (Data, error) {
	b, err := Marshal(plainNumbers(v))
	if err != nil {
		return Data{}, err
	}
	return dataFromCanonical(b), nil
}

// MustData is NewData that panics on error. For constants and tests.
func MustData(v any) Data {
	d, err := NewData(v)
	if err != nil {
		panic(err)
	}
	return d
}

// DataFromBytes re-canonicalizes arbitrary CBOR bytes.
func DataFromBytes(b []byte) (Data, error) {
	var d Data
	if err := d.UnmarshalCBOR(b); err != nil {
		return Data{}, err
	}
	return d, nil
}

func dataFromCanonical(b []byte) Data {
	if bytes.Equal(b, cborNull) {
		return Data{}
	}
	return Data{raw: b}
}

// Bytes returns the canonical CBOR encoding.
func (d Data) Bytes() []byte {
	if len(d.raw) == 0 {
		return cborNull
	}
	return d.raw
}

// IsEmpty reports whether d is the empty value.
func (d Data) IsEmpty() bool {
	return len(d.raw) == 0
}

// Equal compares canonical encodings.
func (d Data) Equal(o Data) bool {
	return bytes.Equal(d.Bytes(), o.Bytes())
}

// Decode decodes the value into v.
func (d Data) Decode(v any) error {
	return Unmarshal(d.Bytes(), v)
}

func (d Data) String() string {
	return hex.EncodeToString(d.Bytes())
}

func (d Data) MarshalCBOR() ([]byte, error) {
	return d.Bytes(), nil
}

func (d *Data) UnmarshalCBOR(b []byte) error {
	canonical, err := canonicalize(b)
	if err != nil {
		return err
	}
	*d = dataFromCanonical(canonical)
	return nil
}

func (d Data) MarshalJSON() ([]byte, error) {
	v, err := d.plain()
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func (d *Data) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	nd, err := NewData(v)
	if err != nil {
		return err
	}
	*d = nd
	return nil
}

func (d Data) MarshalYAML() (any, error) {
	return d.plain()
}

func (d *Data) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	nd, err := NewData(v)
	if err != nil {
		return err
	}
	*d = nd
	return nil
}

// plain decodes the value into JSON/YAML friendly Go values.
func (d Data) plain() (any, error) {
	if d.IsEmpty() {
		return nil, nil
	}
	var v any
	if err := d.Decode(&v); err != nil {
		return nil, err
	}
	return stringKeys(v), nil
}

func stringKeys(v any) any {
	switch x := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = stringKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = stringKeys(val)
		}
		return out
	default:
		return v
	}
}

// plainNumbers converts json.Number values into integers where exact so
// that JSON and YAML sources encode identically.
func plainNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(x.String(), 10, 64); err == nil {
			return u
		}
		if f, err := x.Float64(); err == nil && !math.IsInf(f, 0) {
			return f
		}
		return x.String()
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = plainNumbers(val)
		}
		return out
	case map[any]any:
		out := make(map[any]any, len(x))
		for k, val := range x {
			out[k] = plainNumbers(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = plainNumbers(val)
		}
		return out
	default:
		return v
	}
}
