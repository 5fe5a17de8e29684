package model

import (
	"bytes"
	"slices"
)

// Value is a sealed interface over the field value types a record may hold.
// Only Null, String, Int, Bool, Bytes and List implement it.
// There is no float type; derived ratios are never stored.
type Value interface {
	value() // Sealed
}

// Null marks an absent optional field.
type Null struct{}

func (Null) value() {}

// String is a text field. Dates are stored as String in YYYY-MM-DD form.
type String string

func (String) value() {}

// Int is an integer field.
type Int int64

func (Int) value() {}

// Bool is a boolean field.
type Bool bool

func (Bool) value() {}

// Bytes is an opaque binary field (sketch data, recording audio, media data).
type Bytes []byte

func (Bytes) value() {}

// List is a set of entity ids, kept sorted.
type List []string

func (List) value() {}

// NewList returns a sorted, de-duplicated List.
func NewList(ids ...string) List {
	out := slices.Clone(ids)
	slices.Sort(out)
	return List(slices.Compact(out))
}

// Fields maps field names to values.
type Fields map[string]Value

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// SortedKeys returns the field names in byte order.
func (f Fields) SortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// String returns the named field as a string, or "" when absent or not text.
func (f Fields) String(name string) string {
	if s, ok := f[name].(String); ok {
		return string(s)
	}
	return ""
}

// Int returns the named field as an int64, or 0 when absent.
func (f Fields) Int(name string) int64 {
	if n, ok := f[name].(Int); ok {
		return int64(n)
	}
	return 0
}

// Bool returns the named field as a bool, or false when absent.
func (f Fields) Bool(name string) bool {
	if b, ok := f[name].(Bool); ok {
		return bool(b)
	}
	return false
}

// Bytes returns the named field as bytes, or nil when absent.
func (f Fields) Bytes(name string) []byte {
	if b, ok := f[name].(Bytes); ok {
		return []byte(b)
	}
	return nil
}

// List returns the named field as an id list, or nil when absent.
func (f Fields) List(name string) []string {
	if l, ok := f[name].(List); ok {
		return []string(l)
	}
	return nil
}

// Equal reports whether f and o hold the same names with equal values.
func (f Fields) Equal(o Fields) bool {
	if len(f) != len(o) {
		return false
	}
	for name, v := range f {
		ov, ok := o[name]
		if !ok || !Equal(v, ov) {
			return false
		}
	}
	return true
}

// Equal reports whether two values are identical in type and content.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case nil:
		return IsNull(b)
	case Null:
		_, ok := b.(Null)
		return ok || b == nil
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Bytes:
		bv, ok := b.(Bytes)
		return ok && bytes.Equal(av, bv)
	case List:
		bv, ok := b.(List)
		return ok && slices.Equal(av, bv)
	default:
		return false
	}
}

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}
