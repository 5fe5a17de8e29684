package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Delta is one replicated change to one entity.
//
// Every field in a Delta carries the same revision stamp. Create marks the
// delta produced from an entity's creation; only a Create delta stamped
// strictly after a tombstone can bring a deleted entity back.
type Delta struct {
	Kind      Kind
	ID        string
	Fields    Fields
	Stamp     int64
	Tombstone bool
	Create    bool

	// Device identifies the replica that produced the delta. It is not part
	// of the delta's identity.
	Device string
}

// envelope returns the canonical map form of d.
func (d Delta) envelope(withDevice bool) (map[string]any, error) {
	fields := make(map[string]any, len(d.Fields))
	for name, v := range d.Fields {
		enc, err := EncodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		fields[name] = enc
	}
	env := map[string]any{
		"kind":      string(d.Kind),
		"id":        d.ID,
		"fields":    fields,
		"stamp":     d.Stamp,
		"tombstone": d.Tombstone,
		"create":    d.Create,
	}
	if withDevice && d.Device != "" {
		env["device"] = d.Device
	}
	return env, nil
}

// MarshalJSON encodes d as canonical JSON with typed field values.
func (d Delta) MarshalJSON() ([]byte, error) {
	env, err := d.envelope(true)
	if err != nil {
		return nil, fmt.Errorf("marshal delta %s: %w", d.ID, err)
	}
	return MarshalCanonical(env)
}

type wireDelta struct {
	Kind      Kind                       `json:"kind"`
	ID        string                     `json:"id"`
	Fields    map[string]json.RawMessage `json:"fields"`
	Stamp     int64                      `json:"stamp"`
	Tombstone bool                       `json:"tombstone"`
	Create    bool                       `json:"create"`
	Device    string                     `json:"device"`
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (d *Delta) UnmarshalJSON(data []byte) error {
	var w wireDelta
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("unmarshal delta: %w", err)
	}
	fields := make(Fields, len(w.Fields))
	for name, raw := range w.Fields {
		v, err := DecodeValue(raw)
		if err != nil {
			return fmt.Errorf("unmarshal delta %s field %q: %w", w.ID, name, err)
		}
		fields[name] = v
	}
	*d = Delta{
		Kind:      w.Kind,
		ID:        w.ID,
		Fields:    fields,
		Stamp:     w.Stamp,
		Tombstone: w.Tombstone,
		Create:    w.Create,
		Device:    w.Device,
	}
	return nil
}

// EncodeValue returns the typed canonical form of v: a single-key object
// whose key names the type ("s", "i", "b", "x", "l", "n").
func EncodeValue(v Value) (map[string]any, error) {
	switch val := v.(type) {
	case nil, Null:
		return map[string]any{"n": true}, nil
	case String:
		return map[string]any{"s": string(val)}, nil
	case Int:
		return map[string]any{"i": int64(val)}, nil
	case Bool:
		return map[string]any{"b": bool(val)}, nil
	case Bytes:
		return map[string]any{"x": base64.StdEncoding.EncodeToString(val)}, nil
	case List:
		ids := []string(val)
		if ids == nil {
			ids = []string{}
		}
		return map[string]any{"l": ids}, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// DecodeValue parses the typed form produced by EncodeValue.
func DecodeValue(raw json.RawMessage) (Value, error) {
	var w struct {
		S *string   `json:"s"`
		I *int64    `json:"i"`
		B *bool     `json:"b"`
		X *string   `json:"x"`
		L *[]string `json:"l"`
		N *bool     `json:"n"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	switch {
	case w.S != nil:
		return String(*w.S), nil
	case w.I != nil:
		return Int(*w.I), nil
	case w.B != nil:
		return Bool(*w.B), nil
	case w.X != nil:
		b, err := base64.StdEncoding.DecodeString(*w.X)
		if err != nil {
			return nil, fmt.Errorf("bytes: %w", err)
		}
		return Bytes(b), nil
	case w.L != nil:
		return NewList(*w.L...), nil
	case w.N != nil:
		return Null{}, nil
	default:
		return nil, fmt.Errorf("untyped value %s", string(raw))
	}
}
