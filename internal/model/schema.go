package model

import (
	"fmt"
	"time"
)

// FieldType is the declared type of a field in a kind's schema.
type FieldType int

const (
	TypeString FieldType = iota + 1
	TypeInt
	TypeBool
	TypeBytes
	TypeDate    // String in YYYY-MM-DD form, "" when absent
	TypeTime    // String in RFC 3339 form, "" when absent
	TypeEnum    // String drawn from FieldSpec.Enum
	TypeRef     // String id of an entity of FieldSpec.Ref, "" when absent
	TypeRefList // List of ids of FieldSpec.Ref
)

// Reserved field names shared by every kind.
const (
	FieldStudentID  = "student_id"
	FieldSongIDs    = "song_ids"
	FieldCreatedSeq = "created_seq"
)

// FieldSpec declares one field of a kind.
type FieldSpec struct {
	Name        string
	Type        FieldType
	Enum        string
	Ref         Kind
	Required    bool
	NonNegative bool
}

// Schema declares the fields of a kind and the table backing it.
type Schema struct {
	Kind   Kind
	Table  string
	Fields []FieldSpec
}

var ownerRef = FieldSpec{Name: FieldStudentID, Type: TypeRef, Ref: KindStudent, Required: true}

var schemas = map[Kind]Schema{
	KindStudent: {Kind: KindStudent, Table: "students", Fields: []FieldSpec{
		{Name: "name", Type: TypeString, Required: true},
		{Name: "instrument", Type: TypeString},
	}},
	KindInstructor: {Kind: KindInstructor, Table: "instructors", Fields: []FieldSpec{
		ownerRef,
		{Name: "name", Type: TypeString, Required: true},
	}},
	KindSong: {Kind: KindSong, Table: "songs", Fields: []FieldSpec{
		ownerRef,
		{Name: "title", Type: TypeString, Required: true},
		{Name: "composer", Type: TypeString},
		{Name: "goal_plays", Type: TypeInt, NonNegative: true},
		{Name: "piece_type", Type: TypeEnum, Enum: "piece_type"},
		{Name: "status", Type: TypeEnum, Enum: "status"},
	}},
	KindSession: {Kind: KindSession, Table: "sessions", Fields: []FieldSpec{
		ownerRef,
		{Name: "instructor_id", Type: TypeRef, Ref: KindInstructor},
		{Name: "day", Type: TypeDate},
		{Name: "duration_minutes", Type: TypeInt, NonNegative: true},
		{Name: "location", Type: TypeEnum, Enum: "location"},
		{Name: "title", Type: TypeString},
	}},
	KindPlay: {Kind: KindPlay, Table: "plays", Fields: []FieldSpec{
		ownerRef,
		{Name: "song_id", Type: TypeRef, Ref: KindSong, Required: true},
		{Name: "session_id", Type: TypeRef, Ref: KindSession, Required: true},
		{Name: "count", Type: TypeInt, NonNegative: true},
		{Name: "play_type", Type: TypeEnum, Enum: "status", Required: true},
	}},
	KindNote: {Kind: KindNote, Table: "notes", Fields: []FieldSpec{
		ownerRef,
		{Name: "session_id", Type: TypeRef, Ref: KindSession},
		{Name: "text", Type: TypeString},
		{Name: "sketch", Type: TypeBytes},
		{Name: "day", Type: TypeDate},
		{Name: "direct", Type: TypeBool},
		{Name: FieldSongIDs, Type: TypeRefList, Ref: KindSong},
	}},
	KindRecording: {Kind: KindRecording, Table: "recordings", Fields: []FieldSpec{
		ownerRef,
		{Name: "session_id", Type: TypeRef, Ref: KindSession, Required: true},
		{Name: "data", Type: TypeBytes},
		{Name: "duration_seconds", Type: TypeInt, NonNegative: true},
		{Name: "recorded_at", Type: TypeTime},
		{Name: FieldSongIDs, Type: TypeRefList, Ref: KindSong},
	}},
	KindAward: {Kind: KindAward, Table: "awards", Fields: []FieldSpec{
		ownerRef,
		{Name: "award_kind", Type: TypeEnum, Enum: "award_kind", Required: true},
		{Name: "date_won", Type: TypeDate},
		{Name: "count", Type: TypeInt, NonNegative: true},
	}},
	KindMediaReference: {Kind: KindMediaReference, Table: "media_refs", Fields: []FieldSpec{
		ownerRef,
		{Name: "song_id", Type: TypeRef, Ref: KindSong, Required: true},
		{Name: "media_kind", Type: TypeEnum, Enum: "media_kind", Required: true},
		{Name: "url", Type: TypeString},
		{Name: "data", Type: TypeBytes},
	}},
}

// SchemaOf returns the schema for k.
func SchemaOf(k Kind) (Schema, bool) {
	s, ok := schemas[k]
	return s, ok
}

// Field looks up a field by name.
func (s Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Columns returns the fields stored as columns of the kind's own table.
// The owner reference lives in the entity index and tag lists live in join
// tables, so both are excluded.
func (s Schema) Columns() []FieldSpec {
	cols := make([]FieldSpec, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == FieldStudentID || f.Type == TypeRefList {
			continue
		}
		cols = append(cols, f)
	}
	return cols
}

// HasTags reports whether the kind carries a song tag list.
func (s Schema) HasTags() bool {
	_, ok := s.Field(FieldSongIDs)
	return ok
}

// Zero returns the stored default for a field of type t.
func Zero(t FieldType) Value {
	switch t {
	case TypeInt:
		return Int(0)
	case TypeBool:
		return Bool(false)
	case TypeBytes:
		return Bytes(nil)
	case TypeRefList:
		return List(nil)
	default:
		return String("")
	}
}

// ValidateFields checks field names, value types, enum membership and
// non-negativity. When partial is false, every required field must be
// present and non-empty. Reference existence is checked by the store.
func ValidateFields(k Kind, fields Fields, partial bool) error {
	schema, ok := schemas[k]
	if !ok {
		return NewValidationError(k, "", fmt.Sprintf("unknown kind %q", k))
	}

	for _, name := range fields.SortedKeys() {
		if name == FieldCreatedSeq {
			continue
		}
		spec, ok := schema.Field(name)
		if !ok {
			return NewValidationError(k, "", fmt.Sprintf("unknown field %q", name))
		}
		if err := validateValue(k, spec, fields[name]); err != nil {
			return err
		}
	}

	if partial {
		return nil
	}
	for _, spec := range schema.Fields {
		if !spec.Required {
			continue
		}
		v, ok := fields[spec.Name]
		if !ok || IsNull(v) || Equal(v, String("")) {
			return NewValidationError(k, "", fmt.Sprintf("field %q is required", spec.Name))
		}
	}
	return nil
}

func validateValue(k Kind, spec FieldSpec, v Value) error {
	bad := func(msg string) error {
		return NewValidationError(k, "", fmt.Sprintf("field %q: %s", spec.Name, msg))
	}
	if IsNull(v) {
		if spec.Required {
			return bad("is required")
		}
		return nil
	}

	switch spec.Type {
	case TypeInt:
		n, ok := v.(Int)
		if !ok {
			return bad("expected integer")
		}
		if spec.NonNegative && n < 0 {
			return bad("must be non-negative")
		}
	case TypeBool:
		if _, ok := v.(Bool); !ok {
			return bad("expected boolean")
		}
	case TypeBytes:
		if _, ok := v.(Bytes); !ok {
			return bad("expected bytes")
		}
	case TypeRefList:
		if _, ok := v.(List); !ok {
			return bad("expected id list")
		}
	case TypeDate:
		s, ok := v.(String)
		if !ok {
			return bad("expected date string")
		}
		if _, err := ParseDate(string(s)); err != nil {
			return bad(err.Error())
		}
	case TypeTime:
		s, ok := v.(String)
		if !ok {
			return bad("expected time string")
		}
		if s != "" {
			if _, err := time.Parse(time.RFC3339, string(s)); err != nil {
				return bad("expected RFC 3339 time")
			}
		}
	case TypeEnum:
		s, ok := v.(String)
		if !ok {
			return bad("expected string")
		}
		if s != "" && !EnumValid(spec.Enum, string(s)) {
			return bad(fmt.Sprintf("invalid %s %q", spec.Enum, s))
		}
	default:
		if _, ok := v.(String); !ok {
			return bad("expected string")
		}
	}
	return nil
}
