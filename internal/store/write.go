package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/etude/internal/model"
)

// Create inserts a new entity of kind k and returns its id.
//
// Fields are validated against the kind's schema and every reference must
// name an existing entity of the right kind owned by the same student.
// Non-student entities join their owner's partition. Every schema field is
// stamped with the entity's creation sequence and marked dirty.
func (s *Store) Create(ctx context.Context, k model.Kind, fields model.Fields) (string, error) {
	var id string
	err := s.mutate(ctx, model.OriginLocal, func(tx *sql.Tx, changes *model.ChangeSet) error {
		var err error
		id, err = s.create(ctx, tx, changes, k, fields)
		return err
	})
	if err != nil {
		return "", err
	}

	s.logger.Debug("entity created",
		zap.String("kind", string(k)),
		zap.String("id", id))
	return id, nil
}

func (s *Store) create(ctx context.Context, tx *sql.Tx, changes *model.ChangeSet, k model.Kind, fields model.Fields) (string, error) {
	if err := model.ValidateFields(k, fields, false); err != nil {
		return "", err
	}
	schema, _ := model.SchemaOf(k)

	input := normalize(schema, fields)
	delete(input, model.FieldCreatedSeq)
	full := withDefaults(schema, input)
	if err := validateRecord(k, "", full); err != nil {
		return "", err
	}

	id := s.ids.Generate()

	owner := id
	partition := model.PartitionPrivate
	if k != model.KindStudent {
		owner = input.String(model.FieldStudentID)
		meta, found, err := loadMeta(ctx, tx, owner)
		if err != nil {
			return "", err
		}
		if !found || meta.Kind != model.KindStudent {
			return "", model.NewNotFoundError(model.KindStudent, owner)
		}
		partition = meta.Partition
	}

	if err := checkRefs(ctx, tx, k, id, owner, input); err != nil {
		return "", err
	}

	seq := s.clock.Next()
	rec := model.Record{
		ID:         id,
		Kind:       k,
		StudentID:  owner,
		Partition:  partition,
		CreatedSeq: seq,
		Fields:     full,
	}
	if err := insertRecord(ctx, tx, rec, false); err != nil {
		return "", err
	}
	if err := writeStamps(ctx, tx, id, fieldNames(schema), seq, true); err != nil {
		return "", err
	}
	if err := bumpUsage(ctx, tx, k, owner); err != nil {
		return "", err
	}

	changes.Add(k, model.ChangeInsert, id)
	return id, nil
}

// Update applies field changes to an existing entity. Fields whose value is
// unchanged are skipped; if nothing changes no event is published.
// Returns a NOT_FOUND error if id is not live.
func (s *Store) Update(ctx context.Context, id string, fields model.Fields) error {
	return s.mutate(ctx, model.OriginLocal, func(tx *sql.Tx, changes *model.ChangeSet) error {
		return s.update(ctx, tx, changes, id, fields)
	})
}

func (s *Store) update(ctx context.Context, tx *sql.Tx, changes *model.ChangeSet, id string, fields model.Fields) error {
	current, found, err := loadRecord(ctx, tx, id)
	if err != nil {
		return err
	}
	if !found {
		return model.NewNotFoundError("", id)
	}
	k := current.Kind

	if _, ok := fields[model.FieldStudentID]; ok {
		return model.NewValidationError(k, id, "owner cannot change")
	}
	if _, ok := fields[model.FieldCreatedSeq]; ok {
		return model.NewValidationError(k, id, "created_seq is assigned by the store")
	}
	if err := model.ValidateFields(k, fields, true); err != nil {
		return err
	}

	schema, _ := model.SchemaOf(k)
	input := normalize(schema, fields)
	for _, name := range input.SortedKeys() {
		spec, _ := schema.Field(name)
		if spec.Required && model.Equal(input[name], model.Zero(spec.Type)) {
			return model.NewValidationError(k, id, fmt.Sprintf("field %q is required", name))
		}
	}

	changed := model.Fields{}
	merged := current.Fields.Clone()
	for name, v := range input {
		if model.Equal(current.Fields[name], v) {
			continue
		}
		changed[name] = v
		merged[name] = v
	}
	if len(changed) == 0 {
		return nil
	}

	if err := checkRefs(ctx, tx, k, id, current.StudentID, changed); err != nil {
		return err
	}
	if err := validateRecord(k, id, merged); err != nil {
		return err
	}

	meta := entityMeta{ID: id, Kind: k, StudentID: current.StudentID, Partition: current.Partition}
	stamp := s.clock.Next()
	if err := updateFields(ctx, tx, meta, changed); err != nil {
		return err
	}
	if err := writeStamps(ctx, tx, id, changed.SortedKeys(), stamp, true); err != nil {
		return err
	}

	changes.Add(k, model.ChangeUpdate, id)
	return nil
}

// GrantAward records that a student has met an award's threshold count
// times. The award is created on first grant and its count only grows; the
// lookup and the write share one transaction, so concurrent grants of the
// same kind leave a single award. Returns false if nothing changed.
func (s *Store) GrantAward(ctx context.Context, studentID string, kind model.AwardKind, day model.Date, count int64) (model.EarnedAward, bool, error) {
	var award model.EarnedAward
	var granted bool
	err := s.mutate(ctx, model.OriginLocal, func(tx *sql.Tx, changes *model.ChangeSet) error {
		ids, err := queryIDs(ctx, tx, `
			SELECT e.id FROM entities e JOIN awards a ON a.id = e.id
			WHERE e.student_id = ? AND e.kind = ? AND a.award_kind = ?
			ORDER BY e.created_seq ASC, e.id ASC
			LIMIT 1
		`, studentID, string(model.KindAward), string(kind))
		if err != nil {
			return err
		}

		if len(ids) == 0 {
			id, err := s.create(ctx, tx, changes, model.KindAward, model.Fields{
				model.FieldStudentID: model.String(studentID),
				"award_kind":         model.String(kind),
				"date_won":           model.String(day),
				"count":              model.Int(count),
			})
			if err != nil {
				return err
			}
			award = model.EarnedAward{ID: id, StudentID: studentID, AwardKind: kind, DateWon: day, Count: count}
			granted = true
			return nil
		}

		rec, _, err := loadRecord(ctx, tx, ids[0])
		if err != nil {
			return err
		}
		award = rec.Award()
		if award.Count >= count {
			return nil
		}
		if err := s.update(ctx, tx, changes, award.ID, model.Fields{"count": model.Int(count)}); err != nil {
			return err
		}
		award.Count = count
		granted = true
		return nil
	})
	return award, granted, err
}

// Delete removes an entity and everything it owns, leaving tombstones.
// Returns a NOT_FOUND error if id is not live.
//
// Cascades:
//   - student: every entity the student owns
//   - session: its plays and recordings; its notes unless written directly
//     for the student, which are detached instead
//   - song: its plays and media references; the song is untagged from notes
//     and recordings, and a note left with no anchor is deleted
//   - instructor: sessions taught are kept with the instructor cleared
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.mutate(ctx, model.OriginLocal, func(tx *sql.Tx, changes *model.ChangeSet) error {
		meta, found, err := loadMeta(ctx, tx, id)
		if err != nil {
			return err
		}
		if !found {
			return model.NewNotFoundError("", id)
		}
		stamp := s.clock.Next()
		return deleteCascade(ctx, tx, meta, stamp, true, changes)
	})
}

// deleteCascade removes meta and its dependents at stamp. dirty marks the
// resulting tombstones and field writes as local edits awaiting sync.
func deleteCascade(ctx context.Context, q querier, meta entityMeta, stamp int64, dirty bool, changes *model.ChangeSet) error {
	remove := func(m entityMeta) error {
		if err := removeRecord(ctx, q, m, stamp, dirty); err != nil {
			return err
		}
		changes.Add(m.Kind, model.ChangeDelete, m.ID)
		return nil
	}

	switch meta.Kind {
	case model.KindStudent:
		owned, err := queryMetas(ctx, q, `
			SELECT id, kind, student_id, partition, created_seq, synced
			FROM entities WHERE student_id = ? AND id != ?
			ORDER BY created_seq ASC, id ASC
		`, meta.ID, meta.ID)
		if err != nil {
			return err
		}
		for _, m := range owned {
			if err := remove(m); err != nil {
				return err
			}
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM usage_counters WHERE student_id = ?`, meta.ID); err != nil {
			return fmt.Errorf("delete usage %s: %w", meta.ID, err)
		}

	case model.KindSession:
		for _, table := range []string{"plays", "recordings"} {
			children, err := childMetas(ctx, q, table, "session_id", meta.ID)
			if err != nil {
				return err
			}
			for _, m := range children {
				if err := remove(m); err != nil {
					return err
				}
			}
		}
		notes, err := childMetas(ctx, q, "notes", "session_id", meta.ID)
		if err != nil {
			return err
		}
		for _, m := range notes {
			var direct int
			if err := q.QueryRowContext(ctx, `SELECT direct FROM notes WHERE id = ?`, m.ID).Scan(&direct); err != nil {
				return fmt.Errorf("load note %s: %w", m.ID, err)
			}
			if direct == 0 {
				if err := remove(m); err != nil {
					return err
				}
				continue
			}
			if err := setField(ctx, q, m, "session_id", model.String(""), stamp, dirty, changes); err != nil {
				return err
			}
		}

	case model.KindSong:
		for _, table := range []string{"plays", "media_refs"} {
			children, err := childMetas(ctx, q, table, "song_id", meta.ID)
			if err != nil {
				return err
			}
			for _, m := range children {
				if err := remove(m); err != nil {
					return err
				}
			}
		}
		if err := untagSong(ctx, q, meta.ID, stamp, dirty, changes, remove); err != nil {
			return err
		}

	case model.KindInstructor:
		taught, err := childMetas(ctx, q, "sessions", "instructor_id", meta.ID)
		if err != nil {
			return err
		}
		for _, m := range taught {
			if err := setField(ctx, q, m, "instructor_id", model.String(""), stamp, dirty, changes); err != nil {
				return err
			}
		}
	}

	return remove(meta)
}

// untagSong removes songID from every tag list that carries it.
func untagSong(ctx context.Context, q querier, songID string, stamp int64, dirty bool, changes *model.ChangeSet, remove func(entityMeta) error) error {
	owners, err := queryIDs(ctx, q, `
		SELECT owner_id FROM song_tags WHERE song_id = ? ORDER BY owner_id ASC
	`, songID)
	if err != nil {
		return err
	}

	for _, ownerID := range owners {
		rec, found, err := loadRecord(ctx, q, ownerID)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		meta := entityMeta{ID: rec.ID, Kind: rec.Kind, StudentID: rec.StudentID, Partition: rec.Partition}

		remaining := make([]string, 0)
		for _, tag := range rec.Fields.List(model.FieldSongIDs) {
			if tag != songID {
				remaining = append(remaining, tag)
			}
		}

		orphan := rec.Kind == model.KindNote &&
			len(remaining) == 0 &&
			rec.Fields.String("session_id") == "" &&
			!rec.Fields.Bool("direct")
		if orphan {
			if err := remove(meta); err != nil {
				return err
			}
			continue
		}

		if err := setField(ctx, q, meta, model.FieldSongIDs, model.NewList(remaining...), stamp, dirty, changes); err != nil {
			return err
		}
	}
	return nil
}

// setField writes one field as part of a cascade.
func setField(ctx context.Context, q querier, meta entityMeta, name string, v model.Value, stamp int64, dirty bool, changes *model.ChangeSet) error {
	if err := updateFields(ctx, q, meta, model.Fields{name: v}); err != nil {
		return err
	}
	if err := writeStamps(ctx, q, meta.ID, []string{name}, stamp, dirty); err != nil {
		return err
	}
	changes.Add(meta.Kind, model.ChangeUpdate, meta.ID)
	return nil
}

// checkRefs verifies every reference in fields. A missing target is
// NOT_FOUND; a target of the wrong kind or owned by another student is a
// VALIDATION error.
func checkRefs(ctx context.Context, q querier, k model.Kind, id, owner string, fields model.Fields) error {
	schema, _ := model.SchemaOf(k)
	for _, spec := range schema.Fields {
		if spec.Name == model.FieldStudentID {
			continue
		}
		if _, ok := fields[spec.Name]; !ok {
			continue
		}

		var targets []string
		switch spec.Type {
		case model.TypeRef:
			if target := fields.String(spec.Name); target != "" {
				targets = []string{target}
			}
		case model.TypeRefList:
			targets = fields.List(spec.Name)
		default:
			continue
		}

		for _, target := range targets {
			meta, found, err := loadMeta(ctx, q, target)
			if err != nil {
				return err
			}
			if !found {
				return model.NewNotFoundError(spec.Ref, target)
			}
			if meta.Kind != spec.Ref {
				return model.NewValidationError(k, id,
					fmt.Sprintf("field %q: %s is a %s, not a %s", spec.Name, target, meta.Kind, spec.Ref))
			}
			if meta.StudentID != owner {
				return model.NewValidationError(k, id,
					fmt.Sprintf("field %q: %s belongs to another student", spec.Name, target))
			}
		}
	}
	return nil
}

// validateRecord checks rules that span fields of a complete record.
func validateRecord(k model.Kind, id string, fields model.Fields) error {
	if k == model.KindMediaReference {
		hasURL := fields.String("url") != ""
		hasData := len(fields.Bytes("data")) > 0
		if hasURL == hasData {
			return model.NewValidationError(k, id, "exactly one of url or data must be set")
		}
	}
	return nil
}

// normalize replaces nulls with stored defaults and canonicalizes tag lists
// so that comparisons against loaded records are exact.
func normalize(schema model.Schema, fields model.Fields) model.Fields {
	out := make(model.Fields, len(fields))
	for name, v := range fields {
		spec, ok := schema.Field(name)
		switch {
		case !ok:
			out[name] = v
		case model.IsNull(v):
			out[name] = model.Zero(spec.Type)
		case spec.Type == model.TypeRefList:
			if l, ok := v.(model.List); ok {
				out[name] = model.NewList(l...)
			} else {
				out[name] = v
			}
		default:
			out[name] = v
		}
	}
	return out
}

func fieldNames(schema model.Schema) []string {
	names := make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		names[i] = f.Name
	}
	return names
}

// childMetas returns the live entities whose column in table equals parentID,
// in creation order.
func childMetas(ctx context.Context, q querier, table, column, parentID string) ([]entityMeta, error) {
	query := fmt.Sprintf(`
		SELECT e.id, e.kind, e.student_id, e.partition, e.created_seq, e.synced
		FROM entities e JOIN %s t ON t.id = e.id
		WHERE t.%s = ?
		ORDER BY e.created_seq ASC, e.id ASC
	`, table, column)
	return queryMetas(ctx, q, query, parentID)
}

func queryMetas(ctx context.Context, q querier, query string, args ...any) ([]entityMeta, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var metas []entityMeta
	for rows.Next() {
		var m entityMeta
		var kind, partition string
		var synced int
		if err := rows.Scan(&m.ID, &kind, &m.StudentID, &partition, &m.CreatedSeq, &synced); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		m.Kind = model.Kind(kind)
		m.Partition = model.Partition(partition)
		m.Synced = synced != 0
		metas = append(metas, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return metas, nil
}
