package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/etude/internal/model"
)

// entityMeta is a row of the entities index.
type entityMeta struct {
	ID         string
	Kind       model.Kind
	StudentID  string
	Partition  model.Partition
	CreatedSeq int64
	Synced     bool
}

// loadMeta reads the index row for id. found is false if id is not live.
func loadMeta(ctx context.Context, q querier, id string) (meta entityMeta, found bool, err error) {
	var kind, partition string
	var synced int
	err = q.QueryRowContext(ctx, `
		SELECT id, kind, student_id, partition, created_seq, synced
		FROM entities WHERE id = ?
	`, id).Scan(&meta.ID, &kind, &meta.StudentID, &partition, &meta.CreatedSeq, &synced)
	if errors.Is(err, sql.ErrNoRows) {
		return entityMeta{}, false, nil
	}
	if err != nil {
		return entityMeta{}, false, fmt.Errorf("load entity %s: %w", id, err)
	}
	meta.Kind = model.Kind(kind)
	meta.Partition = model.Partition(partition)
	meta.Synced = synced != 0
	return meta, true, nil
}

// loadRecord reads the full record for id.
func loadRecord(ctx context.Context, q querier, id string) (model.Record, bool, error) {
	meta, found, err := loadMeta(ctx, q, id)
	if err != nil || !found {
		return model.Record{}, found, err
	}

	schema, ok := model.SchemaOf(meta.Kind)
	if !ok {
		return model.Record{}, false, fmt.Errorf("load entity %s: unknown kind %q", id, meta.Kind)
	}

	cols := schema.Columns()
	names := make([]string, len(cols))
	dest := make([]any, len(cols))
	for i, c := range cols {
		names[i] = c.Name
		switch c.Type {
		case model.TypeInt, model.TypeBool:
			dest[i] = new(int64)
		case model.TypeBytes:
			dest[i] = new([]byte)
		default:
			dest[i] = new(string)
		}
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", strings.Join(names, ", "), schema.Table)
	if err := q.QueryRowContext(ctx, query, id).Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Record{}, false, fmt.Errorf("load entity %s: index row without %s row", id, schema.Table)
		}
		return model.Record{}, false, fmt.Errorf("load entity %s: %w", id, err)
	}

	fields := make(model.Fields, len(cols)+2)
	for i, c := range cols {
		switch c.Type {
		case model.TypeInt:
			fields[c.Name] = model.Int(*dest[i].(*int64))
		case model.TypeBool:
			fields[c.Name] = model.Bool(*dest[i].(*int64) != 0)
		case model.TypeBytes:
			fields[c.Name] = model.Bytes(*dest[i].(*[]byte))
		default:
			fields[c.Name] = model.String(*dest[i].(*string))
		}
	}
	if meta.Kind != model.KindStudent {
		fields[model.FieldStudentID] = model.String(meta.StudentID)
	}
	if schema.HasTags() {
		tags, err := loadTags(ctx, q, id)
		if err != nil {
			return model.Record{}, false, err
		}
		fields[model.FieldSongIDs] = model.NewList(tags...)
	}

	return model.Record{
		ID:         meta.ID,
		Kind:       meta.Kind,
		StudentID:  meta.StudentID,
		Partition:  meta.Partition,
		CreatedSeq: meta.CreatedSeq,
		Fields:     fields,
	}, true, nil
}

func loadTags(ctx context.Context, q querier, ownerID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT song_id FROM song_tags WHERE owner_id = ? ORDER BY song_id ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return tags, nil
}

// withDefaults returns fields completed with the stored default of every
// schema field the caller left out.
func withDefaults(schema model.Schema, fields model.Fields) model.Fields {
	full := fields.Clone()
	for _, f := range schema.Fields {
		if v, ok := full[f.Name]; !ok || model.IsNull(v) {
			full[f.Name] = model.Zero(f.Type)
		}
	}
	return full
}

// sqlArg converts a field value to its column argument.
func sqlArg(spec model.FieldSpec, v model.Value) any {
	if model.IsNull(v) {
		v = model.Zero(spec.Type)
	}
	switch val := v.(type) {
	case model.Int:
		return int64(val)
	case model.Bool:
		if val {
			return int64(1)
		}
		return int64(0)
	case model.Bytes:
		return []byte(val)
	case model.String:
		return string(val)
	default:
		return nil
	}
}

// insertRecord writes a new entity: index row, kind row and tags.
// rec.Fields must already be complete (see withDefaults).
func insertRecord(ctx context.Context, q querier, rec model.Record, synced bool) error {
	schema, ok := model.SchemaOf(rec.Kind)
	if !ok {
		return fmt.Errorf("insert %s: unknown kind %q", rec.ID, rec.Kind)
	}

	syncedInt := 0
	if synced {
		syncedInt = 1
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO entities (id, kind, student_id, partition, created_seq, synced)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, string(rec.Kind), rec.StudentID, string(rec.Partition), rec.CreatedSeq, syncedInt); err != nil {
		return fmt.Errorf("insert %s %s: index: %w", rec.Kind, rec.ID, err)
	}

	cols := schema.Columns()
	names := make([]string, 0, len(cols)+1)
	marks := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+1)
	names = append(names, "id")
	marks = append(marks, "?")
	args = append(args, rec.ID)
	for _, c := range cols {
		names = append(names, c.Name)
		marks = append(marks, "?")
		args = append(args, sqlArg(c, rec.Fields[c.Name]))
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		schema.Table, strings.Join(names, ", "), strings.Join(marks, ", "))
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s %s: %w", rec.Kind, rec.ID, err)
	}

	if schema.HasTags() {
		if err := replaceTags(ctx, q, rec.ID, rec.Fields.List(model.FieldSongIDs)); err != nil {
			return err
		}
	}
	return nil
}

// updateFields writes a subset of fields for an existing entity.
func updateFields(ctx context.Context, q querier, meta entityMeta, fields model.Fields) error {
	schema, _ := model.SchemaOf(meta.Kind)

	var sets []string
	var args []any
	for _, name := range fields.SortedKeys() {
		v := fields[name]
		switch name {
		case model.FieldStudentID:
			if _, err := q.ExecContext(ctx, `UPDATE entities SET student_id = ? WHERE id = ?`,
				fields.String(name), meta.ID); err != nil {
				return fmt.Errorf("update %s owner: %w", meta.ID, err)
			}
			continue
		case model.FieldSongIDs:
			if err := replaceTags(ctx, q, meta.ID, fields.List(name)); err != nil {
				return err
			}
			continue
		case model.FieldCreatedSeq:
			continue
		}
		spec, ok := schema.Field(name)
		if !ok {
			return fmt.Errorf("update %s: unknown field %q", meta.ID, name)
		}
		sets = append(sets, name+" = ?")
		args = append(args, sqlArg(spec, v))
	}

	if len(sets) == 0 {
		return nil
	}
	args = append(args, meta.ID)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", schema.Table, strings.Join(sets, ", "))
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update %s %s: %w", meta.Kind, meta.ID, err)
	}
	return nil
}

func replaceTags(ctx context.Context, q querier, ownerID string, songIDs []string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM song_tags WHERE owner_id = ?`, ownerID); err != nil {
		return fmt.Errorf("clear tags %s: %w", ownerID, err)
	}
	for _, songID := range songIDs {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO song_tags (owner_id, song_id) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, ownerID, songID); err != nil {
			return fmt.Errorf("tag %s: %w", ownerID, err)
		}
	}
	return nil
}

// removeRecord deletes an entity's rows and stamps and leaves a tombstone.
func removeRecord(ctx context.Context, q querier, meta entityMeta, stamp int64, dirty bool) error {
	schema, _ := model.SchemaOf(meta.Kind)

	stmts := []string{
		fmt.Sprintf("DELETE FROM %s WHERE id = ?", schema.Table),
		"DELETE FROM entities WHERE id = ?",
		"DELETE FROM song_tags WHERE owner_id = ?",
		"DELETE FROM field_stamps WHERE entity_id = ?",
	}
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt, meta.ID); err != nil {
			return fmt.Errorf("delete %s %s: %w", meta.Kind, meta.ID, err)
		}
	}
	return writeTombstone(ctx, q, meta.ID, meta.Kind, meta.Partition, stamp, dirty)
}

// writeTombstone records a delete marker. An existing marker is only
// replaced by a strictly later stamp.
func writeTombstone(ctx context.Context, q querier, id string, kind model.Kind, partition model.Partition, stamp int64, dirty bool) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO tombstones (entity_id, kind, partition, stamp, dirty)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			stamp = excluded.stamp,
			dirty = excluded.dirty,
			partition = excluded.partition
		WHERE excluded.stamp > tombstones.stamp
	`, id, string(kind), string(partition), stamp, boolInt(dirty))
	if err != nil {
		return fmt.Errorf("tombstone %s: %w", id, err)
	}
	return nil
}

// writeStamps records the revision stamp of each named field.
func writeStamps(ctx context.Context, q querier, id string, names []string, stamp int64, dirty bool) error {
	for _, name := range names {
		if name == model.FieldCreatedSeq {
			continue
		}
		if _, err := q.ExecContext(ctx, `
			INSERT INTO field_stamps (entity_id, field, stamp, dirty)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(entity_id, field) DO UPDATE SET
				stamp = excluded.stamp,
				dirty = excluded.dirty
		`, id, name, stamp, boolInt(dirty)); err != nil {
			return fmt.Errorf("stamp %s.%s: %w", id, name, err)
		}
	}
	return nil
}

// queryIDs runs a query whose single column is an id.
func queryIDs(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
