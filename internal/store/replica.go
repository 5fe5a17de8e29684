package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/roach88/etude/internal/conflict"
	"github.com/roach88/etude/internal/model"
)

// ApplyResult reports what happened to one inbound delta.
type ApplyResult struct {
	// Key is the delta's idempotency key.
	Key string

	// Duplicate is true if the delta was applied before; nothing changed.
	Duplicate bool

	// Resolution is the merge decision. Zero when Duplicate is set.
	Resolution conflict.Resolution
}

// ApplyDelta merges a replicated delta received from partition p.
//
// The merge is decided by conflict.Resolve and applied in one transaction.
// Change events are published with origin Replicated, exactly as a local
// write of the same fields would publish them. Applying a delta a second
// time is a no-op.
func (s *Store) ApplyDelta(ctx context.Context, p model.Partition, d model.Delta) (ApplyResult, error) {
	if err := validateDelta(d); err != nil {
		return ApplyResult{}, err
	}
	key, err := model.AppliedKey(p, d)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("delta key: %w", err)
	}

	result := ApplyResult{Key: key}
	err = s.mutate(ctx, model.OriginReplicated, func(tx *sql.Tx, changes *model.ChangeSet) error {
		applied, err := deltaApplied(ctx, tx, key)
		if err != nil {
			return err
		}
		if applied {
			result.Duplicate = true
			return nil
		}
		result.Resolution, err = s.applyDelta(ctx, tx, p, d, key, changes)
		return err
	})
	if err != nil {
		return ApplyResult{}, err
	}

	if len(result.Resolution.Unresolved) > 0 {
		s.logger.Warn("conflict unresolved",
			zap.String("event", string(model.ErrCodeConflictUnresolved)),
			zap.String("kind", string(d.Kind)),
			zap.String("id", d.ID),
			zap.Int64("stamp", d.Stamp),
			zap.Strings("fields", result.Resolution.Unresolved),
			zap.Error(model.NewConflictUnresolvedError(d.Kind, d.ID, "no deterministic winner; remote value taken")))
	}
	s.logger.Debug("delta applied",
		zap.String("kind", string(d.Kind)),
		zap.String("id", d.ID),
		zap.Int64("stamp", d.Stamp),
		zap.Bool("duplicate", result.Duplicate),
		zap.Stringer("outcome", result.Resolution.Outcome))
	return result, nil
}

func validateDelta(d model.Delta) error {
	if !d.Kind.Valid() {
		return model.NewValidationError(d.Kind, d.ID, "unknown kind")
	}
	if d.ID == "" {
		return model.NewValidationError(d.Kind, "", "delta without id")
	}
	if d.Tombstone {
		return nil
	}
	return model.ValidateFields(d.Kind, d.Fields, true)
}

func (s *Store) applyDelta(ctx context.Context, q querier, p model.Partition, d model.Delta, key string, changes *model.ChangeSet) (conflict.Resolution, error) {
	s.clock.Observe(d.Stamp)

	local, meta, err := loadLocalState(ctx, q, d.ID)
	if err != nil {
		return conflict.Resolution{}, err
	}
	if local.Exists && meta.Kind != d.Kind {
		s.logger.Warn("delta kind mismatch",
			zap.String("id", d.ID),
			zap.String("local_kind", string(meta.Kind)),
			zap.String("delta_kind", string(d.Kind)))
		return conflict.Resolution{Outcome: conflict.OutcomeIgnore}, recordApplied(ctx, q, key, d, s.clock.Current())
	}

	res := conflict.Resolve(local, d)
	switch res.Outcome {
	case conflict.OutcomePark:
		return res, parkDelta(ctx, q, key, p, d)

	case conflict.OutcomeCreate, conflict.OutcomeRecreate:
		if err := insertReplica(ctx, q, p, d, res.Fields, changes); err != nil {
			return res, err
		}

	case conflict.OutcomeApply:
		if err := updateFields(ctx, q, meta, res.Fields); err != nil {
			return res, err
		}
		if err := writeStamps(ctx, q, d.ID, res.Fields.SortedKeys(), d.Stamp, false); err != nil {
			return res, err
		}
		changes.Add(d.Kind, model.ChangeUpdate, d.ID)

	case conflict.OutcomeDelete:
		if local.Exists {
			if err := deleteCascade(ctx, q, meta, d.Stamp, false, changes); err != nil {
				return res, err
			}
		} else if err := writeTombstone(ctx, q, d.ID, d.Kind, p, d.Stamp, false); err != nil {
			return res, err
		}
	}

	if local.Exists && p == model.PartitionShared && meta.Partition != model.PartitionShared {
		// The entity was shared by another replica.
		if _, err := q.ExecContext(ctx, `UPDATE entities SET partition = ? WHERE id = ?`, string(p), d.ID); err != nil {
			return res, fmt.Errorf("promote %s: %w", d.ID, err)
		}
	}

	if err := recordApplied(ctx, q, key, d, s.clock.Current()); err != nil {
		return res, err
	}

	if res.Outcome == conflict.OutcomeCreate || res.Outcome == conflict.OutcomeRecreate {
		if err := s.unpark(ctx, q, d.ID, changes); err != nil {
			return res, err
		}
	}
	return res, nil
}

// loadLocalState gathers the conflict policy's view of id.
func loadLocalState(ctx context.Context, q querier, id string) (conflict.LocalState, entityMeta, error) {
	var local conflict.LocalState

	err := q.QueryRowContext(ctx, `SELECT stamp FROM tombstones WHERE entity_id = ?`, id).Scan(&local.TombstoneStamp)
	switch {
	case err == nil:
		local.HasTombstone = true
	case !isNoRows(err):
		return local, entityMeta{}, fmt.Errorf("load tombstone %s: %w", id, err)
	}

	rec, found, err := loadRecord(ctx, q, id)
	if err != nil || !found {
		return local, entityMeta{}, err
	}
	meta := entityMeta{ID: rec.ID, Kind: rec.Kind, StudentID: rec.StudentID, Partition: rec.Partition, CreatedSeq: rec.CreatedSeq}

	local.Exists = true
	local.Born = rec.CreatedSeq
	local.Fields = map[string]conflict.FieldState{
		model.FieldCreatedSeq: {Value: model.Int(rec.CreatedSeq), Stamp: rec.CreatedSeq},
	}

	rows, err := q.QueryContext(ctx, `
		SELECT field, stamp, dirty FROM field_stamps WHERE entity_id = ?
	`, id)
	if err != nil {
		return local, meta, fmt.Errorf("load stamps %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var fs conflict.FieldState
		if err := rows.Scan(&name, &fs.Stamp, &fs.Dirty); err != nil {
			return local, meta, fmt.Errorf("scan stamp: %w", err)
		}
		fs.Value = rec.Fields[name]
		local.Fields[name] = fs
	}
	if err := rows.Err(); err != nil {
		return local, meta, fmt.Errorf("iterate stamps: %w", err)
	}
	return local, meta, nil
}

// insertReplica creates an entity from a remote creation.
func insertReplica(ctx context.Context, q querier, p model.Partition, d model.Delta, fields model.Fields, changes *model.ChangeSet) error {
	schema, _ := model.SchemaOf(d.Kind)

	createdSeq := d.Stamp
	if v, ok := fields[model.FieldCreatedSeq].(model.Int); ok {
		createdSeq = int64(v)
	}
	input := normalize(schema, fields)
	delete(input, model.FieldCreatedSeq)

	owner := d.ID
	if d.Kind != model.KindStudent {
		owner = input.String(model.FieldStudentID)
	}

	rec := model.Record{
		ID:         d.ID,
		Kind:       d.Kind,
		StudentID:  owner,
		Partition:  p,
		CreatedSeq: createdSeq,
		Fields:     withDefaults(schema, input),
	}
	if err := insertRecord(ctx, q, rec, true); err != nil {
		return err
	}
	if err := writeStamps(ctx, q, d.ID, input.SortedKeys(), d.Stamp, false); err != nil {
		return err
	}
	changes.Add(d.Kind, model.ChangeInsert, d.ID)
	return nil
}

func deltaApplied(ctx context.Context, q querier, key string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM applied_deltas WHERE delta_key = ?`, key).Scan(&n)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check applied delta: %w", err)
	}
	return true, nil
}

func recordApplied(ctx context.Context, q querier, key string, d model.Delta, seq int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO applied_deltas (delta_key, entity_id, stamp, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(delta_key) DO NOTHING
	`, key, d.ID, d.Stamp, seq)
	if err != nil {
		return fmt.Errorf("record applied delta: %w", err)
	}
	return nil
}

func parkDelta(ctx context.Context, q querier, key string, p model.Partition, d model.Delta) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("park delta %s: %w", d.ID, err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO parked_deltas (delta_key, entity_id, stamp, partition, body)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(delta_key) DO NOTHING
	`, key, d.ID, d.Stamp, string(p), string(body))
	if err != nil {
		return fmt.Errorf("park delta %s: %w", d.ID, err)
	}
	return nil
}

// unpark applies deltas that were waiting for id to be created.
func (s *Store) unpark(ctx context.Context, q querier, id string, changes *model.ChangeSet) error {
	rows, err := q.QueryContext(ctx, `
		SELECT delta_key, partition, body FROM parked_deltas
		WHERE entity_id = ? ORDER BY stamp ASC, delta_key ASC
	`, id)
	if err != nil {
		return fmt.Errorf("query parked %s: %w", id, err)
	}
	type parked struct {
		key       string
		partition model.Partition
		delta     model.Delta
	}
	var waiting []parked
	for rows.Next() {
		var key, partition, body string
		if err := rows.Scan(&key, &partition, &body); err != nil {
			rows.Close()
			return fmt.Errorf("scan parked: %w", err)
		}
		var d model.Delta
		if err := json.Unmarshal([]byte(body), &d); err != nil {
			rows.Close()
			return fmt.Errorf("decode parked %s: %w", key, err)
		}
		waiting = append(waiting, parked{key: key, partition: model.Partition(partition), delta: d})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate parked: %w", err)
	}
	rows.Close()

	for _, w := range waiting {
		if _, err := q.ExecContext(ctx, `DELETE FROM parked_deltas WHERE delta_key = ?`, w.key); err != nil {
			return fmt.Errorf("unpark %s: %w", w.key, err)
		}
		if _, err := s.applyDelta(ctx, q, w.partition, w.delta, w.key, changes); err != nil {
			return err
		}
	}
	return nil
}

// PendingDeltas returns the local edits in partition p that have not been
// acknowledged, tagged with device.
//
// Dirty fields of one entity are grouped by stamp, one delta per group. The
// first delta of an entity whose creation was never pushed is marked Create
// and carries created_seq. Entities are emitted parents first, then dirty
// tombstones in stamp order.
func (s *Store) PendingDeltas(ctx context.Context, p model.Partition, device string) ([]model.Delta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fs.entity_id, fs.field, fs.stamp
		FROM field_stamps fs JOIN entities e ON e.id = fs.entity_id
		WHERE fs.dirty = 1 AND e.partition = ?
		ORDER BY fs.entity_id ASC, fs.stamp ASC, fs.field ASC
	`, string(p))
	if err != nil {
		return nil, fmt.Errorf("query dirty fields: %w", err)
	}
	type group struct {
		id     string
		stamp  int64
		fields []string
	}
	var groups []*group
	for rows.Next() {
		var id, field string
		var stamp int64
		if err := rows.Scan(&id, &field, &stamp); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan dirty field: %w", err)
		}
		if n := len(groups); n > 0 && groups[n-1].id == id && groups[n-1].stamp == stamp {
			groups[n-1].fields = append(groups[n-1].fields, field)
			continue
		}
		groups = append(groups, &group{id: id, stamp: stamp, fields: []string{field}})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate dirty fields: %w", err)
	}
	rows.Close()

	records := map[string]model.Record{}
	synced := map[string]bool{}
	var deltas []model.Delta
	for _, g := range groups {
		rec, ok := records[g.id]
		if !ok {
			meta, found, err := loadMeta(ctx, s.db, g.id)
			if err != nil {
				return nil, err
			}
			if !found {
				continue
			}
			rec, _, err = loadRecord(ctx, s.db, g.id)
			if err != nil {
				return nil, err
			}
			records[g.id] = rec
			synced[g.id] = meta.Synced
		}

		d := model.Delta{Kind: rec.Kind, ID: rec.ID, Stamp: g.stamp, Fields: model.Fields{}, Device: device}
		for _, name := range g.fields {
			if v, ok := rec.Fields[name]; ok {
				d.Fields[name] = v
			}
		}
		if !synced[g.id] {
			d.Create = true
			d.Fields[model.FieldCreatedSeq] = model.Int(rec.CreatedSeq)
			synced[g.id] = true
		}
		deltas = append(deltas, d)
	}

	order := make(map[model.Kind]int, len(model.Kinds))
	for i, k := range model.Kinds {
		order[k] = i
	}
	slices.SortStableFunc(deltas, func(a, b model.Delta) int {
		if c := order[a.Kind] - order[b.Kind]; c != 0 {
			return c
		}
		ra, rb := records[a.ID], records[b.ID]
		if ra.CreatedSeq != rb.CreatedSeq {
			if ra.CreatedSeq < rb.CreatedSeq {
				return -1
			}
			return 1
		}
		return 0
	})

	tombRows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, kind, stamp FROM tombstones
		WHERE dirty = 1 AND partition = ?
		ORDER BY stamp ASC, entity_id ASC
	`, string(p))
	if err != nil {
		return nil, fmt.Errorf("query dirty tombstones: %w", err)
	}
	defer tombRows.Close()
	for tombRows.Next() {
		var id, kind string
		var stamp int64
		if err := tombRows.Scan(&id, &kind, &stamp); err != nil {
			return nil, fmt.Errorf("scan tombstone: %w", err)
		}
		deltas = append(deltas, model.Delta{
			Kind:      model.Kind(kind),
			ID:        id,
			Stamp:     stamp,
			Tombstone: true,
			Fields:    model.Fields{},
			Device:    device,
		})
	}
	if err := tombRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tombstones: %w", err)
	}
	return deltas, nil
}

// MarkSynced records that deltas were accepted by the transport. A field is
// cleaned only if its stamp still matches, so edits made after the deltas
// were read stay dirty. The deltas are also recorded as applied so their
// echo from the remote stream is a no-op.
func (s *Store) MarkSynced(ctx context.Context, p model.Partition, deltas []model.Delta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, d := range deltas {
		key, err := model.AppliedKey(p, d)
		if err != nil {
			return fmt.Errorf("delta key: %w", err)
		}
		if err := recordApplied(ctx, tx, key, d, s.clock.Current()); err != nil {
			return err
		}

		if d.Tombstone {
			if _, err := tx.ExecContext(ctx, `
				UPDATE tombstones SET dirty = 0 WHERE entity_id = ? AND stamp = ?
			`, d.ID, d.Stamp); err != nil {
				return fmt.Errorf("mark tombstone %s: %w", d.ID, err)
			}
			continue
		}

		for _, name := range d.Fields.SortedKeys() {
			if _, err := tx.ExecContext(ctx, `
				UPDATE field_stamps SET dirty = 0
				WHERE entity_id = ? AND field = ? AND stamp = ?
			`, d.ID, name, d.Stamp); err != nil {
				return fmt.Errorf("mark %s.%s: %w", d.ID, name, err)
			}
		}
		if d.Create {
			if _, err := tx.ExecContext(ctx, `UPDATE entities SET synced = 1 WHERE id = ?`, d.ID); err != nil {
				return fmt.Errorf("mark created %s: %w", d.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Cursor returns the last read position of a replication stream, or "" if
// the stream was never read.
func (s *Store) Cursor(ctx context.Context, stream string) (string, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx, `SELECT cursor FROM sync_cursors WHERE stream = ?`, stream).Scan(&cursor)
	if isNoRows(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read cursor %s: %w", stream, err)
	}
	return cursor, nil
}

// SetCursor stores the read position of a replication stream.
func (s *Store) SetCursor(ctx context.Context, stream, cursor string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (stream, cursor) VALUES (?, ?)
		ON CONFLICT(stream) DO UPDATE SET cursor = excluded.cursor
	`, stream, cursor)
	if err != nil {
		return fmt.Errorf("write cursor %s: %w", stream, err)
	}
	return nil
}
