package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/etude/internal/model"
)

// PartitionOf returns the partition a live entity belongs to.
func (s *Store) PartitionOf(ctx context.Context, id string) (model.Partition, error) {
	meta, found, err := loadMeta(ctx, s.db, id)
	if err != nil {
		return "", err
	}
	if !found {
		return "", model.NewNotFoundError("", id)
	}
	return meta.Partition, nil
}

// Member is one entity of a student's subgraph.
type Member struct {
	ID        string
	Kind      model.Kind
	Partition model.Partition
}

// CrossRef is a reference between an entity owned by the transferring
// student and an entity owned by someone else, in either direction.
type CrossRef struct {
	FromID    string
	FromKind  model.Kind
	Field     string
	ToID      string
	ToKind    model.Kind
	Outbound  bool            // the reference originates in the student's subgraph
	Other     string          // owner of the entity on the other side
	OtherPart model.Partition // partition of the entity on the other side
}

// Subgraph is a student and everything the student owns, plus references
// that cross into other students' data.
type Subgraph struct {
	Student   model.Student
	Members   []Member
	CrossRefs []CrossRef
}

// TransferStudent moves a student and its whole subgraph to partition to.
//
// check is called inside the transaction with the subgraph as it is about to
// be moved; a non-nil error aborts the transfer with nothing changed. Every
// moved entity is marked unsynced and all of its fields dirty, so the next
// sync pushes the complete subgraph to the new partition. The transfer is
// recorded in the audit table and one update event per moved entity is
// published.
func (s *Store) TransferStudent(ctx context.Context, studentID string, to model.Partition, check func(Subgraph) error) error {
	if !to.Valid() {
		return model.NewValidationError(model.KindStudent, studentID, fmt.Sprintf("invalid partition %q", to))
	}

	var moved int
	var from model.Partition
	err := s.mutate(ctx, model.OriginLocal, func(tx *sql.Tx, changes *model.ChangeSet) error {
		g, err := loadSubgraph(ctx, tx, studentID)
		if err != nil {
			return err
		}
		from = g.Student.Partition
		if check != nil {
			if err := check(g); err != nil {
				return err
			}
		}

		for _, m := range g.Members {
			if _, err := tx.ExecContext(ctx, `
				UPDATE entities SET partition = ?, synced = 0 WHERE id = ?
			`, string(to), m.ID); err != nil {
				return fmt.Errorf("move %s: %w", m.ID, err)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE field_stamps SET dirty = 1 WHERE entity_id = ?
			`, m.ID); err != nil {
				return fmt.Errorf("dirty %s: %w", m.ID, err)
			}
			changes.Add(m.Kind, model.ChangeUpdate, m.ID)
		}
		moved = len(g.Members)

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO partition_transfers (seq, student_id, from_partition, to_partition, entity_count)
			VALUES (?, ?, ?, ?, ?)
		`, s.clock.Next(), studentID, string(from), string(to), moved); err != nil {
			return fmt.Errorf("audit transfer: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("student transferred",
		zap.String("student_id", studentID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("entities", moved))
	return nil
}

// Subgraph returns a student's subgraph without changing anything.
func (s *Store) Subgraph(ctx context.Context, studentID string) (Subgraph, error) {
	return loadSubgraph(ctx, s.db, studentID)
}

func loadSubgraph(ctx context.Context, q querier, studentID string) (Subgraph, error) {
	rec, found, err := loadRecord(ctx, q, studentID)
	if err != nil {
		return Subgraph{}, err
	}
	if !found || rec.Kind != model.KindStudent {
		return Subgraph{}, model.NewNotFoundError(model.KindStudent, studentID)
	}

	g := Subgraph{Student: rec.Student()}
	metas, err := queryMetas(ctx, q, `
		SELECT id, kind, student_id, partition, created_seq, synced
		FROM entities WHERE student_id = ?
		ORDER BY created_seq ASC, id ASC
	`, studentID)
	if err != nil {
		return Subgraph{}, err
	}
	for _, m := range metas {
		g.Members = append(g.Members, Member{ID: m.ID, Kind: m.Kind, Partition: m.Partition})
	}

	g.CrossRefs, err = crossRefs(ctx, q, studentID)
	if err != nil {
		return Subgraph{}, err
	}
	return g, nil
}

// refColumn is one reference column of a kind table.
type refColumn struct {
	kind   model.Kind
	table  string
	column string
}

func refColumns() []refColumn {
	var cols []refColumn
	for _, k := range model.Kinds {
		schema, _ := model.SchemaOf(k)
		for _, f := range schema.Columns() {
			if f.Type == model.TypeRef {
				cols = append(cols, refColumn{kind: k, table: schema.Table, column: f.Name})
			}
		}
	}
	return cols
}

// crossRefs finds references between studentID's entities and entities
// owned by other students. The store rejects such references on local
// writes, but replicated data can still carry them.
func crossRefs(ctx context.Context, q querier, studentID string) ([]CrossRef, error) {
	var parts []string
	var args []any
	for _, rc := range refColumns() {
		parts = append(parts, fmt.Sprintf(`
			SELECT src.id, src.kind, '%[3]s', dst.id, dst.kind,
			       src.student_id, dst.student_id, src.partition, dst.partition
			FROM %[1]s t
			JOIN entities src ON src.id = t.id
			JOIN entities dst ON dst.id = t.%[2]s
			WHERE (src.student_id = ? OR dst.student_id = ?) AND src.student_id != dst.student_id
		`, rc.table, rc.column, rc.column))
		args = append(args, studentID, studentID)
	}
	parts = append(parts, `
		SELECT src.id, src.kind, 'song_ids', dst.id, dst.kind,
		       src.student_id, dst.student_id, src.partition, dst.partition
		FROM song_tags t
		JOIN entities src ON src.id = t.owner_id
		JOIN entities dst ON dst.id = t.song_id
		WHERE (src.student_id = ? OR dst.student_id = ?) AND src.student_id != dst.student_id
	`)
	args = append(args, studentID, studentID)

	query := strings.Join(parts, " UNION ALL ") + " ORDER BY 1, 3, 4"
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cross references: %w", err)
	}
	defer rows.Close()

	var refs []CrossRef
	for rows.Next() {
		var r CrossRef
		var fromKind, toKind, srcOwner, dstOwner, srcPart, dstPart string
		if err := rows.Scan(&r.FromID, &fromKind, &r.Field, &r.ToID, &toKind,
			&srcOwner, &dstOwner, &srcPart, &dstPart); err != nil {
			return nil, fmt.Errorf("scan cross reference: %w", err)
		}
		r.FromKind = model.Kind(fromKind)
		r.ToKind = model.Kind(toKind)
		r.Outbound = srcOwner == studentID
		if r.Outbound {
			r.Other, r.OtherPart = dstOwner, model.Partition(dstPart)
		} else {
			r.Other, r.OtherPart = srcOwner, model.Partition(srcPart)
		}
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cross references: %w", err)
	}
	return refs, nil
}
