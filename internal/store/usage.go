package store

import (
	"context"
	"fmt"

	"github.com/roach88/etude/internal/model"
)

// usageColumns maps the kinds counted toward entitlements to their counter.
var usageColumns = map[model.Kind]string{
	model.KindSession: "sessions_created",
	model.KindSong:    "songs_created",
	model.KindPlay:    "plays_recorded",
}

// bumpUsage increments the owner's counter for k, if k is counted.
// Called only for local creates; counters are not replicated.
func bumpUsage(ctx context.Context, q querier, k model.Kind, studentID string) error {
	col, ok := usageColumns[k]
	if !ok {
		return nil
	}
	query := fmt.Sprintf(`
		INSERT INTO usage_counters (student_id, %[1]s) VALUES (?, 1)
		ON CONFLICT(student_id) DO UPDATE SET %[1]s = %[1]s + 1
	`, col)
	if _, err := q.ExecContext(ctx, query, studentID); err != nil {
		return fmt.Errorf("bump usage %s: %w", col, err)
	}
	return nil
}

// Usage returns the creation counters for a student. A student with no
// recorded activity has zero counters.
func (s *Store) Usage(ctx context.Context, studentID string) (model.UsageCounters, error) {
	u := model.UsageCounters{StudentID: studentID}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(MAX(sessions_created), 0),
			COALESCE(MAX(songs_created), 0),
			COALESCE(MAX(plays_recorded), 0)
		FROM usage_counters WHERE student_id = ?
	`, studentID).Scan(&u.SessionsCreated, &u.SongsCreated, &u.PlaysRecorded)
	if err != nil {
		return model.UsageCounters{}, fmt.Errorf("read usage %s: %w", studentID, err)
	}
	return u, nil
}
