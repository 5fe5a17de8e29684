package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/etude/internal/model"
	"github.com/roach88/etude/internal/testutil"
)

// recorder is a Publisher that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []model.ChangeEvent
}

func (r *recorder) Publish(_ context.Context, events ...model.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recorder) take() []model.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func openTestStore(t *testing.T, prefix string) (*Store, *recorder) {
	t.Helper()
	rec := &recorder{}
	s, err := Open(filepath.Join(t.TempDir(), "etude.db"),
		WithPublisher(rec),
		WithIDGenerator(testutil.NewSequentialIDs(prefix)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, rec
}

// fixture is a small graph: one student, one song, sessions on three days.
type fixture struct {
	student  string
	song     string
	sessions []string
}

func mustCreate(t *testing.T, s *Store, k model.Kind, fields model.Fields) string {
	t.Helper()
	id, err := s.Create(context.Background(), k, fields)
	require.NoError(t, err)
	return id
}

func newFixture(t *testing.T, s *Store) fixture {
	t.Helper()
	f := fixture{}
	f.student = mustCreate(t, s, model.KindStudent, model.Fields{
		"name":       model.String("Ada"),
		"instrument": model.String("violin"),
	})
	f.song = mustCreate(t, s, model.KindSong, model.Fields{
		model.FieldStudentID: model.String(f.student),
		"title":              model.String("Minuet"),
		"goal_plays":         model.Int(20),
		"status":             model.String("practice"),
	})
	for _, day := range []string{"2024-03-01", "2024-03-02", "2024-03-03"} {
		f.sessions = append(f.sessions, mustCreate(t, s, model.KindSession, model.Fields{
			model.FieldStudentID: model.String(f.student),
			"day":                model.String(day),
			"duration_minutes":   model.Int(30),
		}))
	}
	return f
}

func (f fixture) play(t *testing.T, s *Store, session string, count int64) string {
	t.Helper()
	return mustCreate(t, s, model.KindPlay, model.Fields{
		model.FieldStudentID: model.String(f.student),
		"song_id":            model.String(f.song),
		"session_id":         model.String(session),
		"count":              model.Int(count),
		"play_type":          model.String("practice"),
	})
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}
