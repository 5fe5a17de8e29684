package store

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/roach88/etude/internal/model"
)

// Get returns the live entity with the given id.
// Returns a NOT_FOUND error if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (model.Record, error) {
	rec, found, err := loadRecord(ctx, s.db, id)
	if err != nil {
		return model.Record{}, err
	}
	if !found {
		return model.Record{}, model.NewNotFoundError("", id)
	}
	return rec, nil
}

// getKind is Get restricted to one kind.
func (s *Store) getKind(ctx context.Context, k model.Kind, id string) (model.Record, error) {
	rec, found, err := loadRecord(ctx, s.db, id)
	if err != nil {
		return model.Record{}, err
	}
	if !found || rec.Kind != k {
		return model.Record{}, model.NewNotFoundError(k, id)
	}
	return rec, nil
}

// Student returns a student by id.
func (s *Store) Student(ctx context.Context, id string) (model.Student, error) {
	rec, err := s.getKind(ctx, model.KindStudent, id)
	if err != nil {
		return model.Student{}, err
	}
	return rec.Student(), nil
}

// Song returns a song by id.
func (s *Store) Song(ctx context.Context, id string) (model.Song, error) {
	rec, err := s.getKind(ctx, model.KindSong, id)
	if err != nil {
		return model.Song{}, err
	}
	return rec.Song(), nil
}

// Session returns a practice session by id.
func (s *Store) Session(ctx context.Context, id string) (model.Session, error) {
	rec, err := s.getKind(ctx, model.KindSession, id)
	if err != nil {
		return model.Session{}, err
	}
	return rec.Session(), nil
}

// Play returns a play by id.
func (s *Store) Play(ctx context.Context, id string) (model.Play, error) {
	rec, err := s.getKind(ctx, model.KindPlay, id)
	if err != nil {
		return model.Play{}, err
	}
	return rec.Play(), nil
}

// Students returns every live student in creation order.
func (s *Store) Students(ctx context.Context) ([]model.Student, error) {
	recs, err := s.loadQuery(ctx, `
		SELECT id FROM entities WHERE kind = ? ORDER BY created_seq ASC, id ASC
	`, string(model.KindStudent))
	if err != nil {
		return nil, err
	}
	out := make([]model.Student, len(recs))
	for i, r := range recs {
		out[i] = r.Student()
	}
	return out, nil
}

// AllSongIDs returns the id of every live song.
func (s *Store) AllSongIDs(ctx context.Context) ([]string, error) {
	return queryIDs(ctx, s.db, `
		SELECT id FROM entities WHERE kind = ? ORDER BY created_seq ASC, id ASC
	`, string(model.KindSong))
}

// Children returns the ids of parentID's related entities of kind k in the
// order defined for that relationship:
//
//	student -> song        title ascending (collated)
//	student -> session     day descending, absent day last
//	student -> note        text ascending
//	session -> play        count descending
//	session -> recording   recorded date descending
//	session -> note        text ascending
//	song    -> play        session day ascending, absent day first
//	instructor -> session  day descending
//
// Other relationships are returned in creation order.
// Ties always fall back to creation order, then id.
func (s *Store) Children(ctx context.Context, parentID string, k model.Kind) ([]string, error) {
	parent, found, err := loadMeta(ctx, s.db, parentID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, model.NewNotFoundError("", parentID)
	}

	switch {
	case parent.Kind == model.KindStudent && k == model.KindSong:
		return ids(s.SongsByTitle(ctx, parentID))
	case parent.Kind == model.KindStudent && k == model.KindSession:
		return ids(s.SessionsByDay(ctx, parentID))
	case parent.Kind == model.KindStudent && k == model.KindNote:
		return ids(s.NotesByText(ctx, parentID))
	case parent.Kind == model.KindSession && k == model.KindPlay:
		return ids(s.PlaysInSession(ctx, parentID))
	case parent.Kind == model.KindSession && k == model.KindRecording:
		return ids(s.RecordingsInSession(ctx, parentID))
	case parent.Kind == model.KindSession && k == model.KindNote:
		return ids(s.NotesByText(ctx, parentID))
	case parent.Kind == model.KindSong && k == model.KindPlay:
		return ids(s.PlaysOfSong(ctx, parentID))
	case parent.Kind == model.KindInstructor && k == model.KindSession:
		return ids(s.loadQuery(ctx, `
			SELECT e.id FROM entities e JOIN sessions t ON t.id = e.id
			WHERE t.instructor_id = ?
			ORDER BY t.day DESC, e.created_seq ASC, e.id ASC
		`, parentID))
	case parent.Kind == model.KindStudent:
		return queryIDs(ctx, s.db, `
			SELECT id FROM entities WHERE student_id = ? AND kind = ? AND id != ?
			ORDER BY created_seq ASC, id ASC
		`, parentID, string(k), parentID)
	case parent.Kind == model.KindSong && k == model.KindMediaReference:
		return ids(s.loadQuery(ctx, `
			SELECT e.id FROM entities e JOIN media_refs t ON t.id = e.id
			WHERE t.song_id = ?
			ORDER BY e.created_seq ASC, e.id ASC
		`, parentID))
	case parent.Kind == model.KindSong && (k == model.KindNote || k == model.KindRecording):
		return queryIDs(ctx, s.db, `
			SELECT e.id FROM entities e JOIN song_tags t ON t.owner_id = e.id
			WHERE t.song_id = ? AND e.kind = ?
			ORDER BY e.created_seq ASC, e.id ASC
		`, parentID, string(k))
	default:
		return nil, model.NewValidationError(k, parentID,
			fmt.Sprintf("no relationship from %s to %s", parent.Kind, k))
	}
}

// SongsByTitle returns a student's songs ordered by title using locale
// collation, then creation order.
func (s *Store) SongsByTitle(ctx context.Context, studentID string) ([]model.Song, error) {
	recs, err := s.loadQuery(ctx, `
		SELECT id FROM entities WHERE student_id = ? AND kind = ?
		ORDER BY created_seq ASC, id ASC
	`, studentID, string(model.KindSong))
	if err != nil {
		return nil, err
	}

	songs := make([]model.Song, len(recs))
	for i, r := range recs {
		songs[i] = r.Song()
	}

	// Collator is not safe for concurrent use; one per call.
	c := collate.New(language.English, collate.Loose)
	sort.SliceStable(songs, func(i, j int) bool {
		return c.CompareString(songs[i].Title, songs[j].Title) < 0
	})
	return songs, nil
}

// SessionsByDay returns a student's sessions, most recent day first.
// Sessions without a day sort last.
func (s *Store) SessionsByDay(ctx context.Context, studentID string) ([]model.Session, error) {
	recs, err := s.loadQuery(ctx, `
		SELECT e.id FROM entities e JOIN sessions t ON t.id = e.id
		WHERE e.student_id = ?
		ORDER BY t.day DESC, e.created_seq ASC, e.id ASC
	`, studentID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Session, len(recs))
	for i, r := range recs {
		out[i] = r.Session()
	}
	return out, nil
}

// PlaysInSession returns a session's plays, highest count first.
func (s *Store) PlaysInSession(ctx context.Context, sessionID string) ([]model.Play, error) {
	recs, err := s.loadQuery(ctx, `
		SELECT e.id FROM entities e JOIN plays t ON t.id = e.id
		WHERE t.session_id = ?
		ORDER BY t.count DESC, e.created_seq ASC, e.id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	return plays(recs), nil
}

// PlaysOfSong returns a song's plays in chronological order: session day
// ascending with absent days first, then creation order. Plays whose session
// is missing sort as if the day were absent.
func (s *Store) PlaysOfSong(ctx context.Context, songID string) ([]model.Play, error) {
	recs, err := s.loadQuery(ctx, `
		SELECT e.id FROM entities e
		JOIN plays t ON t.id = e.id
		LEFT JOIN sessions ss ON ss.id = t.session_id
		WHERE t.song_id = ?
		ORDER BY COALESCE(ss.day, '') ASC, e.created_seq ASC, e.id ASC
	`, songID)
	if err != nil {
		return nil, err
	}
	return plays(recs), nil
}

// RecordingsInSession returns a session's recordings, newest first.
// Recorded times are stored as UTC RFC 3339 so text order is time order.
func (s *Store) RecordingsInSession(ctx context.Context, sessionID string) ([]model.Recording, error) {
	recs, err := s.loadQuery(ctx, `
		SELECT e.id FROM entities e JOIN recordings t ON t.id = e.id
		WHERE t.session_id = ?
		ORDER BY t.recorded_at DESC, e.created_seq ASC, e.id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Recording, len(recs))
	for i, r := range recs {
		out[i] = r.Recording()
	}
	return out, nil
}

// NotesByText returns notes ordered by text. parentID is either a session
// (its notes) or a student (every note the student owns).
func (s *Store) NotesByText(ctx context.Context, parentID string) ([]model.Note, error) {
	recs, err := s.loadQuery(ctx, `
		SELECT e.id FROM entities e JOIN notes t ON t.id = e.id
		WHERE t.session_id = ? OR e.student_id = ?
		ORDER BY t.text ASC, e.created_seq ASC, e.id ASC
	`, parentID, parentID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Note, len(recs))
	for i, r := range recs {
		out[i] = r.Note()
	}
	return out, nil
}

// AwardsOf returns a student's earned awards in the order they were granted.
func (s *Store) AwardsOf(ctx context.Context, studentID string) ([]model.EarnedAward, error) {
	recs, err := s.loadQuery(ctx, `
		SELECT id FROM entities WHERE student_id = ? AND kind = ?
		ORDER BY created_seq ASC, id ASC
	`, studentID, string(model.KindAward))
	if err != nil {
		return nil, err
	}
	out := make([]model.EarnedAward, len(recs))
	for i, r := range recs {
		out[i] = r.Award()
	}
	return out, nil
}

// loadQuery runs an id query and loads each record.
func (s *Store) loadQuery(ctx context.Context, query string, args ...any) ([]model.Record, error) {
	idList, err := queryIDs(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}
	recs := make([]model.Record, 0, len(idList))
	for _, id := range idList {
		rec, found, err := loadRecord(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if found {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func plays(recs []model.Record) []model.Play {
	out := make([]model.Play, len(recs))
	for i, r := range recs {
		out[i] = r.Play()
	}
	return out
}

// ids extracts the id of every element of a typed view.
func ids[T any](items []T, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = idOf(item)
	}
	return out, nil
}

func idOf(v any) string {
	switch x := v.(type) {
	case model.Record:
		return x.ID
	case model.Song:
		return x.ID
	case model.Session:
		return x.ID
	case model.Play:
		return x.ID
	case model.Note:
		return x.ID
	case model.Recording:
		return x.ID
	default:
		return ""
	}
}
