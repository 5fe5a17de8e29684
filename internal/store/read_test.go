package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/etude/internal/model"
)

func TestSongsByTitle_CollatedThenCreationOrder(t *testing.T) {
	s, _ := openTestStore(t, "r")
	student := mustCreate(t, s, model.KindStudent, model.Fields{"name": model.String("Ada")})

	var ids []string
	for _, title := range []string{"etude", "Bourree", "Allegro", "Étude", "allegro"} {
		ids = append(ids, mustCreate(t, s, model.KindSong, model.Fields{
			model.FieldStudentID: model.String(student),
			"title":              model.String(title),
		}))
	}

	songs, err := s.SongsByTitle(context.Background(), student)
	require.NoError(t, err)

	var titles []string
	for _, song := range songs {
		titles = append(titles, song.Title)
	}
	// Loose collation ignores case and accents; equal titles keep creation order.
	assert.Equal(t, []string{"Allegro", "allegro", "Bourree", "etude", "Étude"}, titles)

	children, err := s.Children(context.Background(), student, model.KindSong)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[2], ids[4], ids[1], ids[0], ids[3]}, children)
}

func TestSessionsByDay_AbsentDayLast(t *testing.T) {
	s, _ := openTestStore(t, "r")
	f := newFixture(t, s)
	undated := mustCreate(t, s, model.KindSession, model.Fields{
		model.FieldStudentID: model.String(f.student),
	})
	sameDay := mustCreate(t, s, model.KindSession, model.Fields{
		model.FieldStudentID: model.String(f.student),
		"day":                model.String("2024-03-03"),
	})

	got, err := s.Children(context.Background(), f.student, model.KindSession)
	require.NoError(t, err)
	assert.Equal(t, []string{f.sessions[2], sameDay, f.sessions[1], f.sessions[0], undated}, got)
}

func TestPlaysInSession_CountDescending(t *testing.T) {
	s, _ := openTestStore(t, "r")
	f := newFixture(t, s)
	a := f.play(t, s, f.sessions[0], 2)
	b := f.play(t, s, f.sessions[0], 9)
	c := f.play(t, s, f.sessions[0], 2)

	got, err := s.Children(context.Background(), f.sessions[0], model.KindPlay)
	require.NoError(t, err)
	assert.Equal(t, []string{b, a, c}, got)
}

func TestPlaysOfSong_Chronological(t *testing.T) {
	s, _ := openTestStore(t, "r")
	f := newFixture(t, s)
	late := f.play(t, s, f.sessions[2], 1)
	early := f.play(t, s, f.sessions[0], 1)
	undated := mustCreate(t, s, model.KindSession, model.Fields{
		model.FieldStudentID: model.String(f.student),
	})
	first := f.play(t, s, undated, 1)

	got, err := s.Children(context.Background(), f.song, model.KindPlay)
	require.NoError(t, err)
	assert.Equal(t, []string{first, early, late}, got)
}

func TestRecordingsInSession_NewestFirst(t *testing.T) {
	s, _ := openTestStore(t, "r")
	f := newFixture(t, s)

	rec := func(at string) string {
		return mustCreate(t, s, model.KindRecording, model.Fields{
			model.FieldStudentID: model.String(f.student),
			"session_id":         model.String(f.sessions[0]),
			"recorded_at":        model.String(at),
		})
	}
	older := rec("2024-03-01T09:00:00Z")
	newer := rec("2024-03-01T10:30:00Z")

	got, err := s.Children(context.Background(), f.sessions[0], model.KindRecording)
	require.NoError(t, err)
	assert.Equal(t, []string{newer, older}, got)
}

func TestNotesByText(t *testing.T) {
	s, _ := openTestStore(t, "r")
	f := newFixture(t, s)

	note := func(text string, session string) string {
		fields := model.Fields{
			model.FieldStudentID: model.String(f.student),
			"text":               model.String(text),
		}
		if session != "" {
			fields["session_id"] = model.String(session)
		}
		return mustCreate(t, s, model.KindNote, fields)
	}
	z := note("vibrato", f.sessions[0])
	a := note("scales first", f.sessions[0])
	loose := note("buy rosin", "")

	inSession, err := s.Children(context.Background(), f.sessions[0], model.KindNote)
	require.NoError(t, err)
	assert.Equal(t, []string{a, z}, inSession)

	all, err := s.Children(context.Background(), f.student, model.KindNote)
	require.NoError(t, err)
	assert.Equal(t, []string{loose, a, z}, all)
}

func TestChildren_Errors(t *testing.T) {
	s, _ := openTestStore(t, "r")
	f := newFixture(t, s)

	_, err := s.Children(context.Background(), "missing", model.KindSong)
	assert.True(t, model.IsNotFound(err))

	_, err = s.Children(context.Background(), f.sessions[0], model.KindSong)
	assert.True(t, model.IsValidation(err))
}

func TestGet_KindMismatchIsNotFound(t *testing.T) {
	s, _ := openTestStore(t, "r")
	f := newFixture(t, s)

	_, err := s.Song(context.Background(), f.sessions[0])
	assert.True(t, model.IsNotFound(err))
}

func TestSongPlays_ConsistentRead(t *testing.T) {
	s, _ := openTestStore(t, "r")
	f := newFixture(t, s)
	p1 := f.play(t, s, f.sessions[1], 5)
	p2 := f.play(t, s, f.sessions[0], 3)

	// A play replicated ahead of its session.
	_, err := s.db.Exec(`INSERT INTO entities (id, kind, student_id, partition, created_seq, synced)
		VALUES ('dangling', 'play', ?, 'private', 100, 1)`, f.student)
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO plays (id, song_id, session_id, count, play_type)
		VALUES ('dangling', ?, 'future-session', 4, 'practice')`, f.song)
	require.NoError(t, err)

	sp, err := s.SongPlays(context.Background(), f.song)
	require.NoError(t, err)
	require.True(t, sp.Found)
	assert.Equal(t, "Minuet", sp.Song.Title)
	require.Len(t, sp.Plays, 3)

	assert.Equal(t, p1, sp.Plays[0].PlayID)
	assert.Equal(t, model.Date("2024-03-02"), sp.Plays[0].Day)
	assert.True(t, sp.Plays[0].SessionFound)
	assert.Equal(t, p2, sp.Plays[1].PlayID)
	assert.False(t, sp.Plays[2].SessionFound)
	assert.Equal(t, model.Date(""), sp.Plays[2].Day)

	songs, err := s.SongsOfPlays(context.Background(), []string{p1, "nope"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{p1: f.song}, songs)

	inSession, err := s.SongsInSession(context.Background(), f.sessions[1])
	require.NoError(t, err)
	assert.Equal(t, []string{f.song}, inSession)
}

func TestSongPlays_MissingSong(t *testing.T) {
	s, _ := openTestStore(t, "r")
	sp, err := s.SongPlays(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, sp.Found)
	assert.Empty(t, sp.Plays)
}
