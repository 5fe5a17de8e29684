package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/etude/internal/model"
)

func TestCreate_AssignsIDAndCreationOrder(t *testing.T) {
	s, rec := openTestStore(t, "e")
	f := newFixture(t, s)

	assert.Equal(t, "e-0001", f.student)
	assert.Equal(t, "e-0002", f.song)

	song, err := s.Get(context.Background(), f.song)
	require.NoError(t, err)
	assert.Equal(t, model.KindSong, song.Kind)
	assert.Equal(t, f.student, song.StudentID)
	assert.Equal(t, model.PartitionPrivate, song.Partition)
	assert.Equal(t, int64(2), song.CreatedSeq)
	assert.Equal(t, model.String(""), song.Fields["composer"], "omitted fields take stored defaults")

	events := rec.take()
	require.Len(t, events, 5)
	assert.Equal(t, model.ChangeEvent{
		Kind:   model.KindSong,
		IDs:    []string{f.song},
		Type:   model.ChangeInsert,
		Origin: model.OriginLocal,
	}, events[1])
}

func TestCreate_StudentOwnsItself(t *testing.T) {
	s, _ := openTestStore(t, "e")
	id := mustCreate(t, s, model.KindStudent, model.Fields{"name": model.String("Ada")})

	student, err := s.Student(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Ada", student.Name)

	rec, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.StudentID)
}

func TestCreate_Validation(t *testing.T) {
	s, rec := openTestStore(t, "e")
	f := newFixture(t, s)
	other := mustCreate(t, s, model.KindStudent, model.Fields{"name": model.String("Bo")})
	otherSong := mustCreate(t, s, model.KindSong, model.Fields{
		model.FieldStudentID: model.String(other),
		"title":              model.String("Gavotte"),
	})
	rec.take()

	play := func(song, session string, count int64) model.Fields {
		return model.Fields{
			model.FieldStudentID: model.String(f.student),
			"song_id":            model.String(song),
			"session_id":         model.String(session),
			"count":              model.Int(count),
			"play_type":          model.String("practice"),
		}
	}

	tests := []struct {
		name   string
		kind   model.Kind
		fields model.Fields
		code   model.ErrorCode
	}{
		{"negative count", model.KindPlay, play(f.song, f.sessions[0], -1), model.ErrCodeValidation},
		{"cross-student song", model.KindPlay, play(otherSong, f.sessions[0], 1), model.ErrCodeValidation},
		{"missing song", model.KindPlay, play("nope", f.sessions[0], 1), model.ErrCodeNotFound},
		{"song where session expected", model.KindPlay, play(f.song, f.song, 1), model.ErrCodeValidation},
		{"missing owner", model.KindSong, model.Fields{
			model.FieldStudentID: model.String("ghost"),
			"title":              model.String("x"),
		}, model.ErrCodeNotFound},
		{"missing required title", model.KindSong, model.Fields{
			model.FieldStudentID: model.String(f.student),
		}, model.ErrCodeValidation},
		{"bad enum", model.KindSong, model.Fields{
			model.FieldStudentID: model.String(f.student),
			"title":              model.String("x"),
			"status":             model.String("mastered"),
		}, model.ErrCodeValidation},
		{"media without url or data", model.KindMediaReference, model.Fields{
			model.FieldStudentID: model.String(f.student),
			"song_id":            model.String(f.song),
			"media_kind":         model.String("youtube"),
		}, model.ErrCodeValidation},
		{"media with url and data", model.KindMediaReference, model.Fields{
			model.FieldStudentID: model.String(f.student),
			"song_id":            model.String(f.song),
			"media_kind":         model.String("youtube"),
			"url":                model.String("https://example.com/v"),
			"data":               model.Bytes("abc"),
		}, model.ErrCodeValidation},
	}

	before := countRows(t, s, "entities")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(context.Background(), tt.kind, tt.fields)
			require.Error(t, err)
			assert.Equal(t, tt.code, model.CodeOf(err))
		})
	}

	assert.Equal(t, before, countRows(t, s, "entities"), "rejected writes leave the store unchanged")
	assert.Empty(t, rec.take(), "rejected writes publish nothing")
}

func TestCreate_UsageCounters(t *testing.T) {
	s, _ := openTestStore(t, "e")
	f := newFixture(t, s)
	f.play(t, s, f.sessions[0], 3)
	f.play(t, s, f.sessions[1], 1)

	u, err := s.Usage(context.Background(), f.student)
	require.NoError(t, err)
	assert.Equal(t, model.UsageCounters{
		StudentID:       f.student,
		SessionsCreated: 3,
		SongsCreated:    1,
		PlaysRecorded:   2,
	}, u)

	empty, err := s.Usage(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.SessionsCreated)
}

func TestUpdate_ChangesAndStamps(t *testing.T) {
	s, rec := openTestStore(t, "e")
	f := newFixture(t, s)
	rec.take()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, f.sessions[0], model.Fields{"day": model.String("2024-02-28")}))

	session, err := s.Session(ctx, f.sessions[0])
	require.NoError(t, err)
	assert.Equal(t, model.Date("2024-02-28"), session.Day)

	var stamp int64
	var dirty bool
	require.NoError(t, s.db.QueryRow(`
		SELECT stamp, dirty FROM field_stamps WHERE entity_id = ? AND field = 'day'
	`, f.sessions[0]).Scan(&stamp, &dirty))
	assert.Equal(t, s.Clock().Current(), stamp)
	assert.True(t, dirty)

	assert.Equal(t, []model.ChangeEvent{{
		Kind:   model.KindSession,
		IDs:    []string{f.sessions[0]},
		Type:   model.ChangeUpdate,
		Origin: model.OriginLocal,
	}}, rec.take())
}

func TestUpdate_NoChangeNoEvent(t *testing.T) {
	s, rec := openTestStore(t, "e")
	f := newFixture(t, s)
	rec.take()

	require.NoError(t, s.Update(context.Background(), f.song, model.Fields{"title": model.String("Minuet")}))
	assert.Empty(t, rec.take())
}

func TestUpdate_Errors(t *testing.T) {
	s, _ := openTestStore(t, "e")
	f := newFixture(t, s)
	ctx := context.Background()

	err := s.Update(ctx, "missing", model.Fields{"title": model.String("x")})
	assert.True(t, model.IsNotFound(err))

	err = s.Update(ctx, f.song, model.Fields{"title": model.String("")})
	assert.True(t, model.IsValidation(err), "required field cannot be cleared")

	err = s.Update(ctx, f.song, model.Fields{model.FieldStudentID: model.String("other")})
	assert.True(t, model.IsValidation(err))

	err = s.Update(ctx, f.song, model.Fields{"goal_plays": model.Int(-5)})
	assert.True(t, model.IsValidation(err))

	song, err := s.Song(ctx, f.song)
	require.NoError(t, err)
	assert.Equal(t, "Minuet", song.Title)
	assert.Equal(t, int64(20), song.GoalPlays)
}

func TestGrantAward_CreatesThenRaises(t *testing.T) {
	s, rec := openTestStore(t, "e")
	f := newFixture(t, s)
	ctx := context.Background()
	rec.take()

	a, granted, err := s.GrantAward(ctx, f.student, model.AwardTenSessions, "2024-03-01", 1)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, int64(1), a.Count)
	assert.Equal(t, model.Date("2024-03-01"), a.DateWon)
	assert.Equal(t, model.ChangeInsert, rec.take()[0].Type)

	_, granted, err = s.GrantAward(ctx, f.student, model.AwardTenSessions, "2024-03-09", 1)
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Empty(t, rec.take())

	raised, granted, err := s.GrantAward(ctx, f.student, model.AwardTenSessions, "2024-03-09", 3)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, a.ID, raised.ID)
	assert.Equal(t, int64(3), raised.Count)
	assert.Equal(t, model.Date("2024-03-01"), raised.DateWon)

	other, granted, err := s.GrantAward(ctx, f.student, model.AwardStreak7, "2024-03-09", 1)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.NotEqual(t, a.ID, other.ID)

	held, err := s.AwardsOf(ctx, f.student)
	require.NoError(t, err)
	assert.Len(t, held, 2)
}

func TestDelete_NotFound(t *testing.T) {
	s, _ := openTestStore(t, "e")
	err := s.Delete(context.Background(), "missing")
	assert.True(t, model.IsNotFound(err))
}

func TestDelete_SessionCascade(t *testing.T) {
	s, rec := openTestStore(t, "e")
	f := newFixture(t, s)
	ctx := context.Background()
	target := f.sessions[1]

	var plays []string
	for _, n := range []int64{3, 5, 2} {
		plays = append(plays, f.play(t, s, target, n))
	}
	keep := f.play(t, s, f.sessions[0], 7)

	var notes []string
	for _, text := range []string{"bow hold", "intonation"} {
		notes = append(notes, mustCreate(t, s, model.KindNote, model.Fields{
			model.FieldStudentID: model.String(f.student),
			"session_id":         model.String(target),
			"text":               model.String(text),
		}))
	}
	recording := mustCreate(t, s, model.KindRecording, model.Fields{
		model.FieldStudentID: model.String(f.student),
		"session_id":         model.String(target),
		"duration_seconds":   model.Int(90),
	})
	rec.take()

	beforeEntities := countRows(t, s, "entities")
	require.NoError(t, s.Delete(ctx, target))

	assert.Equal(t, beforeEntities-7, countRows(t, s, "entities"))
	for _, id := range append(append(append([]string{target}, plays...), notes...), recording) {
		_, err := s.Get(ctx, id)
		assert.True(t, model.IsNotFound(err), "%s should be gone", id)
	}
	_, err := s.Get(ctx, keep)
	assert.NoError(t, err)
	assert.Equal(t, 7, countRows(t, s, "tombstones"))

	events := rec.take()
	require.Len(t, events, 4, "one event per affected kind")
	assert.Equal(t, model.KindSession, events[0].Kind)
	assert.Equal(t, model.KindPlay, events[1].Kind)
	assert.ElementsMatch(t, plays, events[1].IDs)
	assert.Equal(t, model.KindNote, events[2].Kind)
	assert.Equal(t, model.KindRecording, events[3].Kind)
	for _, e := range events {
		assert.Equal(t, model.ChangeDelete, e.Type)
	}
}

func TestDelete_SessionDetachesDirectNotes(t *testing.T) {
	s, _ := openTestStore(t, "e")
	f := newFixture(t, s)
	ctx := context.Background()

	note := mustCreate(t, s, model.KindNote, model.Fields{
		model.FieldStudentID: model.String(f.student),
		"session_id":         model.String(f.sessions[0]),
		"text":               model.String("remember posture"),
		"direct":             model.Bool(true),
	})
	require.NoError(t, s.Delete(ctx, f.sessions[0]))

	got, err := s.Get(ctx, note)
	require.NoError(t, err)
	assert.Equal(t, "", got.Fields.String("session_id"))
}

func TestDelete_SongCascade(t *testing.T) {
	s, rec := openTestStore(t, "e")
	f := newFixture(t, s)
	ctx := context.Background()

	other := mustCreate(t, s, model.KindSong, model.Fields{
		model.FieldStudentID: model.String(f.student),
		"title":              model.String("Gavotte"),
	})
	play := f.play(t, s, f.sessions[0], 4)
	media := mustCreate(t, s, model.KindMediaReference, model.Fields{
		model.FieldStudentID: model.String(f.student),
		"song_id":            model.String(f.song),
		"media_kind":         model.String("youtube"),
		"url":                model.String("https://example.com/minuet"),
	})
	soleTag := mustCreate(t, s, model.KindNote, model.Fields{
		model.FieldStudentID: model.String(f.student),
		"text":               model.String("only about minuet"),
		model.FieldSongIDs:   model.NewList(f.song),
	})
	sharedTag := mustCreate(t, s, model.KindNote, model.Fields{
		model.FieldStudentID: model.String(f.student),
		"text":               model.String("both pieces"),
		model.FieldSongIDs:   model.NewList(f.song, other),
	})
	directNote := mustCreate(t, s, model.KindNote, model.Fields{
		model.FieldStudentID: model.String(f.student),
		"text":               model.String("for the student"),
		"direct":             model.Bool(true),
		model.FieldSongIDs:   model.NewList(f.song),
	})
	recording := mustCreate(t, s, model.KindRecording, model.Fields{
		model.FieldStudentID: model.String(f.student),
		"session_id":         model.String(f.sessions[0]),
		model.FieldSongIDs:   model.NewList(f.song),
	})
	rec.take()

	require.NoError(t, s.Delete(ctx, f.song))

	for _, id := range []string{f.song, play, media, soleTag} {
		_, err := s.Get(ctx, id)
		assert.True(t, model.IsNotFound(err), "%s should be gone", id)
	}

	got, err := s.Get(ctx, sharedTag)
	require.NoError(t, err)
	assert.Equal(t, []string{other}, got.Fields.List(model.FieldSongIDs))

	got, err = s.Get(ctx, directNote)
	require.NoError(t, err)
	assert.Empty(t, got.Fields.List(model.FieldSongIDs))

	got, err = s.Get(ctx, recording)
	require.NoError(t, err)
	assert.Empty(t, got.Fields.List(model.FieldSongIDs))

	var noteEvents []model.ChangeEvent
	for _, e := range rec.take() {
		if e.Kind == model.KindNote {
			noteEvents = append(noteEvents, e)
		}
	}
	require.Len(t, noteEvents, 2)
	assert.Equal(t, model.ChangeUpdate, noteEvents[0].Type)
	assert.ElementsMatch(t, []string{sharedTag, directNote}, noteEvents[0].IDs)
	assert.Equal(t, model.ChangeDelete, noteEvents[1].Type)
	assert.Equal(t, []string{soleTag}, noteEvents[1].IDs)
}

func TestDelete_InstructorClearsSessions(t *testing.T) {
	s, _ := openTestStore(t, "e")
	f := newFixture(t, s)
	ctx := context.Background()

	instructor := mustCreate(t, s, model.KindInstructor, model.Fields{
		model.FieldStudentID: model.String(f.student),
		"name":               model.String("Ms. Reed"),
	})
	require.NoError(t, s.Update(ctx, f.sessions[2], model.Fields{"instructor_id": model.String(instructor)}))

	taught, err := s.Children(ctx, instructor, model.KindSession)
	require.NoError(t, err)
	assert.Equal(t, []string{f.sessions[2]}, taught)

	require.NoError(t, s.Delete(ctx, instructor))

	session, err := s.Session(ctx, f.sessions[2])
	require.NoError(t, err)
	assert.Equal(t, "", session.InstructorID)
}

func TestDelete_StudentRemovesSubgraph(t *testing.T) {
	s, _ := openTestStore(t, "e")
	f := newFixture(t, s)
	f.play(t, s, f.sessions[0], 1)
	other := mustCreate(t, s, model.KindStudent, model.Fields{"name": model.String("Bo")})

	require.NoError(t, s.Delete(context.Background(), f.student))

	assert.Equal(t, 1, countRows(t, s, "entities"))
	_, err := s.Get(context.Background(), other)
	assert.NoError(t, err)
	assert.Equal(t, 0, countRows(t, s, "usage_counters WHERE student_id = '"+f.student+"'"))
}
