package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/etude/internal/model"
)

// CreateStudent adds a student.
type CreateStudent struct {
	Name       string `json:"name" validate:"required,max=200"`
	Instrument string `json:"instrument" validate:"max=100"`
}

// CreateInstructor adds an instructor to a student's roster.
type CreateInstructor struct {
	StudentID string `json:"student_id" validate:"required"`
	Name      string `json:"name" validate:"required,max=200"`
}

// CreateSong adds a piece to a student's repertoire.
type CreateSong struct {
	StudentID string `json:"student_id" validate:"required"`
	Title     string `json:"title" validate:"required,max=300"`
	Composer  string `json:"composer" validate:"max=200"`
	GoalPlays int64  `json:"goal_plays" validate:"gte=0"`
	PieceType string `json:"piece_type" validate:"omitempty,oneof=song scale warm_up exercise"`
	Status    string `json:"status" validate:"omitempty,oneof=learning practice review"`
}

// UpdateSong changes the set fields of a song.
type UpdateSong struct {
	SongID    string  `json:"song_id" validate:"required"`
	Title     *string `json:"title" validate:"omitempty,min=1,max=300"`
	Composer  *string `json:"composer" validate:"omitempty,max=200"`
	GoalPlays *int64  `json:"goal_plays" validate:"omitempty,gte=0"`
	PieceType *string `json:"piece_type" validate:"omitempty,oneof=song scale warm_up exercise"`
	Status    *string `json:"status" validate:"omitempty,oneof=learning practice review"`
}

// CreateSession records a practice sitting.
type CreateSession struct {
	StudentID       string `json:"student_id" validate:"required"`
	InstructorID    string `json:"instructor_id"`
	Day             string `json:"day" validate:"omitempty,datetime=2006-01-02"`
	DurationMinutes int64  `json:"duration_minutes" validate:"gte=0"`
	Location        string `json:"location" validate:"omitempty,oneof=home school lesson other"`
	Title           string `json:"title" validate:"max=200"`
}

// RedateSession moves a session to another day. An empty Day clears it.
type RedateSession struct {
	SessionID string `json:"session_id" validate:"required"`
	Day       string `json:"day" validate:"omitempty,datetime=2006-01-02"`
}

// RecordPlay counts plays of a song in a session. An empty PlayType takes
// the song's current status.
type RecordPlay struct {
	SongID    string `json:"song_id" validate:"required"`
	SessionID string `json:"session_id" validate:"required"`
	Count     int64  `json:"count" validate:"gte=0"`
	PlayType  string `json:"play_type" validate:"omitempty,oneof=learning practice review"`
}

// EditPlay changes the set fields of a play.
type EditPlay struct {
	PlayID   string  `json:"play_id" validate:"required"`
	Count    *int64  `json:"count" validate:"omitempty,gte=0"`
	PlayType *string `json:"play_type" validate:"omitempty,oneof=learning practice review"`
}

// AddNote writes a note. It needs at least one anchor: a session, the
// student directly, or a tagged song.
type AddNote struct {
	StudentID string   `json:"student_id" validate:"required"`
	SessionID string   `json:"session_id"`
	Text      string   `json:"text" validate:"max=10000"`
	Sketch    []byte   `json:"sketch"`
	Day       string   `json:"day" validate:"omitempty,datetime=2006-01-02"`
	Direct    bool     `json:"direct"`
	SongIDs   []string `json:"song_ids" validate:"dive,required"`
}

// AddRecording attaches audio to a session. A zero RecordedAt is now.
type AddRecording struct {
	SessionID       string    `json:"session_id" validate:"required"`
	Data            []byte    `json:"data"`
	DurationSeconds int64     `json:"duration_seconds" validate:"gte=0"`
	RecordedAt      time.Time `json:"recorded_at"`
	SongIDs         []string  `json:"song_ids" validate:"dive,required"`
}

// AddMedia links media to a song. Exactly one of URL and Data is set.
type AddMedia struct {
	SongID    string `json:"song_id" validate:"required"`
	MediaKind string `json:"media_kind" validate:"required,oneof=audio_recording youtube spotify apple_music sheet_music local_video"`
	URL       string `json:"url" validate:"omitempty,url"`
	Data      []byte `json:"data"`
}

// CreateStudent executes cmd and returns the new student's id.
func (l *Ledger) CreateStudent(ctx context.Context, cmd CreateStudent) (string, error) {
	if err := l.check(model.KindStudent, "", cmd); err != nil {
		return "", err
	}
	return l.store.Create(ctx, model.KindStudent, model.Fields{
		"name":       model.String(cmd.Name),
		"instrument": model.String(cmd.Instrument),
	})
}

// CreateInstructor executes cmd and returns the new instructor's id.
func (l *Ledger) CreateInstructor(ctx context.Context, cmd CreateInstructor) (string, error) {
	if err := l.check(model.KindInstructor, "", cmd); err != nil {
		return "", err
	}
	return l.store.Create(ctx, model.KindInstructor, model.Fields{
		model.FieldStudentID: model.String(cmd.StudentID),
		"name":               model.String(cmd.Name),
	})
}

// CreateSong executes cmd after the entitlement check.
func (l *Ledger) CreateSong(ctx context.Context, cmd CreateSong) (string, error) {
	if err := l.check(model.KindSong, "", cmd); err != nil {
		return "", err
	}
	if err := l.allow(ctx, cmd.StudentID, model.KindSong); err != nil {
		return "", err
	}
	return l.store.Create(ctx, model.KindSong, model.Fields{
		model.FieldStudentID: model.String(cmd.StudentID),
		"title":              model.String(cmd.Title),
		"composer":           model.String(cmd.Composer),
		"goal_plays":         model.Int(cmd.GoalPlays),
		"piece_type":         model.String(cmd.PieceType),
		"status":             model.String(cmd.Status),
	})
}

// UpdateSong executes cmd. Unset fields are left alone.
func (l *Ledger) UpdateSong(ctx context.Context, cmd UpdateSong) error {
	if err := l.check(model.KindSong, cmd.SongID, cmd); err != nil {
		return err
	}
	fields := model.Fields{}
	setString(fields, "title", cmd.Title)
	setString(fields, "composer", cmd.Composer)
	setString(fields, "piece_type", cmd.PieceType)
	setString(fields, "status", cmd.Status)
	if cmd.GoalPlays != nil {
		fields["goal_plays"] = model.Int(*cmd.GoalPlays)
	}
	if len(fields) == 0 {
		return nil
	}
	return l.store.Update(ctx, cmd.SongID, fields)
}

// CreateSession executes cmd after the entitlement check.
func (l *Ledger) CreateSession(ctx context.Context, cmd CreateSession) (string, error) {
	if err := l.check(model.KindSession, "", cmd); err != nil {
		return "", err
	}
	if err := l.allow(ctx, cmd.StudentID, model.KindSession); err != nil {
		return "", err
	}
	return l.store.Create(ctx, model.KindSession, model.Fields{
		model.FieldStudentID: model.String(cmd.StudentID),
		"instructor_id":      model.String(cmd.InstructorID),
		"day":                model.String(cmd.Day),
		"duration_minutes":   model.Int(cmd.DurationMinutes),
		"location":           model.String(cmd.Location),
		"title":              model.String(cmd.Title),
	})
}

// RedateSession executes cmd. Every song played in the session has its
// cumulative order recomputed.
func (l *Ledger) RedateSession(ctx context.Context, cmd RedateSession) error {
	if err := l.check(model.KindSession, cmd.SessionID, cmd); err != nil {
		return err
	}
	return l.store.Update(ctx, cmd.SessionID, model.Fields{"day": model.String(cmd.Day)})
}

// DeleteSession removes a session with its plays, recordings and
// session-scoped notes.
func (l *Ledger) DeleteSession(ctx context.Context, id string) error {
	if _, err := l.store.Session(ctx, id); err != nil {
		return err
	}
	return l.store.Delete(ctx, id)
}

// DeleteSong removes a song with its plays and media, and untags it from
// notes and recordings.
func (l *Ledger) DeleteSong(ctx context.Context, id string) error {
	if _, err := l.store.Song(ctx, id); err != nil {
		return err
	}
	return l.store.Delete(ctx, id)
}

// RecordPlay executes cmd and returns the new play's id.
func (l *Ledger) RecordPlay(ctx context.Context, cmd RecordPlay) (string, error) {
	if err := l.check(model.KindPlay, "", cmd); err != nil {
		return "", err
	}
	song, err := l.store.Song(ctx, cmd.SongID)
	if err != nil {
		return "", err
	}

	playType := model.PlayType(cmd.PlayType)
	if playType == "" {
		playType = song.Status
	}
	if playType == "" {
		playType = model.StatusLearning
	}

	return l.store.Create(ctx, model.KindPlay, model.Fields{
		model.FieldStudentID: model.String(song.StudentID),
		"song_id":            model.String(cmd.SongID),
		"session_id":         model.String(cmd.SessionID),
		"count":              model.Int(cmd.Count),
		"play_type":          model.String(playType),
	})
}

// EditPlay executes cmd. Unset fields are left alone.
func (l *Ledger) EditPlay(ctx context.Context, cmd EditPlay) error {
	if err := l.check(model.KindPlay, cmd.PlayID, cmd); err != nil {
		return err
	}
	fields := model.Fields{}
	if cmd.Count != nil {
		fields["count"] = model.Int(*cmd.Count)
	}
	setString(fields, "play_type", cmd.PlayType)
	if len(fields) == 0 {
		return nil
	}
	return l.store.Update(ctx, cmd.PlayID, fields)
}

// AddNote executes cmd and returns the new note's id.
func (l *Ledger) AddNote(ctx context.Context, cmd AddNote) (string, error) {
	if err := l.check(model.KindNote, "", cmd); err != nil {
		return "", err
	}
	if cmd.SessionID == "" && !cmd.Direct && len(cmd.SongIDs) == 0 {
		return "", model.NewValidationError(model.KindNote, "", "note needs a session, a song, or to be direct")
	}
	return l.store.Create(ctx, model.KindNote, model.Fields{
		model.FieldStudentID: model.String(cmd.StudentID),
		"session_id":         model.String(cmd.SessionID),
		"text":               model.String(cmd.Text),
		"sketch":             model.Bytes(cmd.Sketch),
		"day":                model.String(cmd.Day),
		"direct":             model.Bool(cmd.Direct),
		model.FieldSongIDs:   model.NewList(cmd.SongIDs...),
	})
}

// AddRecording executes cmd and returns the new recording's id.
func (l *Ledger) AddRecording(ctx context.Context, cmd AddRecording) (string, error) {
	if err := l.check(model.KindRecording, "", cmd); err != nil {
		return "", err
	}
	session, err := l.store.Session(ctx, cmd.SessionID)
	if err != nil {
		return "", err
	}
	at := cmd.RecordedAt
	if at.IsZero() {
		at = l.now()
	}
	// UTC keeps the stored text in time order.
	recordedAt := at.UTC().Format(time.RFC3339)

	return l.store.Create(ctx, model.KindRecording, model.Fields{
		model.FieldStudentID: model.String(session.StudentID),
		"session_id":         model.String(cmd.SessionID),
		"data":               model.Bytes(cmd.Data),
		"duration_seconds":   model.Int(cmd.DurationSeconds),
		"recorded_at":        model.String(recordedAt),
		model.FieldSongIDs:   model.NewList(cmd.SongIDs...),
	})
}

// AddMedia executes cmd and returns the new media reference's id.
func (l *Ledger) AddMedia(ctx context.Context, cmd AddMedia) (string, error) {
	if err := l.check(model.KindMediaReference, "", cmd); err != nil {
		return "", err
	}
	if (cmd.URL == "") == (len(cmd.Data) == 0) {
		return "", model.NewValidationError(model.KindMediaReference, "", "exactly one of url and data is required")
	}
	song, err := l.store.Song(ctx, cmd.SongID)
	if err != nil {
		return "", err
	}
	return l.store.Create(ctx, model.KindMediaReference, model.Fields{
		model.FieldStudentID: model.String(song.StudentID),
		"song_id":            model.String(cmd.SongID),
		"media_kind":         model.String(cmd.MediaKind),
		"url":                model.String(cmd.URL),
		"data":               model.Bytes(cmd.Data),
	})
}

func (l *Ledger) allow(ctx context.Context, studentID string, k model.Kind) error {
	if err := l.entitlements.Allow(ctx, studentID, k); err != nil {
		if IsQuotaExceededError(err) {
			l.logger.Info("quota exceeded",
				zap.String("student_id", studentID),
				zap.String("kind", string(k)))
		}
		return err
	}
	return nil
}

func setString(fields model.Fields, name string, v *string) {
	if v != nil {
		fields[name] = model.String(*v)
	}
}
