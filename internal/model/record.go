package model

import "time"

// Record is the storage-level form of any entity.
type Record struct {
	ID         string
	Kind       Kind
	StudentID  string
	Partition  Partition
	CreatedSeq int64
	Fields     Fields
}

// Student is the owner of every other entity.
type Student struct {
	ID         string
	Name       string
	Instrument string
	Partition  Partition
	CreatedSeq int64
}

// Instructor teaches some of a student's sessions.
type Instructor struct {
	ID        string
	StudentID string
	Name      string
}

// Song is a piece of repertoire.
type Song struct {
	ID         string
	StudentID  string
	Title      string
	Composer   string
	GoalPlays  int64 // 0 means no goal
	PieceType  PieceType
	Status     Status
	Partition  Partition
	CreatedSeq int64
}

// Session is one practice sitting.
type Session struct {
	ID              string
	StudentID       string
	InstructorID    string
	Day             Date
	DurationMinutes int64
	Location        Location
	Title           string
	CreatedSeq      int64
}

// Play is a counted practice event for one song within one session.
type Play struct {
	ID         string
	StudentID  string
	SongID     string
	SessionID  string
	Count      int64
	PlayType   PlayType
	CreatedSeq int64
}

// Note is free text (and optional sketch) attached to a session, the
// student directly, and/or tagged songs.
type Note struct {
	ID        string
	StudentID string
	SessionID string
	Text      string
	Sketch    []byte
	Day       Date
	Direct    bool
	SongIDs   []string
}

// Recording is captured audio from a session.
type Recording struct {
	ID              string
	StudentID       string
	SessionID       string
	Data            []byte
	DurationSeconds int64
	RecordedAt      time.Time
	SongIDs         []string
}

// EarnedAward is an award granted to a student.
type EarnedAward struct {
	ID        string
	StudentID string
	AwardKind AwardKind
	DateWon   Date
	Count     int64
}

// MediaReference links a song to external or embedded media.
type MediaReference struct {
	ID        string
	StudentID string
	SongID    string
	MediaKind MediaKind
	URL       string
	Data      []byte
}

// UsageCounters tracks per-student creation totals for entitlement checks.
// Counters are local bookkeeping and are not replicated.
type UsageCounters struct {
	StudentID       string
	SessionsCreated int64
	SongsCreated    int64
	PlaysRecorded   int64
}

// Student materializes r as a Student.
func (r Record) Student() Student {
	return Student{
		ID:         r.ID,
		Name:       r.Fields.String("name"),
		Instrument: r.Fields.String("instrument"),
		Partition:  r.Partition,
		CreatedSeq: r.CreatedSeq,
	}
}

// Instructor materializes r as an Instructor.
func (r Record) Instructor() Instructor {
	return Instructor{ID: r.ID, StudentID: r.StudentID, Name: r.Fields.String("name")}
}

// Song materializes r as a Song.
func (r Record) Song() Song {
	return Song{
		ID:         r.ID,
		StudentID:  r.StudentID,
		Title:      r.Fields.String("title"),
		Composer:   r.Fields.String("composer"),
		GoalPlays:  r.Fields.Int("goal_plays"),
		PieceType:  PieceType(r.Fields.String("piece_type")),
		Status:     Status(r.Fields.String("status")),
		Partition:  r.Partition,
		CreatedSeq: r.CreatedSeq,
	}
}

// Session materializes r as a Session.
func (r Record) Session() Session {
	return Session{
		ID:              r.ID,
		StudentID:       r.StudentID,
		InstructorID:    r.Fields.String("instructor_id"),
		Day:             Date(r.Fields.String("day")),
		DurationMinutes: r.Fields.Int("duration_minutes"),
		Location:        Location(r.Fields.String("location")),
		Title:           r.Fields.String("title"),
		CreatedSeq:      r.CreatedSeq,
	}
}

// Play materializes r as a Play.
func (r Record) Play() Play {
	return Play{
		ID:         r.ID,
		StudentID:  r.StudentID,
		SongID:     r.Fields.String("song_id"),
		SessionID:  r.Fields.String("session_id"),
		Count:      r.Fields.Int("count"),
		PlayType:   PlayType(r.Fields.String("play_type")),
		CreatedSeq: r.CreatedSeq,
	}
}

// Note materializes r as a Note.
func (r Record) Note() Note {
	return Note{
		ID:        r.ID,
		StudentID: r.StudentID,
		SessionID: r.Fields.String("session_id"),
		Text:      r.Fields.String("text"),
		Sketch:    r.Fields.Bytes("sketch"),
		Day:       Date(r.Fields.String("day")),
		Direct:    r.Fields.Bool("direct"),
		SongIDs:   r.Fields.List(FieldSongIDs),
	}
}

// Recording materializes r as a Recording.
func (r Record) Recording() Recording {
	rec := Recording{
		ID:              r.ID,
		StudentID:       r.StudentID,
		SessionID:       r.Fields.String("session_id"),
		Data:            r.Fields.Bytes("data"),
		DurationSeconds: r.Fields.Int("duration_seconds"),
		SongIDs:         r.Fields.List(FieldSongIDs),
	}
	if s := r.Fields.String("recorded_at"); s != "" {
		rec.RecordedAt, _ = time.Parse(time.RFC3339, s)
	}
	return rec
}

// Award materializes r as an EarnedAward.
func (r Record) Award() EarnedAward {
	return EarnedAward{
		ID:        r.ID,
		StudentID: r.StudentID,
		AwardKind: AwardKind(r.Fields.String("award_kind")),
		DateWon:   Date(r.Fields.String("date_won")),
		Count:     r.Fields.Int("count"),
	}
}

// MediaReference materializes r as a MediaReference.
func (r Record) MediaReference() MediaReference {
	return MediaReference{
		ID:        r.ID,
		StudentID: r.StudentID,
		SongID:    r.Fields.String("song_id"),
		MediaKind: MediaKind(r.Fields.String("media_kind")),
		URL:       r.Fields.String("url"),
		Data:      r.Fields.Bytes("data"),
	}
}
