package model

// Kind names an entity type.
type Kind string

const (
	KindStudent        Kind = "student"
	KindInstructor     Kind = "instructor"
	KindSong           Kind = "song"
	KindSession        Kind = "session"
	KindPlay           Kind = "play"
	KindNote           Kind = "note"
	KindRecording      Kind = "recording"
	KindAward          Kind = "award"
	KindMediaReference Kind = "media_reference"
)

// Kinds lists every replicated kind in dependency order: parents before
// children. Change events for one mutation are published in this order.
var Kinds = []Kind{
	KindStudent,
	KindInstructor,
	KindSong,
	KindSession,
	KindPlay,
	KindNote,
	KindRecording,
	KindAward,
	KindMediaReference,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := schemas[k]
	return ok
}

// PieceType classifies a song in the repertoire.
type PieceType string

const (
	PieceSong     PieceType = "song"
	PieceScale    PieceType = "scale"
	PieceWarmUp   PieceType = "warm_up"
	PieceExercise PieceType = "exercise"
)

// Status is a song's learning stage. Plays carry a PlayType drawn from the
// same set, captured at the time of the play.
type Status string

const (
	StatusLearning Status = "learning"
	StatusPractice Status = "practice"
	StatusReview   Status = "review"
)

// PlayType is the stage a play counted toward.
type PlayType = Status

// PlayTypes lists every play type in learning order.
var PlayTypes = []PlayType{StatusLearning, StatusPractice, StatusReview}

// Location is where a session took place.
type Location string

const (
	LocationHome   Location = "home"
	LocationSchool Location = "school"
	LocationLesson Location = "lesson"
	LocationOther  Location = "other"
)

// MediaKind classifies a media reference attached to a song.
type MediaKind string

const (
	MediaAudioRecording MediaKind = "audio_recording"
	MediaYouTube        MediaKind = "youtube"
	MediaSpotify        MediaKind = "spotify"
	MediaAppleMusic     MediaKind = "apple_music"
	MediaSheetMusic     MediaKind = "sheet_music"
	MediaLocalVideo     MediaKind = "local_video"
)

// AwardKind names an award a student can earn.
type AwardKind string

const (
	AwardFirstSession AwardKind = "first_session"
	AwardTenSessions  AwardKind = "ten_sessions"
	AwardHundredPlays AwardKind = "hundred_plays"
	AwardGoalReached  AwardKind = "goal_reached"
	AwardStreak7      AwardKind = "streak_7"
)

// Partition is one of the two independently synchronized storage scopes.
type Partition string

const (
	PartitionPrivate Partition = "private"
	PartitionShared  Partition = "shared"
)

// Partitions lists both partitions in sync order.
var Partitions = []Partition{PartitionPrivate, PartitionShared}

// Valid reports whether p is a known partition.
func (p Partition) Valid() bool {
	return p == PartitionPrivate || p == PartitionShared
}

var enumValues = map[string][]string{
	"piece_type": {string(PieceSong), string(PieceScale), string(PieceWarmUp), string(PieceExercise)},
	"status":     {string(StatusLearning), string(StatusPractice), string(StatusReview)},
	"location":   {string(LocationHome), string(LocationSchool), string(LocationLesson), string(LocationOther)},
	"media_kind": {string(MediaAudioRecording), string(MediaYouTube), string(MediaSpotify), string(MediaAppleMusic), string(MediaSheetMusic), string(MediaLocalVideo)},
	"award_kind": {string(AwardFirstSession), string(AwardTenSessions), string(AwardHundredPlays), string(AwardGoalReached), string(AwardStreak7)},
}

// EnumValid reports whether v is a member of the named enum.
// The empty string is never a member.
func EnumValid(enum, v string) bool {
	for _, allowed := range enumValues[enum] {
		if allowed == v {
			return true
		}
	}
	return false
}
