package ledger

import (
	"context"
	"maps"
	"time"

	"github.com/roach88/etude/internal/engine"
	"github.com/roach88/etude/internal/model"
)

// SongStats is the presentation view of one song's aggregates.
type SongStats struct {
	SongID             string                   `json:"song_id"`
	Title              string                   `json:"title"`
	TotalPlayCount     int64                    `json:"total_play_count"`
	TotalGoalPlayCount int64                    `json:"total_goal_play_count"`
	LastPlayedDate     model.Date               `json:"last_played_date,omitempty"`
	GoalPlays          int64                    `json:"goal_plays"`
	Progress           float64                  `json:"progress"`
	TypeTotals         map[model.PlayType]int64 `json:"type_totals"`
}

func statsOf(snap *engine.Snapshot) SongStats {
	return SongStats{
		SongID:             snap.SongID,
		Title:              snap.Title,
		TotalPlayCount:     snap.TotalPlayCount,
		TotalGoalPlayCount: snap.TotalGoalPlayCount,
		LastPlayedDate:     snap.LastPlayedDate,
		GoalPlays:          snap.GoalPlays,
		Progress:           snap.Progress,
		TypeTotals:         maps.Clone(snap.TypeTotals),
	}
}

// SongStats returns a song's current aggregates.
func (l *Ledger) SongStats(ctx context.Context, songID string) (SongStats, error) {
	snap, err := l.engine.Snapshot(ctx, songID)
	if err != nil {
		return SongStats{}, err
	}
	if !snap.Found {
		return SongStats{}, model.NewNotFoundError(model.KindSong, songID)
	}
	return statsOf(snap), nil
}

// CachedSongStats returns the best-known aggregates without waiting for a
// recomputation. They may be stale.
func (l *Ledger) CachedSongStats(songID string) (SongStats, bool) {
	snap, ok := l.engine.Peek(songID)
	if !ok || !snap.Found {
		return SongStats{}, false
	}
	return statsOf(snap), true
}

// PlayCumulative returns a play's running total within its play type. A
// play left out of aggregation has a total of 0.
func (l *Ledger) PlayCumulative(ctx context.Context, playID string) (int64, error) {
	if _, err := l.store.Play(ctx, playID); err != nil {
		return 0, err
	}
	n, _, err := l.engine.CumulativeCount(ctx, playID)
	return n, err
}

// PlayStats is one play with its running total.
type PlayStats struct {
	PlayID     string         `json:"play_id"`
	SessionID  string         `json:"session_id"`
	Day        model.Date     `json:"day,omitempty"`
	Count      int64          `json:"count"`
	PlayType   model.PlayType `json:"play_type"`
	Cumulative int64          `json:"cumulative"`
}

// SongHistory returns a song's plays in chronological order with their
// running totals, all taken from one snapshot. Plays left out of
// aggregation are not listed.
func (l *Ledger) SongHistory(ctx context.Context, songID string) ([]PlayStats, error) {
	snap, err := l.engine.Snapshot(ctx, songID)
	if err != nil {
		return nil, err
	}
	if !snap.Found {
		return nil, model.NewNotFoundError(model.KindSong, songID)
	}

	out := make([]PlayStats, 0, len(snap.History))
	for _, p := range snap.History {
		out = append(out, PlayStats{
			PlayID:     p.PlayID,
			SessionID:  p.SessionID,
			Day:        p.Day,
			Count:      p.Count,
			PlayType:   p.PlayType,
			Cumulative: p.Cumulative,
		})
	}
	return out, nil
}

// Summary is a student's practice overview.
type Summary struct {
	StudentID     string     `json:"student_id"`
	Sessions      int        `json:"sessions"`
	TotalMinutes  int64      `json:"total_minutes"`
	Songs         int        `json:"songs"`
	TotalPlays    int64      `json:"total_plays"`
	GoalsReached  int        `json:"goals_reached"`
	FirstDay      model.Date `json:"first_day,omitempty"`
	LastDay       model.Date `json:"last_day,omitempty"`
	LongestStreak int        `json:"longest_streak"`
}

// PracticeSummary totals a student's sessions and songs. The streak is the
// longest run of consecutive calendar days with at least one session.
func (l *Ledger) PracticeSummary(ctx context.Context, studentID string) (Summary, error) {
	if _, err := l.store.Student(ctx, studentID); err != nil {
		return Summary{}, err
	}
	sum := Summary{StudentID: studentID}

	sessions, err := l.store.SessionsByDay(ctx, studentID)
	if err != nil {
		return Summary{}, err
	}
	sum.Sessions = len(sessions)
	var days []model.Date
	for i := len(sessions) - 1; i >= 0; i-- { // oldest first
		s := sessions[i]
		sum.TotalMinutes += s.DurationMinutes
		if !s.Day.IsZero() {
			days = append(days, s.Day)
		}
	}
	if len(days) > 0 {
		sum.FirstDay, sum.LastDay = days[0], days[len(days)-1]
	}
	sum.LongestStreak = longestStreak(days)

	songs, err := l.store.SongsByTitle(ctx, studentID)
	if err != nil {
		return Summary{}, err
	}
	sum.Songs = len(songs)
	for _, song := range songs {
		snap, err := l.engine.Snapshot(ctx, song.ID)
		if err != nil {
			return Summary{}, err
		}
		sum.TotalPlays += snap.TotalPlayCount
		if snap.GoalPlays > 0 && snap.Progress >= 1.0 {
			sum.GoalsReached++
		}
	}
	return sum, nil
}

// longestStreak counts the longest run of consecutive days in an ascending
// list. Repeated days count once.
func longestStreak(days []model.Date) int {
	best, run := 0, 0
	var prev time.Time
	for i, d := range days {
		t := d.Time()
		switch {
		case i > 0 && t.Equal(prev):
			continue
		case i > 0 && t.Equal(prev.AddDate(0, 0, 1)):
			run++
		default:
			run = 1
		}
		prev = t
		best = max(best, run)
	}
	return best
}
