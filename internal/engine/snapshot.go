package engine

import (
	"slices"

	"github.com/roach88/etude/internal/model"
	"github.com/roach88/etude/internal/store"
)

// Snapshot is the complete set of aggregates for one song, computed from a
// single consistent read of its plays. Snapshots are immutable once
// published.
type Snapshot struct {
	SongID string

	// Gen is the invalidation generation the snapshot was computed for.
	Gen uint64

	// Found is false if the song does not exist. All aggregates are zero.
	Found bool
	Title string

	TotalPlayCount     int64
	TotalGoalPlayCount int64

	// LastPlayedDate is the latest session day among the plays, or absent
	// if no play has a dated session.
	LastPlayedDate model.Date

	GoalPlays int64
	Progress  float64

	// TypeTotals is the sum of count per play type.
	TypeTotals map[model.PlayType]int64

	// Order lists each play type's plays in aggregation order: session day
	// ascending (absent first), then creation order, then id.
	Order map[model.PlayType][]string

	// Cumulative maps each included play to its running total within its
	// play type.
	Cumulative map[string]int64

	// History lists every included play chronologically across play
	// types, with the same tie-break as Order.
	History []PlayEntry

	// Excluded lists plays left out of the aggregates.
	Excluded []Exclusion

	// plays and sessions are every play and session seen, for the
	// invalidation index.
	plays    []string
	sessions []string
}

// PlayEntry is one included play as read for the snapshot.
type PlayEntry struct {
	PlayID     string
	SessionID  string
	Day        model.Date
	Count      int64
	PlayType   model.PlayType
	Cumulative int64
}

// CumulativeCount returns the running total for playID within its type.
func (s *Snapshot) CumulativeCount(playID string) (int64, bool) {
	n, ok := s.Cumulative[playID]
	return n, ok
}

// Sequence returns the cumulative counts of one play type in order.
func (s *Snapshot) Sequence(t model.PlayType) []int64 {
	ids := s.Order[t]
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = s.Cumulative[id]
	}
	return out
}

// Equal reports whether two snapshots hold the same aggregates. The
// generation is ignored.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.SongID != o.SongID || s.Found != o.Found || s.Title != o.Title ||
		s.TotalPlayCount != o.TotalPlayCount ||
		s.TotalGoalPlayCount != o.TotalGoalPlayCount ||
		s.LastPlayedDate != o.LastPlayedDate ||
		s.GoalPlays != o.GoalPlays || s.Progress != o.Progress {
		return false
	}
	if len(s.Order) != len(o.Order) || len(s.Cumulative) != len(o.Cumulative) {
		return false
	}
	for t, ids := range s.Order {
		if !slices.Equal(ids, o.Order[t]) {
			return false
		}
	}
	for id, n := range s.Cumulative {
		if o.Cumulative[id] != n {
			return false
		}
	}
	return slices.Equal(s.History, o.History) && slices.Equal(s.Excluded, o.Excluded)
}

// compute derives a snapshot from one consistent read of a song's plays.
func compute(songID string, sp store.SongPlays) *Snapshot {
	snap := &Snapshot{
		SongID:     songID,
		Found:      sp.Found,
		Title:      sp.Song.Title,
		GoalPlays:  sp.Song.GoalPlays,
		TypeTotals: map[model.PlayType]int64{},
		Order:      map[model.PlayType][]string{},
		Cumulative: map[string]int64{},
	}

	groups := map[model.PlayType][]store.PlayRow{}
	var included []store.PlayRow
	sessions := map[string]struct{}{}
	for _, row := range sp.Plays {
		snap.plays = append(snap.plays, row.PlayID)
		if row.SessionID != "" {
			sessions[row.SessionID] = struct{}{}
		}

		ref := playRef{PlayID: row.PlayID, SessionID: row.SessionID}
		switch {
		case !sp.Found:
			snap.Excluded = append(snap.Excluded, songMissing(ref, songID))
			continue
		case !row.SessionFound:
			snap.Excluded = append(snap.Excluded, sessionMissing(ref))
			continue
		}
		groups[row.PlayType] = append(groups[row.PlayType], row)
		included = append(included, row)
	}
	for id := range sessions {
		snap.sessions = append(snap.sessions, id)
	}
	slices.Sort(snap.sessions)

	for t, rows := range groups {
		slices.SortFunc(rows, comparePlays)

		var running int64
		ids := make([]string, len(rows))
		for i, row := range rows {
			running += row.Count
			snap.Cumulative[row.PlayID] = running
			ids[i] = row.PlayID

			if row.Day != "" && row.Day.Compare(snap.LastPlayedDate) > 0 {
				snap.LastPlayedDate = row.Day
			}
		}
		snap.Order[t] = ids
		snap.TypeTotals[t] = running
		snap.TotalPlayCount += running
		if t == model.StatusPractice {
			snap.TotalGoalPlayCount = running
		}
	}

	slices.SortFunc(included, comparePlays)
	snap.History = make([]PlayEntry, len(included))
	for i, row := range included {
		snap.History[i] = PlayEntry{
			PlayID:     row.PlayID,
			SessionID:  row.SessionID,
			Day:        row.Day,
			Count:      row.Count,
			PlayType:   row.PlayType,
			Cumulative: snap.Cumulative[row.PlayID],
		}
	}

	if snap.GoalPlays > 0 {
		snap.Progress = min(float64(snap.TotalGoalPlayCount)/float64(snap.GoalPlays), 1.0)
	}
	return snap
}

// comparePlays orders plays chronologically with a total tie-break.
func comparePlays(a, b store.PlayRow) int {
	if c := a.Day.Compare(b.Day); c != 0 {
		return c
	}
	if a.CreatedSeq != b.CreatedSeq {
		if a.CreatedSeq < b.CreatedSeq {
			return -1
		}
		return 1
	}
	switch {
	case a.PlayID < b.PlayID:
		return -1
	case a.PlayID > b.PlayID:
		return 1
	default:
		return 0
	}
}
