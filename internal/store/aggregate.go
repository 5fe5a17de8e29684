package store

import (
	"context"
	"fmt"

	"github.com/roach88/etude/internal/model"
)

// PlayRow is one play of a song with the session data aggregation needs.
type PlayRow struct {
	PlayID     string
	SessionID  string
	Count      int64
	PlayType   model.PlayType
	CreatedSeq int64

	// Day is the session's day. Absent when the session has no day or the
	// session does not exist.
	Day model.Date

	// SessionFound is false for a play whose session is not live.
	SessionFound bool
}

// SongPlays is a consistent read of one song and all of its plays.
type SongPlays struct {
	Song  model.Song
	Found bool // false if the song is not live
	Plays []PlayRow
}

// SongPlays reads a song and its plays in a single transaction so the
// result never mixes two committed states. Plays are returned in creation
// order; callers apply their own ordering.
func (s *Store) SongPlays(ctx context.Context, songID string) (SongPlays, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SongPlays{}, fmt.Errorf("begin read: %w", err)
	}
	defer tx.Rollback()

	var out SongPlays
	rec, found, err := loadRecord(ctx, tx, songID)
	if err != nil {
		return SongPlays{}, err
	}
	if found && rec.Kind == model.KindSong {
		out.Song = rec.Song()
		out.Found = true
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT p.id, p.session_id, p.count, p.play_type, e.created_seq,
		       COALESCE(ss.day, ''), ss.id IS NOT NULL
		FROM plays p
		JOIN entities e ON e.id = p.id
		LEFT JOIN sessions ss ON ss.id = p.session_id
		WHERE p.song_id = ?
		ORDER BY e.created_seq ASC, p.id ASC
	`, songID)
	if err != nil {
		return SongPlays{}, fmt.Errorf("query plays of %s: %w", songID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var r PlayRow
		var playType, day string
		if err := rows.Scan(&r.PlayID, &r.SessionID, &r.Count, &playType, &r.CreatedSeq, &day, &r.SessionFound); err != nil {
			return SongPlays{}, fmt.Errorf("scan play: %w", err)
		}
		r.PlayType = model.PlayType(playType)
		r.Day = model.Date(day)
		out.Plays = append(out.Plays, r)
	}
	if err := rows.Err(); err != nil {
		return SongPlays{}, fmt.Errorf("iterate plays: %w", err)
	}
	return out, nil
}

// SongsOfPlays maps each live play id to its song id. Ids that are not
// live plays are omitted.
func (s *Store) SongsOfPlays(ctx context.Context, playIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(playIDs))
	for _, id := range playIDs {
		var songID string
		err := s.db.QueryRowContext(ctx, `SELECT song_id FROM plays WHERE id = ?`, id).Scan(&songID)
		if err == nil {
			out[id] = songID
			continue
		}
		if !isNoRows(err) {
			return nil, fmt.Errorf("song of play %s: %w", id, err)
		}
	}
	return out, nil
}

// SongsInSession returns the distinct songs played in a session.
func (s *Store) SongsInSession(ctx context.Context, sessionID string) ([]string, error) {
	return queryIDs(ctx, s.db, `
		SELECT DISTINCT song_id FROM plays WHERE session_id = ? ORDER BY song_id ASC
	`, sessionID)
}
