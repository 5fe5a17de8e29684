package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/etude/internal/model"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("engine closed")

// Exclusion records a play left out of a song's aggregates.
type Exclusion struct {
	PlayID    string
	SessionID string
	Reason    string
}

// Err returns the exclusion as an INCONSISTENT_REFERENCE error for logging.
func (x Exclusion) Err() *model.Error {
	return model.NewInconsistentReferenceError(model.KindPlay, x.PlayID, x.Reason)
}

func sessionMissing(row playRef) Exclusion {
	return Exclusion{
		PlayID:    row.PlayID,
		SessionID: row.SessionID,
		Reason:    fmt.Sprintf("session %q not found", row.SessionID),
	}
}

func songMissing(row playRef, songID string) Exclusion {
	return Exclusion{
		PlayID:    row.PlayID,
		SessionID: row.SessionID,
		Reason:    fmt.Sprintf("song %q not found", songID),
	}
}

// playRef is the subset of a play row needed to describe an exclusion.
type playRef struct {
	PlayID    string
	SessionID string
}
