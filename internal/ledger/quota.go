package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/etude/internal/model"
)

// ErrQuotaExceeded is matched by errors.Is for every QuotaExceededError.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Entitlements decides whether a student may create more of a kind.
// Consulted before CreateSession and CreateSong.
type Entitlements interface {
	Allow(ctx context.Context, studentID string, k model.Kind) error
}

// UsageSource reads a student's creation counters.
// Implemented by *store.Store.
type UsageSource interface {
	Usage(ctx context.Context, studentID string) (model.UsageCounters, error)
}

// Limits caps per-student creations. Zero means unlimited.
type Limits struct {
	MaxSessions int64
	MaxSongs    int64
}

// Unlimited allows everything.
type Unlimited struct{}

// Allow implements Entitlements.
func (Unlimited) Allow(context.Context, string, model.Kind) error { return nil }

// QuotaEntitlements enforces Limits against the stored usage counters.
//
// Counters only ever grow: deleting a session does not give its slot back.
//
// The check reads the counters in its own transaction, separate from the
// create that follows. Concurrent creates for one student can each pass
// the check and together overshoot the limit by up to the number of
// concurrent callers.
type QuotaEntitlements struct {
	usage  UsageSource
	limits Limits
}

// NewQuotaEntitlements creates a quota check over usage.
func NewQuotaEntitlements(usage UsageSource, limits Limits) *QuotaEntitlements {
	return &QuotaEntitlements{usage: usage, limits: limits}
}

// Allow implements Entitlements.
//
// Returns a *QuotaExceededError when one more k would pass the limit.
func (q *QuotaEntitlements) Allow(ctx context.Context, studentID string, k model.Kind) error {
	var limit int64
	switch k {
	case model.KindSession:
		limit = q.limits.MaxSessions
	case model.KindSong:
		limit = q.limits.MaxSongs
	default:
		return nil
	}
	if limit <= 0 {
		return nil
	}

	u, err := q.usage.Usage(ctx, studentID)
	if err != nil {
		return fmt.Errorf("check quota: %w", err)
	}
	used := u.SongsCreated
	if k == model.KindSession {
		used = u.SessionsCreated
	}
	if used >= limit {
		return &QuotaExceededError{StudentID: studentID, Kind: k, Used: used, Limit: limit}
	}
	return nil
}

// Limits returns the configured limits.
func (q *QuotaEntitlements) Limits() Limits {
	return q.limits
}

// QuotaExceededError is returned when a student has used up a quota.
type QuotaExceededError struct {
	StudentID string
	Kind      model.Kind
	Used      int64 // creations so far
	Limit     int64
}

// Error implements the error interface.
func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("student %s exceeded %s quota: %d of %d used",
		e.StudentID, e.Kind, e.Used, e.Limit)
}

// Unwrap lets errors.Is match ErrQuotaExceeded.
func (e *QuotaExceededError) Unwrap() error {
	return ErrQuotaExceeded
}

// IsQuotaExceededError returns true if the error is a QuotaExceededError.
// Uses errors.As to handle wrapped errors.
func IsQuotaExceededError(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}
