package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/etude/internal/model"
)

type fixedUsage map[string]model.UsageCounters

func (f fixedUsage) Usage(_ context.Context, id string) (model.UsageCounters, error) {
	return f[id], nil
}

type failingUsage struct{}

func (failingUsage) Usage(context.Context, string) (model.UsageCounters, error) {
	return model.UsageCounters{}, errors.New("disk on fire")
}

// TestQuotaEntitlements_WithinLimit tests normal operation within quota.
func TestQuotaEntitlements_WithinLimit(t *testing.T) {
	q := NewQuotaEntitlements(fixedUsage{
		"s1": {SessionsCreated: 4, SongsCreated: 1},
	}, Limits{MaxSessions: 5, MaxSongs: 2})

	assert.NoError(t, q.Allow(context.Background(), "s1", model.KindSession))
	assert.NoError(t, q.Allow(context.Background(), "s1", model.KindSong))
	assert.Equal(t, Limits{MaxSessions: 5, MaxSongs: 2}, q.Limits())
}

// TestQuotaEntitlements_ExceedsLimit tests quota exceeded error.
func TestQuotaEntitlements_ExceedsLimit(t *testing.T) {
	q := NewQuotaEntitlements(fixedUsage{
		"s1": {SessionsCreated: 5},
	}, Limits{MaxSessions: 5})

	err := q.Allow(context.Background(), "s1", model.KindSession)
	require.Error(t, err)

	var quotaErr *QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, "s1", quotaErr.StudentID)
	assert.Equal(t, model.KindSession, quotaErr.Kind)
	assert.Equal(t, int64(5), quotaErr.Used)
	assert.Equal(t, int64(5), quotaErr.Limit)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

// TestQuotaEntitlements_ZeroIsUnlimited tests that a zero limit never blocks.
func TestQuotaEntitlements_ZeroIsUnlimited(t *testing.T) {
	q := NewQuotaEntitlements(fixedUsage{
		"s1": {SessionsCreated: 10000, SongsCreated: 10000},
	}, Limits{})

	assert.NoError(t, q.Allow(context.Background(), "s1", model.KindSession))
	assert.NoError(t, q.Allow(context.Background(), "s1", model.KindSong))
}

// TestQuotaEntitlements_UncountedKinds tests kinds without a quota.
func TestQuotaEntitlements_UncountedKinds(t *testing.T) {
	q := NewQuotaEntitlements(failingUsage{}, Limits{MaxSessions: 1, MaxSongs: 1})

	for _, k := range []model.Kind{model.KindPlay, model.KindNote, model.KindInstructor} {
		assert.NoError(t, q.Allow(context.Background(), "s1", k), k)
	}
}

// TestQuotaEntitlements_UsageError tests that storage errors propagate.
func TestQuotaEntitlements_UsageError(t *testing.T) {
	q := NewQuotaEntitlements(failingUsage{}, Limits{MaxSongs: 1})

	err := q.Allow(context.Background(), "s1", model.KindSong)
	require.Error(t, err)
	assert.False(t, IsQuotaExceededError(err))
	assert.Contains(t, err.Error(), "disk on fire")
}

// TestQuotaExceededError_Error tests error message formatting.
func TestQuotaExceededError_Error(t *testing.T) {
	err := &QuotaExceededError{
		StudentID: "stu-1",
		Kind:      model.KindSong,
		Used:      3,
		Limit:     3,
	}

	msg := err.Error()
	assert.Contains(t, msg, "stu-1")
	assert.Contains(t, msg, "song")
	assert.Contains(t, msg, "3 of 3")
}

// TestIsQuotaExceededError tests the error type checker.
func TestIsQuotaExceededError(t *testing.T) {
	err := &QuotaExceededError{StudentID: "s", Kind: model.KindSession, Used: 1, Limit: 1}
	assert.True(t, IsQuotaExceededError(err))

	wrapped := fmt.Errorf("create session: %w", err)
	assert.True(t, IsQuotaExceededError(wrapped))

	assert.False(t, IsQuotaExceededError(errors.New("other")))
	assert.False(t, IsQuotaExceededError(nil))
}

func TestUnlimited(t *testing.T) {
	assert.NoError(t, Unlimited{}.Allow(context.Background(), "s", model.KindSong))
}
