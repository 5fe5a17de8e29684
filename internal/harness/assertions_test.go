package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/etude/internal/model"
)

func sampleTrace() []TraceEvent {
	r := NewResult()
	r.addStep("create_student", map[string]any{"name": "Ada"}, CaseOK, "h-0001")
	r.addChange(model.ChangeEvent{Kind: model.KindStudent, Type: model.ChangeInsert, IDs: []string{"h-0001"}})
	r.addStep("create_session", map[string]any{"student_id": "$ada", "day": "2024-03-01"}, CaseOK, "h-0002")
	r.addStep("record_play", map[string]any{"count": 3}, CaseOK, "h-0003")
	r.addStep("record_play", map[string]any{"count": 5}, CaseOK, "h-0004")
	r.addChange(model.ChangeEvent{Kind: model.KindPlay, Type: model.ChangeInsert, IDs: []string{"h-0003", "h-0004"}})
	return r.Trace
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Action: "record_play", Args: map[string]any{"count": 5}}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Action: "create_session"}))

	err := assertTraceContains(trace, Assertion{Action: "record_play", Args: map[string]any{"count": 7}})
	require.Error(t, err)
	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, AssertTraceContains, aerr.Type)
	assert.Contains(t, err.Error(), "Full trace:")
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Actions: []string{"create_student", "record_play"}}))

	err := assertTraceOrder(trace, Assertion{Actions: []string{"record_play", "create_student"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should be before")

	err = assertTraceOrder(trace, Assertion{Actions: []string{"create_student", "delete_song"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing action: delete_song")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "record_play", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "delete_song", Count: 0}))
	assert.Error(t, assertTraceCount(trace, Assertion{Action: "record_play", Count: 1}))
}

func TestAssertChangeCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertChangeCount(trace, Assertion{Kind: "play", Change: "insert", Count: 2}))
	assert.NoError(t, assertChangeCount(trace, Assertion{Kind: "student", Change: "insert", Count: 1}))
	assert.NoError(t, assertChangeCount(trace, Assertion{Kind: "song", Change: "delete", Count: 0}))
	assert.Error(t, assertChangeCount(trace, Assertion{Kind: "play", Change: "insert", Count: 1}))
}

func TestEvaluateAssertions_StateNeedsHarness(t *testing.T) {
	result := &Result{Trace: sampleTrace()}
	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Action: "record_play", Count: 2},
		{Type: AssertSongStats, Song: "$minuet", Expect: map[string]any{"total_play_count": 8}},
	}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "requires a harness context")
}

func TestBuildWhereClause(t *testing.T) {
	sql, args, err := buildWhereClause(map[string]any{"song_id": "h-0002", "count": 3})
	require.NoError(t, err)
	assert.Equal(t, "count = ? AND song_id = ?", sql)
	assert.Equal(t, []any{3, "h-0002"}, args)

	sql, args, err = buildWhereClause(nil)
	require.NoError(t, err)
	assert.Empty(t, sql)
	assert.Nil(t, args)
}

func TestBuildWhereClause_RejectsInjection(t *testing.T) {
	for _, key := range []string{"id; DROP TABLE plays", "1id", "song-id", ""} {
		_, _, err := buildWhereClause(map[string]any{key: "x"})
		assert.Error(t, err, key)
	}
}

func TestFormatWhereClause(t *testing.T) {
	assert.Equal(t, "(no conditions)", formatWhereClause(nil))
	assert.Equal(t, "a=1 AND b=x", formatWhereClause(map[string]any{"b": "x", "a": 1}))
}

func TestStateValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		expected any
		actual   any
		want     bool
	}{
		{"string", "learning", "learning", true},
		{"bytes as string", "learning", []byte("learning"), true},
		{"string mismatch", "learning", "review", false},
		{"int vs int64", 3, int64(3), true},
		{"int64", int64(3), int64(4), false},
		{"bool from integer", true, int64(1), true},
		{"false from integer", false, int64(0), true},
		{"nil both", nil, nil, true},
		{"nil one side", nil, "x", false},
		{"int vs string", 3, "3", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stateValuesEqual(tt.expected, tt.actual))
		})
	}
}

func TestMatchFields(t *testing.T) {
	actual := map[string]any{
		"total_play_count": int64(10),
		"progress":         "0.5000",
		"type_totals":      map[string]any{"practice": int64(10)},
	}

	assert.NoError(t, matchFields(AssertSongStats, actual, map[string]any{
		"total_play_count": 10,
		"type_totals":      map[string]any{"practice": 10},
	}))

	err := matchFields(AssertSongStats, actual, map[string]any{"progress": "1.0000"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "progress" = 1.0000`)

	err = matchFields(AssertSongStats, actual, map[string]any{"streak": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestMatchArgs(t *testing.T) {
	actual := map[string]any{"song_id": "$minuet", "count": 3}
	assert.True(t, matchArgs(actual, nil))
	assert.True(t, matchArgs(actual, map[string]any{"count": int64(3)}))
	assert.False(t, matchArgs(actual, map[string]any{"count": 4}))
	assert.False(t, matchArgs(actual, map[string]any{"session_id": "$s1"}))
}
