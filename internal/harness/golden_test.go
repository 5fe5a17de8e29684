package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// To regenerate golden files after an intended change:
//
//	go test ./internal/harness -run Golden -update
func TestRunWithGolden_Minimal(t *testing.T) {
	scenario := parse(t, `
name: golden_minimal
description: "one play of one song"
setup:
  - do: create_student
    args: { name: "Ada" }
    as: ada
  - do: create_song
    args: { student_id: "$ada", title: "Minuet", goal_plays: 4 }
    as: minuet
  - do: create_session
    args: { student_id: "$ada", day: "2024-03-01" }
    as: s1
flow:
  - do: record_play
    args: { song_id: "$minuet", session_id: "$s1", count: 3, play_type: "practice" }
assertions:
  - type: cumulative
    song: "$minuet"
    play_type: practice
    sequence: [3]
`)

	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestSnapshot_Marshal(t *testing.T) {
	result := NewResult()
	result.addStep("create_student", map[string]any{"name": "Ada"}, CaseOK, "h-0001")

	data, err := NewSnapshot("tiny", result).Marshal()
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"tiny","songs":[],"trace":[{"action":"create_student","args":{"name":"Ada"},"case":"ok","id":"h-0001","seq":1,"type":"step"}]}`,
		string(data))
}

func TestSnapshot_RejectsFloats(t *testing.T) {
	result := NewResult()
	result.addStep("record_play", map[string]any{"count": 1.5}, CaseValidation, "")

	_, err := NewSnapshot("floats", result).Marshal()
	require.Error(t, err)
}
