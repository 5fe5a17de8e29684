package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenario = `
name: test_scenario
description: "Test scenario for validation"
setup:
  - do: create_student
    args: { name: "Ada" }
    as: ada
flow:
  - do: create_song
    args: { student_id: "$ada", title: "Minuet" }
    expect: { case: ok }
assertions:
  - type: trace_contains
    action: create_song
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validScenario), 0644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	require.Len(t, scenario.Setup, 1)
	assert.Equal(t, "ada", scenario.Setup[0].As)
	require.Len(t, scenario.Flow, 1)
	assert.Equal(t, "create_song", scenario.Flow[0].Do)
	assert.Equal(t, "$ada", scenario.Flow[0].Args["student_id"])
	assert.Equal(t, CaseOK, scenario.Flow[0].Expect.Case)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(validScenario + "\nassertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: `
description: d
flow: [{do: create_student, args: {name: A}}]
assertions: [{type: trace_count, action: create_student, count: 1}]
`,
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: `
name: n
flow: [{do: create_student, args: {name: A}}]
assertions: [{type: trace_count, action: create_student, count: 1}]
`,
			want: "description is required",
		},
		{
			name: "empty flow",
			yaml: `
name: n
description: d
flow: []
assertions: [{type: trace_count, action: create_student, count: 1}]
`,
			want: "flow list is required",
		},
		{
			name: "no assertions",
			yaml: `
name: n
description: d
flow: [{do: create_student, args: {name: A}}]
`,
			want: "assertions list is required",
		},
		{
			name: "unknown action",
			yaml: `
name: n
description: d
flow: [{do: create_piano, args: {}}]
assertions: [{type: trace_count, action: create_piano, count: 1}]
`,
			want: `unknown action "create_piano"`,
		},
		{
			name: "missing args",
			yaml: `
name: n
description: d
flow: [{do: create_student}]
assertions: [{type: trace_count, action: create_student, count: 1}]
`,
			want: "args is required",
		},
		{
			name: "unknown case",
			yaml: `
name: n
description: d
flow: [{do: create_student, args: {}, expect: {case: Success}}]
assertions: [{type: trace_count, action: create_student, count: 1}]
`,
			want: `unknown case "Success"`,
		},
		{
			name: "failing setup",
			yaml: `
name: n
description: d
setup: [{do: create_student, args: {}, expect: {case: validation}}]
flow: [{do: create_student, args: {name: A}}]
assertions: [{type: trace_count, action: create_student, count: 1}]
`,
			want: "setup steps must succeed",
		},
		{
			name: "unknown assertion",
			yaml: `
name: n
description: d
flow: [{do: create_student, args: {name: A}}]
assertions: [{type: vibes}]
`,
			want: `unknown assertion type "vibes"`,
		},
		{
			name: "cumulative without play type",
			yaml: `
name: n
description: d
flow: [{do: create_student, args: {name: A}}]
assertions: [{type: cumulative, song: "$s"}]
`,
			want: "song and play_type are required",
		},
		{
			name: "final state without expect",
			yaml: `
name: n
description: d
flow: [{do: create_student, args: {name: A}}]
assertions: [{type: final_state, table: plays}]
`,
			want: "expect is required for final_state",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestScenarioFiles_Parse(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, path := range files {
		t.Run(filepath.Base(path), func(t *testing.T) {
			_, err := LoadScenario(path)
			require.NoError(t, err)
		})
	}
}
