package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/etude/internal/model"
)

// GoldenDir holds golden files relative to the test's package.
const GoldenDir = "testdata/golden"

// Snapshot captures everything a scenario produced that must not drift:
// the trace and the final aggregates of every song.
type Snapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Songs        []map[string]any
}

// NewSnapshot builds the golden snapshot of a result.
func NewSnapshot(name string, result *Result) Snapshot {
	return Snapshot{ScenarioName: name, Trace: result.Trace, Songs: result.Songs}
}

// toCanonicalMap converts a Snapshot to a map[string]any for canonical JSON.
// This is required because model.MarshalCanonical only handles primitives,
// slices and maps.
func (s Snapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		m := map[string]any{
			"type": event.Type,
			"seq":  event.Seq,
		}
		if event.Action != "" {
			m["action"] = event.Action
		}
		if len(event.Args) > 0 {
			m["args"] = event.Args
		}
		if event.Case != "" {
			m["case"] = event.Case
		}
		if event.ID != "" {
			m["id"] = event.ID
		}
		if event.Kind != "" {
			m["kind"] = string(event.Kind)
		}
		if event.Change != "" {
			m["change"] = string(event.Change)
		}
		if len(event.IDs) > 0 {
			m["ids"] = event.IDs
		}
		trace[i] = m
	}

	songs := make([]any, len(s.Songs))
	for i, song := range s.Songs {
		songs[i] = song
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
		"songs":         songs,
	}
}

// Marshal renders the snapshot as canonical JSON.
func (s Snapshot) Marshal() ([]byte, error) {
	return model.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := NewSnapshot(scenarioName, result).Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
