package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of ledger commands followed by checks
// against the resulting trace, aggregates and tables.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Quota limits student creations; zero fields are unlimited.
	Quota Quota `yaml:"quota,omitempty"`

	// Setup steps establish initial state. Each must succeed.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow is the behavior under test.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Quota mirrors ledger.Limits.
type Quota struct {
	MaxSessions int64 `yaml:"max_sessions"`
	MaxSongs    int64 `yaml:"max_songs"`
}

// Step runs one action.
//
// Args are the command's fields by their JSON names. A string value of the
// form "$name" is replaced by the id an earlier step bound with As.
type Step struct {
	Do     string         `yaml:"do"`
	Args   map[string]any `yaml:"args"`
	As     string         `yaml:"as,omitempty"`
	Expect *ExpectClause  `yaml:"expect,omitempty"`
}

// ExpectClause names the expected outcome of a step.
type ExpectClause struct {
	// Case is "ok" or one of the error cases: not_found, validation,
	// quota_exceeded, already_shared, precondition.
	Case string `yaml:"case"`
}

// Outcome cases.
const (
	CaseOK            = "ok"
	CaseNotFound      = "not_found"
	CaseValidation    = "validation"
	CaseQuotaExceeded = "quota_exceeded"
	CaseAlreadyShared = "already_shared"
	CasePrecondition  = "precondition"
	CaseError         = "error"
)

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action and Args select steps (trace_contains, trace_order, trace_count).
	Action  string         `yaml:"action,omitempty"`
	Args    map[string]any `yaml:"args,omitempty"`
	Actions []string       `yaml:"actions,omitempty"`

	// Kind and Change select change events (change_count).
	Kind   string `yaml:"kind,omitempty"`
	Change string `yaml:"change,omitempty"`

	// Count is the expected number of matches (trace_count, change_count).
	Count int `yaml:"count,omitempty"`

	// Table and Where select a row (final_state).
	Table string         `yaml:"table,omitempty"`
	Where map[string]any `yaml:"where,omitempty"`

	// Song, Student and ID select an entity (song_stats, cumulative,
	// deterministic, summary, partition).
	Song    string `yaml:"song,omitempty"`
	Student string `yaml:"student,omitempty"`
	ID      string `yaml:"id,omitempty"`

	// PlayType and Sequence check cumulative counts (cumulative).
	PlayType string  `yaml:"play_type,omitempty"`
	Sequence []int64 `yaml:"sequence,omitempty"`

	// Partition is the expected partition (partition).
	Partition string `yaml:"partition,omitempty"`

	// Expect holds expected field values, subset matched (final_state,
	// song_stats, summary).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertChangeCount   = "change_count"
	AssertFinalState    = "final_state"
	AssertSongStats     = "song_stats"
	AssertCumulative    = "cumulative"
	AssertDeterministic = "deterministic"
	AssertSummary       = "summary"
	AssertPartition     = "partition"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches typos like "assertion:" vs "assertions:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if err := validateStep(fmt.Sprintf("setup[%d]", i), step); err != nil {
			return err
		}
		if step.Expect != nil && step.Expect.Case != CaseOK {
			return fmt.Errorf("setup[%d]: setup steps must succeed", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(fmt.Sprintf("flow[%d]", i), step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(where string, step Step) error {
	if step.Do == "" {
		return fmt.Errorf("%s: do is required", where)
	}
	if _, ok := actions[step.Do]; !ok {
		return fmt.Errorf("%s: unknown action %q", where, step.Do)
	}
	if step.Args == nil {
		return fmt.Errorf("%s: args is required (use empty map if no args)", where)
	}
	if step.Expect != nil {
		switch step.Expect.Case {
		case CaseOK, CaseNotFound, CaseValidation, CaseQuotaExceeded, CaseAlreadyShared, CasePrecondition, CaseError:
		case "":
			return fmt.Errorf("%s.expect: case is required", where)
		default:
			return fmt.Errorf("%s.expect: unknown case %q", where, step.Expect.Case)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertChangeCount:
		if a.Kind == "" || a.Change == "" {
			return fmt.Errorf("assertions[%d]: kind and change are required for change_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for change_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertSongStats:
		if a.Song == "" || len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: song and expect are required for song_stats", index)
		}
	case AssertCumulative:
		if a.Song == "" || a.PlayType == "" {
			return fmt.Errorf("assertions[%d]: song and play_type are required for cumulative", index)
		}
	case AssertDeterministic:
		if a.Song == "" {
			return fmt.Errorf("assertions[%d]: song is required for deterministic", index)
		}
	case AssertSummary:
		if a.Student == "" || len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: student and expect are required for summary", index)
		}
	case AssertPartition:
		if a.ID == "" || a.Partition == "" {
			return fmt.Errorf("assertions[%d]: id and partition are required for partition", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
