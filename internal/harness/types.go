package harness

import "github.com/roach88/etude/internal/model"

// Trace event types.
const (
	EventStep   = "step"
	EventChange = "change"
)

// TraceEvent is either one executed step or one change event the notifier
// delivered while the step ran.
type TraceEvent struct {
	Type string `json:"type"`
	Seq  int64  `json:"seq"`

	// step fields
	Action string         `json:"action,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
	Case   string         `json:"case,omitempty"`
	ID     string         `json:"id,omitempty"`

	// change fields
	Kind   model.Kind       `json:"kind,omitempty"`
	Change model.ChangeType `json:"change,omitempty"`
	IDs    []string         `json:"ids,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace lists steps and change events in the order they happened.
	Trace []TraceEvent `json:"trace"`

	// Errors holds one message per failed expectation.
	Errors []string `json:"errors,omitempty"`

	// Songs holds the final aggregates of every song, ordered by id.
	Songs []map[string]any `json:"songs,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addStep(action string, args map[string]any, outcome, id string) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   EventStep,
		Seq:    int64(len(r.Trace) + 1),
		Action: action,
		Args:   args,
		Case:   outcome,
		ID:     id,
	})
}

func (r *Result) addChange(e model.ChangeEvent) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   EventChange,
		Seq:    int64(len(r.Trace) + 1),
		Kind:   e.Kind,
		Change: e.Type,
		IDs:    append([]string(nil), e.IDs...),
	})
}
