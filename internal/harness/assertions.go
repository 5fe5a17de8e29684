package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/etude/internal/model"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			if event.Type == EventStep {
				fmt.Fprintf(&buf, "  [%d] %s %v -> %s\n", event.Seq, event.Action, event.Args, event.Case)
			}
		}
	}

	return buf.String()
}

// AssertionContext provides what state assertions need.
type AssertionContext struct {
	Ctx     context.Context
	Harness *Harness
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertChangeCount:
			err = assertChangeCount(result.Trace, assertion)
		default:
			if actx == nil || actx.Harness == nil {
				err = fmt.Errorf("assertion[%d]: %s requires a harness context", i, assertion.Type)
				break
			}
			err = actx.Harness.assertState(actx.Ctx, assertion)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// assertTraceContains checks if the trace contains a step matching the
// specified action and args (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Type == EventStep && event.Action == assertion.Action {
			if matchArgs(event.Args, assertion.Args) {
				return nil
			}
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with args %v", assertion.Action, assertion.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if actions appear in the specified order.
// Actions don't need to be consecutive (intervening actions are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if event.Type != EventStep {
			continue
		}
		for _, expected := range assertion.Actions {
			if event.Action == expected && positions[expected] == 0 {
				positions[expected] = i + 1 // 1-indexed for readability
			}
		}
	}

	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Actions); i++ {
		prev := assertion.Actions[i-1]
		curr := assertion.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks if the action appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventStep && event.Action == assertion.Action {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertChangeCount counts the ids announced by change events of one kind
// and change type.
func assertChangeCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventChange &&
			string(event.Kind) == assertion.Kind &&
			string(event.Change) == assertion.Change {
			count += len(event.IDs)
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertChangeCount,
			Expected: fmt.Sprintf("%d %s %s changes", assertion.Count, assertion.Kind, assertion.Change),
			Actual:   fmt.Sprintf("%d changes", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertState dispatches the assertions that read the store or engine.
func (h *Harness) assertState(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertFinalState:
		return h.assertFinalState(ctx, a)
	case AssertSongStats:
		return h.assertSongStats(ctx, a)
	case AssertCumulative:
		return h.assertCumulative(ctx, a)
	case AssertDeterministic:
		return h.assertDeterministic(ctx, a)
	case AssertSummary:
		return h.assertSummary(ctx, a)
	case AssertPartition:
		return h.assertPartition(ctx, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func (h *Harness) assertSongStats(ctx context.Context, a Assertion) error {
	id, err := h.lookup(a.Song)
	if err != nil {
		return err
	}
	snap, err := h.engine.Snapshot(ctx, id)
	if err != nil {
		return err
	}
	return matchFields(AssertSongStats, snapshotView(snap), a.Expect)
}

func (h *Harness) assertCumulative(ctx context.Context, a Assertion) error {
	id, err := h.lookup(a.Song)
	if err != nil {
		return err
	}
	snap, err := h.engine.Snapshot(ctx, id)
	if err != nil {
		return err
	}
	got := snap.Sequence(model.PlayType(a.PlayType))
	want := a.Sequence
	if want == nil {
		want = []int64{}
	}
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertCumulative,
			Expected: fmt.Sprintf("%s sequence %v", a.PlayType, want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

// assertDeterministic recomputes a song twice from scratch and compares the
// results with the cached snapshot.
func (h *Harness) assertDeterministic(ctx context.Context, a Assertion) error {
	id, err := h.lookup(a.Song)
	if err != nil {
		return err
	}
	cached, err := h.engine.Snapshot(ctx, id)
	if err != nil {
		return err
	}
	for i := 0; i < 2; i++ {
		fresh, err := h.engine.Recompute(ctx, id)
		if err != nil {
			return err
		}
		if !fresh.Equal(cached) {
			return &AssertionError{
				Type:     AssertDeterministic,
				Expected: fmt.Sprintf("recompute %d of %s to match %v", i+1, id, snapshotView(cached)),
				Actual:   fmt.Sprintf("%v", snapshotView(fresh)),
			}
		}
	}
	return nil
}

func (h *Harness) assertSummary(ctx context.Context, a Assertion) error {
	id, err := h.lookup(a.Student)
	if err != nil {
		return err
	}
	summary, err := h.ledger.PracticeSummary(ctx, id)
	if err != nil {
		return err
	}
	actual, err := toMap(summary)
	if err != nil {
		return err
	}
	return matchFields(AssertSummary, actual, a.Expect)
}

func (h *Harness) assertPartition(ctx context.Context, a Assertion) error {
	id, err := h.lookup(a.ID)
	if err != nil {
		return err
	}
	p, err := h.router.PartitionOf(ctx, id)
	if err != nil {
		return err
	}
	if string(p) != a.Partition {
		return &AssertionError{
			Type:     AssertPartition,
			Expected: fmt.Sprintf("%s in %s", a.ID, a.Partition),
			Actual:   string(p),
		}
	}
	return nil
}

// assertFinalState checks that exactly one row of a table matches Where and
// carries the Expect values. Alias references in Where and Expect are
// resolved first.
//
// Security: Table and column names are validated against a whitelist pattern
// to prevent SQL injection via identifier interpolation.
func (h *Harness) assertFinalState(ctx context.Context, assertion Assertion) error {
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}
	where, err := h.resolve(assertion.Where)
	if err != nil {
		return err
	}
	expect, err := h.resolve(assertion.Expect)
	if err != nil {
		return err
	}

	whereSQL, whereArgs, err := buildWhereClause(where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := h.store.DB().QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]any, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	keys := make([]string, 0, len(expect))
	for k := range expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		expectedValue := expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}

	return nil
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML value to a SQL-compatible value.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, bool:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares expected and actual values from state tables.
// Handles type coercion for SQLite values which may be returned as different types.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}

	switch exp := expected.(type) {
	case string:
		actualStr, ok := actual.(string)
		return ok && exp == actualStr
	case int:
		return intEqual(int64(exp), actual)
	case int64:
		return intEqual(exp, actual)
	case bool:
		if actualBool, ok := actual.(bool); ok {
			return exp == actualBool
		}
		// SQLite stores booleans as integers
		if actualInt, ok := actual.(int64); ok {
			return exp == (actualInt != 0)
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}

func intEqual(exp int64, actual any) bool {
	switch a := actual.(type) {
	case int64:
		return exp == a
	case int:
		return exp == int64(a)
	case float64:
		return float64(exp) == a
	}
	return false
}

// matchFields checks that actual holds every expected key with an equal
// value. Numbers compare by value whatever their Go type.
func matchFields(kind string, actual, expected map[string]any) error {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		got, ok := actual[key]
		if !ok {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   "missing",
			}
		}
		if !looseEqual(expected[key], got) {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("field %q = %v", key, expected[key]),
				Actual:   fmt.Sprintf("field %q = %v", key, got),
			}
		}
	}
	return nil
}

// looseEqual compares via JSON so that YAML ints match int64 aggregates and
// nested maps compare structurally.
func looseEqual(expected, actual any) bool {
	e, err1 := json.Marshal(expected)
	a, err2 := json.Marshal(actual)
	if err1 != nil || err2 != nil {
		return false
	}
	var ev, av any
	if json.Unmarshal(e, &ev) != nil || json.Unmarshal(a, &av) != nil {
		return false
	}
	return reflect.DeepEqual(ev, av)
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// matchArgs checks if actual args contain all expected args (subset match).
// Extra keys in actual are ignored.
func matchArgs(actual, expected map[string]any) bool {
	for key, expectedVal := range expected {
		actualVal, exists := actual[key]
		if !exists {
			return false
		}
		if !looseEqual(expectedVal, actualVal) {
			return false
		}
	}
	return true
}
