package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/etude/internal/engine"
	"github.com/roach88/etude/internal/ledger"
	"github.com/roach88/etude/internal/model"
	"github.com/roach88/etude/internal/notify"
	"github.com/roach88/etude/internal/partition"
	"github.com/roach88/etude/internal/store"
	"github.com/roach88/etude/internal/testutil"
)

// IDPrefix prefixes every entity id a scenario creates.
const IDPrefix = "h"

// Harness executes one scenario against a fresh in-memory store.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	ledger  *ledger.Ledger
	router  *partition.Router
	logger  *zap.Logger
	aliases map[string]string

	// changes collects the events published while a step runs.
	changes []model.ChangeEvent
}

// RunOption configures Run.
type RunOption func(*runOptions)

type runOptions struct {
	logger *zap.Logger
}

// WithLogger routes component logs to l. Default: discarded.
func WithLogger(l *zap.Logger) RunOption {
	return func(o *runOptions) {
		o.logger = l
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with sequential ids and
// a deterministic clock, so identical scenarios produce identical traces.
// The returned error covers harness failures; scenario failures are
// reported in Result.Errors.
func Run(scenario *Scenario, opts ...RunOption) (*Result, error) {
	o := runOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	n := notify.New(notify.WithLogger(o.logger))
	st, err := store.Open(":memory:",
		store.WithPublisher(n),
		store.WithLogger(o.logger),
		store.WithIDGenerator(testutil.NewSequentialIDs(IDPrefix)))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	eng := engine.New(st, engine.WithLogger(o.logger))
	n.Subscribe(ctx, eng)

	var entitlements ledger.Entitlements = ledger.Unlimited{}
	if scenario.Quota.MaxSessions > 0 || scenario.Quota.MaxSongs > 0 {
		entitlements = ledger.NewQuotaEntitlements(st, ledger.Limits{
			MaxSessions: scenario.Quota.MaxSessions,
			MaxSongs:    scenario.Quota.MaxSongs,
		})
	}

	clock := testutil.NewDeterministicClock()
	h := &Harness{
		store: st,
		engine: eng,
		ledger: ledger.New(st, eng,
			ledger.WithEntitlements(entitlements),
			ledger.WithNow(clock.Now),
			ledger.WithLogger(o.logger)),
		router:  partition.New(st, partition.WithLogger(o.logger)),
		logger:  o.logger,
		aliases: make(map[string]string),
	}
	n.Subscribe(ctx, notify.Funcs{OnChange: func(_ context.Context, e model.ChangeEvent) {
		h.changes = append(h.changes, e)
	}})

	result := NewResult()
	for i, step := range scenario.Setup {
		id, err := h.execute(ctx, step, result)
		if err != nil {
			return nil, fmt.Errorf("setup[%d] %s: %w", i, step.Do, err)
		}
		h.bind(step, id)
	}

	for i, step := range scenario.Flow {
		id, err := h.execute(ctx, step, result)
		want := CaseOK
		if step.Expect != nil {
			want = step.Expect.Case
		}
		if got := caseOf(err); got != want {
			msg := fmt.Sprintf("flow[%d] %s: expected case %s, got %s", i, step.Do, want, got)
			if err != nil {
				msg += ": " + err.Error()
			}
			result.AddError(msg)
			continue
		}
		h.bind(step, id)
	}

	actx := &AssertionContext{Ctx: ctx, Harness: h}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	songs, err := h.songs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect aggregates: %w", err)
	}
	result.Songs = songs
	return result, nil
}

// execute runs one step and appends it, followed by the change events it
// caused, to the trace.
func (h *Harness) execute(ctx context.Context, step Step, result *Result) (string, error) {
	h.changes = h.changes[:0]

	args, err := h.resolve(step.Args)
	var id string
	if err == nil {
		id, err = actions[step.Do](ctx, h, args)
	}

	result.addStep(step.Do, step.Args, caseOf(err), id)
	for _, e := range h.changes {
		result.addChange(e)
	}

	h.logger.Debug("scenario step",
		zap.String("action", step.Do),
		zap.String("case", caseOf(err)),
		zap.String("id", id))
	return id, err
}

func (h *Harness) bind(step Step, id string) {
	if step.As != "" && id != "" {
		h.aliases[step.As] = id
	}
}

// lookup resolves "$alias" references; other strings pass through.
func (h *Harness) lookup(ref string) (string, error) {
	name, ok := strings.CutPrefix(ref, "$")
	if !ok {
		return ref, nil
	}
	id, ok := h.aliases[name]
	if !ok {
		return "", fmt.Errorf("unknown alias %q", ref)
	}
	return id, nil
}

func (h *Harness) resolve(args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		r, err := h.resolveValue(v)
		if err != nil {
			return nil, fmt.Errorf("arg %q: %w", k, err)
		}
		out[k] = r
	}
	return out, nil
}

func (h *Harness) resolveValue(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return h.lookup(val)
	case time.Time:
		return val.Format(time.DateOnly), nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			r, err := h.resolveValue(elem)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// songs returns every song's final aggregates in a golden-friendly shape.
// Progress is rendered with four decimals because canonical JSON carries
// no floats.
func (h *Harness) songs(ctx context.Context) ([]map[string]any, error) {
	ids, err := h.store.AllSongIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		snap, err := h.engine.Snapshot(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, snapshotView(snap))
	}
	return out, nil
}

func snapshotView(snap *engine.Snapshot) map[string]any {
	totals := make(map[string]any, len(snap.TypeTotals))
	for t, n := range snap.TypeTotals {
		totals[string(t)] = n
	}
	sequences := make(map[string]any, len(snap.Order))
	for t := range snap.Order {
		seq := snap.Sequence(t)
		vals := make([]any, len(seq))
		for i, n := range seq {
			vals[i] = n
		}
		sequences[string(t)] = vals
	}
	return map[string]any{
		"song_id":               snap.SongID,
		"title":                 snap.Title,
		"total_play_count":      snap.TotalPlayCount,
		"total_goal_play_count": snap.TotalGoalPlayCount,
		"last_played_date":      string(snap.LastPlayedDate),
		"goal_plays":            snap.GoalPlays,
		"progress":              formatProgress(snap.Progress),
		"type_totals":           totals,
		"cumulative":            sequences,
		"excluded":              int64(len(snap.Excluded)),
	}
}

func formatProgress(p float64) string {
	return fmt.Sprintf("%.4f", p)
}

// caseOf maps an error onto its outcome case.
func caseOf(err error) string {
	switch {
	case err == nil:
		return CaseOK
	case errors.Is(err, partition.ErrAlreadyShared):
		return CaseAlreadyShared
	case errors.Is(err, partition.ErrPrecondition):
		return CasePrecondition
	case errors.Is(err, ledger.ErrQuotaExceeded):
		return CaseQuotaExceeded
	case model.IsNotFound(err):
		return CaseNotFound
	case model.IsValidation(err):
		return CaseValidation
	default:
		return CaseError
	}
}

// action runs one step's command with alias-resolved args and returns the
// id it created, if any.
type action func(ctx context.Context, h *Harness, args map[string]any) (string, error)

// decode fills cmd from args by JSON field name, rejecting unknown fields.
func decode(args map[string]any, cmd any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return model.NewValidationError("", "", err.Error())
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cmd); err != nil {
		return model.NewValidationError("", "", fmt.Sprintf("bad args: %v", err))
	}
	return nil
}

func create[C any](fn func(*ledger.Ledger, context.Context, C) (string, error)) action {
	return func(ctx context.Context, h *Harness, args map[string]any) (string, error) {
		var cmd C
		if err := decode(args, &cmd); err != nil {
			return "", err
		}
		return fn(h.ledger, ctx, cmd)
	}
}

func update[C any](fn func(*ledger.Ledger, context.Context, C) error) action {
	return func(ctx context.Context, h *Harness, args map[string]any) (string, error) {
		var cmd C
		if err := decode(args, &cmd); err != nil {
			return "", err
		}
		return "", fn(h.ledger, ctx, cmd)
	}
}

// target is the argument shape of actions that take a single id.
type target struct {
	ID        string `json:"id"`
	SongID    string `json:"song_id"`
	SessionID string `json:"session_id"`
	StudentID string `json:"student_id"`
}

func byID(fn func(ctx context.Context, h *Harness, t target) error) action {
	return func(ctx context.Context, h *Harness, args map[string]any) (string, error) {
		var t target
		if err := decode(args, &t); err != nil {
			return "", err
		}
		return "", fn(ctx, h, t)
	}
}

var actions map[string]action

func init() {
	actions = map[string]action{
		"create_student":    create((*ledger.Ledger).CreateStudent),
		"create_instructor": create((*ledger.Ledger).CreateInstructor),
		"create_song":       create((*ledger.Ledger).CreateSong),
		"create_session":    create((*ledger.Ledger).CreateSession),
		"record_play":       create((*ledger.Ledger).RecordPlay),
		"add_note":          create((*ledger.Ledger).AddNote),
		"add_recording":     create((*ledger.Ledger).AddRecording),
		"add_media":         create((*ledger.Ledger).AddMedia),
		"update_song":       update((*ledger.Ledger).UpdateSong),
		"redate_session":    update((*ledger.Ledger).RedateSession),
		"edit_play":         update((*ledger.Ledger).EditPlay),
		"delete_session": byID(func(ctx context.Context, h *Harness, t target) error {
			return h.ledger.DeleteSession(ctx, t.SessionID)
		}),
		"delete_song": byID(func(ctx context.Context, h *Harness, t target) error {
			return h.ledger.DeleteSong(ctx, t.SongID)
		}),
		"delete": byID(func(ctx context.Context, h *Harness, t target) error {
			return h.ledger.Delete(ctx, t.ID)
		}),
		"transfer_to_shared": byID(func(ctx context.Context, h *Harness, t target) error {
			return h.router.TransferToShared(ctx, t.StudentID)
		}),
		"evaluate_awards": byID(func(ctx context.Context, h *Harness, t target) error {
			_, err := h.ledger.EvaluateAwards(ctx, t.StudentID)
			return err
		}),
	}
}
