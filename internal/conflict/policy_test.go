package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/etude/internal/model"
)

func live(fields map[string]FieldState) LocalState {
	return LocalState{Exists: true, Born: 1, Fields: fields}
}

func update(stamp int64, fields model.Fields) model.Delta {
	return model.Delta{Kind: model.KindSong, ID: "song-1", Stamp: stamp, Fields: fields}
}

func TestResolve_HigherStampWins(t *testing.T) {
	local := live(map[string]FieldState{
		"title": {Value: model.String("Minuet"), Stamp: 5},
	})

	res := Resolve(local, update(7, model.Fields{"title": model.String("Minuet in G")}))

	assert.Equal(t, OutcomeApply, res.Outcome)
	assert.Equal(t, model.Fields{"title": model.String("Minuet in G")}, res.Fields)
	assert.Empty(t, res.Kept)
	assert.Empty(t, res.Unresolved)
}

func TestResolve_LowerStampKeepsLocal(t *testing.T) {
	local := live(map[string]FieldState{
		"title": {Value: model.String("Minuet in G"), Stamp: 7},
	})

	res := Resolve(local, update(5, model.Fields{"title": model.String("Minuet")}))

	assert.Equal(t, OutcomeIgnore, res.Outcome)
	assert.Equal(t, []string{"title"}, res.Kept)
}

func TestResolve_FieldLevelMerge(t *testing.T) {
	// Concurrent edits to different fields both survive.
	local := live(map[string]FieldState{
		"title":      {Value: model.String("Minuet"), Stamp: 9, Dirty: true},
		"goal_plays": {Value: model.Int(10), Stamp: 2},
	})

	res := Resolve(local, update(6, model.Fields{
		"title":      model.String("Gavotte"),
		"goal_plays": model.Int(20),
	}))

	assert.Equal(t, OutcomeApply, res.Outcome)
	assert.Equal(t, model.Fields{"goal_plays": model.Int(20)}, res.Fields)
	assert.Equal(t, []string{"title"}, res.Kept)
}

func TestResolve_TieLocalDirtyWins(t *testing.T) {
	local := live(map[string]FieldState{
		"goal_plays": {Value: model.Int(10), Stamp: 4, Dirty: true},
	})

	res := Resolve(local, update(4, model.Fields{"goal_plays": model.Int(30)}))

	assert.Equal(t, OutcomeIgnore, res.Outcome)
	assert.Equal(t, []string{"goal_plays"}, res.Kept)
}

func TestResolve_TieCleanRemoteWinsUnresolved(t *testing.T) {
	local := live(map[string]FieldState{
		"goal_plays": {Value: model.Int(10), Stamp: 4},
	})

	res := Resolve(local, update(4, model.Fields{"goal_plays": model.Int(30)}))

	assert.Equal(t, OutcomeApply, res.Outcome)
	assert.Equal(t, model.Fields{"goal_plays": model.Int(30)}, res.Fields)
	assert.Equal(t, []string{"goal_plays"}, res.Unresolved)
}

func TestResolve_TieEqualValuesIsNoop(t *testing.T) {
	local := live(map[string]FieldState{
		"goal_plays": {Value: model.Int(10), Stamp: 4},
	})

	res := Resolve(local, update(4, model.Fields{"goal_plays": model.Int(10)}))

	assert.Equal(t, OutcomeIgnore, res.Outcome)
	assert.Empty(t, res.Unresolved)
}

func TestResolve_UnstampedRemoteIsUnresolved(t *testing.T) {
	local := live(map[string]FieldState{
		"title": {Value: model.String("Minuet"), Stamp: 3},
	})

	res := Resolve(local, update(0, model.Fields{"title": model.String("Bourree")}))

	assert.Equal(t, OutcomeApply, res.Outcome)
	assert.Equal(t, []string{"title"}, res.Unresolved)
}

func TestResolve_UnknownLocalFieldTakesRemote(t *testing.T) {
	local := live(map[string]FieldState{})

	res := Resolve(local, update(1, model.Fields{"composer": model.String("Bach")}))

	assert.Equal(t, OutcomeApply, res.Outcome)
	assert.Equal(t, model.Fields{"composer": model.String("Bach")}, res.Fields)
}

func TestResolve_Commutative(t *testing.T) {
	// Two stamped writes applied in either order converge on the higher stamp.
	a := update(3, model.Fields{"title": model.String("A")})
	b := update(8, model.Fields{"title": model.String("B")})

	apply := func(state LocalState, d model.Delta) LocalState {
		res := Resolve(state, d)
		if res.Outcome != OutcomeApply {
			return state
		}
		next := map[string]FieldState{}
		for k, v := range state.Fields {
			next[k] = v
		}
		for k, v := range res.Fields {
			next[k] = FieldState{Value: v, Stamp: d.Stamp}
		}
		return live(next)
	}

	start := live(map[string]FieldState{"title": {Value: model.String("orig"), Stamp: 1}})

	ab := apply(apply(start, a), b)
	ba := apply(apply(start, b), a)

	assert.Equal(t, model.String("B"), ab.Fields["title"].Value)
	assert.Equal(t, ab.Fields["title"], ba.Fields["title"])
}

func TestResolve_TombstoneBeatsNewerUpdate(t *testing.T) {
	// Delete first, then a later-stamped update arrives.
	state := LocalState{HasTombstone: true, TombstoneStamp: 5}

	res := Resolve(state, update(9, model.Fields{"title": model.String("late edit")}))

	assert.Equal(t, OutcomeIgnore, res.Outcome)
}

func TestResolve_TombstoneDeletesRegardlessOfFieldStamps(t *testing.T) {
	local := live(map[string]FieldState{
		"title": {Value: model.String("Minuet"), Stamp: 50, Dirty: true},
	})

	res := Resolve(local, model.Delta{Kind: model.KindSong, ID: "song-1", Stamp: 10, Tombstone: true})

	assert.Equal(t, OutcomeDelete, res.Outcome)
}

func TestResolve_TombstoneIgnoredForLaterRecreation(t *testing.T) {
	local := LocalState{Exists: true, Born: 20, HasTombstone: true, TombstoneStamp: 10}

	res := Resolve(local, model.Delta{Kind: model.KindSong, ID: "song-1", Stamp: 10, Tombstone: true})

	assert.Equal(t, OutcomeIgnore, res.Outcome)
}

func TestResolve_TombstoneWithoutLocalEntity(t *testing.T) {
	res := Resolve(LocalState{}, model.Delta{Kind: model.KindPlay, ID: "p", Stamp: 4, Tombstone: true})
	assert.Equal(t, OutcomeDelete, res.Outcome)

	res = Resolve(LocalState{HasTombstone: true, TombstoneStamp: 4},
		model.Delta{Kind: model.KindPlay, ID: "p", Stamp: 4, Tombstone: true})
	assert.Equal(t, OutcomeIgnore, res.Outcome)
}

func TestResolve_Recreation(t *testing.T) {
	tomb := LocalState{HasTombstone: true, TombstoneStamp: 10}

	tests := []struct {
		name  string
		delta model.Delta
		want  Outcome
	}{
		{
			name:  "create after tombstone",
			delta: model.Delta{ID: "s", Stamp: 11, Create: true, Fields: model.Fields{"title": model.String("x")}},
			want:  OutcomeRecreate,
		},
		{
			name:  "create at tombstone stamp",
			delta: model.Delta{ID: "s", Stamp: 10, Create: true},
			want:  OutcomeIgnore,
		},
		{
			name:  "plain update after tombstone",
			delta: model.Delta{ID: "s", Stamp: 11},
			want:  OutcomeIgnore,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tomb, tt.delta).Outcome)
		})
	}
}

func TestResolve_CreateAndPark(t *testing.T) {
	create := model.Delta{ID: "s", Stamp: 3, Create: true, Fields: model.Fields{"title": model.String("x")}}
	assert.Equal(t, OutcomeCreate, Resolve(LocalState{}, create).Outcome)

	orphan := model.Delta{ID: "s", Stamp: 4, Fields: model.Fields{"title": model.String("y")}}
	assert.Equal(t, OutcomePark, Resolve(LocalState{}, orphan).Outcome)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "apply", OutcomeApply.String())
	assert.Equal(t, "park", OutcomePark.String())
	assert.Equal(t, "unknown", Outcome(99).String())
}
