package conflict

import (
	"github.com/roach88/etude/internal/model"
)

// Outcome is what the store must do with an inbound delta.
type Outcome int

const (
	// OutcomeIgnore leaves the entity unchanged.
	OutcomeIgnore Outcome = iota

	// OutcomeApply writes Resolution.Fields onto the existing entity.
	OutcomeApply

	// OutcomeCreate inserts a new entity from Resolution.Fields.
	OutcomeCreate

	// OutcomeRecreate inserts an entity that has a tombstone older than the
	// delta. The tombstone stays as history.
	OutcomeRecreate

	// OutcomeDelete removes the entity (if present) and records the
	// tombstone.
	OutcomeDelete

	// OutcomePark holds the delta until a creation for the same id arrives.
	OutcomePark
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnore:
		return "ignore"
	case OutcomeApply:
		return "apply"
	case OutcomeCreate:
		return "create"
	case OutcomeRecreate:
		return "recreate"
	case OutcomeDelete:
		return "delete"
	case OutcomePark:
		return "park"
	default:
		return "unknown"
	}
}

// FieldState is the local value and revision of one field.
type FieldState struct {
	Value model.Value
	Stamp int64 // 0 when the field was never written
	Dirty bool  // edited locally since the last successful sync
}

// LocalState is everything the policy needs to know about the local copy.
type LocalState struct {
	// Exists reports whether a live entity with the delta's id exists.
	Exists bool

	// Born is the stamp at which the live entity was created.
	Born int64

	// Fields holds the live entity's fields. Fields never written are absent.
	Fields map[string]FieldState

	// HasTombstone reports whether a delete marker exists for the id.
	HasTombstone bool

	// TombstoneStamp is the stamp of that marker.
	TombstoneStamp int64
}

// Resolution is the merged result for one delta.
type Resolution struct {
	Outcome Outcome

	// Fields are the remote values to write, all at the delta's stamp.
	Fields model.Fields

	// Kept names fields whose local value won.
	Kept []string

	// Unresolved names fields with no deterministic winner. The remote value
	// was taken for each of them.
	Unresolved []string
}

// Resolve merges delta d into local.
func Resolve(local LocalState, d model.Delta) Resolution {
	if d.Tombstone {
		return resolveTombstone(local, d)
	}

	if !local.Exists {
		switch {
		case local.HasTombstone && d.Create && d.Stamp > local.TombstoneStamp:
			return Resolution{Outcome: OutcomeRecreate, Fields: d.Fields.Clone()}
		case local.HasTombstone:
			return Resolution{Outcome: OutcomeIgnore}
		case d.Create:
			return Resolution{Outcome: OutcomeCreate, Fields: d.Fields.Clone()}
		default:
			return Resolution{Outcome: OutcomePark}
		}
	}

	return mergeFields(local, d)
}

func resolveTombstone(local LocalState, d model.Delta) Resolution {
	if local.HasTombstone && local.TombstoneStamp >= d.Stamp && !local.Exists {
		// An equal or later delete is already recorded.
		return Resolution{Outcome: OutcomeIgnore}
	}
	if local.Exists && local.Born > d.Stamp {
		// The entity was re-created after this delete.
		return Resolution{Outcome: OutcomeIgnore}
	}
	return Resolution{Outcome: OutcomeDelete}
}

func mergeFields(local LocalState, d model.Delta) Resolution {
	res := Resolution{Outcome: OutcomeApply, Fields: model.Fields{}}

	for _, name := range d.Fields.SortedKeys() {
		remote := d.Fields[name]
		lf, ok := local.Fields[name]
		if !ok {
			res.Fields[name] = remote
			continue
		}

		switch {
		case d.Stamp <= 0:
			// Unstamped remote write: no ordering information at all.
			if !model.Equal(lf.Value, remote) {
				res.Fields[name] = remote
				res.Unresolved = append(res.Unresolved, name)
			}
		case d.Stamp > lf.Stamp:
			res.Fields[name] = remote
		case d.Stamp < lf.Stamp:
			res.Kept = append(res.Kept, name)
		case lf.Dirty:
			res.Kept = append(res.Kept, name)
		case model.Equal(lf.Value, remote):
			// Same write seen twice.
		default:
			res.Fields[name] = remote
			res.Unresolved = append(res.Unresolved, name)
		}
	}

	if len(res.Fields) == 0 {
		res.Outcome = OutcomeIgnore
		res.Fields = nil
	}
	return res
}
