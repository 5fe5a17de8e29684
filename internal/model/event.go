package model

import "slices"

// ChangeType is the kind of mutation a ChangeEvent announces.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Origin identifies where a mutation came from.
type Origin string

const (
	OriginLocal      Origin = "local"
	OriginReplicated Origin = "replicated"
)

// ChangeEvent announces that records of one kind were mutated.
// IDs is sorted and free of duplicates.
type ChangeEvent struct {
	Kind   Kind
	IDs    []string
	Type   ChangeType
	Origin Origin
}

// ChangeSet accumulates the ids touched by one atomic mutation and turns
// them into one event per (kind, change type).
type ChangeSet struct {
	ids map[Kind]map[ChangeType]map[string]struct{}
}

// NewChangeSet returns an empty ChangeSet.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{ids: make(map[Kind]map[ChangeType]map[string]struct{})}
}

// Add records that id of kind k saw change t.
func (c *ChangeSet) Add(k Kind, t ChangeType, ids ...string) {
	byType, ok := c.ids[k]
	if !ok {
		byType = make(map[ChangeType]map[string]struct{})
		c.ids[k] = byType
	}
	set, ok := byType[t]
	if !ok {
		set = make(map[string]struct{})
		byType[t] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

// Empty reports whether nothing was recorded.
func (c *ChangeSet) Empty() bool {
	return len(c.ids) == 0
}

// Events returns the accumulated events in kind dependency order, then
// insert, update, delete. An id deleted in the same mutation is not also
// reported as updated.
func (c *ChangeSet) Events(origin Origin) []ChangeEvent {
	var events []ChangeEvent
	for _, k := range Kinds {
		byType, ok := c.ids[k]
		if !ok {
			continue
		}
		deleted := byType[ChangeDelete]
		for _, t := range []ChangeType{ChangeInsert, ChangeUpdate, ChangeDelete} {
			set := byType[t]
			ids := make([]string, 0, len(set))
			for id := range set {
				if t != ChangeDelete {
					if _, gone := deleted[id]; gone {
						continue
					}
				}
				ids = append(ids, id)
			}
			if len(ids) == 0 {
				continue
			}
			slices.Sort(ids)
			events = append(events, ChangeEvent{Kind: k, IDs: ids, Type: t, Origin: origin})
		}
	}
	return events
}
