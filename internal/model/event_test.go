package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChangeSetGroupsByKindAndType(t *testing.T) {
	cs := NewChangeSet()
	assert.True(t, cs.Empty())

	cs.Add(KindPlay, ChangeDelete, "p2", "p1")
	cs.Add(KindSession, ChangeDelete, "s1")
	cs.Add(KindRecording, ChangeDelete, "r1")
	cs.Add(KindPlay, ChangeDelete, "p1")

	events := cs.Events(OriginLocal)
	assert.Equal(t, []ChangeEvent{
		{Kind: KindSession, IDs: []string{"s1"}, Type: ChangeDelete, Origin: OriginLocal},
		{Kind: KindPlay, IDs: []string{"p1", "p2"}, Type: ChangeDelete, Origin: OriginLocal},
		{Kind: KindRecording, IDs: []string{"r1"}, Type: ChangeDelete, Origin: OriginLocal},
	}, events)
}

func TestChangeSetDeleteSuppressesUpdate(t *testing.T) {
	cs := NewChangeSet()
	cs.Add(KindNote, ChangeUpdate, "n1", "n2")
	cs.Add(KindNote, ChangeDelete, "n1")

	events := cs.Events(OriginReplicated)
	assert.Equal(t, []ChangeEvent{
		{Kind: KindNote, IDs: []string{"n2"}, Type: ChangeUpdate, Origin: OriginReplicated},
		{Kind: KindNote, IDs: []string{"n1"}, Type: ChangeDelete, Origin: OriginReplicated},
	}, events)
}
