package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueEqual(t *testing.T) {
	assert.True(t, Equal(nil, Null{}))
	assert.True(t, Equal(Null{}, nil))
	assert.True(t, Equal(Int(3), Int(3)))
	assert.False(t, Equal(Int(3), String("3")))
	assert.True(t, Equal(Bytes{1, 2}, Bytes{1, 2}))
	assert.True(t, Equal(List{"a", "b"}, List{"a", "b"}))
	assert.False(t, Equal(List{"a", "b"}, List{"b", "a"}))
}

func TestFieldsEqual(t *testing.T) {
	a := Fields{"title": String("Minuet"), "goal_plays": Int(20)}
	assert.True(t, a.Equal(a.Clone()))
	assert.False(t, a.Equal(Fields{"title": String("Minuet")}))
	assert.False(t, a.Equal(Fields{"title": String("Minuet"), "goal_plays": Int(21)}))
	assert.False(t, a.Equal(Fields{"title": String("Minuet"), "status": Int(20)}))
}

func TestFieldsAccessors(t *testing.T) {
	f := Fields{
		"title":    String("Minuet"),
		"count":    Int(4),
		"direct":   Bool(true),
		"song_ids": List{"s1"},
	}
	assert.Equal(t, "Minuet", f.String("title"))
	assert.Equal(t, int64(4), f.Int("count"))
	assert.True(t, f.Bool("direct"))
	assert.Equal(t, []string{"s1"}, f.List("song_ids"))
	assert.Empty(t, f.String("missing"))
	assert.Zero(t, f.Int("title"))
	assert.Equal(t, []string{"count", "direct", "song_ids", "title"}, f.SortedKeys())
}
