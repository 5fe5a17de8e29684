package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDelta() Delta {
	return Delta{
		Kind: KindPlay,
		ID:   "play-1",
		Fields: Fields{
			"song_id":    String("song-1"),
			"session_id": String("session-1"),
			"count":      Int(3),
			"play_type":  String("practice"),
		},
		Stamp:  7,
		Create: true,
		Device: "laptop",
	}
}

func TestDeltaJSONRoundTrip(t *testing.T) {
	d := sampleDelta()
	d.Fields["sketch"] = Bytes{0x01, 0x02}
	d.Fields[FieldSongIDs] = NewList("b", "a")
	d.Fields["composer"] = Null{}

	data, err := json.Marshal(d)
	require.NoError(t, err)

	var got Delta
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, d.Kind, got.Kind)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, d.Stamp, got.Stamp)
	assert.Equal(t, d.Create, got.Create)
	assert.Equal(t, d.Device, got.Device)
	require.Len(t, got.Fields, len(d.Fields))
	for name, v := range d.Fields {
		assert.True(t, Equal(v, got.Fields[name]), "field %s: %#v != %#v", name, v, got.Fields[name])
	}
}

func TestDeltaJSONIsCanonical(t *testing.T) {
	d := Delta{Kind: KindSong, ID: "s", Fields: Fields{"title": String("Minuet")}, Stamp: 1}

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t,
		`{"create":false,"fields":{"title":{"s":"Minuet"}},"id":"s","kind":"song","stamp":1,"tombstone":false}`,
		string(data))
}

func TestDeltaKeyStable(t *testing.T) {
	a := sampleDelta()
	b := sampleDelta()
	assert.Equal(t, MustDeltaKey(a), MustDeltaKey(b))
	assert.Len(t, MustDeltaKey(a), 64)
}

func TestDeltaKeyIgnoresDevice(t *testing.T) {
	a := sampleDelta()
	b := sampleDelta()
	b.Device = "phone"
	assert.Equal(t, MustDeltaKey(a), MustDeltaKey(b))
}

func TestDeltaKeyDistinguishesContent(t *testing.T) {
	base := MustDeltaKey(sampleDelta())

	stamp := sampleDelta()
	stamp.Stamp = 8
	assert.NotEqual(t, base, MustDeltaKey(stamp))

	count := sampleDelta()
	count.Fields["count"] = Int(4)
	assert.NotEqual(t, base, MustDeltaKey(count))

	// An integer and its string form are different values.
	typed := sampleDelta()
	typed.Fields["count"] = String("3")
	assert.NotEqual(t, base, MustDeltaKey(typed))
}

func TestDecodeValueRejectsUntyped(t *testing.T) {
	_, err := DecodeValue(json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestAppliedKeyScopedByPartition(t *testing.T) {
	d := sampleDelta()
	private, err := AppliedKey(PartitionPrivate, d)
	require.NoError(t, err)
	shared, err := AppliedKey(PartitionShared, d)
	require.NoError(t, err)
	assert.NotEqual(t, private, shared)
	assert.Equal(t, "private/"+MustDeltaKey(d), private)
}
