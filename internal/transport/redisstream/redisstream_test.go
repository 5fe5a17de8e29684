package redisstream

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/etude/internal/model"
)

func sample(stamp int64) model.Delta {
	return model.Delta{
		Kind:   model.KindSong,
		ID:     "song-1",
		Stamp:  stamp,
		Device: "dev-a",
		Fields: model.Fields{"title": model.String("Minuet")},
	}
}

func TestDecode(t *testing.T) {
	b, err := sample(4).MarshalJSON()
	require.NoError(t, err)

	msg, err := decode(redis.XMessage{ID: "1-0", Values: map[string]any{"delta": string(b)}})
	require.NoError(t, err)
	assert.Equal(t, "1-0", msg.ID)
	assert.Equal(t, int64(4), msg.Delta.Stamp)
	assert.Equal(t, "dev-a", msg.Delta.Device)
	assert.Equal(t, model.String("Minuet"), msg.Delta.Fields["title"])
}

func TestDecode_Malformed(t *testing.T) {
	_, err := decode(redis.XMessage{ID: "1-0", Values: map[string]any{}})
	assert.ErrorContains(t, err, "missing")

	_, err = decode(redis.XMessage{ID: "1-0", Values: map[string]any{"delta": 7}})
	assert.Error(t, err)

	_, err = decode(redis.XMessage{ID: "1-0", Values: map[string]any{"delta": "{"}})
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	tr := New(redis.NewClient(&redis.Options{Addr: "localhost:0"}), WithPrefix("test:"))
	defer tr.Close()
	assert.Equal(t, "test:acct/private", tr.Key("acct/private"))
}

// Set ETUDE_TEST_REDIS_ADDR to run against a live server.
func TestPublishFetch_Live(t *testing.T) {
	addr := os.Getenv("ETUDE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ETUDE_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	tr, err := Dial(ctx, addr, WithPrefix("etude-test:"))
	require.NoError(t, err)
	defer tr.Close()

	stream := t.Name()
	t.Cleanup(func() { tr.client.Del(ctx, tr.Key(stream)) })

	require.NoError(t, tr.Publish(ctx, stream, []model.Delta{sample(1), sample(2), sample(3)}))

	first, err := tr.Fetch(ctx, stream, "", 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, int64(1), first[0].Delta.Stamp)

	rest, err := tr.Fetch(ctx, stream, first[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, int64(3), rest[0].Delta.Stamp)

	none, err := tr.Fetch(ctx, stream, rest[0].ID, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
