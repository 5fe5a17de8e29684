package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/etude/internal/model"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		require.NoError(t, s.Close())
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s, _ := openTestStore(t, "p")

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_MigratesV0Database(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("DROP TABLE partition_transfers")
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 0")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 0, countRows(t, s, "partition_transfers"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_ClockResumesPastStamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	id, err := s.Create(ctx, model.KindStudent, model.Fields{"name": model.String("Ada")})
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, id, model.Fields{"name": model.String("Ada L.")}))
	high := s.Clock().Current()
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, high, s.Clock().Current())
	assert.Greater(t, s.Clock().Next(), high)
}

func TestClock_NextIsMonotonic(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())

	assert.Equal(t, int64(11), NewClockAt(10).Next())
}

func TestClock_Observe(t *testing.T) {
	c := NewClockAt(5)

	c.Observe(3)
	assert.Equal(t, int64(5), c.Current(), "observing an older stamp is a no-op")

	c.Observe(40)
	assert.Equal(t, int64(40), c.Current())
	assert.Equal(t, int64(41), c.Next())
}

func TestClock_ConcurrentNextUnique(t *testing.T) {
	c := NewClock()

	const n = 500
	var mu sync.Mutex
	seen := make(map[int64]bool, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%3 == 0 {
				c.Observe(int64(i))
				return
			}
			v := c.Next()
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Len(t, seen, n-(n+2)/3)
}
