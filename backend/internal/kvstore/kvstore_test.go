package kvstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeUnderTest runs the same contract checks against both implementations.
func storeUnderTest(t *testing.T) map[string]Store {
	t.Helper()

	sqlStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlStore,
	}
}

func TestStore_StringRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set(ctx, "k", "v"))
			got, ok, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v", got)

			require.NoError(t, s.Delete(ctx, "k"))
			_, ok, err = s.Get(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	for name, s := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.SetWithTTL(ctx, "ephemeral", "v", 30*time.Millisecond))

			_, ok, err := s.Get(ctx, "ephemeral")
			require.NoError(t, err)
			assert.True(t, ok)

			time.Sleep(50 * time.Millisecond)

			_, ok, err = s.Get(ctx, "ephemeral")
			require.NoError(t, err)
			assert.False(t, ok, "expired key must not be returned")
		})
	}
}

func TestStore_ListOrderAndTrim(t *testing.T) {
	ctx := context.Background()
	for name, s := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			for _, v := range []string{"a", "b", "c", "d"} {
				require.NoError(t, s.ListPrepend(ctx, "l", v))
			}

			all, err := s.ListRange(ctx, "l", 0, -1)
			require.NoError(t, err)
			assert.Equal(t, []string{"d", "c", "b", "a"}, all, "newest first")

			head, err := s.ListRange(ctx, "l", 0, 1)
			require.NoError(t, err)
			assert.Equal(t, []string{"d", "c"}, head)

			require.NoError(t, s.ListTrim(ctx, "l", 0, 2))
			trimmed, err := s.ListRange(ctx, "l", 0, -1)
			require.NoError(t, err)
			assert.Equal(t, []string{"d", "c", "b"}, trimmed)
		})
	}
}

func TestStore_ListRangeOutOfBounds(t *testing.T) {
	ctx := context.Background()
	for name, s := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.ListPrepend(ctx, "l", "only"))

			out, err := s.ListRange(ctx, "l", 5, 10)
			require.NoError(t, err)
			assert.Empty(t, out)

			out, err = s.ListRange(ctx, "l", 0, 100)
			require.NoError(t, err)
			assert.Equal(t, []string{"only"}, out)
		})
	}
}

func TestStore_SetSemantics(t *testing.T) {
	ctx := context.Background()
	for name, s := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.SetAdd(ctx, "ids", "a"))
			require.NoError(t, s.SetAdd(ctx, "ids", "b"))
			require.NoError(t, s.SetAdd(ctx, "ids", "a")) // duplicate

			members, err := s.SetMembers(ctx, "ids")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a", "b"}, members)
		})
	}
}

func TestStore_ExpireRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	for name, s := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.SetWithTTL(ctx, "k", "v", 30*time.Millisecond))
			require.NoError(t, s.Expire(ctx, "k", time.Hour))

			time.Sleep(50 * time.Millisecond)

			_, ok, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok, "refreshed key must survive the original TTL")
		})
	}
}

func TestStore_WriteAfterExpiryDropsStaleTTL(t *testing.T) {
	ctx := context.Background()
	for name, s := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.ListPrepend(ctx, "l", "old"))
			require.NoError(t, s.Expire(ctx, "l", 10*time.Millisecond))
			require.NoError(t, s.SetAdd(ctx, "ids", "old"))
			require.NoError(t, s.Expire(ctx, "ids", 10*time.Millisecond))

			time.Sleep(30 * time.Millisecond)

			// Writing over an expired key must not resurrect its old expiry
			require.NoError(t, s.ListPrepend(ctx, "l", "new"))
			list, err := s.ListRange(ctx, "l", 0, -1)
			require.NoError(t, err)
			assert.Equal(t, []string{"new"}, list)

			require.NoError(t, s.SetAdd(ctx, "ids", "new"))
			members, err := s.SetMembers(ctx, "ids")
			require.NoError(t, err)
			assert.Equal(t, []string{"new"}, members)
		})
	}
}

func TestStore_KeysByPattern(t *testing.T) {
	ctx := context.Background()
	for name, s := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, "history:g1", "x"))
			require.NoError(t, s.Set(ctx, "history:g2", "x"))
			require.NoError(t, s.Set(ctx, "meta:t1", "x"))

			keys, err := s.KeysByPattern(ctx, "history:*")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"history:g1", "history:g2"}, keys)
		})
	}
}
