package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cadence/backend/internal/kvstore"
	pkgerrors "cadence/backend/pkg/errors"
)

var errDown = errors.New("store down")

// faultStore fails every operation, for fail-open coverage.
type faultStore struct{}

func (faultStore) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, errDown
}
func (faultStore) Set(ctx context.Context, key, value string) error { return errDown }
func (faultStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return errDown
}
func (faultStore) Delete(ctx context.Context, key string) error                 { return errDown }
func (faultStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return errDown
}
func (faultStore) ListPrepend(ctx context.Context, key, value string) error { return errDown }
func (faultStore) ListRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	return nil, errDown
}
func (faultStore) ListTrim(ctx context.Context, key string, start, stop int) error { return errDown }
func (faultStore) SetAdd(ctx context.Context, key, member string) error            { return errDown }
func (faultStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	return nil, errDown
}
func (faultStore) KeysByPattern(ctx context.Context, pattern string) ([]string, error) {
	return nil, errDown
}

func testLimiter(t *testing.T, rules ...Rule) (*Limiter, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := kvstore.NewMemoryStore()
	store.SetClock(func() time.Time { return now })
	l := NewLimiter(store, zap.NewNop(), rules...)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestCheckAndRecord_SlidingWindow(t *testing.T) {
	rule := Rule{Name: "autoplay", Window: 10 * time.Second, MaxRequests: 3}
	l, now := testLimiter(t, rule)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.CheckAndRecord(ctx, "autoplay", "guild1")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should pass", i+1)
		assert.Equal(t, 2-i, res.Remaining)
		*now = now.Add(time.Second)
	}

	res, err := l.CheckAndRecord(ctx, "autoplay", "guild1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	// Oldest request was 3s ago against a 10s window
	assert.Equal(t, 7*time.Second, res.RetryAfter)

	// Slide past the oldest entry and one slot frees up
	*now = now.Add(res.RetryAfter + time.Millisecond)
	res, err = l.CheckAndRecord(ctx, "autoplay", "guild1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCheckAndRecord_SubjectsIsolated(t *testing.T) {
	rule := Rule{Name: "autoplay", Window: time.Minute, MaxRequests: 1}
	l, _ := testLimiter(t, rule)
	ctx := context.Background()

	res, err := l.CheckAndRecord(ctx, "autoplay", "guild1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.CheckAndRecord(ctx, "autoplay", "guild1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = l.CheckAndRecord(ctx, "autoplay", "guild2")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "guild2 is unaffected by guild1's budget")
}

func TestCheckAndRecord_UnknownRule(t *testing.T) {
	l, _ := testLimiter(t, Rule{Name: "autoplay", Window: time.Minute, MaxRequests: 1})

	_, err := l.CheckAndRecord(context.Background(), "no-such-rule", "guild1")
	require.Error(t, err)
	var unknownErr *pkgerrors.ErrUnknownRateRule
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "no-such-rule", unknownErr.Rule)
}

func TestCheckAndRecord_FailsOpenOnStoreOutage(t *testing.T) {
	l := NewLimiter(faultStore{}, zap.NewNop(), Rule{Name: "autoplay", Window: time.Minute, MaxRequests: 1})

	for i := 0; i < 5; i++ {
		res, err := l.CheckAndRecord(context.Background(), "autoplay", "guild1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
}

func TestRuleKey(t *testing.T) {
	assert.Equal(t, "ratelimit:autoplay:g1", Rule{Name: "autoplay"}.key("g1"))
	assert.Equal(t, "rl:search:user1", Rule{Name: "search", KeyPrefix: "rl"}.key("user1"))
}

func TestRules_ReturnsRegistered(t *testing.T) {
	l, _ := testLimiter(t,
		Rule{Name: "autoplay", Window: time.Minute, MaxRequests: 3},
		Rule{Name: "search", Window: time.Second, MaxRequests: 10},
	)
	assert.Len(t, l.Rules(), 2)
}
