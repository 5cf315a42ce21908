package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cadence/backend/internal/kvstore"
	"cadence/backend/internal/music"
)

// faultStore errors on every call, simulating a backend outage.
type faultStore struct{}

var errDown = fmt.Errorf("backend down")

func (faultStore) Get(context.Context, string) (string, bool, error) { return "", false, errDown }
func (faultStore) Set(context.Context, string, string) error         { return errDown }
func (faultStore) SetWithTTL(context.Context, string, string, time.Duration) error {
	return errDown
}
func (faultStore) Delete(context.Context, string) error                { return errDown }
func (faultStore) Expire(context.Context, string, time.Duration) error { return errDown }
func (faultStore) ListPrepend(context.Context, string, string) error   { return errDown }
func (faultStore) ListRange(context.Context, string, int, int) ([]string, error) {
	return nil, errDown
}
func (faultStore) ListTrim(context.Context, string, int, int) error { return errDown }
func (faultStore) SetAdd(context.Context, string, string) error     { return errDown }
func (faultStore) SetMembers(context.Context, string) ([]string, error) {
	return nil, errDown
}
func (faultStore) KeysByPattern(context.Context, string) ([]string, error) {
	return nil, errDown
}

func testStore(t *testing.T, opts Options) *Store {
	t.Helper()
	return NewStore(kvstore.NewMemoryStore(), zap.NewNop(), opts)
}

func track(id, title, author string) music.Track {
	return music.Track{
		URL:        "https://example.com/watch?v=" + id,
		Title:      title,
		Author:     author,
		ExternalID: id,
	}
}

func TestAddEntry_CapInvariant(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, Options{MaxSize: 5})

	for i := 0; i < 12; i++ {
		s.AddEntry(ctx, "g1", track(fmt.Sprintf("id%d", i), fmt.Sprintf("Song %d", i), "X"))
	}

	recent := s.GetRecent(ctx, "g1", 100)
	require.Len(t, recent, 5, "history never exceeds the cap")

	// Newest first
	for i, e := range recent {
		assert.Equal(t, fmt.Sprintf("id%d", 11-i), e.Track.ExternalID)
	}

	// The oldest inserted entries are gone from the list
	for _, e := range recent {
		assert.NotEqual(t, "id0", e.Track.ExternalID)
	}
}

func TestGetRecent_LimitAndOrder(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, Options{MaxSize: 50})

	s.AddEntry(ctx, "g1", track("a", "First", "X"))
	s.AddEntry(ctx, "g1", track("b", "Second", "X"))
	s.AddEntry(ctx, "g1", track("c", "Third", "X"))

	recent := s.GetRecent(ctx, "g1", 2)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Track.ExternalID)
	assert.Equal(t, "b", recent[1].Track.ExternalID)
}

func TestGetLastPlayed(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, Options{})

	assert.Nil(t, s.GetLastPlayed(ctx, "g1"))

	s.AddEntry(ctx, "g1", track("a", "First", "X"))
	s.AddEntry(ctx, "g1", track("b", "Second", "Y"))

	last := s.GetLastPlayed(ctx, "g1")
	require.NotNil(t, last)
	assert.Equal(t, "b", last.Track.ExternalID)
}

func TestContainsID(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, Options{})

	s.AddEntry(ctx, "g1", track("a", "First", "X"))

	assert.True(t, s.ContainsID(ctx, "g1", "a"))
	assert.False(t, s.ContainsID(ctx, "g1", "zzz"))
	assert.False(t, s.ContainsID(ctx, "g2", "a"), "ids are per guild")
	assert.False(t, s.ContainsID(ctx, "g1", ""))
}

func TestClear_RemovesHistoryAndMetadata(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, Options{})

	tr := track("a", "First rock song", "X")
	s.AddEntry(ctx, "g1", tr)
	s.EnsureMetadata(ctx, tr)
	require.NotNil(t, s.GetMetadata(ctx, "a"))

	s.Clear(ctx, "g1")

	assert.Empty(t, s.GetRecent(ctx, "g1", 10))
	assert.False(t, s.ContainsID(ctx, "g1", "a"))
	assert.Nil(t, s.GetMetadata(ctx, "a"))
}

func TestMetadata_IndependentTTL(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryStore()
	s := NewStore(kv, zap.NewNop(), Options{MetadataTTL: 25 * time.Millisecond, HistoryTTL: time.Hour})

	tr := track("a", "Song", "X")
	s.AddEntry(ctx, "g1", tr)
	s.StoreMetadata(ctx, "a", Metadata{Artist: "X"})

	time.Sleep(50 * time.Millisecond)

	assert.Nil(t, s.GetMetadata(ctx, "a"), "metadata expires on its own TTL")
	assert.Len(t, s.GetRecent(ctx, "g1", 10), 1, "history outlives metadata")
}

func TestFailOpen_BackendOutage(t *testing.T) {
	ctx := context.Background()
	s := NewStore(faultStore{}, zap.NewNop(), Options{})

	// None of these may panic or propagate errors
	s.AddEntry(ctx, "g1", track("a", "Song", "X"))
	s.Clear(ctx, "g1")
	s.StoreMetadata(ctx, "a", Metadata{})

	assert.Empty(t, s.GetRecent(ctx, "g1", 10))
	assert.Nil(t, s.GetLastPlayed(ctx, "g1"))
	assert.False(t, s.ContainsID(ctx, "g1", "a"))
	assert.Nil(t, s.GetMetadata(ctx, "a"))
}

func TestEntryDescribe(t *testing.T) {
	e := Entry{Track: music.Track{Title: "Song", Author: "Artist"}}
	assert.Equal(t, "Artist - Song", e.Describe())
}

func TestDeriveMetadata(t *testing.T) {
	tests := []struct {
		name     string
		track    music.Track
		wantTags []string
	}{
		{
			name:     "genre and live marker",
			track:    music.Track{Title: "Midnight Rock Anthem (Live)", Author: "The Vandals"},
			wantTags: []string{"rock", "live", "the vandals"},
		},
		{
			name:     "release year",
			track:    music.Track{Title: "Summer Hits 1999 Mix", Author: ""},
			wantTags: []string{"1999"},
		},
		{
			name:     "multi word genre",
			track:    music.Track{Title: "Best Hip Hop Beats", Author: "DJ K"},
			wantTags: []string{"hip hop", "dj k"},
		},
		{
			name:     "no false substring match",
			track:    music.Track{Title: "Rocket Man", Author: "Elton"},
			wantTags: []string{"elton"},
		},
		{
			name:     "acoustic",
			track:    music.Track{Title: "Wonderwall (Acoustic Cover)", Author: "Someone"},
			wantTags: []string{"acoustic", "someone"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := DeriveMetadata(tt.track)
			assert.ElementsMatch(t, tt.wantTags, meta.Tags)
		})
	}
}

func TestGenreTags_FiltersNonGenres(t *testing.T) {
	meta := DeriveMetadata(music.Track{Title: "Lofi Jazz 2021 (Live)", Author: "Beats Inc"})
	assert.ElementsMatch(t, []string{"lofi", "jazz"}, meta.GenreTags())
}
