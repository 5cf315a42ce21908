package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cadence/backend/internal/music"
)

// fakeEngine returns scripted responses and records how it was called.
type fakeEngine struct {
	name    string
	youtube bool
	tracks  []music.Track
	err     error
	calls   int
	delay   time.Duration
}

func (f *fakeEngine) Name() string        { return f.name }
func (f *fakeEngine) YouTubeFamily() bool { return f.youtube }

func (f *fakeEngine) Search(ctx context.Context, query string, opts Options) ([]music.Track, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.tracks, nil
}

func someTrack(id string) music.Track {
	return music.Track{ExternalID: id, Title: "Track " + id, URL: "https://x/" + id}
}

func newManager(t *testing.T, engines []Engine, opts ManagerOptions) *Manager {
	t.Helper()
	m := NewManager(engines, NewClassifier(DefaultRules()), zap.NewNop(), opts)
	// Tests never want real backoff sleeps
	m.sleep = func(ctx context.Context, d time.Duration) bool { return ctx.Err() == nil }
	return m
}

func TestResolve_PrimarySucceeds(t *testing.T) {
	primary := &fakeEngine{name: "youtube", youtube: true, tracks: []music.Track{someTrack("a")}}
	fallback := &fakeEngine{name: "soundcloud"}
	m := newManager(t, []Engine{primary, fallback}, ManagerOptions{})

	out := m.Resolve(context.Background(), Request{Query: "q"})

	require.True(t, out.Succeeded())
	assert.Equal(t, "youtube", out.Engine)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 0, fallback.calls, "fallbacks untouched when the primary answers")
	assert.NotEmpty(t, out.RequestID)
}

func TestResolve_ParserFaultSkipsSameEngineRetries(t *testing.T) {
	primary := &fakeEngine{name: "youtube", youtube: true, err: errors.New("unable to extract video data")}
	sc := &fakeEngine{name: "soundcloud", tracks: []music.Track{someTrack("b")}}
	ytm := &fakeEngine{name: "youtube_music", youtube: true}
	m := newManager(t, []Engine{primary, ytm, sc}, ManagerOptions{MaxRetries: 3})

	out := m.Resolve(context.Background(), Request{Query: "q"})

	require.True(t, out.Succeeded())
	assert.Equal(t, 1, primary.calls, "parser fault must not be retried on the same engine")
	assert.Equal(t, "soundcloud", out.Engine)
}

func TestResolve_FallbackOrderNonYouTubeFirst(t *testing.T) {
	parserErr := errors.New("cannot parse response")
	primary := &fakeEngine{name: "youtube", youtube: true, err: parserErr}
	ytm := &fakeEngine{name: "youtube_music", youtube: true, err: parserErr}
	sc := &fakeEngine{name: "soundcloud", err: parserErr}
	m := newManager(t, []Engine{primary, ytm, sc}, ManagerOptions{})

	out := m.Resolve(context.Background(), Request{Query: "q"})

	require.False(t, out.Succeeded())
	// soundcloud (non-YouTube) is consulted before youtube_music
	assert.Equal(t, 1, sc.calls)
	assert.Equal(t, 1, ytm.calls)
	assert.Equal(t, 1, primary.calls)
	assert.NotEmpty(t, out.Message)
}

func TestResolve_RetryableErrorRetriesThenCascades(t *testing.T) {
	primary := &fakeEngine{name: "youtube", youtube: true, err: errors.New("connection reset by peer")}
	sc := &fakeEngine{name: "soundcloud", tracks: []music.Track{someTrack("c")}}
	m := newManager(t, []Engine{primary, sc}, ManagerOptions{MaxRetries: 3})

	out := m.Resolve(context.Background(), Request{Query: "q"})

	require.True(t, out.Succeeded())
	assert.Equal(t, 3, primary.calls, "network faults exhaust the retry budget first")
	assert.Equal(t, "soundcloud", out.Engine)
	assert.Equal(t, 4, out.Attempts)
}

func TestResolve_EmptyResultCascades(t *testing.T) {
	primary := &fakeEngine{name: "youtube", youtube: true} // no tracks, no error
	sc := &fakeEngine{name: "soundcloud", tracks: []music.Track{someTrack("d")}}
	m := newManager(t, []Engine{primary, sc}, ManagerOptions{})

	out := m.Resolve(context.Background(), Request{Query: "q"})

	require.True(t, out.Succeeded())
	assert.Equal(t, 1, primary.calls, "empty result moves straight to fallback")
	assert.Equal(t, "soundcloud", out.Engine)
}

func TestResolve_UnknownErrorFailsImmediately(t *testing.T) {
	primary := &fakeEngine{name: "youtube", youtube: true, err: errors.New("weird unprecedented condition")}
	sc := &fakeEngine{name: "soundcloud", tracks: []music.Track{someTrack("e")}}
	m := newManager(t, []Engine{primary, sc}, ManagerOptions{})

	out := m.Resolve(context.Background(), Request{Query: "q"})

	require.False(t, out.Succeeded())
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 0, sc.calls, "unknown failures do not cascade")
	assert.Equal(t, "search failed, please try again", out.Message)
}

func TestResolve_AllEnginesEmptyYieldsNoResults(t *testing.T) {
	primary := &fakeEngine{name: "youtube", youtube: true}
	sc := &fakeEngine{name: "soundcloud"}
	m := newManager(t, []Engine{primary, sc}, ManagerOptions{})

	out := m.Resolve(context.Background(), Request{Query: "q"})

	require.False(t, out.Succeeded())
	assert.Equal(t, "no results found for your search", out.Message)
}

func TestResolve_PreferredEngineOverride(t *testing.T) {
	yt := &fakeEngine{name: "youtube", youtube: true, tracks: []music.Track{someTrack("f")}}
	sc := &fakeEngine{name: "soundcloud", tracks: []music.Track{someTrack("g")}}
	m := newManager(t, []Engine{yt, sc}, ManagerOptions{})

	out := m.Resolve(context.Background(), Request{Query: "q", Preferred: "soundcloud"})

	require.True(t, out.Succeeded())
	assert.Equal(t, "soundcloud", out.Engine)
	assert.Equal(t, 0, yt.calls)
}

func TestResolve_OverallTimeout(t *testing.T) {
	slow := &fakeEngine{name: "youtube", youtube: true, delay: time.Second, tracks: []music.Track{someTrack("h")}}
	m := newManager(t, []Engine{slow}, ManagerOptions{TotalTimeout: 30 * time.Millisecond})

	out := m.Resolve(context.Background(), Request{Query: "q"})

	require.False(t, out.Succeeded())
	assert.Equal(t, "search timed out, please try again", out.Message)
}

func TestClassify(t *testing.T) {
	c := NewClassifier(DefaultRules())

	tests := []struct {
		name string
		err  error
		want Classification
	}{
		{
			name: "extractor schema fault",
			err:  errors.New("ERROR: unable to extract initial player response"),
			want: Classification{ParserFault: true, Cascade: true},
		},
		{
			name: "json decode fault",
			err:  errors.New("invalid character '<' looking for beginning of value"),
			want: Classification{ParserFault: true, Cascade: true},
		},
		{
			name: "network reset",
			err:  errors.New("read tcp: connection reset by peer"),
			want: Classification{RetrySameEngine: true, Cascade: true},
		},
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: Classification{RetrySameEngine: true, Cascade: true},
		},
		{
			name: "unknown",
			err:  errors.New("some novel failure"),
			want: Classification{},
		},
		{
			name: "nil",
			err:  nil,
			want: Classification{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.err))
		})
	}
}

func TestClassifier_CustomRules(t *testing.T) {
	c := NewClassifier([]PatternRule{
		{Substrings: []string{"quota"}, Class: Classification{Cascade: true}},
	})

	got := c.Classify(errors.New("daily quota exceeded"))
	assert.Equal(t, Classification{Cascade: true}, got)

	// Default patterns are gone once the table is swapped
	assert.Equal(t, Classification{}, c.Classify(errors.New("connection reset")))
}
