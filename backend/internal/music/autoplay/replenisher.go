// Package autoplay keeps guild queues topped up with related tracks derived
// from what just played.
package autoplay

import (
	"context"
	mathrand "math/rand/v2"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"cadence/backend/internal/music"
	"cadence/backend/internal/music/dedupe"
	"cadence/backend/internal/music/history"
	"cadence/backend/internal/music/search"
	"cadence/backend/internal/ratelimit"
)

// RuleName is the rate-limit rule guarding replenishment cycles.
const RuleName = "autoplay"

func defaultRand() float64 { return mathrand.Float64() }

// SearchResolver resolves a query into candidate tracks.
type SearchResolver interface {
	Resolve(ctx context.Context, req search.Request) search.Outcome
}

// DuplicateChecker gates candidates against queue and history.
type DuplicateChecker interface {
	IsDuplicate(ctx context.Context, cc dedupe.CheckContext) bool
}

// RateGuard throttles replenishment per guild.
type RateGuard interface {
	CheckAndRecord(ctx context.Context, rule, subject string) (ratelimit.Result, error)
}

// QuerySuggester proposes alternative related-search queries when the
// tag-derived query comes up empty. Optional.
type QuerySuggester interface {
	SuggestQueries(ctx context.Context, seed music.Track, meta history.Metadata) ([]string, error)
}

// variantPatterns match title decorations that indicate an alternate rendition
// of a song rather than a new one. Candidates carrying a marker the seed does
// not carry are dropped before ranking.
var variantPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bremix\b`),
	regexp.MustCompile(`(?i)\blive\b`),
	regexp.MustCompile(`(?i)\bremaster(ed)?\b`),
	regexp.MustCompile(`(?i)\bcover\b`),
	regexp.MustCompile(`(?i)\bnightcore\b`),
	regexp.MustCompile(`(?i)\bsped.?up\b`),
	regexp.MustCompile(`(?i)\bslowed\b`),
	regexp.MustCompile(`(?i)\binstrumental\b`),
	regexp.MustCompile(`(?i)\bkaraoke\b`),
	regexp.MustCompile(`(?i)\b8d audio\b`),
}

// Replenisher tops up a guild's queue when it drops below the low-water mark.
type Replenisher struct {
	history   *history.Store
	resolver  SearchResolver
	detector  DuplicateChecker
	limiter   RateGuard
	suggester QuerySuggester
	logger    *zap.Logger

	lowWater   int
	artistBias float64
	rand       func() float64

	// One cycle per guild at a time; events can arrive faster than searches
	// complete.
	refilling sync.Map
}

// Options configures a Replenisher.
type Options struct {
	LowWater   int     // queue size that triggers a refill, default 2
	ArtistBias float64 // probability the related query names the seed artist, default 0.55
	Rand       func() float64
	Suggester  QuerySuggester
}

// NewReplenisher wires a replenisher over the given collaborators.
func NewReplenisher(hist *history.Store, resolver SearchResolver, detector DuplicateChecker, limiter RateGuard, logger *zap.Logger, opts Options) *Replenisher {
	if opts.LowWater <= 0 {
		opts.LowWater = 2
	}
	if opts.ArtistBias <= 0 {
		opts.ArtistBias = 0.55
	}
	r := &Replenisher{
		history:    hist,
		resolver:   resolver,
		detector:   detector,
		limiter:    limiter,
		suggester:  opts.Suggester,
		logger:     logger,
		lowWater:   opts.LowWater,
		artistBias: opts.ArtistBias,
		rand:       opts.Rand,
	}
	if r.rand == nil {
		r.rand = defaultRand
	}
	return r
}

// Replenish runs one refill cycle for a guild. It is a best-effort background
// operation: every failure path logs and returns rather than propagating, and
// a panic anywhere in the cycle is contained here.
func (r *Replenisher) Replenish(ctx context.Context, guildID string, queue *music.Queue) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("replenishment cycle panicked",
				zap.String("guild_id", guildID),
				zap.Any("panic", rec),
			)
		}
	}()

	if _, busy := r.refilling.LoadOrStore(guildID, struct{}{}); busy {
		return
	}
	defer r.refilling.Delete(guildID)

	if queue.Size() >= r.lowWater {
		return
	}

	res, err := r.limiter.CheckAndRecord(ctx, RuleName, guildID)
	if err != nil {
		r.logger.Error("replenishment rate rule misconfigured", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	if !res.Allowed {
		r.logger.Debug("replenishment throttled",
			zap.String("guild_id", guildID),
			zap.Duration("retry_after", res.RetryAfter),
		)
		return
	}

	seed := r.history.GetLastPlayed(ctx, guildID)
	if seed == nil {
		return
	}

	needed := r.lowWater - queue.Size()
	var accepted []music.Track
	meta := r.history.GetMetadata(ctx, seed.Track.ExternalID)
	switch {
	case meta != nil:
		query := r.buildQuery(seed.Track, *meta)
		accepted = r.resolveAndFilter(ctx, guildID, queue, query, seed.Track, *meta, needed)
		if len(accepted) == 0 && r.suggester != nil {
			accepted = r.trySuggestedQueries(ctx, guildID, queue, seed.Track, *meta, needed)
		}
	case r.suggester != nil:
		// No cached metadata to seed a tag query; ask the model instead.
		accepted = r.trySuggestedQueries(ctx, guildID, queue, seed.Track, history.Metadata{}, needed)
	default:
		r.logger.Debug("no cached metadata for seed, skipping cycle",
			zap.String("guild_id", guildID),
			zap.String("seed_id", seed.Track.ExternalID),
		)
		return
	}

	for _, track := range accepted {
		track.Requester = "autoplay"
		queue.Add(track)
	}
	r.logger.Info("replenishment cycle finished",
		zap.String("guild_id", guildID),
		zap.String("seed", seed.Track.Title),
		zap.Int("added", len(accepted)),
	)
}

// buildQuery derives a related-search query from the seed's metadata: up to
// two genre tags, the artist a bit over half the time, and the rendition
// marker when the guild has been listening to live or acoustic versions.
func (r *Replenisher) buildQuery(seed music.Track, meta history.Metadata) string {
	var parts []string

	if meta.Artist != "" && r.rand() < r.artistBias {
		parts = append(parts, meta.Artist)
	}

	genres := meta.GenreTags()
	if len(genres) > 2 {
		genres = genres[:2]
	}
	parts = append(parts, genres...)

	if meta.HasTag("live") {
		parts = append(parts, "live")
	} else if meta.HasTag("acoustic") {
		parts = append(parts, "acoustic")
	}

	if len(parts) == 0 {
		if seed.Author != "" {
			return seed.Author + " songs"
		}
		return seed.Title
	}
	if len(genres) == 0 && meta.Artist != "" && parts[0] == meta.Artist {
		parts = append(parts, "songs")
	}
	return strings.Join(parts, " ")
}

// resolveAndFilter searches one query and returns the highest-ranked
// non-duplicate candidates, at most needed of them.
func (r *Replenisher) resolveAndFilter(ctx context.Context, guildID string, queue *music.Queue, query string, seed music.Track, meta history.Metadata, needed int) []music.Track {
	out := r.resolver.Resolve(ctx, search.Request{Query: query, Requester: "autoplay"})
	if !out.Succeeded() {
		r.logger.Warn("replenishment search failed",
			zap.String("guild_id", guildID),
			zap.String("query", query),
			zap.String("message", out.Message),
		)
		return nil
	}

	candidates := r.filterVariants(out.Tracks, seed)
	rankCandidates(candidates, meta)

	recent := r.history.GetRecent(ctx, guildID, 15)
	queueIDs := queue.UpcomingIDs()

	var accepted []music.Track
	for _, c := range candidates {
		if len(accepted) >= needed {
			break
		}
		cc := dedupe.CheckContext{
			GuildID:   guildID,
			Candidate: c,
			QueueIDs:  queueIDs,
			Recent:    recent,
		}
		if r.detector.IsDuplicate(ctx, cc) {
			continue
		}
		accepted = append(accepted, c)
		if c.ExternalID != "" {
			queueIDs[c.ExternalID] = struct{}{}
		}
	}
	return accepted
}

func (r *Replenisher) trySuggestedQueries(ctx context.Context, guildID string, queue *music.Queue, seed music.Track, meta history.Metadata, needed int) []music.Track {
	queries, err := r.suggester.SuggestQueries(ctx, seed, meta)
	if err != nil {
		r.logger.Warn("query suggestion failed", zap.String("guild_id", guildID), zap.Error(err))
		return nil
	}
	for _, q := range queries {
		if accepted := r.resolveAndFilter(ctx, guildID, queue, q, seed, meta, needed); len(accepted) > 0 {
			return accepted
		}
	}
	return nil
}

// filterVariants drops candidates whose title carries a rendition marker the
// seed title does not. A guild listening to live sets keeps getting live sets.
func (r *Replenisher) filterVariants(tracks []music.Track, seed music.Track) []music.Track {
	out := make([]music.Track, 0, len(tracks))
	for _, t := range tracks {
		if isUnwantedVariant(t.Title, seed.Title) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func isUnwantedVariant(title, seedTitle string) bool {
	for _, p := range variantPatterns {
		if p.MatchString(title) && !p.MatchString(seedTitle) {
			return true
		}
	}
	return false
}

// rankCandidates sorts in place: most shared tags with the seed first,
// view count breaking ties.
func rankCandidates(tracks []music.Track, seedMeta history.Metadata) {
	shared := make(map[string]int, len(tracks))
	for _, t := range tracks {
		shared[t.ExternalID] = sharedTagCount(t, seedMeta)
	}
	sort.SliceStable(tracks, func(i, j int) bool {
		si, sj := shared[tracks[i].ExternalID], shared[tracks[j].ExternalID]
		if si != sj {
			return si > sj
		}
		return tracks[i].ViewCount > tracks[j].ViewCount
	})
}

func sharedTagCount(t music.Track, seedMeta history.Metadata) int {
	derived := history.DeriveMetadata(t)
	count := 0
	for _, tag := range derived.Tags {
		if seedMeta.HasTag(tag) {
			count++
		}
	}
	return count
}
