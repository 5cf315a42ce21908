// Package dedupe decides whether a candidate track would repeat something the
// guild just heard.
package dedupe

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"cadence/backend/internal/music"
	"cadence/backend/internal/music/history"
)

// CheckContext is the request-scoped input for one duplicate evaluation.
// Constructed fresh per candidate; never persisted.
type CheckContext struct {
	GuildID   string
	Candidate music.Track
	QueueIDs  map[string]struct{} // external IDs currently in the live queue
	Recent    []history.Entry     // recent history, newest first
}

// Detector applies the ordered duplicate rules.
type Detector struct {
	history             *history.Store
	logger              *zap.Logger
	similarityThreshold float64
	minTitleLength      int
	similarityWindow    int
}

// Options configures a Detector.
type Options struct {
	SimilarityThreshold float64 // default 0.8
	MinTitleLength      int     // default 5
	SimilarityWindow    int     // history entries checked by the similarity rule, default 15
}

// NewDetector creates a detector consulting the given history store.
func NewDetector(hist *history.Store, logger *zap.Logger, opts Options) *Detector {
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = 0.8
	}
	if opts.MinTitleLength <= 0 {
		opts.MinTitleLength = 5
	}
	if opts.SimilarityWindow <= 0 {
		opts.SimilarityWindow = 15
	}
	return &Detector{
		history:             hist,
		logger:              logger,
		similarityThreshold: opts.SimilarityThreshold,
		minTitleLength:      opts.MinTitleLength,
		similarityWindow:    opts.SimilarityWindow,
	}
}

// IsDuplicate evaluates the rule chain in order; the first rule that fires
// wins. On internal error the candidate is rejected: skipping an uncertain
// track is cheaper than a loud repeat.
func (d *Detector) IsDuplicate(ctx context.Context, cc CheckContext) (dup bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("duplicate check panicked, rejecting candidate",
				zap.String("guild_id", cc.GuildID),
				zap.String("title", cc.Candidate.Title),
				zap.Any("panic", r),
			)
			dup = true
		}
	}()

	// 1. Untracked candidates cannot be deduplicated safely.
	if cc.Candidate.ExternalID == "" {
		return true
	}

	// 2. Already scheduled.
	if _, queued := cc.QueueIDs[cc.Candidate.ExternalID]; queued {
		return true
	}

	// 3. Played within the retained history window.
	if d.history.ContainsID(ctx, cc.GuildID, cc.Candidate.ExternalID) {
		return true
	}

	// 4. Same URL as a recent entry.
	for _, e := range cc.Recent {
		if e.Track.URL != "" && e.Track.URL == cc.Candidate.URL {
			return true
		}
	}

	// 5. Near-identical title. A cheap character-level metric catches
	// re-uploads and trivial variants without touching audio.
	if d.titleMatchesRecent(cc.Candidate.Title, cc.Recent) {
		return true
	}

	// 6. Same-artist cooldown: avoid three-in-a-row runs of one artist.
	if d.artistOnCooldown(cc.Candidate.Author, cc.Recent) {
		return true
	}

	return false
}

func (d *Detector) titleMatchesRecent(title string, recent []history.Entry) bool {
	candidate := NormalizeTitle(title)
	if utf8.RuneCountInString(candidate) < d.minTitleLength {
		return false
	}

	window := recent
	if len(window) > d.similarityWindow {
		window = window[:d.similarityWindow]
	}
	for _, e := range window {
		other := NormalizeTitle(e.Track.Title)
		if utf8.RuneCountInString(other) < d.minTitleLength {
			continue
		}
		if Similarity(candidate, other) > d.similarityThreshold {
			return true
		}
	}
	return false
}

func (d *Detector) artistOnCooldown(author string, recent []history.Entry) bool {
	if len(recent) < 2 {
		return false
	}
	candidate := NormalizeAuthor(author)
	if candidate == "" {
		return false
	}
	if NormalizeAuthor(recent[0].Track.Author) != candidate {
		return false
	}
	for _, e := range recent[1:] {
		if NormalizeAuthor(e.Track.Author) == candidate {
			return true
		}
	}
	return false
}

// FindSimilarTracks scans the guild's recent history for entries sharing at
// least one title token with the given title, most recent first. Diagnostic
// surface; not used for gating.
func (d *Detector) FindSimilarTracks(ctx context.Context, guildID, title string, limit int) []history.Entry {
	if limit <= 0 {
		return nil
	}
	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(title)) {
		tokens[tok] = struct{}{}
	}
	if len(tokens) == 0 {
		return nil
	}

	var matches []history.Entry
	for _, e := range d.history.GetRecent(ctx, guildID, 50) {
		for _, tok := range strings.Fields(strings.ToLower(e.Track.Title)) {
			if _, shared := tokens[tok]; shared {
				matches = append(matches, e)
				break
			}
		}
		if len(matches) >= limit {
			break
		}
	}
	return matches
}
