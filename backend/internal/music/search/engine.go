// Package search resolves text queries against flaky upstream track-search
// backends, cascading across fallback engines with bounded retries.
package search

import (
	"context"

	"cadence/backend/internal/music"
)

// Options carries per-search parameters.
type Options struct {
	Requester string // attributed to returned tracks
	Limit     int    // max results, engine may return fewer
}

// Engine is one search backend. Search returns an error on transport or
// parse failure; an empty slice with a nil error means the backend answered
// but found nothing.
type Engine interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]music.Track, error)
}

// Status is the terminal state of a resolve call.
type Status int

const (
	// StatusSucceeded means at least one track was found.
	StatusSucceeded Status = iota
	// StatusFailed means every engine was exhausted or the deadline passed.
	StatusFailed
)

// Outcome is the result of one resolve call. Message is the only user-facing
// failure string in the system.
type Outcome struct {
	Status    Status
	Tracks    []music.Track
	Engine    string // engine that produced the result
	Attempts  int    // total attempts across all engines
	RequestID string
	Message   string // user-facing failure description, empty on success
}

// Succeeded reports whether the resolve produced tracks.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}
