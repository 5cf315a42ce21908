package music

import "sync"

// Queue is the live per-guild playback queue. The external playback engine
// consumes tracks from the head; autoplay replenishment appends to the tail.
type Queue struct {
	mu      sync.Mutex
	tracks  []Track
	current *Track
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Add appends a track to the tail of the queue.
func (q *Queue) Add(t Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tracks = append(q.tracks, t)
}

// Size returns the number of tracks waiting to play, excluding the current one.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracks)
}

// Current returns the track currently playing, or nil.
func (q *Queue) Current() *Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return nil
	}
	c := *q.current
	return &c
}

// Next pops the head of the queue and makes it current. Returns nil when the
// queue is empty.
func (q *Queue) Next() *Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tracks) == 0 {
		q.current = nil
		return nil
	}
	head := q.tracks[0]
	q.tracks = q.tracks[1:]
	q.current = &head
	c := head
	return &c
}

// Clear drops all queued tracks and the current track.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tracks = nil
	q.current = nil
}

// UpcomingIDs returns the external IDs of the current track and everything
// still queued. Used to build duplicate-check contexts.
func (q *Queue) UpcomingIDs() map[string]struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make(map[string]struct{}, len(q.tracks)+1)
	if q.current != nil && q.current.ExternalID != "" {
		ids[q.current.ExternalID] = struct{}{}
	}
	for _, t := range q.tracks {
		if t.ExternalID != "" {
			ids[t.ExternalID] = struct{}{}
		}
	}
	return ids
}

// Snapshot returns a copy of the queued tracks, head first.
func (q *Queue) Snapshot() []Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Track, len(q.tracks))
	copy(out, q.tracks)
	return out
}
