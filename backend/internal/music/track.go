package music

// Track represents a playable track as produced by a search backend.
// Immutable once constructed.
type Track struct {
	URL             string `json:"url"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	DurationSeconds int    `json:"duration_seconds"`
	Thumbnail       string `json:"thumbnail,omitempty"`
	ExternalID      string `json:"external_id,omitempty"`
	ViewCount       int64  `json:"view_count,omitempty"`
	Requester       string `json:"requester,omitempty"`
	Source          string `json:"source,omitempty"` // engine that produced the track
}

// RequestContext carries the identity of whoever caused a queue mutation.
// It is attached at queue creation time and threaded through event handlers
// explicitly instead of being smuggled through untyped metadata.
type RequestContext struct {
	UserID    string
	Username  string
	ChannelID string
}
