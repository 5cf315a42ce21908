package kvstore

import (
	"context"
	"time"
)

// Store is the key-value backend contract shared by history, metadata and
// rate-limit state. Implementations must be safe for concurrent use from
// multiple guilds' event handlers.
//
// Callers are expected to treat every method as optionally unavailable and
// degrade to their documented fallback instead of propagating the error.
type Store interface {
	// Get returns the string value at key. The second return is false when
	// the key does not exist or has expired.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores a string value with no expiry.
	Set(ctx context.Context, key, value string) error
	// SetWithTTL stores a string value that expires after ttl.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes a key of any kind. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Expire resets the TTL on an existing key. Missing keys are a no-op.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// ListPrepend pushes a value onto the head of the list at key.
	ListPrepend(ctx context.Context, key, value string) error
	// ListRange returns elements between start and stop inclusive, head first.
	// Negative stop counts from the tail, -1 meaning the last element.
	ListRange(ctx context.Context, key string, start, stop int) ([]string, error)
	// ListTrim keeps only elements between start and stop inclusive.
	ListTrim(ctx context.Context, key string, start, stop int) error

	// SetAdd adds a member to the set at key.
	SetAdd(ctx context.Context, key, member string) error
	// SetMembers returns all members of the set at key.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// KeysByPattern returns keys matching a glob-style pattern where '*'
	// matches any run of characters.
	KeysByPattern(ctx context.Context, pattern string) ([]string, error)
}

// clampRange resolves a redis-style start/stop pair against a list length.
// Returns ok=false when the range selects nothing.
func clampRange(length, start, stop int) (int, int, bool) {
	if length == 0 {
		return 0, 0, false
	}
	if start < 0 {
		start = length + start
	}
	if stop < 0 {
		stop = length + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	if start > stop || start >= length {
		return 0, 0, false
	}
	return start, stop, true
}
