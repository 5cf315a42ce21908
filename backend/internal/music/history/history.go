// Package history keeps the durable, TTL-bounded record of what each guild
// recently played, plus the per-track metadata cache used to seed related
// searches.
//
// Every operation fails open: when the key-value backend is unavailable the
// store logs and returns an empty result instead of an error. A duplicate
// track costs far less than a stalled autoplay loop.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cadence/backend/internal/kvstore"
	"cadence/backend/internal/music"
	pkgerrors "cadence/backend/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// Entry is one played track with its play timestamp.
type Entry struct {
	Track    music.Track `json:"track"`
	PlayedAt int64       `json:"played_at"` // epoch millis
}

// Store persists per-guild play history and per-track metadata.
type Store struct {
	kv          kvstore.Store
	logger      *zap.Logger
	maxSize     int
	historyTTL  time.Duration
	metadataTTL time.Duration
	sf          singleflight.Group
	now         func() time.Time
}

// Options configures a Store.
type Options struct {
	MaxSize     int           // entries kept per guild
	HistoryTTL  time.Duration // whole-key expiry after guild inactivity
	MetadataTTL time.Duration // track metadata cache expiry
}

// NewStore creates a history store on top of the given key-value backend.
func NewStore(kv kvstore.Store, logger *zap.Logger, opts Options) *Store {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 50
	}
	if opts.HistoryTTL <= 0 {
		opts.HistoryTTL = 7 * 24 * time.Hour
	}
	if opts.MetadataTTL <= 0 {
		opts.MetadataTTL = 24 * time.Hour
	}
	return &Store{
		kv:          kv,
		logger:      logger,
		maxSize:     opts.MaxSize,
		historyTTL:  opts.HistoryTTL,
		metadataTTL: opts.MetadataTTL,
		now:         time.Now,
	}
}

// SetClock overrides the store's clock. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func historyKey(guildID string) string    { return "history:" + guildID }
func historyIDsKey(guildID string) string { return "history:ids:" + guildID }
func metadataKey(externalID string) string {
	return "track:meta:" + externalID
}

// AddEntry prepends a track to the guild's history, trims to the cap and
// refreshes the inactivity TTL. The track's external ID is also registered
// in a side set for O(1) exact-match duplicate lookups.
func (s *Store) AddEntry(ctx context.Context, guildID string, track music.Track) {
	entry := Entry{Track: track, PlayedAt: s.now().UnixMilli()}
	raw, err := json.Marshal(entry)
	if err != nil {
		s.logger.Warn("failed to encode history entry", zap.String("guild_id", guildID), zap.Error(err))
		return
	}

	key := historyKey(guildID)
	if err := s.kv.ListPrepend(ctx, key, string(raw)); err != nil {
		s.logger.Warn("history store unavailable, skipping add",
			zap.String("guild_id", guildID),
			zap.Error(pkgerrors.NewStoreUnavailable("history_add", err)))
		return
	}
	if err := s.kv.ListTrim(ctx, key, 0, s.maxSize-1); err != nil {
		s.logger.Warn("failed to trim history", zap.String("guild_id", guildID), zap.Error(err))
	}
	if err := s.kv.Expire(ctx, key, s.historyTTL); err != nil {
		s.logger.Warn("failed to refresh history TTL", zap.String("guild_id", guildID), zap.Error(err))
	}

	if track.ExternalID != "" {
		idsKey := historyIDsKey(guildID)
		if err := s.kv.SetAdd(ctx, idsKey, track.ExternalID); err != nil {
			s.logger.Warn("failed to register history id", zap.String("guild_id", guildID), zap.Error(err))
		} else if err := s.kv.Expire(ctx, idsKey, s.historyTTL); err != nil {
			s.logger.Warn("failed to refresh history id TTL", zap.String("guild_id", guildID), zap.Error(err))
		}
	}
}

// GetRecent returns up to limit most recent entries, newest first. Returns an
// empty slice when the guild has no history or the store is unavailable.
func (s *Store) GetRecent(ctx context.Context, guildID string, limit int) []Entry {
	if limit <= 0 {
		return nil
	}
	raws, err := s.kv.ListRange(ctx, historyKey(guildID), 0, limit-1)
	if err != nil {
		s.logger.Warn("history store unavailable, returning empty history",
			zap.String("guild_id", guildID),
			zap.Error(pkgerrors.NewStoreUnavailable("history_read", err)))
		return nil
	}

	entries := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			s.logger.Warn("skipping corrupt history entry", zap.String("guild_id", guildID), zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

// GetLastPlayed returns the most recent entry, or nil.
func (s *Store) GetLastPlayed(ctx context.Context, guildID string) *Entry {
	entries := s.GetRecent(ctx, guildID, 1)
	if len(entries) == 0 {
		return nil
	}
	return &entries[0]
}

// ContainsID reports whether an external ID is in the guild's history ID set.
// Returns false when the store is unavailable.
func (s *Store) ContainsID(ctx context.Context, guildID, externalID string) bool {
	if externalID == "" {
		return false
	}
	members, err := s.kv.SetMembers(ctx, historyIDsKey(guildID))
	if err != nil {
		s.logger.Warn("history id set unavailable", zap.String("guild_id", guildID), zap.Error(err))
		return false
	}
	for _, m := range members {
		if m == externalID {
			return true
		}
	}
	return false
}

// Clear removes the guild's history list, ID set and the metadata cached for
// the tracks it references.
func (s *Store) Clear(ctx context.Context, guildID string) {
	ids, err := s.kv.SetMembers(ctx, historyIDsKey(guildID))
	if err != nil {
		s.logger.Warn("failed to list history ids for clear", zap.String("guild_id", guildID), zap.Error(err))
	}
	for _, id := range ids {
		if err := s.kv.Delete(ctx, metadataKey(id)); err != nil {
			s.logger.Warn("failed to delete cached metadata", zap.String("external_id", id), zap.Error(err))
		}
	}
	if err := s.kv.Delete(ctx, historyKey(guildID)); err != nil {
		s.logger.Warn("failed to delete history list", zap.String("guild_id", guildID), zap.Error(err))
	}
	if err := s.kv.Delete(ctx, historyIDsKey(guildID)); err != nil {
		s.logger.Warn("failed to delete history id set", zap.String("guild_id", guildID), zap.Error(err))
	}
}

// StoreMetadata caches derived track metadata under its own TTL, independent
// of any guild's history lifetime.
func (s *Store) StoreMetadata(ctx context.Context, externalID string, meta Metadata) {
	if externalID == "" {
		return
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		s.logger.Warn("failed to encode track metadata", zap.String("external_id", externalID), zap.Error(err))
		return
	}
	if err := s.kv.SetWithTTL(ctx, metadataKey(externalID), string(raw), s.metadataTTL); err != nil {
		s.logger.Warn("metadata store unavailable, skipping cache", zap.String("external_id", externalID), zap.Error(err))
	}
}

// GetMetadata returns cached metadata for a track, or nil.
func (s *Store) GetMetadata(ctx context.Context, externalID string) *Metadata {
	if externalID == "" {
		return nil
	}
	raw, ok, err := s.kv.Get(ctx, metadataKey(externalID))
	if err != nil {
		s.logger.Warn("metadata store unavailable", zap.String("external_id", externalID), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		s.logger.Warn("corrupt cached metadata", zap.String("external_id", externalID), zap.Error(err))
		return nil
	}
	return &meta
}

// EnsureMetadata derives and caches metadata for a track unless it is already
// cached. Concurrent calls for the same track collapse into one derivation.
func (s *Store) EnsureMetadata(ctx context.Context, track music.Track) {
	if track.ExternalID == "" {
		return
	}
	_, _, _ = s.sf.Do(track.ExternalID, func() (interface{}, error) {
		if existing := s.GetMetadata(ctx, track.ExternalID); existing != nil {
			return nil, nil
		}
		meta := DeriveMetadata(track)
		s.StoreMetadata(ctx, track.ExternalID, meta)
		return nil, nil
	})
}

// Describe returns a short human-readable summary of an entry, used by the
// ops API.
func (e Entry) Describe() string {
	return fmt.Sprintf("%s - %s", e.Track.Author, e.Track.Title)
}
