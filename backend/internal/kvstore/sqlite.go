package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	pkgerrors "cadence/backend/pkg/errors"
)

// SQLiteStore is the durable Store implementation. Every key lives in a
// single kv table; lists and sets are JSON-encoded so read-modify-write
// sequences stay simple. A background sweeper removes expired rows, and
// reads also skip rows whose expiry has passed, so TTL behavior does not
// depend on sweeper timing.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.Mutex // serializes read-modify-write on lists and sets
	done chan struct{}
	wg   sync.WaitGroup
}

const sweepInterval = time.Minute

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db, done: make(chan struct{})}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.wg.Add(1)
	go s.sweep()

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		kind       TEXT NOT NULL,
		value      TEXT NOT NULL,
		expires_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_kv_expires ON kv(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// sweep periodically deletes expired rows
func (s *SQLiteStore) sweep() {
	defer s.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.db.Exec(`DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?`, time.Now().UnixMilli())
		}
	}
}

// Close stops the sweeper and closes the database.
func (s *SQLiteStore) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}

func (s *SQLiteStore) load(ctx context.Context, key, wantKind string) (string, bool, error) {
	var kind, value string
	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT kind, value, expires_at FROM kv WHERE key = ?`, key).Scan(&kind, &value, &expiresAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if expiresAt.Valid && expiresAt.Int64 <= time.Now().UnixMilli() {
		return "", false, nil
	}
	if kind != wantKind {
		return "", false, nil
	}
	return value, true, nil
}

func (s *SQLiteStore) save(ctx context.Context, key, kind, value string, expiresAt *int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, kind, value, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET kind = excluded.kind, value = excluded.value, expires_at = excluded.expires_at`,
		key, kind, value, expiresAt)
	return err
}

func ttlMillis(ttl time.Duration) *int64 {
	at := time.Now().Add(ttl).UnixMilli()
	return &at
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	return s.load(ctx, key, "string")
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	return s.save(ctx, key, "string", value, nil)
}

func (s *SQLiteStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.save(ctx, key, "string", value, ttlMillis(ttl))
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (s *SQLiteStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE kv SET expires_at = ? WHERE key = ?`, *ttlMillis(ttl), key)
	return err
}

func (s *SQLiteStore) loadList(ctx context.Context, key string) ([]string, error) {
	raw, ok, err := s.load(ctx, key, "list")
	if err != nil || !ok {
		return nil, err
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, pkgerrors.NewStoreCorruptValue(key, err)
	}
	return list, nil
}

func (s *SQLiteStore) saveList(ctx context.Context, key string, list []string) error {
	if len(list) == 0 {
		return s.Delete(ctx, key)
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	// Preserve an existing expiry only while it is still in the future; an
	// expired unswept row counts as absent, so the rewrite must not inherit
	// its expiry.
	var expiresAt *int64
	var current sql.NullInt64
	if qerr := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM kv WHERE key = ? AND expires_at > ?`,
		key, time.Now().UnixMilli()).Scan(&current); qerr == nil && current.Valid {
		expiresAt = &current.Int64
	}
	return s.save(ctx, key, "list", string(raw), expiresAt)
}

func (s *SQLiteStore) ListPrepend(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.loadList(ctx, key)
	if err != nil {
		return err
	}
	return s.saveList(ctx, key, append([]string{value}, list...))
}

func (s *SQLiteStore) ListRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.loadList(ctx, key)
	if err != nil {
		return nil, err
	}
	lo, hi, ok := clampRange(len(list), start, stop)
	if !ok {
		return nil, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, list[lo:hi+1])
	return out, nil
}

func (s *SQLiteStore) ListTrim(ctx context.Context, key string, start, stop int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.loadList(ctx, key)
	if err != nil {
		return err
	}
	lo, hi, ok := clampRange(len(list), start, stop)
	if !ok {
		return s.Delete(ctx, key)
	}
	return s.saveList(ctx, key, list[lo:hi+1])
}

func (s *SQLiteStore) SetAdd(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok, err := s.load(ctx, key, "set")
	if err != nil {
		return err
	}
	var members []string
	if ok {
		if err := json.Unmarshal([]byte(raw), &members); err != nil {
			return pkgerrors.NewStoreCorruptValue(key, err)
		}
	}
	for _, m := range members {
		if m == member {
			return nil
		}
	}
	members = append(members, member)
	encoded, err := json.Marshal(members)
	if err != nil {
		return err
	}
	// Preserve an existing expiry only while it is still in the future; an
	// expired unswept row counts as absent, so the rewrite must not inherit
	// its expiry.
	var expiresAt *int64
	var current sql.NullInt64
	if qerr := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM kv WHERE key = ? AND expires_at > ?`,
		key, time.Now().UnixMilli()).Scan(&current); qerr == nil && current.Valid {
		expiresAt = &current.Int64
	}
	return s.save(ctx, key, "set", string(encoded), expiresAt)
}

func (s *SQLiteStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok, err := s.load(ctx, key, "set")
	if err != nil || !ok {
		return nil, err
	}
	var members []string
	if err := json.Unmarshal([]byte(raw), &members); err != nil {
		return nil, pkgerrors.NewStoreCorruptValue(key, err)
	}
	return members, nil
}

func (s *SQLiteStore) KeysByPattern(ctx context.Context, pattern string) ([]string, error) {
	like := strings.ReplaceAll(pattern, "*", "%")
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE key LIKE ? AND (expires_at IS NULL OR expires_at > ?)`,
		like, time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
