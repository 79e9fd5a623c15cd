package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS cache_entries (
	bucket     TEXT    NOT NULL,
	hash       TEXT    NOT NULL,
	data       BLOB    NOT NULL,
	timestamp  INTEGER NOT NULL,
	request_id TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (bucket, hash)
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_timestamp ON cache_entries(bucket, timestamp);`

// OpenSQLite opens (creating if needed) the SQLite database at path with the
// cache schema applied. SQLite's own locking replaces the lock file.
func OpenSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 1000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}
	return db, nil
}

// SQLiteStore keeps entries in one bucket of a shared SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	bucket string
	owned  bool
	opts   options
	used   usage
}

// NewSQLiteStore stores entries under bucket in db. The caller keeps
// ownership of db.
func NewSQLiteStore(db *sql.DB, bucket string, opts ...Option) *SQLiteStore {
	o := defaultOptions()
	o.name = bucket
	for _, opt := range opts {
		opt(&o)
	}
	return &SQLiteStore{db: db, bucket: bucket, opts: o}
}

// OpenSQLiteStore opens a database at path owned by the returned store.
func OpenSQLiteStore(path, bucket string, opts ...Option) (*SQLiteStore, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	s := NewSQLiteStore(db, bucket, opts...)
	s.owned = true
	return s, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key any, requestID string) (json.RawMessage, bool) {
	hash, err := Hash(key)
	if err != nil {
		s.opts.logger.Errorf("Cache key error: %v", err)
		return nil, false
	}
	var data []byte
	err = s.db.QueryRowContext(ctx,
		`SELECT data FROM cache_entries WHERE bucket = ? AND hash = ?`, s.bucket, hash).Scan(&data)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.opts.logger.Errorf("Error reading %s: %v", s.opts.name, err)
		}
		s.opts.metrics.RecordCacheLookup(s.opts.name, false)
		return nil, false
	}
	s.opts.metrics.RecordCacheLookup(s.opts.name, true)
	s.used.track(requestID, hash)
	return json.RawMessage(data), true
}

func (s *SQLiteStore) Set(ctx context.Context, key any, data any, requestID string) {
	hash, err := Hash(key)
	if err != nil {
		s.opts.logger.Errorf("Cache key error: %v", err)
		return
	}
	entry, err := s.opts.newEntry(data, requestID)
	if err != nil {
		s.opts.logger.Errorf("Cache value error: %v", err)
		return
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (bucket, hash, data, timestamp, request_id) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(bucket, hash) DO UPDATE SET data = excluded.data, timestamp = excluded.timestamp, request_id = excluded.request_id`,
		s.bucket, hash, []byte(entry.Data), entry.Timestamp, entry.RequestID)
	if err != nil {
		s.opts.logger.Errorf("Error writing %s: %v", s.opts.name, err)
		return
	}
	s.used.track(requestID, hash)

	if s.opts.shouldSweep() {
		s.sweep(ctx)
	}
}

func (s *SQLiteStore) Delete(ctx context.Context, key any) {
	hash, err := Hash(key)
	if err != nil {
		s.opts.logger.Errorf("Cache key error: %v", err)
		return
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE bucket = ? AND hash = ?`, s.bucket, hash); err != nil {
		s.opts.logger.Errorf("Error removing entry from %s: %v", s.opts.name, err)
	}
}

func (s *SQLiteStore) DeleteForRequestID(ctx context.Context, requestID string) {
	hashes := s.used.take(requestID)
	if len(hashes) == 0 {
		s.opts.logger.Debugf("No %s entries found for request %s", s.opts.name, requestID)
		return
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.opts.logger.Errorf("Error clearing request %s from %s: %v", requestID, s.opts.name, err)
		return
	}
	defer tx.Rollback() //nolint:errcheck
	for _, hash := range hashes {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE bucket = ? AND hash = ?`, s.bucket, hash); err != nil {
			s.opts.logger.Errorf("Error clearing request %s from %s: %v", requestID, s.opts.name, err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		s.opts.logger.Errorf("Error clearing request %s from %s: %v", requestID, s.opts.name, err)
	}
}

func (s *SQLiteStore) Reset(ctx context.Context) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE bucket = ?`, s.bucket); err != nil {
		s.opts.logger.Errorf("Error resetting %s: %v", s.opts.name, err)
	}
	s.used.clear()
}

// Close closes the database when the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) sweep(ctx context.Context) {
	cutoff := s.opts.now().Add(-s.opts.maxAge).UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE bucket = ? AND timestamp < ?`, s.bucket, cutoff)
	if err != nil {
		s.opts.logger.Errorf("Error sweeping %s: %v", s.opts.name, err)
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.opts.logger.Debugf("Swept %d expired entries from %s", n, s.opts.name)
	}
}
