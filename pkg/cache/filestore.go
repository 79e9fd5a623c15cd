package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// FileStore keeps entries as one JSON object in a file. Every operation takes
// an exclusive lock file next to it, so several processes can share a store.
type FileStore struct {
	path     string
	lockPath string
	opts     options
	used     usage

	mu       sync.Mutex
	failures int
}

// NewFileStore creates a store at dir/name. The directory is created and an
// empty store is written when none exists.
func NewFileStore(dir, name string, opts ...Option) (*FileStore, error) {
	o := defaultOptions()
	o.name = name
	for _, opt := range opts {
		opt(&o)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	path := filepath.Join(dir, name)
	s := &FileStore{path: path, lockPath: path + ".lock", opts: o}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := s.write(map[string]Entry{}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

// Get returns the data stored under key and records the lookup for requestID.
func (s *FileStore) Get(ctx context.Context, key any, requestID string) (json.RawMessage, bool) {
	hash, err := Hash(key)
	if err != nil {
		s.opts.logger.Errorf("Cache key error: %v", err)
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acquireLock(ctx); err != nil {
		s.opts.logger.Warnf("Failed to acquire lock for reading %s: %v", s.opts.name, err)
		return nil, false
	}
	defer s.releaseLock()

	entries := s.read()
	e, ok := entries[hash]
	s.opts.metrics.RecordCacheLookup(s.opts.name, ok)
	if !ok {
		return nil, false
	}
	s.used.track(requestID, hash)
	return e.Data, true
}

// Set stores data under key. One Set in a hundred also evicts expired entries.
func (s *FileStore) Set(ctx context.Context, key any, data any, requestID string) {
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
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acquireLock(ctx); err != nil {
		s.opts.logger.Warnf("Failed to acquire lock for writing %s: %v", s.opts.name, err)
		return
	}
	defer s.releaseLock()

	entries := s.read()
	entries[hash] = entry
	if err := s.write(entries); err != nil {
		s.opts.logger.Errorf("Error writing %s: %v", s.opts.name, err)
		return
	}
	s.used.track(requestID, hash)

	if s.opts.shouldSweep() {
		s.sweep(entries)
	}
}

// Delete removes the entry under key.
func (s *FileStore) Delete(ctx context.Context, key any) {
	hash, err := Hash(key)
	if err != nil {
		s.opts.logger.Errorf("Cache key error: %v", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acquireLock(ctx); err != nil {
		s.opts.logger.Warnf("Failed to acquire lock for removing from %s: %v", s.opts.name, err)
		return
	}
	defer s.releaseLock()

	entries := s.read()
	if _, ok := entries[hash]; !ok {
		s.opts.logger.Debugf("Cache entry not found to delete")
		return
	}
	delete(entries, hash)
	if err := s.write(entries); err != nil {
		s.opts.logger.Errorf("Error removing entry from %s: %v", s.opts.name, err)
	}
}

// DeleteForRequestID removes the entries requestID read or wrote.
func (s *FileStore) DeleteForRequestID(ctx context.Context, requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acquireLock(ctx); err != nil {
		s.opts.logger.Warnf("Failed to acquire lock for clearing %s: %v", s.opts.name, err)
		return
	}
	defer s.releaseLock()

	entries := s.read()
	removed := 0
	for _, hash := range s.used.take(requestID) {
		if _, ok := entries[hash]; ok {
			delete(entries, hash)
			removed++
		}
	}
	if removed == 0 {
		s.opts.logger.Debugf("No %s entries found for request %s", s.opts.name, requestID)
		return
	}
	if err := s.write(entries); err != nil {
		s.opts.logger.Errorf("Error clearing request %s from %s: %v", requestID, s.opts.name, err)
	}
}

// Reset empties the store.
func (s *FileStore) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acquireLock(ctx); err != nil {
		s.opts.logger.Warnf("Failed to acquire lock for resetting %s: %v", s.opts.name, err)
		return
	}
	defer s.releaseLock()
	s.reset()
}

// Close releases nothing; the store holds no open handles between calls.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) reset() {
	if err := s.write(map[string]Entry{}); err != nil {
		s.opts.logger.Errorf("Error resetting %s: %v", s.opts.name, err)
	}
	s.used.clear()
}

// read loads the store. A missing file is empty; an unreadable or corrupt
// one is reset.
func (s *FileStore) read() map[string]Entry {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Entry{}
	}
	entries := map[string]Entry{}
	if err == nil {
		err = json.Unmarshal(raw, &entries)
	}
	if err != nil {
		s.opts.logger.Errorf("Error reading %s, resetting: %v", s.opts.name, err)
		s.reset()
		return map[string]Entry{}
	}
	if entries == nil {
		entries = map[string]Entry{}
	}
	return entries
}

func (s *FileStore) write(entries map[string]Entry) error {
	encoded, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, encoded, 0600); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temp cache file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp cache file: %w", err)
	}
	return nil
}

func (s *FileStore) sweep(entries map[string]Entry) {
	removed := 0
	for hash, e := range entries {
		if s.opts.expired(e) {
			delete(entries, hash)
			removed++
		}
	}
	if removed == 0 {
		return
	}
	if err := s.write(entries); err != nil {
		s.opts.logger.Errorf("Error sweeping %s: %v", s.opts.name, err)
		return
	}
	s.opts.logger.Debugf("Swept %d expired entries from %s", removed, s.opts.name)
}

// acquireLock creates the lock file exclusively, polling until the timeout.
// Stale lock files are removed. After three consecutive timeouts the lock is
// force-released so a crashed holder cannot wedge the store.
func (s *FileStore) acquireLock(ctx context.Context) error {
	deadline := time.Now().Add(s.opts.lockTimeout)
	for {
		f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			f.Close()
			s.failures = 0
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}

		if info, statErr := os.Stat(s.lockPath); statErr == nil && time.Since(info.ModTime()) > s.opts.lockTimeout {
			os.Remove(s.lockPath)
			continue
		}

		if time.Now().After(deadline) {
			s.failures++
			if s.failures >= maxLockFailures {
				s.opts.logger.Warnf("Force-releasing %s lock after %d failed attempts", s.opts.name, s.failures)
				s.releaseLock()
			}
			return ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func (s *FileStore) releaseLock() {
	if err := os.Remove(s.lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.opts.logger.Errorf("Error releasing %s lock: %v", s.opts.name, err)
	}
	s.failures = 0
}
