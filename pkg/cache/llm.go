package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/entrhq/pagehand/pkg/logging"
	"github.com/entrhq/pagehand/pkg/types"
)

// File names and buckets of the two caches.
const (
	ActionCacheName = "action_cache.json"
	LLMCacheName    = "llm_calls.json"
	sqliteFileName  = "cache.db"

	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// LLMKey identifies a reasoner call.
type LLMKey struct {
	Kind     string           `json:"kind"`
	Model    string           `json:"model"`
	Messages []*types.Message `json:"messages"`
}

// LLMCache stores reasoner responses. A nil *LLMCache is a disabled cache.
type LLMCache struct {
	store  Store
	logger *logging.Logger
}

// NewLLMCache wraps store.
func NewLLMCache(store Store, logger *logging.Logger) *LLMCache {
	return &LLMCache{store: store, logger: logger}
}

// Get decodes the response under key into out.
func (c *LLMCache) Get(ctx context.Context, key LLMKey, requestID string, out any) bool {
	if c == nil {
		return false
	}
	raw, ok := c.store.Get(ctx, key, requestID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.logger.Warnf("Discarding unreadable %s response: %v", key.Kind, err)
		c.store.Delete(ctx, key)
		return false
	}
	c.logger.Debugf("Cache hit for %s call", key.Kind)
	return true
}

// Set stores value under key.
func (c *LLMCache) Set(ctx context.Context, key LLMKey, value any, requestID string) {
	if c == nil {
		return
	}
	c.store.Set(ctx, key, value, requestID)
	c.logger.Debugf("Cache miss - saved new %s response", key.Kind)
}

// ClearRequest deletes every response requestID touched.
func (c *LLMCache) ClearRequest(ctx context.Context, requestID string) {
	if c == nil {
		return
	}
	c.store.DeleteForRequestID(ctx, requestID)
}

// OpenStores opens the action and LLM stores of backend under dir.
func OpenStores(backend, dir string, opts ...Option) (actions, llm Store, err error) {
	switch backend {
	case "", BackendFile:
		a, err := NewFileStore(dir, ActionCacheName, append(opts, WithName("action"))...)
		if err != nil {
			return nil, nil, err
		}
		l, err := NewFileStore(dir, LLMCacheName, append(opts, WithName("llm"))...)
		if err != nil {
			return nil, nil, err
		}
		return a, l, nil
	case BackendSQLite:
		db, err := OpenSQLite(filepath.Join(dir, sqliteFileName))
		if err != nil {
			return nil, nil, err
		}
		a := NewSQLiteStore(db, "action", opts...)
		a.owned = true
		return a, NewSQLiteStore(db, "llm", opts...), nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
