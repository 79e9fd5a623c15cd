// Package cache provides the durable stores behind the action and LLM
// response caches.
//
// Stores never surface I/O failures to callers: a failed read is a miss and a
// failed write is dropped, with the failure logged. A corrupt store resets
// itself to empty.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/entrhq/pagehand/pkg/logging"
	"github.com/entrhq/pagehand/pkg/metrics"
)

const (
	// DefaultMaxAge is how long an entry lives before a sweep may evict it.
	DefaultMaxAge = 7 * 24 * time.Hour
	// DefaultLockTimeout bounds lock acquisition. Lock files older than this
	// are considered stale.
	DefaultLockTimeout = time.Second
	// SweepProbability is the chance that a Set sweeps out expired entries.
	SweepProbability = 0.01

	lockPollInterval = 5 * time.Millisecond
	maxLockFailures  = 3
)

// ErrLockTimeout is logged when the store lock could not be acquired in time.
var ErrLockTimeout = errors.New("timed out acquiring cache lock")

// Entry is a stored value.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	RequestID string          `json:"requestId"`
}

// Store is a keyed entry store. Keys are any JSON-encodable value and are
// addressed by Hash.
type Store interface {
	Get(ctx context.Context, key any, requestID string) (json.RawMessage, bool)
	Set(ctx context.Context, key any, data any, requestID string)
	Delete(ctx context.Context, key any)
	// DeleteForRequestID removes every entry read or written under requestID
	// by this store instance.
	DeleteForRequestID(ctx context.Context, requestID string)
	Reset(ctx context.Context)
	Close() error
}

// Hash returns the SHA-256 of the canonical JSON encoding of key. Object keys
// are sorted so equal keys hash equally regardless of field order.
func Hash(key any) (string, error) {
	raw, err := json.Marshal(key)
	if err != nil {
		return "", fmt.Errorf("failed to encode cache key: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("failed to normalize cache key: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("failed to encode cache key: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Option configures a store.
type Option func(*options)

type options struct {
	logger      *logging.Logger
	metrics     *metrics.Collector
	name        string
	now         func() time.Time
	random      func() float64
	maxAge      time.Duration
	lockTimeout time.Duration
}

func defaultOptions() options {
	return options{
		name:        "cache",
		now:         time.Now,
		random:      rand.Float64,
		maxAge:      DefaultMaxAge,
		lockTimeout: DefaultLockTimeout,
	}
}

// WithLogger sets the logger failures are reported to.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records lookups on c under the store's name.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithName labels the store in logs and metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithClock replaces the clock used for entry timestamps and eviction.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRandom replaces the source deciding when Set sweeps.
func WithRandom(random func() float64) Option {
	return func(o *options) { o.random = random }
}

// WithMaxAge sets the entry lifetime.
func WithMaxAge(d time.Duration) Option {
	return func(o *options) { o.maxAge = d }
}

// WithLockTimeout sets the lock acquisition timeout.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) { o.lockTimeout = d }
}

func (o *options) expired(e Entry) bool {
	return o.now().Sub(time.UnixMilli(e.Timestamp)) > o.maxAge
}

func (o *options) shouldSweep() bool {
	return o.random() < SweepProbability
}

func (o *options) newEntry(data any, requestID string) (Entry, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to encode cache value: %w", err)
	}
	return Entry{Data: raw, Timestamp: o.now().UnixMilli(), RequestID: requestID}, nil
}

// usage remembers which hashes each request touched.
type usage struct {
	mu     sync.Mutex
	hashes map[string][]string
}

func (u *usage) track(requestID, hash string) {
	if requestID == "" {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.hashes == nil {
		u.hashes = make(map[string][]string)
	}
	u.hashes[requestID] = append(u.hashes[requestID], hash)
}

func (u *usage) take(requestID string) []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	hashes := u.hashes[requestID]
	delete(u.hashes, requestID)
	return hashes
}

func (u *usage) clear() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.hashes = nil
}
