package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/entrhq/pagehand/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type storeFactory func(t *testing.T, opts ...Option) Store

var backends = map[string]storeFactory{
	"file": func(t *testing.T, opts ...Option) Store {
		s, err := NewFileStore(t.TempDir(), "test_cache.json", opts...)
		require.NoError(t, err)
		return s
	},
	"sqlite": func(t *testing.T, opts ...Option) Store {
		s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "cache.db"), "test", opts...)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	},
}

func never() float64  { return 1 }
func always() float64 { return 0 }

func TestHashIgnoresFieldOrder(t *testing.T) {
	a, err := Hash(map[string]any{"url": "u", "action": "a"})
	require.NoError(t, err)
	b, err := Hash(ActionKey{URL: "u", Action: "a"})
	require.NoError(t, err)
	c, err := Hash(struct {
		Action string `json:"action"`
		URL    string `json:"url"`
	}{"a", "u"})
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, c)
	assert.NotEqual(t, a, b, "previousSelectors is part of the key")
}

func TestHashRejectsUnencodableKeys(t *testing.T) {
	_, err := Hash(map[string]any{"f": func() {}})
	assert.Error(t, err)
}

func TestStoreRoundTrip(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t, WithRandom(never))

			_, ok := s.Get(ctx, "missing", "r")
			assert.False(t, ok)

			s.Set(ctx, map[string]string{"k": "v"}, map[string]int{"n": 1}, "r1")
			raw, ok := s.Get(ctx, map[string]string{"k": "v"}, "r1")
			require.True(t, ok)
			assert.JSONEq(t, `{"n":1}`, string(raw))

			s.Set(ctx, map[string]string{"k": "v"}, "replaced", "r1")
			raw, ok = s.Get(ctx, map[string]string{"k": "v"}, "r1")
			require.True(t, ok)
			assert.JSONEq(t, `"replaced"`, string(raw))

			s.Delete(ctx, map[string]string{"k": "v"})
			_, ok = s.Get(ctx, map[string]string{"k": "v"}, "r1")
			assert.False(t, ok)
		})
	}
}

func TestStoreDeleteForRequestIDProperty(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t, WithRandom(never))

			rapid.Check(t, func(t *rapid.T) {
				s.Reset(ctx)
				owners := rapid.SliceOfN(rapid.SampledFrom([]string{"r1", "r2"}), 1, 12).Draw(t, "owners")
				values := make([]string, len(owners))
				for i, owner := range owners {
					values[i] = rapid.String().Draw(t, fmt.Sprintf("value%d", i))
					s.Set(ctx, ActionKey{URL: fmt.Sprintf("https://site/%d", i)}, values[i], owner)
				}

				for i := range owners {
					raw, ok := s.Get(ctx, ActionKey{URL: fmt.Sprintf("https://site/%d", i)}, "")
					if !ok {
						t.Fatalf("entry %d missing", i)
					}
					var got string
					if err := json.Unmarshal(raw, &got); err != nil || got != values[i] {
						t.Fatalf("entry %d = %q (%v), want %q", i, got, err, values[i])
					}
				}

				s.DeleteForRequestID(ctx, "r1")
				for i, owner := range owners {
					_, ok := s.Get(ctx, ActionKey{URL: fmt.Sprintf("https://site/%d", i)}, "")
					if ok == (owner == "r1") {
						t.Fatalf("entry %d owned by %s present=%v after clearing r1", i, owner, ok)
					}
				}
			})
		})
	}
}

func TestStoreEvictsByAgeProperty(t *testing.T) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			sweep := false
			s := open(t,
				WithClock(func() time.Time { return now }),
				WithRandom(func() float64 {
					if sweep {
						return always()
					}
					return never()
				}),
			)

			rapid.Check(t, func(t *rapid.T) {
				s.Reset(ctx)
				sweep = false
				start := now
				ages := rapid.SliceOfN(rapid.IntRange(0, 14), 1, 8).Draw(t, "ageDays")
				for i, age := range ages {
					now = start.Add(-time.Duration(age) * 24 * time.Hour).Add(-time.Minute)
					s.Set(ctx, i, "v", "")
				}

				now = start
				sweep = true
				s.Set(ctx, "trigger", "v", "")
				sweep = false

				for i, age := range ages {
					_, ok := s.Get(ctx, i, "")
					want := age < 7
					if ok != want {
						t.Fatalf("entry aged %d days present=%v, want %v", age, ok, want)
					}
				}
			})
		})
	}
}

func TestFileStoreCorruptFileResets(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir(), "c.json", WithRandom(never))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0600))
	_, ok := s.Get(ctx, "k", "r")
	assert.False(t, ok)

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))

	s.Set(ctx, "k", 1, "r")
	_, ok = s.Get(ctx, "k", "r")
	assert.True(t, ok)
}

func TestFileStoreWritesEntryShape(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1700000000000)
	s, err := NewFileStore(t.TempDir(), "c.json", WithRandom(never), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	s.Set(ctx, "k", []string{"a"}, "req-1")

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var entries map[string]Entry
	require.NoError(t, json.Unmarshal(raw, &entries))
	hash, err := Hash("k")
	require.NoError(t, err)
	require.Contains(t, entries, hash)
	assert.Equal(t, int64(1700000000000), entries[hash].Timestamp)
	assert.Equal(t, "req-1", entries[hash].RequestID)
	assert.JSONEq(t, `["a"]`, string(entries[hash].Data))

	_, err = os.Stat(s.Path() + ".lock")
	assert.True(t, os.IsNotExist(err), "lock is released after each call")
}

func TestFileStoreLockTimeoutAndForcedRelease(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir(), "c.json", WithRandom(never), WithLockTimeout(time.Hour))
	require.NoError(t, err)
	s.Set(ctx, "k", 1, "")

	s.opts.lockTimeout = 20 * time.Millisecond
	lock := s.Path() + ".lock"
	require.NoError(t, os.WriteFile(lock, []byte("12345"), 0600))
	// A lock from the future is never stale.
	future := time.Now().Add(time.Hour)
	fresh := func() { require.NoError(t, os.Chtimes(lock, future, future)) }

	fresh()
	_, ok := s.Get(ctx, "k", "")
	assert.False(t, ok)
	fresh()
	_, ok = s.Get(ctx, "k", "")
	assert.False(t, ok)
	fresh()
	_, ok = s.Get(ctx, "k", "")
	assert.False(t, ok)

	_, err = os.Stat(lock)
	assert.True(t, os.IsNotExist(err), "third failure force-releases the lock")

	_, ok = s.Get(ctx, "k", "")
	assert.True(t, ok)
}

func TestFileStoreRemovesStaleLock(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir(), "c.json", WithRandom(never), WithLockTimeout(50*time.Millisecond))
	require.NoError(t, err)

	lock := s.Path() + ".lock"
	require.NoError(t, os.WriteFile(lock, []byte("1"), 0600))
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(lock, old, old))

	s.Set(ctx, "k", 1, "")
	_, ok := s.Get(ctx, "k", "")
	assert.True(t, ok)
}

func TestFileStoreSharedAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, err := NewFileStore(dir, "c.json", WithRandom(never))
	require.NoError(t, err)
	b, err := NewFileStore(dir, "c.json", WithRandom(never))
	require.NoError(t, err)

	a.Set(ctx, "k", "from a", "")
	raw, ok := b.Get(ctx, "k", "")
	require.True(t, ok)
	assert.JSONEq(t, `"from a"`, string(raw))
}

func TestActionCacheSteps(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), ActionCacheName, WithRandom(never))
	require.NoError(t, err)
	c := NewActionCache(store, nil)

	key := ActionKey{URL: "https://example.test/", Action: "click submit"}
	step := ActionStep{
		Command:         Command{Method: "click", Args: []string{}},
		ComponentString: "<button>Submit</button>",
		XPaths:          []string{"/html/body[1]/button[1]"},
		NewStepString:   "## Step: click\n",
		Completed:       true,
		Action:          "click submit",
	}
	c.AddStep(ctx, key, step, "req")

	got, ok := storedStep(t, store, ActionKey{URL: key.URL, Action: key.Action, PreviousSelectors: []string{}}, "req")
	require.True(t, ok)
	assert.Equal(t, step, *got)

	c.ClearRequest(ctx, "req")
	_, ok = storedStep(t, store, key, "")
	assert.False(t, ok)
}

func TestActionCacheReset(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), ActionCacheName, WithRandom(never))
	require.NoError(t, err)
	c := NewActionCache(store, nil)

	k1 := ActionKey{URL: "u", Action: "a"}
	k2 := ActionKey{URL: "u", Action: "b", PreviousSelectors: []string{"/html"}}
	c.AddStep(ctx, k1, ActionStep{Action: "a"}, "")
	c.AddStep(ctx, k2, ActionStep{Action: "b"}, "")

	got, ok := storedStep(t, store, k1, "")
	require.True(t, ok, "a nil selector path is stored as empty")
	assert.Equal(t, "a", got.Action)
	_, ok = storedStep(t, store, k2, "")
	assert.True(t, ok)

	c.Reset(ctx)
	_, ok = storedStep(t, store, k1, "")
	assert.False(t, ok)
	_, ok = storedStep(t, store, k2, "")
	assert.False(t, ok)
}

// storedStep reads the step under key straight from the store.
func storedStep(t *testing.T, s Store, key ActionKey, requestID string) (*ActionStep, bool) {
	t.Helper()
	if key.PreviousSelectors == nil {
		key.PreviousSelectors = []string{}
	}
	raw, ok := s.Get(context.Background(), key, requestID)
	if !ok {
		return nil, false
	}
	var step ActionStep
	require.NoError(t, json.Unmarshal(raw, &step))
	return &step, true
}

func TestDisabledCachesAreNoOps(t *testing.T) {
	ctx := context.Background()
	var actions *ActionCache
	var llm *LLMCache

	assert.NotPanics(t, func() {
		actions.AddStep(ctx, ActionKey{}, ActionStep{}, "r")
		actions.ClearRequest(ctx, "r")
		actions.Reset(ctx)
		llm.Set(ctx, LLMKey{}, "x", "r")
		llm.ClearRequest(ctx, "r")
	})
	var out string
	assert.False(t, llm.Get(ctx, LLMKey{}, "r", &out))
}

func TestLLMCacheKeysOnMessages(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), LLMCacheName, WithRandom(never))
	require.NoError(t, err)
	c := NewLLMCache(store, nil)

	key := LLMKey{Kind: "act", Model: "gpt-4o", Messages: []*types.Message{types.NewUserMessage("hi")}}
	c.Set(ctx, key, map[string]string{"answer": "42"}, "req")

	var out map[string]string
	require.True(t, c.Get(ctx, key, "req", &out))
	assert.Equal(t, "42", out["answer"])

	other := key
	other.Messages = []*types.Message{types.NewUserMessage("hello")}
	assert.False(t, c.Get(ctx, other, "req", &out))

	c.ClearRequest(ctx, "req")
	assert.False(t, c.Get(ctx, key, "", &out))
}

func TestOpenStores(t *testing.T) {
	for _, backend := range []string{BackendFile, BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			actions, llm, err := OpenStores(backend, t.TempDir(), WithRandom(never))
			require.NoError(t, err)
			defer actions.Close()
			defer llm.Close()

			actions.Set(ctx, "k", "action", "")
			llm.Set(ctx, "k", "llm", "")

			raw, ok := actions.Get(ctx, "k", "")
			require.True(t, ok)
			assert.JSONEq(t, `"action"`, string(raw))
			raw, ok = llm.Get(ctx, "k", "")
			require.True(t, ok)
			assert.JSONEq(t, `"llm"`, string(raw))
		})
	}

	_, _, err := OpenStores("redis", t.TempDir())
	assert.Error(t, err)
}
