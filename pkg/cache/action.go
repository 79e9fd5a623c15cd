package cache

import (
	"context"

	"github.com/entrhq/pagehand/pkg/logging"
)

// ActionKey identifies an action step: the page, the instruction and the
// selectors already used by the operation.
type ActionKey struct {
	URL               string   `json:"url"`
	Action            string   `json:"action"`
	PreviousSelectors []string `json:"previousSelectors"`
}

// Command is a low-level browser command.
type Command struct {
	Method string   `json:"method"`
	Args   []string `json:"args"`
}

// ActionStep is the record written after a successful command.
type ActionStep struct {
	Command           Command  `json:"playwrightCommand"`
	ComponentString   string   `json:"componentString"`
	XPaths            []string `json:"xpaths"`
	NewStepString     string   `json:"newStepString"`
	Completed         bool     `json:"completed"`
	PreviousSelectors []string `json:"previousSelectors"`
	Action            string   `json:"action"`
}

// ActionCache records the steps of successful act operations and purges the
// footprint of failed ones. Steps are written for later analysis and are not
// replayed. A nil *ActionCache is a disabled cache.
type ActionCache struct {
	store  Store
	logger *logging.Logger
}

// NewActionCache wraps store.
func NewActionCache(store Store, logger *logging.Logger) *ActionCache {
	return &ActionCache{store: store, logger: logger}
}

// AddStep records step under key.
func (c *ActionCache) AddStep(ctx context.Context, key ActionKey, step ActionStep, requestID string) {
	if c == nil {
		return
	}
	if key.PreviousSelectors == nil {
		key.PreviousSelectors = []string{}
	}
	c.logger.Debugf("Adding action step to cache: action=%q url=%s request=%s", key.Action, key.URL, requestID)
	c.store.Set(ctx, key, step, requestID)
}

// ClearRequest deletes every step requestID touched.
func (c *ActionCache) ClearRequest(ctx context.Context, requestID string) {
	if c == nil {
		return
	}
	c.store.DeleteForRequestID(ctx, requestID)
	c.logger.Debugf("Cleared action cache for request %s", requestID)
}

// Reset empties the cache.
func (c *ActionCache) Reset(ctx context.Context) {
	if c == nil {
		return
	}
	c.store.Reset(ctx)
	c.logger.Infof("Action cache has been reset")
}
