package orchestrator

import "sync"

// SharedContext is the per-run map accumulating successful task outputs,
// keyed by task id, so later tasks can read upstream results. Writes are
// serialized by the executor's single driving loop; Snapshot gives a task
// the point-in-time view it sees when its agent is created, not a live one.
type SharedContext struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewSharedContext creates an empty shared context.
func NewSharedContext() *SharedContext {
	return &SharedContext{data: make(map[string]any)}
}

// Set records task id's output. Callers must only do this for a task whose
// result status is success (an executor-level invariant, not enforced here).
func (c *SharedContext) Set(taskID string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[taskID] = value
}

// Get returns the recorded output for taskID, if any.
func (c *SharedContext) Get(taskID string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[taskID]
	return v, ok
}

// Snapshot returns a shallow copy of the map as it stands at call time.
func (c *SharedContext) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}
