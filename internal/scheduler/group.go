package scheduler

import (
	"context"
	"sort"
	"sync"

	"kurz/internal/manifest"
)

// group is the barrier for one fan-out. Results are recorded at most
// once per slot key; duplicates from retried deliveries are dropped.
// The continuation fires exactly once, when the last expected key has
// a terminal result.
type group struct {
	ctx          context.Context
	runID        string
	continuation func(ctx context.Context, results []Result)

	mu       sync.Mutex
	expected map[manifest.SlotKey]struct{}
	results  map[manifest.SlotKey]Result
	fired    bool
	done     chan struct{}
}

// newGroup keeps the fan-out's own context for the continuation; job
// contexts are already cancelled by the time the barrier completes.
func newGroup(ctx context.Context, runID string, keys []manifest.SlotKey, continuation func(ctx context.Context, results []Result)) *group {
	expected := make(map[manifest.SlotKey]struct{}, len(keys))
	for _, key := range keys {
		expected[key] = struct{}{}
	}
	return &group{
		ctx:          ctx,
		runID:        runID,
		continuation: continuation,
		expected:     expected,
		results:      make(map[manifest.SlotKey]Result, len(keys)),
		done:         make(chan struct{}),
	}
}

// record stores one terminal result. The call that completes the
// barrier also runs the continuation before returning.
func (g *group) record(result Result) {
	g.mu.Lock()
	if _, expected := g.expected[result.Key]; !expected {
		g.mu.Unlock()
		return
	}
	if _, dup := g.results[result.Key]; dup {
		g.mu.Unlock()
		return
	}
	g.results[result.Key] = result
	complete := len(g.results) == len(g.expected) && !g.fired
	if complete {
		g.fired = true
	}
	g.mu.Unlock()

	if complete {
		g.continuation(g.ctx, g.snapshot())
		close(g.done)
	}
}

// snapshot returns all results in a stable slot-key order.
func (g *group) snapshot() []Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	results := make([]Result, 0, len(g.results))
	for _, result := range g.results {
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Key.String() < results[j].Key.String()
	})
	return results
}

// wait blocks until the continuation has run or the context ends.
func (g *group) wait(ctx context.Context) error {
	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
