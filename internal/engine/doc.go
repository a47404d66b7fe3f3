// Package engine coordinates the full run lifecycle: planning, the
// asset fan-out, rendering, and QA.
//
// Every mutation of a run's state machine or manifest goes through a
// per-run owner that serializes read-modify-write cycles against the
// store. The owner caches the state machine as an optimization; any
// external operation that must force a re-read, cancellation above
// all, invalidates the cache first. The durable store stays the
// source of truth across processes.
package engine
