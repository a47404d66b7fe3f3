// Package runstore persists run records in SQLite.
//
// A run row carries the immutable request spec, the current lifecycle
// state with its transition history, the scene manifest, and progress
// bookkeeping. The store is the durable source of truth; in-memory
// state machines are rebuilt from it and written back after every
// mutation.
package runstore
