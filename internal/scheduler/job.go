package scheduler

import (
	"context"

	"kurz/internal/manifest"
)

// Job is one unit of work executed on the pool. Do must be safe to
// call repeatedly: failed attempts are retried with the same job.
type Job struct {
	ID    string
	RunID string
	Key   manifest.SlotKey
	Do    func(ctx context.Context) (manifest.AssetRef, error)
}

// Result is the terminal outcome of one job, success or not.
type Result struct {
	Key      manifest.SlotKey
	Ref      manifest.AssetRef
	Err      error
	Attempts int
}

// Failed reports whether the job ended without an asset.
func (r Result) Failed() bool {
	return r.Err != nil
}
