// Package scheduler executes a run's generation jobs on a shared
// worker pool.
//
// A fan-out group runs N independent jobs concurrently and joins them
// at a barrier: the continuation fires exactly once, after every job
// has reached a terminal state, and receives all results including
// failures. Jobs retry with exponential backoff and jitter; hard and
// soft wall-clock ceilings bound each job regardless of retries. The
// scheduler keeps a run to job-handle index so cancellation never has
// to scan the queue.
package scheduler
