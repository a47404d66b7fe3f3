package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"kurz/internal/config"
	"kurz/internal/logging"
	"kurz/internal/manifest"
	"kurz/internal/services"
)

// Scheduler owns the worker pool and the run to job-handle index.
type Scheduler struct {
	policy  retryPolicy
	workers int
	logger  *slog.Logger

	tasks chan task
	pool  *errgroup.Group

	mu      sync.Mutex
	handles map[string]map[string]context.CancelFunc
}

type task struct {
	ctx    context.Context
	cancel context.CancelFunc
	job    Job
	group  *group
}

// New builds a scheduler from configuration. Call Start before
// submitting work and Stop when shutting down.
func New(cfg *config.Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	workers := cfg.Scheduler.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{
		policy:  policyFromConfig(cfg),
		workers: workers,
		logger:  logger,
		tasks:   make(chan task, workers*4),
		handles: make(map[string]map[string]context.CancelFunc),
	}
}

// Start launches the worker pool.
func (s *Scheduler) Start() {
	s.pool = &errgroup.Group{}
	for i := 0; i < s.workers; i++ {
		s.pool.Go(func() error {
			for t := range s.tasks {
				result := s.execute(t.ctx, t.job)
				s.deregister(t.job.RunID, t.job.ID, t.cancel)
				if t.group != nil {
					t.group.record(result)
				}
			}
			return nil
		})
	}
}

// Stop drains the pool. No submissions may race with Stop.
func (s *Scheduler) Stop() {
	close(s.tasks)
	if s.pool != nil {
		_ = s.pool.Wait()
	}
}

// Barrier exposes the join side of a fan-out to the caller.
type Barrier struct {
	g *group
}

// Wait blocks until the continuation has finished or ctx ends.
func (b *Barrier) Wait(ctx context.Context) error {
	return b.g.wait(ctx)
}

// FanOut dispatches the jobs concurrently and arranges for the
// continuation to run exactly once after every job reaches a terminal
// state. The continuation receives all results, failures included.
func (s *Scheduler) FanOut(ctx context.Context, runID string, jobs []Job, continuation func(ctx context.Context, results []Result)) (*Barrier, error) {
	if len(jobs) == 0 {
		return nil, services.Wrap(services.ErrValidation, "scheduler", "fanout", "fan-out group has no jobs", nil)
	}

	keys := make([]manifest.SlotKey, 0, len(jobs))
	for _, job := range jobs {
		keys = append(keys, job.Key)
	}
	g := newGroup(ctx, runID, keys, continuation)

	for i := range jobs {
		job := jobs[i]
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		jobCtx, cancel := s.register(ctx, job)
		go func() {
			select {
			case s.tasks <- task{ctx: jobCtx, cancel: cancel, job: job, group: g}:
				// The worker deregisters after execution.
			case <-jobCtx.Done():
				s.deregister(job.RunID, job.ID, cancel)
				g.record(Result{
					Key: job.Key,
					Err: services.Wrap(services.ErrCancelled, "scheduler", "queue", "job revoked before dispatch", jobCtx.Err()),
				})
			}
		}()
	}
	return &Barrier{g: g}, nil
}

// Execute runs one job synchronously with the full retry policy. Used
// for the planning and render steps, which have no fan-out.
func (s *Scheduler) Execute(ctx context.Context, job Job) Result {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	jobCtx, cancel := s.register(ctx, job)
	defer s.deregister(job.RunID, job.ID, cancel)
	return s.execute(jobCtx, job)
}

// Cancel revokes every queued or in-flight job for the run and
// returns how many handles were terminated. Safe to call at any time;
// an unknown run simply revokes zero jobs.
func (s *Scheduler) Cancel(runID string) int {
	s.mu.Lock()
	jobs := s.handles[runID]
	delete(s.handles, runID)
	s.mu.Unlock()

	for _, cancel := range jobs {
		cancel()
	}
	if len(jobs) > 0 {
		s.logger.Info("revoked run jobs",
			logging.String(logging.FieldRunID, runID),
			logging.Int("revoked", len(jobs)))
	}
	return len(jobs)
}

// ActiveJobs reports how many handles the run currently holds.
func (s *Scheduler) ActiveJobs(runID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles[runID])
}

func (s *Scheduler) register(ctx context.Context, job Job) (context.Context, context.CancelFunc) {
	var jobCtx context.Context
	var cancel context.CancelFunc
	if s.policy.hardCeiling > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, s.policy.hardCeiling)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}

	s.mu.Lock()
	byJob, ok := s.handles[job.RunID]
	if !ok {
		byJob = make(map[string]context.CancelFunc)
		s.handles[job.RunID] = byJob
	}
	byJob[job.ID] = cancel
	s.mu.Unlock()

	return jobCtx, cancel
}

func (s *Scheduler) deregister(runID, jobID string, cancel context.CancelFunc) {
	cancel()
	s.mu.Lock()
	if byJob, ok := s.handles[runID]; ok {
		delete(byJob, jobID)
		if len(byJob) == 0 {
			delete(s.handles, runID)
		}
	}
	s.mu.Unlock()
}

// execute drives one job to a terminal result under the retry policy.
// Whether an error is retried is decided solely by its marker.
func (s *Scheduler) execute(ctx context.Context, job Job) Result {
	result := Result{Key: job.Key}

	if s.policy.softCeiling > 0 {
		softTimer := time.AfterFunc(s.policy.softCeiling, func() {
			s.logger.Warn("job passed soft ceiling",
				logging.String(logging.FieldRunID, job.RunID),
				logging.String(logging.FieldJobID, job.ID),
				logging.Duration("soft_ceiling", s.policy.softCeiling))
		})
		defer softTimer.Stop()
	}

	maxAttempts := s.policy.maxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.Err = services.Wrap(services.ErrCancelled, "scheduler", "execute", "job terminated", err)
			return result
		}

		ref, err := job.Do(ctx)
		if err == nil {
			result.Ref = ref
			result.Err = nil
			return result
		}
		result.Err = err

		if ctx.Err() != nil {
			result.Err = services.Wrap(services.ErrCancelled, "scheduler", "execute", "job terminated", ctx.Err())
			return result
		}
		if !services.IsRetryable(err) {
			return result
		}
		if attempt == maxAttempts {
			break
		}

		delay := s.policy.backoff(attempt)
		s.logger.Warn("job attempt failed, retrying",
			logging.String(logging.FieldRunID, job.RunID),
			logging.String(logging.FieldJobID, job.ID),
			logging.Int("attempt", attempt),
			logging.Duration("backoff", delay),
			logging.Error(err))
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			result.Err = services.Wrap(services.ErrCancelled, "scheduler", "execute", "job terminated during backoff", sleepErr)
			return result
		}
	}

	result.Err = fmt.Errorf("job exhausted %d attempts: %w", maxAttempts, result.Err)
	return result
}
