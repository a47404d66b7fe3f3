package engine

import (
	"context"
	"log/slog"
	"sync"

	"kurz/internal/config"
	"kurz/internal/fsm"
	"kurz/internal/logging"
	"kurz/internal/progress"
	"kurz/internal/providers"
	"kurz/internal/render"
	"kurz/internal/runstore"
	"kurz/internal/scheduler"
)

// Engine drives runs from creation to a terminal state.
type Engine struct {
	cfg       *config.Config
	store     *runstore.Store
	sched     *scheduler.Scheduler
	gens      *providers.Set
	renderer  *render.Renderer
	publisher *progress.Publisher
	logger    *slog.Logger

	mu     sync.Mutex
	owners map[string]*runOwner
}

// New wires an engine from its collaborators. The scheduler must
// already be started.
func New(cfg *config.Config, store *runstore.Store, sched *scheduler.Scheduler, gens *providers.Set, publisher *progress.Publisher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		store:     store,
		sched:     sched,
		gens:      gens,
		renderer:  render.New(render.OptionsFromConfig(cfg), logging.NewComponentLogger(logger, "render")),
		publisher: publisher,
		logger:    logger,
		owners:    make(map[string]*runOwner),
	}
}

// runOwner serializes all mutations for one run id. The cached state
// machine is an optimization only; the store row remains the source
// of truth and the cache is dropped on Invalidate.
type runOwner struct {
	mu      sync.Mutex
	machine *fsm.Machine
}

func (e *Engine) owner(runID string) *runOwner {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.owners[runID]
	if !ok {
		o = &runOwner{}
		e.owners[runID] = o
	}
	return o
}

// Invalidate drops the cached state machine for a run so the next
// mutation reloads durable state. Required before any operation that
// may have been raced by another process.
func (e *Engine) Invalidate(runID string) {
	o := e.owner(runID)
	o.mu.Lock()
	o.machine = nil
	o.mu.Unlock()
}

// mutate runs fn with the run row and its state machine under the
// owner lock, then persists whatever fn changed. fn returning an
// error skips persistence.
func (e *Engine) mutate(ctx context.Context, runID string, fn func(run *runstore.Run, machine *fsm.Machine) error) error {
	o := e.owner(runID)
	o.mu.Lock()
	defer o.mu.Unlock()

	run, err := e.store.GetByID(ctx, runID)
	if err != nil {
		return err
	}
	if o.machine == nil {
		o.machine = fsm.Restore(runID, run.History, logging.NewComponentLogger(e.logger, "fsm"))
	}

	if err := fn(run, o.machine); err != nil {
		return err
	}

	run.State = o.machine.State()
	run.History = o.machine.History()
	return e.store.Update(ctx, run)
}

// view reads the run row without mutating anything.
func (e *Engine) view(ctx context.Context, runID string) (*runstore.Run, error) {
	return e.store.GetByID(ctx, runID)
}
