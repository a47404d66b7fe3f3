package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"log/slog"

	"kurz/internal/config"
	"kurz/internal/fsm"
	"kurz/internal/logging"
	"kurz/internal/runstore"
)

// runnableStates are the states the manager picks up from the store.
// Mid-stage states are included so runs left behind by a crashed
// process resume where they stopped.
var runnableStates = []fsm.State{
	fsm.StateInit,
	fsm.StatePlanning,
	fsm.StateAssetGeneration,
	fsm.StateRendering,
	fsm.StateQA,
}

// Manager polls the store for runnable runs and drives them through
// the engine one at a time.
type Manager struct {
	cfg    *config.Config
	engine *Engine
	store  *runstore.Store
	logger *slog.Logger

	pollInterval       time.Duration
	errorRetryInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	active  map[string]struct{}
}

// NewManager constructs a manager over an already-wired engine.
func NewManager(cfg *config.Config, engine *Engine, store *runstore.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:                cfg,
		engine:             engine,
		store:              store,
		logger:             logging.NewComponentLogger(logger, "manager"),
		pollInterval:       time.Duration(cfg.Scheduler.QueuePollInterval) * time.Second,
		errorRetryInterval: time.Duration(cfg.Scheduler.ErrorRetryInterval) * time.Second,
		active:             make(map[string]struct{}),
	}
}

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("manager already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.loop(runCtx)
	return nil
}

// Stop terminates background processing and waits for the current run
// to release.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		run, err := m.nextRun(ctx)
		if err != nil {
			m.logger.Error("failed to fetch next run",
				logging.Error(err),
				logging.String(logging.FieldEventType, "run_fetch_failed"))
			if !m.sleep(ctx, m.errorRetryInterval) {
				return
			}
			continue
		}
		if run == nil {
			if !m.sleep(ctx, m.pollInterval) {
				return
			}
			continue
		}

		m.process(ctx, run)
	}
}

// nextRun returns the oldest runnable run not already being processed,
// or nil when the queue is idle.
func (m *Manager) nextRun(ctx context.Context) (*runstore.Run, error) {
	runs, err := m.store.List(ctx, runnableStates...)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// List orders newest first; walk backwards for FIFO pickup.
	for i := len(runs) - 1; i >= 0; i-- {
		if _, busy := m.active[runs[i].RunID]; busy {
			continue
		}
		m.active[runs[i].RunID] = struct{}{}
		return runs[i], nil
	}
	return nil, nil
}

func (m *Manager) process(ctx context.Context, run *runstore.Run) {
	defer func() {
		m.mu.Lock()
		delete(m.active, run.RunID)
		m.mu.Unlock()
	}()

	logger := m.logger.With(logging.String(logging.FieldRunID, run.RunID))
	logger.Info("run picked up", logging.String("state", string(run.State)))

	if err := m.engine.ExecuteRun(ctx, run.RunID); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Error("run did not complete", logging.Error(err))
		return
	}
	logger.Info("run finished")
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
