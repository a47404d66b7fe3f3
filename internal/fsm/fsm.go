package fsm

import (
	"log/slog"
	"sync"
	"time"

	"kurz/internal/logging"
)

// State identifies one lifecycle phase of a run.
type State string

const (
	StateInit            State = "init"
	StatePlanning        State = "planning"
	StateAssetGeneration State = "asset_generation"
	StateRecovering      State = "recovering"
	StateRendering       State = "rendering"
	StateQA              State = "qa"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

// Transitions is the directed edge set of the run lifecycle graph.
// Completed is absorbing; Failed can only be left through Recovering.
var Transitions = map[State][]State{
	StateInit:            {StatePlanning, StateFailed},
	StatePlanning:        {StateAssetGeneration, StateRecovering, StateFailed},
	StateAssetGeneration: {StateRendering, StateRecovering, StateFailed},
	StateRecovering:      {StatePlanning, StateAssetGeneration, StateRendering, StateFailed},
	StateRendering:       {StateQA, StateRecovering, StateFailed},
	StateQA:              {StateCompleted, StateRecovering, StateFailed},
	StateCompleted:       {},
	StateFailed:          {StateRecovering},
}

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	_, ok := Transitions[s]
	return ok
}

func (s State) String() string {
	return string(s)
}

// HistoryEntry records one applied transition.
type HistoryEntry struct {
	State    State             `json:"state"`
	At       time.Time         `json:"at"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Guard is an optional predicate evaluated under the machine lock.
// Returning false rejects the transition without a state change.
type Guard func() bool

// Machine tracks the current state and transition history of one run.
// All mutations are serialized through an internal mutex, so a Machine
// may be shared by concurrent scheduler steps.
type Machine struct {
	mu      sync.Mutex
	runID   string
	state   State
	history []HistoryEntry
	logger  *slog.Logger
}

// New returns a machine in StateInit with a single history entry.
func New(runID string, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Machine{
		runID:  runID,
		state:  StateInit,
		logger: logger,
		history: []HistoryEntry{
			{State: StateInit, At: time.Now().UTC()},
		},
	}
}

// Restore rebuilds a machine from persisted history. The current state
// is the last history entry; an empty history behaves like New.
func Restore(runID string, history []HistoryEntry, logger *slog.Logger) *Machine {
	if len(history) == 0 {
		return New(runID, logger)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Machine{
		runID:   runID,
		state:   history[len(history)-1].State,
		history: append([]HistoryEntry(nil), history...),
		logger:  logger,
	}
}

// RunID returns the run this machine belongs to.
func (m *Machine) RunID() string {
	return m.runID
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns a copy of the applied transition log, oldest first.
func (m *Machine) History() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HistoryEntry(nil), m.history...)
}

// CanTransition reports whether target is legal from the current state.
func (m *Machine) CanTransition(target State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return allowed(m.state, target)
}

// Transition atomically moves the machine to target. It returns false
// without side effects when the edge is illegal or the guard rejects.
// Rejections are logged at warn level; the caller decides what to do.
func (m *Machine) Transition(target State, guard Guard, metadata map[string]string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !allowed(m.state, target) {
		m.logger.Warn("illegal transition rejected",
			logging.String(logging.FieldRunID, m.runID),
			logging.String("from", string(m.state)),
			logging.String("to", string(target)))
		return false
	}
	if guard != nil && !guard() {
		m.logger.Warn("transition guard rejected",
			logging.String(logging.FieldRunID, m.runID),
			logging.String("from", string(m.state)),
			logging.String("to", string(target)))
		return false
	}

	m.state = target
	m.history = append(m.history, HistoryEntry{
		State:    target,
		At:       time.Now().UTC(),
		Metadata: cloneMetadata(metadata),
	})
	m.logger.Info("run state changed",
		logging.String(logging.FieldRunID, m.runID),
		logging.String("state", string(target)))
	return true
}

// Fail attempts an unconditional transition to StateFailed with the
// reason recorded in metadata. The attempt is logged as an error even
// when the machine is already terminal and nothing changes.
func (m *Machine) Fail(reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Error("run failing",
		logging.String(logging.FieldRunID, m.runID),
		logging.String("state", string(m.state)),
		logging.String("reason", reason))

	if !allowed(m.state, StateFailed) {
		return false
	}
	m.state = StateFailed
	m.history = append(m.history, HistoryEntry{
		State:    StateFailed,
		At:       time.Now().UTC(),
		Metadata: map[string]string{"reason": reason},
	})
	return true
}

// RetryTarget walks history backward skipping Failed and Recovering
// entries and returns the last real state to resume from. It returns
// false when history is too short to name one.
func (m *Machine) RetryTarget() (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) < 2 {
		return "", false
	}
	for i := len(m.history) - 1; i >= 0; i-- {
		s := m.history[i].State
		if s == StateFailed || s == StateRecovering {
			continue
		}
		return s, true
	}
	return "", false
}

// IsTerminal reports whether the run has reached Completed or Failed.
func (m *Machine) IsTerminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateCompleted || m.state == StateFailed
}

func allowed(from, to State) bool {
	for _, s := range Transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func cloneMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
