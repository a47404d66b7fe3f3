package progress

import (
	"context"
	"log/slog"
	"sync"

	"kurz/internal/fsm"
	"kurz/internal/logging"
	"kurz/internal/runstore"
)

// Event is one progress update. All fields except RunID are optional;
// consumers must tolerate whatever subset is present.
type Event struct {
	RunID     string            `json:"run_id"`
	State     fsm.State         `json:"state,omitempty"`
	Progress  *float64          `json:"progress,omitempty"`
	Log       string            `json:"log,omitempty"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

// Listener receives published events. Errors are swallowed by the
// publisher, so a listener can be as unreliable as it likes.
type Listener interface {
	Notify(ctx context.Context, event Event) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, event Event) error

func (f ListenerFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Publisher fans events out to listeners and mirrors durable fields
// into the run store. Publish never returns an error.
type Publisher struct {
	mu        sync.Mutex
	listeners []Listener
	store     *runstore.Store
	logger    *slog.Logger
}

// NewPublisher builds a publisher. The store may be nil, which
// disables the durable side channel.
func NewPublisher(store *runstore.Store, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{store: store, logger: logger}
}

// Subscribe registers a listener for all subsequent events.
func (p *Publisher) Subscribe(listener Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, listener)
}

// Publish delivers the event to every listener and the durable side
// channel. Events published from one goroutine arrive in order.
func (p *Publisher) Publish(ctx context.Context, event Event) {
	if event.RunID == "" {
		p.logger.Warn("dropping progress event without run id")
		return
	}

	p.mu.Lock()
	listeners := append([]Listener(nil), p.listeners...)
	p.mu.Unlock()

	// Notify outside the lock. A run publishes from one goroutine at a
	// time, so its events stay ordered; a slow listener on one run must
	// not stall publishes for the others.
	p.persist(ctx, event)
	for _, listener := range listeners {
		if err := listener.Notify(ctx, event); err != nil {
			p.logger.Warn("progress listener failed",
				logging.String(logging.FieldRunID, event.RunID),
				logging.Error(err))
		}
	}
}

// persist mirrors durable event fields into the run store. Failures
// are logged and swallowed.
func (p *Publisher) persist(ctx context.Context, event Event) {
	if p.store == nil {
		return
	}
	if event.Progress != nil {
		if err := p.store.SetProgress(ctx, event.RunID, *event.Progress); err != nil {
			p.logger.Warn("persist progress failed",
				logging.String(logging.FieldRunID, event.RunID),
				logging.Error(err))
		}
	}
	if event.Log != "" {
		if err := p.store.AppendLog(ctx, event.RunID, event.Log); err != nil {
			p.logger.Warn("persist run log failed",
				logging.String(logging.FieldRunID, event.RunID),
				logging.Error(err))
		}
	}
}

// Float is a convenience for building the optional Progress field.
func Float(v float64) *float64 {
	return &v
}
