package engine

import (
	"context"
	"fmt"

	"kurz/internal/fsm"
	"kurz/internal/logging"
	"kurz/internal/progress"
	"kurz/internal/runstore"
	"kurz/internal/services"
)

// Cancellation statuses reported to callers.
const (
	CancelStatusSuccess           = "success"
	CancelStatusAlreadyTerminated = "already_terminated"
)

const cancelReason = "user cancelled"

// CancelOutcome reports what cancellation did.
type CancelOutcome struct {
	Status       string `json:"status"`
	RevokedCount int    `json:"revoked_count"`
}

// StateView is the read-only run summary for external callers.
type StateView struct {
	RunID      string             `json:"run_id"`
	State      fsm.State          `json:"state"`
	Progress   float64            `json:"progress"`
	IsTerminal bool               `json:"is_terminal"`
	History    []fsm.HistoryEntry `json:"history"`
	Metadata   map[string]string  `json:"metadata,omitempty"`
	Error      string             `json:"error,omitempty"`
	OutputPath string             `json:"output_path,omitempty"`
}

// CreateRun persists a new run in the initial state. The workflow is
// driven separately, by the manager loop or ExecuteRun.
func (e *Engine) CreateRun(ctx context.Context, spec runstore.RunSpec) (*runstore.Run, error) {
	run, err := e.store.Create(ctx, spec)
	if err != nil {
		return nil, err
	}
	e.logger.Info("run created",
		logging.String(logging.FieldRunID, run.RunID),
		logging.String("mode", run.Spec.Mode))
	return run, nil
}

// GetState returns the run's current state, history, and metadata of
// the latest transition.
func (e *Engine) GetState(ctx context.Context, runID string) (StateView, error) {
	run, err := e.view(ctx, runID)
	if err != nil {
		return StateView{}, err
	}
	view := StateView{
		RunID:      run.RunID,
		State:      run.State,
		Progress:   run.Progress,
		IsTerminal: run.IsTerminal(),
		History:    run.History,
		Error:      run.ErrorMessage,
		OutputPath: run.OutputPath,
	}
	if n := len(run.History); n > 0 {
		view.Metadata = run.History[n-1].Metadata
	}
	return view, nil
}

// Transition attempts a caller-driven transition. Illegal transitions
// are orchestration errors: rejected, logged, and reported without
// touching the run.
func (e *Engine) Transition(ctx context.Context, runID string, target fsm.State, metadata map[string]string) error {
	if !target.Valid() {
		return services.Wrap(services.ErrValidation, "engine", "transition",
			fmt.Sprintf("unknown state %q", target), nil)
	}
	return e.mutate(ctx, runID, func(run *runstore.Run, machine *fsm.Machine) error {
		if !machine.Transition(target, nil, metadata) {
			return services.Wrap(services.ErrValidation, "engine", "transition",
				fmt.Sprintf("cannot move run from %s to %s", machine.State(), target), nil)
		}
		e.publishState(ctx, runID, machine.State())
		return nil
	})
}

// Fail forces the run into the failed state with a reason.
func (e *Engine) Fail(ctx context.Context, runID, reason string) error {
	return e.failRun(ctx, runID, reason)
}

func (e *Engine) failRun(ctx context.Context, runID, reason string) error {
	return e.mutate(ctx, runID, func(run *runstore.Run, machine *fsm.Machine) error {
		// A run that is already terminal keeps its recorded reason; a
		// cancelled run must not report the failure of its revoked jobs.
		if machine.IsTerminal() {
			return nil
		}
		machine.Fail(reason)
		run.ErrorMessage = reason
		e.publisher.Publish(ctx, progress.Event{
			RunID: runID,
			State: machine.State(),
			Log:   "run failed: " + reason,
		})
		return nil
	})
}

// Cancel revokes the run's jobs and drives the state machine to
// failed, confirming the terminal state before returning. Calling it
// on a finished run is a no-op reporting already_terminated.
func (e *Engine) Cancel(ctx context.Context, runID string) (CancelOutcome, error) {
	// Another process may have finished or failed the run; force a
	// re-read before deciding anything.
	e.Invalidate(runID)

	outcome := CancelOutcome{Status: CancelStatusSuccess}
	err := e.mutate(ctx, runID, func(run *runstore.Run, machine *fsm.Machine) error {
		if machine.IsTerminal() {
			outcome.Status = CancelStatusAlreadyTerminated
			return nil
		}

		outcome.RevokedCount = e.sched.Cancel(runID)
		machine.Fail(cancelReason)
		run.ErrorMessage = cancelReason
		e.publisher.Publish(ctx, progress.Event{
			RunID: runID,
			State: machine.State(),
			Log:   cancelReason,
		})
		return nil
	})
	if err != nil {
		return CancelOutcome{}, err
	}

	// Confirm the terminal state from durable storage.
	run, err := e.view(ctx, runID)
	if err != nil {
		return CancelOutcome{}, err
	}
	if !run.IsTerminal() {
		return CancelOutcome{}, services.Wrap(services.ErrValidation, "engine", "cancel",
			fmt.Sprintf("run %s did not reach a terminal state", runID), nil)
	}
	return outcome, nil
}

// Retry moves a failed run through recovering back to the last real
// stage it occupied, then resumes the workflow from there.
func (e *Engine) Retry(ctx context.Context, runID string) error {
	var resume fsm.State
	err := e.mutate(ctx, runID, func(run *runstore.Run, machine *fsm.Machine) error {
		if machine.State() != fsm.StateFailed {
			return services.Wrap(services.ErrValidation, "engine", "retry",
				fmt.Sprintf("run %s is %s, only failed runs can be retried", runID, machine.State()), nil)
		}
		target, ok := machine.RetryTarget()
		if !ok {
			return services.Wrap(services.ErrValidation, "engine", "retry",
				fmt.Sprintf("run %s has no stage to resume from", runID), nil)
		}
		// Recovery can only re-enter the working stages. A run that
		// failed before planning starts over; one that failed in QA
		// re-renders so the QA checks see a fresh output.
		switch target {
		case fsm.StateInit:
			target = fsm.StatePlanning
		case fsm.StateQA:
			target = fsm.StateRendering
		}
		if !machine.Transition(fsm.StateRecovering, nil, map[string]string{"resume_target": string(target)}) {
			return services.Wrap(services.ErrValidation, "engine", "retry", "failed run rejected recovery", nil)
		}
		if !machine.Transition(target, nil, nil) {
			return services.Wrap(services.ErrValidation, "engine", "retry",
				fmt.Sprintf("recovery cannot re-enter %s", target), nil)
		}
		run.ErrorMessage = ""
		resume = target
		e.publishState(ctx, runID, machine.State())
		return nil
	})
	if err != nil {
		return err
	}
	return e.resumeFrom(ctx, runID, resume)
}

func (e *Engine) publishState(ctx context.Context, runID string, state fsm.State) {
	e.publisher.Publish(ctx, progress.Event{RunID: runID, State: state})
}
