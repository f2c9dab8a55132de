// Package engine implements the task state machine: the single source of
// truth that accumulates events, advances the run/cleanup stage, and pops
// the next executable step for the dispatcher.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/christinavaneyssen/taskrun/event"
	"github.com/christinavaneyssen/taskrun/graph"
	"github.com/christinavaneyssen/taskrun/planner"
	"github.com/christinavaneyssen/taskrun/stage"
)

// ErrInvariantViolation marks the one fault the state machine itself
// raises: popLocked found no rule ready and no worker in flight, outside
// cleanup-failure recovery. Per spec.md §7 category 3 this is a bug, not
// a daemon or config error, and is never returned — it is panicked so
// cmd/taskrun can recover it at the top level and abort with a diagnostic.
var ErrInvariantViolation = errors.New("task engine: internal invariant violation")

// StageKind names which of the two stages (or neither) is current.
type StageKind int

const (
	RunStage StageKind = iota
	CleanupStage
	Idle
)

func (k StageKind) String() string {
	switch k {
	case RunStage:
		return "run"
	case CleanupStage:
		return "cleanup"
	default:
		return "idle"
	}
}

// ManualCleanupReason explains why a non-empty manual-cleanup command list
// is attached to a TaskStatus.
type ManualCleanupReason int

const (
	ManualCleanupNone ManualCleanupReason = iota
	ManualCleanupRequiredDueToFailure
	ManualCleanupRequiredDueToSuccess
	ManualCleanupRequiredDueToCleanupFailure
)

// ManualCleanup is the manualCleanup field of TaskStatus (spec.md §6).
type ManualCleanup struct {
	Reason   ManualCleanupReason
	Commands []string
}

// TaskStatus is the downstream-facing summary of a finished run.
type TaskStatus struct {
	ExitCode      *int
	Failed        bool
	ManualCleanup ManualCleanup
	AllEvents     []event.Event
	// CleanupErr aggregates every daemon failure observed during the
	// cleanup stage into one error, nil if cleanup had none.
	CleanupErr error
}

// PopOutcome is the three-way result of PopNextStep.
type PopOutcome int

const (
	StepReady PopOutcome = iota
	NoneReady
	NoneAndIdle
)

// PoppedStep is what PopNextStep returns.
type PoppedStep struct {
	Outcome PopOutcome
	Step    event.Step
}

// StateMachine is the single source of truth for one task run. Every
// operation holds mu; workers run outside it and only touch the machine
// through PostEvent/PopNextStep.
type StateMachine struct {
	mu   sync.Mutex
	cond *sync.Cond

	events []event.Event

	graph         *graph.Graph
	cleanupPolicy planner.CleanupPolicy

	currentStageKind StageKind
	currentStage     *stage.Stage

	taskFailed          bool
	failedDuringCleanup bool
	manualCleanup       ManualCleanup
	cleanupErr          *multierror.Error

	cancel context.CancelFunc
	log    zerolog.Logger

	subs []chan event.Event
}

// New constructs a state machine already initialized with the run-stage
// rule set, ready for its first PopNextStep.
func New(g *graph.Graph, runStage *stage.Stage, policy planner.CleanupPolicy, cancel context.CancelFunc, log zerolog.Logger) *StateMachine {
	sm := &StateMachine{
		graph:            g,
		cleanupPolicy:    policy,
		currentStageKind: RunStage,
		currentStage:     runStage,
		cancel:           cancel,
		log:              log.With().Str("component", "engine").Logger(),
	}
	sm.cond = sync.NewCond(&sm.mu)
	return sm
}

// Subscribe returns a channel fed every event posted from now on. Slow
// readers drop events rather than block PostEvent — this is a log/UI
// fan-out, not a control-flow input.
func (sm *StateMachine) Subscribe() <-chan event.Event {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ch := make(chan event.Event, 64)
	sm.subs = append(sm.subs, ch)
	return ch
}

// PostEvent appends e to the accumulated event set. Duplicates are
// idempotent in the sense that rules are pure functions of set membership,
// so posting the same event twice never changes what fires next; it does
// append twice to AllEvents, preserving a faithful audit log.
func (sm *StateMachine) PostEvent(e event.Event) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	sm.mu.Lock()
	sm.events = append(sm.events, e)
	sm.log.Debug().Stringer("event", e).Str("event_id", e.ID.String()).
		Str("stage", sm.currentStageKind.String()).Msg("event posted")

	if e.IsFailure() {
		switch sm.currentStageKind {
		case RunStage:
			if !sm.taskFailed {
				sm.taskFailed = true
				sm.log.Error().Stringer("event", e).Msg("task failed, cancelling in-flight work")
				if sm.cancel != nil {
					sm.cancel()
				}
			}
		case CleanupStage:
			sm.failedDuringCleanup = true
			cmds := sm.manualCleanup.Commands
			if sm.currentStage != nil {
				cmds = sm.currentStage.ManualCleanupCommands
			}
			sm.manualCleanup = ManualCleanup{Reason: ManualCleanupRequiredDueToCleanupFailure, Commands: cmds}
			sm.cleanupErr = multierror.Append(sm.cleanupErr, errors.Errorf("%s (%s): %s", e.Kind, e.Container, e.Message))
			sm.log.Error().Stringer("event", e).Msg("failure during cleanup, manual cleanup required")
		}
	}

	subs := append([]chan event.Event(nil), sm.subs...)
	sm.cond.Broadcast()
	sm.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// PopNextStep asks the state machine for the next unit of work.
// stepsStillRunning must report whether the dispatcher currently has any
// worker busy; it gates both run-stage draining on failure and the
// internal-invariant check.
func (sm *StateMachine) PopNextStep(stepsStillRunning bool) PoppedStep {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.popLocked(stepsStillRunning)
}

func (sm *StateMachine) popLocked(stepsStillRunning bool) PoppedStep {
	if sm.currentStageKind == Idle {
		return PoppedStep{Outcome: NoneAndIdle}
	}

	snapshot := event.NewSet(sm.events)

	if sm.taskFailed && sm.currentStageKind == RunStage {
		if stepsStillRunning {
			return PoppedStep{Outcome: NoneReady}
		}
		sm.transitionToCleanupLocked(snapshot)
		return sm.popLocked(stepsStillRunning)
	}

	res := sm.currentStage.Pop(snapshot)
	switch res.Status {
	case stage.StepReady:
		sm.log.Debug().Stringer("step", res.Step).Msg("step ready")
		return PoppedStep{Outcome: StepReady, Step: res.Step}

	case stage.NoStepsReady:
		if !stepsStillRunning && !sm.failedDuringCleanup {
			panic(errors.Wrapf(ErrInvariantViolation,
				"no rule ready and no step running in %s stage (%d events observed)",
				sm.currentStageKind, len(sm.events)))
		}
		return PoppedStep{Outcome: NoneReady}

	case stage.Complete:
		if sm.currentStageKind == RunStage {
			sm.transitionToCleanupLocked(snapshot)
			return sm.popLocked(stepsStillRunning)
		}
		sm.currentStageKind = Idle
		sm.currentStage = nil
		sm.log.Info().Msg("cleanup stage complete, task idle")
		return PoppedStep{Outcome: NoneAndIdle}

	default:
		panic(fmt.Sprintf("engine: unreachable stage pop status %v", res.Status))
	}
}

// transitionToCleanupLocked asks the cleanup-stage planner to derive rules
// (component E) from whatever the event set shows exists right now, and
// installs them as the current stage. Called at most once per run.
func (sm *StateMachine) transitionToCleanupLocked(snapshot event.Set) {
	st, suppressed := planner.Cleanup(snapshot, sm.graph, sm.cleanupPolicy, sm.taskFailed)
	sm.currentStage = st
	sm.currentStageKind = CleanupStage
	if suppressed {
		reason := ManualCleanupRequiredDueToFailure
		if !sm.taskFailed {
			reason = ManualCleanupRequiredDueToSuccess
		}
		sm.manualCleanup = ManualCleanup{Reason: reason, Commands: st.ManualCleanupCommands}
	}
	sm.log.Info().Bool("task_failed", sm.taskFailed).Bool("cleanup_suppressed", suppressed).
		Str("policy", sm.cleanupPolicy.String()).Msg("transitioned to cleanup stage")
}

// WaitForEvent blocks until the next PostEvent call, for a dispatcher that
// just received NoneReady.
func (sm *StateMachine) WaitForEvent() {
	sm.mu.Lock()
	sm.cond.Wait()
	sm.mu.Unlock()
}

// Status snapshots the machine's externally visible outcome.
func (sm *StateMachine) Status() TaskStatus {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	snapshot := event.NewSet(sm.events)
	var exitCode *int
	if sm.graph != nil {
		taskName := sm.graph.TaskContainerNode().Name
		if e := snapshot.Find(event.RunningContainerExited, taskName); e != nil {
			ec := e.ExitCode
			exitCode = &ec
		}
	}

	return TaskStatus{
		ExitCode:      exitCode,
		Failed:        sm.taskFailed,
		ManualCleanup: sm.manualCleanup,
		AllEvents:     snapshot.All(),
		CleanupErr:    sm.cleanupErr.ErrorOrNil(),
	}
}

// CurrentStage reports which stage the machine is in, mostly for logging
// and tests.
func (sm *StateMachine) CurrentStage() StageKind {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.currentStageKind
}
