// Package dispatcher implements the worker-pool loop that repeatedly
// pulls the next step from the state machine, runs it via the matching
// step-runner, and feeds resulting events back.
package dispatcher

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/christinavaneyssen/taskrun/engine"
	"github.com/christinavaneyssen/taskrun/event"
)

// StepRunner executes one step and reports its outcome by calling post,
// possibly more than once (e.g. progress events followed by a terminal
// success/failure event). Runners must respect ctx cancellation and
// always eventually call post with a terminal event — never return
// silently, per spec.md §5.
type StepRunner func(ctx context.Context, step event.Step, post func(event.Event))

// failureKindFor maps a step to the event kind that reports it failed, so
// the dispatcher can synthesize a failure event itself when no runner is
// registered for a step — a configuration bug, not a daemon error, but
// one the state machine must still observe to make progress.
func failureKindFor(k event.StepKind) (event.Kind, bool) {
	switch k {
	case event.BuildImage:
		return event.ImageBuildFailed, true
	case event.PullImage:
		return event.ImagePullFailed, true
	case event.CreateContainer:
		return event.ContainerCreationFailed, true
	case event.StartContainer:
		return event.ContainerStartFailed, true
	case event.WaitForHealth:
		return event.ContainerDidNotBecomeHealthy, true
	case event.RunSetupCommands:
		return event.SetupCommandFailed, true
	case event.PrepareTaskNetwork:
		return event.TaskNetworkPreparationFailed, true
	case event.StopContainer:
		return event.ContainerStopFailed, true
	case event.RemoveContainer:
		return event.ContainerRemovalFailed, true
	case event.DeleteTaskNetwork:
		return event.TaskNetworkRemovalFailed, true
	default:
		return 0, false
	}
}

// Options configures a Dispatcher.
type Options struct {
	// Workers bounds parallelism. Zero means runtime.NumCPU() — spec.md §9
	// leaves the exact default unspecified and asks for a configurable one.
	Workers int
}

// Dispatcher drives a StateMachine to completion.
type Dispatcher struct {
	sm      *engine.StateMachine
	runners map[event.StepKind]StepRunner
	workers int
	log     zerolog.Logger
}

// New builds a Dispatcher. runners need not cover every StepKind; missing
// entries synthesize the step's failure event instead of silently dropping
// the step. RunContainer has no failure event, so a missing RunContainer
// runner is only logged.
func New(sm *engine.StateMachine, runners map[event.StepKind]StepRunner, opts Options, log zerolog.Logger) *Dispatcher {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Dispatcher{
		sm:      sm,
		runners: runners,
		workers: workers,
		log:     log.With().Str("component", "dispatcher").Logger(),
	}
}

// Run drives the state machine until it reports NoneAndIdle, dispatching
// ready steps to worker goroutines bounded by Options.Workers, and
// returns the run's final status. It panics if the state machine raises
// engine.ErrInvariantViolation — callers recover that at the process
// boundary (spec.md §7 category 3).
func (d *Dispatcher) Run(ctx context.Context) engine.TaskStatus {
	sem := make(chan struct{}, d.workers)
	var wg sync.WaitGroup
	var busy int32

	for {
		running := atomic.LoadInt32(&busy) > 0
		popped := d.sm.PopNextStep(running)

		switch popped.Outcome {
		case engine.NoneAndIdle:
			wg.Wait()
			return d.sm.Status()

		case engine.NoneReady:
			d.sm.WaitForEvent()

		case engine.StepReady:
			step := popped.Step
			sem <- struct{}{}
			atomic.AddInt32(&busy, 1)
			wg.Add(1)
			go func() {
				defer func() {
					<-sem
					atomic.AddInt32(&busy, -1)
					wg.Done()
				}()
				d.runStep(ctx, step)
			}()
		}
	}
}

func (d *Dispatcher) runStep(ctx context.Context, step event.Step) {
	runner, ok := d.runners[step.Kind]
	if !ok {
		d.log.Error().Stringer("step", step).Msg("no runner registered for step")
		if kind, ok := failureKindFor(step.Kind); ok {
			d.sm.PostEvent(event.Event{Kind: kind, Container: step.Container, Message: fmt.Sprintf("no runner registered for %s", step.Kind)})
		}
		return
	}
	d.log.Debug().Stringer("step", step).Msg("dispatching step")
	if step.Kind == event.StopContainer || step.Kind == event.RemoveContainer || step.Kind == event.DeleteTaskNetwork {
		// ctx is cancelled on the first run-stage failure; teardown must
		// still reach the daemon after that.
		ctx = context.WithoutCancel(ctx)
	}
	runner(ctx, step, d.sm.PostEvent)
}
