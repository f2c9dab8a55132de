package dispatcher

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christinavaneyssen/taskrun/config"
	"github.com/christinavaneyssen/taskrun/engine"
	"github.com/christinavaneyssen/taskrun/event"
	"github.com/christinavaneyssen/taskrun/graph"
	"github.com/christinavaneyssen/taskrun/planner"
)

func singleContainerGraph(t *testing.T) *graph.Graph {
	t.Helper()
	task := &config.Task{
		TaskContainer: "task",
		Containers: map[string]config.Container{
			"task": {Name: "task", Image: config.ImageSource{PullReference: "alpine"}},
		},
	}
	g, err := graph.Build(task)
	require.NoError(t, err)
	return g
}

func successRunner(kind event.Kind) StepRunner {
	return func(_ context.Context, step event.Step, post func(event.Event)) {
		post(event.Event{Kind: kind, Container: step.Container, Network: step.Network, ExitCode: 0})
	}
}

func happyPathRunners() map[event.StepKind]StepRunner {
	return map[event.StepKind]StepRunner{
		event.PrepareTaskNetwork: successRunner(event.TaskNetworkReady),
		event.PullImage:          successRunner(event.ImagePulled),
		event.CreateContainer:    successRunner(event.ContainerCreated),
		event.StartContainer:     successRunner(event.ContainerStarted),
		event.WaitForHealth:      successRunner(event.ContainerBecameHealthy),
		event.RunSetupCommands:   successRunner(event.SetupCommandsCompleted),
		event.RunContainer:       successRunner(event.RunningContainerExited),
		event.StopContainer:      successRunner(event.ContainerStopped),
		event.RemoveContainer:    successRunner(event.ContainerRemoved),
		event.DeleteTaskNetwork:  successRunner(event.TaskNetworkRemoved),
	}
}

func TestDispatcherRunsHappyPathToCompletion(t *testing.T) {
	g := singleContainerGraph(t)
	runStage := planner.Run(g)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sm := engine.New(g, runStage, planner.CleanupAlways, cancel, zerolog.Nop())
	d := New(sm, happyPathRunners(), Options{Workers: 2}, zerolog.Nop())

	status := d.Run(ctx)
	require.NotNil(t, status.ExitCode)
	assert.Equal(t, 0, *status.ExitCode)
	assert.False(t, status.Failed)
}

func TestDispatcherSynthesizesFailureForMissingRunner(t *testing.T) {
	g := singleContainerGraph(t)
	runStage := planner.Run(g)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runners := happyPathRunners()
	delete(runners, event.PullImage)

	sm := engine.New(g, runStage, planner.CleanupAlways, cancel, zerolog.Nop())
	d := New(sm, runners, Options{Workers: 1}, zerolog.Nop())

	status := d.Run(ctx)
	assert.True(t, status.Failed)
}

func TestOptionsDefaultsWorkersWhenUnset(t *testing.T) {
	g := singleContainerGraph(t)
	runStage := planner.Run(g)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	sm := engine.New(g, runStage, planner.CleanupAlways, cancel, zerolog.Nop())
	d := New(sm, happyPathRunners(), Options{}, zerolog.Nop())
	assert.Greater(t, d.workers, 0)
}
