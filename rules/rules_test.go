package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/christinavaneyssen/taskrun/event"
)

func TestPrepareNetworkRuleAlwaysReady(t *testing.T) {
	r := NewPrepareNetworkRule()
	res := r.Evaluate(event.NewSet(nil))
	assert.Equal(t, StepReady, res.Status)
	assert.Equal(t, event.PrepareTaskNetwork, res.Step.Kind)
}

func TestBuildImageRuleWaitsForNetwork(t *testing.T) {
	r := NewBuildImageRule("app")

	notReady := r.Evaluate(event.NewSet(nil))
	assert.Equal(t, NotReady, notReady.Status)

	ready := r.Evaluate(event.NewSet([]event.Event{{Kind: event.TaskNetworkReady}}))
	assert.Equal(t, StepReady, ready.Status)
	assert.Equal(t, "app", ready.Step.Container)
}

func TestCreateContainerRuleNeedsImageAndNetwork(t *testing.T) {
	r := NewCreateContainerRule("app")

	events := event.NewSet([]event.Event{{Kind: event.TaskNetworkReady, Network: "task-net"}})
	assert.Equal(t, NotReady, r.Evaluate(events).Status)

	events = event.NewSet([]event.Event{
		{Kind: event.TaskNetworkReady, Network: "task-net"},
		{Kind: event.ImageBuilt, Container: "app", Image: "app:latest"},
	})
	res := r.Evaluate(events)
	assert.Equal(t, StepReady, res.Status)
	assert.Equal(t, "app:latest", res.Step.Image)
	assert.Equal(t, "task-net", res.Step.Network)
}

func TestStartContainerRuleUniformHealthGate(t *testing.T) {
	r := NewStartContainerRule("app", []string{"db"})

	created := event.NewSet([]event.Event{{Kind: event.ContainerCreated, Container: "app", Handle: "h1"}})
	assert.Equal(t, NotReady, r.Evaluate(created).Status, "dependency db has not become healthy yet")

	healthy := event.NewSet([]event.Event{
		{Kind: event.ContainerCreated, Container: "app", Handle: "h1"},
		{Kind: event.ContainerBecameHealthy, Container: "db"},
	})
	res := r.Evaluate(healthy)
	assert.Equal(t, StepReady, res.Status)
	assert.Equal(t, "h1", res.Step.Handle)
}

func TestStartContainerRuleWithNoDependencies(t *testing.T) {
	r := NewStartContainerRule("db", nil)
	created := event.NewSet([]event.Event{{Kind: event.ContainerCreated, Container: "db"}})
	assert.Equal(t, StepReady, r.Evaluate(created).Status)
}

func TestStopContainerRuleSkipsAlreadyExited(t *testing.T) {
	r := NewStopContainerRule("db", "task")

	stillRunning := event.NewSet([]event.Event{
		{Kind: event.ContainerStarted, Container: "db"},
	})
	assert.Equal(t, StepReady, r.Evaluate(stillRunning).Status)

	alreadyExited := event.NewSet([]event.Event{
		{Kind: event.ContainerStarted, Container: "db"},
		{Kind: event.RunningContainerExited, Container: "db"},
	})
	assert.Equal(t, NotReady, r.Evaluate(alreadyExited).Status)
}

// TestStopContainerRuleDoesNotNeedTaskContainerExit guards against a
// deadlock: a dependency container that started while the task container
// itself never started (e.g. an earlier sibling dependency failed) must
// still be stoppable during cleanup. StopContainerRule must not re-impose
// a RunningContainerExited(taskContainer) condition that planner.Cleanup's
// own needsStop gate does not require.
func TestStopContainerRuleDoesNotNeedTaskContainerExit(t *testing.T) {
	r := NewStopContainerRule("db", "task")

	taskNeverStarted := event.NewSet([]event.Event{
		{Kind: event.ContainerStarted, Container: "db"},
	})
	res := r.Evaluate(taskNeverStarted)
	assert.Equal(t, StepReady, res.Status)
}

func TestRemoveContainerRuleWaitsForSettled(t *testing.T) {
	r := NewRemoveContainerRule("db")

	started := event.NewSet([]event.Event{
		{Kind: event.ContainerCreated, Container: "db", Handle: "h1"},
		{Kind: event.ContainerStarted, Container: "db"},
	})
	assert.Equal(t, NotReady, r.Evaluate(started).Status)

	stopFailed := event.NewSet([]event.Event{
		{Kind: event.ContainerCreated, Container: "db", Handle: "h1"},
		{Kind: event.ContainerStarted, Container: "db"},
		{Kind: event.ContainerStopFailed, Container: "db"},
	})
	assert.Equal(t, StepReady, r.Evaluate(stopFailed).Status, "a stop failure still counts as settled")

	neverStarted := event.NewSet([]event.Event{{Kind: event.ContainerCreated, Container: "db", Handle: "h1"}})
	assert.Equal(t, StepReady, r.Evaluate(neverStarted).Status)
}

func TestDeleteTaskNetworkRuleAcceptsRemovalFailure(t *testing.T) {
	r := NewDeleteTaskNetworkRule([]string{"db", "app"})

	partial := event.NewSet([]event.Event{
		{Kind: event.TaskNetworkReady, Network: "task-net"},
		{Kind: event.ContainerRemoved, Container: "db"},
	})
	assert.Equal(t, NotReady, r.Evaluate(partial).Status)

	complete := event.NewSet([]event.Event{
		{Kind: event.TaskNetworkReady, Network: "task-net"},
		{Kind: event.ContainerRemoved, Container: "db"},
		{Kind: event.ContainerRemovalFailed, Container: "app"},
	})
	res := r.Evaluate(complete)
	assert.Equal(t, StepReady, res.Status)
	assert.Equal(t, "task-net", res.Step.Network)
}

func TestCompletionObservedCoversFailurePaths(t *testing.T) {
	tests := []struct {
		name   string
		id     event.Identity
		events event.Set
		want   bool
	}{
		{
			name:   "stop container completion via failure",
			id:     event.Identity{Kind: event.StopContainer, Container: "db"},
			events: event.NewSet([]event.Event{{Kind: event.ContainerStopFailed, Container: "db"}}),
			want:   true,
		},
		{
			name:   "remove container not yet complete",
			id:     event.Identity{Kind: event.RemoveContainer, Container: "db"},
			events: event.NewSet(nil),
			want:   false,
		},
		{
			name:   "delete task network completion via failure",
			id:     event.Identity{Kind: event.DeleteTaskNetwork},
			events: event.NewSet([]event.Event{{Kind: event.TaskNetworkRemovalFailed}}),
			want:   true,
		},
		{
			name:   "prepare task network completion via failure",
			id:     event.Identity{Kind: event.PrepareTaskNetwork},
			events: event.NewSet([]event.Event{{Kind: event.TaskNetworkPreparationFailed}}),
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompletionObserved(tt.id, tt.events))
		})
	}
}
