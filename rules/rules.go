// Package rules implements the family of step rules: pure, side-effect-free
// predicates over an accumulated event.Set that each decide whether one
// particular step is ready to run.
package rules

import (
	"github.com/christinavaneyssen/taskrun/event"
)

// Status is the outcome of evaluating a Rule against an event.Set.
type Status int

const (
	// NotReady means the rule's preconditions are not yet satisfied.
	NotReady Status = iota
	// StepReady means the rule fires now; Result.Step carries the step.
	StepReady
)

// Result is what Evaluate returns: a status and, when StepReady, the step.
type Result struct {
	Status Status
	Step   event.Step
}

func notReady() Result { return Result{Status: NotReady} }

func ready(s event.Step) Result { return Result{Status: StepReady, Step: s} }

// Rule inspects the accumulated event set and reports whether its step is
// ready to run. Implementations must be pure and side-effect-free: calling
// Evaluate never mutates rule state. One-shot "already fired" bookkeeping
// is the caller's (stage.Stage's) responsibility, per spec.md §4.C.
type Rule interface {
	// Evaluate returns the rule's current readiness given events.
	Evaluate(events event.Set) Result
	// Identity names the step this rule can ever produce, for one-shot
	// duplicate suppression.
	Identity() event.Identity
}

// PrepareNetworkRule is the sole initial rule: always ready, exactly once.
type PrepareNetworkRule struct{}

func NewPrepareNetworkRule() *PrepareNetworkRule { return &PrepareNetworkRule{} }

func (r *PrepareNetworkRule) Evaluate(event.Set) Result {
	return ready(event.Step{Kind: event.PrepareTaskNetwork})
}

func (r *PrepareNetworkRule) Identity() event.Identity {
	return event.Identity{Kind: event.PrepareTaskNetwork}
}

// BuildImageRule fires once TaskNetworkReady has been observed, for
// containers whose image source builds from a directory.
type BuildImageRule struct {
	Container string
}

func NewBuildImageRule(container string) *BuildImageRule {
	return &BuildImageRule{Container: container}
}

func (r *BuildImageRule) Evaluate(events event.Set) Result {
	if !events.Has(event.TaskNetworkReady, "") {
		return notReady()
	}
	return ready(event.Step{Kind: event.BuildImage, Container: r.Container})
}

func (r *BuildImageRule) Identity() event.Identity {
	return event.Identity{Kind: event.BuildImage, Container: r.Container}
}

// PullImageRule fires once TaskNetworkReady has been observed, for
// containers whose image source is a pull reference.
type PullImageRule struct {
	Container string
}

func NewPullImageRule(container string) *PullImageRule {
	return &PullImageRule{Container: container}
}

func (r *PullImageRule) Evaluate(events event.Set) Result {
	if !events.Has(event.TaskNetworkReady, "") {
		return notReady()
	}
	return ready(event.Step{Kind: event.PullImage, Container: r.Container})
}

func (r *PullImageRule) Identity() event.Identity {
	return event.Identity{Kind: event.PullImage, Container: r.Container}
}

// CreateContainerRule fires once the container's image is available
// (built or pulled) and the task network is ready.
type CreateContainerRule struct {
	Container string
}

func NewCreateContainerRule(container string) *CreateContainerRule {
	return &CreateContainerRule{Container: container}
}

func (r *CreateContainerRule) Evaluate(events event.Set) Result {
	net := events.Find(event.TaskNetworkReady, "")
	if net == nil {
		return notReady()
	}
	var image string
	if e := events.Find(event.ImageBuilt, r.Container); e != nil {
		image = e.Image
	} else if e := events.Find(event.ImagePulled, r.Container); e != nil {
		image = e.Image
	} else {
		return notReady()
	}
	return ready(event.Step{
		Kind:      event.CreateContainer,
		Container: r.Container,
		Image:     image,
		Network:   net.Network,
	})
}

func (r *CreateContainerRule) Identity() event.Identity {
	return event.Identity{Kind: event.CreateContainer, Container: r.Container}
}

// StartContainerRule fires once the container has been created and every
// direct dependency has become healthy. Because WaitForHealth always ends
// in a ContainerBecameHealthy (or failure) event — synthesized immediately
// for containers without a declared health check — this single predicate
// covers both the health-checked and non-health-checked dependency cases
// uniformly (spec.md §9 open question, resolved in SPEC_FULL.md §4).
type StartContainerRule struct {
	Container    string
	Dependencies []string
}

func NewStartContainerRule(container string, dependencies []string) *StartContainerRule {
	return &StartContainerRule{Container: container, Dependencies: dependencies}
}

func (r *StartContainerRule) Evaluate(events event.Set) Result {
	created := events.Find(event.ContainerCreated, r.Container)
	if created == nil {
		return notReady()
	}
	for _, dep := range r.Dependencies {
		if !events.Has(event.ContainerBecameHealthy, dep) {
			return notReady()
		}
	}
	return ready(event.Step{Kind: event.StartContainer, Container: r.Container, Handle: created.Handle})
}

func (r *StartContainerRule) Identity() event.Identity {
	return event.Identity{Kind: event.StartContainer, Container: r.Container}
}

// WaitForHealthRule fires once the container has started.
type WaitForHealthRule struct {
	Container string
}

func NewWaitForHealthRule(container string) *WaitForHealthRule {
	return &WaitForHealthRule{Container: container}
}

func (r *WaitForHealthRule) Evaluate(events event.Set) Result {
	if !events.Has(event.ContainerStarted, r.Container) {
		return notReady()
	}
	created := events.Find(event.ContainerCreated, r.Container)
	var handle string
	if created != nil {
		handle = created.Handle
	}
	return ready(event.Step{Kind: event.WaitForHealth, Container: r.Container, Handle: handle})
}

func (r *WaitForHealthRule) Identity() event.Identity {
	return event.Identity{Kind: event.WaitForHealth, Container: r.Container}
}

// RunSetupCommandsRule fires once the container is healthy. The step runner
// synthesizes immediate success when the container declares no setup
// commands, so the predicate stays uniform here too.
type RunSetupCommandsRule struct {
	Container string
}

func NewRunSetupCommandsRule(container string) *RunSetupCommandsRule {
	return &RunSetupCommandsRule{Container: container}
}

func (r *RunSetupCommandsRule) Evaluate(events event.Set) Result {
	healthy := events.Find(event.ContainerBecameHealthy, r.Container)
	if healthy == nil {
		return notReady()
	}
	created := events.Find(event.ContainerCreated, r.Container)
	var handle string
	if created != nil {
		handle = created.Handle
	}
	return ready(event.Step{Kind: event.RunSetupCommands, Container: r.Container, Handle: handle})
}

func (r *RunSetupCommandsRule) Identity() event.Identity {
	return event.Identity{Kind: event.RunSetupCommands, Container: r.Container}
}

// RunContainerRule fires for the task container alone, once it is healthy
// and its setup commands have completed.
type RunContainerRule struct {
	TaskContainer string
}

func NewRunContainerRule(taskContainer string) *RunContainerRule {
	return &RunContainerRule{TaskContainer: taskContainer}
}

func (r *RunContainerRule) Evaluate(events event.Set) Result {
	if !events.Has(event.ContainerBecameHealthy, r.TaskContainer) {
		return notReady()
	}
	if !events.Has(event.SetupCommandsCompleted, r.TaskContainer) {
		return notReady()
	}
	created := events.Find(event.ContainerCreated, r.TaskContainer)
	var handle string
	if created != nil {
		handle = created.Handle
	}
	return ready(event.Step{Kind: event.RunContainer, Container: r.TaskContainer, Handle: handle})
}

func (r *RunContainerRule) Identity() event.Identity {
	return event.Identity{Kind: event.RunContainer, Container: r.TaskContainer}
}

// StopContainerRule fires during cleanup once the container has started,
// unless it already exited on its own. planner.Cleanup only ever builds
// this rule for a container it has already determined needs stopping, so
// the rule itself does not re-impose any condition on the task container's
// own exit.
type StopContainerRule struct {
	Container     string
	TaskContainer string
}

func NewStopContainerRule(container, taskContainer string) *StopContainerRule {
	return &StopContainerRule{Container: container, TaskContainer: taskContainer}
}

func (r *StopContainerRule) Evaluate(events event.Set) Result {
	if !events.Has(event.ContainerStarted, r.Container) {
		return notReady()
	}
	if events.Has(event.RunningContainerExited, r.Container) {
		return notReady() // already exited on its own, nothing to stop
	}
	created := events.Find(event.ContainerCreated, r.Container)
	var handle string
	if created != nil {
		handle = created.Handle
	}
	return ready(event.Step{Kind: event.StopContainer, Container: r.Container, Handle: handle})
}

func (r *StopContainerRule) Identity() event.Identity {
	return event.Identity{Kind: event.StopContainer, Container: r.Container}
}

// RemoveContainerRule fires once the container has been created and is
// either stopped, exited on its own, or never started.
type RemoveContainerRule struct {
	Container string
}

func NewRemoveContainerRule(container string) *RemoveContainerRule {
	return &RemoveContainerRule{Container: container}
}

func (r *RemoveContainerRule) Evaluate(events event.Set) Result {
	created := events.Find(event.ContainerCreated, r.Container)
	if created == nil {
		return notReady()
	}
	started := events.Has(event.ContainerStarted, r.Container)
	settled := events.Has(event.ContainerStopped, r.Container) ||
		events.Has(event.RunningContainerExited, r.Container) ||
		events.Has(event.ContainerStopFailed, r.Container)
	if started && !settled {
		return notReady()
	}
	return ready(event.Step{Kind: event.RemoveContainer, Container: r.Container, Handle: created.Handle})
}

func (r *RemoveContainerRule) Identity() event.Identity {
	return event.Identity{Kind: event.RemoveContainer, Container: r.Container}
}

// DeleteTaskNetworkRule fires once the network is ready and every
// container that was created has been removed or has reported a removal
// failure. expectContainers is fixed
// at construction time to whatever the planner observed as "created" when
// it built the cleanup stage.
type DeleteTaskNetworkRule struct {
	ExpectContainers []string
}

func NewDeleteTaskNetworkRule(expectContainers []string) *DeleteTaskNetworkRule {
	return &DeleteTaskNetworkRule{ExpectContainers: append([]string(nil), expectContainers...)}
}

func (r *DeleteTaskNetworkRule) Evaluate(events event.Set) Result {
	net := events.Find(event.TaskNetworkReady, "")
	if net == nil {
		return notReady()
	}
	for _, c := range r.ExpectContainers {
		if !events.Has(event.ContainerRemoved, c) && !events.Has(event.ContainerRemovalFailed, c) {
			return notReady()
		}
	}
	return ready(event.Step{Kind: event.DeleteTaskNetwork, Network: net.Network})
}

func (r *DeleteTaskNetworkRule) Identity() event.Identity {
	return event.Identity{Kind: event.DeleteTaskNetwork}
}
