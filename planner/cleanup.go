package planner

import (
	"fmt"

	"github.com/christinavaneyssen/taskrun/event"
	"github.com/christinavaneyssen/taskrun/graph"
	"github.com/christinavaneyssen/taskrun/rules"
	"github.com/christinavaneyssen/taskrun/stage"
)

// CleanupPolicy controls whether teardown runs at all, per spec.md §4.E.
type CleanupPolicy int

const (
	CleanupAlways CleanupPolicy = iota
	DontCleanupOnFailure
	DontCleanupOnSuccess
	NeverCleanup
)

func (p CleanupPolicy) String() string {
	switch p {
	case CleanupAlways:
		return "always"
	case DontCleanupOnFailure:
		return "dont-cleanup-on-failure"
	case DontCleanupOnSuccess:
		return "dont-cleanup-on-success"
	case NeverCleanup:
		return "never"
	default:
		return "unknown"
	}
}

// suppressed reports whether policy forbids running cleanup for a run
// that ended with taskFailed.
func (p CleanupPolicy) suppressed(taskFailed bool) bool {
	switch p {
	case DontCleanupOnFailure:
		return taskFailed
	case DontCleanupOnSuccess:
		return !taskFailed
	case NeverCleanup:
		return true
	default:
		return false
	}
}

// Cleanup inspects events for every container that has a ContainerCreated
// but no ContainerRemoved and builds the rules to tear it down (preceded
// by a stop rule if it was started and hasn't exited on its own), plus a
// final network-deletion rule if the network was ever prepared. It always
// computes the manual-cleanup command list a user would need if cleanup
// didn't run; suppressed reports whether policy means that's exactly what
// happens (an empty rule set).
func Cleanup(events event.Set, g *graph.Graph, policy CleanupPolicy, taskFailed bool) (st *stage.Stage, suppressed bool) {
	taskName := g.TaskContainerNode().Name

	var created []string
	var stillExisting []string
	for _, n := range g.Nodes() {
		if !events.Has(event.ContainerCreated, n.Name) {
			continue
		}
		created = append(created, n.Name)
		if !events.Has(event.ContainerRemoved, n.Name) {
			stillExisting = append(stillExisting, n.Name)
		}
	}
	networkExists := events.Has(event.TaskNetworkReady, "") && !events.Has(event.TaskNetworkRemoved, "")

	manual := manualCleanupCommands(stillExisting, networkExists, events)

	if policy.suppressed(taskFailed) {
		return stage.New("cleanup", nil, manual), true
	}

	rs := make([]rules.Rule, 0, 2*len(stillExisting)+1)
	for _, c := range stillExisting {
		// A container that was created but never started, or that already
		// exited on its own, has nothing for StopContainerRule to do and
		// its predicate can never fire — skip straight to removal so the
		// stage doesn't wait forever on a rule that will never be ready.
		needsStop := events.Has(event.ContainerStarted, c) && !events.Has(event.RunningContainerExited, c)
		if needsStop {
			rs = append(rs, rules.NewStopContainerRule(c, taskName))
		}
	}
	for _, c := range stillExisting {
		rs = append(rs, rules.NewRemoveContainerRule(c))
	}
	if events.Has(event.TaskNetworkReady, "") {
		rs = append(rs, rules.NewDeleteTaskNetworkRule(created))
	}

	return stage.New("cleanup", rs, manual), false
}

func manualCleanupCommands(containers []string, networkExists bool, events event.Set) []string {
	var cmds []string
	for _, c := range containers {
		cmds = append(cmds, fmt.Sprintf("docker rm --force %s", c))
	}
	if networkExists {
		name := "<unknown>"
		if e := events.Find(event.TaskNetworkReady, ""); e != nil && e.Network != "" {
			name = e.Network
		}
		cmds = append(cmds, fmt.Sprintf("docker network rm %s", name))
	}
	return cmds
}
