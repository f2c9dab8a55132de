// Package event defines the closed sum of task lifecycle events and the
// helpers rules use to project them.
package event

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind discriminates the closed set of task events.
type Kind int

const (
	TaskNetworkReady Kind = iota
	ImageBuilt
	ImageBuildProgress
	ImageBuildFailed
	ImagePulled
	ImagePullProgress
	ImagePullFailed
	ContainerCreated
	ContainerCreationFailed
	ContainerStarted
	ContainerStartFailed
	ContainerBecameHealthy
	ContainerDidNotBecomeHealthy
	RunningContainerExited
	ContainerStopped
	ContainerRemoved
	TaskNetworkRemoved
	SetupCommandsCompleted
	SetupCommandFailed
	UserRequestedCancellation

	// ContainerStopFailed, ContainerRemovalFailed and
	// TaskNetworkRemovalFailed supplement spec.md §3's closed sum: every
	// runner must translate a daemon error into a matching failure event
	// (spec.md §7), including during cleanup, and the distilled event
	// list otherwise leaves teardown operations with no failure case to
	// report.
	ContainerStopFailed
	ContainerRemovalFailed
	TaskNetworkRemovalFailed

	// TaskNetworkPreparationFailed closes the same gap at the other end
	// of the run: network preparation is the one run-stage daemon call
	// that otherwise had no failure event to report into, per spec.md §7
	// category 2 ("daemon operation failure is translated ... into the
	// matching event.Event failure case; never escapes as a Go error").
	TaskNetworkPreparationFailed
)

func (k Kind) String() string {
	switch k {
	case TaskNetworkReady:
		return "TaskNetworkReady"
	case ImageBuilt:
		return "ImageBuilt"
	case ImageBuildProgress:
		return "ImageBuildProgress"
	case ImageBuildFailed:
		return "ImageBuildFailed"
	case ImagePulled:
		return "ImagePulled"
	case ImagePullProgress:
		return "ImagePullProgress"
	case ImagePullFailed:
		return "ImagePullFailed"
	case ContainerCreated:
		return "ContainerCreated"
	case ContainerCreationFailed:
		return "ContainerCreationFailed"
	case ContainerStarted:
		return "ContainerStarted"
	case ContainerStartFailed:
		return "ContainerStartFailed"
	case ContainerBecameHealthy:
		return "ContainerBecameHealthy"
	case ContainerDidNotBecomeHealthy:
		return "ContainerDidNotBecomeHealthy"
	case RunningContainerExited:
		return "RunningContainerExited"
	case ContainerStopped:
		return "ContainerStopped"
	case ContainerRemoved:
		return "ContainerRemoved"
	case TaskNetworkRemoved:
		return "TaskNetworkRemoved"
	case SetupCommandsCompleted:
		return "SetupCommandsCompleted"
	case SetupCommandFailed:
		return "SetupCommandFailed"
	case UserRequestedCancellation:
		return "UserRequestedCancellation"
	case ContainerStopFailed:
		return "ContainerStopFailed"
	case ContainerRemovalFailed:
		return "ContainerRemovalFailed"
	case TaskNetworkRemovalFailed:
		return "TaskNetworkRemovalFailed"
	case TaskNetworkPreparationFailed:
		return "TaskNetworkPreparationFailed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// failureKinds is the set of kinds that implement the failure marker. A map
// lookup keeps Event.IsFailure O(1) without a type switch per spec.md §3.
var failureKinds = map[Kind]bool{
	ImageBuildFailed:             true,
	ImagePullFailed:              true,
	ContainerCreationFailed:      true,
	ContainerStartFailed:         true,
	ContainerDidNotBecomeHealthy: true,
	SetupCommandFailed:           true,
	UserRequestedCancellation:    true,
	ContainerStopFailed:          true,
	ContainerRemovalFailed:       true,
	TaskNetworkRemovalFailed:     true,
	TaskNetworkPreparationFailed: true,
}

// Event is a single immutable observation posted to the state machine.
// Container, Message and Cmd are populated depending on Kind; Progress and
// ExitCode are zero-value when not meaningful for a given Kind. ID is
// assigned by the state machine when the event is posted (see
// engine.StateMachine.PostEvent), the same way task.TaskEvent.ID is
// assigned a uuid.UUID in the teacher repo, so every log line and
// downstream subscriber can correlate one observation across components.
type Event struct {
	ID        uuid.UUID
	Kind      Kind
	Container string // container name this event concerns, "" for network-wide events
	Network   string
	Image     string
	Handle    string // daemon-assigned container/network id once published
	Message   string
	Cmd       string
	Progress  string
	ExitCode  int
}

// IsFailure reports whether e denotes a failure, in O(1).
func (e Event) IsFailure() bool {
	return failureKinds[e.Kind]
}

func (e Event) String() string {
	if e.Container != "" {
		return fmt.Sprintf("%s(%s)", e.Kind, e.Container)
	}
	return e.Kind.String()
}

// Set is an append-only, order-insensitive view over accumulated events.
// Rules only ever observe a Set, never the raw event log, so their
// evaluation is a pure function of "what has happened" rather than "in
// what order".
type Set struct {
	events []Event
}

// NewSet builds a Set from existing events, e.g. a snapshot handed to a rule.
func NewSet(events []Event) Set {
	cp := make([]Event, len(events))
	copy(cp, events)
	return Set{events: cp}
}

// All returns a defensive copy of the accumulated events.
func (s Set) All() []Event {
	cp := make([]Event, len(s.events))
	copy(cp, s.events)
	return cp
}

// Has reports whether any event of kind k concerning container exists.
// container == "" matches network-wide events (or any container, for
// kinds that are never network-scoped — callers pass "" only for kinds
// that are genuinely container-agnostic, such as TaskNetworkReady).
func (s Set) Has(k Kind, container string) bool {
	return s.Find(k, container) != nil
}

// Find returns a pointer to the first matching event, or nil.
func (s Set) Find(k Kind, container string) *Event {
	for i := range s.events {
		e := s.events[i]
		if e.Kind != k {
			continue
		}
		if container != "" && e.Container != container {
			continue
		}
		return &s.events[i]
	}
	return nil
}

// AllOfCase returns every event of kind k, in posting order.
func (s Set) AllOfCase(k Kind) []Event {
	var out []Event
	for _, e := range s.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// ContainsFailure reports whether any failure event has been observed.
func (s Set) ContainsFailure() bool {
	for _, e := range s.events {
		if e.IsFailure() {
			return true
		}
	}
	return false
}

// Count returns the number of accumulated events, mostly useful in tests.
func (s Set) Count() int {
	return len(s.events)
}
