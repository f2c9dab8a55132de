// Package stage defines the Stage type shared by the run- and
// cleanup-stage planners and the state machine: a bag of rules plus a
// manual-cleanup command list, with a completion predicate.
package stage

import (
	"github.com/golang-collections/collections/set"

	"github.com/christinavaneyssen/taskrun/event"
	"github.com/christinavaneyssen/taskrun/rules"
)

// PopStatus is the outcome of asking a Stage for its next ready step.
type PopStatus int

const (
	StepReady PopStatus = iota
	NoStepsReady
	Complete
)

// PopResult is what Stage.Pop returns.
type PopResult struct {
	Status PopStatus
	Step   event.Step
}

// Stage is a set of rules plus the manual-cleanup command list a user
// would run by hand if this stage's own cleanup were suppressed (or if
// cleanup itself later fails).
type Stage struct {
	Name                  string
	ManualCleanupCommands []string

	rules []rules.Rule
	fired *set.Set
}

// New builds a Stage. rs may be empty (e.g. a cleanup stage suppressed by
// policy), in which case Pop immediately reports Complete.
func New(name string, rs []rules.Rule, manualCleanupCommands []string) *Stage {
	return &Stage{
		Name:                  name,
		ManualCleanupCommands: manualCleanupCommands,
		rules:                 rs,
		fired:                 set.New(),
	}
}

// Pop evaluates the stage's rules, in their fixed insertion order, against
// events. The first rule that is both not yet fired and ready wins; its
// identity is marked fired so it can never be returned again (spec.md
// §4.F invariant 2). The stage is Complete once every rule has fired and
// every fired rule's completion event has been observed.
func (s *Stage) Pop(events event.Set) PopResult {
	allComplete := true
	for _, r := range s.rules {
		id := r.Identity()
		if s.fired.Has(id) {
			if !rules.CompletionObserved(id, events) {
				allComplete = false
			}
			continue
		}
		allComplete = false
		res := r.Evaluate(events)
		if res.Status == rules.StepReady {
			s.fired.Insert(id)
			return PopResult{Status: StepReady, Step: res.Step}
		}
	}
	if allComplete {
		return PopResult{Status: Complete}
	}
	return PopResult{Status: NoStepsReady}
}

// RuleCount reports how many rules this stage holds, mostly for tests.
func (s *Stage) RuleCount() int {
	return len(s.rules)
}
