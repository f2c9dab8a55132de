package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christinavaneyssen/taskrun/event"
	"github.com/christinavaneyssen/taskrun/rules"
)

func TestPopReturnsFirstReadyRuleOnce(t *testing.T) {
	s := New("run", []rules.Rule{rules.NewPrepareNetworkRule()}, nil)

	first := s.Pop(event.NewSet(nil))
	require.Equal(t, StepReady, first.Status)
	assert.Equal(t, event.PrepareTaskNetwork, first.Step.Kind)

	second := s.Pop(event.NewSet(nil))
	assert.Equal(t, NoStepsReady, second.Status, "the rule already fired and has no completion event yet")
}

func TestPopReportsCompleteOnceEveryRuleFiredAndFinished(t *testing.T) {
	s := New("run", []rules.Rule{rules.NewPrepareNetworkRule()}, nil)

	fired := s.Pop(event.NewSet(nil))
	require.Equal(t, StepReady, fired.Status)

	done := s.Pop(event.NewSet([]event.Event{{Kind: event.TaskNetworkReady}}))
	assert.Equal(t, Complete, done.Status)
}

func TestPopEmptyStageIsImmediatelyComplete(t *testing.T) {
	s := New("cleanup", nil, []string{"docker rm --force db"})
	res := s.Pop(event.NewSet(nil))
	assert.Equal(t, Complete, res.Status)
	assert.Equal(t, 0, s.RuleCount())
}

func TestPopSkipsFiredRulesInOrder(t *testing.T) {
	s := New("run", []rules.Rule{
		rules.NewBuildImageRule("app"),
		rules.NewPullImageRule("db"),
	}, nil)

	events := event.NewSet([]event.Event{{Kind: event.TaskNetworkReady}})

	firstPop := s.Pop(events)
	require.Equal(t, StepReady, firstPop.Status)
	assert.Equal(t, event.BuildImage, firstPop.Step.Kind, "build-image rule was inserted first")

	secondPop := s.Pop(events)
	require.Equal(t, StepReady, secondPop.Status)
	assert.Equal(t, event.PullImage, secondPop.Step.Kind, "build-image already fired, pull-image is next")

	thirdPop := s.Pop(events)
	assert.Equal(t, NoStepsReady, thirdPop.Status, "both rules fired, neither has completed yet")
}
