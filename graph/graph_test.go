package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christinavaneyssen/taskrun/config"
)

func TestBuildResolvesTransitiveDependencies(t *testing.T) {
	task := &config.Task{
		TaskContainer: "task",
		Containers: map[string]config.Container{
			"task": {Name: "task", DependsOn: []string{"app"}},
			"app":  {Name: "app", DependsOn: []string{"db", "cache"}},
			"db":   {Name: "db"},
			"cache": {Name: "cache"},
		},
	}

	g, err := Build(task)
	require.NoError(t, err)
	assert.Len(t, g.Nodes(), 4)
	assert.True(t, g.IsTaskContainer("task"))
	assert.False(t, g.IsTaskContainer("db"))
	assert.ElementsMatch(t, []string{"db", "cache"}, g.EdgesFrom("app"))
}

func TestBuildUnreachableContainerIsExcluded(t *testing.T) {
	task := &config.Task{
		TaskContainer: "task",
		Containers: map[string]config.Container{
			"task":      {Name: "task"},
			"unrelated": {Name: "unrelated"},
		},
	}

	g, err := Build(task)
	require.NoError(t, err)
	assert.Len(t, g.Nodes(), 1)
	_, ok := g.Node("unrelated")
	assert.False(t, ok)
}

func TestBuildRejectsMissingTaskContainer(t *testing.T) {
	task := &config.Task{
		TaskContainer: "missing",
		Containers:    map[string]config.Container{},
	}

	_, err := Build(task)
	assert.ErrorIs(t, err, ErrInvalidGraph)
}

func TestBuildRejectsUndefinedDependency(t *testing.T) {
	task := &config.Task{
		TaskContainer: "task",
		Containers: map[string]config.Container{
			"task": {Name: "task", DependsOn: []string{"ghost"}},
		},
	}

	_, err := Build(task)
	assert.ErrorIs(t, err, ErrInvalidGraph)
}

func TestBuildRejectsCycle(t *testing.T) {
	task := &config.Task{
		TaskContainer: "task",
		Containers: map[string]config.Container{
			"task": {Name: "task", DependsOn: []string{"a"}},
			"a":    {Name: "a", DependsOn: []string{"b"}},
			"b":    {Name: "b", DependsOn: []string{"a"}},
		},
	}

	_, err := Build(task)
	assert.ErrorIs(t, err, ErrInvalidGraph)
}

func TestBuildRejectsNilTask(t *testing.T) {
	_, err := Build(nil)
	assert.ErrorIs(t, err, ErrInvalidGraph)
}
