// Package graph resolves the transitive closure of containers required by
// a task's task container and validates it is acyclic.
package graph

import (
	"fmt"

	"github.com/golang-collections/collections/queue"
	"github.com/pkg/errors"

	"github.com/christinavaneyssen/taskrun/config"
)

// ErrInvalidGraph is wrapped with the offending detail and returned by
// Build whenever the dependency relation fails validation.
var ErrInvalidGraph = errors.New("invalid dependency graph")

// Node is one container in the resolved graph.
type Node struct {
	Name      string
	Container config.Container
}

// Graph is the resolved, validated dependency graph for one task run.
// Nodes and edges are immutable once Build returns.
type Graph struct {
	nodes   map[string]Node
	order   []string // deterministic node order, insertion order from BFS
	taskKey string
}

// Build performs a BFS closure from task.TaskContainer over task.Containers'
// DependsOn edges, then validates acyclicity. It fails with ErrInvalidGraph
// if any referenced container name is missing, the dependency relation has
// a cycle, or the task container itself is absent from task.Containers.
func Build(task *config.Task) (*Graph, error) {
	if task == nil {
		return nil, errors.Wrap(ErrInvalidGraph, "nil task")
	}
	root, ok := task.Containers[task.TaskContainer]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidGraph, "task container %q not present in containers", task.TaskContainer)
	}

	g := &Graph{
		nodes:   make(map[string]Node),
		taskKey: task.TaskContainer,
	}

	visited := map[string]bool{task.TaskContainer: true}
	q := queue.New()
	q.Enqueue(task.TaskContainer)
	g.nodes[task.TaskContainer] = Node{Name: task.TaskContainer, Container: root}
	g.order = append(g.order, task.TaskContainer)

	for q.Len() > 0 {
		name := q.Dequeue().(string)
		c := g.nodes[name].Container
		for _, dep := range c.DependsOn {
			depContainer, ok := task.Containers[dep]
			if !ok {
				return nil, errors.Wrapf(ErrInvalidGraph, "container %q depends on undefined container %q", name, dep)
			}
			if !visited[dep] {
				visited[dep] = true
				g.nodes[dep] = Node{Name: dep, Container: depContainer}
				g.order = append(g.order, dep)
				q.Enqueue(dep)
			}
		}
	}

	if err := detectCycle(g); err != nil {
		return nil, err
	}

	return g, nil
}

// detectCycle runs a white/gray/black DFS over g's edges.
func detectCycle(g *Graph) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))
	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		color[name] = gray
		for _, dep := range g.nodes[name].Container.DependsOn {
			switch color[dep] {
			case gray:
				return errors.Wrapf(ErrInvalidGraph, "dependency cycle: %v -> %s", append(path, dep), dep)
			case white:
				if err := visit(dep, append(path, dep)); err != nil {
					return err
				}
			}
		}
		color[name] = black
		return nil
	}
	for _, name := range g.order {
		if color[name] == white {
			if err := visit(name, []string{name}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Nodes returns every node in the graph, in BFS discovery order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.nodes[name])
	}
	return out
}

// EdgesFrom returns the names of the containers that name directly depends
// on. Returns nil if name is not a node in this graph.
func (g *Graph) EdgesFrom(name string) []string {
	n, ok := g.nodes[name]
	if !ok {
		return nil
	}
	return append([]string(nil), n.Container.DependsOn...)
}

// TaskContainerNode returns the single task-container node.
func (g *Graph) TaskContainerNode() Node {
	return g.nodes[g.taskKey]
}

// Node looks up a node by name.
func (g *Graph) Node(name string) (Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// IsTaskContainer reports whether name is the task container.
func (g *Graph) IsTaskContainer(name string) bool {
	return name == g.taskKey
}

func (g *Graph) String() string {
	return fmt.Sprintf("Graph{task=%s, nodes=%d}", g.taskKey, len(g.nodes))
}
