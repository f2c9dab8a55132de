// Package planner produces the rule sets that drive each stage of a task
// run: Run derives the initial (run-stage) rule set from a dependency
// graph; Cleanup derives the teardown rule set from whatever the
// accumulated event set shows actually exists at the moment of
// transition.
package planner

import (
	"github.com/christinavaneyssen/taskrun/graph"
	"github.com/christinavaneyssen/taskrun/rules"
	"github.com/christinavaneyssen/taskrun/stage"
)

// Run builds the run-stage rule set for g: the singleton network-prepare
// rule; one image rule per node (build or pull, by image source); create,
// start, wait-for-health and run-setup-commands rules per node; and a
// single run-container rule for the task container. Ordering is expressed
// entirely through rule predicates, not list position — see rules package.
func Run(g *graph.Graph) *stage.Stage {
	nodes := g.Nodes()
	rs := make([]rules.Rule, 0, 1+5*len(nodes)+1)

	rs = append(rs, rules.NewPrepareNetworkRule())

	for _, n := range nodes {
		if n.Container.Image.IsBuild() {
			rs = append(rs, rules.NewBuildImageRule(n.Name))
		} else {
			rs = append(rs, rules.NewPullImageRule(n.Name))
		}
	}
	for _, n := range nodes {
		rs = append(rs, rules.NewCreateContainerRule(n.Name))
	}
	for _, n := range nodes {
		rs = append(rs, rules.NewStartContainerRule(n.Name, g.EdgesFrom(n.Name)))
	}
	for _, n := range nodes {
		rs = append(rs, rules.NewWaitForHealthRule(n.Name))
	}
	for _, n := range nodes {
		rs = append(rs, rules.NewRunSetupCommandsRule(n.Name))
	}

	rs = append(rs, rules.NewRunContainerRule(g.TaskContainerNode().Name))

	return stage.New("run", rs, nil)
}
