package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/christinavaneyssen/taskrun/configyaml"
	"github.com/christinavaneyssen/taskrun/graph"
)

var graphTaskFile string

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Resolve and print a task's dependency graph without running it",
	RunE:  printGraph,
}

func init() {
	graphCmd.Flags().StringVarP(&graphTaskFile, "file", "f", "task.yml", "path to the task definition")
}

func printGraph(cmd *cobra.Command, args []string) error {
	task, err := configyaml.Load(graphTaskFile)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}

	g, err := graph.Build(task)
	if err != nil {
		return fmt.Errorf("build dependency graph: %w", err)
	}

	for _, n := range g.Nodes() {
		marker := " "
		if g.IsTaskContainer(n.Name) {
			marker = "*"
		}
		deps := g.EdgesFrom(n.Name)
		if len(deps) == 0 {
			fmt.Printf("%s %s\n", marker, n.Name)
			continue
		}
		fmt.Printf("%s %s -> %v\n", marker, n.Name, deps)
	}
	return nil
}
