// Package configyaml is the ambient configuration-loading layer: it reads
// a YAML task definition into config.Task and runs minimal structural
// checks. It deliberately stops short of the acyclicity/reachability
// validation graph.Build performs — that stays the one validation boundary
// the core owns (spec.md §6).
package configyaml

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/christinavaneyssen/taskrun/config"
)

// document is the on-disk shape; Containers maps container name to its
// body, matching config.Task.Containers' keying.
type document struct {
	Project       string                      `yaml:"project"`
	TaskContainer string                      `yaml:"task_container"`
	Containers    map[string]config.Container `yaml:"containers"`
}

// Load reads and parses the YAML task definition at path.
func Load(path string) (*config.Task, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read task definition %s", path)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrapf(err, "parse task definition %s", path)
	}

	if doc.TaskContainer == "" {
		return nil, errors.Errorf("%s: task_container is required", path)
	}
	if len(doc.Containers) == 0 {
		return nil, errors.Errorf("%s: at least one container is required", path)
	}
	for name, c := range doc.Containers {
		if !c.Image.IsBuild() && c.Image.PullReference == "" {
			return nil, errors.Errorf("%s: container %q declares neither build_directory nor image", path, name)
		}
		c.Name = name
		doc.Containers[name] = c
	}

	project := doc.Project
	if project == "" {
		project = "task"
	}

	return &config.Task{
		ProjectName:   project,
		Name:          doc.TaskContainer,
		TaskContainer: doc.TaskContainer,
		Containers:    doc.Containers,
	}, nil
}
