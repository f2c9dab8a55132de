package configyaml

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTaskFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "task.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadValidTask(t *testing.T) {
	path := writeTaskFile(t, `
project: myapp
task_container: build
containers:
  build:
    image_source:
      build_directory: .
    dependencies: [db]
  db:
    image_source:
      image: postgres:16
`)

	task, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "myapp", task.ProjectName)
	assert.Equal(t, "build", task.TaskContainer)
	require.Contains(t, task.Containers, "db")
	assert.Equal(t, "db", task.Containers["db"].Name)
}

func TestLoadDefaultsProjectName(t *testing.T) {
	path := writeTaskFile(t, `
task_container: build
containers:
  build:
    image_source:
      image: alpine
`)

	task, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "task", task.ProjectName)
}

func TestLoadRejectsMissingTaskContainer(t *testing.T) {
	path := writeTaskFile(t, `
containers:
  build:
    image_source:
      image: alpine
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsContainerWithoutImageSource(t *testing.T) {
	path := writeTaskFile(t, `
task_container: build
containers:
  build:
    image_source: {}
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
