// Package config holds the immutable, validated task configuration types
// that the loader (out of core scope) produces and every core component
// reads. Once built, a Task and its Containers are never mutated.
package config

import (
	"time"

	"github.com/docker/go-connections/nat"
)

// PullPolicy names whether a pull should always hit the registry or reuse a
// locally cached image. The pull step runner does not read it: every
// PullImage step pulls from the registry.
type PullPolicy string

const (
	PullIfNotPresent PullPolicy = "if-not-present"
	PullAlways       PullPolicy = "always"
	PullNever        PullPolicy = "never"
)

// ImageSource is either a build-from-directory or a pull-reference source.
// Exactly one of BuildDir / PullReference is set.
type ImageSource struct {
	BuildDir       string     `yaml:"build_directory,omitempty"`
	BuildFile      string     `yaml:"build_file,omitempty"`
	BuildArgs      map[string]string `yaml:"build_args,omitempty"`
	PullReference  string     `yaml:"image,omitempty"`
	PullPolicy     PullPolicy `yaml:"pull_policy,omitempty"`
}

// IsBuild reports whether this source builds an image from a directory,
// as opposed to pulling a reference.
func (s ImageSource) IsBuild() bool {
	return s.BuildDir != ""
}

// HealthCheck configures the daemon's health probe for a container. A nil
// *HealthCheck on Container means "no health check declared".
type HealthCheck struct {
	Command     []string      `yaml:"command"`
	Interval    time.Duration `yaml:"interval,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Retries     int           `yaml:"retries,omitempty"`
	StartPeriod time.Duration `yaml:"start_period,omitempty"`
}

// PortMapping binds a container port to a host port.
type PortMapping struct {
	Local     nat.Port `yaml:"local"`
	Host      string   `yaml:"host"`
	Protocol  string   `yaml:"protocol,omitempty"`
}

// VolumeMount binds a host or named-volume path into the container.
type VolumeMount struct {
	LocalPath     string `yaml:"local"`
	ContainerPath string `yaml:"container"`
	Options       string `yaml:"options,omitempty"`
}

// DeviceMount exposes a host device inside the container.
type DeviceMount struct {
	LocalPath     string `yaml:"local"`
	ContainerPath string `yaml:"container"`
	Permissions   string `yaml:"permissions,omitempty"`
}

// RunAsUser pins the container's effective UID/GID to the invoking user's,
// when enabled.
type RunAsUser struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	UID     string `yaml:"uid,omitempty"`
	GID     string `yaml:"gid,omitempty"`
}

// SetupCommand is one command run inside a container after it becomes
// healthy. Dependents may start as soon as the container is healthy, without
// waiting for its setup commands; only the task container's own run waits
// for them.
type SetupCommand struct {
	Command []string `yaml:"command"`
	WorkDir string   `yaml:"working_directory,omitempty"`
}

// LogConfig selects the daemon's log driver and its options.
type LogConfig struct {
	Driver  string            `yaml:"driver,omitempty"`
	Options map[string]string `yaml:"options,omitempty"`
}

// EnvExpr is a literal or a host-environment reference ("$HOST_VAR") that
// the daemon-client adapter resolves against envprovider.HostEnvironment.
// A reference to an unset variable, and any other value, is passed through
// literally; proxy variables are not resolved.
type EnvExpr string

// Container is the immutable, fully-resolved configuration of one
// container — task container or dependency — as delivered by the loader.
type Container struct {
	Name              string                  `yaml:"-"`
	Image             ImageSource             `yaml:"image_source"`
	Command           []string                `yaml:"command,omitempty"`
	Entrypoint        []string                `yaml:"entrypoint,omitempty"`
	Environment       map[string]EnvExpr      `yaml:"environment,omitempty"`
	WorkingDirectory  string                  `yaml:"working_directory,omitempty"`
	Volumes           []VolumeMount           `yaml:"volumes,omitempty"`
	Devices           []DeviceMount           `yaml:"devices,omitempty"`
	Ports             []PortMapping           `yaml:"ports,omitempty"`
	DependsOn         []string                `yaml:"dependencies,omitempty"`
	HealthCheck       *HealthCheck            `yaml:"health_check,omitempty"`
	RunAsCurrentUser  RunAsUser               `yaml:"run_as_current_user,omitempty"`
	Privileged        bool                    `yaml:"privileged,omitempty"`
	EnableInit        bool                    `yaml:"enable_init_process,omitempty"`
	CapabilitiesAdd   []string                `yaml:"capabilities_to_add,omitempty"`
	CapabilitiesDrop  []string                `yaml:"capabilities_to_drop,omitempty"`
	AdditionalHosts   map[string]string        `yaml:"additional_hostnames,omitempty"`
	SetupCommands     []SetupCommand          `yaml:"setup_commands,omitempty"`
	Log               LogConfig               `yaml:"log,omitempty"`
	ShmSize           int64                   `yaml:"shm_size,omitempty"`
}

// HasSetupCommands reports whether this container declares any setup
// commands to run once it becomes healthy.
func (c Container) HasSetupCommands() bool {
	return len(c.SetupCommands) > 0
}

// Task is a fully validated, project-scoped task specification: a task
// container name plus every container (task and dependency) transitively
// reachable from it, keyed by name.
type Task struct {
	ProjectName   string               `yaml:"-"`
	Name          string               `yaml:"-"`
	TaskContainer string               `yaml:"task_container"`
	Containers    map[string]Container `yaml:"containers"`
}
