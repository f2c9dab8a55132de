// Package daemon pins the interface the core dispatches against: the
// local container daemon client. spec.md §6 treats the daemon client as
// an external collaborator; this package only defines the contract, not
// an implementation — see dockerclient for the concrete Docker-backed one.
package daemon

import (
	"context"
	"io"

	"github.com/christinavaneyssen/taskrun/config"
)

// Handle is an opaque, daemon-assigned identifier published once by a
// creation event and treated as an immutable value type thereafter.
type Handle string

// Network is an opaque, daemon-assigned network identifier.
type Network string

// Image names a built or pulled image.
type Image struct {
	Ref string
}

// Credentials authenticates a registry pull. Zero value means anonymous.
type Credentials struct {
	Username string
	Password string
}

// BuildRequest describes a build-from-directory image source.
type BuildRequest struct {
	ContextDir string
	Dockerfile string
	Tag        string
	BuildArgs  map[string]string
}

// CreateContainerRequest is the fully resolved configuration needed to
// create one container, after environment expressions have been resolved
// against host/proxy environment maps.
type CreateContainerRequest struct {
	Name             string
	Image            string
	Command          []string
	Entrypoint       []string
	Env              []string
	WorkingDirectory string
	Ports            []config.PortMapping
	Volumes          []config.VolumeMount
	Devices          []config.DeviceMount
	NetworkName      string
	Privileged       bool
	EnableInit       bool
	CapabilitiesAdd  []string
	CapabilitiesDrop []string
	ExtraHosts       map[string]string
	ShmSize          int64
	Log              config.LogConfig
	HealthCheck      *config.HealthCheck
	RunAsUser        config.RunAsUser
}

// HealthResult is WaitForHealth's outcome.
type HealthResult struct {
	Healthy bool
	Message string
}

// IOStreams are attached to RunAttached for the task container.
type IOStreams struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Client is the local daemon's capability surface, as consumed by the
// step runners the dispatcher invokes. Every call accepts a cancellation
// token per spec.md §6.
type Client interface {
	Build(ctx context.Context, req BuildRequest) (Image, error)
	Pull(ctx context.Context, ref string, creds Credentials) (Image, error)
	CreateContainer(ctx context.Context, req CreateContainerRequest) (Handle, error)
	StartContainer(ctx context.Context, h Handle) error
	WaitForHealth(ctx context.Context, h Handle, hc *config.HealthCheck) (HealthResult, error)
	RunSetupCommands(ctx context.Context, h Handle, cmds []config.SetupCommand) error
	Stop(ctx context.Context, h Handle) error
	Remove(ctx context.Context, h Handle) error
	CreateNetwork(ctx context.Context, name string) (Network, error)
	RemoveNetwork(ctx context.Context, n Network) error
	RunAttached(ctx context.Context, h Handle, io IOStreams) (exitCode int, err error)
	Exec(ctx context.Context, h Handle, cmd []string) (exitCode int, err error)
}
