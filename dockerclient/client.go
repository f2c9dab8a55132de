// Package dockerclient implements daemon.Client against a local Docker
// daemon, generalizing the teacher repo's task.Docker (ImagePull /
// ContainerCreate / ContainerStart / ContainerLogs) to cover build,
// networks, health waiting, setup commands, exec, and attach.
package dockerclient

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog"

	"github.com/christinavaneyssen/taskrun/config"
	"github.com/christinavaneyssen/taskrun/daemon"
)

// Client adapts *client.Client (the Docker SDK's daemon client) to
// daemon.Client.
type Client struct {
	docker *client.Client
	log    zerolog.Logger
}

// New connects to the local daemon using the standard environment
// variables (DOCKER_HOST, DOCKER_CERT_PATH, ...), the same discovery the
// docker CLI itself uses.
func New(log zerolog.Logger) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connect to docker daemon: %w", err)
	}
	return &Client{docker: cli, log: log.With().Str("component", "dockerclient").Logger()}, nil
}

var _ daemon.Client = (*Client)(nil)

// Build streams req.ContextDir as a tar build context and runs an image
// build, returning the resulting image reference.
func (c *Client) Build(ctx context.Context, req daemon.BuildRequest) (daemon.Image, error) {
	buildCtx, err := tarDirectory(req.ContextDir)
	if err != nil {
		return daemon.Image{}, fmt.Errorf("build context for %s: %w", req.ContextDir, err)
	}
	dockerfile := req.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	resp, err := c.docker.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{req.Tag},
		Dockerfile: dockerfile,
		BuildArgs:  toPtrMap(req.BuildArgs),
		Remove:     true,
	})
	if err != nil {
		return daemon.Image{}, fmt.Errorf("image build failed: %w", err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return daemon.Image{}, fmt.Errorf("reading build output: %w", err)
	}
	return daemon.Image{Ref: req.Tag}, nil
}

// Pull pulls ref from its registry, optionally authenticating with creds.
func (c *Client) Pull(ctx context.Context, ref string, creds daemon.Credentials) (daemon.Image, error) {
	opts := image.PullOptions{}
	if creds.Username != "" {
		opts.RegistryAuth = encodeAuth(creds)
	}
	reader, err := c.docker.ImagePull(ctx, ref, opts)
	if err != nil {
		return daemon.Image{}, fmt.Errorf("image pull failed: %w", err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return daemon.Image{}, fmt.Errorf("reading pull output: %w", err)
	}
	return daemon.Image{Ref: ref}, nil
}

// CreateContainer materializes req on the daemon, attached to its task
// network, and returns the resulting handle.
func (c *Client) CreateContainer(ctx context.Context, req daemon.CreateContainerRequest) (daemon.Handle, error) {
	exposed, bindings := portConfig(req.Ports)

	cfg := &container.Config{
		Image:        req.Image,
		Cmd:          req.Command,
		Entrypoint:   req.Entrypoint,
		Env:          req.Env,
		WorkingDir:   req.WorkingDirectory,
		ExposedPorts: exposed,
		Tty:          false,
	}
	if req.HealthCheck != nil {
		cfg.Healthcheck = &container.HealthConfig{
			Test:        append([]string{"CMD"}, req.HealthCheck.Command...),
			Interval:    req.HealthCheck.Interval,
			Timeout:     req.HealthCheck.Timeout,
			StartPeriod: req.HealthCheck.StartPeriod,
			Retries:     req.HealthCheck.Retries,
		}
	}

	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		Mounts:       mounts(req.Volumes, req.Devices),
		Privileged:   req.Privileged,
		CapAdd:       req.CapabilitiesAdd,
		CapDrop:      req.CapabilitiesDrop,
		ExtraHosts:   extraHosts(req.ExtraHosts),
		ShmSize:      req.ShmSize,
		LogConfig: container.LogConfig{
			Type:   req.Log.Driver,
			Config: req.Log.Options,
		},
	}
	if req.EnableInit {
		t := true
		hostCfg.Init = &t
	}
	for _, d := range req.Devices {
		hostCfg.Devices = append(hostCfg.Devices, container.DeviceMapping{
			PathOnHost:        d.LocalPath,
			PathInContainer:   d.ContainerPath,
			CgroupPermissions: d.Permissions,
		})
	}
	if req.RunAsUser.Enabled {
		cfg.User = fmt.Sprintf("%s:%s", req.RunAsUser.UID, req.RunAsUser.GID)
	}

	netCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			req.NetworkName: {},
		},
	}

	resp, err := c.docker.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, req.Name)
	if err != nil {
		return "", fmt.Errorf("create container failed: %w", err)
	}
	return daemon.Handle(resp.ID), nil
}

func (c *Client) StartContainer(ctx context.Context, h daemon.Handle) error {
	if err := c.docker.ContainerStart(ctx, string(h), container.StartOptions{}); err != nil {
		return fmt.Errorf("start container failed: %w", err)
	}
	return nil
}

// WaitForHealth polls until the container becomes healthy, fails its
// health check for good, or ctx is cancelled. A container with no
// declared health check is reported healthy immediately (spec.md §9 open
// question, resolved in SPEC_FULL.md §4).
func (c *Client) WaitForHealth(ctx context.Context, h daemon.Handle, hc *config.HealthCheck) (daemon.HealthResult, error) {
	if hc == nil {
		return daemon.HealthResult{Healthy: true}, nil
	}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return daemon.HealthResult{}, ctx.Err()
		case <-ticker.C:
			info, err := c.docker.ContainerInspect(ctx, string(h))
			if err != nil {
				return daemon.HealthResult{}, fmt.Errorf("inspect for health failed: %w", err)
			}
			if info.State == nil || info.State.Health == nil {
				continue
			}
			switch info.State.Health.Status {
			case "healthy":
				return daemon.HealthResult{Healthy: true}, nil
			case "unhealthy":
				return daemon.HealthResult{Healthy: false, Message: lastHealthLog(info.State.Health)}, nil
			}
		}
	}
}

// RunSetupCommands execs each configured setup command in turn, stopping
// at the first failure. A container with no setup commands succeeds
// trivially.
func (c *Client) RunSetupCommands(ctx context.Context, h daemon.Handle, cmds []config.SetupCommand) error {
	for _, sc := range cmds {
		exitCode, err := c.Exec(ctx, h, sc.Command)
		if err != nil {
			return fmt.Errorf("setup command %v failed: %w", sc.Command, err)
		}
		if exitCode != 0 {
			return fmt.Errorf("setup command %v exited %d", sc.Command, exitCode)
		}
	}
	return nil
}

func (c *Client) Stop(ctx context.Context, h daemon.Handle) error {
	if err := c.docker.ContainerStop(ctx, string(h), container.StopOptions{}); err != nil {
		return fmt.Errorf("stop container failed: %w", err)
	}
	return nil
}

func (c *Client) Remove(ctx context.Context, h daemon.Handle) error {
	if err := c.docker.ContainerRemove(ctx, string(h), container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("remove container failed: %w", err)
	}
	return nil
}

func (c *Client) CreateNetwork(ctx context.Context, name string) (daemon.Network, error) {
	resp, err := c.docker.NetworkCreate(ctx, name, network.CreateOptions{})
	if err != nil {
		return "", fmt.Errorf("create network failed: %w", err)
	}
	return daemon.Network(resp.ID), nil
}

func (c *Client) RemoveNetwork(ctx context.Context, n daemon.Network) error {
	if err := c.docker.NetworkRemove(ctx, string(n)); err != nil {
		return fmt.Errorf("remove network failed: %w", err)
	}
	return nil
}

// RunAttached runs the task container's logs through io, mirroring
// task.Docker.ContainerLogs/stdcopy.StdCopy, and returns its exit code
// once it stops.
func (c *Client) RunAttached(ctx context.Context, h daemon.Handle, streams daemon.IOStreams) (int, error) {
	logs, err := c.docker.ContainerLogs(ctx, string(h), container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return 0, fmt.Errorf("attach to container logs failed: %w", err)
	}
	defer logs.Close()

	done := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(streams.Stdout, streams.Stderr, logs)
		done <- copyErr
	}()

	statusCh, errCh := c.docker.ContainerWait(ctx, string(h), container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return 0, fmt.Errorf("waiting for container exit failed: %w", err)
	case status := <-statusCh:
		<-done
		return int(status.StatusCode), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *Client) Exec(ctx context.Context, h daemon.Handle, cmd []string) (int, error) {
	created, err := c.docker.ContainerExecCreate(ctx, string(h), container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return 0, fmt.Errorf("exec create failed: %w", err)
	}
	attach, err := c.docker.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return 0, fmt.Errorf("exec attach failed: %w", err)
	}
	defer attach.Close()
	if _, err := stdcopy.StdCopy(io.Discard, io.Discard, attach.Reader); err != nil && err != io.EOF {
		return 0, fmt.Errorf("draining exec output failed: %w", err)
	}
	inspect, err := c.docker.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return 0, fmt.Errorf("exec inspect failed: %w", err)
	}
	return inspect.ExitCode, nil
}

func lastHealthLog(h *types.Health) string {
	if h == nil || len(h.Log) == 0 {
		return "container reported unhealthy"
	}
	return h.Log[len(h.Log)-1].Output
}

func toPtrMap(m map[string]string) map[string]*string {
	if m == nil {
		return nil
	}
	out := make(map[string]*string, len(m))
	for k, v := range m {
		v := v
		out[k] = &v
	}
	return out
}

func encodeAuth(creds daemon.Credentials) string {
	// The registry auth header carries the AuthConfig as URL-safe base64
	// JSON.
	buf, _ := json.Marshal(map[string]string{"username": creds.Username, "password": creds.Password})
	return base64.URLEncoding.EncodeToString(buf)
}

func portConfig(ports []config.PortMapping) (nat.PortSet, nat.PortMap) {
	exposed := make(nat.PortSet, len(ports))
	bindings := make(nat.PortMap, len(ports))
	for _, p := range ports {
		exposed[p.Local] = struct{}{}
		bindings[p.Local] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: p.Host}}
	}
	return exposed, bindings
}

func mounts(volumes []config.VolumeMount, devices []config.DeviceMount) []mount.Mount {
	out := make([]mount.Mount, 0, len(volumes)+len(devices))
	for _, v := range volumes {
		out = append(out, mount.Mount{
			Type:     mount.TypeBind,
			Source:   v.LocalPath,
			Target:   v.ContainerPath,
			ReadOnly: v.Options == "ro",
		})
	}
	return out
}

func extraHosts(hosts map[string]string) []string {
	out := make([]string, 0, len(hosts))
	for name, ip := range hosts {
		out = append(out, fmt.Sprintf("%s:%s", name, ip))
	}
	return out
}

func tarDirectory(dir string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}
