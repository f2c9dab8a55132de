package dockerclient

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/christinavaneyssen/taskrun/config"
	"github.com/christinavaneyssen/taskrun/daemon"
	"github.com/christinavaneyssen/taskrun/dispatcher"
	"github.com/christinavaneyssen/taskrun/envprovider"
	"github.com/christinavaneyssen/taskrun/event"
)

// Runners builds the dispatcher.StepRunner registry that bridges every
// event.StepKind to a daemon.Client call for task, resolving each
// container's config by name as steps arrive.
func Runners(cli daemon.Client, task *config.Task, networkName string) map[event.StepKind]dispatcher.StepRunner {
	return map[event.StepKind]dispatcher.StepRunner{
		event.PrepareTaskNetwork: prepareNetworkRunner(cli, networkName),
		event.BuildImage:         buildImageRunner(cli, task),
		event.PullImage:          pullImageRunner(cli, task),
		event.CreateContainer:    createContainerRunner(cli, task, networkName),
		event.StartContainer:     startContainerRunner(cli),
		event.WaitForHealth:      waitForHealthRunner(cli, task),
		event.RunSetupCommands:   runSetupCommandsRunner(cli, task),
		event.RunContainer:       runContainerRunner(cli),
		event.StopContainer:      stopContainerRunner(cli),
		event.RemoveContainer:    removeContainerRunner(cli),
		event.DeleteTaskNetwork:  deleteTaskNetworkRunner(cli),
	}
}

func prepareNetworkRunner(cli daemon.Client, name string) dispatcher.StepRunner {
	return func(ctx context.Context, step event.Step, post func(event.Event)) {
		net, err := cli.CreateNetwork(ctx, name)
		if err != nil {
			post(event.Event{Kind: event.TaskNetworkPreparationFailed, Message: err.Error()})
			return
		}
		post(event.Event{Kind: event.TaskNetworkReady, Network: string(net)})
	}
}

func buildImageRunner(cli daemon.Client, task *config.Task) dispatcher.StepRunner {
	return func(ctx context.Context, step event.Step, post func(event.Event)) {
		c := task.Containers[step.Container]
		tag := fmt.Sprintf("%s-%s:latest", task.ProjectName, step.Container)
		img, err := cli.Build(ctx, daemon.BuildRequest{
			ContextDir: c.Image.BuildDir,
			Dockerfile: c.Image.BuildFile,
			Tag:        tag,
			BuildArgs:  c.Image.BuildArgs,
		})
		if err != nil {
			post(event.Event{Kind: event.ImageBuildFailed, Container: step.Container, Message: err.Error()})
			return
		}
		post(event.Event{Kind: event.ImageBuilt, Container: step.Container, Image: img.Ref})
	}
}

func pullImageRunner(cli daemon.Client, task *config.Task) dispatcher.StepRunner {
	return func(ctx context.Context, step event.Step, post func(event.Event)) {
		c := task.Containers[step.Container]
		img, err := cli.Pull(ctx, c.Image.PullReference, daemon.Credentials{})
		if err != nil {
			post(event.Event{Kind: event.ImagePullFailed, Container: step.Container, Message: err.Error()})
			return
		}
		post(event.Event{Kind: event.ImagePulled, Container: step.Container, Image: img.Ref})
	}
}

func createContainerRunner(cli daemon.Client, task *config.Task, networkName string) dispatcher.StepRunner {
	return func(ctx context.Context, step event.Step, post func(event.Event)) {
		c := task.Containers[step.Container]
		handle, err := cli.CreateContainer(ctx, daemon.CreateContainerRequest{
			Name:             fmt.Sprintf("%s-%s", task.ProjectName, step.Container),
			Image:            step.Image,
			Command:          c.Command,
			Entrypoint:       c.Entrypoint,
			Env:              resolveEnvironment(c.Environment),
			WorkingDirectory: c.WorkingDirectory,
			Ports:            c.Ports,
			Volumes:          c.Volumes,
			Devices:          c.Devices,
			NetworkName:      networkName,
			Privileged:       c.Privileged,
			EnableInit:       c.EnableInit,
			CapabilitiesAdd:  c.CapabilitiesAdd,
			CapabilitiesDrop: c.CapabilitiesDrop,
			ExtraHosts:       c.AdditionalHosts,
			ShmSize:          c.ShmSize,
			Log:              c.Log,
			HealthCheck:      c.HealthCheck,
			RunAsUser:        c.RunAsCurrentUser,
		})
		if err != nil {
			post(event.Event{Kind: event.ContainerCreationFailed, Container: step.Container, Message: err.Error()})
			return
		}
		post(event.Event{Kind: event.ContainerCreated, Container: step.Container, Handle: string(handle)})
	}
}

func startContainerRunner(cli daemon.Client) dispatcher.StepRunner {
	return func(ctx context.Context, step event.Step, post func(event.Event)) {
		if err := cli.StartContainer(ctx, daemon.Handle(step.Handle)); err != nil {
			post(event.Event{Kind: event.ContainerStartFailed, Container: step.Container, Message: err.Error()})
			return
		}
		post(event.Event{Kind: event.ContainerStarted, Container: step.Container})
	}
}

func waitForHealthRunner(cli daemon.Client, task *config.Task) dispatcher.StepRunner {
	return func(ctx context.Context, step event.Step, post func(event.Event)) {
		c := task.Containers[step.Container]
		result, err := cli.WaitForHealth(ctx, daemon.Handle(step.Handle), c.HealthCheck)
		if err != nil {
			post(event.Event{Kind: event.ContainerDidNotBecomeHealthy, Container: step.Container, Message: err.Error()})
			return
		}
		if !result.Healthy {
			post(event.Event{Kind: event.ContainerDidNotBecomeHealthy, Container: step.Container, Message: result.Message})
			return
		}
		post(event.Event{Kind: event.ContainerBecameHealthy, Container: step.Container})
	}
}

func runSetupCommandsRunner(cli daemon.Client, task *config.Task) dispatcher.StepRunner {
	return func(ctx context.Context, step event.Step, post func(event.Event)) {
		c := task.Containers[step.Container]
		if !c.HasSetupCommands() {
			post(event.Event{Kind: event.SetupCommandsCompleted, Container: step.Container})
			return
		}
		if err := cli.RunSetupCommands(ctx, daemon.Handle(step.Handle), c.SetupCommands); err != nil {
			post(event.Event{
				Kind:      event.SetupCommandFailed,
				Container: step.Container,
				Cmd:       strings.Join(firstCommand(c.SetupCommands), " "),
				Message:   err.Error(),
			})
			return
		}
		post(event.Event{Kind: event.SetupCommandsCompleted, Container: step.Container})
	}
}

func runContainerRunner(cli daemon.Client) dispatcher.StepRunner {
	return func(ctx context.Context, step event.Step, post func(event.Event)) {
		exitCode, err := cli.RunAttached(ctx, daemon.Handle(step.Handle), daemon.IOStreams{
			Stdin:  os.Stdin,
			Stdout: os.Stdout,
			Stderr: os.Stderr,
		})
		if err != nil {
			// The task container failing to attach/run at all is still
			// reported as an exit, not a distinct failure case: the
			// closed event sum has no "task container could not run"
			// event, and a non-zero synthetic exit code still drives the
			// state machine into cleanup correctly.
			post(event.Event{Kind: event.RunningContainerExited, Container: step.Container, ExitCode: -1})
			return
		}
		post(event.Event{Kind: event.RunningContainerExited, Container: step.Container, ExitCode: exitCode})
	}
}

func stopContainerRunner(cli daemon.Client) dispatcher.StepRunner {
	return func(ctx context.Context, step event.Step, post func(event.Event)) {
		if err := cli.Stop(ctx, daemon.Handle(step.Handle)); err != nil {
			post(event.Event{Kind: event.ContainerStopFailed, Container: step.Container, Message: err.Error()})
			return
		}
		post(event.Event{Kind: event.ContainerStopped, Container: step.Container})
	}
}

func removeContainerRunner(cli daemon.Client) dispatcher.StepRunner {
	return func(ctx context.Context, step event.Step, post func(event.Event)) {
		if err := cli.Remove(ctx, daemon.Handle(step.Handle)); err != nil {
			post(event.Event{Kind: event.ContainerRemovalFailed, Container: step.Container, Message: err.Error()})
			return
		}
		post(event.Event{Kind: event.ContainerRemoved, Container: step.Container})
	}
}

func deleteTaskNetworkRunner(cli daemon.Client) dispatcher.StepRunner {
	return func(ctx context.Context, step event.Step, post func(event.Event)) {
		if err := cli.RemoveNetwork(ctx, daemon.Network(step.Network)); err != nil {
			post(event.Event{Kind: event.TaskNetworkRemovalFailed, Message: err.Error()})
			return
		}
		post(event.Event{Kind: event.TaskNetworkRemoved})
	}
}

func resolveEnvironment(env map[string]config.EnvExpr) []string {
	host := envprovider.HostEnvironment()
	out := make([]string, 0, len(env))
	for k, v := range env {
		resolved := string(v)
		if strings.HasPrefix(resolved, "$") {
			if hv, ok := host[strings.TrimPrefix(resolved, "$")]; ok {
				resolved = hv
			}
		}
		out = append(out, fmt.Sprintf("%s=%s", k, resolved))
	}
	return out
}

func firstCommand(cmds []config.SetupCommand) []string {
	if len(cmds) == 0 {
		return nil
	}
	return cmds[0].Command
}
