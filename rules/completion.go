package rules

import "github.com/christinavaneyssen/taskrun/event"

// CompletionObserved reports whether the event set already contains the
// completion event (success or, where one is defined, failure) for the
// step named by id. A Stage uses this to decide whether a fired rule has
// actually finished, as opposed to merely having been dispatched.
func CompletionObserved(id event.Identity, events event.Set) bool {
	switch id.Kind {
	case event.PrepareTaskNetwork:
		return events.Has(event.TaskNetworkReady, "") || events.Has(event.TaskNetworkPreparationFailed, "")
	case event.BuildImage:
		return events.Has(event.ImageBuilt, id.Container) || events.Has(event.ImageBuildFailed, id.Container)
	case event.PullImage:
		return events.Has(event.ImagePulled, id.Container) || events.Has(event.ImagePullFailed, id.Container)
	case event.CreateContainer:
		return events.Has(event.ContainerCreated, id.Container) || events.Has(event.ContainerCreationFailed, id.Container)
	case event.StartContainer:
		return events.Has(event.ContainerStarted, id.Container) || events.Has(event.ContainerStartFailed, id.Container)
	case event.WaitForHealth:
		return events.Has(event.ContainerBecameHealthy, id.Container) || events.Has(event.ContainerDidNotBecomeHealthy, id.Container)
	case event.RunSetupCommands:
		return events.Has(event.SetupCommandsCompleted, id.Container) || events.Has(event.SetupCommandFailed, id.Container)
	case event.RunContainer:
		return events.Has(event.RunningContainerExited, id.Container)
	case event.StopContainer:
		return events.Has(event.ContainerStopped, id.Container) ||
			events.Has(event.RunningContainerExited, id.Container) ||
			events.Has(event.ContainerStopFailed, id.Container)
	case event.RemoveContainer:
		return events.Has(event.ContainerRemoved, id.Container) || events.Has(event.ContainerRemovalFailed, id.Container)
	case event.DeleteTaskNetwork:
		return events.Has(event.TaskNetworkRemoved, "") || events.Has(event.TaskNetworkRemovalFailed, "")
	default:
		return false
	}
}
