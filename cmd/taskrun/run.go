package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/christinavaneyssen/taskrun/configyaml"
	"github.com/christinavaneyssen/taskrun/dispatcher"
	"github.com/christinavaneyssen/taskrun/dockerclient"
	"github.com/christinavaneyssen/taskrun/engine"
	"github.com/christinavaneyssen/taskrun/event"
	"github.com/christinavaneyssen/taskrun/graph"
	"github.com/christinavaneyssen/taskrun/internal/logging"
	"github.com/christinavaneyssen/taskrun/planner"
	"github.com/christinavaneyssen/taskrun/uilog"
)

var (
	taskFile          string
	cleanupPolicyFlag string
	workerCount       int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the task defined in a task file",
	RunE:  runTask,
}

func init() {
	runCmd.Flags().StringVarP(&taskFile, "file", "f", "task.yml", "path to the task definition")
	runCmd.Flags().StringVar(&cleanupPolicyFlag, "cleanup", "always",
		"cleanup policy: always, dont-cleanup-on-failure, dont-cleanup-on-success, never")
	runCmd.Flags().IntVar(&workerCount, "workers", 0, "dispatcher parallelism (0 = number of CPUs)")
}

func runTask(cmd *cobra.Command, args []string) (err error) {
	log := logging.WithComponent("cmd")

	task, loadErr := configyaml.Load(taskFile)
	if loadErr != nil {
		return fmt.Errorf("load task: %w", loadErr)
	}

	g, buildErr := graph.Build(task)
	if buildErr != nil {
		return fmt.Errorf("build dependency graph: %w", buildErr)
	}

	policy, policyErr := parseCleanupPolicy(cleanupPolicyFlag)
	if policyErr != nil {
		return policyErr
	}

	dockerCli, dialErr := dockerclient.New(logging.Logger)
	if dialErr != nil {
		return fmt.Errorf("connect to docker: %w", dialErr)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	runStage := planner.Run(g)
	sm := engine.New(g, runStage, policy, cancel, logging.Logger)

	networkName := fmt.Sprintf("%s-network", task.ProjectName)
	runners := dockerclient.Runners(dockerCli, task, networkName)
	d := dispatcher.New(sm, runners, dispatcher.Options{Workers: workerCount}, logging.Logger)

	sink := uilog.NewSink(os.Stdout)
	go sink.Run(sm.Subscribe())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn().Msg("received interrupt, cancelling task")
		sm.PostEvent(event.Event{Kind: event.UserRequestedCancellation, Message: "user requested cancellation"})
	}()

	status := runDispatcher(d, ctx)

	if status.CleanupErr != nil {
		log.Error().Err(status.CleanupErr).Msg("cleanup stage reported failures")
	}
	if status.ManualCleanup.Reason != engine.ManualCleanupNone {
		uilog.PrintManualCleanup(os.Stdout, manualCleanupReasonText(status.ManualCleanup.Reason), status.ManualCleanup.Commands)
		os.Exit(exitCleanupSuppressed)
	}
	if status.Failed {
		os.Exit(exitEngineFailure)
	}
	if status.ExitCode != nil {
		os.Exit(*status.ExitCode)
	}
	return nil
}

// runDispatcher drives d and recovers engine.ErrInvariantViolation — the
// one fault the core panics on (spec.md §7 category 3) — at this process
// boundary, logging a diagnostic instead of crashing with a bare trace.
func runDispatcher(d *dispatcher.Dispatcher, ctx context.Context) (status engine.TaskStatus) {
	defer func() {
		if r := recover(); r != nil {
			logging.Logger.Error().Interface("panic", r).Msg("internal invariant violation, aborting")
			os.Exit(exitEngineFailure)
		}
	}()
	return d.Run(ctx)
}

func parseCleanupPolicy(s string) (planner.CleanupPolicy, error) {
	switch s {
	case "always":
		return planner.CleanupAlways, nil
	case "dont-cleanup-on-failure":
		return planner.DontCleanupOnFailure, nil
	case "dont-cleanup-on-success":
		return planner.DontCleanupOnSuccess, nil
	case "never":
		return planner.NeverCleanup, nil
	default:
		return 0, fmt.Errorf("unknown cleanup policy %q", s)
	}
}

func manualCleanupReasonText(r engine.ManualCleanupReason) string {
	switch r {
	case engine.ManualCleanupRequiredDueToFailure:
		return "task failed, cleanup suppressed"
	case engine.ManualCleanupRequiredDueToSuccess:
		return "task succeeded, cleanup suppressed"
	case engine.ManualCleanupRequiredDueToCleanupFailure:
		return "cleanup itself failed"
	default:
		return "unknown"
	}
}
