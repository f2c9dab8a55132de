// Package uilog is a downstream consumer of the engine's event stream: it
// renders image build/pull progress and highlights failures, sitting
// outside THE CORE per spec.md §1 ("UI layer ... out of scope").
package uilog

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/christinavaneyssen/taskrun/event"
)

// Sink renders a stream of event.Event to out.
type Sink struct {
	out  io.Writer
	mu   sync.Mutex
	bars map[string]*progressbar.ProgressBar
}

// NewSink builds a Sink writing to out.
func NewSink(out io.Writer) *Sink {
	return &Sink{out: out, bars: make(map[string]*progressbar.ProgressBar)}
}

// Run drains ch until it closes, rendering each event. Intended to run in
// its own goroutine alongside the dispatcher.
func (s *Sink) Run(ch <-chan event.Event) {
	for e := range ch {
		s.render(e)
	}
}

func (s *Sink) render(e event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e.Kind {
	case event.ImageBuildProgress, event.ImagePullProgress:
		bar := s.barFor(e.Container)
		bar.Describe(e.Progress)
		_ = bar.Add(1)

	case event.ImageBuildFailed, event.ImagePullFailed, event.ContainerCreationFailed,
		event.ContainerStartFailed, event.ContainerDidNotBecomeHealthy, event.SetupCommandFailed,
		event.ContainerStopFailed, event.ContainerRemovalFailed, event.TaskNetworkRemovalFailed,
		event.TaskNetworkPreparationFailed:
		color.New(color.FgRed, color.Bold).Fprintf(s.out, "✗ %s: %s\n", e, e.Message)

	case event.UserRequestedCancellation:
		color.New(color.FgYellow, color.Bold).Fprintln(s.out, "! cancellation requested")

	case event.ContainerBecameHealthy, event.ImageBuilt, event.ImagePulled, event.ContainerStarted:
		color.New(color.FgGreen).Fprintf(s.out, "✓ %s\n", e)

	default:
		fmt.Fprintf(s.out, "  %s\n", e)
	}
}

func (s *Sink) barFor(container string) *progressbar.ProgressBar {
	if bar, ok := s.bars[container]; ok {
		return bar
	}
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(container),
		progressbar.OptionSetWriter(s.out),
		progressbar.OptionSpinnerType(14),
	)
	s.bars[container] = bar
	return bar
}

// PrintManualCleanup prints the commands a user must run by hand,
// highlighted, when the engine reports a non-empty manual-cleanup list.
func PrintManualCleanup(out io.Writer, reason string, commands []string) {
	if len(commands) == 0 {
		return
	}
	bold := color.New(color.FgYellow, color.Bold)
	bold.Fprintf(out, "Manual cleanup required (%s):\n", reason)
	for _, cmd := range commands {
		fmt.Fprintf(out, "  %s\n", cmd)
	}
}
