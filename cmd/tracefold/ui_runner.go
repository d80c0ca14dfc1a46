package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"tracefold/internal/pipeline"
	"tracefold/internal/ui"
)

type openOutcome struct {
	results []*pipeline.Result
	err     error
}

// runOpenWithUI opens srcs while a progress view runs on stderr. Quitting
// the view before the pipeline finishes cancels it.
func runOpenWithUI(ctx context.Context, title string, srcs []string, jobs int, opts pipeline.Options) ([]*pipeline.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan pipeline.Event, 256)
	outcomeCh := make(chan openOutcome, 1)

	go func() {
		optsCopy := opts
		optsCopy.Sink = pipeline.ChannelSink{Ch: events}
		res, err := pipeline.OpenAll(ctx, srcs, jobs, optsCopy)
		outcomeCh <- openOutcome{results: res, err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, srcs, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stderr), tea.WithContext(ctx))
	_, uiErr := program.Run()

	var outcome openOutcome
	select {
	case outcome = <-outcomeCh:
	default:
		cancel()
		go func() {
			for range events {
			}
		}()
		outcome = <-outcomeCh
		if outcome.err == nil {
			for _, r := range outcome.results {
				_ = r.Close()
			}
			return nil, context.Canceled
		}
	}
	if outcome.err != nil {
		return nil, outcome.err
	}
	if uiErr != nil && ctx.Err() == nil {
		for _, r := range outcome.results {
			_ = r.Close()
		}
		return nil, uiErr
	}
	return outcome.results, nil
}
