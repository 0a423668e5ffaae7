package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/flynn-ai/modeldock/internal/app"
	"github.com/flynn-ai/modeldock/internal/loader"
)

// Run starts the chat screen and blocks until the user quits.
func Run(ctx context.Context, a *app.App, modelID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(New(ctx, a, modelID), tea.WithAltScreen(), tea.WithContext(ctx))

	// Listeners run on the goroutine that changed the status, which
	// can be the program's own event loop, so Send happens from a pump.
	// The channel coalesces bursts; the pump always reads the latest
	// status.
	refresh := make(chan struct{}, 1)
	unsubscribe := a.Controller.Subscribe(func(loader.Status) {
		select {
		case refresh <- struct{}{}:
		default:
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-refresh:
				p.Send(statusMsg(a.Controller.Status()))
			}
		}
	}()

	_, err := p.Run()

	unsubscribe()
	cancel()
	<-done
	return err
}
