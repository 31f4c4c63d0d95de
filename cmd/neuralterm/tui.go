package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ashureev/neuralterm/internal/app"
	"github.com/ashureev/neuralterm/internal/session"
	"github.com/ashureev/neuralterm/internal/terminal"
	"github.com/ashureev/neuralterm/internal/ui"
)

func runTUI(ctx context.Context, opts *options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	pane := terminal.NewPane(opts.cfg.Scrollback)

	clip := app.ProbeClipboard()
	if clip == nil {
		opts.logger.Info("Clipboard integration unavailable")
	}

	coord := app.New(opts.cfg, app.Deps{
		Dial:      session.WebSocketDialer(opts.dialer()),
		API:       opts.api(),
		Widget:    pane,
		Clipboard: clip,
		Logger:    opts.logger,
	})
	defer func() {
		if err := coord.Close(); err != nil {
			opts.logger.Warn("Shutdown incomplete", "error", err)
		}
	}()

	p := tea.NewProgram(ui.New(coord, pane, opts.logger), tea.WithAltScreen(), tea.WithContext(ctx))
	stop := ui.Attach(p, coord, pane)
	defer stop()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run interface: %w", err)
	}
	return nil
}
