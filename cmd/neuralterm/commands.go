package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ashureev/neuralterm/internal/chat"
	"github.com/ashureev/neuralterm/internal/client"
	"github.com/ashureev/neuralterm/internal/session"
	"github.com/ashureev/neuralterm/internal/terminal"
)

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server and AI status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.api().Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get system status: %w", err)
			}
			// No channel here; a reply means the server is online.
			fmt.Fprintln(cmd.OutOrStdout(), chat.FormatStatus(true, s))
			return nil
		},
	}
}

func newAskCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <message>",
		Short: "Send one chat message over HTTP and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := strings.TrimSpace(strings.Join(args, " "))
			if msg == "" {
				return errors.New("message is empty")
			}
			reply, err := opts.api().Chat(cmd.Context(), msg)
			if err != nil {
				var rf *client.RequestFailure
				if errors.As(err, &rf) {
					return errors.New(rf.Description())
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
}

func newTermCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "term",
		Short: "Attach this terminal to the remote terminal (Ctrl+] to detach)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTerm(cmd.Context(), opts)
		},
	}
}

func runTerm(ctx context.Context, opts *options) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := session.NewController(session.WebSocketDialer(opts.dialer()), opts.sessionOptions())
	tty := terminal.NewTTY(os.Stdin, os.Stdout)
	bridge := terminal.NewBridge(ctrl, tty, opts.logger)

	failed := make(chan error, 1)
	unsub := ctrl.OnError(func(err error) {
		select {
		case failed <- err:
		default:
		}
	})
	defer unsub()

	if err := tty.Start(); err != nil {
		_ = bridge.Close()
		_ = ctrl.Close()
		return err
	}

	if err := ctrl.Connect(ctx); err != nil {
		opts.logger.Warn("Initial connect failed", "error", err)
	}

	var runErr error
	select {
	case <-tty.Done():
	case <-ctx.Done():
	case runErr = <-failed:
	}

	closeErr := errors.Join(bridge.Close(), ctrl.Close())
	if runErr != nil {
		return fmt.Errorf("unable to establish neural interface connection: %w", runErr)
	}
	return closeErr
}
