package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/neuralterm/internal/client"
	"github.com/ashureev/neuralterm/internal/config"
	"github.com/ashureev/neuralterm/internal/session"
	"github.com/ashureev/neuralterm/internal/transport"
)

// options is shared by every command. It is filled in PersistentPreRunE.
type options struct {
	serverURL string
	logLevel  string
	logFile   string

	cfg     *config.Client
	logger  *slog.Logger
	logSink io.Closer
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "neuralterm",
		Short: "Neural interface terminal client",
		Long: `neuralterm connects to a neural interface server and shows an AI chat
panel next to a remote terminal, both carried over one websocket channel.

Getting started:
  # Open the split-screen interface
  neuralterm

  # Ask a one-off question over HTTP
  neuralterm ask "how do I list open ports?"

  # Check server and AI status
  neuralterm status`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup()
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if opts.logSink != nil {
				return opts.logSink.Close()
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUI(cmd.Context(), opts)
		},
	}

	root.PersistentFlags().StringVar(&opts.serverURL, "server-url", "", "server URL (default from NEURALTERM_SERVER_URL)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "log file path (default from NEURALTERM_LOG_FILE)")

	root.AddCommand(newStatusCmd(opts), newAskCmd(opts), newTermCmd(opts))
	return root
}

// setup loads .env and the environment, then applies flag overrides.
func (o *options) setup() error {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	if o.serverURL != "" {
		cfg.ServerURL = o.serverURL
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFile != "" {
		cfg.LogFile = o.logFile
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	o.cfg = cfg

	logger, sink, err := newFileLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	o.logger, o.logSink = logger, sink
	slog.SetDefault(logger)
	return nil
}

// newFileLogger writes JSON logs to path. The screen belongs to the UI.
func newFileLogger(path, level string) (*slog.Logger, io.Closer, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: lvl})), f, nil
}

func (o *options) api() *client.Client {
	return client.New(o.cfg.ServerURL, o.cfg.HTTPTimeout)
}

func (o *options) dialer() *transport.Dialer {
	return &transport.Dialer{URL: o.cfg.WebSocketURL(), Logger: o.logger}
}

func (o *options) sessionOptions() session.Options {
	opts := o.cfg.SessionOptions()
	opts.Logger = o.logger
	return opts
}
