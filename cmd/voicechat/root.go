package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/chadiek/voice-session/internal/backend"
	"github.com/chadiek/voice-session/internal/config"
	"github.com/chadiek/voice-session/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	configFile string
	serverURL  string
	verbose    bool

	cfg    config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "voicechat",
		Short: "Talk to the voice assistant from a terminal",
		Long: `voicechat holds a real-time session with the assistant backend.

Type a message and press enter to send it, or use /record to speak.
Run without a subcommand to start an interactive chat.

Quick Start:
  voicechat                               # interactive chat
  voicechat health                        # backend status
  voicechat upload-template faq.csv       # add canned answers
  voicechat download <session-id> --format yaml`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChat(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "config file (default ./voicechat.yaml)")
	root.PersistentFlags().StringVarP(&a.serverURL, "server", "s", "", "assistant origin, e.g. http://localhost:8000")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newChatCmd(a),
		newHealthCmd(a),
		newUploadCmd(a, "upload-pdf", "Upload a PDF knowledge document", ".pdf"),
		newUploadCmd(a, "upload-template", "Upload a question,answer CSV template", ".csv"),
		newDownloadCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	if a.serverURL != "" {
		cfg.ServerURL = a.serverURL
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	level := cfg.LogLevel
	if a.verbose {
		level = "debug"
	}
	a.cfg = cfg
	a.logger = logging.New(logging.Config{Level: level, Format: cfg.LogFormat}, "voicechat")
	return nil
}

func (a *app) backend() (*backend.Client, error) {
	return backend.NewClient(a.cfg.ServerURL, nil)
}
