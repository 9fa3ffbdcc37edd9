package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/chadiek/voice-session/internal/agent"
	"github.com/chadiek/voice-session/internal/capture"
	"github.com/chadiek/voice-session/internal/connection"
	"github.com/chadiek/voice-session/internal/eventloop"
	"github.com/chadiek/voice-session/internal/playback"
	"github.com/chadiek/voice-session/internal/ui"
)

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive voice and text session (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runChat(cmd)
		},
	}
}

func (a *app) runChat(cmd *cobra.Command) error {
	cfg := a.cfg
	// Info-level lifecycle logs would interleave with the transcript.
	logger := a.logger
	if !a.verbose && logger.GetLevel() < zerolog.WarnLevel {
		logger = logger.Level(zerolog.WarnLevel)
	}

	endpoint, err := connection.Endpoint(cfg.ServerURL)
	if err != nil {
		return err
	}
	api, err := a.backend()
	if err != nil {
		return err
	}
	player, err := playback.NewCommandPlayer(cfg.Playback.Command)
	if err != nil {
		return err
	}
	mic := capture.NewFFmpegMicrophone(cfg.Audio.FFmpegPath, cfg.Audio.InputFormat, cfg.Audio.InputDevice, cfg.Audio.Container)
	constraints := capture.Constraints{
		EchoCancellation: cfg.Audio.EchoCancellation,
		NoiseSuppression: cfg.Audio.NoiseSuppression,
		SampleRate:       cfg.Audio.SampleRate,
		Channels:         1,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd())
	}
	view := ui.NewTerminal(out, tty)

	loop := eventloop.New()
	sess := agent.New(ctx, agent.Options{
		Executor:       loop,
		Scheduler:      loop,
		Dialer:         connection.NewWSDialer(),
		Endpoint:       endpoint,
		Policy:         connection.Policy{MaxAttempts: cfg.MaxReconnects, Delay: cfg.ReconnectDelay},
		Microphone:     mic,
		Constraints:    constraints,
		ChunkInterval:  cfg.Audio.ChunkInterval,
		Player:         player,
		Backend:        api,
		HealthInterval: cfg.HealthInterval,
		DownloadDir:    ".",
		ExportFormat:   "json",
		Renderer:       view,
		Logger:         logger,
	})

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go func() { _ = loop.Run(loopCtx) }()

	view.Notice(agent.Help)
	loop.Post(sess.Start)

	quit := make(chan struct{})
	var once sync.Once
	leave := func() { once.Do(func() { close(quit) }) }
	go readLines(cmd.InOrStdin(), loop, sess, leave)

	select {
	case <-ctx.Done():
	case <-quit:
	}
	// Cancelling ctx also stops any clip that is still playing.
	stop()

	closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := loop.Do(closeCtx, sess.Close); err != nil {
		logger.Warn().Err(err).Msg("Session close")
	}
	sess.Wait()
	fmt.Fprintln(out)
	return nil
}

// readLines feeds stdin to the session on the loop. EOF leaves the chat.
func readLines(in io.Reader, loop *eventloop.Loop, sess *agent.Session, leave func()) {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		loop.Post(func() {
			if sess.HandleLine(line) {
				leave()
			}
		})
	}
	loop.Post(leave)
}
