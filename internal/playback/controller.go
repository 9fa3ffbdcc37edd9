// Package playback plays synthesized replies as they arrive. Each clip plays
// independently: there is no queue, and overlapping replies overlap.
package playback

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chadiek/voice-session/internal/eventloop"
)

// ErrDecode marks an audio payload that is not valid base64 or is empty.
var ErrDecode = errors.New("playback: undecodable audio payload")

// Controller starts playbacks. Failures never reach connection or recording state;
// they are reported to Notify as low-severity notices.
type Controller struct {
	exec   eventloop.Executor
	player Player
	notify func(err error)
	logger zerolog.Logger
	ctx    context.Context

	wg sync.WaitGroup
}

// NewController returns a controller; notify runs on exec and may be nil.
func NewController(ctx context.Context, exec eventloop.Executor, player Player, notify func(error), logger zerolog.Logger) *Controller {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Controller{
		exec:   exec,
		player: player,
		notify: notify,
		logger: logger.With().Str("component", "playback").Logger(),
		ctx:    ctx,
	}
}

// Play decodes payload and starts playing it without waiting for it to finish.
func (c *Controller) Play(payload string) error {
	audio, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err == nil && len(audio) == 0 {
		err = errors.New("empty payload")
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrDecode, err)
		c.logger.Warn().Err(err).Int("length", len(payload)).Msg("Skipping audio response")
		c.report(err)
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.player.Play(c.ctx, audio); err != nil {
			c.logger.Warn().Err(err).Msg("Playback failed")
			c.exec.Post(func() { c.report(err) })
			return
		}
		c.logger.Debug().Int("bytes", len(audio)).Msg("Playback finished")
	}()
	return nil
}

// Wait blocks until every started playback has ended.
func (c *Controller) Wait() { c.wg.Wait() }

func (c *Controller) report(err error) {
	if c.notify != nil {
		c.notify(err)
	}
}
