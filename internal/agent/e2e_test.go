package agent

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/voice-session/internal/backend"
	"github.com/chadiek/voice-session/internal/connection"
	"github.com/chadiek/voice-session/internal/eventloop"
	"github.com/chadiek/voice-session/internal/httpserver"
)

func count(lines []string, want string) int {
	n := 0
	for _, l := range lines {
		if l == want {
			n++
		}
	}
	return n
}

func TestEndToEnd_AgainstReferenceBackend(t *testing.T) {
	srv := httpserver.New(httpserver.Options{Logger: zerolog.Nop()})
	hs := httptest.NewServer(srv.Handler())
	defer hs.Close()

	endpoint, err := connection.Endpoint(hs.URL)
	require.NoError(t, err)
	api, err := backend.NewClient(hs.URL, hs.Client())
	require.NoError(t, err)

	dir := t.TempDir()
	h := &sessionHarness{
		loop:   eventloop.New(),
		mic:    &fakeMic{audio: []byte("hello")},
		player: &fakePlayer{},
		view:   &recRenderer{},
	}
	h.sched = eventloop.NewManualScheduler(h.loop)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.s = New(ctx, Options{
		Executor:     h.loop,
		Scheduler:    h.sched,
		Dialer:       connection.NewWSDialer(),
		Endpoint:     endpoint,
		Policy:       connection.DefaultPolicy(),
		Microphone:   h.mic,
		Player:       h.player,
		Backend:      api,
		DownloadDir:  dir,
		ExportFormat: "yaml",
		Renderer:     h.view,
		Logger:       zerolog.Nop(),
	})
	view := h.view

	h.start()
	h.await(t, func() bool { return view.confirmed })
	assert.True(t, view.has("status:Connected successfully"))
	assert.Equal(t, connection.StateConnected, h.state())
	id := h.sessionID()

	faq := filepath.Join(dir, "faq.csv")
	require.NoError(t, os.WriteFile(faq, []byte("question,answer\nhello,Hi there!\n"), 0o644))
	h.handleLine("/upload " + faq)
	h.await(t, func() bool { return view.has("notice:Template uploaded: faq.csv") })

	h.handleLine("Hello!")
	h.await(t, func() bool { return view.has("assistant:Hi there!") })

	require.NoError(t, h.toggleRecord())
	require.True(t, h.recording())
	require.NoError(t, h.toggleRecord())
	h.await(t, func() bool {
		return view.has("you(voice):hello") && count(view.lines, "assistant:Hi there!") == 2
	})
	h.await(t, func() bool {
		h.player.mu.Lock()
		defer h.player.mu.Unlock()
		return len(h.player.clips) == 2
	})
	h.player.mu.Lock()
	for _, clip := range h.player.clips {
		assert.True(t, strings.HasPrefix(clip, "RIFF"), "synthesized replies are WAV")
	}
	h.player.mu.Unlock()
	assert.Equal(t, "Synthesizing speech...", view.processing, "the synthesizing hint lasts until the next turn")

	h.do(h.s.CheckHealth)
	h.await(t, func() bool {
		return view.health != nil && view.health.ActiveSessions == 1 &&
			view.health.Templates != nil && view.health.Templates.TemplateCount == 1
	})

	h.handleLine("/download")
	var saved string
	h.await(t, func() bool {
		for _, l := range view.lines {
			if p, ok := strings.CutPrefix(l, "notice:Conversation saved to "); ok {
				saved = p
				return true
			}
		}
		return false
	})
	body, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Contains(t, string(body), "conversation_id: "+id)
	assert.Contains(t, string(body), "total_exchanges: 2")
	assert.Contains(t, string(body), "user_input: hello")

	h.do(h.s.Close)
	h.await(t, func() bool { return srv.ActiveSessions() == 0 })
	h.s.Wait()
}
