// Package httpserver is the reference backend: an echo server speaking the
// session WebSocket contract with scripted replies, plus the HTTP surface
// for health, knowledge uploads and conversation export.
package httpserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/chadiek/voice-session/internal/infra/history"
	"github.com/chadiek/voice-session/internal/infra/storage"
	"github.com/chadiek/voice-session/internal/metrics"
)

// Options wires the server's dependencies. Nil fields get in-memory defaults.
type Options struct {
	Storage   storage.Storage
	History   history.Store
	Metrics   *metrics.Metrics
	Assistant *Assistant
	Logger    zerolog.Logger
	// Now and NewID are replaceable for tests.
	Now   func() time.Time
	NewID func() string
}

// Server bundles the router and the live session registry.
type Server struct {
	echo      *echo.Echo
	storage   storage.Storage
	history   history.Store
	metrics   *metrics.Metrics
	assistant *Assistant
	logger    zerolog.Logger
	now       func() time.Time
	newID     func() string

	mu       sync.Mutex
	sessions map[string]*wsSession
}

// New constructs the server with routes.
func New(opts Options) *Server {
	if opts.History == nil {
		opts.History = history.NewMemoryStore()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Assistant == nil {
		opts.Assistant = NewAssistant()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	s := &Server{
		storage:   opts.Storage,
		history:   opts.History,
		metrics:   opts.Metrics,
		assistant: opts.Assistant,
		logger:    opts.Logger.With().Str("component", "httpserver").Logger(),
		now:       opts.Now,
		newID:     opts.NewID,
		sessions:  make(map[string]*wsSession),
	}
	s.echo = NewEcho(s.logger)
	NewHandlers(s).Register(s.echo)
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.echo }

// ActiveSessions counts open session sockets.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) addSession(ws *wsSession) {
	s.mu.Lock()
	s.sessions[ws.id] = ws
	s.mu.Unlock()
	s.metrics.ActiveSessions.Inc()
}

func (s *Server) removeSession(id string) {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		s.metrics.ActiveSessions.Dec()
	}
}

// CloseSessions sends a going-away close to every open session socket.
// http.Server.Shutdown does not track hijacked connections.
func (s *Server) CloseSessions() {
	s.mu.Lock()
	list := make([]*wsSession, 0, len(s.sessions))
	for _, ws := range s.sessions {
		list = append(list, ws)
	}
	s.mu.Unlock()
	for _, ws := range list {
		ws.goAway()
	}
}

// Shutdown closes session sockets, then drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context, srv *http.Server) error {
	s.CloseSessions()
	return srv.Shutdown(ctx)
}
