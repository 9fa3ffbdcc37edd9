package httpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/chadiek/voice-session/internal/infra/history"
	"github.com/chadiek/voice-session/internal/protocol"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Local development backend; any origin may connect.
		return true
	},
}

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 64 << 20
	// wsQueue bounds requests waiting behind the one being processed.
	wsQueue = 16
)

// wsSession is one connected client. Requests are processed one at a time in
// arrival order; writes are serialized by mu.
type wsSession struct {
	id     string
	conn   *websocket.Conn
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

func (ws *wsSession) send(s *Server, env protocol.Envelope) error {
	raw, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return websocket.ErrCloseSent
	}
	_ = ws.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := ws.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return err
	}
	s.metrics.Envelopes.WithLabelValues(string(env.Kind)).Inc()
	return nil
}

func (ws *wsSession) goAway() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return
	}
	ws.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = ws.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = ws.conn.Close()
}

func (h Handlers) ws(c echo.Context) error {
	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return nil
	}
	defer func() { _ = conn.Close() }()
	conn.SetReadLimit(wsReadLimit)

	s := h.s
	ws := &wsSession{id: s.newID(), conn: conn}
	ws.logger = s.logger.With().Str("client_id", ws.id).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.history.Begin(ctx, ws.id, s.now()); err != nil {
		ws.logger.Warn().Err(err).Msg("Begin conversation")
	}
	s.addSession(ws)
	defer s.removeSession(ws.id)
	ws.logger.Info().Msg("Client connected")

	if err := ws.send(s, protocol.Envelope{Kind: protocol.KindStatus, Message: "Connected successfully", SessionID: ws.id}); err != nil {
		ws.logger.Warn().Err(err).Msg("Greeting failed")
		return nil
	}

	queue := make(chan protocol.Request, wsQueue)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for req := range queue {
			s.process(ctx, ws, req)
		}
	}()
	defer func() {
		close(queue)
		<-done
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway) {
				ws.logger.Info().Msg("Client disconnected")
			} else {
				ws.logger.Info().Err(err).Msg("Client connection ended")
			}
			cancel()
			return nil
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		req, err := protocol.DecodeRequest(data)
		if errors.Is(err, protocol.ErrUnknownKind) {
			ws.logger.Debug().Str("type", string(req.Type)).Msg("Ignoring unknown request")
			continue
		}
		if err != nil && req.Type != protocol.RequestAudio {
			ws.logger.Warn().Err(err).Msg("Dropping malformed request")
			continue
		}
		if err != nil {
			// Undecodable audio still gets an answer so the client's indicator clears.
			_ = ws.send(s, protocol.Envelope{Kind: protocol.KindError, Message: "Processing error: invalid audio data"})
			continue
		}
		s.metrics.Requests.WithLabelValues(string(req.Type)).Inc()
		select {
		case queue <- req:
		default:
			ws.logger.Warn().Msg("Request queue full")
			_ = ws.send(s, protocol.Envelope{Kind: protocol.KindError, Message: "Server busy, please try again."})
		}
	}
}

func (s *Server) process(ctx context.Context, ws *wsSession, req protocol.Request) {
	start := time.Now()
	defer func() {
		s.metrics.ProcessingTime.WithLabelValues(string(req.Type)).Observe(time.Since(start).Seconds())
	}()
	var err error
	switch req.Type {
	case protocol.RequestText:
		err = s.processText(ctx, ws, req.Text)
	case protocol.RequestAudio:
		err = s.processAudio(ctx, ws, req.Audio)
	}
	if err != nil && ctx.Err() == nil {
		ws.logger.Warn().Err(err).Str("type", string(req.Type)).Msg("Processing failed")
	}
}

func (s *Server) processText(ctx context.Context, ws *wsSession, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	reply := s.answer(ctx, ws, text)
	if err := ws.send(s, protocol.Envelope{Kind: protocol.KindResponse, Text: reply}); err != nil {
		return err
	}
	return s.speak(ws, reply)
}

func (s *Server) processAudio(ctx context.Context, ws *wsSession, audio []byte) error {
	if err := ws.send(s, protocol.Envelope{Kind: protocol.KindProcessing, Stage: protocol.StageTranscribing}); err != nil {
		return err
	}
	transcript := s.assistant.Transcribe(audio)
	if transcript == "" {
		return ws.send(s, protocol.Envelope{Kind: protocol.KindError, Message: "Could not transcribe audio. Please try again."})
	}
	if err := ws.send(s, protocol.Envelope{Kind: protocol.KindTranscript, Text: transcript}); err != nil {
		return err
	}
	if err := ws.send(s, protocol.Envelope{Kind: protocol.KindProcessing, Stage: protocol.StageGenerating}); err != nil {
		return err
	}
	reply := s.answer(ctx, ws, transcript)
	if err := ws.send(s, protocol.Envelope{Kind: protocol.KindResponse, Text: reply}); err != nil {
		return err
	}
	if err := ws.send(s, protocol.Envelope{Kind: protocol.KindProcessing, Stage: protocol.StageSynthesizing}); err != nil {
		return err
	}
	return s.speak(ws, reply)
}

// answer generates the reply and records the exchange.
func (s *Server) answer(ctx context.Context, ws *wsSession, input string) string {
	reply, matched := s.assistant.Reply(input)
	if matched {
		s.metrics.TemplateMatches.Inc()
	}
	ex := history.Exchange{At: s.now(), UserInput: input, AssistantResponse: reply, Template: matched}
	if err := s.history.Append(ctx, ws.id, ex); err != nil {
		ws.logger.Warn().Err(err).Msg("Record exchange")
	}
	return reply
}

func (s *Server) speak(ws *wsSession, reply string) error {
	audio := s.assistant.Synthesize(reply)
	return ws.send(s, protocol.Envelope{Kind: protocol.KindAudioResponse, Audio: base64.StdEncoding.EncodeToString(audio)})
}
