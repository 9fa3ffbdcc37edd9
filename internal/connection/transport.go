package connection

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Handlers receives the events of one transport. Calls may come from any
// goroutine; OnClose is always the last call.
type Handlers struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func(code int, reason string)
}

// Transport is one connection attempt.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// Dialer opens a fresh transport per connection attempt. Open must not block;
// the outcome is reported through h.
type Dialer interface {
	Open(ctx context.Context, endpoint string, h Handlers) Transport
}

// Endpoint derives the session WebSocket URL from the server origin,
// upgrading http to ws and https to wss.
func Endpoint(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("connection: parse origin: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("connection: unsupported origin scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("connection: origin %q has no host", origin)
	}
	u.Path = "/ws"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// WSDialer opens gorilla/websocket transports.
type WSDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
}

// NewWSDialer returns a dialer with conservative timeouts and a read limit
// large enough for synthesized-audio frames.
func NewWSDialer() *WSDialer {
	return &WSDialer{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadLimit:        64 << 20,
	}
}

// Open dials in the background and then reads until the connection ends.
func (d *WSDialer) Open(ctx context.Context, endpoint string, h Handlers) Transport {
	ctx, cancel := context.WithCancel(ctx)
	t := &wsTransport{writeTimeout: d.WriteTimeout, cancel: cancel}
	go t.run(ctx, d, endpoint, h)
	return t
}

type wsTransport struct {
	writeTimeout time.Duration
	cancel       context.CancelFunc

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

var errTransportNotOpen = errors.New("transport not open")

func (t *wsTransport) run(ctx context.Context, d *WSDialer, endpoint string, h Handlers) {
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		callErr(h, fmt.Errorf("dial %s: %w", endpoint, err))
		callClose(h, websocket.CloseAbnormalClosure, "dial failed")
		return
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		callClose(h, websocket.CloseNormalClosure, "closed by client")
		return
	}
	t.conn = conn
	t.mu.Unlock()

	if h.OnOpen != nil {
		h.OnOpen()
	}

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := websocket.CloseAbnormalClosure, err.Error()
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code, reason = ce.Code, ce.Text
			}
			if code != websocket.CloseNormalClosure && code != websocket.CloseGoingAway && !t.isClosed() {
				callErr(h, fmt.Errorf("read: %w", err))
			}
			_ = conn.Close()
			callClose(h, code, reason)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if h.OnMessage != nil {
			h.OnMessage(data)
		}
	}
}

func (t *wsTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Send writes one text frame. Concurrent writers are serialized.
func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.closed {
		return errTransportNotOpen
	}
	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame when open and aborts a dial in progress.
func (t *wsTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	t.cancel()
	if conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return conn.Close()
}

func callErr(h Handlers, err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func callClose(h Handlers, code int, reason string) {
	if h.OnClose != nil {
		h.OnClose(code, reason)
	}
}
