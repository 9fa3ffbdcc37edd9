package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvents struct {
	open     chan struct{}
	messages chan string
	errs     chan error
	closes   chan int
}

func newRecordedEvents() *recordedEvents {
	return &recordedEvents{
		open:     make(chan struct{}, 1),
		messages: make(chan string, 8),
		errs:     make(chan error, 8),
		closes:   make(chan int, 1),
	}
}

func (r *recordedEvents) handlers() Handlers {
	return Handlers{
		OnOpen:    func() { r.open <- struct{}{} },
		OnMessage: func(d []byte) { r.messages <- string(d) },
		OnError:   func(err error) { r.errs <- err },
		OnClose:   func(code int, _ string) { r.closes <- code },
	}
}

func wait[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for transport event")
	}
	var zero T
	return zero
}

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "bye" {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func TestWSDialer_OpenSendReceiveClose(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()
	endpoint, err := Endpoint(srv.URL)
	require.NoError(t, err)

	ev := newRecordedEvents()
	tr := NewWSDialer().Open(context.Background(), endpoint, ev.handlers())
	wait(t, ev.open)

	require.NoError(t, tr.Send([]byte(`{"type":"text","text":"hello"}`)))
	assert.Equal(t, `{"type":"text","text":"hello"}`, wait(t, ev.messages))

	require.NoError(t, tr.Send([]byte("bye")))
	assert.Equal(t, websocket.CloseNormalClosure, wait(t, ev.closes))
	assert.Empty(t, ev.errs, "normal close is not an error")
}

func TestWSDialer_DialFailureReportsErrorThenClose(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	srv.Close()

	ev := newRecordedEvents()
	tr := NewWSDialer().Open(context.Background(), endpoint, ev.handlers())
	assert.Error(t, wait(t, ev.errs))
	assert.Equal(t, websocket.CloseAbnormalClosure, wait(t, ev.closes))
	assert.Error(t, tr.Send([]byte("x")))
}

func TestWSDialer_ClientCloseSuppressesError(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()
	endpoint, err := Endpoint(srv.URL)
	require.NoError(t, err)

	ev := newRecordedEvents()
	tr := NewWSDialer().Open(context.Background(), endpoint, ev.handlers())
	wait(t, ev.open)

	require.NoError(t, tr.Close())
	wait(t, ev.closes)
	assert.Empty(t, ev.errs)
	assert.Error(t, tr.Send([]byte("x")))
}
