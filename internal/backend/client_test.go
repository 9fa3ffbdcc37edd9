package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, srv.Client())
	require.NoError(t, err)
	return c
}

func TestNewClient_Origins(t *testing.T) {
	c, err := NewClient("wss://assistant.example.com/ignored?x=1", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://assistant.example.com/health", c.url("health"))

	c, err = NewClient("ws://localhost:8000", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/download-conversation/abc", c.url("download-conversation", "abc"))

	_, err = NewClient("ftp://host", nil)
	assert.Error(t, err)
	_, err = NewClient("http://", nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		_, _ = io.WriteString(w, `{"status":"healthy","processors":{"stt":true,"tts":true,"rag":true,"template":false},
			"active_sessions":2,"rag_status":{"documents_loaded":true}}`)
	}))

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, h.Healthy())
	assert.True(t, h.Processors.STT)
	assert.False(t, h.Processors.Template)
	assert.Equal(t, 2, h.ActiveSessions)
	require.NotNil(t, h.RAG)
	assert.True(t, h.RAG.DocumentsLoaded)
	assert.Nil(t, h.Templates)
}

func TestUpload_SendsMultipartFile(t *testing.T) {
	var gotName, gotBody string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/upload-template", r.URL.Path)
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		b, _ := io.ReadAll(f)
		gotName, gotBody = hdr.Filename, string(b)
		_ = json.NewEncoder(w).Encode(UploadResult{Message: "Template uploaded", Filename: hdr.Filename})
	}))

	path := filepath.Join(t.TempDir(), "faq.csv")
	require.NoError(t, os.WriteFile(path, []byte("question,answer\nhi,hello\n"), 0o644))

	res, err := c.UploadTemplate(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "faq.csv", res.Filename)
	assert.Equal(t, "faq.csv", gotName)
	assert.Equal(t, "question,answer\nhi,hello\n", gotBody)
}

func TestUpload_RejectsWrongExtensionLocally(t *testing.T) {
	called := false
	c := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	_, err := c.UploadPDF(context.Background(), "notes.txt")
	assert.ErrorIs(t, err, ErrUnsupportedFile)
	_, err = c.UploadTemplate(context.Background(), "doc.pdf")
	assert.ErrorIs(t, err, ErrUnsupportedFile)
	assert.False(t, called)
}

func TestUpload_ServerDetail(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"detail":"RAG processor not available"}`)
	}))
	path := filepath.Join(t.TempDir(), "manual.PDF")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))

	_, err := c.UploadPDF(context.Background(), path)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "RAG processor not available", se.Detail)
}

func TestDownloadConversation(t *testing.T) {
	const body = `{"conversation_id":"abc","created_at":"2024-01-01T00:00:00Z","total_exchanges":1,
		"exchanges":[{"id":1,"timestamp":"2024-01-01T00:00:01Z","user_input":"hello","assistant_response":"hi there"}]}`
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/download-conversation/abc" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"detail":"Conversation not found"}`)
			return
		}
		_, _ = io.WriteString(w, body)
	}))

	conv, raw, err := c.DownloadConversation(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, body, string(raw))
	assert.Equal(t, 1, conv.TotalExchanges)
	require.Len(t, conv.Exchanges, 1)
	assert.Equal(t, "hi there", conv.Exchanges[0].AssistantResponse)

	_, _, err = c.DownloadConversation(context.Background(), "missing")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)

	_, _, err = c.DownloadConversation(context.Background(), " ")
	assert.Error(t, err)
}
