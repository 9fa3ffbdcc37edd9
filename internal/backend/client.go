// Package backend is the client for the assistant's plain HTTP surface:
// health, knowledge uploads and conversation export.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnsupportedFile is returned before any request when an upload has the wrong extension.
var ErrUnsupportedFile = errors.New("backend: unsupported file type")

// Health mirrors GET /health.
type Health struct {
	Status         string          `json:"status"`
	Message        string          `json:"message,omitempty"`
	Processors     Processors      `json:"processors"`
	ActiveSessions int             `json:"active_sessions"`
	Conversations  int             `json:"conversation_history"`
	Timestamp      string          `json:"timestamp,omitempty"`
	RAG            *RAGStatus      `json:"rag_status,omitempty"`
	Templates      *TemplateStatus `json:"template_status,omitempty"`
}

type Processors struct {
	STT      bool `json:"stt"`
	TTS      bool `json:"tts"`
	RAG      bool `json:"rag"`
	Template bool `json:"template"`
}

type RAGStatus struct {
	DocumentsLoaded  bool `json:"documents_loaded"`
	VectorStoreReady bool `json:"vector_store_ready"`
}

type TemplateStatus struct {
	TemplatesLoaded bool `json:"templates_loaded"`
	TemplateCount   int  `json:"template_count"`
}

// Healthy reports whether the backend finished initializing.
func (h Health) Healthy() bool { return h.Status == "healthy" }

// UploadResult is the success body of both upload endpoints.
type UploadResult struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
}

// Conversation is the export returned by GET /download-conversation/{id}.
type Conversation struct {
	ConversationID  string          `json:"conversation_id" yaml:"conversation_id"`
	CreatedAt       string          `json:"created_at" yaml:"created_at"`
	TotalExchanges  int             `json:"total_exchanges" yaml:"total_exchanges"`
	Exchanges       []Exchange      `json:"exchanges" yaml:"exchanges"`
	TemplateMatches []TemplateMatch `json:"template_matches,omitempty" yaml:"template_matches,omitempty"`
}

type Exchange struct {
	ID                int    `json:"id" yaml:"id"`
	Timestamp         string `json:"timestamp" yaml:"timestamp"`
	UserInput         string `json:"user_input" yaml:"user_input"`
	AssistantResponse string `json:"assistant_response" yaml:"assistant_response"`
}

type TemplateMatch struct {
	Query     string `json:"query" yaml:"query"`
	Response  string `json:"response" yaml:"response"`
	Timestamp string `json:"timestamp" yaml:"timestamp"`
}

// StatusError is a non-2xx reply. Detail carries the server's {"detail": ...} when present.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend: HTTP %d", e.Code)
	}
	return fmt.Sprintf("backend: HTTP %d: %s", e.Code, e.Detail)
}

// Client talks to one backend origin.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient accepts http(s) origins; ws(s) origins are mapped to their HTTP scheme.
func NewClient(origin string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("backend: parse origin: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return nil, fmt.Errorf("backend: unsupported origin scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("backend: origin %q has no host", origin)
	}
	u.Path, u.RawQuery, u.Fragment = "", "", ""
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{base: u, http: httpClient}, nil
}

func (c *Client) url(p ...string) string {
	u := *c.base
	u.Path = path.Join(append([]string{"/"}, p...)...)
	return u.String()
}

// Health fetches the backend status. A body with status "error" is returned, not failed.
func (c *Client) Health(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("health"), nil)
	if err != nil {
		return Health{}, err
	}
	var h Health
	if err := c.doJSON(req, &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

// UploadPDF sends a knowledge document.
func (c *Client) UploadPDF(ctx context.Context, file string) (UploadResult, error) {
	return c.upload(ctx, "upload-pdf", file, ".pdf")
}

// UploadTemplate sends a question/answer CSV.
func (c *Client) UploadTemplate(ctx context.Context, file string) (UploadResult, error) {
	return c.upload(ctx, "upload-template", file, ".csv")
}

func (c *Client) upload(ctx context.Context, endpoint, file, ext string) (UploadResult, error) {
	if !strings.EqualFold(filepath.Ext(file), ext) {
		return UploadResult{}, fmt.Errorf("%w: %s expects %s", ErrUnsupportedFile, endpoint, ext)
	}
	f, err := os.Open(file)
	if err != nil {
		return UploadResult{}, fmt.Errorf("backend: open upload: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(file))
	if err != nil {
		return UploadResult{}, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return UploadResult{}, fmt.Errorf("backend: read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(endpoint), &body)
	if err != nil {
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var res UploadResult
	if err := c.doJSON(req, &res); err != nil {
		return UploadResult{}, err
	}
	return res, nil
}

// DownloadConversation fetches the export for id. raw is the body exactly as served.
func (c *Client) DownloadConversation(ctx context.Context, id string) (conv Conversation, raw []byte, err error) {
	if strings.TrimSpace(id) == "" {
		return Conversation{}, nil, errors.New("backend: empty conversation id")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("download-conversation", id), nil)
	if err != nil {
		return Conversation{}, nil, err
	}
	raw, err = c.do(req)
	if err != nil {
		return Conversation{}, nil, err
	}
	if err := json.Unmarshal(raw, &conv); err != nil {
		return Conversation{}, nil, fmt.Errorf("backend: decode conversation: %w", err)
	}
	return conv, raw, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("backend: decode %s: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("backend: read %s: %w", req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Code: resp.StatusCode}
		var detail struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(body, &detail) == nil && detail.Detail != "" {
			se.Detail = detail.Detail
		} else {
			se.Detail = strings.TrimSpace(string(body))
		}
		return nil, se
	}
	return body, nil
}
