package httpserver

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/chadiek/voice-session/internal/backend"
	"github.com/chadiek/voice-session/internal/infra/history"
)

// maxUpload bounds a single multipart file.
const maxUpload = 32 << 20

type Handlers struct {
	s *Server
}

func NewHandlers(s *Server) Handlers {
	return Handlers{s: s}
}

func (h Handlers) Register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/health", h.health)
	e.GET("/ws", h.ws)
	e.POST("/upload-pdf", h.uploadPDF)
	e.POST("/upload-template", h.uploadTemplate)
	e.GET("/download-conversation/:id", h.downloadConversation)
	e.GET("/metrics", echo.WrapHandler(h.s.metrics.Handler()))
}

type detail struct {
	Detail string `json:"detail"`
}

func (h Handlers) health(c echo.Context) error {
	conversations, err := h.s.history.Count(c.Request().Context())
	if err != nil {
		h.s.logger.Warn().Err(err).Msg("Count conversations")
	}
	docs := h.s.assistant.Documents()
	templates := h.s.assistant.Templates.Len()
	return c.JSON(http.StatusOK, backend.Health{
		Status:         "healthy",
		Processors:     backend.Processors{STT: true, TTS: true, RAG: true, Template: true},
		ActiveSessions: h.s.ActiveSessions(),
		Conversations:  conversations,
		Timestamp:      h.s.now().Format(time.RFC3339),
		RAG:            &backend.RAGStatus{DocumentsLoaded: docs > 0, VectorStoreReady: docs > 0},
		Templates:      &backend.TemplateStatus{TemplatesLoaded: templates > 0, TemplateCount: templates},
	})
}

// readUpload returns the sanitized name and content of the "file" part.
func readUpload(c echo.Context, ext string) (string, []byte, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return "", nil, echo.NewHTTPError(http.StatusBadRequest, detail{"Missing file"})
	}
	name := filepath.Base(filepath.ToSlash(fh.Filename))
	if !strings.EqualFold(filepath.Ext(name), ext) {
		return "", nil, errWrongType
	}
	f, err := fh.Open()
	if err != nil {
		return "", nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUpload+1))
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > maxUpload {
		return "", nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, detail{"File too large"})
	}
	return name, data, nil
}

var errWrongType = errors.New("wrong file type")

func (h Handlers) uploadPDF(c echo.Context) error {
	name, data, err := readUpload(c, ".pdf")
	if errors.Is(err, errWrongType) {
		h.s.metrics.Uploads.WithLabelValues("pdf", "rejected").Inc()
		return c.JSON(http.StatusBadRequest, detail{"Only PDF files allowed"})
	}
	if err != nil {
		return h.uploadFailed(c, "pdf", err)
	}
	if err := h.persist(c, path.Join("documents", name), "application/pdf", data); err != nil {
		return h.uploadFailed(c, "pdf", err)
	}
	h.s.assistant.AddDocument()
	h.s.metrics.Uploads.WithLabelValues("pdf", "ok").Inc()
	h.s.logger.Info().Str("file", name).Int("bytes", len(data)).Msg("Document uploaded")
	return c.JSON(http.StatusOK, backend.UploadResult{Message: "PDF uploaded and processed", Filename: name})
}

func (h Handlers) uploadTemplate(c echo.Context) error {
	name, data, err := readUpload(c, ".csv")
	if errors.Is(err, errWrongType) {
		h.s.metrics.Uploads.WithLabelValues("template", "rejected").Inc()
		return c.JSON(http.StatusBadRequest, detail{"Only CSV files allowed"})
	}
	if err != nil {
		return h.uploadFailed(c, "template", err)
	}
	templates, err := ParseTemplates(name, data)
	if err != nil {
		h.s.metrics.Uploads.WithLabelValues("template", "rejected").Inc()
		return c.JSON(http.StatusBadRequest, detail{err.Error()})
	}
	if err := h.persist(c, path.Join("templates", name), "text/csv", data); err != nil {
		return h.uploadFailed(c, "template", err)
	}
	h.s.assistant.Templates.Replace(name, templates)
	h.s.metrics.Uploads.WithLabelValues("template", "ok").Inc()
	h.s.logger.Info().Str("file", name).Int("templates", len(templates)).Msg("Templates uploaded")
	return c.JSON(http.StatusOK, backend.UploadResult{Message: "Template uploaded", Filename: name})
}

func (h Handlers) persist(c echo.Context, key, contentType string, data []byte) error {
	if h.s.storage == nil {
		return nil
	}
	return h.s.storage.Upload(c.Request().Context(), key, contentType, data)
}

func (h Handlers) uploadFailed(c echo.Context, kind string, err error) error {
	h.s.metrics.Uploads.WithLabelValues(kind, "error").Inc()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return c.JSON(he.Code, he.Message)
	}
	h.s.logger.Error().Err(err).Str("kind", kind).Msg("Upload failed")
	return c.JSON(http.StatusInternalServerError, detail{err.Error()})
}

func (h Handlers) downloadConversation(c echo.Context) error {
	id := c.Param("id")
	conv, err := h.s.history.Get(c.Request().Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		return c.JSON(http.StatusNotFound, detail{"Conversation not found"})
	}
	if err != nil {
		h.s.logger.Error().Err(err).Str("conversation", id).Msg("Load conversation")
		return c.JSON(http.StatusInternalServerError, detail{err.Error()})
	}
	out := exportConversation(conv)
	filename := fmt.Sprintf("conversation_%s_%s.json", id, h.s.now().Format("20060102_150405"))
	c.Response().Header().Set(echo.HeaderContentDisposition,
		mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	return c.JSON(http.StatusOK, out)
}

func exportConversation(conv history.Conversation) backend.Conversation {
	out := backend.Conversation{
		ConversationID: conv.ID,
		CreatedAt:      conv.CreatedAt.Format(time.RFC3339),
		TotalExchanges: len(conv.Exchanges),
		Exchanges:      make([]backend.Exchange, 0, len(conv.Exchanges)),
	}
	for i, ex := range conv.Exchanges {
		ts := ex.At.Format(time.RFC3339)
		out.Exchanges = append(out.Exchanges, backend.Exchange{
			ID:                i + 1,
			Timestamp:         ts,
			UserInput:         ex.UserInput,
			AssistantResponse: ex.AssistantResponse,
		})
		if ex.Template {
			out.TemplateMatches = append(out.TemplateMatches, backend.TemplateMatch{
				Query: ex.UserInput, Response: ex.AssistantResponse, Timestamp: ts,
			})
		}
	}
	return out
}
