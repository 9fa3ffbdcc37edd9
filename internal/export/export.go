// Package export writes downloaded conversations to disk in a chosen format.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chadiek/voice-session/internal/backend"
)

// Exporter renders one conversation.
type Exporter interface {
	Export(conv backend.Conversation, w io.Writer) error
	Extension() string
}

// NewExporter returns the exporter for format.
func NewExporter(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return &JSONExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: json, yaml, md)", format)
	}
}

// JSONExporter writes indented JSON.
type JSONExporter struct{}

func (e *JSONExporter) Export(conv backend.Conversation, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(conv)
}

func (e *JSONExporter) Extension() string { return "json" }

// YAMLExporter writes YAML.
type YAMLExporter struct{}

func (e *YAMLExporter) Export(conv backend.Conversation, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer func() { _ = enc.Close() }()
	return enc.Encode(conv)
}

func (e *YAMLExporter) Extension() string { return "yaml" }

// MarkdownExporter writes a readable transcript.
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(conv backend.Conversation, w io.Writer) error {
	_, _ = fmt.Fprintf(w, "# Conversation %s\n\n", conv.ConversationID)
	if conv.CreatedAt != "" {
		_, _ = fmt.Fprintf(w, "**Started:** %s  \n", conv.CreatedAt)
	}
	_, _ = fmt.Fprintf(w, "**Exchanges:** %d\n\n", conv.TotalExchanges)
	for _, ex := range conv.Exchanges {
		_, _ = fmt.Fprintf(w, "---\n\n**You** (%s):\n\n%s\n\n**Assistant:**\n\n%s\n\n", ex.Timestamp, ex.UserInput, ex.AssistantResponse)
	}
	return nil
}

func (e *MarkdownExporter) Extension() string { return "md" }

// FileName follows the backend's naming: conversation_<id>_<YYYYmmdd_HHMMSS>.<ext>.
func FileName(id string, at time.Time, ext string) string {
	return fmt.Sprintf("conversation_%s_%s.%s", sanitize(id), at.Format("20060102_150405"), ext)
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

// WriteFile exports conv into dir and returns the path written.
func WriteFile(dir string, conv backend.Conversation, e Exporter, at time.Time) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("export: create dir: %w", err)
	}
	path := filepath.Join(dir, FileName(conv.ConversationID, at, e.Extension()))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("export: create file: %w", err)
	}
	if err := e.Export(conv, f); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("export: write %s: %w", e.Extension(), err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("export: close: %w", err)
	}
	return path, nil
}
