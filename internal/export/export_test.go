package export

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/chadiek/voice-session/internal/backend"
)

func sampleConversation() backend.Conversation {
	return backend.Conversation{
		ConversationID: "abc",
		CreatedAt:      "2024-05-01T10:00:00Z",
		TotalExchanges: 1,
		Exchanges: []backend.Exchange{
			{ID: 1, Timestamp: "2024-05-01T10:00:05Z", UserInput: "hello", AssistantResponse: "hi there"},
		},
	}
}

func TestNewExporter(t *testing.T) {
	for format, ext := range map[string]string{"": "json", "json": "json", "YAML": "yaml", "yml": "yaml", "md": "md"} {
		e, err := NewExporter(format)
		require.NoError(t, err, format)
		assert.Equal(t, ext, e.Extension(), format)
	}
	_, err := NewExporter("csv")
	assert.Error(t, err)
}

func TestExporters_RoundTripShape(t *testing.T) {
	conv := sampleConversation()

	var jb bytes.Buffer
	require.NoError(t, (&JSONExporter{}).Export(conv, &jb))
	var fromJSON backend.Conversation
	require.NoError(t, json.Unmarshal(jb.Bytes(), &fromJSON))
	assert.Equal(t, conv, fromJSON)

	var yb bytes.Buffer
	require.NoError(t, (&YAMLExporter{}).Export(conv, &yb))
	assert.Contains(t, yb.String(), "conversation_id: abc")
	var fromYAML backend.Conversation
	require.NoError(t, yaml.Unmarshal(yb.Bytes(), &fromYAML))
	assert.Equal(t, conv, fromYAML)

	var mb bytes.Buffer
	require.NoError(t, (&MarkdownExporter{}).Export(conv, &mb))
	assert.True(t, strings.HasPrefix(mb.String(), "# Conversation abc"))
	assert.Contains(t, mb.String(), "hi there")
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	at := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

	path, err := WriteFile(dir, sampleConversation(), &YAMLExporter{}, at)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "conversation_abc_20240501_103000.yaml"), path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "user_input: hello")
}

func TestFileName_SanitizesID(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "conversation____x_20240102_030405.json", FileName("../x", at, "json"))
}
