package agent

import (
	"context"

	"github.com/chadiek/voice-session/internal/backend"
	"github.com/chadiek/voice-session/internal/connection"
	"github.com/chadiek/voice-session/internal/progress"
)

// Renderer presents the session to the user. Every call arrives on the event loop.
type Renderer interface {
	progress.Indicator

	ConnectionChanged(state connection.State, detail string)
	// SessionChanged reports the conversation id and whether the server has confirmed it.
	SessionChanged(id string, confirmed bool)
	Status(message string)
	// UserMessage echoes what the user said; voice is true for server transcripts.
	UserMessage(text string, voice bool)
	AssistantMessage(text string)
	Error(message string)
	// Notice is a low-severity message that needs no action.
	Notice(message string)
	RecordingChanged(active bool)
	Level(level float64)
	HealthChanged(h backend.Health, err error)
}

// Backend is the assistant's HTTP surface.
type Backend interface {
	Health(ctx context.Context) (backend.Health, error)
	UploadPDF(ctx context.Context, file string) (backend.UploadResult, error)
	UploadTemplate(ctx context.Context, file string) (backend.UploadResult, error)
	DownloadConversation(ctx context.Context, id string) (backend.Conversation, []byte, error)
}
