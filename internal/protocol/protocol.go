// Package protocol defines the JSON envelopes exchanged with the assistant
// backend over the session WebSocket.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind discriminates inbound envelopes.
type Kind string

const (
	KindStatus        Kind = "status"
	KindTranscript    Kind = "transcript"
	KindResponse      Kind = "response"
	KindAudioResponse Kind = "audio_response"
	KindProcessing    Kind = "processing"
	KindError         Kind = "error"
)

// Known reports whether k is one of the inbound kinds this client understands.
func (k Kind) Known() bool {
	switch k {
	case KindStatus, KindTranscript, KindResponse, KindAudioResponse, KindProcessing, KindError:
		return true
	}
	return false
}

// Terminal reports whether k answers a pending request.
func (k Kind) Terminal() bool { return k == KindResponse || k == KindError }

// Stage is a backend progress hint.
type Stage string

const (
	StageTranscribing Stage = "transcribing"
	StageGenerating   Stage = "generating"
	StageSynthesizing Stage = "synthesizing"
)

// Message returns the indicator text for the stage.
func (s Stage) Message() string {
	switch s {
	case StageTranscribing:
		return "Transcribing audio..."
	case StageGenerating:
		return "Generating response..."
	case StageSynthesizing:
		return "Synthesizing speech..."
	default:
		return "Processing..."
	}
}

// Envelope is a decoded inbound message. Only the fields belonging to Kind are set.
type Envelope struct {
	Kind Kind

	// status, error
	Message string
	// status; empty when the server did not assign an id
	SessionID string
	// transcript, response
	Text string
	// audio_response; base64 text as received
	Audio string
	// processing
	Stage Stage
}

var (
	// ErrMalformed marks a frame that is not a JSON object with a string "type".
	ErrMalformed = errors.New("protocol: malformed envelope")
	// ErrUnknownKind marks a well-formed frame whose type this client does not know.
	ErrUnknownKind = errors.New("protocol: unknown envelope kind")
)

// wireInbound covers every inbound payload shape. The backend names the
// session id client_id and the audio payload data; the alternate keys are
// accepted as well.
type wireInbound struct {
	Type      *string `json:"type"`
	Message   string  `json:"message"`
	ClientID  string  `json:"client_id"`
	SessionID string  `json:"session_id"`
	Text      string  `json:"text"`
	Data      string  `json:"data"`
	Audio     string  `json:"audio"`
	Stage     string  `json:"stage"`
}

// Decode parses one inbound frame. Errors wrap ErrMalformed or ErrUnknownKind;
// callers drop the frame in both cases.
func Decode(raw []byte) (Envelope, error) {
	var w wireInbound
	if err := json.Unmarshal(raw, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.Type == nil {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	kind := Kind(strings.TrimSpace(*w.Type))
	if !kind.Known() {
		return Envelope{Kind: kind}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	env := Envelope{Kind: kind}
	switch kind {
	case KindStatus:
		env.Message = w.Message
		env.SessionID = firstNonEmpty(w.ClientID, w.SessionID)
	case KindTranscript, KindResponse:
		env.Text = w.Text
	case KindAudioResponse:
		env.Audio = firstNonEmpty(w.Data, w.Audio)
	case KindProcessing:
		env.Stage = Stage(w.Stage)
	case KindError:
		env.Message = w.Message
	}
	return env, nil
}

// RequestType discriminates outbound requests.
type RequestType string

const (
	RequestAudio RequestType = "audio"
	RequestText  RequestType = "text"
)

type audioRequest struct {
	Type RequestType `json:"type"`
	Data string      `json:"data"`
}

type textRequest struct {
	Type RequestType `json:"type"`
	Text string      `json:"text"`
}

// EncodeAudio wraps a recorded payload as an audio request.
func EncodeAudio(data []byte) ([]byte, error) {
	return json.Marshal(audioRequest{Type: RequestAudio, Data: base64.StdEncoding.EncodeToString(data)})
}

// EncodeText wraps user text as a text request.
func EncodeText(text string) ([]byte, error) {
	return json.Marshal(textRequest{Type: RequestText, Text: text})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
