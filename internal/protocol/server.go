package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Request is a decoded client request.
type Request struct {
	Type RequestType
	// text requests
	Text string
	// audio requests, decoded from base64
	Audio []byte
}

type wireRequest struct {
	Type *string `json:"type"`
	Text string  `json:"text"`
	Data string  `json:"data"`
}

// DecodeRequest parses one client frame. Unknown request types wrap ErrUnknownKind.
func DecodeRequest(raw []byte) (Request, error) {
	var w wireRequest
	if err := json.Unmarshal(raw, &w); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.Type == nil {
		return Request{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	req := Request{Type: RequestType(strings.TrimSpace(*w.Type))}
	switch req.Type {
	case RequestText:
		req.Text = w.Text
	case RequestAudio:
		b, err := base64.StdEncoding.DecodeString(w.Data)
		if err != nil {
			return req, fmt.Errorf("%w: audio data: %v", ErrMalformed, err)
		}
		req.Audio = b
	default:
		return req, fmt.Errorf("%w: %q", ErrUnknownKind, req.Type)
	}
	return req, nil
}

type wireOutbound struct {
	Type     Kind   `json:"type"`
	Message  string `json:"message,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	Stage    Stage  `json:"stage,omitempty"`
}

// Encode renders an envelope with the backend's key names.
func Encode(env Envelope) ([]byte, error) {
	w := wireOutbound{Type: env.Kind}
	switch env.Kind {
	case KindStatus:
		w.Message, w.ClientID = env.Message, env.SessionID
	case KindTranscript, KindResponse:
		w.Text = env.Text
	case KindAudioResponse:
		w.Data = env.Audio
	case KindProcessing:
		w.Stage = env.Stage
	case KindError:
		w.Message = env.Message
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	return json.Marshal(w)
}
