package conversation

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation transcript
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Validate checks if the Message is valid
func (m Message) Validate() error {
	if m.Role != RoleUser && m.Role != RoleAssistant {
		return ErrInvalidMessage{Field: "role", Reason: fmt.Sprintf("unknown role %q", m.Role)}
	}
	return nil
}

// Label returns the speaker prefix used when a transcript is flattened into a prompt
func (m Message) Label() string {
	if m.Role == RoleUser {
		return "User"
	}
	return "Assistant"
}

// AudioPayload is an uploaded clip, base64 encoded
type AudioPayload struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // base64, no data-URI prefix
	Filename string `json:"filename,omitempty"`
	Size     int    `json:"size"`
}

// NewAudioPayload encodes raw audio bytes
func NewAudioPayload(mimeType, filename string, raw []byte) (*AudioPayload, error) {
	if len(raw) == 0 {
		return nil, ErrInvalidAudio{Reason: "file is empty"}
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if !strings.HasPrefix(mimeType, "audio/") && !strings.HasPrefix(mimeType, "video/") && mimeType != "application/octet-stream" {
		return nil, ErrInvalidAudio{Reason: fmt.Sprintf("unsupported content type %q", mimeType)}
	}
	return &AudioPayload{
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(raw),
		Filename: filename,
		Size:     len(raw),
	}, nil
}

// DataURI renders the payload as data:<mime>;base64,<data>
func (a *AudioPayload) DataURI() string {
	return fmt.Sprintf("data:%s;base64,%s", a.MimeType, a.Data)
}

// Errors

// ErrInvalidMessage is returned when a message fails validation
type ErrInvalidMessage struct {
	Field  string
	Reason string
}

func (e ErrInvalidMessage) Error() string {
	return fmt.Sprintf("invalid message: %s %s", e.Field, e.Reason)
}

// ErrInvalidAudio is returned when an upload cannot be used as audio
type ErrInvalidAudio struct {
	Reason string
}

func (e ErrInvalidAudio) Error() string {
	return fmt.Sprintf("invalid audio: %s", e.Reason)
}
