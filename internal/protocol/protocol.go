// Package protocol defines the websocket messages exchanged between the
// candidate client and the interview server.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sjawhar/interview-room/internal/interview"
)

// Client to server.
const (
	TypeStartSession  = "start-session"
	TypeUserMessage   = "user-message"
	TypePauseSession  = "pause-session"
	TypeResumeSession = "resume-session"
	TypeEndSession    = "end-session"
	TypeAttachSession = "attach-session"
)

// Server to client.
const (
	TypeSessionCreated   = "session-created"
	TypeAssistantMessage = "assistant-message"
	TypeTyping           = "typing"
	TypeSessionPaused    = "session-paused"
	TypeSessionResumed   = "session-resumed"
	TypeSessionEnded     = "session-ended"
	TypeSessionAttached  = "session-attached"
	TypeError            = "error"
)

var ErrMalformedMessage = errors.New("malformed message")

// Envelope is the frame every message travels in.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type StartSession struct {
	InterviewID    int64    `json:"interviewId"`
	JobDescription string   `json:"jobDescription"`
	Skills         []string `json:"skills"`
	InterviewType  string   `json:"interviewType"`
	Difficulty     string   `json:"difficulty"`
}

// Meta converts the request into normalized interview metadata.
func (s StartSession) Meta() interview.Meta {
	return interview.Meta{
		InterviewID:    s.InterviewID,
		JobDescription: s.JobDescription,
		Skills:         s.Skills,
		InterviewType:  s.InterviewType,
		Difficulty:     s.Difficulty,
	}.Normalize()
}

type UserMessage struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// SessionRef is the payload of pause, resume, end and attach requests.
type SessionRef struct {
	SessionID string `json:"sessionId"`
}

type SessionCreated struct {
	SessionID   string `json:"sessionId"`
	InterviewID int64  `json:"interviewId"`
}

// SessionAttached confirms a session moved onto a new connection.
type SessionAttached struct {
	SessionID   string `json:"sessionId"`
	InterviewID int64  `json:"interviewId"`
	Paused      bool   `json:"paused"`
	Turns       int    `json:"turns"`
}

type AssistantMessage struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

type Typing struct {
	IsTyping bool `json:"isTyping"`
}

type SessionEnded struct {
	Message string `json:"message"`
}

type Error struct {
	Message string `json:"message"`
}

// Encode wraps payload in an envelope of the given type.
func Encode(msgType string, payload any) ([]byte, error) {
	env := Envelope{Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Decode parses a frame. A frame without a type is malformed.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	env.Type = strings.TrimSpace(env.Type)
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return env, nil
}

// Into unmarshals the payload into v. A missing payload leaves v zeroed.
func (e Envelope) Into(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedMessage, e.Type, err)
	}
	return nil
}

// FormatTimestamp renders times the way assistant messages carry them.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
