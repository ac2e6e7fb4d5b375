package interview

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var (
	ErrEmptyContent = errors.New("turn content is empty")
	ErrUnknownRole  = errors.New("unknown turn role")
)

// Turn is one message in the interview conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn validates role and content before a turn is accepted into a session.
func NewTurn(role Role, content string, at time.Time) (Turn, error) {
	switch role {
	case RoleUser, RoleAssistant:
	default:
		return Turn{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return Turn{}, ErrEmptyContent
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	return Turn{Role: role, Content: content, Timestamp: at.UTC()}, nil
}

// Valid reports whether the turn could be forwarded to a generator.
func (t Turn) Valid() bool {
	return (t.Role == RoleUser || t.Role == RoleAssistant) && strings.TrimSpace(t.Content) != ""
}

// UnmarshalJSON coerces content to a string: null becomes empty,
// numbers and booleans keep their literal text.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role      Role            `json:"role"`
		Content   json.RawMessage `json:"content"`
		Timestamp time.Time       `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	t.Role = raw.Role
	t.Timestamp = raw.Timestamp
	t.Content = coerceContent(raw.Content)
	return nil
}

func coerceContent(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}

	// Objects and arrays are not conversational content.
	return ""
}

func (t Turn) FormatMarkdown() string {
	ts := t.Timestamp.Format("15:04:05")
	speaker := "Candidate"
	if t.Role == RoleAssistant {
		speaker = "Interviewer"
	}
	return fmt.Sprintf("**[%s] %s:** %s", ts, speaker, strings.TrimSpace(t.Content))
}
