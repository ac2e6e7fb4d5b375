package session

import (
	"context"
	"sync"
	"time"

	"github.com/sjawhar/interview-room/internal/interview"
)

type State string

const (
	StateCreated State = "created"
	StateActive  State = "active"
	StatePaused  State = "paused"
	StateEnded   State = "ended"
)

// Session is the server-side state of one live interview.
type Session struct {
	ID          string
	InterviewID int64
	Meta        interview.Meta

	opening sync.Once

	mu           sync.Mutex
	conn         Conn
	detached     bool
	conversation []interview.Turn
	state        State
	lastActivity time.Time
}

func newSession(id string, meta interview.Meta, conn Conn, now time.Time) *Session {
	return &Session{
		ID:           id,
		InterviewID:  meta.InterviewID,
		Meta:         meta,
		conn:         conn,
		state:        StateCreated,
		lastActivity: now,
	}
}

// ConnID names the connection the session currently replies on.
func (s *Session) ConnID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.ID()
}

func (s *Session) owner() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// detach marks the session as waiting for a new connection, but only if
// connID still owns it.
func (s *Session) detach(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn.ID() != connID {
		return false
	}
	s.detached = true
	return true
}

// claim reports whether conn may use the session. A detached session is
// handed to the first connection that names it; one owned by a live
// connection is refused to everyone else.
func (s *Session) claim(conn Conn) (ok, rebound bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn.ID() == conn.ID() {
		s.conn = conn
		s.detached = false
		return true, false
	}
	if !s.detached {
		return false, false
	}
	s.conn = conn
	s.detached = false
	return true, true
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// activate moves a freshly created session to active. Paused sessions stay paused.
func (s *Session) activate() {
	s.mu.Lock()
	if s.state == StateCreated {
		s.state = StateActive
	}
	s.mu.Unlock()
}

func (s *Session) append(turn interview.Turn) {
	s.mu.Lock()
	s.conversation = append(s.conversation, turn)
	s.lastActivity = turn.Timestamp
	s.mu.Unlock()
}

// Conversation returns a copy of the turns so far.
func (s *Session) Conversation() []interview.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]interview.Turn(nil), s.conversation...)
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// Conn is the per-connection outbound channel a session replies on.
type Conn interface {
	ID() string
	Send(msgType string, payload any) error
}

type Repository interface {
	CreateInterview(ctx context.Context, meta interview.Meta, createdAt time.Time) (interview.Interview, error)
	GetInterview(ctx context.Context, id int64) (interview.Interview, error)
	AddTurn(ctx context.Context, interviewID int64, turn interview.Turn) error
	ListTurns(ctx context.Context, interviewID int64) ([]interview.Turn, error)
	SaveResult(ctx context.Context, result interview.Result) error
	CompleteInterview(ctx context.Context, id int64, completedAt time.Time) error
}

type Generator interface {
	OpeningTurn(meta interview.Meta) string
	NextTurn(ctx context.Context, meta interview.Meta, history []interview.Turn) string
}

type ResultGenerator interface {
	GenerateResults(ctx context.Context, meta interview.Meta, turns []interview.Turn) (interview.Result, error)
}

type TranscriptWriter interface {
	Write(iv interview.Interview, turns []interview.Turn, result *interview.Result) (string, error)
}
