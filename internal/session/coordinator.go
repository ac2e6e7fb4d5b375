package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sjawhar/interview-room/internal/interview"
	"github.com/sjawhar/interview-room/internal/logging"
	"github.com/sjawhar/interview-room/internal/protocol"
	"github.com/sjawhar/interview-room/internal/storage"
)

const (
	msgEmpty         = "Message cannot be empty"
	msgNotFound      = "Session not found"
	msgPaused        = "Interview is paused"
	msgSaveFailed    = "Failed to save message"
	msgResultsFailed = "Failed to generate interview results"
	msgStartFailed   = "Failed to start session"
	msgUnknownType   = "Unknown message type"
	msgProcessFailed = "Failed to process message"
	msgEndedOK       = "Interview completed successfully"
	defaultDelivery  = time.Second
	persistTimeout   = 5 * time.Second
)

type Options struct {
	DeliveryDelay time.Duration
	Transcripts   TranscriptWriter
	Reaper        *Reaper
	Clock         clock.Clock
	Logger        *zap.Logger
}

// Coordinator runs the session protocol. Each connection must feed Handle
// sequentially; different connections may call it concurrently.
type Coordinator struct {
	store       Store
	repo        Repository
	generator   Generator
	results     ResultGenerator
	transcripts TranscriptWriter
	reaper      *Reaper
	delay       time.Duration
	clock       clock.Clock
	log         *zap.Logger

	mu      sync.Mutex
	pending map[string]*clock.Timer
}

func NewCoordinator(store Store, repo Repository, generator Generator, results ResultGenerator, opts Options) *Coordinator {
	if store == nil {
		store = NewMemoryStore()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.DeliveryDelay < 0 {
		opts.DeliveryDelay = 0
	} else if opts.DeliveryDelay == 0 {
		opts.DeliveryDelay = defaultDelivery
	}
	if opts.Reaper == nil {
		opts.Reaper = NewReaper(0, 0, opts.Clock)
	}

	c := &Coordinator{
		store:       store,
		repo:        repo,
		generator:   generator,
		results:     results,
		transcripts: opts.Transcripts,
		reaper:      opts.Reaper,
		delay:       opts.DeliveryDelay,
		clock:       opts.Clock,
		log:         logging.OrNop(opts.Logger).Named("session"),
		pending:     make(map[string]*clock.Timer),
	}
	c.reaper.OnExpire(c.expire)
	return c
}

// Handle processes one inbound frame. Failures are reported to conn as
// error messages; only send failures are returned.
func (c *Coordinator) Handle(ctx context.Context, conn Conn, frame []byte) error {
	env, err := protocol.Decode(frame)
	if err != nil {
		c.log.Warn("malformed frame", zap.String("conn_id", conn.ID()), zap.Error(err))
		return c.sendError(conn, msgProcessFailed)
	}

	switch env.Type {
	case protocol.TypeStartSession:
		var req protocol.StartSession
		if err = env.Into(&req); err == nil {
			err = c.startSession(ctx, conn, req)
		}
	case protocol.TypeUserMessage:
		var req protocol.UserMessage
		if err = env.Into(&req); err == nil {
			err = c.userMessage(ctx, conn, req)
		}
	case protocol.TypePauseSession:
		var req protocol.SessionRef
		if err = env.Into(&req); err == nil {
			err = c.setPaused(conn, req.SessionID, true)
		}
	case protocol.TypeResumeSession:
		var req protocol.SessionRef
		if err = env.Into(&req); err == nil {
			err = c.setPaused(conn, req.SessionID, false)
		}
	case protocol.TypeEndSession:
		var req protocol.SessionRef
		if err = env.Into(&req); err == nil {
			err = c.endSession(ctx, conn, req.SessionID)
		}
	case protocol.TypeAttachSession:
		var req protocol.SessionRef
		if err = env.Into(&req); err == nil {
			err = c.attachSession(conn, req.SessionID)
		}
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err == nil {
		return nil
	}
	var sendErr *deliveryError
	if errors.As(err, &sendErr) {
		return sendErr.err
	}
	c.log.Info("request rejected", zap.String("conn_id", conn.ID()), zap.String("type", env.Type), zap.Error(err))
	return c.sendError(conn, clientMessage(err))
}

// Disconnected arms the grace timer for every session conn owns. Until it
// fires, another connection may take the session over.
func (c *Coordinator) Disconnected(connID string) {
	c.store.Range(func(s *Session) bool {
		if s.detach(connID) {
			c.reaper.Disconnected(s.ID)
			c.log.Info("session connection lost", zap.String("session_id", s.ID))
		}
		return true
	})
}

func (c *Coordinator) ActiveSessions() int {
	return c.store.Len()
}

// Session returns a live session owned by connID.
func (c *Coordinator) Session(connID, sessionID string) (*Session, error) {
	s, ok := c.store.Get(sessionID)
	if !ok || s.ConnID() != connID {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// claim resolves sessionID for conn, moving a detached session onto it.
func (c *Coordinator) claim(conn Conn, sessionID string) (*Session, error) {
	s, ok := c.store.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	owned, rebound := s.claim(conn)
	if !owned {
		return nil, ErrSessionNotFound
	}
	if rebound {
		c.reaper.Touch(s.ID)
		c.log.Info("session reattached", zap.String("session_id", s.ID), zap.String("conn_id", conn.ID()))
	}
	return s, nil
}

// Close stops pending deliveries and expiry timers.
func (c *Coordinator) Close() {
	c.mu.Lock()
	for id, t := range c.pending {
		t.Stop()
		delete(c.pending, id)
	}
	c.mu.Unlock()
	c.reaper.Stop()
}

func (c *Coordinator) startSession(ctx context.Context, conn Conn, req protocol.StartSession) error {
	meta := req.Meta()
	iv, err := c.resolveInterview(ctx, meta)
	if err != nil {
		return fmt.Errorf("%w: %v", errStartSession, err)
	}
	meta.InterviewID = iv.ID

	s := newSession(uuid.NewString(), meta, conn, c.clock.Now().UTC())
	if err := c.store.Create(s); err != nil {
		return fmt.Errorf("%w: %v", errStartSession, err)
	}
	c.reaper.Touch(s.ID)
	c.log.Info("session created",
		zap.String("session_id", s.ID),
		zap.Int64("interview_id", s.InterviewID),
		zap.Strings("skills", meta.Skills),
	)

	if err := c.send(conn, protocol.TypeSessionCreated, protocol.SessionCreated{SessionID: s.ID, InterviewID: s.InterviewID}); err != nil {
		return err
	}

	c.mu.Lock()
	c.pending[s.ID] = c.clock.AfterFunc(c.delay, func() { c.deliverOpening(s) })
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) resolveInterview(ctx context.Context, meta interview.Meta) (interview.Interview, error) {
	if meta.InterviewID != 0 {
		iv, err := c.repo.GetInterview(ctx, meta.InterviewID)
		if err == nil {
			return iv, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return interview.Interview{}, err
		}
		c.log.Info("unknown interview id, creating a new record", zap.Int64("interview_id", meta.InterviewID))
	}
	return c.repo.CreateInterview(ctx, meta, c.clock.Now().UTC())
}

// deliverOpening sends the greeting at most once, either when the delivery
// timer fires or ahead of the first user message, whichever comes first.
// A concurrent caller waits until the greeting is in the conversation.
func (c *Coordinator) deliverOpening(s *Session) {
	c.mu.Lock()
	if t, ok := c.pending[s.ID]; ok {
		t.Stop()
		delete(c.pending, s.ID)
	}
	c.mu.Unlock()

	s.opening.Do(func() { c.sendOpening(s) })
}

func (c *Coordinator) sendOpening(s *Session) {
	if _, ok := c.store.Get(s.ID); !ok {
		return
	}

	turn, err := interview.NewTurn(interview.RoleAssistant, c.generator.OpeningTurn(s.Meta), c.clock.Now())
	if err != nil {
		c.log.Error("opening turn rejected", zap.String("session_id", s.ID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.repo.AddTurn(ctx, s.InterviewID, turn); err != nil {
		c.log.Error("persist opening turn failed", zap.String("session_id", s.ID), zap.Error(err))
	}
	s.append(turn)
	s.activate()

	if err := c.send(s.owner(), protocol.TypeAssistantMessage, assistantMessage(turn)); err != nil {
		c.log.Warn("deliver opening turn failed", zap.String("session_id", s.ID), zap.Error(err))
	}
}

func (c *Coordinator) userMessage(ctx context.Context, conn Conn, req protocol.UserMessage) error {
	if strings.TrimSpace(req.Message) == "" {
		return interview.ErrEmptyContent
	}
	s, err := c.claim(conn, req.SessionID)
	if err != nil {
		return err
	}
	switch s.State() {
	case StatePaused:
		return ErrSessionPaused
	case StateCreated:
		c.deliverOpening(s)
	}

	turn, err := interview.NewTurn(interview.RoleUser, req.Message, c.clock.Now())
	if err != nil {
		return err
	}
	if err := c.repo.AddTurn(ctx, s.InterviewID, turn); err != nil {
		return fmt.Errorf("%w: %v", errSaveTurn, err)
	}
	s.append(turn)
	c.reaper.Touch(s.ID)

	if err := c.send(conn, protocol.TypeTyping, protocol.Typing{IsTyping: true}); err != nil {
		return err
	}

	reply, err := interview.NewTurn(interview.RoleAssistant, c.generator.NextTurn(ctx, s.Meta, s.Conversation()), c.clock.Now())
	if err != nil {
		_ = c.send(conn, protocol.TypeTyping, protocol.Typing{IsTyping: false})
		return err
	}
	if err := c.repo.AddTurn(ctx, s.InterviewID, reply); err != nil {
		c.log.Error("persist assistant turn failed", zap.String("session_id", s.ID), zap.Error(err))
	}
	s.append(reply)

	if err := c.send(conn, protocol.TypeAssistantMessage, assistantMessage(reply)); err != nil {
		return err
	}
	return c.send(conn, protocol.TypeTyping, protocol.Typing{IsTyping: false})
}

func (c *Coordinator) setPaused(conn Conn, sessionID string, paused bool) error {
	s, err := c.claim(conn, sessionID)
	if err != nil {
		return err
	}
	s.touch(c.clock.Now().UTC())
	c.reaper.Touch(s.ID)

	if paused {
		s.setState(StatePaused)
		c.log.Info("session paused", zap.String("session_id", s.ID))
		return c.send(conn, protocol.TypeSessionPaused, protocol.SessionRef{SessionID: s.ID})
	}
	s.setState(StateActive)
	c.log.Info("session resumed", zap.String("session_id", s.ID))
	return c.send(conn, protocol.TypeSessionResumed, protocol.SessionRef{SessionID: s.ID})
}

// attachSession moves a session whose connection dropped onto conn and
// reports where the interview stands.
func (c *Coordinator) attachSession(conn Conn, sessionID string) error {
	s, err := c.claim(conn, sessionID)
	if err != nil {
		return err
	}
	c.reaper.Touch(s.ID)
	return c.send(conn, protocol.TypeSessionAttached, protocol.SessionAttached{
		SessionID:   s.ID,
		InterviewID: s.InterviewID,
		Paused:      s.State() == StatePaused,
		Turns:       len(s.Conversation()),
	})
}

func (c *Coordinator) endSession(ctx context.Context, conn Conn, sessionID string) error {
	s, err := c.claim(conn, sessionID)
	if err != nil {
		return err
	}

	turns, err := c.repo.ListTurns(ctx, s.InterviewID)
	if err != nil {
		c.log.Warn("load persisted turns failed, using live conversation", zap.String("session_id", s.ID), zap.Error(err))
		turns = s.Conversation()
	}

	result, err := c.results.GenerateResults(ctx, s.Meta, turns)
	if err != nil {
		return fmt.Errorf("%w: %v", errResults, err)
	}
	now := c.clock.Now().UTC()
	result.InterviewID = s.InterviewID
	result.CreatedAt = now

	if err := c.repo.SaveResult(ctx, result); err != nil {
		return fmt.Errorf("%w: save: %v", errResults, err)
	}
	if err := c.repo.CompleteInterview(ctx, s.InterviewID, now); err != nil {
		c.log.Warn("mark interview completed failed", zap.Int64("interview_id", s.InterviewID), zap.Error(err))
	}
	c.writeTranscript(ctx, s, turns, &result)

	s.setState(StateEnded)
	c.remove(s.ID)
	c.log.Info("session ended",
		zap.String("session_id", s.ID),
		zap.Int("turns", len(turns)),
		zap.Float64("overall_rating", result.OverallRating),
	)
	return c.send(conn, protocol.TypeSessionEnded, protocol.SessionEnded{Message: msgEndedOK})
}

func (c *Coordinator) writeTranscript(ctx context.Context, s *Session, turns []interview.Turn, result *interview.Result) {
	if c.transcripts == nil {
		return
	}
	iv, err := c.repo.GetInterview(ctx, s.InterviewID)
	if err != nil {
		iv = interview.Interview{ID: s.InterviewID, Meta: s.Meta, CreatedAt: c.clock.Now().UTC()}
	}
	path, err := c.transcripts.Write(iv, turns, result)
	if err != nil {
		c.log.Warn("write transcript failed", zap.Int64("interview_id", s.InterviewID), zap.Error(err))
		return
	}
	c.log.Info("transcript written", zap.String("path", path))
}

func (c *Coordinator) remove(id string) {
	c.mu.Lock()
	if t, ok := c.pending[id]; ok {
		t.Stop()
		delete(c.pending, id)
	}
	c.mu.Unlock()
	c.reaper.Forget(id)
	c.store.Remove(id)
}

// expire drops a session whose timer fired. The interview record is left in progress.
func (c *Coordinator) expire(id string) {
	s, ok := c.store.Get(id)
	if !ok {
		return
	}
	s.setState(StateEnded)
	c.remove(id)
	c.log.Info("session expired",
		zap.String("session_id", id),
		zap.Int64("interview_id", s.InterviewID),
		zap.Time("last_activity", s.LastActivity()),
	)
}

type deliveryError struct{ err error }

func (e *deliveryError) Error() string { return "send: " + e.err.Error() }

func (c *Coordinator) send(conn Conn, msgType string, payload any) error {
	if err := conn.Send(msgType, payload); err != nil {
		return &deliveryError{err: err}
	}
	return nil
}

func (c *Coordinator) sendError(conn Conn, message string) error {
	return conn.Send(protocol.TypeError, protocol.Error{Message: message})
}

func assistantMessage(turn interview.Turn) protocol.AssistantMessage {
	return protocol.AssistantMessage{
		ID:        uuid.NewString(),
		Text:      turn.Content,
		Timestamp: protocol.FormatTimestamp(turn.Timestamp),
	}
}

func clientMessage(err error) string {
	switch {
	case errors.Is(err, interview.ErrEmptyContent):
		return msgEmpty
	case errors.Is(err, ErrSessionNotFound):
		return msgNotFound
	case errors.Is(err, ErrSessionPaused):
		return msgPaused
	case errors.Is(err, errSaveTurn):
		return msgSaveFailed
	case errors.Is(err, errResults):
		return msgResultsFailed
	case errors.Is(err, errStartSession):
		return msgStartFailed
	case errors.Is(err, ErrUnknownType):
		return msgUnknownType
	default:
		return msgProcessFailed
	}
}
