// Package candidate runs the interviewee side of a session: local media,
// recording and the session protocol.
package candidate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/sjawhar/interview-room/internal/capture"
	"github.com/sjawhar/interview-room/internal/interview"
	"github.com/sjawhar/interview-room/internal/logging"
	"github.com/sjawhar/interview-room/internal/protocol"
	"github.com/sjawhar/interview-room/internal/recording"
	"github.com/sjawhar/interview-room/internal/retry"
)

var (
	ErrNoSession    = errors.New("no active session")
	ErrDisconnected = errors.New("server connection lost")
	ErrClosed       = errors.New("app closed")
)

// Session is the protocol connection to the interview server.
type Session interface {
	StartSession(req protocol.StartSession) error
	SendMessage(sessionID, text string) error
	Pause(sessionID string) error
	Resume(sessionID string) error
	EndSession(sessionID string) error
	AttachSession(sessionID string) error
	Messages() <-chan protocol.Envelope
	Close() error
}

type Uploader interface {
	UploadRecording(ctx context.Context, interviewID int64, art *recording.Artifact) (string, error)
}

type Options struct {
	Meta   interview.Meta
	Logger *zap.Logger
	Clock  clock.Clock

	// OnMessage sees every server message in arrival order.
	OnMessage func(env protocol.Envelope)

	// Redial opens a replacement connection after the current one drops
	// mid-interview. The session is then reattached on it. Without Redial a
	// lost connection ends the app.
	Redial    func(ctx context.Context) (Session, error)
	Reconnect retry.Policy
}

func defaultReconnect() retry.Policy {
	return retry.Policy{
		MaxAttempts: 6,
		Backoff:     []time.Duration{0, time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second},
	}
}

// Outcome summarizes a finished interview.
type Outcome struct {
	InterviewID  int64
	RecordingURL string
	Message      string
}

type App struct {
	media    *capture.Manager
	recorder *recording.Controller
	uploads  Uploader
	opts     Options
	log      *zap.Logger
	redial   *retry.Machine
	ctx      context.Context
	cancel   context.CancelFunc

	control chan protocol.Envelope
	done    chan struct{}

	mu          sync.Mutex
	conn        Session
	sessionID   string
	interviewID int64
	attaching   bool
	closed      bool

	closeOnce sync.Once
	doneOnce  sync.Once
}

func New(conn Session, media *capture.Manager, recorder *recording.Controller, uploads Uploader, opts Options) *App {
	if len(opts.Reconnect.Backoff) == 0 {
		opts.Reconnect = defaultReconnect()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		conn:     conn,
		media:    media,
		recorder: recorder,
		uploads:  uploads,
		opts:     opts,
		log:      logging.OrNop(opts.Logger).Named("candidate"),
		redial:   retry.New(opts.Reconnect, opts.Clock),
		ctx:      ctx,
		cancel:   cancel,
		control:  make(chan protocol.Envelope, 8),
		done:     make(chan struct{}),
	}
	a.redial.OnExhausted(func(err error) {
		a.log.Warn("reconnect gave up", zap.Error(err))
		a.markDone()
	})
	go a.dispatch(conn)
	return a
}

func (a *App) dispatch(conn Session) {
	for env := range conn.Messages() {
		switch env.Type {
		case protocol.TypeSessionAttached:
			a.attached(env)
		case protocol.TypeError:
			if a.attachFailed(env) {
				_ = conn.Close()
			}
		}
		switch env.Type {
		case protocol.TypeSessionCreated, protocol.TypeSessionEnded, protocol.TypeError:
			select {
			case a.control <- env:
			default:
			}
		}
		if a.opts.OnMessage != nil {
			a.opts.OnMessage(env)
		}
	}
	a.connectionLost(conn)
}

// connectionLost schedules a redial while an interview is in progress, and
// otherwise reports the app as done.
func (a *App) connectionLost(conn Session) {
	a.mu.Lock()
	current := a.conn == conn
	resume := current && !a.closed && a.sessionID != "" && a.opts.Redial != nil
	a.mu.Unlock()
	if !current {
		return
	}
	if !resume || !a.redial.Schedule(a.reconnect) {
		a.markDone()
		return
	}
	a.log.Warn("server connection lost, reconnecting")
}

func (a *App) reconnect() error {
	conn, err := a.opts.Redial(a.ctx)
	if err != nil {
		a.log.Info("redial failed", zap.Error(err))
		return err
	}

	a.mu.Lock()
	if a.closed || a.sessionID == "" {
		a.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	a.conn = conn
	a.attaching = true
	id := a.sessionID
	a.mu.Unlock()

	go a.dispatch(conn)
	if err := conn.AttachSession(id); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

func (a *App) attached(env protocol.Envelope) {
	var ref protocol.SessionAttached
	_ = env.Into(&ref)
	a.mu.Lock()
	a.attaching = false
	a.mu.Unlock()
	a.redial.Healthy()
	a.log.Info("session reattached", zap.String("session_id", ref.SessionID), zap.Int("turns", ref.Turns))
}

// attachFailed reports whether env rejects a pending reattach, in which
// case the interview is gone.
func (a *App) attachFailed(env protocol.Envelope) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.attaching {
		return false
	}
	var perr protocol.Error
	_ = env.Into(&perr)
	a.log.Warn("session could not be reattached", zap.String("session_id", a.sessionID), zap.String("reason", perr.Message))
	a.attaching = false
	a.sessionID = ""
	return true
}

func (a *App) markDone() {
	a.doneOnce.Do(func() { close(a.done) })
}

func (a *App) link() Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}

// Begin acquires media, starts recording and opens the session. A stream
// that cannot be recorded still joins the interview.
func (a *App) Begin(ctx context.Context) (protocol.SessionCreated, error) {
	if a.isClosed() {
		return protocol.SessionCreated{}, ErrClosed
	}

	stream, err := a.media.Acquire(ctx)
	if err != nil {
		return protocol.SessionCreated{}, fmt.Errorf("acquire media: %w", err)
	}
	a.media.StartMonitor(ctx)

	if err := a.recorder.Start(stream); err != nil {
		a.log.Warn("recording unavailable, continuing without it", zap.Error(err))
	}

	a.drainControl()
	meta := a.opts.Meta
	if err := a.link().StartSession(protocol.StartSession{
		InterviewID:    meta.InterviewID,
		JobDescription: meta.JobDescription,
		Skills:         meta.Skills,
		InterviewType:  meta.InterviewType,
		Difficulty:     meta.Difficulty,
	}); err != nil {
		return protocol.SessionCreated{}, err
	}

	env, err := a.awaitControl(ctx, protocol.TypeSessionCreated)
	if err != nil {
		return protocol.SessionCreated{}, err
	}
	var created protocol.SessionCreated
	if err := env.Into(&created); err != nil {
		return protocol.SessionCreated{}, err
	}

	a.mu.Lock()
	a.sessionID = created.SessionID
	a.interviewID = created.InterviewID
	a.mu.Unlock()
	a.log.Info("session started",
		zap.String("session_id", created.SessionID),
		zap.Int64("interview_id", created.InterviewID),
		zap.String("recording_mime", a.recorder.MimeType()),
	)
	return created, nil
}

func (a *App) Say(text string) error {
	id, err := a.currentSession()
	if err != nil {
		return err
	}
	return a.link().SendMessage(id, text)
}

func (a *App) Pause() error {
	id, err := a.currentSession()
	if err != nil {
		return err
	}
	a.recorder.Pause()
	return a.link().Pause(id)
}

func (a *App) Resume() error {
	id, err := a.currentSession()
	if err != nil {
		return err
	}
	a.recorder.Resume()
	return a.link().Resume(id)
}

// ToggleTrack flips the local track and reports whether it is now enabled.
func (a *App) ToggleTrack(kind capture.Kind) (bool, error) {
	return a.media.ToggleTrack(kind)
}

// Finish stops recording, uploads it, then asks the server to end the
// session. An upload failure is logged and does not block the end.
func (a *App) Finish(ctx context.Context) (Outcome, error) {
	id, err := a.currentSession()
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{InterviewID: a.InterviewID()}

	art, err := a.recorder.Stop(ctx)
	switch {
	case err != nil:
		a.log.Warn("stop recording failed", zap.Error(err))
	case art == nil:
		a.log.Info("no recording captured")
	case a.uploads != nil:
		url, err := a.uploads.UploadRecording(ctx, out.InterviewID, art)
		if err != nil {
			a.log.Warn("recording upload failed", zap.Error(err))
		} else {
			out.RecordingURL = url
		}
	}

	a.drainControl()
	if err := a.link().EndSession(id); err != nil {
		return out, err
	}
	env, err := a.awaitControl(ctx, protocol.TypeSessionEnded)
	if err != nil {
		return out, err
	}
	var ended protocol.SessionEnded
	_ = env.Into(&ended)
	out.Message = ended.Message

	a.mu.Lock()
	a.sessionID = ""
	a.mu.Unlock()
	return out, nil
}

// Close tears everything down once: pending reconnects, recorder liveness
// checks, the media health monitor, the stream and the connection.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		conn := a.conn
		a.mu.Unlock()

		a.redial.Stop()
		a.cancel()
		a.recorder.Close()
		a.media.Close()
		err = conn.Close()
		a.markDone()
	})
	return err
}

func (a *App) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

func (a *App) InterviewID() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interviewID
}

// Done is closed when the server connection ends and cannot be restored.
func (a *App) Done() <-chan struct{} {
	return a.done
}

func (a *App) currentSession() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return "", ErrClosed
	}
	if a.sessionID == "" {
		return "", ErrNoSession
	}
	return a.sessionID, nil
}

func (a *App) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *App) drainControl() {
	for {
		select {
		case <-a.control:
		default:
			return
		}
	}
}

// awaitControl waits for want, failing on a server error reply.
func (a *App) awaitControl(ctx context.Context, want string) (protocol.Envelope, error) {
	for {
		select {
		case env := <-a.control:
			switch env.Type {
			case want:
				return env, nil
			case protocol.TypeError:
				var perr protocol.Error
				_ = env.Into(&perr)
				return protocol.Envelope{}, fmt.Errorf("server: %s", perr.Message)
			}
		case <-a.done:
			return protocol.Envelope{}, ErrDisconnected
		case <-ctx.Done():
			return protocol.Envelope{}, ctx.Err()
		}
	}
}
