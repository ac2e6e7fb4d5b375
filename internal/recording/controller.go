// Package recording turns a captured stream into an ordered chunk sequence
// and keeps the underlying recorder alive until an explicit Stop.
package recording

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/sjawhar/interview-room/internal/capture"
	"github.com/sjawhar/interview-room/internal/logging"
	"github.com/sjawhar/interview-room/internal/retry"
)

type State string

const (
	StateInactive  State = "inactive"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopping  State = "stopping"
)

type Status string

const (
	StatusOK         Status = "ok"
	StatusRecovering Status = "recovering"
	StatusFailed     Status = "failed"
)

var errNotRecording = errors.New("controller is not recording")

type Options struct {
	Timeslice        time.Duration
	StopTimeout      time.Duration
	LivenessInterval time.Duration
	Restart          retry.Policy
	Preferences      []string
	Clock            clock.Clock
	Logger           *zap.Logger
	OnStatus         func(status Status, reason string)

	// Stream returns the capture stream currently installed. Restarts use
	// it to follow a device replacement once the recorded clone has lost
	// tracks.
	Stream func() *capture.Stream
}

func (o *Options) setDefaults() {
	if o.Timeslice <= 0 {
		o.Timeslice = time.Second
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 10 * time.Second
	}
	if o.LivenessInterval <= 0 {
		o.LivenessInterval = 10 * time.Second
	}
	if o.Restart.MaxAttempts <= 0 {
		o.Restart = retry.Fixed(500*time.Millisecond, 5)
	}
	// Attempts only reset once the new recorder delivers a chunk.
	o.Restart.HoldAttempts = true
	if len(o.Preferences) == 0 {
		o.Preferences = DefaultPreferences()
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
}

type Controller struct {
	factory RecorderFactory
	opts    Options
	log     *zap.Logger
	clock   clock.Clock
	restart *retry.Machine

	mu           sync.Mutex
	state        State
	chunks       *ChunkSequence
	clone        *capture.Stream
	releaseClone func()
	rec          Recorder
	gen          uint64
	mimeType     string
	stopDone     chan struct{}
	livenessStop chan struct{}
	status       Status
}

func NewController(factory RecorderFactory, opts Options) *Controller {
	opts.setDefaults()
	c := &Controller{
		factory: factory,
		opts:    opts,
		log:     logging.OrNop(opts.Logger).Named("recording"),
		clock:   opts.Clock,
		restart: retry.New(opts.Restart, opts.Clock),
		state:   StateInactive,
		chunks:  NewChunkSequence(),
		status:  StatusOK,
	}
	c.restart.OnExhausted(func(err error) {
		c.log.Error("recorder restart exhausted", zap.Error(err))
		c.setStatus(StatusFailed, "recording stopped, restart attempts exhausted")
	})
	return c
}

// Start records a protected clone of stream so the recording outlives any
// replacement of the capture stream.
func (c *Controller) Start(stream *capture.Stream) error {
	if stream == nil || len(stream.LiveTracks()) == 0 {
		return ErrNoStream
	}
	mime, err := SelectFormat(c.factory, c.opts.Preferences)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateInactive {
		c.mu.Unlock()
		return ErrAlreadyRecording
	}
	clone, release := stream.ProtectedClone()
	c.clone = clone
	c.releaseClone = release
	c.mimeType = mime
	c.chunks = NewChunkSequence()
	c.state = StateRecording
	c.mu.Unlock()

	c.restart.Reset()
	if err := c.startRecorder(); err != nil {
		c.mu.Lock()
		c.teardownLocked()
		c.mu.Unlock()
		return fmt.Errorf("start recorder: %w", err)
	}

	c.startLiveness()
	c.log.Info("recording started", zap.String("mime_type", mime), zap.Duration("timeslice", c.opts.Timeslice))
	return nil
}

// startRecorder discards any previous recorder and starts a new one on the
// protected clone, refreshed from the installed stream if the old one lost
// tracks. Events of older generations are ignored.
func (c *Controller) startRecorder() error {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return errNotRecording
	}
	old := c.rec
	c.rec = nil
	c.gen++
	gen := c.gen
	clone, mime := c.clone, c.mimeType
	c.mu.Unlock()

	if old != nil && old.State() != RecorderInactive {
		old.Stop()
	}
	clone = c.refreshClone(clone)

	rec, err := c.factory.New(clone, mime, Events{
		OnData:  func(chunk []byte) { c.handleData(gen, chunk) },
		OnStop:  func() { c.handleStop(gen) },
		OnError: func(err error) { c.handleError(gen, err) },
	})
	if err != nil {
		return err
	}
	if err := rec.Start(c.opts.Timeslice); err != nil {
		return err
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateRecording {
		c.mu.Unlock()
		rec.Stop()
		return errNotRecording
	}
	c.rec = rec
	if m := rec.MimeType(); m != "" {
		c.mimeType = m
	}
	c.mu.Unlock()
	return nil
}

func (c *Controller) refreshClone(clone *capture.Stream) *capture.Stream {
	if c.opts.Stream == nil || clone == nil || len(clone.LiveTracks()) == len(clone.Tracks()) {
		return clone
	}
	current := c.opts.Stream()
	if current == nil || len(current.LiveTracks()) == 0 {
		return clone
	}

	fresh, release := current.ProtectedClone()
	c.mu.Lock()
	if c.state != StateRecording || c.clone != clone {
		c.mu.Unlock()
		release()
		return clone
	}
	previous := c.releaseClone
	c.clone = fresh
	c.releaseClone = release
	c.mu.Unlock()

	if previous != nil {
		previous()
	}
	c.log.Info("recording follows replacement stream", zap.String("stream_id", current.ID()))
	return fresh
}

func (c *Controller) handleData(gen uint64, chunk []byte) {
	c.mu.Lock()
	if gen != c.gen || len(chunk) == 0 {
		c.mu.Unlock()
		return
	}
	c.chunks.Append(chunk)
	c.mu.Unlock()

	c.restart.Healthy()
	c.setStatus(StatusOK, "")
}

func (c *Controller) handleStop(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	switch c.state {
	case StateStopping:
		c.signalStoppedLocked()
		c.mu.Unlock()
	case StateRecording:
		c.mu.Unlock()
		c.fault(errors.New("recorder stopped unexpectedly"))
	default:
		c.mu.Unlock()
	}
}

func (c *Controller) handleError(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	switch c.state {
	case StateStopping:
		c.log.Warn("recorder error while stopping", zap.Error(err))
		c.signalStoppedLocked()
		c.mu.Unlock()
	case StateRecording:
		c.mu.Unlock()
		c.fault(err)
	default:
		c.mu.Unlock()
	}
}

// fault schedules a restart. Chunks collected so far are kept.
func (c *Controller) fault(cause error) {
	c.log.Warn("recorder fault", zap.Error(cause))
	c.setStatus(StatusRecovering, cause.Error())
	c.restart.Schedule(c.startRecorder)
}

func (c *Controller) signalStoppedLocked() {
	if c.stopDone != nil {
		close(c.stopDone)
		c.stopDone = nil
	}
}

func (c *Controller) startLiveness() {
	stop := make(chan struct{})
	c.mu.Lock()
	c.livenessStop = stop
	c.mu.Unlock()

	ticker := c.clock.Ticker(c.opts.LivenessInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.CheckLiveness()
			}
		}
	}()
}

func (c *Controller) stopLivenessLocked() {
	if c.livenessStop != nil {
		close(c.livenessStop)
		c.livenessStop = nil
	}
}

// CheckLiveness restarts the recorder when it went inactive while the
// controller still believes it is recording.
func (c *Controller) CheckLiveness() bool {
	c.mu.Lock()
	dead := c.state == StateRecording && (c.rec == nil || c.rec.State() == RecorderInactive)
	c.mu.Unlock()

	if dead && c.restart.State() != retry.Waiting && c.restart.State() != retry.Running {
		c.fault(errors.New("recorder inactive"))
	}
	return dead
}

func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRecording {
		return
	}
	if c.rec != nil {
		c.rec.Pause()
	}
	c.state = StatePaused
}

func (c *Controller) Resume() {
	c.mu.Lock()
	if c.state != StatePaused {
		c.mu.Unlock()
		return
	}
	c.state = StateRecording
	rec := c.rec
	c.mu.Unlock()

	if rec == nil || rec.State() == RecorderInactive {
		c.fault(errors.New("recorder inactive on resume"))
		return
	}
	rec.Resume()
}

// Stop flushes the recorder and assembles every chunk collected so far. It
// waits for the stop acknowledgment, a recorder error or the stop timeout,
// whichever comes first. A nil artifact means nothing was recorded.
func (c *Controller) Stop(ctx context.Context) (*Artifact, error) {
	c.mu.Lock()
	if c.state == StateInactive || c.state == StateStopping {
		c.mu.Unlock()
		return nil, nil
	}
	c.state = StateStopping
	c.stopLivenessLocked()
	done := make(chan struct{})
	c.stopDone = done
	rec := c.rec
	c.mu.Unlock()

	c.restart.Stop()

	if rec != nil && rec.State() != RecorderInactive {
		rec.Stop()
	} else {
		c.mu.Lock()
		c.signalStoppedLocked()
		c.mu.Unlock()
	}

	timer := c.clock.Timer(c.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		c.log.Warn("recorder stop timed out, assembling collected chunks")
	case <-ctx.Done():
		c.log.Warn("stop cancelled, assembling collected chunks", zap.Error(ctx.Err()))
	}

	c.mu.Lock()
	chunks, mime := c.chunks, c.mimeType
	c.teardownLocked()
	c.mu.Unlock()

	c.log.Info("recording stopped", zap.Int("chunks", chunks.Len()), zap.Int("bytes", chunks.Size()))
	if chunks.Len() == 0 {
		return nil, nil
	}
	return &Artifact{Data: chunks.Bytes(), MimeType: mime, Chunks: chunks.Len()}, nil
}

// Close abandons any recording without assembling it. It is idempotent.
func (c *Controller) Close() {
	c.restart.Stop()

	c.mu.Lock()
	rec := c.rec
	c.teardownLocked()
	c.mu.Unlock()

	if rec != nil && rec.State() != RecorderInactive {
		rec.Stop()
	}
}

func (c *Controller) teardownLocked() {
	c.stopLivenessLocked()
	c.gen++
	c.rec = nil
	c.stopDone = nil
	if c.releaseClone != nil {
		c.releaseClone()
		c.releaseClone = nil
	}
	c.clone = nil
	c.state = StateInactive
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Collected reports how many chunks the current sequence holds.
func (c *Controller) Collected() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chunks.Len()
}

func (c *Controller) MimeType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mimeType
}

func (c *Controller) setStatus(status Status, reason string) {
	c.mu.Lock()
	if c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	cb := c.opts.OnStatus
	c.mu.Unlock()

	if cb != nil {
		cb(status, reason)
	}
}
