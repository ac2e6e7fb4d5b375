package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sjawhar/interview-room/internal/logging"
	"github.com/sjawhar/interview-room/internal/retry"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusOK         Status = "ok"
	StatusDegraded   Status = "degraded"
	StatusRecovering Status = "recovering"
	StatusFailed     Status = "failed"
)

const (
	defaultAcquireTimeout = 10 * time.Second
	defaultMuteGrace      = 2 * time.Second
	defaultHealthInterval = 3 * time.Second
)

var errAcquireInFlight = errors.New("acquisition in flight")

type Options struct {
	Tiers          []Tier
	AcquireTimeout time.Duration
	MuteGrace      time.Duration
	HealthInterval time.Duration
	Recovery       retry.Policy
	Clock          clock.Clock
	Logger         *zap.Logger

	// OnStatus receives transient status for the user interface. StatusFailed
	// means recovery gave up and the user has to reconnect.
	OnStatus func(status Status, reason string)
}

func (o *Options) setDefaults() {
	if len(o.Tiers) == 0 {
		o.Tiers = DefaultTiers()
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = defaultAcquireTimeout
	}
	if o.MuteGrace <= 0 {
		o.MuteGrace = defaultMuteGrace
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = defaultHealthInterval
	}
	if o.Recovery.MaxAttempts <= 0 {
		o.Recovery = retry.Exponential(time.Second, 3)
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
}

// Manager acquires a local media stream, keeps it attached to the sink and
// heals it when tracks end, mute or disappear.
type Manager struct {
	device Device
	sink   Sink
	opts   Options
	log    *zap.Logger
	clock  clock.Clock

	handle    Handle
	group     singleflight.Group
	acquiring atomic.Bool
	recovery  *retry.Machine

	mu             sync.Mutex
	constraints    Constraints
	videoRequested bool
	videoDisabled  bool
	muteTimers     map[*Track]*clock.Timer
	status         Status
	closed         bool
	monitorStop    chan struct{}

	closeOnce sync.Once
}

func NewManager(device Device, sink Sink, opts Options) *Manager {
	opts.setDefaults()
	m := &Manager{
		device:     device,
		sink:       sink,
		opts:       opts,
		log:        logging.OrNop(opts.Logger).Named("capture"),
		clock:      opts.Clock,
		recovery:   retry.New(opts.Recovery, opts.Clock),
		muteTimers: make(map[*Track]*clock.Timer),
		status:     StatusIdle,
	}
	m.recovery.OnExhausted(func(err error) {
		m.log.Error("media recovery exhausted", zap.Error(err))
		m.setStatus(StatusFailed, "media recovery failed, reconnect manually")
	})
	return m
}

// Acquire returns the stream from the first constraint tier the device
// satisfies. Concurrent callers share one in-flight acquisition and give up
// with ErrAcquisitionTimeout after the acquire timeout.
func (m *Manager) Acquire(ctx context.Context) (*Stream, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}

	ch := m.group.DoChan("acquire", func() (any, error) {
		return m.acquire()
	})

	timer := m.clock.Timer(m.opts.AcquireTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Stream), nil
	case <-timer.C:
		return nil, ErrAcquisitionTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) acquire() (*Stream, error) {
	m.acquiring.Store(true)
	defer m.acquiring.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.AcquireTimeout)
	defer cancel()

	var errs []error
	for _, tier := range m.opts.Tiers {
		stream, err := m.device.GetUserMedia(ctx, tier.Constraints)
		if err == nil && len(stream.LiveTracks()) == 0 {
			err = errors.New("no live tracks")
		}
		if err != nil {
			m.log.Warn("media tier failed", zap.String("tier", tier.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", tier.Name, err))
			continue
		}

		if m.isClosed() {
			_ = stream.Stop()
			return nil, ErrClosed
		}

		m.log.Info("media acquired", zap.String("tier", tier.Name), zap.Int("tracks", len(stream.Tracks())))
		m.install(stream, tier.Constraints)
		return stream, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, errors.Join(errs...))
}

// install makes s the current stream, takes a backup clone and attaches the sink.
func (m *Manager) install(s *Stream, c Constraints) {
	m.mu.Lock()
	m.constraints = c
	m.videoRequested = c.WantsVideo()
	m.mu.Unlock()

	m.cancelMuteTimers()
	m.instrument(s)
	if prev := m.handle.Replace(s); prev != nil {
		m.log.Debug("stream replaced", zap.String("old", prev.ID()), zap.String("new", s.ID()))
	}
	m.handle.SetBackup(s.Clone())
	m.sink.Attach(s)
	m.recovery.Healthy()
	m.setStatus(StatusOK, "")
}

func (m *Manager) instrument(s *Stream) {
	for _, t := range s.Tracks() {
		t.OnEnded(m.handleEnded)
		t.OnMute(m.handleMuted)
		t.OnUnmute(m.handleUnmuted)
	}
}

func (m *Manager) isCurrent(t *Track) bool {
	cur := m.handle.Current()
	if cur == nil {
		return false
	}
	for _, ct := range cur.tracks {
		if ct == t {
			return true
		}
	}
	return false
}

func (m *Manager) handleEnded(t *Track) {
	if !m.isCurrent(t) {
		return
	}
	kind := t.Kind()
	m.log.Warn("track ended", zap.String("kind", string(kind)), zap.String("track", t.ID()))
	m.setStatus(StatusRecovering, fmt.Sprintf("%s track ended", kind))
	m.recovery.Schedule(func() error { return m.recoverKind(kind) })
}

// recoverKind asks for a fresh track of one kind and swaps in a whole new
// stream built from it and clones of the surviving tracks.
func (m *Manager) recoverKind(kind Kind) error {
	if m.acquiring.Load() {
		return errAcquireInFlight
	}
	cur := m.handle.Current()
	if cur == nil {
		return nil
	}
	if cur.HasLive(kind) {
		return nil
	}

	m.mu.Lock()
	scoped := m.constraints.Only(kind)
	constraints := m.constraints
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.AcquireTimeout)
	defer cancel()

	fresh, err := m.device.GetUserMedia(ctx, scoped)
	if err != nil {
		m.log.Warn("track recovery failed", zap.String("kind", string(kind)), zap.Error(err))
		return fmt.Errorf("recover %s track: %w", kind, err)
	}

	var tracks []*Track
	for _, t := range fresh.Tracks() {
		if t.Kind() == kind && t.Live() {
			tracks = append(tracks, t)
		} else {
			_ = t.Stop()
		}
	}
	if len(tracks) == 0 {
		return fmt.Errorf("recover %s track: device returned none", kind)
	}
	for _, t := range cur.Tracks() {
		if t.Kind() != kind && t.Live() {
			tracks = append(tracks, t.Clone())
		}
	}

	m.log.Info("track recovered, replacing stream", zap.String("kind", string(kind)))
	m.install(NewStream(tracks...), constraints)
	return nil
}

func (m *Manager) handleMuted(t *Track) {
	if !m.isCurrent(t) {
		return
	}
	m.setStatus(StatusDegraded, fmt.Sprintf("%s track muted", t.Kind()))

	timer := m.clock.AfterFunc(m.opts.MuteGrace, func() {
		m.mu.Lock()
		delete(m.muteTimers, t)
		m.mu.Unlock()

		if !t.Muted() || !m.isCurrent(t) {
			return
		}
		cur := m.handle.Current()
		m.log.Warn("track still muted after grace period, reattaching sink", zap.String("track", t.ID()))
		m.sink.Attach(cur)
	})

	m.mu.Lock()
	if prev, ok := m.muteTimers[t]; ok {
		prev.Stop()
	}
	m.muteTimers[t] = timer
	m.mu.Unlock()
}

func (m *Manager) handleUnmuted(t *Track) {
	m.mu.Lock()
	if timer, ok := m.muteTimers[t]; ok {
		timer.Stop()
		delete(m.muteTimers, t)
	}
	pending := len(m.muteTimers)
	m.mu.Unlock()

	if pending == 0 && m.isCurrent(t) {
		m.setStatus(StatusOK, "")
	}
}

func (m *Manager) cancelMuteTimers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for t, timer := range m.muteTimers {
		timer.Stop()
		delete(m.muteTimers, t)
	}
}

// ToggleTrack flips enabled on every track of kind and returns the new
// value. Tracks are never created or stopped here.
func (m *Manager) ToggleTrack(kind Kind) (bool, error) {
	cur := m.handle.Current()
	if cur == nil {
		return false, ErrNoStream
	}
	tracks := cur.TracksOf(kind)
	if len(tracks) == 0 {
		return false, fmt.Errorf("%w: %s", ErrNoTrack, kind)
	}

	enabled := !tracks[0].Enabled()
	for _, t := range tracks {
		t.SetEnabled(enabled)
	}

	if kind == KindVideo {
		m.mu.Lock()
		m.videoDisabled = !enabled
		m.mu.Unlock()
	}
	return enabled, nil
}

// Release stops every owned track and detaches the sink.
func (m *Manager) Release() {
	m.cancelMuteTimers()
	m.handle.Release()
	m.sink.Detach()
	m.setStatus(StatusIdle, "released")
}

// Reconnect is the manual path after recovery gave up.
func (m *Manager) Reconnect(ctx context.Context) (*Stream, error) {
	m.recovery.Reset()
	return m.Acquire(ctx)
}

func (m *Manager) Current() *Stream { return m.handle.Current() }

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Close stops the health monitor and pending recovery, then releases the
// stream. It is safe to call more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		stop := m.monitorStop
		m.monitorStop = nil
		m.mu.Unlock()

		if stop != nil {
			close(stop)
		}
		m.recovery.Stop()
		m.Release()
	})
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) setStatus(status Status, reason string) {
	m.mu.Lock()
	if m.status == status {
		m.mu.Unlock()
		return
	}
	m.status = status
	cb := m.opts.OnStatus
	m.mu.Unlock()

	if cb != nil {
		cb(status, reason)
	}
}
