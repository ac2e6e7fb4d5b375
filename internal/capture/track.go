package capture

import (
	"sync"

	"github.com/google/uuid"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

type TrackState string

const (
	TrackLive  TrackState = "live"
	TrackEnded TrackState = "ended"
)

// Settings describes the media a source produces.
type Settings struct {
	SampleRate int
	Channels   int
	Width      int
	Height     int
	FrameRate  int
}

// Source is the device-side producer behind one or more Track handles.
// Backends call End and SetMuted; the hardware is released once the last
// handle stops.
type Source struct {
	kind     Kind
	label    string
	settings Settings
	feed     *Feed
	stop     func() error

	mu      sync.Mutex
	handles map[*Track]struct{}
	ended   bool
	muted   bool
}

func NewSource(kind Kind, label string, settings Settings, stop func() error) *Source {
	return &Source{
		kind:     kind,
		label:    label,
		settings: settings,
		feed:     NewFeed(),
		stop:     stop,
		handles:  make(map[*Track]struct{}),
	}
}

func (s *Source) Kind() Kind { return s.kind }
func (s *Source) Label() string { return s.label }
func (s *Source) Feed() *Feed { return s.feed }
func (s *Source) Settings() Settings { return s.settings }

// NewTrack opens a new handle on the source.
func (s *Source) NewTrack() *Track {
	t := &Track{id: uuid.NewString(), source: s, state: TrackLive, enabled: true}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		t.state = TrackEnded
		return t
	}
	t.muted = s.muted
	s.handles[t] = struct{}{}
	return t
}

// End marks the device as permanently gone and fires ended on every handle.
func (s *Source) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	handles := make([]*Track, 0, len(s.handles))
	for t := range s.handles {
		handles = append(handles, t)
	}
	s.handles = map[*Track]struct{}{}
	s.mu.Unlock()

	s.shutdown()
	for _, t := range handles {
		t.markEnded()
	}
}

// SetMuted reports whether the device is currently delivering frames.
func (s *Source) SetMuted(muted bool) {
	s.mu.Lock()
	if s.ended || s.muted == muted {
		s.mu.Unlock()
		return
	}
	s.muted = muted
	handles := make([]*Track, 0, len(s.handles))
	for t := range s.handles {
		handles = append(handles, t)
	}
	s.mu.Unlock()

	for _, t := range handles {
		t.setMuted(muted)
	}
}

func (s *Source) release(t *Track) {
	s.mu.Lock()
	delete(s.handles, t)
	last := len(s.handles) == 0 && !s.ended
	if last {
		s.ended = true
	}
	s.mu.Unlock()

	if last {
		s.shutdown()
	}
}

func (s *Source) shutdown() {
	s.feed.Close()
	if s.stop != nil {
		_ = s.stop()
	}
}

type trackHandlers struct {
	ended  func(*Track)
	mute   func(*Track)
	unmute func(*Track)
}

// Track is one handle on a device source. Stopping a handle never affects
// other handles on the same source.
type Track struct {
	id     string
	source *Source

	mu        sync.Mutex
	state     TrackState
	enabled   bool
	muted     bool
	protected bool
	handlers  trackHandlers
}

func (t *Track) ID() string { return t.id }
func (t *Track) Kind() Kind { return t.source.kind }
func (t *Track) Label() string { return t.source.label }
func (t *Track) Source() *Source { return t.source }

func (t *Track) State() TrackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Track) Live() bool { return t.State() == TrackLive }

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetEnabled gates frame delivery without touching the hardware.
func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *Track) Muted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.muted
}

func (t *Track) Protected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.protected
}

func (t *Track) OnEnded(fn func(*Track)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers.ended = fn
}

func (t *Track) OnMute(fn func(*Track)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers.mute = fn
}

func (t *Track) OnUnmute(fn func(*Track)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers.unmute = fn
}

// Clone opens another handle on the same source, copying the enabled flag.
func (t *Track) Clone() *Track {
	c := t.source.NewTrack()
	c.SetEnabled(t.Enabled())
	return c
}

// Stop ends this handle. Protected handles refuse; their owner stops them
// through the release func returned with the protected clone.
func (t *Track) Stop() error {
	if t.Protected() {
		return ErrProtected
	}
	t.forceStop()
	return nil
}

func (t *Track) forceStop() {
	t.mu.Lock()
	if t.state == TrackEnded {
		t.mu.Unlock()
		return
	}
	t.state = TrackEnded
	t.mu.Unlock()

	t.source.release(t)
}

func (t *Track) markEnded() {
	t.mu.Lock()
	if t.state == TrackEnded {
		t.mu.Unlock()
		return
	}
	t.state = TrackEnded
	cb := t.handlers.ended
	t.mu.Unlock()

	if cb != nil {
		cb(t)
	}
}

func (t *Track) setMuted(muted bool) {
	t.mu.Lock()
	if t.state == TrackEnded || t.muted == muted {
		t.mu.Unlock()
		return
	}
	t.muted = muted
	cb := t.handlers.unmute
	if muted {
		cb = t.handlers.mute
	}
	t.mu.Unlock()

	if cb != nil {
		cb(t)
	}
}
