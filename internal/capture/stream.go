package capture

import (
	"errors"

	"github.com/google/uuid"
)

// Stream is an ordered set of tracks.
type Stream struct {
	id        string
	tracks    []*Track
	protected bool
}

func NewStream(tracks ...*Track) *Stream {
	return &Stream{id: uuid.NewString(), tracks: append([]*Track(nil), tracks...)}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Protected() bool { return s.protected }

func (s *Stream) Tracks() []*Track {
	return append([]*Track(nil), s.tracks...)
}

func (s *Stream) TracksOf(kind Kind) []*Track {
	var out []*Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

func (s *Stream) LiveTracks() []*Track {
	var out []*Track
	for _, t := range s.tracks {
		if t.Live() {
			out = append(out, t)
		}
	}
	return out
}

func (s *Stream) HasLive(kind Kind) bool {
	for _, t := range s.tracks {
		if t.Kind() == kind && t.Live() {
			return true
		}
	}
	return false
}

// Clone duplicates every live track handle. Stopping the clone leaves the
// original untouched.
func (s *Stream) Clone() *Stream {
	clone := &Stream{id: uuid.NewString()}
	for _, t := range s.tracks {
		if t.Live() {
			clone.tracks = append(clone.tracks, t.Clone())
		}
	}
	return clone
}

// ProtectedClone returns a clone whose tracks refuse Stop, together with
// the only function able to stop them.
func (s *Stream) ProtectedClone() (*Stream, func()) {
	clone := s.Clone()
	clone.protected = true
	for _, t := range clone.tracks {
		t.mu.Lock()
		t.protected = true
		t.mu.Unlock()
	}

	release := func() {
		for _, t := range clone.tracks {
			t.forceStop()
		}
	}
	return clone, release
}

// Stop ends every track. A protected stream refuses.
func (s *Stream) Stop() error {
	if s.protected {
		return ErrProtected
	}
	var errs []error
	for _, t := range s.tracks {
		if err := t.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
