package recording

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/sjawhar/interview-room/internal/capture"
)

const pcmMimePrefix = "audio/L16"

// PCMFactory records the first live audio track as raw 16-bit LE PCM.
type PCMFactory struct {
	Clock clock.Clock
}

func (f PCMFactory) IsTypeSupported(mimeType string) bool {
	return strings.HasPrefix(mimeType, pcmMimePrefix)
}

func (f PCMFactory) New(stream *capture.Stream, mimeType string, events Events) (Recorder, error) {
	if !f.IsTypeSupported(mimeType) {
		return nil, fmt.Errorf("%w: %s", ErrNoSupportedFormat, mimeType)
	}
	var track *capture.Track
	for _, t := range stream.TracksOf(capture.KindAudio) {
		if t.Live() {
			track = t
			break
		}
	}
	if track == nil {
		return nil, ErrNoStream
	}

	clk := f.Clock
	if clk == nil {
		clk = clock.New()
	}
	rate := track.Source().Settings().SampleRate
	if rate <= 0 {
		rate = 16000
	}
	return &PCMRecorder{
		track:    track,
		clock:    clk,
		events:   events,
		mimeType: fmt.Sprintf("%s;rate=%d;channels=1", pcmMimePrefix, rate),
		state:    RecorderInactive,
	}, nil
}

// PCMRecorder slices frames from a track feed. Frames arriving while the
// track is disabled are recorded as silence.
type PCMRecorder struct {
	track    *capture.Track
	clock    clock.Clock
	events   Events
	mimeType string

	mu    sync.Mutex
	state RecorderState
	stop  chan struct{}
}

func (r *PCMRecorder) MimeType() string { return r.mimeType }

func (r *PCMRecorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *PCMRecorder) Start(timeslice time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecorderInactive || r.stop != nil {
		return fmt.Errorf("pcm recorder already started")
	}
	if !r.track.Live() {
		return ErrNoStream
	}

	feed := r.track.Source().Feed()
	frames := feed.Subscribe()
	ticker := r.clock.Ticker(timeslice)
	r.stop = make(chan struct{})
	r.state = RecorderRecording

	go r.run(feed, frames, ticker, r.stop)
	return nil
}

func (r *PCMRecorder) run(feed *capture.Feed, frames chan []byte, ticker *clock.Ticker, stop chan struct{}) {
	defer ticker.Stop()
	var pending bytes.Buffer

	flush := func() {
		if pending.Len() == 0 {
			return
		}
		slice := make([]byte, pending.Len())
		copy(slice, pending.Bytes())
		pending.Reset()
		if r.events.OnData != nil {
			r.events.OnData(slice)
		}
	}
	finish := func() {
		flush()
		r.mu.Lock()
		r.state = RecorderInactive
		r.mu.Unlock()
		if r.events.OnStop != nil {
			r.events.OnStop()
		}
	}

	for {
		select {
		case <-stop:
			r.drain(frames, &pending)
			feed.Unsubscribe(frames)
			finish()
			return
		case frame, ok := <-frames:
			if !ok {
				// The device went away under us.
				finish()
				return
			}
			r.accept(frame, &pending)
		case <-ticker.C:
			if r.State() == RecorderRecording {
				flush()
			}
		}
	}
}

func (r *PCMRecorder) accept(frame []byte, pending *bytes.Buffer) {
	if r.State() != RecorderRecording {
		return
	}
	if !r.track.Enabled() {
		frame = make([]byte, len(frame))
	}
	pending.Write(frame)
}

// drain takes frames already queued when a stop arrives.
func (r *PCMRecorder) drain(frames chan []byte, pending *bytes.Buffer) {
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return
			}
			r.accept(frame, pending)
		default:
			return
		}
	}
}

func (r *PCMRecorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop == nil {
		return
	}
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
}

func (r *PCMRecorder) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == RecorderRecording {
		r.state = RecorderPaused
	}
}

func (r *PCMRecorder) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == RecorderPaused {
		r.state = RecorderRecording
	}
}
