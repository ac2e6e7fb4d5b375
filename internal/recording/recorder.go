package recording

import (
	"errors"
	"time"

	"github.com/sjawhar/interview-room/internal/capture"
)

var (
	ErrNoStream          = errors.New("recording requires a live stream")
	ErrNoSupportedFormat = errors.New("no supported recording format")
	ErrAlreadyRecording  = errors.New("recording already in progress")
)

// RecorderState mirrors the underlying recorder, not the controller.
type RecorderState string

const (
	RecorderInactive  RecorderState = "inactive"
	RecorderRecording RecorderState = "recording"
	RecorderPaused    RecorderState = "paused"
)

// Events are delivered by a Recorder from any goroutine. OnStop always comes
// after the last OnData of a stopped recorder.
type Events struct {
	OnData  func(chunk []byte)
	OnStop  func()
	OnError func(err error)
}

// Recorder encodes a stream into time-sliced chunks.
type Recorder interface {
	Start(timeslice time.Duration) error
	// Stop flushes the pending slice and then fires OnStop.
	Stop()
	Pause()
	Resume()
	State() RecorderState
	MimeType() string
}

type RecorderFactory interface {
	IsTypeSupported(mimeType string) bool
	New(stream *capture.Stream, mimeType string, events Events) (Recorder, error)
}

// DefaultPreferences is the container/codec order tried by Start.
func DefaultPreferences() []string {
	return []string{
		"video/webm;codecs=vp9,opus",
		"video/webm;codecs=vp8,opus",
		"video/webm",
		"video/mp4",
		"audio/webm;codecs=opus",
		"audio/L16;rate=16000;channels=1",
	}
}

// SelectFormat returns the first preference the factory supports.
func SelectFormat(f RecorderFactory, preferences []string) (string, error) {
	for _, mime := range preferences {
		if f.IsTypeSupported(mime) {
			return mime, nil
		}
	}
	return "", ErrNoSupportedFormat
}
