package portaudio

import (
	"context"
	"errors"
	"testing"

	"github.com/sjawhar/interview-room/internal/capture"
)

func TestSilenceMutesAfterARunOfZeros(t *testing.T) {
	// 16 kHz in 4000-frame buffers: four silent buffers make a second.
	s := newSilence(16000, 4000)
	zeros := make([]int16, 4)
	voice := []int16{0, 12, -7, 0}

	for i := 1; i <= 3; i++ {
		if muted, changed := s.observe(zeros); muted || changed {
			t.Fatalf("buffer %d: muted too early", i)
		}
	}
	if muted, changed := s.observe(zeros); !muted || !changed {
		t.Fatal("expected mute after a second of silence")
	}
	if muted, changed := s.observe(zeros); !muted || changed {
		t.Fatal("further silence must not report another change")
	}
	if muted, changed := s.observe(voice); muted || !changed {
		t.Fatal("expected unmute on the first non-zero buffer")
	}
	if muted, changed := s.observe(voice); muted || changed {
		t.Fatal("sound after unmute must not report a change")
	}
}

func TestSilenceLimitNeverBelowOneBuffer(t *testing.T) {
	s := newSilence(8000, 1<<20)
	if muted, changed := s.observe([]int16{0}); !muted || !changed {
		t.Fatal("a single oversized silent buffer should mute")
	}
}

func TestDeviceRejectsVideoWithoutOpeningTheMic(t *testing.T) {
	d := NewDevice([]int{16000}, 0, nil)
	if d.FramesPerBuffer != 1024 {
		t.Fatalf("expected default buffer size, got %d", d.FramesPerBuffer)
	}
	_, err := d.GetUserMedia(context.Background(), capture.Constraints{Video: &capture.VideoConstraints{}})
	if !errors.Is(err, capture.ErrVideoUnsupported) {
		t.Fatalf("expected ErrVideoUnsupported, got %v", err)
	}
	if _, err := d.GetUserMedia(context.Background(), capture.Constraints{}); err == nil {
		t.Fatal("expected an error when nothing is requested")
	}
}
