// Package portaudio serves capture streams from the local microphone. It is
// the only package that links libportaudio, so only the candidate binary
// needs cgo.
package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/sjawhar/interview-room/internal/capture"
	"github.com/sjawhar/interview-room/internal/logging"
)

// silentFrameRun is roughly how long an all-zero input must last before the
// source reports itself muted.
const silentFrameRun = time.Second

// Init must be called once before a Device is used. The returned func
// terminates the library.
func Init() (func(), error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return func() { _ = pa.Terminate() }, nil
}

// Device serves audio-only streams from the default input device.
type Device struct {
	SampleRates     []int
	FramesPerBuffer int

	log *zap.Logger
}

func NewDevice(sampleRates []int, framesPerBuffer int, logger *zap.Logger) *Device {
	if framesPerBuffer <= 0 {
		framesPerBuffer = 1024
	}
	return &Device{
		SampleRates:     sampleRates,
		FramesPerBuffer: framesPerBuffer,
		log:             logging.OrNop(logger).Named("portaudio"),
	}
}

func (d *Device) GetUserMedia(ctx context.Context, c capture.Constraints) (*capture.Stream, error) {
	if c.Video != nil {
		return nil, capture.ErrVideoUnsupported
	}
	if c.Audio == nil {
		return nil, errors.New("no media kinds requested")
	}

	rates := d.SampleRates
	if c.Audio.SampleRate > 0 {
		rates = append([]int{c.Audio.SampleRate}, rates...)
	}

	var errs []error
	for _, rate := range rates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := openMic(rate, d.FramesPerBuffer)
		if err != nil {
			d.log.Warn("microphone open failed", zap.Int("sample_rate", rate), zap.Error(err))
			errs = append(errs, fmt.Errorf("%d Hz: %w", rate, err))
			continue
		}
		if err := m.stream.Start(); err != nil {
			_ = m.stream.Close()
			errs = append(errs, fmt.Errorf("%d Hz start: %w", rate, err))
			continue
		}

		d.log.Info("microphone started", zap.Int("sample_rate", rate))
		src := capture.NewSource(capture.KindAudio, "default microphone", capture.Settings{SampleRate: rate, Channels: 1}, m.close)
		go m.pump(src, d.log)
		return capture.NewStream(src.NewTrack()), nil
	}

	if len(errs) == 0 {
		return nil, errors.New("no sample rates configured")
	}
	return nil, errors.Join(errs...)
}

type mic struct {
	stream     *pa.Stream
	buf        []int16
	sampleRate int

	closeOnce sync.Once
	done      chan struct{}
}

func openMic(sampleRate, framesPerBuffer int) (*mic, error) {
	buf := make([]int16, framesPerBuffer)
	stream, err := pa.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, err
	}
	return &mic{stream: stream, buf: buf, sampleRate: sampleRate, done: make(chan struct{})}, nil
}

func (m *mic) close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		err = errors.Join(m.stream.Stop(), m.stream.Close())
	})
	return err
}

// pump reads PCM16-LE frames into the source feed until the mic is closed or
// fails. Input overflow is survivable; anything else ends the source.
func (m *mic) pump(src *capture.Source, log *zap.Logger) {
	var out bytes.Buffer
	out.Grow(len(m.buf) * 2)
	quiet := newSilence(m.sampleRate, len(m.buf))

	for {
		select {
		case <-m.done:
			return
		default:
		}

		if err := m.stream.Read(); err != nil {
			select {
			case <-m.done:
				return
			default:
			}
			if strings.Contains(strings.ToLower(err.Error()), "overflow") {
				log.Debug("mic input overflow")
				continue
			}
			log.Error("mic read failed, ending track", zap.Error(err))
			src.End()
			return
		}

		if muted, changed := quiet.observe(m.buf); changed {
			src.SetMuted(muted)
		}

		out.Reset()
		if err := binary.Write(&out, binary.LittleEndian, m.buf); err != nil {
			log.Error("encode pcm frame", zap.Error(err))
			continue
		}
		_, _ = src.Feed().Write(out.Bytes())
	}
}

// silence counts consecutive all-zero buffers. A muted microphone delivers
// zeros rather than stopping.
type silence struct {
	limit int
	run   int
}

func newSilence(sampleRate, framesPerBuffer int) *silence {
	limit := 1
	if framesPerBuffer > 0 {
		limit = int(silentFrameRun.Seconds() * float64(sampleRate) / float64(framesPerBuffer))
	}
	if limit < 1 {
		limit = 1
	}
	return &silence{limit: limit}
}

// observe reports the muted state after samples and whether it just changed.
func (s *silence) observe(samples []int16) (muted, changed bool) {
	if isSilent(samples) {
		s.run++
		return s.run >= s.limit, s.run == s.limit
	}
	was := s.run >= s.limit
	s.run = 0
	return false, was
}

func isSilent(samples []int16) bool {
	for _, v := range samples {
		if v != 0 {
			return false
		}
	}
	return true
}
