package recording

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/sjawhar/interview-room/internal/capture"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fakeRecorder struct {
	mu         sync.Mutex
	state      RecorderState
	events     Events
	stream     *capture.Stream
	final      []byte
	hangOnStop bool
}

func (r *fakeRecorder) Start(time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = RecorderRecording
	return nil
}

func (r *fakeRecorder) Stop() {
	r.mu.Lock()
	if r.hangOnStop {
		r.mu.Unlock()
		return
	}
	r.state = RecorderInactive
	final := r.final
	r.mu.Unlock()

	if len(final) > 0 {
		r.events.OnData(final)
	}
	r.events.OnStop()
}

func (r *fakeRecorder) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = RecorderPaused
}

func (r *fakeRecorder) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = RecorderRecording
}

func (r *fakeRecorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *fakeRecorder) MimeType() string { return "video/webm" }

func (r *fakeRecorder) emit(chunk []byte) { r.events.OnData(chunk) }

// crash stops the recorder without anyone asking it to.
func (r *fakeRecorder) crash() {
	r.mu.Lock()
	r.state = RecorderInactive
	r.mu.Unlock()
	r.events.OnStop()
}

// die goes inactive without firing any event.
func (r *fakeRecorder) die() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = RecorderInactive
}

type fakeFactory struct {
	mu         sync.Mutex
	supported  func(string) bool
	recs       []*fakeRecorder
	final      []byte
	hangOnStop bool
	failNew    bool
}

func (f *fakeFactory) IsTypeSupported(mime string) bool {
	if f.supported == nil {
		return mime == "video/webm"
	}
	return f.supported(mime)
}

func (f *fakeFactory) New(stream *capture.Stream, mime string, events Events) (Recorder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNew {
		return nil, errors.New("encoder busy")
	}
	rec := &fakeRecorder{state: RecorderInactive, events: events, stream: stream, final: f.final, hangOnStop: f.hangOnStop}
	f.recs = append(f.recs, rec)
	return rec, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recs)
}

func (f *fakeFactory) last() *fakeRecorder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recs[len(f.recs)-1]
}

func (f *fakeFactory) set(fn func(f *fakeFactory)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func testStream() *capture.Stream {
	audio := capture.NewSource(capture.KindAudio, "mic", capture.Settings{SampleRate: 16000, Channels: 1}, nil)
	video := capture.NewSource(capture.KindVideo, "cam", capture.Settings{}, nil)
	return capture.NewStream(audio.NewTrack(), video.NewTrack())
}

type statusLog struct {
	mu   sync.Mutex
	last Status
}

func (l *statusLog) record(s Status, _ string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last = s
}

func (l *statusLog) get() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

func newTestController(f RecorderFactory, mock *clock.Mock, log *statusLog) *Controller {
	opts := Options{Clock: mock}
	if log != nil {
		opts.OnStatus = log.record
	}
	return NewController(f, opts)
}

func TestStartValidation(t *testing.T) {
	c := newTestController(&fakeFactory{}, clock.NewMock(), nil)
	if err := c.Start(nil); !errors.Is(err, ErrNoStream) {
		t.Fatalf("expected ErrNoStream for nil stream, got %v", err)
	}

	unsupported := newTestController(&fakeFactory{supported: func(string) bool { return false }}, clock.NewMock(), nil)
	if err := unsupported.Start(testStream()); !errors.Is(err, ErrNoSupportedFormat) {
		t.Fatalf("expected ErrNoSupportedFormat, got %v", err)
	}

	if err := c.Start(testStream()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Close()
	if err := c.Start(testStream()); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}
}

func TestSelectFormatFollowsPreferenceOrder(t *testing.T) {
	f := &fakeFactory{supported: func(m string) bool { return m == "video/mp4" || m == "video/webm" }}
	got, err := SelectFormat(f, DefaultPreferences())
	if err != nil || got != "video/webm" {
		t.Fatalf("expected video/webm, got %q (%v)", got, err)
	}
}

func TestStopReturnsOrderedConcatenation(t *testing.T) {
	f := &fakeFactory{final: []byte("!")}
	c := newTestController(f, clock.NewMock(), nil)

	if err := c.Start(testStream()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec := f.last()
	rec.emit([]byte("a"))
	rec.emit([]byte("b"))
	rec.emit(nil)
	rec.emit([]byte("c"))

	art, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if art == nil || string(art.Data) != "abc!" || art.Chunks != 4 {
		t.Fatalf("unexpected artifact: %+v", art)
	}
	if art.MimeType != "video/webm" {
		t.Fatalf("unexpected mime type %q", art.MimeType)
	}
	if c.State() != StateInactive {
		t.Fatalf("expected inactive after stop, got %s", c.State())
	}
}

func TestStopTimeoutKeepsCollectedChunks(t *testing.T) {
	f := &fakeFactory{hangOnStop: true}
	mock := clock.NewMock()
	c := newTestController(f, mock, nil)

	if err := c.Start(testStream()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.last().emit([]byte("one"))
	f.last().emit([]byte("two"))

	type result struct {
		art *Artifact
		err error
	}
	done := make(chan result, 1)
	go func() {
		art, err := c.Stop(context.Background())
		done <- result{art, err}
	}()

	var res result
	waitFor(t, "stop timeout", func() bool {
		mock.Add(time.Second)
		select {
		case res = <-done:
			return true
		default:
			return false
		}
	})
	if res.err != nil || res.art == nil || string(res.art.Data) != "onetwo" {
		t.Fatalf("expected chunks to survive the timeout, got %+v (%v)", res.art, res.err)
	}
}

func TestStopWithoutChunksReturnsNil(t *testing.T) {
	c := newTestController(&fakeFactory{}, clock.NewMock(), nil)
	if err := c.Start(testStream()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	art, err := c.Stop(context.Background())
	if err != nil || art != nil {
		t.Fatalf("expected nil artifact, got %+v (%v)", art, err)
	}
}

func TestUnexpectedStopRestartsRecorder(t *testing.T) {
	f := &fakeFactory{}
	mock := clock.NewMock()
	log := &statusLog{}
	c := newTestController(f, mock, log)

	if err := c.Start(testStream()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	first := f.last()
	first.emit([]byte("a"))
	first.crash()
	if log.get() != StatusRecovering {
		t.Fatalf("expected recovering status, got %q", log.get())
	}

	mock.Add(500 * time.Millisecond)
	waitFor(t, "restarted recorder", func() bool { return f.count() == 2 && f.last().State() == RecorderRecording })

	second := f.last()
	first.emit([]byte("stale"))
	second.emit([]byte("b"))
	if log.get() != StatusOK {
		t.Fatalf("expected ok after a fresh chunk, got %q", log.get())
	}

	art, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if string(art.Data) != "ab" {
		t.Fatalf("expected one continuous sequence, got %q", art.Data)
	}
}

func TestRestartExhaustionReportsFailed(t *testing.T) {
	f := &fakeFactory{}
	mock := clock.NewMock()
	log := &statusLog{}
	c := newTestController(f, mock, log)
	defer c.Close()

	if err := c.Start(testStream()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.last().emit([]byte("kept"))
	f.set(func(f *fakeFactory) { f.failNew = true })
	f.last().crash()

	waitFor(t, "failed status", func() bool {
		mock.Add(500 * time.Millisecond)
		return log.get() == StatusFailed
	})
	if c.Collected() != 1 {
		t.Fatalf("expected collected chunks to survive, got %d", c.Collected())
	}
}

func TestLivenessRestartsSilentlyDeadRecorder(t *testing.T) {
	f := &fakeFactory{}
	mock := clock.NewMock()
	c := newTestController(f, mock, nil)
	defer c.Close()

	if err := c.Start(testStream()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.last().die()

	waitFor(t, "liveness restart", func() bool {
		mock.Add(time.Second)
		return f.count() == 2
	})
}

func TestPauseAndResume(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(f, clock.NewMock(), nil)
	defer c.Close()

	if err := c.Start(testStream()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Pause()
	if c.State() != StatePaused || f.last().State() != RecorderPaused {
		t.Fatal("expected controller and recorder paused")
	}
	if c.CheckLiveness() {
		t.Fatal("a paused recorder is not a liveness fault")
	}
	c.Resume()
	if c.State() != StateRecording || f.last().State() != RecorderRecording {
		t.Fatal("expected controller and recorder recording")
	}
}

func TestRecordingUsesProtectedClone(t *testing.T) {
	f := &fakeFactory{}
	c := newTestController(f, clock.NewMock(), nil)
	stream := testStream()

	if err := c.Start(stream); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	recorded := f.last().stream
	if recorded == stream || !recorded.Protected() {
		t.Fatal("expected the recorder to receive a protected clone")
	}

	if err := stream.Stop(); err != nil {
		t.Fatalf("owner stop: %v", err)
	}
	if len(recorded.LiveTracks()) != 2 {
		t.Fatal("recording clone must survive the owner stopping")
	}

	if _, err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if len(recorded.LiveTracks()) != 0 {
		t.Fatal("expected stop to release the clone")
	}
}

func TestPCMRecorderSlicesFeed(t *testing.T) {
	mock := clock.NewMock()
	c := NewController(PCMFactory{Clock: mock}, Options{Clock: mock})
	stream := testStream()
	feed := stream.TracksOf(capture.KindAudio)[0].Source().Feed()

	if err := c.Start(stream); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if c.MimeType() != "audio/L16;rate=16000;channels=1" {
		t.Fatalf("unexpected mime type %q", c.MimeType())
	}

	_, _ = feed.Write([]byte{1, 2})
	_, _ = feed.Write([]byte{3, 4})
	waitFor(t, "first slice", func() bool {
		mock.Add(time.Second)
		return c.Collected() >= 1
	})
	_, _ = feed.Write([]byte{5, 6})

	art, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if art == nil || !bytes.Equal(art.Data, []byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("unexpected pcm artifact: %+v", art)
	}
}

func TestRestartFollowsReplacementStream(t *testing.T) {
	mock := clock.NewMock()
	log := &statusLog{}
	audioOnly := func() *capture.Stream {
		src := capture.NewSource(capture.KindAudio, "mic", capture.Settings{SampleRate: 16000, Channels: 1}, nil)
		return capture.NewStream(src.NewTrack())
	}
	feedOf := func(s *capture.Stream) *capture.Feed { return s.TracksOf(capture.KindAudio)[0].Source().Feed() }

	first := audioOnly()
	var mu sync.Mutex
	current := first
	c := NewController(PCMFactory{Clock: mock}, Options{
		Clock:    mock,
		OnStatus: log.record,
		Stream: func() *capture.Stream {
			mu.Lock()
			defer mu.Unlock()
			return current
		},
	})
	defer c.Close()

	if err := c.Start(first); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	_, _ = feedOf(first).Write([]byte{1, 2})
	waitFor(t, "first slice", func() bool {
		mock.Add(time.Second)
		return c.Collected() == 1
	})

	// The device goes away and capture installs a replacement.
	replacement := audioOnly()
	mu.Lock()
	current = replacement
	mu.Unlock()
	first.TracksOf(capture.KindAudio)[0].Source().End()
	waitFor(t, "recovering status", func() bool { return log.get() == StatusRecovering })

	waitFor(t, "slice from the replacement", func() bool {
		_, _ = feedOf(replacement).Write([]byte{3, 4})
		mock.Add(500 * time.Millisecond)
		return c.Collected() >= 2
	})
	if log.get() != StatusOK {
		t.Fatalf("expected ok once the replacement records, got %q", log.get())
	}

	art, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if art == nil || !bytes.HasPrefix(art.Data, []byte{1, 2, 3, 4}) {
		t.Fatalf("expected one sequence across the swap, got %+v", art)
	}
	if !replacement.HasLive(capture.KindAudio) {
		t.Fatal("stopping the recording must not end the installed stream")
	}
}

func TestPCMFactoryRejectsOtherFormats(t *testing.T) {
	f := PCMFactory{}
	if f.IsTypeSupported("video/webm") {
		t.Fatal("pcm factory must not claim webm")
	}
	if _, err := SelectFormat(f, DefaultPreferences()); err != nil {
		t.Fatalf("expected the L16 fallback to be selected: %v", err)
	}
}
