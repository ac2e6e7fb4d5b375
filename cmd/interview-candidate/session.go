package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sjawhar/interview-room/internal/candidate"
	"github.com/sjawhar/interview-room/internal/capture"
	"github.com/sjawhar/interview-room/internal/capture/portaudio"
	"github.com/sjawhar/interview-room/internal/client"
	"github.com/sjawhar/interview-room/internal/config"
	"github.com/sjawhar/interview-room/internal/interview"
	"github.com/sjawhar/interview-room/internal/logging"
	"github.com/sjawhar/interview-room/internal/protocol"
	"github.com/sjawhar/interview-room/internal/recording"
)

type command int

const (
	cmdSay command = iota
	cmdPause
	cmdResume
	cmdMute
	cmdVideo
	cmdReconnect
	cmdEnd
	cmdUnknown
)

func parseCommand(line string) (command, string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return cmdSay, line
	}
	switch strings.ToLower(line) {
	case "/pause":
		return cmdPause, ""
	case "/resume":
		return cmdResume, ""
	case "/mute":
		return cmdMute, ""
	case "/video":
		return cmdVideo, ""
	case "/reconnect":
		return cmdReconnect, ""
	case "/end", "/quit":
		return cmdEnd, ""
	default:
		return cmdUnknown, line
	}
}

// app is the subset of candidate.App the command loop drives.
type app interface {
	Say(text string) error
	Pause() error
	Resume() error
	ToggleTrack(kind capture.Kind) (bool, error)
	Finish(ctx context.Context) (candidate.Outcome, error)
	Done() <-chan struct{}
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	cfg, warnings, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range warnings {
		logger.Debug(w)
	}

	serverURL := opts.serverURL
	if serverURL == "" {
		serverURL = cfg.Candidate.ServerURL
	}

	terminate, err := portaudio.Init()
	if err != nil {
		return err
	}
	defer terminate()

	p := &printer{out: out}
	media := capture.NewManager(
		portaudio.NewDevice(cfg.Candidate.SampleRateCandidates(), cfg.Candidate.FramesPerBuffer, logger),
		capture.NewPreviewSink(logger),
		capture.Options{
			Logger:   logger,
			OnStatus: func(s capture.Status, reason string) { p.printf("[media %s] %s\n", s, reason) },
		})
	recorder := recording.NewController(recording.PCMFactory{}, recording.Options{
		Logger:   logger,
		OnStatus: func(s recording.Status, reason string) { p.printf("[recording %s] %s\n", s, reason) },
		Stream:   media.Current,
	})

	conn, err := client.Dial(ctx, serverURL, logger)
	if err != nil {
		return err
	}
	api := client.NewAPI(serverURL, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	speaker := newVoice(api, opts.speechDir, logger)
	p.onAssistant = speaker.enqueue

	a := candidate.New(conn, media, recorder, api, candidate.Options{
		Meta: interview.Meta{
			InterviewID:    opts.interviewID,
			JobDescription: opts.jobDesc,
			Skills:         opts.skills,
			InterviewType:  opts.interviewType,
			Difficulty:     opts.difficulty,
		}.Normalize(),
		Logger:    logger,
		OnMessage: p.handle,
		Redial: func(ctx context.Context) (candidate.Session, error) {
			p.printf("Connection lost, reconnecting...\n")
			c, err := client.Dial(ctx, serverURL, logger)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	})
	defer func() { _ = a.Close() }()

	created, err := a.Begin(ctx)
	if err != nil {
		return err
	}
	p.printf("Connected. Interview %d, session %s. Type /end to finish.\n", created.InterviewID, created.SessionID)

	lines := make(chan string)
	go scanLines(in, lines)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		return commandLoop(gctx, a, media, lines, p)
	})
	g.Go(func() error {
		return speaker.run(gctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if ctx.Err() != nil {
		return nil
	}
	detailCtx, cancelDetail := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelDetail()
	detail, err := api.Interview(detailCtx, created.InterviewID)
	if err != nil {
		logger.Warn("fetch interview result failed", zap.Error(err))
		return nil
	}
	if detail.Result != nil {
		p.printResult(*detail.Result)
	}
	return nil
}

func scanLines(in io.Reader, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		lines <- sc.Text()
	}
}

// commandLoop returns nil once the interview ends.
func commandLoop(ctx context.Context, a app, media reconnecter, lines <-chan string, p *printer) error {
	eof := false
	for {
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.Done():
			return candidate.ErrDisconnected
		case l, ok := <-lines:
			if !ok {
				// Closed input ends the interview.
				eof, lines, l = true, nil, "/end"
			}
			line = l
		}

		cmd, text := parseCommand(line)
		var err error
		switch cmd {
		case cmdSay:
			if text == "" {
				continue
			}
			err = a.Say(text)
		case cmdPause:
			err = a.Pause()
		case cmdResume:
			err = a.Resume()
		case cmdMute:
			var on bool
			if on, err = a.ToggleTrack(capture.KindAudio); err == nil {
				p.printf("microphone %s\n", onOff(on))
			}
		case cmdVideo:
			var on bool
			if on, err = a.ToggleTrack(capture.KindVideo); err == nil {
				p.printf("camera %s\n", onOff(on))
			}
		case cmdReconnect:
			if _, err = media.Reconnect(ctx); err == nil {
				p.printf("media reconnected\n")
			}
		case cmdEnd:
			p.printf("Ending interview, generating results...\n")
			outcome, err := a.Finish(ctx)
			if err != nil {
				if eof {
					return err
				}
				p.printf("! %v\n", err)
				continue
			}
			if outcome.RecordingURL != "" {
				p.printf("Recording: %s\n", outcome.RecordingURL)
			}
			p.printf("%s\n", outcome.Message)
			return nil
		case cmdUnknown:
			p.printf("unknown command %s\n", text)
		}
		if err != nil {
			p.printf("! %v\n", err)
		}
	}
}

type reconnecter interface {
	Reconnect(ctx context.Context) (*capture.Stream, error)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

type printer struct {
	mu          sync.Mutex
	out         io.Writer
	onAssistant func(text string)
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *printer) handle(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeAssistantMessage:
		var msg protocol.AssistantMessage
		if env.Into(&msg) == nil {
			p.printf("\nInterviewer: %s\n> ", msg.Text)
			if p.onAssistant != nil {
				p.onAssistant(msg.Text)
			}
		}
	case protocol.TypeTyping:
		var t protocol.Typing
		if env.Into(&t) == nil && t.IsTyping {
			p.printf("(interviewer is typing...)\n")
		}
	case protocol.TypeSessionPaused:
		p.printf("Interview paused. /resume to continue.\n")
	case protocol.TypeSessionResumed:
		p.printf("Interview resumed.\n> ")
	case protocol.TypeSessionAttached:
		var a protocol.SessionAttached
		if env.Into(&a) == nil {
			p.printf("Reconnected to session %s.\n", a.SessionID)
			if a.Paused {
				p.printf("Interview paused. /resume to continue.\n")
			}
			p.printf("> ")
		}
	case protocol.TypeError:
		var e protocol.Error
		if env.Into(&e) == nil {
			p.printf("! %s\n", e.Message)
		}
	}
}

func (p *printer) printResult(r interview.Result) {
	p.printf("\nOverall: %.1f/10", r.OverallRating)
	if r.Proficiency != "" {
		p.printf(" (%s)", r.Proficiency)
	}
	p.printf("\n")
	for _, sr := range r.SkillRatings {
		p.printf("  %s: %.1f/10\n", sr.Skill, sr.Rating)
	}
	if r.Feedback != "" {
		p.printf("\n%s\n", r.Feedback)
	}
}

// voice saves spoken interviewer turns when a directory is configured.
type voice struct {
	api   *client.API
	dir   string
	queue chan string
	log   *zap.Logger
	seq   int
}

func newVoice(api *client.API, dir string, logger *zap.Logger) *voice {
	return &voice{api: api, dir: dir, queue: make(chan string, 16), log: logging.OrNop(logger).Named("voice")}
}

func (v *voice) enqueue(text string) {
	if v.dir == "" {
		return
	}
	select {
	case v.queue <- text:
	default:
		v.log.Warn("speech queue full, skipping turn")
	}
}

func (v *voice) run(ctx context.Context) error {
	if v.dir == "" {
		<-ctx.Done()
		return nil
	}
	if err := os.MkdirAll(v.dir, 0o755); err != nil {
		return fmt.Errorf("speech dir: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-v.queue:
			audio, contentType, err := v.api.Speech(ctx, text)
			if err != nil {
				v.log.Warn("speech unavailable", zap.Error(err))
				continue
			}
			v.seq++
			ext := ".mp3"
			if !strings.Contains(contentType, "mpeg") {
				ext = ".bin"
			}
			path := filepath.Join(v.dir, fmt.Sprintf("turn-%03d%s", v.seq, ext))
			if err := os.WriteFile(path, audio, 0o644); err != nil {
				v.log.Warn("save speech failed", zap.Error(err))
			}
		}
	}
}
