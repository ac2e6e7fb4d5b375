package capture

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sjawhar/interview-room/internal/logging"
)

// Device hands out media streams that satisfy the constraints.
type Device interface {
	GetUserMedia(ctx context.Context, c Constraints) (*Stream, error)
}

// Sink renders the current stream. At most one stream is attached.
type Sink interface {
	Attach(s *Stream)
	Source() *Stream
	Detach()
}

// PreviewSink is the terminal stand-in for a video element: it remembers
// the attached stream and logs changes.
type PreviewSink struct {
	log *zap.Logger

	mu      sync.Mutex
	current *Stream
}

func NewPreviewSink(logger *zap.Logger) *PreviewSink {
	return &PreviewSink{log: logging.OrNop(logger)}
}

func (p *PreviewSink) Attach(s *Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = s
	if s == nil {
		return
	}

	fields := []zap.Field{zap.String("stream", s.ID())}
	for _, t := range s.Tracks() {
		fields = append(fields, zap.String(string(t.Kind()), t.Label()))
	}
	p.log.Info("preview attached", fields...)
}

func (p *PreviewSink) Source() *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *PreviewSink) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.log.Info("preview detached", zap.String("stream", p.current.ID()))
	}
	p.current = nil
}
