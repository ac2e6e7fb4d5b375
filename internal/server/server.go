package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sjawhar/interview-room/internal/blobstore"
	"github.com/sjawhar/interview-room/internal/interview"
	"github.com/sjawhar/interview-room/internal/logging"
	"github.com/sjawhar/interview-room/internal/recording"
	"github.com/sjawhar/interview-room/internal/session"
	"github.com/sjawhar/interview-room/internal/speech"
)

const defaultMaxRecordingBytes = 512 << 20

// SessionHandler runs the websocket session protocol.
type SessionHandler interface {
	Handle(ctx context.Context, conn session.Conn, frame []byte) error
	Disconnected(connID string)
	ActiveSessions() int
}

// InterviewStore is the read side of persistence plus recording links.
type InterviewStore interface {
	ListInterviews(ctx context.Context, limit int) ([]interview.Interview, error)
	GetInterview(ctx context.Context, id int64) (interview.Interview, error)
	ListTurns(ctx context.Context, interviewID int64) ([]interview.Turn, error)
	GetResult(ctx context.Context, interviewID int64) (interview.Result, error)
	SetRecordingURL(ctx context.Context, id int64, url string) error
}

type RecordingEncoder interface {
	Encode(ctx context.Context, data []byte, mimeType string) (recording.Encoded, error)
}

type Deps struct {
	Sessions          SessionHandler
	Interviews        InterviewStore
	Blobs             blobstore.Store
	Encoder           RecordingEncoder
	Speech            speech.Synthesizer
	Warnings          func() []string
	MaxRecordingBytes int64
	Logger            *zap.Logger
}

// Server bundles the HTTP handler with the connection hub it feeds.
type Server struct {
	Hub     *Hub
	handler http.Handler
	log     *zap.Logger
}

func New(deps Deps) (*Server, error) {
	if deps.Sessions == nil {
		return nil, errors.New("server: session handler is required")
	}
	if deps.Interviews == nil {
		return nil, errors.New("server: interview store is required")
	}
	if deps.MaxRecordingBytes <= 0 {
		deps.MaxRecordingBytes = defaultMaxRecordingBytes
	}
	log := logging.OrNop(deps.Logger).Named("server")

	hub := NewHub()
	mux := http.NewServeMux()
	registerWSRoute(mux, hub, deps.Sessions, log)
	registerAPIRoutes(mux, hub, deps, log)

	return &Server{Hub: hub, handler: mux, log: log}, nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve listens on addr until ctx is cancelled, then drains connections.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	s.Hub.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
