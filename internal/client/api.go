package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/sjawhar/interview-room/internal/interview"
	"github.com/sjawhar/interview-room/internal/logging"
	"github.com/sjawhar/interview-room/internal/recording"
)

var ErrEmptyRecording = errors.New("recording is empty")

type apiError struct {
	Error string `json:"error"`
}

// InterviewDetail is the server's view of one interview.
type InterviewDetail struct {
	Interview interview.Interview `json:"interview"`
	Turns     []interview.Turn    `json:"turns"`
	Result    *interview.Result   `json:"result,omitempty"`
}

// API is the REST side of the server.
type API struct {
	http *resty.Client
	log  *zap.Logger
}

func NewAPI(serverURL string, logger *zap.Logger) *API {
	c := resty.New().
		SetBaseURL(serverURL).
		SetTimeout(2 * time.Minute).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == http.StatusBadGateway || r.StatusCode() == http.StatusServiceUnavailable
		})
	return &API{http: c, log: logging.OrNop(logger).Named("api")}
}

// UploadRecording sends the raw artifact; the server encodes and stores it.
func (a *API) UploadRecording(ctx context.Context, interviewID int64, art *recording.Artifact) (string, error) {
	if art == nil || len(art.Data) == 0 {
		return "", ErrEmptyRecording
	}

	var out struct {
		URL string `json:"url"`
	}
	var apiErr apiError
	resp, err := a.http.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(interviewID, 10)).
		SetHeader("Content-Type", art.MimeType).
		SetBody(art.Data).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/interviews/{id}/recording")
	if err != nil {
		return "", fmt.Errorf("upload recording: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("upload recording: %s: %s", resp.Status(), apiErr.Error)
	}

	a.log.Info("recording uploaded",
		zap.Int64("interview_id", interviewID),
		zap.Int("bytes", len(art.Data)),
		zap.Int("chunks", art.Chunks),
		zap.String("url", out.URL),
	)
	return out.URL, nil
}

func (a *API) Interview(ctx context.Context, interviewID int64) (InterviewDetail, error) {
	var out InterviewDetail
	var apiErr apiError
	resp, err := a.http.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(interviewID, 10)).
		SetResult(&out).
		SetError(&apiErr).
		Get("/api/interviews/{id}")
	if err != nil {
		return InterviewDetail{}, fmt.Errorf("get interview: %w", err)
	}
	if resp.IsError() {
		return InterviewDetail{}, fmt.Errorf("get interview: %s: %s", resp.Status(), apiErr.Error)
	}
	return out, nil
}

// Speech fetches spoken audio for text.
func (a *API) Speech(ctx context.Context, text string) ([]byte, string, error) {
	var apiErr apiError
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"text": text}).
		SetError(&apiErr).
		Post("/api/speech")
	if err != nil {
		return nil, "", fmt.Errorf("speech: %w", err)
	}
	if resp.IsError() {
		return nil, "", fmt.Errorf("speech: %s: %s", resp.Status(), apiErr.Error)
	}
	return resp.Body(), resp.Header().Get("Content-Type"), nil
}
