// Package speech voices interviewer turns.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	speakapi "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/speak/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/speak"
	"go.uber.org/zap"

	"github.com/sjawhar/interview-room/internal/logging"
)

var ErrEmptyText = errors.New("nothing to synthesize")

// maxTextLength is the provider's per-request character limit.
const maxTextLength = 2000

// Synthesizer turns text into audio bytes and their content type.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, string, error)
}

var initOnce sync.Once

type Deepgram struct {
	speak *speakapi.Client
	model string
	log   *zap.Logger
}

func NewDeepgram(apiKey, model string, logger *zap.Logger) *Deepgram {
	initOnce.Do(func() {
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
	})
	if strings.TrimSpace(model) == "" {
		model = "aura-asteria-en"
	}
	c := client.NewREST(apiKey, &interfaces.ClientOptions{})
	return &Deepgram{
		speak: speakapi.New(c),
		model: model,
		log:   logging.OrNop(logger).Named("speech"),
	}
}

func (d *Deepgram) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	text, err := prepare(text)
	if err != nil {
		return nil, "", err
	}

	var buf interfaces.RawResponse
	res, err := d.speak.ToStream(ctx, text, &interfaces.SpeakOptions{Model: d.model}, &buf)
	if err != nil {
		return nil, "", fmt.Errorf("deepgram speak: %w", err)
	}

	contentType := "audio/mpeg"
	if res != nil && res.ContextType != "" {
		contentType = res.ContextType
	}
	d.log.Debug("synthesized speech", zap.Int("chars", len(text)), zap.Int("bytes", buf.Len()))
	return buf.Bytes(), contentType, nil
}

// prepare trims text and cuts it at a word boundary under the provider limit.
func prepare(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	if len(text) <= maxTextLength {
		return text, nil
	}
	cut := text[:maxTextLength]
	if i := strings.LastIndexAny(cut, " \n\t"); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut), nil
}
