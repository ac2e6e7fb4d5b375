package recording

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sjawhar/interview-room/internal/logging"
)

const (
	pcmChannels = 1
	pcmBitDepth = 16
)

var ErrEmptyRecording = errors.New("empty recording")

// Encoded is an artifact ready for upload.
type Encoded struct {
	Data        []byte
	ContentType string
	Extension   string
}

// Encoder compresses raw PCM artifacts. Tool paths left empty are skipped.
type Encoder struct {
	FFmpeg string
	Lame   string

	log *zap.Logger
}

// NewEncoder looks up ffmpeg and lame on PATH.
func NewEncoder(logger *zap.Logger) *Encoder {
	e := &Encoder{log: logging.OrNop(logger)}
	if p, err := exec.LookPath("ffmpeg"); err == nil {
		e.FFmpeg = p
	}
	if p, err := exec.LookPath("lame"); err == nil {
		e.Lame = p
	}
	return e
}

// Encode turns L16 recordings into mp3 (ffmpeg, then lame) or falls back to
// WAV. Other containers pass through unchanged.
func (e *Encoder) Encode(ctx context.Context, data []byte, mimeType string) (Encoded, error) {
	if len(data) == 0 {
		return Encoded{}, ErrEmptyRecording
	}
	if !strings.HasPrefix(mimeType, pcmMimePrefix) {
		return Encoded{Data: data, ContentType: baseType(mimeType), Extension: extensionFor(mimeType)}, nil
	}
	log := logging.OrNop(e.log)
	sampleRate := sampleRateOf(mimeType)

	if e.FFmpeg != "" || e.Lame != "" {
		out, err := e.encodeMP3(ctx, data, sampleRate)
		if err == nil {
			return Encoded{Data: out, ContentType: "audio/mpeg", Extension: ".mp3"}, nil
		}
		log.Warn("mp3 encode failed, falling back to wav", zap.Error(err))
	}

	header, err := wavHeader(len(data), sampleRate, pcmChannels, pcmBitDepth)
	if err != nil {
		return Encoded{}, fmt.Errorf("build wav header: %w", err)
	}
	return Encoded{Data: append(header, data...), ContentType: "audio/wav", Extension: ".wav"}, nil
}

func (e *Encoder) encodeMP3(ctx context.Context, pcm []byte, sampleRate int) ([]byte, error) {
	dir, err := os.MkdirTemp("", "interview-recording-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	rawPath := filepath.Join(dir, "recording.pcm")
	mp3Path := filepath.Join(dir, "recording.mp3")
	if err := os.WriteFile(rawPath, pcm, 0o644); err != nil {
		return nil, fmt.Errorf("write raw pcm: %w", err)
	}

	var runErr error
	if e.FFmpeg != "" {
		runErr = exec.CommandContext(ctx, e.FFmpeg,
			"-y",
			"-f", "s16le",
			"-ar", strconv.Itoa(sampleRate),
			"-ac", "1",
			"-i", rawPath,
			mp3Path,
		).Run()
	}
	if (e.FFmpeg == "" || runErr != nil) && e.Lame != "" {
		khz := strconv.FormatFloat(float64(sampleRate)/1000.0, 'f', -1, 64)
		runErr = exec.CommandContext(ctx, e.Lame,
			"-r",
			"-s", khz,
			"--bitwidth", "16",
			"-m", "m",
			rawPath,
			mp3Path,
		).Run()
	}
	if runErr != nil {
		return nil, runErr
	}
	return os.ReadFile(mp3Path)
}

func sampleRateOf(mimeType string) int {
	for _, param := range strings.Split(mimeType, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if ok && key == "rate" {
			if rate, err := strconv.Atoi(value); err == nil && rate > 0 {
				return rate
			}
		}
	}
	return 16000
}

func baseType(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.TrimSpace(base)
}

func extensionFor(mimeType string) string {
	switch baseType(mimeType) {
	case "video/webm", "audio/webm":
		return ".webm"
	case "video/mp4":
		return ".mp4"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav":
		return ".wav"
	default:
		return ".bin"
	}
}

func wavHeader(dataSize, sampleRate, channels, bitDepth int) ([]byte, error) {
	byteRate := sampleRate * channels * bitDepth / 8
	blockAlign := channels * bitDepth / 8

	buf := bytes.NewBuffer(make([]byte, 0, 44))
	fields := []any{
		[4]byte{'R', 'I', 'F', 'F'},
		uint32(36 + dataSize),
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16),
		uint16(1),
		uint16(channels),
		uint32(sampleRate),
		uint32(byteRate),
		uint16(blockAlign),
		uint16(bitDepth),
		[4]byte{'d', 'a', 't', 'a'},
		uint32(dataSize),
	}
	for _, f := range fields {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
