package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sjawhar/interview-room/internal/interview"
	"github.com/sjawhar/interview-room/internal/speech"
	"github.com/sjawhar/interview-room/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func registerAPIRoutes(mux *http.ServeMux, hub *Hub, deps Deps, log *zap.Logger) {
	store := deps.Interviews

	mux.HandleFunc("GET /api/interviews", func(w http.ResponseWriter, r *http.Request) {
		limit := defaultListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeJSONError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = min(n, maxListLimit)
		}

		list, err := store.ListInterviews(r.Context(), limit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list interviews: %v", err))
			return
		}
		if list == nil {
			list = []interview.Interview{}
		}
		writeJSON(w, http.StatusOK, list)
	})

	mux.HandleFunc("GET /api/interviews/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := interviewID(w, r)
		if !ok {
			return
		}

		iv, err := store.GetInterview(r.Context(), id)
		if err != nil {
			writeStoreError(w, "get interview", err)
			return
		}
		turns, err := store.ListTurns(r.Context(), id)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list turns: %v", err))
			return
		}

		body := map[string]any{"interview": iv, "turns": turns}
		result, err := store.GetResult(r.Context(), id)
		switch {
		case err == nil:
			body["result"] = result
		case !errors.Is(err, storage.ErrNotFound):
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get result: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, body)
	})

	mux.HandleFunc("POST /api/interviews/{id}/recording", func(w http.ResponseWriter, r *http.Request) {
		if deps.Blobs == nil || deps.Encoder == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "recording storage is not configured")
			return
		}
		id, ok := interviewID(w, r)
		if !ok {
			return
		}
		if _, err := store.GetInterview(r.Context(), id); err != nil {
			writeStoreError(w, "get interview", err)
			return
		}

		contentType := strings.TrimSpace(r.Header.Get("Content-Type"))
		if contentType == "" {
			writeJSONError(w, http.StatusBadRequest, "missing content type")
			return
		}
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, deps.MaxRecordingBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "recording too large")
				return
			}
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("read recording: %v", err))
			return
		}
		if len(data) == 0 {
			writeJSONError(w, http.StatusBadRequest, "empty recording")
			return
		}

		encoded, err := deps.Encoder.Encode(r.Context(), data, contentType)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("encode recording: %v", err))
			return
		}
		key := fmt.Sprintf("interview-%d%s", id, encoded.Extension)
		url, err := deps.Blobs.Upload(r.Context(), encoded.Data, key, encoded.ContentType)
		if err != nil {
			log.Error("recording upload failed", zap.Int64("interview_id", id), zap.Error(err))
			writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("upload recording: %v", err))
			return
		}
		if err := store.SetRecordingURL(r.Context(), id, url); err != nil {
			writeStoreError(w, "store recording url", err)
			return
		}

		log.Info("recording stored",
			zap.Int64("interview_id", id),
			zap.String("content_type", encoded.ContentType),
			zap.Int("bytes", len(encoded.Data)),
		)
		writeJSON(w, http.StatusOK, map[string]any{
			"url":         url,
			"contentType": encoded.ContentType,
			"bytes":       len(encoded.Data),
		})
	})

	mux.HandleFunc("POST /api/speech", func(w http.ResponseWriter, r *http.Request) {
		if deps.Speech == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "speech synthesis is not configured")
			return
		}
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		audio, contentType, err := deps.Speech.Synthesize(r.Context(), req.Text)
		if err != nil {
			if errors.Is(err, speech.ErrEmptyText) {
				writeJSONError(w, http.StatusBadRequest, "text is required")
				return
			}
			log.Warn("speech synthesis failed", zap.Error(err))
			writeJSONError(w, http.StatusBadGateway, "speech synthesis failed")
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(audio)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		var warnings []string
		if deps.Warnings != nil {
			warnings = deps.Warnings()
		}
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"activeSessions": deps.Sessions.ActiveSessions(),
			"connections":    hub.Len(),
			"speech":         deps.Speech != nil,
			"warnings":       warnings,
		})
	})
}

func interviewID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid interview id")
		return 0, false
	}
	return id, true
}

func writeStoreError(w http.ResponseWriter, what string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, storage.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeJSONError(w, status, fmt.Sprintf("%s: %v", what, err))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
