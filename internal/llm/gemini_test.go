package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestConvertGeminiMessagesMapsInterviewerToModel(t *testing.T) {
	systemInstruction, contents := convertGeminiMessages([]Message{
		{Role: RoleSystem, Content: "Ask one question at a time."},
		{Role: RoleAssistant, Content: "What is a goroutine?"},
		{Role: RoleUser, Content: "A lightweight thread."},
	})

	if systemInstruction == nil || len(systemInstruction.Parts) != 1 || systemInstruction.Parts[0].Text != "Ask one question at a time." {
		t.Fatalf("unexpected system instruction: %#v", systemInstruction)
	}
	if len(contents) != 2 {
		t.Fatalf("expected 2 conversation turns, got %d", len(contents))
	}
	if contents[0].Role != "model" || contents[0].Parts[0].Text != "What is a goroutine?" {
		t.Fatalf("unexpected interviewer turn: %#v", contents[0])
	}
	if contents[1].Role != "user" || contents[1].Parts[0].Text != "A lightweight thread." {
		t.Fatalf("unexpected candidate turn: %#v", contents[1])
	}
}

func geminiServer(t *testing.T, text string, body *map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if body != nil {
			_ = json.NewDecoder(r.Body).Decode(body)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"parts": []map[string]any{{"text": text}},
					"role":  "model",
				},
				"finishReason": "STOP",
			}},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestGeminiJSONOutputSetsMimeType(t *testing.T) {
	var body map[string]any
	server := geminiServer(t, `{"overallRating":6}`, &body)

	client, err := newGeminiClient("test-key", "gemini-test", &clientOptions{baseURL: server.URL, jsonOutput: true})
	if err != nil {
		t.Fatalf("newGeminiClient failed: %v", err)
	}
	out, err := client.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "Grade the candidate."},
		{Role: RoleUser, Content: "Transcript follows."},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != `{"overallRating":6}` {
		t.Fatalf("unexpected output %q", out)
	}
	cfg, _ := body["generationConfig"].(map[string]any)
	if cfg == nil || cfg["responseMimeType"] != "application/json" {
		t.Fatalf("expected json mime type in generation config, got %#v", body["generationConfig"])
	}
}

func TestGeminiRequiresCandidateTurn(t *testing.T) {
	client, err := newGeminiClient("test-key", "gemini-test", &clientOptions{baseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("newGeminiClient failed: %v", err)
	}
	_, err = client.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "Ask one question at a time."},
		{Role: RoleAssistant, Content: "Welcome."},
	})
	if err == nil || !strings.Contains(err.Error(), "no user turn") {
		t.Fatalf("expected missing user turn error, got %v", err)
	}
}

func TestGeminiEmptyResult(t *testing.T) {
	server := geminiServer(t, "", nil)

	client, err := newGeminiClient("test-key", "gemini-test", &clientOptions{baseURL: server.URL})
	if err != nil {
		t.Fatalf("newGeminiClient failed: %v", err)
	}
	_, err = client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hello"}})
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}
