package main

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sjawhar/interview-room/internal/llm"
)

func echoClient() llm.Client {
	return llm.ClientFunc(func(context.Context, []llm.Message) (string, error) { return "ok", nil })
}

func TestNewModelsLogsGraderFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	calls := 0
	model, grader := newModels("openai/gpt-test", func(opts ...llm.Option) (llm.Client, error) {
		calls++
		if len(opts) > 0 {
			return nil, errors.New("json mode unsupported")
		}
		return echoClient(), nil
	}, zap.New(core))

	if model == nil || grader != nil {
		t.Fatalf("expected a chat model without a grader, got %v and %v", model, grader)
	}
	if calls != 2 {
		t.Fatalf("expected both clients attempted, got %d", calls)
	}
	entries := logs.FilterMessage("grading model unavailable, interviews cannot be scored").All()
	if len(entries) != 1 {
		t.Fatalf("expected the grader failure logged, got %v", logs.All())
	}
	if got := entries[0].ContextMap()["error"]; got != "json mode unsupported" {
		t.Fatalf("expected the build error in the log, got %v", got)
	}
}

func TestNewModelsSkipsGraderWithoutModel(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	calls := 0
	model, grader := newModels("nope/model", func(...llm.Option) (llm.Client, error) {
		calls++
		return nil, errors.New("unknown provider")
	}, zap.New(core))

	if model != nil || grader != nil || calls != 1 {
		t.Fatalf("expected no clients after one attempt, got %v, %v after %d", model, grader, calls)
	}
	if logs.FilterMessage("model unavailable, questions fall back to the default").Len() != 1 {
		t.Fatalf("expected the model failure logged, got %v", logs.All())
	}
}
