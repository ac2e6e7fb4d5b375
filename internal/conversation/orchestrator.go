// Package conversation builds the generator payload for the next interviewer
// turn and produces the final evaluation.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sjawhar/interview-room/internal/interview"
	"github.com/sjawhar/interview-room/internal/llm"
	"github.com/sjawhar/interview-room/internal/logging"
)

// FallbackQuestion keeps the interview moving when generation fails.
const FallbackQuestion = "Could you tell me more about your experience with that? Please walk me through a specific example."

const defaultGenerationTimeout = 30 * time.Second

type Orchestrator struct {
	client  llm.Client
	timeout time.Duration
	log     *zap.Logger
}

// NewOrchestrator accepts a nil client; every turn is then the fallback.
func NewOrchestrator(client llm.Client, timeout time.Duration, logger *zap.Logger) *Orchestrator {
	if timeout <= 0 {
		timeout = defaultGenerationTimeout
	}
	return &Orchestrator{
		client:  client,
		timeout: timeout,
		log:     logging.OrNop(logger).Named("orchestrator"),
	}
}

// BuildPayload returns the system instruction followed by every usable turn.
// Turns without content are dropped and logged.
func (o *Orchestrator) BuildPayload(meta interview.Meta, history []interview.Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemInstruction(meta)})

	for i, turn := range history {
		if !turn.Valid() {
			o.log.Warn("dropping unusable turn",
				zap.Int("index", i),
				zap.String("role", string(turn.Role)),
			)
			continue
		}
		role := llm.RoleUser
		if turn.Role == interview.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: strings.TrimSpace(turn.Content)})
	}
	return messages
}

// NextTurn never fails: any generation error yields FallbackQuestion.
func (o *Orchestrator) NextTurn(ctx context.Context, meta interview.Meta, history []interview.Turn) string {
	if o.client == nil {
		return FallbackQuestion
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	text, err := o.client.Complete(ctx, o.BuildPayload(meta, history))
	if err != nil {
		o.log.Warn("generation failed, using fallback question", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return FallbackQuestion
	}
	text = strings.TrimSpace(text)
	if text == "" {
		o.log.Warn("generation returned no text, using fallback question")
		return FallbackQuestion
	}
	return text
}

// OpeningTurn greets the candidate with the interview parameters.
func (o *Orchestrator) OpeningTurn(meta interview.Meta) string {
	kind := meta.InterviewType
	if kind == "" {
		kind = "general"
	}
	skills := "your background"
	if len(meta.Skills) > 0 {
		skills = strings.Join(meta.Skills, ", ")
	}
	difficulty := meta.Difficulty
	if difficulty == "" {
		difficulty = "standard"
	}

	return fmt.Sprintf(
		"Hello, and welcome to your %s interview. Today we will focus on %s at a %s level. "+
			"To start, could you briefly introduce yourself and describe a recent project where you used %s?",
		kind, skills, difficulty, skills,
	)
}

func systemInstruction(meta interview.Meta) string {
	var b strings.Builder
	b.WriteString("You are an experienced interviewer conducting a live interview.\n")
	if meta.JobDescription != "" {
		fmt.Fprintf(&b, "Job description: %s\n", meta.JobDescription)
	}
	if len(meta.Skills) > 0 {
		fmt.Fprintf(&b, "Skills to assess: %s\n", strings.Join(meta.Skills, ", "))
	}
	if meta.InterviewType != "" {
		fmt.Fprintf(&b, "Interview type: %s\n", meta.InterviewType)
	}
	if meta.Difficulty != "" {
		fmt.Fprintf(&b, "Difficulty: %s\n", meta.Difficulty)
	}
	b.WriteString("Ask exactly one question at a time. React briefly to the candidate's last answer, ")
	b.WriteString("then ask the next question. Keep each reply under 80 words and never reveal an evaluation.")
	return b.String()
}
