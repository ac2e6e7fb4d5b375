package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/sjawhar/interview-room/internal/interview"
	"github.com/sjawhar/interview-room/internal/llm"
	"github.com/sjawhar/interview-room/internal/logging"
)

var ErrResultGeneration = errors.New("result generation failed")

const maxRating = 10

// Evaluator scores a finished interview.
type Evaluator struct {
	client  llm.Client
	backoff []time.Duration
	clock   clock.Clock
	log     *zap.Logger
}

func NewEvaluator(client llm.Client, clk clock.Clock, logger *zap.Logger) *Evaluator {
	if clk == nil {
		clk = clock.New()
	}
	return &Evaluator{
		client:  client,
		backoff: []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second},
		clock:   clk,
		log:     logging.OrNop(logger).Named("evaluator"),
	}
}

type evaluation struct {
	OverallRating *float64 `json:"overallRating"`
	Proficiency   string   `json:"proficiency"`
	SkillRatings  []struct {
		Skill  string  `json:"skill"`
		Rating float64 `json:"rating"`
	} `json:"skillRatings"`
	Feedback string `json:"feedback"`
}

func (e *Evaluator) GenerateResults(ctx context.Context, meta interview.Meta, turns []interview.Turn) (interview.Result, error) {
	if e.client == nil {
		return interview.Result{}, fmt.Errorf("%w: no model configured", ErrResultGeneration)
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: evaluationInstruction},
		{Role: llm.RoleUser, Content: evaluationPrompt(meta, turns)},
	}

	var lastErr error
	for attempt := range e.backoff {
		if err := ctx.Err(); err != nil {
			return interview.Result{}, fmt.Errorf("%w: %w", ErrResultGeneration, err)
		}

		raw, err := e.client.Complete(ctx, messages)
		if err == nil {
			var result interview.Result
			result, err = parseEvaluation(raw)
			if err == nil {
				result.InterviewID = meta.InterviewID
				result.CreatedAt = e.clock.Now().UTC()
				return result, nil
			}
		}

		lastErr = err
		e.log.Warn("evaluation attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
		if attempt == len(e.backoff)-1 {
			break
		}
		select {
		case <-e.clock.After(e.backoff[attempt]):
		case <-ctx.Done():
			return interview.Result{}, fmt.Errorf("%w: %w", ErrResultGeneration, ctx.Err())
		}
	}
	return interview.Result{}, fmt.Errorf("%w after retries: %w", ErrResultGeneration, lastErr)
}

func parseEvaluation(raw string) (interview.Result, error) {
	var ev evaluation
	if err := json.Unmarshal([]byte(stripFences(raw)), &ev); err != nil {
		return interview.Result{}, fmt.Errorf("parse evaluation json: %w", err)
	}
	if ev.OverallRating == nil {
		return interview.Result{}, errors.New("evaluation is missing overallRating")
	}
	if strings.TrimSpace(ev.Proficiency) == "" && strings.TrimSpace(ev.Feedback) == "" {
		return interview.Result{}, errors.New("evaluation has neither proficiency nor feedback")
	}

	result := interview.Result{
		OverallRating: clamp(*ev.OverallRating),
		Proficiency:   strings.TrimSpace(ev.Proficiency),
		Feedback:      strings.TrimSpace(ev.Feedback),
	}
	for _, sr := range ev.SkillRatings {
		skill := strings.TrimSpace(sr.Skill)
		if skill == "" {
			continue
		}
		result.SkillRatings = append(result.SkillRatings, interview.SkillRating{Skill: skill, Rating: clamp(sr.Rating)})
	}
	return result, nil
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > maxRating:
		return maxRating
	default:
		return v
	}
}

const evaluationInstruction = `You evaluate technical interviews. Reply with strict JSON only, no prose, using this shape:
{"overallRating": <number 0-10>, "proficiency": "<beginner|intermediate|advanced|expert>", "skillRatings": [{"skill": "<name>", "rating": <number 0-10>}], "feedback": "<two to four sentences>"}`

func evaluationPrompt(meta interview.Meta, turns []interview.Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Interview type: %s\nDifficulty: %s\nSkills: %s\n", meta.InterviewType, meta.Difficulty, strings.Join(meta.Skills, ", "))
	if meta.JobDescription != "" {
		fmt.Fprintf(&b, "Job description: %s\n", meta.JobDescription)
	}
	b.WriteString("\nTranscript:\n")
	for _, t := range turns {
		if !t.Valid() {
			continue
		}
		b.WriteString(t.FormatMarkdown())
		b.WriteString("\n")
	}
	return b.String()
}
