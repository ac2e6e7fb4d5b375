package interview

import (
	"strings"
	"time"
)

const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Meta is the interview metadata a session is started with.
type Meta struct {
	InterviewID    int64    `json:"interviewId"`
	JobDescription string   `json:"jobDescription"`
	Skills         []string `json:"skills"`
	InterviewType  string   `json:"interviewType"`
	Difficulty     string   `json:"difficulty"`
}

// Normalize trims fields and drops blank skills.
func (m Meta) Normalize() Meta {
	out := Meta{
		InterviewID:    m.InterviewID,
		JobDescription: strings.TrimSpace(m.JobDescription),
		InterviewType:  strings.TrimSpace(m.InterviewType),
		Difficulty:     strings.TrimSpace(m.Difficulty),
	}
	for _, s := range m.Skills {
		if s = strings.TrimSpace(s); s != "" {
			out.Skills = append(out.Skills, s)
		}
	}
	return out
}

type Interview struct {
	ID           int64      `json:"id"`
	Meta         Meta       `json:"meta"`
	Status       string     `json:"status"`
	RecordingURL string     `json:"recording_url"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type SkillRating struct {
	Skill  string  `json:"skill"`
	Rating float64 `json:"rating"`
}

// Result is the evaluation produced when an interview ends.
type Result struct {
	InterviewID   int64         `json:"interviewId"`
	OverallRating float64       `json:"overallRating"`
	Proficiency   string        `json:"proficiency"`
	SkillRatings  []SkillRating `json:"skillRatings"`
	Feedback      string        `json:"feedback"`
	CreatedAt     time.Time     `json:"createdAt"`
}
