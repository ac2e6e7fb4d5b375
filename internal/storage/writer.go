package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sjawhar/interview-room/internal/interview"
)

// TranscriptWriter exports one markdown file per interview.
type TranscriptWriter struct {
	dir string
	mu  sync.Mutex
}

func NewTranscriptWriter(dir string) *TranscriptWriter {
	return &TranscriptWriter{dir: dir}
}

func (w *TranscriptWriter) Path(interviewID int64) string {
	return filepath.Join(w.dir, fmt.Sprintf("interview-%d.md", interviewID))
}

// Write replaces the transcript for iv with its turns and optional result.
func (w *TranscriptWriter) Write(iv interview.Interview, turns []interview.Turn, result *interview.Result) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", w.dir, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Interview %d\n\n", iv.ID)
	fmt.Fprintf(&b, "- Date: %s\n", iv.CreatedAt.Format("2006-01-02 15:04"))
	if iv.Meta.InterviewType != "" {
		fmt.Fprintf(&b, "- Type: %s\n", iv.Meta.InterviewType)
	}
	if iv.Meta.Difficulty != "" {
		fmt.Fprintf(&b, "- Difficulty: %s\n", iv.Meta.Difficulty)
	}
	if len(iv.Meta.Skills) > 0 {
		fmt.Fprintf(&b, "- Skills: %s\n", strings.Join(iv.Meta.Skills, ", "))
	}
	if iv.RecordingURL != "" {
		fmt.Fprintf(&b, "- Recording: %s\n", iv.RecordingURL)
	}

	b.WriteString("\n## Transcript\n\n")
	for _, t := range turns {
		b.WriteString(t.FormatMarkdown())
		b.WriteString("\n\n")
	}

	if result != nil {
		b.WriteString("## Result\n\n")
		fmt.Fprintf(&b, "- Overall: %.1f/10\n", result.OverallRating)
		if result.Proficiency != "" {
			fmt.Fprintf(&b, "- Proficiency: %s\n", result.Proficiency)
		}
		for _, sr := range result.SkillRatings {
			fmt.Fprintf(&b, "- %s: %.1f/10\n", sr.Skill, sr.Rating)
		}
		if result.Feedback != "" {
			fmt.Fprintf(&b, "\n%s\n", result.Feedback)
		}
	}

	path := w.Path(iv.ID)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
