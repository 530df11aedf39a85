package llm

import (
	"strings"
	"testing"

	"github.com/pavelanni/tutorlab/internal/model"
)

func TestBuildCoursePrompt(t *testing.T) {
	req := model.GenerationRequest{
		Topic:         "Python для начинающих",
		Level:         model.LevelBeginner,
		DurationHours: 5,
		Formats:       []model.ContentFormat{model.FormatText, model.FormatQuiz},
	}

	prompt := buildCoursePrompt(req, "ru")

	for _, want := range []string{
		"Python для начинающих",
		"LEVEL: beginner",
		"DURATION: 5 hours",
		"LANGUAGE: ru",
		`"title"`,
		`"description"`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("course prompt missing %q", want)
		}
	}
}

func TestBuildAdaptPrompt(t *testing.T) {
	lesson := model.Lesson{
		ID:      "lesson-1",
		Title:   "Slices and maps",
		Type:    model.LessonText,
		Content: "A slice is a view into an underlying array.",
	}

	tests := []struct {
		format model.ContentFormat
		want   []string
	}{
		{model.FormatText, []string{"Markdown"}},
		{model.FormatQuiz, []string{`"questions"`, `"correctOptionIndex"`}},
		{model.FormatChat, []string{`"initialMessages"`, `"role"`}},
		{model.FormatAssignment, []string{`"tasks"`, `"difficulty"`, `"submissionTemplate"`}},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			prompt := buildAdaptPrompt(lesson, tt.format)
			if !strings.Contains(prompt, lesson.Title) {
				t.Errorf("adapt prompt missing lesson title")
			}
			if !strings.Contains(prompt, lesson.Content) {
				t.Errorf("adapt prompt missing lesson content")
			}
			for _, want := range tt.want {
				if !strings.Contains(prompt, want) {
					t.Errorf("adapt prompt for %s missing %q", tt.format, want)
				}
			}
		})
	}
}
