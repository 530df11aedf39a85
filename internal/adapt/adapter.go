// Package adapt re-renders a canonical lesson into one of the structurally
// distinct presentation formats, via the external generation service.
package adapt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/pavelanni/tutorlab/internal/model"
)

// ErrAdaptationFailed is returned when the service result cannot be parsed
// into the requested payload shape. The caller falls back to the lesson's
// original content; the adapter never substitutes content on its own.
var ErrAdaptationFailed = errors.New("adaptation failed")

// LessonAdapter is the external generation service as seen by the adapter.
// The raw result is format-specific: markup text for the text format, a
// JSON document for the structured ones.
type LessonAdapter interface {
	AdaptLesson(ctx context.Context, lesson model.Lesson, format model.ContentFormat) ([]byte, error)
}

// Adapter converts lessons into adapted content. Concurrent requests for
// the same (lesson, format) pair share one in-flight service call instead
// of issuing duplicates; nothing is cached once the call completes, so a
// later format switch always recomputes.
type Adapter struct {
	svc   LessonAdapter
	group singleflight.Group
}

func New(svc LessonAdapter) *Adapter {
	return &Adapter{svc: svc}
}

// Adapt produces the lesson's payload for the requested format. It never
// mutates the lesson.
func (a *Adapter) Adapt(ctx context.Context, lesson model.Lesson, format model.ContentFormat) (*model.AdaptedContent, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("%w: unsupported format %q", model.ErrInvalidInput, format)
	}
	if lesson.ID == "" || lesson.Content == "" {
		return nil, fmt.Errorf("%w: lesson is missing id or content", model.ErrInvalidInput)
	}

	key := lesson.ID + "/" + string(format)
	v, err, _ := a.group.Do(key, func() (any, error) {
		return a.adaptOnce(ctx, lesson, format)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.AdaptedContent), nil
}

func (a *Adapter) adaptOnce(ctx context.Context, lesson model.Lesson, format model.ContentFormat) (*model.AdaptedContent, error) {
	raw, err := a.svc.AdaptLesson(ctx, lesson, format)
	if err != nil {
		return nil, fmt.Errorf("adapt lesson %s to %s: %w", lesson.ID, format, err)
	}

	content := &model.AdaptedContent{
		Format: format,
		Meta:   model.AdaptationMeta{AIGenerated: true},
	}

	switch format {
	case model.FormatText:
		text := strings.TrimSpace(string(raw))
		if text == "" {
			return nil, fmt.Errorf("%w: empty text payload for lesson %s", ErrAdaptationFailed, lesson.ID)
		}
		content.Text = text

	case model.FormatQuiz:
		quiz, err := parseQuiz(raw)
		if err != nil {
			return nil, fmt.Errorf("lesson %s: %w", lesson.ID, err)
		}
		content.Quiz = quiz
		content.Meta.EstimatedTimeMinutes = 2 * len(quiz)

	case model.FormatChat:
		seed, err := parseChatSeed(raw)
		if err != nil {
			return nil, fmt.Errorf("lesson %s: %w", lesson.ID, err)
		}
		content.Chat = seed

	case model.FormatAssignment:
		assignment, err := parseAssignment(raw)
		if err != nil {
			return nil, fmt.Errorf("lesson %s: %w", lesson.ID, err)
		}
		content.Assignment = assignment
		total := 0
		for _, task := range assignment.Tasks {
			total += task.EstimatedTimeMinutes
		}
		content.Meta.EstimatedTimeMinutes = total
		content.Meta.Difficulty = uniformDifficulty(assignment.Tasks)
	}

	return content, nil
}

// parseQuiz validates the full quiz shape: a partially well-formed quiz is
// an error, never a partial render.
func parseQuiz(raw []byte) ([]model.QuizQuestion, error) {
	var envelope struct {
		Questions []model.QuizQuestion `json:"questions"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: parse quiz: %v", ErrAdaptationFailed, err)
	}
	if len(envelope.Questions) == 0 {
		return nil, fmt.Errorf("%w: quiz has no questions", ErrAdaptationFailed)
	}
	for i := range envelope.Questions {
		q := &envelope.Questions[i]
		if q.Question == "" {
			return nil, fmt.Errorf("%w: question %d has no text", ErrAdaptationFailed, i+1)
		}
		if len(q.Options) < 2 {
			return nil, fmt.Errorf("%w: question %d needs at least 2 options", ErrAdaptationFailed, i+1)
		}
		if q.CorrectOptionIndex < 0 || q.CorrectOptionIndex >= len(q.Options) {
			return nil, fmt.Errorf("%w: question %d correct index %d out of bounds", ErrAdaptationFailed, i+1, q.CorrectOptionIndex)
		}
		if q.ID == "" {
			q.ID = fmt.Sprintf("q%d", i+1)
		}
	}
	return envelope.Questions, nil
}

func parseChatSeed(raw []byte) (*model.ChatSeed, error) {
	var seed model.ChatSeed
	if err := json.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("%w: parse chat seed: %v", ErrAdaptationFailed, err)
	}
	if len(seed.InitialMessages) == 0 {
		return nil, fmt.Errorf("%w: chat seed has no messages", ErrAdaptationFailed)
	}
	for i, msg := range seed.InitialMessages {
		if !msg.Role.Valid() {
			return nil, fmt.Errorf("%w: message %d has invalid role %q", ErrAdaptationFailed, i+1, msg.Role)
		}
		if msg.Content == "" {
			return nil, fmt.Errorf("%w: message %d is empty", ErrAdaptationFailed, i+1)
		}
	}
	return &seed, nil
}

func parseAssignment(raw []byte) (*model.Assignment, error) {
	var assignment model.Assignment
	if err := json.Unmarshal(raw, &assignment); err != nil {
		return nil, fmt.Errorf("%w: parse assignment: %v", ErrAdaptationFailed, err)
	}
	if assignment.Title == "" || assignment.Description == "" {
		return nil, fmt.Errorf("%w: assignment is missing title or description", ErrAdaptationFailed)
	}
	if len(assignment.Tasks) == 0 {
		return nil, fmt.Errorf("%w: assignment has no tasks", ErrAdaptationFailed)
	}
	for i := range assignment.Tasks {
		task := &assignment.Tasks[i]
		if task.Title == "" || task.Description == "" {
			return nil, fmt.Errorf("%w: task %d is missing title or description", ErrAdaptationFailed, i+1)
		}
		if task.ID == "" {
			task.ID = fmt.Sprintf("t%d", i+1)
		}
	}
	return &assignment, nil
}

func uniformDifficulty(tasks []model.AssignmentTask) string {
	if len(tasks) == 0 {
		return ""
	}
	d := tasks[0].Difficulty
	for _, task := range tasks[1:] {
		if task.Difficulty != d {
			return ""
		}
	}
	return d
}
