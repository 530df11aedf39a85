// Package conversation maps persisted, loosely-typed turn records back into
// the closed set of strongly-shaped conversation-turn variants.
package conversation

import (
	"github.com/pavelanni/tutorlab/internal/model"
)

// Reconstruct maps a persisted turn into exactly one variant. It is total:
// malformed or partial metadata degrades to PlainText with the raw turn
// content, never an error. A history that cannot be fully re-rendered must
// still be readable instead of blocking the session load.
func Reconstruct(turn model.Turn) model.TurnVariant {
	fallback := model.PlainText{Text: turn.Content}

	meta := turn.Metadata
	if meta == nil {
		return fallback
	}

	typ, _ := meta[model.MetaType].(string)
	switch typ {
	case model.TypeCoursePreview:
		if preview, ok := coursePreviewFrom(meta[model.MetaCourseData]); ok {
			return preview
		}
		return fallback
	case model.TypeGenerating:
		if progress, ok := progressFrom(turn.Content, meta); ok {
			return progress
		}
		return fallback
	default:
		// Anything else, including a persisted course-ready form, is plain
		// text unless the companion course ID is present.
		if courseID, ok := meta[model.MetaCourseID].(string); ok && courseID != "" {
			return model.CourseReady{DisplayText: turn.Content, CourseID: courseID}
		}
		return fallback
	}
}

func coursePreviewFrom(raw any) (model.CoursePreview, bool) {
	data, ok := raw.(map[string]any)
	if !ok {
		return model.CoursePreview{}, false
	}

	topic, ok := data["topic"].(string)
	if !ok || topic == "" {
		return model.CoursePreview{}, false
	}
	level, ok := data["level"].(string)
	if !ok || level == "" {
		return model.CoursePreview{}, false
	}
	duration, ok := intFrom(data["durationHours"])
	if !ok {
		return model.CoursePreview{}, false
	}
	formats, ok := formatsFrom(data["formats"])
	if !ok {
		return model.CoursePreview{}, false
	}

	return model.CoursePreview{
		Topic:         topic,
		Level:         model.Level(level),
		DurationHours: duration,
		Formats:       formats,
	}, true
}

func progressFrom(content string, meta model.Metadata) (model.GenerationProgress, bool) {
	raw, ok := meta[model.MetaSteps].([]any)
	if !ok || len(raw) == 0 {
		return model.GenerationProgress{}, false
	}

	steps := make([]model.Step, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			return model.GenerationProgress{}, false
		}
		label, ok := entry["label"].(string)
		if !ok || label == "" {
			return model.GenerationProgress{}, false
		}
		status, ok := entry["status"].(string)
		if !ok || !validStepStatus(status) {
			return model.GenerationProgress{}, false
		}
		steps = append(steps, model.Step{Label: label, Status: model.StepStatus(status)})
	}

	runID, _ := meta[model.MetaRunID].(string)
	return model.GenerationProgress{Label: content, RunID: runID, Steps: steps}, true
}

func validStepStatus(s string) bool {
	switch model.StepStatus(s) {
	case model.StepPending, model.StepActive, model.StepDone:
		return true
	}
	return false
}

// intFrom accepts the numeric shapes a JSON round-trip or an in-memory bag
// can produce.
func intFrom(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func formatsFrom(v any) ([]model.ContentFormat, bool) {
	switch list := v.(type) {
	case []any:
		if len(list) == 0 {
			return nil, false
		}
		formats := make([]model.ContentFormat, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			formats = append(formats, model.ContentFormat(s))
		}
		return formats, true
	case []string:
		if len(list) == 0 {
			return nil, false
		}
		formats := make([]model.ContentFormat, 0, len(list))
		for _, s := range list {
			formats = append(formats, model.ContentFormat(s))
		}
		return formats, true
	case []model.ContentFormat:
		if len(list) == 0 {
			return nil, false
		}
		return list, true
	}
	return nil, false
}
