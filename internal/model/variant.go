package model

// TurnVariant is one of the closed set of strongly-shaped in-memory
// representations a persisted Turn can be reconstructed into. The set is
// sealed by the unexported method.
type TurnVariant interface {
	variantKind() string
}

// PlainText is the fallback variant: the raw turn content rendered as-is.
type PlainText struct {
	Text string `json:"text"`
}

// CoursePreview echoes a parsed generation request back to the user before
// the run starts.
type CoursePreview struct {
	Topic         string          `json:"topic"`
	Level         Level           `json:"level"`
	DurationHours int             `json:"durationHours"`
	Formats       []ContentFormat `json:"formats"`
}

// GenerationProgress shows the step list of an in-flight run.
type GenerationProgress struct {
	Label string `json:"label"`
	RunID string `json:"runId,omitempty"`
	Steps []Step `json:"steps"`
}

// CourseReady announces a completed run and references the created course.
type CourseReady struct {
	DisplayText string `json:"displayText"`
	CourseID    string `json:"generatedCourseId"`
}

func (PlainText) variantKind() string          { return "plain-text" }
func (CoursePreview) variantKind() string      { return TypeCoursePreview }
func (GenerationProgress) variantKind() string { return TypeGenerating }
func (CourseReady) variantKind() string        { return TypeCourseReady }

// VariantKind returns the wire discriminant for a variant.
func VariantKind(v TurnVariant) string {
	if v == nil {
		return ""
	}
	return v.variantKind()
}
