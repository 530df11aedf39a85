package model

import (
	"context"
	"time"
)

// Role represents a conversation turn role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the known turn roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Tier represents a subscription tier, looked up from the billing subsystem.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// ContentFormat represents one of the presentation formats a lesson can be
// adapted into.
type ContentFormat string

const (
	FormatText       ContentFormat = "text"
	FormatQuiz       ContentFormat = "quiz"
	FormatChat       ContentFormat = "chat"
	FormatAssignment ContentFormat = "assignment"
)

// Valid reports whether the format is one of the known content formats.
func (f ContentFormat) Valid() bool {
	switch f {
	case FormatText, FormatQuiz, FormatChat, FormatAssignment:
		return true
	}
	return false
}

// FormatsForTier returns the content formats a subscription tier may request.
// Unknown tiers are treated as free.
func FormatsForTier(t Tier) []ContentFormat {
	switch t {
	case TierPro:
		return []ContentFormat{FormatText, FormatQuiz, FormatChat}
	case TierEnterprise:
		return []ContentFormat{FormatText, FormatQuiz, FormatChat, FormatAssignment}
	default:
		return []ContentFormat{FormatText}
	}
}

// Level represents a course difficulty level.
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

// Session is a durable conversation container owned by a single user.
type Session struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// LastTurn is filled by ListSessions for preview purposes only.
	LastTurn *Turn `json:"last_turn,omitempty"`
	// Turns is filled by GetSessionWithTurns, ordered by created_at.
	Turns []Turn `json:"turns,omitempty"`
}

// Metadata is the open-ended key/value bag persisted alongside a turn.
// The store does not validate its contents; the conversation package
// reconstructs a strongly-shaped variant from it on load.
type Metadata map[string]any

// Turn is one persisted message within a session.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Metadata keys and type discriminants used by generated turns.
const (
	MetaType          = "type"
	MetaCourseData    = "courseData"
	MetaSteps         = "generationSteps"
	MetaRunID         = "runId"
	MetaCourseID      = "generatedCourseId"
	TypeCoursePreview = "course-preview"
	TypeGenerating    = "generating"
	TypeCourseReady   = "course-ready"
)

// GenerationRequest is an ephemeral request parsed from free-text user
// intent. It is never persisted on its own, only as a course-preview turn's
// companion metadata.
type GenerationRequest struct {
	Topic         string          `json:"topic"`
	Level         Level           `json:"level"`
	DurationHours int             `json:"durationHours"`
	Formats       []ContentFormat `json:"formats"`
}

// StepStatus represents a generation step state. Statuses only move forward:
// pending, then active, then done.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepActive  StepStatus = "active"
	StepDone    StepStatus = "done"
)

// Step is one entry in a generation run's step list.
type Step struct {
	Label  string     `json:"label"`
	Status StepStatus `json:"status"`
}

// GeneratedCourse is the result of the external generation service.
type GeneratedCourse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// LessonType tags the canonical content kind of a lesson.
type LessonType string

const (
	LessonVideo LessonType = "video"
	LessonText  LessonType = "text"
	LessonOther LessonType = "other"
)

// Lesson is canonical lesson content owned by the course-content subsystem.
// Read-only here; adapting it never mutates it.
type Lesson struct {
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Content string     `json:"content"`
	Type    LessonType `json:"type"`
}

// QuizQuestion is one entry of a quiz payload.
type QuizQuestion struct {
	ID                 string   `json:"id"`
	Question           string   `json:"question"`
	Options            []string `json:"options"`
	CorrectOptionIndex int      `json:"correctOptionIndex"`
	Explanation        string   `json:"explanation,omitempty"`
}

// ChatMessage is one seeded message of a chat payload.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatSeed is a conversation seed, not a live session.
type ChatSeed struct {
	InitialMessages []ChatMessage `json:"initialMessages"`
}

// AssignmentTask is one task of an assignment payload.
type AssignmentTask struct {
	ID                   string `json:"id"`
	Title                string `json:"title"`
	Description          string `json:"description"`
	Difficulty           string `json:"difficulty,omitempty"`
	EstimatedTimeMinutes int    `json:"estimatedTimeMinutes,omitempty"`
}

// Assignment is the assignment payload shape.
type Assignment struct {
	Title              string           `json:"title"`
	Description        string           `json:"description"`
	Tasks              []AssignmentTask `json:"tasks"`
	SubmissionTemplate string           `json:"submissionTemplate,omitempty"`
	GradingCriteria    []string         `json:"gradingCriteria,omitempty"`
}

// AdaptationMeta describes how an adapted payload was produced.
type AdaptationMeta struct {
	AIGenerated          bool   `json:"aiGenerated"`
	EstimatedTimeMinutes int    `json:"estimatedTimeMinutes,omitempty"`
	Difficulty           string `json:"difficulty,omitempty"`
}

// AdaptedContent is a format-specific rendering of a canonical lesson.
// Exactly one payload field matching Format is populated. It is never
// persisted; it is recomputed whenever the (lesson, format) pair changes.
type AdaptedContent struct {
	Format     ContentFormat  `json:"format"`
	Text       string         `json:"text,omitempty"`
	Quiz       []QuizQuestion `json:"quiz,omitempty"`
	Chat       *ChatSeed      `json:"chat,omitempty"`
	Assignment *Assignment    `json:"assignment,omitempty"`
	Meta       AdaptationMeta `json:"metadata"`
}

type userCtxKey struct{}

// ContextWithUser stores the authenticated user ID in the request context.
func ContextWithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userCtxKey{}, userID)
}

// UserFromContext retrieves the authenticated user ID from context, or "".
func UserFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userCtxKey{}).(string)
	return id
}

type tierCtxKey struct{}

// ContextWithTier stores the caller's subscription tier in context.
func ContextWithTier(ctx context.Context, t Tier) context.Context {
	return context.WithValue(ctx, tierCtxKey{}, t)
}

// TierFromContext retrieves the subscription tier from context,
// defaulting to free.
func TierFromContext(ctx context.Context) Tier {
	if t, ok := ctx.Value(tierCtxKey{}).(Tier); ok {
		return t
	}
	return TierFree
}
