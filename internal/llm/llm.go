package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/pavelanni/tutorlab/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// Client wraps an OpenAI-compatible API client. It implements the course
// generation and lesson adaptation interfaces consumed by the generate and
// adapt packages.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Ping verifies the endpoint is reachable before serving traffic.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM endpoint check: %w", err)
	}
	return nil
}

// courseResponse is the JSON shape the model is instructed to return for
// course generation.
type courseResponse struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// GenerateCourse asks the LLM to produce a course for the parsed request
// and returns the created course reference.
func (c *Client) GenerateCourse(ctx context.Context, req model.GenerationRequest, lang string) (*model.GeneratedCourse, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildCoursePrompt(req, lang)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: generate course: %v", model.ErrServiceUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: LLM returned no choices", model.ErrServiceUnavailable)
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM course response", "raw", raw)

	var result courseResponse
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("parse course response: %w (raw: %s)", err, raw)
	}
	if result.Title == "" {
		return nil, fmt.Errorf("course response has no title (raw: %s)", raw)
	}

	return &model.GeneratedCourse{
		ID:          uuid.NewString(),
		Title:       result.Title,
		Description: result.Description,
	}, nil
}

// AdaptLesson asks the LLM to re-render a lesson in the requested format.
// The text format returns raw markup; the structured formats return a JSON
// document that the adapt package validates.
func (c *Client) AdaptLesson(ctx context.Context, lesson model.Lesson, format model.ContentFormat) ([]byte, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildAdaptPrompt(lesson, format)},
		},
		Temperature: 0.3,
	}
	if format != model.FormatText {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%w: adapt lesson: %v", model.ErrServiceUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: LLM returned no choices", model.ErrServiceUnavailable)
	}

	return []byte(resp.Choices[0].Message.Content), nil
}

func buildCoursePrompt(req model.GenerationRequest, lang string) string {
	var sb strings.Builder
	sb.WriteString("You are a course designer for an online learning platform.\n\n")
	sb.WriteString("TOPIC: " + req.Topic + "\n")
	sb.WriteString(fmt.Sprintf("LEVEL: %s\n", req.Level))
	sb.WriteString(fmt.Sprintf("DURATION: %d hours\n", req.DurationHours))
	sb.WriteString(fmt.Sprintf("LANGUAGE: %s\n\n", lang))

	sb.WriteString("INSTRUCTIONS:\n")
	sb.WriteString("- Design a coherent course for the given topic, level, and duration.\n")
	sb.WriteString("- Write the title and description in the given language.\n")
	sb.WriteString("- The title must be concise and specific to the topic.\n")
	sb.WriteString("\nRespond ONLY with a JSON object with these fields:\n")
	sb.WriteString(`{"title": "<course title>", "description": "<one-paragraph description>"}`)
	sb.WriteString("\n")

	return sb.String()
}

func buildAdaptPrompt(lesson model.Lesson, format model.ContentFormat) string {
	var sb strings.Builder
	sb.WriteString("You are re-rendering a lesson for an online learning platform.\n\n")
	sb.WriteString("LESSON TITLE: " + lesson.Title + "\n")
	sb.WriteString(fmt.Sprintf("LESSON TYPE: %s\n\n", lesson.Type))
	sb.WriteString("LESSON CONTENT:\n" + lesson.Content + "\n\n")
	sb.WriteString("INSTRUCTIONS:\n")
	sb.WriteString("- Cover only what the lesson content covers; do not invent new material.\n")

	switch format {
	case model.FormatText:
		sb.WriteString("- Rewrite the lesson as well-structured Markdown with headings and short paragraphs.\n")
		sb.WriteString("- Respond ONLY with the Markdown text.\n")
	case model.FormatQuiz:
		sb.WriteString("- Produce 4 to 8 multiple-choice questions testing the lesson's key points.\n")
		sb.WriteString("- Every question needs 3 or 4 options and exactly one correct answer.\n")
		sb.WriteString("\nRespond ONLY with a JSON object:\n")
		sb.WriteString(`{"questions": [{"question": "...", "options": ["...", "..."], "correctOptionIndex": 0, "explanation": "..."}]}`)
		sb.WriteString("\n")
	case model.FormatChat:
		sb.WriteString("- Seed a tutoring dialogue about the lesson: the assistant opens, asks what the student knows, and outlines where the conversation will go.\n")
		sb.WriteString("\nRespond ONLY with a JSON object:\n")
		sb.WriteString(`{"initialMessages": [{"role": "assistant", "content": "..."}]}`)
		sb.WriteString("\n")
	case model.FormatAssignment:
		sb.WriteString("- Produce a practical assignment with 2 to 4 concrete tasks applying the lesson.\n")
		sb.WriteString("- Estimate each task's time in minutes and rate its difficulty (easy, medium, hard).\n")
		sb.WriteString("\nRespond ONLY with a JSON object:\n")
		sb.WriteString(`{"title": "...", "description": "...", "tasks": [{"title": "...", "description": "...", "difficulty": "medium", "estimatedTimeMinutes": 20}], "submissionTemplate": "...", "gradingCriteria": ["..."]}`)
		sb.WriteString("\n")
	}

	return sb.String()
}
