package generate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pavelanni/tutorlab/internal/model"
)

const defaultDurationHours = 10

// Anchors that introduce the course topic in free text. Checked in order;
// the first match wins and the remainder of the sentence becomes the topic.
var topicAnchors = []*regexp.Regexp{
	regexp.MustCompile(`(?i)курса?\s+(?:по|о|об|про)\s+(.+)$`),
	regexp.MustCompile(`(?i)course\s+(?:on|about|in)\s+(.+)$`),
}

// leadingVerbs strips imperative request verbs when no anchor matched.
var leadingVerbs = regexp.MustCompile(`(?i)^\s*(?:пожалуйста|создай(?:те)?|сделай(?:те)?|сгенерируй(?:те)?|хочу|please|create|make|generate|build)[\s,]+`)

// durationRe extracts "5 часов", "5 ч", "8 hours", "8h" style phrases.
// Note \b does not work after Cyrillic letters, hence the explicit
// trailing class.
var (
	durationRe       = regexp.MustCompile(`(?i)(\d+)\s*(?:час(?:а|ов)?|hours?|hrs?|h|ч)(?:[^a-zа-яё]|$)`)
	durationClauseRe = regexp.MustCompile(`(?i)\s*(?:на|за|for|in)?\s*\d+\s*(?:час(?:а|ов)?|hours?|hrs?|h|ч)(?:[^a-zа-яё]*|$)`)
)

var (
	beginnerRe = regexp.MustCompile(`(?i)beginner|novice|начинающ|новичк|с нуля|базов`)
	advancedRe = regexp.MustCompile(`(?i)advanced|expert|продвинут|эксперт|углубл`)
)

var formatKeywords = []struct {
	format model.ContentFormat
	re     *regexp.Regexp
}{
	{model.FormatQuiz, regexp.MustCompile(`(?i)quiz|квиз|тест`)},
	{model.FormatChat, regexp.MustCompile(`(?i)chat|чат|диалог`)},
	{model.FormatAssignment, regexp.MustCompile(`(?i)assignment|задани|домашн`)},
}

// ParseRequest derives a GenerationRequest from free-text user intent.
// Topic comes from a keyword-anchor scan, level from keyword match
// (defaulting to intermediate), duration from numeric+unit extraction
// (defaulting to 10 hours). Requested formats are gated by the caller's
// subscription tier; a free tier always yields text only.
func ParseRequest(input string, tier model.Tier) (model.GenerationRequest, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return model.GenerationRequest{}, fmt.Errorf("%w: empty generation prompt", model.ErrInvalidInput)
	}

	req := model.GenerationRequest{
		Topic:         extractTopic(trimmed),
		Level:         extractLevel(trimmed),
		DurationHours: extractDuration(trimmed),
		Formats:       extractFormats(trimmed, tier),
	}
	return req, nil
}

func extractTopic(input string) string {
	for _, anchor := range topicAnchors {
		if m := anchor.FindStringSubmatch(input); m != nil {
			if topic := cleanTopic(m[1]); topic != "" {
				return topic
			}
		}
	}

	// No anchor: take the whole request minus the verb and the duration
	// clause.
	rest := input
	for {
		stripped := leadingVerbs.ReplaceAllString(rest, "")
		if stripped == rest {
			break
		}
		rest = stripped
	}
	if topic := cleanTopic(rest); topic != "" {
		return topic
	}
	return strings.TrimSpace(input)
}

func cleanTopic(s string) string {
	s = durationClauseRe.ReplaceAllString(s, " ")
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, " .,!?;:«»\"")
}

func extractLevel(input string) model.Level {
	switch {
	case beginnerRe.MatchString(input):
		return model.LevelBeginner
	case advancedRe.MatchString(input):
		return model.LevelAdvanced
	default:
		return model.LevelIntermediate
	}
}

func extractDuration(input string) int {
	m := durationRe.FindStringSubmatch(input)
	if m == nil {
		return defaultDurationHours
	}
	hours, err := strconv.Atoi(m[1])
	if err != nil || hours <= 0 {
		return defaultDurationHours
	}
	return hours
}

func extractFormats(input string, tier model.Tier) []model.ContentFormat {
	requested := map[model.ContentFormat]bool{model.FormatText: true}
	for _, kw := range formatKeywords {
		if kw.re.MatchString(input) {
			requested[kw.format] = true
		}
	}

	var formats []model.ContentFormat
	for _, f := range model.FormatsForTier(tier) {
		if requested[f] {
			formats = append(formats, f)
		}
	}
	return formats
}
