package i18n

import (
	"context"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "StepAnalyzing")
	if got != "Analyzing topic" {
		t.Errorf("T(StepAnalyzing) = %q, want 'Analyzing topic'", got)
	}

	got = T(ctx, "GeneratingLabel")
	if got != "Generating your course" {
		t.Errorf("T(GeneratingLabel) = %q, want 'Generating your course'", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	got := T(ctx, "StepAnalyzing")
	if got != "Анализирую тему" {
		t.Errorf("T(StepAnalyzing) = %q, want 'Анализирую тему'", got)
	}

	got = T(ctx, "SessionDefaultTitle")
	if got != "Новый чат" {
		t.Errorf("T(SessionDefaultTitle) = %q, want 'Новый чат'", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "CourseReadyMessage", map[string]any{"Title": "Go Basics"})
	if got != `Your course "Go Basics" is ready!` {
		t.Errorf("Td(CourseReadyMessage) = %q", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got1 := Tp(ctx, "FormatsAvailable", 1)
	if got1 != "1 format available." {
		t.Errorf("Tp(FormatsAvailable, 1) = %q", got1)
	}

	got4 := Tp(ctx, "FormatsAvailable", 4)
	if got4 != "4 formats available." {
		t.Errorf("Tp(FormatsAvailable, 4) = %q", got4)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}
