// Package generate drives the multi-step course generation flow inside a
// conversation session: a cosmetic step schedule joined with the real
// asynchronous call to the generation service.
package generate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/tutorlab/internal/i18n"
	"github.com/pavelanni/tutorlab/internal/model"
	"github.com/pavelanni/tutorlab/internal/store"
)

// ErrGenerationFailed marks the terminal failure of an in-flight run. The
// run is not retried; the user may start a new one.
var ErrGenerationFailed = errors.New("generation failed")

// CourseGenerator is the external generation service as seen by a run.
type CourseGenerator interface {
	GenerateCourse(ctx context.Context, req model.GenerationRequest, lang string) (*model.GeneratedCourse, error)
}

// Timings is the cosmetic schedule of a run. The first two steps advance on
// pure timers; the materials step has a visual floor joined with the real
// service result; the practice step is a short fixed dwell.
type Timings struct {
	Settle        time.Duration
	StepAdvance   time.Duration
	MinWriteDwell time.Duration
	PracticeDwell time.Duration
}

// DefaultTimings returns the production schedule.
func DefaultTimings() Timings {
	return Timings{
		Settle:        800 * time.Millisecond,
		StepAdvance:   1200 * time.Millisecond,
		MinWriteDwell: 1500 * time.Millisecond,
		PracticeDwell: 900 * time.Millisecond,
	}
}

// EventKind discriminates run events.
type EventKind string

const (
	EventPreview  EventKind = "preview"
	EventProgress EventKind = "progress"
	EventReady    EventKind = "ready"
	EventFailed   EventKind = "failed"
)

// Event is one update on a run's stream.
type Event struct {
	Kind     EventKind            `json:"kind"`
	RunID    string               `json:"run_id"`
	Preview  *model.CoursePreview `json:"preview,omitempty"`
	Steps    []model.Step         `json:"steps,omitempty"`
	CourseID string               `json:"course_id,omitempty"`
	Message  string               `json:"message,omitempty"`
}

// Run is one in-flight execution of the generation flow. At most one
// consumer should drain Events; the channel closes when the run ends.
type Run struct {
	ID        string
	SessionID string

	ownerID string
	events  chan Event
}

// Events returns the run's update stream. It is closed after the terminal
// ready or failed event.
func (r *Run) Events() <-chan Event {
	return r.events
}

// OwnedBy reports whether the run was started by the given user.
func (r *Run) OwnedBy(userID string) bool {
	return r.ownerID == userID
}

// The channel is buffered well past the event count of one run; if a reader
// wedges, updates are dropped rather than stalling the run.
func (r *Run) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
	}
}

// Orchestrator starts and tracks generation runs.
type Orchestrator struct {
	store   *store.Store
	gen     CourseGenerator
	timings Timings
	lang    string

	mu   sync.Mutex
	runs map[string]*Run
}

// Retention window for finished runs in the registry, so a surface that
// reloads right after completion can still resolve the run ID.
const runRetention = 5 * time.Minute

// New creates an Orchestrator. lang selects the language of generated turn
// text.
func New(s *store.Store, gen CourseGenerator, timings Timings, lang string) *Orchestrator {
	return &Orchestrator{
		store:   s,
		gen:     gen,
		timings: timings,
		lang:    lang,
		runs:    make(map[string]*Run),
	}
}

// Lookup returns a live (or recently finished) run by ID, or nil.
func (o *Orchestrator) Lookup(runID string) *Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runs[runID]
}

// Start parses the free-text input, persists the user's turn, and launches
// the generation flow in the background. Parse and ownership failures are
// returned synchronously; everything after that is reported on the run's
// event stream. The run is not cancelled if the caller goes away: it
// finishes in the background and its final turn is durable.
func (o *Orchestrator) Start(ctx context.Context, ownerID, sessionID, input string, tier model.Tier) (*Run, error) {
	req, err := ParseRequest(input, tier)
	if err != nil {
		return nil, err
	}

	if _, err := o.store.AppendTurn(ownerID, sessionID, model.Turn{
		Role:    model.RoleUser,
		Content: input,
	}); err != nil {
		return nil, err
	}

	run := &Run{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		ownerID:   ownerID,
		events:    make(chan Event, 32),
	}
	o.mu.Lock()
	o.runs[run.ID] = run
	o.mu.Unlock()

	bgCtx := i18n.WithLocalizer(context.Background(), i18n.NewLocalizer(o.lang))
	go o.runLoop(bgCtx, run, req)

	slog.Info("generation run started",
		"run_id", run.ID, "session_id", sessionID, "topic", req.Topic, "formats", req.Formats)
	return run, nil
}

type genResult struct {
	course *model.GeneratedCourse
	err    error
}

func (o *Orchestrator) runLoop(ctx context.Context, run *Run, req model.GenerationRequest) {
	defer close(run.events)
	defer time.AfterFunc(runRetention, func() {
		o.mu.Lock()
		delete(o.runs, run.ID)
		o.mu.Unlock()
	})

	preview := model.CoursePreview{
		Topic:         req.Topic,
		Level:         req.Level,
		DurationHours: req.DurationHours,
		Formats:       req.Formats,
	}
	o.persistTurn(run, model.Turn{
		Role: model.RoleAssistant,
		Content: i18n.Td(ctx, "PreviewMessage", map[string]any{
			"Topic": req.Topic,
			"Level": string(req.Level),
			"Hours": req.DurationHours,
		}),
		Metadata: model.Metadata{
			model.MetaType:  model.TypeCoursePreview,
			model.MetaRunID: run.ID,
			model.MetaCourseData: map[string]any{
				"topic":         req.Topic,
				"level":         string(req.Level),
				"durationHours": req.DurationHours,
				"formats":       formatStrings(req.Formats),
			},
		},
	})
	run.emit(Event{Kind: EventPreview, RunID: run.ID, Preview: &preview})

	time.Sleep(o.timings.Settle)

	steps := []model.Step{
		{Label: i18n.T(ctx, "StepAnalyzing"), Status: model.StepActive},
		{Label: i18n.T(ctx, "StepCurriculum"), Status: model.StepPending},
		{Label: i18n.T(ctx, "StepMaterials"), Status: model.StepPending},
		{Label: i18n.T(ctx, "StepPractice"), Status: model.StepPending},
	}
	progressID := uuid.NewString()
	progressLabel := i18n.T(ctx, "GeneratingLabel")
	o.persistProgress(run, progressID, progressLabel, steps)
	run.emit(Event{Kind: EventProgress, RunID: run.ID, Steps: cloneSteps(steps)})

	resultCh := make(chan genResult, 1)
	go func() {
		course, err := o.gen.GenerateCourse(ctx, req, o.lang)
		resultCh <- genResult{course: course, err: err}
	}()

	// The first two steps advance on a pure timer, independent of the real
	// call, so the user sees continuous feedback.
	for i := 0; i < 2; i++ {
		time.Sleep(o.timings.StepAdvance)
		steps[i].Status = model.StepDone
		steps[i+1].Status = model.StepActive
		o.persistProgress(run, progressID, progressLabel, steps)
		run.emit(Event{Kind: EventProgress, RunID: run.ID, Steps: cloneSteps(steps)})
	}

	// Barrier join: the materials step completes only after BOTH the real
	// call has resolved AND its visual floor has elapsed, whichever is
	// later. The animation never looks instantaneous and never claims
	// completion before real content exists.
	dwell := time.After(o.timings.MinWriteDwell)
	res := <-resultCh
	<-dwell

	if res.err != nil {
		// Freeze the step list in place; remaining steps are not marked
		// done and the progress turn stays at its last persisted state.
		slog.Error("course generation failed",
			"run_id", run.ID, "session_id", run.SessionID, "error", res.err)
		run.emit(Event{
			Kind:    EventFailed,
			RunID:   run.ID,
			Steps:   cloneSteps(steps),
			Message: i18n.T(ctx, "GenerationFailedMessage"),
		})
		return
	}

	steps[2].Status = model.StepDone
	steps[3].Status = model.StepActive
	o.persistProgress(run, progressID, progressLabel, steps)
	run.emit(Event{Kind: EventProgress, RunID: run.ID, Steps: cloneSteps(steps)})

	time.Sleep(o.timings.PracticeDwell)
	steps[3].Status = model.StepDone
	o.persistProgress(run, progressID, progressLabel, steps)
	run.emit(Event{Kind: EventProgress, RunID: run.ID, Steps: cloneSteps(steps)})

	// Swap the progress turn for the final one.
	if err := o.store.DeleteTurn(run.ownerID, run.SessionID, progressID); err != nil {
		slog.Warn("failed to remove progress turn",
			"run_id", run.ID, "turn_id", progressID, "error", err)
	}
	readyText := i18n.Td(ctx, "CourseReadyMessage", map[string]any{"Title": res.course.Title})
	o.persistTurn(run, model.Turn{
		Role:    model.RoleAssistant,
		Content: readyText,
		Metadata: model.Metadata{
			model.MetaType:     model.TypeCourseReady,
			model.MetaRunID:    run.ID,
			model.MetaCourseID: res.course.ID,
		},
	})
	run.emit(Event{
		Kind:     EventReady,
		RunID:    run.ID,
		CourseID: res.course.ID,
		Message:  readyText,
	})
	slog.Info("generation run complete", "run_id", run.ID, "course_id", res.course.ID)
}

// persistTurn writes a generated turn best-effort. The in-memory event
// stream stays authoritative for the live surface; a failed write costs a
// reload, not the run.
func (o *Orchestrator) persistTurn(run *Run, turn model.Turn) {
	if _, err := o.store.AppendTurn(run.ownerID, run.SessionID, turn); err != nil {
		slog.Warn("failed to persist turn",
			"run_id", run.ID, "session_id", run.SessionID, "error", err)
	}
}

// persistProgress upserts the run's progress turn under a stable turn ID so
// every advance lands on the same record.
func (o *Orchestrator) persistProgress(run *Run, turnID, label string, steps []model.Step) {
	o.persistTurn(run, model.Turn{
		ID:      turnID,
		Role:    model.RoleAssistant,
		Content: label,
		Metadata: model.Metadata{
			model.MetaType:  model.TypeGenerating,
			model.MetaRunID: run.ID,
			model.MetaSteps: stepsMetadata(steps),
		},
	})
}

func stepsMetadata(steps []model.Step) []any {
	out := make([]any, 0, len(steps))
	for _, s := range steps {
		out = append(out, map[string]any{
			"label":  s.Label,
			"status": string(s.Status),
		})
	}
	return out
}

func cloneSteps(steps []model.Step) []model.Step {
	out := make([]model.Step, len(steps))
	copy(out, steps)
	return out
}

func formatStrings(formats []model.ContentFormat) []any {
	out := make([]any, 0, len(formats))
	for _, f := range formats {
		out = append(out, string(f))
	}
	return out
}
