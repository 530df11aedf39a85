package generate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pavelanni/tutorlab/internal/conversation"
	"github.com/pavelanni/tutorlab/internal/i18n"
	"github.com/pavelanni/tutorlab/internal/model"
	"github.com/pavelanni/tutorlab/internal/store"
)

type fakeGenerator struct {
	delay    time.Duration
	err      error
	course   model.GeneratedCourse
	returned atomic.Bool
	calls    atomic.Int32
}

func (f *fakeGenerator) GenerateCourse(ctx context.Context, req model.GenerationRequest, lang string) (*model.GeneratedCourse, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.returned.Store(true)
	if f.err != nil {
		return nil, f.err
	}
	course := f.course
	if course.ID == "" {
		course = model.GeneratedCourse{ID: "course-1", Title: "Generated: " + req.Topic}
	}
	return &course, nil
}

func testTimings() Timings {
	return Timings{
		Settle:        time.Millisecond,
		StepAdvance:   time.Millisecond,
		MinWriteDwell: time.Millisecond,
		PracticeDwell: time.Millisecond,
	}
}

func newTestOrchestrator(t *testing.T, gen CourseGenerator, timings Timings) (*Orchestrator, *store.Store, model.Session) {
	t.Helper()
	if err := i18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	sess, err := st.CreateSession("owner-1", "chat")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return New(st, gen, timings, "en"), st, sess
}

func collectEvents(t *testing.T, run *Run) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-run.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("run did not finish; got %d events", len(events))
		}
	}
}

func TestRunSuccess(t *testing.T) {
	gen := &fakeGenerator{}
	o, st, sess := newTestOrchestrator(t, gen, testTimings())

	run, err := o.Start(context.Background(), "owner-1", sess.ID, "курс по Python для начинающих на 5 часов", model.TierFree)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	events := collectEvents(t, run)

	if len(events) < 3 {
		t.Fatalf("expected at least preview, progress and ready events, got %d", len(events))
	}
	if events[0].Kind != EventPreview {
		t.Errorf("first event = %q, want preview", events[0].Kind)
	}
	if events[0].Preview == nil || events[0].Preview.Topic != "Python для начинающих" {
		t.Errorf("unexpected preview %+v", events[0].Preview)
	}

	last := events[len(events)-1]
	if last.Kind != EventReady {
		t.Fatalf("last event = %q, want ready", last.Kind)
	}
	if last.CourseID != "course-1" {
		t.Errorf("course ID = %q, want course-1", last.CourseID)
	}

	// Step statuses are monotonic and exactly one step is active in every
	// non-terminal snapshot.
	rank := map[model.StepStatus]int{model.StepPending: 0, model.StepActive: 1, model.StepDone: 2}
	var prev []model.Step
	for _, ev := range events {
		if ev.Kind != EventProgress {
			continue
		}
		if len(ev.Steps) != 4 {
			t.Fatalf("expected 4 steps, got %d", len(ev.Steps))
		}
		active := 0
		done := 0
		for i, s := range ev.Steps {
			if prev != nil && rank[s.Status] < rank[prev[i].Status] {
				t.Errorf("step %d regressed from %q to %q", i, prev[i].Status, s.Status)
			}
			switch s.Status {
			case model.StepActive:
				active++
			case model.StepDone:
				done++
			}
		}
		if done == len(ev.Steps) {
			// Terminal snapshot: all done, none active.
			if active != 0 {
				t.Errorf("terminal snapshot has %d active steps", active)
			}
		} else if active != 1 {
			t.Errorf("expected exactly one active step, got %d in %+v", active, ev.Steps)
		}
		prev = ev.Steps
	}
	if prev == nil {
		t.Fatal("no progress events seen")
	}
	for i, s := range prev {
		if s.Status != model.StepDone {
			t.Errorf("final snapshot step %d = %q, want done", i, s.Status)
		}
	}

	// Persisted history: user turn, preview, course-ready. The progress
	// turn was removed on completion.
	got, err := st.GetSessionWithTurns("owner-1", sess.ID)
	if err != nil {
		t.Fatalf("GetSessionWithTurns: %v", err)
	}
	if len(got.Turns) != 3 {
		t.Fatalf("expected 3 persisted turns, got %d", len(got.Turns))
	}
	if got.Turns[0].Role != model.RoleUser {
		t.Errorf("first turn role = %q, want user", got.Turns[0].Role)
	}
	if _, ok := conversation.Reconstruct(got.Turns[1]).(model.CoursePreview); !ok {
		t.Errorf("second turn should reconstruct to CoursePreview, got %T", conversation.Reconstruct(got.Turns[1]))
	}
	ready, ok := conversation.Reconstruct(got.Turns[2]).(model.CourseReady)
	if !ok {
		t.Fatalf("third turn should reconstruct to CourseReady, got %T", conversation.Reconstruct(got.Turns[2]))
	}
	if ready.CourseID != "course-1" {
		t.Errorf("persisted course ID = %q, want course-1", ready.CourseID)
	}
}

func TestRunFailureFreezesSteps(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("boom")}
	o, st, sess := newTestOrchestrator(t, gen, testTimings())

	run, err := o.Start(context.Background(), "owner-1", sess.ID, "курс по Go", model.TierFree)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	events := collectEvents(t, run)

	last := events[len(events)-1]
	if last.Kind != EventFailed {
		t.Fatalf("last event = %q, want failed", last.Kind)
	}
	// The step list is frozen: the materials step is still active, nothing
	// was silently marked done.
	if last.Steps[2].Status != model.StepActive {
		t.Errorf("materials step = %q, want active (frozen)", last.Steps[2].Status)
	}
	if last.Steps[3].Status != model.StepPending {
		t.Errorf("practice step = %q, want pending (frozen)", last.Steps[3].Status)
	}

	got, err := st.GetSessionWithTurns("owner-1", sess.ID)
	if err != nil {
		t.Fatalf("GetSessionWithTurns: %v", err)
	}
	var progress *model.GenerationProgress
	for _, turn := range got.Turns {
		if p, ok := conversation.Reconstruct(turn).(model.GenerationProgress); ok {
			progress = &p
		}
		if _, ok := conversation.Reconstruct(turn).(model.CourseReady); ok {
			t.Error("failed run must not produce a course-ready turn")
		}
	}
	if progress == nil {
		t.Fatal("progress turn should remain after failure")
	}
	if progress.Steps[2].Status != model.StepActive {
		t.Errorf("persisted materials step = %q, want active", progress.Steps[2].Status)
	}
}

func TestBarrierJoinWaitsForResult(t *testing.T) {
	// Slow service, no visual floor: the materials step must not complete
	// before the real call returns.
	gen := &fakeGenerator{delay: 50 * time.Millisecond}
	o, _, sess := newTestOrchestrator(t, gen, testTimings())

	run, err := o.Start(context.Background(), "owner-1", sess.ID, "курс по Go", model.TierFree)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for ev := range run.Events() {
		if ev.Kind == EventProgress && ev.Steps[2].Status == model.StepDone {
			if !gen.returned.Load() {
				t.Fatal("materials step marked done before the service call resolved")
			}
		}
	}
}

func TestBarrierJoinWaitsForDwell(t *testing.T) {
	// Instant service, long visual floor: ready must not arrive before the
	// floor elapses.
	timings := testTimings()
	timings.MinWriteDwell = 60 * time.Millisecond
	gen := &fakeGenerator{}
	o, _, sess := newTestOrchestrator(t, gen, timings)

	start := time.Now()
	run, err := o.Start(context.Background(), "owner-1", sess.ID, "курс по Go", model.TierFree)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for ev := range run.Events() {
		if ev.Kind == EventReady {
			if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
				t.Errorf("ready after %v, visual floor of 60ms not honored", elapsed)
			}
		}
	}
}

func TestStartInvalidInput(t *testing.T) {
	o, _, sess := newTestOrchestrator(t, &fakeGenerator{}, testTimings())

	if _, err := o.Start(context.Background(), "owner-1", sess.ID, "   ", model.TierFree); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestStartUnknownSession(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &fakeGenerator{}, testTimings())

	if _, err := o.Start(context.Background(), "owner-1", "no-such-session", "курс по Go", model.TierFree); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentRunsAreScoped(t *testing.T) {
	// Two failing runs in one session leave two progress turns, each
	// identifiable by its own run ID.
	gen := &fakeGenerator{err: errors.New("boom")}
	o, st, sess := newTestOrchestrator(t, gen, testTimings())

	run1, err := o.Start(context.Background(), "owner-1", sess.ID, "курс по Go", model.TierFree)
	if err != nil {
		t.Fatalf("Start run1: %v", err)
	}
	run2, err := o.Start(context.Background(), "owner-1", sess.ID, "курс по Rust", model.TierFree)
	if err != nil {
		t.Fatalf("Start run2: %v", err)
	}
	if run1.ID == run2.ID {
		t.Fatal("runs must have distinct IDs")
	}
	collectEvents(t, run1)
	collectEvents(t, run2)

	got, err := st.GetSessionWithTurns("owner-1", sess.ID)
	if err != nil {
		t.Fatalf("GetSessionWithTurns: %v", err)
	}
	runIDs := map[string]bool{}
	for _, turn := range got.Turns {
		if p, ok := conversation.Reconstruct(turn).(model.GenerationProgress); ok {
			runIDs[p.RunID] = true
		}
	}
	if len(runIDs) != 2 {
		t.Errorf("expected 2 distinct progress run IDs, got %v", runIDs)
	}
	if !runIDs[run1.ID] || !runIDs[run2.ID] {
		t.Errorf("progress turns not scoped by run ID: %v", runIDs)
	}
}

func TestLookup(t *testing.T) {
	gen := &fakeGenerator{delay: 30 * time.Millisecond}
	o, _, sess := newTestOrchestrator(t, gen, testTimings())

	run, err := o.Start(context.Background(), "owner-1", sess.ID, "курс по Go", model.TierFree)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := o.Lookup(run.ID); got != run {
		t.Error("Lookup should return the live run")
	}
	if got := o.Lookup("nope"); got != nil {
		t.Error("Lookup of unknown ID should return nil")
	}
	collectEvents(t, run)
}
