package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/tutorlab/internal/adapt"
	"github.com/pavelanni/tutorlab/internal/conversation"
	"github.com/pavelanni/tutorlab/internal/generate"
	"github.com/pavelanni/tutorlab/internal/i18n"
	"github.com/pavelanni/tutorlab/internal/model"
	"github.com/pavelanni/tutorlab/internal/store"
)

// Pinger reports whether the backing generation service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   *store.Store
	orch    *generate.Orchestrator
	adapter *adapt.Adapter
	pinger  Pinger
}

// New creates a new Handler.
func New(s *store.Store, orch *generate.Orchestrator, adapter *adapt.Adapter, pinger Pinger) *Handler {
	return &Handler{store: s, orch: orch, adapter: adapter, pinger: pinger}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.identity)
		r.Post("/sessions", h.handleCreateSession)
		r.Get("/sessions", h.handleListSessions)
		r.Get("/sessions/{sessionID}", h.handleGetSession)
		r.Patch("/sessions/{sessionID}", h.handleRenameSession)
		r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
		r.Post("/sessions/{sessionID}/turns", h.handleAppendTurn)
		r.Post("/sessions/{sessionID}/generate", h.handleGenerate)
		r.Get("/runs/{runID}/events", h.handleRunEvents)
		r.Post("/lessons/adapt", h.handleAdaptLesson)
	})
}

// identity resolves the caller from gateway-set headers. Requests without a
// user ID are rejected; the tier header is optional and defaults to free.
func (h *Handler) identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			respondError(w, http.StatusUnauthorized, "missing user identity")
			return
		}
		ctx := model.ContextWithUser(r.Context(), userID)
		if tier := r.Header.Get("X-Subscription-Tier"); tier != "" {
			ctx = model.ContextWithTier(ctx, model.Tier(tier))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			slog.Warn("health check: LLM unreachable", "error", err)
			status["status"] = "degraded"
			status["llm"] = "unreachable"
		}
	}
	respondJSON(w, code, status)
}

type createSessionRequest struct {
	Title string `json:"title"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = i18n.T(r.Context(), "SessionDefaultTitle")
	}

	session, err := h.store.CreateSession(model.UserFromContext(r.Context()), title)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions(model.UserFromContext(r.Context()))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// turnView pairs a persisted turn with its reconstructed display variant.
type turnView struct {
	model.Turn
	Variant any    `json:"variant"`
	Kind    string `json:"kind"`
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.store.GetSessionWithTurns(
		model.UserFromContext(r.Context()), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}

	views := make([]turnView, 0, len(session.Turns))
	for _, turn := range session.Turns {
		variant := conversation.Reconstruct(turn)
		views = append(views, turnView{
			Turn:    turn,
			Variant: variant,
			Kind:    model.VariantKind(variant),
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"session": session,
		"turns":   views,
	})
}

type renameSessionRequest struct {
	Title string `json:"title"`
}

func (h *Handler) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	var req renameSessionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		respondError(w, http.StatusBadRequest, "title must not be empty")
		return
	}

	session, err := h.store.RenameSession(
		model.UserFromContext(r.Context()), chi.URLParam(r, "sessionID"), strings.TrimSpace(req.Title))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	err := h.store.DeleteSession(model.UserFromContext(r.Context()), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type appendTurnRequest struct {
	ID       string         `json:"id"`
	Role     model.Role     `json:"role"`
	Content  string         `json:"content"`
	Metadata model.Metadata `json:"metadata"`
}

func (h *Handler) handleAppendTurn(w http.ResponseWriter, r *http.Request) {
	var req appendTurnRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Role.Valid() {
		respondError(w, http.StatusBadRequest, "role must be user or assistant")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "content must not be empty")
		return
	}

	ownerID := model.UserFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	// The first user turn names the session after its content.
	if req.Role == model.RoleUser {
		h.maybeAutoTitle(ownerID, sessionID, req.Content)
	}

	turn, err := h.store.AppendTurn(ownerID, sessionID, model.Turn{
		ID:       req.ID,
		Role:     req.Role,
		Content:  req.Content,
		Metadata: req.Metadata,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, turn)
}

func (h *Handler) maybeAutoTitle(ownerID, sessionID, content string) {
	session, err := h.store.GetSessionWithTurns(ownerID, sessionID)
	if err != nil || len(session.Turns) > 0 {
		return
	}
	if _, err := h.store.RenameSession(ownerID, sessionID, truncateTitle(content)); err != nil {
		slog.Warn("auto-title failed", "session_id", sessionID, "error", err)
	}
}

const maxTitleRunes = 48

func truncateTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:maxTitleRunes])) + "…"
}

type generateRequest struct {
	Input string `json:"input"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	ownerID := model.UserFromContext(ctx)
	sessionID := chi.URLParam(r, "sessionID")

	if req.Input != "" {
		h.maybeAutoTitle(ownerID, sessionID, req.Input)
	}

	run, err := h.orch.Start(ctx, ownerID, sessionID, req.Input, model.TierFromContext(ctx))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			respondError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, model.ErrInvalidInput):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			slog.Error("start generation", "error", err)
			respondError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"run_id":     run.ID,
		"session_id": run.SessionID,
	})
}

type adaptRequest struct {
	Lesson model.Lesson        `json:"lesson"`
	Format model.ContentFormat `json:"format"`
}

func (h *Handler) handleAdaptLesson(w http.ResponseWriter, r *http.Request) {
	var req adaptRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	tier := model.TierFromContext(r.Context())
	if !tierAllowsFormat(tier, req.Format) {
		respondError(w, http.StatusForbidden, "format not available on the current subscription tier")
		return
	}

	content, err := h.adapter.Adapt(r.Context(), req.Lesson, req.Format)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidInput):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, model.ErrServiceUnavailable):
			respondError(w, http.StatusBadGateway, "generation service unavailable")
		case errors.Is(err, adapt.ErrAdaptationFailed):
			respondError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			slog.Error("adapt lesson", "lesson_id", req.Lesson.ID, "format", req.Format, "error", err)
			respondError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	respondJSON(w, http.StatusOK, content)
}

func tierAllowsFormat(tier model.Tier, format model.ContentFormat) bool {
	for _, f := range model.FormatsForTier(tier) {
		if f == format {
			return true
		}
	}
	return false
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return errors.New("malformed request body")
	}
	return nil
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("write response", "error", err)
	}
}

func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"error": message})
}

func respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	slog.Error("store error", "error", err)
	respondError(w, http.StatusInternalServerError, "internal error")
}
