package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/tutorlab/internal/model"
)

// handleRunEvents streams a generation run's updates over a WebSocket. The
// stream ends after the terminal ready or failed event; runs do not stop
// when the socket drops.
func (h *Handler) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	userID := model.UserFromContext(r.Context())

	// A foreign run looks the same as a missing one.
	run := h.orch.Lookup(runID)
	if run == nil || !run.OwnedBy(userID) {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("accept run events socket", "run_id", runID, "error", err)
		return
	}
	defer ws.CloseNow()

	ctx := r.Context()
	for ev := range run.Events() {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("encode run event", "run_id", runID, "error", err)
			continue
		}
		if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("run events socket closed by client", "run_id", runID, "user_id", userID)
			} else {
				slog.Warn("write run event", "run_id", runID, "error", err)
			}
			return
		}
	}

	if err := ws.Close(websocket.StatusNormalClosure, "run finished"); err != nil {
		slog.Debug("close run events socket", "run_id", runID, "error", err)
	}
}
