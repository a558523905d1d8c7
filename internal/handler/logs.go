package handler

import (
	"encoding/json"
	"net/http"

	"github.com/sakif/inforx/internal/service"
)

// LogHandler exposes the caller's activity log.
type LogHandler struct {
	activity *service.ActivityLogger
}

func NewLogHandler(activity *service.ActivityLogger) *LogHandler {
	return &LogHandler{activity: activity}
}

// HandleList returns the newest entries first.
//
// HTTP: GET /api/logs?limit=
func (h *LogHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	logs, err := h.activity.List(r.Context(), uid, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

type appendLogRequest struct {
	Action   string          `json:"action"`
	Metadata json.RawMessage `json:"metadata"`
}

// HandleAppend records a client-side event such as a page view.
//
// HTTP: POST /api/logs
// BODY: {"action": "page_view", "metadata"?: {...}}
func (h *LogHandler) HandleAppend(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req appendLogRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	entry, err := h.activity.Append(r.Context(), uid, req.Action, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}
