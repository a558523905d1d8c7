package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/inforx/internal/service"
)

// SummaryHandler serves the AI medical summaries.
type SummaryHandler struct {
	svc    *service.SummaryService
	logger *slog.Logger
}

func NewSummaryHandler(svc *service.SummaryService, logger *slog.Logger) *SummaryHandler {
	return &SummaryHandler{svc: svc, logger: logger}
}

// HandleGenerate returns the cached summary or builds a new one.
//
// HTTP: POST /api/medical-summaries/generate (alias POST /api/medical-summary/generate)
// BODY: {"recordIds"?: [...], "forceRegenerate"?: bool}
func (h *SummaryHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req service.GenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.svc.Generate(r.Context(), uid, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleLatest returns the newest summary or 404.
//
// HTTP: GET /api/medical-summary/latest
func (h *SummaryHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	summary, err := h.svc.Latest(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleList returns summaries newest first.
//
// HTTP: GET /api/medical-summaries?limit=
func (h *SummaryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	summaries, err := h.svc.List(r.Context(), uid, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summaries": summaries})
}

// HandleSave stores a summary produced by the client.
//
// HTTP: POST /api/medical-summaries
func (h *SummaryHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var in service.SummaryInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	summary, err := h.svc.Save(r.Context(), uid, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

// HandleDelete deletes the summary named by ?id=, or all of them.
//
// HTTP: DELETE /api/medical-summaries[?id=]
func (h *SummaryHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	n, err := h.svc.Delete(r.Context(), uid, trimmed(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Summaries deleted", "deleted": n})
}
