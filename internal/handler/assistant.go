package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/inforx/internal/service"
)

// AssistantHandler serves document interpretation and text-to-speech.
type AssistantHandler struct {
	svc    *service.AssistantService
	logger *slog.Logger
}

func NewAssistantHandler(svc *service.AssistantService, logger *slog.Logger) *AssistantHandler {
	return &AssistantHandler{svc: svc, logger: logger}
}

type interpretRequest struct {
	Input    string `json:"input"`
	Language string `json:"language"`
}

// HandleInterpret explains a medical document in plain language.
//
// HTTP: POST /api/ai
// BODY: {"input": "...", "language"?: "english" | "pidgin"}
func (h *AssistantHandler) HandleInterpret(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req interpretRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := h.svc.Interpret(r.Context(), uid, req.Input, req.Language)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": result})
}

type speakRequest struct {
	Text string `json:"text"`
}

// HandleSpeak returns the text read aloud as MP3.
//
// HTTP: POST /api/elevenlabs
func (h *AssistantHandler) HandleSpeak(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req speakRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	audio, err := h.svc.Speak(r.Context(), uid, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio); err != nil {
		h.logger.Warn("failed to write audio", slog.String("error", err.Error()))
	}
}
