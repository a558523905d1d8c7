// Package tts converts text to speech through the ElevenLabs REST API.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MaxTextLength is the longest text accepted in one request, in characters.
const MaxTextLength = 5000

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("tts: elevenlabs api key not configured")

// Synthesizer produces audio/mpeg bytes for a text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// ElevenLabs is a Synthesizer bound to one voice and model.
type ElevenLabs struct {
	baseURL    string
	apiKey     string
	voiceID    string
	model      string
	settings   VoiceSettings
	httpClient *http.Client
}

func NewElevenLabs(baseURL, apiKey, voiceID, model string) *ElevenLabs {
	return &ElevenLabs{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		voiceID:    strings.TrimSpace(voiceID),
		model:      strings.TrimSpace(model),
		settings:   VoiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id,omitempty"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if e.apiKey == "" {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(speechRequest{Text: text, ModelID: e.model, VoiceSettings: e.settings})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", e.baseURL, url.PathEscape(e.voiceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("elevenlabs api error: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs read: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("elevenlabs returned no audio")
	}
	return audio, nil
}
