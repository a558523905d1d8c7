// Package ai wraps the LLM providers used for document interpretation and
// record summarization.
package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/sakif/inforx/internal/config"
)

// TextGenerator generates text from a system prompt and a user prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// AppTitle is sent to OpenRouter as X-Title.
const AppTitle = "InfoRx"

// NewGenerator builds the generator selected by cfg.Provider.
func NewGenerator(cfg config.LLMConfig) (TextGenerator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		return NewOpenAICompat(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Referer), nil
	case "gemini":
		return NewGemini(cfg.BaseURL, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
