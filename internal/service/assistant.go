package service

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sakif/inforx/internal/ai"
	"github.com/sakif/inforx/internal/apperror"
	"github.com/sakif/inforx/internal/tts"
)

// AssistantService covers the single-shot AI features: explaining a
// document and reading text aloud.
type AssistantService struct {
	generator ai.TextGenerator
	speech    tts.Synthesizer
	activity  *ActivityLogger
	logger    *slog.Logger
}

func NewAssistantService(generator ai.TextGenerator, speech tts.Synthesizer, activity *ActivityLogger, logger *slog.Logger) *AssistantService {
	return &AssistantService{generator: generator, speech: speech, activity: activity, logger: logger}
}

// Interpret explains input in the requested language ("english" when
// empty). There is no retry.
func (s *AssistantService) Interpret(ctx context.Context, userID, input, language string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", apperror.ValidationFailed("input", "Input is required")
	}
	lang, err := ai.ParseLanguage(language)
	if err != nil {
		return "", apperror.ValidationFailed("language", "Language must be english or pidgin")
	}

	out, err := ai.Interpret(ctx, s.generator, input, lang)
	if err != nil {
		s.logger.Error("interpretation failed", slog.String("userID", userID), slog.String("error", err.Error()))
		return "", apperror.Upstream("get AI response", err)
	}

	s.activity.Log(ctx, userID, ActionAIInterpret, map[string]any{"language": string(lang), "input_length": len(input)})
	return out, nil
}

// Speak returns audio/mpeg bytes for text.
func (s *AssistantService) Speak(ctx context.Context, userID, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperror.ValidationFailed("text", "Text is required")
	}
	if utf8.RuneCountInString(text) > tts.MaxTextLength {
		return nil, apperror.ValidationFailed("text", "Text must be 5000 characters or less")
	}

	audio, err := s.speech.Synthesize(ctx, text)
	if err != nil {
		s.logger.Error("speech synthesis failed", slog.String("userID", userID), slog.String("error", err.Error()))
		return nil, apperror.Upstream("generate speech", err)
	}

	s.activity.Log(ctx, userID, ActionTextToSpeech, map[string]any{"text_length": utf8.RuneCountInString(text)})
	return audio, nil
}
