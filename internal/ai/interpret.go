package ai

import (
	"context"
	"fmt"
	"strings"
)

// Section headings the interpretation prompt asks the model to use verbatim.
const (
	SectionExplanation = "📘 Explanation"
	SectionWhatToDo    = "💡 What to Do"
	SectionSeeDoctor   = "⚠️ When to See a Doctor"
)

type Language string

const (
	English Language = "english"
	Pidgin  Language = "pidgin"
)

// ParseLanguage accepts "english" (also the empty default) or "pidgin",
// case-insensitively.
func ParseLanguage(s string) (Language, error) {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case "", English:
		return English, nil
	case Pidgin:
		return Pidgin, nil
	default:
		return "", fmt.Errorf("unsupported language %q", s)
	}
}

func (l Language) describe() string {
	if l == Pidgin {
		return "Nigerian Pidgin English, the way people talk every day"
	}
	return "simple, plain English that a patient with no medical training can follow"
}

// InterpretationPrompt is the system prompt for explaining one document.
func InterpretationPrompt(lang Language) string {
	return fmt.Sprintf(`You are a careful medical assistant helping a patient understand a medical document
(a prescription, lab result, scan report or doctor's note).

Reply in %s.

Structure your answer in exactly three sections, using these headings on their own lines and in this order:

%s
Explain what the document says, including any medical terms, values or medications.

%s
List practical next steps the patient can take, such as how to take medication or lifestyle changes.

%s
List warning signs or situations that need a doctor's attention.

Do not diagnose. Do not invent values that are not in the document. If something is unclear, say so.`,
		lang.describe(), SectionExplanation, SectionWhatToDo, SectionSeeDoctor)
}

// Interpret explains input in lang. The model's text is returned unchanged.
func Interpret(ctx context.Context, gen TextGenerator, input string, lang Language) (string, error) {
	return gen.GenerateText(ctx, InterpretationPrompt(lang), input)
}

// Sections is an interpretation split at its headings. A missing heading
// leaves its field empty.
type Sections struct {
	Explanation     string `json:"explanation"`
	WhatToDo        string `json:"whatToDo"`
	WhenToSeeDoctor string `json:"whenToSeeDoctor"`
}

// SplitSections cuts text at the three headings, in whatever order they
// appear. Markdown decoration around a heading is dropped.
func SplitSections(text string) Sections {
	headings := []string{SectionExplanation, SectionWhatToDo, SectionSeeDoctor}
	starts := make([]int, len(headings))
	for i, h := range headings {
		starts[i] = strings.Index(text, h)
	}

	body := func(i int) string {
		if starts[i] < 0 {
			return ""
		}
		from := starts[i] + len(headings[i])
		to := len(text)
		for j, s := range starts {
			if j != i && s > starts[i] && s < to {
				to = s
			}
		}
		return cleanSection(text[from:to])
	}

	return Sections{
		Explanation:     body(0),
		WhatToDo:        body(1),
		WhenToSeeDoctor: body(2),
	}
}

func cleanSection(s string) string {
	s = strings.TrimLeft(s, ":*# \t")
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "*# \t\n")
	return strings.TrimSpace(s)
}
