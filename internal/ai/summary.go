package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Literal values of the fallback summary.
const (
	FallbackReview  = "Review required"
	FallbackConsult = "Please consult a healthcare provider"
)

// maxRecordChars bounds how much of one record's text goes into a prompt.
const maxRecordChars = 12000

// ParsedSummary is the JSON object the summary prompt asks for.
type ParsedSummary struct {
	SummaryText          string   `json:"summary_text"`
	ConditionsIdentified []string `json:"conditions_identified"`
	MedicationsMentioned []string `json:"medications_mentioned"`
	TestsPerformed       []string `json:"tests_performed"`
	PatternsIdentified   []string `json:"patterns_identified"`
	RiskFactors          []string `json:"risk_factors"`
	Recommendations      []string `json:"recommendations"`
}

// FallbackSummary is used whenever the model's reply cannot be parsed.
func FallbackSummary() ParsedSummary {
	return ParsedSummary{
		SummaryText:          FallbackReview,
		ConditionsIdentified: []string{FallbackReview},
		MedicationsMentioned: []string{FallbackReview},
		TestsPerformed:       []string{FallbackReview},
		PatternsIdentified:   []string{FallbackReview},
		RiskFactors:          []string{FallbackConsult},
		Recommendations:      []string{FallbackConsult},
	}
}

// ParseResult is either a parsed Value (OK) or the Fallback with the reason
// in Err.
type ParseResult struct {
	OK       bool
	Value    ParsedSummary
	Fallback ParsedSummary
	Err      error
}

// Summary returns whichever payload applies.
func (r ParseResult) Summary() ParsedSummary {
	if r.OK {
		return r.Value
	}
	return r.Fallback
}

// jsonObject is greedy: first "{" to last "}".
var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// ParseSummary extracts the JSON object from a model reply.
func ParseSummary(raw string) ParseResult {
	fail := func(err error) ParseResult {
		return ParseResult{Fallback: FallbackSummary(), Err: err}
	}

	match := jsonObject.FindString(raw)
	if match == "" {
		return fail(fmt.Errorf("no JSON object in response"))
	}

	var v ParsedSummary
	if err := json.Unmarshal([]byte(match), &v); err != nil {
		return fail(fmt.Errorf("decode summary: %w", err))
	}
	v.SummaryText = strings.TrimSpace(v.SummaryText)
	if v.SummaryText == "" {
		return fail(fmt.Errorf("summary_text missing"))
	}

	for _, list := range []*[]string{
		&v.ConditionsIdentified, &v.MedicationsMentioned, &v.TestsPerformed,
		&v.PatternsIdentified, &v.RiskFactors, &v.Recommendations,
	} {
		if *list == nil {
			*list = []string{}
		}
	}
	return ParseResult{OK: true, Value: v}
}

// SummaryInput is one record as seen by the summary prompt.
type SummaryInput struct {
	Title     string
	Type      string
	Hospital  string
	VisitDate string
	Notes     string
	Text      string
}

const summarySystemPrompt = `You are a medical records analyst. You read a patient's medical records and produce a
concise, factual overview for the patient. Never invent facts that are not in the records.

Respond with ONLY a JSON object, no markdown and no commentary, with exactly these fields:
{
  "summary_text": "a short narrative overview",
  "conditions_identified": ["..."],
  "medications_mentioned": ["..."],
  "tests_performed": ["..."],
  "patterns_identified": ["..."],
  "risk_factors": ["..."],
  "recommendations": ["..."]
}
Use empty arrays when nothing applies.`

// SummaryPrompt builds the system and user prompts for summarizing records.
func SummaryPrompt(records []SummaryInput) (system, user string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize the following %d medical record(s).\n", len(records))
	for i, r := range records {
		fmt.Fprintf(&b, "\n=== Record %d: %s ===\n", i+1, r.Title)
		fmt.Fprintf(&b, "Type: %s\nHospital: %s\nVisit date: %s\n", r.Type, r.Hospital, r.VisitDate)
		if n := strings.TrimSpace(r.Notes); n != "" {
			fmt.Fprintf(&b, "Notes: %s\n", n)
		}
		if t := strings.TrimSpace(r.Text); t != "" {
			if len(t) > maxRecordChars {
				t = strings.ToValidUTF8(t[:maxRecordChars], "") + "\n[truncated]"
			}
			fmt.Fprintf(&b, "Content:\n%s\n", t)
		}
	}
	return summarySystemPrompt, b.String()
}
