package model

import (
	"encoding/json"
	"time"
)

// MedicalSummary is an AI-derived aggregate over a set of a user's records.
// Rows are never edited; a newer generation supersedes them.
type MedicalSummary struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	SummaryText          string    `json:"summary_text"`
	ConditionsIdentified []string  `json:"conditions_identified"`
	MedicationsMentioned []string  `json:"medications_mentioned"`
	TestsPerformed       []string  `json:"tests_performed"`
	PatternsIdentified   []string  `json:"patterns_identified"`
	RiskFactors          []string  `json:"risk_factors"`
	Recommendations      []string  `json:"recommendations"`
	RecordCount          int       `json:"record_count"`
	LastUpdated          time.Time `json:"last_updated"`
	CreatedAt            time.Time `json:"created_at"`
}

// ActivityLog is one append-only audit row.
type ActivityLog struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Action    string          `json:"action"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
}
