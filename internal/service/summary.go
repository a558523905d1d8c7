package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/inforx/internal/ai"
	"github.com/sakif/inforx/internal/apperror"
	"github.com/sakif/inforx/internal/auth"
	"github.com/sakif/inforx/internal/extract"
	"github.com/sakif/inforx/internal/model"
	"github.com/sakif/inforx/internal/repository"
	"github.com/sakif/inforx/internal/storage"
)

// SummaryCacheTTL is how long the latest summary is reused.
const SummaryCacheTTL = 24 * time.Hour

const (
	DefaultSummaryLimit = 10
	MaxSummaryLimit     = 50
)

// GenerateRequest selects the records to summarize. No ids means all.
type GenerateRequest struct {
	RecordIDs       []string `json:"recordIds"`
	ForceRegenerate bool     `json:"forceRegenerate"`
}

type GenerateResult struct {
	Summary *model.MedicalSummary `json:"summary"`
	Cached  bool                  `json:"cached"`
	// Parsed is false when the model's reply was replaced by the fallback.
	Parsed bool `json:"parsed"`
}

// SummaryInput is a client-provided summary.
type SummaryInput struct {
	SummaryText          string   `json:"summary_text"`
	ConditionsIdentified []string `json:"conditions_identified"`
	MedicationsMentioned []string `json:"medications_mentioned"`
	TestsPerformed       []string `json:"tests_performed"`
	PatternsIdentified   []string `json:"patterns_identified"`
	RiskFactors          []string `json:"risk_factors"`
	Recommendations      []string `json:"recommendations"`
	RecordCount          int      `json:"record_count"`
}

type SummaryService struct {
	summaries repository.SummaryRepository
	records   repository.RecordRepository
	store     storage.ObjectStore
	pipeline  *extract.Pipeline
	generator ai.TextGenerator
	activity  *ActivityLogger
	logger    *slog.Logger
	now       func() time.Time
}

func NewSummaryService(
	summaries repository.SummaryRepository,
	records repository.RecordRepository,
	store storage.ObjectStore,
	pipeline *extract.Pipeline,
	generator ai.TextGenerator,
	activity *ActivityLogger,
	logger *slog.Logger,
) *SummaryService {
	return &SummaryService{
		summaries: summaries,
		records:   records,
		store:     store,
		pipeline:  pipeline,
		generator: generator,
		activity:  activity,
		logger:    logger,
		now:       time.Now,
	}
}

// Generate returns the cached summary when it is younger than
// SummaryCacheTTL, unless forced. Otherwise it re-extracts every selected
// record's file, asks the model for a JSON summary and stores the result.
// An unparseable reply is replaced by ai.FallbackSummary, not reported as an
// error.
func (s *SummaryService) Generate(ctx context.Context, userID string, req GenerateRequest) (*GenerateResult, error) {
	if !req.ForceRegenerate {
		latest, err := s.summaries.LatestSummary(ctx, userID)
		switch {
		case err == nil:
			if s.now().Sub(latest.CreatedAt) < SummaryCacheTTL {
				return &GenerateResult{Summary: latest, Cached: true, Parsed: true}, nil
			}
		case errors.Is(err, apperror.ErrNotFound):
		default:
			return nil, fmt.Errorf("loading latest summary: %w", err)
		}
	}

	records, err := s.records.AllRecords(ctx, userID, model.RecordFilter{IDs: cleanIDs(req.RecordIDs)})
	if err != nil {
		return nil, fmt.Errorf("loading records for summary: %w", err)
	}
	if len(records) == 0 {
		return nil, apperror.ValidationFailed("recordIds", "No medical records found")
	}

	inputs := s.collect(auth.ContextWithUserID(ctx, userID), records)
	system, user := ai.SummaryPrompt(inputs)

	start := s.now()
	raw, err := s.generator.GenerateText(ctx, system, user)
	if err != nil {
		s.logger.Error("summary generation failed", slog.String("userID", userID), slog.String("error", err.Error()))
		return nil, apperror.Upstream("generate summary", err)
	}

	parsed := ai.ParseSummary(raw)
	if !parsed.OK {
		s.logger.Warn("summary reply not parseable, using fallback",
			slog.String("userID", userID),
			slog.String("error", parsed.Err.Error()),
		)
	}
	v := parsed.Summary()

	summary := &model.MedicalSummary{
		UserID:               userID,
		SummaryText:          v.SummaryText,
		ConditionsIdentified: v.ConditionsIdentified,
		MedicationsMentioned: v.MedicationsMentioned,
		TestsPerformed:       v.TestsPerformed,
		PatternsIdentified:   v.PatternsIdentified,
		RiskFactors:          v.RiskFactors,
		Recommendations:      v.Recommendations,
		RecordCount:          len(records),
		LastUpdated:          s.now().UTC(),
	}
	if err := s.summaries.CreateSummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("storing summary: %w", err)
	}

	s.logger.Info("summary generated",
		slog.String("id", summary.ID),
		slog.String("userID", userID),
		slog.Int("records", len(records)),
		slog.Bool("parsed", parsed.OK),
		slog.Duration("duration", s.now().Sub(start)),
	)
	s.activity.Log(ctx, userID, ActionGenerateSummary, map[string]any{
		"summary_id":   summary.ID,
		"record_count": len(records),
		"parsed":       parsed.OK,
	})
	return &GenerateResult{Summary: summary, Cached: false, Parsed: parsed.OK}, nil
}

// collect builds prompt inputs, re-extracting attached files in order. A file
// that cannot be downloaded or extracted falls back to the stored text.
func (s *SummaryService) collect(ctx context.Context, records []model.MedicalRecord) []ai.SummaryInput {
	inputs := make([]ai.SummaryInput, len(records))
	var (
		files []extract.File
		owner []int
	)
	for i, r := range records {
		in := ai.SummaryInput{
			Title:     r.Title,
			Type:      r.Type,
			Hospital:  r.HospitalName,
			VisitDate: r.VisitDate,
		}
		if r.Notes != nil {
			in.Notes = *r.Notes
		}
		if r.TextContent != nil {
			in.Text = *r.TextContent
		}
		inputs[i] = in

		if !r.HasFile() {
			continue
		}
		data, err := s.store.Get(ctx, *r.FilePath)
		if err != nil {
			s.logger.Warn("failed to download record file for summary",
				slog.String("recordID", r.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		files = append(files, recordFile(&records[i], data))
		owner = append(owner, i)
	}

	for j, res := range s.pipeline.ExtractAll(ctx, files) {
		if res.Success && strings.TrimSpace(res.Text) != "" {
			inputs[owner[j]].Text = res.Text
		}
	}
	return inputs
}

// Latest returns the newest summary or apperror.ErrNotFound.
func (s *SummaryService) Latest(ctx context.Context, userID string) (*model.MedicalSummary, error) {
	summary, err := s.summaries.LatestSummary(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.activity.Log(ctx, userID, ActionViewSummary, map[string]any{"summary_id": summary.ID})
	return summary, nil
}

func (s *SummaryService) List(ctx context.Context, userID string, limit int) ([]model.MedicalSummary, error) {
	if limit <= 0 {
		limit = DefaultSummaryLimit
	}
	if limit > MaxSummaryLimit {
		limit = MaxSummaryLimit
	}
	summaries, err := s.summaries.ListSummaries(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing summaries: %w", err)
	}
	return summaries, nil
}

// Save stores a summary produced elsewhere.
func (s *SummaryService) Save(ctx context.Context, userID string, in SummaryInput) (*model.MedicalSummary, error) {
	text := strings.TrimSpace(in.SummaryText)
	if text == "" {
		return nil, apperror.ValidationFailed("summary_text", "Summary text is required")
	}
	if in.RecordCount < 0 {
		return nil, apperror.ValidationFailed("record_count", "Record count must not be negative")
	}

	summary := &model.MedicalSummary{
		UserID:               userID,
		SummaryText:          text,
		ConditionsIdentified: orEmpty(in.ConditionsIdentified),
		MedicationsMentioned: orEmpty(in.MedicationsMentioned),
		TestsPerformed:       orEmpty(in.TestsPerformed),
		PatternsIdentified:   orEmpty(in.PatternsIdentified),
		RiskFactors:          orEmpty(in.RiskFactors),
		Recommendations:      orEmpty(in.Recommendations),
		RecordCount:          in.RecordCount,
		LastUpdated:          s.now().UTC(),
	}
	if err := s.summaries.CreateSummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("storing summary: %w", err)
	}
	return summary, nil
}

// Delete removes one summary when id is set, otherwise all of the caller's
// summaries. It returns how many were deleted.
func (s *SummaryService) Delete(ctx context.Context, userID, id string) (int64, error) {
	var (
		n   int64
		err error
	)
	if id = strings.TrimSpace(id); id != "" {
		if err = s.summaries.DeleteSummary(ctx, userID, id); err == nil {
			n = 1
		}
	} else {
		n, err = s.summaries.DeleteAllSummaries(ctx, userID)
	}
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("deleting summaries: %w", err)
	}
	s.activity.Log(ctx, userID, ActionDeleteSummary, map[string]any{"deleted": n})
	return n, nil
}

func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
