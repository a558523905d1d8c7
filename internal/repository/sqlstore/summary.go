package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/inforx/internal/apperror"
	"github.com/sakif/inforx/internal/model"
	"github.com/sakif/inforx/internal/repository"
)

var _ repository.SummaryRepository = (*DB)(nil)

const summaryColumns = `id, user_id, summary_text,
	conditions_identified, medications_mentioned, tests_performed,
	patterns_identified, risk_factors, recommendations,
	record_count, last_updated, created_at`

// List columns hold JSON-encoded string arrays.
func (db *DB) CreateSummary(ctx context.Context, s *model.MedicalSummary) error {
	s.ID = xid.New().String()
	now := time.Now().UTC()
	s.CreatedAt = now
	if s.LastUpdated.IsZero() {
		s.LastUpdated = now
	}

	lists := make([]string, 0, 6)
	for _, l := range [][]string{
		s.ConditionsIdentified, s.MedicationsMentioned, s.TestsPerformed,
		s.PatternsIdentified, s.RiskFactors, s.Recommendations,
	} {
		if l == nil {
			l = []string{}
		}
		b, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("sqlstore: encoding summary list: %w", err)
		}
		lists = append(lists, string(b))
	}

	_, err := db.exec(ctx,
		`INSERT INTO medical_summaries (`+summaryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.SummaryText,
		lists[0], lists[1], lists[2], lists[3], lists[4], lists[5],
		s.RecordCount, s.LastUpdated, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: creating medical summary: %w", err)
	}
	return nil
}

func (db *DB) LatestSummary(ctx context.Context, userID string) (*model.MedicalSummary, error) {
	row := db.queryRow(ctx,
		`SELECT `+summaryColumns+` FROM medical_summaries
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		userID,
	)
	s, err := scanSummary(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("medical summary", "latest")
		}
		return nil, fmt.Errorf("sqlstore: getting latest summary: %w", err)
	}
	return s, nil
}

func (db *DB) ListSummaries(ctx context.Context, userID string, limit int) ([]model.MedicalSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.query(ctx,
		`SELECT `+summaryColumns+` FROM medical_summaries
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing summaries: %w", err)
	}
	defer rows.Close()

	out := []model.MedicalSummary{}
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scanning summary row: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: iterating summaries: %w", err)
	}
	return out, nil
}

func (db *DB) DeleteSummary(ctx context.Context, userID, id string) error {
	res, err := db.exec(ctx,
		`DELETE FROM medical_summaries WHERE id = ? AND user_id = ?`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: deleting summary %s: %w", id, err)
	}
	return checkAffected(res, apperror.NotFound("medical summary", id))
}

func (db *DB) DeleteAllSummaries(ctx context.Context, userID string) (int64, error) {
	res, err := db.exec(ctx, `DELETE FROM medical_summaries WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: deleting summaries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlstore: checking rows affected: %w", err)
	}
	return n, nil
}

func scanSummary(sc rowScanner) (*model.MedicalSummary, error) {
	var (
		s     model.MedicalSummary
		lists [6]string
	)
	err := sc.Scan(
		&s.ID, &s.UserID, &s.SummaryText,
		&lists[0], &lists[1], &lists[2], &lists[3], &lists[4], &lists[5],
		&s.RecordCount, &s.LastUpdated, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	targets := []*[]string{
		&s.ConditionsIdentified, &s.MedicationsMentioned, &s.TestsPerformed,
		&s.PatternsIdentified, &s.RiskFactors, &s.Recommendations,
	}
	for i, raw := range lists {
		if err := json.Unmarshal([]byte(raw), targets[i]); err != nil {
			return nil, fmt.Errorf("decoding summary list: %w", err)
		}
		if *targets[i] == nil {
			*targets[i] = []string{}
		}
	}
	return &s, nil
}
