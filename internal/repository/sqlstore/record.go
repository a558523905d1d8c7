package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/inforx/internal/apperror"
	"github.com/sakif/inforx/internal/model"
	"github.com/sakif/inforx/internal/repository"
)

var _ repository.RecordRepository = (*DB)(nil)

const recordColumns = `id, user_id, title, type, hospital_name, visit_date,
	file_url, file_path, file_name, file_size, file_type,
	notes, text_content, processing_status, processed_at, processing_error,
	created_at, updated_at`

func (db *DB) CreateRecord(ctx context.Context, r *model.MedicalRecord) error {
	r.ID = xid.New().String()
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.ProcessingStatus == "" {
		r.ProcessingStatus = model.StatusIdle
	}

	_, err := db.exec(ctx,
		`INSERT INTO medical_records (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Title, r.Type, r.HospitalName, r.VisitDate,
		r.FileURL, r.FilePath, r.FileName, r.FileSize, r.FileType,
		r.Notes, r.TextContent, r.ProcessingStatus, r.ProcessedAt, r.ProcessingError,
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: creating medical record: %w", err)
	}
	return nil
}

func (db *DB) GetRecord(ctx context.Context, userID, id string) (*model.MedicalRecord, error) {
	row := db.queryRow(ctx,
		`SELECT `+recordColumns+` FROM medical_records WHERE id = ? AND user_id = ?`,
		id, userID,
	)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("medical record", id)
		}
		return nil, fmt.Errorf("sqlstore: getting medical record %s: %w", id, err)
	}
	return r, nil
}

func (db *DB) ListRecords(ctx context.Context, userID string, f model.RecordFilter, opts repository.ListOptions) ([]model.MedicalRecord, int, error) {
	where, args := recordWhere(userID, f)

	var total int
	if err := db.queryRow(ctx, `SELECT COUNT(*) FROM medical_records WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlstore: counting medical records: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	records, err := db.listRecords(ctx,
		`SELECT `+recordColumns+` FROM medical_records WHERE `+where+`
		 ORDER BY visit_date DESC, created_at DESC
		 LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (db *DB) AllRecords(ctx context.Context, userID string, f model.RecordFilter) ([]model.MedicalRecord, error) {
	where, args := recordWhere(userID, f)
	return db.listRecords(ctx,
		`SELECT `+recordColumns+` FROM medical_records WHERE `+where+`
		 ORDER BY visit_date DESC, created_at DESC`,
		args...,
	)
}

func (db *DB) listRecords(ctx context.Context, query string, args ...any) ([]model.MedicalRecord, error) {
	rows, err := db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing medical records: %w", err)
	}
	defer rows.Close()

	records := []model.MedicalRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scanning medical record row: %w", err)
		}
		records = append(records, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: iterating medical records: %w", err)
	}
	return records, nil
}

// UpdateRecord writes the user-editable fields. File fields and processing
// state are owned by the upload and processing paths.
func (db *DB) UpdateRecord(ctx context.Context, r *model.MedicalRecord) error {
	r.UpdatedAt = time.Now().UTC()
	res, err := db.exec(ctx,
		`UPDATE medical_records
		 SET title = ?, type = ?, hospital_name = ?, visit_date = ?, notes = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		r.Title, r.Type, r.HospitalName, r.VisitDate, r.Notes, r.UpdatedAt,
		r.ID, r.UserID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: updating medical record %s: %w", r.ID, err)
	}
	return checkAffected(res, apperror.NotFound("medical record", r.ID))
}

func (db *DB) SetProcessingResult(ctx context.Context, userID, id string, p repository.ProcessingResult) error {
	res, err := db.exec(ctx,
		`UPDATE medical_records
		 SET processing_status = ?, text_content = COALESCE(?, text_content),
		     processing_error = ?, processed_at = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		p.Status, p.TextContent, p.Error, p.ProcessedAt, time.Now().UTC(),
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: setting processing result on %s: %w", id, err)
	}
	return checkAffected(res, apperror.NotFound("medical record", id))
}

func (db *DB) DeleteRecord(ctx context.Context, userID, id string) error {
	res, err := db.exec(ctx,
		`DELETE FROM medical_records WHERE id = ? AND user_id = ?`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: deleting medical record %s: %w", id, err)
	}
	return checkAffected(res, apperror.NotFound("medical record", id))
}

// recordWhere builds the WHERE clause (without the keyword) for a filter.
// user_id is always the first condition.
func recordWhere(userID string, f model.RecordFilter) (string, []any) {
	conds := []string{"user_id = ?"}
	args := []any{userID}

	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, f.Type)
	}
	if f.HospitalName != "" {
		conds = append(conds, "hospital_name = ?")
		args = append(args, f.HospitalName)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		pattern := "%" + escapeLike(strings.ToLower(s)) + "%"
		conds = append(conds, `(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(hospital_name) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if len(f.IDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.IDs)), ",")
		conds = append(conds, "id IN ("+placeholders+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	return strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (*model.MedicalRecord, error) {
	var r model.MedicalRecord
	err := s.Scan(
		&r.ID, &r.UserID, &r.Title, &r.Type, &r.HospitalName, &r.VisitDate,
		&r.FileURL, &r.FilePath, &r.FileName, &r.FileSize, &r.FileType,
		&r.Notes, &r.TextContent, &r.ProcessingStatus, &r.ProcessedAt, &r.ProcessingError,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
