package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/xid"

	"github.com/sakif/inforx/internal/apperror"
	"github.com/sakif/inforx/internal/model"
	"github.com/sakif/inforx/internal/repository"
	"github.com/sakif/inforx/internal/storage"
)

const (
	MaxFileSize      = 10 << 20
	DefaultListLimit = 20
	MaxListLimit     = 100
	topN             = 5

	recordPrefix = "medical-records"

	downloadURLExpiry = 15 * time.Minute
)

// Upload MIME types mapped to the extension the object is stored under.
var allowedTypes = map[string]string{
	"application/pdf": "pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "docx",
	"image/png":  "png",
	"image/jpeg": "jpg",
}

// extensionTypes is the fallback when the part's Content-Type is missing or
// generic.
var extensionTypes = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// RecordInput carries the user-editable fields of a record.
type RecordInput struct {
	Title        string  `json:"title"`
	Type         string  `json:"type"`
	HospitalName string  `json:"hospital_name"`
	VisitDate    string  `json:"visit_date"`
	Notes        *string `json:"notes"`
}

// Upload is a file part as received from the client.
type Upload struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// Enqueuer schedules background extraction of a record's file.
type Enqueuer interface {
	Enqueue(userID, recordID string)
}

// RecordPage is one page of a record listing.
type RecordPage struct {
	Records []model.MedicalRecord `json:"records"`
	Total   int                   `json:"total"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
}

type RecordService struct {
	records  repository.RecordRepository
	store    storage.ObjectStore
	queue    Enqueuer
	activity *ActivityLogger
	logger   *slog.Logger
	now      func() time.Time
}

func NewRecordService(
	records repository.RecordRepository,
	store storage.ObjectStore,
	queue Enqueuer,
	activity *ActivityLogger,
	logger *slog.Logger,
) *RecordService {
	return &RecordService{
		records:  records,
		store:    store,
		queue:    queue,
		activity: activity,
		logger:   logger,
		now:      time.Now,
	}
}

func validateRecord(in *RecordInput) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Type = strings.TrimSpace(in.Type)
	in.HospitalName = strings.TrimSpace(in.HospitalName)
	in.VisitDate = strings.TrimSpace(in.VisitDate)
	if in.Notes != nil {
		n := strings.TrimSpace(*in.Notes)
		if n == "" {
			in.Notes = nil
		} else {
			in.Notes = &n
		}
	}

	fields := map[string]string{}
	if in.Title == "" {
		fields["title"] = "Title is required"
	}
	if in.HospitalName == "" {
		fields["hospital_name"] = "Hospital name is required"
	}
	switch {
	case in.Type == "":
		fields["type"] = "Type is required"
	case !model.IsRecordType(in.Type):
		fields["type"] = "Type must be one of prescription, scan, lab_result, other"
	}
	switch {
	case in.VisitDate == "":
		fields["visit_date"] = "Visit date is required"
	default:
		if _, err := time.Parse(model.VisitDateLayout, in.VisitDate); err != nil {
			fields["visit_date"] = "Visit date must be YYYY-MM-DD"
		}
	}

	if len(fields) > 0 {
		return apperror.ValidationErrors(fields)
	}
	return nil
}

// fileType returns the canonical MIME type and stored extension of an
// upload, or an error when the type is not allowed.
func fileType(name, contentType string) (mimeType, ext string, err error) {
	if mt, _, perr := mime.ParseMediaType(contentType); perr == nil {
		if e, ok := allowedTypes[mt]; ok {
			return mt, e, nil
		}
	}
	if mt, ok := extensionTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return mt, allowedTypes[mt], nil
	}
	return "", "", apperror.ValidationFailed("file", "File type not allowed. Allowed types: PDF, DOCX, PNG, JPG")
}

// Create validates the fields, uploads the optional file and inserts the row.
// Nothing is written when validation fails. A file is removed again if the
// insert fails.
func (s *RecordService) Create(ctx context.Context, userID string, in RecordInput, file *Upload) (*model.MedicalRecord, error) {
	if err := validateRecord(&in); err != nil {
		return nil, err
	}

	var (
		data     []byte
		mimeType string
		ext      string
	)
	if file != nil {
		var err error
		if mimeType, ext, err = fileType(file.Name, file.ContentType); err != nil {
			return nil, err
		}
		data, err = io.ReadAll(io.LimitReader(file.Body, MaxFileSize+1))
		if err != nil {
			return nil, apperror.ValidationFailed("file", "Failed to read uploaded file")
		}
		if len(data) > MaxFileSize {
			return nil, apperror.ValidationFailed("file", "File size must be less than 10MB")
		}
		if len(data) == 0 {
			return nil, apperror.ValidationFailed("file", "File is empty")
		}
	}

	record := &model.MedicalRecord{
		UserID:           userID,
		Title:            in.Title,
		Type:             in.Type,
		HospitalName:     in.HospitalName,
		VisitDate:        in.VisitDate,
		Notes:            in.Notes,
		ProcessingStatus: model.StatusIdle,
	}

	if file != nil {
		key := fmt.Sprintf("%s/%s/%d_%s.%s", recordPrefix, userID, s.now().UnixMilli(), xid.New().String(), ext)
		if err := s.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), mimeType); err != nil {
			return nil, apperror.Upstream("upload file", err)
		}
		record.Attach(model.Attachment{
			URL:  s.store.PublicURL(key),
			Path: key,
			Name: filepath.Base(file.Name),
			Size: int64(len(data)),
			Type: mimeType,
		})
		record.ProcessingStatus = model.StatusProcessing
	}

	if err := s.records.CreateRecord(ctx, record); err != nil {
		if record.HasFile() {
			if derr := s.store.Delete(ctx, *record.FilePath); derr != nil {
				s.logger.Warn("failed to remove orphaned upload",
					slog.String("key", *record.FilePath),
					slog.String("error", derr.Error()),
				)
			}
		}
		s.logger.Error("failed to create medical record", slog.String("userID", userID), slog.String("error", err.Error()))
		return nil, fmt.Errorf("creating medical record: %w", err)
	}

	s.logger.Info("medical record created",
		slog.String("id", record.ID),
		slog.String("userID", userID),
		slog.Bool("hasFile", record.HasFile()),
	)

	if record.HasFile() {
		s.activity.Log(ctx, userID, ActionUploadFile, map[string]any{
			"record_id": record.ID,
			"file_name": *record.FileName,
			"file_size": *record.FileSize,
		})
		s.queue.Enqueue(userID, record.ID)
	}
	return record, nil
}

// List returns one page of the caller's records.
func (s *RecordService) List(ctx context.Context, userID string, filter model.RecordFilter, limit, offset int) (*RecordPage, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	filter.Type = strings.TrimSpace(filter.Type)
	if filter.Type != "" && !model.IsRecordType(filter.Type) {
		return nil, apperror.ValidationFailed("type", "Type must be one of prescription, scan, lab_result, other")
	}
	filter.HospitalName = strings.TrimSpace(filter.HospitalName)
	filter.Search = strings.TrimSpace(filter.Search)

	records, total, err := s.records.ListRecords(ctx, userID, filter, repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		s.logger.Error("failed to list medical records", slog.String("userID", userID), slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing medical records: %w", err)
	}
	return &RecordPage{Records: records, Total: total, Limit: limit, Offset: offset}, nil
}

// Get returns one record with a signed download link when it has a file. A
// presign failure is logged and the record is returned without the link.
func (s *RecordService) Get(ctx context.Context, userID, id string) (*model.MedicalRecord, error) {
	record, err := s.get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if record.HasFile() {
		u, err := s.store.PresignGet(ctx, *record.FilePath, downloadURLExpiry)
		if err != nil {
			s.logger.Warn("presigning record download failed",
				slog.String("recordID", record.ID),
				slog.String("error", err.Error()),
			)
		} else {
			record.DownloadURL = &u
		}
	}
	return record, nil
}

func (s *RecordService) get(ctx context.Context, userID, id string) (*model.MedicalRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "record ID is required")
	}
	return s.records.GetRecord(ctx, userID, id)
}

// Update replaces the editable fields. File and processing fields are kept.
func (s *RecordService) Update(ctx context.Context, userID, id string, in RecordInput) (*model.MedicalRecord, error) {
	record, err := s.get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := validateRecord(&in); err != nil {
		return nil, err
	}

	record.Title = in.Title
	record.Type = in.Type
	record.HospitalName = in.HospitalName
	record.VisitDate = in.VisitDate
	record.Notes = in.Notes

	if err := s.records.UpdateRecord(ctx, record); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("updating medical record: %w", err)
	}

	s.activity.Log(ctx, userID, ActionUpdateRecord, map[string]any{"record_id": record.ID})
	return record, nil
}

// Delete removes the row, then its file. The row is what matters to the
// caller, so a failed file removal is only logged.
func (s *RecordService) Delete(ctx context.Context, userID, id string) error {
	record, err := s.get(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.records.DeleteRecord(ctx, userID, record.ID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		return fmt.Errorf("deleting medical record: %w", err)
	}

	if record.HasFile() {
		if err := s.store.Delete(ctx, *record.FilePath); err != nil {
			s.logger.Warn("failed to delete record file",
				slog.String("id", record.ID),
				slog.String("key", *record.FilePath),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("medical record deleted", slog.String("id", record.ID), slog.String("userID", userID))
	s.activity.Log(ctx, userID, ActionDeleteFile, map[string]any{"record_id": record.ID})
	return nil
}

// Reprocess queues the record's file for extraction again.
func (s *RecordService) Reprocess(ctx context.Context, userID, id string) (*model.MedicalRecord, error) {
	record, err := s.get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !record.HasFile() {
		return nil, apperror.ValidationFailed("file", "Record has no file to process")
	}

	if err := s.records.SetProcessingResult(ctx, userID, record.ID, repository.ProcessingResult{
		Status: model.StatusProcessing,
	}); err != nil {
		return nil, fmt.Errorf("resetting processing state: %w", err)
	}
	record.ProcessingStatus = model.StatusProcessing
	record.ProcessingError = nil
	record.ProcessedAt = nil

	s.queue.Enqueue(userID, record.ID)
	s.activity.Log(ctx, userID, ActionProcessRecord, map[string]any{"record_id": record.ID})
	return record, nil
}

// Stats aggregates all of the caller's records in one pass.
func (s *RecordService) Stats(ctx context.Context, userID string) (*model.RecordStats, error) {
	records, err := s.records.AllRecords(ctx, userID, model.RecordFilter{})
	if err != nil {
		return nil, fmt.Errorf("loading records for stats: %w", err)
	}
	stats := ComputeStats(records)
	return &stats, nil
}

// ComputeStats is the pure part of Stats.
func ComputeStats(records []model.MedicalRecord) model.RecordStats {
	st := model.RecordStats{
		TotalRecords:      len(records),
		RecordsByType:     map[string]int{},
		RecordsByHospital: map[string]int{},
	}
	for _, r := range records {
		st.RecordsByType[r.Type]++
		st.RecordsByHospital[r.HospitalName]++
		if r.FileSize != nil {
			st.RecordsWithFiles++
			st.TotalFileSize += *r.FileSize
		}
	}
	if st.RecordsWithFiles > 0 {
		st.AverageFileSize = st.TotalFileSize / int64(st.RecordsWithFiles)
	}
	st.TotalFileSizeFormatted = humanize.IBytes(uint64(st.TotalFileSize))
	st.AverageFileSizeFormatted = humanize.IBytes(uint64(st.AverageFileSize))
	st.TopHospitals = top(st.RecordsByHospital, topN)
	st.TopTypes = top(st.RecordsByType, topN)
	return st
}

// top orders by count descending, then name ascending.
func top(counts map[string]int, n int) []model.NameCount {
	out := make([]model.NameCount, 0, len(counts))
	for name, c := range counts {
		out = append(out, model.NameCount{Name: name, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
