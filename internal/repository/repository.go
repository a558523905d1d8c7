// Package repository defines the persistence contracts the services depend on.
//
// Every method that touches user-owned data takes the owner's userID and
// scopes its query by it. A row that exists but belongs to someone else is
// reported exactly like a missing row (apperror.ErrNotFound).
package repository

import (
	"context"
	"time"

	"github.com/sakif/inforx/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByGoogleSub(ctx context.Context, sub string) (*model.User, error)
	LinkGoogle(ctx context.Context, userID, sub string) error
	UpdatePassword(ctx context.Context, userID, hash string) error
}

type ProfileRepository interface {
	// UpsertProfile inserts the profile or, on id conflict, overwrites it.
	UpsertProfile(ctx context.Context, profile *model.Profile) error
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	UpdateProfile(ctx context.Context, profile *model.Profile) error
}

type RecordRepository interface {
	CreateRecord(ctx context.Context, record *model.MedicalRecord) error
	GetRecord(ctx context.Context, userID, id string) (*model.MedicalRecord, error)
	// ListRecords returns one page plus the total matching the filter.
	ListRecords(ctx context.Context, userID string, filter model.RecordFilter, opts ListOptions) ([]model.MedicalRecord, int, error)
	// AllRecords returns every record matching the filter, unpaginated.
	AllRecords(ctx context.Context, userID string, filter model.RecordFilter) ([]model.MedicalRecord, error)
	UpdateRecord(ctx context.Context, record *model.MedicalRecord) error
	SetProcessingResult(ctx context.Context, userID, id string, result ProcessingResult) error
	DeleteRecord(ctx context.Context, userID, id string) error
}

// ProcessingResult is the outcome of extracting a record's file.
type ProcessingResult struct {
	Status      string
	TextContent *string
	Error       *string
	ProcessedAt *time.Time
}

type SummaryRepository interface {
	CreateSummary(ctx context.Context, summary *model.MedicalSummary) error
	LatestSummary(ctx context.Context, userID string) (*model.MedicalSummary, error)
	ListSummaries(ctx context.Context, userID string, limit int) ([]model.MedicalSummary, error)
	DeleteSummary(ctx context.Context, userID, id string) error
	DeleteAllSummaries(ctx context.Context, userID string) (int64, error)
}

type LogRepository interface {
	AppendLog(ctx context.Context, entry *model.ActivityLog) error
	ListLogs(ctx context.Context, userID string, limit int) ([]model.ActivityLog, error)
}

// Store is everything the server needs from the database.
type Store interface {
	UserRepository
	ProfileRepository
	RecordRepository
	SummaryRepository
	LogRepository
	Close() error
}
