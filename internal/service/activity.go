package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sakif/inforx/internal/apperror"
	"github.com/sakif/inforx/internal/model"
	"github.com/sakif/inforx/internal/repository"
)

// Documented activity actions. The vocabulary is open: any name matching
// actionPattern is accepted.
const (
	ActionPageView        = "page_view"
	ActionSignIn          = "sign_in"
	ActionSignUp          = "sign_up"
	ActionSignOut         = "sign_out"
	ActionUploadFile      = "upload_file"
	ActionUpdateRecord    = "update_record"
	ActionDeleteFile      = "delete_file"
	ActionProcessRecord   = "process_record"
	ActionAIInterpret     = "ai_interpret"
	ActionTextToSpeech    = "text_to_speech"
	ActionGenerateSummary = "generate_summary"
	ActionViewSummary     = "view_summary"
	ActionDeleteSummary   = "delete_summary"
	ActionUpdateProfile   = "update_profile"
)

var actionPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,63}$`)

const (
	DefaultLogLimit = 50
	MaxLogLimit     = 200
)

// ActivityLogger appends audit rows. Log is fire-and-forget: it never blocks
// the caller and a failed insert is only reported in the server log.
//
// A nil *ActivityLogger is valid and records nothing.
type ActivityLogger struct {
	repo    repository.LogRepository
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewActivityLogger(repo repository.LogRepository, logger *slog.Logger) *ActivityLogger {
	return &ActivityLogger{
		repo:    repo,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// Log records action in the background. The insert outlives ctx's
// cancellation (the request usually ends first) but not the timeout.
func (a *ActivityLogger) Log(ctx context.Context, userID, action string, metadata map[string]any) {
	if a == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.LogSync(ctx, userID, action, metadata); err != nil {
			a.logger.Warn("failed to record activity",
				slog.String("userID", userID),
				slog.String("action", action),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// LogSync is Log without the goroutine.
func (a *ActivityLogger) LogSync(ctx context.Context, userID, action string, metadata map[string]any) error {
	if a == nil {
		return nil
	}
	raw := json.RawMessage(`{}`)
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("encoding activity metadata: %w", err)
		}
		raw = b
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	_, err := a.Append(ctx, userID, action, raw)
	return err
}

// Append validates and stores one entry. metadata must be a JSON object or
// empty.
func (a *ActivityLogger) Append(ctx context.Context, userID, action string, metadata json.RawMessage) (*model.ActivityLog, error) {
	action = strings.TrimSpace(action)
	if !actionPattern.MatchString(action) {
		return nil, apperror.ValidationFailed("action", "action must be lower_snake_case, 2-64 characters")
	}

	trimmed := strings.TrimSpace(string(metadata))
	switch {
	case trimmed == "" || trimmed == "null":
		metadata = json.RawMessage(`{}`)
	case !strings.HasPrefix(trimmed, "{") || !json.Valid([]byte(trimmed)):
		return nil, apperror.ValidationFailed("metadata", "metadata must be a JSON object")
	default:
		metadata = json.RawMessage(trimmed)
	}

	entry := &model.ActivityLog{UserID: userID, Action: action, Metadata: metadata}
	if err := a.repo.AppendLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("appending activity log: %w", err)
	}
	return entry, nil
}

func (a *ActivityLogger) List(ctx context.Context, userID string, limit int) ([]model.ActivityLog, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	if limit > MaxLogLimit {
		limit = MaxLogLimit
	}
	logs, err := a.repo.ListLogs(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing activity logs: %w", err)
	}
	return logs, nil
}

// Wait blocks until every pending Log call has finished.
func (a *ActivityLogger) Wait() {
	if a == nil {
		return
	}
	a.wg.Wait()
}
