package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/inforx/internal/model"
	"github.com/sakif/inforx/internal/repository"
)

var _ repository.LogRepository = (*DB)(nil)

// AppendLog inserts one activity row. Logs are never updated.
func (db *DB) AppendLog(ctx context.Context, e *model.ActivityLog) error {
	e.ID = xid.New().String()
	e.CreatedAt = time.Now().UTC()
	if len(e.Metadata) == 0 {
		e.Metadata = json.RawMessage(`{}`)
	}

	_, err := db.exec(ctx,
		`INSERT INTO logs (id, user_id, action, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Action, string(e.Metadata), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: appending log: %w", err)
	}
	return nil
}

func (db *DB) ListLogs(ctx context.Context, userID string, limit int) ([]model.ActivityLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.query(ctx,
		`SELECT id, user_id, action, metadata, created_at FROM logs
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing logs: %w", err)
	}
	defer rows.Close()

	out := []model.ActivityLog{}
	for rows.Next() {
		var (
			e    model.ActivityLog
			meta string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlstore: scanning log row: %w", err)
		}
		e.Metadata = json.RawMessage(meta)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: iterating logs: %w", err)
	}
	return out, nil
}
