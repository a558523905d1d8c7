package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/inforx/internal/apperror"
	"github.com/sakif/inforx/internal/model"
	"github.com/sakif/inforx/internal/repository"
)

var (
	_ repository.UserRepository    = (*DB)(nil)
	_ repository.ProfileRepository = (*DB)(nil)
)

const userColumns = `id, email, password_hash, google_sub, full_name, role, created_at, updated_at`

// CreateUser inserts a new account. The id is a fresh UUID; the email is
// stored lower-cased. A taken email is reported as a conflict.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	user.ID = uuid.NewString()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.exec(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		nullString(user.PasswordHash),
		nullString(user.GoogleSub),
		user.FullName,
		user.Role,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Email)
		}
		return fmt.Errorf("sqlstore: creating user: %w", err)
	}
	return nil
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return db.getUser(ctx, "id", id)
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return db.getUser(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

func (db *DB) GetUserByGoogleSub(ctx context.Context, sub string) (*model.User, error) {
	return db.getUser(ctx, "google_sub", sub)
}

// getUser looks a user up by one of the unique columns. column is never
// caller-controlled.
func (db *DB) getUser(ctx context.Context, column, value string) (*model.User, error) {
	var (
		u            model.User
		passwordHash sql.NullString
		googleSub    sql.NullString
	)
	err := db.queryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`,
		value,
	).Scan(
		&u.ID,
		&u.Email,
		&passwordHash,
		&googleSub,
		&u.FullName,
		&u.Role,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", value)
		}
		return nil, fmt.Errorf("sqlstore: getting user by %s: %w", column, err)
	}
	u.PasswordHash = passwordHash.String
	u.GoogleSub = googleSub.String
	return &u, nil
}

func (db *DB) LinkGoogle(ctx context.Context, userID, sub string) error {
	res, err := db.exec(ctx,
		`UPDATE users SET google_sub = ?, updated_at = ? WHERE id = ?`,
		sub, time.Now().UTC(), userID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("google account", sub)
		}
		return fmt.Errorf("sqlstore: linking google account to %s: %w", userID, err)
	}
	return checkAffected(res, apperror.NotFound("user", userID))
}

func (db *DB) UpdatePassword(ctx context.Context, userID, hash string) error {
	res, err := db.exec(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: updating password for %s: %w", userID, err)
	}
	return checkAffected(res, apperror.NotFound("user", userID))
}

// UpsertProfile creates the profile or, when one already exists for the id,
// overwrites its email, name and role. avatar_url is only replaced when the
// incoming profile carries one.
func (db *DB) UpsertProfile(ctx context.Context, p *model.Profile) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := db.exec(ctx,
		`INSERT INTO profiles (id, email, full_name, role, avatar_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   email = excluded.email,
		   full_name = excluded.full_name,
		   role = excluded.role,
		   avatar_url = COALESCE(excluded.avatar_url, profiles.avatar_url),
		   updated_at = excluded.updated_at`,
		p.ID,
		p.Email,
		p.FullName,
		p.Role,
		p.AvatarURL,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: upserting profile %s: %w", p.ID, err)
	}
	return nil
}

func (db *DB) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	err := db.queryRow(ctx,
		`SELECT id, email, full_name, role, avatar_url, created_at, updated_at
		 FROM profiles WHERE id = ?`,
		userID,
	).Scan(
		&p.ID,
		&p.Email,
		&p.FullName,
		&p.Role,
		&p.AvatarURL,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("profile", userID)
		}
		return nil, fmt.Errorf("sqlstore: getting profile %s: %w", userID, err)
	}
	return &p, nil
}

// UpdateProfile applies settings changes (name and avatar).
func (db *DB) UpdateProfile(ctx context.Context, p *model.Profile) error {
	p.UpdatedAt = time.Now().UTC()
	res, err := db.exec(ctx,
		`UPDATE profiles SET full_name = ?, avatar_url = ?, updated_at = ? WHERE id = ?`,
		p.FullName, p.AvatarURL, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: updating profile %s: %w", p.ID, err)
	}
	return checkAffected(res, apperror.NotFound("profile", p.ID))
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
