// Package service holds the business rules of InfoRx.
//
//	Handler (HTTP) → Service (rules, orchestration) → repository (DB)
//	                                                ↘ storage, extract, ai, tts
//
// Services take and return domain types and report failures as apperror
// values; they know nothing about HTTP.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/sakif/inforx/internal/apperror"
	"github.com/sakif/inforx/internal/auth"
	"github.com/sakif/inforx/internal/model"
	"github.com/sakif/inforx/internal/repository"
	"github.com/sakif/inforx/internal/validate"
)

// invalidCredentials is deliberately the same for an unknown email and a
// wrong password.
const invalidCredentials = "Invalid login credentials"

// AccountStore is the persistence AuthService needs.
type AccountStore interface {
	repository.UserRepository
	repository.ProfileRepository
}

// Mailer delivers password-reset links.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, link string) error
}

// LogMailer "sends" mail by logging it. It is the default until an SMTP
// relay is configured.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) SendPasswordReset(_ context.Context, email, link string) error {
	m.Logger.Info("password reset requested", slog.String("email", email), slog.String("link", link))
	return nil
}

// AuthService owns sign-up, sign-in (password and Google), password reset
// and the profile mirror of every account.
type AuthService struct {
	accounts  AccountStore
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	mailer    Mailer
	activity  *ActivityLogger
	siteURL   string
	logger    *slog.Logger
}

func NewAuthService(
	accounts AccountStore,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	mailer Mailer,
	activity *ActivityLogger,
	siteURL string,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		accounts:  accounts,
		tokens:    tokens,
		passwords: passwords,
		mailer:    mailer,
		activity:  activity,
		siteURL:   strings.TrimRight(siteURL, "/"),
		logger:    logger,
	}
}

// AuthResult is what a successful sign-in hands to the HTTP layer.
type AuthResult struct {
	User    *model.User    `json:"user"`
	Profile *model.Profile `json:"profile"`
	Token   string         `json:"-"`
}

// Session is the payload of /api/me.
type Session struct {
	User    *model.User    `json:"user"`
	Profile *model.Profile `json:"profile"`
}

// SignUp creates the account and then its profile.
//
// The two writes are not atomic. When the profile upsert fails the account
// already exists and the error is returned; EnsureProfile rebuilds the
// profile on the next sign-in.
func (s *AuthService) SignUp(ctx context.Context, form validate.SignUpForm) (*AuthResult, error) {
	if res := validate.ValidateSignUp(form); !res.IsValid {
		return nil, apperror.ValidationErrors(res.Errors)
	}

	hash, err := s.passwords.Hash(form.Password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", err.Error())
	}

	role := form.Role
	if role == "" {
		role = model.RolePatient
	}
	user := &model.User{
		Email:        form.Email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(form.FullName),
		Role:         role,
	}
	if err := s.accounts.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, &apperror.AppError{Err: apperror.ErrConflict, Message: "User already registered", Field: "email"}
		}
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	profile := model.ProfileFromUser(user)
	if err := s.accounts.UpsertProfile(ctx, profile); err != nil {
		s.logger.Error("account created without profile",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service/auth: creating profile for %s: %w", user.ID, err)
	}

	s.logger.Info("user signed up", slog.String("userID", user.ID), slog.String("role", role))
	s.activity.Log(ctx, user.ID, ActionSignUp, map[string]any{"role": role})

	return s.issue(user, profile)
}

// SignIn verifies email and password.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	if res := validate.ValidateSignIn(email, password); !res.IsValid {
		return nil, apperror.ValidationErrors(res.Errors)
	}

	user, err := s.accounts.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(invalidCredentials)
		}
		return nil, fmt.Errorf("service/auth: looking up %s: %w", email, err)
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		return nil, apperror.Unauthorized(invalidCredentials)
	}

	profile, err := s.EnsureProfile(ctx, user)
	if err != nil {
		return nil, err
	}

	s.activity.Log(ctx, user.ID, ActionSignIn, map[string]any{"provider": "email"})
	return s.issue(user, profile)
}

// LoginWithGoogle finds the account by Google subject, then by email (linking
// it), and creates a patient account on first login. Google identities with
// an unverified email are refused before any lookup.
func (s *AuthService) LoginWithGoogle(ctx context.Context, gu *auth.GoogleUser) (*AuthResult, error) {
	if gu == nil {
		return nil, fmt.Errorf("service/auth: google user must not be nil")
	}
	if !gu.EmailVerified {
		s.logger.Warn("google login refused: email not verified", slog.String("sub", gu.Sub))
		return nil, apperror.Forbidden("Google email is not verified")
	}

	user, err := s.accounts.GetUserByGoogleSub(ctx, gu.Sub)
	switch {
	case err == nil:
	case errors.Is(err, apperror.ErrNotFound):
		user, err = s.accounts.GetUserByEmail(ctx, gu.Email)
		switch {
		case err == nil:
			if err := s.accounts.LinkGoogle(ctx, user.ID, gu.Sub); err != nil {
				return nil, fmt.Errorf("service/auth: linking google account: %w", err)
			}
			user.GoogleSub = gu.Sub
		case errors.Is(err, apperror.ErrNotFound):
			user = &model.User{
				Email:     gu.Email,
				GoogleSub: gu.Sub,
				FullName:  strings.TrimSpace(gu.Name),
				Role:      model.RolePatient,
			}
			if err := s.accounts.CreateUser(ctx, user); err != nil {
				return nil, fmt.Errorf("service/auth: creating google user: %w", err)
			}
			s.logger.Info("user signed up via Google", slog.String("userID", user.ID))
			s.activity.Log(ctx, user.ID, ActionSignUp, map[string]any{"provider": "google"})
		default:
			return nil, fmt.Errorf("service/auth: looking up %s: %w", gu.Email, err)
		}
	default:
		return nil, fmt.Errorf("service/auth: looking up google subject: %w", err)
	}

	profile, err := s.EnsureProfile(ctx, user)
	if err != nil {
		return nil, err
	}
	if profile.AvatarURL == nil && gu.Picture != "" {
		pic := gu.Picture
		profile.AvatarURL = &pic
		if err := s.accounts.UpdateProfile(ctx, profile); err != nil {
			s.logger.Warn("failed to store google avatar", slog.String("userID", user.ID), slog.String("error", err.Error()))
		}
	}

	s.activity.Log(ctx, user.ID, ActionSignIn, map[string]any{"provider": "google"})
	return s.issue(user, profile)
}

// EnsureProfile returns the user's profile, recreating it from the account
// when it is missing.
func (s *AuthService) EnsureProfile(ctx context.Context, user *model.User) (*model.Profile, error) {
	profile, err := s.accounts.GetProfile(ctx, user.ID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/auth: loading profile %s: %w", user.ID, err)
	}

	profile = model.ProfileFromUser(user)
	if err := s.accounts.UpsertProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("service/auth: recreating profile %s: %w", user.ID, err)
	}
	s.logger.Warn("recreated missing profile", slog.String("userID", user.ID))
	return profile, nil
}

// SignOut only records the event; access tokens are stateless.
func (s *AuthService) SignOut(ctx context.Context, userID string) {
	if userID != "" {
		s.activity.Log(ctx, userID, ActionSignOut, nil)
	}
}

// Refresh issues a fresh token for a still-valid session.
func (s *AuthService) Refresh(ctx context.Context, userID string) (*AuthResult, error) {
	sess, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.issue(sess.User, sess.Profile)
}

// Me returns the account and its profile. A token for a deleted account is
// treated as no session.
func (s *AuthService) Me(ctx context.Context, userID string) (*Session, error) {
	user, err := s.accounts.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("Unauthorized")
		}
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", userID, err)
	}
	profile, err := s.EnsureProfile(ctx, user)
	if err != nil {
		return nil, err
	}
	return &Session{User: user, Profile: profile}, nil
}

// UpdateProfile changes the display name and avatar. A nil avatarURL leaves
// the avatar unchanged; an empty one clears it.
func (s *AuthService) UpdateProfile(ctx context.Context, userID, fullName string, avatarURL *string) (*model.Profile, error) {
	if res := validate.ValidateProfile(fullName); !res.IsValid {
		return nil, apperror.ValidationErrors(res.Errors)
	}

	sess, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile := sess.Profile
	profile.FullName = strings.TrimSpace(fullName)
	if avatarURL != nil {
		if v := strings.TrimSpace(*avatarURL); v == "" {
			profile.AvatarURL = nil
		} else {
			profile.AvatarURL = &v
		}
	}

	if err := s.accounts.UpdateProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("service/auth: updating profile %s: %w", userID, err)
	}
	s.activity.Log(ctx, userID, ActionUpdateProfile, nil)
	return profile, nil
}

// RequestPasswordReset mails a reset link when the email belongs to an
// account. Unknown emails succeed silently so the endpoint cannot be used to
// probe for accounts.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	if res := validate.Email(email); !res.Valid {
		return apperror.ValidationFailed("email", res.Message)
	}

	user, err := s.accounts.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Debug("password reset for unknown email")
			return nil
		}
		return fmt.Errorf("service/auth: looking up %s: %w", email, err)
	}

	token, err := s.tokens.GenerateReset(user.ID)
	if err != nil {
		return fmt.Errorf("service/auth: generating reset token: %w", err)
	}
	link := s.siteURL + "/auth/reset-password?token=" + url.QueryEscape(token)
	if err := s.mailer.SendPasswordReset(ctx, user.Email, link); err != nil {
		s.logger.Error("failed to send password reset", slog.String("userID", user.ID), slog.String("error", err.Error()))
	}
	return nil
}

// ConfirmPasswordReset sets a new password for the account named by a reset
// token.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, token, password, confirm string) error {
	userID, err := s.tokens.ValidateReset(token)
	if err != nil {
		return apperror.Unauthorized("Invalid or expired reset token")
	}
	if res := validate.ValidatePasswordReset(password, confirm); !res.IsValid {
		return apperror.ValidationErrors(res.Errors)
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return apperror.ValidationFailed("password", err.Error())
	}
	if err := s.accounts.UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.Unauthorized("Invalid or expired reset token")
		}
		return fmt.Errorf("service/auth: updating password for %s: %w", userID, err)
	}
	s.logger.Info("password reset", slog.String("userID", userID))
	return nil
}

// ValidateToken returns the user id encoded in an access token.
func (s *AuthService) ValidateToken(tokenStr string) (string, error) {
	userID, err := s.tokens.Validate(tokenStr)
	if err != nil {
		return "", fmt.Errorf("service/auth: %w", err)
	}
	return userID, nil
}

func (s *AuthService) issue(user *model.User, profile *model.Profile) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Profile: profile, Token: token}, nil
}
