package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/inforx/internal/apperror"
	"github.com/sakif/inforx/internal/auth"
	"github.com/sakif/inforx/internal/model"
	"github.com/sakif/inforx/internal/service"
	"github.com/sakif/inforx/internal/validate"
)

const stateCookie = "oauth_state"

// AuthHandler serves account creation, sign-in (password and Google), the
// password-reset flow and the session endpoints.
//
// Successful sign-ins set the HttpOnly "token" cookie for browsers and also
// return the token in the body for API clients that send it as a bearer.
type AuthHandler struct {
	svc    *service.AuthService
	google *auth.GoogleProvider // nil when Google sign-in is not configured
	ttl    time.Duration
	site   string
	secure bool
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler. siteURL is the frontend origin that
// OAuth redirects land on.
func NewAuthHandler(
	svc *service.AuthService,
	google *auth.GoogleProvider,
	tokenTTL time.Duration,
	siteURL string,
	logger *slog.Logger,
) *AuthHandler {
	site := strings.TrimRight(siteURL, "/")
	return &AuthHandler{
		svc:    svc,
		google: google,
		ttl:    tokenTTL,
		site:   site,
		secure: strings.HasPrefix(site, "https://"),
		logger: logger,
	}
}

// SessionResponse is the body of every endpoint that starts a session.
type SessionResponse struct {
	User      *model.User    `json:"user"`
	Profile   *model.Profile `json:"profile"`
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

func (h *AuthHandler) startSession(w http.ResponseWriter, status int, res *service.AuthResult) {
	h.setTokenCookie(w, res.Token, int(h.ttl.Seconds()))
	writeJSON(w, status, SessionResponse{
		User:      res.User,
		Profile:   res.Profile,
		Token:     res.Token,
		ExpiresAt: time.Now().Add(h.ttl).UTC(),
	})
}

// setTokenCookie writes the session cookie. maxAge < 0 deletes it.
func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// HandleSignUp creates an account and signs it in.
//
// HTTP: POST /auth/signup
// BODY: {"email", "password", "confirmPassword"?, "fullName", "role"?}
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var form validate.SignUpForm
	if err := decodeJSON(r, &form); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.svc.SignUp(r.Context(), form)
	if err != nil {
		writeError(w, err)
		return
	}
	h.startSession(w, http.StatusCreated, res)
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleSignIn verifies email and password.
//
// HTTP: POST /auth/signin
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.svc.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	h.startSession(w, http.StatusOK, res)
}

// HandleSignOut clears the cookie. Tokens are stateless, so one that was
// copied elsewhere stays valid until it expires.
//
// HTTP: POST /auth/signout
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	if id, ok := auth.UserIDFromContext(r.Context()); ok {
		h.svc.SignOut(r.Context(), id)
	}
	h.setTokenCookie(w, "", -1)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Signed out"})
}

// HandleRefresh reissues the token of a still-valid session.
//
// HTTP: POST /auth/refresh
// Auth: Required
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Refresh(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	h.startSession(w, http.StatusOK, res)
}

type resetRequest struct {
	Email string `json:"email"`
}

// HandleResetPassword mails a reset link. It answers 202 whether or not the
// email has an account.
//
// HTTP: POST /auth/reset-password
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, MessageResponse{
		Message: "If an account exists for this email, a reset link has been sent",
	})
}

type confirmResetRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// HandleConfirmReset sets the new password.
//
// HTTP: POST /auth/reset-password/confirm
func (h *AuthHandler) HandleConfirmReset(w http.ResponseWriter, r *http.Request) {
	var req confirmResetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.ConfirmPasswordReset(r.Context(), req.Token, req.Password, req.ConfirmPassword); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password updated"})
}

// HandleGoogleLogin redirects the browser to Google.
//
// HTTP: GET /auth/google
//
// The random state is kept in a short-lived HttpOnly cookie and checked on
// callback, which proves the callback was started by this server.
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		http.NotFound(w, r)
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.google.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGoogleCallback completes the OAuth flow and lands on the dashboard.
// Every failure redirects to the sign-in page with an error code.
//
// HTTP: GET /auth/callback?code=xxx&state=yyy
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		http.NotFound(w, r)
		return
	}

	cookie, err := r.Cookie(stateCookie)
	q := r.URL.Query()
	if err != nil || cookie.Value == "" || q.Get("state") != cookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		h.failLogin(w, r, "invalid_state")
		return
	}
	// Single use.
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	if e := q.Get("error"); e != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", e))
		h.failLogin(w, r, "access_denied")
		return
	}
	code := q.Get("code")
	if code == "" {
		h.failLogin(w, r, "missing_code")
		return
	}

	gu, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: google exchange failed", slog.String("error", err.Error()))
		h.failLogin(w, r, "exchange_failed")
		return
	}

	res, err := h.svc.LoginWithGoogle(r.Context(), gu)
	if errors.Is(err, apperror.ErrForbidden) {
		h.failLogin(w, r, "email_unverified")
		return
	}
	if err != nil {
		h.logger.Error("auth callback: login failed", slog.String("error", err.Error()))
		h.failLogin(w, r, "login_failed")
		return
	}

	h.setTokenCookie(w, res.Token, int(h.ttl.Seconds()))
	http.Redirect(w, r, h.site+"/dashboard", http.StatusSeeOther)
}

func (h *AuthHandler) failLogin(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, h.site+"/auth/signin?error="+url.QueryEscape(code), http.StatusSeeOther)
}

// HandleMe returns the signed-in account and its profile.
//
// HTTP: GET /api/me
// Auth: Required
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	sess, err := h.svc.Me(r.Context(), id)
	if err != nil {
		h.logger.Error("HandleMe: session lookup failed", slog.String("userID", id), slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type profileRequest struct {
	FullName  string  `json:"fullName"`
	AvatarURL *string `json:"avatarUrl"`
}

// HandleUpdateProfile changes display name and avatar.
//
// HTTP: PUT /api/profile
// Auth: Required
func (h *AuthHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	profile, err := h.svc.UpdateProfile(r.Context(), id, req.FullName, req.AvatarURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
