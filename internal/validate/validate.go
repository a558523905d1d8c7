// Package validate holds the pure input checks shared by the auth and
// profile flows. Nothing here does I/O.
//
// Field validators return a Result; form validators run every field
// validator (no short-circuit) and collect all failures into FormResult so a
// client can show every error at once.
package validate

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	fullNamePattern = regexp.MustCompile(`^[A-Za-z' -]+$`)
)

const MinPasswordLength = 8

// Result is the outcome of a single field check.
type Result struct {
	Valid   bool
	Message string
}

func ok() Result { return Result{Valid: true} }

func fail(msg string) Result { return Result{Message: msg} }

// FormResult aggregates field results keyed by field name.
type FormResult struct {
	IsValid bool              `json:"isValid"`
	Errors  map[string]string `json:"errors"`
}

func newForm() *FormResult {
	return &FormResult{IsValid: true, Errors: map[string]string{}}
}

func (f *FormResult) check(field string, r Result) {
	if !r.Valid {
		f.IsValid = false
		f.Errors[field] = r.Message
	}
}

func Email(s string) Result {
	s = strings.TrimSpace(s)
	if s == "" {
		return fail("Email is required")
	}
	if !emailPattern.MatchString(s) {
		return fail("Please enter a valid email address")
	}
	return ok()
}

// PasswordResult carries a 0-5 strength score: one point for meeting the
// minimum length plus one per character class present.
type PasswordResult struct {
	Result
	Score int
}

func Password(s string) PasswordResult {
	var lower, upper, digit, symbol bool
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsSpace(r):
			symbol = true
		}
	}

	classes := 0
	for _, present := range []bool{lower, upper, digit, symbol} {
		if present {
			classes++
		}
	}

	longEnough := len(s) >= MinPasswordLength
	score := classes
	if longEnough {
		score++
	}

	switch {
	case s == "":
		return PasswordResult{Result: fail("Password is required"), Score: score}
	case !longEnough:
		return PasswordResult{Result: fail("Password must be at least 8 characters long"), Score: score}
	case classes < 3:
		return PasswordResult{
			Result: fail("Password must contain at least 3 of: lowercase, uppercase, numbers, symbols"),
			Score:  score,
		}
	}
	return PasswordResult{Result: ok(), Score: score}
}

func PasswordConfirmation(password, confirm string) Result {
	if confirm == "" {
		return fail("Please confirm your password")
	}
	if password != confirm {
		return fail("Passwords do not match")
	}
	return ok()
}

func FullName(s string) Result {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return fail("Full name must be at least 2 characters")
	}
	if !fullNamePattern.MatchString(s) {
		return fail("Full name can only contain letters, spaces, hyphens and apostrophes")
	}
	return ok()
}

// Role accepts any known role. SignUpRole narrows that to what a user may
// pick for themselves.
func Role(s string) Result {
	switch s {
	case "patient", "doctor", "admin":
		return ok()
	}
	return fail("Role must be patient, doctor or admin")
}

func SignUpRole(s string) Result {
	switch s {
	case "patient", "doctor":
		return ok()
	}
	return fail("Role must be patient or doctor")
}

// SignUpForm is the input of account creation.
type SignUpForm struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	FullName        string `json:"fullName"`
	Role            string `json:"role"`
}

// ValidateSignUp checks every sign-up field. ConfirmPassword is only checked
// when the client sent one, so API callers may omit it.
func ValidateSignUp(f SignUpForm) FormResult {
	res := newForm()
	res.check("email", Email(f.Email))
	res.check("password", Password(f.Password).Result)
	if f.ConfirmPassword != "" {
		res.check("confirmPassword", PasswordConfirmation(f.Password, f.ConfirmPassword))
	}
	res.check("fullName", FullName(f.FullName))
	role := f.Role
	if role == "" {
		role = "patient"
	}
	res.check("role", SignUpRole(role))
	return *res
}

func ValidateSignIn(email, password string) FormResult {
	res := newForm()
	res.check("email", Email(email))
	if password == "" {
		res.check("password", fail("Password is required"))
	}
	return *res
}

func ValidatePasswordReset(password, confirm string) FormResult {
	res := newForm()
	res.check("password", Password(password).Result)
	if confirm != "" {
		res.check("confirmPassword", PasswordConfirmation(password, confirm))
	}
	return *res
}

func ValidateProfile(fullName string) FormResult {
	res := newForm()
	res.check("fullName", FullName(fullName))
	return *res
}
