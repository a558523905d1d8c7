// Package model defines the data structures used throughout the application.
package model

import "time"

// Roles a profile can hold.
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

// User is the identity account: credentials plus the metadata captured at
// sign-up. Password-less users signed in through Google only.
//
// FullName and Role mirror what the user asked for at sign-up. They are kept
// on the account so a missing Profile can be rebuilt from them on the next
// sign-in.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	GoogleSub    string    `json:"-"`
	FullName     string    `json:"full_name"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Profile is the application-level mirror of a User, keyed by the same id.
// Exactly one exists per user.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	AvatarURL *string   `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileFromUser builds the profile that sign-up would have created.
func ProfileFromUser(u *User) *Profile {
	role := u.Role
	if role == "" {
		role = RolePatient
	}
	return &Profile{
		ID:       u.ID,
		Email:    u.Email,
		FullName: u.FullName,
		Role:     role,
	}
}
