package models

import (
	"time"
)

type User struct {
	ID                string
	Email             string
	PasswordHash      string // empty for OAuth-only users
	FirstName         string
	LastName          string
	EmailVerified     bool
	Role              string // "customer", "admin"
	GoogleID          string // provider id for Google-linked accounts
	TOTPSecret        []byte // AES-GCM encrypted TOTP secret, nil when MFA disabled
	TOTPNonce         []byte
	TOTPEnabled       bool
	PasswordChangedAt *time.Time // used to invalidate tokens issued before a reset
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// FullName returns the display name for emails and responses.
func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
