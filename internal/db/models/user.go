// Package models defines the persisted BoxIT entities and the view types the API returns.
package models

import "time"

// User is an account holder. Credential and token fields never leave the server.
type User struct {
	ID                   string     `db:"id" json:"id"`
	Email                string     `db:"email" json:"email"`
	PasswordHash         string     `db:"password_hash" json:"-"`
	Name                 *string    `db:"name" json:"name"`
	EmailVerified        bool       `db:"email_verified" json:"emailVerified"`
	VerificationToken    *string    `db:"verification_token" json:"-"`
	PasswordResetToken   *string    `db:"password_reset_token" json:"-"`
	PasswordResetExpires *time.Time `db:"password_reset_expires" json:"-"`
	CreatedAt            time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updatedAt"`
}

// ResetTokenValid reports whether the stored reset token is still usable at now.
func (u *User) ResetTokenValid(now time.Time) bool {
	if u.PasswordResetToken == nil || u.PasswordResetExpires == nil {
		return false
	}
	return now.Before(*u.PasswordResetExpires)
}

// DisplayName returns the user's name, or the email when no name was given.
func (u *User) DisplayName() string {
	if u.Name != nil && *u.Name != "" {
		return *u.Name
	}
	return u.Email
}
