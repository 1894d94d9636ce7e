// Package model defines the data structures used throughout the application.
package model

import "time"

// User is an account that owns deals, activities, goals and mail tokens.
//
// PasswordHash is a bcrypt hash (see auth.PasswordService). It is never
// serialized: the json:"-" tag keeps it out of every API response.
type User struct {
	ID           string    `json:"id"        db:"id"`
	Email        string    `json:"email"     db:"email"`
	FullName     string    `json:"fullName"  db:"full_name"`
	PasswordHash string    `json:"-"         db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}
