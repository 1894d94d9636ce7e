package model

import "time"

// MailToken is the stored OAuth grant for one (user, provider) pair.
//
// There is at most one row per pair; reconnecting overwrites it. RefreshToken
// may be empty when the provider omitted it on a later consent, in which case
// the previously stored one is kept.
type MailToken struct {
	UserID       string    `json:"userId"`
	Provider     string    `json:"provider"`
	AccountEmail string    `json:"accountEmail"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expiresAt"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
