package model

import "strings"

// User is an authenticated account member, resolved by normalized email for
// default-value resolution.
type User struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	// InitialsBlobID references the user's stored initials asset, if any.
	InitialsBlobID string `json:"initials_blob_id,omitempty"`
}

// FullName returns the user's display name built from name parts.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
