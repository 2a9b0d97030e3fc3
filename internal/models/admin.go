package models

import "time"

// PlaceholderSecret is stored for admins that arrived from the remote document with no
// local secret. It is not a valid bcrypt hash, so no password ever matches it; the owning
// user must set a new secret (NeedsSecretReset is true for such profiles).
const PlaceholderSecret = "!reset-required"

// AdminProfile is an administrator allowed to edit the board. Username is the merge key.
type AdminProfile struct {
	Username         string    `json:"username"`
	DisplayName      string    `json:"name"`
	CredentialSecret string    `json:"password,omitempty"`
	NeedsSecretReset bool      `json:"needsSecretReset,omitempty"`
	CreatedAt        time.Time `json:"createdAt,omitzero"`
}

// RemoteView returns the profile as it is published: identity and display name only.
func (a AdminProfile) RemoteView() AdminProfile {
	return AdminProfile{
		Username:    a.Username,
		DisplayName: a.DisplayName,
		CreatedAt:   a.CreatedAt,
	}
}

// HasUsableSecret reports whether the profile can authenticate.
func (a *AdminProfile) HasUsableSecret() bool {
	return a.CredentialSecret != "" && a.CredentialSecret != PlaceholderSecret && !a.NeedsSecretReset
}
