package model

import "time"

// CredentialRecord holds the OAuth tokens for a user's linked drive.
// A nil ExpiresAt means the access token must be treated as expired.
type CredentialRecord struct {
	UserID       string     `json:"user_id"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ExpiresWithin reports whether the access token expires at or before now+window.
func (c *CredentialRecord) ExpiresWithin(now time.Time, window time.Duration) bool {
	if c.ExpiresAt == nil {
		return true
	}
	return !c.ExpiresAt.After(now.Add(window))
}

// ItemKind distinguishes files from folders in a drive listing.
type ItemKind string

const (
	KindFile   ItemKind = "file"
	KindFolder ItemKind = "folder"
)

// DriveItem is a single entry of a drive folder listing.
type DriveItem struct {
	Name        string   `json:"name"`
	ID          string   `json:"id"`
	WebURL      string   `json:"webUrl"`
	DownloadURL string   `json:"downloadUrl,omitempty"`
	Kind        ItemKind `json:"type"`
}

// ContextFileRef points at a drive file the user attached to a chat message.
type ContextFileRef struct {
	Name        string `json:"name"`
	ID          string `json:"id,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// Resolvable reports whether the reference carries enough to locate the file.
func (r ContextFileRef) Resolvable() bool {
	return r.ID != "" || r.DownloadURL != ""
}

// ConversationTurn is one prior message of the chat as supplied by the client.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
