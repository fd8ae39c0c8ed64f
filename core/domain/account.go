package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider is the canonical upstream provider tag.
type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
	ProviderHotmail Provider = "hotmail"
	ProviderYahoo   Provider = "yahoo"
	ProviderICloud  Provider = "icloud"
	ProviderAOL     Provider = "aol"
	ProviderUnknown Provider = "unknown"
)

// imapHosts maps a provider to its IMAP endpoint.
var imapHosts = map[Provider]string{
	ProviderGmail:   "imap.gmail.com",
	ProviderOutlook: "outlook.office365.com",
	ProviderHotmail: "outlook.office365.com",
	ProviderYahoo:   "imap.mail.yahoo.com",
	ProviderICloud:  "imap.mail.me.com",
	ProviderAOL:     "imap.aol.com",
}

// DetectProvider maps a mailbox address to its provider by domain.
func DetectProvider(email string) Provider {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ProviderUnknown
	}
	switch strings.ToLower(email[at+1:]) {
	case "gmail.com":
		return ProviderGmail
	case "outlook.com", "live.com":
		return ProviderOutlook
	case "hotmail.com":
		return ProviderHotmail
	case "yahoo.com":
		return ProviderYahoo
	case "icloud.com", "me.com":
		return ProviderICloud
	case "aol.com":
		return ProviderAOL
	default:
		return ProviderUnknown
	}
}

// IMAPHost returns the IMAP endpoint for the provider, or "" if the
// provider has no known IMAP path.
func (p Provider) IMAPHost() string {
	return imapHosts[p]
}

// MailAccount links a user to one remote mailbox. Exactly one credential
// mode is populated: EncryptedPassword (IMAP app password, vault sealed)
// or AccessToken+RefreshToken (Microsoft Graph OAuth).
type MailAccount struct {
	ID       int64     `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	Email    string    `json:"email"`
	Provider Provider  `json:"provider"`

	EncryptedPassword *string `json:"-"`
	AccessToken       *string `json:"-"`
	RefreshToken      *string `json:"-"`

	// SyncedFolders holds the canonical names of folders that completed at
	// least one sync; the scheduler replays exactly this set.
	SyncedFolders []string `json:"synced_folders"`

	// LastFetchedUID is the account-wide UID watermark; per-folder
	// watermarks are derived from the mirror.
	LastFetchedUID int64      `json:"last_fetched_uid"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsOAuth reports whether the account uses the Graph path. An account with
// a refresh token never consumes the IMAP path.
func (a *MailAccount) IsOAuth() bool {
	return a.RefreshToken != nil && *a.RefreshToken != ""
}

// HasSyncedFolder reports whether the canonical folder completed a sync.
func (a *MailAccount) HasSyncedFolder(folder string) bool {
	for _, f := range a.SyncedFolders {
		if f == folder {
			return true
		}
	}
	return false
}
