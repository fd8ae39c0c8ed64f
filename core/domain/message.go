package domain

import (
	"time"
)

// Canonical folder names. Anything else is a passthrough of the raw path.
const (
	FolderInbox     = "INBOX"
	FolderSent      = "Sent"
	FolderDrafts    = "Drafts"
	FolderTrash     = "Trash"
	FolderSpam      = "Spam"
	FolderArchive   = "Archive"
	FolderImportant = "Important"
	FolderStarred   = "Starred"
)

// Message is one mirrored mail. The (AccountID, UID, Folder) triple is
// unique; the sync engine only ever appends, the API may flip IsRead and
// set DeletedAt.
type Message struct {
	ID        int64   `json:"id"`
	AccountID int64   `json:"account_id"`
	UID       int64   `json:"uid"`
	MessageID *string `json:"message_id,omitempty"`

	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	HTMLBody *string `json:"html_body,omitempty"`

	Folder string `json:"folder"`
	IsRead bool   `json:"is_read"`

	ReceivedAt time.Time  `json:"received_at"`
	FetchedAt  time.Time  `json:"fetched_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the row is a tombstone. Tombstones are hidden
// from queries but kept so a re-sync cannot resurrect the message.
func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// Attachment is a stored attachment reference. The bytes themselves live
// behind StorageURL in the external blob sink.
type Attachment struct {
	ID          int64     `json:"id"`
	MessageID   int64     `json:"message_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	StorageURL  string    `json:"storage_url"`
	CreatedAt   time.Time `json:"created_at"`
}
