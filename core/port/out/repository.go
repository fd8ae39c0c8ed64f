// Package out defines the outbound ports the core services depend on.
package out

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mailbridge/core/domain"
)

// UserRepository persists users.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

// AccountRepository persists mail accounts. Both aggregates (users and
// accounts) live behind this layer so the auth and sync services never
// depend on each other directly.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.MailAccount) error
	GetByID(ctx context.Context, id int64) (*domain.MailAccount, error)
	GetByUserAndEmail(ctx context.Context, userID uuid.UUID, email string) (*domain.MailAccount, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.MailAccount, error)

	// ListActive returns every account ordered by oldest LastSyncedAt
	// first (NULLs first), for the scheduler tick.
	ListActive(ctx context.Context) ([]*domain.MailAccount, error)

	// UpdateOAuthTokens persists a rotated token pair in one statement.
	UpdateOAuthTokens(ctx context.Context, id int64, accessToken, refreshToken string) error

	// UpdatePassword replaces the vault-sealed app password.
	UpdatePassword(ctx context.Context, id int64, encryptedPassword string) error

	// UpdateSyncState records a completed sync: the UID watermark, the
	// completion instant, and the union of synced canonical folders.
	UpdateSyncState(ctx context.Context, id int64, lastFetchedUID int64, lastSyncedAt time.Time, syncedFolders []string) error

	Delete(ctx context.Context, id int64) error
}

// MessageFilter narrows message listings.
type MessageFilter struct {
	AccountID *int64
	Folder    *string
	IsRead    *bool
	FromDate  *time.Time
	ToDate    *time.Time
	Page      int
	Limit     int
}

// SearchHit is one ranked full-text search result.
type SearchHit struct {
	Message *domain.Message
	Rank    float64
}

// MessageRepository is the mirror store. Inserts are idempotent over the
// (account, uid, folder) triple; tombstones are preserved.
type MessageRepository interface {
	// InsertBatch inserts records with duplicate-safe semantics and
	// returns how many rows were actually written.
	InsertBatch(ctx context.Context, messages []*domain.Message) (int, error)

	// ExistsByUIDFolderAccount inspects all rows including tombstones, so
	// a re-sync never resurrects a soft-deleted message.
	ExistsByUIDFolderAccount(ctx context.Context, uid int64, folder string, accountID int64) (bool, error)

	// ExistsByMessageID checks all rows of the account and folder for the
	// provider message id, tombstones included. Graph rows carry locally
	// assigned UIDs, so replays can only be recognized by this id.
	ExistsByMessageID(ctx context.Context, accountID int64, folder, messageID string) (bool, error)

	// HighestUID returns MAX(uid) over live rows for the pair, or 0.
	HighestUID(ctx context.Context, accountID int64, folder string) (int64, error)

	// MaxUID returns MAX(uid) over all rows of the account (tombstones
	// included), for synthetic UID assignment.
	MaxUID(ctx context.Context, accountID int64) (int64, error)

	List(ctx context.Context, userID uuid.UUID, filter MessageFilter) ([]*domain.Message, int, error)
	GetByID(ctx context.Context, userID uuid.UUID, id int64) (*domain.Message, error)
	SetReadStatus(ctx context.Context, userID uuid.UUID, id int64, isRead bool) error
	SoftDelete(ctx context.Context, userID uuid.UUID, id int64) error

	// SearchText ranks live messages of the user by ts_rank desc, then
	// receivedAt desc.
	SearchText(ctx context.Context, userID uuid.UUID, query string, page, limit int) ([]*SearchHit, int, error)

	// SearchSender matches the from field by case-insensitive substring.
	SearchSender(ctx context.Context, userID uuid.UUID, sender string, page, limit int) ([]*domain.Message, int, error)
}

// AttachmentRepository records uploaded attachment references.
type AttachmentRepository interface {
	Create(ctx context.Context, att *domain.Attachment) error
	ListByMessage(ctx context.Context, messageID int64) ([]*domain.Attachment, error)
}

// RefreshTokenRepository persists the user refresh-token rotation chain.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *domain.RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)

	// Rotate marks old as replaced by next and stores next, atomically.
	Rotate(ctx context.Context, oldID uuid.UUID, next *domain.RefreshToken) error

	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
}
