package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is an owner of one or more mirrored mailboxes. Users sign up with a
// local password or arrive through an external identity; either way the
// record is never deleted by the sync engine.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	PasswordHash *string    `json:"-"`
	ExternalID   *string    `json:"external_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// RefreshToken is one link in a user's refresh-token rotation chain. Only
// the hash is stored; ReplacedBy points at the successor once rotated.
type RefreshToken struct {
	ID         uuid.UUID  `json:"id"`
	Hash       string     `json:"-"`
	UserID     uuid.UUID  `json:"user_id"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Revoked    bool       `json:"revoked"`
	ReplacedBy *uuid.UUID `json:"replaced_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Active reports whether the token can still be redeemed.
func (t *RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && t.ReplacedBy == nil && now.Before(t.ExpiresAt)
}
