package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"mailbridge/core/domain"
	"mailbridge/core/port/out"
	"mailbridge/pkg/apperr"
)

// RefreshTokenRepository implements out.RefreshTokenRepository.
type RefreshTokenRepository struct {
	db *sqlx.DB
}

var _ out.RefreshTokenRepository = (*RefreshTokenRepository)(nil)

func NewRefreshTokenRepository(db *sqlx.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

type refreshTokenRow struct {
	ID         uuid.UUID     `db:"id"`
	Hash       string        `db:"hash"`
	UserID     uuid.UUID     `db:"user_id"`
	ExpiresAt  time.Time     `db:"expires_at"`
	Revoked    bool          `db:"revoked"`
	ReplacedBy uuid.NullUUID `db:"replaced_by"`
	CreatedAt  time.Time     `db:"created_at"`
}

func (r refreshTokenRow) toDomain() *domain.RefreshToken {
	token := &domain.RefreshToken{
		ID:        r.ID,
		Hash:      r.Hash,
		UserID:    r.UserID,
		ExpiresAt: r.ExpiresAt,
		Revoked:   r.Revoked,
		CreatedAt: r.CreatedAt,
	}
	if r.ReplacedBy.Valid {
		token.ReplacedBy = &r.ReplacedBy.UUID
	}
	return token
}

func (r *RefreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, hash, user_id, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query,
		token.ID, token.Hash, token.UserID, token.ExpiresAt,
	).Scan(&token.CreatedAt)
	if err != nil {
		return apperr.DatabaseError("create refresh token", err)
	}
	return nil
}

func (r *RefreshTokenRepository) GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	var row refreshTokenRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM refresh_tokens WHERE hash = $1`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("refresh token")
	}
	if err != nil {
		return nil, apperr.DatabaseError("get refresh token", err)
	}
	return row.toDomain(), nil
}

// Rotate retires the old token and stores its successor in one transaction
// so a crash cannot leave two live tokens in the chain.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldID uuid.UUID, next *domain.RefreshToken) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.DatabaseError("begin rotation", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE refresh_tokens SET replaced_by = $1 WHERE id = $2 AND revoked = FALSE AND replaced_by IS NULL`,
		next.ID, oldID)
	if err != nil {
		return apperr.DatabaseError("retire refresh token", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Unauthorized("refresh token already used")
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO refresh_tokens (id, hash, user_id, expires_at) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		next.ID, next.Hash, next.UserID, next.ExpiresAt,
	).Scan(&next.CreatedAt)
	if err != nil {
		return apperr.DatabaseError("store rotated refresh token", err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.DatabaseError("commit rotation", err)
	}
	return nil
}

func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = TRUE WHERE user_id = $1 AND revoked = FALSE`, userID)
	if err != nil {
		return apperr.DatabaseError("revoke refresh tokens", err)
	}
	return nil
}
