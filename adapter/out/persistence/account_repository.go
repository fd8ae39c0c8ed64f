package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"mailbridge/core/domain"
	"mailbridge/core/port/out"
	"mailbridge/pkg/apperr"
)

// AccountRepository implements out.AccountRepository on PostgreSQL.
type AccountRepository struct {
	db *sqlx.DB
}

var _ out.AccountRepository = (*AccountRepository)(nil)

func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

type accountRow struct {
	ID                int64          `db:"id"`
	UserID            uuid.UUID      `db:"user_id"`
	Email             string         `db:"email"`
	Provider          string         `db:"provider"`
	EncryptedPassword sql.NullString `db:"encrypted_password"`
	AccessToken       sql.NullString `db:"access_token"`
	RefreshToken      sql.NullString `db:"refresh_token"`
	SyncedFolders     pq.StringArray `db:"synced_folders"`
	LastFetchedUID    int64          `db:"last_fetched_uid"`
	LastSyncedAt      sql.NullTime   `db:"last_synced_at"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (r accountRow) toDomain() *domain.MailAccount {
	account := &domain.MailAccount{
		ID:             r.ID,
		UserID:         r.UserID,
		Email:          r.Email,
		Provider:       domain.Provider(r.Provider),
		SyncedFolders:  []string(r.SyncedFolders),
		LastFetchedUID: r.LastFetchedUID,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.EncryptedPassword.Valid {
		account.EncryptedPassword = &r.EncryptedPassword.String
	}
	if r.AccessToken.Valid {
		account.AccessToken = &r.AccessToken.String
	}
	if r.RefreshToken.Valid {
		account.RefreshToken = &r.RefreshToken.String
	}
	if r.LastSyncedAt.Valid {
		t := r.LastSyncedAt.Time
		account.LastSyncedAt = &t
	}
	return account
}

func (r *AccountRepository) Create(ctx context.Context, account *domain.MailAccount) error {
	query := `
		INSERT INTO mail_accounts
			(user_id, email, provider, encrypted_password, access_token, refresh_token, synced_folders)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		account.UserID, account.Email, string(account.Provider),
		account.EncryptedPassword, account.AccessToken, account.RefreshToken,
		pq.StringArray(account.SyncedFolders),
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.AlreadyExists("mail account")
		}
		return apperr.DatabaseError("create mail account", err)
	}
	return nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*domain.MailAccount, error) {
	var row accountRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM mail_accounts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("mail account")
	}
	if err != nil {
		return nil, apperr.DatabaseError("get mail account", err)
	}
	return row.toDomain(), nil
}

func (r *AccountRepository) GetByUserAndEmail(ctx context.Context, userID uuid.UUID, email string) (*domain.MailAccount, error) {
	var row accountRow
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM mail_accounts WHERE user_id = $1 AND email = $2`, userID, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("mail account")
	}
	if err != nil {
		return nil, apperr.DatabaseError("get mail account", err)
	}
	return row.toDomain(), nil
}

func (r *AccountRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.MailAccount, error) {
	var rows []accountRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM mail_accounts WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, apperr.DatabaseError("list mail accounts", err)
	}
	accounts := make([]*domain.MailAccount, 0, len(rows))
	for _, row := range rows {
		accounts = append(accounts, row.toDomain())
	}
	return accounts, nil
}

// ListActive returns every account with the stalest first so the scheduler
// services the most overdue mailboxes each tick.
func (r *AccountRepository) ListActive(ctx context.Context) ([]*domain.MailAccount, error) {
	var rows []accountRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM mail_accounts ORDER BY last_synced_at ASC NULLS FIRST, id`)
	if err != nil {
		return nil, apperr.DatabaseError("list active accounts", err)
	}
	accounts := make([]*domain.MailAccount, 0, len(rows))
	for _, row := range rows {
		accounts = append(accounts, row.toDomain())
	}
	return accounts, nil
}

func (r *AccountRepository) UpdateOAuthTokens(ctx context.Context, id int64, accessToken, refreshToken string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE mail_accounts SET access_token = $1, refresh_token = $2, updated_at = now() WHERE id = $3`,
		accessToken, refreshToken, id)
	if err != nil {
		return apperr.DatabaseError("update oauth tokens", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("mail account")
	}
	return nil
}

func (r *AccountRepository) UpdatePassword(ctx context.Context, id int64, encryptedPassword string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE mail_accounts SET encrypted_password = $1, updated_at = now() WHERE id = $2`,
		encryptedPassword, id)
	if err != nil {
		return apperr.DatabaseError("update app password", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("mail account")
	}
	return nil
}

// UpdateSyncState records a completed sync. syncedFolders replaces the
// stored set; callers pass the union of old and newly synced names.
func (r *AccountRepository) UpdateSyncState(ctx context.Context, id int64, lastFetchedUID int64, lastSyncedAt time.Time, syncedFolders []string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mail_accounts
		SET last_fetched_uid = GREATEST(last_fetched_uid, $1),
		    last_synced_at   = $2,
		    synced_folders   = $3,
		    updated_at       = now()
		WHERE id = $4`,
		lastFetchedUID, lastSyncedAt, pq.StringArray(syncedFolders), id)
	if err != nil {
		return apperr.DatabaseError("update sync state", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("mail account")
	}
	return nil
}

func (r *AccountRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM mail_accounts WHERE id = $1`, id)
	if err != nil {
		return apperr.DatabaseError("delete mail account", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("mail account")
	}
	return nil
}
