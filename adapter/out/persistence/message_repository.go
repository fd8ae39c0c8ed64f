package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"mailbridge/core/domain"
	"mailbridge/core/port/out"
	"mailbridge/pkg/apperr"
)

// MessageRepository implements the mirror store on PostgreSQL.
type MessageRepository struct {
	db *sqlx.DB
}

var _ out.MessageRepository = (*MessageRepository)(nil)

func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `
	m.id, m.account_id, m.uid, m.message_id, m.from_addr, m.to_addrs,
	m.subject, m.body, m.html_body, m.folder, m.is_read,
	m.received_at, m.fetched_at, m.deleted_at`

type messageRow struct {
	ID         int64          `db:"id"`
	AccountID  int64          `db:"account_id"`
	UID        int64          `db:"uid"`
	MessageID  sql.NullString `db:"message_id"`
	FromAddr   string         `db:"from_addr"`
	ToAddrs    pq.StringArray `db:"to_addrs"`
	Subject    string         `db:"subject"`
	Body       string         `db:"body"`
	HTMLBody   sql.NullString `db:"html_body"`
	Folder     string         `db:"folder"`
	IsRead     bool           `db:"is_read"`
	ReceivedAt time.Time      `db:"received_at"`
	FetchedAt  time.Time      `db:"fetched_at"`
	DeletedAt  sql.NullTime   `db:"deleted_at"`
}

func (r messageRow) toDomain() *domain.Message {
	msg := &domain.Message{
		ID:         r.ID,
		AccountID:  r.AccountID,
		UID:        r.UID,
		From:       r.FromAddr,
		To:         []string(r.ToAddrs),
		Subject:    r.Subject,
		Body:       r.Body,
		Folder:     r.Folder,
		IsRead:     r.IsRead,
		ReceivedAt: r.ReceivedAt,
		FetchedAt:  r.FetchedAt,
	}
	if r.MessageID.Valid {
		msg.MessageID = &r.MessageID.String
	}
	if r.HTMLBody.Valid {
		msg.HTMLBody = &r.HTMLBody.String
	}
	if r.DeletedAt.Valid {
		t := r.DeletedAt.Time
		msg.DeletedAt = &t
	}
	return msg
}

// InsertBatch writes records with ON CONFLICT DO NOTHING on the identity
// triple, absorbing at-least-once replays. Returns the rows actually
// inserted.
func (m *MessageRepository) InsertBatch(ctx context.Context, messages []*domain.Message) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO messages
			(account_id, uid, message_id, from_addr, to_addrs, subject, body, html_body,
			 folder, is_read, received_at, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (account_id, uid, folder) DO NOTHING
		RETURNING id`

	inserted := 0
	for _, msg := range messages {
		var id int64
		err := m.db.QueryRowContext(ctx, query,
			msg.AccountID, msg.UID, msg.MessageID, msg.From, pq.StringArray(msg.To),
			msg.Subject, msg.Body, msg.HTMLBody, msg.Folder, msg.IsRead,
			msg.ReceivedAt, msg.FetchedAt,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			continue // duplicate, silently skipped
		}
		if err != nil {
			return inserted, apperr.DatabaseError("insert message", err)
		}
		msg.ID = id
		inserted++
	}
	return inserted, nil
}

// ExistsByUIDFolderAccount checks all rows including tombstones.
func (m *MessageRepository) ExistsByUIDFolderAccount(ctx context.Context, uid int64, folder string, accountID int64) (bool, error) {
	var exists bool
	err := m.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE account_id = $1 AND uid = $2 AND folder = $3)`,
		accountID, uid, folder)
	if err != nil {
		return false, apperr.DatabaseError("message exists check", err)
	}
	return exists, nil
}

// ExistsByMessageID checks all rows including tombstones.
func (m *MessageRepository) ExistsByMessageID(ctx context.Context, accountID int64, folder, messageID string) (bool, error) {
	var exists bool
	err := m.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE account_id = $1 AND folder = $2 AND message_id = $3)`,
		accountID, folder, messageID)
	if err != nil {
		return false, apperr.DatabaseError("message id exists check", err)
	}
	return exists, nil
}

// HighestUID returns MAX(uid) over live rows for the pair, or 0.
func (m *MessageRepository) HighestUID(ctx context.Context, accountID int64, folder string) (int64, error) {
	var uid int64
	err := m.db.GetContext(ctx, &uid,
		`SELECT COALESCE(MAX(uid), 0) FROM messages
		 WHERE account_id = $1 AND folder = $2 AND deleted_at IS NULL`,
		accountID, folder)
	if err != nil {
		return 0, apperr.DatabaseError("highest uid", err)
	}
	return uid, nil
}

// MaxUID spans every row of the account, tombstones included, so synthetic
// UIDs never collide with retired ones.
func (m *MessageRepository) MaxUID(ctx context.Context, accountID int64) (int64, error) {
	var uid int64
	err := m.db.GetContext(ctx, &uid,
		`SELECT COALESCE(MAX(uid), 0) FROM messages WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, apperr.DatabaseError("max uid", err)
	}
	return uid, nil
}

func (m *MessageRepository) List(ctx context.Context, userID uuid.UUID, filter out.MessageFilter) ([]*domain.Message, int, error) {
	conditions := []string{"a.user_id = $1", "m.deleted_at IS NULL"}
	args := []any{userID}

	addArg := func(cond string, v any) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if filter.AccountID != nil {
		addArg("m.account_id = $%d", *filter.AccountID)
	}
	if filter.Folder != nil {
		addArg("m.folder = $%d", *filter.Folder)
	}
	if filter.IsRead != nil {
		addArg("m.is_read = $%d", *filter.IsRead)
	}
	if filter.FromDate != nil {
		addArg("m.received_at >= $%d", *filter.FromDate)
	}
	if filter.ToDate != nil {
		addArg("m.received_at <= $%d", *filter.ToDate)
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM messages m JOIN mail_accounts a ON a.id = m.account_id WHERE ` + where
	if err := m.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, apperr.DatabaseError("count messages", err)
	}

	page, limit := normalizePage(filter.Page, filter.Limit)
	args = append(args, limit, (page-1)*limit)
	listQuery := fmt.Sprintf(`
		SELECT %s FROM messages m
		JOIN mail_accounts a ON a.id = m.account_id
		WHERE %s
		ORDER BY m.received_at DESC
		LIMIT $%d OFFSET $%d`, messageColumns, where, len(args)-1, len(args))

	var rows []messageRow
	if err := m.db.SelectContext(ctx, &rows, listQuery, args...); err != nil {
		return nil, 0, apperr.DatabaseError("list messages", err)
	}

	messages := make([]*domain.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.toDomain())
	}
	return messages, total, nil
}

func (m *MessageRepository) GetByID(ctx context.Context, userID uuid.UUID, id int64) (*domain.Message, error) {
	var row messageRow
	query := fmt.Sprintf(`
		SELECT %s FROM messages m
		JOIN mail_accounts a ON a.id = m.account_id
		WHERE m.id = $1 AND a.user_id = $2 AND m.deleted_at IS NULL`, messageColumns)

	err := m.db.GetContext(ctx, &row, query, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("message")
	}
	if err != nil {
		return nil, apperr.DatabaseError("get message", err)
	}
	return row.toDomain(), nil
}

func (m *MessageRepository) SetReadStatus(ctx context.Context, userID uuid.UUID, id int64, isRead bool) error {
	res, err := m.db.ExecContext(ctx, `
		UPDATE messages m SET is_read = $1
		FROM mail_accounts a
		WHERE m.id = $2 AND a.id = m.account_id AND a.user_id = $3 AND m.deleted_at IS NULL`,
		isRead, id, userID)
	if err != nil {
		return apperr.DatabaseError("set read status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("message")
	}
	return nil
}

// SoftDelete tombstones a message. The row survives so a later re-sync of
// the same UID is skipped instead of resurrecting it.
func (m *MessageRepository) SoftDelete(ctx context.Context, userID uuid.UUID, id int64) error {
	res, err := m.db.ExecContext(ctx, `
		UPDATE messages m SET deleted_at = now()
		FROM mail_accounts a
		WHERE m.id = $1 AND a.id = m.account_id AND a.user_id = $2 AND m.deleted_at IS NULL`,
		id, userID)
	if err != nil {
		return apperr.DatabaseError("soft delete message", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("message")
	}
	return nil
}

// SearchText ranks live messages against a natural-language query.
func (m *MessageRepository) SearchText(ctx context.Context, userID uuid.UUID, query string, page, limit int) ([]*out.SearchHit, int, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, 0, nil
	}
	page, limit = normalizePage(page, limit)

	var total int
	err := m.db.GetContext(ctx, &total, `
		SELECT COUNT(*)
		FROM messages m
		JOIN mail_accounts a ON a.id = m.account_id
		JOIN email_fts f ON f.message_id = m.id
		WHERE a.user_id = $1 AND m.deleted_at IS NULL
		  AND f.lexemes @@ plainto_tsquery('english', $2)`,
		userID, query)
	if err != nil {
		return nil, 0, apperr.DatabaseError("count search results", err)
	}

	type hitRow struct {
		messageRow
		Rank float64 `db:"rank"`
	}
	var rows []hitRow
	searchQuery := fmt.Sprintf(`
		SELECT %s, ts_rank(f.lexemes, plainto_tsquery('english', $2)) AS rank
		FROM messages m
		JOIN mail_accounts a ON a.id = m.account_id
		JOIN email_fts f ON f.message_id = m.id
		WHERE a.user_id = $1 AND m.deleted_at IS NULL
		  AND f.lexemes @@ plainto_tsquery('english', $2)
		ORDER BY rank DESC, m.received_at DESC
		LIMIT $3 OFFSET $4`, messageColumns)

	if err := m.db.SelectContext(ctx, &rows, searchQuery, userID, query, limit, (page-1)*limit); err != nil {
		return nil, 0, apperr.DatabaseError("full-text search", err)
	}

	hits := make([]*out.SearchHit, 0, len(rows))
	for _, row := range rows {
		hits = append(hits, &out.SearchHit{Message: row.toDomain(), Rank: row.Rank})
	}
	return hits, total, nil
}

// SearchSender matches the from field by case-insensitive substring.
func (m *MessageRepository) SearchSender(ctx context.Context, userID uuid.UUID, sender string, page, limit int) ([]*domain.Message, int, error) {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return nil, 0, nil
	}
	page, limit = normalizePage(page, limit)
	pattern := "%" + sender + "%"

	var total int
	err := m.db.GetContext(ctx, &total, `
		SELECT COUNT(*)
		FROM messages m
		JOIN mail_accounts a ON a.id = m.account_id
		WHERE a.user_id = $1 AND m.deleted_at IS NULL AND m.from_addr ILIKE $2`,
		userID, pattern)
	if err != nil {
		return nil, 0, apperr.DatabaseError("count sender search", err)
	}

	var rows []messageRow
	query := fmt.Sprintf(`
		SELECT %s
		FROM messages m
		JOIN mail_accounts a ON a.id = m.account_id
		WHERE a.user_id = $1 AND m.deleted_at IS NULL AND m.from_addr ILIKE $2
		ORDER BY m.received_at DESC
		LIMIT $3 OFFSET $4`, messageColumns)

	if err := m.db.SelectContext(ctx, &rows, query, userID, pattern, limit, (page-1)*limit); err != nil {
		return nil, 0, apperr.DatabaseError("sender search", err)
	}

	messages := make([]*domain.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.toDomain())
	}
	return messages, total, nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
