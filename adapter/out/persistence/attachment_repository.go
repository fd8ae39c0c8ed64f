package persistence

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"mailbridge/core/domain"
	"mailbridge/core/port/out"
	"mailbridge/pkg/apperr"
)

// AttachmentRepository implements out.AttachmentRepository.
type AttachmentRepository struct {
	db *sqlx.DB
}

var _ out.AttachmentRepository = (*AttachmentRepository)(nil)

func NewAttachmentRepository(db *sqlx.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

func (r *AttachmentRepository) Create(ctx context.Context, att *domain.Attachment) error {
	query := `
		INSERT INTO attachments (message_id, filename, content_type, size, storage_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		att.MessageID, att.Filename, att.ContentType, att.Size, att.StorageURL,
	).Scan(&att.ID, &att.CreatedAt)
	if err != nil {
		return apperr.DatabaseError("create attachment", err)
	}
	return nil
}

func (r *AttachmentRepository) ListByMessage(ctx context.Context, messageID int64) ([]*domain.Attachment, error) {
	var rows []struct {
		ID          int64  `db:"id"`
		MessageID   int64  `db:"message_id"`
		Filename    string `db:"filename"`
		ContentType string `db:"content_type"`
		Size        int64  `db:"size"`
		StorageURL  string    `db:"storage_url"`
		CreatedAt   time.Time `db:"created_at"`
	}
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM attachments WHERE message_id = $1 ORDER BY id`, messageID)
	if err != nil {
		return nil, apperr.DatabaseError("list attachments", err)
	}

	attachments := make([]*domain.Attachment, 0, len(rows))
	for _, row := range rows {
		attachments = append(attachments, &domain.Attachment{
			ID:          row.ID,
			MessageID:   row.MessageID,
			Filename:    row.Filename,
			ContentType: row.ContentType,
			Size:        row.Size,
			StorageURL:  row.StorageURL,
			CreatedAt:   row.CreatedAt,
		})
	}
	return attachments, nil
}
