package worker

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/rs/zerolog"

	"mailbridge/core/domain"
	"mailbridge/core/port/out"
	"mailbridge/pkg/apperr"
)

type recordingBlobStore struct {
	key         string
	contentType string
	data        []byte
	err         error
}

func (b *recordingBlobStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	b.key, b.contentType, b.data = key, contentType, data
	return "https://blobs.example/" + key, nil
}

type recordingAttachmentRepo struct {
	created []*domain.Attachment
}

func (r *recordingAttachmentRepo) Create(ctx context.Context, att *domain.Attachment) error {
	r.created = append(r.created, att)
	return nil
}
func (r *recordingAttachmentRepo) ListByMessage(ctx context.Context, messageID int64) ([]*domain.Attachment, error) {
	return nil, nil
}

func TestProcessAttachmentUpload(t *testing.T) {
	blobs := &recordingBlobStore{}
	repo := &recordingAttachmentRepo{}
	h := NewHandler(nil, repo, blobs, zerolog.Nop())

	// Payloads arrive as the generic map the queue codec produced; []byte
	// fields travel base64 encoded.
	job := &domain.Job{
		ID:   "j1",
		Type: TypeAttachmentUpload,
		Payload: map[string]any{
			"message_id":   float64(42),
			"filename":     "invoice.pdf",
			"content_type": "application/pdf",
			"data":         base64.StdEncoding.EncodeToString([]byte("%PDF")),
		},
	}

	if err := h.Process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}

	if blobs.key != "42/invoice.pdf" {
		t.Errorf("blob key = %q", blobs.key)
	}
	if string(blobs.data) != "%PDF" {
		t.Errorf("blob data = %q", blobs.data)
	}
	if len(repo.created) != 1 {
		t.Fatalf("attachments created = %d, want 1", len(repo.created))
	}
	att := repo.created[0]
	if att.MessageID != 42 || att.Filename != "invoice.pdf" || att.Size != 4 {
		t.Errorf("attachment = %+v", att)
	}
	if att.StorageURL != "https://blobs.example/42/invoice.pdf" {
		t.Errorf("storage url = %q", att.StorageURL)
	}
}

func TestProcessAttachmentUploadFailurePropagates(t *testing.T) {
	blobs := &recordingBlobStore{err: apperr.ProviderUnavailable("blob sink", nil)}
	repo := &recordingAttachmentRepo{}
	h := NewHandler(nil, repo, blobs, zerolog.Nop())

	job := &domain.Job{
		Type: TypeAttachmentUpload,
		Payload: map[string]any{
			"message_id": float64(1),
			"filename":   "a.txt",
		},
	}
	err := h.Process(context.Background(), job)
	if !apperr.Is(err, apperr.CodeProviderUnavailable) {
		t.Errorf("err = %v, want PROVIDER_UNAVAILABLE", err)
	}
	if len(repo.created) != 0 {
		t.Error("no attachment row on failed upload")
	}
}

func TestProcessUnknownTypeNotRetryable(t *testing.T) {
	h := NewHandler(nil, &recordingAttachmentRepo{}, &recordingBlobStore{}, zerolog.Nop())

	err := h.Process(context.Background(), &domain.Job{Type: "calendar.sync"})
	if err == nil {
		t.Fatal("expected error for unknown job type")
	}
	if apperr.IsRetryable(err) {
		t.Error("unknown job types must not be retried")
	}
}

func TestProcessAttachmentMissingFields(t *testing.T) {
	h := NewHandler(nil, &recordingAttachmentRepo{}, &recordingBlobStore{}, zerolog.Nop())

	err := h.Process(context.Background(), &domain.Job{
		Type:    TypeAttachmentUpload,
		Payload: map[string]any{"filename": "x"},
	})
	if !apperr.Is(err, apperr.CodeBadRequest) {
		t.Errorf("err = %v, want BAD_REQUEST", err)
	}
}

func TestDecodePayloadRoundTrip(t *testing.T) {
	payload := map[string]any{
		"account_id": float64(7),
		"email":      "u@gmail.com",
		"folders":    []any{"INBOX", "Sent"},
	}
	var job out.IncrementalSyncJob
	if err := decodePayload(payload, &job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.AccountID != 7 || job.Email != "u@gmail.com" || len(job.Folders) != 2 {
		t.Errorf("decoded = %+v", job)
	}
}
