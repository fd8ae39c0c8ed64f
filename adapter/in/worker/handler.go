// Package worker consumes the durable job queues: account syncs and
// attachment uploads.
package worker

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"mailbridge/core/domain"
	"mailbridge/core/port/out"
	"mailbridge/core/service/mailsync"
	"mailbridge/pkg/apperr"
)

// Job type tags, matching what the producer publishes.
const (
	TypeInitialSync      = "sync.initial"
	TypeIncrementalSync  = "sync.incremental"
	TypeAttachmentUpload = "attachment.upload"
)

// Handler executes one job end to end. Errors propagate to the queue
// consumer, which owns the retry policy.
type Handler struct {
	orchestrator *mailsync.Orchestrator
	attachments  out.AttachmentRepository
	blobs        out.BlobStore
	log          zerolog.Logger
}

func NewHandler(orchestrator *mailsync.Orchestrator, attachments out.AttachmentRepository, blobs out.BlobStore, log zerolog.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		attachments:  attachments,
		blobs:        blobs,
		log:          log.With().Str("component", "job_handler").Logger(),
	}
}

// Process dispatches on the job type.
func (h *Handler) Process(ctx context.Context, job *domain.Job) error {
	switch job.Type {
	case TypeInitialSync:
		var payload out.InitialSyncJob
		if err := decodePayload(job.Payload, &payload); err != nil {
			return err
		}
		result, err := h.orchestrator.InitialSync(ctx, payload.AccountID)
		if err != nil {
			return err
		}
		h.logResult(job, result)
		return nil

	case TypeIncrementalSync:
		var payload out.IncrementalSyncJob
		if err := decodePayload(job.Payload, &payload); err != nil {
			return err
		}
		result, err := h.orchestrator.IncrementalSync(ctx, payload.AccountID, payload.Folders)
		if err != nil {
			return err
		}
		h.logResult(job, result)
		return nil

	case TypeAttachmentUpload:
		var payload out.AttachmentUploadJob
		if err := decodePayload(job.Payload, &payload); err != nil {
			return err
		}
		return h.uploadAttachment(ctx, payload)

	default:
		// Unknown types never succeed on retry.
		return apperr.BadRequest(fmt.Sprintf("unknown job type %q", job.Type))
	}
}

// uploadAttachment pushes the bytes to the blob sink and records the
// reference.
func (h *Handler) uploadAttachment(ctx context.Context, payload out.AttachmentUploadJob) error {
	if payload.MessageID == 0 || payload.Filename == "" {
		return apperr.BadRequest("attachment job missing message_id or filename")
	}

	key := fmt.Sprintf("%d/%s", payload.MessageID, payload.Filename)
	storageURL, err := h.blobs.Put(ctx, key, payload.ContentType, payload.Data)
	if err != nil {
		return err
	}

	att := &domain.Attachment{
		MessageID:   payload.MessageID,
		Filename:    payload.Filename,
		ContentType: payload.ContentType,
		Size:        int64(len(payload.Data)),
		StorageURL:  storageURL,
	}
	if err := h.attachments.Create(ctx, att); err != nil {
		return err
	}

	h.log.Debug().
		Int64("message_id", payload.MessageID).
		Str("filename", payload.Filename).
		Int("bytes", len(payload.Data)).
		Msg("attachment uploaded")
	return nil
}

func (h *Handler) logResult(job *domain.Job, result *domain.SyncResult) {
	event := h.log.Info().
		Str("job_id", job.ID).
		Str("job_type", job.Type).
		Int64("account_id", result.AccountID).
		Int("emails_synced", result.EmailsSynced).
		Strs("folders", result.FoldersSynced).
		Dur("duration", result.Duration)
	if result.ParseFailures > 0 {
		event = event.Int("parse_failures", result.ParseFailures)
	}
	if len(result.FolderErrors) > 0 {
		event = event.Interface("folder_errors", result.FolderErrors)
	}
	event.Msg("sync completed")
}

// decodePayload maps the generic job payload onto a typed struct.
func decodePayload(payload map[string]any, target any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return apperr.BadRequest("unencodable job payload")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return apperr.BadRequest("malformed job payload")
	}
	return nil
}
