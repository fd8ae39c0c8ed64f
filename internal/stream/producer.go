package stream

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mailbridge/core/domain"
	"mailbridge/core/port/out"
)

// Producer enqueues sync and upload jobs.
type Producer struct {
	stream *RedisStream
}

var _ out.JobProducer = (*Producer)(nil)

func NewProducer(stream *RedisStream) *Producer {
	return &Producer{stream: stream}
}

func (p *Producer) EnqueueInitialSync(ctx context.Context, job out.InitialSyncJob) error {
	return p.publish(ctx, domain.QueueInitialSync, "sync.initial", map[string]any{
		"account_id": job.AccountID,
		"email":      job.Email,
	})
}

func (p *Producer) EnqueueIncrementalSync(ctx context.Context, job out.IncrementalSyncJob) error {
	return p.publish(ctx, domain.QueueIncrementalSync, "sync.incremental", map[string]any{
		"account_id": job.AccountID,
		"email":      job.Email,
		"folders":    job.Folders,
	})
}

func (p *Producer) EnqueueAttachmentUpload(ctx context.Context, job out.AttachmentUploadJob) error {
	return p.publish(ctx, domain.QueueAttachmentUpload, "attachment.upload", map[string]any{
		"message_id":   job.MessageID,
		"filename":     job.Filename,
		"content_type": job.ContentType,
		"data":         job.Data,
	})
}

func (p *Producer) publish(ctx context.Context, queue, jobType string, payload map[string]any) error {
	envelope := &domain.Job{
		ID:        uuid.New().String(),
		Queue:     queue,
		Type:      jobType,
		Payload:   payload,
		State:     domain.JobQueued,
		CreatedAt: time.Now(),
	}
	_, err := p.stream.Publish(ctx, queue, envelope)
	return err
}

// republish re-enqueues a failed job with its retry bookkeeping updated.
func (p *Producer) republish(ctx context.Context, job *domain.Job) error {
	_, err := p.stream.Publish(ctx, job.Queue, job)
	return err
}

// deadLetter parks an exhausted job on the dead stream for inspection.
func (p *Producer) deadLetter(ctx context.Context, job *domain.Job) error {
	job.State = domain.JobDead
	_, err := p.stream.Publish(ctx, domain.QueueDead, job)
	return err
}
