package out

import "context"

// InitialSyncJob requests a first full sync of a newly registered account.
type InitialSyncJob struct {
	AccountID int64  `json:"account_id"`
	Email     string `json:"email"`
}

// IncrementalSyncJob requests a delta sync of the named canonical folders.
type IncrementalSyncJob struct {
	AccountID int64    `json:"account_id"`
	Email     string   `json:"email"`
	Folders   []string `json:"folders"`
}

// AttachmentUploadJob carries one attachment to the blob sink.
type AttachmentUploadJob struct {
	MessageID   int64  `json:"message_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// JobProducer enqueues durable jobs. Enqueue returns once the broker has
// accepted the entry; delivery and retry policy live on the consumer side.
type JobProducer interface {
	EnqueueInitialSync(ctx context.Context, job InitialSyncJob) error
	EnqueueIncrementalSync(ctx context.Context, job IncrementalSyncJob) error
	EnqueueAttachmentUpload(ctx context.Context, job AttachmentUploadJob) error
}
