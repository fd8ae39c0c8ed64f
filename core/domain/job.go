package domain

import (
	"time"
)

// JobState is the lifecycle state of a queued work unit.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobDead      JobState = "dead"
)

// Queue names.
const (
	QueueInitialSync      = "mail:initial-sync"
	QueueIncrementalSync  = "mail:incremental-sync"
	QueueAttachmentUpload = "attachment:upload"
	QueueDead             = "mail:dead"
)

// Job is the envelope every queue entry travels in.
type Job struct {
	ID           string         `json:"id"`
	Queue        string         `json:"queue"`
	Type         string         `json:"type"`
	Payload      map[string]any `json:"payload"`
	AttemptCount int            `json:"attempt_count"`
	BackoffUntil time.Time      `json:"backoff_until,omitempty"`
	State        JobState       `json:"state"`
	CreatedAt    time.Time      `json:"created_at"`
}

// SyncResult summarizes one sync attempt for one account.
type SyncResult struct {
	AccountID     int64             `json:"account_id"`
	EmailsSynced  int               `json:"emails_synced"`
	FoldersSynced []string          `json:"folders_synced"`
	FolderErrors  map[string]string `json:"folder_errors,omitempty"`
	ParseFailures int               `json:"parse_failures"`
	Duration      time.Duration     `json:"duration"`
}
