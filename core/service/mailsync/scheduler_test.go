package mailsync

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"mailbridge/core/domain"
)

func TestSchedulerTickSkipsUnsyncedAccounts(t *testing.T) {
	accounts := &fakeAccountRepo{accounts: map[int64]*domain.MailAccount{
		1: {ID: 1, UserID: uuid.New(), Email: "a@gmail.com", SyncedFolders: []string{"INBOX", "Sent"}},
		2: {ID: 2, UserID: uuid.New(), Email: "b@gmail.com"}, // initial sync still pending
		3: {ID: 3, UserID: uuid.New(), Email: "c@outlook.com", SyncedFolders: []string{"INBOX"}},
	}}
	producer := &fakeProducer{}
	s := NewScheduler(accounts, producer, 0)

	n, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if n != 2 {
		t.Errorf("enqueued = %d, want 2", n)
	}
	if len(producer.incremental) != 2 {
		t.Fatalf("incremental jobs = %d, want 2", len(producer.incremental))
	}
	for _, job := range producer.incremental {
		if job.AccountID == 2 {
			t.Error("account awaiting initial sync must not be scheduled")
		}
		if len(job.Folders) == 0 {
			t.Errorf("job for account %d carries no folders", job.AccountID)
		}
	}
}

func TestSchedulerTickCarriesSyncedFolders(t *testing.T) {
	accounts := &fakeAccountRepo{accounts: map[int64]*domain.MailAccount{
		1: {ID: 1, UserID: uuid.New(), Email: "a@gmail.com", SyncedFolders: []string{"INBOX", "Sent", "Drafts"}},
	}}
	producer := &fakeProducer{}
	s := NewScheduler(accounts, producer, 0)

	if _, err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	job := producer.incremental[0]
	if job.Email != "a@gmail.com" {
		t.Errorf("email = %q", job.Email)
	}
	want := []string{"INBOX", "Sent", "Drafts"}
	if len(job.Folders) != len(want) {
		t.Fatalf("folders = %v, want %v", job.Folders, want)
	}
	for i, f := range want {
		if job.Folders[i] != f {
			t.Errorf("folders[%d] = %q, want %q", i, job.Folders[i], f)
		}
	}
}

func TestSchedulerDefaultsInterval(t *testing.T) {
	s := NewScheduler(nil, nil, 0)
	if s.interval != DefaultSchedulerInterval {
		t.Errorf("interval = %s, want %s", s.interval, DefaultSchedulerInterval)
	}
}
