package mailsync

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"mailbridge/adapter/out/parser"
	"mailbridge/core/domain"
	"mailbridge/core/port/out"
	"mailbridge/pkg/apperr"
	"mailbridge/pkg/crypto"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type fakeAccountRepo struct {
	accounts map[int64]*domain.MailAccount
	events   *[]string
}

func (f *fakeAccountRepo) Create(ctx context.Context, a *domain.MailAccount) error { return nil }
func (f *fakeAccountRepo) GetByID(ctx context.Context, id int64) (*domain.MailAccount, error) {
	a, ok := f.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %d not found", id)
	}
	clone := *a
	return &clone, nil
}
func (f *fakeAccountRepo) GetByUserAndEmail(ctx context.Context, userID uuid.UUID, email string) (*domain.MailAccount, error) {
	return nil, nil
}
func (f *fakeAccountRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.MailAccount, error) {
	return nil, nil
}
func (f *fakeAccountRepo) ListActive(ctx context.Context) ([]*domain.MailAccount, error) {
	var list []*domain.MailAccount
	for _, a := range f.accounts {
		list = append(list, a)
	}
	return list, nil
}
func (f *fakeAccountRepo) UpdateOAuthTokens(ctx context.Context, id int64, access, refresh string) error {
	a := f.accounts[id]
	a.AccessToken = &access
	a.RefreshToken = &refresh
	if f.events != nil {
		*f.events = append(*f.events, "tokens-persisted")
	}
	return nil
}
func (f *fakeAccountRepo) UpdatePassword(ctx context.Context, id int64, encrypted string) error {
	a := f.accounts[id]
	a.EncryptedPassword = &encrypted
	return nil
}
func (f *fakeAccountRepo) UpdateSyncState(ctx context.Context, id int64, lastUID int64, at time.Time, folders []string) error {
	a := f.accounts[id]
	if lastUID > a.LastFetchedUID {
		a.LastFetchedUID = lastUID
	}
	a.LastSyncedAt = &at
	a.SyncedFolders = folders
	return nil
}
func (f *fakeAccountRepo) Delete(ctx context.Context, id int64) error { return nil }

type msgKey struct {
	account int64
	uid     int64
	folder  string
}

type fakeMessageRepo struct {
	rows   map[msgKey]*domain.Message
	nextID int64
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{rows: map[msgKey]*domain.Message{}}
}

func (f *fakeMessageRepo) InsertBatch(ctx context.Context, messages []*domain.Message) (int, error) {
	inserted := 0
	for _, m := range messages {
		key := msgKey{m.AccountID, m.UID, m.Folder}
		if _, exists := f.rows[key]; exists {
			continue
		}
		f.nextID++
		m.ID = f.nextID
		f.rows[key] = m
		inserted++
	}
	return inserted, nil
}
func (f *fakeMessageRepo) ExistsByUIDFolderAccount(ctx context.Context, uid int64, folder string, accountID int64) (bool, error) {
	_, ok := f.rows[msgKey{accountID, uid, folder}]
	return ok, nil
}
func (f *fakeMessageRepo) ExistsByMessageID(ctx context.Context, accountID int64, folder, messageID string) (bool, error) {
	for key, m := range f.rows {
		if key.account == accountID && key.folder == folder &&
			m.MessageID != nil && *m.MessageID == messageID {
			return true, nil
		}
	}
	return false, nil
}
func (f *fakeMessageRepo) HighestUID(ctx context.Context, accountID int64, folder string) (int64, error) {
	var high int64
	for key, m := range f.rows {
		if key.account == accountID && key.folder == folder && m.DeletedAt == nil && key.uid > high {
			high = key.uid
		}
	}
	return high, nil
}
func (f *fakeMessageRepo) MaxUID(ctx context.Context, accountID int64) (int64, error) {
	var high int64
	for key := range f.rows {
		if key.account == accountID && key.uid > high {
			high = key.uid
		}
	}
	return high, nil
}
func (f *fakeMessageRepo) List(ctx context.Context, userID uuid.UUID, filter out.MessageFilter) ([]*domain.Message, int, error) {
	return nil, 0, nil
}
func (f *fakeMessageRepo) GetByID(ctx context.Context, userID uuid.UUID, id int64) (*domain.Message, error) {
	return nil, nil
}
func (f *fakeMessageRepo) SetReadStatus(ctx context.Context, userID uuid.UUID, id int64, isRead bool) error {
	return nil
}
func (f *fakeMessageRepo) SoftDelete(ctx context.Context, userID uuid.UUID, id int64) error {
	return nil
}
func (f *fakeMessageRepo) SearchText(ctx context.Context, userID uuid.UUID, q string, page, limit int) ([]*out.SearchHit, int, error) {
	return nil, 0, nil
}
func (f *fakeMessageRepo) SearchSender(ctx context.Context, userID uuid.UUID, s string, page, limit int) ([]*domain.Message, int, error) {
	return nil, 0, nil
}

// fakeSession serves folders and canned messages from memory.
type fakeSession struct {
	folders []out.RemoteFolder
	// uids lists the UIDs present per raw folder path.
	uids map[string][]int64
	// failFolders trigger an error on HighestUID for that path.
	failFolders map[string]error
	highest     map[string]int64
	closed      bool
}

func (s *fakeSession) ListFolders(ctx context.Context) ([]out.RemoteFolder, error) {
	return s.folders, nil
}
func (s *fakeSession) HighestUID(ctx context.Context, folder string) (int64, error) {
	if err := s.failFolders[folder]; err != nil {
		return 0, err
	}
	if h, ok := s.highest[folder]; ok {
		return h, nil
	}
	var high int64
	for _, uid := range s.uids[folder] {
		if uid > high {
			high = uid
		}
	}
	return high, nil
}
func (s *fakeSession) SearchUIDsFrom(ctx context.Context, folder string, start int64) ([]int64, error) {
	var found []int64
	for _, uid := range s.uids[folder] {
		if uid >= start {
			found = append(found, uid)
		}
	}
	return found, nil
}
func (s *fakeSession) FetchRange(ctx context.Context, folder string, lo, hi int64) ([]out.RawMessage, error) {
	var raws []out.RawMessage
	for _, uid := range s.uids[folder] {
		if uid >= lo && uid <= hi {
			raws = append(raws, out.RawMessage{UID: uid, Source: rawMail(uid)})
		}
	}
	return raws, nil
}
func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeDialer struct {
	session *fakeSession
	dialErr error
}

func (d *fakeDialer) Dial(ctx context.Context, creds out.IMAPCredentials) (out.IMAPSession, error) {
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.session, nil
}
func (d *fakeDialer) TestConnection(ctx context.Context, creds out.IMAPCredentials) error {
	return d.dialErr
}

type fakeGraph struct {
	folders   []out.RemoteFolder
	messages  map[string][]out.GraphMessage
	listCalls int
	events    *[]string
	// gone folder ids answer FetchSince with a not-found error.
	gone map[string]bool
}

func (g *fakeGraph) Me(ctx context.Context, token string) (string, error) {
	return "user@outlook.com", nil
}
func (g *fakeGraph) ListFolders(ctx context.Context, token string) ([]out.RemoteFolder, error) {
	g.listCalls++
	return g.folders, nil
}
func (g *fakeGraph) FolderID(ctx context.Context, token, folder string) (string, error) {
	for _, f := range g.folders {
		if f.Path == folder {
			return f.ID, nil
		}
	}
	return "", fmt.Errorf("folder %q not found", folder)
}
func (g *fakeGraph) FetchSince(ctx context.Context, token, folderID string, since time.Time, max int) ([]out.GraphMessage, error) {
	if g.events != nil {
		*g.events = append(*g.events, "graph-read")
	}
	if g.gone[folderID] {
		return nil, apperr.NotFound("graph resource")
	}
	msgs := g.messages[folderID]
	if len(msgs) > max {
		msgs = msgs[:max]
	}
	return msgs, nil
}

type fakeRefresher struct {
	access  string
	refresh string
}

func (r *fakeRefresher) Refresh(ctx context.Context, token string) (string, string, error) {
	return r.access, r.refresh, nil
}

type fakeProducer struct {
	attachments []out.AttachmentUploadJob
	incremental []out.IncrementalSyncJob
	initial     []out.InitialSyncJob
}

func (p *fakeProducer) EnqueueInitialSync(ctx context.Context, job out.InitialSyncJob) error {
	p.initial = append(p.initial, job)
	return nil
}
func (p *fakeProducer) EnqueueIncrementalSync(ctx context.Context, job out.IncrementalSyncJob) error {
	p.incremental = append(p.incremental, job)
	return nil
}
func (p *fakeProducer) EnqueueAttachmentUpload(ctx context.Context, job out.AttachmentUploadJob) error {
	p.attachments = append(p.attachments, job)
	return nil
}

func rawMail(uid int64) []byte {
	return []byte(fmt.Sprintf(
		"From: sender%d@example.com\r\nTo: rcpt@example.com\r\nSubject: message %d\r\nDate: Mon, 02 Jun 2025 10:00:00 +0000\r\n\r\nbody %d\r\n",
		uid, uid, uid))
}

// ---------------------------------------------------------------------------
// harness
// ---------------------------------------------------------------------------

const testMasterKey = "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"

func imapAccount(t *testing.T, vault *crypto.Vault) *domain.MailAccount {
	t.Helper()
	enc, err := vault.Encrypt("app-password")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	return &domain.MailAccount{
		ID:       1,
		UserID:   uuid.New(),
		Email:    "user@gmail.com",
		Provider: domain.ProviderGmail,

		EncryptedPassword: &enc,
	}
}

func newTestOrchestrator(t *testing.T, accounts *fakeAccountRepo, messages out.MessageRepository, dialer out.IMAPDialer, graph *fakeGraph, refresher *fakeRefresher) (*Orchestrator, *fakeProducer) {
	t.Helper()
	vault, err := crypto.NewVault(testMasterKey)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	producer := &fakeProducer{}
	if graph == nil {
		graph = &fakeGraph{}
	}
	if refresher == nil {
		refresher = &fakeRefresher{access: "a", refresh: "r"}
	}
	o := NewOrchestrator(accounts, messages, dialer, graph, refresher, vault, parser.New(), producer)
	return o, producer
}

// ---------------------------------------------------------------------------
// IMAP delta sync
// ---------------------------------------------------------------------------

func TestIMAPDeltaSyncHappyPath(t *testing.T) {
	vault, _ := crypto.NewVault(testMasterKey)
	account := imapAccount(t, vault)
	accounts := &fakeAccountRepo{accounts: map[int64]*domain.MailAccount{1: account}}
	messages := newFakeMessageRepo()

	// Mirror already holds UIDs 1..100.
	for uid := int64(1); uid <= 100; uid++ {
		messages.rows[msgKey{1, uid, "INBOX"}] = &domain.Message{AccountID: 1, UID: uid, Folder: "INBOX"}
	}

	session := &fakeSession{
		folders: []out.RemoteFolder{{Path: "INBOX"}},
		uids:    map[string][]int64{"INBOX": seq(1, 103)},
	}
	o, _ := newTestOrchestrator(t, accounts, messages, &fakeDialer{session: session}, nil, nil)
	o.vault = vault

	result, err := o.IncrementalSync(context.Background(), 1, []string{"INBOX"})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	if result.EmailsSynced != 3 {
		t.Errorf("emailsSynced = %d, want 3", result.EmailsSynced)
	}
	if high, _ := messages.HighestUID(context.Background(), 1, "INBOX"); high != 103 {
		t.Errorf("mirror highestUid = %d, want 103", high)
	}
	if account.LastFetchedUID != 103 {
		t.Errorf("lastFetchedUid = %d, want 103", account.LastFetchedUID)
	}
	if !account.HasSyncedFolder("INBOX") {
		t.Error("INBOX missing from syncedFolders")
	}
	if !session.closed {
		t.Error("session not closed")
	}
}

func TestIMAPSyncIdempotentReplay(t *testing.T) {
	vault, _ := crypto.NewVault(testMasterKey)
	account := imapAccount(t, vault)
	accounts := &fakeAccountRepo{accounts: map[int64]*domain.MailAccount{1: account}}
	messages := newFakeMessageRepo()
	session := &fakeSession{
		folders: []out.RemoteFolder{{Path: "INBOX"}},
		uids:    map[string][]int64{"INBOX": seq(1, 10)},
	}
	o, _ := newTestOrchestrator(t, accounts, messages, &fakeDialer{session: session}, nil, nil)
	o.vault = vault

	first, err := o.InitialSync(context.Background(), 1)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if first.EmailsSynced != 10 {
		t.Fatalf("first emailsSynced = %d, want 10", first.EmailsSynced)
	}
	before := len(messages.rows)

	second, err := o.InitialSync(context.Background(), 1)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if second.EmailsSynced != 0 {
		t.Errorf("replay emailsSynced = %d, want 0", second.EmailsSynced)
	}
	if len(messages.rows) != before {
		t.Errorf("row count changed on replay: %d -> %d", before, len(messages.rows))
	}
}

func TestIMAPSyncPreservesTombstones(t *testing.T) {
	vault, _ := crypto.NewVault(testMasterKey)
	account := imapAccount(t, vault)
	accounts := &fakeAccountRepo{accounts: map[int64]*domain.MailAccount{1: account}}
	messages := newFakeMessageRepo()
	session := &fakeSession{
		folders: []out.RemoteFolder{{Path: "INBOX"}},
		uids:    map[string][]int64{"INBOX": seq(100, 103)},
	}
	o, _ := newTestOrchestrator(t, accounts, messages, &fakeDialer{session: session}, nil, nil)
	o.vault = vault

	if _, err := o.InitialSync(context.Background(), 1); err != nil {
		t.Fatalf("initial sync: %v", err)
	}

	// Soft-delete UID 102, then re-sync.
	deleted := time.Now()
	messages.rows[msgKey{1, 102, "INBOX"}].DeletedAt = &deleted
	before := len(messages.rows)

	if _, err := o.InitialSync(context.Background(), 1); err != nil {
		t.Fatalf("resync: %v", err)
	}

	if len(messages.rows) != before {
		t.Errorf("resync changed row count: %d -> %d", before, len(messages.rows))
	}
	if messages.rows[msgKey{1, 102, "INBOX"}].DeletedAt == nil {
		t.Error("tombstone was resurrected")
	}
}

func TestIMAPSyncResetsWatermarkOnUIDRegression(t *testing.T) {
	vault, _ := crypto.NewVault(testMasterKey)
	account := imapAccount(t, vault)
	accounts := &fakeAccountRepo{accounts: map[int64]*domain.MailAccount{1: account}}
	messages := newFakeMessageRepo()

	// Mirror claims watermark 500 but the server was renumbered and now
	// tops out at 3.
	for uid := int64(498); uid <= 500; uid++ {
		messages.rows[msgKey{1, uid, "INBOX"}] = &domain.Message{AccountID: 1, UID: uid, Folder: "INBOX"}
	}
	session := &fakeSession{
		folders: []out.RemoteFolder{{Path: "INBOX"}},
		uids:    map[string][]int64{"INBOX": seq(1, 3)},
	}
	o, _ := newTestOrchestrator(t, accounts, messages, &fakeDialer{session: session}, nil, nil)
	o.vault = vault

	result, err := o.IncrementalSync(context.Background(), 1, []string{"INBOX"})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.EmailsSynced != 3 {
		t.Errorf("emailsSynced = %d, want 3 after watermark reset", result.EmailsSynced)
	}
}

func TestIMAPSyncPerFolderIsolation(t *testing.T) {
	vault, _ := crypto.NewVault(testMasterKey)
	account := imapAccount(t, vault)
	accounts := &fakeAccountRepo{accounts: map[int64]*domain.MailAccount{1: account}}
	messages := newFakeMessageRepo()
	session := &fakeSession{
		folders: []out.RemoteFolder{
			{Path: "INBOX"},
			{Path: "[Gmail]/Sent Mail"},
		},
		uids: map[string][]int64{
			"INBOX":             seq(1, 2),
			"[Gmail]/Sent Mail": seq(1, 2),
		},
		failFolders: map[string]error{
			"INBOX": fmt.Errorf("mailbox wedged"),
		},
	}
	o, _ := newTestOrchestrator(t, accounts, messages, &fakeDialer{session: session}, nil, nil)
	o.vault = vault

	result, err := o.InitialSync(context.Background(), 1)
	if err != nil {
		t.Fatalf("sync should survive a single folder failure: %v", err)
	}
	if result.EmailsSynced != 2 {
		t.Errorf("emailsSynced = %d, want 2 from the surviving folder", result.EmailsSynced)
	}
	if _, ok := result.FolderErrors["INBOX"]; !ok {
		t.Error("expected INBOX recorded in folderErrors")
	}
	if !account.HasSyncedFolder("Sent") {
		t.Error("surviving folder missing from syncedFolders")
	}
	if account.HasSyncedFolder("INBOX") {
		t.Error("failed folder must not be marked synced")
	}
}

func TestIMAPSyncSparseUIDSpace(t *testing.T) {
	vault, _ := crypto.NewVault(testMasterKey)
	account := imapAccount(t, vault)
	accounts := &fakeAccountRepo{accounts: map[int64]*domain.MailAccount{1: account}}
	messages := newFakeMessageRepo()

	// Trash-like folder: most UIDs expunged.
	session := &fakeSession{
		folders: []out.RemoteFolder{{Path: "INBOX"}},
		uids:    map[string][]int64{"INBOX": {3, 250, 999}},
		highest: map[string]int64{"INBOX": 999},
	}
	o, _ := newTestOrchestrator(t, accounts, messages, &fakeDialer{session: session}, nil, nil)
	o.vault = vault

	result, err := o.InitialSync(context.Background(), 1)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.EmailsSynced != 3 {
		t.Errorf("emailsSynced = %d, want 3", result.EmailsSynced)
	}
}

// ---------------------------------------------------------------------------
// Graph sync
// ---------------------------------------------------------------------------

func graphAccount() *domain.MailAccount {
	access, refresh := "old-access", "old-refresh"
	return &domain.MailAccount{
		ID:       2,
		UserID:   uuid.New(),
		Email:    "user@outlook.com",
		Provider: domain.ProviderOutlook,

		AccessToken:  &access,
		RefreshToken: &refresh,
	}
}

func TestGraphSyncAssignsSyntheticUIDs(t *testing.T) {
	account := graphAccount()
	accounts := &fakeAccountRepo{accounts: map[int64]*domain.MailAccount{2: account}}
	messages := newFakeMessageRepo()

	// Pre-existing mirror rows up to UID 7.
	messages.rows[msgKey{2, 7, "INBOX"}] = &domain.Message{AccountID: 2, UID: 7, Folder: "INBOX"}

	graph := &fakeGraph{
		folders: []out.RemoteFolder{{Path: "Inbox", ID: "fid-inbox"}},
		messages: map[string][]out.GraphMessage{
			"fid-inbox": {
				{ID: "m1", Subject: "one", ReceivedAt: time.Now()},
				{ID: "m2", Subject: "two", ReceivedAt: time.Now()},
			},
		},
	}
	o, _ := newTestOrchestrator(t, accounts, messages, &fakeDialer{}, graph, &fakeRefresher{access: "new-a", refresh: "new-r"})

	result, err := o.InitialSync(context.Background(), 2)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.EmailsSynced != 2 {
		t.Errorf("emailsSynced = %d, want 2", result.EmailsSynced)
	}

	// Synthetic UIDs start above the highest mirror row.
	for _, uid := range []int64{8, 9} {
		if _, ok := messages.rows[msgKey{2, uid, "INBOX"}]; !ok {
			t.Errorf("expected synthetic uid %d in mirror", uid)
		}
	}
	if account.LastFetchedUID != 9 {
		t.Errorf("lastFetchedUid = %d, want 9", account.LastFetchedUID)
	}
}

func TestGraphSyncPersistsRotatedTokenBeforeRead(t *testing.T) {
	var events []string
	account := graphAccount()
	accounts := &fakeAccountRepo{accounts: map[int64]*domain.MailAccount{2: account}, events: &events}
	graph := &fakeGraph{
		folders:  []out.RemoteFolder{{Path: "Inbox", ID: "fid"}},
		messages: map[string][]out.GraphMessage{"fid": {{ID: "m1"}}},
		events:   &events,
	}
	o, _ := newTestOrchestrator(t, accounts, newFakeMessageRepo(), &fakeDialer{}, graph, &fakeRefresher{access: "a2", refresh: "r2"})

	if _, err := o.InitialSync(context.Background(), 2); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if len(events) < 2 || events[0] != "tokens-persisted" {
		t.Errorf("rotated token must be persisted before any graph read, got %v", events)
	}
	if account.RefreshToken == nil || *account.RefreshToken != "r2" {
		t.Errorf("stored refresh token = %v, want r2", account.RefreshToken)
	}
}

func TestGraphSyncUsesFolderIDCacheOnIncremental(t *testing.T) {
	account := graphAccount()
	account.SyncedFolders = []string{"INBOX"}
	accounts := &fakeAccountRepo{accounts: map[int64]*domain.MailAccount{2: account}}
	graph := &fakeGraph{
		folders:  []out.RemoteFolder{{Path: "Inbox", ID: "fid"}},
		messages: map[string][]out.GraphMessage{"fid": {{ID: "m1"}}},
	}
	o, _ := newTestOrchestrator(t, accounts, newFakeMessageRepo(), &fakeDialer{}, graph, nil)

	// First run discovers and fills the cache.
	if _, err := o.IncrementalSync(context.Background(), 2, []string{"INBOX"}); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if graph.listCalls != 1 {
		t.Fatalf("listCalls = %d, want 1", graph.listCalls)
	}

	// Second run must be served from the cache.
	if _, err := o.IncrementalSync(context.Background(), 2, []string{"INBOX"}); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if graph.listCalls != 1 {
		t.Errorf("listCalls = %d after cached run, want 1", graph.listCalls)
	}
}

func TestGraphSyncRespectsRunCap(t *testing.T) {
	account := graphAccount()
	accounts := &fakeAccountRepo{accounts: map[int64]*domain.MailAccount{2: account}}

	var many []out.GraphMessage
	for i := 0; i < 700; i++ {
		many = append(many, out.GraphMessage{ID: fmt.Sprintf("m%d", i)})
	}
	graph := &fakeGraph{
		folders:  []out.RemoteFolder{{Path: "Inbox", ID: "fid"}},
		messages: map[string][]out.GraphMessage{"fid": many},
	}
	o, _ := newTestOrchestrator(t, accounts, newFakeMessageRepo(), &fakeDialer{}, graph, nil)

	result, err := o.InitialSync(context.Background(), 2)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.EmailsSynced > 500 {
		t.Errorf("emailsSynced = %d, cap is 500", result.EmailsSynced)
	}
}

// faultingMessageRepo fails InsertBatch for one folder a limited number of
// times, simulating a mid-sync storage outage.
type faultingMessageRepo struct {
	*fakeMessageRepo
	failFolder string
	failures   int
}

func (f *faultingMessageRepo) InsertBatch(ctx context.Context, messages []*domain.Message) (int, error) {
	if f.failures > 0 && len(messages) > 0 && messages[0].Folder == f.failFolder {
		f.failures--
		return 0, fmt.Errorf("connection reset during batch insert")
	}
	return f.fakeMessageRepo.InsertBatch(ctx, messages)
}

func folderRowCount(repo *fakeMessageRepo, accountID int64, folder string) int {
	n := 0
	for key := range repo.rows {
		if key.account == accountID && key.folder == folder {
			n++
		}
	}
	return n
}

func TestGraphSyncReplayAfterPartialFailureAddsNoDuplicates(t *testing.T) {
	account := graphAccount()
	accounts := &fakeAccountRepo{accounts: map[int64]*domain.MailAccount{2: account}}
	messages := &faultingMessageRepo{
		fakeMessageRepo: newFakeMessageRepo(),
		failFolder:      "Sent",
		failures:        1,
	}

	graph := &fakeGraph{
		folders: []out.RemoteFolder{
			{Path: "Inbox", ID: "fid-inbox"},
			{Path: "Sent Items", ID: "fid-sent"},
		},
		messages: map[string][]out.GraphMessage{
			"fid-inbox": {
				{ID: "m1", Subject: "one", ReceivedAt: time.Now()},
				{ID: "m2", Subject: "two", ReceivedAt: time.Now()},
			},
			"fid-sent": {
				{ID: "m3", Subject: "three", ReceivedAt: time.Now()},
			},
		},
	}
	o, _ := newTestOrchestrator(t, accounts, messages, &fakeDialer{}, graph, nil)

	// First attempt commits the inbox batch, then dies on the sent batch.
	if _, err := o.InitialSync(context.Background(), 2); err == nil {
		t.Fatal("expected first attempt to fail on the sent batch")
	}
	if account.LastSyncedAt != nil {
		t.Fatal("failed attempt must not advance lastSyncedAt")
	}
	if got := folderRowCount(messages.fakeMessageRepo, 2, "INBOX"); got != 2 {
		t.Fatalf("inbox rows after first attempt = %d, want 2", got)
	}

	// Queue redelivery refetches from the stale watermark; the committed
	// inbox messages must not reappear under fresh synthetic uids.
	result, err := o.InitialSync(context.Background(), 2)
	if err != nil {
		t.Fatalf("redelivered attempt: %v", err)
	}
	if got := folderRowCount(messages.fakeMessageRepo, 2, "INBOX"); got != 2 {
		t.Errorf("inbox rows after replay = %d, want 2", got)
	}
	if got := folderRowCount(messages.fakeMessageRepo, 2, "Sent"); got != 1 {
		t.Errorf("sent rows after replay = %d, want 1", got)
	}
	if result.EmailsSynced != 1 {
		t.Errorf("replay emailsSynced = %d, want 1 (only the sent message was missing)", result.EmailsSynced)
	}
}

func TestGraphSyncEvictsStaleFolderIDOnNotFound(t *testing.T) {
	account := graphAccount()
	account.SyncedFolders = []string{"INBOX"}
	accounts := &fakeAccountRepo{accounts: map[int64]*domain.MailAccount{2: account}}
	graph := &fakeGraph{
		folders:  []out.RemoteFolder{{Path: "Inbox", ID: "fid-old"}},
		messages: map[string][]out.GraphMessage{"fid-old": {{ID: "m1"}}},
	}
	o, _ := newTestOrchestrator(t, accounts, newFakeMessageRepo(), &fakeDialer{}, graph, nil)

	// Prime the folder id cache.
	if _, err := o.IncrementalSync(context.Background(), 2, []string{"INBOX"}); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if graph.listCalls != 1 {
		t.Fatalf("listCalls = %d, want 1", graph.listCalls)
	}

	// The folder was recreated remotely under a new id; the cached one is
	// dead.
	graph.gone = map[string]bool{"fid-old": true}
	graph.folders = []out.RemoteFolder{{Path: "Inbox", ID: "fid-new"}}
	graph.messages = map[string][]out.GraphMessage{"fid-new": {{ID: "m2"}}}

	result, err := o.IncrementalSync(context.Background(), 2, []string{"INBOX"})
	if err != nil {
		t.Fatalf("stale-id sync: %v", err)
	}
	if _, ok := result.FolderErrors["INBOX"]; !ok {
		t.Fatal("expected INBOX recorded in folderErrors for the stale id")
	}
	if graph.listCalls != 1 {
		t.Fatalf("stale-id run should be served from the cache, listCalls = %d", graph.listCalls)
	}

	// The next run misses the cache, re-lists and recovers.
	recovered, err := o.IncrementalSync(context.Background(), 2, []string{"INBOX"})
	if err != nil {
		t.Fatalf("recovery sync: %v", err)
	}
	if graph.listCalls != 2 {
		t.Errorf("listCalls = %d, want 2 after eviction", graph.listCalls)
	}
	if recovered.EmailsSynced != 1 {
		t.Errorf("recovered emailsSynced = %d, want 1", recovered.EmailsSynced)
	}
}

// ---------------------------------------------------------------------------
// attachments
// ---------------------------------------------------------------------------

func TestIMAPSyncEnqueuesAttachments(t *testing.T) {
	vault, _ := crypto.NewVault(testMasterKey)
	account := imapAccount(t, vault)
	accounts := &fakeAccountRepo{accounts: map[int64]*domain.MailAccount{1: account}}
	messages := newFakeMessageRepo()

	boundary := "BNDRY"
	withAttachment := strings.Join([]string{
		"From: a@example.com",
		"To: b@example.com",
		"Subject: invoice",
		"Date: Mon, 02 Jun 2025 10:00:00 +0000",
		"MIME-Version: 1.0",
		"Content-Type: multipart/mixed; boundary=" + boundary,
		"",
		"--" + boundary,
		"Content-Type: text/plain",
		"",
		"see attachment",
		"--" + boundary,
		"Content-Type: application/pdf",
		"Content-Disposition: attachment; filename=invoice.pdf",
		"",
		"%PDF-1.4 fake",
		"--" + boundary + "--",
		"",
	}, "\r\n")

	session := &attachmentSession{
		fakeSession: &fakeSession{
			folders: []out.RemoteFolder{{Path: "INBOX"}},
			uids:    map[string][]int64{"INBOX": {1}},
		},
		raw: []byte(withAttachment),
	}
	o, producer := newTestOrchestrator(t, accounts, messages, customDialer{session}, nil, nil)
	o.vault = vault

	if _, err := o.InitialSync(context.Background(), 1); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(producer.attachments) != 1 {
		t.Fatalf("attachment jobs = %d, want 1", len(producer.attachments))
	}
	job := producer.attachments[0]
	if job.Filename != "invoice.pdf" {
		t.Errorf("filename = %q", job.Filename)
	}
	if job.MessageID == 0 {
		t.Error("attachment job missing message id")
	}
}

type attachmentSession struct {
	*fakeSession
	raw []byte
}

func (s *attachmentSession) FetchRange(ctx context.Context, folder string, lo, hi int64) ([]out.RawMessage, error) {
	return []out.RawMessage{{UID: 1, Source: s.raw}}, nil
}

type customDialer struct{ session out.IMAPSession }

func (d customDialer) Dial(ctx context.Context, creds out.IMAPCredentials) (out.IMAPSession, error) {
	return d.session, nil
}
func (d customDialer) TestConnection(ctx context.Context, creds out.IMAPCredentials) error {
	return nil
}

func seq(lo, hi int64) []int64 {
	var uids []int64
	for uid := lo; uid <= hi; uid++ {
		uids = append(uids, uid)
	}
	return uids
}
