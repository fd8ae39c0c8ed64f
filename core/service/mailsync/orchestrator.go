package mailsync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mailbridge/adapter/out/parser"
	"mailbridge/core/domain"
	"mailbridge/core/port/out"
	"mailbridge/pkg/apperr"
	"mailbridge/pkg/crypto"
	"mailbridge/pkg/logger"
)

const (
	incrementalChunkSize = 50
	initialChunkSize     = 100

	// graphRunCap bounds messages retrieved per Graph sync run.
	graphRunCap = 500
)

// Orchestrator runs one sync attempt for one account. All provider and
// storage access goes through ports; the orchestrator owns only the delta
// arithmetic and per-folder isolation.
type Orchestrator struct {
	accounts out.AccountRepository
	messages out.MessageRepository
	dialer   out.IMAPDialer
	graph    out.GraphClient
	tokens   out.TokenRefresher
	vault    *crypto.Vault
	parser   *parser.Parser
	producer out.JobProducer
	now      func() time.Time

	// folderIDs caches Graph folder ids by "accountID:canonical" so an
	// incremental run skips the folder listing entirely.
	mu        sync.Mutex
	folderIDs map[string]string
}

func NewOrchestrator(
	accounts out.AccountRepository,
	messages out.MessageRepository,
	dialer out.IMAPDialer,
	graph out.GraphClient,
	tokens out.TokenRefresher,
	vault *crypto.Vault,
	p *parser.Parser,
	producer out.JobProducer,
) *Orchestrator {
	return &Orchestrator{
		accounts:  accounts,
		messages:  messages,
		dialer:    dialer,
		graph:     graph,
		tokens:    tokens,
		vault:     vault,
		parser:    p,
		producer:  producer,
		now:       time.Now,
		folderIDs: make(map[string]string),
	}
}

// InitialSync discovers every eligible folder and syncs each from scratch.
func (o *Orchestrator) InitialSync(ctx context.Context, accountID int64) (*domain.SyncResult, error) {
	return o.sync(ctx, accountID, true, nil)
}

// IncrementalSync replays only the previously synced canonical folders.
func (o *Orchestrator) IncrementalSync(ctx context.Context, accountID int64, folders []string) (*domain.SyncResult, error) {
	return o.sync(ctx, accountID, false, folders)
}

func (o *Orchestrator) sync(ctx context.Context, accountID int64, initial bool, only []string) (*domain.SyncResult, error) {
	start := o.now()

	account, err := o.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var result *domain.SyncResult
	if account.IsOAuth() {
		result, err = o.syncGraph(ctx, account, only)
	} else {
		result, err = o.syncIMAP(ctx, account, initial, only)
	}
	if err != nil {
		return nil, err
	}

	result.AccountID = accountID
	result.Duration = o.now().Sub(start)
	logger.Info("synced account %d: %d messages across %d folders in %s",
		accountID, result.EmailsSynced, len(result.FoldersSynced), result.Duration.Round(time.Millisecond))
	return result, nil
}

// syncIMAP runs the UID-watermark delta loop over every eligible folder.
func (o *Orchestrator) syncIMAP(ctx context.Context, account *domain.MailAccount, initial bool, only []string) (*domain.SyncResult, error) {
	host := account.Provider.IMAPHost()
	if host == "" {
		return nil, apperr.BadRequest(fmt.Sprintf("provider %q has no IMAP endpoint", account.Provider))
	}
	if account.EncryptedPassword == nil {
		return nil, apperr.BadRequest("account has no stored app password")
	}

	// The decrypted password lives only for the scope of this dial.
	password, err := o.vault.Decrypt(*account.EncryptedPassword)
	if err != nil {
		return nil, err
	}
	session, err := o.dialer.Dial(ctx, out.IMAPCredentials{Host: host, Email: account.Email, Password: password})
	if err != nil {
		return nil, err
	}
	defer session.Close()

	remote, err := session.ListFolders(ctx)
	if err != nil {
		return nil, err
	}
	folders := eligibleFolders(remote, only)

	chunkSize := incrementalChunkSize
	if initial {
		chunkSize = initialChunkSize
	}

	result := &domain.SyncResult{FolderErrors: map[string]string{}}
	var watermark int64

	for _, folder := range folders {
		canonical := Normalize(folder)
		synced, high, err := o.syncIMAPFolder(ctx, session, account, folder, canonical, chunkSize, result)
		if err != nil {
			// Per-folder isolation: a broken folder never aborts its
			// siblings. Credential errors cannot be folder-local and
			// abort the job upstream.
			if apperr.Is(err, apperr.CodeCredentialRejected) {
				return nil, err
			}
			logger.WithError(err).Warn("folder %q failed for account %d", folder.Path, account.ID)
			result.FolderErrors[canonical] = err.Error()
			continue
		}
		result.EmailsSynced += synced
		result.FoldersSynced = appendUnique(result.FoldersSynced, canonical)
		if high > watermark {
			watermark = high
		}
	}

	if err := o.finishSync(ctx, account, watermark, result.FoldersSynced); err != nil {
		return nil, err
	}
	return result, nil
}

// syncIMAPFolder performs the descending-UID chunked delta for one folder.
// Returns messages persisted and the highest UID observed remotely.
func (o *Orchestrator) syncIMAPFolder(
	ctx context.Context,
	session out.IMAPSession,
	account *domain.MailAccount,
	folder out.RemoteFolder,
	canonical string,
	chunkSize int,
	result *domain.SyncResult,
) (int, int64, error) {
	lastUID, err := o.messages.HighestUID(ctx, account.ID, canonical)
	if err != nil {
		return 0, 0, err
	}

	remoteHigh, err := session.HighestUID(ctx, folder.Path)
	if err != nil {
		return 0, 0, err
	}

	// A remote high below our watermark means the UID space was reset
	// (UIDVALIDITY change). Restart the folder from zero; tombstones and
	// the uniqueness constraint keep replays harmless.
	if remoteHigh < lastUID {
		logger.Warn("uid regression on account %d folder %q (mirror %d > remote %d), resetting watermark",
			account.ID, canonical, lastUID, remoteHigh)
		lastUID = 0
	}

	startUID := lastUID + 1
	if remoteHigh < startUID {
		return 0, remoteHigh, nil
	}

	uids, err := session.SearchUIDsFrom(ctx, folder.Path, startUID)
	if err != nil {
		return 0, 0, err
	}
	if len(uids) == 0 {
		return 0, remoteHigh, nil
	}

	// Newest first so partial progress under a crash surfaces the most
	// recent mail.
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })

	total := 0
	for chunkStart := 0; chunkStart < len(uids); chunkStart += chunkSize {
		chunkEnd := chunkStart + chunkSize
		if chunkEnd > len(uids) {
			chunkEnd = len(uids)
		}
		chunk := uids[chunkStart:chunkEnd]

		// Descending order: last element is the chunk's low UID.
		lo, hi := chunk[len(chunk)-1], chunk[0]
		fetched, err := session.FetchRange(ctx, folder.Path, lo, hi)
		if err != nil {
			return total, remoteHigh, err
		}

		inChunk := make(map[int64]bool, len(chunk))
		for _, uid := range chunk {
			inChunk[uid] = true
		}

		batch := make([]*domain.Message, 0, len(fetched))
		attachments := make(map[*domain.Message][]parser.ParsedAttachment)

		// Oldest-in-chunk first so interrupted chunks leave a contiguous
		// low prefix behind.
		for i := len(fetched) - 1; i >= 0; i-- {
			raw := fetched[i]
			if !inChunk[raw.UID] {
				continue
			}
			exists, err := o.messages.ExistsByUIDFolderAccount(ctx, raw.UID, canonical, account.ID)
			if err != nil {
				return total, remoteHigh, err
			}
			if exists {
				continue
			}
			parsed, err := o.parser.ParseIMAP(raw, account.ID, canonical)
			if err != nil {
				result.ParseFailures++
				continue
			}
			batch = append(batch, parsed.Message)
			if len(parsed.Attachments) > 0 {
				attachments[parsed.Message] = parsed.Attachments
			}
		}

		inserted, err := o.messages.InsertBatch(ctx, batch)
		if err != nil {
			return total, remoteHigh, err
		}
		total += inserted
		o.enqueueAttachments(ctx, batch, attachments)
	}

	return total, remoteHigh, nil
}

// syncGraph runs the timestamp-filtered delta over Graph folders, mapping
// each message onto a locally assigned synthetic UID.
func (o *Orchestrator) syncGraph(ctx context.Context, account *domain.MailAccount, only []string) (*domain.SyncResult, error) {
	access, refresh, err := o.tokens.Refresh(ctx, *account.RefreshToken)
	if err != nil {
		return nil, err
	}
	// The rotated refresh token must hit storage before the access token
	// is used; a crash mid-sync must not strand the account.
	if err := o.accounts.UpdateOAuthTokens(ctx, account.ID, access, refresh); err != nil {
		return nil, err
	}

	folders, err := o.graphFolders(ctx, access, account, only)
	if err != nil {
		return nil, err
	}

	since := time.Unix(0, 0)
	if account.LastSyncedAt != nil {
		since = *account.LastSyncedAt
	}

	maxUID, err := o.messages.MaxUID(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	nextUID := account.LastFetchedUID
	if maxUID > nextUID {
		nextUID = maxUID
	}

	result := &domain.SyncResult{FolderErrors: map[string]string{}}
	remaining := graphRunCap

	for _, folder := range folders {
		if remaining <= 0 {
			break
		}
		canonical := Normalize(folder)

		msgs, err := o.graph.FetchSince(ctx, access, folder.ID, since, remaining)
		if err != nil {
			if apperr.Is(err, apperr.CodeCredentialRejected) {
				return nil, err
			}
			// A vanished folder id means the folder was renamed or
			// deleted remotely; drop it from the cache so the next run
			// re-lists instead of failing forever.
			if apperr.Is(err, apperr.CodeNotFound) {
				o.evictFolderID(account.ID, canonical)
			}
			logger.WithError(err).Warn("graph folder %q failed for account %d", folder.Path, account.ID)
			result.FolderErrors[canonical] = err.Error()
			continue
		}
		remaining -= len(msgs)

		batch := make([]*domain.Message, 0, len(msgs))
		for _, gm := range msgs {
			parsed, err := o.parser.ParseGraph(gm, account.ID, canonical)
			if err != nil {
				result.ParseFailures++
				continue
			}
			// Synthetic UIDs make the (account, uid, folder) guard blind
			// to replays, so a redelivered job dedupes on the provider
			// message id instead.
			exists, err := o.messages.ExistsByMessageID(ctx, account.ID, canonical, *parsed.Message.MessageID)
			if err != nil {
				return nil, err
			}
			if exists {
				continue
			}
			nextUID++
			parsed.Message.UID = nextUID
			batch = append(batch, parsed.Message)
		}

		inserted, err := o.messages.InsertBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		result.EmailsSynced += inserted
		result.FoldersSynced = appendUnique(result.FoldersSynced, canonical)
	}

	if err := o.finishSync(ctx, account, nextUID, result.FoldersSynced); err != nil {
		return nil, err
	}
	return result, nil
}

// graphFolders resolves the folders to sync. Incremental runs are served
// from the folder id cache when every requested folder is present.
func (o *Orchestrator) graphFolders(ctx context.Context, access string, account *domain.MailAccount, only []string) ([]out.RemoteFolder, error) {
	if len(only) > 0 {
		if cached, ok := o.cachedFolders(account.ID, only); ok {
			return cached, nil
		}
	}

	remote, err := o.graph.ListFolders(ctx, access)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	for _, folder := range remote {
		o.folderIDs[folderKey(account.ID, Normalize(folder))] = folder.ID
	}
	o.mu.Unlock()

	return eligibleFolders(remote, only), nil
}

func (o *Orchestrator) cachedFolders(accountID int64, only []string) ([]out.RemoteFolder, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	folders := make([]out.RemoteFolder, 0, len(only))
	for _, canonical := range only {
		id, ok := o.folderIDs[folderKey(accountID, canonical)]
		if !ok {
			return nil, false
		}
		folders = append(folders, out.RemoteFolder{Path: canonical, ID: id})
	}
	return folders, true
}

func (o *Orchestrator) evictFolderID(accountID int64, canonical string) {
	o.mu.Lock()
	delete(o.folderIDs, folderKey(accountID, canonical))
	o.mu.Unlock()
}

func folderKey(accountID int64, canonical string) string {
	return fmt.Sprintf("%d:%s", accountID, canonical)
}

// finishSync persists the account-level watermark, the completion instant
// and the grown synced-folder set.
func (o *Orchestrator) finishSync(ctx context.Context, account *domain.MailAccount, watermark int64, synced []string) error {
	union := account.SyncedFolders
	for _, canonical := range synced {
		union = appendUnique(union, canonical)
	}
	if watermark < account.LastFetchedUID {
		watermark = account.LastFetchedUID
	}
	return o.accounts.UpdateSyncState(ctx, account.ID, watermark, o.now(), union)
}

func (o *Orchestrator) enqueueAttachments(ctx context.Context, inserted []*domain.Message, attachments map[*domain.Message][]parser.ParsedAttachment) {
	if o.producer == nil {
		return
	}
	for _, msg := range inserted {
		if msg.ID == 0 {
			continue // duplicate, never persisted
		}
		for _, att := range attachments[msg] {
			job := out.AttachmentUploadJob{
				MessageID:   msg.ID,
				Filename:    att.Filename,
				ContentType: att.ContentType,
				Data:        att.Content,
			}
			if err := o.producer.EnqueueAttachmentUpload(ctx, job); err != nil {
				logger.WithError(err).Warn("attachment enqueue failed for message %d", msg.ID)
			}
		}
	}
}

// eligibleFolders filters out excluded folders, restricts to the canonical
// set when only is non-empty, and orders the survivors by priority.
func eligibleFolders(remote []out.RemoteFolder, only []string) []out.RemoteFolder {
	var wanted map[string]bool
	if len(only) > 0 {
		wanted = make(map[string]bool, len(only))
		for _, canonical := range only {
			wanted[canonical] = true
		}
	}

	var folders []out.RemoteFolder
	for _, folder := range remote {
		if !ShouldSync(folder) {
			continue
		}
		if wanted != nil && !wanted[Normalize(folder)] {
			continue
		}
		folders = append(folders, folder)
	}
	SortByPriority(folders)
	return folders
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
