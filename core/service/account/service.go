// Package account implements mail account onboarding: app-password
// registration with a live credential check, and the Microsoft OAuth
// consent flow.
package account

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mailbridge/core/domain"
	"mailbridge/core/port/out"
	"mailbridge/pkg/apperr"
	"mailbridge/pkg/crypto"
	"mailbridge/pkg/logger"
)

// stateTTL bounds how long an OAuth consent redirect stays redeemable.
const stateTTL = 10 * time.Minute

// Service registers, lists and removes mail accounts.
type Service struct {
	accounts out.AccountRepository
	dialer   out.IMAPDialer
	graph    out.GraphClient
	oauth    out.OAuthFlow
	states   out.OAuthStateStore
	vault    *crypto.Vault
	producer out.JobProducer
}

func NewService(
	accounts out.AccountRepository,
	dialer out.IMAPDialer,
	graph out.GraphClient,
	oauth out.OAuthFlow,
	states out.OAuthStateStore,
	vault *crypto.Vault,
	producer out.JobProducer,
) *Service {
	return &Service{
		accounts: accounts,
		dialer:   dialer,
		graph:    graph,
		oauth:    oauth,
		states:   states,
		vault:    vault,
		producer: producer,
	}
}

// RegisterIMAP onboards an app-password mailbox. The credentials are
// verified with a live dial before anything is stored; the plaintext
// password never touches the database.
func (s *Service) RegisterIMAP(ctx context.Context, userID uuid.UUID, email, appPassword string) (*domain.MailAccount, error) {
	if email == "" {
		return nil, apperr.MissingField("email")
	}
	if appPassword == "" {
		return nil, apperr.MissingField("app_password")
	}

	provider := domain.DetectProvider(email)
	host := provider.IMAPHost()
	if host == "" {
		return nil, apperr.BadRequest("unsupported mail provider for " + email)
	}

	if err := s.ensureUnregistered(ctx, userID, email); err != nil {
		return nil, err
	}

	if err := s.dialer.TestConnection(ctx, out.IMAPCredentials{Host: host, Email: email, Password: appPassword}); err != nil {
		return nil, err
	}

	encrypted, err := s.vault.Encrypt(appPassword)
	if err != nil {
		return nil, err
	}

	account := &domain.MailAccount{
		UserID:            userID,
		Email:             email,
		Provider:          provider,
		EncryptedPassword: &encrypted,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}

	s.enqueueInitial(ctx, account)
	return account, nil
}

// StartOAuth issues a consent URL bound to the user via a one-time state
// nonce.
func (s *Service) StartOAuth(ctx context.Context, userID uuid.UUID) (string, error) {
	state := uuid.NewString()
	if err := s.states.Put(ctx, state, userID, stateTTL); err != nil {
		return "", err
	}
	return s.oauth.AuthURL(state), nil
}

// CompleteOAuth redeems the callback. The state nonce is consumed first so
// a replayed callback fails closed. An already registered mailbox gets its
// token pair refreshed instead of a duplicate row.
func (s *Service) CompleteOAuth(ctx context.Context, state, code string) (*domain.MailAccount, error) {
	if state == "" || code == "" {
		return nil, apperr.BadRequest("oauth callback missing state or code")
	}

	userID, err := s.states.Take(ctx, state)
	if err != nil {
		return nil, err
	}

	access, refresh, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	if refresh == "" {
		return nil, apperr.BadRequest("consent did not grant offline access")
	}

	email, err := s.graph.Me(ctx, access)
	if err != nil {
		return nil, err
	}

	existing, err := s.accounts.GetByUserAndEmail(ctx, userID, email)
	switch {
	case err == nil:
		if err := s.accounts.UpdateOAuthTokens(ctx, existing.ID, access, refresh); err != nil {
			return nil, err
		}
		existing.AccessToken = &access
		existing.RefreshToken = &refresh
		s.enqueueInitial(ctx, existing)
		return existing, nil
	case apperr.Is(err, apperr.CodeNotFound):
		// fresh registration
	default:
		return nil, err
	}

	provider := domain.DetectProvider(email)
	if provider != domain.ProviderOutlook && provider != domain.ProviderHotmail {
		provider = domain.ProviderOutlook
	}

	account := &domain.MailAccount{
		UserID:       userID,
		Email:        email,
		Provider:     provider,
		AccessToken:  &access,
		RefreshToken: &refresh,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}

	s.enqueueInitial(ctx, account)
	return account, nil
}

// UpdatePassword replaces the stored app password after a fresh live check.
func (s *Service) UpdatePassword(ctx context.Context, userID uuid.UUID, accountID int64, appPassword string) (*domain.MailAccount, error) {
	if appPassword == "" {
		return nil, apperr.MissingField("app_password")
	}

	account, err := s.Get(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	if account.IsOAuth() {
		return nil, apperr.BadRequest("oauth accounts have no app password")
	}

	host := account.Provider.IMAPHost()
	if err := s.dialer.TestConnection(ctx, out.IMAPCredentials{Host: host, Email: account.Email, Password: appPassword}); err != nil {
		return nil, err
	}

	encrypted, err := s.vault.Encrypt(appPassword)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, encrypted); err != nil {
		return nil, err
	}
	account.EncryptedPassword = &encrypted
	return account, nil
}

// List returns the user's accounts.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]*domain.MailAccount, error) {
	return s.accounts.ListByUser(ctx, userID)
}

// Get returns one account, enforcing ownership.
func (s *Service) Get(ctx context.Context, userID uuid.UUID, accountID int64) (*domain.MailAccount, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.UserID != userID {
		return nil, apperr.NotFound("mail account")
	}
	return account, nil
}

// Delete removes an account and, through the schema cascade, its mirrored
// messages.
func (s *Service) Delete(ctx context.Context, userID uuid.UUID, accountID int64) error {
	if _, err := s.Get(ctx, userID, accountID); err != nil {
		return err
	}
	return s.accounts.Delete(ctx, accountID)
}

// TriggerSync enqueues an on-demand sync for the account: incremental when
// the account has synced folders, initial otherwise.
func (s *Service) TriggerSync(ctx context.Context, userID uuid.UUID, accountID int64) error {
	account, err := s.Get(ctx, userID, accountID)
	if err != nil {
		return err
	}
	if len(account.SyncedFolders) > 0 {
		return s.producer.EnqueueIncrementalSync(ctx, out.IncrementalSyncJob{
			AccountID: account.ID,
			Email:     account.Email,
			Folders:   account.SyncedFolders,
		})
	}
	return s.producer.EnqueueInitialSync(ctx, out.InitialSyncJob{AccountID: account.ID, Email: account.Email})
}

func (s *Service) ensureUnregistered(ctx context.Context, userID uuid.UUID, email string) error {
	_, err := s.accounts.GetByUserAndEmail(ctx, userID, email)
	switch {
	case err == nil:
		return apperr.AlreadyExists("mail account")
	case apperr.Is(err, apperr.CodeNotFound):
		return nil
	default:
		return err
	}
}

// enqueueInitial kicks off the first sync. A broker hiccup here is not
// fatal; the account exists and the user can trigger a sync manually.
func (s *Service) enqueueInitial(ctx context.Context, account *domain.MailAccount) {
	job := out.InitialSyncJob{AccountID: account.ID, Email: account.Email}
	if err := s.producer.EnqueueInitialSync(ctx, job); err != nil {
		logger.WithError(err).Error("failed to enqueue initial sync for account %d", account.ID)
	}
}
