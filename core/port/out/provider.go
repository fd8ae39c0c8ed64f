package out

import (
	"context"
	"time"
)

// RemoteFolder is one upstream folder as the provider reports it.
type RemoteFolder struct {
	// Path is the raw provider path, e.g. "[Gmail]/Sent Mail".
	Path string
	// Attributes are the special-use attributes, e.g. "\Sent".
	Attributes []string
	// ID is the provider-side folder id when the provider has one (Graph).
	ID string
}

// RawMessage is one fetched message before parsing.
type RawMessage struct {
	UID int64
	// Source is the raw RFC 5322 bytes for IMAP fetches, or the Graph
	// message JSON for OAuth fetches.
	Source []byte
	Seen   bool
}

// IMAPCredentials dials one mailbox with an app password.
type IMAPCredentials struct {
	Host     string
	Email    string
	Password string
}

// IMAPSession is one authenticated IMAP connection. Sessions are not safe
// for concurrent use; the orchestrator runs one per account sync.
type IMAPSession interface {
	// ListFolders enumerates every selectable folder with its attributes.
	ListFolders(ctx context.Context) ([]RemoteFolder, error)

	// HighestUID selects the folder and returns UIDNEXT-1, the highest UID
	// the server could have assigned, or 0 for an empty folder.
	HighestUID(ctx context.Context, folder string) (int64, error)

	// SearchUIDsFrom returns the UIDs at or above start in ascending order.
	// The folder must already be selected via HighestUID.
	SearchUIDsFrom(ctx context.Context, folder string, start int64) ([]int64, error)

	// FetchRange fetches full messages for the UID range [lo, hi] of the
	// selected folder. Missing UIDs in the range are skipped silently.
	FetchRange(ctx context.Context, folder string, lo, hi int64) ([]RawMessage, error)

	Close() error
}

// IMAPDialer opens IMAP sessions. TestConnection performs a full
// dial-login-logout round trip and is the credential check used at
// account registration.
type IMAPDialer interface {
	Dial(ctx context.Context, creds IMAPCredentials) (IMAPSession, error)
	TestConnection(ctx context.Context, creds IMAPCredentials) error
}

// GraphMessage is one Graph message in provider-neutral form. The Graph
// adapter flattens the REST shape so the parser sees one input type.
type GraphMessage struct {
	ID         string
	InternetID string
	Subject    string
	From       string
	To         []string
	BodyHTML   string
	BodyText   string
	Preview    string
	IsRead     bool
	ReceivedAt time.Time
}

// GraphClient talks to the Microsoft Graph mail API with a bearer token.
type GraphClient interface {
	// Me returns the signed-in mailbox address.
	Me(ctx context.Context, accessToken string) (string, error)

	ListFolders(ctx context.Context, accessToken string) ([]RemoteFolder, error)

	// FolderID resolves a well-known or display-name folder to its Graph
	// id. Results are safe to cache per (account, folder).
	FolderID(ctx context.Context, accessToken, folder string) (string, error)

	// FetchSince pages messages of a folder received at or after since,
	// newest first, up to max messages.
	FetchSince(ctx context.Context, accessToken, folderID string, since time.Time, max int) ([]GraphMessage, error)
}

// TokenRefresher redeems a Microsoft refresh token for a fresh pair.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (access, refresh string, err error)
}

// OAuthFlow drives the Microsoft authorization-code dance at account
// registration.
type OAuthFlow interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (access, refresh string, err error)
}
