package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"

	"mailbridge/core/port/out"
	"mailbridge/pkg/apperr"
	"mailbridge/pkg/logger"
)

const (
	imapPort       = 993
	connectTimeout = 30 * time.Second
	readTimeout    = 3 * time.Minute
	writeTimeout   = 30 * time.Second

	dialAttempts = 3
	dialRetryGap = 5 * time.Second
)

// deadlineConn wraps a net.Conn to arm read/write deadlines before each
// operation. go-imap v2 has no built-in per-command timeouts, so a dead
// server would otherwise hang the session forever.
type deadlineConn struct {
	net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.writeTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

// IMAPDialer dials TLS IMAP sessions on port 993.
type IMAPDialer struct {
	certsDir           string
	rejectUnauthorized bool
}

var _ out.IMAPDialer = (*IMAPDialer)(nil)

// NewIMAPDialer builds the process-wide dialer. The CA pool under certsDir
// is loaded once on first dial and shared after that.
func NewIMAPDialer(certsDir string, rejectUnauthorized bool) *IMAPDialer {
	return &IMAPDialer{certsDir: certsDir, rejectUnauthorized: rejectUnauthorized}
}

// Dial connects and authenticates, retrying transient failures up to three
// times with a fixed delay. Authentication rejections are not retried.
func (d *IMAPDialer) Dial(ctx context.Context, creds out.IMAPCredentials) (out.IMAPSession, error) {
	var lastErr error
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, err := d.dialOnce(creds)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if !apperr.IsRetryable(err) {
			return nil, err
		}
		logger.WithError(err).Warn("imap dial attempt %d/%d failed for %s", attempt, dialAttempts, creds.Host)
		if attempt < dialAttempts {
			select {
			case <-time.After(dialRetryGap):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

func (d *IMAPDialer) dialOnce(creds out.IMAPCredentials) (*imapSession, error) {
	addr := fmt.Sprintf("%s:%d", creds.Host, imapPort)
	dialer := &net.Dialer{Timeout: connectTimeout}

	rawConn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig(creds.Host, d.certsDir, d.rejectUnauthorized))
	if err != nil {
		return nil, apperr.ProviderUnavailable(fmt.Sprintf("imap %s", addr), err)
	}

	wrapped := &deadlineConn{Conn: rawConn, readTimeout: readTimeout, writeTimeout: writeTimeout}
	conn := imapclient.New(wrapped, &imapclient.Options{})

	// SASL PLAIN first; older servers without AUTH=PLAIN get the LOGIN
	// command instead.
	err = conn.Authenticate(sasl.NewPlainClient("", creds.Email, creds.Password))
	if err != nil {
		err = conn.Login(creds.Email, creds.Password).Wait()
	}
	if err != nil {
		_ = conn.Close()
		return nil, apperr.CredentialRejected("imap", err)
	}
	return &imapSession{conn: conn}, nil
}

// TestConnection performs a full connect, login and logout round trip.
// Used by onboarding to validate an app password before it is stored.
func (d *IMAPDialer) TestConnection(ctx context.Context, creds out.IMAPCredentials) error {
	sess, err := d.Dial(ctx, creds)
	if err != nil {
		return err
	}
	return sess.Close()
}

// imapSession is one authenticated connection. A mutex serializes access
// because IMAP is one-command-at-a-time per mailbox selection.
type imapSession struct {
	mu       sync.Mutex
	conn     *imapclient.Client
	selected string
	uidNext  int64
}

var _ out.IMAPSession = (*imapSession)(nil)

func (s *imapSession) ListFolders(ctx context.Context) ([]out.RemoteFolder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.conn.List("", "*", nil).Collect()
	if err != nil {
		return nil, apperr.ProtocolError("imap LIST", err)
	}

	folders := make([]out.RemoteFolder, 0, len(items))
	for _, item := range items {
		if hasAttr(item.Attrs, imap.MailboxAttrNoSelect) {
			continue
		}
		attrs := make([]string, 0, len(item.Attrs))
		for _, a := range item.Attrs {
			attrs = append(attrs, string(a))
		}
		folders = append(folders, out.RemoteFolder{Path: item.Mailbox, Attributes: attrs})
	}
	return folders, nil
}

// selectLocked selects the folder if it is not already selected. Caller
// must hold mu.
func (s *imapSession) selectLocked(folder string) error {
	if s.selected == folder {
		return nil
	}
	data, err := s.conn.Select(folder, nil).Wait()
	if err != nil {
		return apperr.ProtocolError(fmt.Sprintf("imap SELECT %q", folder), err)
	}
	s.selected = folder
	s.uidNext = int64(data.UIDNext)
	return nil
}

// HighestUID selects the folder and derives the highest assignable UID
// from UIDNEXT. An empty mailbox reports 0.
func (s *imapSession) HighestUID(ctx context.Context, folder string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Force a re-select so UIDNEXT is fresh even for a sticky selection.
	s.selected = ""
	if err := s.selectLocked(folder); err != nil {
		return 0, err
	}
	if s.uidNext <= 1 {
		return 0, nil
	}
	return s.uidNext - 1, nil
}

// SearchUIDsFrom returns the UIDs at or above start that are actually
// present, ascending. Expunged gaps in sparse mailboxes simply do not
// appear.
func (s *imapSession) SearchUIDsFrom(ctx context.Context, folder string, start int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.selectLocked(folder); err != nil {
		return nil, err
	}

	if start < 1 {
		start = 1
	}
	var uidSet imap.UIDSet
	uidSet.AddRange(imap.UID(start), 0) // 0 stop means *

	criteria := &imap.SearchCriteria{UID: []imap.UIDSet{uidSet}}
	data, err := s.conn.UIDSearch(criteria, &imap.SearchOptions{ReturnAll: true}).Wait()
	if err != nil {
		return nil, apperr.ProtocolError(fmt.Sprintf("imap UID SEARCH %q", folder), err)
	}

	found, ok := data.All.(imap.UIDSet)
	if !ok {
		return nil, nil
	}
	nums, _ := found.Nums()
	uids := make([]int64, 0, len(nums))
	for _, n := range nums {
		uids = append(uids, int64(n))
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

// FetchRange fetches full raw messages for UIDs in [lo, hi] of the folder.
// UIDs expunged inside the range are skipped by the server.
func (s *imapSession) FetchRange(ctx context.Context, folder string, lo, hi int64) ([]out.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.selectLocked(folder); err != nil {
		return nil, err
	}

	var uidSet imap.UIDSet
	uidSet.AddRange(imap.UID(lo), imap.UID(hi))

	opts := &imap.FetchOptions{
		UID:          true,
		Flags:        true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{{}},
	}
	msgs, err := s.conn.Fetch(uidSet, opts).Collect()
	if err != nil {
		return nil, apperr.ProtocolError(fmt.Sprintf("imap UID FETCH %q %d:%d", folder, lo, hi), err)
	}

	raws := make([]out.RawMessage, 0, len(msgs))
	for _, msg := range msgs {
		var body []byte
		if len(msg.BodySection) > 0 {
			body = msg.BodySection[0].Bytes
		}
		if len(body) == 0 {
			continue
		}
		raws = append(raws, out.RawMessage{
			UID:    int64(msg.UID),
			Source: body,
			Seen:   hasFlag(msg.Flags, imap.FlagSeen),
		})
	}
	return raws, nil
}

func (s *imapSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	conn := s.conn
	s.conn = nil
	s.selected = ""
	return conn.Logout().Wait()
}

func hasAttr(attrs []imap.MailboxAttr, attr imap.MailboxAttr) bool {
	for _, a := range attrs {
		if a == attr {
			return true
		}
	}
	return false
}

func hasFlag(flags []imap.Flag, flag imap.Flag) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}
