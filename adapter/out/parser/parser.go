// Package parser converts raw provider payloads into canonical message
// records.
package parser

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"mailbridge/core/domain"
	"mailbridge/core/port/out"
	"mailbridge/pkg/apperr"
)

const noSubject = "(No Subject)"

// ParsedAttachment is one attachment lifted out of a message. Bytes are
// handed to the upload queue; only the reference survives in the mirror.
type ParsedAttachment struct {
	Filename    string
	ContentType string
	ContentID   string
	Size        int64
	Content     []byte
}

// Parsed is the canonical result of parsing one upstream message.
type Parsed struct {
	Message     *domain.Message
	Attachments []ParsedAttachment
}

// Parser canonicalizes IMAP RFC 5322 bytes and Graph JSON messages. Now is
// injectable so tests control the received-at fallback.
type Parser struct {
	now func() time.Time
}

func New() *Parser {
	return &Parser{now: time.Now}
}

// NewWithClock is for tests.
func NewWithClock(now func() time.Time) *Parser {
	return &Parser{now: now}
}

// ParseIMAP parses one raw RFC 5322 message into the canonical record.
func (p *Parser) ParseIMAP(raw out.RawMessage, accountID int64, folder string) (*Parsed, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw.Source))
	if err != nil {
		return nil, apperr.ParseError(err)
	}

	msg := &domain.Message{
		AccountID: accountID,
		UID:       raw.UID,
		Folder:    folder,
		IsRead:    raw.Seen,
		Subject:   orNoSubject(env.GetHeader("Subject")),
		From:      firstAddress(env),
		To:        addressList(env, "To"),
		FetchedAt: p.now(),
	}

	if id := strings.Trim(env.GetHeader("Message-ID"), "<> \t"); id != "" {
		msg.MessageID = &id
	}

	msg.ReceivedAt = p.now()
	if dateStr := env.GetHeader("Date"); dateStr != "" {
		if t, err := parseDate(dateStr); err == nil {
			msg.ReceivedAt = t
		}
	}

	msg.Body, msg.HTMLBody = canonicalBodies(env.Text, env.HTML)

	var attachments []ParsedAttachment
	for _, part := range env.Attachments {
		if part.FileName == "" && len(part.Content) == 0 {
			continue
		}
		attachments = append(attachments, ParsedAttachment{
			Filename:    part.FileName,
			ContentType: part.ContentType,
			ContentID:   part.ContentID,
			Size:        int64(len(part.Content)),
			Content:     part.Content,
		})
	}

	return &Parsed{Message: msg, Attachments: attachments}, nil
}

// ParseGraph canonicalizes one Graph message. The UID is assigned by the
// orchestrator, not here.
func (p *Parser) ParseGraph(gm out.GraphMessage, accountID int64, folder string) (*Parsed, error) {
	if gm.ID == "" {
		return nil, apperr.ParseError(fmt.Errorf("graph message without id"))
	}

	msg := &domain.Message{
		AccountID: accountID,
		Folder:    folder,
		IsRead:    gm.IsRead,
		Subject:   orNoSubject(gm.Subject),
		From:      gm.From,
		To:        gm.To,
		FetchedAt: p.now(),
	}

	switch {
	case gm.InternetID != "":
		id := strings.Trim(gm.InternetID, "<>")
		msg.MessageID = &id
	default:
		id := gm.ID
		msg.MessageID = &id
	}

	msg.ReceivedAt = gm.ReceivedAt
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = p.now()
	}

	text := gm.BodyText
	if text == "" && gm.BodyHTML == "" {
		text = gm.Preview
	}
	msg.Body, msg.HTMLBody = canonicalBodies(text, gm.BodyHTML)

	return &Parsed{Message: msg}, nil
}

func orNoSubject(subject string) string {
	if strings.TrimSpace(subject) == "" {
		return noSubject
	}
	return subject
}

// canonicalBodies derives the plain-text body and the nullable HTML body.
// HTML-only messages get a stripped plain text; text-only messages get a
// div-wrapped HTML rendition.
func canonicalBodies(text, htmlBody string) (string, *string) {
	switch {
	case text != "" && htmlBody != "":
		return text, &htmlBody
	case htmlBody != "":
		return StripHTML(htmlBody), &htmlBody
	case text != "":
		wrapped := "<div>" + html.EscapeString(text) + "</div>"
		return text, &wrapped
	default:
		return "", nil
	}
}

var (
	tagRE        = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>|<[^>]+>`)
	whitespaceRE = regexp.MustCompile(`\s+`)
)

// StripHTML removes tags and collapses whitespace.
func StripHTML(s string) string {
	s = tagRE.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
}

// firstAddress renders the first From address as `"Name" <addr>` when both
// parts are present, else the bare address, else "".
func firstAddress(env *enmime.Envelope) string {
	list, err := env.AddressList("From")
	if err != nil || len(list) == 0 {
		return ""
	}
	addr := list[0]
	if addr.Name != "" && addr.Address != "" {
		return fmt.Sprintf("%q <%s>", addr.Name, addr.Address)
	}
	return addr.Address
}

func addressList(env *enmime.Envelope, header string) []string {
	list, err := env.AddressList(header)
	if err != nil {
		return nil
	}
	var addrs []string
	for _, addr := range list {
		if addr.Address == "" {
			continue
		}
		if addr.Name != "" {
			addrs = append(addrs, fmt.Sprintf("%q <%s>", addr.Name, addr.Address))
		} else {
			addrs = append(addrs, addr.Address)
		}
	}
	return addrs
}

// dateFormats lists the date shapes seen in the wild beyond RFC 1123.
var dateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"02 Jan 2006 15:04:05 -0700",
	"Mon, 02 Jan 2006 15:04:05 -0700 (MST)",
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
