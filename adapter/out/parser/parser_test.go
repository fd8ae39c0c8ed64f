package parser

import (
	"strings"
	"testing"
	"time"

	"mailbridge/core/port/out"
	"mailbridge/pkg/apperr"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testParser() *Parser {
	return NewWithClock(func() time.Time { return testNow })
}

func rawMessage(headers map[string]string, body string) []byte {
	var b strings.Builder
	for k, v := range headers {
		b.WriteString(k + ": " + v + "\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func TestParseIMAP(t *testing.T) {
	raw := rawMessage(map[string]string{
		"From":         `"Alice Smith" <alice@example.com>`,
		"To":           `bob@example.com, "Carol" <carol@example.com>`,
		"Subject":      "Quarterly report",
		"Date":         "Mon, 02 Jun 2025 09:30:00 +0200",
		"Message-ID":   "<abc123@example.com>",
		"Content-Type": "text/plain; charset=utf-8",
	}, "See attached numbers.\r\n")

	parsed, err := testParser().ParseIMAP(out.RawMessage{UID: 42, Source: raw, Seen: true}, 7, "INBOX")
	if err != nil {
		t.Fatalf("ParseIMAP: %v", err)
	}
	msg := parsed.Message

	if msg.UID != 42 || msg.AccountID != 7 || msg.Folder != "INBOX" {
		t.Errorf("identity fields wrong: %+v", msg)
	}
	if msg.From != `"Alice Smith" <alice@example.com>` {
		t.Errorf("from = %q", msg.From)
	}
	if len(msg.To) != 2 || msg.To[0] != "bob@example.com" {
		t.Errorf("to = %v", msg.To)
	}
	if msg.Subject != "Quarterly report" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if msg.MessageID == nil || *msg.MessageID != "abc123@example.com" {
		t.Errorf("messageID = %v", msg.MessageID)
	}
	if !msg.IsRead {
		t.Error("expected IsRead from \\Seen")
	}
	want := time.Date(2025, 6, 2, 7, 30, 0, 0, time.UTC)
	if !msg.ReceivedAt.Equal(want) {
		t.Errorf("receivedAt = %v, want %v", msg.ReceivedAt, want)
	}
	if !strings.Contains(msg.Body, "See attached numbers.") {
		t.Errorf("body = %q", msg.Body)
	}
	if msg.HTMLBody == nil || !strings.HasPrefix(*msg.HTMLBody, "<div>") {
		t.Errorf("expected div-wrapped html body, got %v", msg.HTMLBody)
	}
}

func TestParseIMAPDefaults(t *testing.T) {
	raw := rawMessage(map[string]string{
		"Content-Type": "text/html; charset=utf-8",
	}, "<html><body><p>Hello&nbsp;<b>world</b></p></body></html>")

	parsed, err := testParser().ParseIMAP(out.RawMessage{UID: 1, Source: raw}, 1, "Sent")
	if err != nil {
		t.Fatalf("ParseIMAP: %v", err)
	}
	msg := parsed.Message

	if msg.Subject != "(No Subject)" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if msg.From != "" {
		t.Errorf("from = %q", msg.From)
	}
	if msg.MessageID != nil {
		t.Errorf("messageID = %v", msg.MessageID)
	}
	if !msg.ReceivedAt.Equal(testNow) {
		t.Errorf("receivedAt = %v, want clock fallback", msg.ReceivedAt)
	}
	if !strings.Contains(msg.Body, "Hello") || strings.Contains(msg.Body, "<b>") {
		t.Errorf("stripped body = %q", msg.Body)
	}
	if msg.HTMLBody == nil || !strings.Contains(*msg.HTMLBody, "<b>world</b>") {
		t.Error("expected original html preserved")
	}
}

func TestParseIMAPMalformed(t *testing.T) {
	_, err := testParser().ParseIMAP(out.RawMessage{UID: 1, Source: []byte("not: a\x00\xff")}, 1, "INBOX")
	if err == nil {
		// enmime is tolerant of most garbage; a nil error is acceptable as
		// long as parse failures, when they happen, carry the right kind.
		return
	}
	if !apperr.Is(err, apperr.CodeParseError) {
		t.Errorf("expected PARSE_ERROR, got %v", err)
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"tags", "<p>Hello <b>world</b></p>", "Hello world"},
		{"script dropped", "<script>alert(1)</script>Hi", "Hi"},
		{"entities", "Fish &amp; chips", "Fish & chips"},
		{"whitespace collapsed", "a\n\n  b\t c", "a b c"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripHTML(tt.in); got != tt.want {
				t.Errorf("StripHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseGraph(t *testing.T) {
	gm := out.GraphMessage{
		ID:         "AAMkAD=",
		InternetID: "<graph-msg@outlook.com>",
		Subject:    "Hello",
		From:       `"Dana" <dana@outlook.com>`,
		To:         []string{"erin@example.com"},
		BodyHTML:   "<p>Hi there</p>",
		IsRead:     true,
		ReceivedAt: time.Date(2025, 5, 30, 8, 0, 0, 0, time.UTC),
	}

	parsed, err := testParser().ParseGraph(gm, 9, "INBOX")
	if err != nil {
		t.Fatalf("ParseGraph: %v", err)
	}
	msg := parsed.Message

	if msg.MessageID == nil || *msg.MessageID != "graph-msg@outlook.com" {
		t.Errorf("messageID = %v", msg.MessageID)
	}
	if msg.Body != "Hi there" {
		t.Errorf("body = %q", msg.Body)
	}
	if msg.HTMLBody == nil || *msg.HTMLBody != "<p>Hi there</p>" {
		t.Errorf("htmlBody = %v", msg.HTMLBody)
	}
	if msg.UID != 0 {
		t.Errorf("graph parse must not assign a uid, got %d", msg.UID)
	}
}

func TestParseGraphFallbacks(t *testing.T) {
	gm := out.GraphMessage{ID: "opaque-id", Preview: "preview text"}

	parsed, err := testParser().ParseGraph(gm, 1, "Sent")
	if err != nil {
		t.Fatalf("ParseGraph: %v", err)
	}
	msg := parsed.Message

	if msg.Subject != "(No Subject)" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if msg.MessageID == nil || *msg.MessageID != "opaque-id" {
		t.Errorf("expected opaque id fallback, got %v", msg.MessageID)
	}
	if msg.Body != "preview text" {
		t.Errorf("body = %q", msg.Body)
	}
	if !msg.ReceivedAt.Equal(testNow) {
		t.Errorf("receivedAt = %v, want clock fallback", msg.ReceivedAt)
	}
}

func TestParseGraphMissingID(t *testing.T) {
	_, err := testParser().ParseGraph(out.GraphMessage{}, 1, "INBOX")
	if !apperr.Is(err, apperr.CodeParseError) {
		t.Errorf("expected PARSE_ERROR, got %v", err)
	}
}
