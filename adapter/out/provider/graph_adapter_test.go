package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"mailbridge/pkg/apperr"
)

func newTestGraph(baseURL string) *GraphAdapter {
	return NewGraphAdapter(GraphConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		BaseURL:      baseURL,
	})
}

func TestGraphListFoldersFollowsNextLink(t *testing.T) {
	var requests int
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]string{{"id": "f3", "displayName": "Archive"}},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]string{
				{"id": "f1", "displayName": "Inbox"},
				{"id": "f2", "displayName": "Sent Items"},
			},
			"@odata.nextLink": srv.URL + "/me/mailFolders?page=2",
		})
	}))
	defer srv.Close()

	a := newTestGraph(srv.URL)
	folders, err := a.ListFolders(context.Background(), "tok")
	if err != nil {
		t.Fatalf("listFolders: %v", err)
	}
	if len(folders) != 3 {
		t.Fatalf("folders = %d, want 3 across both pages", len(folders))
	}
	if requests != 2 {
		t.Errorf("requests = %d, want 2", requests)
	}
	if folders[2].ID != "f3" || folders[2].Path != "Archive" {
		t.Errorf("last folder = %+v", folders[2])
	}
}

func TestGraphFetchSinceStopsAtMax(t *testing.T) {
	var requests int
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		page := []map[string]any{}
		for i := 0; i < 5; i++ {
			page = append(page, map[string]any{
				"id":               "msg",
				"subject":          "s",
				"receivedDateTime": "2025-06-02T10:00:00Z",
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value":           page,
			"@odata.nextLink": srv.URL + "/more",
		})
	}))
	defer srv.Close()

	a := newTestGraph(srv.URL)
	msgs, err := a.FetchSince(context.Background(), "tok", "fid", time.Unix(0, 0), 3)
	if err != nil {
		t.Fatalf("fetchSince: %v", err)
	}
	if len(msgs) != 3 {
		t.Errorf("messages = %d, want 3", len(msgs))
	}
	if requests != 1 {
		t.Errorf("requests = %d, the nextLink must not be followed past max", requests)
	}
}

func TestGraphFetchSinceKeepsSubsecondPrecision(t *testing.T) {
	var filter string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter = r.URL.Query().Get("$filter")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"value": []any{}})
	}))
	defer srv.Close()

	since := time.Date(2025, 6, 2, 10, 0, 0, 123456700, time.UTC)
	a := newTestGraph(srv.URL)
	if _, err := a.FetchSince(context.Background(), "tok", "fid", since, 10); err != nil {
		t.Fatalf("fetchSince: %v", err)
	}
	want := "receivedDateTime ge 2025-06-02T10:00:00.1234567Z"
	if filter != want {
		t.Errorf("filter = %q, want %q (boundary instant must not lose its fraction)", filter, want)
	}
}

func TestGraphHTTPErrorMapping(t *testing.T) {
	cases := []struct {
		status    int
		wantCode  string
		retryable bool
	}{
		{http.StatusUnauthorized, apperr.CodeCredentialRejected, false},
		{http.StatusNotFound, apperr.CodeNotFound, false},
		{http.StatusTooManyRequests, apperr.CodeProviderUnavailable, true},
		{http.StatusBadGateway, apperr.CodeProviderUnavailable, true},
		{http.StatusBadRequest, apperr.CodeProtocolError, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":{"code":"x"}}`, tc.status)
		}))

		a := newTestGraph(srv.URL)
		_, err := a.Me(context.Background(), "tok")
		if !apperr.Is(err, tc.wantCode) {
			t.Errorf("HTTP %d: err = %v, want %s", tc.status, err, tc.wantCode)
		}
		if apperr.IsRetryable(err) != tc.retryable {
			t.Errorf("HTTP %d: retryable = %v, want %v", tc.status, apperr.IsRetryable(err), tc.retryable)
		}
		srv.Close()
	}
}

func TestGraphBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := newTestGraph(srv.URL)
	for i := 0; i < 5; i++ {
		if _, err := a.Me(context.Background(), "tok"); !apperr.Is(err, apperr.CodeProviderUnavailable) {
			t.Fatalf("call %d: err = %v, want PROVIDER_UNAVAILABLE", i+1, err)
		}
	}

	// The breaker is open now; the next call must fail fast.
	_, err := a.Me(context.Background(), "tok")
	if !apperr.Is(err, apperr.CodeProviderUnavailable) {
		t.Errorf("open-state err = %v, want PROVIDER_UNAVAILABLE", err)
	}
	if hits != 5 {
		t.Errorf("server hits = %d, want 5 (open breaker must not reach the server)", hits)
	}
}

func TestGraphMeFallsBackToUserPrincipalName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/me") {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"mail":              "",
			"userPrincipalName": "user@contoso.com",
		})
	}))
	defer srv.Close()

	a := newTestGraph(srv.URL)
	email, err := a.Me(context.Background(), "tok")
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if email != "user@contoso.com" {
		t.Errorf("email = %q, want userPrincipalName fallback", email)
	}
}

func TestClassifyOAuthErr(t *testing.T) {
	rejected := &oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusBadRequest}}
	if err := classifyOAuthErr(rejected); !apperr.Is(err, apperr.CodeCredentialRejected) {
		t.Errorf("4xx token error = %v, want CREDENTIAL_REJECTED", err)
	}

	transient := &oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusBadGateway}}
	if err := classifyOAuthErr(transient); !apperr.Is(err, apperr.CodeProviderUnavailable) {
		t.Errorf("5xx token error = %v, want PROVIDER_UNAVAILABLE", err)
	}

	if err := classifyOAuthErr(errors.New("dial tcp: i/o timeout")); !apperr.Is(err, apperr.CodeProviderUnavailable) {
		t.Errorf("network token error = %v, want PROVIDER_UNAVAILABLE", err)
	}
}
