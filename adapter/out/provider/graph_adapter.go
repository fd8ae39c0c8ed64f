package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"mailbridge/core/port/out"
	"mailbridge/pkg/apperr"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// GraphConfig carries the Azure app registration.
type GraphConfig struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	RedirectURL  string

	// BaseURL overrides the Graph endpoint; tests point it at a local
	// server. Empty means the real service.
	BaseURL string
}

// GraphAdapter talks to the Microsoft Graph mail API.
type GraphAdapter struct {
	oauth   *oauth2.Config
	client  *http.Client
	base    string
	breaker *gobreaker.CircuitBreaker
}

var (
	_ out.GraphClient    = (*GraphAdapter)(nil)
	_ out.TokenRefresher = (*GraphAdapter)(nil)
	_ out.OAuthFlow      = (*GraphAdapter)(nil)
)

// NewGraphAdapter creates a Graph adapter for the app registration.
func NewGraphAdapter(cfg GraphConfig) *GraphAdapter {
	tenantID := cfg.TenantID
	if tenantID == "" {
		tenantID = "common"
	}

	base := cfg.BaseURL
	if base == "" {
		base = graphBaseURL
	}

	return &GraphAdapter{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes: []string{
				"https://graph.microsoft.com/Mail.Read",
				"https://graph.microsoft.com/User.Read",
				"offline_access",
			},
			Endpoint: microsoft.AzureADEndpoint(tenantID),
		},
		client: &http.Client{Timeout: 30 * time.Second},
		base:   base,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "graph",
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// AuthURL returns the consent URL for the OAuth dance.
func (a *GraphAdapter) AuthURL(state string) string {
	return a.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange redeems an authorization code for a token pair.
func (a *GraphAdapter) Exchange(ctx context.Context, code string) (access, refresh string, err error) {
	token, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return "", "", classifyOAuthErr(err)
	}
	return token.AccessToken, token.RefreshToken, nil
}

// Refresh redeems a refresh token for a fresh pair. Callers must persist
// the returned refresh token before using the access token.
func (a *GraphAdapter) Refresh(ctx context.Context, refreshToken string) (access, refresh string, err error) {
	src := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return "", "", classifyOAuthErr(err)
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return token.AccessToken, token.RefreshToken, nil
}

// classifyOAuthErr maps token endpoint failures: a 4xx means the grant is
// gone and the user must sign in again, anything else is transient.
func classifyOAuthErr(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
		retrieveErr.Response.StatusCode >= 400 && retrieveErr.Response.StatusCode < 500 {
		return apperr.CredentialRejected("outlook", err)
	}
	return apperr.ProviderUnavailable("outlook token endpoint", err)
}

// Me returns the signed-in mailbox address. Some account types leave the
// mail field empty and carry the address in userPrincipalName instead.
func (a *GraphAdapter) Me(ctx context.Context, accessToken string) (string, error) {
	var resp struct {
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := a.doGet(ctx, accessToken, a.base+"/me?$select=mail,userPrincipalName", &resp); err != nil {
		return "", err
	}
	if resp.Mail != "" {
		return resp.Mail, nil
	}
	if resp.UserPrincipalName != "" {
		return resp.UserPrincipalName, nil
	}
	return "", apperr.ProtocolError("graph", errors.New("profile carries no mailbox address"))
}

// ListFolders enumerates every mail folder, following @odata.nextLink
// until the listing is exhausted.
func (a *GraphAdapter) ListFolders(ctx context.Context, accessToken string) ([]out.RemoteFolder, error) {
	var folders []out.RemoteFolder

	nextLink := a.base + "/me/mailFolders?$top=100&$select=id,displayName"
	for nextLink != "" {
		var resp struct {
			Value []struct {
				ID          string `json:"id"`
				DisplayName string `json:"displayName"`
			} `json:"value"`
			NextLink string `json:"@odata.nextLink"`
		}
		if err := a.doGet(ctx, accessToken, nextLink, &resp); err != nil {
			return nil, err
		}
		for _, f := range resp.Value {
			folders = append(folders, out.RemoteFolder{Path: f.DisplayName, ID: f.ID})
		}
		nextLink = resp.NextLink
	}
	return folders, nil
}

// FolderID resolves a display name to its Graph folder id.
func (a *GraphAdapter) FolderID(ctx context.Context, accessToken, folder string) (string, error) {
	folders, err := a.ListFolders(ctx, accessToken)
	if err != nil {
		return "", err
	}
	for _, f := range folders {
		if strings.EqualFold(f.Path, folder) {
			return f.ID, nil
		}
	}
	return "", apperr.NotFound(fmt.Sprintf("graph folder %q", folder))
}

// FetchSince pages messages of a folder received at or after since, newest
// first, stopping at max messages.
func (a *GraphAdapter) FetchSince(ctx context.Context, accessToken, folderID string, since time.Time, max int) ([]out.GraphMessage, error) {
	params := url.Values{}
	params.Set("$top", "50")
	params.Set("$orderby", "receivedDateTime desc")
	params.Set("$select", "id,internetMessageId,subject,bodyPreview,from,toRecipients,isRead,receivedDateTime,body")
	// RFC3339Nano keeps sub-second precision; plain RFC3339 truncates the
	// boundary instant and refetches the last message of the previous run.
	params.Set("$filter", fmt.Sprintf("receivedDateTime ge %s", since.UTC().Format(time.RFC3339Nano)))

	var messages []out.GraphMessage
	nextLink := a.base + "/me/mailFolders/" + url.PathEscape(folderID) + "/messages?" + params.Encode()

	for nextLink != "" && len(messages) < max {
		var resp struct {
			Value    []graphMessage `json:"value"`
			NextLink string         `json:"@odata.nextLink"`
		}
		if err := a.doGet(ctx, accessToken, nextLink, &resp); err != nil {
			return nil, err
		}
		for _, msg := range resp.Value {
			messages = append(messages, convertGraphMessage(&msg))
			if len(messages) >= max {
				break
			}
		}
		nextLink = resp.NextLink
	}
	return messages, nil
}

// graphMessage is the Graph REST shape of one message.
type graphMessage struct {
	ID                 string           `json:"id"`
	InternetMessageID  string           `json:"internetMessageId"`
	Subject            string           `json:"subject"`
	BodyPreview        string           `json:"bodyPreview"`
	Body               graphBody        `json:"body"`
	From               graphRecipient   `json:"from"`
	ToRecipients       []graphRecipient `json:"toRecipients"`
	IsRead             bool             `json:"isRead"`
	ReceivedDateTime   string           `json:"receivedDateTime"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphEmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

func convertGraphMessage(msg *graphMessage) out.GraphMessage {
	converted := out.GraphMessage{
		ID:         msg.ID,
		InternetID: msg.InternetMessageID,
		Subject:    msg.Subject,
		From:       formatAddress(msg.From.EmailAddress),
		Preview:    msg.BodyPreview,
		IsRead:     msg.IsRead,
	}
	for _, r := range msg.ToRecipients {
		if r.EmailAddress.Address != "" {
			converted.To = append(converted.To, formatAddress(r.EmailAddress))
		}
	}
	if strings.EqualFold(msg.Body.ContentType, "html") {
		converted.BodyHTML = msg.Body.Content
	} else {
		converted.BodyText = msg.Body.Content
	}
	if t, err := time.Parse(time.RFC3339, msg.ReceivedDateTime); err == nil {
		converted.ReceivedAt = t
	}
	return converted
}

func formatAddress(addr graphEmailAddress) string {
	if addr.Address == "" {
		return addr.Name
	}
	if addr.Name != "" && !strings.EqualFold(addr.Name, addr.Address) {
		return fmt.Sprintf("%q <%s>", addr.Name, addr.Address)
	}
	return addr.Address
}

// doGet performs one authenticated GET through the circuit breaker.
func (a *GraphAdapter) doGet(ctx context.Context, accessToken, rawURL string, result any) error {
	_, err := a.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, apperr.ProtocolError("graph request", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return nil, apperr.ProviderUnavailable("graph", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, wrapGraphHTTPError(resp.StatusCode, string(body))
		}
		if result != nil && resp.StatusCode != http.StatusNoContent {
			if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
				return nil, apperr.ProtocolError("graph response", err)
			}
		}
		return nil, nil
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apperr.ProviderUnavailable("graph", err)
	}
	return err
}

func wrapGraphHTTPError(statusCode int, body string) error {
	switch {
	case statusCode == http.StatusUnauthorized:
		return apperr.CredentialRejected("outlook", fmt.Errorf("graph: HTTP 401: %s", body))
	case statusCode == http.StatusNotFound:
		return apperr.NotFound("graph resource")
	case statusCode == http.StatusTooManyRequests:
		return apperr.ProviderUnavailable("graph", fmt.Errorf("HTTP 429: %s", body))
	case statusCode >= 500:
		return apperr.ProviderUnavailable("graph", fmt.Errorf("HTTP %d: %s", statusCode, body))
	default:
		return apperr.ProtocolError("graph", fmt.Errorf("HTTP %d: %s", statusCode, body))
	}
}
