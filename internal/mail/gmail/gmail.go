// Package gmail implements mail.Client against the Gmail REST API.
//
// Search is two-step: messages.list returns bare ids, then one
// messages.get per id projects the Subject, From and Date headers. Ids the
// caller already knows are skipped before the get.
package gmail

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	netmail "net/mail"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/sakif/revtrack/internal/mail"
)

var _ mail.Client = (*Client)(nil)

// Scopes requested on connect. userinfo.email resolves the account address.
var Scopes = []string{
	gmailapi.GmailReadonlyScope,
	oauth2api.UserinfoEmailScope,
}

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint overrides Google's OAuth endpoints.
	Endpoint *oauth2.Endpoint
	// APIEndpoint overrides the base URL of the Gmail and userinfo APIs.
	APIEndpoint string
	// HTTPClient is the base transport for every outgoing request.
	HTTPClient *http.Client
}

type Client struct {
	oauth       *oauth2.Config
	apiEndpoint string
	httpClient  *http.Client
}

func New(cfg Config) *Client {
	endpoint := google.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       Scopes,
		},
		apiEndpoint: cfg.APIEndpoint,
		httpClient:  cfg.HTTPClient,
	}
}

func (c *Client) Name() mail.ProviderName { return mail.Gmail }

// AuthURL asks for offline access with forced consent so Google issues a
// refresh token even when the user already granted the scopes.
func (c *Client) AuthURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (c *Client) Exchange(ctx context.Context, code string) (*mail.Grant, error) {
	tok, err := c.oauth.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("gmail: exchanging code: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("gmail: token response carried no access token")
	}

	email, err := c.accountEmail(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	return &mail.Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		AccountEmail: email,
	}, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := c.oauth.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("gmail: refreshing token: %w", err)
	}
	// oauth2 carries the old refresh token forward when Google omits it; the
	// caller only wants to see a rotated one.
	if tok.RefreshToken == refreshToken {
		tok.RefreshToken = ""
	}
	return tok, nil
}

// Query matches mail sent to or received from address.
func Query(address string) string {
	return fmt.Sprintf("from:%s OR to:%s", address, address)
}

func (c *Client) Search(ctx context.Context, accessToken, address string, limit int, known mail.KnownFunc) iter.Seq2[mail.Message, error] {
	return func(yield func(mail.Message, error) bool) {
		svc, err := c.gmailService(ctx, accessToken)
		if err != nil {
			yield(mail.Message{}, err)
			return
		}

		list, err := svc.Users.Messages.List("me").
			Q(Query(address)).
			MaxResults(int64(limit)).
			Context(ctx).
			Do()
		if err != nil {
			yield(mail.Message{}, fmt.Errorf("gmail: listing messages for %s: %w", address, err))
			return
		}

		for _, ref := range list.Messages {
			if known.Has(ref.Id) {
				continue
			}
			msg, err := svc.Users.Messages.Get("me", ref.Id).
				Format("metadata").
				MetadataHeaders("Subject", "From", "Date").
				Context(ctx).
				Do()
			if err != nil {
				yield(mail.Message{}, fmt.Errorf("gmail: getting message %s: %w", ref.Id, err))
				return
			}
			if !yield(normalize(ref.Id, msg), nil) {
				return
			}
		}
	}
}

func (c *Client) gmailService(ctx context.Context, accessToken string) (*gmailapi.Service, error) {
	svc, err := gmailapi.NewService(ctx, c.apiOptions(ctx, accessToken)...)
	if err != nil {
		return nil, fmt.Errorf("gmail: creating service: %w", err)
	}
	return svc, nil
}

func (c *Client) accountEmail(ctx context.Context, accessToken string) (string, error) {
	svc, err := oauth2api.NewService(ctx, c.apiOptions(ctx, accessToken)...)
	if err != nil {
		return "", fmt.Errorf("gmail: creating userinfo service: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail: fetching userinfo: %w", err)
	}
	return info.Email, nil
}

// apiOptions authenticates API calls with a fixed access token. Refreshing is
// the token manager's job, so the token source never refreshes on its own.
func (c *Client) apiOptions(ctx context.Context, accessToken string) []option.ClientOption {
	hc := oauth2.NewClient(c.withHTTPClient(ctx), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.apiEndpoint != "" {
		opts = append(opts, option.WithEndpoint(c.apiEndpoint))
	}
	return opts
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func normalize(id string, m *gmailapi.Message) mail.Message {
	msg := mail.Message{ID: id}
	if m.Id != "" {
		msg.ID = m.Id
	}
	if m.Payload == nil {
		return msg
	}
	for _, h := range m.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			msg.Subject = h.Value
		case "from":
			msg.From = h.Value
		case "date":
			msg.OccurredAt = parseDate(h.Value)
		}
	}
	return msg
}

// parseDate returns the zero time when the header is not RFC 5322.
func parseDate(value string) time.Time {
	t, err := netmail.ParseDate(strings.TrimSpace(value))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
