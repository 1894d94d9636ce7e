// Package outlook implements mail.Client against Microsoft Graph.
//
// Search is one-step: the messages list already carries subject and
// receivedDateTime. Only mail received FROM the contact matches; Graph's
// $filter cannot express "from or to" over recipient collections cheaply.
package outlook

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	azauth "github.com/microsoft/kiota-authentication-azure-go"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/microsoftgraph/msgraph-sdk-go/users"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/sakif/revtrack/internal/mail"
)

var _ mail.Client = (*Client)(nil)

var Scopes = []string{"openid", "profile", "email", "Mail.Read", "offline_access", "User.Read"}

// RefreshScopes are sent with every refresh-token grant. Azure AD v2 may
// otherwise mint a token without Mail.Read.
var RefreshScopes = []string{"Mail.Read", "offline_access", "User.Read"}

const DefaultGraphEndpoint = "https://graph.microsoft.com/v1.0"

// SelectFields is the $select projection of a search.
var SelectFields = []string{"id", "subject", "receivedDateTime", "from"}

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Tenant defaults to "common" (work and personal accounts).
	Tenant string

	// Endpoint overrides the Azure AD OAuth endpoints.
	Endpoint *oauth2.Endpoint
	// HTTPClient is the base transport for token and Graph requests. Nil
	// keeps the Graph SDK's default middleware pipeline.
	HTTPClient *http.Client
	// GraphEndpoint overrides DefaultGraphEndpoint.
	GraphEndpoint string
}

// graphAPI is the slice of Graph the client needs.
type graphAPI interface {
	ListMessages(ctx context.Context, accessToken string, params *users.ItemMessagesRequestBuilderGetQueryParameters) ([]models.Messageable, error)
	Me(ctx context.Context, accessToken string) (models.Userable, error)
}

type Client struct {
	oauth      *oauth2.Config
	graph      graphAPI
	httpClient *http.Client
}

func New(cfg Config) *Client {
	tenant := cfg.Tenant
	if tenant == "" {
		tenant = "common"
	}
	endpoint := microsoft.AzureADEndpoint(tenant)
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	graphURL := cfg.GraphEndpoint
	if graphURL == "" {
		graphURL = DefaultGraphEndpoint
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       Scopes,
		},
		graph:      sdkGraph{baseURL: graphURL, httpClient: cfg.HTTPClient},
		httpClient: cfg.HTTPClient,
	}
}

func (c *Client) Name() mail.ProviderName { return mail.Outlook }

func (c *Client) AuthURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "query"))
}

func (c *Client) Exchange(ctx context.Context, code string) (*mail.Grant, error) {
	tok, err := c.oauth.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("outlook: exchanging code: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("outlook: token response carried no access token")
	}

	me, err := c.graph.Me(ctx, tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("outlook: fetching profile: %w", err)
	}

	return &mail.Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		AccountEmail: accountEmail(me),
	}, nil
}

// Refresh posts the refresh-token grant with RefreshScopes. TokenSource is
// not used because it never sends a scope.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	tok, err := c.oauth.Exchange(c.withHTTPClient(ctx), "",
		oauth2.SetAuthURLParam("grant_type", "refresh_token"),
		oauth2.SetAuthURLParam("refresh_token", refreshToken),
		oauth2.SetAuthURLParam("scope", strings.Join(RefreshScopes, " ")),
	)
	if err != nil {
		return nil, fmt.Errorf("outlook: refreshing token: %w", err)
	}
	if tok.RefreshToken == refreshToken {
		tok.RefreshToken = ""
	}
	return tok, nil
}

// Filter matches mail whose sender address contains address.
func Filter(address string) string {
	escaped := strings.ReplaceAll(address, "'", "''")
	return fmt.Sprintf("contains(from/emailAddress/address,'%s')", escaped)
}

func (c *Client) Search(ctx context.Context, accessToken, address string, limit int, known mail.KnownFunc) iter.Seq2[mail.Message, error] {
	return func(yield func(mail.Message, error) bool) {
		filter := Filter(address)
		top := int32(limit)
		msgs, err := c.graph.ListMessages(ctx, accessToken, &users.ItemMessagesRequestBuilderGetQueryParameters{
			Filter: &filter,
			Top:    &top,
			Select: SelectFields,
		})
		if err != nil {
			yield(mail.Message{}, fmt.Errorf("outlook: listing messages for %s: %w", address, err))
			return
		}

		for _, m := range msgs {
			msg, ok := normalize(m)
			if !ok || known.Has(msg.ID) {
				continue
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// normalize drops messages without an id: they cannot be deduplicated.
func normalize(m models.Messageable) (mail.Message, bool) {
	if m == nil || m.GetId() == nil || *m.GetId() == "" {
		return mail.Message{}, false
	}
	msg := mail.Message{ID: *m.GetId()}
	if subject := m.GetSubject(); subject != nil {
		msg.Subject = *subject
	}
	if rcvd := m.GetReceivedDateTime(); rcvd != nil {
		msg.OccurredAt = rcvd.UTC()
	}
	if from := m.GetFrom(); from != nil {
		if addr := from.GetEmailAddress(); addr != nil && addr.GetAddress() != nil {
			msg.From = *addr.GetAddress()
		}
	}
	return msg, true
}

// accountEmail prefers the mail attribute; personal accounts often only
// carry a userPrincipalName.
func accountEmail(u models.Userable) string {
	if u == nil {
		return ""
	}
	if m := u.GetMail(); m != nil && *m != "" {
		return *m
	}
	if upn := u.GetUserPrincipalName(); upn != nil {
		return *upn
	}
	return ""
}

// sdkGraph calls Graph through msgraph-sdk-go with a fixed bearer token.
type sdkGraph struct {
	baseURL    string
	httpClient *http.Client
}

func (g sdkGraph) client(accessToken string) (*msgraphsdk.GraphServiceClient, error) {
	u, err := url.Parse(g.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing graph endpoint: %w", err)
	}
	auth, err := azauth.NewAzureIdentityAuthenticationProviderWithScopesAndValidHosts(
		staticTokenCredential{token: accessToken},
		[]string{"https://graph.microsoft.com/.default"},
		[]string{u.Hostname()},
	)
	if err != nil {
		return nil, fmt.Errorf("creating graph auth provider: %w", err)
	}
	adapter, err := msgraphsdk.NewGraphRequestAdapterWithParseNodeFactoryAndSerializationWriterFactoryAndHttpClient(auth, nil, nil, g.httpClient)
	if err != nil {
		return nil, fmt.Errorf("creating graph adapter: %w", err)
	}
	adapter.SetBaseUrl(g.baseURL)
	return msgraphsdk.NewGraphServiceClient(adapter), nil
}

func (g sdkGraph) ListMessages(ctx context.Context, accessToken string, params *users.ItemMessagesRequestBuilderGetQueryParameters) ([]models.Messageable, error) {
	client, err := g.client(accessToken)
	if err != nil {
		return nil, err
	}
	resp, err := client.Me().Messages().Get(ctx, &users.ItemMessagesRequestBuilderGetRequestConfiguration{
		QueryParameters: params,
	})
	if err != nil {
		return nil, graphError(err)
	}
	return resp.GetValue(), nil
}

func (g sdkGraph) Me(ctx context.Context, accessToken string) (models.Userable, error) {
	client, err := g.client(accessToken)
	if err != nil {
		return nil, err
	}
	me, err := client.Me().Get(ctx, nil)
	if err != nil {
		return nil, graphError(err)
	}
	return me, nil
}

// graphError replaces ODataError's message, which panics when the body
// carried no error.message, with one naming the status and OData code.
func graphError(err error) error {
	var odata *odataerrors.ODataError
	if !errors.As(err, &odata) {
		return err
	}
	ge := &GraphError{Status: odata.ResponseStatusCode, err: odata}
	if detail := odata.GetErrorEscaped(); detail != nil {
		if p := detail.GetCode(); p != nil {
			ge.Code = *p
		}
		if p := detail.GetMessage(); p != nil {
			ge.Message = *p
		}
	}
	return ge
}

// GraphError is a failed Graph call.
type GraphError struct {
	Status  int
	Code    string
	Message string
	err     error
}

func (e *GraphError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("graph status %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("graph status %d: %s: %s", e.Status, e.Code, e.Message)
}

func (e *GraphError) Unwrap() error { return e.err }

// staticTokenCredential hands the stored access token to the Graph SDK.
// Expiry is tracked by the token manager, not here.
type staticTokenCredential struct {
	token string
}

func (c staticTokenCredential) GetToken(_ context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{
		Token:     c.token,
		ExpiresOn: time.Now().Add(time.Hour),
	}, nil
}
