// Package mail defines what the sync job needs from a mail provider: refresh
// an OAuth grant and search a mailbox for messages exchanged with one address.
//
// Two providers implement it (see the gmail and outlook subpackages). They
// intentionally do not match the same messages: Gmail matches mail sent to OR
// received from the address, Outlook matches mail received from it only.
package mail

import (
	"context"
	"iter"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// MaxMessagesPerContact caps one search. Older messages are never seen.
const MaxMessagesPerContact = 20

// ProviderName identifies a provider in URLs, storage and events.
type ProviderName string

const (
	Gmail   ProviderName = "gmail"
	Outlook ProviderName = "outlook"
)

// ParseProviderName accepts the lowercase URL form ("gmail", "outlook").
func ParseProviderName(s string) (ProviderName, bool) {
	switch ProviderName(strings.ToLower(strings.TrimSpace(s))) {
	case Gmail:
		return Gmail, true
	case Outlook:
		return Outlook, true
	}
	return "", false
}

// Message is the summary of one provider message. OccurredAt is zero when the
// provider did not supply a usable timestamp.
type Message struct {
	ID         string
	Subject    string
	OccurredAt time.Time
	From       string
}

// Grant is the result of a completed authorization-code exchange.
type Grant struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	AccountEmail string
}

// Provider is used by the sync job.
type Provider interface {
	Name() ProviderName

	// Refresh exchanges a refresh token for a new access token. The returned
	// token's RefreshToken is non-empty only if the provider rotated it.
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// Search lists up to limit messages exchanged with address. Messages
	// whose id known reports true are neither fetched in detail nor
	// yielded; a nil known treats every id as new. The sequence is lazy and
	// not restartable: ranging over it again re-issues the requests. A
	// yielded error ends the sequence.
	Search(ctx context.Context, accessToken, address string, limit int, known KnownFunc) iter.Seq2[Message, error]
}

// KnownFunc reports whether a provider message id is already recorded.
type KnownFunc func(id string) bool

// Has is safe to call on a nil KnownFunc.
func (k KnownFunc) Has(id string) bool {
	return k != nil && k(id)
}

// Connector drives the interactive OAuth connect flow.
type Connector interface {
	Name() ProviderName
	AuthURL(state string) string

	// Exchange completes the authorization-code grant and resolves the
	// address of the connected mailbox.
	Exchange(ctx context.Context, code string) (*Grant, error)
}

// Client is a provider that supports both sync and connect.
type Client interface {
	Provider
	Connector
}

// Registry holds the configured providers by name. Providers without client
// credentials are simply not registered.
type Registry struct {
	clients map[ProviderName]Client
}

func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[ProviderName]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Name()] = c
	}
	return r
}

func (r *Registry) Provider(name ProviderName) (Provider, bool) {
	c, ok := r.clients[name]
	return c, ok
}

func (r *Registry) Connector(name ProviderName) (Connector, bool) {
	c, ok := r.clients[name]
	return c, ok
}

// Names returns the registered providers in a stable order.
func (r *Registry) Names() []ProviderName {
	names := make([]ProviderName, 0, len(r.clients))
	for _, n := range []ProviderName{Gmail, Outlook} {
		if _, ok := r.clients[n]; ok {
			names = append(names, n)
		}
	}
	return names
}

// Collect drains a search sequence. It stops at the first error and returns
// the messages yielded before it.
func Collect(seq iter.Seq2[Message, error]) ([]Message, error) {
	var msgs []Message
	for msg, err := range seq {
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
