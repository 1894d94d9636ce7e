package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/revtrack/internal/apperror"
	"github.com/sakif/revtrack/internal/mail"
	"github.com/sakif/revtrack/internal/model"
	"github.com/sakif/revtrack/internal/repository"
)

// ConnectorLookup resolves the connect flow of a configured provider.
type ConnectorLookup interface {
	Connector(name mail.ProviderName) (mail.Connector, bool)
	Names() []mail.ProviderName
}

// Connection is the public view of a stored grant. Tokens are never exposed.
type Connection struct {
	Provider     mail.ProviderName `json:"provider"`
	AccountEmail string            `json:"accountEmail"`
	ExpiresAt    time.Time         `json:"expiresAt"`
	ConnectedAt  time.Time         `json:"connectedAt"`
}

// MailConnectService runs the OAuth consent flow and manages stored grants.
type MailConnectService struct {
	connectors ConnectorLookup
	tokens     repository.MailTokenRepository
	logger     *slog.Logger
}

func NewMailConnectService(connectors ConnectorLookup, tokens repository.MailTokenRepository, logger *slog.Logger) *MailConnectService {
	return &MailConnectService{connectors: connectors, tokens: tokens, logger: logger}
}

// Available lists the providers that have client credentials configured.
func (s *MailConnectService) Available() []mail.ProviderName {
	return s.connectors.Names()
}

func (s *MailConnectService) AuthURL(name mail.ProviderName, state string) (string, error) {
	c, ok := s.connectors.Connector(name)
	if !ok {
		return "", apperror.ValidationFailed("provider", fmt.Sprintf("%s is not configured on this server", name))
	}
	return c.AuthURL(state), nil
}

// Complete exchanges the authorization code and stores the grant,
// overwriting any previous one for the pair.
func (s *MailConnectService) Complete(ctx context.Context, userID string, name mail.ProviderName, code string) (*Connection, error) {
	c, ok := s.connectors.Connector(name)
	if !ok {
		return nil, apperror.ValidationFailed("provider", fmt.Sprintf("%s is not configured on this server", name))
	}
	if code == "" {
		return nil, apperror.ValidationFailed("code", "authorization code is required")
	}

	grant, err := c.Exchange(ctx, code)
	if err != nil {
		return nil, apperror.Provider(string(name), err)
	}
	if grant.AccessToken == "" {
		return nil, apperror.Provider(string(name), errors.New("token response carried no access token"))
	}

	rec := &model.MailToken{
		UserID:       userID,
		Provider:     string(name),
		AccountEmail: grant.AccountEmail,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    grant.Expiry,
	}
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = time.Now().Add(defaultTokenLifetime)
	}
	if err := s.tokens.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("service/mailconnect: saving %s token: %w", name, err)
	}

	s.logger.Info("mail provider connected",
		slog.String("user_id", userID),
		slog.String("provider", string(name)),
		slog.Bool("refresh_token", grant.RefreshToken != ""),
	)
	return &Connection{
		Provider:     name,
		AccountEmail: rec.AccountEmail,
		ExpiresAt:    rec.ExpiresAt,
		ConnectedAt:  time.Now().UTC(),
	}, nil
}

func (s *MailConnectService) Connections(ctx context.Context, userID string) ([]Connection, error) {
	recs, err := s.tokens.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/mailconnect: listing connections: %w", err)
	}
	out := make([]Connection, 0, len(recs))
	for _, r := range recs {
		out = append(out, Connection{
			Provider:     mail.ProviderName(r.Provider),
			AccountEmail: r.AccountEmail,
			ExpiresAt:    r.ExpiresAt,
			ConnectedAt:  r.CreatedAt,
		})
	}
	return out, nil
}

// Disconnect forgets the stored grant. Synced activities stay.
func (s *MailConnectService) Disconnect(ctx context.Context, userID string, name mail.ProviderName) error {
	if err := s.tokens.Delete(ctx, userID, string(name)); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.NotConnected(string(name))
		}
		return fmt.Errorf("service/mailconnect: deleting %s token: %w", name, err)
	}
	s.logger.Info("mail provider disconnected",
		slog.String("user_id", userID),
		slog.String("provider", string(name)),
	)
	return nil
}
