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

// RefreshSkew is how long before the recorded expiry a token is already
// treated as expired, so it cannot lapse between check and use.
const RefreshSkew = 60 * time.Second

// defaultTokenLifetime applies when a refresh response omits expires_in.
const defaultTokenLifetime = time.Hour

// ProviderLookup resolves a configured mail provider by name.
type ProviderLookup interface {
	Provider(name mail.ProviderName) (mail.Provider, bool)
}

// TokenManager hands out a usable access token for (user, provider),
// refreshing and persisting it first when it is about to expire. The stored
// record is read, refreshed and written in one step before any mail is
// fetched.
type TokenManager struct {
	tokens    repository.MailTokenRepository
	providers ProviderLookup
	logger    *slog.Logger
	now       func() time.Time
}

func NewTokenManager(tokens repository.MailTokenRepository, providers ProviderLookup, logger *slog.Logger) *TokenManager {
	return &TokenManager{
		tokens:    tokens,
		providers: providers,
		logger:    logger,
		now:       time.Now,
	}
}

// Acquire returns an access token valid for at least RefreshSkew.
//
// Errors:
//   - apperror.ErrNotConnected: no record (or the provider is not configured)
//   - apperror.ErrAuthExpired: refresh impossible or refused
func (m *TokenManager) Acquire(ctx context.Context, userID string, name mail.ProviderName) (string, error) {
	provider, ok := m.providers.Provider(name)
	if !ok {
		return "", apperror.NotConnected(string(name))
	}

	rec, err := m.tokens.Get(ctx, userID, string(name))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return "", apperror.NotConnected(string(name))
		}
		return "", fmt.Errorf("service/tokens: loading %s token: %w", name, err)
	}

	now := m.now()
	if now.Before(rec.ExpiresAt.Add(-RefreshSkew)) {
		return rec.AccessToken, nil
	}

	return m.refresh(ctx, provider, rec, now)
}

func (m *TokenManager) refresh(ctx context.Context, provider mail.Provider, rec *model.MailToken, now time.Time) (string, error) {
	name := string(provider.Name())

	if rec.RefreshToken == "" {
		return "", apperror.AuthExpired(name, errors.New("no refresh token stored"))
	}

	tok, err := provider.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		m.logger.Warn("token refresh failed",
			slog.String("user_id", rec.UserID),
			slog.String("provider", name),
			slog.String("error", err.Error()),
		)
		return "", apperror.AuthExpired(name, err)
	}
	if tok == nil || tok.AccessToken == "" {
		return "", apperror.AuthExpired(name, errors.New("refresh returned no access token"))
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = now.Add(defaultTokenLifetime)
	}

	updated := &model.MailToken{
		UserID:      rec.UserID,
		Provider:    rec.Provider,
		AccessToken: tok.AccessToken,
		// Empty unless the provider rotated it; the repository keeps the
		// stored one in that case.
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiry,
	}
	if err := m.tokens.Upsert(ctx, updated); err != nil {
		return "", fmt.Errorf("service/tokens: saving refreshed %s token: %w", name, err)
	}

	m.logger.Info("token refreshed",
		slog.String("user_id", rec.UserID),
		slog.String("provider", name),
		slog.Bool("rotated", tok.RefreshToken != ""),
	)
	return tok.AccessToken, nil
}
