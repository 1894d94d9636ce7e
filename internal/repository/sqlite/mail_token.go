package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/revtrack/internal/apperror"
	"github.com/sakif/revtrack/internal/model"
	"github.com/sakif/revtrack/internal/repository"
)

var _ repository.MailTokenRepository = (*MailTokenDB)(nil)

// MailTokenDB stores OAuth grants keyed by (user_id, provider).
type MailTokenDB struct {
	conn *sql.DB
}

const mailTokenColumns = `user_id, provider, account_email, access_token, refresh_token, expires_at, created_at, updated_at`

func (m *MailTokenDB) Get(ctx context.Context, userID, provider string) (*model.MailToken, error) {
	row := m.conn.QueryRowContext(ctx,
		`SELECT `+mailTokenColumns+` FROM mail_tokens WHERE user_id = ? AND provider = ?`,
		userID, provider,
	)
	tok, err := scanMailToken(row)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("mail token", userID+"/"+provider)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting %s token for %s: %w", provider, userID, err)
	}
	return tok, nil
}

// Upsert writes the grant in place. An empty refresh token or account email
// keeps the stored value: providers omit the refresh token on re-consent and
// on most refreshes.
func (m *MailTokenDB) Upsert(ctx context.Context, tok *model.MailToken) error {
	now := time.Now().UTC()
	tok.UpdatedAt = now

	_, err := m.conn.ExecContext(ctx,
		`INSERT INTO mail_tokens (`+mailTokenColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, provider) DO UPDATE SET
			account_email = CASE WHEN excluded.account_email <> '' THEN excluded.account_email ELSE mail_tokens.account_email END,
			access_token  = excluded.access_token,
			refresh_token = CASE WHEN excluded.refresh_token <> '' THEN excluded.refresh_token ELSE mail_tokens.refresh_token END,
			expires_at    = excluded.expires_at,
			updated_at    = excluded.updated_at`,
		tok.UserID,
		tok.Provider,
		tok.AccountEmail,
		tok.AccessToken,
		tok.RefreshToken,
		tok.ExpiresAt.UTC(),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting %s token for %s: %w", tok.Provider, tok.UserID, err)
	}
	return nil
}

func (m *MailTokenDB) Delete(ctx context.Context, userID, provider string) error {
	result, err := m.conn.ExecContext(ctx,
		`DELETE FROM mail_tokens WHERE user_id = ? AND provider = ?`, userID, provider)
	if err != nil {
		return fmt.Errorf("sqlite: deleting %s token for %s: %w", provider, userID, err)
	}
	return requireOneRow(result, "mail token", userID+"/"+provider)
}

func (m *MailTokenDB) ListByUser(ctx context.Context, userID string) ([]model.MailToken, error) {
	return m.query(ctx,
		`SELECT `+mailTokenColumns+` FROM mail_tokens WHERE user_id = ? ORDER BY provider`,
		userID,
	)
}

func (m *MailTokenDB) ListAll(ctx context.Context) ([]model.MailToken, error) {
	return m.query(ctx,
		`SELECT `+mailTokenColumns+` FROM mail_tokens ORDER BY user_id, provider`,
	)
}

func (m *MailTokenDB) query(ctx context.Context, query string, args ...any) ([]model.MailToken, error) {
	rows, err := m.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing mail tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]model.MailToken, 0)
	for rows.Next() {
		tok, err := scanMailToken(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning mail token: %w", err)
		}
		tokens = append(tokens, *tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating mail tokens: %w", err)
	}
	return tokens, nil
}

func scanMailToken(s scanner) (*model.MailToken, error) {
	var tok model.MailToken
	err := s.Scan(
		&tok.UserID,
		&tok.Provider,
		&tok.AccountEmail,
		&tok.AccessToken,
		&tok.RefreshToken,
		&tok.ExpiresAt,
		&tok.CreatedAt,
		&tok.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tok, nil
}
