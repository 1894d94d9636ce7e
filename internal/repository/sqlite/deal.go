package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/revtrack/internal/apperror"
	"github.com/sakif/revtrack/internal/model"
	"github.com/sakif/revtrack/internal/repository"
)

var _ repository.DealRepository = (*DealDB)(nil)

// DealDB stores pipeline deals. Every query is scoped by user_id, so one
// user can never read or modify another user's deal.
type DealDB struct {
	conn *sql.DB
}

const dealColumns = `id, user_id, title, company, contact_name, contact_email, value,
	stage, probability, expected_close_date, notes, created_at, updated_at`

func (d *DealDB) Create(ctx context.Context, deal *model.Deal) error {
	deal.ID = xid.New().String()
	now := time.Now().UTC()
	deal.CreatedAt = now
	deal.UpdatedAt = now

	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO deals (`+dealColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		deal.ID,
		deal.UserID,
		deal.Title,
		deal.Company,
		deal.ContactName,
		deal.ContactEmail,
		deal.Value,
		string(deal.Stage),
		deal.Probability,
		deal.ExpectedCloseDate,
		deal.Notes,
		deal.CreatedAt,
		deal.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating deal: %w", err)
	}
	return nil
}

func (d *DealDB) GetByID(ctx context.Context, userID, id string) (*model.Deal, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE id = ? AND user_id = ?`,
		id, userID,
	)
	deal, err := scanDeal(row)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("deal", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting deal %s: %w", id, err)
	}
	return deal, nil
}

// List returns the user's deals, newest first, optionally narrowed to one stage.
func (d *DealDB) List(ctx context.Context, userID string, filter repository.DealFilter) ([]model.Deal, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	offset := max(filter.Offset, 0)

	query := `SELECT ` + dealColumns + ` FROM deals WHERE user_id = ?`
	args := []any{userID}
	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(filter.Stage))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	return d.query(ctx, query, args...)
}

// ListWithContactEmail feeds the mail sync job. Insertion order keeps the
// contact walk deterministic across runs.
func (d *DealDB) ListWithContactEmail(ctx context.Context, userID string) ([]model.Deal, error) {
	return d.query(ctx,
		`SELECT `+dealColumns+` FROM deals
		 WHERE user_id = ? AND contact_email IS NOT NULL AND TRIM(contact_email) <> ''
		 ORDER BY created_at ASC, id ASC`,
		userID,
	)
}

func (d *DealDB) Update(ctx context.Context, deal *model.Deal) error {
	deal.UpdatedAt = time.Now().UTC()

	result, err := d.conn.ExecContext(ctx,
		`UPDATE deals SET title = ?, company = ?, contact_name = ?, contact_email = ?,
		        value = ?, stage = ?, probability = ?, expected_close_date = ?, notes = ?,
		        updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		deal.Title,
		deal.Company,
		deal.ContactName,
		deal.ContactEmail,
		deal.Value,
		string(deal.Stage),
		deal.Probability,
		deal.ExpectedCloseDate,
		deal.Notes,
		deal.UpdatedAt,
		deal.ID,
		deal.UserID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating deal %s: %w", deal.ID, err)
	}
	return requireOneRow(result, "deal", deal.ID)
}

func (d *DealDB) Delete(ctx context.Context, userID, id string) error {
	result, err := d.conn.ExecContext(ctx,
		`DELETE FROM deals WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting deal %s: %w", id, err)
	}
	return requireOneRow(result, "deal", id)
}

func (d *DealDB) query(ctx context.Context, query string, args ...any) ([]model.Deal, error) {
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing deals: %w", err)
	}
	defer rows.Close()

	deals := make([]model.Deal, 0)
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning deal: %w", err)
		}
		deals = append(deals, *deal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating deals: %w", err)
	}
	return deals, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDeal(s scanner) (*model.Deal, error) {
	var (
		deal  model.Deal
		stage string
	)
	err := s.Scan(
		&deal.ID,
		&deal.UserID,
		&deal.Title,
		&deal.Company,
		&deal.ContactName,
		&deal.ContactEmail,
		&deal.Value,
		&stage,
		&deal.Probability,
		&deal.ExpectedCloseDate,
		&deal.Notes,
		&deal.CreatedAt,
		&deal.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	deal.Stage = model.Stage(stage)
	return &deal, nil
}

// requireOneRow turns "no rows affected" into apperror.NotFound.
func requireOneRow(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
