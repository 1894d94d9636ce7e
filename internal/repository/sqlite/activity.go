package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/revtrack/internal/model"
	"github.com/sakif/revtrack/internal/repository"
)

var _ repository.ActivityRepository = (*ActivityDB)(nil)

// ActivityDB stores deal timeline entries.
type ActivityDB struct {
	conn *sql.DB
}

const activityColumns = `id, user_id, deal_id, type, title, body, external_id, occurred_at, created_at`

func (a *ActivityDB) Create(ctx context.Context, activity *model.Activity) error {
	prepareActivity(activity)

	_, err := a.conn.ExecContext(ctx,
		`INSERT INTO activities (`+activityColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		activityArgs(activity)...,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating activity: %w", err)
	}
	return nil
}

// CreateSynced relies on the partial unique index over (deal_id,
// external_id): INSERT OR IGNORE turns a duplicate into a no-op, and the
// affected-row count tells the caller whether this call won.
func (a *ActivityDB) CreateSynced(ctx context.Context, activity *model.Activity) (bool, error) {
	if activity.ExternalID == nil || *activity.ExternalID == "" {
		return false, fmt.Errorf("sqlite: synced activity requires an external id")
	}
	prepareActivity(activity)

	result, err := a.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO activities (`+activityColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		activityArgs(activity)...,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: inserting synced activity %s: %w", *activity.ExternalID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n == 1, nil
}

func (a *ActivityDB) ExistsExternal(ctx context.Context, dealID, externalID string) (bool, error) {
	var one int
	err := a.conn.QueryRowContext(ctx,
		`SELECT 1 FROM activities WHERE deal_id = ? AND external_id = ? LIMIT 1`,
		dealID, externalID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: checking activity %s/%s: %w", dealID, externalID, err)
	}
	return true, nil
}

// ListByDeal returns the timeline, most recent first.
func (a *ActivityDB) ListByDeal(ctx context.Context, userID, dealID string) ([]model.Activity, error) {
	rows, err := a.conn.QueryContext(ctx,
		`SELECT `+activityColumns+` FROM activities
		 WHERE user_id = ? AND deal_id = ?
		 ORDER BY occurred_at DESC, created_at DESC`,
		userID, dealID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing activities for deal %s: %w", dealID, err)
	}
	defer rows.Close()

	activities := make([]model.Activity, 0)
	for rows.Next() {
		var (
			act  model.Activity
			kind string
		)
		if err := rows.Scan(
			&act.ID,
			&act.UserID,
			&act.DealID,
			&kind,
			&act.Title,
			&act.Body,
			&act.ExternalID,
			&act.OccurredAt,
			&act.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning activity: %w", err)
		}
		act.Type = model.ActivityType(kind)
		activities = append(activities, act)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating activities: %w", err)
	}
	return activities, nil
}

func (a *ActivityDB) Delete(ctx context.Context, userID, id string) error {
	result, err := a.conn.ExecContext(ctx,
		`DELETE FROM activities WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting activity %s: %w", id, err)
	}
	return requireOneRow(result, "activity", id)
}

func prepareActivity(activity *model.Activity) {
	activity.ID = xid.New().String()
	activity.CreatedAt = time.Now().UTC()
	if activity.OccurredAt.IsZero() {
		activity.OccurredAt = activity.CreatedAt
	}
	activity.OccurredAt = activity.OccurredAt.UTC()
}

func activityArgs(activity *model.Activity) []any {
	return []any{
		activity.ID,
		activity.UserID,
		activity.DealID,
		string(activity.Type),
		activity.Title,
		activity.Body,
		activity.ExternalID,
		activity.OccurredAt,
		activity.CreatedAt,
	}
}
