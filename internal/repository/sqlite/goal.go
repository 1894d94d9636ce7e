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

var _ repository.GoalRepository = (*GoalDB)(nil)

// GoalDB stores revenue goals, one per (user, period_start, period_end).
type GoalDB struct {
	conn *sql.DB
}

// Upsert creates the goal for its period or updates the target of the
// existing one. goal.ID and timestamps reflect the stored row afterwards.
func (g *GoalDB) Upsert(ctx context.Context, goal *model.Goal) error {
	now := time.Now().UTC()

	_, err := g.conn.ExecContext(ctx,
		`INSERT INTO goals (id, user_id, year, target_revenue, period_type, period_start, period_end, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, period_start, period_end) DO UPDATE SET
			target_revenue = excluded.target_revenue,
			period_type    = excluded.period_type,
			year           = excluded.year,
			updated_at     = excluded.updated_at`,
		xid.New().String(),
		goal.UserID,
		goal.Year,
		goal.TargetRevenue,
		string(goal.PeriodType),
		goal.PeriodStart,
		goal.PeriodEnd,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting goal: %w", err)
	}

	// Read back the canonical row: on conflict the original id and
	// created_at survive.
	err = g.conn.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at FROM goals
		 WHERE user_id = ? AND period_start = ? AND period_end = ?`,
		goal.UserID, goal.PeriodStart, goal.PeriodEnd,
	).Scan(&goal.ID, &goal.CreatedAt, &goal.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: reading back goal: %w", err)
	}
	return nil
}

// ListByUser returns the most recent goals by period start.
func (g *GoalDB) ListByUser(ctx context.Context, userID string, limit int) ([]model.Goal, error) {
	if limit <= 0 {
		limit = 12
	}

	rows, err := g.conn.QueryContext(ctx,
		`SELECT id, user_id, year, target_revenue, period_type, period_start, period_end, created_at, updated_at
		 FROM goals WHERE user_id = ?
		 ORDER BY period_start DESC
		 LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing goals: %w", err)
	}
	defer rows.Close()

	goals := make([]model.Goal, 0)
	for rows.Next() {
		var (
			goal       model.Goal
			periodType string
		)
		if err := rows.Scan(
			&goal.ID,
			&goal.UserID,
			&goal.Year,
			&goal.TargetRevenue,
			&periodType,
			&goal.PeriodStart,
			&goal.PeriodEnd,
			&goal.CreatedAt,
			&goal.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning goal: %w", err)
		}
		goal.PeriodType = model.PeriodType(periodType)
		goals = append(goals, goal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating goals: %w", err)
	}
	return goals, nil
}

func (g *GoalDB) Delete(ctx context.Context, userID, id string) error {
	result, err := g.conn.ExecContext(ctx,
		`DELETE FROM goals WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting goal %s: %w", id, err)
	}
	return requireOneRow(result, "goal", id)
}
