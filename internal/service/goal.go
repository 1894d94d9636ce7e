package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/revtrack/internal/apperror"
	"github.com/sakif/revtrack/internal/model"
	"github.com/sakif/revtrack/internal/repository"
)

// GoalInput sets the revenue target of one period. The client computes the
// period boundaries; the server only checks they are well-formed.
type GoalInput struct {
	Year          int              `json:"year"`
	TargetRevenue float64          `json:"targetRevenue"`
	PeriodType    model.PeriodType `json:"periodType"`
	PeriodStart   string           `json:"periodStart"`
	PeriodEnd     string           `json:"periodEnd"`
}

type GoalService struct {
	goals  repository.GoalRepository
	logger *slog.Logger
}

func NewGoalService(goals repository.GoalRepository, logger *slog.Logger) *GoalService {
	return &GoalService{goals: goals, logger: logger}
}

func (s *GoalService) List(ctx context.Context, userID string, limit int) ([]model.Goal, error) {
	goals, err := s.goals.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("service/goal: listing goals: %w", err)
	}
	return goals, nil
}

// Set creates or replaces the goal for (PeriodStart, PeriodEnd).
func (s *GoalService) Set(ctx context.Context, userID string, in GoalInput) (*model.Goal, error) {
	switch in.PeriodType {
	case model.PeriodMonthly, model.PeriodQuarterly, model.PeriodAnnual, model.PeriodMultiYear:
	default:
		return nil, apperror.ValidationFailed("periodType", "period type must be monthly, quarterly, annual or multi-year")
	}
	if in.TargetRevenue < 0 {
		return nil, apperror.ValidationFailed("targetRevenue", "target revenue must not be negative")
	}

	start, err := time.Parse(time.DateOnly, in.PeriodStart)
	if err != nil {
		return nil, apperror.ValidationFailed("periodStart", "period start must be YYYY-MM-DD")
	}
	end, err := time.Parse(time.DateOnly, in.PeriodEnd)
	if err != nil {
		return nil, apperror.ValidationFailed("periodEnd", "period end must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return nil, apperror.ValidationFailed("periodEnd", "period end must not be before period start")
	}
	if in.Year == 0 {
		in.Year = start.Year()
	}

	goal := &model.Goal{
		UserID:        userID,
		Year:          in.Year,
		TargetRevenue: in.TargetRevenue,
		PeriodType:    in.PeriodType,
		PeriodStart:   in.PeriodStart,
		PeriodEnd:     in.PeriodEnd,
	}
	if err := s.goals.Upsert(ctx, goal); err != nil {
		return nil, fmt.Errorf("service/goal: saving goal: %w", err)
	}

	s.logger.Info("goal saved",
		slog.String("goal_id", goal.ID),
		slog.String("period", in.PeriodStart+".."+in.PeriodEnd),
	)
	return goal, nil
}

func (s *GoalService) Delete(ctx context.Context, userID, id string) error {
	return s.goals.Delete(ctx, userID, id)
}
