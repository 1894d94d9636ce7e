package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/revtrack/internal/apperror"
	"github.com/sakif/revtrack/internal/model"
	"github.com/sakif/revtrack/internal/repository"
)

const (
	MaxActivityTitleLength = 300
	MaxActivityBodyLength  = 20000
)

// ActivityInput is a manually logged timeline entry.
type ActivityInput struct {
	Type  model.ActivityType `json:"type"`
	Title string             `json:"title"`
	Body  *string            `json:"body"`
	// OccurredAt defaults to now.
	OccurredAt *time.Time `json:"occurredAt"`
}

type ActivityService struct {
	deals      repository.DealRepository
	activities repository.ActivityRepository
	logger     *slog.Logger
	now        func() time.Time
}

func NewActivityService(deals repository.DealRepository, activities repository.ActivityRepository, logger *slog.Logger) *ActivityService {
	return &ActivityService{
		deals:      deals,
		activities: activities,
		logger:     logger,
		now:        time.Now,
	}
}

// ListForDeal returns the deal's timeline, newest first. The deal lookup
// doubles as the ownership check.
func (s *ActivityService) ListForDeal(ctx context.Context, userID, dealID string) ([]model.Activity, error) {
	if _, err := s.deals.GetByID(ctx, userID, dealID); err != nil {
		return nil, err
	}
	activities, err := s.activities.ListByDeal(ctx, userID, dealID)
	if err != nil {
		return nil, fmt.Errorf("service/activity: listing activities: %w", err)
	}
	return activities, nil
}

// Log records a call, email, meeting or note. System types (stage_change,
// deal_created) are written by DealService only.
func (s *ActivityService) Log(ctx context.Context, userID, dealID string, in ActivityInput) (*model.Activity, error) {
	if !in.Type.Manual() {
		return nil, apperror.ValidationFailed("type", "type must be one of call, email, meeting, note")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperror.ValidationFailed("title", "activity title is required")
	}
	if len(title) > MaxActivityTitleLength {
		return nil, apperror.ValidationFailed("title",
			fmt.Sprintf("activity title must be %d characters or less", MaxActivityTitleLength))
	}
	body := trimmedOrNil(in.Body)
	if body != nil && len(*body) > MaxActivityBodyLength {
		return nil, apperror.ValidationFailed("body",
			fmt.Sprintf("activity body must be %d characters or less", MaxActivityBodyLength))
	}

	if _, err := s.deals.GetByID(ctx, userID, dealID); err != nil {
		return nil, err
	}

	occurred := s.now()
	if in.OccurredAt != nil && !in.OccurredAt.IsZero() {
		occurred = *in.OccurredAt
	}

	activity := &model.Activity{
		UserID:     userID,
		DealID:     dealID,
		Type:       in.Type,
		Title:      title,
		Body:       body,
		OccurredAt: occurred,
	}
	if err := s.activities.Create(ctx, activity); err != nil {
		return nil, fmt.Errorf("service/activity: logging activity: %w", err)
	}

	s.logger.Info("activity logged",
		slog.String("activity_id", activity.ID),
		slog.String("deal_id", dealID),
		slog.String("type", string(in.Type)),
	)
	return activity, nil
}

func (s *ActivityService) Delete(ctx context.Context, userID, id string) error {
	return s.activities.Delete(ctx, userID, id)
}
