// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (business layer) → validates, enforces rules, orchestrates
//	Repository (data layer)  → reads/writes the database
//
// Services take repository interfaces, never *sqlite.DB, and return
// apperror values instead of HTTP status codes. That keeps them usable from
// the HTTP handlers, the CLI and the background scheduler alike, and lets the
// tests run against in-memory fakes.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/sakif/revtrack/internal/apperror"
	"github.com/sakif/revtrack/internal/model"
	"github.com/sakif/revtrack/internal/repository"
)

const (
	MaxDealTitleLength = 200
	MaxNotesLength     = 10000
	DefaultListLimit   = 100
	MaxListLimit       = 500
)

// DealInput carries the user-editable fields of a deal. Create and Update
// take the full set; a nil pointer clears the optional field.
type DealInput struct {
	Title             string      `json:"title"`
	Company           string      `json:"company"`
	ContactName       string      `json:"contactName"`
	ContactEmail      *string     `json:"contactEmail"`
	Value             float64     `json:"value"`
	Stage             model.Stage `json:"stage"`
	Probability       int         `json:"probability"`
	ExpectedCloseDate *string     `json:"expectedCloseDate"`
	Notes             *string     `json:"notes"`
}

// PipelineColumn is one stage of the kanban board.
type PipelineColumn struct {
	Stage      model.Stage  `json:"stage"`
	Deals      []model.Deal `json:"deals"`
	TotalValue float64      `json:"totalValue"`
	// WeightedValue sums value × probability/100.
	WeightedValue float64 `json:"weightedValue"`
}

// DealService manages the pipeline. Creating a deal and moving it between
// stages both leave an entry in the deal's activity timeline.
type DealService struct {
	deals      repository.DealRepository
	activities repository.ActivityRepository
	logger     *slog.Logger
}

func NewDealService(deals repository.DealRepository, activities repository.ActivityRepository, logger *slog.Logger) *DealService {
	return &DealService{
		deals:      deals,
		activities: activities,
		logger:     logger,
	}
}

func (s *DealService) Create(ctx context.Context, userID string, in DealInput) (*model.Deal, error) {
	if in.Stage == "" {
		in.Stage = model.StageProspecting
	}
	deal := &model.Deal{UserID: userID}
	if err := applyDealInput(deal, in); err != nil {
		return nil, err
	}

	if err := s.deals.Create(ctx, deal); err != nil {
		return nil, fmt.Errorf("service/deal: creating deal: %w", err)
	}

	s.logTimeline(ctx, deal, model.ActivityDealCreated, fmt.Sprintf("Deal created in %s", stageLabel(deal.Stage)))

	s.logger.Info("deal created",
		slog.String("deal_id", deal.ID),
		slog.String("user_id", userID),
	)
	return deal, nil
}

func (s *DealService) Get(ctx context.Context, userID, id string) (*model.Deal, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "deal ID is required")
	}
	return s.deals.GetByID(ctx, userID, id)
}

// List returns the table view. An empty stage lists every stage.
func (s *DealService) List(ctx context.Context, userID string, stage model.Stage, limit, offset int) ([]model.Deal, error) {
	if stage != "" && !stage.Valid() {
		return nil, apperror.ValidationFailed("stage", fmt.Sprintf("unknown stage %q", stage))
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	offset = max(offset, 0)

	deals, err := s.deals.List(ctx, userID, repository.DealFilter{
		Stage:       stage,
		ListOptions: repository.ListOptions{Limit: limit, Offset: offset},
	})
	if err != nil {
		return nil, fmt.Errorf("service/deal: listing deals: %w", err)
	}
	return deals, nil
}

// Update replaces the editable fields. A stage change is logged like MoveStage.
func (s *DealService) Update(ctx context.Context, userID, id string, in DealInput) (*model.Deal, error) {
	deal, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	prevStage := deal.Stage
	if in.Stage == "" {
		in.Stage = prevStage
	}
	if err := applyDealInput(deal, in); err != nil {
		return nil, err
	}

	if err := s.deals.Update(ctx, deal); err != nil {
		return nil, fmt.Errorf("service/deal: updating deal %s: %w", id, err)
	}
	if deal.Stage != prevStage {
		s.logStageChange(ctx, deal, prevStage)
	}
	return deal, nil
}

// MoveStage is the kanban drag-and-drop. Moving to the current stage is a no-op.
func (s *DealService) MoveStage(ctx context.Context, userID, id string, stage model.Stage) (*model.Deal, error) {
	if !stage.Valid() {
		return nil, apperror.ValidationFailed("stage", fmt.Sprintf("unknown stage %q", stage))
	}
	deal, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if deal.Stage == stage {
		return deal, nil
	}

	prev := deal.Stage
	deal.Stage = stage
	if err := s.deals.Update(ctx, deal); err != nil {
		return nil, fmt.Errorf("service/deal: moving deal %s: %w", id, err)
	}
	s.logStageChange(ctx, deal, prev)
	return deal, nil
}

func (s *DealService) Delete(ctx context.Context, userID, id string) error {
	if err := s.deals.Delete(ctx, userID, id); err != nil {
		return err
	}
	s.logger.Info("deal deleted", slog.String("deal_id", id), slog.String("user_id", userID))
	return nil
}

// Pipeline groups every deal of the user by stage, in board order. Empty
// stages are included so the board always has all columns.
func (s *DealService) Pipeline(ctx context.Context, userID string) ([]PipelineColumn, error) {
	deals, err := s.deals.List(ctx, userID, repository.DealFilter{
		ListOptions: repository.ListOptions{Limit: MaxListLimit},
	})
	if err != nil {
		return nil, fmt.Errorf("service/deal: loading pipeline: %w", err)
	}

	index := make(map[model.Stage]int, len(model.Stages))
	columns := make([]PipelineColumn, len(model.Stages))
	for i, st := range model.Stages {
		index[st] = i
		columns[i] = PipelineColumn{Stage: st, Deals: []model.Deal{}}
	}
	for _, d := range deals {
		i, ok := index[d.Stage]
		if !ok {
			continue
		}
		col := &columns[i]
		col.Deals = append(col.Deals, d)
		col.TotalValue += d.Value
		col.WeightedValue += d.Value * float64(d.Probability) / 100
	}
	return columns, nil
}

func (s *DealService) logStageChange(ctx context.Context, deal *model.Deal, from model.Stage) {
	s.logTimeline(ctx, deal, model.ActivityStageChange,
		fmt.Sprintf("Stage changed from %s to %s", stageLabel(from), stageLabel(deal.Stage)))
}

// logTimeline records a system activity. The deal change already
// succeeded, so a failure here is logged rather than returned.
func (s *DealService) logTimeline(ctx context.Context, deal *model.Deal, kind model.ActivityType, title string) {
	err := s.activities.Create(ctx, &model.Activity{
		UserID: deal.UserID,
		DealID: deal.ID,
		Type:   kind,
		Title:  title,
	})
	if err != nil {
		s.logger.Error("failed to record deal activity",
			slog.String("deal_id", deal.ID),
			slog.String("type", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}

func applyDealInput(deal *model.Deal, in DealInput) error {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return apperror.ValidationFailed("title", "deal title is required")
	}
	if len(title) > MaxDealTitleLength {
		return apperror.ValidationFailed("title",
			fmt.Sprintf("deal title must be %d characters or less", MaxDealTitleLength))
	}
	if !in.Stage.Valid() {
		return apperror.ValidationFailed("stage", fmt.Sprintf("unknown stage %q", in.Stage))
	}
	if in.Value < 0 {
		return apperror.ValidationFailed("value", "deal value must not be negative")
	}
	if in.Probability < 0 || in.Probability > 100 {
		return apperror.ValidationFailed("probability", "probability must be between 0 and 100")
	}

	contact, err := normalizeContactEmail(in.ContactEmail)
	if err != nil {
		return err
	}

	closeDate := trimmedOrNil(in.ExpectedCloseDate)
	if closeDate != nil {
		if _, err := time.Parse(time.DateOnly, *closeDate); err != nil {
			return apperror.ValidationFailed("expectedCloseDate", "expected close date must be YYYY-MM-DD")
		}
	}

	notes := trimmedOrNil(in.Notes)
	if notes != nil && len(*notes) > MaxNotesLength {
		return apperror.ValidationFailed("notes",
			fmt.Sprintf("notes must be %d characters or less", MaxNotesLength))
	}

	deal.Title = title
	deal.Company = strings.TrimSpace(in.Company)
	deal.ContactName = strings.TrimSpace(in.ContactName)
	deal.ContactEmail = contact
	deal.Value = in.Value
	deal.Stage = in.Stage
	deal.Probability = in.Probability
	deal.ExpectedCloseDate = closeDate
	deal.Notes = notes
	return nil
}

// normalizeContactEmail accepts a bare address and stores it lowercased,
// since it is used verbatim as a mailbox search term.
func normalizeContactEmail(raw *string) (*string, error) {
	v := trimmedOrNil(raw)
	if v == nil {
		return nil, nil
	}
	addr, err := mail.ParseAddress(*v)
	if err != nil || addr.Address != *v {
		return nil, apperror.ValidationFailed("contactEmail", "contact email must be a plain email address")
	}
	lower := strings.ToLower(addr.Address)
	return &lower, nil
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func stageLabel(s model.Stage) string {
	return strings.ReplaceAll(string(s), "_", " ")
}
