// Package repository declares the storage interfaces the service layer
// depends on. The sqlite subpackage implements all of them on one *sqlite.DB.
package repository

import (
	"context"

	"github.com/sakif/revtrack/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// DealFilter narrows DealRepository.List. Zero values mean "no filter".
type DealFilter struct {
	Stage model.Stage
	ListOptions
}

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
}

type DealRepository interface {
	Create(ctx context.Context, deal *model.Deal) error
	GetByID(ctx context.Context, userID, id string) (*model.Deal, error)
	List(ctx context.Context, userID string, filter DealFilter) ([]model.Deal, error)
	Update(ctx context.Context, deal *model.Deal) error
	Delete(ctx context.Context, userID, id string) error

	// ListWithContactEmail returns every deal of the user that carries a
	// non-empty contact email. No pagination is applied.
	ListWithContactEmail(ctx context.Context, userID string) ([]model.Deal, error)
}

type ActivityRepository interface {
	Create(ctx context.Context, activity *model.Activity) error
	ListByDeal(ctx context.Context, userID, dealID string) ([]model.Activity, error)
	Delete(ctx context.Context, userID, id string) error

	// ExistsExternal reports whether an activity with (dealID, externalID)
	// was already recorded.
	ExistsExternal(ctx context.Context, dealID, externalID string) (bool, error)

	// CreateSynced inserts a synced activity unless the (deal_id,
	// external_id) unique index already holds it. inserted is false when the
	// row existed, which covers two overlapping syncs racing on one message.
	CreateSynced(ctx context.Context, activity *model.Activity) (inserted bool, err error)
}

type GoalRepository interface {
	Upsert(ctx context.Context, goal *model.Goal) error
	ListByUser(ctx context.Context, userID string, limit int) ([]model.Goal, error)
	Delete(ctx context.Context, userID, id string) error
}

type MailTokenRepository interface {
	// Get returns apperror.ErrNotFound when the pair has no record.
	Get(ctx context.Context, userID, provider string) (*model.MailToken, error)

	// Upsert replaces the record for (UserID, Provider). An empty
	// RefreshToken keeps the stored one.
	Upsert(ctx context.Context, token *model.MailToken) error

	Delete(ctx context.Context, userID, provider string) error
	ListByUser(ctx context.Context, userID string) ([]model.MailToken, error)

	// ListAll returns every stored grant. Used by the background scheduler.
	ListAll(ctx context.Context) ([]model.MailToken, error)
}
