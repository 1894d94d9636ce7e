// Package scheduler runs the mail sync for every stored grant on a fixed
// interval, so timelines fill in without the user pressing "sync".
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/revtrack/internal/apperror"
	"github.com/sakif/revtrack/internal/mail"
	"github.com/sakif/revtrack/internal/model"
	"github.com/sakif/revtrack/internal/service"
)

// GrantLister lists every stored (user, provider) grant.
type GrantLister interface {
	ListAll(ctx context.Context) ([]model.MailToken, error)
}

// Syncer runs one sync invocation.
type Syncer interface {
	Sync(ctx context.Context, userID string, provider mail.ProviderName) (*service.SyncResult, error)
}

// Summary is the outcome of one cycle.
type Summary struct {
	Grants  int `json:"grants"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
	Expired int `json:"expired"`
}

// Scheduler triggers a sync per grant every Interval. Grants are synced one
// after another; a cycle that is still running when the next tick fires
// makes that tick a no-op.
type Scheduler struct {
	grants   GrantLister
	syncer   Syncer
	interval time.Duration
	delay    time.Duration
	logger   *slog.Logger

	cycle sync.Mutex
}

func New(grants GrantLister, syncer Syncer, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		grants:   grants,
		syncer:   syncer,
		interval: interval,
		delay:    10 * time.Second,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled. The first cycle starts after a short
// delay so the server is fully up.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("sync scheduler started", slog.Duration("interval", s.interval))
	defer s.logger.Info("sync scheduler stopped")

	select {
	case <-time.After(s.delay):
		s.RunOnce(ctx)
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce syncs every stored grant once. It returns a zero Summary when
// another cycle is in progress.
func (s *Scheduler) RunOnce(ctx context.Context) Summary {
	var sum Summary
	if !s.cycle.TryLock() {
		s.logger.Info("previous sync cycle still running, skipping")
		return sum
	}
	defer s.cycle.Unlock()

	grants, err := s.grants.ListAll(ctx)
	if err != nil {
		s.logger.Error("listing mail grants", slog.String("error", err.Error()))
		return sum
	}

	for _, g := range grants {
		if ctx.Err() != nil {
			break
		}
		name, ok := mail.ParseProviderName(g.Provider)
		if !ok {
			continue
		}
		sum.Grants++

		log := s.logger.With(slog.String("user_id", g.UserID), slog.String("provider", g.Provider))
		res, err := s.syncer.Sync(ctx, g.UserID, name)
		switch {
		case err == nil:
			sum.Synced += res.Synced
		case errors.Is(err, apperror.ErrAuthExpired), errors.Is(err, apperror.ErrNotConnected):
			// Only the user can fix this by reconnecting.
			sum.Expired++
			log.Warn("scheduled sync needs reconnect", slog.String("error", err.Error()))
		default:
			sum.Failed++
			log.Error("scheduled sync failed", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("sync cycle completed",
		slog.Int("grants", sum.Grants),
		slog.Int("synced", sum.Synced),
		slog.Int("failed", sum.Failed),
		slog.Int("expired", sum.Expired),
	)
	return sum
}
