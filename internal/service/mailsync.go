package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/revtrack/internal/apperror"
	"github.com/sakif/revtrack/internal/mail"
	"github.com/sakif/revtrack/internal/model"
	"github.com/sakif/revtrack/internal/repository"
)

// SyncResult is what a sync reports back. Synced counts real inserts only.
type SyncResult struct {
	Provider        mail.ProviderName `json:"provider"`
	Synced          int               `json:"synced"`
	ContactsScanned int               `json:"contacts_scanned"`
	ContactsFailed  int               `json:"contacts_failed"`
}

// ActivityPublisher is told about every activity the sync inserted.
type ActivityPublisher interface {
	PublishSyncedActivity(ctx context.Context, provider mail.ProviderName, activity *model.Activity) error
}

// MailSyncService logs mail exchanged with each deal's contact as email
// activities on that deal.
//
// One invocation runs sequentially: acquire token → list deals with a
// contact email → search the mailbox per contact → reconcile each message.
// Only token acquisition can fail the whole run. A provider error skips the
// contact; a storage error skips the message.
type MailSyncService struct {
	tokens     *TokenManager
	providers  ProviderLookup
	deals      repository.DealRepository
	activities repository.ActivityRepository
	publisher  ActivityPublisher
	logger     *slog.Logger
	now        func() time.Time
}

func NewMailSyncService(
	tokens *TokenManager,
	providers ProviderLookup,
	deals repository.DealRepository,
	activities repository.ActivityRepository,
	publisher ActivityPublisher,
	logger *slog.Logger,
) *MailSyncService {
	return &MailSyncService{
		tokens:     tokens,
		providers:  providers,
		deals:      deals,
		activities: activities,
		publisher:  publisher,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *MailSyncService) Sync(ctx context.Context, userID string, name mail.ProviderName) (*SyncResult, error) {
	provider, ok := s.providers.Provider(name)
	if !ok {
		return nil, apperror.NotConnected(string(name))
	}

	accessToken, err := s.tokens.Acquire(ctx, userID, name)
	if err != nil {
		return nil, err
	}

	deals, err := s.deals.ListWithContactEmail(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/mailsync: listing deals: %w", err)
	}

	log := s.logger.With(slog.String("user_id", userID), slog.String("provider", string(name)))
	result := &SyncResult{Provider: name}
	syncedAt := s.now()

	for _, deal := range deals {
		if ctx.Err() != nil {
			log.Warn("sync interrupted", slog.String("error", ctx.Err().Error()))
			break
		}
		if deal.ContactEmail == nil {
			continue
		}
		address := strings.TrimSpace(*deal.ContactEmail)
		if address == "" {
			continue
		}

		result.ContactsScanned++
		inserted, err := s.syncContact(ctx, provider, accessToken, &deal, address, syncedAt)
		result.Synced += inserted
		if err != nil {
			result.ContactsFailed++
			log.Warn("contact skipped",
				slog.String("deal_id", deal.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	log.Info("mail sync finished",
		slog.Int("synced", result.Synced),
		slog.Int("contacts_scanned", result.ContactsScanned),
		slog.Int("contacts_failed", result.ContactsFailed),
	)
	return result, nil
}

// syncContact reconciles the messages of one contact in provider order.
// Inserts made before a provider error still count.
func (s *MailSyncService) syncContact(ctx context.Context, provider mail.Provider, accessToken string, deal *model.Deal, address string, syncedAt time.Time) (int, error) {
	known := func(id string) bool {
		exists, err := s.activities.ExistsExternal(ctx, deal.ID, id)
		if err != nil {
			s.logStorageError(deal, mail.Message{ID: id}, err)
			return true
		}
		return exists
	}

	inserted := 0
	for msg, err := range provider.Search(ctx, accessToken, address, mail.MaxMessagesPerContact, known) {
		if err != nil {
			return inserted, apperror.Provider(string(provider.Name()), err)
		}
		if s.reconcile(ctx, provider.Name(), deal, msg, syncedAt) {
			inserted++
		}
	}
	return inserted, nil
}

// reconcile inserts msg as an email activity. Already recorded ids are
// filtered out during the search; the unique index behind CreateSynced
// still rejects a duplicate that races in between.
func (s *MailSyncService) reconcile(ctx context.Context, name mail.ProviderName, deal *model.Deal, msg mail.Message, syncedAt time.Time) bool {
	if msg.ID == "" {
		return false
	}

	activity := NewEmailActivity(deal, msg, syncedAt)
	ok, err := s.activities.CreateSynced(ctx, activity)
	if err != nil {
		s.logStorageError(deal, msg, err)
		return false
	}
	if !ok {
		return false
	}

	if s.publisher != nil {
		if err := s.publisher.PublishSyncedActivity(ctx, name, activity); err != nil {
			s.logger.Warn("publishing synced activity",
				slog.String("activity_id", activity.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return true
}

func (s *MailSyncService) logStorageError(deal *model.Deal, msg mail.Message, err error) {
	s.logger.Error("message skipped",
		slog.String("deal_id", deal.ID),
		slog.String("external_id", msg.ID),
		slog.String("error", err.Error()),
	)
}

// NewEmailActivity maps a provider message onto the deal's timeline.
// Missing subjects become model.NoSubject; a missing timestamp falls back
// to the time of the sync.
func NewEmailActivity(deal *model.Deal, msg mail.Message, syncedAt time.Time) *model.Activity {
	title := msg.Subject
	if title == "" {
		title = model.NoSubject
	}
	occurred := msg.OccurredAt
	if occurred.IsZero() {
		occurred = syncedAt
	}
	externalID := msg.ID
	return &model.Activity{
		UserID:     deal.UserID,
		DealID:     deal.ID,
		Type:       model.ActivityEmail,
		Title:      title,
		ExternalID: &externalID,
		OccurredAt: occurred,
	}
}
