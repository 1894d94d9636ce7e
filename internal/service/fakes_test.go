package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/revtrack/internal/apperror"
	"github.com/sakif/revtrack/internal/mail"
	"github.com/sakif/revtrack/internal/model"
	"github.com/sakif/revtrack/internal/repository"
)

// =========================================================================
// IN-MEMORY REPOSITORIES
// =========================================================================
//
// Hand-written fakes rather than a mock framework: each one mirrors what the
// sqlite implementation guarantees (ownership scoping, NotFound errors, the
// external-id uniqueness) and nothing more.

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeUserRepo struct {
	mu        sync.Mutex
	users     map[string]*model.User
	nextID    int
	createErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (f *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, u := range f.users {
		if u.Email == user.Email || u.ID == user.ID {
			return apperror.Conflict("user", user.Email)
		}
	}
	if user.ID == "" {
		f.nextID++
		user.ID = fmt.Sprintf("user-%d", f.nextID)
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	stored := *user
	f.users[user.ID] = &stored
	return nil
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	out := *u
	return &out, nil
}

func (f *fakeUserRepo) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

type fakeDealRepo struct {
	mu      sync.Mutex
	deals   []*model.Deal
	nextID  int
	listErr error
}

func newFakeDealRepo() *fakeDealRepo { return &fakeDealRepo{} }

// add stores a deal directly, bypassing validation.
func (f *fakeDealRepo) add(userID, title string, contact *string) *model.Deal {
	d := &model.Deal{UserID: userID, Title: title, ContactEmail: contact, Stage: model.StageProspecting}
	_ = f.Create(context.Background(), d)
	return d
}

func (f *fakeDealRepo) Create(_ context.Context, deal *model.Deal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	deal.ID = fmt.Sprintf("deal-%d", f.nextID)
	deal.CreatedAt = time.Now()
	deal.UpdatedAt = deal.CreatedAt
	stored := *deal
	f.deals = append(f.deals, &stored)
	return nil
}

func (f *fakeDealRepo) GetByID(_ context.Context, userID, id string) (*model.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deals {
		if d.ID == id && d.UserID == userID {
			out := *d
			return &out, nil
		}
	}
	return nil, apperror.NotFound("deal", id)
}

func (f *fakeDealRepo) List(_ context.Context, userID string, filter repository.DealFilter) ([]model.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.Deal
	for _, d := range f.deals {
		if d.UserID != userID || (filter.Stage != "" && d.Stage != filter.Stage) {
			continue
		}
		out = append(out, *d)
	}
	if filter.Offset >= len(out) {
		return []model.Deal{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeDealRepo) Update(_ context.Context, deal *model.Deal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, d := range f.deals {
		if d.ID == deal.ID && d.UserID == deal.UserID {
			stored := *deal
			f.deals[i] = &stored
			return nil
		}
	}
	return apperror.NotFound("deal", deal.ID)
}

func (f *fakeDealRepo) Delete(_ context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, d := range f.deals {
		if d.ID == id && d.UserID == userID {
			f.deals = append(f.deals[:i], f.deals[i+1:]...)
			return nil
		}
	}
	return apperror.NotFound("deal", id)
}

func (f *fakeDealRepo) ListWithContactEmail(_ context.Context, userID string) ([]model.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.Deal
	for _, d := range f.deals {
		if d.UserID == userID && d.ContactEmail != nil && *d.ContactEmail != "" {
			out = append(out, *d)
		}
	}
	return out, nil
}

type fakeActivityRepo struct {
	mu         sync.Mutex
	activities []*model.Activity
	nextID     int

	// createErr fails every plain Create call.
	createErr error
	// syncErr maps an external id to the error CreateSynced returns for it.
	syncErr map[string]error
	// existsErr maps an external id to the error ExistsExternal returns for it.
	existsErr map[string]error
}

func newFakeActivityRepo() *fakeActivityRepo {
	return &fakeActivityRepo{
		syncErr:   make(map[string]error),
		existsErr: make(map[string]error),
	}
}

func (f *fakeActivityRepo) Create(_ context.Context, a *model.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.insertLocked(a)
	return nil
}

func (f *fakeActivityRepo) insertLocked(a *model.Activity) {
	f.nextID++
	a.ID = fmt.Sprintf("act-%d", f.nextID)
	a.CreatedAt = time.Now()
	if a.OccurredAt.IsZero() {
		a.OccurredAt = a.CreatedAt
	}
	stored := *a
	f.activities = append(f.activities, &stored)
}

func (f *fakeActivityRepo) CreateSynced(_ context.Context, a *model.Activity) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ExternalID == nil {
		return false, errors.New("external id required")
	}
	if err := f.syncErr[*a.ExternalID]; err != nil {
		return false, err
	}
	if f.existsLocked(a.DealID, *a.ExternalID) {
		return false, nil
	}
	f.insertLocked(a)
	return true, nil
}

func (f *fakeActivityRepo) ExistsExternal(_ context.Context, dealID, externalID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.existsErr[externalID]; err != nil {
		return false, err
	}
	return f.existsLocked(dealID, externalID), nil
}

func (f *fakeActivityRepo) existsLocked(dealID, externalID string) bool {
	for _, a := range f.activities {
		if a.DealID == dealID && a.ExternalID != nil && *a.ExternalID == externalID {
			return true
		}
	}
	return false
}

func (f *fakeActivityRepo) ListByDeal(_ context.Context, userID, dealID string) ([]model.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Activity
	for _, a := range f.activities {
		if a.UserID == userID && a.DealID == dealID {
			out = append(out, *a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	return out, nil
}

func (f *fakeActivityRepo) Delete(_ context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, a := range f.activities {
		if a.ID == id && a.UserID == userID {
			f.activities = append(f.activities[:i], f.activities[i+1:]...)
			return nil
		}
	}
	return apperror.NotFound("activity", id)
}

// byType returns every stored activity of kind, in insertion order.
func (f *fakeActivityRepo) byType(kind model.ActivityType) []model.Activity {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Activity
	for _, a := range f.activities {
		if a.Type == kind {
			out = append(out, *a)
		}
	}
	return out
}

type fakeGoalRepo struct {
	goals  []*model.Goal
	nextID int
}

func (f *fakeGoalRepo) Upsert(_ context.Context, g *model.Goal) error {
	for _, existing := range f.goals {
		if existing.UserID == g.UserID && existing.PeriodStart == g.PeriodStart && existing.PeriodEnd == g.PeriodEnd {
			g.ID = existing.ID
			*existing = *g
			return nil
		}
	}
	f.nextID++
	g.ID = fmt.Sprintf("goal-%d", f.nextID)
	stored := *g
	f.goals = append(f.goals, &stored)
	return nil
}

func (f *fakeGoalRepo) ListByUser(_ context.Context, userID string, limit int) ([]model.Goal, error) {
	var out []model.Goal
	for _, g := range f.goals {
		if g.UserID == userID {
			out = append(out, *g)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeGoalRepo) Delete(_ context.Context, userID, id string) error {
	for i, g := range f.goals {
		if g.ID == id && g.UserID == userID {
			f.goals = append(f.goals[:i], f.goals[i+1:]...)
			return nil
		}
	}
	return apperror.NotFound("goal", id)
}

type fakeTokenRepo struct {
	mu        sync.Mutex
	tokens    map[string]*model.MailToken
	upserts   int
	upsertErr error
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[string]*model.MailToken)}
}

func tokenKey(userID, provider string) string { return userID + "/" + provider }

// put stores a record directly without counting it as an upsert.
func (f *fakeTokenRepo) put(t *model.MailToken) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *t
	f.tokens[tokenKey(t.UserID, t.Provider)] = &stored
}

func (f *fakeTokenRepo) Get(_ context.Context, userID, provider string) (*model.MailToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[tokenKey(userID, provider)]
	if !ok {
		return nil, apperror.NotFound("mail token", userID+"/"+provider)
	}
	out := *t
	return &out, nil
}

func (f *fakeTokenRepo) Upsert(_ context.Context, t *model.MailToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts++
	key := tokenKey(t.UserID, t.Provider)
	stored := *t
	if prev, ok := f.tokens[key]; ok {
		if stored.RefreshToken == "" {
			stored.RefreshToken = prev.RefreshToken
		}
		if stored.AccountEmail == "" {
			stored.AccountEmail = prev.AccountEmail
		}
		stored.CreatedAt = prev.CreatedAt
	} else {
		stored.CreatedAt = time.Now()
	}
	f.tokens[key] = &stored
	return nil
}

func (f *fakeTokenRepo) Delete(_ context.Context, userID, provider string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := tokenKey(userID, provider)
	if _, ok := f.tokens[key]; !ok {
		return apperror.NotFound("mail token", key)
	}
	delete(f.tokens, key)
	return nil
}

func (f *fakeTokenRepo) ListByUser(_ context.Context, userID string) ([]model.MailToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.MailToken
	for _, t := range f.tokens {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (f *fakeTokenRepo) ListAll(_ context.Context) ([]model.MailToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.MailToken
	for _, t := range f.tokens {
		out = append(out, *t)
	}
	return out, nil
}

// =========================================================================
// FAKE MAIL PROVIDER
// =========================================================================

// fakeProvider serves canned mailboxes keyed by contact address.
type fakeProvider struct {
	mu   sync.Mutex
	name mail.ProviderName

	mailbox   map[string][]mail.Message
	searchErr map[string]error
	// failAfter yields the error after the first n messages of an address.
	failAfter map[string]int

	refreshFn func(refreshToken string) (*oauth2.Token, error)
	grant     *mail.Grant
	exchErr   error

	searches   []string
	refreshes  int
	seenTokens []string
	// yielded lists the message ids handed to the sync, in order.
	yielded []string
}

func newFakeProvider(name mail.ProviderName) *fakeProvider {
	return &fakeProvider{
		name:      name,
		mailbox:   make(map[string][]mail.Message),
		searchErr: make(map[string]error),
		failAfter: make(map[string]int),
	}
}

func (p *fakeProvider) Name() mail.ProviderName { return p.name }

func (p *fakeProvider) Refresh(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	p.mu.Lock()
	p.refreshes++
	fn := p.refreshFn
	p.mu.Unlock()
	if fn == nil {
		return nil, errors.New("refresh not configured")
	}
	return fn(refreshToken)
}

func (p *fakeProvider) Search(_ context.Context, accessToken, address string, limit int, known mail.KnownFunc) iter.Seq2[mail.Message, error] {
	return func(yield func(mail.Message, error) bool) {
		p.mu.Lock()
		p.searches = append(p.searches, address)
		p.seenTokens = append(p.seenTokens, accessToken)
		msgs := p.mailbox[address]
		err := p.searchErr[address]
		failAt, partial := p.failAfter[address]
		p.mu.Unlock()

		if err != nil && !partial {
			yield(mail.Message{}, err)
			return
		}
		for i, m := range msgs {
			if i >= limit {
				return
			}
			if partial && i == failAt {
				yield(mail.Message{}, err)
				return
			}
			if m.ID != "" && known.Has(m.ID) {
				continue
			}
			p.mu.Lock()
			p.yielded = append(p.yielded, m.ID)
			p.mu.Unlock()
			if !yield(m, nil) {
				return
			}
		}
	}
}

func (p *fakeProvider) AuthURL(state string) string {
	return "https://auth.example/" + string(p.name) + "?state=" + state
}

func (p *fakeProvider) Exchange(_ context.Context, code string) (*mail.Grant, error) {
	if p.exchErr != nil {
		return nil, p.exchErr
	}
	if p.grant == nil {
		return nil, errors.New("no grant configured")
	}
	g := *p.grant
	return &g, nil
}

func (p *fakeProvider) searchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.searches)
}

func (p *fakeProvider) refreshCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (r *recordingPublisher) PublishSyncedActivity(_ context.Context, _ mail.ProviderName, a *model.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, *a.ExternalID)
	return r.err
}

func strPtr(s string) *string { return &s }
