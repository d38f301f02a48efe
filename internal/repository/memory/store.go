// Package memory is an in-process implementation of campaign.Store.
//
// It backs the dispatcher tests and the "memory" database driver used for
// local development. All methods are safe for concurrent use; values are
// copied in and out so callers never share state with the store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// Store holds campaigns, recipients, accounts and events in maps.
type Store struct {
	mu         sync.Mutex
	campaigns  map[string]*domain.Campaign
	recipients map[string]*domain.Recipient
	accounts   map[string]*domain.EmailAccount
	events     []domain.CampaignEvent
	seq        int64
	now        func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		campaigns:  make(map[string]*domain.Campaign),
		recipients: make(map[string]*domain.Recipient),
		accounts:   make(map[string]*domain.EmailAccount),
		now:        time.Now,
	}
}

func (s *Store) Campaigns() campaign.CampaignRepository   { return campaignRepo{s} }
func (s *Store) Recipients() campaign.RecipientRepository { return recipientRepo{s} }
func (s *Store) Accounts() campaign.AccountRepository     { return accountRepo{s} }
func (s *Store) Events() campaign.EventRepository         { return eventRepo{s} }

// PutCampaign inserts or replaces a campaign.
func (s *Store) PutCampaign(c domain.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	c.UpdatedAt = s.now()
	s.campaigns[c.ID] = &c
}

// PutRecipient inserts or replaces a recipient. Recipients without a
// CreatedAt get a strictly increasing one so insertion order is preserved.
func (s *Store) PutRecipient(r domain.Recipient) domain.Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = domain.RecipientPending
	}
	if r.CreatedAt.IsZero() {
		s.seq++
		r.CreatedAt = time.Unix(0, 0).Add(time.Duration(s.seq) * time.Millisecond)
	}
	r.SubstitutionData = cloneMap(r.SubstitutionData)
	s.recipients[r.ID] = &r
	return r
}

// PutAccount inserts or replaces an email account.
func (s *Store) PutAccount(a domain.EmailAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = &a
}

// Recipient returns a copy of a stored recipient.
func (s *Store) Recipient(id string) (domain.Recipient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[id]
	if !ok {
		return domain.Recipient{}, false
	}
	return copyRecipient(r), true
}

// RecipientsOf returns copies of a campaign's recipients in creation order.
func (s *Store) RecipientsOf(campaignID string) []domain.Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedRecipients(campaignID, func(*domain.Recipient) bool { return true }, 0)
}

// EventLog returns a copy of all appended events.
func (s *Store) EventLog() []domain.CampaignEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CampaignEvent(nil), s.events...)
}

// Account returns a copy of a stored account.
func (s *Store) Account(id string) (domain.EmailAccount, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return domain.EmailAccount{}, false
	}
	return *a, true
}

func (s *Store) sortedRecipients(campaignID string, keep func(*domain.Recipient) bool, limit int) []domain.Recipient {
	var out []domain.Recipient
	for _, r := range s.recipients {
		if r.CampaignID == campaignID && keep(r) {
			out = append(out, copyRecipient(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func copyRecipient(r *domain.Recipient) domain.Recipient {
	cp := *r
	cp.SubstitutionData = cloneMap(r.SubstitutionData)
	return cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func timePtr(t time.Time) *time.Time { return &t }

// ---------------------------------------------------------------------------

type campaignRepo struct{ s *Store }

func (r campaignRepo) Get(_ context.Context, id string) (*domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r campaignRepo) SetStatus(_ context.Context, id string, status domain.CampaignStatus, ch campaign.StatusChange) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.Status = status
	if ch.StartedAt != nil && c.StartedAt == nil {
		c.StartedAt = timePtr(*ch.StartedAt)
	}
	if ch.CompletedAt != nil {
		c.CompletedAt = timePtr(*ch.CompletedAt)
	}
	c.FailureReason = ch.FailureReason
	c.UpdatedAt = r.s.now()
	return nil
}

func (r campaignRepo) IncrementMetrics(_ context.Context, id string, deltas map[domain.MetricName]int64) error {
	for name := range deltas {
		if !name.Valid() {
			return campaign.ErrInvalidMetric
		}
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.Metrics.Add(deltas)
	return nil
}

func (r campaignRepo) ListDueScheduled(_ context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range r.s.campaigns {
		if c.Status == domain.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r campaignRepo) Schedule(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.Status = domain.CampaignScheduled
	c.ScheduledAt = timePtr(at)
	c.UpdatedAt = r.s.now()
	return nil
}

func (r campaignRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.campaigns[id]; !ok {
		return campaign.ErrNotFound
	}
	delete(r.s.campaigns, id)
	for rid, rec := range r.s.recipients {
		if rec.CampaignID == id {
			delete(r.s.recipients, rid)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------

type recipientRepo struct{ s *Store }

func matches(rec *domain.Recipient, f campaign.RecipientFilter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if rec.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.SentSince != nil && (rec.SentAt == nil || rec.SentAt.Before(*f.SentSince)) {
		return false
	}
	for _, id := range f.ExcludeIDs {
		if rec.ID == id {
			return false
		}
	}
	return true
}

func (r recipientRepo) Next(_ context.Context, campaignID string, f campaign.RecipientFilter, limit int) ([]domain.Recipient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.sortedRecipients(campaignID, func(rec *domain.Recipient) bool { return matches(rec, f) }, limit), nil
}

func (r recipientRepo) Count(_ context.Context, campaignID string, f campaign.RecipientFilter) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, rec := range r.s.recipients {
		if rec.CampaignID == campaignID && matches(rec, f) {
			n++
		}
	}
	return n, nil
}

func (r recipientRepo) Update(_ context.Context, id string, u campaign.RecipientUpdate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.recipients[id]
	if !ok {
		return campaign.ErrRecipientNotFound
	}
	if u.Status != nil {
		rec.Status = *u.Status
	}
	if u.LastError != nil {
		rec.LastError = *u.LastError
	}
	if u.SentAt != nil {
		rec.SentAt = timePtr(*u.SentAt)
	}
	if u.IncrementAttempt {
		rec.SendAttempts++
	}
	rec.UpdatedAt = r.s.now()
	return nil
}

func (r recipientRepo) AssignTrackingToken(_ context.Context, id, token string) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.recipients[id]
	if !ok {
		return "", campaign.ErrRecipientNotFound
	}
	if rec.Metadata.TrackingToken == "" {
		rec.Metadata.TrackingToken = token
	}
	return rec.Metadata.TrackingToken, nil
}

func (r recipientRepo) FindByToken(_ context.Context, token string) (*domain.Recipient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if token == "" {
		return nil, campaign.ErrRecipientNotFound
	}
	for _, rec := range r.s.recipients {
		if rec.Metadata.TrackingToken == token {
			cp := copyRecipient(rec)
			return &cp, nil
		}
	}
	return nil, campaign.ErrRecipientNotFound
}

func (r recipientRepo) RecordOpen(_ context.Context, id string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.recipients[id]
	if !ok {
		return false, campaign.ErrRecipientNotFound
	}
	rec.OpenCount++
	if rec.OpenedAt != nil {
		return false, nil
	}
	rec.OpenedAt = timePtr(at)
	if rec.Status == domain.RecipientSent {
		rec.Status = domain.RecipientOpened
	}
	return true, nil
}

func (r recipientRepo) RecordClick(_ context.Context, id string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.recipients[id]
	if !ok {
		return false, campaign.ErrRecipientNotFound
	}
	rec.ClickCount++
	if rec.Status == domain.RecipientSent || rec.Status == domain.RecipientOpened {
		rec.Status = domain.RecipientClicked
	}
	if rec.ClickedAt != nil {
		return false, nil
	}
	rec.ClickedAt = timePtr(at)
	return true, nil
}

// ---------------------------------------------------------------------------

type accountRepo struct{ s *Store }

func (r accountRepo) Get(_ context.Context, id string) (*domain.EmailAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, campaign.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (r accountRepo) RecordSendOutcome(_ context.Context, id string, at time.Time, sendErr string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return campaign.ErrAccountNotFound
	}
	if sendErr == "" {
		a.LastSentAt = timePtr(at)
	}
	a.LastSMTPError = sendErr
	return nil
}

// ---------------------------------------------------------------------------

type eventRepo struct{ s *Store }

func (r eventRepo) Append(_ context.Context, ev *domain.CampaignEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = r.s.now()
	}
	cp := *ev
	cp.Payload = cloneMap(ev.Payload)
	r.s.events = append(r.s.events, cp)
	return nil
}
