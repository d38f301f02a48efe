package campaign

import (
	"context"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// CampaignRepository is the campaign half of the store.
// Implementations must be safe for concurrent use.
type CampaignRepository interface {
	// Get returns ErrNotFound if the campaign doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// SetStatus moves a campaign to status. A non-nil StartedAt is only
	// written when the campaign has none yet.
	SetStatus(ctx context.Context, id string, status domain.CampaignStatus, change StatusChange) error

	// IncrementMetrics adds the deltas atomically. Concurrent increments
	// must never be lost.
	IncrementMetrics(ctx context.Context, id string, deltas map[domain.MetricName]int64) error

	// ListDueScheduled returns scheduled campaigns whose scheduled_at is at
	// or before now, oldest first.
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)

	// Schedule sets status scheduled and the scheduled_at time.
	Schedule(ctx context.Context, id string, at time.Time) error

	Delete(ctx context.Context, id string) error
}

// StatusChange carries the optional timestamp/reason columns of a status move.
type StatusChange struct {
	StartedAt     *time.Time
	CompletedAt   *time.Time
	FailureReason string
}

// RecipientFilter selects recipients of one campaign.
type RecipientFilter struct {
	Statuses   []domain.RecipientStatus
	SentSince  *time.Time
	ExcludeIDs []string
}

// RecipientUpdate holds the mutable delivery fields. Nil fields are left alone.
type RecipientUpdate struct {
	Status           *domain.RecipientStatus
	LastError        *string
	SentAt           *time.Time
	IncrementAttempt bool
}

// RecipientRepository is the recipient half of the store.
type RecipientRepository interface {
	// Next returns up to limit recipients matching filter, oldest first.
	Next(ctx context.Context, campaignID string, filter RecipientFilter, limit int) ([]domain.Recipient, error)

	Count(ctx context.Context, campaignID string, filter RecipientFilter) (int, error)

	Update(ctx context.Context, id string, u RecipientUpdate) error

	// AssignTrackingToken stores token only if the recipient has none and
	// returns the token that is stored afterwards.
	AssignTrackingToken(ctx context.Context, id, token string) (string, error)

	// FindByToken returns ErrRecipientNotFound for unknown tokens.
	FindByToken(ctx context.Context, token string) (*domain.Recipient, error)

	// RecordOpen increments open_count and, on the first open only, sets
	// opened_at and advances sent -> opened. first is true for exactly one
	// caller per recipient.
	RecordOpen(ctx context.Context, id string, at time.Time) (first bool, err error)

	// RecordClick increments click_count, advances sent/opened -> clicked and
	// sets clicked_at on the first click only.
	RecordClick(ctx context.Context, id string, at time.Time) (first bool, err error)
}

// AccountRepository reads sender accounts and records send outcomes.
type AccountRepository interface {
	// Get returns ErrAccountNotFound if the account doesn't exist.
	Get(ctx context.Context, id string) (*domain.EmailAccount, error)

	// RecordSendOutcome sets last_sent_at and clears last_smtp_error when
	// sendErr is empty, otherwise stores sendErr.
	RecordSendOutcome(ctx context.Context, id string, at time.Time, sendErr string) error
}

// EventRepository appends CampaignEvents.
type EventRepository interface {
	Append(ctx context.Context, ev *domain.CampaignEvent) error
}

// Store bundles every repository the dispatcher needs.
type Store interface {
	Campaigns() CampaignRepository
	Recipients() RecipientRepository
	Accounts() AccountRepository
	Events() EventRepository
}
