package worker

import (
	"context"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

const (
	HourlyWindow = time.Hour
	DailyWindow  = 24 * time.Hour
)

// CapChecker enforces per-campaign send caps over rolling windows by
// counting recipients already sent inside the window. Store errors fail open.
type CapChecker struct {
	recipients campaign.RecipientRepository
	now        func() time.Time
}

// NewCapChecker creates a CapChecker.
func NewCapChecker(recipients campaign.RecipientRepository) *CapChecker {
	return &CapChecker{recipients: recipients, now: time.Now}
}

// Exceeded reports whether the campaign has sent cap or more messages in the
// last window. A nil cap is never exceeded.
func (c *CapChecker) Exceeded(ctx context.Context, campaignID string, cap *int, window time.Duration) bool {
	remaining, limited := c.Remaining(ctx, campaignID, cap, window)
	return limited && remaining <= 0
}

// Remaining returns how many more sends the window allows. limited is false
// when there is no cap or the count could not be read.
func (c *CapChecker) Remaining(ctx context.Context, campaignID string, cap *int, window time.Duration) (int, bool) {
	if cap == nil {
		return 0, false
	}
	since := c.now().Add(-window)
	sent, err := c.recipients.Count(ctx, campaignID, campaign.RecipientFilter{
		Statuses:  domain.CountedSentStatuses,
		SentSince: &since,
	})
	if err != nil {
		logger.Warn("send cap check failed, allowing send",
			"campaign_id", campaignID, "window", window.String(), "error", err)
		return 0, false
	}
	return *cap - sent, true
}
