package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

// Valid reports whether s is a known campaign status.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignScheduled, CampaignSending, CampaignPaused, CampaignCompleted, CampaignFailed:
		return true
	}
	return false
}

// Campaign is a single email blast with its content and pacing settings.
type Campaign struct {
	ID            string         `json:"id" db:"id"`
	OwnerID       string         `json:"owner_id" db:"owner_id"`
	AccountID     string         `json:"account_id" db:"account_id"`
	Name          string         `json:"name" db:"name"`
	Subject       string         `json:"subject" db:"subject"`
	FromName      string         `json:"from_name" db:"from_name"`
	ReplyTo       string         `json:"reply_to,omitempty" db:"reply_to"`
	HTMLContent   *string        `json:"html_content,omitempty" db:"html_content"`
	TextContent   *string        `json:"text_content,omitempty" db:"text_content"`
	Status        CampaignStatus `json:"status" db:"status"`
	ScheduledAt   *time.Time     `json:"scheduled_at,omitempty" db:"scheduled_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	FailureReason string         `json:"failure_reason,omitempty" db:"failure_reason"`
	SendSettings  SendSettings   `json:"send_settings" db:"send_settings"`
	Metrics       Metrics        `json:"metrics" db:"metrics"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignFailed
}

const (
	DefaultBatchSize       = 50
	MaxBatchSize           = 500
	DefaultIntervalSeconds = 60
)

// SendSettings holds per-campaign pacing. A nil field means "not configured".
type SendSettings struct {
	BatchSize       *int `json:"batch_size,omitempty"`
	IntervalSeconds *int `json:"interval_seconds,omitempty"`
	HourlyCap       *int `json:"hourly_cap,omitempty"`
	DailyCap        *int `json:"daily_cap,omitempty"`
}

// Pacing is the resolved form of SendSettings used by the dispatcher.
// A nil cap means unlimited.
type Pacing struct {
	BatchSize int
	Interval  time.Duration
	HourlyCap *int
	DailyCap  *int
}

// Resolve applies defaults: batch size 50 clamped to [1, 500], interval 60s,
// caps falling back to the account limits and then to unlimited.
func (s SendSettings) Resolve(account *EmailAccount) Pacing {
	p := Pacing{
		BatchSize: DefaultBatchSize,
		Interval:  DefaultIntervalSeconds * time.Second,
		HourlyCap: s.HourlyCap,
		DailyCap:  s.DailyCap,
	}
	if s.BatchSize != nil {
		p.BatchSize = *s.BatchSize
	}
	if p.BatchSize < 1 {
		p.BatchSize = 1
	}
	if p.BatchSize > MaxBatchSize {
		p.BatchSize = MaxBatchSize
	}
	if s.IntervalSeconds != nil {
		p.Interval = time.Duration(max(*s.IntervalSeconds, 0)) * time.Second
	}
	if account != nil {
		if p.HourlyCap == nil {
			p.HourlyCap = account.HourlyLimit
		}
		if p.DailyCap == nil {
			p.DailyCap = account.DailyLimit
		}
	}
	return p
}

// MetricName identifies a counter inside Metrics.
type MetricName string

const (
	MetricSent         MetricName = "sent"
	MetricDelivered    MetricName = "delivered"
	MetricOpened       MetricName = "opened"
	MetricClicked      MetricName = "clicked"
	MetricBounced      MetricName = "bounced"
	MetricFailed       MetricName = "failed"
	MetricUnsubscribed MetricName = "unsubscribed"
	MetricQueued       MetricName = "queued"
)

// Valid reports whether m names a Metrics counter.
func (m MetricName) Valid() bool {
	switch m {
	case MetricSent, MetricDelivered, MetricOpened, MetricClicked,
		MetricBounced, MetricFailed, MetricUnsubscribed, MetricQueued:
		return true
	}
	return false
}

// Metrics are the aggregate campaign counters. They only grow.
type Metrics struct {
	Sent         int64 `json:"sent"`
	Delivered    int64 `json:"delivered"`
	Opened       int64 `json:"opened"`
	Clicked      int64 `json:"clicked"`
	Bounced      int64 `json:"bounced"`
	Failed       int64 `json:"failed"`
	Unsubscribed int64 `json:"unsubscribed"`
	Queued       int64 `json:"queued"`
}

// Add applies deltas in place. Unknown names are ignored.
func (m *Metrics) Add(deltas map[MetricName]int64) {
	for name, d := range deltas {
		switch name {
		case MetricSent:
			m.Sent += d
		case MetricDelivered:
			m.Delivered += d
		case MetricOpened:
			m.Opened += d
		case MetricClicked:
			m.Clicked += d
		case MetricBounced:
			m.Bounced += d
		case MetricFailed:
			m.Failed += d
		case MetricUnsubscribed:
			m.Unsubscribed += d
		case MetricQueued:
			m.Queued += d
		}
	}
}
