package domain

import "time"

// EventType enumerates CampaignEvent kinds.
type EventType string

const (
	EventSent         EventType = "sent"
	EventFailed       EventType = "failed"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventBounced      EventType = "bounced"
	EventUnsubscribed EventType = "unsubscribed"
)

// CampaignEvent is an append-only record of something that happened to a
// recipient of a campaign.
type CampaignEvent struct {
	ID          string         `json:"id" db:"id"`
	CampaignID  string         `json:"campaign_id" db:"campaign_id"`
	RecipientID string         `json:"recipient_id" db:"recipient_id"`
	EventType   EventType      `json:"event_type" db:"event_type"`
	Payload     map[string]any `json:"payload,omitempty" db:"payload"`
	OccurredAt  time.Time      `json:"occurred_at" db:"occurred_at"`
}
