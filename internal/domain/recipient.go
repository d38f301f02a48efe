package domain

import (
	"strings"
	"time"
)

// RecipientStatus enumerates the delivery lifecycle of one campaign recipient.
type RecipientStatus string

const (
	RecipientPending      RecipientStatus = "pending"
	RecipientQueued       RecipientStatus = "queued"
	RecipientSending      RecipientStatus = "sending"
	RecipientSent         RecipientStatus = "sent"
	RecipientDelivered    RecipientStatus = "delivered"
	RecipientFailed       RecipientStatus = "failed"
	RecipientOpened       RecipientStatus = "opened"
	RecipientClicked      RecipientStatus = "clicked"
	RecipientBounced      RecipientStatus = "bounced"
	RecipientUnsubscribed RecipientStatus = "unsubscribed"
)

var (
	// SendableStatuses are picked up by a dispatch run.
	SendableStatuses = []RecipientStatus{RecipientPending, RecipientQueued, RecipientFailed}
	// OutstandingStatuses still need work when a run finishes.
	OutstandingStatuses = []RecipientStatus{RecipientPending, RecipientQueued, RecipientSending}
	// CountedSentStatuses count toward hourly/daily caps.
	CountedSentStatuses = []RecipientStatus{RecipientSent, RecipientDelivered, RecipientOpened, RecipientClicked}
)

// Recipient is one email address targeted by a campaign.
type Recipient struct {
	ID               string            `json:"id" db:"id"`
	CampaignID       string            `json:"campaign_id" db:"campaign_id"`
	Email            string            `json:"email" db:"email"`
	Name             string            `json:"name,omitempty" db:"name"`
	Status           RecipientStatus   `json:"status" db:"status"`
	SendAttempts     int               `json:"send_attempts" db:"send_attempts"`
	LastError        string            `json:"last_error,omitempty" db:"last_error"`
	SentAt           *time.Time        `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt      *time.Time        `json:"delivered_at,omitempty" db:"delivered_at"`
	OpenedAt         *time.Time        `json:"opened_at,omitempty" db:"opened_at"`
	ClickedAt        *time.Time        `json:"clicked_at,omitempty" db:"clicked_at"`
	BouncedAt        *time.Time        `json:"bounced_at,omitempty" db:"bounced_at"`
	UnsubscribedAt   *time.Time        `json:"unsubscribed_at,omitempty" db:"unsubscribed_at"`
	OpenCount        int               `json:"open_count" db:"open_count"`
	ClickCount       int               `json:"click_count" db:"click_count"`
	Metadata         RecipientMetadata `json:"metadata" db:"metadata"`
	SubstitutionData map[string]any    `json:"substitution_data,omitempty" db:"substitution_data"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`
}

// RecipientMetadata is the typed part of the recipient metadata document.
type RecipientMetadata struct {
	TrackingToken string `json:"tracking_token,omitempty"`
}

// builtinSubstitutions are always supplied by the recipient itself.
var builtinSubstitutions = map[string]bool{
	"email":          true,
	"recipientemail": true,
	"name":           true,
	"recipientname":  true,
}

// Substitutions merges the recipient's substitution data with the built-in
// email/name variables. Built-ins take precedence: user keys that equal a
// built-in ignoring case are dropped.
func (r *Recipient) Substitutions() map[string]any {
	out := make(map[string]any, len(r.SubstitutionData)+4)
	for k, v := range r.SubstitutionData {
		if builtinSubstitutions[strings.ToLower(k)] {
			continue
		}
		out[k] = v
	}
	out["email"] = r.Email
	out["recipientEmail"] = r.Email
	out["name"] = r.Name
	out["recipientName"] = r.Name
	return out
}

// Engaged reports whether the recipient has opened or clicked.
func (s RecipientStatus) Engaged() bool {
	return s == RecipientOpened || s == RecipientClicked
}
