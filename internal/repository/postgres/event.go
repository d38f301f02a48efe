package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-dispatch/internal/domain"
)

// EventRepo implements campaign.EventRepository against PostgreSQL.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed event repository.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// Append inserts ev, filling in ID and OccurredAt when unset.
func (r *EventRepo) Append(ctx context.Context, ev *domain.CampaignEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	payload := []byte("{}")
	if ev.Payload != nil {
		b, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("encode event payload: %w", err)
		}
		payload = b
	}

	var recipientID sql.NullString
	if ev.RecipientID != "" {
		recipientID = sql.NullString{String: ev.RecipientID, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_events (id, campaign_id, recipient_id, event_type, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.ID, ev.CampaignID, recipientID, string(ev.EventType), payload, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert campaign event: %w", err)
	}
	return nil
}
