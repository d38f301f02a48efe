// Package postgres implements the campaign store on PostgreSQL using
// database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

//go:embed schema.sql
var Schema string

// Store implements campaign.Store.
type Store struct {
	campaigns  *CampaignRepo
	recipients *RecipientRepo
	accounts   *AccountRepo
	events     *EventRepo
}

// NewStore wires all repositories onto db.
func NewStore(db *sql.DB) *Store {
	return &Store{
		campaigns:  NewCampaignRepo(db),
		recipients: NewRecipientRepo(db),
		accounts:   NewAccountRepo(db),
		events:     NewEventRepo(db),
	}
}

func (s *Store) Campaigns() campaign.CampaignRepository   { return s.campaigns }
func (s *Store) Recipients() campaign.RecipientRepository { return s.recipients }
func (s *Store) Accounts() campaign.AccountRepository     { return s.accounts }
func (s *Store) Events() campaign.EventRepository         { return s.events }

// Migrate applies the embedded schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullIntPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

// decodeJSON unmarshals a jsonb column; empty or null leaves dst untouched.
func decodeJSON(raw []byte, dst any, what string) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}
