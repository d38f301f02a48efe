package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// AccountRepo implements campaign.AccountRepository against PostgreSQL.
type AccountRepo struct{ db *sql.DB }

// NewAccountRepo creates a Postgres-backed account repository.
func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{db: db} }

func (r *AccountRepo) Get(ctx context.Context, id string) (*domain.EmailAccount, error) {
	var (
		a               domain.EmailAccount
		hourly, daily   sql.NullInt64
		lastSent        sql.NullTime
		region, replyTo sql.NullString
		lastError       sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, email, provider, smtp_host, smtp_port, smtp_secure, smtp_username,
		       smtp_password_encrypted, ses_region, reply_to, hourly_limit, daily_limit,
		       last_sent_at, last_smtp_error
		FROM email_accounts WHERE id = $1
	`, id).Scan(
		&a.ID, &a.OwnerID, &a.Email, &a.Provider, &a.SMTPHost, &a.SMTPPort, &a.SMTPSecure, &a.SMTPUsername,
		&a.EncryptedPassword, &region, &replyTo, &hourly, &daily,
		&lastSent, &lastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get email account: %w", err)
	}
	a.SESRegion = region.String
	a.ReplyTo = replyTo.String
	a.LastSMTPError = lastError.String
	a.HourlyLimit = nullIntPtr(hourly)
	a.DailyLimit = nullIntPtr(daily)
	a.LastSentAt = nullTimePtr(lastSent)
	return &a, nil
}

func (r *AccountRepo) RecordSendOutcome(ctx context.Context, id string, at time.Time, sendErr string) error {
	var (
		res sql.Result
		err error
	)
	if sendErr == "" {
		res, err = r.db.ExecContext(ctx, `
			UPDATE email_accounts SET last_sent_at = $2, last_smtp_error = NULL, updated_at = NOW()
			WHERE id = $1
		`, id, at)
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE email_accounts SET last_smtp_error = $2, updated_at = NOW()
			WHERE id = $1
		`, id, sendErr)
	}
	if err != nil {
		return fmt.Errorf("record send outcome: %w", err)
	}
	return expectOneRow(res, campaign.ErrAccountNotFound)
}
