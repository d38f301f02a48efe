package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
	"github.com/lib/pq"
)

// RecipientRepo implements campaign.RecipientRepository against PostgreSQL.
type RecipientRepo struct{ db *sql.DB }

// NewRecipientRepo creates a Postgres-backed recipient repository.
func NewRecipientRepo(db *sql.DB) *RecipientRepo { return &RecipientRepo{db: db} }

const recipientColumns = `
	id, campaign_id, email, COALESCE(name, ''), status, send_attempts, COALESCE(last_error, ''),
	sent_at, delivered_at, opened_at, clicked_at, bounced_at, unsubscribed_at,
	open_count, click_count, metadata, substitution_data, created_at, updated_at`

func scanRecipient(row rowScanner) (*domain.Recipient, error) {
	var (
		r                                domain.Recipient
		sent, delivered, opened, clicked sql.NullTime
		bounced, unsubscribed            sql.NullTime
		metadata, subs                   []byte
	)
	err := row.Scan(
		&r.ID, &r.CampaignID, &r.Email, &r.Name, &r.Status, &r.SendAttempts, &r.LastError,
		&sent, &delivered, &opened, &clicked, &bounced, &unsubscribed,
		&r.OpenCount, &r.ClickCount, &metadata, &subs, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.SentAt = nullTimePtr(sent)
	r.DeliveredAt = nullTimePtr(delivered)
	r.OpenedAt = nullTimePtr(opened)
	r.ClickedAt = nullTimePtr(clicked)
	r.BouncedAt = nullTimePtr(bounced)
	r.UnsubscribedAt = nullTimePtr(unsubscribed)
	if err := decodeJSON(metadata, &r.Metadata, "metadata"); err != nil {
		return nil, err
	}
	if err := decodeJSON(subs, &r.SubstitutionData, "substitution_data"); err != nil {
		return nil, err
	}
	return &r, nil
}

// whereFilter renders the WHERE clause for f, numbering placeholders after
// the campaign id ($1).
func whereFilter(campaignID string, f campaign.RecipientFilter) (string, []interface{}) {
	conditions := []string{"campaign_id = $1"}
	args := []interface{}{campaignID}
	argIdx := 2

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", argIdx))
		args = append(args, pq.Array(statuses))
		argIdx++
	}
	if f.SentSince != nil {
		conditions = append(conditions, fmt.Sprintf("sent_at >= $%d", argIdx))
		args = append(args, *f.SentSince)
		argIdx++
	}
	if len(f.ExcludeIDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("NOT (id = ANY($%d::uuid[]))", argIdx))
		args = append(args, pq.Array(f.ExcludeIDs))
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func (r *RecipientRepo) Next(ctx context.Context, campaignID string, f campaign.RecipientFilter, limit int) ([]domain.Recipient, error) {
	where, args := whereFilter(campaignID, f)
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM campaign_recipients %s ORDER BY created_at ASC, id ASC LIMIT $%d`,
		recipientColumns, where, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *RecipientRepo) Count(ctx context.Context, campaignID string, f campaign.RecipientFilter) (int, error) {
	where, args := whereFilter(campaignID, f)
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaign_recipients `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count recipients: %w", err)
	}
	return n, nil
}

func (r *RecipientRepo) Update(ctx context.Context, id string, u campaign.RecipientUpdate) error {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{id}
	argIdx := 2

	if u.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(*u.Status))
		argIdx++
	}
	if u.LastError != nil {
		sets = append(sets, fmt.Sprintf("last_error = NULLIF($%d, '')", argIdx))
		args = append(args, *u.LastError)
		argIdx++
	}
	if u.SentAt != nil {
		sets = append(sets, fmt.Sprintf("sent_at = $%d", argIdx))
		args = append(args, *u.SentAt)
	}
	if u.IncrementAttempt {
		sets = append(sets, "send_attempts = send_attempts + 1")
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE campaign_recipients SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("update recipient: %w", err)
	}
	return expectOneRow(res, campaign.ErrRecipientNotFound)
}

// AssignTrackingToken writes token only when none is stored, then reads back
// whichever token won.
func (r *RecipientRepo) AssignTrackingToken(ctx context.Context, id, token string) (string, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaign_recipients
		SET metadata = jsonb_set(COALESCE(metadata, '{}'::jsonb), '{tracking_token}', to_jsonb($2::text)),
		    updated_at = NOW()
		WHERE id = $1 AND COALESCE(metadata->>'tracking_token', '') = ''
	`, id, token)
	if err != nil {
		return "", fmt.Errorf("assign tracking token: %w", err)
	}

	var stored string
	err = r.db.QueryRowContext(ctx,
		`SELECT COALESCE(metadata->>'tracking_token', '') FROM campaign_recipients WHERE id = $1`, id).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return "", campaign.ErrRecipientNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read tracking token: %w", err)
	}
	return stored, nil
}

func (r *RecipientRepo) FindByToken(ctx context.Context, token string) (*domain.Recipient, error) {
	rec, err := scanRecipient(r.db.QueryRowContext(ctx,
		`SELECT `+recipientColumns+` FROM campaign_recipients WHERE metadata->>'tracking_token' = $1`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find recipient by token: %w", err)
	}
	return rec, nil
}

func (r *RecipientRepo) RecordOpen(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.recordEngagement(ctx, id, at, `
		UPDATE campaign_recipients
		SET open_count = open_count + 1,
		    opened_at = $2,
		    status = CASE WHEN status = 'sent' THEN 'opened' ELSE status END,
		    updated_at = NOW()
		WHERE id = $1 AND opened_at IS NULL
	`, `
		UPDATE campaign_recipients
		SET open_count = open_count + 1, updated_at = NOW()
		WHERE id = $1
	`)
}

func (r *RecipientRepo) RecordClick(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.recordEngagement(ctx, id, at, `
		UPDATE campaign_recipients
		SET click_count = click_count + 1,
		    clicked_at = $2,
		    status = CASE WHEN status IN ('sent', 'opened') THEN 'clicked' ELSE status END,
		    updated_at = NOW()
		WHERE id = $1 AND clicked_at IS NULL
	`, `
		UPDATE campaign_recipients
		SET click_count = click_count + 1,
		    status = CASE WHEN status IN ('sent', 'opened') THEN 'clicked' ELSE status END,
		    updated_at = NOW()
		WHERE id = $1
	`)
}

// recordEngagement runs the first-time statement, guarded by "<column> IS NULL",
// and falls back to a plain counter bump when another request got there first.
func (r *RecipientRepo) recordEngagement(ctx context.Context, id string, at time.Time, firstQuery, repeatQuery string) (bool, error) {
	res, err := r.db.ExecContext(ctx, firstQuery, id, at)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, err
	} else if n == 1 {
		return true, nil
	}

	res, err = r.db.ExecContext(ctx, repeatQuery, id)
	if err != nil {
		return false, err
	}
	return false, expectOneRow(res, campaign.ErrRecipientNotFound)
}
