package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// CampaignRepo implements campaign.CampaignRepository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `
	id, owner_id, account_id, name, subject, from_name, COALESCE(reply_to, ''),
	html_content, text_content, status, scheduled_at, started_at, completed_at,
	COALESCE(failure_reason, ''), send_settings, metrics, created_at, updated_at`

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	var (
		c                             domain.Campaign
		html, text                    sql.NullString
		scheduled, started, completed sql.NullTime
		settings, metrics             []byte
	)
	err := row.Scan(
		&c.ID, &c.OwnerID, &c.AccountID, &c.Name, &c.Subject, &c.FromName, &c.ReplyTo,
		&html, &text, &c.Status, &scheduled, &started, &completed,
		&c.FailureReason, &settings, &metrics, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.HTMLContent = nullStringPtr(html)
	c.TextContent = nullStringPtr(text)
	c.ScheduledAt = nullTimePtr(scheduled)
	c.StartedAt = nullTimePtr(started)
	c.CompletedAt = nullTimePtr(completed)
	if err := decodeJSON(settings, &c.SendSettings, "send_settings"); err != nil {
		return nil, err
	}
	if err := decodeJSON(metrics, &c.Metrics, "metrics"); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) SetStatus(ctx context.Context, id string, status domain.CampaignStatus, ch campaign.StatusChange) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2,
		    started_at = COALESCE(started_at, $3),
		    completed_at = COALESCE($4, completed_at),
		    failure_reason = NULLIF($5, ''),
		    updated_at = NOW()
		WHERE id = $1
	`, id, string(status), ch.StartedAt, ch.CompletedAt, ch.FailureReason)
	if err != nil {
		return fmt.Errorf("set campaign status: %w", err)
	}
	return expectOneRow(res, campaign.ErrNotFound)
}

// IncrementMetrics adds deltas inside a single UPDATE so concurrent
// increments serialize on the row lock and none are lost.
func (r *CampaignRepo) IncrementMetrics(ctx context.Context, id string, deltas map[domain.MetricName]int64) error {
	if len(deltas) == 0 {
		return nil
	}
	names := make([]string, 0, len(deltas))
	for name := range deltas {
		if !name.Valid() {
			return fmt.Errorf("%w: %q", campaign.ErrInvalidMetric, name)
		}
		names = append(names, string(name))
	}
	sort.Strings(names)

	expr := "COALESCE(metrics, '{}'::jsonb)"
	args := []interface{}{id}
	for i, name := range names {
		// name is one of the fixed MetricName constants, never user input
		expr = fmt.Sprintf("jsonb_set(%s, '{%s}', to_jsonb(COALESCE((metrics->>'%s')::bigint, 0) + $%d::bigint))",
			expr, name, name, i+2)
		args = append(args, deltas[domain.MetricName(name)])
	}

	var q strings.Builder
	q.WriteString("UPDATE campaigns SET metrics = ")
	q.WriteString(expr)
	q.WriteString(", updated_at = NOW() WHERE id = $1")

	res, err := r.db.ExecContext(ctx, q.String(), args...)
	if err != nil {
		return fmt.Errorf("increment campaign metrics: %w", err)
	}
	return expectOneRow(res, campaign.ErrNotFound)
}

func (r *CampaignRepo) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE status = 'scheduled' AND scheduled_at IS NOT NULL AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) Schedule(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = 'scheduled', scheduled_at = $2, updated_at = NOW()
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("schedule campaign: %w", err)
	}
	return expectOneRow(res, campaign.ErrNotFound)
}

func (r *CampaignRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	return expectOneRow(res, campaign.ErrNotFound)
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
