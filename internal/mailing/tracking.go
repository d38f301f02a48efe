package mailing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// Tracker issues per-recipient tracking tokens, builds open/click URLs and
// records engagement. The first open and first click of a recipient are
// counted exactly once, no matter how many requests race.
type Tracker struct {
	recipients campaign.RecipientRepository
	campaigns  campaign.CampaignRepository
	events     campaign.EventRepository
	baseURL    string
	now        func() time.Time
}

// NewTracker creates a Tracker. baseURL is the public origin of the tracking
// endpoints; when empty no tracking URLs are produced.
func NewTracker(store campaign.Store, baseURL string) *Tracker {
	return &Tracker{
		recipients: store.Recipients(),
		campaigns:  store.Campaigns(),
		events:     store.Events(),
		baseURL:    strings.TrimRight(baseURL, "/"),
		now:        time.Now,
	}
}

// Enabled reports whether a public base URL is configured.
func (t *Tracker) Enabled() bool { return t.baseURL != "" }

// EnsureToken returns the recipient's tracking token, creating and persisting
// one if it has none. created is true only when this call stored the token.
func (t *Tracker) EnsureToken(ctx context.Context, r *domain.Recipient) (string, bool, error) {
	if r.Metadata.TrackingToken != "" {
		return r.Metadata.TrackingToken, false, nil
	}
	candidate := uuid.NewString()
	stored, err := t.recipients.AssignTrackingToken(ctx, r.ID, candidate)
	if err != nil {
		return "", false, fmt.Errorf("assign tracking token: %w", err)
	}
	r.Metadata.TrackingToken = stored
	return stored, stored == candidate, nil
}

// OpenPixelURL returns {base}/track/open/{token}.png, or "" when tracking
// is not configured.
func (t *Tracker) OpenPixelURL(token string) string {
	if t.baseURL == "" || token == "" {
		return ""
	}
	return t.baseURL + "/track/open/" + url.PathEscape(token) + ".png"
}

// ClickRedirectURL returns {base}/track/click/{token}, or "".
func (t *Tracker) ClickRedirectURL(token string) string {
	if t.baseURL == "" || token == "" {
		return ""
	}
	return t.baseURL + "/track/click/" + url.PathEscape(token)
}

// ClickURL is ClickRedirectURL with the destination attached.
func (t *Tracker) ClickURL(token, target string) string {
	base := t.ClickRedirectURL(token)
	if base == "" {
		return ""
	}
	return base + "?url=" + url.QueryEscape(target)
}

// InjectOpenPixel appends an invisible image pointing at pixelURL, before
// </body> when present. HTML that already references pixelURL is returned
// unchanged.
func InjectOpenPixel(html, pixelURL string) string {
	if pixelURL == "" || strings.Contains(html, pixelURL) {
		return html
	}
	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none" />`, pixelURL)
	if i := strings.LastIndex(strings.ToLower(html), "</body>"); i >= 0 {
		return html[:i] + pixel + html[i:]
	}
	return html + pixel
}

// RewriteLinks replaces absolute http(s) href targets with click redirects.
// Links already pointing at tracking endpoints are left alone.
func (t *Tracker) RewriteLinks(html, token string) string {
	if t.ClickRedirectURL(token) == "" {
		return html
	}
	var b strings.Builder
	rest := html
	for {
		start := strings.Index(rest, `href="http`)
		if start == -1 {
			break
		}
		start += len(`href="`)
		end := strings.Index(rest[start:], `"`)
		if end == -1 {
			break
		}
		target := rest[start : start+end]
		b.WriteString(rest[:start])
		if strings.Contains(target, "/track/") {
			b.WriteString(target)
		} else {
			b.WriteString(t.ClickURL(token, target))
		}
		rest = rest[start+end:]
	}
	b.WriteString(rest)
	return b.String()
}

// HandleOpen records an open for the recipient owning token. Only the first
// open emits an event and bumps the campaign's opened metric.
func (t *Tracker) HandleOpen(ctx context.Context, token string) error {
	r, err := t.recipients.FindByToken(ctx, token)
	if err != nil {
		return err
	}
	now := t.now()
	first, err := t.recipients.RecordOpen(ctx, r.ID, now)
	if err != nil {
		return fmt.Errorf("record open: %w", err)
	}
	if !first {
		return nil
	}
	t.recordFirst(ctx, r, domain.EventOpened, domain.MetricOpened, nil, now)
	return nil
}

// HandleClick records a click. Only the first click emits an event (carrying
// the target URL) and bumps the clicked metric.
func (t *Tracker) HandleClick(ctx context.Context, token, target string) error {
	r, err := t.recipients.FindByToken(ctx, token)
	if err != nil {
		return err
	}
	now := t.now()
	first, err := t.recipients.RecordClick(ctx, r.ID, now)
	if err != nil {
		return fmt.Errorf("record click: %w", err)
	}
	if !first {
		return nil
	}
	t.recordFirst(ctx, r, domain.EventClicked, domain.MetricClicked, map[string]any{"url": target}, now)
	return nil
}

func (t *Tracker) recordFirst(ctx context.Context, r *domain.Recipient, ev domain.EventType, metric domain.MetricName, payload map[string]any, at time.Time) {
	err := t.events.Append(ctx, &domain.CampaignEvent{
		CampaignID:  r.CampaignID,
		RecipientID: r.ID,
		EventType:   ev,
		Payload:     payload,
		OccurredAt:  at,
	})
	if err != nil {
		logger.Warn("tracking event append failed", "campaign_id", r.CampaignID, "event", string(ev), "error", err)
	}
	if err := t.campaigns.IncrementMetrics(ctx, r.CampaignID, map[domain.MetricName]int64{metric: 1}); err != nil {
		logger.Warn("tracking metric increment failed", "campaign_id", r.CampaignID, "metric", string(metric), "error", err)
	}
}

// IsUnknownToken reports whether err means the token matched no recipient.
func IsUnknownToken(err error) bool {
	return errors.Is(err, campaign.ErrRecipientNotFound)
}
