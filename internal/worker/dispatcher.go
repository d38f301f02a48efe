package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/mailing"
	"github.com/ignite/campaign-dispatch/internal/pkg/distlock"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
	"github.com/ignite/campaign-dispatch/internal/service/sending"
)

// =============================================================================
// CAMPAIGN DISPATCHER
// =============================================================================
// Each dispatched campaign gets one background loop that sends recipients in
// batches, honouring hourly/daily caps and the per-campaign pacing interval.
//
// A loop stops when:
// - no sendable recipients remain (completed, or failed if some are stuck)
// - a cap is reached (paused; a later dispatch resumes it)
// - a stop is requested (paused)
// - setup fails: account, credentials or transport verification (failed)
//
// Stop requests are cooperative and only observed between recipients, at the
// top of a batch and before the pacing sleep. A message in flight is never
// interrupted.

const dispatchLockPrefix = "dispatch:campaign:"

// Decrypter opens stored account passwords.
type Decrypter interface {
	Decrypt(payload string) (string, error)
}

type loopOutcome int

const (
	outcomeDrained loopOutcome = iota
	outcomeStopped
	outcomeCapped
	outcomeAborted
)

// Dispatcher implements campaign.Dispatcher.
type Dispatcher struct {
	campaigns  campaign.CampaignRepository
	recipients campaign.RecipientRepository
	accounts   campaign.AccountRepository
	events     campaign.EventRepository
	cipher     Decrypter
	transports sending.TransportFactory
	tracker    *mailing.Tracker
	caps       *CapChecker
	registry   *Registry

	locks        distlock.Factory // optional
	lockTTL      time.Duration
	rewriteLinks bool

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup
	now        func() time.Time
}

// NewDispatcher creates a dispatcher. tracker may be nil to disable tracking.
func NewDispatcher(store campaign.Store, cipher Decrypter, transports sending.TransportFactory, tracker *mailing.Tracker) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		campaigns:  store.Campaigns(),
		recipients: store.Recipients(),
		accounts:   store.Accounts(),
		events:     store.Events(),
		cipher:     cipher,
		transports: transports,
		tracker:    tracker,
		caps:       NewCapChecker(store.Recipients()),
		registry:   NewRegistry(),
		baseCtx:    ctx,
		cancelBase: cancel,
		now:        time.Now,
	}
}

// SetLockFactory enables a cross-process lock per campaign. Locks that
// expire are extended after every batch with ttl.
func (d *Dispatcher) SetLockFactory(f distlock.Factory, ttl time.Duration) {
	d.locks = f
	d.lockTTL = ttl
}

// SetRewriteLinks turns click-redirect rewriting of HTML links on or off.
func (d *Dispatcher) SetRewriteLinks(on bool) { d.rewriteLinks = on }

// Dispatch implements campaign.Dispatcher. The registry entry exists before
// this returns, so a second call for the same campaign always sees it.
func (d *Dispatcher) Dispatch(ctx context.Context, campaignID string, force bool) (campaign.DispatchResult, error) {
	ctrl, ok := d.registry.TryStart(d.baseCtx, campaignID)
	if !ok {
		return campaign.DispatchAlreadyRunning, nil
	}

	var lock distlock.DistLock
	if d.locks != nil {
		lock = d.locks(dispatchLockPrefix + campaignID)
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			d.registry.Remove(ctrl)
			return "", fmt.Errorf("acquire dispatch lock: %w", err)
		}
		if !acquired {
			d.registry.Remove(ctrl)
			return campaign.DispatchAlreadyRunning, nil
		}
	}

	d.wg.Add(1)
	go d.run(ctrl, force, lock)
	return campaign.DispatchStarted, nil
}

// Stop implements campaign.Dispatcher.
func (d *Dispatcher) Stop(campaignID string) bool { return d.registry.Stop(campaignID) }

// Running implements campaign.Dispatcher.
func (d *Dispatcher) Running(campaignID string) bool { return d.registry.Running(campaignID) }

// Active returns the number of live loops.
func (d *Dispatcher) Active() int { return d.registry.Len() }

// Wait blocks until every loop has exited.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Shutdown stops all loops and waits for them, up to ctx.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.cancelBase()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w (%d loops still running)", ctx.Err(), d.registry.Len())
	}
}

func (d *Dispatcher) run(ctrl *controller, force bool, lock distlock.DistLock) {
	defer d.wg.Done()
	// store and transport I/O must survive a stop request
	ioctx := context.WithoutCancel(ctrl.ctx)

	defer func() {
		if lock != nil {
			if err := lock.Release(ioctx); err != nil {
				log.Printf("[Dispatcher] Campaign %s: lock release failed: %v", ctrl.campaignID, err)
			}
		}
		d.registry.Remove(ctrl)
	}()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Dispatcher] Campaign %s: panic: %v", ctrl.campaignID, r)
			d.finish(ioctx, ctrl.campaignID, domain.CampaignFailed, fmt.Sprintf("internal error: %v", r))
		}
	}()

	d.execute(ioctx, ctrl, force, lock)
}

func (d *Dispatcher) execute(ctx context.Context, ctrl *controller, force bool, lock distlock.DistLock) {
	id := ctrl.campaignID

	c, err := d.campaigns.Get(ctx, id)
	if err != nil {
		log.Printf("[Dispatcher] Campaign %s: load failed: %v", id, err)
		return
	}
	if !force && (c.Status == domain.CampaignCompleted || c.Status == domain.CampaignSending) {
		log.Printf("[Dispatcher] Campaign %s: status %s, skipping unforced dispatch", id, c.Status)
		return
	}

	account, transport, err := d.prepareTransport(ctx, c)
	if err != nil {
		log.Printf("[Dispatcher] Campaign %s: %v", id, err)
		d.finish(ctx, id, domain.CampaignFailed, err.Error())
		return
	}

	started := d.now()
	if err := d.campaigns.SetStatus(ctx, id, domain.CampaignSending, campaign.StatusChange{StartedAt: &started}); err != nil {
		log.Printf("[Dispatcher] Campaign %s: mark sending failed: %v", id, err)
		return
	}

	pacing := c.SendSettings.Resolve(account)
	log.Printf("[Dispatcher] Campaign %s: sending (batch=%d interval=%s)", id, pacing.BatchSize, pacing.Interval)

	outcome, reason := d.loop(ctx, ctrl, c, account, transport, pacing, lock)

	switch outcome {
	case outcomeCapped, outcomeStopped:
		d.finish(ctx, id, domain.CampaignPaused, "")
	case outcomeAborted:
		d.finish(ctx, id, domain.CampaignFailed, reason)
	default:
		remaining, err := d.recipients.Count(ctx, id, campaign.RecipientFilter{Statuses: domain.OutstandingStatuses})
		switch {
		case err != nil:
			d.finish(ctx, id, domain.CampaignFailed, fmt.Sprintf("count remaining recipients: %v", err))
		case remaining == 0:
			d.finish(ctx, id, domain.CampaignCompleted, d.leftFailed(ctx, id))
		default:
			d.finish(ctx, id, domain.CampaignFailed, fmt.Sprintf("%d recipients left unsent", remaining))
		}
	}
}

// leftFailed describes recipients that stayed failed after a completed run.
// They are retried by the next forced dispatch.
func (d *Dispatcher) leftFailed(ctx context.Context, id string) string {
	failed, err := d.recipients.Count(ctx, id, campaign.RecipientFilter{Statuses: []domain.RecipientStatus{domain.RecipientFailed}})
	if err != nil {
		log.Printf("[Dispatcher] Campaign %s: count failed recipients: %v", id, err)
		return ""
	}
	if failed == 0 {
		return ""
	}
	return fmt.Sprintf("%d recipients left failed", failed)
}

// prepareTransport resolves the account, decrypts its password and verifies
// the transport before anything is sent.
func (d *Dispatcher) prepareTransport(ctx context.Context, c *domain.Campaign) (*domain.EmailAccount, sending.Transport, error) {
	account, err := d.accounts.Get(ctx, c.AccountID)
	if err != nil {
		return nil, nil, fmt.Errorf("load email account: %w", err)
	}
	password, err := d.cipher.Decrypt(account.EncryptedPassword)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypt account credentials: %w", err)
	}
	transport, err := d.transports.TransportFor(ctx, account, password)
	if err != nil {
		return nil, nil, fmt.Errorf("build transport: %w", err)
	}
	if err := transport.Verify(ctx); err != nil {
		if rerr := d.accounts.RecordSendOutcome(ctx, account.ID, d.now(), err.Error()); rerr != nil {
			log.Printf("[Dispatcher] Account %s: record verify error failed: %v", account.ID, rerr)
		}
		return nil, nil, fmt.Errorf("verify transport: %w", err)
	}
	return account, transport, nil
}

func (d *Dispatcher) loop(ctx context.Context, ctrl *controller, c *domain.Campaign, account *domain.EmailAccount,
	transport sending.Transport, pacing domain.Pacing, lock distlock.DistLock) (loopOutcome, string) {

	// failed recipients stay failed until the next run
	var failedThisRun []string

	for {
		if ctrl.stopped() {
			return outcomeStopped, ""
		}

		limit := pacing.BatchSize
		for _, w := range []struct {
			cap    *int
			window time.Duration
		}{{pacing.DailyCap, DailyWindow}, {pacing.HourlyCap, HourlyWindow}} {
			remaining, limited := d.caps.Remaining(ctx, c.ID, w.cap, w.window)
			if !limited {
				continue
			}
			if remaining <= 0 {
				log.Printf("[Dispatcher] Campaign %s: %s cap of %d reached, pausing", c.ID, w.window, *w.cap)
				return outcomeCapped, ""
			}
			limit = min(limit, remaining)
		}

		batch, err := d.recipients.Next(ctx, c.ID, campaign.RecipientFilter{
			Statuses:   domain.SendableStatuses,
			ExcludeIDs: failedThisRun,
		}, limit)
		if err != nil {
			return outcomeAborted, fmt.Sprintf("fetch recipients: %v", err)
		}
		if len(batch) == 0 {
			return outcomeDrained, ""
		}

		for i := range batch {
			if ctrl.stopped() {
				return outcomeStopped, ""
			}
			if !d.sendOne(ctx, c, account, transport, &batch[i]) {
				failedThisRun = append(failedThisRun, batch[i].ID)
			}
		}

		if ext, ok := lock.(distlock.Extender); ok {
			if err := ext.Extend(ctx, d.lockTTL); err != nil {
				log.Printf("[Dispatcher] Campaign %s: dispatch lock lost: %v", c.ID, err)
				if errors.Is(err, distlock.ErrNotHeld) {
					return outcomeStopped, ""
				}
			}
		}

		if ctrl.stopped() {
			return outcomeStopped, ""
		}
		if pacing.Interval > 0 && !sleepCtx(ctrl.ctx, pacing.Interval) {
			return outcomeStopped, ""
		}
	}
}

// sendOne renders and sends one recipient and records the outcome. It
// returns false when the send failed.
func (d *Dispatcher) sendOne(ctx context.Context, c *domain.Campaign, account *domain.EmailAccount, transport sending.Transport, r *domain.Recipient) bool {
	sendingStatus := domain.RecipientSending
	if err := d.recipients.Update(ctx, r.ID, campaign.RecipientUpdate{Status: &sendingStatus, IncrementAttempt: true}); err != nil {
		logger.Warn("mark recipient sending failed", "campaign_id", c.ID, "recipient_id", r.ID, "error", err)
		return false
	}

	msg := d.compose(ctx, c, account, r)
	sendErr := transport.Send(ctx, msg)
	now := d.now()

	if sendErr == nil {
		sent, noErr := domain.RecipientSent, ""
		if err := d.recipients.Update(ctx, r.ID, campaign.RecipientUpdate{Status: &sent, SentAt: &now, LastError: &noErr}); err != nil {
			logger.Error("mark recipient sent failed", "campaign_id", c.ID, "recipient_id", r.ID, "error", err)
		}
		d.record(ctx, c.ID, r.ID, domain.EventSent, domain.MetricSent, nil, now)
		if err := d.accounts.RecordSendOutcome(ctx, account.ID, now, ""); err != nil {
			logger.Warn("record account send failed", "account_id", account.ID, "error", err)
		}
		logger.Debug("recipient sent", "campaign_id", c.ID, "recipient_email", r.Email)
		return true
	}

	reason := sendErr.Error()
	failed := domain.RecipientFailed
	if err := d.recipients.Update(ctx, r.ID, campaign.RecipientUpdate{Status: &failed, LastError: &reason}); err != nil {
		logger.Error("mark recipient failed failed", "campaign_id", c.ID, "recipient_id", r.ID, "error", err)
	}
	d.record(ctx, c.ID, r.ID, domain.EventFailed, domain.MetricFailed, map[string]any{"error": reason}, now)
	if err := d.accounts.RecordSendOutcome(ctx, account.ID, now, reason); err != nil {
		logger.Warn("record account error failed", "account_id", account.ID, "error", err)
	}
	logger.Warn("recipient send failed", "campaign_id", c.ID, "recipient_email", r.Email, "error", reason)
	return false
}

func (d *Dispatcher) compose(ctx context.Context, c *domain.Campaign, account *domain.EmailAccount, r *domain.Recipient) *domain.EmailMessage {
	subs := r.Substitutions()
	msg := &domain.EmailMessage{
		FromName:  c.FromName,
		FromEmail: account.Email,
		To:        r.Email,
		ReplyTo:   firstNonEmpty(c.ReplyTo, account.ReplyTo, account.Email),
		Subject:   mailing.Render(c.Subject, subs),
		Headers:   map[string]string{"X-Campaign-ID": c.ID},
	}
	if text := mailing.RenderOptional(c.TextContent, subs); text != nil {
		msg.TextBody = *text
	}

	token := d.ensureToken(ctx, c, r)
	html := mailing.RenderOptional(c.HTMLContent, subs)
	if html == nil {
		return msg
	}
	msg.HTMLBody = *html
	if token == "" {
		return msg
	}
	if d.rewriteLinks {
		msg.HTMLBody = d.tracker.RewriteLinks(msg.HTMLBody, token)
	}
	msg.HTMLBody = mailing.InjectOpenPixel(msg.HTMLBody, d.tracker.OpenPixelURL(token))
	return msg
}

// ensureToken gives every recipient a tracking token before its send,
// whether or not the message carries HTML. It returns "" without a tracker
// or when the token could not be stored.
func (d *Dispatcher) ensureToken(ctx context.Context, c *domain.Campaign, r *domain.Recipient) string {
	if d.tracker == nil {
		return ""
	}
	token, _, err := d.tracker.EnsureToken(ctx, r)
	if err != nil {
		logger.Warn("tracking token unavailable, sending untracked", "campaign_id", c.ID, "recipient_id", r.ID, "error", err)
		return ""
	}
	return token
}

// record appends the event and bumps the metric. Both are best effort.
func (d *Dispatcher) record(ctx context.Context, campaignID, recipientID string, ev domain.EventType, metric domain.MetricName, payload map[string]any, at time.Time) {
	if err := d.events.Append(ctx, &domain.CampaignEvent{
		CampaignID:  campaignID,
		RecipientID: recipientID,
		EventType:   ev,
		Payload:     payload,
		OccurredAt:  at,
	}); err != nil {
		logger.Warn("append campaign event failed", "campaign_id", campaignID, "event", string(ev), "error", err)
	}
	if err := d.campaigns.IncrementMetrics(ctx, campaignID, map[domain.MetricName]int64{metric: 1}); err != nil {
		logger.Warn("increment campaign metric failed", "campaign_id", campaignID, "metric", string(metric), "error", err)
	}
}

func (d *Dispatcher) finish(ctx context.Context, id string, status domain.CampaignStatus, reason string) {
	change := campaign.StatusChange{FailureReason: reason}
	if status == domain.CampaignCompleted {
		now := d.now()
		change.CompletedAt = &now
	}
	if err := d.campaigns.SetStatus(ctx, id, status, change); err != nil {
		log.Printf("[Dispatcher] Campaign %s: set status %s failed: %v", id, status, err)
		return
	}
	if reason != "" {
		log.Printf("[Dispatcher] Campaign %s: %s (%s)", id, status, reason)
	} else {
		log.Printf("[Dispatcher] Campaign %s: %s", id, status)
	}
}

// sleepCtx waits for d or until ctx is done. It returns false if ctx ended.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
