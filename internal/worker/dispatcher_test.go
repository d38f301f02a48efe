package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/mailing"
	"github.com/ignite/campaign-dispatch/internal/pkg/credentials"
	"github.com/ignite/campaign-dispatch/internal/pkg/distlock"
	"github.com/ignite/campaign-dispatch/internal/repository/memory"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
	"github.com/ignite/campaign-dispatch/internal/service/sending"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

type fakeTransport struct {
	mu         sync.Mutex
	verifyErr  error
	failFor    map[string]error
	sent       []*domain.EmailMessage
	verifyGate chan struct{}
	onSend     func(msg *domain.EmailMessage)
}

func (f *fakeTransport) Verify(ctx context.Context) error {
	if f.verifyGate != nil {
		<-f.verifyGate
	}
	return f.verifyErr
}

func (f *fakeTransport) Send(_ context.Context, msg *domain.EmailMessage) error {
	f.mu.Lock()
	err := f.failFor[msg.To]
	if err == nil {
		f.sent = append(f.sent, msg)
	}
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return err
}

func (f *fakeTransport) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		out = append(out, m.To)
	}
	return out
}

type fakeFactory struct {
	transport *fakeTransport
	password  string
}

func (f *fakeFactory) TransportFor(_ context.Context, _ *domain.EmailAccount, password string) (sending.Transport, error) {
	f.password = password
	return f.transport, nil
}

// failingRecipients lets a test break individual store calls.
type failingRecipients struct {
	campaign.RecipientRepository
	nextErr  error
	countErr error
}

func (f failingRecipients) Next(ctx context.Context, id string, filter campaign.RecipientFilter, limit int) ([]domain.Recipient, error) {
	if f.nextErr != nil {
		return nil, f.nextErr
	}
	return f.RecipientRepository.Next(ctx, id, filter, limit)
}

func (f failingRecipients) Count(ctx context.Context, id string, filter campaign.RecipientFilter) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.RecipientRepository.Count(ctx, id, filter)
}

type storeWithRecipients struct {
	*memory.Store
	recipients campaign.RecipientRepository
}

func (s storeWithRecipients) Recipients() campaign.RecipientRepository { return s.recipients }

// =============================================================================
// FIXTURE
// =============================================================================

func intPtr(v int) *int { return &v }

type dispatchFixture struct {
	store      *memory.Store
	dispatcher *Dispatcher
	transport  *fakeTransport
	factory    *fakeFactory
	recipients []domain.Recipient
}

func newDispatchFixture(t *testing.T, settings domain.SendSettings, n int) *dispatchFixture {
	t.Helper()
	cipher, err := credentials.NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	encrypted, err := cipher.Encrypt("s3cret")
	require.NoError(t, err)

	store := memory.NewStore()
	store.PutAccount(domain.EmailAccount{
		ID:                "a1",
		Email:             "news@acme.test",
		Provider:          domain.ProviderSMTP,
		SMTPHost:          "smtp.acme.test",
		EncryptedPassword: encrypted,
	})
	html := "<html><body>Hi {{ name }}</body></html>"
	store.PutCampaign(domain.Campaign{
		ID:           "c1",
		AccountID:    "a1",
		Name:         "Spring sale",
		Subject:      "Hello {{name}}",
		FromName:     "Acme",
		HTMLContent:  &html,
		Status:       domain.CampaignDraft,
		SendSettings: settings,
	})

	f := &dispatchFixture{store: store, transport: &fakeTransport{failFor: map[string]error{}}}
	for i := 1; i <= n; i++ {
		f.recipients = append(f.recipients, store.PutRecipient(domain.Recipient{
			CampaignID: "c1",
			Email:      fmt.Sprintf("user%d@example.com", i),
			Name:       fmt.Sprintf("User %d", i),
		}))
	}
	f.factory = &fakeFactory{transport: f.transport}
	tracker := mailing.NewTracker(store, "https://t.example.com")
	f.dispatcher = NewDispatcher(store, cipher, f.factory, tracker)
	return f
}

func (f *dispatchFixture) campaign(t *testing.T) *domain.Campaign {
	t.Helper()
	c, err := f.store.Campaigns().Get(context.Background(), "c1")
	require.NoError(t, err)
	return c
}

func (f *dispatchFixture) statuses() map[domain.RecipientStatus]int {
	out := map[domain.RecipientStatus]int{}
	for _, r := range f.store.RecipientsOf("c1") {
		out[r.Status]++
	}
	return out
}

func (f *dispatchFixture) dispatchAndWait(t *testing.T, force bool) {
	t.Helper()
	res, err := f.dispatcher.Dispatch(context.Background(), "c1", force)
	require.NoError(t, err)
	require.Equal(t, campaign.DispatchStarted, res)
	f.dispatcher.Wait()
}

// =============================================================================
// DISPATCH LOOP
// =============================================================================

func TestDispatch_AllRecipientsSent(t *testing.T) {
	f := newDispatchFixture(t, domain.SendSettings{BatchSize: intPtr(2), IntervalSeconds: intPtr(0)}, 5)

	f.dispatchAndWait(t, false)

	c := f.campaign(t)
	assert.Equal(t, domain.CampaignCompleted, c.Status)
	assert.Equal(t, int64(5), c.Metrics.Sent)
	assert.NotNil(t, c.StartedAt)
	assert.NotNil(t, c.CompletedAt)
	assert.Equal(t, map[domain.RecipientStatus]int{domain.RecipientSent: 5}, f.statuses())
	assert.Equal(t, "s3cret", f.factory.password)
	assert.False(t, f.dispatcher.Running("c1"))
	assert.Zero(t, f.dispatcher.Active())

	assert.Equal(t, []string{
		"user1@example.com", "user2@example.com", "user3@example.com", "user4@example.com", "user5@example.com",
	}, f.transport.sentTo())

	for _, r := range f.store.RecipientsOf("c1") {
		assert.NotNil(t, r.SentAt)
		assert.NotEmpty(t, r.Metadata.TrackingToken)
		assert.Equal(t, 1, r.SendAttempts)
	}

	first := f.transport.sent[0]
	assert.Equal(t, "Hello User 1", first.Subject)
	assert.Equal(t, "Acme", first.FromName)
	assert.Equal(t, "news@acme.test", first.FromEmail)
	assert.Equal(t, "news@acme.test", first.ReplyTo)
	assert.Contains(t, first.HTMLBody, "Hi User 1")
	assert.Contains(t, first.HTMLBody, "https://t.example.com/track/open/")
	assert.Empty(t, first.TextBody)

	events := f.store.EventLog()
	assert.Len(t, events, 5)
	for _, ev := range events {
		assert.Equal(t, domain.EventSent, ev.EventType)
	}

	acct, _ := f.store.Account("a1")
	assert.NotNil(t, acct.LastSentAt)
	assert.Empty(t, acct.LastSMTPError)
}

func TestDispatch_FailedRecipientDoesNotStopRun(t *testing.T) {
	f := newDispatchFixture(t, domain.SendSettings{BatchSize: intPtr(2), IntervalSeconds: intPtr(0)}, 5)
	f.transport.failFor["user3@example.com"] = errors.New("550 mailbox unavailable")

	f.dispatchAndWait(t, false)

	c := f.campaign(t)
	assert.Equal(t, domain.CampaignCompleted, c.Status)
	assert.Equal(t, int64(4), c.Metrics.Sent)
	assert.Equal(t, int64(1), c.Metrics.Failed)
	assert.Equal(t, "1 recipients left failed", c.FailureReason)

	r3, _ := f.store.Recipient(f.recipients[2].ID)
	assert.Equal(t, domain.RecipientFailed, r3.Status)
	assert.Contains(t, r3.LastError, "550 mailbox unavailable")
	assert.Equal(t, 1, r3.SendAttempts)

	var failedEvents []domain.CampaignEvent
	for _, ev := range f.store.EventLog() {
		if ev.EventType == domain.EventFailed {
			failedEvents = append(failedEvents, ev)
		}
	}
	require.Len(t, failedEvents, 1)
	assert.Equal(t, "550 mailbox unavailable", failedEvents[0].Payload["error"])

	acct, _ := f.store.Account("a1")
	assert.Empty(t, acct.LastSMTPError, "later successes clear the account error")

	// a later forced run retries the failed recipient
	delete(f.transport.failFor, "user3@example.com")
	f.dispatchAndWait(t, true)

	c = f.campaign(t)
	assert.Equal(t, domain.CampaignCompleted, c.Status)
	assert.Equal(t, int64(5), c.Metrics.Sent)
	assert.Empty(t, c.FailureReason)
	r3, _ = f.store.Recipient(f.recipients[2].ID)
	assert.Equal(t, domain.RecipientSent, r3.Status)
	assert.Empty(t, r3.LastError)
	assert.Equal(t, 2, r3.SendAttempts)
}

func TestDispatch_HourlyCapPauses(t *testing.T) {
	f := newDispatchFixture(t, domain.SendSettings{BatchSize: intPtr(5), IntervalSeconds: intPtr(0), HourlyCap: intPtr(2)}, 5)

	f.dispatchAndWait(t, false)

	c := f.campaign(t)
	assert.Equal(t, domain.CampaignPaused, c.Status)
	assert.Equal(t, int64(2), c.Metrics.Sent)
	assert.Equal(t, map[domain.RecipientStatus]int{
		domain.RecipientSent:    2,
		domain.RecipientPending: 3,
	}, f.statuses())
}

func TestDispatch_AccountLimitAppliesWithoutCampaignCap(t *testing.T) {
	f := newDispatchFixture(t, domain.SendSettings{IntervalSeconds: intPtr(0)}, 4)
	acct, _ := f.store.Account("a1")
	acct.DailyLimit = intPtr(3)
	f.store.PutAccount(acct)

	f.dispatchAndWait(t, false)

	assert.Equal(t, domain.CampaignPaused, f.campaign(t).Status)
	assert.Len(t, f.transport.sentTo(), 3)
}

func TestDispatch_StopBetweenRecipients(t *testing.T) {
	f := newDispatchFixture(t, domain.SendSettings{BatchSize: intPtr(5), IntervalSeconds: intPtr(0)}, 5)
	var once sync.Once
	f.transport.onSend = func(*domain.EmailMessage) {
		once.Do(func() { assert.True(t, f.dispatcher.Stop("c1")) })
	}

	f.dispatchAndWait(t, false)

	assert.Equal(t, domain.CampaignPaused, f.campaign(t).Status)
	assert.Equal(t, []string{"user1@example.com"}, f.transport.sentTo())
	assert.Equal(t, 4, f.statuses()[domain.RecipientPending])
	assert.False(t, f.dispatcher.Stop("c1"), "nothing left to stop")
}

func TestDispatch_VerifyFailureFailsCampaign(t *testing.T) {
	f := newDispatchFixture(t, domain.SendSettings{IntervalSeconds: intPtr(0)}, 3)
	f.transport.verifyErr = fmt.Errorf("%w: 535 authentication failed", sending.ErrVerify)

	f.dispatchAndWait(t, false)

	c := f.campaign(t)
	assert.Equal(t, domain.CampaignFailed, c.Status)
	assert.Contains(t, c.FailureReason, "535 authentication failed")
	assert.Nil(t, c.StartedAt)
	assert.Empty(t, f.transport.sentTo())
	assert.Equal(t, 3, f.statuses()[domain.RecipientPending])

	acct, _ := f.store.Account("a1")
	assert.Contains(t, acct.LastSMTPError, "535")
}

func TestDispatch_UndecryptableCredentialsFailCampaign(t *testing.T) {
	f := newDispatchFixture(t, domain.SendSettings{IntervalSeconds: intPtr(0)}, 1)
	acct, _ := f.store.Account("a1")
	acct.EncryptedPassword = "not-a-payload"
	f.store.PutAccount(acct)

	f.dispatchAndWait(t, false)

	c := f.campaign(t)
	assert.Equal(t, domain.CampaignFailed, c.Status)
	assert.Contains(t, c.FailureReason, "decrypt")
	assert.Empty(t, f.transport.sentTo())
}

func TestDispatch_UnforcedSkipsCompleted(t *testing.T) {
	f := newDispatchFixture(t, domain.SendSettings{IntervalSeconds: intPtr(0)}, 2)
	require.NoError(t, f.store.Campaigns().SetStatus(context.Background(), "c1", domain.CampaignCompleted, campaign.StatusChange{}))

	f.dispatchAndWait(t, false)
	assert.Empty(t, f.transport.sentTo())
	assert.Equal(t, domain.CampaignCompleted, f.campaign(t).Status)

	f.dispatchAndWait(t, true)
	assert.Len(t, f.transport.sentTo(), 2)
	assert.Equal(t, domain.CampaignCompleted, f.campaign(t).Status)
}

func TestDispatch_FetchErrorFailsCampaign(t *testing.T) {
	f := newDispatchFixture(t, domain.SendSettings{IntervalSeconds: intPtr(0)}, 2)
	broken := storeWithRecipients{Store: f.store, recipients: failingRecipients{
		RecipientRepository: f.store.Recipients(),
		nextErr:             errors.New("connection reset"),
	}}
	cipher, _ := credentials.NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	d := NewDispatcher(broken, cipher, f.factory, nil)

	res, err := d.Dispatch(context.Background(), "c1", false)
	require.NoError(t, err)
	require.Equal(t, campaign.DispatchStarted, res)
	d.Wait()

	c := f.campaign(t)
	assert.Equal(t, domain.CampaignFailed, c.Status)
	assert.Contains(t, c.FailureReason, "connection reset")
	assert.False(t, d.Running("c1"))
}

func TestDispatch_NoTrackerSendsUntracked(t *testing.T) {
	f := newDispatchFixture(t, domain.SendSettings{IntervalSeconds: intPtr(0)}, 1)
	cipher, _ := credentials.NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	d := NewDispatcher(f.store, cipher, f.factory, nil)

	_, err := d.Dispatch(context.Background(), "c1", false)
	require.NoError(t, err)
	d.Wait()

	require.Len(t, f.transport.sent, 1)
	assert.NotContains(t, f.transport.sent[0].HTMLBody, "/track/open/")
	r, _ := f.store.Recipient(f.recipients[0].ID)
	assert.Empty(t, r.Metadata.TrackingToken)
}

func TestDispatch_TextOnlyCampaignStillGetsTrackingToken(t *testing.T) {
	f := newDispatchFixture(t, domain.SendSettings{IntervalSeconds: intPtr(0)}, 1)
	c := f.campaign(t)
	text := "Hi {{ name }}"
	c.HTMLContent = nil
	c.TextContent = &text
	f.store.PutCampaign(*c)

	f.dispatchAndWait(t, false)

	require.Len(t, f.transport.sent, 1)
	assert.Empty(t, f.transport.sent[0].HTMLBody)
	assert.Equal(t, "Hi User 1", f.transport.sent[0].TextBody)
	r, _ := f.store.Recipient(f.recipients[0].ID)
	assert.NotEmpty(t, r.Metadata.TrackingToken)
}

// =============================================================================
// DEDUPLICATION, LOCKING, SHUTDOWN
// =============================================================================

func TestDispatch_ConcurrentRequestsStartOnce(t *testing.T) {
	f := newDispatchFixture(t, domain.SendSettings{IntervalSeconds: intPtr(0)}, 2)
	gate := make(chan struct{})
	f.transport.verifyGate = gate

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = map[campaign.DispatchResult]int{}
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.dispatcher.Dispatch(context.Background(), "c1", false)
			assert.NoError(t, err)
			mu.Lock()
			results[res]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, map[campaign.DispatchResult]int{
		campaign.DispatchStarted:        1,
		campaign.DispatchAlreadyRunning: 1,
	}, results)
	assert.True(t, f.dispatcher.Running("c1"))

	close(gate)
	f.dispatcher.Wait()
	assert.False(t, f.dispatcher.Running("c1"))
	assert.Len(t, f.transport.sentTo(), 2)
}

func TestDispatch_DistributedLockHeldElsewhere(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	f := newDispatchFixture(t, domain.SendSettings{IntervalSeconds: intPtr(0)}, 1)
	f.dispatcher.SetLockFactory(distlock.RedisFactory(client, time.Minute), time.Minute)

	other := distlock.NewRedisLock(client, dispatchLockPrefix+"c1", time.Minute)
	ok, err := other.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.dispatcher.Dispatch(context.Background(), "c1", false)
	require.NoError(t, err)
	assert.Equal(t, campaign.DispatchAlreadyRunning, res)
	assert.False(t, f.dispatcher.Running("c1"))

	require.NoError(t, other.Release(context.Background()))
	f.dispatchAndWait(t, false)
	assert.Equal(t, domain.CampaignCompleted, f.campaign(t).Status)
	assert.False(t, mr.Exists("lock:"+dispatchLockPrefix+"c1"), "lock released on exit")
}

func TestDispatcher_ShutdownStopsSleepingLoop(t *testing.T) {
	f := newDispatchFixture(t, domain.SendSettings{BatchSize: intPtr(1), IntervalSeconds: intPtr(3600)}, 3)
	firstSent := make(chan struct{})
	var once sync.Once
	f.transport.onSend = func(*domain.EmailMessage) { once.Do(func() { close(firstSent) }) }

	res, err := f.dispatcher.Dispatch(context.Background(), "c1", false)
	require.NoError(t, err)
	require.Equal(t, campaign.DispatchStarted, res)
	<-firstSent

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.dispatcher.Shutdown(ctx))

	assert.Equal(t, domain.CampaignPaused, f.campaign(t).Status)
	assert.Len(t, f.transport.sentTo(), 1)
}

func TestCompose_ReplyToPrecedence(t *testing.T) {
	f := newDispatchFixture(t, domain.SendSettings{}, 1)
	c := f.campaign(t)
	acct, _ := f.store.Account("a1")
	r := f.recipients[0]
	f.dispatcher.SetRewriteLinks(true)

	text := "Plain {{ NAME }}"
	c.TextContent = &text
	html := `<body><a href="https://acme.test/sale">sale</a></body>`
	c.HTMLContent = &html
	c.ReplyTo = "campaign@acme.test"
	acct.ReplyTo = "account@acme.test"

	msg := f.dispatcher.compose(context.Background(), c, &acct, &r)
	assert.Equal(t, "campaign@acme.test", msg.ReplyTo)
	assert.Equal(t, "Plain User 1", msg.TextBody)
	assert.Equal(t, "c1", msg.Headers["X-Campaign-ID"])
	assert.True(t, strings.Contains(msg.HTMLBody, "https://t.example.com/track/click/"+r.Metadata.TrackingToken+"?url="))

	c.ReplyTo = ""
	msg = f.dispatcher.compose(context.Background(), c, &acct, &r)
	assert.Equal(t, "account@acme.test", msg.ReplyTo)
}
