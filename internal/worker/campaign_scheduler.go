package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

const (
	// DefaultSchedulerPollInterval is how often to check for due campaigns.
	DefaultSchedulerPollInterval = 60 * time.Second
	// DefaultSchedulerBatch is how many due campaigns one tick hands off.
	DefaultSchedulerBatch = 5
)

// CampaignScheduler polls for scheduled campaigns whose time has come and
// hands them to the dispatcher without forcing.
type CampaignScheduler struct {
	campaigns    campaign.CampaignRepository
	dispatcher   campaign.Dispatcher
	pollInterval time.Duration
	batch        int
	now          func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewCampaignScheduler creates a scheduler with default interval and batch.
func NewCampaignScheduler(campaigns campaign.CampaignRepository, dispatcher campaign.Dispatcher) *CampaignScheduler {
	return &CampaignScheduler{
		campaigns:    campaigns,
		dispatcher:   dispatcher,
		pollInterval: DefaultSchedulerPollInterval,
		batch:        DefaultSchedulerBatch,
		now:          time.Now,
	}
}

// SetPollInterval overrides the tick interval. Non-positive values are ignored.
func (cs *CampaignScheduler) SetPollInterval(d time.Duration) {
	if d > 0 {
		cs.pollInterval = d
	}
}

// SetBatch overrides how many campaigns one tick picks up.
func (cs *CampaignScheduler) SetBatch(n int) {
	if n > 0 {
		cs.batch = n
	}
}

// Start begins the polling loop.
func (cs *CampaignScheduler) Start() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.running {
		return fmt.Errorf("scheduler already running")
	}
	cs.running = true
	cs.ctx, cs.cancel = context.WithCancel(context.Background())

	log.Printf("[CampaignScheduler] Starting with poll interval: %v", cs.pollInterval)

	cs.wg.Add(1)
	go cs.schedulerLoop()
	return nil
}

// Stop ends the polling loop and waits for the current tick to finish.
func (cs *CampaignScheduler) Stop() {
	cs.mu.Lock()
	if !cs.running {
		cs.mu.Unlock()
		return
	}
	cs.running = false
	cs.cancel()
	cs.mu.Unlock()

	cs.wg.Wait()
	log.Printf("[CampaignScheduler] Stopped")
}

func (cs *CampaignScheduler) schedulerLoop() {
	defer cs.wg.Done()

	ticker := time.NewTicker(cs.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cs.ctx.Done():
			return
		case <-ticker.C:
			cs.RunOnce(cs.ctx)
		}
	}
}

// RunOnce performs a single poll. It returns how many loops were started.
func (cs *CampaignScheduler) RunOnce(ctx context.Context) int {
	due, err := cs.campaigns.ListDueScheduled(ctx, cs.now(), cs.batch)
	if err != nil {
		log.Printf("[CampaignScheduler] Error listing due campaigns: %v", err)
		return 0
	}

	started := 0
	for _, c := range due {
		res, err := cs.dispatcher.Dispatch(ctx, c.ID, false)
		if err != nil {
			log.Printf("[CampaignScheduler] Campaign %s: dispatch failed: %v", c.ID, err)
			continue
		}
		if res == campaign.DispatchStarted {
			started++
			log.Printf("[CampaignScheduler] Campaign %s (%s) started", c.ID, c.Name)
		}
	}
	return started
}
