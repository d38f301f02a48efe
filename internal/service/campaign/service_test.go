package campaign_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/repository/memory"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// stubDispatcher records requests and reports a configurable running set.
type stubDispatcher struct {
	mu      sync.Mutex
	running map[string]bool
	calls   []string
	forced  []bool
	err     error
}

func newStubDispatcher() *stubDispatcher {
	return &stubDispatcher{running: make(map[string]bool)}
}

func (d *stubDispatcher) Dispatch(_ context.Context, id string, force bool) (campaign.DispatchResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	d.calls = append(d.calls, id)
	d.forced = append(d.forced, force)
	if d.running[id] {
		return campaign.DispatchAlreadyRunning, nil
	}
	d.running[id] = true
	return campaign.DispatchStarted, nil
}

func (d *stubDispatcher) Stop(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running[id]
}

func (d *stubDispatcher) Running(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running[id]
}

func newTestService(status domain.CampaignStatus) (*campaign.Service, *memory.Store, *stubDispatcher) {
	store := memory.NewStore()
	store.PutCampaign(domain.Campaign{ID: "c1", OwnerID: "owner-1", Name: "Launch", Status: status})
	d := newStubDispatcher()
	return campaign.NewService(store.Campaigns(), d), store, d
}

func TestDispatch(t *testing.T) {
	svc, _, d := newTestService(domain.CampaignDraft)
	ctx := context.Background()

	res, err := svc.Dispatch(ctx, "owner-1", "c1", false)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res != campaign.DispatchStarted {
		t.Errorf("expected started, got %s", res)
	}

	res, err = svc.Dispatch(ctx, "owner-1", "c1", false)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res != campaign.DispatchAlreadyRunning {
		t.Errorf("expected already_running, got %s", res)
	}
	if len(d.calls) != 2 {
		t.Errorf("expected 2 dispatcher calls, got %d", len(d.calls))
	}
}

func TestDispatchChecksCampaignAndOwner(t *testing.T) {
	svc, _, d := newTestService(domain.CampaignDraft)
	ctx := context.Background()

	if _, err := svc.Dispatch(ctx, "owner-1", "missing", false); !errors.Is(err, campaign.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Dispatch(ctx, "intruder", "c1", false); !errors.Is(err, campaign.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Dispatch(ctx, "", "c1", false); err != nil {
		t.Errorf("internal callers skip the owner check: %v", err)
	}
	if len(d.calls) != 1 {
		t.Errorf("rejected requests must not reach the dispatcher, got %d calls", len(d.calls))
	}
}

func TestDispatchError(t *testing.T) {
	svc, _, d := newTestService(domain.CampaignDraft)
	d.err = errors.New("redis unavailable")
	if _, err := svc.Dispatch(context.Background(), "owner-1", "c1", false); err == nil {
		t.Fatal("expected error")
	}
}

func TestResumeForces(t *testing.T) {
	svc, _, d := newTestService(domain.CampaignPaused)
	if _, err := svc.Resume(context.Background(), "owner-1", "c1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if len(d.forced) != 1 || !d.forced[0] {
		t.Errorf("Resume must dispatch with force, got %v", d.forced)
	}
}

func TestPause(t *testing.T) {
	ctx := context.Background()

	t.Run("running loop is asked to stop", func(t *testing.T) {
		svc, store, d := newTestService(domain.CampaignSending)
		d.running["c1"] = true
		res, err := svc.Pause(ctx, "owner-1", "c1")
		if err != nil || res != campaign.PauseRequested {
			t.Fatalf("Pause = %s, %v", res, err)
		}
		c, _ := store.Campaigns().Get(ctx, "c1")
		if c.Status != domain.CampaignSending {
			t.Errorf("the loop records paused itself, got %s", c.Status)
		}
	})

	t.Run("idle scheduled campaign is paused directly", func(t *testing.T) {
		svc, store, _ := newTestService(domain.CampaignScheduled)
		res, err := svc.Pause(ctx, "owner-1", "c1")
		if err != nil || res != campaign.PauseApplied {
			t.Fatalf("Pause = %s, %v", res, err)
		}
		c, _ := store.Campaigns().Get(ctx, "c1")
		if c.Status != domain.CampaignPaused {
			t.Errorf("expected paused, got %s", c.Status)
		}
	})

	t.Run("completed campaign is untouched", func(t *testing.T) {
		svc, store, _ := newTestService(domain.CampaignCompleted)
		res, err := svc.Pause(ctx, "owner-1", "c1")
		if err != nil || res != campaign.PauseNoop {
			t.Fatalf("Pause = %s, %v", res, err)
		}
		c, _ := store.Campaigns().Get(ctx, "c1")
		if c.Status != domain.CampaignCompleted {
			t.Errorf("expected completed, got %s", c.Status)
		}
	})
}

func TestSchedule(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

	svc, store, d := newTestService(domain.CampaignDraft)
	if err := svc.Schedule(ctx, "owner-1", "c1", at); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	c, _ := store.Campaigns().Get(ctx, "c1")
	if c.Status != domain.CampaignScheduled || c.ScheduledAt == nil || !c.ScheduledAt.Equal(at) {
		t.Errorf("unexpected campaign after schedule: %+v", c)
	}

	d.running["c1"] = true
	if err := svc.Schedule(ctx, "owner-1", "c1", at); !errors.Is(err, campaign.ErrCampaignRunning) {
		t.Errorf("expected ErrCampaignRunning, got %v", err)
	}

	done, _, _ := newTestService(domain.CampaignCompleted)
	if err := done.Schedule(ctx, "owner-1", "c1", at); !errors.Is(err, campaign.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc, store, d := newTestService(domain.CampaignSending)

	d.running["c1"] = true
	if err := svc.Delete(ctx, "owner-1", "c1"); !errors.Is(err, campaign.ErrCampaignRunning) {
		t.Fatalf("expected ErrCampaignRunning, got %v", err)
	}
	if _, err := store.Campaigns().Get(ctx, "c1"); err != nil {
		t.Fatalf("campaign must survive while running: %v", err)
	}

	d.running["c1"] = false
	if err := svc.Delete(ctx, "owner-1", "c1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Campaigns().Get(ctx, "c1"); !errors.Is(err, campaign.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}
