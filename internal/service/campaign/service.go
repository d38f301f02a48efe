package campaign

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// Service implements the campaign control operations exposed over HTTP:
// dispatch, pause, resume, schedule and delete. Execution itself belongs to
// the Dispatcher.
type Service struct {
	campaigns  CampaignRepository
	dispatcher Dispatcher
}

// NewService creates a control service.
func NewService(campaigns CampaignRepository, dispatcher Dispatcher) *Service {
	return &Service{campaigns: campaigns, dispatcher: dispatcher}
}

// PauseResult describes what a pause request did.
type PauseResult string

const (
	// PauseRequested means a running loop was asked to stop; it records
	// the paused status when it exits.
	PauseRequested PauseResult = "pausing"
	PauseApplied   PauseResult = "paused"
	PauseNoop      PauseResult = "not_running"
)

// Get returns a campaign the owner may see. An empty ownerID skips the
// ownership check (internal callers).
func (s *Service) Get(ctx context.Context, ownerID, id string) (*domain.Campaign, error) {
	c, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && c.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return c, nil
}

// Running reports whether a dispatch loop for id is active in this process.
func (s *Service) Running(id string) bool { return s.dispatcher.Running(id) }

// Dispatch starts sending a campaign now.
func (s *Service) Dispatch(ctx context.Context, ownerID, id string, force bool) (DispatchResult, error) {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return "", err
	}
	res, err := s.dispatcher.Dispatch(ctx, id, force)
	if err != nil {
		return "", fmt.Errorf("dispatch campaign: %w", err)
	}
	log.Printf("[campaign.Service] Campaign %s: dispatch %s (force=%v)", id, res, force)
	return res, nil
}

// Resume continues a paused or failed campaign. It is a forced dispatch.
func (s *Service) Resume(ctx context.Context, ownerID, id string) (DispatchResult, error) {
	return s.Dispatch(ctx, ownerID, id, true)
}

// Pause stops a running loop, or marks an idle scheduled/sending campaign
// paused.
func (s *Service) Pause(ctx context.Context, ownerID, id string) (PauseResult, error) {
	c, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return "", err
	}
	if s.dispatcher.Stop(id) {
		log.Printf("[campaign.Service] Campaign %s: pause requested", id)
		return PauseRequested, nil
	}
	if c.Status != domain.CampaignScheduled && c.Status != domain.CampaignSending {
		return PauseNoop, nil
	}
	if err := s.campaigns.SetStatus(ctx, id, domain.CampaignPaused, StatusChange{}); err != nil {
		return "", fmt.Errorf("pause campaign: %w", err)
	}
	return PauseApplied, nil
}

// Schedule queues the campaign for the scheduler at the given time.
func (s *Service) Schedule(ctx context.Context, ownerID, id string, at time.Time) error {
	c, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if s.dispatcher.Running(id) {
		return ErrCampaignRunning
	}
	if c.Status == domain.CampaignCompleted {
		return fmt.Errorf("%w: campaign already completed", ErrInvalidState)
	}
	if err := s.campaigns.Schedule(ctx, id, at.UTC()); err != nil {
		return fmt.Errorf("schedule campaign: %w", err)
	}
	log.Printf("[campaign.Service] Campaign %s: scheduled for %s", id, at.UTC().Format(time.RFC3339))
	return nil
}

// Delete removes a campaign. A running campaign is asked to stop and
// ErrCampaignRunning is returned; the caller retries once the loop exits.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return err
	}
	if s.dispatcher.Stop(id) {
		return ErrCampaignRunning
	}
	return s.campaigns.Delete(ctx, id)
}
