package worker

import (
	"context"
	"sync"
)

// controller is the handle for one running dispatch loop.
type controller struct {
	campaignID string
	ctx        context.Context
	cancel     context.CancelFunc
}

// stopped reports whether a stop was requested.
func (c *controller) stopped() bool { return c.ctx.Err() != nil }

// Registry tracks which campaigns have a live dispatch loop in this process.
// TryStart is the single atomic check-and-insert that prevents two loops for
// the same campaign.
type Registry struct {
	mu      sync.Mutex
	running map[string]*controller
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{running: make(map[string]*controller)}
}

// TryStart inserts a controller for campaignID unless one exists. The
// controller's context is derived from parent.
func (r *Registry) TryStart(parent context.Context, campaignID string) (*controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.running[campaignID]; exists {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	c := &controller{campaignID: campaignID, ctx: ctx, cancel: cancel}
	r.running[campaignID] = c
	return c, true
}

// Stop sets the cooperative stop flag. It returns false when nothing runs.
func (r *Registry) Stop(campaignID string) bool {
	r.mu.Lock()
	c, ok := r.running[campaignID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	c.cancel()
	return true
}

// Running reports whether campaignID has a live loop.
func (r *Registry) Running(campaignID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[campaignID]
	return ok
}

// Remove drops c if it is still the registered controller for its campaign.
func (r *Registry) Remove(c *controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.running[c.campaignID]; ok && cur == c {
		delete(r.running, c.campaignID)
	}
	c.cancel()
}

// Len returns the number of live loops.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

// StopAll requests every live loop to stop.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.running {
		c.cancel()
	}
}
