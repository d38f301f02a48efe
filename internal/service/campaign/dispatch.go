package campaign

import "context"

// DispatchResult is the synchronous answer to a dispatch request.
type DispatchResult string

const (
	DispatchStarted        DispatchResult = "started"
	DispatchAlreadyRunning DispatchResult = "already_running"
)

// Dispatcher runs campaign dispatch loops. The worker package implements it.
type Dispatcher interface {
	// Dispatch starts a background loop for the campaign unless one is
	// already running. force ignores the completed/sending guard.
	Dispatch(ctx context.Context, campaignID string, force bool) (DispatchResult, error)
	// Stop requests a running loop to stop at its next checkpoint.
	Stop(campaignID string) bool
	Running(campaignID string) bool
}
