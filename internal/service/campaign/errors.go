package campaign

import "errors"

// Sentinel errors for the campaign service layer and its stores.
var (
	ErrNotFound          = errors.New("campaign not found")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrAccountNotFound   = errors.New("email account not found")
	ErrForbidden         = errors.New("campaign belongs to another owner")
	ErrCampaignRunning   = errors.New("campaign dispatch is running")
	ErrInvalidMetric     = errors.New("unknown campaign metric")
	ErrInvalidState      = errors.New("invalid campaign state")
)
