// Package sending defines the transport abstraction used by the dispatcher.
//
// A Transport is bound to one email account and its decrypted credentials.
// SMTP and SES implementations live in internal/mailing; the dispatcher only
// sees these interfaces so it can be tested with fakes.
package sending

import (
	"context"
	"errors"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

var (
	// ErrVerify wraps connectivity or authentication failures from Verify.
	ErrVerify = errors.New("transport verification failed")
	// ErrSend wraps per-message delivery failures.
	ErrSend = errors.New("transport send failed")
)

// Transport delivers messages for a single account. Implementations must be
// safe for sequential reuse across a dispatch run.
type Transport interface {
	// Verify checks connectivity and authentication before a run starts.
	Verify(ctx context.Context) error
	Send(ctx context.Context, msg *domain.EmailMessage) error
}

// TransportFactory builds a Transport from an account and its plaintext
// password.
type TransportFactory interface {
	TransportFor(ctx context.Context, account *domain.EmailAccount, password string) (Transport, error)
}
