package mailing

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/service/sending"
)

// DefaultTransportFactory picks SMTP or SES based on the account provider.
type DefaultTransportFactory struct {
	SMTPTimeout time.Duration
}

// TransportFor implements sending.TransportFactory.
func (f DefaultTransportFactory) TransportFor(ctx context.Context, a *domain.EmailAccount, password string) (sending.Transport, error) {
	switch a.Provider {
	case domain.ProviderSMTP, "":
		if a.SMTPHost == "" {
			return nil, fmt.Errorf("account %s has no SMTP host", a.ID)
		}
		port := a.SMTPPort
		if port == 0 {
			port = 587
			if a.SMTPSecure {
				port = 465
			}
		}
		return NewSMTPTransport(SMTPConfig{
			Host:     a.SMTPHost,
			Port:     port,
			Secure:   a.SMTPSecure,
			Username: a.SMTPUsername,
			Password: password,
			Timeout:  f.SMTPTimeout,
		}), nil
	case domain.ProviderSES:
		region := a.SESRegion
		if region == "" {
			region = "us-east-1"
		}
		return NewSESTransport(ctx, region, a.SMTPUsername, password)
	default:
		return nil, fmt.Errorf("account %s: unsupported provider %q", a.ID, a.Provider)
	}
}
