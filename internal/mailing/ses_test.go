package mailing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/smithy-go"
	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/service/sending"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSESClient struct {
	sendErr    error
	sending    bool
	accountErr error
	lastInput  *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.lastInput = in
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("mid-1")}, nil
}

func (m *mockSESClient) GetAccount(context.Context, *sesv2.GetAccountInput, ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error) {
	if m.accountErr != nil {
		return nil, m.accountErr
	}
	return &sesv2.GetAccountOutput{SendingEnabled: m.sending}, nil
}

func TestSESTransportSend(t *testing.T) {
	mock := &mockSESClient{sending: true}
	tr := NewSESTransportWithClient(mock)

	msg := testMessage("ana@example.com")
	msg.Headers = map[string]string{"X-Campaign-ID": "c1"}
	require.NoError(t, tr.Send(context.Background(), msg))

	in := mock.lastInput
	require.NotNil(t, in)
	assert.Equal(t, `"Acme News" <news@acme.test>`, *in.FromEmailAddress)
	assert.Equal(t, []string{"ana@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, []string{"support@acme.test"}, in.ReplyToAddresses)
	assert.Equal(t, "Hello Ana", *in.Content.Simple.Subject.Data)
	assert.Equal(t, "<p>Hi Ana</p>", *in.Content.Simple.Body.Html.Data)
	assert.Equal(t, "Hi Ana", *in.Content.Simple.Body.Text.Data)
	require.Len(t, in.Content.Simple.Headers, 1)
	assert.Equal(t, "X-Campaign-ID", *in.Content.Simple.Headers[0].Name)
}

func TestSESTransportErrors(t *testing.T) {
	ctx := context.Background()

	tr := NewSESTransportWithClient(&mockSESClient{sendErr: errors.New("throttled")})
	assert.ErrorIs(t, tr.Send(ctx, testMessage("a@example.com")), sending.ErrSend)

	tr = NewSESTransportWithClient(&mockSESClient{accountErr: errors.New("bad creds")})
	assert.ErrorIs(t, tr.Verify(ctx), sending.ErrVerify)

	tr = NewSESTransportWithClient(&mockSESClient{sending: false})
	assert.ErrorIs(t, tr.Verify(ctx), sending.ErrVerify)

	tr = NewSESTransportWithClient(&mockSESClient{sending: true})
	assert.NoError(t, tr.Verify(ctx))
}

func TestSESTransportAPIErrorText(t *testing.T) {
	apiErr := &smithy.GenericAPIError{Code: "MessageRejected", Message: "Email address is not verified."}
	tr := NewSESTransportWithClient(&mockSESClient{sendErr: fmt.Errorf("operation error SESv2: SendEmail, %w", apiErr)})

	err := tr.Send(context.Background(), testMessage("a@example.com"))
	require.ErrorIs(t, err, sending.ErrSend)
	assert.Contains(t, err.Error(), "MessageRejected: Email address is not verified.")
	assert.NotContains(t, err.Error(), "operation error")
}

func TestTransportFactory(t *testing.T) {
	ctx := context.Background()
	f := DefaultTransportFactory{}

	tr, err := f.TransportFor(ctx, &domain.EmailAccount{ID: "a1", SMTPHost: "smtp.example.com", SMTPSecure: true}, "pw")
	require.NoError(t, err)
	smtpTr, ok := tr.(*SMTPTransport)
	require.True(t, ok)
	assert.Equal(t, "smtp.example.com:465", smtpTr.host)

	_, err = f.TransportFor(ctx, &domain.EmailAccount{ID: "a2", Provider: domain.ProviderSMTP}, "pw")
	assert.Error(t, err)

	_, err = f.TransportFor(ctx, &domain.EmailAccount{ID: "a3", Provider: "carrier-pigeon"}, "pw")
	assert.Error(t, err)
}
