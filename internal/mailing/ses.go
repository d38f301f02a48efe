package mailing

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/service/sending"
)

// SESAPI is the subset of the SES v2 client the transport uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	GetAccount(ctx context.Context, params *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
}

// SESTransport delivers mail through the SES v2 API.
type SESTransport struct {
	client SESAPI
}

// NewSESTransport builds an SES client for region with static credentials.
// Empty credentials fall back to the default AWS credential chain.
func NewSESTransport(ctx context.Context, region, accessKeyID, secretKey string) (*SESTransport, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKeyID != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewSESTransportWithClient(sesv2.NewFromConfig(awsCfg)), nil
}

// NewSESTransportWithClient wraps an existing client.
func NewSESTransportWithClient(client SESAPI) *SESTransport {
	return &SESTransport{client: client}
}

// Verify checks that the credentials work and sending is enabled.
func (t *SESTransport) Verify(ctx context.Context) error {
	out, err := t.client.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return fmt.Errorf("%w: %s", sending.ErrVerify, describeAWSError(err))
	}
	if !out.SendingEnabled {
		return fmt.Errorf("%w: sending is disabled for this SES account", sending.ErrVerify)
	}
	return nil
}

// Send delivers one message as SES simple content.
func (t *SESTransport) Send(ctx context.Context, msg *domain.EmailMessage) error {
	if _, err := t.client.SendEmail(ctx, buildSESInput(msg)); err != nil {
		return fmt.Errorf("%w: %s", sending.ErrSend, describeAWSError(err))
	}
	return nil
}

// describeAWSError shortens SDK errors to "Code: message" so the text
// stored in last_error stays readable.
func describeAWSError(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() + ": " + apiErr.ErrorMessage()
	}
	return err.Error()
}

func buildSESInput(msg *domain.EmailMessage) *sesv2.SendEmailInput {
	body := &types.Body{}
	if msg.HTMLBody != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")}
	}
	if msg.TextBody != "" {
		body.Text = &types.Content{Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")}
	}

	simple := &types.Message{
		Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
		Body:    body,
	}
	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		simple.Headers = append(simple.Headers, types.MessageHeader{Name: aws.String(k), Value: aws.String(msg.Headers[k])})
	}

	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String((&mail.Address{Name: msg.FromName, Address: msg.FromEmail}).String()),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content:          &types.EmailContent{Simple: simple},
	}
	if msg.ReplyTo != "" {
		in.ReplyToAddresses = []string{msg.ReplyTo}
	}
	return in
}
