package tracking

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// SQSAPI is the subset of the SQS client the publisher uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

const publishTimeout = 5 * time.Second

// Publisher copies persisted CampaignEvents onto an SQS queue for external
// aggregation. Publishing is fire-and-forget.
type Publisher struct {
	client   SQSAPI
	queueURL string
	wg       sync.WaitGroup
}

func NewPublisher(client SQSAPI, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL}
}

// Publish sends ev in the background. Errors are logged.
func (p *Publisher) Publish(ev domain.CampaignEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		log.Printf("ERROR marshal campaign event: %v", err)
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
			MessageAttributes: map[string]sqstypes.MessageAttributeValue{
				"event_type": {DataType: aws.String("String"), StringValue: aws.String(string(ev.EventType))},
			},
		})
		if err != nil {
			log.Printf("ERROR publishing campaign event to SQS: %v", err)
		}
	}()
}

// Wait blocks until every in-flight publish has finished.
func (p *Publisher) Wait() { p.wg.Wait() }

// mirroredEvents appends to the wrapped repository and, on success,
// publishes the event.
type mirroredEvents struct {
	campaign.EventRepository
	pub *Publisher
}

func (m mirroredEvents) Append(ctx context.Context, ev *domain.CampaignEvent) error {
	if err := m.EventRepository.Append(ctx, ev); err != nil {
		return err
	}
	m.pub.Publish(*ev)
	return nil
}

type mirroredStore struct {
	campaign.Store
	events campaign.EventRepository
}

func (s mirroredStore) Events() campaign.EventRepository { return s.events }

// WithEventMirror returns store with its event repository mirrored to pub.
// A nil pub returns store unchanged.
func WithEventMirror(store campaign.Store, pub *Publisher) campaign.Store {
	if pub == nil {
		return store
	}
	return mirroredStore{
		Store:  store,
		events: mirroredEvents{EventRepository: store.Events(), pub: pub},
	}
}
