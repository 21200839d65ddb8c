package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Sink is one delivery target of the Dispatcher.
type Sink interface {
	Publisher
	Name() string
}

// Dispatcher fans events out to every sink. Events are published after the
// ledger write commits, so delivery failures are logged and never undo it.
type Dispatcher struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher over sinks
func NewDispatcher(logger *zap.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, logger: logger}
}

// Publish delivers event to every sink.
func (d *Dispatcher) Publish(ctx context.Context, event Event) error {
	for _, sink := range d.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			d.logger.Warn("Event delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("event_type", event.Type),
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	}
	return nil
}

// SNSAPI is the subset of the SNS client used by SNSSink.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSink publishes events to an SNS topic for downstream consumers
type SNSSink struct {
	client   SNSAPI
	topicARN string
}

// NewSNSSink creates a sink publishing to topicARN
func NewSNSSink(client SNSAPI, topicARN string) *SNSSink {
	return &SNSSink{client: client, topicARN: topicARN}
}

func (s *SNSSink) Name() string { return "sns" }

func (s *SNSSink) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"eventType": {DataType: aws.String("String"), StringValue: aws.String(event.Type)},
			"companyId": {DataType: aws.String("String"), StringValue: aws.String(event.CompanyID)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish to sns: %w", err)
	}
	return nil
}
