package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// EventOrderDispatched is the event_type attribute of dispatch notifications.
const EventOrderDispatched = "order.dispatched"

// OrderDispatchedEvent is consumed by the push-notification service to tell
// the user that a recurring order was placed.
type OrderDispatchedEvent struct {
	FlowID            string     `json:"flow_id"`
	UserID            string     `json:"user_id"`
	OrderID           string     `json:"order_id"`
	ExternalOrderID   string     `json:"external_order_id"`
	Status            string     `json:"status"`
	Amount            float64    `json:"amount"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	NextDelivery      time.Time  `json:"next_delivery"`
}

// Publisher wraps an SQS client and a queue URL.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
}

// NewPublisher returns a Publisher bound to a queue URL.
func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
	}
}

// PublishOrderDispatched sends an order.dispatched event. flow_id and
// external_order_id are copied into message attributes for filtering.
func (p *Publisher) PublishOrderDispatched(ctx context.Context, ev OrderDispatchedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.SendMessage(ctx, string(body), map[string]string{
		"event_type":        EventOrderDispatched,
		"flow_id":           ev.FlowID,
		"external_order_id": ev.ExternalOrderID,
	})
}

// SendMessage sends a message to SQS. messageBody should be a JSON string.
// attributes map[string]string -> sent as MessageAttributes.
func (p *Publisher) SendMessage(ctx context.Context, messageBody string, attributes map[string]string) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: &messageBody,
	}
	if len(attributes) > 0 {
		msgAttrs := map[string]sqstypes.MessageAttributeValue{}
		for k, v := range attributes {
			if v == "" {
				continue
			}
			msgAttrs[k] = sqstypes.MessageAttributeValue{
				DataType:    awsString("String"),
				StringValue: awsString(v),
			}
		}
		input.MessageAttributes = msgAttrs
	}

	_, err := p.SQS.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// awsString helper
func awsString(s string) *string { return &s }
