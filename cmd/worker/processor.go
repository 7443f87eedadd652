package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-flow-scheduler/internal/aws"
	"github.com/imrishuroy/go-flow-scheduler/internal/orders"
)

// errPoison marks messages that will never succeed; they are dropped instead
// of being retried.
var errPoison = errors.New("unprocessable message")

// Processor applies partner status updates to Order records.
type Processor struct {
	orderStore *orders.Store
	validate   *validatorv10.Validate
}

// NewProcessor creates a new worker processor with AWS clients injected.
func NewProcessor(clients *aws.AWSClients, ordersTable, externalIndex, intentTable string) *Processor {
	return &Processor{
		orderStore: orders.NewStore(clients.DynamoDB, ordersTable, externalIndex, intentTable),
		validate:   validatorv10.New(),
	}
}

// Handle processes an SQS batch. Messages that fail transiently are reported
// back as batch item failures so only they are redelivered.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		err := p.processMessage(ctx, rec)
		switch {
		case err == nil:
		case errors.Is(err, errPoison):
			logrus.WithError(err).WithField("message_id", rec.MessageId).Error("dropping unprocessable status update")
		default:
			logrus.WithError(err).WithField("message_id", rec.MessageId).Warn("status update failed, will retry")
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg StatusUpdate
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("%w: invalid message body: %v", errPoison, err)
	}
	if err := p.validate.Struct(msg); err != nil {
		return fmt.Errorf("%w: %v", errPoison, err)
	}
	newStatus := strings.ToLower(msg.Status)

	log := logrus.WithFields(logrus.Fields{
		"external_order_id": msg.ExternalOrderID,
		"status":            newStatus,
		"correlation_id":    msg.CorrelationID,
	})

	order, err := p.orderStore.GetByExternalID(ctx, msg.ExternalOrderID)
	if err != nil {
		return fmt.Errorf("failed to fetch order: %w", err)
	}
	if order == nil {
		// the dispatch may not have been persisted; nothing to update
		log.Warn("no order for external id")
		return nil
	}

	switch {
	case order.Status == newStatus:
		log.Debug("duplicate status update")
		return nil
	case orders.IsTerminal(order.Status):
		log.WithField("current_status", order.Status).Info("order already final, ignoring update")
		return nil
	}

	err = p.orderStore.UpdateStatus(ctx, order.OrderID, order.Status, newStatus)
	if errors.Is(err, orders.ErrStatusMismatch) {
		// a concurrent update won; redeliver and decide against the new state
		return fmt.Errorf("order=%s changed concurrently: %w", order.OrderID, err)
	}
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	log.WithFields(logrus.Fields{
		"order_id":        order.OrderID,
		"previous_status": order.Status,
	}).Info("order status updated")
	return nil
}
