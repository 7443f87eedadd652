package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/imrishuroy/go-flow-scheduler/internal/flows"
	"github.com/imrishuroy/go-flow-scheduler/internal/idempotency"
	"github.com/imrishuroy/go-flow-scheduler/internal/orders"
	"github.com/imrishuroy/go-flow-scheduler/internal/partner"
	"github.com/sirupsen/logrus"
)

var (
	// ErrDispatchFailed wraps every reason an order could not be placed.
	ErrDispatchFailed = errors.New("dispatch failed")
	// ErrIntentInFlight means another run holds this cycle's dispatch intent.
	ErrIntentInFlight = errors.New("dispatch already in progress for this cycle")
)

// PartnerAPI places orders with the delivery partner.
type PartnerAPI interface {
	CreateOrder(ctx context.Context, req partner.OrderRequest) (*partner.OrderResponse, []byte, error)
}

// IntentStore records one dispatch intent per flow cycle.
type IntentStore interface {
	CreateIfNotExists(ctx context.Context, key, flowID string) (bool, error)
	Get(ctx context.Context, key string) (*idempotency.IdempotencyRecord, error)
	Reclaim(ctx context.Context, key, expectedStatus string) error
	MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// OrderRecorder persists the order and closes the intent in one write.
type OrderRecorder interface {
	CreateWithIntent(ctx context.Context, order orders.Order, intentKey, responseBody string) error
}

// Dispatched describes an order the partner accepted.
type Dispatched struct {
	OrderID           string // internal order id; empty if the record was not persisted
	ExternalOrderID   string
	Status            string
	EstimatedDelivery *time.Time
	Amount            float64
	// Replayed is set when the cycle had already been dispatched and the
	// stored partner response was reused.
	Replayed bool
}

// Dispatcher sends order requests to the partner at most once per cycle.
type Dispatcher struct {
	partner    PartnerAPI
	intents    IntentStore
	orders     OrderRecorder
	staleAfter time.Duration
	nowFunc    func() time.Time
}

// NewDispatcher returns a Dispatcher; in-progress intents older than staleAfter may be reclaimed.
func NewDispatcher(p PartnerAPI, intents IntentStore, recorder OrderRecorder, staleAfter time.Duration) *Dispatcher {
	return &Dispatcher{
		partner:    p,
		intents:    intents,
		orders:     recorder,
		staleAfter: staleAfter,
		nowFunc:    time.Now,
	}
}

// Dispatch places the order for f's current cycle. Errors wrap
// ErrDispatchFailed. A failure to persist the Order after the partner
// accepted it is logged and does not fail the dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, f flows.Flow, req partner.OrderRequest) (*Dispatched, error) {
	key := idempotency.CycleKey(f.FlowID, f.NextDelivery)
	log := logrus.WithFields(logrus.Fields{
		"flow_id":    f.FlowID,
		"intent_key": key,
	})

	replay, err := d.claim(ctx, key, f.FlowID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	if replay != nil {
		log.WithField("external_order_id", replay.ExternalOrderID).Info("cycle already dispatched, replaying stored response")
		return replay, nil
	}

	resp, raw, err := d.partner.CreateOrder(ctx, req)
	if err != nil {
		// the intent outlives this invocation's context
		if mErr := d.intents.MarkFailed(context.WithoutCancel(ctx), key, err.Error()); mErr != nil {
			log.WithError(mErr).Warn("could not mark dispatch intent failed")
		}
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	out := &Dispatched{
		OrderID:           uuid.NewString(),
		ExternalOrderID:   resp.ExternalOrderID,
		Status:            resp.Status,
		EstimatedDelivery: partner.ParseEstimatedDelivery(resp.EstimatedDeliveryTime),
		Amount:            req.Total,
	}
	if out.Status == "" {
		out.Status = orders.StatusCreated
	}

	order := orders.Order{
		OrderID:           out.OrderID,
		FlowID:            f.FlowID,
		UserID:            f.UserID,
		ExternalOrderID:   out.ExternalOrderID,
		Status:            out.Status,
		Amount:            req.Total,
		DeliveryAddress:   req.DeliveryAddress,
		DeliveryWindow:    req.DeliveryTime,
		Items:             orderItems(req.LineItems),
		EstimatedDelivery: out.EstimatedDelivery,
	}
	wctx := context.WithoutCancel(ctx)
	if err := d.orders.CreateWithIntent(wctx, order, key, string(raw)); err != nil {
		log.WithError(err).WithField("external_order_id", out.ExternalOrderID).
			Error("order accepted by partner but not persisted")
		out.OrderID = ""
		if mErr := d.intents.MarkDone(wctx, key, string(raw), http.StatusOK); mErr != nil {
			log.WithError(mErr).Error("could not close dispatch intent; cycle may be dispatched again")
		}
	}

	log.WithFields(logrus.Fields{
		"order_id":          out.OrderID,
		"external_order_id": out.ExternalOrderID,
		"amount":            out.Amount,
	}).Info("order dispatched")
	return out, nil
}

// claim takes the cycle's intent. It returns a non-nil Dispatched when the
// cycle was already completed.
func (d *Dispatcher) claim(ctx context.Context, key, flowID string) (*Dispatched, error) {
	created, err := d.intents.CreateIfNotExists(ctx, key, flowID)
	if err != nil {
		return nil, fmt.Errorf("create dispatch intent: %w", err)
	}
	if created {
		return nil, nil
	}

	rec, err := d.intents.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read dispatch intent: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("dispatch intent %s disappeared", key)
	}

	switch rec.Status {
	case idempotency.StatusDone:
		return replayed(rec)
	case idempotency.StatusFailed:
		return nil, d.reclaim(ctx, key, idempotency.StatusFailed)
	case idempotency.StatusInProgress:
		if d.nowFunc().Sub(rec.UpdatedAt) < d.staleAfter {
			return nil, ErrIntentInFlight
		}
		return nil, d.reclaim(ctx, key, idempotency.StatusInProgress)
	default:
		return nil, fmt.Errorf("dispatch intent %s has unknown status %q", key, rec.Status)
	}
}

func (d *Dispatcher) reclaim(ctx context.Context, key, expected string) error {
	err := d.intents.Reclaim(ctx, key, expected)
	if errors.Is(err, idempotency.ErrConditionFailed) {
		return ErrIntentInFlight
	}
	if err != nil {
		return fmt.Errorf("reclaim dispatch intent: %w", err)
	}
	return nil
}

func replayed(rec *idempotency.IdempotencyRecord) (*Dispatched, error) {
	var resp partner.OrderResponse
	if err := json.Unmarshal([]byte(rec.ResponseBody), &resp); err != nil || resp.ExternalOrderID == "" {
		return nil, fmt.Errorf("dispatch intent %s holds no usable partner response", rec.IdempotencyKey)
	}
	status := resp.Status
	if status == "" {
		status = orders.StatusCreated
	}
	return &Dispatched{
		OrderID:           rec.OrderID,
		ExternalOrderID:   resp.ExternalOrderID,
		Status:            status,
		EstimatedDelivery: partner.ParseEstimatedDelivery(resp.EstimatedDeliveryTime),
		Replayed:          true,
	}, nil
}

func orderItems(lines []partner.LineItem) []orders.LineItem {
	out := make([]orders.LineItem, 0, len(lines))
	for _, l := range lines {
		out = append(out, orders.LineItem{
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			Price:     l.Price,
		})
	}
	return out
}
