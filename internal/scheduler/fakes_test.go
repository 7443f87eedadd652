package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/imrishuroy/go-flow-scheduler/internal/aws"
	"github.com/imrishuroy/go-flow-scheduler/internal/catalog"
	"github.com/imrishuroy/go-flow-scheduler/internal/customers"
	"github.com/imrishuroy/go-flow-scheduler/internal/flows"
	"github.com/imrishuroy/go-flow-scheduler/internal/idempotency"
	"github.com/imrishuroy/go-flow-scheduler/internal/orders"
	"github.com/imrishuroy/go-flow-scheduler/internal/partner"
	"github.com/imrishuroy/go-flow-scheduler/internal/validation"
)

var bogota = time.FixedZone("COT", -5*60*60)

// fakeFlows is an in-memory flows table with write counters.
type fakeFlows struct {
	mu       sync.Mutex
	items    map[string]flows.Flow
	listErr  error
	advErrs  []error // consumed one per Advance call
	writes   int
	advCalls int
}

func newFakeFlows(fs ...flows.Flow) *fakeFlows {
	m := &fakeFlows{items: map[string]flows.Flow{}}
	for _, f := range fs {
		m.items[f.FlowID] = f
	}
	return m
}

func (m *fakeFlows) ListDue(ctx context.Context, cutoff time.Time) ([]flows.Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []flows.Flow
	for _, f := range m.items {
		if f.IsActive() && !f.NextDelivery.After(cutoff) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *fakeFlows) Advance(ctx context.Context, flowID string, prev, next time.Time, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advCalls++
	if len(m.advErrs) > 0 {
		err := m.advErrs[0]
		m.advErrs = m.advErrs[1:]
		if err != nil {
			return err
		}
	}
	f, ok := m.items[flowID]
	if !ok || !f.NextDelivery.Equal(prev) {
		return flows.ErrScheduleMoved
	}
	f.NextDelivery = next
	f.ConsecutiveFailures = 0
	f.LastError = ""
	f.LastOrderID = orderID
	m.items[flowID] = f
	m.writes++
	return nil
}

func (m *fakeFlows) RecordFailure(ctx context.Context, flowID, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.items[flowID]
	f.ConsecutiveFailures++
	f.LastError = reason
	m.items[flowID] = f
	m.writes++
	return f.ConsecutiveFailures, nil
}

func (m *fakeFlows) get(id string) flows.Flow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id]
}

type fakeCatalog struct {
	products map[string]*catalog.Product
	errs     map[string]error
}

func (c *fakeCatalog) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	if err := c.errs[id]; err != nil {
		return nil, err
	}
	return c.products[id], nil
}

type fakeAddresses map[string]*customers.Address

func (a fakeAddresses) GetAddress(ctx context.Context, id string) (*customers.Address, error) {
	if id == "broken" {
		return nil, errors.New("dynamo unavailable")
	}
	return a[id], nil
}

type fakeEntitlement struct {
	allowed map[string]bool
	err     error
}

func (e fakeEntitlement) Entitled(ctx context.Context, userID string) (bool, error) {
	if e.err != nil {
		return false, e.err
	}
	return e.allowed[userID], nil
}

// fakePartner answers by flow id.
type fakePartner struct {
	mu      sync.Mutex
	calls   map[string]int
	fail    map[string]error
	extID   map[string]string
	panicOn string
}

func newFakePartner() *fakePartner {
	return &fakePartner{calls: map[string]int{}, fail: map[string]error{}, extID: map[string]string{}}
}

func (p *fakePartner) CreateOrder(ctx context.Context, req partner.OrderRequest) (*partner.OrderResponse, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[req.FlowID]++
	if req.FlowID == p.panicOn {
		panic("partner client exploded")
	}
	if err := p.fail[req.FlowID]; err != nil {
		return nil, nil, err
	}
	id := p.extID[req.FlowID]
	if id == "" {
		id = "R-" + req.FlowID
	}
	resp := partner.OrderResponse{ExternalOrderID: id, Status: "created", EstimatedDeliveryTime: "2026-10-20T15:00:00Z"}
	raw, _ := json.Marshal(resp)
	return &resp, raw, nil
}

func (p *fakePartner) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

// fakeIntents mirrors the conditional semantics of idempotency.Store.
type fakeIntents struct {
	mu   sync.Mutex
	recs map[string]*idempotency.IdempotencyRecord
	now  func() time.Time
}

func newFakeIntents() *fakeIntents {
	return &fakeIntents{recs: map[string]*idempotency.IdempotencyRecord{}, now: time.Now}
}

func (s *fakeIntents) CreateIfNotExists(ctx context.Context, key, flowID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[key]; ok {
		return false, nil
	}
	now := s.now()
	s.recs[key] = &idempotency.IdempotencyRecord{IdempotencyKey: key, FlowID: flowID, Status: idempotency.StatusInProgress, CreatedAt: now, UpdatedAt: now}
	return true, nil
}

func (s *fakeIntents) Get(ctx context.Context, key string) (*idempotency.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[key]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *fakeIntents) Reclaim(ctx context.Context, key, expected string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[key]
	if !ok || r.Status != expected {
		return idempotency.ErrConditionFailed
	}
	r.Status = idempotency.StatusInProgress
	r.UpdatedAt = s.now()
	return nil
}

func (s *fakeIntents) MarkDone(ctx context.Context, key, body string, status int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.recs[key]
	r.Status = idempotency.StatusDone
	r.ResponseBody = body
	r.ResponseStatus = status
	return nil
}

func (s *fakeIntents) MarkFailed(ctx context.Context, key, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.recs[key]
	r.Status = idempotency.StatusFailed
	r.Note = note
	return nil
}

func (s *fakeIntents) status(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.recs[key]; ok {
		return r.Status
	}
	return ""
}

// fakeOrders closes the intent like the DynamoDB transaction does.
type fakeOrders struct {
	mu      sync.Mutex
	intents *fakeIntents
	created []orders.Order
	err     error
}

func (o *fakeOrders) CreateWithIntent(ctx context.Context, order orders.Order, key, body string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.created = append(o.created, order)
	o.intents.mu.Lock()
	r := o.intents.recs[key]
	r.Status = idempotency.StatusDone
	r.OrderID = order.OrderID
	r.ResponseBody = body
	o.intents.mu.Unlock()
	return nil
}

func (o *fakeOrders) byExternalID(id string) *orders.Order {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.created {
		if o.created[i].ExternalOrderID == id {
			return &o.created[i]
		}
	}
	return nil
}

type fakeEvents struct {
	mu   sync.Mutex
	sent []aws.OrderDispatchedEvent
	err  error
}

func (e *fakeEvents) PublishOrderDispatched(ctx context.Context, ev aws.OrderDispatchedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.sent = append(e.sent, ev)
	return nil
}

type fakeMetrics struct {
	published []aws.RunMetrics
	err       error
}

func (m *fakeMetrics) PublishRun(ctx context.Context, rm aws.RunMetrics) error {
	m.published = append(m.published, rm)
	return m.err
}

type fakeLock struct {
	err      error
	released int
}

func (l *fakeLock) Acquire(ctx context.Context) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	return func() { l.released++ }, nil
}

// harness wires a Runner over fakes.
type harness struct {
	flows    *fakeFlows
	catalog  *fakeCatalog
	partner  *fakePartner
	intents  *fakeIntents
	orders   *fakeOrders
	events   *fakeEvents
	metrics  *fakeMetrics
	entitled fakeEntitlement
	runner   *Runner
}

func newHarness(opts RunnerOptions, fs ...flows.Flow) *harness {
	h := &harness{
		flows: newFakeFlows(fs...),
		catalog: &fakeCatalog{products: map[string]*catalog.Product{
			"p1": {ProductID: "p1", Name: "Coffee", Price: 12.5, Available: true},
			"p2": {ProductID: "p2", Name: "Milk", Price: 3.2, Available: true},
		}},
		partner:  newFakePartner(),
		intents:  newFakeIntents(),
		events:   &fakeEvents{},
		metrics:  &fakeMetrics{},
		entitled: fakeEntitlement{allowed: map[string]bool{}},
	}
	for _, f := range fs {
		h.entitled.allowed[f.UserID] = true
	}
	h.orders = &fakeOrders{intents: h.intents}
	h.rebuild(opts)
	return h
}

func (h *harness) rebuild(opts RunnerOptions) {
	adv := NewAdvancer(h.flows, bogota)
	adv.newBackOff = func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3) }
	h.runner = NewRunner(Deps{
		Selector:   NewSelector(h.flows, h.entitled, SelectorOptions{Location: bogota, OverdueGrace: 72 * time.Hour}),
		Builder:    NewPayloadBuilder(h.catalog, fakeAddresses{}, validation.New(), PayloadOptions{}),
		Dispatcher: NewDispatcher(h.partner, h.intents, h.orders, 15*time.Minute),
		Advancer:   adv,
		Failures:   h.flows,
		Events:     h.events,
		Metrics:    h.metrics,
	}, opts)
}

func activeFlow(id string, next time.Time, freq flows.Frequency) flows.Flow {
	return flows.Flow{
		FlowID:       id,
		UserID:       "user-" + id,
		Items:        []flows.Item{{ProductID: "p1", Quantity: 2}},
		Frequency:    freq,
		NextDelivery: next,
		Status:       flows.StatusActive,
	}
}
