package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/imrishuroy/go-flow-scheduler/internal/flows"
	"github.com/sirupsen/logrus"
)

const (
	weeklyInterval   = 7
	biweeklyInterval = 15
	customInterval   = 30
)

// NextDelivery computes the delivery after from for the given frequency.
// Monthly flows land on the same day next month, clamped to the month's
// last day. Unknown frequencies behave like custom ones.
func NextDelivery(from time.Time, freq flows.Frequency) time.Time {
	switch freq {
	case flows.FrequencyWeekly:
		return from.AddDate(0, 0, weeklyInterval)
	case flows.FrequencyBiweekly:
		return from.AddDate(0, 0, biweeklyInterval)
	case flows.FrequencyMonthly:
		return addMonthClamped(from)
	default:
		return from.AddDate(0, 0, customInterval)
	}
}

func addMonthClamped(t time.Time) time.Time {
	y, m, d := t.Date()
	// day 0 of the month after next is the last day of next month
	last := time.Date(y, m+2, 0, 0, 0, 0, 0, t.Location()).Day()
	if d > last {
		d = last
	}
	return time.Date(y, m+1, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// ScheduleWriter persists an advanced schedule.
type ScheduleWriter interface {
	Advance(ctx context.Context, flowID string, prev, next time.Time, orderID string) error
}

// Advancer moves a flow's next delivery forward after a successful dispatch.
type Advancer struct {
	store      ScheduleWriter
	loc        *time.Location
	newBackOff func() backoff.BackOff
}

// NewAdvancer returns an Advancer that computes calendar steps in loc, UTC when nil.
func NewAdvancer(store ScheduleWriter, loc *time.Location) *Advancer {
	if loc == nil {
		loc = time.UTC
	}
	return &Advancer{
		store: store,
		loc:   loc,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = time.Second
			b.MaxElapsedTime = 3 * time.Second
			return backoff.WithMaxRetries(b, 3)
		},
	}
}

// Next returns the next delivery for f when advancing from `from`. If that
// does not move past the current value the interval is applied to the
// current value instead.
func (a *Advancer) Next(f flows.Flow, from time.Time) time.Time {
	next := NextDelivery(from.In(a.loc), f.Frequency)
	if !next.After(f.NextDelivery) {
		next = NextDelivery(f.NextDelivery.In(a.loc), f.Frequency)
	}
	return next
}

// Advance persists the next delivery of f, conditional on next_delivery
// still holding the value read at selection. Transient write errors are
// retried; a moved schedule is not. The computed value is returned even
// when the write fails.
func (a *Advancer) Advance(ctx context.Context, f flows.Flow, from time.Time, orderID string) (time.Time, error) {
	next := a.Next(f, from)

	attempt := 0
	op := func() error {
		attempt++
		err := a.store.Advance(ctx, f.FlowID, f.NextDelivery, next, orderID)
		if errors.Is(err, flows.ErrScheduleMoved) || errors.Is(err, flows.ErrNotForward) {
			return backoff.Permanent(err)
		}
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"flow_id": f.FlowID,
				"attempt": attempt,
			}).Warn("advance write failed, retrying")
		}
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(a.newBackOff(), ctx))
	return next, err
}
