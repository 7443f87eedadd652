// Package scheduler selects due recurring-order flows, dispatches their
// orders to the delivery partner and advances their schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/imrishuroy/go-flow-scheduler/internal/aws"
	"github.com/imrishuroy/go-flow-scheduler/internal/flows"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// FailureRecorder keeps per-flow failure bookkeeping.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, flowID, reason string) (int, error)
}

// EventPublisher announces placed orders.
type EventPublisher interface {
	PublishOrderDispatched(ctx context.Context, ev aws.OrderDispatchedEvent) error
}

// MetricsSink receives the run summary.
type MetricsSink interface {
	PublishRun(ctx context.Context, rm aws.RunMetrics) error
}

// RunLock serializes runs.
type RunLock interface {
	Acquire(ctx context.Context) (func(), error)
}

// Deps are the collaborators of a Runner. Events, Metrics and Lock are optional.
type Deps struct {
	Selector   *Selector
	Builder    *PayloadBuilder
	Dispatcher *Dispatcher
	Advancer   *Advancer
	Failures   FailureRecorder
	Events     EventPublisher
	Metrics    MetricsSink
	Lock       RunLock
}

// RunnerOptions tunes a Runner.
type RunnerOptions struct {
	MaxRetries  int
	Concurrency int
}

// RunOptions scopes a single run.
type RunOptions struct {
	// Now overrides the selection instant; zero means the current time.
	Now time.Time
	// FlowIDs restricts the run to these flows.
	FlowIDs []string
}

// Runner executes one scheduling pass.
type Runner struct {
	Deps
	maxRetries  int
	concurrency int
	nowFunc     func() time.Time
}

// NewRunner wires a Runner from deps, filling zero options with defaults.
func NewRunner(deps Deps, opts RunnerOptions) *Runner {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Runner{
		Deps:        deps,
		maxRetries:  opts.MaxRetries,
		concurrency: opts.Concurrency,
		nowFunc:     time.Now,
	}
}

type outcome struct {
	processed *ProcessedFlow
	failed    *FailedFlow
	deferred  bool
}

// Run selects due flows and processes each one. A flow's failure is
// recorded in the report and never stops the batch; only selection and
// lease errors are returned.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*BatchReport, error) {
	started := r.nowFunc()
	now := opts.Now
	if now.IsZero() {
		now = started
	}

	if r.Lock != nil {
		release, err := r.Lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire run lease: %w", err)
		}
		defer release()
	}

	if resetter, ok := r.Selector.entitlement.(interface{ Reset() }); ok {
		resetter.Reset()
	}

	due, err := r.Selector.SelectDueFlows(ctx, now, opts.FlowIDs...)
	if err != nil {
		logrus.WithError(err).Error("flow selection failed")
		return nil, err
	}

	report := newReport(started)
	report.Selected = len(due)
	if len(due) == 0 {
		logrus.Info("no flows due")
		r.finish(ctx, report)
		return report, nil
	}

	outcomes := make([]outcome, len(due))
	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for i, f := range due {
		if ctx.Err() != nil {
			outcomes[i] = outcome{deferred: true}
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				outcomes[i] = outcome{deferred: true}
				return nil
			}
			outcomes[i] = r.processSafely(ctx, f, now)
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		switch {
		case o.deferred:
			report.Deferred = append(report.Deferred, due[i].FlowID)
		case o.processed != nil:
			report.Processed = append(report.Processed, *o.processed)
		case o.failed != nil:
			report.Failed = append(report.Failed, *o.failed)
		}
	}

	r.finish(ctx, report)
	return report, nil
}

func (r *Runner) finish(ctx context.Context, report *BatchReport) {
	report.FinishedAt = r.nowFunc()

	logrus.WithFields(logrus.Fields{
		"selected":        report.Selected,
		"processed":       len(report.Processed),
		"failed":          len(report.Failed),
		"deferred":        len(report.Deferred),
		"needs_attention": report.NeedsAttention(),
		"duration_ms":     report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	}).Info("scheduler run finished")

	if r.Metrics != nil {
		if err := r.Metrics.PublishRun(context.WithoutCancel(ctx), report.Metrics()); err != nil {
			logrus.WithError(err).Warn("failed to publish run metrics")
		}
	}
}

// processSafely runs one flow and converts any error or panic into a failed
// outcome.
func (r *Runner) processSafely(ctx context.Context, f flows.Flow, now time.Time) (o outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			logrus.WithFields(logrus.Fields{
				"flow_id": f.FlowID,
				"panic":   rec,
			}).Error("panic while processing flow")
			o = outcome{failed: r.fail(ctx, f, fmt.Errorf("panic: %v", rec))}
		}
	}()

	p, err := r.process(ctx, f, now)
	if err != nil {
		return outcome{failed: r.fail(ctx, f, err)}
	}
	return outcome{processed: p}
}

// process runs build, dispatch and advance for one flow, in that order.
func (r *Runner) process(ctx context.Context, f flows.Flow, now time.Time) (*ProcessedFlow, error) {
	log := logrus.WithFields(logrus.Fields{
		"flow_id": f.FlowID,
		"user_id": f.UserID,
	})

	req, err := r.Builder.Build(ctx, f)
	if err != nil {
		return nil, err
	}

	res, err := r.Dispatcher.Dispatch(ctx, f, req)
	if err != nil {
		return nil, err
	}

	// the partner has the order; the schedule must move even if the
	// invocation is about to time out
	wctx := context.WithoutCancel(ctx)
	next, err := r.Advancer.Advance(wctx, f, now, res.OrderID)
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"external_order_id": res.ExternalOrderID,
			"next_delivery":     next,
		}).Error("order placed but schedule not advanced")
	}

	if r.Events != nil && !res.Replayed {
		ev := aws.OrderDispatchedEvent{
			FlowID:            f.FlowID,
			UserID:            f.UserID,
			OrderID:           res.OrderID,
			ExternalOrderID:   res.ExternalOrderID,
			Status:            res.Status,
			Amount:            res.Amount,
			NextDelivery:      next,
			EstimatedDelivery: res.EstimatedDelivery,
		}
		if err := r.Events.PublishOrderDispatched(wctx, ev); err != nil {
			log.WithError(err).Warn("failed to publish order.dispatched event")
		}
	}

	return &ProcessedFlow{
		FlowID:       f.FlowID,
		OrderID:      res.ExternalOrderID,
		NextDelivery: next,
	}, nil
}

func (r *Runner) fail(ctx context.Context, f flows.Flow, cause error) *FailedFlow {
	ff := &FailedFlow{FlowID: f.FlowID, Error: cause.Error()}
	log := logrus.WithError(cause).WithField("flow_id", f.FlowID)

	attempts, err := r.Failures.RecordFailure(context.WithoutCancel(ctx), f.FlowID, cause.Error())
	if err != nil {
		log.WithField("record_error", err.Error()).Warn("could not record flow failure")
		attempts = f.ConsecutiveFailures + 1
	}
	ff.Attempts = attempts

	if attempts >= r.maxRetries {
		ff.NeedsAttention = true
		log.WithField("attempts", attempts).Error("flow keeps failing and needs attention")
	} else {
		log.WithField("attempts", attempts).Warn("flow failed, will retry on next run")
	}
	return ff
}
