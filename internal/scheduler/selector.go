package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/imrishuroy/go-flow-scheduler/internal/flows"
	"github.com/sirupsen/logrus"
)

// ErrInvalidNow is returned when selection is asked for a zero instant.
var ErrInvalidNow = errors.New("selection time must be set")

// DueFlowSource lists active flows whose next delivery is at or before cutoff.
type DueFlowSource interface {
	ListDue(ctx context.Context, cutoff time.Time) ([]flows.Flow, error)
}

// Entitlement decides whether a user's flows are processed automatically.
type Entitlement interface {
	Entitled(ctx context.Context, userID string) (bool, error)
}

// SelectorOptions tunes the due predicate.
type SelectorOptions struct {
	// Location is the delivery timezone used for "same calendar day".
	Location *time.Location
	// ClockSkew widens the upper bound so a flow due a few seconds after the
	// trigger fires is still picked up.
	ClockSkew time.Duration
	// OverdueGrace keeps overdue flows eligible after their day has passed.
	// Zero restricts selection to flows due on the current calendar day.
	OverdueGrace time.Duration
}

// Selector picks the flows to order in a run.
type Selector struct {
	source      DueFlowSource
	entitlement Entitlement
	loc         *time.Location
	skew        time.Duration
	grace       time.Duration
}

// NewSelector returns a Selector. A nil entitlement admits every user.
func NewSelector(source DueFlowSource, entitlement Entitlement, opts SelectorOptions) *Selector {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Selector{
		source:      source,
		entitlement: entitlement,
		loc:         loc,
		skew:        opts.ClockSkew,
		grace:       opts.OverdueGrace,
	}
}

// IsDue reports whether f should be ordered at now, ignoring entitlement.
func (s *Selector) IsDue(f flows.Flow, now time.Time) bool {
	if !f.IsActive() || f.NextDelivery.IsZero() {
		return false
	}
	if f.NextDelivery.After(now.Add(s.skew)) {
		return false
	}
	if sameDay(f.NextDelivery, now, s.loc) {
		return true
	}
	return now.Sub(f.NextDelivery) <= s.grace
}

// SelectDueFlows returns the due flows of entitled users, ordered by next
// delivery. When flowIDs is non-empty only those flows are considered.
// Store and entitlement errors are returned as-is; the batch cannot proceed.
func (s *Selector) SelectDueFlows(ctx context.Context, now time.Time, flowIDs ...string) ([]flows.Flow, error) {
	if now.IsZero() {
		return nil, ErrInvalidNow
	}

	candidates, err := s.source.ListDue(ctx, now.Add(s.skew))
	if err != nil {
		return nil, fmt.Errorf("list due flows: %w", err)
	}

	var only map[string]bool
	if len(flowIDs) > 0 {
		only = make(map[string]bool, len(flowIDs))
		for _, id := range flowIDs {
			only[id] = true
		}
	}

	selected := make([]flows.Flow, 0, len(candidates))
	for _, f := range candidates {
		if only != nil && !only[f.FlowID] {
			continue
		}
		if !s.IsDue(f, now) {
			continue
		}
		if s.entitlement != nil {
			ok, err := s.entitlement.Entitled(ctx, f.UserID)
			if err != nil {
				return nil, fmt.Errorf("entitlement for user %s: %w", f.UserID, err)
			}
			if !ok {
				logrus.WithFields(logrus.Fields{
					"flow_id": f.FlowID,
					"user_id": f.UserID,
				}).Debug("skipping flow: user not entitled")
				continue
			}
		}
		selected = append(selected, f)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].NextDelivery.Before(selected[j].NextDelivery)
	})

	logrus.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"selected":   len(selected),
	}).Info("due flows selected")
	return selected, nil
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
