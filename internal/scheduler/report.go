package scheduler

import (
	"time"

	"github.com/imrishuroy/go-flow-scheduler/internal/aws"
)

// ProcessedFlow is one flow whose order was placed during the run.
type ProcessedFlow struct {
	FlowID       string    `json:"flowId"`
	OrderID      string    `json:"orderId"` // partner's external order id
	NextDelivery time.Time `json:"nextDelivery"`
}

// FailedFlow is one flow that could not be ordered during the run.
type FailedFlow struct {
	FlowID         string `json:"flowId"`
	Error          string `json:"error"`
	Attempts       int    `json:"attempts,omitempty"`
	NeedsAttention bool   `json:"needsAttention,omitempty"`
}

// BatchReport summarizes one run. Entries keep selection order.
type BatchReport struct {
	Selected   int             `json:"-"`
	Processed  []ProcessedFlow `json:"processed"`
	Failed     []FailedFlow    `json:"failed"`
	Deferred   []string        `json:"deferred,omitempty"`
	StartedAt  time.Time       `json:"-"`
	FinishedAt time.Time       `json:"-"`
}

func newReport(started time.Time) *BatchReport {
	return &BatchReport{
		StartedAt: started,
		Processed: []ProcessedFlow{},
		Failed:    []FailedFlow{},
	}
}

// NeedsAttention counts failed flows that hit the retry cap.
func (r *BatchReport) NeedsAttention() int {
	n := 0
	for _, f := range r.Failed {
		if f.NeedsAttention {
			n++
		}
	}
	return n
}

// Metrics converts the report into the CloudWatch run metrics.
func (r *BatchReport) Metrics() aws.RunMetrics {
	return aws.RunMetrics{
		Selected:       r.Selected,
		Processed:      len(r.Processed),
		Failed:         len(r.Failed),
		NeedsAttention: r.NeedsAttention(),
		Deferred:       len(r.Deferred),
		Duration:       r.FinishedAt.Sub(r.StartedAt),
	}
}
