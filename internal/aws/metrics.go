package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// RunMetrics are the per-invocation counters reported to CloudWatch.
type RunMetrics struct {
	Selected       int
	Processed      int
	Failed         int
	NeedsAttention int
	Deferred       int
	Duration       time.Duration
}

// MetricsPublisher writes run metrics into a CloudWatch namespace.
type MetricsPublisher struct {
	client    CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

// NewMetricsPublisher returns a MetricsPublisher bound to namespace.
func NewMetricsPublisher(client CloudWatchAPI, namespace string) *MetricsPublisher {
	return &MetricsPublisher{
		client:    client,
		namespace: namespace,
		nowFunc:   time.Now,
	}
}

// PublishRun sends one datum per counter, all stamped with the same time.
func (m *MetricsPublisher) PublishRun(ctx context.Context, rm RunMetrics) error {
	now := m.nowFunc()
	count := func(name string, v int) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: awsString(name),
			Timestamp:  &now,
			Unit:       cwtypes.StandardUnitCount,
			Value:      float64Ptr(float64(v)),
		}
	}
	data := []cwtypes.MetricDatum{
		count("SelectedFlows", rm.Selected),
		count("ProcessedFlows", rm.Processed),
		count("FailedFlows", rm.Failed),
		count("FlowsNeedingAttention", rm.NeedsAttention),
		count("DeferredFlows", rm.Deferred),
		{
			MetricName: awsString("RunDuration"),
			Timestamp:  &now,
			Unit:       cwtypes.StandardUnitMilliseconds,
			Value:      float64Ptr(float64(rm.Duration.Milliseconds())),
		},
	}

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &m.namespace,
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}

func float64Ptr(v float64) *float64 { return &v }
