package monitoring

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/smartcontractkit/chainlink-common/pkg/beholder"
	"github.com/smartcontractkit/chainlink-common/pkg/metrics"

	"github.com/claimbridge/claimbridge/pkg/bridge"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// BridgeMetrics provides all metrics emitted by the claim processor.
type BridgeMetrics struct {
	claimsReceivedCounter       metric.Int64Counter
	claimsConfirmedCounter      metric.Int64Counter
	claimsRejectedCounter       metric.Int64Counter
	claimsFailedCounter         metric.Int64Counter
	duplicatesDiscardedCounter  metric.Int64Counter
	submitRetriesCounter        metric.Int64Counter
	processingDurationHistogram metric.Float64Histogram
}

func MetricViews() []sdkmetric.View {
	return []sdkmetric.View{
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: "bridge_claim_processing_duration_seconds"},
			sdkmetric.Stream{
				Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
					Boundaries: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
				},
			},
		),
	}
}

func InitMetrics() (bm *BridgeMetrics, err error) {
	bm = &BridgeMetrics{}
	meter := otel.Meter("claimbridge")

	if bm.claimsReceivedCounter, err = meter.Int64Counter("bridge_claims_received"); err != nil {
		return nil, err
	}
	if bm.claimsConfirmedCounter, err = meter.Int64Counter("bridge_claims_confirmed"); err != nil {
		return nil, err
	}
	if bm.claimsRejectedCounter, err = meter.Int64Counter("bridge_claims_rejected"); err != nil {
		return nil, err
	}
	if bm.claimsFailedCounter, err = meter.Int64Counter("bridge_claims_failed"); err != nil {
		return nil, err
	}
	if bm.duplicatesDiscardedCounter, err = meter.Int64Counter("bridge_duplicates_discarded"); err != nil {
		return nil, err
	}
	if bm.submitRetriesCounter, err = meter.Int64Counter("bridge_submit_retries"); err != nil {
		return nil, err
	}
	if bm.processingDurationHistogram, err = meter.Float64Histogram("bridge_claim_processing_duration_seconds"); err != nil {
		return nil, err
	}

	return bm, nil
}

type BridgeMetricLabeler struct {
	metrics.Labeler
	bm *BridgeMetrics
}

func NewBridgeMetricLabeler(labeler metrics.Labeler, bm *BridgeMetrics) bridge.MetricLabeler {
	return &BridgeMetricLabeler{
		Labeler: labeler,
		bm:      bm,
	}
}

func (c *BridgeMetricLabeler) With(keyValues ...string) bridge.MetricLabeler {
	return &BridgeMetricLabeler{c.Labeler.With(keyValues...), c.bm}
}

func (c *BridgeMetricLabeler) attrs() metric.MeasurementOption {
	return metric.WithAttributes(beholder.OtelAttributes(c.Labels).AsStringAttributes()...)
}

func (c *BridgeMetricLabeler) IncrementClaimsReceived(ctx context.Context) {
	c.bm.claimsReceivedCounter.Add(ctx, 1, c.attrs())
}

func (c *BridgeMetricLabeler) IncrementClaimsConfirmed(ctx context.Context) {
	c.bm.claimsConfirmedCounter.Add(ctx, 1, c.attrs())
}

func (c *BridgeMetricLabeler) IncrementClaimsRejected(ctx context.Context) {
	c.bm.claimsRejectedCounter.Add(ctx, 1, c.attrs())
}

func (c *BridgeMetricLabeler) IncrementClaimsFailed(ctx context.Context) {
	c.bm.claimsFailedCounter.Add(ctx, 1, c.attrs())
}

func (c *BridgeMetricLabeler) IncrementDuplicatesDiscarded(ctx context.Context) {
	c.bm.duplicatesDiscardedCounter.Add(ctx, 1, c.attrs())
}

func (c *BridgeMetricLabeler) IncrementSubmitRetries(ctx context.Context) {
	c.bm.submitRetriesCounter.Add(ctx, 1, c.attrs())
}

func (c *BridgeMetricLabeler) RecordProcessingDuration(ctx context.Context, d time.Duration) {
	c.bm.processingDurationHistogram.Record(ctx, d.Seconds(), c.attrs())
}
