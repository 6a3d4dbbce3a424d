package monitoring

import (
	"context"
	"time"

	"github.com/claimbridge/claimbridge/pkg/bridge"
)

var _ bridge.Monitoring = (*NoopBridgeMonitoring)(nil)

type NoopBridgeMonitoring struct {
	noop bridge.MetricLabeler
}

func NewNoopBridgeMonitoring() bridge.Monitoring {
	return &NoopBridgeMonitoring{noop: NewNoopBridgeMetricLabeler()}
}

func (n *NoopBridgeMonitoring) Metrics() bridge.MetricLabeler {
	return n.noop
}

type NoopBridgeMetricLabeler struct{}

func NewNoopBridgeMetricLabeler() bridge.MetricLabeler {
	return &NoopBridgeMetricLabeler{}
}

func (n *NoopBridgeMetricLabeler) With(...string) bridge.MetricLabeler             { return n }
func (n *NoopBridgeMetricLabeler) IncrementClaimsReceived(context.Context)        {}
func (n *NoopBridgeMetricLabeler) IncrementClaimsConfirmed(context.Context)       {}
func (n *NoopBridgeMetricLabeler) IncrementClaimsRejected(context.Context)        {}
func (n *NoopBridgeMetricLabeler) IncrementClaimsFailed(context.Context)          {}
func (n *NoopBridgeMetricLabeler) IncrementDuplicatesDiscarded(context.Context)   {}
func (n *NoopBridgeMetricLabeler) IncrementSubmitRetries(context.Context)         {}
func (n *NoopBridgeMetricLabeler) RecordProcessingDuration(context.Context, time.Duration) {}
