package monitoring

import (
	"fmt"

	"github.com/smartcontractkit/chainlink-common/pkg/beholder"
	"github.com/smartcontractkit/chainlink-common/pkg/metrics"

	"github.com/claimbridge/claimbridge/pkg/bridge"
)

var _ bridge.Monitoring = (*BridgeBeholderMonitoring)(nil)

type BridgeBeholderMonitoring struct {
	metrics bridge.MetricLabeler
}

func InitMonitoring(config beholder.Config) (bridge.Monitoring, error) {
	// All histogram buckets must be defined when the beholder client is
	// created.
	config.MetricViews = MetricViews()

	client, err := beholder.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create beholder client: %w", err)
	}

	beholder.SetClient(client)
	beholder.SetGlobalOtelProviders()

	bridgeMetrics, err := InitMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize bridge metrics: %w", err)
	}

	return &BridgeBeholderMonitoring{
		metrics: NewBridgeMetricLabeler(metrics.NewLabeler(), bridgeMetrics),
	}, nil
}

func (b *BridgeBeholderMonitoring) Metrics() bridge.MetricLabeler {
	return b.metrics
}
