package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("org_id", "123"),
		attribute.String("org_tier", "pro"),
		attribute.String("reason", "exceeds_remaining"),
	)
	require.Len(t, attrs, 2)
	for _, attr := range attrs {
		assert.NotEqual(t, attribute.Key("org_id"), attr.Key)
	}
}

func TestRecordUsageDriftCountsCorrections(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(Config{ServiceName: "callquota-test"}, provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordUsageDrift(ctx, "free", -2.5)
	m.RecordUsageDrift(ctx, "free", 1)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "callquota_usage_drift_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	assert.Equal(t, int64(2), total)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordUsage(context.Background(), "free", "minutes_consumed", 1)
		m.RecordQuotaDecision(context.Background(), "free", false, "no_quota_remaining")
		m.RecordRetentionRows(context.Background(), "calls", "hard_delete", 3)
	})
}

func TestNewSkipsUsageInstrumentsWhenDisabled(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := New(Config{ServiceName: "callquota-test", DisableUsage: true}, provider)
	require.NoError(t, err)
	assert.Nil(t, m)
	m.RecordUsage(context.Background(), "pro", "minutes_consumed", 3)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	assert.Empty(t, rm.ScopeMetrics)
}
