package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
	// DisableUsage skips the usage instruments; New then returns nil and
	// every recording method is a no-op.
	DisableUsage bool
}

// Metrics exposes the usage domain instruments.
type Metrics struct {
	usageRecorded   metric.Float64Counter
	quotaDecisions  metric.Int64Counter
	usageDrift      metric.Int64Counter
	driftMinutes    metric.Float64Histogram
	overageCredited metric.Float64Counter
	periodRollovers metric.Int64Counter
	retentionRows   metric.Int64Counter
	rateLimitDenied metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New creates the domain instruments on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	if cfg.DisableUsage {
		return nil, nil
	}
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "callquota"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	var err error
	if m.usageRecorded, err = meter.Float64Counter("callquota_usage_recorded_minutes_total",
		metric.WithDescription("Minutes appended to the usage ledger.")); err != nil {
		return nil, err
	}
	if m.quotaDecisions, err = meter.Int64Counter("callquota_quota_decisions_total",
		metric.WithDescription("Quota gate decisions by outcome and reason.")); err != nil {
		return nil, err
	}
	if m.usageDrift, err = meter.Int64Counter("callquota_usage_drift_total",
		metric.WithDescription("Reconciliations that corrected the cached counter.")); err != nil {
		return nil, err
	}
	if m.driftMinutes, err = meter.Float64Histogram("callquota_usage_drift_minutes",
		metric.WithDescription("Absolute difference between cached and ledger usage when corrected.")); err != nil {
		return nil, err
	}
	if m.overageCredited, err = meter.Float64Counter("callquota_overage_credited_minutes_total"); err != nil {
		return nil, err
	}
	if m.periodRollovers, err = meter.Int64Counter("callquota_period_rollovers_total"); err != nil {
		return nil, err
	}
	if m.retentionRows, err = meter.Int64Counter("callquota_retention_rows_total",
		metric.WithDescription("Rows touched by the retention sweep.")); err != nil {
		return nil, err
	}
	if m.rateLimitDenied, err = meter.Int64Counter("callquota_rate_limit_denied_total"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordUsage adds minutes accepted into the ledger.
func (m *Metrics) RecordUsage(ctx context.Context, planTier, eventType string, minutes float64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("org_tier", strings.TrimSpace(planTier)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.usageRecorded.Add(ctx, minutes, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordQuotaDecision(ctx context.Context, planTier string, allowed bool, reason string) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	attrs := FilterAttributes(
		attribute.String("org_tier", strings.TrimSpace(planTier)),
		attribute.String("outcome", outcome),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.quotaDecisions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordUsageDrift counts a reconciliation correction and its size.
func (m *Metrics) RecordUsageDrift(ctx context.Context, planTier string, drift float64) {
	if m == nil {
		return
	}
	if drift < 0 {
		drift = -drift
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("org_tier", strings.TrimSpace(planTier)))...)
	m.usageDrift.Add(ctx, 1, attrs)
	m.driftMinutes.Record(ctx, drift, attrs)
}

func (m *Metrics) RecordOverageCredited(ctx context.Context, planTier string, minutes float64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("org_tier", strings.TrimSpace(planTier)))
	m.overageCredited.Add(ctx, minutes, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordPeriodRollover(ctx context.Context, planTier string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("org_tier", strings.TrimSpace(planTier)))
	m.periodRollovers.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRetentionRows counts rows affected per table and mode.
func (m *Metrics) RecordRetentionRows(ctx context.Context, table, mode string, rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	attrs := FilterAttributes(
		attribute.String("table", strings.TrimSpace(table)),
		attribute.String("mode", strings.TrimSpace(mode)),
	)
	m.retentionRows.Add(ctx, rows, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// org_id is deliberately absent: one series per account does not scale.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"org_tier":    {},
	"endpoint":    {},
	"status_code": {},
	"event_type":  {},
	"outcome":     {},
	"reason":      {},
	"table":       {},
	"mode":        {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
