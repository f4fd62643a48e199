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
}

// Metrics exposes application-level instruments.
type Metrics struct {
	billingEvents   metric.Int64Counter
	quotaChecks     metric.Int64Counter
	usageRecords    metric.Int64Counter
	planPublishes   metric.Int64Counter
	sequencerWaits  metric.Float64Histogram
	inconsistencies metric.Int64Counter
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
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "couture"
	}
	meter := provider.Meter(name)

	billingEvents, err := meter.Int64Counter("couture_billing_events_total")
	if err != nil {
		return nil, err
	}
	quotaChecks, err := meter.Int64Counter("couture_quota_checks_total")
	if err != nil {
		return nil, err
	}
	usageRecords, err := meter.Int64Counter("couture_usage_records_total")
	if err != nil {
		return nil, err
	}
	planPublishes, err := meter.Int64Counter("couture_plan_publishes_total")
	if err != nil {
		return nil, err
	}
	sequencerWaits, err := meter.Float64Histogram("couture_sequencer_lock_wait_seconds")
	if err != nil {
		return nil, err
	}
	inconsistencies, err := meter.Int64Counter("couture_data_inconsistencies_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		billingEvents:   billingEvents,
		quotaChecks:     quotaChecks,
		usageRecords:    usageRecords,
		planPublishes:   planPublishes,
		sequencerWaits:  sequencerWaits,
		inconsistencies: inconsistencies,
	}, nil
}

// RecordBillingEvent counts one processed webhook event by type and outcome.
func (m *Metrics) RecordBillingEvent(ctx context.Context, eventType, outcome string) {
	if m == nil || m.billingEvents == nil {
		return
	}
	m.billingEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
	))
}

// RecordQuotaCheck counts one quota decision per resource type.
func (m *Metrics) RecordQuotaCheck(ctx context.Context, resourceType string, allowed bool) {
	if m == nil || m.quotaChecks == nil {
		return
	}
	m.quotaChecks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource_type", resourceType),
		attribute.Bool("allowed", allowed),
	))
}

// RecordUsage counts one recorded usage event per resource type.
func (m *Metrics) RecordUsage(ctx context.Context, resourceType string) {
	if m == nil || m.usageRecords == nil {
		return
	}
	m.usageRecords.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource_type", resourceType),
	))
}

// RecordPlanPublish counts one plan publish attempt by result.
func (m *Metrics) RecordPlanPublish(ctx context.Context, result string) {
	if m == nil || m.planPublishes == nil {
		return
	}
	m.planPublishes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

// ObserveSequencerWait records how long a webhook waited on the per-tenant lock.
func (m *Metrics) ObserveSequencerWait(ctx context.Context, wait time.Duration) {
	if m == nil || m.sequencerWaits == nil {
		return
	}
	m.sequencerWaits.Record(ctx, wait.Seconds())
}

// RecordInconsistency counts one detected data inconsistency by kind.
func (m *Metrics) RecordInconsistency(ctx context.Context, kind string) {
	if m == nil || m.inconsistencies == nil {
		return
	}
	m.inconsistencies.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
	))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(ctx, opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}
