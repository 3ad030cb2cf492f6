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
	documentEvents     metric.Int64Counter
	creditApplications metric.Int64Counter
	paymentOrderEvents metric.Int64Counter
	versionConflicts   metric.Int64Counter
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

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "payables"
	}
	meter := provider.Meter(name)

	documentEvents, err := meter.Int64Counter("payables_document_events_total")
	if err != nil {
		return nil, err
	}
	creditApplications, err := meter.Int64Counter("payables_credit_applications_total")
	if err != nil {
		return nil, err
	}
	paymentOrderEvents, err := meter.Int64Counter("payables_payment_order_events_total")
	if err != nil {
		return nil, err
	}
	versionConflicts, err := meter.Int64Counter("payables_version_conflicts_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		documentEvents:     documentEvents,
		creditApplications: creditApplications,
		paymentOrderEvents: paymentOrderEvents,
		versionConflicts:   versionConflicts,
	}, nil
}

// RecordDocumentEvent counts document lifecycle events (create, update, cancel).
func (m *Metrics) RecordDocumentEvent(ctx context.Context, channel, documentType, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("channel", strings.TrimSpace(channel)),
		attribute.String("document_type", strings.TrimSpace(documentType)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.documentEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCreditApplication counts credit transfers by origin (direct or payment_order).
func (m *Metrics) RecordCreditApplication(ctx context.Context, channel, sourceType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("channel", strings.TrimSpace(channel)),
		attribute.String("source_type", strings.TrimSpace(sourceType)),
	)
	m.creditApplications.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPaymentOrderEvent counts payment order transitions.
func (m *Metrics) RecordPaymentOrderEvent(ctx context.Context, channel, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("channel", strings.TrimSpace(channel)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.paymentOrderEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordVersionConflict counts optimistic concurrency rejections.
func (m *Metrics) RecordVersionConflict(ctx context.Context, channel, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("channel", strings.TrimSpace(channel)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.versionConflicts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
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

var allowedLabelKeys = map[attribute.Key]struct{}{
	"channel":       {},
	"document_type": {},
	"endpoint":      {},
	"status_code":   {},
	"event_type":    {},
	"source_type":   {},
	"reason":        {},
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
