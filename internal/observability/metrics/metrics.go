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

// Metrics exposes the tenancy and billing instruments exported over OTLP.
type Metrics struct {
	orgsProvisioned metric.Int64Counter
	activeSwitches  metric.Int64Counter
	invitesSent     metric.Int64Counter
	invitesAccepted metric.Int64Counter
	webhookEvents   metric.Int64Counter
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

// New creates the domain instruments on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "fieldops"
	}
	meter := provider.Meter(name)

	orgsProvisioned, err := meter.Int64Counter("fieldops_orgs_provisioned_total")
	if err != nil {
		return nil, err
	}
	activeSwitches, err := meter.Int64Counter("fieldops_active_org_switches_total")
	if err != nil {
		return nil, err
	}
	invitesSent, err := meter.Int64Counter("fieldops_invites_sent_total")
	if err != nil {
		return nil, err
	}
	invitesAccepted, err := meter.Int64Counter("fieldops_invites_accepted_total")
	if err != nil {
		return nil, err
	}
	webhookEvents, err := meter.Int64Counter("fieldops_billing_webhook_events_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		orgsProvisioned: orgsProvisioned,
		activeSwitches:  activeSwitches,
		invitesSent:     invitesSent,
		invitesAccepted: invitesAccepted,
		webhookEvents:   webhookEvents,
	}, nil
}

// RecordOrgProvisioned counts EnsureOrganization outcomes ("created", "existing", "race_lost").
func (m *Metrics) RecordOrgProvisioned(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.orgsProvisioned.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordActiveOrgSwitch(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.activeSwitches.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordInviteSent(ctx context.Context, role string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("role", strings.TrimSpace(role)))
	m.invitesSent.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordInviteAccepted(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.invitesAccepted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
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

// Tenant and user ids are never accepted as labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"outcome":    {},
	"role":       {},
	"provider":   {},
	"event_type": {},
	"reason":     {},
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
