package observability

import (
	"github.com/smallbiznis/fieldops/internal/observability/logger"
	"github.com/smallbiznis/fieldops/internal/observability/metrics"
	"github.com/smallbiznis/fieldops/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		Config.Logger,
		Config.Tracing,
		Config.Metrics,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		metrics.NewTenancyMetrics,
	),
	// Install the global tracer provider even when nothing asks for it.
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)
