package observability

import (
	"strings"

	"github.com/smallbiznis/fieldops/internal/config"
	"github.com/smallbiznis/fieldops/internal/observability/logger"
	"github.com/smallbiznis/fieldops/internal/observability/metrics"
	"github.com/smallbiznis/fieldops/internal/observability/tracing"
)

// Config is the telemetry section of the application config, resolved once
// and handed to the logger, tracer and meter constructors.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	config.TelemetryConfig
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "fieldops"
	}
	return Config{
		ServiceName:     serviceName,
		Environment:     strings.TrimSpace(cfg.Environment),
		Version:         strings.TrimSpace(cfg.AppVersion),
		TelemetryConfig: cfg.Telemetry,
	}
}

// Debug turns on development logging and verbose gin output.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func (c Config) Logger() logger.Config {
	return logger.Config{
		ServiceName:         c.ServiceName,
		Environment:         c.Environment,
		Version:             c.Version,
		Level:               c.LogLevel,
		Format:              c.LogFormat,
		Debug:               c.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: c.Debug(),
	}
}

func (c Config) Tracing() tracing.Config {
	return tracing.Config{
		Enabled:          c.OtelEnabled,
		ServiceName:      c.ServiceName,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.OtlpEndpoint,
		ExporterProtocol: c.OtlpProtocol,
		SamplingRatio:    c.SamplingRatio,
	}
}

func (c Config) Metrics() metrics.Config {
	return metrics.Config{
		Enabled:          c.OtelEnabled,
		ExporterEndpoint: c.OtlpEndpoint,
		ExporterProtocol: c.OtlpProtocol,
		ServiceName:      c.ServiceName,
		Environment:      c.Environment,
	}
}
