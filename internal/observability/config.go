package observability

import (
	"strings"
	"time"

	"github.com/smallbiznis/payables/internal/config"
	"github.com/spf13/viper"
)

// Config holds the logging, tracing and metrics settings of one process.
// Values come from the standard OTEL_* variables when present and fall back
// to the application config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel         string
	LogFormat        string
	LogSampleInitial int
	LogSampleAfter   int

	// SlowQueryThreshold marks ledger queries worth a warning.
	SlowQueryThreshold time.Duration

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("DEPLOYMENT_ENV", cfg.Environment)
	v.SetDefault("SERVICE_VERSION", cfg.AppVersion)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_SAMPLE_INITIAL", 100)
	v.SetDefault("LOG_SAMPLE_THEREAFTER", 100)
	v.SetDefault("DB_SLOW_QUERY_MS", 200)
	v.SetDefault("OTEL_ENABLED", true)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	v.SetDefault("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	v.SetDefault("OTEL_SAMPLING_RATIO", 0.1)

	protocol := v.GetString("OTEL_EXPORTER_OTLP_PROTOCOL")
	if traces := strings.TrimSpace(v.GetString("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "payables"
	}

	ratio := v.GetFloat64("OTEL_SAMPLING_RATIO")
	if ratio < 0 || ratio > 1 {
		ratio = 0.1
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(v.GetString("DEPLOYMENT_ENV")),
		Version:              strings.TrimSpace(v.GetString("SERVICE_VERSION")),
		LogLevel:             lower(v.GetString("LOG_LEVEL")),
		LogFormat:            lower(v.GetString("LOG_FORMAT")),
		LogSampleInitial:     v.GetInt("LOG_SAMPLE_INITIAL"),
		LogSampleAfter:       v.GetInt("LOG_SAMPLE_THEREAFTER"),
		SlowQueryThreshold:   time.Duration(v.GetInt("DB_SLOW_QUERY_MS")) * time.Millisecond,
		OtelEnabled:          v.GetBool("OTEL_ENABLED"),
		OtelExporterEndpoint: strings.TrimSpace(v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OtelExporterProtocol: lower(protocol),
		OtelSamplingRatio:    ratio,
	}
}

// Debug reports whether verbose diagnostics are wanted: debug level or a
// non-production environment.
func (c Config) Debug() bool {
	if lower(c.LogLevel) == "debug" {
		return true
	}
	switch lower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
