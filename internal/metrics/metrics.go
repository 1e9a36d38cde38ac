// Package metrics exposes OpenTelemetry instruments for the data layer.
package metrics

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdk "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/looplj/tenantguard"

type Config struct {
	Enabled bool `conf:"enabled" yaml:"enabled" json:"enabled"`
	// Exporter is stdout or otlp.
	Exporter string        `conf:"exporter" yaml:"exporter" json:"exporter"`
	Interval time.Duration `conf:"interval" yaml:"interval" json:"interval"`
	// Endpoint is the OTLP/HTTP collector URL, e.g. http://localhost:4318/v1/metrics.
	// Empty falls back to the OTEL_EXPORTER_OTLP_* environment.
	Endpoint string `conf:"endpoint" yaml:"endpoint" json:"endpoint"`
}

// NewProvider builds the meter provider, nil when metrics are disabled.
func NewProvider(cfg Config) (*sdk.MeterProvider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var (
		exporter sdk.Exporter
		err      error
	)

	switch cfg.Exporter {
	case "", "stdout":
		exporter, err = stdoutmetric.New(stdoutmetric.WithWriter(os.Stdout))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	case "otlp":
		var opts []otlpmetrichttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpointURL(cfg.Endpoint))
		}

		exporter, err = otlpmetrichttp.New(context.Background(), opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported metrics exporter: %s", cfg.Exporter)
	}

	var opts []sdk.PeriodicReaderOption
	if cfg.Interval > 0 {
		opts = append(opts, sdk.WithInterval(cfg.Interval))
	}

	return sdk.NewMeterProvider(sdk.WithReader(sdk.NewPeriodicReader(exporter, opts...))), nil
}

// SetupMetrics installs provider as the global meter provider.
func SetupMetrics(provider *sdk.MeterProvider, name string) error {
	if provider == nil {
		return nil
	}

	otel.SetMeterProvider(provider)

	return nil
}

// Recorder records data layer outcomes. A nil Recorder records nothing.
type Recorder struct {
	operations metric.Int64Counter
	rejections metric.Int64Counter
	overrides  metric.Int64Counter
}

// NewRecorder creates the instruments on mp. A nil provider yields no-op instruments.
func NewRecorder(mp metric.MeterProvider) (*Recorder, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}

	meter := mp.Meter(meterName)

	operations, err := meter.Int64Counter("tenantguard.operations",
		metric.WithDescription("Data layer operations by model, kind and outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	rejections, err := meter.Int64Counter("tenantguard.rejections",
		metric.WithDescription("Operations refused by tenant isolation checks"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	overrides, err := meter.Int64Counter("tenantguard.system_overrides",
		metric.WithDescription("System overrides entered, by reason"),
		metric.WithUnit("{override}"),
	)
	if err != nil {
		return nil, err
	}

	return &Recorder{
		operations: operations,
		rejections: rejections,
		overrides:  overrides,
	}, nil
}

func (r *Recorder) RecordOperation(ctx context.Context, model, kind, outcome string) {
	if r == nil {
		return
	}

	r.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

func (r *Recorder) RecordRejection(ctx context.Context, model, reason string) {
	if r == nil {
		return
	}

	r.rejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("reason", reason),
	))
}

func (r *Recorder) RecordOverride(ctx context.Context, reason string) {
	if r == nil {
		return
	}

	r.overrides.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
