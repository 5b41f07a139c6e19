package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MeterConfig selects where metrics are exported.
type MeterConfig struct {
	// Endpoint is an OTLP/gRPC collector address. Empty disables export.
	Endpoint    string
	Insecure    bool
	Interval    time.Duration
	ServiceName string
	Version     string
}

// InitMeter builds a meter provider that pushes to cfg.Endpoint on a fixed
// interval and installs it globally. Without an endpoint it returns a no-op
// provider. The returned function flushes and stops the exporter.
func InitMeter(ctx context.Context, cfg MeterConfig) (metric.MeterProvider, func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return noop.NewMeterProvider(), func(context.Context) error { return nil }, nil
	}
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}
	res, err := newResource(ctx, cfg.ServiceName, cfg.Version)
	if err != nil {
		return nil, nil, err
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}
	mp := NewMeterProvider(sdkmetric.NewPeriodicReader(exporter, readerOpts...), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	return mp, mp.Shutdown, nil
}

// NewMeterProvider returns an SDK meter provider collecting through reader.
func NewMeterProvider(reader sdkmetric.Reader, opts ...sdkmetric.Option) *sdkmetric.MeterProvider {
	return sdkmetric.NewMeterProvider(append([]sdkmetric.Option{sdkmetric.WithReader(reader)}, opts...)...)
}
