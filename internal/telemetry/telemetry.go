// Package telemetry wires OpenTelemetry metrics and logs.
//
// With an OTLP endpoint configured, Setup installs SDK meter and logger
// providers exporting over gRPC. Without one, metrics go to a no-op provider
// and no log bridge is installed.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Config selects where telemetry goes.
type Config struct {
	OTLPEndpoint string
	Insecure     bool
	ServiceName  string
}

// Providers are the installed providers. LoggerProvider is nil when logs
// are not exported.
type Providers struct {
	MeterProvider  metric.MeterProvider
	LoggerProvider otellog.LoggerProvider

	shutdown []func(context.Context) error
}

// Setup builds providers for cfg and installs them as the globals.
func Setup(ctx context.Context, cfg Config) (*Providers, error) {
	if cfg.OTLPEndpoint == "" {
		return &Providers{MeterProvider: noop.NewMeterProvider()}, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "geminid"
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	logOpts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		logOpts = append(logOpts, otlploggrpc.WithInsecure())
	}

	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	logExp, err := otlploggrpc.New(ctx, logOpts...)
	if err != nil {
		_ = metricExp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create log exporter: %w", err)
	}

	return NewProviders(res, sdkmetric.NewPeriodicReader(metricExp), sdklog.NewBatchProcessor(logExp)), nil
}

// NewProviders builds SDK providers from a metric reader and a log
// processor and installs them as the globals.
func NewProviders(res *resource.Resource, reader sdkmetric.Reader, processor sdklog.Processor) *Providers {
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
	lp := sdklog.NewLoggerProvider(sdklog.WithResource(res), sdklog.WithProcessor(processor))

	otel.SetMeterProvider(mp)
	global.SetLoggerProvider(lp)

	return &Providers{
		MeterProvider:  mp,
		LoggerProvider: lp,
		shutdown:       []func(context.Context) error{mp.Shutdown, lp.Shutdown},
	}
}

// Shutdown flushes and stops the providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.shutdown = nil
	return errors.Join(errs...)
}
