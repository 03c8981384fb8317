package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of the server's instruments.
const MeterName = "github.com/sufield/geminid"

// Metrics holds the server's instruments. A nil *Metrics records nothing.
type Metrics struct {
	requests       metric.Int64Counter
	bodyBytes      metric.Int64Counter
	cgiRuns        metric.Int64Counter
	cgiDuration    metric.Float64Histogram
	localRedirects metric.Int64Counter
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(MeterName)

	var (
		m   Metrics
		err error
	)
	if m.requests, err = meter.Int64Counter("geminid.requests",
		metric.WithDescription("Requests served, by response status"),
		metric.WithUnit("{request}")); err != nil {
		return nil, fmt.Errorf("failed to create requests counter: %w", err)
	}
	if m.bodyBytes, err = meter.Int64Counter("geminid.response.body.size",
		metric.WithDescription("Response body bytes sent"),
		metric.WithUnit("By")); err != nil {
		return nil, fmt.Errorf("failed to create body size counter: %w", err)
	}
	if m.cgiRuns, err = meter.Int64Counter("geminid.cgi.runs",
		metric.WithDescription("CGI scripts run, by exit code"),
		metric.WithUnit("{run}")); err != nil {
		return nil, fmt.Errorf("failed to create cgi runs counter: %w", err)
	}
	if m.cgiDuration, err = meter.Float64Histogram("geminid.cgi.duration",
		metric.WithDescription("Wall time of CGI scripts"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create cgi duration histogram: %w", err)
	}
	if m.localRedirects, err = meter.Int64Counter("geminid.cgi.local_redirects",
		metric.WithDescription("Local redirects followed"),
		metric.WithUnit("{redirect}")); err != nil {
		return nil, fmt.Errorf("failed to create local redirects counter: %w", err)
	}
	return &m, nil
}

// RecordRequest counts a finished request.
func (m *Metrics) RecordRequest(ctx context.Context, status int, bodySize int64) {
	if m == nil {
		return
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(attribute.Int("gemini.status", status)))
	if bodySize > 0 {
		m.bodyBytes.Add(ctx, bodySize)
	}
}

// RecordCGI counts a finished script run.
func (m *Metrics) RecordCGI(ctx context.Context, exitCode int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Int("cgi.exit_code", exitCode))
	m.cgiRuns.Add(ctx, 1, attrs)
	m.cgiDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordLocalRedirect counts a followed local redirect.
func (m *Metrics) RecordLocalRedirect(ctx context.Context) {
	if m == nil {
		return
	}
	m.localRedirects.Add(ctx, 1)
}
