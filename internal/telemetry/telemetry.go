// Package telemetry records engine metrics through OpenTelemetry and exposes
// them in the Prometheus text format.
//
// A nil *Telemetry is valid and records nothing.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/dgnsrekt/wordcast/tts"
)

// Unit outcomes.
const (
	OutcomeCached      = "cached"
	OutcomeSynthesized = "synthesized"
	OutcomeDecoration  = "decoration"
	OutcomeFailed      = "failed"
)

// Telemetry owns the meter provider and the instruments.
type Telemetry struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler
	meter    metric.Meter

	units     metric.Int64Counter
	synthesis metric.Float64Histogram
	windows   metric.Int64Counter
	sessions  metric.Int64UpDownCounter
	rejected  metric.Int64Counter
}

// New sets up a meter provider exporting to a private Prometheus registry.
func New(ctx context.Context, service, version string, logger *log.Logger) (*Telemetry, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", service),
			attribute.String("service.version", version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)

	t := &Telemetry{
		provider: provider,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		meter:    provider.Meter("github.com/dgnsrekt/wordcast"),
	}
	if err := t.instruments(); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Debug("Telemetry initialized", "exporter", "prometheus")
	}
	return t, nil
}

func (t *Telemetry) instruments() error {
	var errs []error
	var err error

	t.units, err = t.meter.Int64Counter("wordcast.units.resolved",
		metric.WithDescription("Units resolved, by outcome"))
	errs = append(errs, err)

	t.synthesis, err = t.meter.Float64Histogram("wordcast.synthesis.duration",
		metric.WithDescription("Time spent per synthesis call including retries"),
		metric.WithUnit("s"))
	errs = append(errs, err)

	t.windows, err = t.meter.Int64Counter("wordcast.windows.completed",
		metric.WithDescription("Windows that reached window_complete"))
	errs = append(errs, err)

	t.sessions, err = t.meter.Int64UpDownCounter("wordcast.sessions.active",
		metric.WithDescription("Open streaming sessions"))
	errs = append(errs, err)

	t.rejected, err = t.meter.Int64Counter("wordcast.requests.rejected",
		metric.WithDescription("Requests rejected with an error code"))
	errs = append(errs, err)

	return errors.Join(errs...)
}

// Handler serves the Prometheus exposition.
func (t *Telemetry) Handler() http.Handler {
	if t == nil {
		return http.NotFoundHandler()
	}
	return t.handler
}

// Outcome classifies a resolved unit.
func Outcome(cached, decoration bool, err error) string {
	switch {
	case err != nil:
		return OutcomeFailed
	case decoration:
		return OutcomeDecoration
	case cached:
		return OutcomeCached
	default:
		return OutcomeSynthesized
	}
}

// UnitResolved counts one terminal unit.
func (t *Telemetry) UnitResolved(outcome string) {
	if t == nil {
		return
	}
	t.units.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// SynthesisObserved records one synthesis call. Its signature matches the
// engines' Observe hook.
func (t *Telemetry) SynthesisObserved(engine string, elapsed time.Duration, err error) {
	if t == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "synthesis_failed"
		var ue *tts.UnitError
		if errors.As(err, &ue) {
			result = ue.Reason()
		} else if errors.Is(err, tts.ErrAdapterUnavailable) {
			result = "adapter_unavailable"
		}
	}
	t.synthesis.Record(context.Background(), elapsed.Seconds(), metric.WithAttributes(
		attribute.String("engine", engine),
		attribute.String("result", result),
	))
}

// WindowCompleted counts one completed window.
func (t *Telemetry) WindowCompleted() {
	if t == nil {
		return
	}
	t.windows.Add(context.Background(), 1)
}

// SessionOpened and SessionClosed track open sessions.
func (t *Telemetry) SessionOpened() {
	if t == nil {
		return
	}
	t.sessions.Add(context.Background(), 1)
}

func (t *Telemetry) SessionClosed() {
	if t == nil {
		return
	}
	t.sessions.Add(context.Background(), -1)
}

// RequestRejected counts a request-level error by wire code.
func (t *Telemetry) RequestRejected(code string) {
	if t == nil {
		return
	}
	t.rejected.Add(context.Background(), 1, metric.WithAttributes(attribute.String("code", code)))
}

// ObserveCacheSize registers a gauge reporting the unit store size.
func (t *Telemetry) ObserveCacheSize(entries func() int64) error {
	if t == nil {
		return nil
	}
	gauge, err := t.meter.Int64ObservableGauge("wordcast.cache.entries",
		metric.WithDescription("Artifacts held by the unit store"))
	if err != nil {
		return err
	}
	_, err = t.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, entries())
		return nil
	}, gauge)
	return err
}

// Shutdown flushes and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
