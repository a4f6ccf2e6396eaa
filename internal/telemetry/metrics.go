package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/pipeline-console"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// API client metrics
	RequestsTotal       metric.Int64Counter
	RequestErrorsTotal  metric.Int64Counter
	RequestAttemptTotal metric.Int64Counter
	RequestRetriesTotal metric.Int64Counter
	RequestDuration     metric.Float64Histogram

	// Session metrics
	TokenRefreshTotal       metric.Int64Counter
	TokenRefreshErrorsTotal metric.Int64Counter
	LoginTotal              metric.Int64Counter
	LoginErrorsTotal        metric.Int64Counter

	// Mock API metrics
	MockRequestsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.RequestsTotal, _ = meter.Int64Counter(
		"console.client.requests.total",
		metric.WithDescription("Total number of API requests issued by the client"),
		metric.WithUnit("{request}"),
	)

	m.RequestErrorsTotal, _ = meter.Int64Counter(
		"console.client.requests.errors.total",
		metric.WithDescription("Total number of API requests that ended in an error"),
		metric.WithUnit("{error}"),
	)

	m.RequestAttemptTotal, _ = meter.Int64Counter(
		"console.client.attempts.total",
		metric.WithDescription("Total number of HTTP attempts including retries"),
		metric.WithUnit("{attempt}"),
	)

	m.RequestRetriesTotal, _ = meter.Int64Counter(
		"console.client.retries.total",
		metric.WithDescription("Total number of retried attempts after a transient failure"),
		metric.WithUnit("{retry}"),
	)

	m.RequestDuration, _ = meter.Float64Histogram(
		"console.client.request.duration",
		metric.WithDescription("Duration of API requests including retries"),
		metric.WithUnit("ms"),
	)

	m.TokenRefreshTotal, _ = meter.Int64Counter(
		"console.session.refresh.total",
		metric.WithDescription("Total number of token refresh calls"),
		metric.WithUnit("{refresh}"),
	)

	m.TokenRefreshErrorsTotal, _ = meter.Int64Counter(
		"console.session.refresh.errors.total",
		metric.WithDescription("Total number of failed token refreshes"),
		metric.WithUnit("{error}"),
	)

	m.LoginTotal, _ = meter.Int64Counter(
		"console.session.login.total",
		metric.WithDescription("Total number of login and MFA verification attempts"),
		metric.WithUnit("{login}"),
	)

	m.LoginErrorsTotal, _ = meter.Int64Counter(
		"console.session.login.errors.total",
		metric.WithDescription("Total number of failed login and MFA verification attempts"),
		metric.WithUnit("{error}"),
	)

	m.MockRequestsTotal, _ = meter.Int64Counter(
		"console.mockapi.requests.total",
		metric.WithDescription("Total number of requests served by the mock API"),
		metric.WithUnit("{request}"),
	)

	return m
}
