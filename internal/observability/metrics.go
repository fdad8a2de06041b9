package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Start outcomes recorded by RecordJobStart.
const (
	OutcomeActive   = "active"
	OutcomeRejected = "rejected"
	OutcomeTimeout  = "timeout"
	OutcomeFailed   = "failed"
)

// Metrics holds the service metrics:
// - HTTP API latency, traffic and errors
// - job lifecycle: starts by outcome, stops, lost jobs, tracked jobs, ack latency
// - status messages by kind, stale discards, decode errors, unknown ids
// - command channel latency and failures
// - status notification delivery
type Metrics struct {
	meter metric.Meter

	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	JobStartsTotal  metric.Int64Counter
	JobStopsTotal   metric.Int64Counter
	JobsLostTotal   metric.Int64Counter
	JobsTracked     metric.Int64Gauge
	AckWaitDuration metric.Float64Histogram

	MessagesTotal       metric.Int64Counter
	StaleMessagesTotal  metric.Int64Counter
	DecodeErrorsTotal   metric.Int64Counter
	UnknownJobsTotal    metric.Int64Counter
	StatusLevel         metric.Int64Gauge
	CommandDuration     metric.Float64Histogram
	CommandRetriesTotal metric.Int64Counter

	DispatcherDuration  metric.Float64Histogram
	DispatcherDelivered metric.Int64Counter
	DispatcherFailed    metric.Int64Counter
	DispatcherDropped   metric.Int64Counter
	DispatcherRequeued  metric.Int64Counter
	DispatcherQueueSize metric.Int64Gauge
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m := &Metrics{meter: provider.Meter("writerctl")}
	if err := m.register(); err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}

func (m *Metrics) register() error {
	var err error
	meter := m.meter

	histogram := func(dst *metric.Float64Histogram, name, desc string, bounds ...float64) {
		if err != nil {
			return
		}
		*dst, err = meter.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(bounds...),
		)
	}
	counter := func(dst *metric.Int64Counter, name, desc string) {
		if err != nil {
			return
		}
		*dst, err = meter.Int64Counter(name, metric.WithDescription(desc))
	}
	gauge := func(dst *metric.Int64Gauge, name, desc string) {
		if err != nil {
			return
		}
		*dst, err = meter.Int64Gauge(name, metric.WithDescription(desc))
	}

	histogram(&m.HTTPRequestDuration, "http_request_duration_seconds", "HTTP request latency in seconds",
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30)
	counter(&m.HTTPRequestsTotal, "http_requests_total", "Total number of HTTP requests")
	counter(&m.HTTPErrorsTotal, "http_errors_total", "Total number of HTTP errors (4xx and 5xx)")

	counter(&m.JobStartsTotal, "filewriter_job_starts_total", "Start requests by outcome")
	counter(&m.JobStopsTotal, "filewriter_job_stops_total", "Jobs confirmed stopped")
	counter(&m.JobsLostTotal, "filewriter_jobs_lost_total", "Jobs that missed their heartbeat deadline")
	gauge(&m.JobsTracked, "filewriter_jobs_tracked", "Jobs currently held in the registry")
	histogram(&m.AckWaitDuration, "filewriter_ack_wait_seconds", "Time spent waiting for the registry to confirm a command",
		0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30)

	counter(&m.MessagesTotal, "filewriter_messages_total", "Status messages processed by kind")
	counter(&m.StaleMessagesTotal, "filewriter_stale_messages_total", "Messages discarded for retired job ids")
	counter(&m.DecodeErrorsTotal, "filewriter_decode_errors_total", "Records that could not be decoded")
	counter(&m.UnknownJobsTotal, "filewriter_unknown_job_messages_total", "Messages naming a job that is not tracked")
	gauge(&m.StatusLevel, "filewriter_status_level", "Aggregate status (0 ok, 1 busy, 2 error)")
	histogram(&m.CommandDuration, "filewriter_command_duration_seconds", "Command channel round-trip latency",
		0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10)
	counter(&m.CommandRetriesTotal, "filewriter_command_retries_total", "Command channel retry attempts")

	histogram(&m.DispatcherDuration, "dispatcher_duration_seconds", "Notification delivery latency in seconds",
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10)
	counter(&m.DispatcherDelivered, "dispatcher_delivered_total", "Total notifications successfully delivered")
	counter(&m.DispatcherFailed, "dispatcher_failed_total", "Total notifications failed after retries")
	counter(&m.DispatcherDropped, "dispatcher_dropped_total", "Total notifications dropped (buffer full or max requeues)")
	counter(&m.DispatcherRequeued, "dispatcher_requeued_total", "Total notifications requeued due to open circuit")
	gauge(&m.DispatcherQueueSize, "dispatcher_queue_size", "Current number of notifications queued (saturation)")

	return err
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordJobStart records the outcome of a start request and how long the
// caller waited for it.
func (m *Metrics) RecordJobStart(ctx context.Context, outcome string, waitSeconds float64) {
	m.JobStartsTotal.Add(ctx, 1, metric.WithAttributes(outcomeAttr(outcome)))
	m.AckWaitDuration.Record(ctx, waitSeconds, metric.WithAttributes(attribute.String(attrAction, "start")))
}

// RecordStopWait records how long a stop request waited for confirmation.
func (m *Metrics) RecordStopWait(ctx context.Context, confirmed bool, waitSeconds float64) {
	m.AckWaitDuration.Record(ctx, waitSeconds, metric.WithAttributes(
		attribute.String(attrAction, "stop"), successAttr(confirmed)))
}

// RecordJobStopped records a stop confirmation.
func (m *Metrics) RecordJobStopped(ctx context.Context, withError bool) {
	m.JobStopsTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("error", withError)))
}

// RecordJobsLost records jobs newly flagged as lost.
func (m *Metrics) RecordJobsLost(ctx context.Context, n int) {
	m.JobsLostTotal.Add(ctx, int64(n))
}

// RecordJobsTracked records the registry size.
func (m *Metrics) RecordJobsTracked(ctx context.Context, n int) {
	m.JobsTracked.Record(ctx, int64(n))
}

// RecordMessage records a processed status message.
func (m *Metrics) RecordMessage(ctx context.Context, kind string) {
	m.MessagesTotal.Add(ctx, 1, WithKind(kind))
}

// RecordStaleMessage records a message discarded for a retired id.
func (m *Metrics) RecordStaleMessage(ctx context.Context, kind string) {
	m.StaleMessagesTotal.Add(ctx, 1, WithKind(kind))
}

// RecordUnknownJob records a message for an id that is not tracked.
func (m *Metrics) RecordUnknownJob(ctx context.Context, kind string) {
	m.UnknownJobsTotal.Add(ctx, 1, WithKind(kind))
}

// RecordDecodeError records an undecodable record.
func (m *Metrics) RecordDecodeError(ctx context.Context) {
	m.DecodeErrorsTotal.Add(ctx, 1)
}

// RecordStatusLevel records the aggregate status as a number.
func (m *Metrics) RecordStatusLevel(ctx context.Context, level string, value int) {
	m.StatusLevel.Record(ctx, int64(value), metric.WithAttributes(attribute.String(attrLevel, level)))
}

// RecordCommand records one command channel call.
func (m *Metrics) RecordCommand(ctx context.Context, command string, success bool, retries int, durationSeconds float64) {
	attrs := metric.WithAttributes(attribute.String(attrCommand, command), successAttr(success))
	m.CommandDuration.Record(ctx, durationSeconds, attrs)
	if retries > 0 {
		m.CommandRetriesTotal.Add(ctx, int64(retries), metric.WithAttributes(attribute.String(attrCommand, command)))
	}
}

// RecordDispatcherDelivered records a successful notification delivery with its duration.
func (m *Metrics) RecordDispatcherDelivered(ctx context.Context, durationSeconds float64) {
	m.DispatcherDelivered.Add(ctx, 1)
	m.DispatcherDuration.Record(ctx, durationSeconds)
}

// RecordDispatcherFailed records a failed notification delivery.
func (m *Metrics) RecordDispatcherFailed(ctx context.Context) {
	m.DispatcherFailed.Add(ctx, 1)
}

// RecordDispatcherDropped records a dropped notification.
func (m *Metrics) RecordDispatcherDropped(ctx context.Context) {
	m.DispatcherDropped.Add(ctx, 1)
}

// RecordDispatcherRequeued records a requeued notification.
func (m *Metrics) RecordDispatcherRequeued(ctx context.Context) {
	m.DispatcherRequeued.Add(ctx, 1)
}

// RecordDispatcherQueueSize records the current queue size.
func (m *Metrics) RecordDispatcherQueueSize(ctx context.Context, size int64) {
	m.DispatcherQueueSize.Record(ctx, size)
}
