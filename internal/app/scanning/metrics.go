package scanning

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/scanq/internal/domain/scanning"
)

// QueueMetrics defines the metrics recorded by the job queue.
type QueueMetrics interface {
	// Admission metrics
	IncJobsSubmitted(ctx context.Context)
	IncJobsRejected(ctx context.Context, kind scanning.ErrorKind)

	// Lifecycle metrics
	IncJobTransition(ctx context.Context, status scanning.JobStatus)
	ObserveJobDuration(ctx context.Context, status scanning.JobStatus, d time.Duration)
	AddQueuedJobs(ctx context.Context, delta int64)
	AddRunningJobs(ctx context.Context, delta int64)

	// Housekeeping metrics
	IncJobsExpired(ctx context.Context)
	AddJobsSwept(ctx context.Context, n int)
	IncProgressEventsThrottled(ctx context.Context)
}

type queueMetrics struct {
	jobsSubmitted metric.Int64Counter
	jobsRejected  metric.Int64Counter

	jobTransitions metric.Int64Counter
	jobDuration    metric.Float64Histogram
	queuedJobs     metric.Int64UpDownCounter
	runningJobs    metric.Int64UpDownCounter

	jobsExpired       metric.Int64Counter
	jobsSwept         metric.Int64Counter
	progressThrottled metric.Int64Counter
}

const namespace = "job_queue"

// NewQueueMetrics creates the queue instruments on mp.
func NewQueueMetrics(mp metric.MeterProvider) (*queueMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(queueMetrics)
	var err error

	if m.jobsSubmitted, err = meter.Int64Counter(
		"jobs_submitted_total",
		metric.WithDescription("Total number of scan jobs admitted to the queue"),
	); err != nil {
		return nil, err
	}

	if m.jobsRejected, err = meter.Int64Counter(
		"jobs_rejected_total",
		metric.WithDescription("Total number of submissions rejected at admission"),
	); err != nil {
		return nil, err
	}

	if m.jobTransitions, err = meter.Int64Counter(
		"job_transitions_total",
		metric.WithDescription("Total number of job state transitions by target status"),
	); err != nil {
		return nil, err
	}

	if m.jobDuration, err = meter.Float64Histogram(
		"job_duration_seconds",
		metric.WithDescription("Time from dispatch to terminal state"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.queuedJobs, err = meter.Int64UpDownCounter(
		"queued_jobs",
		metric.WithDescription("Number of jobs waiting for a concurrency slot"),
	); err != nil {
		return nil, err
	}

	if m.runningJobs, err = meter.Int64UpDownCounter(
		"running_jobs",
		metric.WithDescription("Number of jobs currently executing"),
	); err != nil {
		return nil, err
	}

	if m.jobsExpired, err = meter.Int64Counter(
		"jobs_timed_out_total",
		metric.WithDescription("Total number of running jobs failed by the timeout check"),
	); err != nil {
		return nil, err
	}

	if m.jobsSwept, err = meter.Int64Counter(
		"jobs_swept_total",
		metric.WithDescription("Total number of terminal jobs removed by retention sweeps"),
	); err != nil {
		return nil, err
	}

	if m.progressThrottled, err = meter.Int64Counter(
		"progress_events_throttled_total",
		metric.WithDescription("Progress updates applied without emitting an event"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *queueMetrics) IncJobsSubmitted(ctx context.Context) { m.jobsSubmitted.Add(ctx, 1) }

func (m *queueMetrics) IncJobsRejected(ctx context.Context, kind scanning.ErrorKind) {
	m.jobsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(kind))))
}

func (m *queueMetrics) IncJobTransition(ctx context.Context, status scanning.JobStatus) {
	m.jobTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status.String())))
}

func (m *queueMetrics) ObserveJobDuration(ctx context.Context, status scanning.JobStatus, d time.Duration) {
	m.jobDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status.String())))
}

func (m *queueMetrics) AddQueuedJobs(ctx context.Context, delta int64) { m.queuedJobs.Add(ctx, delta) }
func (m *queueMetrics) AddRunningJobs(ctx context.Context, delta int64) {
	m.runningJobs.Add(ctx, delta)
}

func (m *queueMetrics) IncJobsExpired(ctx context.Context) { m.jobsExpired.Add(ctx, 1) }

func (m *queueMetrics) AddJobsSwept(ctx context.Context, n int) {
	if n > 0 {
		m.jobsSwept.Add(ctx, int64(n))
	}
}

func (m *queueMetrics) IncProgressEventsThrottled(ctx context.Context) {
	m.progressThrottled.Add(ctx, 1)
}
