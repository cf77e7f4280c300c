package scanning

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scanq/internal/domain/events"
	"github.com/ahrav/scanq/internal/domain/scanning"
	"github.com/ahrav/scanq/pkg/common"
	"github.com/ahrav/scanq/pkg/common/logger"
)

// QueueConfig bounds the scheduler.
type QueueConfig struct {
	// MaxConcurrentJobs is the number of jobs allowed in the running state.
	MaxConcurrentJobs int
	// MaxQueueSize is the number of jobs allowed to wait for a slot.
	MaxQueueSize int
	// JobTimeout is the deadline for a running job, measured from dispatch.
	JobTimeout time.Duration
	// RetentionWindow is how long terminal jobs stay queryable.
	RetentionWindow time.Duration
	// ProgressEventsPerSecond caps progress events per job. Zero disables the cap.
	ProgressEventsPerSecond float64
	// AllowedRoots restricts scan targets. Empty allows any absolute path.
	AllowedRoots []string
}

// DefaultQueueConfig returns the scheduler defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxConcurrentJobs:       3,
		MaxQueueSize:            100,
		JobTimeout:              30 * time.Minute,
		RetentionWindow:         24 * time.Hour,
		ProgressEventsPerSecond: 10,
	}
}

// Validate rejects configurations the queue cannot run with.
func (c QueueConfig) Validate() error {
	switch {
	case c.MaxConcurrentJobs < 1:
		return fmt.Errorf("max concurrent jobs must be at least 1, got %d", c.MaxConcurrentJobs)
	case c.MaxQueueSize < 1:
		return fmt.Errorf("max queue size must be at least 1, got %d", c.MaxQueueSize)
	case c.JobTimeout <= 0:
		return fmt.Errorf("job timeout must be positive, got %s", c.JobTimeout)
	case c.RetentionWindow <= 0:
		return fmt.Errorf("retention window must be positive, got %s", c.RetentionWindow)
	case c.ProgressEventsPerSecond < 0:
		return fmt.Errorf("progress events per second must not be negative, got %v", c.ProgressEventsPerSecond)
	}
	return nil
}

// ListOptions selects a page of jobs, most recent first.
type ListOptions struct {
	Limit  int
	Offset int
	// Status filters by status when non-empty.
	Status scanning.JobStatus
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Normalize applies the default and maximum page sizes.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = defaultListLimit
	}
	if o.Limit > maxListLimit {
		o.Limit = maxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// JobPage is one page of a job listing along with the unpaginated total.
type JobPage struct {
	Jobs  []scanning.JobSnapshot
	Total int
}

// QueueStats is a consistent point-in-time view of the queue.
type QueueStats struct {
	QueueLength       int
	RunningJobs       int
	MaxConcurrentJobs int
	MaxQueueSize      int
	TotalJobs         int
	JobsByStatus      map[scanning.JobStatus]int
}

var (
	errCancelRequested = errors.New("cancellation requested")
	errQueueShutdown   = errors.New("job queue shutting down")
)

// queueEntry is the scheduler's bookkeeping for one job.
type queueEntry struct {
	job *scanning.Job
	seq uint64

	// Set on dispatch.
	deadline time.Time
	cancel   context.CancelCauseFunc

	// emitMu orders progress events against the terminal event so no progress
	// event follows it.
	emitMu          sync.Mutex
	progressLimiter *common.RateLimiter
}

// QueueOption configures optional JobQueue collaborators.
type QueueOption func(*JobQueue)

// WithArchiver persists every terminal job through a.
func WithArchiver(a JobArchiver) QueueOption {
	return func(q *JobQueue) { q.archiver = a }
}

// WithTimeProvider overrides the wall clock.
func WithTimeProvider(tp scanning.TimeProvider) QueueOption {
	return func(q *JobQueue) { q.timeProvider = tp }
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(fn func() uuid.UUID) QueueOption {
	return func(q *JobQueue) { q.newID = fn }
}

// JobQueue admits scan requests, runs at most MaxConcurrentJobs of them at a
// time in FIFO order, and owns every job state transition.
//
// All transitions happen under mu. Events are published under mu too, which
// keeps per-job event order equal to transition order; publishers must
// therefore never block.
type JobQueue struct {
	cfg          QueueConfig
	executor     Executor
	publisher    events.DomainEventPublisher
	archiver     JobArchiver
	timeProvider scanning.TimeProvider
	newID        func() uuid.UUID

	mu      sync.Mutex
	jobs    map[uuid.UUID]*queueEntry
	pending []*queueEntry
	running map[uuid.UUID]*queueEntry
	counts  map[scanning.JobStatus]int
	nextSeq uint64
	closed  bool

	// runCtx parents every executor context; cancelled on shutdown.
	runCtx  context.Context
	stopRun context.CancelCauseFunc
	wg      sync.WaitGroup

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics QueueMetrics
}

// NewJobQueue creates a JobQueue. The queue accepts work immediately; timeout
// and retention housekeeping are driven by a JobSupervisor.
func NewJobQueue(
	cfg QueueConfig,
	executor Executor,
	publisher events.DomainEventPublisher,
	logger *logger.Logger,
	tracer trace.Tracer,
	metrics QueueMetrics,
	opts ...QueueOption,
) (*JobQueue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid queue config: %w", err)
	}

	runCtx, stopRun := context.WithCancelCause(context.Background())
	q := &JobQueue{
		cfg:          cfg,
		executor:     executor,
		publisher:    publisher,
		timeProvider: realTimeProvider{},
		newID:        uuid.New,
		jobs:         make(map[uuid.UUID]*queueEntry),
		running:      make(map[uuid.UUID]*queueEntry, cfg.MaxConcurrentJobs),
		counts:       make(map[scanning.JobStatus]int, len(scanning.AllJobStatuses)),
		runCtx:       runCtx,
		stopRun:      stopRun,
		logger:       logger.With("component", "job_queue"),
		tracer:       tracer,
		metrics:      metrics,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Submit validates req and admits it as a queued job, dispatching it at once
// when a slot is free. Rejected requests never create a job.
func (q *JobQueue) Submit(ctx context.Context, req scanning.ScanRequest) (scanning.JobSnapshot, error) {
	ctx, span := q.tracer.Start(ctx, "job_queue.submit",
		trace.WithAttributes(attribute.String("target_type", string(req.TargetType))))
	defer span.End()

	spec, err := req.Validate()
	if err != nil {
		return scanning.JobSnapshot{}, q.reject(ctx, span, scanning.ErrorKindInvalidRequest, err)
	}
	if !spec.WithinRoots(q.cfg.AllowedRoots) {
		err := fmt.Errorf("%w: target %q is outside the allowed scan roots", scanning.ErrInvalidRequest, spec.Path())
		return scanning.JobSnapshot{}, q.reject(ctx, span, scanning.ErrorKindInvalidRequest, err)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return scanning.JobSnapshot{}, q.reject(ctx, span, "", scanning.ErrQueueClosed)
	}
	if len(q.pending) >= q.cfg.MaxQueueSize {
		waiting := len(q.pending)
		q.mu.Unlock()
		err := fmt.Errorf("%w: %d jobs waiting (max %d)", scanning.ErrQueueFull, waiting, q.cfg.MaxQueueSize)
		return scanning.JobSnapshot{}, q.reject(ctx, span, scanning.ErrorKindQueueFull, err)
	}

	q.nextSeq++
	entry := &queueEntry{
		job:             scanning.NewJob(q.newID(), spec, q.timeProvider),
		seq:             q.nextSeq,
		progressLimiter: common.NewRateLimiter(q.cfg.ProgressEventsPerSecond, 1),
	}
	jobID := entry.job.JobID()
	q.jobs[jobID] = entry
	q.pending = append(q.pending, entry)
	q.counts[scanning.JobStatusQueued]++
	q.metrics.IncJobsSubmitted(ctx)
	q.metrics.AddQueuedJobs(ctx, 1)
	q.metrics.IncJobTransition(ctx, scanning.JobStatusQueued)
	q.publishLocked(ctx, scanning.NewJobLifecycleEvent(entry.job.Snapshot()))

	q.dispatchLocked(ctx)
	snap := entry.job.Snapshot()
	q.mu.Unlock()

	span.SetAttributes(
		attribute.String("job_id", jobID.String()),
		attribute.String("status", snap.Status.String()),
	)
	span.AddEvent("job_admitted")
	span.SetStatus(codes.Ok, "job admitted")
	q.logger.Info(ctx, "Scan job admitted",
		"job_id", jobID,
		"target_type", spec.TargetType(),
		"target", spec.Path(),
		"status", snap.Status,
	)

	return snap, nil
}

func (q *JobQueue) reject(ctx context.Context, span trace.Span, kind scanning.ErrorKind, err error) error {
	if kind != "" {
		q.metrics.IncJobsRejected(ctx, kind)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "submission rejected")
	q.logger.Warn(ctx, "Scan job rejected", "reason", kind, "error", err)
	return err
}

// dispatchLocked promotes queued jobs in FIFO order while slots are free.
// Caller must hold q.mu.
func (q *JobQueue) dispatchLocked(ctx context.Context) {
	for len(q.running) < q.cfg.MaxConcurrentJobs && len(q.pending) > 0 {
		entry := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.metrics.AddQueuedJobs(ctx, -1)

		jobID := entry.job.JobID()
		startedAt, err := entry.job.Start()
		if err != nil {
			q.logger.Error(ctx, "Failed to start queued job", "job_id", jobID, "error", err)
			continue
		}
		q.counts[scanning.JobStatusQueued]--
		q.counts[scanning.JobStatusRunning]++

		entry.deadline = startedAt.Add(q.cfg.JobTimeout)
		execCtx, cancel := context.WithCancelCause(q.runCtx)
		entry.cancel = cancel
		q.running[jobID] = entry

		q.metrics.AddRunningJobs(ctx, 1)
		q.metrics.IncJobTransition(ctx, scanning.JobStatusRunning)
		q.publishLocked(ctx, scanning.NewJobLifecycleEvent(entry.job.Snapshot()))
		q.logger.Info(ctx, "Scan job dispatched", "job_id", jobID, "deadline", entry.deadline)

		q.wg.Add(1)
		go q.execute(execCtx, entry)
	}
}

// execute runs the executor for entry and records its outcome.
func (q *JobQueue) execute(ctx context.Context, entry *queueEntry) {
	defer q.wg.Done()

	jobID := entry.job.JobID()
	ctx, span := q.tracer.Start(ctx, "job_queue.execute",
		trace.WithAttributes(
			attribute.String("job_id", jobID.String()),
			attribute.String("target", entry.job.Spec().Path()),
		))
	defer span.End()

	onProgress := func(processed, total int64, currentFile string) {
		entry.emitMu.Lock()
		defer entry.emitMu.Unlock()

		p, ok := entry.job.UpdateProgress(processed, total, currentFile)
		if !ok {
			return
		}
		// The final update always goes out so subscribers observe 100%.
		if !entry.progressLimiter.Allow() && (total == 0 || processed < total) {
			q.metrics.IncProgressEventsThrottled(ctx)
			return
		}
		q.publish(ctx, scanning.NewJobProgressedEvent(jobID, p, q.timeProvider.Now()))
	}

	result, err := q.runExecutor(ctx, entry.job.Spec(), onProgress)
	if err != nil {
		span.RecordError(err)
	}
	q.finish(ctx, entry, result, err)
}

func (q *JobQueue) runExecutor(
	ctx context.Context,
	spec scanning.ScanSpec,
	onProgress ProgressFunc,
) (result *scanning.ScanResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return q.executor.Run(ctx, spec, onProgress)
}

// finish applies the executor outcome unless the job already left the running
// set through a timeout or shutdown.
func (q *JobQueue) finish(ctx context.Context, entry *queueEntry, result *scanning.ScanResult, runErr error) {
	jobID := entry.job.JobID()
	cause := context.Cause(ctx)

	q.mu.Lock()
	if _, ok := q.running[jobID]; !ok {
		q.mu.Unlock()
		q.logger.Debug(ctx, "Executor returned for job no longer running", "job_id", jobID, "error", runErr)
		return
	}
	delete(q.running, jobID)
	entry.cancel(nil)

	entry.emitMu.Lock()
	var err error
	switch {
	case entry.job.CancelRequested(), errors.Is(cause, errCancelRequested), errors.Is(cause, errQueueShutdown):
		err = entry.job.Cancel()
	case runErr != nil:
		err = entry.job.Fail(scanning.NewExecutorError(runErr))
	case result == nil:
		err = entry.job.Fail(scanning.NewExecutorError(errors.New("executor returned no result")))
	default:
		err = entry.job.Complete(result)
	}
	snap := entry.job.Snapshot()
	if err != nil {
		q.logger.Error(ctx, "Failed to record job outcome", "job_id", jobID, "error", err)
	} else {
		q.publishLocked(ctx, scanning.NewJobLifecycleEvent(snap))
	}
	entry.emitMu.Unlock()

	q.counts[scanning.JobStatusRunning]--
	q.counts[snap.Status]++
	q.recordTerminal(ctx, snap)
	q.dispatchLocked(ctx)
	q.mu.Unlock()

	q.logger.Info(ctx, "Scan job finished", "job_id", jobID, "status", snap.Status)
	q.archive(snap)
}

func (q *JobQueue) recordTerminal(ctx context.Context, snap scanning.JobSnapshot) {
	q.metrics.AddRunningJobs(ctx, -1)
	q.metrics.IncJobTransition(ctx, snap.Status)
	if snap.StartedAt != nil && snap.CompletedAt != nil {
		q.metrics.ObserveJobDuration(ctx, snap.Status, snap.CompletedAt.Sub(*snap.StartedAt))
	}
}

// Cancel cancels a queued job immediately and requests cooperative
// cancellation of a running one. The running job stays running, flagged, until
// its executor returns. Terminal jobs and repeated requests yield
// ErrNotCancellable along with the current snapshot.
func (q *JobQueue) Cancel(ctx context.Context, jobID uuid.UUID) (scanning.JobSnapshot, error) {
	ctx, span := q.tracer.Start(ctx, "job_queue.cancel",
		trace.WithAttributes(attribute.String("job_id", jobID.String())))
	defer span.End()

	q.mu.Lock()
	entry, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		span.SetStatus(codes.Error, "job not found")
		return scanning.JobSnapshot{}, fmt.Errorf("%w: %s", scanning.ErrJobNotFound, jobID)
	}

	switch status := entry.job.Status(); status {
	case scanning.JobStatusQueued:
		q.removePendingLocked(entry)
		q.metrics.AddQueuedJobs(ctx, -1)

		entry.emitMu.Lock()
		err := entry.job.Cancel()
		snap := entry.job.Snapshot()
		if err == nil {
			q.publishLocked(ctx, scanning.NewJobLifecycleEvent(snap))
			q.counts[scanning.JobStatusQueued]--
			q.counts[scanning.JobStatusCancelled]++
			q.metrics.IncJobTransition(ctx, scanning.JobStatusCancelled)
		}
		entry.emitMu.Unlock()
		q.mu.Unlock()

		if err != nil {
			span.RecordError(err)
			return snap, err
		}
		span.AddEvent("queued_job_cancelled")
		q.logger.Info(ctx, "Queued scan job cancelled", "job_id", jobID)
		q.archive(snap)
		return snap, nil

	case scanning.JobStatusRunning:
		if err := entry.job.RequestCancel(); err != nil {
			snap := entry.job.Snapshot()
			q.mu.Unlock()
			span.SetStatus(codes.Error, "job not cancellable")
			return snap, err
		}
		entry.cancel(errCancelRequested)
		snap := entry.job.Snapshot()
		q.mu.Unlock()

		span.AddEvent("cancellation_requested")
		q.logger.Info(ctx, "Cancellation requested for running scan job", "job_id", jobID)
		return snap, nil

	default:
		snap := entry.job.Snapshot()
		q.mu.Unlock()
		span.SetStatus(codes.Error, "job not cancellable")
		return snap, fmt.Errorf("%w: job is %s", scanning.ErrNotCancellable, status)
	}
}

func (q *JobQueue) removePendingLocked(entry *queueEntry) {
	if i := slices.Index(q.pending, entry); i >= 0 {
		q.pending = slices.Delete(q.pending, i, i+1)
	}
}

// GetStatus returns the current snapshot of a job. A job is never observed in
// a state whose event has not been published yet.
func (q *JobQueue) GetStatus(ctx context.Context, jobID uuid.UUID) (scanning.JobSnapshot, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.jobs[jobID]
	if !ok {
		return scanning.JobSnapshot{}, fmt.Errorf("%w: %s", scanning.ErrJobNotFound, jobID)
	}
	return entry.job.Snapshot(), nil
}

// ListJobs returns retained jobs, most recently created first.
func (q *JobQueue) ListJobs(ctx context.Context, opts ListOptions) (JobPage, error) {
	opts = opts.Normalize()

	q.mu.Lock()
	entries := make([]*queueEntry, 0, len(q.jobs))
	for _, e := range q.jobs {
		entries = append(entries, e)
	}
	q.mu.Unlock()

	slices.SortFunc(entries, func(a, b *queueEntry) int {
		switch {
		case a.seq > b.seq:
			return -1
		case a.seq < b.seq:
			return 1
		}
		return 0
	})

	snaps := make([]scanning.JobSnapshot, 0, len(entries))
	for _, e := range entries {
		snap := e.job.Snapshot()
		if opts.Status != "" && snap.Status != opts.Status {
			continue
		}
		snaps = append(snaps, snap)
	}

	page := JobPage{Total: len(snaps)}
	if opts.Offset >= len(snaps) {
		page.Jobs = []scanning.JobSnapshot{}
		return page, nil
	}
	end := min(opts.Offset+opts.Limit, len(snaps))
	page.Jobs = snaps[opts.Offset:end]
	return page, nil
}

// QueueSnapshot returns queue occupancy and per-status counts read under a
// single lock acquisition.
func (q *JobQueue) QueueSnapshot(ctx context.Context) QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := QueueStats{
		QueueLength:       len(q.pending),
		RunningJobs:       len(q.running),
		MaxConcurrentJobs: q.cfg.MaxConcurrentJobs,
		MaxQueueSize:      q.cfg.MaxQueueSize,
		TotalJobs:         len(q.jobs),
		JobsByStatus:      make(map[scanning.JobStatus]int, len(scanning.AllJobStatuses)),
	}
	for _, s := range scanning.AllJobStatuses {
		stats.JobsByStatus[s] = q.counts[s]
	}
	return stats
}

// ExpireOverdue fails every running job past its deadline with a Timeout
// error, signals its executor, and hands the freed slots to queued jobs. It
// returns the number of jobs expired.
func (q *JobQueue) ExpireOverdue(ctx context.Context) int {
	ctx, span := q.tracer.Start(ctx, "job_queue.expire_overdue")
	defer span.End()

	now := q.timeProvider.Now()
	msg := fmt.Sprintf("job exceeded timeout of %s", q.cfg.JobTimeout)

	q.mu.Lock()
	var expired []scanning.JobSnapshot
	for jobID, entry := range q.running {
		if now.Before(entry.deadline) {
			continue
		}
		delete(q.running, jobID)
		entry.cancel(scanning.ErrJobTimeout)

		entry.emitMu.Lock()
		err := entry.job.Fail(scanning.NewTimeoutError(msg))
		snap := entry.job.Snapshot()
		if err == nil {
			q.publishLocked(ctx, scanning.NewJobLifecycleEvent(snap))
		}
		entry.emitMu.Unlock()
		if err != nil {
			q.logger.Error(ctx, "Failed to time out job", "job_id", jobID, "error", err)
			continue
		}

		q.counts[scanning.JobStatusRunning]--
		q.counts[scanning.JobStatusFailed]++
		q.recordTerminal(ctx, snap)
		q.metrics.IncJobsExpired(ctx)
		expired = append(expired, snap)
	}
	if len(expired) > 0 {
		q.dispatchLocked(ctx)
	}
	q.mu.Unlock()

	for _, snap := range expired {
		q.logger.Warn(ctx, "Scan job timed out", "job_id", snap.ID, "timeout", q.cfg.JobTimeout)
		q.archive(snap)
	}
	span.SetAttributes(attribute.Int("expired_jobs", len(expired)))
	return len(expired)
}

// SweepExpired removes terminal jobs that completed more than RetentionWindow
// ago. Queued and running jobs are never removed. It returns the number of
// jobs removed.
func (q *JobQueue) SweepExpired(ctx context.Context) int {
	ctx, span := q.tracer.Start(ctx, "job_queue.sweep_expired")
	defer span.End()

	cutoff := q.timeProvider.Now().Add(-q.cfg.RetentionWindow)

	q.mu.Lock()
	swept := 0
	for jobID, entry := range q.jobs {
		status := entry.job.Status()
		if !status.IsTerminal() {
			continue
		}
		if completedAt := entry.job.CompletedAt(); !completedAt.Before(cutoff) {
			continue
		}
		delete(q.jobs, jobID)
		q.counts[status]--
		swept++
	}
	q.mu.Unlock()

	q.metrics.AddJobsSwept(ctx, swept)
	span.SetAttributes(
		attribute.Int("swept_jobs", swept),
		attribute.String("cutoff", cutoff.Format(time.RFC3339)),
	)
	if swept > 0 {
		q.logger.Info(ctx, "Swept expired scan jobs", "count", swept, "cutoff", cutoff)
	}
	return swept
}

// Shutdown stops admission, cancels queued jobs, signals running executors and
// waits for them and any pending archive writes to return, or for ctx to end.
func (q *JobQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true

	var cancelled []scanning.JobSnapshot
	for _, entry := range q.pending {
		entry.emitMu.Lock()
		if err := entry.job.Cancel(); err == nil {
			snap := entry.job.Snapshot()
			q.publishLocked(ctx, scanning.NewJobLifecycleEvent(snap))
			q.counts[scanning.JobStatusQueued]--
			q.counts[scanning.JobStatusCancelled]++
			q.metrics.AddQueuedJobs(ctx, -1)
			cancelled = append(cancelled, snap)
		}
		entry.emitMu.Unlock()
	}
	q.pending = nil
	running := len(q.running)
	q.mu.Unlock()

	for _, snap := range cancelled {
		q.archive(snap)
	}
	q.stopRun(errQueueShutdown)
	q.logger.Info(ctx, "Job queue shutting down",
		"cancelled_queued_jobs", len(cancelled),
		"running_jobs", running,
	)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}

// publishLocked emits evt while q.mu is held.
func (q *JobQueue) publishLocked(ctx context.Context, evt scanning.JobEvent) { q.publish(ctx, evt) }

func (q *JobQueue) publish(ctx context.Context, evt scanning.JobEvent) {
	// Detached from the caller's cancellation; delivery is best effort.
	ctx = context.WithoutCancel(ctx)
	if err := q.publisher.PublishDomainEvent(ctx, evt, events.WithKey(evt.JobID.String())); err != nil {
		q.logger.Warn(ctx, "Failed to publish job event",
			"job_id", evt.JobID,
			"event_type", evt.EventType(),
			"error", err,
		)
	}
}

const archiveTimeout = 10 * time.Second

func (q *JobQueue) archive(snap scanning.JobSnapshot) {
	if q.archiver == nil {
		return
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := q.archiver.ArchiveJob(ctx, snap); err != nil {
			q.logger.Error(ctx, "Failed to archive scan job", "job_id", snap.ID, "status", snap.Status, "error", err)
		}
	}()
}
