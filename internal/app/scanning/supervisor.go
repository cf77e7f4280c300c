package scanning

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scanq/pkg/common/logger"
)

// realTimeProvider is a real implementation of scanning.TimeProvider.
type realTimeProvider struct{}

// Now returns the current time.
func (realTimeProvider) Now() time.Time { return time.Now().UTC() }

// housekeeper is the slice of JobQueue the supervisor drives.
type housekeeper interface {
	ExpireOverdue(ctx context.Context) int
	SweepExpired(ctx context.Context) int
}

var errSupervisorStopped = errors.New("job supervisor stopped")

// JobSupervisor periodically fails running jobs that exceeded their deadline
// and removes terminal jobs older than the retention window.
//
// The two checks run on independent tickers so a slow sweep never delays a
// timeout check.
type JobSupervisor struct {
	queue housekeeper

	// timeoutCheckIntv controls how often running jobs are checked against
	// their deadline.
	timeoutCheckIntv time.Duration
	// sweepIntv controls how often retention sweeps run.
	sweepIntv time.Duration

	cancel context.CancelCauseFunc
	done   chan struct{}

	tracer trace.Tracer
	logger *logger.Logger
}

// NewJobSupervisor returns a supervisor for queue. Intervals are not validated
// here; config validation guarantees they are positive.
func NewJobSupervisor(
	queue housekeeper,
	timeoutCheckIntv time.Duration,
	sweepIntv time.Duration,
	tracer trace.Tracer,
	logger *logger.Logger,
) *JobSupervisor {
	return &JobSupervisor{
		queue:            queue,
		timeoutCheckIntv: timeoutCheckIntv,
		sweepIntv:        sweepIntv,
		tracer:           tracer,
		logger:           logger.With("component", "job_supervisor"),
	}
}

// Start launches the timeout and retention loops. They exit when ctx is
// cancelled or Stop is called.
func (s *JobSupervisor) Start(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "job_supervisor.start",
		trace.WithAttributes(
			attribute.String("timeout_check_interval", s.timeoutCheckIntv.String()),
			attribute.String("sweep_interval", s.sweepIntv.String()),
		))
	defer span.End()

	ctx, s.cancel = context.WithCancelCause(ctx)
	s.done = make(chan struct{}, 2)

	go s.loop(ctx, s.timeoutCheckIntv, func(ctx context.Context) {
		if n := s.queue.ExpireOverdue(ctx); n > 0 {
			s.logger.Info(ctx, "Timeout check expired jobs", "count", n)
		}
	})
	go s.loop(ctx, s.sweepIntv, func(ctx context.Context) { s.queue.SweepExpired(ctx) })

	span.AddEvent("supervisor_loops_started")
	s.logger.Info(ctx, "Job supervisor started",
		"timeout_check_interval", s.timeoutCheckIntv,
		"sweep_interval", s.sweepIntv,
	)
}

func (s *JobSupervisor) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		s.done <- struct{}{}
	}()

	for {
		select {
		case <-ticker.C:
			tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Stop terminates both loops and waits for them to exit.
func (s *JobSupervisor) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel(errSupervisorStopped)
	<-s.done
	<-s.done
	s.cancel = nil
}
