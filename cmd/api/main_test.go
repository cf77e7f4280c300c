package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	appscanning "github.com/ahrav/scanq/internal/app/scanning"
	"github.com/ahrav/scanq/internal/domain/events"
	"github.com/ahrav/scanq/internal/domain/scanning"
	"github.com/ahrav/scanq/internal/infra/eventbus/memory"
	"github.com/ahrav/scanq/pkg/common/logger"
)

// blockingExecutor runs until its context ends.
type blockingExecutor struct{ started chan struct{} }

func (e blockingExecutor) Run(ctx context.Context, _ scanning.ScanSpec, _ appscanning.ProgressFunc) (*scanning.ScanResult, error) {
	e.started <- struct{}{}
	<-ctx.Done()
	return nil, context.Cause(ctx)
}

func TestShutdownServices_SinkReceivesShutdownCancellations(t *testing.T) {
	ctx := context.Background()
	tracer := noop.NewTracerProvider().Tracer("test")

	broadcaster := memory.NewBroadcaster()
	sinkSub, err := broadcaster.Subscribe(ctx, 64, nil)
	require.NoError(t, err)

	var forwarded []events.EventEnvelope
	sinkDone := make(chan struct{})
	go func() {
		defer close(sinkDone)
		for env := range sinkSub.Events() {
			forwarded = append(forwarded, env)
		}
	}()

	metrics, err := appscanning.NewQueueMetrics(metricnoop.NewMeterProvider())
	require.NoError(t, err)

	cfg := appscanning.DefaultQueueConfig()
	cfg.MaxConcurrentJobs = 1
	cfg.ProgressEventsPerSecond = 0
	exec := blockingExecutor{started: make(chan struct{}, 1)}
	queue, err := appscanning.NewJobQueue(cfg, exec, broadcaster, logger.Noop(), tracer, metrics)
	require.NoError(t, err)

	supervisor := appscanning.NewJobSupervisor(queue, time.Hour, time.Hour, tracer, logger.Noop())
	supervisor.Start(ctx)

	running, err := queue.Submit(ctx, scanning.ScanRequest{TargetType: scanning.TargetTypePath, Target: "/srv/a"})
	require.NoError(t, err)
	queued, err := queue.Submit(ctx, scanning.ScanRequest{TargetType: scanning.TargetTypePath, Target: "/srv/b"})
	require.NoError(t, err)
	require.Equal(t, scanning.JobStatusQueued, queued.Status)
	<-exec.started

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, shutdownServices(shutdownCtx, logger.Noop(), services{
		api:         &http.Server{},
		supervisor:  supervisor,
		queue:       queue,
		broadcaster: broadcaster,
		sinkDone:    sinkDone,
	}))

	cancelled := make(map[string]bool)
	for _, env := range forwarded {
		evt, ok := env.Payload.(scanning.JobEvent)
		require.True(t, ok)
		if evt.Status == scanning.JobStatusCancelled {
			cancelled[evt.JobID.String()] = true
		}
	}
	assert.True(t, cancelled[queued.ID.String()], "queued job cancellation was not forwarded")
	assert.True(t, cancelled[running.ID.String()], "running job cancellation was not forwarded")
}

type stepRecorder struct{ steps []string }

type fakeServer struct{ rec *stepRecorder }

func (s fakeServer) Shutdown(context.Context) error {
	s.rec.steps = append(s.rec.steps, "api")
	return nil
}

func (s fakeServer) Close() error { return nil }

type fakeSupervisor struct{ rec *stepRecorder }

func (s fakeSupervisor) Stop() { s.rec.steps = append(s.rec.steps, "supervisor") }

type fakeQueue struct {
	rec *stepRecorder
	err error
}

func (q fakeQueue) Shutdown(context.Context) error {
	q.rec.steps = append(q.rec.steps, "queue")
	return q.err
}

type fakeBroadcaster struct{ rec *stepRecorder }

func (b fakeBroadcaster) Close() { b.rec.steps = append(b.rec.steps, "broadcaster") }

func TestShutdownServices_Order(t *testing.T) {
	tests := []struct {
		name      string
		withAPI   bool
		queueErr  error
		wantSteps []string
	}{
		{
			name:      "signal",
			withAPI:   true,
			wantSteps: []string{"api", "supervisor", "queue", "broadcaster"},
		},
		{
			name:      "server error skips the api and reports the queue error",
			queueErr:  context.DeadlineExceeded,
			wantSteps: []string{"supervisor", "queue", "broadcaster"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &stepRecorder{}
			done := make(chan struct{})
			close(done)

			svc := services{
				supervisor:  fakeSupervisor{rec: rec},
				queue:       fakeQueue{rec: rec, err: tt.queueErr},
				broadcaster: fakeBroadcaster{rec: rec},
				sinkDone:    done,
			}
			if tt.withAPI {
				svc.api = fakeServer{rec: rec}
			}

			err := shutdownServices(context.Background(), logger.Noop(), svc)
			if tt.queueErr != nil {
				assert.ErrorIs(t, err, tt.queueErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantSteps, rec.steps)
		})
	}
}
