package scanning

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/scanq/internal/domain/events"
	"github.com/ahrav/scanq/internal/domain/scanning"
	"github.com/ahrav/scanq/pkg/common/logger"
)

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type mockTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// recordingPublisher implements events.DomainEventPublisher and keeps every
// published job event in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []scanning.JobEvent
}

func (p *recordingPublisher) PublishDomainEvent(_ context.Context, evt events.DomainEvent, _ ...events.PublishOption) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if je, ok := evt.(scanning.JobEvent); ok {
		p.events = append(p.events, je)
	}
	return nil
}

// kinds returns the event kinds published for jobID, in order.
func (p *recordingPublisher) kinds(jobID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if e.JobID.String() == jobID {
			out = append(out, scanning.EventKind(e.EventType()))
		}
	}
	return out
}

// mockArchiver implements JobArchiver for testing.
type mockArchiver struct{ mock.Mock }

func (m *mockArchiver) ArchiveJob(ctx context.Context, snap scanning.JobSnapshot) error {
	args := m.Called(ctx, snap)
	return args.Error(0)
}

type runOutcome struct {
	result *scanning.ScanResult
	err    error
}

// fakeRun is one in-flight call to fakeExecutor.Run.
type fakeRun struct {
	path       string
	onProgress ProgressFunc
	outcome    chan runOutcome
}

// fakeExecutor blocks every Run until the test resolves it. Unless
// ignoreCancel is set, a cancelled context ends the run with its cause.
type fakeExecutor struct {
	ignoreCancel bool

	mu      sync.Mutex
	runs    map[string]*fakeRun
	started chan string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		runs:    make(map[string]*fakeRun),
		started: make(chan string, 64),
	}
}

func (f *fakeExecutor) Run(ctx context.Context, spec scanning.ScanSpec, onProgress ProgressFunc) (*scanning.ScanResult, error) {
	run := &fakeRun{path: spec.Path(), onProgress: onProgress, outcome: make(chan runOutcome, 1)}
	f.mu.Lock()
	f.runs[run.path] = run
	f.mu.Unlock()
	f.started <- run.path

	if f.ignoreCancel {
		o := <-run.outcome
		return o.result, o.err
	}
	select {
	case o := <-run.outcome:
		return o.result, o.err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

func (f *fakeExecutor) run(t *testing.T, path string) *fakeRun {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[path]
	require.True(t, ok, "executor never started %s", path)
	return r
}

// waitStarted blocks until n runs have started.
func (f *fakeExecutor) waitStarted(t *testing.T, n int) []string {
	t.Helper()
	var paths []string
	for range n {
		select {
		case p := <-f.started:
			paths = append(paths, p)
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d runs started", len(paths), n)
		}
	}
	return paths
}

func (f *fakeExecutor) complete(t *testing.T, path string, result *scanning.ScanResult) {
	t.Helper()
	f.run(t, path).outcome <- runOutcome{result: result}
}

func (f *fakeExecutor) fail(t *testing.T, path string, err error) {
	t.Helper()
	f.run(t, path).outcome <- runOutcome{err: err}
}

func testQueueConfig() QueueConfig {
	cfg := DefaultQueueConfig()
	cfg.ProgressEventsPerSecond = 0
	return cfg
}

func newTestQueue(t *testing.T, cfg QueueConfig, exec Executor, opts ...QueueOption) (*JobQueue, *recordingPublisher) {
	t.Helper()

	metrics, err := NewQueueMetrics(metricnoop.NewMeterProvider())
	require.NoError(t, err)

	pub := new(recordingPublisher)
	q, err := NewJobQueue(cfg, exec, pub, logger.Noop(), noop.NewTracerProvider().Tracer("test"), metrics, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, q.Shutdown(ctx))
	})
	return q, pub
}

func pathRequest(target string) scanning.ScanRequest {
	return scanning.ScanRequest{TargetType: scanning.TargetTypePath, Target: target}
}

// waitForStatus polls until the job reaches want.
func waitForStatus(t *testing.T, q *JobQueue, snap scanning.JobSnapshot, want scanning.JobStatus) scanning.JobSnapshot {
	t.Helper()
	var got scanning.JobSnapshot
	require.Eventually(t, func() bool {
		var err error
		got, err = q.GetStatus(context.Background(), snap.ID)
		return err == nil && got.Status == want
	}, 2*time.Second, 5*time.Millisecond, "job %s never reached %s", snap.ID, want)
	return got
}
