package scanning

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/scanq/internal/api/mid"
	appscanning "github.com/ahrav/scanq/internal/app/scanning"
	"github.com/ahrav/scanq/internal/domain/events"
	"github.com/ahrav/scanq/internal/domain/scanning"
	"github.com/ahrav/scanq/internal/infra/eventbus/memory"
	"github.com/ahrav/scanq/pkg/common/logger"
	"github.com/ahrav/scanq/pkg/web"
)

type mockQueue struct{ mock.Mock }

func (m *mockQueue) Submit(ctx context.Context, req scanning.ScanRequest) (scanning.JobSnapshot, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(scanning.JobSnapshot), args.Error(1)
}

func (m *mockQueue) Cancel(ctx context.Context, jobID uuid.UUID) (scanning.JobSnapshot, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(scanning.JobSnapshot), args.Error(1)
}

func (m *mockQueue) GetStatus(ctx context.Context, jobID uuid.UUID) (scanning.JobSnapshot, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(scanning.JobSnapshot), args.Error(1)
}

func (m *mockQueue) ListJobs(ctx context.Context, opts appscanning.ListOptions) (appscanning.JobPage, error) {
	args := m.Called(ctx, opts)
	return args.Get(0).(appscanning.JobPage), args.Error(1)
}

func (m *mockQueue) QueueSnapshot(ctx context.Context) appscanning.QueueStats {
	return m.Called(ctx).Get(0).(appscanning.QueueStats)
}

type noopMetrics struct{}

func (noopMetrics) IncScanRequestsTotal(context.Context)         {}
func (noopMetrics) IncScanRequestErrors(context.Context, string) {}
func (noopMetrics) AddPushClients(context.Context, int64)        {}
func (noopMetrics) AddPushEventsDropped(context.Context, int64)  {}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var clock = fixedClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}

func newTestServer(t *testing.T, q JobQueue, b *memory.Broadcaster) *httptest.Server {
	t.Helper()

	log := logger.Noop()
	tracer := noop.NewTracerProvider().Tracer("test")
	app := web.NewApp(
		func(context.Context, string, ...any) {},
		tracer,
		mid.Otel(tracer),
		mid.Errors(log),
		mid.Panics(),
	)
	if b == nil {
		b = memory.NewBroadcaster()
	}
	Routes(app, Config{
		Log:         log,
		Queue:       q,
		Broadcaster: b,
		Metrics:     noopMetrics{},
	})

	srv := httptest.NewServer(app)
	t.Cleanup(srv.Close)
	return srv
}

func queuedSnapshot(t *testing.T, target string) scanning.JobSnapshot {
	t.Helper()
	return scanning.NewJob(uuid.New(), scanning.NewScanSpec(scanning.TargetTypePath, target, scanning.ScanOptions{}), clock).Snapshot()
}

func runningJob(t *testing.T) *scanning.Job {
	t.Helper()
	job := scanning.NewJob(uuid.New(), scanning.NewScanSpec(scanning.TargetTypePath, "/srv/repo", scanning.ScanOptions{}), clock)
	_, err := job.Start()
	require.NoError(t, err)
	return job
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func TestSubmit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		setup      func(q *mockQueue)
		wantStatus int
		wantKind   string
		check      func(t *testing.T, resp *http.Response, body map[string]any)
	}{
		{
			name: "accepted",
			body: `{"target":"/srv/repo","options":{"exclude":["*.log"]}}`,
			setup: func(q *mockQueue) {
				q.On("Submit", mock.Anything, mock.MatchedBy(func(r scanning.ScanRequest) bool {
					return r.Target == "/srv/repo" && len(r.Options.Exclude) == 1
				})).Return(queuedSnapshot(t, "/srv/repo"), nil)
			},
			wantStatus: http.StatusAccepted,
			check: func(t *testing.T, _ *http.Response, body map[string]any) {
				assert.Equal(t, "queued", body["status"])
				_, err := uuid.Parse(body["id"].(string))
				assert.NoError(t, err)
			},
		},
		{
			name: "object target rejected by domain",
			body: `{"target":{"$ne":null}}`,
			setup: func(q *mockQueue) {
				q.On("Submit", mock.Anything, mock.Anything).Return(scanning.JobSnapshot{},
					fmt.Errorf("%w: target contains object - potential injection risk", scanning.ErrInvalidRequest))
			},
			wantStatus: http.StatusBadRequest,
			wantKind:   "InvalidRequest",
			check: func(t *testing.T, _ *http.Response, body map[string]any) {
				assert.Contains(t, body["message"], "potential injection risk")
			},
		},
		{
			name: "queue full",
			body: `{"target":"/srv/repo"}`,
			setup: func(q *mockQueue) {
				q.On("Submit", mock.Anything, mock.Anything).Return(scanning.JobSnapshot{}, scanning.ErrQueueFull)
			},
			wantStatus: http.StatusTooManyRequests,
			wantKind:   "QueueFull",
			check: func(t *testing.T, resp *http.Response, _ map[string]any) {
				assert.NotEmpty(t, resp.Header.Get("Retry-After"))
			},
		},
		{
			name: "queue closed",
			body: `{"target":"/srv/repo"}`,
			setup: func(q *mockQueue) {
				q.On("Submit", mock.Anything, mock.Anything).Return(scanning.JobSnapshot{}, scanning.ErrQueueClosed)
			},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "unknown field",
			body:       `{"target":"/srv/repo","priority":1}`,
			setup:      func(*mockQueue) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad target type",
			body:       `{"target":"/srv/repo","target_type":"bucket"}`,
			setup:      func(*mockQueue) {},
			wantStatus: http.StatusBadRequest,
			check: func(t *testing.T, _ *http.Response, body map[string]any) {
				fields, ok := body["fields"].(map[string]any)
				require.True(t, ok)
				assert.Contains(t, fields, "target_type")
			},
		},
		{
			name:       "empty body",
			body:       ``,
			setup:      func(*mockQueue) {},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			q := new(mockQueue)
			tt.setup(q)
			srv := newTestServer(t, q, nil)

			resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/scans", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, body["kind"])
			}
			if tt.check != nil {
				tt.check(t, resp, body)
			}
			q.AssertExpectations(t)
		})
	}
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	job := runningJob(t)
	job.UpdateProgress(5, 10, "main.go")
	snap := job.Snapshot()
	missing := uuid.New()

	q := new(mockQueue)
	q.On("GetStatus", mock.Anything, snap.ID).Return(snap, nil)
	q.On("GetStatus", mock.Anything, missing).Return(scanning.JobSnapshot{}, scanning.ErrJobNotFound)
	srv := newTestServer(t, q, nil)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/scans/"+snap.ID.String(), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "running", body["status"])
	progress := body["progress"].(map[string]any)
	assert.InDelta(t, 50.0, progress["percentage"], 0.001)
	assert.Equal(t, "main.go", progress["current_file"])

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/v1/scans/"+missing.String(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NotFound", body["kind"])

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/scans/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancel(t *testing.T) {
	t.Parallel()

	queued := scanning.NewJob(uuid.New(), scanning.NewScanSpec(scanning.TargetTypePath, "/srv/a", scanning.ScanOptions{}), clock)
	require.NoError(t, queued.Cancel())

	running := runningJob(t)
	require.NoError(t, running.RequestCancel())

	done := runningJob(t)
	require.NoError(t, done.Complete(&scanning.ScanResult{}))

	q := new(mockQueue)
	q.On("Cancel", mock.Anything, queued.JobID()).Return(queued.Snapshot(), nil)
	q.On("Cancel", mock.Anything, running.JobID()).Return(running.Snapshot(), nil)
	q.On("Cancel", mock.Anything, done.JobID()).Return(done.Snapshot(), fmt.Errorf("%w: job is completed", scanning.ErrNotCancellable))
	srv := newTestServer(t, q, nil)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/scans/"+queued.JobID().String()+"/cancel", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", body["status"])

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/v1/scans/"+running.JobID().String()+"/cancel", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, true, body["cancel_requested"])

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/v1/scans/"+done.JobID().String()+"/cancel", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "NotCancellable", body["kind"])
	assert.Equal(t, "completed", body["fields"].(map[string]any)["status"])
}

func TestListJobs(t *testing.T) {
	t.Parallel()

	a, b := queuedSnapshot(t, "/srv/a"), queuedSnapshot(t, "/srv/b")

	q := new(mockQueue)
	q.On("ListJobs", mock.Anything, appscanning.ListOptions{Limit: 2, Offset: 0, Status: scanning.JobStatusQueued}).
		Return(appscanning.JobPage{Jobs: []scanning.JobSnapshot{b, a}, Total: 7}, nil)
	srv := newTestServer(t, q, nil)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/scans?limit=2&status=queued", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 7, body["total"])
	assert.EqualValues(t, 2, body["limit"])
	jobs := body["jobs"].([]any)
	require.Len(t, jobs, 2)
	assert.Equal(t, b.ID.String(), jobs[0].(map[string]any)["id"])

	for _, query := range []string{"limit=abc", "limit=501", "offset=-1", "status=paused"} {
		resp, _ := doJSON(t, http.MethodGet, srv.URL+"/v1/scans?"+query, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}
	q.AssertExpectations(t)
}

func TestQueueSnapshot(t *testing.T) {
	t.Parallel()

	q := new(mockQueue)
	q.On("QueueSnapshot", mock.Anything).Return(appscanning.QueueStats{
		QueueLength:       2,
		RunningJobs:       3,
		MaxConcurrentJobs: 3,
		MaxQueueSize:      100,
		TotalJobs:         6,
		JobsByStatus: map[scanning.JobStatus]int{
			scanning.JobStatusQueued:  2,
			scanning.JobStatusRunning: 3,
			scanning.JobStatusFailed:  1,
		},
	})
	srv := newTestServer(t, q, nil)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/scans/queue", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["queue_length"])
	assert.EqualValues(t, 3, body["running_jobs"])
	byStatus := body["jobs_by_status"].(map[string]any)
	assert.EqualValues(t, 1, byStatus["failed"])
	assert.EqualValues(t, 0, byStatus["completed"])
}

func TestHistoryRoutesRequireStore(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, new(mockQueue), nil)
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/v1/history", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPushChannelStreamsFilteredEvents(t *testing.T) {
	t.Parallel()

	b := memory.NewBroadcaster()
	srv := newTestServer(t, new(mockQueue), b)

	watched := queuedSnapshot(t, "/srv/watched")
	other := queuedSnapshot(t, "/srv/other")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/scans/events?job_id=" + watched.ID.String()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return b.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, b.PublishDomainEvent(ctx, scanning.NewJobLifecycleEvent(other), events.WithKey(other.ID.String())))
	require.NoError(t, b.PublishDomainEvent(ctx, scanning.NewJobLifecycleEvent(watched), events.WithKey(watched.ID.String())))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(frame, &got))
	assert.Equal(t, "queued", got["type"])
	assert.Equal(t, watched.ID.String(), got["job_id"])
	assert.Equal(t, "queued", got["status"])
	assert.NotEmpty(t, got["occurred_at"])

	// Closing the broadcaster ends the stream with a close frame.
	b.Close()
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
}

func TestPushChannelRejectsBadJobID(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, new(mockQueue), nil)
	resp, err := http.Get(srv.URL + "/v1/scans/events?job_id=nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
