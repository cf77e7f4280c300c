// Package scanning binds the scan job endpoints and the job event push
// channel.
package scanning

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/ahrav/scanq/internal/api/errs"
	appscanning "github.com/ahrav/scanq/internal/app/scanning"
	"github.com/ahrav/scanq/internal/domain/scanning"
	"github.com/ahrav/scanq/internal/infra/eventbus/memory"
	"github.com/ahrav/scanq/pkg/common/logger"
	"github.com/ahrav/scanq/pkg/web"
)

// JobQueue is the scheduler surface the handlers use.
type JobQueue interface {
	Submit(ctx context.Context, req scanning.ScanRequest) (scanning.JobSnapshot, error)
	Cancel(ctx context.Context, jobID uuid.UUID) (scanning.JobSnapshot, error)
	GetStatus(ctx context.Context, jobID uuid.UUID) (scanning.JobSnapshot, error)
	ListJobs(ctx context.Context, opts appscanning.ListOptions) (appscanning.JobPage, error)
	QueueSnapshot(ctx context.Context) appscanning.QueueStats
}

// Metrics is recorded by the scan handlers and the push channel.
type Metrics interface {
	IncScanRequestsTotal(ctx context.Context)
	IncScanRequestErrors(ctx context.Context, reason string)
	AddPushClients(ctx context.Context, delta int64)
	AddPushEventsDropped(ctx context.Context, n int64)
}

// Config contains the dependencies needed by the scan handlers.
type Config struct {
	Log         *logger.Logger
	Queue       JobQueue
	Broadcaster *memory.Broadcaster
	Metrics     Metrics
	// History is optional; the history routes are only bound when set.
	History appscanning.JobHistory
	// Origins allowed to open the push channel. Empty means same origin only.
	Origins []string
}

// Routes binds all the scan endpoints.
func Routes(app *web.App, cfg Config) {
	const version = "v1"

	app.HandlerFunc(http.MethodPost, version, "/scans", submit(cfg))
	app.HandlerFunc(http.MethodGet, version, "/scans", list(cfg))
	app.HandlerFunc(http.MethodGet, version, "/scans/queue", queueSnapshot(cfg))
	app.RawHandlerFunc(http.MethodGet, version, "/scans/events", newPushHandler(cfg).ServeHTTP)
	app.HandlerFunc(http.MethodGet, version, "/scans/{id}", getJob(cfg))
	app.HandlerFunc(http.MethodPost, version, "/scans/{id}/cancel", cancel(cfg))

	if cfg.History != nil {
		app.HandlerFunc(http.MethodGet, version, "/history", listHistory(cfg))
		app.HandlerFunc(http.MethodGet, version, "/history/{id}", getHistory(cfg))
	}
}

// submit admits a scan request.
func submit(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		cfg.Metrics.IncScanRequestsTotal(ctx)

		var req submitRequest
		if err := web.Decode(r, &req); err != nil {
			cfg.Metrics.IncScanRequestErrors(ctx, string(scanning.ErrorKindInvalidRequest))
			return errs.New(errs.InvalidArgument, err)
		}
		if err := errs.Check(req); err != nil {
			cfg.Metrics.IncScanRequestErrors(ctx, string(scanning.ErrorKindInvalidRequest))
			return invalidArgument(err)
		}

		snap, err := cfg.Queue.Submit(ctx, req.toDomain())
		if err != nil {
			e := errs.FromDomain(err)
			reason := e.Kind
			if reason == "" {
				reason = e.Code.String()
			}
			cfg.Metrics.IncScanRequestErrors(ctx, reason)
			return e
		}

		return submitResponse{
			ID:        snap.ID.String(),
			Status:    snap.Status.String(),
			CreatedAt: snap.CreatedAt,
		}
	}
}

// getJob returns one job known to the queue.
func getJob(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		jobID, perr := parseJobID(r)
		if perr != nil {
			return perr
		}

		snap, err := cfg.Queue.GetStatus(ctx, jobID)
		if err != nil {
			return errs.FromDomain(err)
		}
		return toJobResponse(snap)
	}
}

// cancel cancels a queued job or asks a running one to stop.
func cancel(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		jobID, perr := parseJobID(r)
		if perr != nil {
			return perr
		}

		snap, err := cfg.Queue.Cancel(ctx, jobID)
		if err != nil {
			e := errs.FromDomain(err)
			if errors.Is(err, scanning.ErrNotCancellable) {
				e.Fields = map[string]any{"status": snap.Status.String()}
			}
			return e
		}

		return cancelResponse{
			ID:              snap.ID.String(),
			Status:          snap.Status.String(),
			CancelRequested: snap.CancelRequested,
		}
	}
}

// list pages through the jobs the queue still holds.
func list(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		q, perr := parseListQuery(r)
		if perr != nil {
			return perr
		}

		opts := q.toOptions()
		page, err := cfg.Queue.ListJobs(ctx, opts)
		if err != nil {
			return errs.FromDomain(err)
		}
		return toListResponse(page, opts)
	}
}

// queueSnapshot reports queue occupancy.
func queueSnapshot(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		return toQueueResponse(cfg.Queue.QueueSnapshot(ctx))
	}
}

// listHistory pages through archived jobs.
func listHistory(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		q, perr := parseListQuery(r)
		if perr != nil {
			return perr
		}

		opts := q.toOptions()
		page, err := cfg.History.ListJobs(ctx, opts)
		if err != nil {
			return errs.FromDomain(err)
		}
		return toListResponse(page, opts)
	}
}

// getHistory returns one archived job.
func getHistory(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		jobID, perr := parseJobID(r)
		if perr != nil {
			return perr
		}

		snap, err := cfg.History.GetJob(ctx, jobID)
		if err != nil {
			return errs.FromDomain(err)
		}
		return toJobResponse(snap)
	}
}

func parseJobID(r *http.Request) (uuid.UUID, *errs.Error) {
	raw := web.Param(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errs.Newf(errs.InvalidArgument, "invalid job id %q", raw)
	}
	return id, nil
}

func parseListQuery(r *http.Request) (listQuery, *errs.Error) {
	values := r.URL.Query()

	var q listQuery
	for name, dst := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		raw := values.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return listQuery{}, errs.Newf(errs.InvalidArgument, "%s: %q is not an integer", name, raw)
		}
		*dst = n
	}
	q.Status = values.Get("status")

	if err := errs.Check(q); err != nil {
		return listQuery{}, invalidArgument(err)
	}
	return q, nil
}

// invalidArgument keeps the field details of a validation error.
func invalidArgument(err error) *errs.Error {
	if e := errs.GetError(err); e != nil {
		return e
	}
	return errs.New(errs.InvalidArgument, err)
}
