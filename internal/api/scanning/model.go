package scanning

import (
	"encoding/json"
	"net/http"
	"time"

	appscanning "github.com/ahrav/scanq/internal/app/scanning"
	"github.com/ahrav/scanq/internal/domain/scanning"
)

// submitRequest is the payload for POST /v1/scans. Target stays untyped so the
// domain can reject objects and arrays explicitly.
type submitRequest struct {
	TargetType string         `json:"target_type,omitempty" validate:"omitempty,oneof=path archive"`
	Target     any            `json:"target"`
	Options    optionsRequest `json:"options"`
}

type optionsRequest struct {
	Exclude     []string          `json:"exclude,omitempty" validate:"max=64,dive,required"`
	MaxFileSize int64             `json:"max_file_size,omitempty" validate:"gte=0"`
	Labels      map[string]string `json:"labels,omitempty" validate:"max=16"`
}

func (r submitRequest) toDomain() scanning.ScanRequest {
	return scanning.ScanRequest{
		TargetType: scanning.TargetType(r.TargetType),
		Target:     r.Target,
		Options: scanning.ScanOptions{
			Exclude:     r.Options.Exclude,
			MaxFileSize: r.Options.MaxFileSize,
			Labels:      r.Options.Labels,
		},
	}
}

// submitResponse acknowledges an admitted job.
type submitResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Encode implements the web.Encoder interface.
func (sr submitResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(sr)
	return data, "application/json", err
}

// HTTPStatus implements the httpStatus interface to set the response status code.
func (submitResponse) HTTPStatus() int { return http.StatusAccepted }

type findingResponse = scanning.Finding

type resultResponse struct {
	FilesScanned    int64             `json:"files_scanned"`
	FilesSkipped    int64             `json:"files_skipped"`
	BytesScanned    int64             `json:"bytes_scanned"`
	DurationSeconds float64           `json:"duration_seconds"`
	FindingsCount   int               `json:"findings_count"`
	Findings        []findingResponse `json:"findings"`
}

// jobResponse is the full view of one job.
type jobResponse struct {
	ID              string               `json:"id"`
	Status          string               `json:"status"`
	TargetType      string               `json:"target_type"`
	Target          string               `json:"target"`
	Options         scanning.ScanOptions `json:"options"`
	Progress        scanning.Progress    `json:"progress"`
	Result          *resultResponse      `json:"result,omitempty"`
	Error           *scanning.JobError   `json:"error,omitempty"`
	CancelRequested bool                 `json:"cancel_requested"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty"`
}

// Encode implements the web.Encoder interface.
func (jr jobResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(jr)
	return data, "application/json", err
}

func toJobResponse(snap scanning.JobSnapshot) jobResponse {
	jr := jobResponse{
		ID:              snap.ID.String(),
		Status:          snap.Status.String(),
		TargetType:      string(snap.Spec.TargetType()),
		Target:          snap.Spec.Path(),
		Options:         snap.Spec.Options(),
		Progress:        snap.Progress,
		Error:           snap.Error,
		CancelRequested: snap.CancelRequested,
		CreatedAt:       snap.CreatedAt,
		UpdatedAt:       snap.UpdatedAt,
		StartedAt:       snap.StartedAt,
		CompletedAt:     snap.CompletedAt,
	}
	if res := snap.Result; res != nil {
		findings := res.Findings
		if findings == nil {
			findings = []scanning.Finding{}
		}
		jr.Result = &resultResponse{
			FilesScanned:    res.FilesScanned,
			FilesSkipped:    res.FilesSkipped,
			BytesScanned:    res.BytesScanned,
			DurationSeconds: res.Duration.Seconds(),
			FindingsCount:   len(res.Findings),
			Findings:        findings,
		}
	}
	return jr
}

// listQuery holds the GET /v1/scans query string.
type listQuery struct {
	Limit  int    `json:"limit" validate:"gte=0,lte=500"`
	Offset int    `json:"offset" validate:"gte=0"`
	Status string `json:"status" validate:"omitempty,oneof=queued running completed failed cancelled canceled"`
}

func (q listQuery) toOptions() appscanning.ListOptions {
	return appscanning.ListOptions{
		Limit:  q.Limit,
		Offset: q.Offset,
		Status: scanning.ParseJobStatus(q.Status),
	}.Normalize()
}

// listResponse is one page of jobs.
type listResponse struct {
	Jobs   []jobResponse `json:"jobs"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// Encode implements the web.Encoder interface.
func (lr listResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(lr)
	return data, "application/json", err
}

func toListResponse(page appscanning.JobPage, opts appscanning.ListOptions) listResponse {
	jobs := make([]jobResponse, 0, len(page.Jobs))
	for _, snap := range page.Jobs {
		jobs = append(jobs, toJobResponse(snap))
	}
	return listResponse{Jobs: jobs, Total: page.Total, Limit: opts.Limit, Offset: opts.Offset}
}

// queueResponse is the queue snapshot.
type queueResponse struct {
	QueueLength       int            `json:"queue_length"`
	RunningJobs       int            `json:"running_jobs"`
	MaxConcurrentJobs int            `json:"max_concurrent_jobs"`
	MaxQueueSize      int            `json:"max_queue_size"`
	TotalJobs         int            `json:"total_jobs"`
	JobsByStatus      map[string]int `json:"jobs_by_status"`
}

// Encode implements the web.Encoder interface.
func (qr queueResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(qr)
	return data, "application/json", err
}

func toQueueResponse(s appscanning.QueueStats) queueResponse {
	byStatus := make(map[string]int, len(scanning.AllJobStatuses))
	for _, st := range scanning.AllJobStatuses {
		byStatus[st.String()] = s.JobsByStatus[st]
	}
	return queueResponse{
		QueueLength:       s.QueueLength,
		RunningJobs:       s.RunningJobs,
		MaxConcurrentJobs: s.MaxConcurrentJobs,
		MaxQueueSize:      s.MaxQueueSize,
		TotalJobs:         s.TotalJobs,
		JobsByStatus:      byStatus,
	}
}

// cancelResponse reports the outcome of a cancellation.
type cancelResponse struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	CancelRequested bool   `json:"cancel_requested"`
}

// Encode implements the web.Encoder interface.
func (cr cancelResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(cr)
	return data, "application/json", err
}

// HTTPStatus is 200 once the job is cancelled and 202 while a running job
// has yet to acknowledge the request.
func (cr cancelResponse) HTTPStatus() int {
	if cr.Status == scanning.JobStatusCancelled.String() {
		return http.StatusOK
	}
	return http.StatusAccepted
}
