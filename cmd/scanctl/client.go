package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ahrav/scanq/internal/domain/scanning"
)

// job mirrors the API's job view.
type job struct {
	ID              string               `json:"id" yaml:"id"`
	Status          string               `json:"status" yaml:"status"`
	TargetType      string               `json:"target_type" yaml:"target_type"`
	Target          string               `json:"target" yaml:"target"`
	Options         scanning.ScanOptions `json:"options" yaml:"options"`
	Progress        scanning.Progress    `json:"progress" yaml:"progress"`
	Result          *jobResult           `json:"result,omitempty" yaml:"result,omitempty"`
	Error           *scanning.JobError   `json:"error,omitempty" yaml:"error,omitempty"`
	CancelRequested bool                 `json:"cancel_requested" yaml:"cancel_requested"`
	CreatedAt       time.Time            `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at" yaml:"updated_at"`
	StartedAt       *time.Time           `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

type jobResult struct {
	FilesScanned    int64              `json:"files_scanned" yaml:"files_scanned"`
	FilesSkipped    int64              `json:"files_skipped" yaml:"files_skipped"`
	BytesScanned    int64              `json:"bytes_scanned" yaml:"bytes_scanned"`
	DurationSeconds float64            `json:"duration_seconds" yaml:"duration_seconds"`
	FindingsCount   int                `json:"findings_count" yaml:"findings_count"`
	Findings        []scanning.Finding `json:"findings" yaml:"findings"`
}

type jobList struct {
	Jobs   []job `json:"jobs" yaml:"jobs"`
	Total  int   `json:"total" yaml:"total"`
	Limit  int   `json:"limit" yaml:"limit"`
	Offset int   `json:"offset" yaml:"offset"`
}

type queueStats struct {
	QueueLength       int            `json:"queue_length" yaml:"queue_length"`
	RunningJobs       int            `json:"running_jobs" yaml:"running_jobs"`
	MaxConcurrentJobs int            `json:"max_concurrent_jobs" yaml:"max_concurrent_jobs"`
	MaxQueueSize      int            `json:"max_queue_size" yaml:"max_queue_size"`
	TotalJobs         int            `json:"total_jobs" yaml:"total_jobs"`
	JobsByStatus      map[string]int `json:"jobs_by_status" yaml:"jobs_by_status"`
}

type submitted struct {
	ID        string    `json:"id" yaml:"id"`
	Status    string    `json:"status" yaml:"status"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

type cancelled struct {
	ID              string `json:"id" yaml:"id"`
	Status          string `json:"status" yaml:"status"`
	CancelRequested bool   `json:"cancel_requested" yaml:"cancel_requested"`
}

// jobEvent is one push channel frame.
type jobEvent struct {
	Type            string                  `json:"type" yaml:"type"`
	JobID           string                  `json:"job_id" yaml:"job_id"`
	Status          string                  `json:"status" yaml:"status"`
	Progress        *scanning.Progress      `json:"progress,omitempty" yaml:"progress,omitempty"`
	Error           *scanning.JobError      `json:"error,omitempty" yaml:"error,omitempty"`
	Summary         *scanning.ResultSummary `json:"summary,omitempty" yaml:"summary,omitempty"`
	CancelRequested bool                    `json:"cancel_requested,omitempty" yaml:"cancel_requested,omitempty"`
	OccurredAt      time.Time               `json:"occurred_at" yaml:"occurred_at"`
}

// apiError is the error body returned by the server.
type apiError struct {
	StatusCode int            `json:"-"`
	Code       string         `json:"code"`
	Kind       string         `json:"kind,omitempty"`
	Message    string         `json:"message"`
	Fields     map[string]any `json:"fields,omitempty"`
}

func (e *apiError) Error() string {
	label := e.Kind
	if label == "" {
		label = e.Code
	}
	if label == "" {
		label = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s (%d): %s", label, e.StatusCode, e.Message)
}

// client calls the scanq HTTP API.
type client struct {
	base *url.URL
	http *http.Client
}

func newClient(server string, timeout time.Duration) (*client, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", server, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", server)
	}
	return &client{base: u, http: &http.Client{Timeout: timeout}}, nil
}

func (c *client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path += path
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

type submitBody struct {
	TargetType string      `json:"target_type,omitempty"`
	Target     string      `json:"target"`
	Options    submitFlags `json:"options"`
}

type submitFlags struct {
	Exclude     []string          `json:"exclude,omitempty"`
	MaxFileSize int64             `json:"max_file_size,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

func (c *client) submit(ctx context.Context, body submitBody) (submitted, error) {
	var out submitted
	err := c.do(ctx, http.MethodPost, "/v1/scans", nil, body, &out)
	return out, err
}

func (c *client) job(ctx context.Context, id string, history bool) (job, error) {
	prefix := "/v1/scans/"
	if history {
		prefix = "/v1/history/"
	}
	var out job
	err := c.do(ctx, http.MethodGet, prefix+url.PathEscape(id), nil, nil, &out)
	return out, err
}

func (c *client) list(ctx context.Context, status string, limit, offset int, history bool) (jobList, error) {
	path := "/v1/scans"
	if history {
		path = "/v1/history"
	}
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	var out jobList
	err := c.do(ctx, http.MethodGet, path, q, nil, &out)
	return out, err
}

func (c *client) queue(ctx context.Context) (queueStats, error) {
	var out queueStats
	err := c.do(ctx, http.MethodGet, "/v1/scans/queue", nil, nil, &out)
	return out, err
}

func (c *client) cancel(ctx context.Context, id string) (cancelled, error) {
	var out cancelled
	err := c.do(ctx, http.MethodPost, "/v1/scans/"+url.PathEscape(id)+"/cancel", nil, nil, &out)
	return out, err
}

// watch streams push channel frames to fn until ctx ends, the server closes
// the stream, or fn returns false. ready, when set, runs once the stream is
// open and may end it before any frame is read.
func (c *client) watch(ctx context.Context, jobID string, ready func() (bool, error), fn func(jobEvent) bool) error {
	u := *c.base
	u.Scheme = "ws"
	if c.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path += "/v1/scans/events"
	if jobID != "" {
		u.RawQuery = url.Values{"job_id": {jobID}}.Encode()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			apiErr := &apiError{StatusCode: resp.StatusCode}
			if derr := json.NewDecoder(resp.Body).Decode(apiErr); derr == nil && apiErr.Message != "" {
				return apiErr
			}
		}
		return fmt.Errorf("connecting to push channel: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if ready != nil {
		done, err := ready()
		if err != nil || done {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return err
		}
	}

	for {
		var evt jobEvent
		if err := conn.ReadJSON(&evt); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("reading push channel: %w", err)
		}
		if !fn(evt) {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
	}
}
