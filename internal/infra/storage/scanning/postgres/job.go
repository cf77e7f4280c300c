package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	appscanning "github.com/ahrav/scanq/internal/app/scanning"
	"github.com/ahrav/scanq/internal/domain/scanning"
	"github.com/ahrav/scanq/internal/infra/storage"
)

var (
	_ appscanning.JobArchiver = (*jobStore)(nil)
	_ appscanning.JobHistory  = (*jobStore)(nil)
)

// jobStore keeps terminal job snapshots in PostgreSQL after the queue's
// in-memory retention window has dropped them.
type jobStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewJobStore creates a PostgreSQL-backed job history.
func NewJobStore(pool *pgxpool.Pool, tracer trace.Tracer) *jobStore {
	return &jobStore{db: pool, tracer: tracer}
}

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

const upsertJobSQL = `
INSERT INTO scan_jobs (
    job_id, status, target_type, target, options,
    processed_files, total_files, percentage,
    files_scanned, files_skipped, bytes_scanned, duration_ms, findings,
    error_kind, error_message, cancel_requested,
    created_at, updated_at, started_at, completed_at
) VALUES (
    $1, $2, $3, $4, $5,
    $6, $7, $8,
    $9, $10, $11, $12, $13,
    $14, $15, $16,
    $17, $18, $19, $20
)
ON CONFLICT (job_id) DO UPDATE SET
    status = EXCLUDED.status,
    processed_files = EXCLUDED.processed_files,
    total_files = EXCLUDED.total_files,
    percentage = EXCLUDED.percentage,
    files_scanned = EXCLUDED.files_scanned,
    files_skipped = EXCLUDED.files_skipped,
    bytes_scanned = EXCLUDED.bytes_scanned,
    duration_ms = EXCLUDED.duration_ms,
    findings = EXCLUDED.findings,
    error_kind = EXCLUDED.error_kind,
    error_message = EXCLUDED.error_message,
    cancel_requested = EXCLUDED.cancel_requested,
    updated_at = EXCLUDED.updated_at,
    started_at = EXCLUDED.started_at,
    completed_at = EXCLUDED.completed_at,
    archived_at = NOW()`

const selectJobColumns = `
SELECT job_id, status, target_type, target, options,
       processed_files, total_files, percentage,
       files_scanned, files_skipped, bytes_scanned, duration_ms, findings,
       error_kind, error_message, cancel_requested,
       created_at, updated_at, started_at, completed_at
FROM scan_jobs`

// ArchiveJob upserts a terminal job snapshot.
func (r *jobStore) ArchiveJob(ctx context.Context, snap scanning.JobSnapshot) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", snap.ID.String()),
		attribute.String("status", snap.Status.String()),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.archive_job", dbAttrs, func(ctx context.Context) error {
		if !snap.Status.IsTerminal() {
			return fmt.Errorf("job %s is %s: only terminal jobs are archived", snap.ID, snap.Status)
		}

		opts, err := json.Marshal(snap.Spec.Options())
		if err != nil {
			return fmt.Errorf("marshal options: %w", err)
		}

		var (
			filesScanned, filesSkipped, bytesScanned, durationMS pgtype.Int8
			findings                                             []byte
		)
		if res := snap.Result; res != nil {
			filesScanned = pgtype.Int8{Int64: res.FilesScanned, Valid: true}
			filesSkipped = pgtype.Int8{Int64: res.FilesSkipped, Valid: true}
			bytesScanned = pgtype.Int8{Int64: res.BytesScanned, Valid: true}
			durationMS = pgtype.Int8{Int64: res.Duration.Milliseconds(), Valid: true}
			found := res.Findings
			if found == nil {
				found = []scanning.Finding{}
			}
			if findings, err = json.Marshal(found); err != nil {
				return fmt.Errorf("marshal findings: %w", err)
			}
		}

		var errKind, errMsg pgtype.Text
		if snap.Error != nil {
			errKind = pgtype.Text{String: string(snap.Error.Kind), Valid: true}
			errMsg = pgtype.Text{String: snap.Error.Message, Valid: true}
		}

		_, err = r.db.Exec(ctx, upsertJobSQL,
			pgtype.UUID{Bytes: snap.ID, Valid: true},
			snap.Status.String(),
			string(snap.Spec.TargetType()),
			snap.Spec.Path(),
			opts,
			snap.Progress.ProcessedFiles,
			snap.Progress.TotalFiles,
			snap.Progress.Percentage,
			filesScanned,
			filesSkipped,
			bytesScanned,
			durationMS,
			findings,
			errKind,
			errMsg,
			snap.CancelRequested,
			snap.CreatedAt,
			snap.UpdatedAt,
			timestamptz(snap.StartedAt),
			timestamptz(snap.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("archive job insert error: %w", err)
		}
		return nil
	})
}

// GetJob loads one archived job. It returns scanning.ErrJobNotFound when the
// job was never archived.
func (r *jobStore) GetJob(ctx context.Context, jobID uuid.UUID) (scanning.JobSnapshot, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
	)

	var snap scanning.JobSnapshot
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_job", dbAttrs, func(ctx context.Context) error {
		row := r.db.QueryRow(ctx, selectJobColumns+` WHERE job_id = $1`, pgtype.UUID{Bytes: jobID, Valid: true})

		var err error
		snap, err = scanJob(row)
		if errors.Is(err, pgx.ErrNoRows) {
			trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("job_not_found", true))
			return fmt.Errorf("%w: %s", scanning.ErrJobNotFound, jobID)
		}
		return err
	})
	return snap, err
}

// ListJobs pages through archived jobs, most recently created first.
func (r *jobStore) ListJobs(ctx context.Context, opts appscanning.ListOptions) (appscanning.JobPage, error) {
	opts = opts.Normalize()
	dbAttrs := append(
		defaultDBAttributes,
		attribute.Int("limit", opts.Limit),
		attribute.Int("offset", opts.Offset),
		attribute.String("status", opts.Status.String()),
	)

	var page appscanning.JobPage
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.list_jobs", dbAttrs, func(ctx context.Context) error {
		status := pgtype.Text{String: opts.Status.String(), Valid: opts.Status != ""}

		var total int64
		if err := r.db.QueryRow(ctx,
			`SELECT COUNT(*) FROM scan_jobs WHERE ($1::text IS NULL OR status::text = $1)`,
			status,
		).Scan(&total); err != nil {
			return fmt.Errorf("count jobs error: %w", err)
		}
		page.Total = int(total)

		rows, err := r.db.Query(ctx,
			selectJobColumns+`
WHERE ($1::text IS NULL OR status::text = $1)
ORDER BY created_at DESC, job_id
LIMIT $2 OFFSET $3`,
			status, opts.Limit, opts.Offset,
		)
		if err != nil {
			return fmt.Errorf("list jobs query error: %w", err)
		}
		defer rows.Close()

		page.Jobs = make([]scanning.JobSnapshot, 0, opts.Limit)
		for rows.Next() {
			snap, err := scanJob(rows)
			if err != nil {
				return err
			}
			page.Jobs = append(page.Jobs, snap)
		}
		return rows.Err()
	})
	return page, err
}

// scanJob maps one scan_jobs row back into a snapshot.
func scanJob(row pgx.Row) (scanning.JobSnapshot, error) {
	var (
		id                                                   pgtype.UUID
		status, targetType, target                           string
		rawOpts, rawFindings                                 []byte
		processed, total                                     int64
		percentage                                           float64
		filesScanned, filesSkipped, bytesScanned, durationMS pgtype.Int8
		errKind, errMsg                                      pgtype.Text
		cancelRequested                                      bool
		createdAt, updatedAt                                 time.Time
		startedAt, completedAt                               pgtype.Timestamptz
	)
	if err := row.Scan(
		&id, &status, &targetType, &target, &rawOpts,
		&processed, &total, &percentage,
		&filesScanned, &filesSkipped, &bytesScanned, &durationMS, &rawFindings,
		&errKind, &errMsg, &cancelRequested,
		&createdAt, &updatedAt, &startedAt, &completedAt,
	); err != nil {
		return scanning.JobSnapshot{}, err
	}

	var opts scanning.ScanOptions
	if len(rawOpts) > 0 {
		if err := json.Unmarshal(rawOpts, &opts); err != nil {
			return scanning.JobSnapshot{}, fmt.Errorf("unmarshal options: %w", err)
		}
	}

	snap := scanning.JobSnapshot{
		ID:     id.Bytes,
		Status: scanning.ParseJobStatus(status),
		Spec:   scanning.NewScanSpec(scanning.TargetType(targetType), target, opts),
		Progress: scanning.Progress{
			Percentage:     percentage,
			ProcessedFiles: processed,
			TotalFiles:     total,
		},
		CancelRequested: cancelRequested,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
		StartedAt:       timePtr(startedAt),
		CompletedAt:     timePtr(completedAt),
	}
	if snap.StartedAt != nil {
		end := updatedAt
		if snap.CompletedAt != nil {
			end = *snap.CompletedAt
		}
		snap.Progress.ElapsedTime = end.Sub(*snap.StartedAt)
	}

	if filesScanned.Valid {
		res := &scanning.ScanResult{
			FilesScanned: filesScanned.Int64,
			FilesSkipped: filesSkipped.Int64,
			BytesScanned: bytesScanned.Int64,
			Duration:     time.Duration(durationMS.Int64) * time.Millisecond,
		}
		if len(rawFindings) > 0 {
			if err := json.Unmarshal(rawFindings, &res.Findings); err != nil {
				return scanning.JobSnapshot{}, fmt.Errorf("unmarshal findings: %w", err)
			}
		}
		snap.Result = res
	}
	if errKind.Valid {
		snap.Error = &scanning.JobError{Kind: scanning.ErrorKind(errKind.String), Message: errMsg.String}
	}
	return snap, nil
}

func timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}
