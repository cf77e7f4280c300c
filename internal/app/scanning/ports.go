package scanning

import (
	"context"

	"github.com/google/uuid"

	"github.com/ahrav/scanq/internal/domain/scanning"
)

// ProgressFunc receives raw progress from an Executor. It may be called from
// any goroutine and must not be called after Run returns.
type ProgressFunc func(processedFiles, totalFiles int64, currentFile string)

// Executor performs the analysis for one job. Run must observe ctx between
// units of work and return promptly once it is done; a cancelled run returns
// ctx's error. Executors never touch job state directly.
type Executor interface {
	Run(ctx context.Context, spec scanning.ScanSpec, onProgress ProgressFunc) (*scanning.ScanResult, error)
}

// JobArchiver persists terminal job snapshots beyond the in-memory retention
// window.
type JobArchiver interface {
	ArchiveJob(ctx context.Context, snap scanning.JobSnapshot) error
}

// JobHistory reads archived jobs.
type JobHistory interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (scanning.JobSnapshot, error)
	ListJobs(ctx context.Context, opts ListOptions) (JobPage, error)
}
