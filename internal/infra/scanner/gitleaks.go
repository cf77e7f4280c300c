// Package scanner provides the secret scanning Executor the job queue runs.
// It wraps the Gitleaks detection engine and walks filesystem trees, extracted
// archives and web archives, reporting per-file progress as it goes.
package scanner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	"github.com/zricethezav/gitleaks/v8/report"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	appscanning "github.com/ahrav/scanq/internal/app/scanning"
	"github.com/ahrav/scanq/internal/domain/scanning"
	"github.com/ahrav/scanq/pkg/common/logger"
)

var _ appscanning.Executor = (*Executor)(nil)

// Config tunes the executor.
type Config struct {
	// Workers is the number of files scanned concurrently within one job.
	Workers int
	// MaxFileSize skips larger files unless a job overrides it.
	MaxFileSize int64
	// WorkDir holds temporary extraction directories. Empty uses os.TempDir.
	WorkDir string
	// MaxExtractBytes caps the total uncompressed size of an archive.
	MaxExtractBytes int64
	// MaxExtractFiles caps the number of entries extracted from an archive.
	MaxExtractFiles int
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		MaxFileSize:     10 << 20,
		MaxExtractBytes: 1 << 30,
		MaxExtractFiles: 100_000,
	}
}

// Executor scans a job's target with Gitleaks. Detectors are pooled so files
// can be scanned in parallel.
type Executor struct {
	cfg  Config
	pool sync.Pool

	logger *logger.Logger
	tracer trace.Tracer
}

// NewExecutor builds an executor around the embedded Gitleaks ruleset.
func NewExecutor(cfg Config, log *logger.Logger, tracer trace.Tracer) (*Executor, error) {
	detectorCfg, err := loadDetectorConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	e := &Executor{
		cfg:    cfg,
		logger: log.With("component", "gitleaks_executor"),
		tracer: tracer,
	}
	e.pool.New = func() any { return detect.NewDetector(detectorCfg) }
	e.logger.Info(context.Background(), "Gitleaks executor ready", "rules", len(detectorCfg.Rules), "workers", cfg.Workers)
	return e, nil
}

// loadDetectorConfig parses the embedded default Gitleaks configuration.
func loadDetectorConfig() (config.Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(bytes.NewBufferString(config.DefaultConfig)); err != nil {
		return config.Config{}, fmt.Errorf("failed to read embedded config: %w", err)
	}

	var vc config.ViperConfig
	if err := v.Unmarshal(&vc); err != nil {
		return config.Config{}, fmt.Errorf("failed to unmarshal embedded config: %w", err)
	}

	cfg, err := vc.Translate()
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to translate ViperConfig to Config: %w", err)
	}
	return cfg, nil
}

// Run scans spec's target. It honours ctx between files and returns ctx's
// error once cancelled.
func (e *Executor) Run(
	ctx context.Context,
	spec scanning.ScanSpec,
	onProgress appscanning.ProgressFunc,
) (*scanning.ScanResult, error) {
	logr := logger.NewLoggerContext(e.logger.With(
		"target", spec.Path(),
		"target_type", spec.TargetType(),
	))
	ctx, span := e.tracer.Start(ctx, "gitleaks_executor.run",
		trace.WithAttributes(
			attribute.String("target", spec.Path()),
			attribute.String("target_type", string(spec.TargetType())),
		))
	defer span.End()

	if onProgress == nil {
		onProgress = func(int64, int64, string) {}
	}

	start := time.Now()
	var (
		res *scanning.ScanResult
		err error
	)
	switch {
	case spec.TargetType() == scanning.TargetTypeArchive && scanning.ArchiveExt(spec.Path()) == ".warc.gz":
		res, err = e.scanWARC(ctx, spec.Path(), spec.Options(), onProgress)

	case spec.TargetType() == scanning.TargetTypeArchive:
		var dir string
		dir, err = e.extract(ctx, spec.Path())
		if err != nil {
			break
		}
		defer func() {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				logr.Warn(ctx, "Failed to remove extraction directory", "dir", dir, "error", rmErr)
			}
		}()
		res, err = e.scanTree(ctx, dir, spec.Options(), onProgress)

	default:
		res, err = e.scanTree(ctx, spec.Path(), spec.Options(), onProgress)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		if ctx.Err() != nil {
			logr.Info(ctx, "Scan stopped", "cause", context.Cause(ctx))
			return nil, ctx.Err()
		}
		logr.Error(ctx, "Scan failed", "error", err)
		return nil, err
	}

	res.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int64("files_scanned", res.FilesScanned),
		attribute.Int64("files_skipped", res.FilesSkipped),
		attribute.Int("findings", len(res.Findings)),
	)
	span.SetStatus(codes.Ok, "scan completed")
	logr.Info(ctx, "Scan completed",
		"files_scanned", res.FilesScanned,
		"files_skipped", res.FilesSkipped,
		"findings", len(res.Findings),
		"duration", res.Duration,
	)
	return res, nil
}

// detect runs one pooled detector over content.
func (e *Executor) detect(content []byte, name string) []scanning.Finding {
	detector := e.pool.Get().(*detect.Detector)
	defer e.pool.Put(detector)

	found := detector.Detect(detect.Fragment{Raw: string(content), FilePath: name})
	if len(found) == 0 {
		return nil
	}

	out := make([]scanning.Finding, 0, len(found))
	for _, f := range found {
		out = append(out, toFinding(f, name))
	}
	return out
}

// toFinding converts a Gitleaks finding, redacting the secret from the match.
func toFinding(f report.Finding, name string) scanning.Finding {
	match := f.Match
	if f.Secret != "" {
		match = strings.ReplaceAll(match, f.Secret, "REDACTED")
	}
	return scanning.Finding{
		RuleID:      f.RuleID,
		Description: f.Description,
		File:        name,
		StartLine:   f.StartLine,
		EndLine:     f.EndLine,
		StartColumn: f.StartColumn,
		EndColumn:   f.EndColumn,
		Match:       match,
		Fingerprint: fmt.Sprintf("%s:%s:%d", name, f.RuleID, f.StartLine),
		Entropy:     f.Entropy,
		Tags:        f.Tags,
	}
}
