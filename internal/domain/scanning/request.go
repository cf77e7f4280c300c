package scanning

import (
	"fmt"
	"maps"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

// TargetType identifies how the scan target should be interpreted.
type TargetType string

const (
	// TargetTypePath is a directory or single file on the scheduler's filesystem.
	TargetTypePath TargetType = "path"
	// TargetTypeArchive is an uploaded archive that the executor extracts first.
	TargetTypeArchive TargetType = "archive"
)

const (
	maxExcludePatterns = 64
	maxLabels          = 16
	maxLabelKeyLen     = 63
	maxLabelValueLen   = 256
)

var supportedArchiveExts = []string{".zip", ".tar", ".tar.gz", ".tgz", ".warc.gz"}

// ArchiveExt returns the supported archive extension of name, or "" if none.
func ArchiveExt(name string) string {
	lower := strings.ToLower(name)
	// Longest suffix first.
	for _, ext := range []string{".warc.gz", ".tar.gz", ".tgz", ".tar", ".zip"} {
		if strings.HasSuffix(lower, ext) {
			return ext
		}
	}
	return ""
}

// ScanOptions tune a single scan.
type ScanOptions struct {
	// Exclude holds glob patterns matched against slash separated paths
	// relative to the scan root and against base names.
	Exclude []string `json:"exclude,omitempty"`
	// MaxFileSize skips files larger than this many bytes. Zero uses the
	// executor default.
	MaxFileSize int64 `json:"max_file_size,omitempty"`
	// Labels are caller supplied tags echoed back on the job.
	Labels map[string]string `json:"labels,omitempty"`
}

func (o ScanOptions) clone() ScanOptions {
	return ScanOptions{
		Exclude:     slices.Clone(o.Exclude),
		MaxFileSize: o.MaxFileSize,
		Labels:      maps.Clone(o.Labels),
	}
}

// ScanRequest is a scan request as submitted by a caller. Target is left
// untyped so structurally wrong input (an object where a path is expected)
// can be rejected explicitly instead of being coerced.
type ScanRequest struct {
	TargetType TargetType
	Target     any
	Options    ScanOptions
}

// Validate checks the request and returns the immutable ScanSpec a Job is
// created from. Every failure wraps ErrInvalidRequest.
func (r ScanRequest) Validate() (ScanSpec, error) {
	targetType := r.TargetType
	if targetType == "" {
		targetType = TargetTypePath
	}
	if targetType != TargetTypePath && targetType != TargetTypeArchive {
		return ScanSpec{}, fmt.Errorf("%w: unknown target type %q", ErrInvalidRequest, r.TargetType)
	}

	target, err := targetString(r.Target)
	if err != nil {
		return ScanSpec{}, err
	}

	if targetType == TargetTypeArchive && ArchiveExt(target) == "" {
		return ScanSpec{}, fmt.Errorf("%w: unsupported archive %q (want one of %s)",
			ErrInvalidRequest, filepath.Base(target), strings.Join(supportedArchiveExts, ", "))
	}

	if err := r.Options.validate(); err != nil {
		return ScanSpec{}, err
	}

	return ScanSpec{
		targetType: targetType,
		path:       target,
		options:    r.Options.clone(),
	}, nil
}

func targetString(v any) (string, error) {
	var s string
	switch t := v.(type) {
	case nil:
		return "", fmt.Errorf("%w: target is required", ErrInvalidRequest)
	case string:
		s = t
	case map[string]any:
		return "", fmt.Errorf("%w: target contains object - potential injection risk", ErrInvalidRequest)
	case []any:
		return "", fmt.Errorf("%w: target contains array - expected a path string", ErrInvalidRequest)
	default:
		return "", fmt.Errorf("%w: target must be a path string, got %T", ErrInvalidRequest, v)
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: target is empty", ErrInvalidRequest)
	}
	if strings.ContainsRune(s, 0) {
		return "", fmt.Errorf("%w: target contains NUL byte", ErrInvalidRequest)
	}
	if !filepath.IsAbs(s) {
		return "", fmt.Errorf("%w: target %q must be an absolute path", ErrInvalidRequest, s)
	}

	return filepath.Clean(s), nil
}

func (o ScanOptions) validate() error {
	if o.MaxFileSize < 0 {
		return fmt.Errorf("%w: max_file_size must not be negative", ErrInvalidRequest)
	}

	if len(o.Exclude) > maxExcludePatterns {
		return fmt.Errorf("%w: at most %d exclude patterns allowed", ErrInvalidRequest, maxExcludePatterns)
	}
	for _, p := range o.Exclude {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: exclude pattern is empty", ErrInvalidRequest)
		}
		if _, err := path.Match(p, ""); err != nil {
			return fmt.Errorf("%w: exclude pattern %q: %v", ErrInvalidRequest, p, err)
		}
	}

	if len(o.Labels) > maxLabels {
		return fmt.Errorf("%w: at most %d labels allowed", ErrInvalidRequest, maxLabels)
	}
	for k, v := range o.Labels {
		if k == "" || len(k) > maxLabelKeyLen {
			return fmt.Errorf("%w: label key %q must be 1-%d characters", ErrInvalidRequest, k, maxLabelKeyLen)
		}
		if len(v) > maxLabelValueLen {
			return fmt.Errorf("%w: label %q value exceeds %d characters", ErrInvalidRequest, k, maxLabelValueLen)
		}
	}

	return nil
}

// ScanSpec is the validated, immutable description of what a job scans.
type ScanSpec struct {
	targetType TargetType
	path       string
	options    ScanOptions
}

// NewScanSpec rebuilds a spec from trusted stored fields, bypassing validation.
// It should only be used by repositories.
func NewScanSpec(targetType TargetType, path string, options ScanOptions) ScanSpec {
	return ScanSpec{targetType: targetType, path: path, options: options.clone()}
}

func (s ScanSpec) TargetType() TargetType { return s.targetType }
func (s ScanSpec) Path() string           { return s.path }

// Options returns a copy of the scan options.
func (s ScanSpec) Options() ScanOptions { return s.options.clone() }

// WithinRoots reports whether the target lies inside one of the given roots.
// An empty root list allows every target.
func (s ScanSpec) WithinRoots(roots []string) bool {
	if len(roots) == 0 {
		return true
	}
	for _, root := range roots {
		rel, err := filepath.Rel(filepath.Clean(root), s.path)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
			return true
		}
	}
	return false
}
