package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	appscanning "github.com/ahrav/scanq/internal/app/scanning"
	"github.com/ahrav/scanq/internal/domain/scanning"
)

// binarySniffLen is how much of a file is checked for NUL bytes.
const binarySniffLen = 8000

type fileEntry struct {
	abs  string
	rel  string
	size int64
}

// excluded reports whether rel (slash separated) or its base name matches one
// of the patterns. Patterns were validated on admission.
func excluded(patterns []string, rel string) bool {
	base := path.Base(rel)
	for _, p := range patterns {
		if ok, _ := path.Match(p, rel); ok {
			return true
		}
		if ok, _ := path.Match(p, base); ok {
			return true
		}
	}
	return false
}

// collectFiles lists the regular files under root that survive the exclude
// patterns and size cap. Symlinks are not followed. A root that is a file
// yields just that file.
func collectFiles(ctx context.Context, root string, opts scanning.ScanOptions, maxSize int64) ([]fileEntry, int64, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, 0, fmt.Errorf("stat target: %w", err)
	}
	if !info.IsDir() {
		if !info.Mode().IsRegular() {
			return nil, 0, fmt.Errorf("target %s is not a regular file or directory", root)
		}
		if maxSize > 0 && info.Size() > maxSize {
			return nil, 1, nil
		}
		return []fileEntry{{abs: root, rel: filepath.Base(root), size: info.Size()}}, 0, nil
	}

	var (
		files   []fileEntry
		skipped int64
	)
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if p == root {
				return walkErr
			}
			skipped++
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if excluded(opts.Exclude, rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			skipped++
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			skipped++
			return nil
		}
		if maxSize > 0 && fi.Size() > maxSize {
			skipped++
			return nil
		}
		files = append(files, fileEntry{abs: p, rel: rel, size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return files, skipped, nil
}

// maxFileSize is the per-file cap for a job: its own override when set,
// otherwise the executor default.
func (e *Executor) maxFileSize(opts scanning.ScanOptions) int64 {
	if opts.MaxFileSize > 0 {
		return opts.MaxFileSize
	}
	return e.cfg.MaxFileSize
}

// scanTree scans every eligible file under root with up to cfg.Workers
// detectors in parallel.
func (e *Executor) scanTree(
	ctx context.Context,
	root string,
	opts scanning.ScanOptions,
	onProgress appscanning.ProgressFunc,
) (*scanning.ScanResult, error) {
	ctx, span := e.tracer.Start(ctx, "gitleaks_executor.scan_tree")
	defer span.End()

	maxSize := e.maxFileSize(opts)

	files, skipped, err := collectFiles(ctx, root, opts, maxSize)
	if err != nil {
		return nil, err
	}
	total := int64(len(files))
	onProgress(0, total, "")

	var (
		processed   atomic.Int64
		scanned     atomic.Int64
		unscannable atomic.Int64
		bytesRead   atomic.Int64

		mu       sync.Mutex
		findings []scanning.Finding
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for _, f := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			content, err := os.ReadFile(f.abs)
			switch {
			case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
				unscannable.Add(1)
			case err != nil:
				return fmt.Errorf("reading %s: %w", f.rel, err)
			case bytes.IndexByte(content[:min(len(content), binarySniffLen)], 0) >= 0:
				unscannable.Add(1)
			default:
				if found := e.detect(content, f.rel); len(found) > 0 {
					mu.Lock()
					findings = append(findings, found...)
					mu.Unlock()
				}
				scanned.Add(1)
				bytesRead.Add(int64(len(content)))
			}

			onProgress(processed.Add(1), total, f.rel)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].File != findings[j].File {
			return findings[i].File < findings[j].File
		}
		return findings[i].StartLine < findings[j].StartLine
	})

	return &scanning.ScanResult{
		FilesScanned: scanned.Load(),
		FilesSkipped: skipped + unscannable.Load(),
		BytesScanned: bytesRead.Load(),
		Findings:     findings,
	}, nil
}
