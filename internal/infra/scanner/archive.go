package scanner

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ahrav/scanq/internal/domain/scanning"
)

var (
	errUnsafePath     = errors.New("archive entry escapes extraction directory")
	errArchiveTooBig  = errors.New("archive exceeds extraction size limit")
	errTooManyEntries = errors.New("archive exceeds extraction entry limit")
)

// extractor writes archive entries below dir while enforcing the size and
// entry limits.
type extractor struct {
	ctx       context.Context
	dir       string
	maxBytes  int64
	maxFiles  int
	written   int64
	extracted int
}

// extract unpacks the archive at src into a fresh temporary directory and
// returns its path. The caller removes it.
func (e *Executor) extract(ctx context.Context, src string) (string, error) {
	ctx, span := e.tracer.Start(ctx, "gitleaks_executor.extract_archive")
	defer span.End()

	dir, err := os.MkdirTemp(e.cfg.WorkDir, "scanq-extract-*")
	if err != nil {
		return "", fmt.Errorf("creating extraction directory: %w", err)
	}

	x := &extractor{ctx: ctx, dir: dir, maxBytes: e.cfg.MaxExtractBytes, maxFiles: e.cfg.MaxExtractFiles}
	switch ext := scanning.ArchiveExt(src); ext {
	case ".zip":
		err = x.zip(src)
	case ".tar":
		err = x.tarFile(src, false)
	case ".tar.gz", ".tgz":
		err = x.tarFile(src, true)
	default:
		err = fmt.Errorf("unsupported archive format %q", ext)
	}
	if err != nil {
		os.RemoveAll(dir)
		span.RecordError(err)
		return "", fmt.Errorf("extracting %s: %w", filepath.Base(src), err)
	}

	span.SetAttributes(
		attribute.Int("entries", x.extracted),
		attribute.Int64("bytes", x.written),
	)
	return dir, nil
}

// target resolves an archive entry name inside x.dir.
func (x *extractor) target(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", errUnsafePath, name)
	}
	return filepath.Join(x.dir, clean), nil
}

// write copies r into name, counting it against the limits.
func (x *extractor) write(name string, r io.Reader) error {
	if err := x.ctx.Err(); err != nil {
		return err
	}
	x.extracted++
	if x.maxFiles > 0 && x.extracted > x.maxFiles {
		return errTooManyEntries
	}

	dst, err := x.target(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	limit := int64(-1)
	if x.maxBytes > 0 {
		limit = x.maxBytes - x.written
		r = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(f, r)
	x.written += n
	if err != nil {
		return err
	}
	if limit >= 0 && n > limit {
		return errArchiveTooBig
	}
	return nil
}

func (x *extractor) zip(src string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() || !zf.Mode().IsRegular() {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return fmt.Errorf("opening %s: %w", zf.Name, err)
		}
		err = x.write(zf.Name, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (x *extractor) tarFile(src string, gzipped bool) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		// Links and special files are skipped.
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := x.write(hdr.Name, tr); err != nil {
			return err
		}
	}
}
