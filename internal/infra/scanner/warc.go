package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/nlnwa/gowarc/v2"
	"go.opentelemetry.io/otel/attribute"

	appscanning "github.com/ahrav/scanq/internal/app/scanning"
	"github.com/ahrav/scanq/internal/domain/scanning"
)

// forEachResponse calls fn for every response record in the WARC file at src,
// stopping at the first error.
func forEachResponse(ctx context.Context, src string, fn func(uri string, body io.Reader) error) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	wr, err := gowarc.NewWarcFileReaderFromStream(f, 0)
	if err != nil {
		return fmt.Errorf("failed to create WARC reader: %w", err)
	}
	defer wr.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		record, _, _, err := wr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read WARC record: %w", err)
		}
		if record.Type() != gowarc.Response {
			record.Close()
			continue
		}

		body, err := record.Block().RawBytes()
		if err != nil {
			record.Close()
			return fmt.Errorf("failed to get record body: %w", err)
		}
		err = fn(record.WarcHeader().Get(gowarc.WarcTargetURI), body)
		record.Close()
		if err != nil {
			return err
		}
	}
}

// recordPath is the slash path of a record's target URI, the name exclude
// patterns are matched against. Unparseable URIs are matched as is.
func recordPath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || strings.Trim(u.Path, "/") == "" {
		return uri
	}
	return strings.TrimPrefix(u.Path, "/")
}

// scanWARC scans each response record of a web archive as one unit named by
// its target URI. Records are counted in a first pass so progress has a total.
// Excluded records are skipped without counting toward the total.
func (e *Executor) scanWARC(
	ctx context.Context,
	src string,
	opts scanning.ScanOptions,
	onProgress appscanning.ProgressFunc,
) (*scanning.ScanResult, error) {
	ctx, span := e.tracer.Start(ctx, "gitleaks_executor.scan_warc")
	defer span.End()

	limit := e.maxFileSize(opts)

	var total, skipped int64
	if err := forEachResponse(ctx, src, func(uri string, _ io.Reader) error {
		if excluded(opts.Exclude, recordPath(uri)) {
			skipped++
			return nil
		}
		total++
		return nil
	}); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("records", total),
		attribute.Int64("records_excluded", skipped),
	)
	onProgress(0, total, "")

	res := &scanning.ScanResult{FilesSkipped: skipped}
	var processed int64
	err := forEachResponse(ctx, src, func(uri string, body io.Reader) error {
		if excluded(opts.Exclude, recordPath(uri)) {
			return nil
		}
		processed++
		if limit > 0 {
			body = io.LimitReader(body, limit+1)
		}
		content, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("reading record %s: %w", uri, err)
		}
		if limit > 0 && int64(len(content)) > limit {
			res.FilesSkipped++
		} else {
			res.Findings = append(res.Findings, e.detect(content, uri)...)
			res.FilesScanned++
			res.BytesScanned += int64(len(content))
		}
		onProgress(processed, total, uri)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
