package scanner

import (
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nlnwa/gowarc/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/scanq/internal/domain/scanning"
)

type warcRecord struct {
	uri  string
	body string
}

// writeWARC writes one gzip member per response record, the usual .warc.gz
// layout.
func writeWARC(t *testing.T, path string, records []warcRecord) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	marshaler := gowarc.NewMarshaler()
	for _, r := range records {
		rb := gowarc.NewRecordBuilder(gowarc.Response)
		rb.AddWarcHeader(gowarc.WarcRecordID, "<urn:uuid:"+uuid.NewString()+">")
		rb.AddWarcHeader(gowarc.WarcDate, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339))
		rb.AddWarcHeader(gowarc.WarcTargetURI, r.uri)
		rb.AddWarcHeader(gowarc.ContentType, "application/http;msgtype=response")
		_, err := rb.WriteString("HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n\r\n" + r.body)
		require.NoError(t, err)

		record, _, err := rb.Build()
		require.NoError(t, err)

		gz := gzip.NewWriter(f)
		_, _, err = marshaler.Marshal(gz, record, 0)
		require.NoError(t, err)
		require.NoError(t, gz.Close())
		require.NoError(t, record.Close())
	}
}

func warcFixture(t *testing.T) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), "crawl.warc.gz")
	writeWARC(t, src, []warcRecord{
		{uri: "https://example.com/index.html", body: "hello world\n"},
		{uri: "https://example.com/src/aws.py", body: leakySource},
	})
	return src
}

func TestExecutor_ScansWARCRecords(t *testing.T) {
	src := warcFixture(t)
	e := newTestExecutor(t, DefaultConfig())

	var rec progressRecorder
	res, err := e.Run(context.Background(),
		scanning.NewScanSpec(scanning.TargetTypeArchive, src, scanning.ScanOptions{}), rec.record)
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.FilesScanned)
	assert.Zero(t, res.FilesSkipped)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "https://example.com/src/aws.py", res.Findings[0].File)
	assert.NotContains(t, res.Findings[0].Match, awsToken)

	assert.Equal(t, [][2]int64{{0, 2}, {1, 2}, {2, 2}}, rec.calls)
	assert.Equal(t, []string{"", "https://example.com/index.html", "https://example.com/src/aws.py"}, rec.files)
}

func TestExecutor_WARCHonoursJobOptions(t *testing.T) {
	tests := []struct {
		name         string
		opts         scanning.ScanOptions
		wantScanned  int64
		wantSkipped  int64
		wantTotal    int64
		wantFindings int
	}{
		{
			name:         "max file size override skips the larger record",
			opts:         scanning.ScanOptions{MaxFileSize: 100},
			wantScanned:  1,
			wantSkipped:  1,
			wantTotal:    2,
			wantFindings: 0,
		},
		{
			name:         "exclude by base name",
			opts:         scanning.ScanOptions{Exclude: []string{"*.py"}},
			wantScanned:  1,
			wantSkipped:  1,
			wantTotal:    1,
			wantFindings: 0,
		},
		{
			name:         "exclude by record path",
			opts:         scanning.ScanOptions{Exclude: []string{"src/*"}},
			wantScanned:  1,
			wantSkipped:  1,
			wantTotal:    1,
			wantFindings: 0,
		},
		{
			name:         "non matching exclude keeps every record",
			opts:         scanning.ScanOptions{Exclude: []string{"*.js"}},
			wantScanned:  2,
			wantSkipped:  0,
			wantTotal:    2,
			wantFindings: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := warcFixture(t)
			e := newTestExecutor(t, DefaultConfig())

			var rec progressRecorder
			res, err := e.Run(context.Background(),
				scanning.NewScanSpec(scanning.TargetTypeArchive, src, tt.opts), rec.record)
			require.NoError(t, err)

			assert.Equal(t, tt.wantScanned, res.FilesScanned)
			assert.Equal(t, tt.wantSkipped, res.FilesSkipped)
			assert.Len(t, res.Findings, tt.wantFindings)
			require.NotEmpty(t, rec.calls)
			last := rec.calls[len(rec.calls)-1]
			assert.Equal(t, [2]int64{tt.wantTotal, tt.wantTotal}, last)
		})
	}
}

func TestRecordPath(t *testing.T) {
	assert.Equal(t, "src/aws.py", recordPath("https://example.com/src/aws.py"))
	assert.Equal(t, "https://example.com/", recordPath("https://example.com/"))
	assert.Equal(t, "::not a url", recordPath("::not a url"))
}
