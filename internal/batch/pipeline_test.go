package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/raaihank/pii-sentinel/internal/extract"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/privacy"
	"github.com/raaihank/pii-sentinel/internal/scanner"
	"github.com/segmentio/parquet-go"
)

type countingObserver struct {
	calls                   int
	withPII, clean, invalid int64
}

func (c *countingObserver) ObserveBatch(withPII, clean, invalid int64) {
	c.calls++
	c.withPII, c.clean, c.invalid = withPII, clean, invalid
}

func newPipeline(t *testing.T, batchSize int) *Pipeline {
	t.Helper()
	log := logger.NewNop()
	sc := scanner.New(privacy.NewPatternSet(log), extract.NewRegistry(extract.Config{}, log), log)
	return NewPipeline(sc, &Config{BatchSize: batchSize, CollectRows: true}, log)
}

func writeDataset(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func assertCounts(t *testing.T, res *Result, total, withPII, clean, invalid int64) {
	t.Helper()
	if res.TotalRecords != total || res.WithPII != withPII || res.Clean != clean || res.Invalid != invalid {
		t.Errorf("counts = total %d pii %d clean %d invalid %d, want %d/%d/%d/%d",
			res.TotalRecords, res.WithPII, res.Clean, res.Invalid, total, withPII, clean, invalid)
	}
}

func TestDetectFileFormat(t *testing.T) {
	tests := []struct {
		name string
		want FileFormat
	}{
		{"data.csv", FormatCSV},
		{"DATA.CSV", FormatCSV},
		{"rows.parquet", FormatParquet},
		{"rows.json", FormatJSON},
		{"rows.jsonl", FormatJSON},
		{"rows.ndjson", FormatJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFileFormat(tt.name)
			if err != nil || got != tt.want {
				t.Errorf("DetectFileFormat(%q) = %q, %v; want %q", tt.name, got, err, tt.want)
			}
		})
	}

	if _, err := DetectFileFormat("rows.xlsx"); !errors.Is(err, ErrUnsupportedDataset) {
		t.Errorf("expected ErrUnsupportedDataset, got %v", err)
	}
}

func TestProcessCSV(t *testing.T) {
	path := writeDataset(t, "rows.csv", strings.Join([]string{
		"id,text",
		"1,contact me at jane.doe@example.com",
		"2,nothing to see here",
		"3,",
		`4,"SSN 123-45-6789, please keep private"`,
	}, "\n")+"\n")

	p := newPipeline(t, 2)
	obs := &countingObserver{}
	p.SetObserver(obs)

	res, err := p.ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	assertCounts(t, res, 4, 2, 2, 0)

	if len(res.Flagged) != 2 || res.Flagged[0] != 0 || res.Flagged[1] != 3 {
		t.Errorf("Flagged = %v, want [0 3]", res.Flagged)
	}
	if len(res.Rows) != 4 || !res.Rows[0].ContainsPII || res.Rows[1].ContainsPII {
		t.Errorf("unexpected rows: %+v", res.Rows)
	}
	if obs.calls != 1 || obs.withPII != 2 || obs.clean != 2 {
		t.Errorf("observer got %+v", obs)
	}
}

func TestProcessCSVMalformedRows(t *testing.T) {
	path := writeDataset(t, "rows.csv", "text,label\n"+
		"call 555-123-4567,a\n"+
		"only-one-field\n"+
		"plain words,b\n")

	res, err := newPipeline(t, 10).ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	assertCounts(t, res, 3, 1, 1, 1)
	if len(res.Errors) != 1 {
		t.Errorf("Errors = %v, want one entry", res.Errors)
	}
	if !res.Rows[1].Invalid {
		t.Errorf("row 1 should be invalid: %+v", res.Rows[1])
	}
}

func TestProcessCSVMissingTextColumn(t *testing.T) {
	path := writeDataset(t, "rows.csv", "id,body\n1,hello\n")

	_, err := newPipeline(t, 10).ProcessFile(context.Background(), path)
	if err == nil || !strings.Contains(err.Error(), `"text"`) {
		t.Errorf("expected missing column error, got %v", err)
	}
}

func TestProcessJSONLines(t *testing.T) {
	path := writeDataset(t, "rows.jsonl", strings.Join([]string{
		`{"text": "card 4111 1111 1111 1111"}`,
		``,
		`{"text": "the weather is mild"}`,
		`{"text": 42}`,
		`{"body": "no text field"}`,
		`not json at all`,
		`{"text": ""}`,
	}, "\n"))

	res, err := newPipeline(t, 3).ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	assertCounts(t, res, 6, 1, 2, 3)
	if len(res.Errors) != 3 {
		t.Errorf("Errors = %v, want three entries", res.Errors)
	}
}

func TestProcessParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.parquet")
	records := []Record{
		{Text: "mail admin@example.org"},
		{Text: "quarterly revenue grew"},
		{Text: "IP 192.168.1.20 logged in"},
	}
	if err := parquet.WriteFile(path, records); err != nil {
		t.Fatal(err)
	}

	res, err := newPipeline(t, 2).ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	assertCounts(t, res, 3, 2, 1, 0)
}

func TestProcessParquetMissingTextColumn(t *testing.T) {
	type other struct {
		Body string `parquet:"body"`
	}
	path := filepath.Join(t.TempDir(), "rows.parquet")
	if err := parquet.WriteFile(path, []other{{Body: "x"}}); err != nil {
		t.Fatal(err)
	}

	if _, err := newPipeline(t, 2).ProcessFile(context.Background(), path); err == nil {
		t.Error("expected error for parquet file without text column")
	}
}

func TestProcessCorruptParquet(t *testing.T) {
	path := writeDataset(t, "rows.parquet", "PAR1 this is not a parquet footer")

	if _, err := newPipeline(t, 2).ProcessFile(context.Background(), path); err == nil {
		t.Error("expected error for corrupt parquet file")
	}
}

func TestProcessUnsupportedDataset(t *testing.T) {
	path := writeDataset(t, "rows.txt", "text\nhello\n")
	if _, err := newPipeline(t, 2).ProcessFile(context.Background(), path); !errors.Is(err, ErrUnsupportedDataset) {
		t.Errorf("expected ErrUnsupportedDataset, got %v", err)
	}
}

func TestProcessCancelled(t *testing.T) {
	path := writeDataset(t, "rows.csv", "text\na\nb\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newPipeline(t, 1).ProcessFile(ctx, path); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestWriteReport(t *testing.T) {
	path := writeDataset(t, "rows.csv", "text\njane@example.com\nhello\n")
	res, err := newPipeline(t, 10).ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}

	report := filepath.Join(t.TempDir(), "report.parquet")
	if err := WriteReport(report, res.Rows); err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}

	rows, err := parquet.ReadFile[ReportRow](report)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(rows) != 2 || !rows[0].ContainsPII || rows[1].ContainsPII || rows[1].Record != 1 {
		t.Errorf("unexpected report rows: %+v", rows)
	}
}
