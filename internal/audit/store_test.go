package audit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/scanner"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(&Config{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "audit.db"),
	}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreInsertAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := &Record{
			Path:        fmt.Sprintf("/data/file%d.txt", i),
			Format:      "plain",
			SizeBytes:   int64(100 * i),
			ContainsPII: i%2 == 0,
			DurationMS:  1.5,
		}
		if err := store.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if rec.ID == 0 {
			t.Error("expected ID to be set")
		}
	}

	records, err := store.Recent(ctx, QueryOptions{Limit: 10})
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].Path != "/data/file2.txt" {
		t.Errorf("expected newest first, got %s", records[0].Path)
	}
	if records[0].ScannedAt.IsZero() {
		t.Error("expected scanned_at to round-trip")
	}

	t.Run("OnlyPII", func(t *testing.T) {
		records, err := store.Recent(ctx, QueryOptions{OnlyPII: true})
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 2 {
			t.Errorf("expected 2 PII records, got %d", len(records))
		}
		for _, r := range records {
			if !r.ContainsPII {
				t.Errorf("unexpected clean record %s", r.Path)
			}
		}
	})

	t.Run("Limit", func(t *testing.T) {
		records, err := store.Recent(ctx, QueryOptions{Limit: 1})
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 1 {
			t.Errorf("expected 1 record, got %d", len(records))
		}
	})
}

func TestStoreRecordScan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	scans := []scanner.FileScan{
		{Path: "/a.pdf", Format: "pdf", Size: 10, ContainsPII: true, Duration: 2 * time.Millisecond, Generation: 3, ScannedAt: time.Now()},
		{Path: "/a.pdf", Format: "pdf", Size: 10, ContainsPII: true, CacheHit: true},
		{Path: "/b.bmp", Err: fmt.Errorf("%w: /b.bmp", scanner.ErrUnsupportedFormat)},
		{Path: "/c.docx", Format: "docx", Err: &scanner.ExtractionError{Path: "/c.docx", Err: errors.New("document body not found")}},
	}
	for _, scan := range scans {
		if err := store.RecordScan(ctx, scan); err != nil {
			t.Fatalf("RecordScan failed: %v", err)
		}
	}

	records, err := store.Recent(ctx, QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if records[0].ErrorKind != "extraction_failed" || records[0].ErrorMessage == "" {
		t.Errorf("unexpected failure record: %+v", records[0])
	}
	if records[1].ErrorKind != "unsupported_format" {
		t.Errorf("unexpected error kind %q", records[1].ErrorKind)
	}
	if records[3].RuleGeneration != 3 || records[3].DurationMS != 2 {
		t.Errorf("unexpected first record: %+v", records[3])
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalScans != 4 || stats.WithPII != 2 || stats.Failed != 2 || stats.CacheHits != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestStoreEmptyStats(t *testing.T) {
	store := newTestStore(t)

	stats, err := store.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalScans != 0 || stats.WithPII != 0 || stats.AvgDurationMS != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestStorePrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := &Record{Path: "/old.txt", ScannedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &Record{Path: "/new.txt", ScannedAt: time.Now()}
	for _, rec := range []*Record{old, fresh} {
		if err := store.Insert(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := store.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted record, got %d", deleted)
	}

	records, err := store.Recent(ctx, QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Path != "/new.txt" {
		t.Errorf("unexpected records after prune: %+v", records)
	}
}

func TestNewStoreUnsupportedDriver(t *testing.T) {
	if _, err := NewStore(&Config{Driver: "oracle"}, nil); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://sentinel:secret@db:5432/audit?sslmode=disable", "postgres://sentinel:***@db:5432/audit?sslmode=disable"},
		{"postgres://db:5432/audit", "postgres://db:5432/audit"},
		{"/var/lib/pii-sentinel/audit.db", "/var/lib/pii-sentinel/audit.db"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := maskDatabaseURL(tt.in); got != tt.want {
				t.Errorf("maskDatabaseURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
