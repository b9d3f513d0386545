package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/raaihank/pii-sentinel/internal/extract"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/privacy"
)

type stubExtractor struct {
	mu    sync.Mutex
	text  string
	err   error
	panic bool
	calls int
}

func (s *stubExtractor) ExtractText(ctx context.Context, path string, format extract.Format) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.panic {
		panic("boom")
	}
	return s.text, s.err
}

type countingExtractor struct {
	inner extract.TextExtractor
	calls int
}

func (c *countingExtractor) ExtractText(ctx context.Context, path string, format extract.Format) (string, error) {
	c.calls++
	return c.inner.ExtractText(ctx, path, format)
}

type memoryCache struct {
	entries map[string]bool
	getErr  error
}

func (m *memoryCache) Get(ctx context.Context, key string) (bool, bool, error) {
	if m.getErr != nil {
		return false, false, m.getErr
	}
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *memoryCache) Set(ctx context.Context, key string, verdict bool) error {
	m.entries[key] = verdict
	return nil
}

type recordingObserver struct {
	texts    []TextScan
	files    []FileScan
	patterns []string
}

func (r *recordingObserver) TextScanned(scan TextScan) { r.texts = append(r.texts, scan) }
func (r *recordingObserver) FileScanned(scan FileScan) { r.files = append(r.files, scan) }
func (r *recordingObserver) PatternAdded(pattern string, _ int) { r.patterns = append(r.patterns, pattern) }

type failingRecorder struct{ calls int }

func (f *failingRecorder) RecordScan(ctx context.Context, scan FileScan) error {
	f.calls++
	return errors.New("database unavailable")
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newRegistry() *extract.Registry {
	return extract.NewRegistry(extract.Config{}, logger.NewNop())
}

func TestDispatcherDetect(t *testing.T) {
	dir := t.TempDir()
	ps := privacy.NewPatternSet(logger.NewNop())
	d := NewDispatcher(ps, newRegistry(), logger.NewNop())
	ctx := context.Background()

	t.Run("PlainTextWithPII", func(t *testing.T) {
		path := writeFile(t, dir, "contact.txt", "contact me at a@b.co")
		found, err := d.Detect(ctx, path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !found {
			t.Error("expected PII")
		}
	})

	t.Run("UppercaseExtension", func(t *testing.T) {
		path := writeFile(t, dir, "NOTES.TXT", "no sensitive data here")
		found, err := d.Detect(ctx, path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if found {
			t.Error("expected no PII")
		}
	})

	t.Run("UnsupportedFormat", func(t *testing.T) {
		path := writeFile(t, dir, "image.bmp", "a@b.co")
		_, err := d.Detect(ctx, path)
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("expected ErrUnsupportedFormat, got %v", err)
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := d.Detect(ctx, filepath.Join(dir, "missing.txt"))
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("MissingUnsupportedFile", func(t *testing.T) {
		_, err := d.Detect(ctx, filepath.Join(dir, "missing.bmp"))
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := d.Detect(ctx, "")
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("Directory", func(t *testing.T) {
		sub := filepath.Join(dir, "folder.txt")
		if err := os.Mkdir(sub, 0o755); err != nil {
			t.Fatal(err)
		}
		_, err := d.Detect(ctx, sub)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("ExtractionFailed", func(t *testing.T) {
		path := writeFile(t, dir, "broken.json", `{"name": `)
		_, err := d.Detect(ctx, path)
		if !errors.Is(err, ErrExtractionFailed) {
			t.Fatalf("expected ErrExtractionFailed, got %v", err)
		}
		var extractErr *ExtractionError
		if !errors.As(err, &extractErr) {
			t.Fatalf("expected *ExtractionError, got %T", err)
		}
		if extractErr.Path != path || extractErr.Format != extract.FormatJSON {
			t.Errorf("unexpected error fields: %+v", extractErr)
		}
	})

	t.Run("TruncatedJSONWithPII", func(t *testing.T) {
		path := writeFile(t, dir, "truncated.json", `{"email": "a@b.co", "notes": [`)
		found, err := d.Detect(ctx, path)
		if !errors.Is(err, ErrExtractionFailed) {
			t.Fatalf("expected ErrExtractionFailed, got %v", err)
		}
		if found {
			t.Error("partial text must not produce a verdict")
		}
	})
}

func TestDispatcherRecoversExtractorPanic(t *testing.T) {
	path := writeFile(t, t.TempDir(), "doc.pdf", "%PDF")
	stub := &stubExtractor{panic: true}
	d := NewDispatcher(privacy.NewPatternSet(nil), stub, nil)

	found, err := d.Detect(context.Background(), path)
	if found {
		t.Error("expected no verdict on panic")
	}
	if !errors.Is(err, ErrExtractionFailed) {
		t.Errorf("expected ErrExtractionFailed, got %v", err)
	}
}

func TestDispatcherUnsupportedNeverExtracts(t *testing.T) {
	path := writeFile(t, t.TempDir(), "photo.bmp", "a@b.co")
	stub := &stubExtractor{text: "a@b.co"}
	d := NewDispatcher(privacy.NewPatternSet(nil), stub, nil)

	if _, err := d.Detect(context.Background(), path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if stub.calls != 0 {
		t.Errorf("extractor called %d times", stub.calls)
	}
}

func TestScannerContainsPII(t *testing.T) {
	obs := &recordingObserver{}
	s := New(privacy.NewPatternSet(nil), newRegistry(), nil, WithObserver(obs))

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"Empty", "", false},
		{"Email", "contact me at a@b.co", true},
		{"Clean", "no sensitive data here", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.ContainsPII(tt.text); got != tt.want {
				t.Errorf("ContainsPII(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}

	if len(obs.texts) != len(tests) {
		t.Errorf("observer saw %d text scans, want %d", len(obs.texts), len(tests))
	}
}

func TestScannerAddPattern(t *testing.T) {
	obs := &recordingObserver{}
	s := New(privacy.NewPatternSet(nil), newRegistry(), nil, WithObserver(obs))
	before := s.Rules()

	if s.ContainsPII("ref FOO-123") {
		t.Fatal("built-in rules should not match")
	}
	if err := s.AddPattern(`FOO-\d{3}`); err != nil {
		t.Fatalf("AddPattern failed: %v", err)
	}
	if !s.ContainsPII("ref FOO-123") || !s.ContainsPII("ref FOO-123") {
		t.Error("added pattern should match persistently")
	}
	if s.Rules() != before+1 {
		t.Errorf("expected %d rules, got %d", before+1, s.Rules())
	}
	if len(obs.patterns) != 1 || obs.patterns[0] != `FOO-\d{3}` {
		t.Errorf("unexpected observed patterns: %v", obs.patterns)
	}

	t.Run("Empty", func(t *testing.T) {
		err := s.AddPattern("")
		if !errors.Is(err, ErrInvalidPattern) || !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidPattern and ErrInvalidInput, got %v", err)
		}
	})

	t.Run("Unterminated", func(t *testing.T) {
		err := s.AddPattern("[unterminated")
		if !errors.Is(err, ErrInvalidPattern) {
			t.Errorf("expected ErrInvalidPattern, got %v", err)
		}
		if errors.Is(err, ErrInvalidInput) {
			t.Error("compile errors should not match ErrInvalidInput")
		}
	})

	if s.Rules() != before+1 {
		t.Errorf("failed additions changed the rule count to %d", s.Rules())
	}
}

func TestScannerFileCache(t *testing.T) {
	path := writeFile(t, t.TempDir(), "ref.txt", "ref FOO-123")
	extractor := &countingExtractor{inner: newRegistry()}
	cache := &memoryCache{entries: make(map[string]bool)}
	obs := &recordingObserver{}
	s := New(privacy.NewPatternSet(nil), extractor, nil, WithCache(cache), WithObserver(obs))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		found, err := s.ContainsPIIFromFile(ctx, path)
		if err != nil {
			t.Fatalf("scan %d: %v", i, err)
		}
		if found {
			t.Fatalf("scan %d: expected no PII", i)
		}
	}
	if extractor.calls != 1 {
		t.Errorf("expected 1 extraction, got %d", extractor.calls)
	}
	if !obs.files[1].CacheHit {
		t.Error("second scan should be a cache hit")
	}

	if err := s.AddPattern(`FOO-\d{3}`); err != nil {
		t.Fatal(err)
	}

	found, err := s.ContainsPIIFromFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Error("verdict should reflect the added pattern")
	}
	if extractor.calls != 2 {
		t.Errorf("expected cache miss after AddPattern, got %d extractions", extractor.calls)
	}
}

func TestScannerCacheFailureIsIgnored(t *testing.T) {
	path := writeFile(t, t.TempDir(), "contact.txt", "a@b.co")
	cache := &memoryCache{entries: make(map[string]bool), getErr: errors.New("connection refused")}
	recorder := &failingRecorder{}
	s := New(privacy.NewPatternSet(nil), newRegistry(), nil, WithCache(cache), WithRecorder(recorder))

	found, err := s.ContainsPIIFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Error("expected PII")
	}
	if recorder.calls != 1 {
		t.Errorf("expected 1 audit call, got %d", recorder.calls)
	}
}

func TestScannerRecordsFailures(t *testing.T) {
	obs := &recordingObserver{}
	s := New(privacy.NewPatternSet(nil), newRegistry(), nil, WithObserver(obs))

	_, err := s.ContainsPIIFromFile(context.Background(), filepath.Join(t.TempDir(), "missing.docx"))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if len(obs.files) != 1 || !errors.Is(obs.files[0].Err, ErrInvalidInput) {
		t.Errorf("expected failed scan to be observed: %+v", obs.files)
	}
}

func TestScanTree(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "contact me at a@b.co")
	writeFile(t, dir, "nested/b.csv", "no sensitive data here")
	writeFile(t, dir, "nested/c.json", `{"broken": `)
	writeFile(t, dir, "nested/skip.bmp", "a@b.co")

	s := New(privacy.NewPatternSet(nil), newRegistry(), nil)

	verdicts := make(map[string]bool)
	var failed []string
	err := s.ScanTree(context.Background(), dir, func(path string, containsPII bool, err error) error {
		rel, _ := filepath.Rel(dir, path)
		rel = filepath.ToSlash(rel)
		if err != nil {
			failed = append(failed, rel)
			return nil
		}
		verdicts[rel] = containsPII
		return nil
	})
	if err != nil {
		t.Fatalf("ScanTree failed: %v", err)
	}

	if len(verdicts) != 2 || !verdicts["a.txt"] || verdicts["nested/b.csv"] {
		t.Errorf("unexpected verdicts: %v", verdicts)
	}
	sort.Strings(failed)
	if len(failed) != 1 || failed[0] != "nested/c.json" {
		t.Errorf("unexpected failures: %v", failed)
	}

	t.Run("StopsOnCallbackError", func(t *testing.T) {
		stop := errors.New("stop")
		calls := 0
		err := s.ScanTree(context.Background(), dir, func(string, bool, error) error {
			calls++
			return stop
		})
		if !errors.Is(err, stop) || calls != 1 {
			t.Errorf("expected walk to stop after one file, got err=%v calls=%d", err, calls)
		}
	})

	t.Run("SingleFile", func(t *testing.T) {
		var got bool
		err := s.ScanTree(context.Background(), filepath.Join(dir, "a.txt"), func(_ string, found bool, err error) error {
			got = found
			return err
		})
		if err != nil || !got {
			t.Errorf("expected PII in single file, got %v %v", got, err)
		}
	})

	t.Run("MissingRoot", func(t *testing.T) {
		err := s.ScanTree(context.Background(), filepath.Join(dir, "nope"), func(string, bool, error) error { return nil })
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestScannerSharedCacheAcrossRuleSets(t *testing.T) {
	path := writeFile(t, t.TempDir(), "ref.txt", "ref foo-123")
	shared := &memoryCache{entries: make(map[string]bool)}
	ctx := context.Background()

	newScanner := func(pattern string) *Scanner {
		ps := privacy.NewPatternSet(nil)
		if err := ps.AddPattern(pattern); err != nil {
			t.Fatal(err)
		}
		return New(ps, newRegistry(), nil, WithCache(shared))
	}
	a := newScanner(`foo-\d{3}`)
	b := newScanner(`bar-\d{3}`)

	if a.Generation() != b.Generation() {
		t.Fatalf("both scanners should sit at the same generation")
	}

	found, err := a.ContainsPIIFromFile(ctx, path)
	if err != nil || !found {
		t.Fatalf("first rule set: found %v, err %v", found, err)
	}
	found, err = b.ContainsPIIFromFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("second rule set was served the first rule set's verdict")
	}

	// Same rules in a fresh process share the entry
	c := newScanner(`foo-\d{3}`)
	extractor := &countingExtractor{inner: newRegistry()}
	c.dispatcher = NewDispatcher(c.patterns, extractor, logger.NewNop())
	if found, err := c.ContainsPIIFromFile(ctx, path); err != nil || !found {
		t.Fatalf("identical rule set: found %v, err %v", found, err)
	}
	if extractor.calls != 0 {
		t.Errorf("identical rule set should hit the cache, got %d extractions", extractor.calls)
	}
}

func TestScannerContainsPIIFromUpload(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "spool-1.txt", "contact a@b.co")
	second := writeFile(t, dir, "spool-2.txt", "contact a@b.co")

	extractor := &countingExtractor{inner: newRegistry()}
	cache := &memoryCache{entries: make(map[string]bool)}
	obs := &recordingObserver{}
	s := New(privacy.NewPatternSet(nil), extractor, nil, WithCache(cache), WithObserver(obs))
	ctx := context.Background()

	for _, path := range []string{first, second} {
		found, err := s.ContainsPIIFromUpload(ctx, path, "contacts.txt")
		if err != nil || !found {
			t.Fatalf("upload %s: found %v, err %v", path, found, err)
		}
	}

	if extractor.calls != 1 {
		t.Errorf("same content under a new spool path should hit the cache, got %d extractions", extractor.calls)
	}
	if len(cache.entries) != 1 {
		t.Errorf("expected one cache entry, got %d", len(cache.entries))
	}
	for _, scan := range obs.files {
		if scan.Path != "contacts.txt" {
			t.Errorf("observed path %q, want the upload name", scan.Path)
		}
	}
}

func TestCacheKeyChangesWithRules(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.txt", "x")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	target := Target{Path: path, Format: extract.FormatPlain, Info: info}

	ps := privacy.NewPatternSet(nil)
	before := ps.Digest()
	if err := ps.AddPattern(`X-\d+`); err != nil {
		t.Fatal(err)
	}
	if CacheKey(target, before) == CacheKey(target, ps.Digest()) {
		t.Error("cache key must depend on the rule set")
	}
	if CacheKey(target, before) != CacheKey(target, before) {
		t.Error("cache key must be stable")
	}

	k1, err := ContentCacheKey(path, before)
	if err != nil {
		t.Fatal(err)
	}
	other := writeFile(t, t.TempDir(), "b.txt", "x")
	k2, err := ContentCacheKey(other, before)
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k2 {
		t.Error("content key must not depend on the path")
	}
}

func TestErrorKind(t *testing.T) {
	s := New(privacy.NewPatternSet(nil), newRegistry(), nil)
	emptyErr := s.AddPattern("")
	badErr := s.AddPattern("(")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"Nil", nil, ""},
		{"InvalidInput", fmt.Errorf("%w: empty path", ErrInvalidInput), "invalid_input"},
		{"Unsupported", fmt.Errorf("%w: .bmp", ErrUnsupportedFormat), "unsupported_format"},
		{"Extraction", &ExtractionError{Path: "a.pdf", Format: extract.FormatPDF, Err: errors.New("bad xref")}, "extraction_failed"},
		{"BadPattern", badErr, "invalid_pattern"},
		{"EmptyPattern", emptyErr, "invalid_pattern"},
		{"Other", errors.New("disk on fire"), "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorKind(tt.err); got != tt.want {
				t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
