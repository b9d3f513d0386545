package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/raaihank/pii-sentinel/internal/extract"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/privacy"
	"go.uber.org/zap"
)

// TextScan describes a completed in-memory text scan
type TextScan struct {
	Size        int
	ContainsPII bool
	Duration    time.Duration
}

// FileScan describes a completed file scan, successful or not
type FileScan struct {
	Path        string
	Format      extract.Format
	Size        int64
	ContainsPII bool
	CacheHit    bool
	Err         error
	Duration    time.Duration
	Generation  uint64
	ScannedAt   time.Time
}

// VerdictCache stores file verdicts under keys built by CacheKey
type VerdictCache interface {
	Get(ctx context.Context, key string) (verdict bool, found bool, err error)
	Set(ctx context.Context, key string, verdict bool) error
}

// Recorder persists file scans
type Recorder interface {
	RecordScan(ctx context.Context, scan FileScan) error
}

// Observer is notified of every scan and rule addition
type Observer interface {
	TextScanned(scan TextScan)
	FileScanned(scan FileScan)
	PatternAdded(pattern string, rules int)
}

// Option configures a Scanner
type Option func(*Scanner)

// WithCache enables verdict caching for file scans
func WithCache(c VerdictCache) Option {
	return func(s *Scanner) { s.cache = c }
}

// WithRecorder enables the audit trail for file scans
func WithRecorder(r Recorder) Option {
	return func(s *Scanner) { s.recorder = r }
}

// WithObserver attaches an observer; may be given more than once
func WithObserver(o Observer) Option {
	return func(s *Scanner) { s.observers = append(s.observers, o) }
}

// Scanner is the entry point for PII detection on text and files
type Scanner struct {
	patterns   *privacy.PatternSet
	dispatcher *Dispatcher
	cache      VerdictCache
	recorder   Recorder
	observers  []Observer
	logger     *logger.Logger
}

// New creates a scanner over patterns using extractor for file content
func New(patterns *privacy.PatternSet, extractor extract.TextExtractor, log *logger.Logger, opts ...Option) *Scanner {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Scanner{
		patterns:   patterns,
		dispatcher: NewDispatcher(patterns, extractor, log),
		logger:     log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ContainsPII reports whether text matches any rule
func (s *Scanner) ContainsPII(text string) bool {
	start := time.Now()
	found := s.patterns.Matches(text)

	scan := TextScan{Size: len(text), ContainsPII: found, Duration: time.Since(start)}
	for _, o := range s.observers {
		o.TextScanned(scan)
	}
	s.logger.LogScan("text", len(text), found, nil)

	return found
}

// ContainsPIIFromFile extracts the text of the file at path and reports
// whether it contains PII. Cache and audit failures are logged only.
func (s *Scanner) ContainsPIIFromFile(ctx context.Context, path string) (bool, error) {
	return s.scanFile(ctx, path, path, func(target Target, digest string) (string, error) {
		return CacheKey(target, digest), nil
	})
}

// ContainsPIIFromUpload scans a file spooled from an upload. The audit
// trail and observers see name instead of the spool path, and verdicts are
// cached by file content since the spool path never repeats.
func (s *Scanner) ContainsPIIFromUpload(ctx context.Context, path, name string) (bool, error) {
	return s.scanFile(ctx, path, name, func(target Target, digest string) (string, error) {
		return ContentCacheKey(target.Path, digest)
	})
}

func (s *Scanner) scanFile(ctx context.Context, path, name string, keyFn func(Target, string) (string, error)) (bool, error) {
	start := time.Now()
	scan := FileScan{Path: name, ScannedAt: start}

	target, err := s.dispatcher.Resolve(path)
	if err != nil {
		scan.Err = err
		s.finish(ctx, scan, start)
		return false, err
	}
	scan.Format = target.Format
	scan.Size = target.Info.Size()
	scan.Generation = s.patterns.Generation()

	var key string
	if s.cache != nil {
		key, err = keyFn(target, s.patterns.Digest())
		if err != nil {
			s.logger.Warn("Verdict cache key unavailable", zap.String("path", name), zap.Error(err))
		}
	}
	if key != "" {
		verdict, hit, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("Verdict cache lookup failed", zap.String("path", name), zap.Error(err))
		} else if hit {
			scan.ContainsPII = verdict
			scan.CacheHit = true
			s.finish(ctx, scan, start)
			return verdict, nil
		}
	}

	found, err := s.dispatcher.DetectTarget(ctx, target)
	if err == nil && key != "" {
		if cerr := s.cache.Set(ctx, key, found); cerr != nil {
			s.logger.Warn("Verdict cache store failed", zap.String("path", name), zap.Error(cerr))
		}
	}

	scan.ContainsPII = found
	scan.Err = err
	s.finish(ctx, scan, start)
	return found, err
}

func (s *Scanner) finish(ctx context.Context, scan FileScan, start time.Time) {
	scan.Duration = time.Since(start)

	if s.recorder != nil {
		if err := s.recorder.RecordScan(ctx, scan); err != nil {
			s.logger.Warn("Failed to record scan", zap.String("path", scan.Path), zap.Error(err))
		}
	}
	for _, o := range s.observers {
		o.FileScanned(scan)
	}
	s.logger.LogScan(scan.Path, int(scan.Size), scan.ContainsPII, scan.Err)
}

// AddPattern compiles pattern and appends it to the rule set. An empty
// pattern matches both ErrInvalidInput and ErrInvalidPattern.
func (s *Scanner) AddPattern(pattern string) error {
	if err := s.patterns.AddPattern(pattern); err != nil {
		if errors.Is(err, privacy.ErrEmptyPattern) {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return err
	}

	rules := s.patterns.Len()
	for _, o := range s.observers {
		o.PatternAdded(pattern, rules)
	}
	return nil
}

// ScanTree scans root, or every supported file beneath it when root is a
// directory, one file at a time. fn receives each verdict or error;
// returning a non-nil error from fn stops the walk with that error.
func (s *Scanner) ScanTree(ctx context.Context, root string, fn func(path string, containsPII bool, err error) error) error {
	if root == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidInput)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if !info.IsDir() {
		found, err := s.ContainsPIIFromFile(ctx, root)
		return fn(root, found, err)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return fn(path, false, fmt.Errorf("%w: %w", ErrInvalidInput, walkErr))
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := extract.DetectFormat(path); !ok {
			return nil
		}
		found, err := s.ContainsPIIFromFile(ctx, path)
		return fn(path, found, err)
	})
}

// Rules returns the number of rules
func (s *Scanner) Rules() int {
	return s.patterns.Len()
}

// Patterns returns the source of every rule in order
func (s *Scanner) Patterns() []string {
	return s.patterns.Patterns()
}

// Generation changes whenever a rule is added
func (s *Scanner) Generation() uint64 {
	return s.patterns.Generation()
}

// Digest identifies the active rule sources; see privacy.PatternSet.Digest
func (s *Scanner) Digest() string {
	return s.patterns.Digest()
}

// CacheKey identifies a file version scanned under the rule set with the
// given digest
func CacheKey(target Target, digest string) string {
	path := target.Path
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	var size, mtime int64
	if target.Info != nil {
		size = target.Info.Size()
		mtime = target.Info.ModTime().UnixNano()
	}
	return fmt.Sprintf("%s|%d|%d|%s", path, size, mtime, digest)
}

// ContentCacheKey identifies file content, wherever it is stored, scanned
// under the rule set with the given digest
func ContentCacheKey(path, digest string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("content|%s|%s", hex.EncodeToString(h.Sum(nil)), digest), nil
}
