package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/raaihank/pii-sentinel/internal/extract"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"go.uber.org/zap"
)

// Matcher reports whether text contains PII
type Matcher interface {
	Matches(text string) bool
}

// Target is a validated file ready for extraction
type Target struct {
	Path   string
	Format extract.Format
	Info   os.FileInfo
}

// Dispatcher picks an extractor by file extension and matches the
// extracted text. It holds no per-call state.
type Dispatcher struct {
	matcher   Matcher
	extractor extract.TextExtractor
	logger    *logger.Logger
}

// NewDispatcher creates a dispatcher
func NewDispatcher(matcher Matcher, extractor extract.TextExtractor, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{
		matcher:   matcher,
		extractor: extractor,
		logger:    log,
	}
}

// Resolve validates path and determines its format. The file is stat'ed
// but never opened.
func (d *Dispatcher) Resolve(path string) (Target, error) {
	if path == "" {
		return Target{}, fmt.Errorf("%w: empty path", ErrInvalidInput)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Target{}, fmt.Errorf("%w: file not found: %s", ErrInvalidInput, path)
		}
		return Target{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if info.IsDir() {
		return Target{}, fmt.Errorf("%w: %s is a directory", ErrInvalidInput, path)
	}

	format, ok := extract.DetectFormat(path)
	if !ok {
		return Target{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	return Target{Path: path, Format: format, Info: info}, nil
}

// Detect reports whether the file at path contains PII
func (d *Dispatcher) Detect(ctx context.Context, path string) (bool, error) {
	target, err := d.Resolve(path)
	if err != nil {
		return false, err
	}
	return d.DetectTarget(ctx, target)
}

// DetectTarget extracts an already resolved target and matches its text
func (d *Dispatcher) DetectTarget(ctx context.Context, target Target) (bool, error) {
	text, err := d.extract(ctx, target)
	if err != nil {
		d.logger.Debug("Extraction failed",
			zap.String("path", target.Path),
			zap.String("format", string(target.Format)),
			zap.Error(err),
		)
		return false, &ExtractionError{Path: target.Path, Format: target.Format, Err: err}
	}

	return d.matcher.Matches(text), nil
}

func (d *Dispatcher) extract(ctx context.Context, target Target) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("extractor panic: %v", rec)
		}
	}()
	return d.extractor.ExtractText(ctx, target.Path, target.Format)
}
