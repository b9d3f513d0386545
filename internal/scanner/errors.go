package scanner

import (
	"errors"
	"fmt"

	"github.com/raaihank/pii-sentinel/internal/extract"
	"github.com/raaihank/pii-sentinel/internal/privacy"
)

var (
	// ErrInvalidInput covers empty or missing paths, directories and empty patterns
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedFormat is returned for extensions outside the allow-list
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrExtractionFailed is matched by every *ExtractionError
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrInvalidPattern is returned when a pattern cannot be compiled or is empty
	ErrInvalidPattern = privacy.ErrInvalidPattern
)

// ExtractionError reports a file whose text could not be extracted
type ExtractionError struct {
	Path   string
	Format extract.Format
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s (%s): %v", e.Path, e.Format, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func (e *ExtractionError) Is(target error) bool { return target == ErrExtractionFailed }

// ErrorKind classifies err into a short label for metrics and audit records
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidPattern):
		return "invalid_pattern"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrExtractionFailed):
		return "extraction_failed"
	default:
		return "other"
	}
}
