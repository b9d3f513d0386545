// Package extract turns supported document files into plain text for scanning.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/raaihank/pii-sentinel/internal/logger"
	"go.uber.org/zap"
)

// Format is a format tag derived from a file extension
type Format string

const (
	FormatPlain Format = "plain"
	FormatJSON  Format = "json"
	FormatXLSX  Format = "xlsx"
	FormatPDF   Format = "pdf"
	FormatDOCX  Format = "docx"
)

var extensionFormats = map[string]Format{
	".txt":  FormatPlain,
	".csv":  FormatPlain,
	".vcf":  FormatPlain,
	".ics":  FormatPlain,
	".mht":  FormatPlain,
	".rtf":  FormatPlain,
	".xml":  FormatPlain,
	".json": FormatJSON,
	".xlsx": FormatXLSX,
	".pdf":  FormatPDF,
	".docx": FormatDOCX,
}

// ErrUnknownFormat is returned when asked to extract a format with no extractor
var ErrUnknownFormat = errors.New("unknown format")

// DetectFormat maps a path's extension (case-insensitive) to a format tag.
// ok is false when the extension is not in the allow-list.
func DetectFormat(path string) (format Format, ok bool) {
	format, ok = extensionFormats[strings.ToLower(filepath.Ext(path))]
	return format, ok
}

// SupportedExtensions lists the allow-listed extensions
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extensionFormats))
	for ext := range extensionFormats {
		exts = append(exts, ext)
	}
	return exts
}

// TextExtractor yields the text content of the file at path
type TextExtractor interface {
	ExtractText(ctx context.Context, path string, format Format) (string, error)
}

// Config holds extraction limits
type Config struct {
	MaxFileBytes    int64 // cap for plain, JSON and OOXML parts
	PDFMaxFileBytes int64 // cap for the PDF parser input
}

// Registry dispatches to the built-in extractor for each format
type Registry struct {
	config Config
	logger *logger.Logger
}

// NewRegistry creates an extractor registry
func NewRegistry(cfg Config, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = defaultMaxFileBytes
	}
	if cfg.PDFMaxFileBytes <= 0 {
		cfg.PDFMaxFileBytes = defaultPDFMaxFileBytes
	}
	return &Registry{config: cfg, logger: log}
}

const (
	defaultMaxFileBytes    = 50 * 1024 * 1024
	defaultPDFMaxFileBytes = 20 * 1024 * 1024
)

// ExtractText implements TextExtractor
func (r *Registry) ExtractText(ctx context.Context, path string, format Format) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var (
		text string
		err  error
	)
	switch format {
	case FormatPlain:
		text, err = plainExtractText(path, r.config.MaxFileBytes)
	case FormatJSON:
		text, err = jsonExtractText(path, r.config.MaxFileBytes)
	case FormatXLSX:
		text, err = xlsxExtractText(ctx, path, r.config.MaxFileBytes)
	case FormatPDF:
		text, err = pdfExtractText(ctx, path, r.config.PDFMaxFileBytes)
	case FormatDOCX:
		text, err = docxExtractText(path, r.config.MaxFileBytes)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
	if err != nil {
		return "", err
	}

	r.logger.Debug("Text extracted",
		zap.String("path", path),
		zap.String("format", string(format)),
		zap.Int("text_bytes", len(text)),
	)

	return text, nil
}
