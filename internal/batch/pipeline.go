// Package batch scans CSV, Parquet and JSON-lines datasets record by record.
package batch

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"
)

// Scanner decides whether a single record's text contains PII
type Scanner interface {
	ContainsPII(text string) bool
}

// Observer receives the record counts of every processed file
type Observer interface {
	ObserveBatch(withPII, clean, invalid int64)
}

// readBatchFunc returns up to one batch of records. A nil *string marks a
// record that could not be read; an empty slice means end of input.
type readBatchFunc func() ([]*string, error)

// Pipeline scans dataset files
type Pipeline struct {
	scanner  Scanner
	config   *Config
	logger   *logger.Logger
	observer Observer
}

// NewPipeline creates a dataset pipeline
func NewPipeline(scanner Scanner, config *Config, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NewNop()
	}
	cfg := *config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.ProgressReport <= 0 {
		cfg.ProgressReport = 100000
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = 100
	}
	return &Pipeline{
		scanner: scanner,
		config:  &cfg,
		logger:  log.WithComponent("batch"),
	}
}

// SetObserver attaches an observer for record counts
func (p *Pipeline) SetObserver(o Observer) {
	p.observer = o
}

// ProcessFile scans every record of a CSV, Parquet or JSON-lines file
func (p *Pipeline) ProcessFile(ctx context.Context, filePath string) (*Result, error) {
	format, err := DetectFileFormat(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, filePath)
	}

	p.logger.Info("Starting dataset scan",
		zap.String("file", filePath),
		zap.String("format", string(format)),
		zap.Int("batch_size", p.config.BatchSize))

	start := time.Now()
	result := &Result{}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer file.Close()

	var readBatch readBatchFunc
	switch format {
	case FormatCSV:
		readBatch, err = p.csvReader(file, result)
	case FormatParquet:
		var closeFn func() error
		readBatch, closeFn, err = p.parquetReader(file)
		if closeFn != nil {
			defer closeFn()
		}
	case FormatJSON:
		readBatch = p.jsonReader(file, result)
	}
	if err != nil {
		return nil, fmt.Errorf("%s processing failed: %w", format, err)
	}

	if err := p.processBatches(ctx, readBatch, result); err != nil {
		return result, fmt.Errorf("%s processing failed: %w", format, err)
	}

	result.Duration = time.Since(start)
	if p.observer != nil {
		p.observer.ObserveBatch(result.WithPII, result.Clean, result.Invalid)
	}

	p.logger.Info("Dataset scan completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("with_pii", result.WithPII),
		zap.Int64("clean", result.Clean),
		zap.Int64("invalid", result.Invalid),
		zap.Duration("total_duration", result.Duration))

	return result, nil
}

func (p *Pipeline) csvReader(file io.Reader, result *Result) (readBatchFunc, error) {
	reader := csv.NewReader(file)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	column := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")), TextColumn) {
			column = i
			break
		}
	}
	if column < 0 {
		return nil, fmt.Errorf("CSV header has no %q column", TextColumn)
	}

	p.logger.Debug("CSV header detected", zap.Int("columns", len(header)), zap.Int("text_column", column))

	return func() ([]*string, error) {
		var batch []*string
		for len(batch) < p.config.BatchSize {
			record, err := reader.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				p.recordError(result, fmt.Sprintf("line %d: %v", parseErr.Line, parseErr.Err))
				batch = append(batch, nil)
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read CSV record: %w", err)
			}

			text := record[column]
			batch = append(batch, &text)
		}
		return batch, nil
	}, nil
}

func (p *Pipeline) parquetReader(file *os.File) (readBatchFunc, func() error, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, nil, err
	}
	// NewReader panics on a corrupt footer; OpenFile reports it instead
	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open Parquet file: %w", err)
	}
	if _, ok := pf.Schema().Lookup(TextColumn); !ok {
		return nil, nil, fmt.Errorf("parquet schema has no %q column", TextColumn)
	}

	reader := parquet.NewReader(pf)

	return func() ([]*string, error) {
		var batch []*string
		for len(batch) < p.config.BatchSize {
			var record Record
			err := reader.Read(&record)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read Parquet record: %w", err)
			}
			text := record.Text
			batch = append(batch, &text)
		}
		return batch, nil
	}, reader.Close, nil
}

// jsonReader reads one JSON object per line; blank lines are skipped
func (p *Pipeline) jsonReader(file io.Reader, result *Result) readBatchFunc {
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0

	return func() ([]*string, error) {
		var batch []*string
		for len(batch) < p.config.BatchSize && sc.Scan() {
			line++
			raw := strings.TrimSpace(sc.Text())
			if raw == "" {
				continue
			}

			var record struct {
				Text *string `json:"text"`
			}
			if err := json.Unmarshal([]byte(raw), &record); err != nil {
				p.recordError(result, fmt.Sprintf("line %d: %v", line, err))
				batch = append(batch, nil)
				continue
			}
			if record.Text == nil {
				p.recordError(result, fmt.Sprintf("line %d: missing %q field", line, TextColumn))
				batch = append(batch, nil)
				continue
			}
			batch = append(batch, record.Text)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("failed to read JSON record: %w", err)
		}
		return batch, nil
	}
}

// processBatches scans records batch by batch until the reader is drained
func (p *Pipeline) processBatches(ctx context.Context, readBatch readBatchFunc, result *Result) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := readBatch()
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		p.processBatch(batch, result)

		if result.TotalRecords/int64(p.config.ProgressReport) != (result.TotalRecords-int64(len(batch)))/int64(p.config.ProgressReport) {
			p.logger.Info("Processing progress",
				zap.Int64("records_processed", result.TotalRecords),
				zap.Int64("with_pii", result.WithPII))
		}
	}
}

func (p *Pipeline) processBatch(batch []*string, result *Result) {
	for _, text := range batch {
		index := result.TotalRecords
		result.TotalRecords++

		row := ReportRow{Record: index}
		switch {
		case text == nil:
			result.Invalid++
			row.Invalid = true
		case p.scanner.ContainsPII(*text):
			result.WithPII++
			result.Flagged = append(result.Flagged, index)
			row.ContainsPII = true
			row.TextBytes = int64(len(*text))
		default:
			result.Clean++
			row.TextBytes = int64(len(*text))
		}

		if p.config.CollectRows {
			result.Rows = append(result.Rows, row)
		}
	}
}

func (p *Pipeline) recordError(result *Result, msg string) {
	p.logger.Debug("Invalid dataset record", zap.String("error", msg))
	if len(result.Errors) < p.config.MaxErrors {
		result.Errors = append(result.Errors, msg)
	}
}

// WriteReport writes per-record verdicts to a Parquet file
func WriteReport(path string, rows []ReportRow) error {
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
