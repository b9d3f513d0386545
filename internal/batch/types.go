package batch

import (
	"errors"
	"path/filepath"
	"strings"
	"time"
)

// TextColumn is the column or field every dataset record must carry
const TextColumn = "text"

// ErrUnsupportedDataset is returned for dataset extensions with no reader
var ErrUnsupportedDataset = errors.New("unsupported dataset format")

// Record is a single dataset row
type Record struct {
	Text string `parquet:"text,optional" json:"text"`
}

// ReportRow is the per-record verdict written by WriteReport
type ReportRow struct {
	Record      int64 `parquet:"record" json:"record"`
	ContainsPII bool  `parquet:"contains_pii" json:"contains_pii"`
	Invalid     bool  `parquet:"invalid" json:"invalid"`
	TextBytes   int64 `parquet:"text_bytes" json:"text_bytes"`
}

// Result summarizes a dataset scan
type Result struct {
	TotalRecords int64         `json:"total_records"`
	WithPII      int64         `json:"with_pii"`
	Clean        int64         `json:"clean"`
	Invalid      int64         `json:"invalid"`
	Flagged      []int64       `json:"flagged,omitempty"` // zero-based record numbers containing PII
	Duration     time.Duration `json:"duration"`
	Errors       []string      `json:"errors,omitempty"`
	Rows         []ReportRow   `json:"-"`
}

// Config contains dataset pipeline configuration
type Config struct {
	BatchSize      int  `yaml:"batch_size" mapstructure:"batch_size"`
	ProgressReport int  `yaml:"progress_report" mapstructure:"progress_report"`
	CollectRows    bool `yaml:"collect_rows" mapstructure:"collect_rows"` // keep per-record rows for WriteReport
	MaxErrors      int  `yaml:"max_errors" mapstructure:"max_errors"`     // cap on Result.Errors
}

// FileFormat represents supported dataset formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "jsonl"
)

// DetectFileFormat detects the dataset format from the file extension
func DetectFileFormat(filename string) (FileFormat, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".parquet":
		return FormatParquet, nil
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON, nil
	default:
		return "", ErrUnsupportedDataset
	}
}
