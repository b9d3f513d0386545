package audit

import (
	"time"
)

// Record is one audited file scan. Scanned content is never stored.
type Record struct {
	ID             int64     `db:"id" json:"id"`
	Path           string    `db:"path" json:"path"`
	Format         string    `db:"format" json:"format"`
	SizeBytes      int64     `db:"size_bytes" json:"size_bytes"`
	ContainsPII    bool      `db:"contains_pii" json:"contains_pii"`
	CacheHit       bool      `db:"cache_hit" json:"cache_hit"`
	ErrorKind      string    `db:"error_kind" json:"error_kind,omitempty"`
	ErrorMessage   string    `db:"error_message" json:"error_message,omitempty"`
	DurationMS     float64   `db:"duration_ms" json:"duration_ms"`
	RuleGeneration int64     `db:"rule_generation" json:"rule_generation"`
	ScannedAt      time.Time `db:"scanned_at" json:"scanned_at"`
}

// QueryOptions filters Recent
type QueryOptions struct {
	Limit   int  `json:"limit"`
	OnlyPII bool `json:"only_pii"`
}

// Stats summarizes the audit trail
type Stats struct {
	TotalScans    int64   `db:"total" json:"total_scans"`
	WithPII       int64   `db:"with_pii" json:"with_pii"`
	Failed        int64   `db:"failed" json:"failed"`
	CacheHits     int64   `db:"cache_hits" json:"cache_hits"`
	AvgDurationMS float64 `db:"avg_duration_ms" json:"avg_duration_ms"`
}

// Config contains database configuration
type Config struct {
	Driver          string        `yaml:"driver" mapstructure:"driver"` // postgres or sqlite
	DSN             string        `yaml:"dsn" mapstructure:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}
