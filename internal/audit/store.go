// Package audit keeps a SQL trail of file scans in PostgreSQL or SQLite.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/scanner"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

var schemas = map[string][]string{
	DriverPostgres: {
		`CREATE TABLE IF NOT EXISTS scan_audit (
			id              BIGSERIAL PRIMARY KEY,
			path            TEXT NOT NULL,
			format          TEXT NOT NULL DEFAULT '',
			size_bytes      BIGINT NOT NULL DEFAULT 0,
			contains_pii    BOOLEAN NOT NULL DEFAULT FALSE,
			cache_hit       BOOLEAN NOT NULL DEFAULT FALSE,
			error_kind      TEXT NOT NULL DEFAULT '',
			error_message   TEXT NOT NULL DEFAULT '',
			duration_ms     DOUBLE PRECISION NOT NULL DEFAULT 0,
			rule_generation BIGINT NOT NULL DEFAULT 0,
			scanned_at      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_audit_scanned_at ON scan_audit (scanned_at)`,
	},
	DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS scan_audit (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			path            TEXT NOT NULL,
			format          TEXT NOT NULL DEFAULT '',
			size_bytes      INTEGER NOT NULL DEFAULT 0,
			contains_pii    BOOLEAN NOT NULL DEFAULT 0,
			cache_hit       BOOLEAN NOT NULL DEFAULT 0,
			error_kind      TEXT NOT NULL DEFAULT '',
			error_message   TEXT NOT NULL DEFAULT '',
			duration_ms     REAL NOT NULL DEFAULT 0,
			rule_generation INTEGER NOT NULL DEFAULT 0,
			scanned_at      TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_audit_scanned_at ON scan_audit (scanned_at)`,
	},
}

// Store persists scan records. It implements scanner.Recorder.
type Store struct {
	db     *sqlx.DB
	driver string
	logger *logger.Logger
}

var _ scanner.Recorder = (*Store)(nil)

// NewStore connects to the configured database and creates the schema
func NewStore(config *Config, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNop()
	}

	driver := config.Driver
	if driver == "" {
		driver = DriverPostgres
	}
	if _, ok := schemas[driver]; !ok {
		return nil, fmt.Errorf("unsupported audit driver %q", config.Driver)
	}

	dsn := config.DSN
	if driver == DriverSQLite && !strings.Contains(dsn, "_pragma") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)"
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if driver == DriverSQLite {
		// SQLite allows a single writer
		db.SetMaxOpenConns(1)
	}
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	store := &Store{
		db:     db,
		driver: driver,
		logger: log.WithComponent("audit"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	store.logger.Info("Audit store initialized",
		zap.String("driver", driver),
		zap.String("dsn", maskDatabaseURL(config.DSN)),
		zap.Int("max_open_conns", config.MaxOpenConns))

	return store, nil
}

func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	for _, stmt := range schemas[s.driver] {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}

// RecordScan implements scanner.Recorder
func (s *Store) RecordScan(ctx context.Context, scan scanner.FileScan) error {
	rec := &Record{
		Path:           scan.Path,
		Format:         string(scan.Format),
		SizeBytes:      scan.Size,
		ContainsPII:    scan.ContainsPII,
		CacheHit:       scan.CacheHit,
		ErrorKind:      scanner.ErrorKind(scan.Err),
		DurationMS:     float64(scan.Duration.Microseconds()) / 1000,
		RuleGeneration: int64(scan.Generation),
		ScannedAt:      scan.ScannedAt,
	}
	if scan.Err != nil {
		rec.ErrorMessage = scan.Err.Error()
	}
	return s.Insert(ctx, rec)
}

// Insert adds a record and sets its ID
func (s *Store) Insert(ctx context.Context, rec *Record) error {
	if rec.ScannedAt.IsZero() {
		rec.ScannedAt = time.Now()
	}
	rec.ScannedAt = rec.ScannedAt.UTC()

	query := s.db.Rebind(`
		INSERT INTO scan_audit (path, format, size_bytes, contains_pii, cache_hit,
			error_kind, error_message, duration_ms, rule_generation, scanned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	err := s.db.QueryRowxContext(ctx, query,
		rec.Path,
		rec.Format,
		rec.SizeBytes,
		rec.ContainsPII,
		rec.CacheHit,
		rec.ErrorKind,
		rec.ErrorMessage,
		rec.DurationMS,
		rec.RuleGeneration,
		rec.ScannedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	s.logger.Debug("Audit record inserted",
		zap.Int64("id", rec.ID),
		zap.String("path", rec.Path),
		zap.Bool("contains_pii", rec.ContainsPII))

	return nil
}

// Recent returns the newest records first
func (s *Store) Recent(ctx context.Context, opts QueryOptions) ([]Record, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	where := ""
	args := []interface{}{}
	if opts.OnlyPII {
		where = "WHERE contains_pii = ?"
		args = append(args, true)
	}
	args = append(args, opts.Limit)

	query := s.db.Rebind(fmt.Sprintf(`
		SELECT id, path, format, size_bytes, contains_pii, cache_hit,
			error_kind, error_message, duration_ms, rule_generation, scanned_at
		FROM scan_audit
		%s
		ORDER BY id DESC
		LIMIT ?`, where))

	var records []Record
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}

	return records, nil
}

// GetStats returns aggregate counts over the whole trail
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN contains_pii THEN 1 ELSE 0 END), 0) AS with_pii,
			COALESCE(SUM(CASE WHEN error_kind <> '' THEN 1 ELSE 0 END), 0) AS failed,
			COALESCE(SUM(CASE WHEN cache_hit THEN 1 ELSE 0 END), 0) AS cache_hits,
			COALESCE(AVG(duration_ms), 0) AS avg_duration_ms
		FROM scan_audit`

	var stats Stats
	if err := s.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to get audit stats: %w", err)
	}

	return &stats, nil
}

// Prune deletes records older than cutoff and returns how many were removed
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM scan_audit WHERE scanned_at < ?`), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit records: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
	}

	s.logger.Info("Audit records pruned", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
	return deleted, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL masks the password in a database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	scheme := strings.Index(userPart, "://")
	if colon < 0 || colon <= scheme+2 {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
