package main

import (
	"fmt"

	"github.com/raaihank/pii-sentinel/internal/audit"
	"github.com/raaihank/pii-sentinel/internal/cache"
	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/extract"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/metrics"
	"github.com/raaihank/pii-sentinel/internal/privacy"
	"github.com/raaihank/pii-sentinel/internal/scanner"
	"github.com/raaihank/pii-sentinel/internal/websocket"
	"go.uber.org/zap"
)

// services holds everything a command needs
type services struct {
	config  *config.Config
	logger  *logger.Logger
	scanner *scanner.Scanner

	metrics *metrics.Metrics
	hub     *websocket.Hub
	cache   *cache.VerdictCache
	audit   *audit.Store
}

func (s *services) cleanup() {
	if s.cache != nil {
		s.cache.Close()
	}
	if s.audit != nil {
		s.audit.Close()
	}
	_ = s.logger.Sync()
}

// loadConfig reads the configuration and builds the logger
func loadConfig(opts *rootOptions) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: true,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

// initializeServices wires the scanner with the optional cache and audit
// trail. withServer adds the metrics registry and the WebSocket hub.
func initializeServices(opts *rootOptions, withServer bool) (*services, error) {
	cfg, log, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	svc := &services{config: cfg, logger: log}

	patterns := privacy.NewPatternSet(log)
	for _, p := range cfg.Scanner.CustomPatterns {
		if err := patterns.AddPattern(p); err != nil {
			return nil, fmt.Errorf("invalid custom pattern %q: %w", p, err)
		}
	}

	registry := extract.NewRegistry(extract.Config{
		MaxFileBytes:    cfg.Scanner.MaxFileBytes,
		PDFMaxFileBytes: cfg.Scanner.PDFMaxFileBytes,
	}, log)

	var scanOpts []scanner.Option

	if cfg.Cache.Enabled {
		vc, err := cache.NewVerdictCache(&cache.Config{
			RedisURL:       cfg.Cache.RedisURL,
			MaxConnections: cfg.Cache.MaxConnections,
			MinIdleConns:   cfg.Cache.MinIdleConns,
			DefaultTTL:     cfg.Cache.DefaultTTL,
			KeyPrefix:      cfg.Cache.KeyPrefix,
		}, log)
		if err != nil {
			// Scans work without the cache, only slower
			log.Warn("Verdict cache unavailable, continuing without it", zap.Error(err))
		} else {
			svc.cache = vc
			scanOpts = append(scanOpts, scanner.WithCache(vc))
		}
	}

	if cfg.Audit.Enabled {
		store, err := audit.NewStore(&audit.Config{
			Driver:          cfg.Audit.Driver,
			DSN:             cfg.Audit.DSN,
			MaxOpenConns:    cfg.Audit.MaxOpenConns,
			MaxIdleConns:    cfg.Audit.MaxIdleConns,
			ConnMaxLifetime: cfg.Audit.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Audit.ConnMaxIdleTime,
		}, log)
		if err != nil {
			svc.cleanup()
			return nil, fmt.Errorf("failed to initialize audit store: %w", err)
		}
		svc.audit = store
		scanOpts = append(scanOpts, scanner.WithRecorder(store))
	}

	if withServer {
		if cfg.Metrics.Enabled {
			svc.metrics = metrics.New()
			svc.metrics.SetRules(patterns.Len())
			scanOpts = append(scanOpts, scanner.WithObserver(svc.metrics))
		}
		if cfg.WebSocket.Enabled {
			svc.hub = websocket.NewHub(&websocket.HubConfig{
				BroadcastScans:       cfg.WebSocket.Events.BroadcastScans,
				BroadcastPatterns:    cfg.WebSocket.Events.BroadcastPatterns,
				BroadcastSystem:      cfg.WebSocket.Events.BroadcastSystem,
				BroadcastConnections: cfg.WebSocket.Events.BroadcastConnections,
				Username:             cfg.WebSocket.Username,
				Password:             cfg.WebSocket.Password,
			}, log)
			scanOpts = append(scanOpts, scanner.WithObserver(svc.hub))
		}
	}

	svc.scanner = scanner.New(patterns, registry, log, scanOpts...)

	log.Debug("Services initialized",
		zap.Int("rules", patterns.Len()),
		zap.Bool("cache", svc.cache != nil),
		zap.Bool("audit", svc.audit != nil),
		zap.String("config_file", config.ConfigFile()))

	return svc, nil
}
