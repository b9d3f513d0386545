package config

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.Reset()
	setDefaults(GetDefaults())

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/pii-sentinel/")
	viper.AddConfigPath("$HOME/.pii-sentinel/")

	// Environment variable overrides, e.g. SENTINEL_SERVER_PORT
	viper.SetEnvPrefix("SENTINEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// ConfigFile returns the file the configuration was read from, if any
func ConfigFile() string {
	return viper.ConfigFileUsed()
}

// setDefaults registers every key so environment overrides apply to keys
// absent from the config file
func setDefaults(d *Config) {
	defaults := map[string]interface{}{
		"server.host":             d.Server.Host,
		"server.port":             d.Server.Port,
		"server.read_timeout":     d.Server.ReadTimeout,
		"server.write_timeout":    d.Server.WriteTimeout,
		"server.idle_timeout":     d.Server.IdleTimeout,
		"server.shutdown_timeout": d.Server.ShutdownTimeout,
		"server.max_body_bytes":   d.Server.MaxBodyBytes,
		"server.trusted_proxies":  d.Server.TrustedProxies,

		"scanner.custom_patterns":    d.Scanner.CustomPatterns,
		"scanner.max_file_bytes":     d.Scanner.MaxFileBytes,
		"scanner.pdf_max_file_bytes": d.Scanner.PDFMaxFileBytes,

		"cache.enabled":         d.Cache.Enabled,
		"cache.redis_url":       d.Cache.RedisURL,
		"cache.max_connections": d.Cache.MaxConnections,
		"cache.min_idle_conns":  d.Cache.MinIdleConns,
		"cache.default_ttl":     d.Cache.DefaultTTL,
		"cache.key_prefix":      d.Cache.KeyPrefix,

		"audit.enabled":            d.Audit.Enabled,
		"audit.driver":             d.Audit.Driver,
		"audit.dsn":                d.Audit.DSN,
		"audit.max_open_conns":     d.Audit.MaxOpenConns,
		"audit.max_idle_conns":     d.Audit.MaxIdleConns,
		"audit.conn_max_lifetime":  d.Audit.ConnMaxLifetime,
		"audit.conn_max_idle_time": d.Audit.ConnMaxIdleTime,
		"audit.retention":          d.Audit.Retention,

		"logging.level":        d.Logging.Level,
		"logging.format":       d.Logging.Format,
		"logging.file.enabled": d.Logging.File.Enabled,
		"logging.file.path":    d.Logging.File.Path,

		"websocket.enabled":                      d.WebSocket.Enabled,
		"websocket.path":                         d.WebSocket.Path,
		"websocket.username":                     d.WebSocket.Username,
		"websocket.password":                     d.WebSocket.Password,
		"websocket.status_interval":              d.WebSocket.StatusInterval,
		"websocket.events.broadcast_scans":       d.WebSocket.Events.BroadcastScans,
		"websocket.events.broadcast_patterns":    d.WebSocket.Events.BroadcastPatterns,
		"websocket.events.broadcast_system":      d.WebSocket.Events.BroadcastSystem,
		"websocket.events.broadcast_connections": d.WebSocket.Events.BroadcastConnections,

		"rate_limit.enabled":             d.RateLimit.Enabled,
		"rate_limit.requests_per_second": d.RateLimit.RequestsPerSecond,
		"rate_limit.burst":               d.RateLimit.Burst,
		"rate_limit.client_ttl":          d.RateLimit.ClientTTL,

		"metrics.enabled": d.Metrics.Enabled,
		"metrics.path":    d.Metrics.Path,

		"batch.batch_size": d.Batch.BatchSize,
	}

	for key, value := range defaults {
		viper.SetDefault(key, value)
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("invalid server max_body_bytes: %d", config.Server.MaxBodyBytes)
	}

	for _, proxy := range config.Server.TrustedProxies {
		if _, err := ParseProxy(proxy); err != nil {
			return fmt.Errorf("invalid trusted proxy %q: %w", proxy, err)
		}
	}

	if config.Scanner.MaxFileBytes <= 0 || config.Scanner.PDFMaxFileBytes <= 0 {
		return fmt.Errorf("scanner file size limits must be positive")
	}

	for _, pattern := range config.Scanner.CustomPatterns {
		if pattern == "" {
			return fmt.Errorf("invalid custom pattern: pattern is empty")
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid custom pattern %q: %w", pattern, err)
		}
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("cache.redis_url is required when the cache is enabled")
	}

	if config.Audit.Enabled {
		if config.Audit.Driver != "postgres" && config.Audit.Driver != "sqlite" {
			return fmt.Errorf("invalid audit driver: %s (must be postgres or sqlite)", config.Audit.Driver)
		}
		if config.Audit.DSN == "" {
			return fmt.Errorf("audit.dsn is required when the audit trail is enabled")
		}
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.RateLimit.Enabled && (config.RateLimit.RequestsPerSecond <= 0 || config.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate_limit.requests_per_second and rate_limit.burst must be positive")
	}

	if config.Batch.BatchSize <= 0 {
		return fmt.Errorf("invalid batch size: %d", config.Batch.BatchSize)
	}

	return nil
}

// Watch reloads the configuration file on change. callback receives the
// new configuration only when it is valid; onError receives the rest.
func Watch(callback func(*Config), onError func(error)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := &Config{}
		if err := viper.Unmarshal(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("failed to unmarshal config: %w", err))
			}
			return
		}

		if err := validateConfig(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("invalid configuration in %s: %w", e.Name, err))
			}
			return
		}

		callback(newConfig)
	})
	viper.WatchConfig()
}

// AddedPatterns returns the custom patterns listed in next but not in prev,
// in next's order. Rules are never removed at runtime, so patterns dropped
// from the file are ignored.
func AddedPatterns(prev, next *Config) []string {
	seen := make(map[string]bool, len(prev.Scanner.CustomPatterns))
	for _, p := range prev.Scanner.CustomPatterns {
		seen[p] = true
	}

	var added []string
	for _, p := range next.Scanner.CustomPatterns {
		if !seen[p] {
			added = append(added, p)
			seen[p] = true
		}
	}
	return added
}

// ParseProxy parses a trusted proxy entry, either a single IP or a CIDR
func ParseProxy(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
