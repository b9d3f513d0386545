// Package metrics exposes Prometheus instrumentation for scans and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raaihank/pii-sentinel/internal/scanner"
)

const namespace = "pii_sentinel"

// Metrics holds every collector. It implements scanner.Observer.
type Metrics struct {
	registry *prometheus.Registry

	scansTotal    *prometheus.CounterVec
	scanDuration  *prometheus.HistogramVec
	scanErrors    *prometheus.CounterVec
	scannedBytes  *prometheus.CounterVec
	cacheHits     prometheus.Counter
	rules         prometheus.Gauge
	patternsAdded prometheus.Counter
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	batchRecords  *prometheus.CounterVec
}

var _ scanner.Observer = (*Metrics)(nil)

// New creates the collectors and registers them on a fresh registry that
// also carries the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the collectors on reg
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scans_total",
				Help:      "Total number of scans by source and result.",
			},
			[]string{"source", "result"},
		),
		scanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scan_duration_seconds",
				Help:      "Distribution of scan durations, extraction included.",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 12),
			},
			[]string{"source", "format"},
		),
		scanErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scan_errors_total",
				Help:      "Total number of failed file scans by error kind.",
			},
			[]string{"kind"},
		),
		scannedBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scanned_bytes_total",
				Help:      "Total input bytes scanned. For files this is the file size.",
			},
			[]string{"source"},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verdict_cache_hits_total",
				Help:      "Total number of file scans answered from the verdict cache.",
			},
		),
		rules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rules",
				Help:      "Number of active detection rules.",
			},
		),
		patternsAdded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "patterns_added_total",
				Help:      "Total number of rules added at runtime.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by route, method and status code.",
			},
			[]string{"route", "method", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Distribution of HTTP request latencies by route.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		batchRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_records_total",
				Help:      "Total dataset records scanned by result.",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		m.scansTotal,
		m.scanDuration,
		m.scanErrors,
		m.scannedBytes,
		m.cacheHits,
		m.rules,
		m.patternsAdded,
		m.httpRequests,
		m.httpDuration,
		m.batchRecords,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetRules records the current rule count
func (m *Metrics) SetRules(n int) {
	m.rules.Set(float64(n))
}

// TextScanned implements scanner.Observer
func (m *Metrics) TextScanned(scan scanner.TextScan) {
	m.scansTotal.WithLabelValues("text", verdictLabel(scan.ContainsPII)).Inc()
	m.scanDuration.WithLabelValues("text", "").Observe(scan.Duration.Seconds())
	m.scannedBytes.WithLabelValues("text").Add(float64(scan.Size))
}

// FileScanned implements scanner.Observer
func (m *Metrics) FileScanned(scan scanner.FileScan) {
	if scan.Err != nil {
		m.scansTotal.WithLabelValues("file", "error").Inc()
		m.scanErrors.WithLabelValues(scanner.ErrorKind(scan.Err)).Inc()
		return
	}

	m.scansTotal.WithLabelValues("file", verdictLabel(scan.ContainsPII)).Inc()
	if scan.CacheHit {
		m.cacheHits.Inc()
		return
	}
	m.scanDuration.WithLabelValues("file", string(scan.Format)).Observe(scan.Duration.Seconds())
	m.scannedBytes.WithLabelValues("file").Add(float64(scan.Size))
}

// PatternAdded implements scanner.Observer
func (m *Metrics) PatternAdded(_ string, rules int) {
	m.patternsAdded.Inc()
	m.SetRules(rules)
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(route, method string, code int, d time.Duration) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveBatch adds dataset record counts
func (m *Metrics) ObserveBatch(withPII, clean, invalid int64) {
	m.batchRecords.WithLabelValues("pii").Add(float64(withPII))
	m.batchRecords.WithLabelValues("clean").Add(float64(clean))
	m.batchRecords.WithLabelValues("invalid").Add(float64(invalid))
}

func verdictLabel(containsPII bool) string {
	if containsPII {
		return "pii"
	}
	return "clean"
}
