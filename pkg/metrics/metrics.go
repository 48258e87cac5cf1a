package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "resqflow"

// Metrics 指标管理器. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 数据库指标
	dbQueryDuration *prometheus.HistogramVec

	// 缓存指标
	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal *prometheus.CounterVec

	// 业务指标
	sosSubmissions     *prometheus.CounterVec
	sosTransitions     *prometheus.CounterVec
	suggestionReviews  *prometheus.CounterVec
	stockLevel         *prometheus.GaugeVec
	rateLimitDecisions *prometheus.CounterVec
	criticalCases      prometheus.Gauge
	ingested           *prometheus.CounterVec
	allocated          *prometheus.CounterVec
	criticalAlerts     *prometheus.CounterVec

	// 定时任务
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

// NewMetrics 创建指标管理器 on its own registry, with Go and process collectors attached.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		dbQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation", "table"}),

		cacheHitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		}, []string{"cache"}),
		cacheMissesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		}, []string{"cache"}),

		sosSubmissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sos_submissions_total",
			Help:      "SOS submissions by outcome",
		}, []string{"result"}),
		sosTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sos_transitions_total",
			Help:      "Applied SOS status transitions",
		}, []string{"from", "to"}),
		suggestionReviews: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestion_reviews_total",
			Help:      "Allocation suggestion reviews by decision and outcome",
		}, []string{"decision", "result"}),
		stockLevel: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stock_quantity",
			Help:      "Available stock after the last change",
		}, []string{"scope", "resource_type"}),
		rateLimitDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limiter decisions",
		}, []string{"limiter", "decision"}),
		criticalCases: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "missing_persons_critical",
			Help:      "Active missing-person cases past the declaration threshold at the last scan",
		}),
		ingested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestions_ingested_total",
			Help:      "Allocation suggestions received from the reasoning engine",
		}, []string{"resource_type", "flagged"}),
		allocated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocated_quantity_total",
			Help:      "Units moved from national to provincial stock by approved suggestions",
		}, []string{"resource_type", "province"}),
		criticalAlerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_critical_alerts_total",
			Help:      "Critical missing-person alerts raised by escalation scans",
		}, []string{"district"}),

		jobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job runs",
		}, []string{"job", "status"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Scheduled job duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
	}
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest 记录HTTP请求指标
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDBQuery 记录数据库查询指标
func (m *Metrics) RecordDBQuery(operation, table string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

func (m *Metrics) RecordCacheHit(cache string) {
	if m == nil {
		return
	}
	m.cacheHitsTotal.WithLabelValues(cache).Inc()
}

func (m *Metrics) RecordCacheMiss(cache string) {
	if m == nil {
		return
	}
	m.cacheMissesTotal.WithLabelValues(cache).Inc()
}

func (m *Metrics) RecordSOSSubmission(result string) {
	if m == nil {
		return
	}
	m.sosSubmissions.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordSOSTransition(from, to string) {
	if m == nil {
		return
	}
	m.sosTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordReview(decision, result string) {
	if m == nil {
		return
	}
	m.suggestionReviews.WithLabelValues(decision, result).Inc()
}

func (m *Metrics) SetStockLevel(scope, resourceType string, quantity int64) {
	if m == nil {
		return
	}
	m.stockLevel.WithLabelValues(scope, resourceType).Set(float64(quantity))
}

func (m *Metrics) RecordRateLimit(limiter string, allowed bool) {
	if m == nil {
		return
	}
	decision := "allowed"
	if !allowed {
		decision = "limited"
	}
	m.rateLimitDecisions.WithLabelValues(limiter, decision).Inc()
}

func (m *Metrics) SetCriticalCases(n int) {
	if m == nil {
		return
	}
	m.criticalCases.Set(float64(n))
}

func (m *Metrics) RecordSuggestionIngested(resourceType string, flagged bool) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(resourceType, strconv.FormatBool(flagged)).Inc()
}

func (m *Metrics) AddAllocated(resourceType, province string, qty int64) {
	if m == nil || qty <= 0 {
		return
	}
	m.allocated.WithLabelValues(resourceType, province).Add(float64(qty))
}

func (m *Metrics) RecordCriticalAlert(district string) {
	if m == nil {
		return
	}
	if district == "" {
		district = "unknown"
	}
	m.criticalAlerts.WithLabelValues(district).Inc()
}

// RecordJob 记录定时任务执行
func (m *Metrics) RecordJob(job string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.jobRuns.WithLabelValues(job, status).Inc()
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}
