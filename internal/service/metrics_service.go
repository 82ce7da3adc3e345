package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/moderation-engine/internal/models"
	"github.com/noah-isme/moderation-engine/pkg/jobs"
)

// MetricsService owns the Prometheus registry for HTTP, cache and moderation pipeline instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	decisions        *prometheus.CounterVec
	pipelineDuration prometheus.Observer
	providerCalls    *prometheus.CounterVec
	rebuilds         *prometheus.CounterVec
	automatonRules   prometheus.Gauge
	automatonGen     prometheus.Gauge
	ruleHits         *prometheus.CounterVec

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_decisions_total",
		Help: "Moderation verdicts by status and moderation type",
	}, []string{"status", "type"})

	pipelineDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "moderation_pipeline_seconds",
		Help:    "Duration of a full moderation pipeline run",
		Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
	})

	providerCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_provider_calls_total",
		Help: "External provider calls by outcome",
	}, []string{"provider", "outcome"})

	rebuilds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_automaton_rebuilds_total",
		Help: "Automaton rebuilds by trigger and result",
	}, []string{"trigger", "result"})

	automatonRules := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "moderation_automaton_rules",
		Help: "Rules compiled into the active automaton snapshot",
	})

	automatonGen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "moderation_automaton_generation",
		Help: "Generation of the active automaton snapshot",
	})

	ruleHits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_rule_hits_total",
		Help: "Rule hits emitted by the scanner per category",
	}, []string{"category"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		decisions, pipelineDuration, providerCalls, rebuilds, automatonRules, automatonGen, ruleHits, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		cacheLatency:     cacheLatency,
		cacheWrite:       cacheWrite,
		cacheHitRatio:    cacheHitRatio,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
		decisions:        decisions,
		pipelineDuration: pipelineDuration,
		providerCalls:    providerCalls,
		rebuilds:         rebuilds,
		automatonRules:   automatonRules,
		automatonGen:     automatonGen,
		ruleHits:         ruleHits,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDecision records a finished pipeline run.
func (m *MetricsService) ObserveDecision(status models.ModerationStatus, kind models.ModerationType, duration time.Duration) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(status), string(kind)).Inc()
	m.pipelineDuration.Observe(duration.Seconds())
}

// ObserveProviderCall counts a provider outcome such as pass, block, failure, cached or cancelled.
func (m *MetricsService) ObserveProviderCall(provider, outcome string) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, outcome).Inc()
}

// ObserveRebuild records an automaton rebuild attempt.
func (m *MetricsService) ObserveRebuild(trigger string, err error, rules int, generation uint64) {
	if m == nil {
		return
	}
	if err != nil {
		m.rebuilds.WithLabelValues(trigger, "error").Inc()
		return
	}
	m.rebuilds.WithLabelValues(trigger, "ok").Inc()
	m.automatonRules.Set(float64(rules))
	m.automatonGen.Set(float64(generation))
}

// ObserveHits counts scanner hits per category.
func (m *MetricsService) ObserveHits(hits []models.RuleHit) {
	if m == nil {
		return
	}
	for _, hit := range hits {
		m.ruleHits.WithLabelValues(string(hit.Category)).Inc()
	}
}

// WatchQueue exports depth and drop counters of a job queue.
func (m *MetricsService) WatchQueue(q *jobs.Queue) {
	if m == nil || q == nil {
		return
	}
	name := q.Stats().Name
	pending := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "job_queue_pending",
		Help:        "Jobs waiting in the queue",
		ConstLabels: prometheus.Labels{"queue": name},
	}, func() float64 { return float64(q.Stats().Pending) })
	dropped := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name:        "job_queue_dropped_total",
		Help:        "Jobs dropped because the queue was full",
		ConstLabels: prometheus.Labels{"queue": name},
	}, func() float64 { return float64(q.Stats().Dropped) })
	m.registry.MustRegister(pending, dropped)
}
