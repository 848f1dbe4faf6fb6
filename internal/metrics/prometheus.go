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

const namespace = "rankwatch"

// PrometheusRecorder exposes metrics through a private Prometheus registry.
// Endpoint IDs are accepted for interface parity but never used as labels.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	entities          *prometheus.CounterVec
	rankChecks        *prometheus.CounterVec
	rankCheckDuration prometheus.Histogram
	serpCache         *prometheus.CounterVec
	scraperRequests   *prometheus.CounterVec
	scraperDuration   prometheus.Histogram
	rankJobsEnqueued  *prometheus.CounterVec
	rankJobsProcessed *prometheus.CounterVec
	rankQueueDepth    prometheus.Gauge
	webhookDeliveries *prometheus.CounterVec
	webhookRetries    *prometheus.CounterVec
	webhookDuration   prometheus.Histogram
	webhookQueueDepth prometheus.Gauge
}

// NewPrometheus builds a recorder with Go runtime and process collectors registered.
func NewPrometheus() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		entities: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_changes_total",
			Help:      "Domains and keywords created or deleted.",
		}, []string{"entity", "action"}),
		rankChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rank_checks_total",
			Help:      "Completed rank checks by status.",
		}, []string{"status"}),
		rankCheckDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rank_check_duration_seconds",
			Help:      "Duration of a single keyword rank check.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 15, 30, 60},
		}),
		serpCache: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serp_cache_requests_total",
			Help:      "SERP cache lookups by result.",
		}, []string{"result"}),
		scraperRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scraper_requests_total",
			Help:      "Scraping API calls by outcome.",
		}, []string{"outcome"}),
		scraperDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scraper_request_duration_seconds",
			Help:      "Duration of scraping API calls.",
			Buckets:   []float64{1, 5, 10, 15, 30, 60, 120},
		}),
		rankJobsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rank_jobs_enqueued_total",
			Help:      "Rank check jobs published to the queue.",
		}, []string{"status"}),
		rankJobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rank_jobs_processed_total",
			Help:      "Rank check jobs consumed from the queue.",
		}, []string{"status"}),
		rankQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rank_queue_depth",
			Help:      "Entries currently in the rank check stream.",
		}),
		webhookDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery attempts by status.",
		}, []string{"status"}),
		webhookRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_retries_total",
			Help:      "Webhook retries by attempt number.",
		}, []string{"attempt"}),
		webhookDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_delivery_duration_seconds",
			Help:      "Duration of webhook HTTP deliveries.",
			Buckets:   prometheus.DefBuckets,
		}),
		webhookQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "webhook_queue_depth",
			Help:      "Webhook deliveries waiting to be sent.",
		}),
	}
}

// Registry returns the underlying registry.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *PrometheusRecorder) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	p.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	p.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncDomainCreated() {
	p.entities.WithLabelValues("domain", "created").Inc()
}

func (p *PrometheusRecorder) IncDomainDeleted() {
	p.entities.WithLabelValues("domain", "deleted").Inc()
}

func (p *PrometheusRecorder) IncKeywordsCreated(n int) {
	if n <= 0 {
		return
	}
	p.entities.WithLabelValues("keyword", "created").Add(float64(n))
}

func (p *PrometheusRecorder) IncKeywordDeleted() {
	p.entities.WithLabelValues("keyword", "deleted").Inc()
}

func (p *PrometheusRecorder) IncRankCheck(status string) {
	p.rankChecks.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) ObserveRankCheckDuration(duration time.Duration) {
	p.rankCheckDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncSERPCacheHit() {
	p.serpCache.WithLabelValues("hit").Inc()
}

func (p *PrometheusRecorder) IncSERPCacheMiss() {
	p.serpCache.WithLabelValues("miss").Inc()
}

func (p *PrometheusRecorder) IncScraperRequest(outcome string) {
	p.scraperRequests.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveScraperDuration(duration time.Duration) {
	p.scraperDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncRankJobEnqueued(status string) {
	p.rankJobsEnqueued.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncRankJobProcessed(status string) {
	p.rankJobsProcessed.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) SetRankQueueDepth(depth int64) {
	p.rankQueueDepth.Set(float64(depth))
}

func (p *PrometheusRecorder) IncWebhookDelivery(status, endpointID string) {
	p.webhookDeliveries.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncWebhookRetry(endpointID string, attempt int) {
	p.webhookRetries.WithLabelValues(strconv.Itoa(attempt)).Inc()
}

func (p *PrometheusRecorder) ObserveWebhookDeliveryDuration(endpointID string, duration time.Duration) {
	p.webhookDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) SetWebhookQueueDepth(depth int64) {
	p.webhookQueueDepth.Set(float64(depth))
}
