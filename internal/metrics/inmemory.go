package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	HTTPRequests           uint64
	DomainsCreated         uint64
	DomainsDeleted         uint64
	KeywordsCreated        uint64
	KeywordsDeleted        uint64
	RankChecks             map[string]uint64
	RankCheckDurationCount uint64
	RankCheckDurationNs    int64
	SERPCacheHits          uint64
	SERPCacheMisses        uint64
	ScraperRequests        map[string]uint64
	RankJobsEnqueued       map[string]uint64
	RankJobsProcessed      map[string]uint64
	RankQueueDepth         int64
	WebhookDeliveries      map[string]uint64
	WebhookRetries         uint64
	WebhookDurationCount   uint64
	WebhookQueueDepth      int64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	httpRequests           uint64
	domainsCreated         uint64
	domainsDeleted         uint64
	keywordsCreated        uint64
	keywordsDeleted        uint64
	rankCheckDurationCount uint64
	rankCheckDurationNs    int64
	serpCacheHits          uint64
	serpCacheMisses        uint64
	webhookRetries         uint64
	webhookDurationCount   uint64
	rankQueueDepth         int64
	webhookQueueDepth      int64

	mu                sync.Mutex
	rankChecks        map[string]uint64
	scraperRequests   map[string]uint64
	rankJobsEnqueued  map[string]uint64
	rankJobsProcessed map[string]uint64
	webhookDeliveries map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		rankChecks:        make(map[string]uint64),
		scraperRequests:   make(map[string]uint64),
		rankJobsEnqueued:  make(map[string]uint64),
		rankJobsProcessed: make(map[string]uint64),
		webhookDeliveries: make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		HTTPRequests:           atomic.LoadUint64(&m.httpRequests),
		DomainsCreated:         atomic.LoadUint64(&m.domainsCreated),
		DomainsDeleted:         atomic.LoadUint64(&m.domainsDeleted),
		KeywordsCreated:        atomic.LoadUint64(&m.keywordsCreated),
		KeywordsDeleted:        atomic.LoadUint64(&m.keywordsDeleted),
		RankChecks:             copyCounts(m.rankChecks),
		RankCheckDurationCount: atomic.LoadUint64(&m.rankCheckDurationCount),
		RankCheckDurationNs:    atomic.LoadInt64(&m.rankCheckDurationNs),
		SERPCacheHits:          atomic.LoadUint64(&m.serpCacheHits),
		SERPCacheMisses:        atomic.LoadUint64(&m.serpCacheMisses),
		ScraperRequests:        copyCounts(m.scraperRequests),
		RankJobsEnqueued:       copyCounts(m.rankJobsEnqueued),
		RankJobsProcessed:      copyCounts(m.rankJobsProcessed),
		RankQueueDepth:         atomic.LoadInt64(&m.rankQueueDepth),
		WebhookDeliveries:      copyCounts(m.webhookDeliveries),
		WebhookRetries:         atomic.LoadUint64(&m.webhookRetries),
		WebhookDurationCount:   atomic.LoadUint64(&m.webhookDurationCount),
		WebhookQueueDepth:      atomic.LoadInt64(&m.webhookQueueDepth),
	}
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (m *InMemoryRecorder) incLabel(counts map[string]uint64, label string) {
	m.mu.Lock()
	counts[label]++
	m.mu.Unlock()
}

// ObserveHTTPRequest counts a served request.
func (m *InMemoryRecorder) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	atomic.AddUint64(&m.httpRequests, 1)
}

// IncDomainCreated increments domain created counter.
func (m *InMemoryRecorder) IncDomainCreated() {
	atomic.AddUint64(&m.domainsCreated, 1)
}

// IncDomainDeleted increments domain deleted counter.
func (m *InMemoryRecorder) IncDomainDeleted() {
	atomic.AddUint64(&m.domainsDeleted, 1)
}

// IncKeywordsCreated adds n to the keyword created counter.
func (m *InMemoryRecorder) IncKeywordsCreated(n int) {
	if n <= 0 {
		return
	}
	atomic.AddUint64(&m.keywordsCreated, uint64(n))
}

// IncKeywordDeleted increments keyword deleted counter.
func (m *InMemoryRecorder) IncKeywordDeleted() {
	atomic.AddUint64(&m.keywordsDeleted, 1)
}

// IncRankCheck counts a finished rank check by status.
func (m *InMemoryRecorder) IncRankCheck(status string) {
	m.incLabel(m.rankChecks, status)
}

// ObserveRankCheckDuration records rank check duration.
func (m *InMemoryRecorder) ObserveRankCheckDuration(duration time.Duration) {
	atomic.AddUint64(&m.rankCheckDurationCount, 1)
	atomic.AddInt64(&m.rankCheckDurationNs, duration.Nanoseconds())
}

// IncSERPCacheHit increments SERP cache hit counter.
func (m *InMemoryRecorder) IncSERPCacheHit() {
	atomic.AddUint64(&m.serpCacheHits, 1)
}

// IncSERPCacheMiss increments SERP cache miss counter.
func (m *InMemoryRecorder) IncSERPCacheMiss() {
	atomic.AddUint64(&m.serpCacheMisses, 1)
}

// IncScraperRequest counts an upstream scraping call by outcome.
func (m *InMemoryRecorder) IncScraperRequest(outcome string) {
	m.incLabel(m.scraperRequests, outcome)
}

// ObserveScraperDuration is a no-op for the in-memory recorder.
func (m *InMemoryRecorder) ObserveScraperDuration(duration time.Duration) {}

// IncRankJobEnqueued counts queue publishes by status.
func (m *InMemoryRecorder) IncRankJobEnqueued(status string) {
	m.incLabel(m.rankJobsEnqueued, status)
}

// IncRankJobProcessed counts consumed queue jobs by status.
func (m *InMemoryRecorder) IncRankJobProcessed(status string) {
	m.incLabel(m.rankJobsProcessed, status)
}

// SetRankQueueDepth stores the latest queue depth.
func (m *InMemoryRecorder) SetRankQueueDepth(depth int64) {
	atomic.StoreInt64(&m.rankQueueDepth, depth)
}

// IncWebhookDelivery counts webhook deliveries by status.
func (m *InMemoryRecorder) IncWebhookDelivery(status, endpointID string) {
	m.incLabel(m.webhookDeliveries, status)
}

// IncWebhookRetry increments the webhook retry counter.
func (m *InMemoryRecorder) IncWebhookRetry(endpointID string, attempt int) {
	atomic.AddUint64(&m.webhookRetries, 1)
}

// ObserveWebhookDeliveryDuration counts observed deliveries.
func (m *InMemoryRecorder) ObserveWebhookDeliveryDuration(endpointID string, duration time.Duration) {
	atomic.AddUint64(&m.webhookDurationCount, 1)
}

// SetWebhookQueueDepth stores the pending webhook delivery count.
func (m *InMemoryRecorder) SetWebhookQueueDepth(depth int64) {
	atomic.StoreInt64(&m.webhookQueueDepth, depth)
}
