// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus or keep them in memory.
type Recorder interface {
	// HTTP metrics
	ObserveHTTPRequest(method, route string, status int, duration time.Duration)

	// Entity metrics
	IncDomainCreated()
	IncDomainDeleted()
	IncKeywordsCreated(n int)
	IncKeywordDeleted()

	// Rank check metrics
	IncRankCheck(status string) // status: "found", "not_found", "failed"
	ObserveRankCheckDuration(duration time.Duration)
	IncSERPCacheHit()
	IncSERPCacheMiss()
	IncScraperRequest(outcome string) // outcome: "success", "error", "rejected"
	ObserveScraperDuration(duration time.Duration)

	// Rank queue metrics
	IncRankJobEnqueued(status string)  // status: "success" or "dropped"
	IncRankJobProcessed(status string) // status: "success", "retry", "failed", "dead_lettered"
	SetRankQueueDepth(depth int64)

	// Webhook metrics
	IncWebhookDelivery(status, endpointID string)
	IncWebhookRetry(endpointID string, attempt int)
	ObserveWebhookDeliveryDuration(endpointID string, duration time.Duration)
	SetWebhookQueueDepth(depth int64)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
