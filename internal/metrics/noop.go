package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {}

func (n *NoopRecorder) IncDomainCreated() {}

func (n *NoopRecorder) IncDomainDeleted() {}

func (n *NoopRecorder) IncKeywordsCreated(count int) {}

func (n *NoopRecorder) IncKeywordDeleted() {}

func (n *NoopRecorder) IncRankCheck(status string) {}

func (n *NoopRecorder) ObserveRankCheckDuration(duration time.Duration) {}

func (n *NoopRecorder) IncSERPCacheHit() {}

func (n *NoopRecorder) IncSERPCacheMiss() {}

func (n *NoopRecorder) IncScraperRequest(outcome string) {}

func (n *NoopRecorder) ObserveScraperDuration(duration time.Duration) {}

func (n *NoopRecorder) IncRankJobEnqueued(status string) {}

func (n *NoopRecorder) IncRankJobProcessed(status string) {}

func (n *NoopRecorder) SetRankQueueDepth(depth int64) {}

func (n *NoopRecorder) IncWebhookDelivery(status, endpointID string) {}

func (n *NoopRecorder) IncWebhookRetry(endpointID string, attempt int) {}

func (n *NoopRecorder) ObserveWebhookDeliveryDuration(endpointID string, duration time.Duration) {}

func (n *NoopRecorder) SetWebhookQueueDepth(depth int64) {}
