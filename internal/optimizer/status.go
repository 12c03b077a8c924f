// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package optimizer


// QueueStatus is one type's get_queue_status entry.
type QueueStatus struct {
	Size           int
	FillPercent    float64
	AverageWaitMs  float64
	OldestPendingMs int64
}

// WorkerStatus is one type's get_worker_status entry.
type WorkerStatus struct {
	Total   int
	Active  int
	AvgLoad float64
}

// ProcessingMetrics is one type's get_processing_metrics entry.
type ProcessingMetrics struct {
	ProcessedCount       int64
	AverageProcessingMs  float64
	SuccessRate          float64
	ThroughputLastMinute float64
}

// GetQueueStatus returns per-type queue occupancy and wait-time stats.
func (e *Engine) GetQueueStatus() map[string]QueueStatus {
	now := e.clk.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]QueueStatus, len(e.queues))
	for t, q := range e.queues {
		size := q.len()
		fill := 0.0
		if e.config.MaxQueueSizePerType > 0 {
			fill = 100 * float64(size) / float64(e.config.MaxQueueSizePerType)
		}
		q.mu.Lock()
		avgWait := 0.0
		if q.waitSamples > 0 {
			avgWait = float64(q.totalWaitMs) / float64(q.waitSamples)
		}
		q.mu.Unlock()
		out[t.String()] = QueueStatus{
			Size:            size,
			FillPercent:     fill,
			AverageWaitMs:   avgWait,
			OldestPendingMs: q.oldestAge(now).Milliseconds(),
		}
	}
	return out
}

// GetWorkerStatus returns per-type worker pool occupancy.
func (e *Engine) GetWorkerStatus() map[string]WorkerStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]WorkerStatus, len(e.queues))
	for t, q := range e.queues {
		total, active, avgLoad := q.activeWorkerCount()
		out[t.String()] = WorkerStatus{Total: total, Active: active, AvgLoad: avgLoad}
	}
	return out
}

// GetProcessingMetrics returns per-type processed counts, average
// processing time, success rate, and rolling 60s throughput.
func (e *Engine) GetProcessingMetrics() map[string]ProcessingMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]ProcessingMetrics, len(e.queues))
	for t, q := range e.queues {
		q.mu.Lock()
		processed := q.processedCount
		avgMs := 0.0
		successRate := 0.0
		if processed > 0 {
			avgMs = float64(q.totalProcessedMs) / float64(processed)
			successRate = float64(q.successCount) / float64(processed)
		}
		q.mu.Unlock()
		out[t.String()] = ProcessingMetrics{
			ProcessedCount:       processed,
			AverageProcessingMs:  avgMs,
			SuccessRate:          successRate,
			ThroughputLastMinute: q.throughputLastMinute(),
		}
	}
	return out
}
