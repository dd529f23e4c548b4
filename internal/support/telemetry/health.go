package telemetry

import (
	"encoding/json"
	"time"
)

// HealthSnapshot is the document served by GET /health. A non-zero
// FailedCount is the operator-actionable signal that envelopes have
// exhausted their retry budget.
type HealthSnapshot struct {
	QueueDepth  map[string]int64 `json:"queue_depth"`
	FailedCount int64            `json:"failed_count"`
	DBOk        bool             `json:"db_ok"`
	UptimeSec   float64          `json:"uptime_sec"`
	Timestamp   time.Time        `json:"timestamp"`
	Workers     *WorkerStats     `json:"workers,omitempty"`
}

// WorkerStats mirrors the dispatcher pool's live counters so /health can
// expose them without the HTTP layer importing the dispatcher.
type WorkerStats struct {
	Running   int    `json:"running"`
	Queued    int    `json:"queued"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Rejected  uint64 `json:"rejected"`
}

// MarshalHealth is a small convenience wrapper so handlers don't each
// reimplement JSON encoding options.
func MarshalHealth(h HealthSnapshot) ([]byte, error) {
	return json.Marshal(h)
}
