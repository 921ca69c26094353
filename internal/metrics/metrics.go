// Package metrics registers the operation counters and latency histograms
// exposed via github.com/VictoriaMetrics/metrics. The teacher imports this
// library in its go.mod but never calls it; blackwidow wires it for real,
// in the shape the teacher would have used to register server metrics: a
// package-level table of counters/histograms, looked up by a stable name.
package metrics

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// OpCounter returns (creating if necessary) a counter tracking the number
// of times operation op has been invoked against the given typed engine.
func OpCounter(engine, op string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`blackwidow_ops_total{engine=%q,op=%q}`, engine, op))
}

// OpLatency returns a histogram tracking the latency (seconds) of
// operation op against the given typed engine.
func OpLatency(engine, op string) *metrics.Histogram {
	return metrics.GetOrCreateHistogram(fmt.Sprintf(`blackwidow_op_duration_seconds{engine=%q,op=%q}`, engine, op))
}

var compactionQueueDepth uint64

// CompactionQueueDepth reports the current length of the background
// compaction task queue.
var CompactionQueueDepth = metrics.NewGauge(`blackwidow_compaction_queue_depth`, func() float64 {
	return math.Float64frombits(atomic.LoadUint64(&compactionQueueDepth))
})

// SetCompactionQueueDepth records the current length of the background
// compaction task queue for CompactionQueueDepth to report.
func SetCompactionQueueDepth(v float64) {
	atomic.StoreUint64(&compactionQueueDepth, math.Float64bits(v))
}

// SmallCompactionsTriggered counts SPOP-driven small-range compactions
// scheduled because a key crossed the sets engine's pop-count or
// elapsed-time threshold.
var SmallCompactionsTriggered = metrics.NewCounter(`blackwidow_small_compactions_triggered_total`)

// Track wraps fn, recording both an invocation counter and a latency
// histogram for (engine, op). It returns whatever fn returns.
func Track(engine, op string, fn func() error) error {
	c := OpCounter(engine, op)
	h := OpLatency(engine, op)
	c.Inc()
	start := time.Now()
	defer func() {
		h.Update(time.Since(start).Seconds())
	}()
	return fn()
}
