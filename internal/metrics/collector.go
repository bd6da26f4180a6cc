// Package metrics exposes relay counters in Prometheus text exposition
// format without requiring the client_golang dependency.
package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default is the process-wide collector.
var Default = New()

// Collector aggregates the relay's pipeline counters.
type Collector struct {
	startTime time.Time

	Cycles          atomic.Int64 // completed poll cycles
	SourceFailures  atomic.Int64 // cycles ending in SourceUnavailable
	Fetched         atomic.Int64 // normalized events from the source
	Filtered        atomic.Int64 // events rejected by the filter
	Duplicates      atomic.Int64 // events suppressed by the ledger
	Dispatched      atomic.Int64 // confirmed deliveries
	DispatchFailed  atomic.Int64 // deliveries abandoned after retries
	WebhookAccepted atomic.Int64 // push payloads accepted for processing
	WebhookRejected atomic.Int64 // push payloads rejected as malformed

	dispatch *durationHist
}

func New() *Collector {
	bounds := []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	return &Collector{
		startTime: time.Now(),
		dispatch: &durationHist{
			bounds:  bounds,
			buckets: make([]int64, len(bounds)),
		},
	}
}

// ObserveDispatch records how long one delivery took, success or not.
func (c *Collector) ObserveDispatch(d time.Duration) {
	c.dispatch.observe(d.Seconds())
}

// durationHist is a fixed-bucket histogram of seconds.
type durationHist struct {
	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

func (h *durationHist) observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

// Handler renders the collector in Prometheus text format.
func (c *Collector) Handler() http.HandlerFunc {
	counters := []struct {
		name  string
		help  string
		value *atomic.Int64
	}{
		{"zrelay_cycles_total", "Completed poll cycles", &c.Cycles},
		{"zrelay_source_failures_total", "Cycles where every read endpoint failed", &c.SourceFailures},
		{"zrelay_events_fetched_total", "Canonical events produced by normalization", &c.Fetched},
		{"zrelay_events_filtered_total", "Events rejected by the filter", &c.Filtered},
		{"zrelay_events_duplicate_total", "Events suppressed by the dedup ledger", &c.Duplicates},
		{"zrelay_dispatch_success_total", "Events accepted by the automation trigger", &c.Dispatched},
		{"zrelay_dispatch_failed_total", "Dispatches abandoned after the retry budget", &c.DispatchFailed},
		{"zrelay_webhook_accepted_total", "Push payloads accepted for processing", &c.WebhookAccepted},
		{"zrelay_webhook_rejected_total", "Push payloads rejected as malformed", &c.WebhookRejected},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		fmt.Fprintf(&sb, "# HELP zrelay_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE zrelay_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "zrelay_uptime_seconds %d\n", int64(time.Since(c.startTime).Seconds()))

		for _, m := range counters {
			fmt.Fprintf(&sb, "# HELP %s %s\n", m.name, m.help)
			fmt.Fprintf(&sb, "# TYPE %s counter\n", m.name)
			fmt.Fprintf(&sb, "%s %d\n", m.name, m.value.Load())
		}

		c.dispatch.mu.Lock()
		fmt.Fprintf(&sb, "# HELP zrelay_dispatch_duration_seconds Delivery latency per dispatch\n")
		fmt.Fprintf(&sb, "# TYPE zrelay_dispatch_duration_seconds histogram\n")
		for i, le := range c.dispatch.bounds {
			fmt.Fprintf(&sb, "zrelay_dispatch_duration_seconds_bucket{le=\"%g\"} %d\n", le, c.dispatch.buckets[i])
		}
		fmt.Fprintf(&sb, "zrelay_dispatch_duration_seconds_bucket{le=\"+Inf\"} %d\n", c.dispatch.count)
		fmt.Fprintf(&sb, "zrelay_dispatch_duration_seconds_count %d\n", c.dispatch.count)
		fmt.Fprintf(&sb, "zrelay_dispatch_duration_seconds_sum %f\n", c.dispatch.sum)
		c.dispatch.mu.Unlock()

		w.Write([]byte(sb.String()))
	}
}
