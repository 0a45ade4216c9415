// Package metrics collects and exposes Prometheus metrics for the pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics interface consumed by the pipeline and the queue
// event subscriber.
type Recorder interface {
	RecordDiscoveryRun()
	RecordItemCreated()
	RecordDuplicateSkipped()
	RecordItemProcessed()
	RecordItemFailed()
	RecordAttachmentFetchFailure()
	RecordJobRetry()
	RecordProcessingLatency(duration time.Duration)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	discoveryRuns     prometheus.Counter
	itemsCreated      prometheus.Counter
	duplicatesSkipped prometheus.Counter
	itemsProcessed    prometheus.Counter
	itemsFailed       prometheus.Counter
	attachmentFails   prometheus.Counter
	jobRetries        prometheus.Counter
	processingLatency prometheus.Histogram
}

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		discoveryRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stillontime_discovery_runs_total",
			Help: "Total number of mailbox discovery runs.",
		}),
		itemsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stillontime_items_created_total",
			Help: "Total number of inbound items created by discovery.",
		}),
		duplicatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stillontime_duplicates_skipped_total",
			Help: "Total number of messages skipped as duplicates.",
		}),
		itemsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stillontime_items_processed_total",
			Help: "Total number of items processed successfully.",
		}),
		itemsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stillontime_items_failed_total",
			Help: "Total number of items marked failed.",
		}),
		attachmentFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stillontime_attachment_fetch_failures_total",
			Help: "Total number of attachment downloads that failed.",
		}),
		jobRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stillontime_job_retries_total",
			Help: "Total number of queue jobs rescheduled for retry.",
		}),
		processingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stillontime_item_processing_seconds",
			Help:    "Wall time spent processing one inbound item.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.discoveryRuns,
		c.itemsCreated,
		c.duplicatesSkipped,
		c.itemsProcessed,
		c.itemsFailed,
		c.attachmentFails,
		c.jobRetries,
		c.processingLatency,
	)

	return c
}

func (c *Collector) RecordDiscoveryRun()           { c.discoveryRuns.Inc() }
func (c *Collector) RecordItemCreated()            { c.itemsCreated.Inc() }
func (c *Collector) RecordDuplicateSkipped()       { c.duplicatesSkipped.Inc() }
func (c *Collector) RecordItemProcessed()          { c.itemsProcessed.Inc() }
func (c *Collector) RecordItemFailed()             { c.itemsFailed.Inc() }
func (c *Collector) RecordAttachmentFetchFailure() { c.attachmentFails.Inc() }
func (c *Collector) RecordJobRetry()               { c.jobRetries.Inc() }

func (c *Collector) RecordProcessingLatency(duration time.Duration) {
	c.processingLatency.Observe(duration.Seconds())
}

// Handler returns the HTTP handler for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Noop is a Recorder that records nothing. Useful in tests.
type Noop struct{}

func (Noop) RecordDiscoveryRun()                     {}
func (Noop) RecordItemCreated()                      {}
func (Noop) RecordDuplicateSkipped()                 {}
func (Noop) RecordItemProcessed()                    {}
func (Noop) RecordItemFailed()                       {}
func (Noop) RecordAttachmentFetchFailure()           {}
func (Noop) RecordJobRetry()                         {}
func (Noop) RecordProcessingLatency(d time.Duration) {}
