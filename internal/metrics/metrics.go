// Package metrics instruments the capture pipeline with Prometheus counters.
//
// Silent per-line discarding is deliberate tolerance for serial line noise;
// these counters are the observability hook that makes the discard rate
// verifiable without changing that behavior.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Capture holds the ingest-side instruments. It satisfies the capture
// package's Observer interface.
type Capture struct {
	registry *prometheus.Registry

	recordsAccepted prometheus.Counter
	linesDiscarded  prometheus.Counter
	flushes         prometheus.Counter
	flushedRecords  prometheus.Counter
	bufferLength    prometheus.Gauge
}

// NewCapture creates the capture instruments on a private registry so that
// parallel tests never collide on the global one.
func NewCapture() *Capture {
	c := &Capture{
		registry: prometheus.NewRegistry(),
		recordsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "erobot_records_accepted_total",
			Help: "Data lines that passed schema validation and entered the buffer.",
		}),
		linesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "erobot_lines_discarded_total",
			Help: "Data lines silently discarded for arity or parse failures.",
		}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "erobot_buffer_flushes_total",
			Help: "Batches handed to the persistence collaborator.",
		}),
		flushedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "erobot_records_flushed_total",
			Help: "Records committed to durable storage across all batches.",
		}),
		bufferLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "erobot_buffer_length",
			Help: "Current number of records in the in-memory ingestion buffer.",
		}),
	}

	c.registry.MustRegister(
		c.recordsAccepted,
		c.linesDiscarded,
		c.flushes,
		c.flushedRecords,
		c.bufferLength,
	)
	return c
}

// RecordAccepted counts one validated record entering the buffer.
func (c *Capture) RecordAccepted() { c.recordsAccepted.Inc() }

// LineDiscarded counts one silently discarded line.
func (c *Capture) LineDiscarded() { c.linesDiscarded.Inc() }

// FlushCompleted counts one committed batch of n records.
func (c *Capture) FlushCompleted(n int) {
	c.flushes.Inc()
	c.flushedRecords.Add(float64(n))
}

// BufferLength reports the current buffer fill level.
func (c *Capture) BufferLength(n int) { c.bufferLength.Set(float64(n)) }

// Registry exposes the private registry for test assertions.
func (c *Capture) Registry() *prometheus.Registry { return c.registry }

// Handler returns an HTTP handler serving the capture metrics, mounted on the
// optional debug listener.
func (c *Capture) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
