// Package metrics registers and serves the daemon's Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument the daemon records. A nil *Metrics is
// not valid; construct with New.
type Metrics struct {
	SamplesCaptured    prometheus.Counter
	BatchesFlushed     prometheus.Counter
	BatchesDropped     prometheus.Counter
	FramesSent         prometheus.Counter
	SendRetries        prometheus.Counter
	TransfersCompleted prometheus.Counter
	TransfersFailed    prometheus.Counter

	TransferProgressBytes prometheus.Gauge
	BatchQueueLength      prometheus.Gauge

	FrameSendSeconds prometheus.Histogram

	reg *prometheus.Registry
}

// New builds a Metrics set on its own registry.
func New() *Metrics {
	m := &Metrics{
		SamplesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigstream_samples_captured_total",
			Help: "Samples accepted by the sample sink.",
		}),
		BatchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigstream_batches_flushed_total",
			Help: "Sample batches durably appended to the session file.",
		}),
		BatchesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigstream_batches_dropped_total",
			Help: "Batches shed by the drop-oldest overflow policy.",
		}),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigstream_frames_sent_total",
			Help: "Wire frames handed to the transport.",
		}),
		SendRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigstream_send_retries_total",
			Help: "Transient send retries (credit timeouts and busy rejections).",
		}),
		TransfersCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigstream_transfers_completed_total",
			Help: "Transfers that reached offset == size.",
		}),
		TransfersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigstream_transfers_failed_total",
			Help: "Transfers ended by any terminal status other than complete.",
		}),
		TransferProgressBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigstream_transfer_progress_bytes",
			Help: "Acknowledged byte offset of the active transfer.",
		}),
		BatchQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigstream_batch_queue_length",
			Help: "Batches waiting between sink and recorder.",
		}),
		FrameSendSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigstream_frame_send_seconds",
			Help:    "Time from frame build to accepted transport hand-off.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		reg: prometheus.NewRegistry(),
	}

	m.reg.MustRegister(
		m.SamplesCaptured,
		m.BatchesFlushed,
		m.BatchesDropped,
		m.FramesSent,
		m.SendRetries,
		m.TransfersCompleted,
		m.TransfersFailed,
		m.TransferProgressBytes,
		m.BatchQueueLength,
		m.FrameSendSeconds,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
