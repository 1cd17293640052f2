// Package metrics exposes Prometheus instrumentation for the RIFT
// handshake, codec, FEC, NACK, DELTA congestion controller, and relay
// subsystems.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rift"

// Label names shared across metric vectors.
const (
	labelRole   = "role"
	labelResult = "result"
)

// Collector holds every RIFT Prometheus metric.
type Collector struct {
	HandshakeOutcomes *prometheus.CounterVec
	HandshakeDuration prometheus.Histogram

	CodecDecodeErrors prometheus.Counter
	PacketsEncoded    prometheus.Counter
	PacketsDecoded    prometheus.Counter

	FECPacketsEmitted  prometheus.Counter
	FECPacketsRecovered prometheus.Counter
	FECUnrecoverable    prometheus.Counter

	NACKGapsDetected prometheus.Counter
	NACKGapsFilled   prometheus.Counter

	DeltaState    *prometheus.GaugeVec
	DeltaBitrate  prometheus.Gauge
	DeltaFPS      prometheus.Gauge
	DeltaFECRatio prometheus.Gauge

	RelayActiveSessions prometheus.Gauge
	RelayBytesForwarded prometheus.Counter
	RelaySessionsFull   prometheus.Counter

	SendQueueDepth prometheus.Gauge
}

// NewCollector builds a Collector and registers every metric against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		HandshakeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handshake",
			Name:      "outcomes_total",
			Help:      "Handshake attempts by role and result.",
		}, []string{labelRole, labelResult}),

		HandshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "handshake",
			Name:      "duration_seconds",
			Help:      "Time from Hello send/receive to Established.",
			Buckets:   prometheus.DefBuckets,
		}),

		CodecDecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codec",
			Name:      "decode_errors_total",
			Help:      "Packets rejected by Decode due to malformed framing.",
		}),
		PacketsEncoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codec",
			Name:      "packets_encoded_total",
			Help:      "Packets successfully encoded.",
		}),
		PacketsDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codec",
			Name:      "packets_decoded_total",
			Help:      "Packets successfully decoded.",
		}),

		FECPacketsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fec",
			Name:      "packets_emitted_total",
			Help:      "FEC parity packets built by the sender.",
		}),
		FECPacketsRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fec",
			Name:      "packets_recovered_total",
			Help:      "Media packets reconstructed from FEC parity.",
		}),
		FECUnrecoverable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fec",
			Name:      "unrecoverable_total",
			Help:      "FEC groups with more than one missing packet.",
		}),

		NACKGapsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nack",
			Name:      "gaps_detected_total",
			Help:      "Sequence gaps detected on the inbound media channel.",
		}),
		NACKGapsFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nack",
			Name:      "gaps_filled_total",
			Help:      "Previously detected gaps later filled by a late or recovered packet.",
		}),

		DeltaState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delta",
			Name:      "state",
			Help:      "Current DELTA state as a one-hot gauge (1 for the active state).",
		}, []string{"state"}),
		DeltaBitrate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delta",
			Name:      "bitrate_kbps",
			Help:      "Current DELTA target bitrate in kbps.",
		}),
		DeltaFPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delta",
			Name:      "fps",
			Help:      "Current DELTA frame-rate tier.",
		}),
		DeltaFECRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delta",
			Name:      "fec_ratio",
			Help:      "Current DELTA FEC ratio.",
		}),

		RelayActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "active_sessions",
			Help:      "Currently active relay sessions.",
		}),
		RelayBytesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "bytes_forwarded_total",
			Help:      "Total bytes forwarded between host and viewer peers.",
		}),
		RelaySessionsFull: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "sessions_rejected_full_total",
			Help:      "Lease requests rejected because the relay session pool was full.",
		}),

		SendQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "send",
			Name:      "queue_depth",
			Help:      "Buffered tasks in the host's outbound worker pool queue.",
		}),
	}

	reg.MustRegister(
		c.HandshakeOutcomes, c.HandshakeDuration,
		c.CodecDecodeErrors, c.PacketsEncoded, c.PacketsDecoded,
		c.FECPacketsEmitted, c.FECPacketsRecovered, c.FECUnrecoverable,
		c.NACKGapsDetected, c.NACKGapsFilled,
		c.DeltaState, c.DeltaBitrate, c.DeltaFPS, c.DeltaFECRatio,
		c.RelayActiveSessions, c.RelayBytesForwarded, c.RelaySessionsFull,
		c.SendQueueDepth,
	)

	return c
}

// ObserveHandshake records a completed handshake's role and outcome.
func (c *Collector) ObserveHandshake(role, result string, durationSeconds float64) {
	c.HandshakeOutcomes.WithLabelValues(role, result).Inc()
	c.HandshakeDuration.Observe(durationSeconds)
}

// SetDeltaState zeroes every state gauge then sets the active one, giving
// a one-hot gauge set suitable for alerting on state residency.
func (c *Collector) SetDeltaState(states []string, active string) {
	for _, s := range states {
		if s == active {
			c.DeltaState.WithLabelValues(s).Set(1)
		} else {
			c.DeltaState.WithLabelValues(s).Set(0)
		}
	}
}

// Handler returns the HTTP handler to mount at the metrics listen address.
func Handler() http.Handler {
	return promhttp.Handler()
}
