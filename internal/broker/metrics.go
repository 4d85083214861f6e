package broker

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "proof_broker"

// Metrics are registered per server so tests can run several brokers.
type Metrics struct {
	sessionsCreated prometheus.Counter
	uploadsTotal    *prometheus.CounterVec
	uploadBytes     prometheus.Histogram
	notifications   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of capture sessions issued",
		}),
		uploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uploads_total",
				Help:      "Total number of upload attempts by outcome",
			},
			[]string{"status"}, // stored, duplicate, rejected, error
		),
		uploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_bytes",
			Help:      "Size of stored proof images in bytes",
			Buckets:   prometheus.ExponentialBuckets(16<<10, 4, 7), // 16KiB .. 64MiB
		}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_emitted_total",
			Help:      "Total number of capture notifications queued for subscribers",
		}),
	}
	reg.MustRegister(m.sessionsCreated, m.uploadsTotal, m.uploadBytes, m.notifications)
	return m
}
