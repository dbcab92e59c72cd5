package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the relay's Prometheus collectors.
type Metrics struct {
	Cycles              *prometheus.CounterVec
	CycleDuration       prometheus.Histogram
	EventsFetched       prometheus.Counter
	EventsNew           prometheus.Counter
	Notifications       *prometheus.CounterVec
	Auth                *prometheus.CounterVec
	Watermark           prometheus.Gauge
	WatermarkRegression prometheus.Counter
	State               prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is useful in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zbxrelay_cycles_total",
				Help: "Poll cycles by result (ok, idle, notify_failed, panic).",
			},
			[]string{"result"},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "zbxrelay_cycle_duration_seconds",
				Help:    "Duration of one fetch, filter, format and notify cycle.",
				Buckets: prometheus.DefBuckets,
			},
		),
		EventsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zbxrelay_events_fetched_total",
			Help: "Problem events returned by the monitoring API.",
		}),
		EventsNew: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zbxrelay_events_new_total",
			Help: "Problem events newer than the watermark.",
		}),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zbxrelay_notifications_total",
				Help: "Notification attempts by result (sent, failed, skipped).",
			},
			[]string{"result"},
		),
		Auth: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zbxrelay_auth_total",
				Help: "Login attempts by result, including re-logins after a rejected session.",
			},
			[]string{"result"},
		),
		Watermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zbxrelay_watermark",
			Help: "Newest event id already handled.",
		}),
		WatermarkRegression: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zbxrelay_watermark_regressions_total",
			Help: "Batches whose newest event id was below the watermark.",
		}),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zbxrelay_state",
			Help: "Current poll loop state (0 startup delay .. 4 stopped).",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Cycles,
			m.CycleDuration,
			m.EventsFetched,
			m.EventsNew,
			m.Notifications,
			m.Auth,
			m.Watermark,
			m.WatermarkRegression,
			m.State,
		)
	}
	return m
}
