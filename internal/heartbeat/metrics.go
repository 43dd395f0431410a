package heartbeat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the heartbeat's Prometheus collectors.
type Metrics struct {
	ticks    *prometheus.CounterVec
	online   prometheus.Gauge
	stale    prometheus.Gauge
	downtime prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klingnet_heartbeat_ticks_total",
			Help: "Heartbeat ticks by result (online, offline, disabled).",
		}, []string{"result"}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "klingnet_heartbeat_online",
			Help: "1 if the last heartbeat reported the node online.",
		}),
		stale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "klingnet_heartbeat_stale_seconds",
			Help: "Seconds since the scanner last advanced.",
		}),
		downtime: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "klingnet_downtime_records_total",
			Help: "Downtime records appended because the scanner stalled.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ticks, m.online, m.stale, m.downtime)
	}
	return m
}

func (m *Metrics) observeTick(out Outcome, stale time.Duration, staking bool) {
	switch {
	case !staking:
		m.ticks.WithLabelValues("disabled").Inc()
	case out.Online:
		m.ticks.WithLabelValues("online").Inc()
	default:
		m.ticks.WithLabelValues("offline").Inc()
	}
	if out.Online {
		m.online.Set(1)
	} else {
		m.online.Set(0)
	}
	m.stale.Set(stale.Seconds())
}
