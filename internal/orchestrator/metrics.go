package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/garden-controller/internal/logic"
)

// Metrics are the orchestrator's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	sessions         *prometheus.CounterVec
	wateringSeconds  *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	active           prometheus.Gauge
	actuatorFailures prometheus.Counter
	tankLevel        prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "garden_watering_sessions_total",
			Help: "Watering actions started, by zone, mode and water source.",
		}, []string{"zone", "mode", "source"}),
		wateringSeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "garden_watering_seconds_total",
			Help: "Seconds spent with a zone valve open.",
		}, []string{"zone"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "garden_watering_rejections_total",
			Help: "Start requests refused, by reason.",
		}, []string{"reason"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "garden_watering_active",
			Help: "1 while a scheduled or manual session is running.",
		}),
		actuatorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "garden_actuator_failures_total",
			Help: "Relay operations that returned an error.",
		}),
		tankLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "garden_tank_level_cm",
			Help: "Last estimated water height in the tank.",
		}),
	}
	reg.MustRegister(m.sessions, m.wateringSeconds, m.rejections, m.active, m.actuatorFailures, m.tankLevel)
	return m
}

func (m *Metrics) sessionStarted(zone logic.Zone, mode logic.Mode, src logic.WaterSource) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(string(zone), string(mode), string(src)).Inc()
}

func (m *Metrics) watered(zone logic.Zone, seconds float64) {
	if m == nil {
		return
	}
	m.wateringSeconds.WithLabelValues(string(zone)).Add(seconds)
}

func (m *Metrics) rejected(o Outcome) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(string(o)).Inc()
}

func (m *Metrics) setActive(on bool) {
	if m == nil {
		return
	}
	if on {
		m.active.Set(1)
	} else {
		m.active.Set(0)
	}
}

func (m *Metrics) actuatorFailed() {
	if m == nil {
		return
	}
	m.actuatorFailures.Inc()
}

// SetTankLevel publishes a level estimate taken outside the orchestrator.
func (m *Metrics) SetTankLevel(level float64) {
	if m == nil {
		return
	}
	m.tankLevel.Set(level)
}
