// Package monitor implements the hourly telemetry job: it samples the tank,
// soil moisture, the weather station's last hour and the CPU temperature,
// records readings and raises an alert when the controller runs hot.
package monitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/garden-controller/internal/logic"
	"github.com/sweeney/garden-controller/internal/notify"
	"github.com/sweeney/garden-controller/internal/telemetry"
)

// DefaultCPULimit is the CPU temperature (°C) above which an alert is sent.
const DefaultCPULimit = 70.0

// LevelSampler estimates the tank level.
type LevelSampler interface {
	Level(ctx context.Context) logic.LevelEstimate
}

// Telemetry is the subset of the telemetry provider the job reads.
type Telemetry interface {
	SoilMoisture(ctx context.Context, zone logic.Zone) (float64, error)
	RainHistory(ctx context.Context, hours int) (float64, error)
	StationHistory(ctx context.Context, hours int) (telemetry.Station, error)
}

// ReadingSink receives readings, normally the orchestrator's journal.
type ReadingSink interface {
	RecordReading(r logic.Reading)
}

// TankGauge exports the tank level.
type TankGauge interface {
	SetTankLevel(level float64)
}

// Deps wires the job.
type Deps struct {
	Level     LevelSampler
	Telemetry Telemetry
	CPU       func(ctx context.Context) (float64, error)
	Readings  ReadingSink
	Notify    notify.Sink
	Gauge     TankGauge // optional
	Zones     []logic.Zone
	CPULimit  float64
	Now       func() time.Time
}

// Snapshot holds the values gathered by the most recent run.
type Snapshot struct {
	At           time.Time
	TankLevel    float64
	TankFallback bool
	Moisture     map[logic.Zone]float64
	RainLastHour *float64
	Station      telemetry.Station // last-hour averages
	CPUTemp      *float64
}

// Monitor runs the hourly job.
type Monitor struct {
	d Deps

	mu   sync.Mutex
	last Snapshot
	runs int
}

// New creates a Monitor. Missing CPULimit and Now get defaults.
func New(d Deps) *Monitor {
	if d.CPULimit == 0 {
		d.CPULimit = DefaultCPULimit
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Notify == nil {
		d.Notify = notify.LogSink{}
	}
	return &Monitor{d: d}
}

// Run gathers one round of telemetry. Individual failures are logged and
// the remaining readings are still taken.
func (m *Monitor) Run(ctx context.Context) {
	now := m.d.Now()
	snap := Snapshot{At: now, Moisture: make(map[logic.Zone]float64)}

	if m.d.Level != nil {
		est := m.d.Level.Level(ctx)
		if ctx.Err() != nil {
			log.Printf("monitor: cancelled during tank read")
			return
		}
		snap.TankLevel = est.Level
		snap.TankFallback = est.Fallback
		m.record(logic.Reading{Kind: logic.ReadingTankLevel, Value: est.Level, Unit: "cm", Timestamp: now})
		if !est.Fallback && m.d.Gauge != nil {
			m.d.Gauge.SetTankLevel(est.Level)
		}
	}

	if m.d.Telemetry != nil {
		for _, z := range m.d.Zones {
			v, err := m.d.Telemetry.SoilMoisture(ctx, z)
			if err != nil {
				log.Printf("monitor: moisture %s: %v", z, err)
				continue
			}
			snap.Moisture[z] = v
			m.record(logic.Reading{Kind: logic.ReadingMoisture, Zone: z, Value: v, Unit: "%", Timestamp: now})
		}

		rain, err := m.d.Telemetry.RainHistory(ctx, 1)
		if err != nil {
			log.Printf("monitor: last-hour rain: %v", err)
		} else {
			snap.RainLastHour = &rain
			m.record(logic.Reading{Kind: logic.ReadingRainHourly, Value: rain, Unit: "mm", Timestamp: now})
		}

		st, err := m.d.Telemetry.StationHistory(ctx, 1)
		if err != nil {
			log.Printf("monitor: station history: %v", err)
		} else {
			snap.Station = st
			m.recordIf(st.Temperature, logic.Reading{Kind: logic.ReadingTemperature, Unit: "°C", Timestamp: now})
			m.recordIf(st.Humidity, logic.Reading{Kind: logic.ReadingHumidity, Unit: "%", Timestamp: now})
			m.recordIf(st.WindSpeed, logic.Reading{Kind: logic.ReadingWindSpeed, Unit: "km/h", Timestamp: now})
			m.recordIf(st.Solar, logic.Reading{Kind: logic.ReadingSolar, Unit: "W/m²", Timestamp: now})
		}
	}

	if m.d.CPU != nil {
		temp, err := m.d.CPU(ctx)
		if err != nil {
			log.Printf("monitor: cpu temperature: %v", err)
		} else {
			snap.CPUTemp = &temp
			m.record(logic.Reading{Kind: logic.ReadingCPUTemp, Value: temp, Unit: "°C", Timestamp: now})
			if temp > m.d.CPULimit {
				m.d.Notify.Notify("High CPU temperature",
					fmt.Sprintf("CPU temperature is %.1f°C (limit %.0f°C) at %s.", temp, m.d.CPULimit, now.Format(time.RFC1123)))
			}
		}
	}

	m.mu.Lock()
	m.last = snap
	m.runs++
	m.mu.Unlock()
}

func (m *Monitor) record(r logic.Reading) {
	if m.d.Readings != nil {
		m.d.Readings.RecordReading(r)
	}
}

func (m *Monitor) recordIf(v *float64, r logic.Reading) {
	if v == nil {
		return
	}
	r.Value = *v
	m.record(r)
}

// Last returns the snapshot from the most recent run and whether one exists.
func (m *Monitor) Last() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.runs > 0
}
