// Package logic contains pure business rules for garden irrigation.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"strings"
	"time"
)

// Zone identifies an irrigated area.
type Zone string

const (
	ZoneTomato Zone = "Tomato"
	ZoneGarden Zone = "Garden"
	ZoneAnnex  Zone = "Annex"
	// ZoneAll is only used in Stopped records that cover every zone.
	ZoneAll Zone = "All"
)

// ParseZone matches a zone name case-insensitively. ZoneAll is not a valid
// watering target and is rejected.
func ParseZone(s string) (Zone, bool) {
	for _, z := range []Zone{ZoneTomato, ZoneGarden, ZoneAnnex} {
		if strings.EqualFold(string(z), s) {
			return z, true
		}
	}
	return "", false
}

// WaterSource is where the water for a watering action comes from.
type WaterSource string

const (
	SourcePump     WaterSource = "Pump"
	SourceCityMain WaterSource = "CityMain"
	SourceUnknown  WaterSource = "Unknown"
)

// Mode tells who asked for the watering.
type Mode string

const (
	ModeAutomatic Mode = "Automatic"
	ModeManual    Mode = "Manual"
)

// SystemState is the persisted state of the watering system.
type SystemState string

const (
	StateWatering SystemState = "Watering"
	StateStopped  SystemState = "Stopped"
)

// StateRecord is a single persisted state transition.
type StateRecord struct {
	State     SystemState `json:"state"`
	Zone      Zone        `json:"zone"`
	Source    WaterSource `json:"source"`
	Mode      Mode        `json:"mode"`
	Timestamp time.Time   `json:"timestamp"`
}

// SameTransition reports whether r and other carry the same (state, zone,
// source) tuple. Mode and timestamp are ignored.
func (r StateRecord) SameTransition(other StateRecord) bool {
	return r.State == other.State && r.Zone == other.Zone && r.Source == other.Source
}

// Session is the log entry of one watering action.
type Session struct {
	ID             string        `json:"id"`
	Zone           Zone          `json:"zone"`
	Planned        time.Duration `json:"planned_ns"`
	Duration       time.Duration `json:"duration_ns"`
	Source         WaterSource   `json:"source"`
	MoistureBefore *float64      `json:"soil_moisture_before,omitempty"`
	Mode           Mode          `json:"mode"`
	StartedAt      time.Time     `json:"started_at"`
	Cancelled      bool          `json:"cancelled"`
}

// ReadingKind names a telemetry series.
type ReadingKind string

const (
	ReadingTankLevel    ReadingKind = "tank_level"
	ReadingMoisture     ReadingKind = "soil_moisture"
	ReadingRainForecast ReadingKind = "rain_forecast"
	ReadingRainHistory  ReadingKind = "rain_history"
	ReadingRainHourly   ReadingKind = "rain_hourly"
	ReadingCPUTemp      ReadingKind = "cpu_temperature"
	ReadingTemperature  ReadingKind = "outdoor_temperature"
	ReadingHumidity     ReadingKind = "outdoor_humidity"
	ReadingWindSpeed    ReadingKind = "wind_speed"
	ReadingSolar        ReadingKind = "solar_radiation"
)

// Reading is a single telemetry value kept for history.
type Reading struct {
	Kind      ReadingKind `json:"kind"`
	Zone      Zone        `json:"zone,omitempty"`
	Value     float64     `json:"value"`
	Unit      string      `json:"unit"`
	Timestamp time.Time   `json:"timestamp"`
}

// LevelSample is one raw reading of the tank ranging sensor.
type LevelSample struct {
	Valid    bool
	Distance float64 // cm from sensor to water surface
}

// LevelEstimate is the averaged tank level derived from a burst of samples.
type LevelEstimate struct {
	Level    float64
	Fallback bool // true when every sample was invalid
	Valid    int  // number of samples that contributed
}
