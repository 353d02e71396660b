package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/garden-controller/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Watering      WateringJSON   `json:"watering"`
	Telemetry     *TelemetryJSON `json:"telemetry,omitempty"`
	NextWatering  string         `json:"next_watering,omitempty"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Network       *NetworkJSON   `json:"network,omitempty"`
	Config        ConfigJSON     `json:"config"`
}

// WateringJSON is the orchestrator state.
type WateringJSON struct {
	State                    string   `json:"state"`
	Mode                     string   `json:"mode,omitempty"`
	Zone                     string   `json:"zone,omitempty"`
	Source                   string   `json:"source,omitempty"`
	ActiveZones              []string `json:"active_zones"`
	Scheduled                bool     `json:"scheduled_in_progress"`
	Manual                   bool     `json:"manual_in_progress"`
	CooldownRemainingSeconds int64    `json:"cooldown_remaining_seconds"`
	LastManualStart          string   `json:"last_manual_start,omitempty"`
}

// TelemetryJSON holds the latest hourly readings.
type TelemetryJSON struct {
	Timestamp      string             `json:"timestamp"`
	TankLevelCm    float64            `json:"tank_level_cm"`
	TankFallback   bool               `json:"tank_fallback"`
	SoilMoisture   map[string]float64 `json:"soil_moisture"`
	RainLastHour   *float64           `json:"rain_last_hour_mm,omitempty"`
	OutdoorTemp    *float64           `json:"outdoor_temperature_c,omitempty"`
	Humidity       *float64           `json:"outdoor_humidity,omitempty"`
	WindSpeed      *float64           `json:"wind_speed_kmh,omitempty"`
	Solar          *float64           `json:"solar_radiation_wm2,omitempty"`
	CPUTempCelsius *float64           `json:"cpu_temperature_c,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Broker          string   `json:"broker"`
	HTTPAddr        string   `json:"http_addr"`
	Zones           []string `json:"zones"`
	Schedule        []string `json:"schedule"`
	LevelThreshold  float64  `json:"level_threshold_cm"`
	CooldownSeconds int64    `json:"cooldown_seconds"`
	FakeHardware    bool     `json:"fake_hardware,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	w := snap.Watering
	state := string(w.State)
	if state == "" {
		state = string(logic.StateStopped)
	}
	active := make([]string, 0, len(w.ActiveZones))
	for _, z := range w.ActiveZones {
		active = append(active, string(z))
	}

	inner := StatusInner{
		Watering: WateringJSON{
			State:                    state,
			Mode:                     string(w.Mode),
			Zone:                     string(w.CurrentZone),
			Source:                   string(w.CurrentSource),
			ActiveZones:              active,
			Scheduled:                w.ScheduledInProgress,
			Manual:                   w.ManualInProgress,
			CooldownRemainingSeconds: int64(w.CooldownRemaining / time.Second),
			LastManualStart:          formatTime(w.LastManualStart),
		},
		NextWatering:  formatTime(snap.NextWatering),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     formatTime(snap.StartTime),
		Timestamp:     formatTime(snap.Now),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			Broker:          snap.Config.Broker,
			HTTPAddr:        snap.Config.HTTPAddr,
			Zones:           snap.Config.Zones,
			Schedule:        snap.Config.Schedule,
			LevelThreshold:  snap.Config.LevelThreshold,
			CooldownSeconds: int64(snap.Config.Cooldown / time.Second),
			FakeHardware:    snap.Config.FakeHardware,
		},
	}

	if t := snap.Telemetry; t != nil {
		tj := &TelemetryJSON{
			Timestamp:      formatTime(t.At),
			TankLevelCm:    t.TankLevel,
			TankFallback:   t.TankFallback,
			SoilMoisture:   make(map[string]float64, len(t.Moisture)),
			RainLastHour:   t.RainLastHour,
			OutdoorTemp:    t.Station.Temperature,
			Humidity:       t.Station.Humidity,
			WindSpeed:      t.Station.WindSpeed,
			Solar:          t.Station.Solar,
			CPUTempCelsius: t.CPUTemp,
		}
		for z, v := range t.Moisture {
			tj.SoilMoisture[string(z)] = v
		}
		inner.Telemetry = tj
	}

	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the indented JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
