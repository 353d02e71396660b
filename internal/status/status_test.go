package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/garden-controller/internal/logic"
	"github.com/sweeney/garden-controller/internal/monitor"
	"github.com/sweeney/garden-controller/internal/orchestrator"
	"github.com/sweeney/garden-controller/internal/telemetry"
)

var start = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

type conn bool

func (c conn) IsConnected() bool { return bool(c) }

func fixedTracker(cfg Config) *Tracker {
	tr := NewTracker(start, cfg)
	tr.now = func() time.Time { return start.Add(90 * time.Minute) }
	return tr
}

func TestNewTrackerDefaults(t *testing.T) {
	tr := fixedTracker(Config{Broker: "tcp://localhost:1883", HTTPAddr: ":80"})
	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) || snap.Uptime() != 90*time.Minute {
		t.Errorf("times: start=%v uptime=%v", snap.StartTime, snap.Uptime())
	}
	if snap.MQTTConnected || snap.Telemetry != nil || snap.Watering.Busy() {
		t.Errorf("unexpected initial snapshot: %+v", snap)
	}
}

func TestSnapshotQueriesSources(t *testing.T) {
	tr := fixedTracker(Config{})
	next := start.Add(8 * time.Hour)
	tr.Attach(Sources{
		Watering: func() orchestrator.Status {
			return orchestrator.Status{
				ManualInProgress: true,
				State:            logic.StateWatering,
				Mode:             logic.ModeManual,
				CurrentZone:      logic.ZoneAnnex,
				CurrentSource:    logic.SourcePump,
				ActiveZones:      []logic.Zone{logic.ZoneAnnex},
			}
		},
		Telemetry: func() (monitor.Snapshot, bool) {
			return monitor.Snapshot{TankLevel: 55, Moisture: map[logic.Zone]float64{logic.ZoneTomato: 31}}, true
		},
		MQTT:         conn(true),
		NextWatering: func() time.Time { return next },
	})
	tr.SetMQTTConnected(false)

	snap := tr.Snapshot()
	if !snap.Watering.ManualInProgress || snap.Watering.CurrentZone != logic.ZoneAnnex {
		t.Errorf("watering: %+v", snap.Watering)
	}
	if snap.Telemetry == nil || snap.Telemetry.TankLevel != 55 {
		t.Errorf("telemetry: %+v", snap.Telemetry)
	}
	if !snap.MQTTConnected {
		t.Error("attached MQTT source should win over SetMQTTConnected")
	}
	if !snap.NextWatering.Equal(next) {
		t.Errorf("next watering: %v", snap.NextWatering)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := fixedTracker(Config{Zones: []string{"Tomato"}})
	tr.SetNetwork(&NetworkInfo{IP: "10.0.0.5"})
	snap := tr.Snapshot()
	snap.Network.IP = "changed"
	snap.Config.Zones[0] = "changed"

	again := tr.Snapshot()
	if again.Network.IP != "10.0.0.5" || again.Config.Zones[0] != "Tomato" {
		t.Error("mutating a snapshot should not affect the tracker")
	}
}

func TestFormatJSON(t *testing.T) {
	rain := 1.2
	humidity := 64.0
	snap := Snapshot{
		Watering: orchestrator.Status{
			ScheduledInProgress: true,
			State:               logic.StateWatering,
			Mode:                logic.ModeAutomatic,
			CurrentZone:         logic.ZoneTomato,
			CurrentSource:       logic.SourceCityMain,
			ActiveZones:         []logic.Zone{logic.ZoneTomato},
			CooldownRemaining:   125 * time.Second,
		},
		Telemetry: &monitor.Snapshot{
			At:           start,
			TankLevel:    12.5,
			Moisture:     map[logic.Zone]float64{logic.ZoneGarden: 44},
			RainLastHour: &rain,
			Station:      telemetry.Station{Humidity: &humidity},
		},
		StartTime:     start,
		Now:           start.Add(time.Hour),
		MQTTConnected: true,
		Config:        Config{Broker: "tcp://broker:1883", Cooldown: 5 * time.Minute, Zones: []string{"Tomato", "Garden"}},
	}

	var sj StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &sj); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	w := sj.Status.Watering
	if w.State != "Watering" || w.Zone != "Tomato" || w.Source != "CityMain" || !w.Scheduled || w.CooldownRemainingSeconds != 125 {
		t.Errorf("watering: %+v", w)
	}
	if len(w.ActiveZones) != 1 || w.ActiveZones[0] != "Tomato" {
		t.Errorf("active zones: %v", w.ActiveZones)
	}
	tel := sj.Status.Telemetry
	if tel == nil || tel.TankLevelCm != 12.5 || tel.SoilMoisture["Garden"] != 44 || *tel.RainLastHour != 1.2 || tel.CPUTempCelsius != nil {
		t.Errorf("telemetry: %+v", tel)
	}
	if tel != nil && (tel.Humidity == nil || *tel.Humidity != 64 || tel.OutdoorTemp != nil) {
		t.Errorf("station: humidity=%v temp=%v", tel.Humidity, tel.OutdoorTemp)
	}
	if sj.Status.UptimeSeconds != 3600 || !sj.Status.MQTT.Connected || sj.Status.Config.CooldownSeconds != 300 {
		t.Errorf("status: %+v", sj.Status)
	}
	if sj.Status.Event != "" {
		t.Error("web JSON should not carry an event")
	}
}

func TestFormatJSONIdleDefaults(t *testing.T) {
	var parsed map[string]map[string]interface{}
	if err := json.Unmarshal(FormatJSON(Snapshot{StartTime: start, Now: start}), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	w := parsed["status"]["watering"].(map[string]interface{})
	if w["state"] != "Stopped" {
		t.Errorf("idle state: got %v", w["state"])
	}
	if _, ok := w["active_zones"].([]interface{}); !ok {
		t.Error("active_zones should be an empty list, not null")
	}
	for _, k := range []string{"telemetry", "network", "next_watering"} {
		if _, ok := parsed["status"][k]; ok {
			t.Errorf("%s should be omitted when unknown", k)
		}
	}
}

func TestFormatStatusEvent(t *testing.T) {
	snap := Snapshot{StartTime: start, Now: start, Network: &NetworkInfo{Type: "wifi", SSID: "garden"}}
	var sj StatusJSON
	if err := json.Unmarshal(FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM"), &sj); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if sj.Status.Event != "SHUTDOWN" || sj.Status.Reason != "SIGTERM" {
		t.Errorf("event: %+v", sj.Status)
	}
	if sj.Status.Network == nil || sj.Status.Network.SSID != "garden" {
		t.Errorf("network: %+v", sj.Status.Network)
	}

	var raw map[string]map[string]interface{}
	json.Unmarshal(FormatStatusEvent(snap, "STARTUP", ""), &raw)
	if _, ok := raw["status"]["reason"]; ok {
		t.Error("reason should be omitted when empty")
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			tr.SetMQTTConnected(i%2 == 0)
		}(i)
		go func() {
			defer wg.Done()
			tr.SetNetwork(&NetworkInfo{IP: "10.0.0.1"})
		}()
		go func() {
			defer wg.Done()
			_ = FormatJSON(tr.Snapshot())
		}()
	}
	wg.Wait()
}
