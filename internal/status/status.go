// Package status gathers a point-in-time view of the controller for the
// HTTP status page and the MQTT lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/garden-controller/internal/monitor"
	"github.com/sweeney/garden-controller/internal/orchestrator"
)

// NetworkInfo contains network state written by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Broker         string
	HTTPAddr       string
	Zones          []string
	Schedule       []string
	LevelThreshold float64
	Cooldown       time.Duration
	FakeHardware   bool
}

// Sources are queried on every Snapshot. Any of them may be nil.
type Sources struct {
	Watering     func() orchestrator.Status
	Telemetry    func() (monitor.Snapshot, bool)
	MQTT         interface{ IsConnected() bool }
	NextWatering func() time.Time
}

// Snapshot is a point-in-time view of daemon state. It is a value type and
// safe to use after the lock is released.
type Snapshot struct {
	Watering      orchestrator.Status
	Telemetry     *monitor.Snapshot
	NextWatering  time.Time
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds the static parts of the status and the live sources.
type Tracker struct {
	mu        sync.RWMutex
	start     time.Time
	cfg       Config
	network   *NetworkInfo
	connected bool
	src       Sources
	now       func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{start: startTime, cfg: cfg, now: time.Now}
}

// Attach sets the live sources.
func (t *Tracker) Attach(src Sources) {
	t.mu.Lock()
	t.src = src
	t.mu.Unlock()
}

// SetMQTTConnected records the connection state when no MQTT source is attached.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.connected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.network = info
	t.mu.Unlock()
}

// Snapshot returns a copy of the daemon state with Now set to the current time.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := Snapshot{
		StartTime:     t.start,
		Config:        t.cfg,
		Network:       t.network,
		MQTTConnected: t.connected,
	}
	src := t.src
	now := t.now
	t.mu.RUnlock()

	if s.Network != nil {
		n := *s.Network
		s.Network = &n
	}
	s.Config.Zones = append([]string(nil), s.Config.Zones...)
	s.Config.Schedule = append([]string(nil), s.Config.Schedule...)

	if src.Watering != nil {
		s.Watering = src.Watering()
	}
	if src.Telemetry != nil {
		if snap, ok := src.Telemetry(); ok {
			s.Telemetry = &snap
		}
	}
	if src.MQTT != nil {
		s.MQTTConnected = src.MQTT.IsConnected()
	}
	if src.NextWatering != nil {
		s.NextWatering = src.NextWatering()
	}
	s.Now = now()
	return s
}
