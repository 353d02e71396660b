package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/garden-controller/internal/config"
	"github.com/sweeney/garden-controller/internal/gpio"
	"github.com/sweeney/garden-controller/internal/logic"
	"github.com/sweeney/garden-controller/internal/mqtt"
	"github.com/sweeney/garden-controller/internal/notify"
	"github.com/sweeney/garden-controller/internal/orchestrator"
	"github.com/sweeney/garden-controller/internal/store"
	"github.com/sweeney/garden-controller/internal/telemetry"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "Allotment")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	if info.Type != "wifi" || info.IP != "192.168.1.100" || info.Status != "connected" {
		t.Errorf("got %+v", info)
	}
	if info.Gateway != "192.168.1.1" || info.WifiStatus != "connected" || info.SSID != "Allotment" {
		t.Errorf("got %+v", info)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name       string
		broker     string
		http       string
		wantBroker string
		wantHTTP   string
	}{
		{"empty keeps config", "", "", "tcp://localhost:1883", ":80"},
		{"override", "tcp://10.0.0.2:1883", ":8080", "tcp://10.0.0.2:1883", ":8080"},
		{"off disables", "off", "off", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			applyFlags(&cfg, tt.broker, tt.http)
			if cfg.MQTT.Broker != tt.wantBroker {
				t.Errorf("broker: got %q, want %q", cfg.MQTT.Broker, tt.wantBroker)
			}
			if cfg.HTTPAddr != tt.wantHTTP {
				t.Errorf("http: got %q, want %q", cfg.HTTPAddr, tt.wantHTTP)
			}
		})
	}
}

func TestSignalName(t *testing.T) {
	if got := signalName(syscall.SIGINT); got != "SIGINT" {
		t.Errorf("SIGINT: got %q", got)
	}
	if got := signalName(syscall.SIGTERM); got != "SIGTERM" {
		t.Errorf("SIGTERM: got %q", got)
	}
	if got := signalName(syscall.SIGHUP); got != "UNKNOWN" {
		t.Errorf("SIGHUP: got %q", got)
	}
}

func TestNewFakeHardwareCoversConfiguredRelays(t *testing.T) {
	cfg := config.Default()
	hw := newFakeHardware(cfg)
	defer hw.Close()

	if got, want := len(hw.relays.Names()), len(cfg.RelayPins()); got != want {
		t.Errorf("relays: got %d, want %d", got, want)
	}
	s, err := hw.ranger.Sample(context.Background())
	if err != nil || !s.Valid {
		t.Errorf("sample: got %+v, %v", s, err)
	}
}

type testApp struct {
	app    *app
	relays *gpio.FakeRelayBank
	pub    *mqtt.FakePublisher
	db     *store.Store
	clock  *orchestrator.FakeClock
	alerts *notify.Fake
	tel    *telemetry.Fake
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	cfg := config.Default()
	cfg.Tank.Pause = 0
	cfg.MQTT.Broker = "tcp://test:1883"

	db, err := store.Open(filepath.Join(t.TempDir(), "garden.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	hw := newFakeHardware(cfg)
	ta := &testApp{
		relays: hw.relays.(*gpio.FakeRelayBank),
		pub:    mqtt.NewFakePublisher(),
		db:     db,
		clock:  orchestrator.NewFakeClock(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)),
		alerts: notify.NewFake(),
		tel:    telemetry.NewFake(),
	}
	a, err := newApp(cfg, components{
		Relays:     hw.relays,
		Ranger:     hw.ranger,
		Buttons:    hw.buttons,
		Telemetry:  ta.tel,
		Store:      db,
		Publisher:  ta.pub,
		Subscriber: ta.pub,
		Conn:       ta.pub,
		Notify:     ta.alerts,
		Registry:   prometheus.NewRegistry(),
		Clock:      ta.clock,
		Now:        ta.clock.Now,
	})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	ta.app = a
	return ta
}

func TestNewAppRegistersJobs(t *testing.T) {
	ta := newTestApp(t)
	want := map[string]bool{
		"watering-1": true, "watering-2": true, "telemetry": true,
		"alert-reset": true, "heartbeat": true, "prune": true,
	}
	names := ta.app.sched.Names()
	if len(names) != len(want) {
		t.Fatalf("jobs: got %v", names)
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected job %q", n)
		}
	}
}

func TestHourlyJobSkipsZonesWithoutSensor(t *testing.T) {
	ta := newTestApp(t)
	ta.tel.SetMoisture(logic.ZoneTomato, 35)
	ta.tel.SetMoisture(logic.ZoneGarden, 60)

	for day := 0; day < 2; day++ {
		ta.app.mon.Run(context.Background())
		ta.app.guard.ResetAlerts()
	}

	if ta.alerts.Count() != 0 {
		t.Errorf("unexpected alerts: %+v", ta.alerts.Messages())
	}
	snap, ok := ta.app.mon.Last()
	if !ok || len(snap.Moisture) != 2 {
		t.Fatalf("moisture snapshot: got %v", snap.Moisture)
	}
	if _, polled := snap.Moisture[logic.ZoneAnnex]; polled {
		t.Error("annex has no soil sensor and should not be polled")
	}
}

func TestRunLoopShutsDownOnSignal(t *testing.T) {
	ta := newTestApp(t)
	ta.app.publishStartup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ta.app.start(ctx)

	if err := ta.pub.Deliver(mqtt.TopicCommand, []byte(`{"command":"water","zone":"Tomato"}`)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	ta.clock.BlockUntil(1)
	if !ta.relays.IsOn(gpio.RelayTomato) {
		t.Fatal("tomato valve should be open during the manual run")
	}

	sig := make(chan os.Signal, 1)
	sig <- syscall.SIGTERM
	stopping := false
	if err := runLoop(ta.app, sig, func() { stopping = true }); err != nil {
		t.Fatalf("runLoop: %v", err)
	}
	if !stopping {
		t.Error("stopping hook not called")
	}

	if on := ta.relays.ActiveRelays(); len(on) != 0 {
		t.Errorf("relays left on after shutdown: %v", on)
	}

	events := ta.pub.SystemEvents()
	if len(events) != 2 {
		t.Fatalf("system events: got %d, want 2", len(events))
	}
	if events[0].Event != "STARTUP" || !events[0].Retained {
		t.Errorf("first event: got %+v", events[0])
	}
	last := events[1]
	if last.Event != "SHUTDOWN" || last.Reason != "SIGTERM" || !last.Retained {
		t.Errorf("last event: got %s/%s retained=%v", last.Event, last.Reason, last.Retained)
	}
	var payload map[string]map[string]interface{}
	if err := json.Unmarshal(last.RawPayload, &payload); err != nil {
		t.Fatalf("shutdown payload: %v", err)
	}
	if payload["status"]["event"] != "SHUTDOWN" || payload["status"]["reason"] != "SIGTERM" {
		t.Errorf("shutdown payload: got %v", payload["status"])
	}

	rec, err := ta.db.LastState()
	if err != nil {
		t.Fatalf("last state: %v", err)
	}
	if rec.State != logic.StateStopped || rec.Zone != logic.ZoneAll {
		t.Errorf("last state: got %s %s, want Stopped All", rec.State, rec.Zone)
	}
	sessions, err := ta.db.LatestSessions(0)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Zone != logic.ZoneTomato {
		t.Errorf("sessions: got %+v", sessions)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	ta := newTestApp(t)
	ta.app.start(context.Background())
	ta.app.shutdown("SIGINT")
	ta.app.shutdown("SIGINT")

	n := 0
	for _, ev := range ta.pub.SystemEvents() {
		if ev.Event == "SHUTDOWN" {
			n++
		}
	}
	if n != 1 {
		t.Errorf("shutdown events: got %d, want 1", n)
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	ta := newTestApp(t)
	ta.app.cfg.Schedule.KeepRecords = 2
	for i := 0; i < 5; i++ {
		if err := ta.db.RecordReading(logic.Reading{Kind: logic.ReadingTankLevel, Value: float64(i), Unit: "cm"}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	ta.app.prune(context.Background())

	got, err := ta.db.LatestReadings("", 0)
	if err != nil {
		t.Fatalf("readings: %v", err)
	}
	if len(got) != 2 || got[0].Value != 4 {
		t.Errorf("readings after prune: got %+v", got)
	}
}

func TestHeartbeatPublishesStatus(t *testing.T) {
	ta := newTestApp(t)
	ta.app.heartbeat(context.Background())

	events := ta.pub.SystemEvents()
	if len(events) != 1 || events[0].Event != "HEARTBEAT" || events[0].Retained {
		t.Fatalf("events: got %+v", events)
	}
	if len(events[0].RawPayload) == 0 {
		t.Error("heartbeat should carry a status payload")
	}
}
