package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/garden-controller/internal/logic"
	"github.com/sweeney/garden-controller/internal/notify"
	"github.com/sweeney/garden-controller/internal/telemetry"
)

type stubLevel struct{ est logic.LevelEstimate }

func (s stubLevel) Level(ctx context.Context) logic.LevelEstimate { return s.est }

type readings struct {
	mu  sync.Mutex
	got []logic.Reading
}

func (r *readings) RecordReading(x logic.Reading) {
	r.mu.Lock()
	r.got = append(r.got, x)
	r.mu.Unlock()
}

func (r *readings) kinds() map[logic.ReadingKind]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := make(map[logic.ReadingKind]int)
	for _, x := range r.got {
		m[x.Kind]++
	}
	return m
}

type gauge struct{ level *float64 }

func (g *gauge) SetTankLevel(level float64) { g.level = &level }

var now = time.Date(2026, 7, 1, 14, 0, 0, 0, time.UTC)

func cpuAt(v float64) func(context.Context) (float64, error) {
	return func(context.Context) (float64, error) { return v, nil }
}

func TestRunRecordsEverything(t *testing.T) {
	tel := telemetry.NewFake()
	tel.SetMoisture(logic.ZoneTomato, 33)
	tel.SetMoisture(logic.ZoneGarden, 71)
	tel.SetRain(0, 2.5)
	temp, wind := 21.5, 12.0
	tel.SetStation(telemetry.Station{Temperature: &temp, WindSpeed: &wind})
	rec := &readings{}
	g := &gauge{}
	sink := notify.NewFake()

	m := New(Deps{
		Level:     stubLevel{logic.LevelEstimate{Level: 60, Valid: 5}},
		Telemetry: tel,
		CPU:       cpuAt(48),
		Readings:  rec,
		Notify:    sink,
		Gauge:     g,
		Zones:     []logic.Zone{logic.ZoneTomato, logic.ZoneGarden},
		Now:       func() time.Time { return now },
	})
	m.Run(context.Background())

	k := rec.kinds()
	if k[logic.ReadingTankLevel] != 1 || k[logic.ReadingMoisture] != 2 || k[logic.ReadingRainHourly] != 1 || k[logic.ReadingCPUTemp] != 1 {
		t.Errorf("unexpected readings: %v", k)
	}
	if k[logic.ReadingTemperature] != 1 || k[logic.ReadingWindSpeed] != 1 || k[logic.ReadingHumidity] != 0 || k[logic.ReadingSolar] != 0 {
		t.Errorf("station readings: %v", k)
	}
	if g.level == nil || *g.level != 60 {
		t.Errorf("gauge not updated: %v", g.level)
	}
	if sink.Count() != 0 {
		t.Errorf("no alert expected at 48°C, got %d", sink.Count())
	}

	snap, ok := m.Last()
	if !ok || !snap.At.Equal(now) || snap.Moisture[logic.ZoneGarden] != 71 || *snap.RainLastHour != 2.5 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap.Station.Temperature == nil || *snap.Station.Temperature != 21.5 {
		t.Errorf("station snapshot: %+v", snap.Station)
	}
}

func TestRunAlertsOnHotCPU(t *testing.T) {
	sink := notify.NewFake()
	m := New(Deps{CPU: cpuAt(72.4), Notify: sink, Now: func() time.Time { return now }})
	m.Run(context.Background())

	msgs := sink.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(msgs))
	}
	if !strings.Contains(msgs[0].Body, "72.4") {
		t.Errorf("alert body should carry the temperature: %q", msgs[0].Body)
	}
}

func TestRunAtLimitDoesNotAlert(t *testing.T) {
	sink := notify.NewFake()
	New(Deps{CPU: cpuAt(70), Notify: sink}).Run(context.Background())
	if sink.Count() != 0 {
		t.Error("exactly at the limit should not alert")
	}
}

func TestRunToleratesFailures(t *testing.T) {
	tel := telemetry.NewFake()
	tel.FailMoisture(logic.ZoneTomato, errors.New("offline"))
	tel.SetMoisture(logic.ZoneGarden, 40)
	tel.HistoryErr = errors.New("offline")
	tel.StationErr = errors.New("offline")
	rec := &readings{}
	g := &gauge{}

	m := New(Deps{
		Level:     stubLevel{logic.LevelEstimate{Level: 10, Fallback: true}},
		Telemetry: tel,
		CPU:       func(context.Context) (float64, error) { return 0, errors.New("no sensor") },
		Readings:  rec,
		Gauge:     g,
		Zones:     []logic.Zone{logic.ZoneTomato, logic.ZoneGarden},
	})
	m.Run(context.Background())

	k := rec.kinds()
	if k[logic.ReadingMoisture] != 1 || k[logic.ReadingRainHourly] != 0 || k[logic.ReadingCPUTemp] != 0 || k[logic.ReadingTemperature] != 0 {
		t.Errorf("unexpected readings: %v", k)
	}
	if g.level != nil {
		t.Error("fallback level should not update the gauge")
	}
	snap, _ := m.Last()
	if !snap.TankFallback || snap.CPUTemp != nil || snap.RainLastHour != nil {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestRunCancelledDuringTankReadRecordsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &readings{}
	m := New(Deps{
		Level:     stubLevel{logic.LevelEstimate{Level: 10, Fallback: true}},
		Telemetry: telemetry.NewFake(),
		Readings:  rec,
	})
	m.Run(ctx)

	if k := rec.kinds(); len(k) != 0 {
		t.Errorf("cancelled run recorded %v", k)
	}
	if _, ok := m.Last(); ok {
		t.Error("cancelled run should not replace the snapshot")
	}
}

func TestLastBeforeRun(t *testing.T) {
	if _, ok := New(Deps{}).Last(); ok {
		t.Error("Last should report no snapshot before the first run")
	}
}
