package telemetry

import (
	"context"
	"sync"

	"github.com/sweeney/garden-controller/internal/logic"
)

// Fake is a scripted Provider. Safe for concurrent use.
type Fake struct {
	mu       sync.Mutex
	moisture map[logic.Zone]float64
	errs     map[logic.Zone]error
	forecast float64
	history  float64
	station  Station

	ForecastErr error
	HistoryErr  error
	StationErr  error
}

// NewFake creates a Fake with no readings.
func NewFake() *Fake {
	return &Fake{moisture: make(map[logic.Zone]float64), errs: make(map[logic.Zone]error)}
}

// SetMoisture scripts the reading for zone and clears any error.
func (f *Fake) SetMoisture(zone logic.Zone, v float64) {
	f.mu.Lock()
	f.moisture[zone] = v
	delete(f.errs, zone)
	f.mu.Unlock()
}

// FailMoisture makes SoilMoisture(zone) return err.
func (f *Fake) FailMoisture(zone logic.Zone, err error) {
	f.mu.Lock()
	f.errs[zone] = err
	f.mu.Unlock()
}

// SetRain scripts the forecast and history totals.
func (f *Fake) SetRain(forecast, history float64) {
	f.mu.Lock()
	f.forecast, f.history = forecast, history
	f.mu.Unlock()
}

// SetStation scripts the outdoor averages.
func (f *Fake) SetStation(st Station) {
	f.mu.Lock()
	f.station = st
	f.mu.Unlock()
}

func (f *Fake) SoilMoisture(ctx context.Context, zone logic.Zone) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[zone]; err != nil {
		return 0, err
	}
	v, ok := f.moisture[zone]
	if !ok {
		return 0, ErrNoChannel
	}
	return v, nil
}

func (f *Fake) RainForecast(ctx context.Context, hours int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forecast, f.ForecastErr
}

func (f *Fake) RainHistory(ctx context.Context, hours int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, f.HistoryErr
}

func (f *Fake) StationHistory(ctx context.Context, hours int) (Station, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StationErr != nil {
		return Station{}, f.StationErr
	}
	return f.station, nil
}
