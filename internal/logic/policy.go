package logic

import "time"

// Moisture thresholds (percent) and the watering time each band earns.
const (
	DryBelow   = 30.0
	MoistBelow = 50.0
	WetBelow   = 62.0

	DryDuration   = 600 * time.Second
	MoistDuration = 420 * time.Second
	WetDuration   = 240 * time.Second
)

// WateringDuration maps a soil moisture percentage to a watering time.
// Lower bounds are inclusive: exactly 30 waters 420s, exactly 62 does not water.
func WateringDuration(percent float64) time.Duration {
	switch {
	case percent < DryBelow:
		return DryDuration
	case percent < MoistBelow:
		return MoistDuration
	case percent < WetBelow:
		return WetDuration
	default:
		return 0
	}
}

// SelectSource picks the pump when the tank holds at least threshold,
// otherwise the city main.
func SelectSource(level, threshold float64) WaterSource {
	if level >= threshold {
		return SourcePump
	}
	return SourceCityMain
}

// ClampPercent bounds a telemetry value to [0, 100].
func ClampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
