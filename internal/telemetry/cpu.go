package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v4/sensors"
)

// ErrNoCPUSensor is returned when the host exposes no usable temperature sensor.
var ErrNoCPUSensor = errors.New("telemetry: no cpu temperature sensor")

// CPUTemperature returns the SoC temperature in degrees Celsius.
func CPUTemperature(ctx context.Context) (float64, error) {
	temps, err := sensors.TemperaturesWithContext(ctx)
	// gopsutil reports partial failures as warnings alongside valid readings.
	if err != nil && len(temps) == 0 {
		return 0, fmt.Errorf("read sensors: %w", err)
	}
	return pickCPU(temps)
}

func pickCPU(temps []sensors.TemperatureStat) (float64, error) {
	for _, prefix := range []string{"cpu_thermal", "cpu", "soc", "coretemp"} {
		for _, t := range temps {
			if strings.HasPrefix(strings.ToLower(t.SensorKey), prefix) {
				return t.Temperature, nil
			}
		}
	}
	if len(temps) > 0 {
		return temps[0].Temperature, nil
	}
	return 0, ErrNoCPUSensor
}
