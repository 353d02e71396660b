package logic

import "time"

// ButtonAction is what a physical button asks for.
type ButtonAction string

const (
	ActionWaterTomato ButtonAction = "WATER_TOMATO"
	ActionWaterGarden ButtonAction = "WATER_GARDEN"
	ActionWaterAnnex  ButtonAction = "WATER_ANNEX"
	ActionStop        ButtonAction = "STOP"
)

// Press is a single falling edge seen on a button line.
type Press struct {
	Pin  int
	Time time.Time
}

// PressDebouncer drops presses that arrive within the debounce window of the
// last accepted press on the same pin. Not safe for concurrent use.
type PressDebouncer struct {
	window   time.Duration
	actions  map[int]ButtonAction
	last     map[int]time.Time
	accepted int
	dropped  int
}

// NewPressDebouncer creates a debouncer for the given pin to action map.
func NewPressDebouncer(window time.Duration, actions map[int]ButtonAction) *PressDebouncer {
	return &PressDebouncer{
		window:  window,
		actions: actions,
		last:    make(map[int]time.Time),
	}
}

// Process returns the action for p, or false if the press is a bounce or the
// pin is not mapped.
func (d *PressDebouncer) Process(p Press) (ButtonAction, bool) {
	action, ok := d.actions[p.Pin]
	if !ok {
		return "", false
	}
	if last, seen := d.last[p.Pin]; seen && p.Time.Sub(last) < d.window {
		d.dropped++
		return "", false
	}
	d.last[p.Pin] = p.Time
	d.accepted++
	return action, true
}

// Counts returns accepted and dropped press totals.
func (d *PressDebouncer) Counts() (accepted, dropped int) {
	return d.accepted, d.dropped
}
