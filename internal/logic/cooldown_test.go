package logic

import (
	"testing"
	"time"
)

func TestCooldownAllowsFirstStart(t *testing.T) {
	c := Cooldown{Period: 300 * time.Second}
	if !c.Allows(time.Now()) {
		t.Error("first start should be allowed")
	}
}

func TestCooldownWindow(t *testing.T) {
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	c := Cooldown{Period: 300 * time.Second, LastStart: start}

	tests := []struct {
		name    string
		elapsed time.Duration
		allowed bool
		remain  time.Duration
	}{
		{"immediately", 0, false, 300 * time.Second},
		{"one second short", 299 * time.Second, false, time.Second},
		{"exactly period", 300 * time.Second, true, 0},
		{"after period", 301 * time.Second, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := start.Add(tt.elapsed)
			if got := c.Allows(now); got != tt.allowed {
				t.Errorf("Allows: got %v, want %v", got, tt.allowed)
			}
			if got := c.Remaining(now); got != tt.remain {
				t.Errorf("Remaining: got %v, want %v", got, tt.remain)
			}
		})
	}
}

func TestPressDebouncer(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	d := NewPressDebouncer(300*time.Millisecond, map[int]ButtonAction{
		5: ActionWaterTomato,
		6: ActionStop,
	})

	if a, ok := d.Process(Press{Pin: 5, Time: now}); !ok || a != ActionWaterTomato {
		t.Fatalf("first press: got (%q, %v)", a, ok)
	}
	if _, ok := d.Process(Press{Pin: 5, Time: now.Add(100 * time.Millisecond)}); ok {
		t.Error("bounce within window should be dropped")
	}
	// Other pins have their own window.
	if a, ok := d.Process(Press{Pin: 6, Time: now.Add(100 * time.Millisecond)}); !ok || a != ActionStop {
		t.Errorf("stop press: got (%q, %v)", a, ok)
	}
	if _, ok := d.Process(Press{Pin: 5, Time: now.Add(300 * time.Millisecond)}); !ok {
		t.Error("press at window boundary should be accepted")
	}
	if _, ok := d.Process(Press{Pin: 9, Time: now}); ok {
		t.Error("unmapped pin should be ignored")
	}

	accepted, dropped := d.Counts()
	if accepted != 3 || dropped != 1 {
		t.Errorf("Counts: got (%d, %d), want (3, 1)", accepted, dropped)
	}
}
