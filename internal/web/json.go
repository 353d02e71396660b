package web

import (
	"fmt"
	"time"

	"github.com/sweeney/garden-controller/internal/logic"
)

// HistoryJSON is the response of /history.json.
type HistoryJSON struct {
	States   []StateJSON   `json:"states"`
	Sessions []SessionJSON `json:"sessions"`
	Readings []ReadingJSON `json:"readings"`
}

// StateJSON is one persisted transition.
type StateJSON struct {
	Timestamp string `json:"timestamp"`
	State     string `json:"state"`
	Zone      string `json:"zone"`
	Source    string `json:"source"`
	Mode      string `json:"mode"`
}

// SessionJSON is one watering session.
type SessionJSON struct {
	ID              string   `json:"id"`
	StartedAt       string   `json:"started_at"`
	Zone            string   `json:"zone"`
	Source          string   `json:"source"`
	Mode            string   `json:"mode"`
	PlannedSeconds  int64    `json:"planned_seconds"`
	DurationSeconds int64    `json:"duration_seconds"`
	MoistureBefore  *float64 `json:"soil_moisture_before,omitempty"`
	Cancelled       bool     `json:"cancelled"`
}

// ReadingJSON is one telemetry reading.
type ReadingJSON struct {
	Timestamp string  `json:"timestamp"`
	Kind      string  `json:"kind"`
	Zone      string  `json:"zone,omitempty"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
}

func buildHistory(h History, kind logic.ReadingKind, limit int) (HistoryJSON, error) {
	out := HistoryJSON{States: []StateJSON{}, Sessions: []SessionJSON{}, Readings: []ReadingJSON{}}

	states, err := h.LatestStates(limit)
	if err != nil {
		return out, fmt.Errorf("states: %w", err)
	}
	for _, s := range states {
		out.States = append(out.States, StateJSON{
			Timestamp: s.Timestamp.UTC().Format(time.RFC3339),
			State:     string(s.State),
			Zone:      string(s.Zone),
			Source:    string(s.Source),
			Mode:      string(s.Mode),
		})
	}

	sessions, err := h.LatestSessions(limit)
	if err != nil {
		return out, fmt.Errorf("sessions: %w", err)
	}
	for _, s := range sessions {
		out.Sessions = append(out.Sessions, SessionJSON{
			ID:              s.ID,
			StartedAt:       s.StartedAt.UTC().Format(time.RFC3339),
			Zone:            string(s.Zone),
			Source:          string(s.Source),
			Mode:            string(s.Mode),
			PlannedSeconds:  int64(s.Planned / time.Second),
			DurationSeconds: int64(s.Duration / time.Second),
			MoistureBefore:  s.MoistureBefore,
			Cancelled:       s.Cancelled,
		})
	}

	readings, err := h.LatestReadings(kind, limit)
	if err != nil {
		return out, fmt.Errorf("readings: %w", err)
	}
	for _, r := range readings {
		out.Readings = append(out.Readings, ReadingJSON{
			Timestamp: r.Timestamp.UTC().Format(time.RFC3339),
			Kind:      string(r.Kind),
			Zone:      string(r.Zone),
			Value:     r.Value,
			Unit:      r.Unit,
		})
	}
	return out, nil
}
