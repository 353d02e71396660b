// Package mqtt publishes irrigation events to an MQTT broker and receives
// remote commands, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sweeney/garden-controller/internal/logic"
)

// Topics.
const (
	TopicState     = "garden/irrigation/state"
	TopicSessions  = "garden/irrigation/sessions"
	TopicTelemetry = "garden/irrigation/telemetry"
	TopicSystem    = "garden/irrigation/system"
	TopicAlerts    = "garden/irrigation/alerts"
	TopicCommand   = "garden/irrigation/command"
)

// Publisher publishes irrigation events.
type Publisher interface {
	// PublishState sends a state transition. It is retained so late
	// subscribers see the current state.
	PublishState(rec logic.StateRecord) error

	// PublishSession sends a completed watering session.
	PublishSession(s logic.Session) error

	// PublishReading sends a telemetry reading.
	PublishReading(r logic.Reading) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// PublishAlert sends an operator alert.
	PublishAlert(subject, body string, at time.Time) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent is a lifecycle event (STARTUP, SHUTDOWN, HEARTBEAT, RECONNECTED).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // SIGTERM, SIGINT, MQTT_DISCONNECT (shutdown only)
	RawPayload []byte // pre-formatted JSON; returned as-is by FormatSystemPayload
	Retained   bool
}

type statePayload struct {
	Irrigation stateInner `json:"irrigation"`
}

type stateInner struct {
	Timestamp string `json:"timestamp"`
	State     string `json:"state"`
	Zone      string `json:"zone"`
	Source    string `json:"source"`
	Mode      string `json:"mode"`
}

// FormatStatePayload creates the JSON payload for a state transition.
func FormatStatePayload(rec logic.StateRecord) ([]byte, error) {
	return json.Marshal(statePayload{Irrigation: stateInner{
		Timestamp: rec.Timestamp.UTC().Format(time.RFC3339),
		State:     string(rec.State),
		Zone:      string(rec.Zone),
		Source:    string(rec.Source),
		Mode:      string(rec.Mode),
	}})
}

// SessionPayload is the JSON shape of a session message.
type SessionPayload struct {
	Session SessionInner `json:"session"`
}

// SessionInner contains the session details.
type SessionInner struct {
	ID              string   `json:"id"`
	Zone            string   `json:"zone"`
	StartedAt       string   `json:"started_at"`
	PlannedSeconds  int64    `json:"planned_seconds"`
	DurationSeconds int64    `json:"duration_seconds"`
	Source          string   `json:"source"`
	Mode            string   `json:"mode"`
	MoistureBefore  *float64 `json:"soil_moisture_before,omitempty"`
	Cancelled       bool     `json:"cancelled"`
}

// FormatSessionPayload creates the JSON payload for a watering session.
func FormatSessionPayload(s logic.Session) ([]byte, error) {
	return json.Marshal(SessionPayload{Session: SessionInner{
		ID:              s.ID,
		Zone:            string(s.Zone),
		StartedAt:       s.StartedAt.UTC().Format(time.RFC3339),
		PlannedSeconds:  int64(s.Planned / time.Second),
		DurationSeconds: int64(s.Duration / time.Second),
		Source:          string(s.Source),
		Mode:            string(s.Mode),
		MoistureBefore:  s.MoistureBefore,
		Cancelled:       s.Cancelled,
	}})
}

type readingPayload struct {
	Reading readingInner `json:"reading"`
}

type readingInner struct {
	Timestamp string  `json:"timestamp"`
	Kind      string  `json:"kind"`
	Zone      string  `json:"zone,omitempty"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
}

// FormatReadingPayload creates the JSON payload for a telemetry reading.
func FormatReadingPayload(r logic.Reading) ([]byte, error) {
	return json.Marshal(readingPayload{Reading: readingInner{
		Timestamp: r.Timestamp.UTC().Format(time.RFC3339),
		Kind:      string(r.Kind),
		Zone:      string(r.Zone),
		Value:     r.Value,
		Unit:      r.Unit,
	}})
}

// SystemPayload is used for simple events (LWT, RECONNECTED) that don't
// carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{System: SystemPayloadInner{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Event:     event.Event,
		Reason:    event.Reason,
	}})
}

type alertPayload struct {
	Alert alertInner `json:"alert"`
}

type alertInner struct {
	Timestamp string `json:"timestamp"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// FormatAlertPayload creates the JSON payload for an operator alert.
func FormatAlertPayload(subject, body string, at time.Time) ([]byte, error) {
	return json.Marshal(alertPayload{Alert: alertInner{
		Timestamp: at.UTC().Format(time.RFC3339),
		Subject:   subject,
		Body:      body,
	}})
}

// Remote command actions.
const (
	ActionWater = "water"
	ActionStop  = "stop"
)

// Command is a remote request received on TopicCommand.
type Command struct {
	Action string
	Zone   logic.Zone
}

type commandPayload struct {
	Command string `json:"command"`
	Zone    string `json:"zone"`
}

// ParseCommand decodes a command message such as {"command":"water","zone":"Tomato"}
// or {"command":"stop"}.
func ParseCommand(payload []byte) (Command, error) {
	var p commandPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	switch strings.ToLower(p.Command) {
	case ActionStop:
		return Command{Action: ActionStop}, nil
	case ActionWater:
		z, ok := logic.ParseZone(p.Zone)
		if !ok {
			return Command{}, fmt.Errorf("unknown zone %q", p.Zone)
		}
		return Command{Action: ActionWater, Zone: z}, nil
	default:
		return Command{}, fmt.Errorf("unknown command %q", p.Command)
	}
}

// Recorder adapts a Publisher to the orchestrator's record interface.
type Recorder struct {
	P Publisher
}

// RecordState publishes rec on the state topic.
func (r Recorder) RecordState(rec logic.StateRecord) error { return r.P.PublishState(rec) }

// RecordSession publishes s on the session topic.
func (r Recorder) RecordSession(s logic.Session) error { return r.P.PublishSession(s) }

// RecordReading publishes x on its reading topic.
func (r Recorder) RecordReading(x logic.Reading) error { return r.P.PublishReading(x) }

// AlertSink forwards operator alerts to TopicAlerts.
type AlertSink struct {
	P   Publisher
	Now func() time.Time
}

// Notify publishes the alert. Failures are logged.
func (a AlertSink) Notify(subject, body string) {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	if err := a.P.PublishAlert(subject, body, now()); err != nil {
		log.Printf("mqtt: alert publish failed: %v", err)
	}
}
