package mqtt

import (
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/garden-controller/internal/logic"
)

// Alert is an alert captured by FakePublisher.
type Alert struct {
	Subject string
	Body    string
	At      time.Time
}

// FakePublisher records published messages for test assertions.
// Safe for concurrent use.
type FakePublisher struct {
	mu sync.Mutex

	states       []logic.StateRecord
	sessions     []logic.Session
	readings     []logic.Reading
	systemEvents []SystemEvent
	alerts       []Alert
	subs         map[string]func([]byte)

	// PublishError, if set, is returned by every Publish* call.
	PublishError error

	closed    bool
	connected bool
}

// NewFakePublisher creates a connected FakePublisher.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{connected: true, subs: make(map[string]func([]byte))}
}

func (f *FakePublisher) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PublishError
}

// SetPublishError makes subsequent publishes fail with err.
func (f *FakePublisher) SetPublishError(err error) {
	f.mu.Lock()
	f.PublishError = err
	f.mu.Unlock()
}

// PublishState records the transition.
func (f *FakePublisher) PublishState(rec logic.StateRecord) error {
	if err := f.fail(); err != nil {
		return err
	}
	f.mu.Lock()
	f.states = append(f.states, rec)
	f.mu.Unlock()
	return nil
}

// PublishSession records the session.
func (f *FakePublisher) PublishSession(s logic.Session) error {
	if err := f.fail(); err != nil {
		return err
	}
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return nil
}

// PublishReading records the reading.
func (f *FakePublisher) PublishReading(r logic.Reading) error {
	if err := f.fail(); err != nil {
		return err
	}
	f.mu.Lock()
	f.readings = append(f.readings, r)
	f.mu.Unlock()
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if err := f.fail(); err != nil {
		return err
	}
	f.mu.Lock()
	f.systemEvents = append(f.systemEvents, event)
	f.mu.Unlock()
	return nil
}

// PublishAlert records the alert.
func (f *FakePublisher) PublishAlert(subject, body string, at time.Time) error {
	if err := f.fail(); err != nil {
		return err
	}
	f.mu.Lock()
	f.alerts = append(f.alerts, Alert{Subject: subject, Body: body, At: at})
	f.mu.Unlock()
	return nil
}

// Subscribe stores the handler so tests can Deliver messages.
func (f *FakePublisher) Subscribe(topic string, handler func(payload []byte)) error {
	f.mu.Lock()
	f.subs[topic] = handler
	f.mu.Unlock()
	return nil
}

// Deliver invokes the handler subscribed to topic.
func (f *FakePublisher) Deliver(topic string, payload []byte) error {
	f.mu.Lock()
	h := f.subs[topic]
	f.mu.Unlock()
	if h == nil {
		return fmt.Errorf("no subscriber for %s", topic)
	}
	h(payload)
	return nil
}

// States returns recorded state transitions.
func (f *FakePublisher) States() []logic.StateRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logic.StateRecord(nil), f.states...)
}

// Sessions returns recorded sessions.
func (f *FakePublisher) Sessions() []logic.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logic.Session(nil), f.sessions...)
}

// Readings returns recorded readings.
func (f *FakePublisher) Readings() []logic.Reading {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logic.Reading(nil), f.readings...)
}

// SystemEvents returns recorded system events.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// Alerts returns recorded alerts.
func (f *FakePublisher) Alerts() []Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Alert(nil), f.alerts...)
}

// Close marks the publisher as closed and disconnected.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.closed = true
	f.connected = false
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// SetConnected controls the return value of IsConnected.
func (f *FakePublisher) SetConnected(c bool) {
	f.mu.Lock()
	f.connected = c
	f.mu.Unlock()
}

// IsConnected reports whether the fake is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
