package orchestrator

import (
	"sync"

	"github.com/sweeney/garden-controller/internal/logic"
)

// FakeRecorder keeps everything it is given in memory. Safe for concurrent use.
type FakeRecorder struct {
	mu       sync.Mutex
	states   []logic.StateRecord
	sessions []logic.Session
	readings []logic.Reading

	// StateError, if set, is returned by RecordState after recording.
	StateError error
}

// NewFakeRecorder creates an empty FakeRecorder.
func NewFakeRecorder() *FakeRecorder {
	return &FakeRecorder{}
}

func (f *FakeRecorder) RecordState(rec logic.StateRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, rec)
	return f.StateError
}

func (f *FakeRecorder) RecordSession(s logic.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, s)
	return nil
}

func (f *FakeRecorder) RecordReading(r logic.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings = append(f.readings, r)
	return nil
}

// States returns a copy of the recorded state transitions.
func (f *FakeRecorder) States() []logic.StateRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logic.StateRecord(nil), f.states...)
}

// Sessions returns a copy of the recorded sessions.
func (f *FakeRecorder) Sessions() []logic.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logic.Session(nil), f.sessions...)
}

// Readings returns a copy of the recorded readings.
func (f *FakeRecorder) Readings() []logic.Reading {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logic.Reading(nil), f.readings...)
}
