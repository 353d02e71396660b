// Package notify delivers operator alerts (sensor failures, telemetry
// outages, overheating) on a best-effort basis.
package notify

import (
	"log"
	"sync"
)

// Sink receives alerts. Notify never fails from the caller's view;
// delivery problems are logged by the sink itself.
type Sink interface {
	Notify(subject, body string)
}

// Multi fans an alert out to several sinks.
type Multi []Sink

// Notify forwards to every sink in order.
func (m Multi) Notify(subject, body string) {
	for _, s := range m {
		s.Notify(subject, body)
	}
}

// LogSink writes alerts to the process log.
type LogSink struct{}

// Notify logs the alert subject and body.
func (LogSink) Notify(subject, body string) {
	log.Printf("alert: %s: %s", subject, body)
}

// Message is an alert captured by Fake.
type Message struct {
	Subject string
	Body    string
}

// Fake records alerts for test assertions. Safe for concurrent use.
type Fake struct {
	mu       sync.Mutex
	messages []Message
}

// NewFake creates an empty Fake.
func NewFake() *Fake {
	return &Fake{}
}

// Notify records the alert.
func (f *Fake) Notify(subject, body string) {
	f.mu.Lock()
	f.messages = append(f.messages, Message{Subject: subject, Body: body})
	f.mu.Unlock()
}

// Messages returns a copy of every recorded alert.
func (f *Fake) Messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.messages...)
}

// Count returns the number of recorded alerts.
func (f *Fake) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}
