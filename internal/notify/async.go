package notify

import (
	"log"
	"sync"
)

// Async hands alerts to a background worker so slow delivery (SMTP) never
// stalls the caller. When the queue is full the alert is logged and dropped.
type Async struct {
	sink  Sink
	queue chan Message
	wg    sync.WaitGroup
	once  sync.Once
}

// NewAsync starts a worker delivering to sink with room for size pending alerts.
func NewAsync(sink Sink, size int) *Async {
	a := &Async{sink: sink, queue: make(chan Message, size)}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) run() {
	defer a.wg.Done()
	for m := range a.queue {
		a.sink.Notify(m.Subject, m.Body)
	}
}

// Notify queues the alert.
func (a *Async) Notify(subject, body string) {
	select {
	case a.queue <- Message{Subject: subject, Body: body}:
	default:
		log.Printf("notify: queue full, dropping %q", subject)
	}
}

// Close delivers queued alerts and stops the worker. Notify must not be
// called after Close.
func (a *Async) Close() {
	a.once.Do(func() {
		close(a.queue)
		a.wg.Wait()
	})
}
