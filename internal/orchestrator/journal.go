package orchestrator

import (
	"log"
	"sync"

	"github.com/sweeney/garden-controller/internal/logic"
)

// Recorder persists state transitions, session logs and telemetry readings.
// Implementations may be slow or fail; the orchestrator never waits on them.
type Recorder interface {
	RecordState(rec logic.StateRecord) error
	RecordSession(s logic.Session) error
	RecordReading(r logic.Reading) error
}

// Recorders fans every record out to each recorder in order. All recorders
// are tried; the first error is returned.
type Recorders []Recorder

func (rs Recorders) each(fn func(Recorder) error) error {
	var first error
	for _, r := range rs {
		if err := fn(r); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RecordState passes rec to every recorder.
func (rs Recorders) RecordState(rec logic.StateRecord) error {
	return rs.each(func(r Recorder) error { return r.RecordState(rec) })
}

// RecordSession passes s to every recorder.
func (rs Recorders) RecordSession(s logic.Session) error {
	return rs.each(func(r Recorder) error { return r.RecordSession(s) })
}

// RecordReading passes x to every recorder.
func (rs Recorders) RecordReading(x logic.Reading) error {
	return rs.each(func(r Recorder) error { return r.RecordReading(x) })
}

type nopRecorder struct{}

func (nopRecorder) RecordState(logic.StateRecord) error { return nil }
func (nopRecorder) RecordSession(logic.Session) error   { return nil }
func (nopRecorder) RecordReading(logic.Reading) error   { return nil }

type entry struct {
	state   *logic.StateRecord
	session *logic.Session
	reading *logic.Reading
}

// journal is a FIFO of pending records drained by a single worker, so
// records reach the Recorder in the order they were enqueued.
type journal struct {
	rec     Recorder
	mu      sync.Mutex
	cond    *sync.Cond
	pending []entry
	busy    bool
	closed  bool
	done    chan struct{}
}

func newJournal(rec Recorder) *journal {
	j := &journal{rec: rec, done: make(chan struct{})}
	j.cond = sync.NewCond(&j.mu)
	go j.run()
	return j
}

func (j *journal) push(e entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		log.Printf("journal: closed, dropping record")
		return
	}
	j.pending = append(j.pending, e)
	j.cond.Broadcast()
}

func (j *journal) state(r logic.StateRecord) { j.push(entry{state: &r}) }

func (j *journal) session(s logic.Session) { j.push(entry{session: &s}) }

func (j *journal) reading(r logic.Reading) { j.push(entry{reading: &r}) }

func (j *journal) run() {
	defer close(j.done)
	for {
		j.mu.Lock()
		for len(j.pending) == 0 && !j.closed {
			j.cond.Wait()
		}
		if len(j.pending) == 0 {
			j.mu.Unlock()
			return
		}
		e := j.pending[0]
		j.pending = j.pending[1:]
		j.busy = true
		j.mu.Unlock()

		j.write(e)

		j.mu.Lock()
		j.busy = false
		j.cond.Broadcast()
		j.mu.Unlock()
	}
}

func (j *journal) write(e entry) {
	var err error
	switch {
	case e.state != nil:
		err = j.rec.RecordState(*e.state)
	case e.session != nil:
		err = j.rec.RecordSession(*e.session)
	case e.reading != nil:
		err = j.rec.RecordReading(*e.reading)
	}
	if err != nil {
		log.Printf("journal: record error: %v", err)
	}
}

// flush blocks until every pending record has been written.
func (j *journal) flush() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for len(j.pending) > 0 || j.busy {
		j.cond.Wait()
	}
}

// close writes what is pending and stops the worker.
func (j *journal) close() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		<-j.done
		return
	}
	j.closed = true
	j.cond.Broadcast()
	j.mu.Unlock()
	<-j.done
}
