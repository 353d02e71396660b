package mqtt

import "log"

// bufferedMsg is a serialized message held for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer keeps messages while disconnected, oldest first. A retained
// message supersedes any older retained message on the same topic, since
// only the latest value matters to the broker. Not safe for concurrent use.
type ringBuffer struct {
	msgs     []bufferedMsg
	capacity int
	dropped  int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{capacity: capacity}
}

func (r *ringBuffer) push(m bufferedMsg) {
	if m.retained {
		for i, old := range r.msgs {
			if old.retained && old.topic == m.topic {
				r.msgs = append(r.msgs[:i], r.msgs[i+1:]...)
				break
			}
		}
	}
	if len(r.msgs) == r.capacity {
		if r.dropped == 0 {
			log.Printf("mqtt: buffer full (%d messages), dropping oldest", r.capacity)
		}
		r.dropped++
		r.msgs = r.msgs[1:]
	}
	r.msgs = append(r.msgs, m)
}

// drainAll returns every buffered message in publish order and empties the buffer.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if len(r.msgs) == 0 {
		return nil
	}
	out := r.msgs
	if r.dropped > 0 {
		log.Printf("mqtt: %d buffered messages were dropped while offline", r.dropped)
	}
	r.msgs = nil
	r.dropped = 0
	return out
}

func (r *ringBuffer) len() int {
	return len(r.msgs)
}
