package mqtt

import "log"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a fixed-capacity FIFO holding messages while the broker is
// unreachable. When full the oldest message is overwritten.
// Not safe for concurrent use; RealPublisher holds its mutex.
type outbox struct {
	buf     []bufferedMsg
	head    int // next write position
	count   int
	dropped int // messages overwritten since the last drain
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{buf: make([]bufferedMsg, capacity)}
}

func (o *outbox) push(msg bufferedMsg) {
	if o.count == len(o.buf) {
		if o.dropped == 0 {
			log.Printf("mqtt: outbox full (%d messages), dropping oldest", len(o.buf))
		}
		o.dropped++
	} else {
		o.count++
	}
	o.buf[o.head] = msg
	o.head = (o.head + 1) % len(o.buf)
}

// drain returns the held messages oldest first and empties the outbox.
func (o *outbox) drain() []bufferedMsg {
	if o.count == 0 {
		return nil
	}

	out := make([]bufferedMsg, o.count)
	start := (o.head - o.count + len(o.buf)) % len(o.buf)
	for i := range out {
		out[i] = o.buf[(start+i)%len(o.buf)]
	}

	if o.dropped > 0 {
		log.Printf("mqtt: %d messages were dropped while disconnected", o.dropped)
	}
	o.head, o.count, o.dropped = 0, 0, 0
	return out
}

func (o *outbox) len() int {
	return o.count
}
