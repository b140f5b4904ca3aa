package mqtt

import (
	"github.com/sweeney/li-charger/internal/logic"
)

// FakePublisher stands in for the broker connection in daemon and
// integration tests. Delivered messages land in the exported slices.
//
// Setting Outage mimics a lost broker: charger events queue up as the real
// publisher's outbox does, Buffered reports the backlog and Reconnect
// delivers it in order.
type FakePublisher struct {
	Events         []logic.Event
	Payloads       [][]byte
	SystemEvents   []SystemEvent
	SystemPayloads [][]byte

	// Injected failures, returned before anything is recorded.
	PublishError       error
	PublishSystemError error

	// FullScaleMV scales voltage_mv in the recorded payloads.
	FullScaleMV int

	Outage    bool
	Connected bool
	Closed    bool

	held []logic.Event
}

func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish formats the event like the real publisher and delivers it, or
// holds it during an outage.
func (f *FakePublisher) Publish(event logic.Event) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	if f.Outage {
		f.held = append(f.held, event)
		return nil
	}
	return f.deliver(event)
}

func (f *FakePublisher) deliver(event logic.Event) error {
	payload, err := FormatPayload(event, f.FullScaleMV)
	if err != nil {
		return err
	}
	f.Events = append(f.Events, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSystem records a lifecycle event. Outages do not hold these back.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Reconnect ends an outage and delivers the held events oldest first.
func (f *FakePublisher) Reconnect() error {
	f.Outage = false
	f.Connected = true
	held := f.held
	f.held = nil
	for _, event := range held {
		if err := f.deliver(event); err != nil {
			return err
		}
	}
	return nil
}

// Buffered is the number of events held by the current outage.
func (f *FakePublisher) Buffered() int {
	return len(f.held)
}

func (f *FakePublisher) IsConnected() bool {
	return f.Connected && !f.Outage
}

func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// EventTypes lists the delivered charger event types in order.
func (f *FakePublisher) EventTypes() []logic.EventType {
	types := make([]logic.EventType, 0, len(f.Events))
	for _, e := range f.Events {
		types = append(types, e.Type)
	}
	return types
}

// Reset drops everything recorded or held. FullScaleMV survives.
func (f *FakePublisher) Reset() {
	*f = FakePublisher{FullScaleMV: f.FullScaleMV}
}
