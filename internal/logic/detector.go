package logic

import "time"

// Detector turns successive controller snapshots into transition events.
type Detector struct {
	prev          Snapshot
	baselined     bool
	startTime     time.Time
	eventCounts   EventCounts
	lastHeartbeat time.Time
}

// NewDetector creates a new transition detector.
// The startTime is used for calculating uptime in heartbeat events.
func NewDetector(startTime time.Time) *Detector {
	return &Detector{
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Baseline sets the snapshot later ones are compared against. Use it with
// the controller state from before Start so changes made by Start are
// reported.
func (d *Detector) Baseline(snap Snapshot) {
	d.prev = snap
	d.baselined = true
}

// Process compares snap with the previous snapshot and returns the events
// between them. The first snapshot only establishes the baseline.
func (d *Detector) Process(snap Snapshot, now time.Time) []Event {
	if !d.baselined {
		d.prev = snap
		d.baselined = true
		return nil
	}

	types := Diff(d.prev, snap)
	d.prev = snap
	if len(types) == 0 {
		return nil
	}

	events := make([]Event, 0, len(types))
	for _, typ := range types {
		events = append(events, Event{Timestamp: now, Type: typ, Snapshot: snap})
		d.count(typ)
	}
	return events
}

func (d *Detector) count(typ EventType) {
	switch typ {
	case EventUSBPlugged:
		d.eventCounts.Plugged++
	case EventUSBUnplugged:
		d.eventCounts.Unplugged++
	case EventChargeStarted:
		d.eventCounts.Started++
	case EventChargeComplete:
		d.eventCounts.Completed++
	case EventDepleted:
		d.eventCounts.Depleted++
	case EventRecovered:
		d.eventCounts.Recovered++
	}
}

// Diff lists the transitions from prev to next in a fixed order:
// USB, charge cycle, stage, depletion.
func Diff(prev, next Snapshot) []EventType {
	var out []EventType
	p, n := prev.State, next.State

	if !p.USBConnected && n.USBConnected {
		out = append(out, EventUSBPlugged)
	}
	if p.USBConnected && !n.USBConnected {
		out = append(out, EventUSBUnplugged)
	}

	if !p.Charging && n.Charging {
		out = append(out, EventChargeStarted)
	}
	if p.Charging && !n.Charging {
		if n.Complete {
			out = append(out, EventChargeComplete)
		} else {
			out = append(out, EventChargeStopped)
		}
	}

	if n.Charging {
		cc := !prev.Pins.ChargeCurrent && next.Pins.ChargeCurrent
		cv := !prev.Pins.ChargeVoltage && next.Pins.ChargeVoltage
		if cc {
			out = append(out, EventStageCC)
		}
		if cv {
			out = append(out, EventStageCV)
		}
	}

	if !p.Depleted && n.Depleted {
		out = append(out, EventDepleted)
	}
	if p.Depleted && !n.Depleted {
		out = append(out, EventRecovered)
	}
	return out
}

// IsBaselined returns whether the detector has seen its first snapshot.
func (d *Detector) IsBaselined() bool {
	return d.baselined
}

// Current returns the last snapshot processed.
func (d *Detector) Current() Snapshot {
	return d.prev
}

// EventCountsSnapshot returns a copy of the counts since startup.
func (d *Detector) EventCountsSnapshot() EventCounts {
	return d.eventCounts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if not yet baselined, if the
// interval has not elapsed, or if interval is <= 0 (disabled).
func (d *Detector) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if !d.baselined {
		return nil
	}

	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(d.startTime),
		Counts:    d.eventCounts,
	}
}
