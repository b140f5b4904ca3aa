// Package status provides a thread-safe status tracker for the li-charger daemon.
// It is read by the HTTP handlers and the heartbeat publisher.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/li-charger/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	TickMs      int64
	HeartbeatMs int64
	Thresholds  logic.Thresholds
	Topology    logic.Topology
	FullScaleMV int
	Broker      string
	HTTPAddr    string
	SerialPort  string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Charger       logic.Snapshot
	Baselined     bool
	Counts        logic.EventCounts
	Fault         string // last fatal controller error, if any
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	MQTTBuffered  int       // messages waiting for the broker
	TelemetryLast time.Time // zero until a line reaches the serial port
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update records the latest controller snapshot and event counts.
// Called from runLoop for every observed step.
func (t *Tracker) Update(charger logic.Snapshot, baselined bool, counts logic.EventCounts) {
	t.mu.Lock()
	t.snap.Charger = charger
	t.snap.Baselined = baselined
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetFault records a fatal controller error.
func (t *Tracker) SetFault(fault string) {
	t.mu.Lock()
	t.snap.Fault = fault
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetMQTTBuffered records how many messages are queued for the broker.
func (t *Tracker) SetMQTTBuffered(n int) {
	t.mu.Lock()
	t.snap.MQTTBuffered = n
	t.mu.Unlock()
}

// SetTelemetryLast records when the last telemetry line was written.
func (t *Tracker) SetTelemetryLast(at time.Time) {
	t.mu.Lock()
	t.snap.TelemetryLast = at
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
