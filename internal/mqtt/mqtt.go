// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/li-charger/internal/logic"
)

// Topic is the MQTT topic for charger transition events.
const Topic = "energy/charger/li/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "energy/charger/li/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a charger event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active and how
// many messages are held back for the broker.
type ConnectionStatus interface {
	IsConnected() bool
	Buffered() int
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT", "FAULT"
	Reason     string // e.g., "SIGTERM", "ADC_STUCK"
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Charger ChargerPayload `json:"charger"`
}

// ChargerPayload contains the event and the state it left behind.
type ChargerPayload struct {
	Timestamp   string `json:"timestamp"`
	Event       string `json:"event"`
	Phase       string `json:"phase"`
	USB         bool   `json:"usb"`
	Charging    bool   `json:"charging"`
	Complete    bool   `json:"complete"`
	Depleted    bool   `json:"depleted"`
	VoltageCode uint16 `json:"voltage_code"`
	VoltageMV   int    `json:"voltage_mv"`
}

// FormatPayload creates the JSON payload for a charger event. fullScaleMV
// of zero uses logic.DefaultFullScaleMV.
func FormatPayload(event logic.Event, fullScaleMV int) ([]byte, error) {
	st := event.Snapshot.State
	payload := Payload{
		Charger: ChargerPayload{
			Timestamp:   event.Timestamp.UTC().Format(time.RFC3339),
			Event:       string(event.Type),
			Phase:       string(st.Phase()),
			USB:         st.USBConnected,
			Charging:    st.Charging,
			Complete:    st.Complete,
			Depleted:    st.Depleted,
			VoltageCode: event.Snapshot.Voltage,
			VoltageMV:   logic.Millivolts(event.Snapshot.Voltage, fullScaleMV),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
