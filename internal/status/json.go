package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/li-charger/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Phase         string     `json:"phase"`
	USB           bool       `json:"usb"`
	Charging      bool       `json:"charging"`
	Complete      bool       `json:"complete"`
	Depleted      bool       `json:"depleted"`
	VoltageCode   uint16     `json:"voltage_code"`
	VoltageMV     int        `json:"voltage_mv"`
	Pins          PinsJSON   `json:"pins"`
	TickArmed     bool       `json:"tick_armed"`
	Ready         bool       `json:"ready"`
	Fault         string     `json:"fault,omitempty"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	TelemetryLast string     `json:"telemetry_last,omitempty"`
	Counts        CountsJSON `json:"event_counts"`
	Config        ConfigJSON `json:"config"`
}

// PinsJSON is the commanded level of each output.
type PinsJSON struct {
	ChargeCurrent bool `json:"charge_current"`
	ChargeVoltage bool `json:"charge_voltage"`
	CircuitPower  bool `json:"circuit_power"`
	SenseEnable   bool `json:"sense_enable"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Buffered  int    `json:"buffered"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Plugged   int `json:"usb_plugged"`
	Unplugged int `json:"usb_unplugged"`
	Started   int `json:"charge_started"`
	Completed int `json:"charge_complete"`
	Depleted  int `json:"depleted"`
	Recovered int `json:"recovered"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs      int64  `json:"tick_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Low         uint16 `json:"low"`
	Ceiling     uint16 `json:"ceiling"`
	Full        uint16 `json:"full"`
	Topology    string `json:"topology"`
	FullScaleMV int    `json:"full_scale_mv"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	SerialPort  string `json:"serial_port,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	c := snap.Charger
	cfg := snap.Config

	var telemetryLast string
	if !snap.TelemetryLast.IsZero() {
		telemetryLast = snap.TelemetryLast.UTC().Format(time.RFC3339)
	}

	return StatusInner{
		Phase:       string(c.State.Phase()),
		USB:         c.State.USBConnected,
		Charging:    c.State.Charging,
		Complete:    c.State.Complete,
		Depleted:    c.State.Depleted,
		VoltageCode: c.Voltage,
		VoltageMV:   logic.Millivolts(c.Voltage, cfg.FullScaleMV),
		Pins: PinsJSON{
			ChargeCurrent: c.Pins.ChargeCurrent,
			ChargeVoltage: c.Pins.ChargeVoltage,
			CircuitPower:  c.Pins.CircuitPower,
			SenseEnable:   c.Pins.SenseEnable,
		},
		TickArmed:     c.TickArmed,
		Ready:         snap.Baselined,
		Fault:         snap.Fault,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Buffered: snap.MQTTBuffered, Broker: cfg.Broker},
		TelemetryLast: telemetryLast,
		Counts: CountsJSON{
			Plugged:   snap.Counts.Plugged,
			Unplugged: snap.Counts.Unplugged,
			Started:   snap.Counts.Started,
			Completed: snap.Counts.Completed,
			Depleted:  snap.Counts.Depleted,
			Recovered: snap.Counts.Recovered,
		},
		Config: ConfigJSON{
			TickMs:      cfg.TickMs,
			HeartbeatMs: cfg.HeartbeatMs,
			Low:         cfg.Thresholds.Low,
			Ceiling:     cfg.Thresholds.Ceiling,
			Full:        cfg.Thresholds.Full,
			Topology:    cfg.Topology.String(),
			FullScaleMV: cfg.FullScaleMV,
			Broker:      cfg.Broker,
			HTTPAddr:    cfg.HTTPAddr,
			SerialPort:  cfg.SerialPort,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
