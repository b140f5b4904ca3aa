// Package logic contains the pure charge-control rules for a single-cell charger.
// This package has NO external dependencies (no HAL, MQTT, OS, or time.Sleep).
// Voltages are raw 10-bit ADC codes; time is always injected.
package logic

import (
	"errors"
	"time"
)

// MaxCode is the largest 10-bit ADC code.
const MaxCode = 1023

// Default thresholds in ADC codes (1.1V reference, 43k+12k divider).
const (
	DefaultLow     uint16 = 650 // 3.2V, battery depleted below this
	DefaultCeiling uint16 = 812 // 4.0V, no new charge cycle at or above this
	DefaultFull    uint16 = 853 // 4.2V, charging stops at or above this
)

// DefaultFullScaleMV is the battery voltage represented by code 1024.
const DefaultFullScaleMV = 5045

// Thresholds are the three fixed points of the charge curve.
type Thresholds struct {
	Low     uint16
	Ceiling uint16
	Full    uint16
}

// DefaultThresholds returns the stock 3.2V / 4.0V / 4.2V curve.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: DefaultLow, Ceiling: DefaultCeiling, Full: DefaultFull}
}

var (
	ErrLowAboveCeiling  = errors.New("logic: low threshold must be below charge ceiling")
	ErrCeilingAboveFull = errors.New("logic: charge ceiling must not exceed full threshold")
	ErrAboveRange       = errors.New("logic: threshold exceeds 10-bit ADC range")
)

// Validate reports whether low < ceiling <= full and all fit in 10 bits.
func (t Thresholds) Validate() error {
	if t.Low >= t.Ceiling {
		return ErrLowAboveCeiling
	}
	if t.Ceiling > t.Full {
		return ErrCeilingAboveFull
	}
	if t.Full > MaxCode {
		return ErrAboveRange
	}
	return nil
}

// Topology selects how many charge pins the board has.
type Topology int

const (
	// SingleStage drives one charge-enable pin until the full threshold.
	SingleStage Topology = iota
	// TwoStage drives a constant-current pin below the ceiling and a
	// constant-voltage pin between ceiling and full.
	TwoStage
)

func (t Topology) String() string {
	if t == TwoStage {
		return "two-stage"
	}
	return "single-stage"
}

// ChargeState is the shared flag set mutated by the interrupt handlers.
type ChargeState struct {
	USBConnected   bool
	Charging       bool // invariant: Charging implies USBConnected
	Complete       bool // latched at full, cleared by a USB transition
	Depleted       bool
	ConversionDone bool
}

// Phase is the coarse state machine position derived from ChargeState.
type Phase string

const (
	PhaseIdle       Phase = "IDLE"
	PhaseUSBPresent Phase = "USB_PRESENT"
	PhaseCharging   Phase = "CHARGING"
	PhaseComplete   Phase = "COMPLETE"
)

// Phase derives the state machine position.
func (s ChargeState) Phase() Phase {
	switch {
	case !s.USBConnected:
		return PhaseIdle
	case s.Charging:
		return PhaseCharging
	case s.Complete:
		return PhaseComplete
	default:
		return PhaseUSBPresent
	}
}

// PinCommand is a requested change to one output pin.
type PinCommand int

const (
	PinKeep PinCommand = iota
	PinOn
	PinOff
)

// PinCommands is the side-effect half of an evaluation, applied by the caller.
type PinCommands struct {
	ChargeCurrent PinCommand
	ChargeVoltage PinCommand
}

// AllOff turns every charge pin off.
var AllOff = PinCommands{ChargeCurrent: PinOff, ChargeVoltage: PinOff}

// Pins records the last commanded level of each output.
type Pins struct {
	ChargeCurrent bool
	ChargeVoltage bool
	CircuitPower  bool
	SenseEnable   bool
}

// Snapshot is a value copy of the controller for telemetry consumers.
type Snapshot struct {
	State     ChargeState
	Voltage   uint16 // last sampled code
	Sampled   bool   // at least one sample has completed
	Samples   uint64 // completed samples since start
	Pins      Pins
	TickArmed bool
	Sleeping  bool
}

// EventType represents a charger state transition.
type EventType string

const (
	EventUSBPlugged     EventType = "USB_PLUGGED"
	EventUSBUnplugged   EventType = "USB_UNPLUGGED"
	EventChargeStarted  EventType = "CHARGE_STARTED"
	EventChargeStopped  EventType = "CHARGE_STOPPED"
	EventChargeComplete EventType = "CHARGE_COMPLETE"
	EventStageCC        EventType = "STAGE_CC"
	EventStageCV        EventType = "STAGE_CV"
	EventDepleted       EventType = "DEPLETED"
	EventRecovered      EventType = "RECOVERED"
)

// Event is a transition to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Snapshot  Snapshot
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	Plugged   int
	Unplugged int
	Started   int
	Completed int
	Depleted  int
	Recovered int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}
