//go:build !tinygo

package hal

import (
	"time"

	"github.com/sweeney/li-charger/internal/ads1x15"
)

// NoPin marks an optional output line as absent.
const NoPin = -1

// HostConfig describes the board wiring for the Linux host HAL.
type HostConfig struct {
	Chip string // gpiochip name, e.g. "gpiochip0"

	// Line offsets on Chip (BCM numbering on a Raspberry Pi).
	USBPin           int
	CircuitPowerPin  int
	ChargeCurrentPin int
	ChargeVoltagePin int // NoPin on single-stage boards
	SenseEnablePin   int

	I2CBus string // "" opens the first available bus
	ADC    ads1x15.Config

	// ADCPoll is the interval between conversion-ready polls.
	ADCPoll time.Duration

	// Suspender, if set, suspends the machine on deep sleep while the tick
	// is disarmed.
	Suspender Suspender
}

// DefaultHostConfig returns the wiring of the reference board.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		Chip:             "gpiochip0",
		USBPin:           17,
		CircuitPowerPin:  27,
		ChargeCurrentPin: 22,
		ChargeVoltagePin: NoPin,
		SenseEnablePin:   23,
		ADC: ads1x15.Config{
			Address: ads1x15.AddressDefault,
			Variant: ads1x15.ADS1015,
			Mux:     ads1x15.MuxAIN0,
			Gain:    ads1x15.Gain4096mV,
		},
		ADCPoll: time.Millisecond,
	}
}

// Suspender puts the whole machine to sleep. Suspend returns after resume.
type Suspender interface {
	Suspend() error
}
