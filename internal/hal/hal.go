// Package hal is the hardware boundary of the charger core.
// The fake implementation allows testing without hardware; the host
// implementation drives Linux GPIO character devices and an I2C ADC; the
// machine implementation runs under TinyGo on a microcontroller.
package hal

import (
	"context"
	"time"
)

// Interrupt is a bit set of interrupt sources.
type Interrupt uint8

const (
	IRQTick Interrupt = 1 << iota
	IRQPinChange
	IRQConversion

	IRQNone Interrupt = 0
	IRQAll            = IRQTick | IRQPinChange | IRQConversion
)

func (i Interrupt) String() string {
	switch i {
	case IRQTick:
		return "tick"
	case IRQPinChange:
		return "pin-change"
	case IRQConversion:
		return "conversion"
	case IRQNone:
		return "none"
	}
	return "mixed"
}

// Highest returns the highest-priority source in the set:
// pin change, then conversion complete, then tick.
func (i Interrupt) Highest() Interrupt {
	for _, irq := range []Interrupt{IRQPinChange, IRQConversion, IRQTick} {
		if i&irq != 0 {
			return irq
		}
	}
	return IRQNone
}

// HAL is everything the charge core needs from the board.
type HAL interface {
	// ReadUSBPin returns the instantaneous USB-sense level.
	ReadUSBPin() bool

	SetCircuitPower(on bool)
	SetChargeCurrentPin(on bool)
	// SetChargeVoltagePin is a no-op on single-stage boards.
	SetChargeVoltagePin(on bool)
	// SensePowerEnable gates the battery voltage divider.
	SensePowerEnable(on bool)

	ADCEnable()
	ADCDisable()
	// ADCTrigger starts one conversion; completion raises IRQConversion.
	ADCTrigger()
	// ADCRead returns the last conversion as a 10-bit code.
	ADCRead() (uint16, error)

	// ArmTick starts the periodic application tick; DisarmTick stops it.
	ArmTick(period time.Duration)
	DisarmTick()

	// EnterDeepSleep suspends until any interrupt is pending. It returns
	// immediately if one is already pending.
	EnterDeepSleep()

	DisableInterrupts()
	EnableInterrupts()

	Delay(d time.Duration)

	// WaitInterrupt blocks until a source in mask is pending, clears it and
	// returns it. Sources outside mask stay pending.
	WaitInterrupt(ctx context.Context, mask Interrupt) (Interrupt, error)
}
