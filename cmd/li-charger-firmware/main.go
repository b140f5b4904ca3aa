//go:build tinygo

// Command li-charger-firmware runs the charge controller directly on a
// microcontroller under TinyGo.
package main

import (
	"context"
	"machine"
	"time"

	"github.com/sweeney/li-charger/internal/charger"
	"github.com/sweeney/li-charger/internal/hal"
)

// restartDelay is how long the board idles with every output low after a
// fatal controller error before starting again from cleared flags.
const restartDelay = 5 * time.Second

var pins = hal.MachineConfig{
	USB:           machine.D2,
	CircuitPower:  machine.D3,
	ChargeCurrent: machine.D4,
	ChargeVoltage: machine.NoPin,
	SenseEnable:   machine.D5,
	Sense:         machine.ADC0,
}

func main() {
	// The pin-change callback can be registered once per pin, so the machine
	// outlives controller restarts.
	m, err := hal.NewMachine(pins)
	if err != nil {
		for {
			println("li-charger: init:", err.Error())
			time.Sleep(restartDelay)
		}
	}

	err = charger.Supervise(context.Background(), m, charger.DefaultConfig(), m.Reset, func(err error) {
		println("li-charger: fatal:", err.Error())
	}, restartDelay)
	println("li-charger: stopped:", err.Error())
}
