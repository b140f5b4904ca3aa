package charger

import (
	"context"
	"errors"

	"github.com/sweeney/li-charger/internal/logic"
)

// OnTick samples the battery. Without USB it also clears the charge flags,
// updates the depleted latch, drives circuit power and goes to sleep.
func (c *Controller) OnTick(ctx context.Context) error {
	c.critical(func() {
		c.sleepPending = false
	})

	v, err := c.sample(ctx)
	if errors.Is(err, ErrSampleInterrupted) {
		return nil
	}
	if err != nil {
		return err
	}

	c.critical(func() {
		c.voltage = v
		c.sampled = true
		c.samples++
		c.fresh = true
	})

	if c.hal.ReadUSBPin() {
		return nil
	}

	c.critical(func() {
		c.detach()
		c.state = logic.UpdateDepletion(v, c.state, c.cfg.Thresholds)
		c.setCircuitPower(!c.state.Depleted)
	})
	c.maybeSleep()
	return nil
}

// OnPinChange follows the USB-sense level. A repeated high is a no-op; a
// low stops charging at once and sleeps without waiting for the tick.
func (c *Controller) OnPinChange() {
	var present bool
	c.critical(func() {
		c.sleepPending = false
		if !c.tickArmed {
			c.armTick()
		}

		present = c.hal.ReadUSBPin()
		if present {
			if !c.state.USBConnected {
				c.state.Complete = false
			}
			c.state.USBConnected = true
			return
		}
		c.detach()
	})

	if !present {
		c.maybeSleep()
	}
}

// detach clears the USB-dependent flags and turns the charge pins off.
// Callers hold the critical section.
func (c *Controller) detach() {
	c.state.USBConnected = false
	c.state.Charging = false
	c.state.Complete = false
	c.apply(logic.AllOff)
}

func (c *Controller) apply(cmds logic.PinCommands) {
	switch cmds.ChargeCurrent {
	case logic.PinOn:
		c.hal.SetChargeCurrentPin(true)
		c.pins.ChargeCurrent = true
	case logic.PinOff:
		c.hal.SetChargeCurrentPin(false)
		c.pins.ChargeCurrent = false
	}
	switch cmds.ChargeVoltage {
	case logic.PinOn:
		c.hal.SetChargeVoltagePin(true)
		c.pins.ChargeVoltage = true
	case logic.PinOff:
		c.hal.SetChargeVoltagePin(false)
		c.pins.ChargeVoltage = false
	}
}

func (c *Controller) setCircuitPower(on bool) {
	c.hal.SetCircuitPower(on)
	c.pins.CircuitPower = on
}

func (c *Controller) setSense(on bool) {
	c.hal.SensePowerEnable(on)
	c.pins.SenseEnable = on
}

func (c *Controller) armTick() {
	c.hal.ArmTick(c.cfg.TickPeriod)
	c.tickArmed = true
}
