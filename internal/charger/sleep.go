package charger

// maybeSleep powers down the sense path and suspends until the next
// interrupt. With the battery depleted and no USB the tick is disarmed so
// only a pin change can wake the controller.
//
// EnterDeepSleep runs directly after the critical section restores
// interrupts. A wake raised inside the section stays latched, so the sleep
// returns at once instead of missing it.
func (c *Controller) maybeSleep() {
	c.critical(func() {
		c.sleepPending = true
		if c.state.Depleted && !c.state.USBConnected && c.tickArmed {
			c.hal.DisarmTick()
			c.tickArmed = false
		}
		c.hal.ADCDisable()
		c.setSense(false)
	})
	c.hal.EnterDeepSleep()

	c.critical(func() {
		c.sleepPending = false
	})
}
