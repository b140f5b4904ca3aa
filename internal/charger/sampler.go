package charger

import (
	"context"
	"fmt"

	"github.com/sweeney/li-charger/internal/hal"
)

// sample powers the divider, runs one conversion and powers it down again.
// The wait suspends on the conversion interrupt and is bounded by
// ConversionTimeout.
func (c *Controller) sample(ctx context.Context) (uint16, error) {
	c.critical(func() {
		c.setSense(true)
	})
	defer c.critical(func() {
		c.setSense(false)
	})

	c.hal.ADCEnable()
	c.hal.Delay(c.cfg.SettleDelay)

	c.critical(func() {
		c.state.ConversionDone = false
	})
	c.hal.ADCTrigger()

	wctx, cancel := context.WithTimeout(ctx, c.cfg.ConversionTimeout)
	defer cancel()

	irq, err := c.hal.WaitInterrupt(wctx, hal.IRQConversion|hal.IRQPinChange)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, ErrConversionStuck
	}

	if irq == hal.IRQPinChange {
		c.OnPinChange()
		return 0, ErrSampleInterrupted
	}
	c.onConversionComplete()

	code, err := c.hal.ADCRead()
	if err != nil {
		return 0, fmt.Errorf("charger: read adc: %w", err)
	}
	c.critical(func() {
		c.state.ConversionDone = false
	})
	return code, nil
}

// Measure takes one out-of-band sample without touching the charge state.
// It is meant for diagnostics before Start.
func (c *Controller) Measure(ctx context.Context) (uint16, error) {
	return c.sample(ctx)
}
