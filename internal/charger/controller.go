// Package charger runs the interrupt-driven charge core: the periodic-tick
// and pin-change handlers, the voltage sampler, the sleep manager and the
// dispatcher loop that ties them to a hal.HAL.
//
// All methods except Snapshot belong to the single dispatcher goroutine.
package charger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sweeney/li-charger/internal/hal"
	"github.com/sweeney/li-charger/internal/logic"
)

var (
	// ErrConversionStuck means the ADC never signalled completion within
	// ConversionTimeout. It is fatal; the platform is expected to reset.
	ErrConversionStuck = errors.New("charger: adc conversion did not complete")

	// ErrSampleInterrupted means a USB pin change arrived while a
	// conversion was in flight. The pin-change handler has already run and
	// the partial sample was discarded.
	ErrSampleInterrupted = errors.New("charger: sample interrupted by pin change")
)

// Config holds the charge curve and timing.
type Config struct {
	Thresholds        logic.Thresholds
	Topology          logic.Topology
	TickPeriod        time.Duration
	SettleDelay       time.Duration
	ConversionTimeout time.Duration
}

// DefaultConfig returns the reference board's settings.
func DefaultConfig() Config {
	return Config{
		Thresholds:        logic.DefaultThresholds(),
		Topology:          logic.SingleStage,
		TickPeriod:        2 * time.Second,
		SettleDelay:       100 * time.Microsecond,
		ConversionTimeout: 50 * time.Millisecond,
	}
}

// Validate checks the thresholds and timings.
func (c Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.TickPeriod <= 0 {
		return errors.New("charger: tick period must be positive")
	}
	if c.SettleDelay < 0 {
		return errors.New("charger: settle delay must not be negative")
	}
	if c.ConversionTimeout <= 0 {
		return errors.New("charger: conversion timeout must be positive")
	}
	return nil
}

// Controller owns the charge state and drives the HAL.
type Controller struct {
	hal hal.HAL
	cfg Config

	// mu guards everything below for Snapshot readers. Writers hold it only
	// inside interrupt-masked sections.
	mu           sync.RWMutex
	state        logic.ChargeState
	voltage      uint16
	sampled      bool
	samples      uint64
	fresh        bool
	pins         logic.Pins
	tickArmed    bool
	sleepPending bool

	observer func(logic.Snapshot)
}

// New creates a controller. Flags start at their zero values; call Start
// before Run.
func New(h hal.HAL, cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{hal: h, cfg: cfg}, nil
}

// Observe registers fn to receive a snapshot after every dispatched
// interrupt. fn runs on the dispatcher goroutine and must not block.
func (c *Controller) Observe(fn func(logic.Snapshot)) {
	c.observer = fn
}

// Snapshot returns a copy of the current state. Safe from any goroutine.
func (c *Controller) Snapshot() logic.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return logic.Snapshot{
		State:     c.state,
		Voltage:   c.voltage,
		Sampled:   c.sampled,
		Samples:   c.samples,
		Pins:      c.pins,
		TickArmed: c.tickArmed,
		Sleeping:  c.sleepPending,
	}
}

// critical runs fn with interrupts masked and the state lock held.
func (c *Controller) critical(fn func()) {
	hal.Critical(c.hal, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		fn()
	})
}

// Start arms the tick and, if USB is already present, runs the pin-change
// handler so a board booted on its charger starts a cycle.
func (c *Controller) Start() {
	c.critical(func() {
		c.armTick()
	})
	if c.hal.ReadUSBPin() {
		c.OnPinChange()
	}
}

// Step waits for one interrupt, dispatches it and applies the charge
// decision for any fresh sample.
func (c *Controller) Step(ctx context.Context) error {
	irq, err := c.hal.WaitInterrupt(ctx, hal.IRQAll)
	if err != nil {
		return err
	}

	switch irq {
	case hal.IRQPinChange:
		c.OnPinChange()
	case hal.IRQConversion:
		c.onConversionComplete()
	case hal.IRQTick:
		if err := c.OnTick(ctx); err != nil {
			return err
		}
	}

	c.react()

	if c.observer != nil {
		c.observer(c.Snapshot())
	}
	return nil
}

// Run dispatches interrupts until ctx is done or a fatal error occurs.
func (c *Controller) Run(ctx context.Context) error {
	for {
		if err := c.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// react consumes a fresh sample. With USB present it evaluates the charge
// curve, applies the pin commands and drives circuit power.
func (c *Controller) react() {
	c.critical(func() {
		if !c.fresh {
			return
		}
		c.fresh = false
		if !c.state.USBConnected {
			return
		}
		st, cmds := logic.Evaluate(c.voltage, c.state, c.cfg.Thresholds, c.cfg.Topology)
		c.state = st
		c.apply(cmds)
		c.setCircuitPower(!c.state.Depleted)
	})
}

func (c *Controller) onConversionComplete() {
	c.critical(func() {
		c.state.ConversionDone = true
	})
}
