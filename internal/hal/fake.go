package hal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Fake is a test double that returns scripted ADC codes and records every
// output. Raise and SetUSB may be called from another goroutine; everything
// else belongs to the goroutine driving the controller.
type Fake struct {
	// Codes contains scripted conversion results. Each ADCRead consumes the
	// next code; once exhausted the last code repeats.
	Codes []uint16
	index int

	// ReadError, if set, will be returned by ADCRead.
	ReadError error

	// StuckADC suppresses the completion interrupt after ADCTrigger.
	StuckADC bool

	// PreemptOnTrigger makes ADCTrigger behave as if the USB pin changed to
	// PreemptLevel before the conversion finished.
	PreemptOnTrigger bool
	PreemptLevel     bool

	CircuitPower  bool
	ChargeCurrent bool
	ChargeVoltage bool
	SenseOn       bool
	ADCOn         bool
	TickArmed     bool
	TickPeriod    time.Duration

	Conversions int
	DeepSleeps  int
	Delayed     time.Duration

	// Ops is the ordered log of control operations.
	Ops []string

	// Depth is the current critical-section nesting; MaxDepth the deepest seen.
	Depth    int
	MaxDepth int

	mu      sync.Mutex
	usb     bool
	pending Interrupt
	notify  chan struct{}
}

// NewFake creates a Fake with the given scripted ADC codes.
func NewFake(codes ...uint16) *Fake {
	return &Fake{
		Codes:  codes,
		notify: make(chan struct{}, 1),
	}
}

var _ HAL = (*Fake)(nil)

// SetUSB sets the level ReadUSBPin reports.
func (f *Fake) SetUSB(level bool) {
	f.mu.Lock()
	f.usb = level
	f.mu.Unlock()
}

// Plug sets the USB level and raises the pin-change interrupt, like the
// edge detector would.
func (f *Fake) Plug(level bool) {
	f.SetUSB(level)
	f.Raise(IRQPinChange)
}

// Raise latches an interrupt as pending.
func (f *Fake) Raise(irq Interrupt) {
	f.mu.Lock()
	f.pending |= irq
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Pending returns the latched interrupt set.
func (f *Fake) Pending() Interrupt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

func (f *Fake) ReadUSBPin() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usb
}

func (f *Fake) SetCircuitPower(on bool) {
	f.CircuitPower = on
	f.op("circuit", on)
}

func (f *Fake) SetChargeCurrentPin(on bool) {
	f.ChargeCurrent = on
	f.op("current", on)
}

func (f *Fake) SetChargeVoltagePin(on bool) {
	f.ChargeVoltage = on
	f.op("voltage", on)
}

func (f *Fake) SensePowerEnable(on bool) {
	f.SenseOn = on
	f.op("sense", on)
}

func (f *Fake) ADCEnable() {
	f.ADCOn = true
	f.Ops = append(f.Ops, "adc_enable")
}

func (f *Fake) ADCDisable() {
	f.ADCOn = false
	f.Ops = append(f.Ops, "adc_disable")
}

// ADCTrigger starts a conversion and, unless StuckADC is set, raises the
// completion interrupt.
func (f *Fake) ADCTrigger() {
	f.Ops = append(f.Ops, "adc_trigger")
	if f.PreemptOnTrigger {
		f.PreemptOnTrigger = false
		f.Plug(f.PreemptLevel)
	}
	if !f.StuckADC {
		f.Raise(IRQConversion)
	}
}

// ADCRead returns the next scripted code.
func (f *Fake) ADCRead() (uint16, error) {
	f.Ops = append(f.Ops, "adc_read")
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	if !f.ADCOn {
		return 0, errors.New("fake: adc read while disabled")
	}
	if len(f.Codes) == 0 {
		return 0, errors.New("no codes configured")
	}

	code := f.Codes[f.index]
	if f.index < len(f.Codes)-1 {
		f.index++
	}
	f.Conversions++
	return code, nil
}

func (f *Fake) ArmTick(period time.Duration) {
	f.TickArmed = true
	f.TickPeriod = period
	f.Ops = append(f.Ops, "tick_arm")
}

func (f *Fake) DisarmTick() {
	f.TickArmed = false
	f.Ops = append(f.Ops, "tick_disarm")
}

// EnterDeepSleep records the sleep and returns at once, as if the next
// interrupt had already arrived.
func (f *Fake) EnterDeepSleep() {
	f.DeepSleeps++
	if f.Depth != 0 {
		f.Ops = append(f.Ops, "deep_sleep_masked")
		return
	}
	f.Ops = append(f.Ops, "deep_sleep")
}

func (f *Fake) DisableInterrupts() {
	f.Depth++
	if f.Depth > f.MaxDepth {
		f.MaxDepth = f.Depth
	}
	f.Ops = append(f.Ops, "disable_interrupts")
}

func (f *Fake) EnableInterrupts() {
	f.Depth--
	f.Ops = append(f.Ops, "enable_interrupts")
}

func (f *Fake) Delay(d time.Duration) {
	f.Delayed += d
	f.Ops = append(f.Ops, "delay")
}

// WaitInterrupt returns the highest-priority pending source in mask, or
// blocks until one is raised or ctx is done.
func (f *Fake) WaitInterrupt(ctx context.Context, mask Interrupt) (Interrupt, error) {
	for {
		f.mu.Lock()
		irq := (f.pending & mask).Highest()
		f.pending &^= irq
		f.mu.Unlock()
		if irq != IRQNone {
			return irq, nil
		}

		select {
		case <-ctx.Done():
			return IRQNone, ctx.Err()
		case <-f.notify:
		}
	}
}

// ResetOps clears the operation log.
func (f *Fake) ResetOps() {
	f.Ops = nil
}

func (f *Fake) op(name string, on bool) {
	f.Ops = append(f.Ops, fmt.Sprintf("%s=%s", name, onOff(on)))
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
