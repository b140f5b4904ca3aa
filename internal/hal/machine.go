//go:build tinygo

package hal

import (
	"context"
	"machine"
	"runtime/interrupt"
	"runtime/volatile"
	"time"
)

// idlePoll is how often blocked waits re-check the pending register. The
// scheduler sleeps the core in between.
const idlePoll = 500 * time.Microsecond

// MachineConfig is the microcontroller pin map. Use machine.NoPin for an
// absent charge-voltage pin.
type MachineConfig struct {
	USB           machine.Pin
	CircuitPower  machine.Pin
	ChargeCurrent machine.Pin
	ChargeVoltage machine.Pin
	SenseEnable   machine.Pin
	Sense         machine.Pin // analog input behind the divider
}

// Machine runs the charger on a TinyGo target. The pin-change ISR and the
// tick goroutine only set bits in pending.
type Machine struct {
	cfg MachineConfig
	adc machine.ADC

	pending volatile.Register8
	state   interrupt.State

	adcOn    bool
	code     uint16
	tickStop chan struct{}
}

var _ HAL = (*Machine)(nil)

func NewMachine(cfg MachineConfig) (*Machine, error) {
	m := &Machine{cfg: cfg}

	cfg.USB.Configure(machine.PinConfig{Mode: machine.PinInputPulldown})
	for _, p := range []machine.Pin{cfg.CircuitPower, cfg.ChargeCurrent, cfg.ChargeVoltage, cfg.SenseEnable} {
		if p == machine.NoPin {
			continue
		}
		p.Configure(machine.PinConfig{Mode: machine.PinOutput})
		p.Low()
	}

	machine.InitADC()
	m.adc = machine.ADC{Pin: cfg.Sense}
	m.adc.Configure(machine.ADCConfig{})

	if err := cfg.USB.SetInterrupt(machine.PinToggle, func(machine.Pin) {
		m.raise(IRQPinChange)
	}); err != nil {
		return nil, err
	}
	return m, nil
}

// raise is safe from ISR context.
func (m *Machine) raise(irq Interrupt) {
	s := interrupt.Disable()
	m.pending.SetBits(uint8(irq))
	interrupt.Restore(s)
}

func (m *Machine) take(mask Interrupt) Interrupt {
	s := interrupt.Disable()
	irq := (Interrupt(m.pending.Get()) & mask).Highest()
	m.pending.ClearBits(uint8(irq))
	interrupt.Restore(s)
	return irq
}

func (m *Machine) ReadUSBPin() bool { return m.cfg.USB.Get() }

func (m *Machine) SetCircuitPower(on bool)     { set(m.cfg.CircuitPower, on) }
func (m *Machine) SetChargeCurrentPin(on bool) { set(m.cfg.ChargeCurrent, on) }
func (m *Machine) SetChargeVoltagePin(on bool) { set(m.cfg.ChargeVoltage, on) }
func (m *Machine) SensePowerEnable(on bool)    { set(m.cfg.SenseEnable, on) }

func set(p machine.Pin, on bool) {
	if p != machine.NoPin {
		p.Set(on)
	}
}

func (m *Machine) ADCEnable()  { m.adcOn = true }
func (m *Machine) ADCDisable() { m.adcOn = false }

// ADCTrigger converts synchronously; the generic machine.ADC has no
// completion interrupt, so the interrupt is raised once the result is held.
func (m *Machine) ADCTrigger() {
	if !m.adcOn {
		return
	}
	m.code = m.adc.Get() >> 6
	m.raise(IRQConversion)
}

func (m *Machine) ADCRead() (uint16, error) {
	return m.code, nil
}

func (m *Machine) ArmTick(period time.Duration) {
	m.DisarmTick()
	stop := make(chan struct{})
	m.tickStop = stop
	go func() {
		for {
			time.Sleep(period)
			select {
			case <-stop:
				return
			default:
				m.raise(IRQTick)
			}
		}
	}()
}

func (m *Machine) DisarmTick() {
	if m.tickStop != nil {
		close(m.tickStop)
		m.tickStop = nil
	}
}

func (m *Machine) EnterDeepSleep() {
	for m.pending.Get() == 0 {
		time.Sleep(idlePoll)
	}
}

func (m *Machine) DisableInterrupts() { m.state = interrupt.Disable() }
func (m *Machine) EnableInterrupts()  { interrupt.Restore(m.state) }

func (m *Machine) Delay(d time.Duration) { time.Sleep(d) }

func (m *Machine) WaitInterrupt(ctx context.Context, mask Interrupt) (Interrupt, error) {
	for {
		if irq := m.take(mask); irq != IRQNone {
			return irq, nil
		}
		select {
		case <-ctx.Done():
			return IRQNone, ctx.Err()
		default:
		}
		time.Sleep(idlePoll)
	}
}

// Reset returns the board to its power-on state for a controller restart:
// outputs low, ADC off, tick stopped and nothing pending. The pin-change
// callback stays registered.
func (m *Machine) Reset() {
	for _, p := range []machine.Pin{m.cfg.ChargeCurrent, m.cfg.ChargeVoltage, m.cfg.CircuitPower, m.cfg.SenseEnable} {
		set(p, false)
	}
	m.adcOn = false
	m.DisarmTick()
	s := interrupt.Disable()
	m.pending.Set(0)
	interrupt.Restore(s)
}
