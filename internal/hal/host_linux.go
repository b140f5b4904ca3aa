//go:build linux && !tinygo

package hal

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"

	"github.com/sweeney/li-charger/internal/ads1x15"
)

// maxADCPolls bounds the ready poller so a dead ADC cannot leak goroutines.
const maxADCPolls = 1000

// Host drives the charger from Linux userspace: GPIO character device lines
// and an ADS1x15 on I2C. Interrupt sources are goroutines that latch pending
// bits.
type Host struct {
	cfg HostConfig

	chip    *gpiocdev.Chip
	usb     *gpiocdev.Line
	circuit *gpiocdev.Line
	current *gpiocdev.Line
	voltage *gpiocdev.Line
	sense   *gpiocdev.Line

	bus i2c.BusCloser
	adc *ads1x15.Device

	irq  *irqLatch
	done chan struct{}

	mu       sync.Mutex
	adcOn    bool
	adcErr   error
	tickStop chan struct{}
}

var _ HAL = (*Host)(nil)

// NewHost opens the GPIO chip, requests every line and opens the ADC.
func NewHost(cfg HostConfig) (*Host, error) {
	h := &Host{
		cfg:  cfg,
		irq:  newIRQLatch(),
		done: make(chan struct{}),
	}
	if h.cfg.ADCPoll <= 0 {
		h.cfg.ADCPoll = time.Millisecond
	}

	chip, err := gpiocdev.NewChip(cfg.Chip, gpiocdev.WithConsumer("li-charger"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	h.chip = chip

	h.usb, err = chip.RequestLine(cfg.USBPin,
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) {
			h.irq.raise(IRQPinChange)
		}))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("request USB pin %d: %w", cfg.USBPin, err)
	}

	outputs := []struct {
		name   string
		offset int
		line   **gpiocdev.Line
	}{
		{"circuit power", cfg.CircuitPowerPin, &h.circuit},
		{"charge current", cfg.ChargeCurrentPin, &h.current},
		{"charge voltage", cfg.ChargeVoltagePin, &h.voltage},
		{"sense enable", cfg.SenseEnablePin, &h.sense},
	}
	for _, o := range outputs {
		if o.offset == NoPin {
			continue
		}
		l, err := chip.RequestLine(o.offset, gpiocdev.AsOutput(0))
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("request %s pin %d: %w", o.name, o.offset, err)
		}
		*o.line = l
	}

	if _, err := host.Init(); err != nil {
		h.Close()
		return nil, fmt.Errorf("init periph host: %w", err)
	}
	h.bus, err = i2creg.Open(cfg.I2CBus)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("open i2c bus %q: %w", cfg.I2CBus, err)
	}
	h.adc, err = ads1x15.New(h.bus, cfg.ADC)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("configure adc: %w", err)
	}

	return h, nil
}

func (h *Host) ReadUSBPin() bool {
	v, err := h.usb.Value()
	if err != nil {
		log.Printf("hal: read USB pin: %v", err)
		return false
	}
	return v == 1
}

func (h *Host) SetCircuitPower(on bool)     { h.set(h.circuit, "circuit power", on) }
func (h *Host) SetChargeCurrentPin(on bool) { h.set(h.current, "charge current", on) }
func (h *Host) SetChargeVoltagePin(on bool) { h.set(h.voltage, "charge voltage", on) }
func (h *Host) SensePowerEnable(on bool)    { h.set(h.sense, "sense enable", on) }

func (h *Host) set(l *gpiocdev.Line, name string, on bool) {
	if l == nil {
		return
	}
	v := 0
	if on {
		v = 1
	}
	if err := l.SetValue(v); err != nil {
		log.Printf("hal: set %s=%d: %v", name, v, err)
	}
}

// ADCEnable and ADCDisable gate reads only; the ADS1x15 powers down on its
// own after each single-shot conversion.
func (h *Host) ADCEnable() {
	h.mu.Lock()
	h.adcOn = true
	h.mu.Unlock()
}

func (h *Host) ADCDisable() {
	h.mu.Lock()
	h.adcOn = false
	h.mu.Unlock()
}

// ADCTrigger starts a conversion and a poller that raises IRQConversion when
// the result is ready. Bus errors are reported by the following ADCRead.
func (h *Host) ADCTrigger() {
	h.mu.Lock()
	h.adcErr = nil
	h.mu.Unlock()

	if err := h.adc.Trigger(); err != nil {
		h.failADC(fmt.Errorf("trigger: %w", err))
		return
	}

	go func() {
		t := time.NewTicker(h.cfg.ADCPoll)
		defer t.Stop()
		for i := 0; i < maxADCPolls; i++ {
			select {
			case <-h.done:
				return
			case <-t.C:
			}
			ok, err := h.adc.Ready()
			if err != nil {
				h.failADC(fmt.Errorf("poll: %w", err))
				return
			}
			if ok {
				h.irq.raise(IRQConversion)
				return
			}
		}
	}()
}

func (h *Host) failADC(err error) {
	h.mu.Lock()
	h.adcErr = err
	h.mu.Unlock()
	h.irq.raise(IRQConversion)
}

func (h *Host) ADCRead() (uint16, error) {
	h.mu.Lock()
	on, adcErr := h.adcOn, h.adcErr
	h.mu.Unlock()

	if !on {
		return 0, fmt.Errorf("adc read while disabled")
	}
	if adcErr != nil {
		return 0, adcErr
	}
	code, err := h.adc.Code10()
	if err != nil {
		return 0, fmt.Errorf("read conversion: %w", err)
	}
	return code, nil
}

func (h *Host) ArmTick(period time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.tickStop != nil {
		close(h.tickStop)
	}
	stop := make(chan struct{})
	h.tickStop = stop

	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-h.done:
				return
			case <-t.C:
				h.irq.raise(IRQTick)
			}
		}
	}()
}

func (h *Host) DisarmTick() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.tickStop != nil {
		close(h.tickStop)
		h.tickStop = nil
	}
}

// EnterDeepSleep blocks until an interrupt is pending. With a Suspender and
// the tick disarmed the machine is suspended first and a USB edge resumes
// it. While the tick is armed the process only idles, since a suspended
// machine cannot run the ticker.
func (h *Host) EnterDeepSleep() {
	if h.irq.peek() != IRQNone {
		return
	}
	if h.cfg.Suspender != nil && !h.tickArmed() {
		if err := h.cfg.Suspender.Suspend(); err != nil {
			log.Printf("hal: suspend: %v", err)
		}
	}
	h.irq.idle(h.done)
}

func (h *Host) tickArmed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tickStop != nil
}

func (h *Host) DisableInterrupts() { h.irq.disable() }
func (h *Host) EnableInterrupts()  { h.irq.enable() }

func (h *Host) Delay(d time.Duration) { time.Sleep(d) }

func (h *Host) WaitInterrupt(ctx context.Context, mask Interrupt) (Interrupt, error) {
	return h.irq.wait(ctx, mask)
}

// Close drives every output low, returns lines to inputs with pull-down
// (matching Pi boot defaults) and releases the chip and the I2C bus.
func (h *Host) Close() error {
	select {
	case <-h.done:
		return nil
	default:
		close(h.done)
	}

	var errs []error
	for _, l := range []*gpiocdev.Line{h.circuit, h.current, h.voltage, h.sense, h.usb} {
		if l == nil {
			continue
		}
		if err := l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure line: %w", err))
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line: %w", err))
		}
	}
	if h.chip != nil {
		if err := h.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if h.bus != nil {
		if err := h.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close i2c bus: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
