//go:build !linux && !tinygo

package hal

import (
	"context"
	"errors"
	"time"
)

var errUnsupported = errors.New("hal: host not supported on this platform (requires Linux)")

// Host is not available on non-Linux platforms.
type Host struct{}

// NewHost returns an error on non-Linux platforms.
func NewHost(HostConfig) (*Host, error) {
	return nil, errUnsupported
}

func (h *Host) ReadUSBPin() bool         { return false }
func (h *Host) SetCircuitPower(bool)     {}
func (h *Host) SetChargeCurrentPin(bool) {}
func (h *Host) SetChargeVoltagePin(bool) {}
func (h *Host) SensePowerEnable(bool)    {}
func (h *Host) ADCEnable()               {}
func (h *Host) ADCDisable()              {}
func (h *Host) ADCTrigger()              {}
func (h *Host) ADCRead() (uint16, error) { return 0, errUnsupported }
func (h *Host) ArmTick(time.Duration)    {}
func (h *Host) DisarmTick()              {}
func (h *Host) EnterDeepSleep()          {}
func (h *Host) DisableInterrupts()       {}
func (h *Host) EnableInterrupts()        {}
func (h *Host) Delay(d time.Duration)    { time.Sleep(d) }
func (h *Host) Close() error             { return nil }

func (h *Host) WaitInterrupt(ctx context.Context, _ Interrupt) (Interrupt, error) {
	<-ctx.Done()
	return IRQNone, ctx.Err()
}

// LogindSuspender is not available on non-Linux platforms.
type LogindSuspender struct{}

func (LogindSuspender) Suspend() error { return errUnsupported }
