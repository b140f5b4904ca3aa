//go:build linux && !tinygo

package hal

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	login1Dest = "org.freedesktop.login1"
	login1Path = dbus.ObjectPath("/org/freedesktop/login1")
	login1Mgr  = "org.freedesktop.login1.Manager"
)

// LogindSuspender suspends the machine through systemd-logind.
type LogindSuspender struct{}

// Suspend asks logind to suspend without an interactive prompt. The call
// returns once the suspend job is queued.
func (LogindSuspender) Suspend() error {
	// SystemBus is a shared connection; it must not be closed.
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("system bus: %w", err)
	}
	obj := conn.Object(login1Dest, login1Path)
	if call := obj.Call(login1Mgr+".Suspend", 0, false); call.Err != nil {
		return fmt.Errorf("login1 suspend: %w", call.Err)
	}
	return nil
}
