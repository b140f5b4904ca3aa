package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/sweeney/li-charger/internal/charger"
	"github.com/sweeney/li-charger/internal/hal"
	"github.com/sweeney/li-charger/internal/logic"
	"github.com/sweeney/li-charger/internal/mqtt"
	"github.com/sweeney/li-charger/internal/status"
)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// recordingSink collects telemetry samples.
type recordingSink struct {
	samples []logic.Snapshot
	last    time.Time
	err     error
}

func (s *recordingSink) Sample(t time.Time, snap logic.Snapshot) error {
	s.samples = append(s.samples, snap)
	if s.err == nil {
		s.last = t
	}
	return s.err
}

func (s *recordingSink) Last() time.Time {
	return s.last
}

// loopRig holds the inputs and collaborators of one runLoop invocation.
type loopRig struct {
	pub       *mqtt.FakePublisher
	tracker   *status.Tracker
	sink      sampleSink
	notified  []string
	heartbeat time.Duration
	clock     func() time.Time
	initial   *logic.Snapshot

	snaps chan logic.Snapshot
	fatal chan error
	tick  chan time.Time
	sig   chan os.Signal
	done  chan error
}

func newLoopRig(step time.Duration) *loopRig {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &loopRig{
		pub:   mqtt.NewFakePublisher(),
		clock: fakeClock(start, step),
		snaps: make(chan logic.Snapshot),
		fatal: make(chan error, 1),
		tick:  make(chan time.Time),
		sig:   make(chan os.Signal, 1),
		done:  make(chan error, 1),
	}
}

func (r *loopRig) start() {
	go func() {
		r.done <- runLoop(r.pub, r.pub, r.tracker, r.sink, func(s string) { r.notified = append(r.notified, s) },
			r.heartbeat, r.clock, r.initial, r.snaps, r.fatal, r.tick, r.sig)
	}()
}

func (r *loopRig) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("runLoop did not return")
		return nil
	}
}

// runSnapshots feeds snaps and nTicks housekeeping ticks, then signal.
func runSnapshots(t *testing.T, r *loopRig, snaps []logic.Snapshot, nTicks int, signal os.Signal) error {
	t.Helper()
	r.start()
	for _, s := range snaps {
		r.snaps <- s
	}
	for i := 0; i < nTicks; i++ {
		r.tick <- time.Time{}
	}
	r.sig <- signal
	return r.wait(t)
}

func state(usb, charging, complete, depleted bool) logic.ChargeState {
	return logic.ChargeState{USBConnected: usb, Charging: charging, Complete: complete, Depleted: depleted}
}

func TestRunLoopNoEventsAtBaseline(t *testing.T) {
	r := newLoopRig(time.Second)
	snaps := []logic.Snapshot{
		{State: state(true, true, false, false), Voltage: 700, Sampled: true, Samples: 1},
		{State: state(true, true, false, false), Voltage: 701, Sampled: true, Samples: 2},
	}

	if err := runSnapshots(t, r, snaps, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(r.pub.Events) != 0 {
		t.Errorf("expected 0 charger events, got %d", len(r.pub.Events))
	}
	if len(r.pub.SystemEvents) != 1 || r.pub.SystemEvents[0].Event != "SHUTDOWN" {
		t.Fatalf("expected a single SHUTDOWN event, got %+v", r.pub.SystemEvents)
	}
}

func TestRunLoopPublishesTransitions(t *testing.T) {
	r := newLoopRig(time.Second)
	snaps := []logic.Snapshot{
		{State: state(false, false, false, false), Voltage: 700, Sampled: true, Samples: 1},
		{State: state(true, false, false, false), Voltage: 700, Sampled: true, Samples: 1},
		{State: state(true, true, false, false), Voltage: 700, Sampled: true, Samples: 2},
		{State: state(true, false, true, false), Voltage: 860, Sampled: true, Samples: 3},
		{State: state(false, false, false, false), Voltage: 850, Sampled: true, Samples: 3},
	}

	if err := runSnapshots(t, r, snaps, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	want := []logic.EventType{
		logic.EventUSBPlugged,
		logic.EventChargeStarted,
		logic.EventChargeComplete,
		logic.EventUSBUnplugged,
	}
	if len(r.pub.Events) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(r.pub.Events), r.pub.Events)
	}
	for i, w := range want {
		if r.pub.Events[i].Type != w {
			t.Errorf("event %d: expected %s, got %s", i, w, r.pub.Events[i].Type)
		}
	}
	if r.pub.Events[2].Snapshot.Voltage != 860 {
		t.Errorf("expected CHARGE_COMPLETE to carry voltage 860, got %d", r.pub.Events[2].Snapshot.Voltage)
	}
}

func TestRunLoopTelemetryOncePerSample(t *testing.T) {
	r := newLoopRig(time.Second)
	sink := &recordingSink{}
	r.sink = sink
	snaps := []logic.Snapshot{
		{Voltage: 700, Sampled: true, Samples: 1},
		{State: state(true, false, false, false), Voltage: 700, Sampled: true, Samples: 1},
		{State: state(true, true, false, false), Voltage: 705, Sampled: true, Samples: 2},
	}

	if err := runSnapshots(t, r, snaps, 0, syscall.SIGINT); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(sink.samples) != 2 {
		t.Fatalf("expected 2 telemetry samples, got %d", len(sink.samples))
	}
	if sink.samples[1].Voltage != 705 {
		t.Errorf("expected second sample 705, got %d", sink.samples[1].Voltage)
	}
}

func TestRunLoopTelemetryErrorIsNotFatal(t *testing.T) {
	r := newLoopRig(time.Second)
	r.sink = &recordingSink{err: errors.New("port gone")}
	snaps := []logic.Snapshot{{Voltage: 700, Sampled: true, Samples: 1}}

	if err := runSnapshots(t, r, snaps, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	// Clock calls: start t0, snapshot t1 (+5m), ticks t2 (+10m) and t3 (+15m).
	// The heartbeat is due once 15m have passed since start.
	r := newLoopRig(5 * time.Minute)
	r.heartbeat = 15 * time.Minute
	r.tracker = status.NewTracker(time.Now(), status.Config{})
	snaps := []logic.Snapshot{{Voltage: 700, Sampled: true, Samples: 1}}

	if err := runSnapshots(t, r, snaps, 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	var heartbeats, shutdowns int
	for _, se := range r.pub.SystemEvents {
		switch se.Event {
		case "HEARTBEAT":
			heartbeats++
			if se.Retained {
				t.Error("HEARTBEAT should not be retained")
			}
			var parsed status.StatusJSON
			if err := json.Unmarshal(se.RawPayload, &parsed); err != nil {
				t.Fatalf("heartbeat payload: %v", err)
			}
			if parsed.Status.Event != "HEARTBEAT" {
				t.Errorf("expected event HEARTBEAT in payload, got %q", parsed.Status.Event)
			}
		case "SHUTDOWN":
			shutdowns++
		}
	}
	if heartbeats != 1 {
		t.Errorf("expected 1 HEARTBEAT event, got %d", heartbeats)
	}
	if shutdowns != 1 {
		t.Errorf("expected 1 SHUTDOWN event, got %d", shutdowns)
	}
}

func TestRunLoopNoHeartbeatBeforeBaseline(t *testing.T) {
	r := newLoopRig(time.Hour)
	r.heartbeat = time.Minute

	if err := runSnapshots(t, r, nil, 3, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	for _, se := range r.pub.SystemEvents {
		if se.Event == "HEARTBEAT" {
			t.Error("heartbeat published before the first snapshot")
		}
	}
}

func TestRunLoopPingsWatchdogOnTick(t *testing.T) {
	r := newLoopRig(time.Second)

	if err := runSnapshots(t, r, nil, 3, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if len(r.notified) != 3 {
		t.Fatalf("expected 3 notifications, got %v", r.notified)
	}
	for _, n := range r.notified {
		if n != daemon.SdNotifyWatchdog {
			t.Errorf("expected %q, got %q", daemon.SdNotifyWatchdog, n)
		}
	}
}

func TestRunLoopPublishError(t *testing.T) {
	r := newLoopRig(time.Second)
	r.pub.PublishError = fmt.Errorf("broker unavailable")
	snaps := []logic.Snapshot{
		{Voltage: 700, Sampled: true, Samples: 1},
		{State: state(true, false, false, false), Voltage: 700, Sampled: true, Samples: 1},
	}

	if err := runSnapshots(t, r, snaps, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(r.pub.Events) != 0 {
		t.Errorf("expected 0 recorded events (publish failed), got %d", len(r.pub.Events))
	}
	if len(r.pub.SystemEvents) != 1 || r.pub.SystemEvents[0].Event != "SHUTDOWN" {
		t.Error("expected SHUTDOWN system event despite publish errors")
	}
}

func TestRunLoopShutdownSignalNames(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			r := newLoopRig(time.Second)
			r.tracker = status.NewTracker(time.Now(), status.Config{})

			if err := runSnapshots(t, r, nil, 0, tt.sig); err != nil {
				t.Fatalf("runLoop returned error: %v", err)
			}
			se := r.pub.SystemEvents[0]
			if se.Reason != tt.want {
				t.Errorf("expected reason %s, got %s", tt.want, se.Reason)
			}
			if !se.Retained {
				t.Error("SHUTDOWN should be retained")
			}
			if len(se.RawPayload) == 0 {
				t.Error("expected status payload on SHUTDOWN")
			}
		})
	}
}

func TestRunLoopFaultStopsLoop(t *testing.T) {
	r := newLoopRig(time.Second)
	r.tracker = status.NewTracker(time.Now(), status.Config{})
	r.pub.Connected = true
	r.start()

	r.snaps <- logic.Snapshot{Voltage: 700, Sampled: true, Samples: 1}
	r.fatal <- charger.ErrConversionStuck

	err := r.wait(t)
	if !errors.Is(err, charger.ErrConversionStuck) {
		t.Fatalf("expected ErrConversionStuck, got %v", err)
	}

	if len(r.pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(r.pub.SystemEvents))
	}
	se := r.pub.SystemEvents[0]
	if se.Event != "FAULT" || se.Reason != "ADC_STUCK" {
		t.Errorf("expected FAULT/ADC_STUCK, got %s/%s", se.Event, se.Reason)
	}
	if !se.Retained {
		t.Error("FAULT should be retained")
	}

	snap := r.tracker.Snapshot()
	if snap.Fault == "" {
		t.Error("expected tracker fault to be set")
	}
	if !snap.MQTTConnected {
		t.Error("expected tracker to record the MQTT connection")
	}
}

func TestRunLoopFaultOtherError(t *testing.T) {
	r := newLoopRig(time.Second)
	r.start()
	r.fatal <- errors.New("charger: read adc: i2c nak")

	if err := r.wait(t); err == nil {
		t.Fatal("expected error")
	}
	if got := r.pub.SystemEvents[0].Reason; got != "CONTROLLER_ERROR" {
		t.Errorf("expected CONTROLLER_ERROR, got %s", got)
	}
}

// TestRunLoopWithController drives a real controller on the fake HAL and
// feeds its observer output through runLoop.
func TestRunLoopWithController(t *testing.T) {
	f := hal.NewFake(700)
	c, err := charger.New(f, charger.DefaultConfig())
	if err != nil {
		t.Fatalf("charger.New: %v", err)
	}

	var observed []logic.Snapshot
	c.Observe(func(s logic.Snapshot) { observed = append(observed, s) })
	c.Start()

	ctx := context.Background()
	step := func() {
		t.Helper()
		if err := c.Step(ctx); err != nil {
			t.Fatalf("step: %v", err)
		}
	}

	f.Raise(hal.IRQTick) // baseline: battery only
	step()
	f.Plug(true)
	step()
	f.Raise(hal.IRQTick) // cycle starts
	step()
	f.Raise(hal.IRQTick) // current pin follows
	step()

	r := newLoopRig(time.Second)
	sink := &recordingSink{}
	r.sink = sink
	r.tracker = status.NewTracker(time.Now(), status.Config{})

	if err := runSnapshots(t, r, observed, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	want := []logic.EventType{logic.EventUSBPlugged, logic.EventChargeStarted, logic.EventStageCC}
	if len(r.pub.Events) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(r.pub.Events), r.pub.Events)
	}
	for i, w := range want {
		if r.pub.Events[i].Type != w {
			t.Errorf("event %d: expected %s, got %s", i, w, r.pub.Events[i].Type)
		}
	}
	if len(sink.samples) != 3 {
		t.Errorf("expected 3 telemetry samples, got %d", len(sink.samples))
	}

	snap := r.tracker.Snapshot()
	if snap.Charger.State.Phase() != logic.PhaseCharging {
		t.Errorf("expected tracker phase CHARGING, got %s", snap.Charger.State.Phase())
	}
	if snap.Counts.Plugged != 1 || snap.Counts.Started != 1 {
		t.Errorf("unexpected counts: %+v", snap.Counts)
	}
}

func TestStateString(t *testing.T) {
	if stateString(true) != "ON" || stateString(false) != "OFF" {
		t.Error("unexpected state strings")
	}
}

// TestRunLoopBootWithUSBPresent reports the plug and the start made while
// the controller came up on its charger.
func TestRunLoopBootWithUSBPresent(t *testing.T) {
	f := hal.NewFake(700)
	f.SetUSB(true)
	c, err := charger.New(f, charger.DefaultConfig())
	if err != nil {
		t.Fatalf("charger.New: %v", err)
	}

	var observed []logic.Snapshot
	c.Observe(func(s logic.Snapshot) { observed = append(observed, s) })
	initial := c.Snapshot()
	c.Start()

	f.Raise(hal.IRQTick)
	if err := c.Step(context.Background()); err != nil {
		t.Fatalf("step: %v", err)
	}

	r := newLoopRig(time.Second)
	r.initial = &initial
	r.tracker = status.NewTracker(time.Now(), status.Config{})

	if err := runSnapshots(t, r, observed, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	want := []logic.EventType{logic.EventUSBPlugged, logic.EventChargeStarted}
	if len(r.pub.Events) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(r.pub.Events), r.pub.Events)
	}
	for i, w := range want {
		if r.pub.Events[i].Type != w {
			t.Errorf("event %d: expected %s, got %s", i, w, r.pub.Events[i].Type)
		}
	}
	if got := r.tracker.Snapshot().Counts.Plugged; got != 1 {
		t.Errorf("expected plugged count 1, got %d", got)
	}
}

func TestRunLoopReportsBacklogAndTelemetry(t *testing.T) {
	// Clock calls: start t0, first snapshot t1, second snapshot t2.
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newLoopRig(time.Second)
	r.tracker = status.NewTracker(start, status.Config{})
	r.sink = &recordingSink{}
	r.pub.Connected = true
	r.pub.Outage = true
	snaps := []logic.Snapshot{
		{Voltage: 700, Sampled: true, Samples: 1},
		{State: state(true, true, false, false), Voltage: 700, Sampled: true, Samples: 2},
	}

	if err := runSnapshots(t, r, snaps, 1, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	snap := r.tracker.Snapshot()
	if snap.MQTTConnected {
		t.Error("expected the outage to show as disconnected")
	}
	if snap.MQTTBuffered != 2 {
		t.Errorf("expected USB_PLUGGED and CHARGE_STARTED held, got %d", snap.MQTTBuffered)
	}
	if want := start.Add(2 * time.Second); !snap.TelemetryLast.Equal(want) {
		t.Errorf("expected telemetry at %v, got %v", want, snap.TelemetryLast)
	}
}
