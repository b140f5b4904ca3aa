// Command li-charger runs the li-ion charge controller on a Linux board and
// publishes charger state changes to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/sweeney/li-charger/internal/charger"
	"github.com/sweeney/li-charger/internal/config"
	"github.com/sweeney/li-charger/internal/hal"
	"github.com/sweeney/li-charger/internal/logic"
	"github.com/sweeney/li-charger/internal/mqtt"
	"github.com/sweeney/li-charger/internal/status"
	"github.com/sweeney/li-charger/internal/telemetry"
	"github.com/sweeney/li-charger/internal/web"
)

// snapshotBuffer bounds the observer queue between the dispatcher and runLoop.
const snapshotBuffer = 64

// housekeepingPeriod is the longest gap between watchdog pings and
// heartbeat checks.
const housekeepingPeriod = time.Second

func main() {
	configPath := flag.String("config", "/etc/li-charger.yaml", "Path to YAML config file")
	broker := flag.String("broker", "", "MQTT broker address (overrides config)")
	heartbeat := flag.Duration("heartbeat", -1, "Heartbeat interval, 0 to disable (overrides config)")
	httpAddr := flag.String("http", "", `HTTP status address (overrides config, "off" disables)`)
	serialPort := flag.String("serial", "", "Serial port for telemetry lines (overrides config)")
	twoStage := flag.Bool("two-stage", false, "Use separate CC and CV pins (overrides config)")
	printState := flag.Bool("print-state", false, "Print USB level and one battery sample and exit")
	listSerial := flag.Bool("list-serial", false, "List serial ports and exit")
	writeConfig := flag.Bool("write-config", false, "Write the effective config to -config and exit")

	flag.Parse()

	if *listSerial {
		ports, err := telemetry.Ports()
		if err != nil {
			log.Fatalf("fatal: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if *broker != "" {
		cfg.MQTT.Broker = *broker
	}
	if *heartbeat >= 0 {
		cfg.MQTT.Heartbeat = *heartbeat
	}
	switch *httpAddr {
	case "":
	case "off":
		cfg.HTTP.Addr = ""
	default:
		cfg.HTTP.Addr = *httpAddr
	}
	if *serialPort != "" {
		cfg.Serial.Port = *serialPort
	}
	if *twoStage {
		cfg.Charge.TwoStage = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("fatal: invalid config: %v", err)
	}

	if *writeConfig {
		if err := cfg.Save(*configPath); err != nil {
			log.Fatalf("fatal: %v", err)
		}
		log.Printf("wrote %s", *configPath)
		return
	}

	if err := run(cfg, *printState); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg *config.Config, printState bool) error {
	host, err := hal.NewHost(cfg.HostConfig())
	if err != nil {
		return fmt.Errorf("init hal: %w", err)
	}
	defer host.Close()

	controller, err := charger.New(host, cfg.ChargerConfig())
	if err != nil {
		return fmt.Errorf("init charger: %w", err)
	}

	// Print state mode
	if printState {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		code, err := controller.Measure(ctx)
		if err != nil {
			return fmt.Errorf("sample battery: %w", err)
		}
		fmt.Printf("USB: %s, battery: %d (%d mV)\n",
			stateString(host.ReadUSBPin()), code, logic.Millivolts(code, cfg.Scale.FullScaleMV))
		return nil
	}

	publisher, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		BufferSize:  cfg.MQTT.BufferSize,
		FullScaleMV: cfg.Scale.FullScaleMV,
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	chCfg := cfg.ChargerConfig()
	tracker := status.NewTracker(time.Now(), status.Config{
		TickMs:      chCfg.TickPeriod.Milliseconds(),
		HeartbeatMs: cfg.MQTT.Heartbeat.Milliseconds(),
		Thresholds:  chCfg.Thresholds,
		Topology:    chCfg.Topology,
		FullScaleMV: cfg.Scale.FullScaleMV,
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
		SerialPort:  cfg.Serial.Port,
	})
	refreshMQTT(tracker, publisher)

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	var sink sampleSink
	if cfg.Serial.Port != "" {
		w, err := telemetry.OpenSerial(cfg.Serial.Port, cfg.Serial.Baud, cfg.Scale.FullScaleMV)
		if err != nil {
			log.Printf("telemetry disabled: %v", err)
		} else {
			defer w.Close()
			sink = w
			log.Printf("telemetry on %s at %d baud", cfg.Serial.Port, cfg.Serial.Baud)
		}
	}

	// The observer runs on the dispatcher and must not block. A dropped
	// snapshot is superseded by the next one.
	snaps := make(chan logic.Snapshot, snapshotBuffer)
	controller.Observe(func(s logic.Snapshot) {
		select {
		case snaps <- s:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	fatal := make(chan error, 1)
	stopped := make(chan struct{})

	initial := controller.Snapshot()
	controller.Start()
	go func() {
		defer close(stopped)
		if err := controller.Run(ctx); err != nil && ctx.Err() == nil {
			fatal <- err
		}
	}()
	defer func() {
		cancel()
		// Closing the host wakes a dispatcher parked in deep sleep.
		if err := host.Close(); err != nil {
			log.Printf("hal close: %v", err)
		}
		select {
		case <-stopped:
		case <-time.After(time.Second):
			log.Printf("dispatcher did not stop")
		}
	}()

	period := housekeepingPeriod
	if wd, err := daemon.SdWatchdogEnabled(false); err != nil {
		log.Printf("systemd watchdog: %v", err)
	} else if wd > 0 && wd/2 < period {
		period = wd / 2
	}

	log.Printf("started: tick=%v topology=%s thresholds=%d/%d/%d broker=%s heartbeat=%v",
		chCfg.TickPeriod, chCfg.Topology, chCfg.Thresholds.Low, chCfg.Thresholds.Ceiling,
		chCfg.Thresholds.Full, cfg.MQTT.Broker, cfg.MQTT.Heartbeat)
	sdNotify(daemon.SdNotifyReady)
	defer sdNotify(daemon.SdNotifyStopping)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(publisher, publisher, tracker, sink, sdNotify, cfg.MQTT.Heartbeat, time.Now, &initial, snaps, fatal, ticker.C, sigCh)
}

// sampleSink receives every fresh battery sample.
type sampleSink interface {
	Sample(t time.Time, snap logic.Snapshot) error
	Last() time.Time
}

// runLoop publishes controller transitions until a signal or a fatal error.
// A non-nil initial is the controller state from before Start; otherwise the
// first observed snapshot is the baseline.
func runLoop(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, sink sampleSink, notify func(string), heartbeat time.Duration, now func() time.Time, initial *logic.Snapshot, snaps <-chan logic.Snapshot, fatal <-chan error, tick <-chan time.Time, sig <-chan os.Signal) error {
	startTime := now()
	detector := logic.NewDetector(startTime)
	if initial != nil {
		detector.Baseline(*initial)
	}
	var lastSample uint64

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			publishSystem(publisher, mqttStatus, tracker, now(), "SHUTDOWN", signalName)
			return nil

		case err := <-fatal:
			reason := "CONTROLLER_ERROR"
			if errors.Is(err, charger.ErrConversionStuck) {
				reason = "ADC_STUCK"
			}
			log.Printf("controller stopped: %v", err)
			if tracker != nil {
				tracker.SetFault(err.Error())
			}
			publishSystem(publisher, mqttStatus, tracker, now(), "FAULT", reason)
			return fmt.Errorf("controller: %w", err)

		case snap := <-snaps:
			t := now()
			for _, event := range detector.Process(snap, t) {
				st := event.Snapshot.State
				log.Printf("event: %s (v=%d usb=%v charging=%v complete=%v depleted=%v)",
					event.Type, event.Snapshot.Voltage, st.USBConnected, st.Charging, st.Complete, st.Depleted)
				if err := publisher.Publish(event); err != nil {
					log.Printf("publish error: %v", err)
				}
			}

			if sink != nil && snap.Samples != lastSample {
				lastSample = snap.Samples
				if err := sink.Sample(t, snap); err != nil {
					log.Printf("telemetry write error: %v", err)
				} else if tracker != nil {
					tracker.SetTelemetryLast(sink.Last())
				}
			}

			if tracker != nil {
				tracker.Update(snap, detector.IsBaselined(), detector.EventCountsSnapshot())
			}

		case <-tick:
			if notify != nil {
				notify(daemon.SdNotifyWatchdog)
			}
			if tracker != nil && mqttStatus != nil {
				refreshMQTT(tracker, mqttStatus)
			}

			t := now()
			if hbData := detector.CheckHeartbeat(t, heartbeat); hbData != nil {
				log.Printf("heartbeat: uptime=%v plugged=%d unplugged=%d started=%d completed=%d depleted=%d recovered=%d",
					hbData.Uptime, hbData.Counts.Plugged, hbData.Counts.Unplugged, hbData.Counts.Started,
					hbData.Counts.Completed, hbData.Counts.Depleted, hbData.Counts.Recovered)
				publishSystem(publisher, mqttStatus, tracker, hbData.Timestamp, "HEARTBEAT", "")
			}
		}
	}
}

func refreshMQTT(tracker *status.Tracker, mqttStatus mqtt.ConnectionStatus) {
	tracker.SetMQTTConnected(mqttStatus.IsConnected())
	tracker.SetMQTTBuffered(mqttStatus.Buffered())
}

// publishSystem sends a lifecycle event carrying the full status snapshot.
// STARTUP, SHUTDOWN and FAULT are retained; heartbeats are not.
func publishSystem(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, t time.Time, name, reason string) {
	event := mqtt.SystemEvent{
		Timestamp: t,
		Event:     name,
		Reason:    reason,
		Retained:  name != "HEARTBEAT",
	}
	if tracker != nil {
		if mqttStatus != nil {
			refreshMQTT(tracker, mqttStatus)
		}
		event.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), name, reason)
	}
	if err := publisher.PublishSystem(event); err != nil {
		log.Printf("failed to publish %s event: %v", name, err)
		return
	}
	if name != "HEARTBEAT" {
		log.Printf("published %s event", name)
	}
}

func sdNotify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Printf("sd_notify: %v", err)
	}
}

func stateString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
