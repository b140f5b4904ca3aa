package web

import (
	"fmt"
	"html/template"
	"io"
	"log"
	"time"

	"github.com/sweeney/li-charger/internal/logic"
	"github.com/sweeney/li-charger/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"onOff": func(b bool) string {
		if b {
			return "ON"
		}
		return "OFF"
	},
	"volts": func(mv int) string {
		return fmt.Sprintf("%d.%03d V", mv/1000, mv%1000)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Li Charger</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.fault { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Li Charger</h1>
{{if .Fault}}<p class="fault">{{.Fault}}</p>{{end}}

<h2>Battery</h2>
<table>
<tr><th>Phase</th><td id="phase">{{.Phase}}</td></tr>
<tr><th>Voltage</th><td id="voltage">{{if .Charger.Sampled}}{{volts .MilliVolts}} (code {{.Charger.Voltage}}){{else}}not sampled{{end}}</td></tr>
<tr><th>USB</th><td class="{{if .Charger.State.USBConnected}}on{{else}}off{{end}}">{{onOff .Charger.State.USBConnected}}</td></tr>
<tr><th>Charging</th><td class="{{if .Charger.State.Charging}}on{{else}}off{{end}}">{{onOff .Charger.State.Charging}}</td></tr>
<tr><th>Complete</th><td>{{if .Charger.State.Complete}}yes{{else}}no{{end}}</td></tr>
<tr><th>Depleted</th><td>{{if .Charger.State.Depleted}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Outputs</h2>
<table>
<tr><th>Charge current</th><td>{{onOff .Charger.Pins.ChargeCurrent}}</td></tr>
<tr><th>Charge voltage</th><td>{{onOff .Charger.Pins.ChargeVoltage}}</td></tr>
<tr><th>Circuit power</th><td>{{onOff .Charger.Pins.CircuitPower}}</td></tr>
<tr><th>Tick</th><td>{{if .Charger.TickArmed}}armed{{else}}disarmed{{end}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Backlog</th><td>{{.MQTTBuffered}}</td></tr>
{{if not .TelemetryLast.IsZero}}<tr><th>Last telemetry</th><td>{{.TelemetryLast.UTC.Format "15:04:05"}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>USB plugged</th><td>{{.Counts.Plugged}}</td></tr>
<tr><th>USB unplugged</th><td>{{.Counts.Unplugged}}</td></tr>
<tr><th>Charge started</th><td>{{.Counts.Started}}</td></tr>
<tr><th>Charge complete</th><td>{{.Counts.Completed}}</td></tr>
<tr><th>Depleted</th><td>{{.Counts.Depleted}}</td></tr>
<tr><th>Recovered</th><td>{{.Counts.Recovered}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Thresholds</th><td>{{.Config.Thresholds.Low}} / {{.Config.Thresholds.Ceiling}} / {{.Config.Thresholds.Full}} ({{.Config.Topology}})</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/health">health</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has methods but the template needs plain fields.
	data := struct {
		status.Snapshot
		Uptime     time.Duration
		Phase      logic.Phase
		MilliVolts int
	}{
		Snapshot:   snap,
		Uptime:     snap.Uptime(),
		Phase:      snap.Charger.State.Phase(),
		MilliVolts: logic.Millivolts(snap.Charger.Voltage, snap.Config.FullScaleMV),
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Printf("web: render index: %v", err)
	}
}
