package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sweeney/garden-controller/internal/logic"
	"github.com/sweeney/garden-controller/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm", days, h, m)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm", h, m)
		}
		return fmt.Sprintf("%dm %ds", m, int(d.Seconds())%60)
	},
	"ago": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return humanize.Time(t)
	},
	"dur": func(d time.Duration) string {
		return d.Round(time.Second).String()
	},
	"pct": func(v *float64) string {
		if v == nil {
			return "n/a"
		}
		return fmt.Sprintf("%.0f%%", *v)
	},
	"num": func(v float64) string {
		return humanize.FormatFloat("#,###.#", v)
	},
	"deref": func(v *float64) float64 { return *v },
	"stateClass": func(s logic.SystemState) string {
		if s == logic.StateWatering {
			return "on"
		}
		return "off"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Garden Controller</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.warn { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
form { display: inline; }
</style>
</head>
<body>
<h1>Garden Controller</h1>

<h2>Watering</h2>
<table>
<tr><th>State</th><td class="{{stateClass .Watering.State}}">{{if .Watering.State}}{{.Watering.State}}{{else}}Stopped{{end}}</td></tr>
{{if .Watering.Busy}}<tr><th>Mode</th><td>{{.Watering.Mode}}</td></tr>
<tr><th>Zones</th><td>{{range $i, $z := .Watering.ActiveZones}}{{if $i}}, {{end}}{{$z}}{{end}}</td></tr>
<tr><th>Source</th><td>{{.Watering.CurrentSource}}</td></tr>{{end}}
<tr><th>Last manual start</th><td>{{ago .Watering.LastManualStart}}</td></tr>
{{if gt .Watering.CooldownRemaining 0}}<tr><th>Cooldown</th><td class="warn">{{dur .Watering.CooldownRemaining}} remaining</td></tr>{{end}}
{{if not .NextWatering.IsZero}}<tr><th>Next scheduled run</th><td>{{.NextWatering.Format "Mon 15:04"}} ({{ago .NextWatering}})</td></tr>{{end}}
</table>

<p>
{{range .Config.Zones}}<form method="post" action="/water/{{.}}"><button>Water {{.}}</button></form> {{end}}
<form method="post" action="/stop"><button>Stop</button></form>
</p>

{{with .Telemetry}}
<h2>Telemetry <small>({{ago .At}})</small></h2>
<table>
<tr><th>Tank level</th><td{{if .TankFallback}} class="warn"{{end}}>{{num .TankLevel}} cm{{if .TankFallback}} (sensor failure){{end}}</td></tr>
{{range $z, $v := .Moisture}}<tr><th>Soil {{$z}}</th><td>{{printf "%.0f" $v}}%</td></tr>
{{end}}{{if .RainLastHour}}<tr><th>Rain last hour</th><td>{{printf "%.1f" (deref .RainLastHour)}} mm</td></tr>{{end}}
{{with .Station}}{{if .Temperature}}<tr><th>Outdoor</th><td>{{printf "%.1f" (deref .Temperature)}} °C</td></tr>{{end}}
{{if .Humidity}}<tr><th>Humidity</th><td>{{printf "%.0f" (deref .Humidity)}}%</td></tr>{{end}}
{{if .WindSpeed}}<tr><th>Wind</th><td>{{printf "%.1f" (deref .WindSpeed)}} km/h</td></tr>{{end}}
{{if .Solar}}<tr><th>Solar</th><td>{{printf "%.0f" (deref .Solar)}} W/m²</td></tr>{{end}}{{end}}
{{if .CPUTemp}}<tr><th>CPU</th><td>{{printf "%.1f" (deref .CPUTemp)}} °C</td></tr>{{end}}
</table>
{{end}}

{{if .Sessions}}
<h2>Recent sessions</h2>
<table>
<tr><th>When</th><th>Zone</th><th>Duration</th><th>Source</th><th>Soil</th></tr>
{{range .Sessions}}<tr><td>{{ago .StartedAt}}</td><td>{{.Zone}} ({{.Mode}})</td><td>{{dur .Duration}}{{if .Cancelled}} (stopped){{end}}</td><td>{{.Source}}</td><td>{{pct .MoistureBefore}}</td></tr>
{{end}}
</table>
{{end}}

<h2>System</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Tank threshold</th><td>{{num .Config.LevelThreshold}} cm</td></tr>
<tr><th>Cooldown</th><td>{{dur .Config.Cooldown}}</td></tr>
{{if .Config.FakeHardware}}<tr><th>Hardware</th><td class="warn">simulated</td></tr>{{end}}
</table>

<p><a href="/index.json">JSON</a> · <a href="/history.json">History</a> · <a href="/metrics">Metrics</a></p>
</body>
</html>
`

type indexPage struct {
	status.Snapshot
	Uptime   time.Duration
	Sessions []logic.Session
}

func renderHTML(w io.Writer, page indexPage) error {
	page.Uptime = page.Snapshot.Uptime()
	return indexTmpl.Execute(w, page)
}
