// Package monitor implements the optional debug HTTP server: a handful of
// expvar counters plus golang.org/x/net/trace's request browser, served on
// Config.MonitorAddress. It exists purely for operators; nothing in the
// protocol path depends on it.
package monitor

import (
	"expvar"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"runtime"
	"time"

	_ "net/http/pprof"

	"blitiri.com.ar/go/log"

	"github.com/wildernesstechie/blackhole/internal/config"
)

var startTime = expvar.NewString("blackhole/startTime")

// Serve starts the monitoring HTTP server and blocks until it exits. It is
// meant to be run in its own goroutine; a listen failure is logged and
// Serve returns rather than taking down the process.
func Serve(cfg *config.Config) {
	if cfg.MonitorAddress == "" {
		return
	}

	hostname, _ := os.Hostname()
	startTime.Set(time.Now().Format(time.RFC3339))

	// Registered on http.DefaultServeMux, not a dedicated mux: importing
	// golang.org/x/net/trace and net/http/pprof for side effects already
	// registers /debug/requests and /debug/pprof/ there, and expvar
	// registers /debug/vars the same way. Handler left nil below so the
	// server uses DefaultServeMux and picks those up.
	http.HandleFunc("/", indexHandler(cfg, hostname))
	http.HandleFunc("/debug/config", debugConfigHandler(cfg))

	log.Infof("monitoring HTTP server listening on %s", cfg.MonitorAddress)
	srv := &http.Server{Addr: cfg.MonitorAddress}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Errorf("monitoring server failed: %v", err)
	}
}

func indexHandler(cfg *config.Config, hostname string) http.HandlerFunc {
	data := struct {
		Hostname  string
		GoVersion string
		Listeners []config.Listener
	}{
		Hostname:  hostname,
		GoVersion: runtime.Version(),
		Listeners: cfg.Listeners,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if err := indexTmpl.Execute(w, data); err != nil {
			log.Infof("monitoring index error: %v", err)
		}
	}
}

func debugConfigHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "workers: %d\n", cfg.Workers)
		fmt.Fprintf(w, "timeout: %s\n", cfg.Timeout)
		fmt.Fprintf(w, "delay: %s-%s\n", cfg.Delay.Lo, cfg.Delay.Hi)
		fmt.Fprintf(w, "mode: %s\n", cfg.Mode)
		fmt.Fprintf(w, "max_message_size: %d\n", cfg.MaxMessageSize)
		fmt.Fprintf(w, "dynamic_switch: %v\n", cfg.DynamicSwitch)
		for _, l := range cfg.Listeners {
			fmt.Fprintf(w, "listener: %s tls=%v mode=%s delay=%s-%s\n",
				l.Addr(), l.TLS, cfg.EffectiveMode(l), cfg.EffectiveDelay(l).Lo, cfg.EffectiveDelay(l).Hi)
		}
	}
}

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Hostname}}: blackhole sink monitoring</title></head>
<body>
<h1>{{.Hostname}}: blackhole sink</h1>
<p>Go version: {{.GoVersion}}</p>
<ul>
<li><a href="/debug/vars">expvar counters</a></li>
<li><a href="/debug/requests">trace browser</a></li>
<li><a href="/debug/config">resolved configuration</a></li>
<li><a href="/debug/pprof/">pprof</a></li>
</ul>
<h2>Listeners</h2>
<table border="1">
<tr><th>Address</th><th>Family</th><th>TLS</th></tr>
{{range .Listeners}}<tr><td>{{.Addr}}</td><td>{{.Family}}</td><td>{{.TLS}}</td></tr>
{{end}}
</table>
</body>
</html>
`))
