// Package worker implements the worker process: it owns a set of already
// bound listeners, accepts connections, and schedules one session per
// connection concurrently, with a graceful drain on SIGTERM/SIGHUP.
package worker

import (
	"crypto/tls"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"blitiri.com.ar/go/log"

	"github.com/wildernesstechie/blackhole/internal/config"
	"github.com/wildernesstechie/blackhole/internal/listener"
	"github.com/wildernesstechie/blackhole/internal/maillog"
	"github.com/wildernesstechie/blackhole/internal/session"
)

// Worker serves SMTP sessions on a fixed set of listeners until asked to
// drain.
type Worker struct {
	cfg       *config.Config
	tlsConfig *tls.Config
	listeners []listener.Bound

	drain   chan struct{}
	drainMu sync.Once

	wg sync.WaitGroup
}

// New returns a Worker ready to serve ls with cfg.
func New(cfg *config.Config, ls []listener.Bound, tlsConfig *tls.Config) *Worker {
	return &Worker{
		cfg:       cfg,
		tlsConfig: tlsConfig,
		listeners: ls,
		drain:     make(chan struct{}),
	}
}

// Serve accepts connections on every listener and returns once every accept
// loop has ended (after Drain, when the listeners are closed) and all
// in-flight sessions have finished. It applies no grace period itself; Run
// bounds the wait after a signal.
func (w *Worker) Serve() {
	for _, b := range w.listeners {
		listener.LogListening(b)
		maillog.Listening(b.Spec.Addr(), b.Spec.TLS)
		w.wg.Add(1)
		go w.acceptLoop(b)
	}
	w.wg.Wait()
}

// Drain asks all in-flight sessions to wrap up (each answers 421 before its
// next command) and makes accept loops exit quietly once their listener is
// closed; it does not close the listeners itself (Run does that right after
// calling Drain). It does not block; callers that need to wait should rely
// on Serve returning.
func (w *Worker) Drain() {
	w.drainMu.Do(func() { close(w.drain) })
}

func (w *Worker) acceptLoop(b listener.Bound) {
	defer w.wg.Done()

	for {
		conn, err := b.Accept()
		if err != nil {
			select {
			case <-w.drain:
				return
			default:
			}
			// Transient failures (out of file descriptors, an aborted
			// connection) are logged and retried; any other error ends
			// this listener's accept loop only.
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				log.Errorf("temporary accept error on %s: %v", b.Spec.Addr(), err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
			log.Errorf("accept error on %s: %v", b.Spec.Addr(), err)
			return
		}

		opts := session.Options{
			Hostname:        hostname(),
			Mode:            w.cfg.EffectiveMode(b.Spec),
			Delay:           w.cfg.EffectiveDelay(b.Spec),
			Timeout:         w.cfg.Timeout,
			MaxMessageSize:  w.cfg.MaxMessageSize,
			DynamicSwitch:   w.cfg.DynamicSwitch,
			TLSConfig:       w.tlsConfig,
			OnConnectTLS:    b.Spec.TLS,
			StartTLSOnPlain: w.cfg.StartTLSOnPlain && !b.Spec.TLS,
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			session.New(conn, opts).Handle(w.drain)
		}()
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}

// Run installs signal handlers and serves until SIGTERM/SIGINT (graceful
// drain) or SIGHUP (drain, then exit for the supervisor to replace this
// worker with one that has re-read the configuration) ends the process.
// grace bounds how long Run waits for in-flight sessions after the signal.
func Run(cfg *config.Config, ls []listener.Bound, tlsConfig *tls.Config, grace time.Duration) {
	w := New(cfg, ls, tlsConfig)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	done := make(chan struct{})
	go func() {
		w.Serve()
		close(done)
	}()

	go func() {
		sig := <-sigCh
		log.Infof("worker received %v, draining", sig)
		w.Drain()
		for _, b := range ls {
			b.Close()
		}

		select {
		case <-done:
		case <-time.After(grace):
			log.Errorf("grace period exceeded, forcing exit")
		}
		os.Exit(0)
	}()

	<-done
}
