// Package listener implements the network binding rules for the sink:
// binding IPv4 and IPv6 independently, SO_REUSEADDR-style restart
// tolerance, and the TLS-before-banner behaviour tls_listen entries need.
package listener

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"syscall"

	"blitiri.com.ar/go/log"

	"github.com/wildernesstechie/blackhole/internal/config"
)

// Bound pairs a net.Listener with the configuration that produced it, so
// callers downstream (the worker) know which mode/delay/TLS settings apply
// to connections accepted from it.
type Bound struct {
	net.Listener
	Spec config.Listener
}

// Open binds every configured listener and, for tls_listen entries, wraps
// them so Accept returns a *tls.Conn; the session completes that handshake
// before writing its banner, satisfying TLS-before-banner. On any bind
// failure, everything
// already opened is closed and the error is returned: a sink that can only
// bind some of its configured addresses should not start at all.
//
// Use this directly in a single-process run. A process that hands its
// sockets to a forked worker (the supervisor) should call OpenRaw instead
// and let the worker apply WrapTLS once it has its own copy of the
// listeners, since a *tls.Config and the handshake state behind it cannot
// cross a fork/exec.
func Open(c *config.Config, tlsConfig *tls.Config) ([]Bound, error) {
	out, err := OpenRaw(c)
	if err != nil {
		return nil, err
	}
	return WrapTLS(out, tlsConfig)
}

// OpenRaw binds every configured listener without TLS-wrapping, even
// tls_listen entries. Pair with WrapTLS.
func OpenRaw(c *config.Config) ([]Bound, error) {
	var out []Bound
	for _, spec := range c.Listeners {
		l, err := bind(spec)
		if err != nil {
			closeAll(out)
			return nil, fmt.Errorf("binding %s: %w", spec.Addr(), err)
		}
		out = append(out, Bound{Listener: l, Spec: spec})
	}
	return out, nil
}

// WrapTLS wraps every tls_listen entry in ls with tlsConfig, leaving
// plaintext listeners untouched. It errors if any entry needs TLS but
// tlsConfig has no certificates loaded.
func WrapTLS(ls []Bound, tlsConfig *tls.Config) ([]Bound, error) {
	out := make([]Bound, len(ls))
	for i, b := range ls {
		if !b.Spec.TLS {
			out[i] = b
			continue
		}
		if tlsConfig == nil || len(tlsConfig.Certificates) == 0 {
			return nil, fmt.Errorf("listener %s requires TLS but no certificate is configured", b.Spec.Addr())
		}
		out[i] = Bound{Listener: tls.NewListener(b.Listener, tlsConfig), Spec: b.Spec}
	}
	return out, nil
}

// bind opens the raw TCP listener for spec, choosing the network (tcp,
// tcp4, tcp6) independently per listener so a dual-stack host can bind an
// IPv4-only and IPv6-only entry on the same port without conflict. It sets
// SO_REUSEADDR so a restarted worker can rebind immediately, and
// IPV6_V6ONLY on tcp6 listeners so they don't also shadow IPv4 traffic.
func bind(spec config.Listener) (net.Listener, error) {
	network := spec.Family
	if network == "" {
		network = "tcp"
	}

	lc := net.ListenConfig{
		Control: func(netw, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
				if sockErr != nil {
					return
				}
				if network == "tcp6" {
					sockErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IPV6, syscall.IPV6_V6ONLY, 1)
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	l, err := lc.Listen(context.Background(), network, spec.Addr())
	if err != nil {
		return nil, err
	}
	return l, nil
}

func closeAll(ls []Bound) {
	for _, l := range ls {
		l.Close()
	}
}

// FDs returns the raw TCP listeners backing ls, in the same order, for
// handoff to worker processes via procsock.Inherit. ls must come from
// OpenRaw: a TLS-wrapped listener has no File() method, since TLS-wrapping
// happens again inside the worker once it has the inherited socket back.
func FDs(ls []Bound) ([]*net.TCPListener, error) {
	out := make([]*net.TCPListener, 0, len(ls))
	for _, b := range ls {
		tl, ok := b.Listener.(*net.TCPListener)
		if !ok {
			return nil, fmt.Errorf("listener %s is not a plain TCP listener", b.Spec.Addr())
		}
		out = append(out, tl)
	}
	return out, nil
}

// Rebind reconstructs Bound listeners from inherited sockets ls (in the
// order procsock.Inherited returns them) paired against specs (in the same
// order the supervisor originally opened them in), then applies WrapTLS.
func Rebind(ls []net.Listener, specs []config.Listener, tlsConfig *tls.Config) ([]Bound, error) {
	if len(ls) != len(specs) {
		return nil, fmt.Errorf("got %d inherited listeners, expected %d", len(ls), len(specs))
	}
	raw := make([]Bound, len(ls))
	for i, l := range ls {
		raw[i] = Bound{Listener: l, Spec: specs[i]}
	}
	return WrapTLS(raw, tlsConfig)
}

// LogListening logs that the sink is listening, in the same style used
// elsewhere at startup.
func LogListening(b Bound) {
	log.Infof("listening on %s (tls=%v)", b.Spec.Addr(), b.Spec.TLS)
}
