// Package config implements the sink's configuration: a flat key=value
// text file (see the key table in the operator documentation), not the
// protobuf/prototext format some other blitiri.com.ar tools use.
package config

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"blitiri.com.ar/go/log"

	"github.com/wildernesstechie/blackhole/internal/policy"
)

// DelayRange is an inclusive range of seconds a session may pause before
// issuing its final reply. Lo == Hi means a fixed delay.
type DelayRange struct {
	Lo, Hi time.Duration
}

// Zero reports whether the range carries no delay at all.
func (d DelayRange) Zero() bool {
	return d.Lo == 0 && d.Hi == 0
}

// Listener describes one address the daemon binds to, with whatever
// per-listener overrides were given on its config line.
type Listener struct {
	// Raw is the value as written in the config file, kept around for
	// validation error messages.
	Raw string

	Host string
	Port int

	// Family is "tcp4", "tcp6", or "tcp" (either, OS's choice) depending on
	// how Host parses.
	Family string

	TLS bool

	// Mode and Delay are per-listener overrides of the global settings.
	// A zero Mode (policy.Mode("")) and a zero DelayRange mean "inherit".
	Mode  policy.Mode
	Delay DelayRange
}

// Addr is the net.Listen-style "host:port" address for l.
func (l Listener) Addr() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

// Config is the sink's full, validated configuration.
type Config struct {
	Listeners []Listener

	TLSCert     string
	TLSKey      string
	TLSDHParams string

	// StartTLSOnPlain allows STARTTLS to be issued on a listener that was
	// not configured as tls_listen. Defaults to off; see the design notes
	// for why.
	StartTLSOnPlain bool

	User  string
	Group string

	PIDFile string

	// Timeout is the idle timeout for a session; zero disables it.
	Timeout time.Duration

	// Delay is the global default delay range, used by listeners that
	// don't set their own.
	Delay DelayRange

	// Mode is the global default response mode.
	Mode policy.Mode

	MaxMessageSize int64

	DynamicSwitch bool

	Workers int

	// MonitorAddress, if non-empty, is where the optional expvar-based
	// monitoring HTTP server listens.
	MonitorAddress string
}

func defaultConfig() *Config {
	return &Config{
		// The legacy config this format descends from ships with timeout=0
		// (disabled); kept here rather than imposing a hard floor.
		Timeout:        0,
		Mode:           policy.ModeAccept,
		MaxMessageSize: 512000,
		DynamicSwitch:  true,
		Workers:        2,
	}
}

// Denial-of-service bounds: an operator can always raise these risks
// themselves by running with a hostile configuration, but the format
// itself should never let "default" or "typo'd" values create an
// effectively unbounded timeout or delay.
const (
	maxTimeout = 180 * time.Second
	maxDelay   = 60 * time.Second
)

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config at %q: %v", path, err)
	}

	kvs, err := parseLines(buf)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %v", err)
	}

	c := defaultConfig()
	if err := apply(c, kvs); err != nil {
		return nil, fmt.Errorf("parsing config: %v", err)
	}

	if err := validate(c); err != nil {
		return nil, fmt.Errorf("invalid config: %v", err)
	}

	return c, nil
}

type kv struct {
	key, value string
	line       int
}

// parseLines tokenizes the key=value format: one assignment per line,
// blank lines and lines starting with '#' ignored, whitespace around the
// key and value trimmed.
func parseLines(buf []byte) ([]kv, error) {
	var out []kv
	sc := bufio.NewScanner(bytes.NewReader(buf))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, fmt.Errorf("line %d: expected key=value, got %q", lineNo, line)
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			return nil, fmt.Errorf("line %d: empty key", lineNo)
		}
		out = append(out, kv{key, val, lineNo})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func apply(c *Config, kvs []kv) error {
	for _, e := range kvs {
		var err error
		switch e.key {
		case "listen":
			err = appendListener(c, e.value, false)
		case "tls_listen":
			err = appendListener(c, e.value, true)
		case "tls_cert":
			c.TLSCert = e.value
		case "tls_key":
			c.TLSKey = e.value
		case "tls_dhparams":
			c.TLSDHParams = e.value
		case "starttls_on_plain":
			c.StartTLSOnPlain, err = strconv.ParseBool(e.value)
		case "user":
			c.User = e.value
		case "group":
			c.Group = e.value
		case "pidfile":
			c.PIDFile = e.value
		case "timeout":
			c.Timeout, err = parseSeconds(e.value)
		case "delay":
			c.Delay, err = parseDelay(e.value)
		case "mode":
			m, ok := policy.ParseMode(e.value)
			if !ok {
				err = fmt.Errorf("unrecognised mode %q", e.value)
			}
			c.Mode = m
		case "max_message_size":
			c.MaxMessageSize, err = strconv.ParseInt(e.value, 10, 64)
		case "dynamic_switch":
			c.DynamicSwitch, err = strconv.ParseBool(e.value)
		case "workers":
			var w int64
			w, err = strconv.ParseInt(e.value, 10, 32)
			c.Workers = int(w)
		case "monitor_address":
			c.MonitorAddress = e.value
		default:
			err = fmt.Errorf("unknown config key %q", e.key)
		}
		if err != nil {
			return fmt.Errorf("line %d (%s): %v", e.line, e.key, err)
		}
	}
	return nil
}

// appendListener parses one listen/tls_listen value: "host:port" optionally
// followed by ",mode=X" and/or ",delay=X" overrides for this listener only.
func appendListener(c *Config, value string, tls bool) error {
	parts := strings.Split(value, ",")
	hostport := strings.TrimSpace(parts[0])

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %v", hostport, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port in %q: %v", hostport, err)
	}

	l := Listener{
		Raw:    value,
		Host:   host,
		Port:   port,
		Family: family(host),
		TLS:    tls,
	}

	for _, opt := range parts[1:] {
		opt = strings.TrimSpace(opt)
		kvPair := strings.SplitN(opt, "=", 2)
		if len(kvPair) != 2 {
			return fmt.Errorf("invalid listener option %q", opt)
		}
		switch strings.TrimSpace(kvPair[0]) {
		case "mode":
			m, ok := policy.ParseMode(strings.TrimSpace(kvPair[1]))
			if !ok {
				return fmt.Errorf("unrecognised mode %q", kvPair[1])
			}
			l.Mode = m
		case "delay":
			d, err := parseDelay(strings.TrimSpace(kvPair[1]))
			if err != nil {
				return err
			}
			l.Delay = d
		default:
			return fmt.Errorf("unknown listener option %q", kvPair[0])
		}
	}

	c.Listeners = append(c.Listeners, l)
	return nil
}

// family classifies a bind host as IPv4-only, IPv6-only, or either; an
// empty host (bind all interfaces) or a hostname is left as "tcp", for which
// the listener binds a single socket and the OS decides which families it
// accepts (dual-stack where available). Such an entry does not produce
// separate IPv4 and IPv6 sockets.
func family(host string) string {
	if host == "" {
		return "tcp"
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	if ip == nil {
		return "tcp"
	}
	if ip.To4() != nil {
		return "tcp4"
	}
	return "tcp6"
}

func parseSeconds(s string) (time.Duration, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid seconds value %q: %v", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return time.Duration(n) * time.Second, nil
}

// parseDelay parses either "N" (fixed delay) or "Lo-Hi" (inclusive range,
// seconds), e.g. "3" or "1-5".
func parseDelay(s string) (DelayRange, error) {
	if s == "" {
		return DelayRange{}, nil
	}
	if !strings.Contains(s, "-") {
		d, err := parseSeconds(s)
		if err != nil {
			return DelayRange{}, err
		}
		return DelayRange{Lo: d, Hi: d}, nil
	}
	parts := strings.SplitN(s, "-", 2)
	lo, err := parseSeconds(strings.TrimSpace(parts[0]))
	if err != nil {
		return DelayRange{}, err
	}
	hi, err := parseSeconds(strings.TrimSpace(parts[1]))
	if err != nil {
		return DelayRange{}, err
	}
	if lo > hi {
		return DelayRange{}, fmt.Errorf("delay range %q has lo > hi", s)
	}
	return DelayRange{Lo: lo, Hi: hi}, nil
}

// validate checks the invariants from the data model: at least one
// listener (defaulting to plaintext 127.0.0.1:25 when none is given), TLS
// listeners carry a cert and key, delay stays strictly below the idle
// timeout when both are enabled, and the denial-of-service bounds on timeout and
// delay are respected.
func validate(c *Config) error {
	if len(c.Listeners) == 0 {
		c.Listeners = append(c.Listeners, Listener{
			Raw: "127.0.0.1:25", Host: "127.0.0.1", Port: 25, Family: "tcp4",
		})
	}

	haveTLS := false
	for _, l := range c.Listeners {
		if l.TLS {
			haveTLS = true
		}
	}
	if haveTLS && (c.TLSCert == "" || c.TLSKey == "") {
		return fmt.Errorf("tls_listen requires tls_cert and tls_key to be set")
	}

	if c.Timeout < 0 || c.Timeout > maxTimeout {
		return fmt.Errorf("timeout must be between 0 and %s, got %s", maxTimeout, c.Timeout)
	}

	if err := checkDelayBound(c.Delay); err != nil {
		return err
	}
	if err := checkDelayVsTimeout(c.Delay, c.Timeout); err != nil {
		return err
	}
	for _, l := range c.Listeners {
		d := l.Delay
		if d.Zero() {
			d = c.Delay
		}
		if err := checkDelayBound(d); err != nil {
			return fmt.Errorf("listener %q: %v", l.Raw, err)
		}
		if err := checkDelayVsTimeout(d, c.Timeout); err != nil {
			return fmt.Errorf("listener %q: %v", l.Raw, err)
		}
	}

	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.MaxMessageSize < 0 {
		return fmt.Errorf("max_message_size cannot be negative")
	}

	return nil
}

func checkDelayBound(d DelayRange) error {
	if d.Hi > maxDelay {
		return fmt.Errorf("delay (up to %s) must not exceed %s", d.Hi, maxDelay)
	}
	return nil
}

func checkDelayVsTimeout(d DelayRange, timeout time.Duration) error {
	if timeout == 0 || d.Zero() {
		return nil
	}
	if d.Hi >= timeout {
		return fmt.Errorf("delay (up to %s) must be less than timeout (%s)", d.Hi, timeout)
	}
	return nil
}

// EffectiveMode returns the mode that applies to l, accounting for the
// listener-level override.
func (c *Config) EffectiveMode(l Listener) policy.Mode {
	if l.Mode != "" {
		return l.Mode
	}
	return c.Mode
}

// EffectiveDelay returns the delay range that applies to l.
func (c *Config) EffectiveDelay(l Listener) DelayRange {
	if !l.Delay.Zero() {
		return l.Delay
	}
	return c.Delay
}

// LogConfig logs the configuration in a human-friendly way; the daemon
// calls it at startup and when testing the configuration with -t.
func LogConfig(c *Config) {
	log.Infof("Configuration:")
	for _, l := range c.Listeners {
		log.Infof("  listener: %s tls=%v family=%s mode=%q delay=%v",
			l.Addr(), l.TLS, l.Family, l.Mode, l.Delay)
	}
	log.Infof("  Global mode: %q", c.Mode)
	log.Infof("  Global delay: %v", c.Delay)
	log.Infof("  Timeout: %s", c.Timeout)
	log.Infof("  Max message size: %d bytes", c.MaxMessageSize)
	log.Infof("  Dynamic switch: %v", c.DynamicSwitch)
	log.Infof("  Workers: %d", c.Workers)
	log.Infof("  User/Group: %q/%q", c.User, c.Group)
	log.Infof("  PID file: %q", c.PIDFile)
	log.Infof("  TLS cert/key: %q/%q", c.TLSCert, c.TLSKey)
	log.Infof("  STARTTLS on plaintext listeners: %v", c.StartTLSOnPlain)
	log.Infof("  Monitor address: %q", c.MonitorAddress)
}
