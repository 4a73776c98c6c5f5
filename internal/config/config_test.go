package config

import (
	"io"
	"io/ioutil"
	"os"
	"testing"
	"time"

	"blitiri.com.ar/go/log"
	"github.com/google/go-cmp/cmp"

	"github.com/wildernesstechie/blackhole/internal/policy"
	"github.com/wildernesstechie/blackhole/internal/testlib"
)

func mustCreateConfig(t *testing.T, contents string) (string, string) {
	tmpDir := testlib.MustTempDir(t)
	err := ioutil.WriteFile(tmpDir+"/blackhole.conf", []byte(contents), 0600)
	if err != nil {
		t.Fatalf("failed to write tmp config: %v", err)
	}
	return tmpDir, tmpDir + "/blackhole.conf"
}

func TestEmptyConfig(t *testing.T) {
	tmpDir, path := mustCreateConfig(t, "")
	defer testlib.RemoveIfOk(t, tmpDir)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("error loading empty config: %v", err)
	}

	if len(c.Listeners) != 1 || c.Listeners[0].Addr() != "127.0.0.1:25" {
		t.Errorf("unexpected default listener set: %+v", c.Listeners)
	}
	if c.Mode != policy.ModeAccept {
		t.Errorf("default mode = %q, want accept", c.Mode)
	}
	if c.Workers != 2 {
		t.Errorf("default workers = %d, want 2", c.Workers)
	}
	if c.MaxMessageSize != 512000 {
		t.Errorf("default max message size = %d", c.MaxMessageSize)
	}
	if c.Timeout != 0 {
		t.Errorf("default timeout = %v, want 0 (disabled)", c.Timeout)
	}
	if !c.DynamicSwitch {
		t.Errorf("dynamic switch should default to on")
	}

	testLogConfig(c)
}

func TestFullConfig(t *testing.T) {
	confStr := `
		# a comment, and a blank line follow

		listen = 0.0.0.0:2525, mode=bounce
		listen = [::1]:2525
		tls_listen = 0.0.0.0:4650
		tls_cert = /etc/blackhole/cert.pem
		tls_key = /etc/blackhole/key.pem
		mode = random
		delay = 1-3
		timeout = 30
		max_message_size = 1048576
		dynamic_switch = false
		workers = 4
		pidfile = /var/run/blackhole.pid
		user = nobody
		group = nogroup
		monitor_address = 127.0.0.1:9100
	`

	tmpDir, path := mustCreateConfig(t, confStr)
	defer testlib.RemoveIfOk(t, tmpDir)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("error loading config: %v", err)
	}

	if len(c.Listeners) != 3 {
		t.Fatalf("expected 3 listeners, got %d: %+v", len(c.Listeners), c.Listeners)
	}
	if c.Listeners[0].Mode != policy.ModeBounce {
		t.Errorf("first listener mode = %q, want bounce", c.Listeners[0].Mode)
	}
	if !c.Listeners[2].TLS {
		t.Errorf("third listener should be TLS")
	}
	if c.Mode != policy.ModeRandom {
		t.Errorf("global mode = %q, want random", c.Mode)
	}
	if c.Delay.Lo != time.Second || c.Delay.Hi != 3*time.Second {
		t.Errorf("global delay = %+v, want 1-3s", c.Delay)
	}
	if c.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", c.Timeout)
	}
	if c.MaxMessageSize != 1048576 {
		t.Errorf("max message size = %d", c.MaxMessageSize)
	}
	if c.DynamicSwitch {
		t.Errorf("dynamic switch should be off")
	}
	if c.Workers != 4 {
		t.Errorf("workers = %d, want 4", c.Workers)
	}
	if c.MonitorAddress != "127.0.0.1:9100" {
		t.Errorf("monitor address = %q", c.MonitorAddress)
	}

	testLogConfig(c)
}

func TestAppendListenerParsing(t *testing.T) {
	cases := []struct {
		name  string
		value string
		tls   bool
		want  Listener
	}{
		{
			name:  "plain, no overrides",
			value: "127.0.0.1:25",
			want:  Listener{Raw: "127.0.0.1:25", Host: "127.0.0.1", Port: 25, Family: "tcp4"},
		},
		{
			name:  "tls with mode override",
			value: "0.0.0.0:465,mode=bounce",
			tls:   true,
			want:  Listener{Raw: "0.0.0.0:465,mode=bounce", Host: "0.0.0.0", Port: 465, Family: "tcp4", TLS: true, Mode: policy.ModeBounce},
		},
		{
			name:  "ipv6 with fixed delay",
			value: "[::1]:2525,delay=2",
			want:  Listener{Raw: "[::1]:2525,delay=2", Host: "::1", Port: 2525, Family: "tcp6", Delay: DelayRange{Lo: 2 * time.Second, Hi: 2 * time.Second}},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := &Config{}
			if err := appendListener(cfg, c.value, c.tls); err != nil {
				t.Fatalf("appendListener: %v", err)
			}
			if len(cfg.Listeners) != 1 {
				t.Fatalf("expected 1 listener, got %d", len(cfg.Listeners))
			}
			got := cfg.Listeners[0]
			if diff := cmp.Diff(c.want, got); diff != "" {
				t.Errorf("listener mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestErrorLoading(t *testing.T) {
	c, err := Load("/does/not/exist")
	if err == nil {
		t.Fatalf("loaded a non-existent config: %v", c)
	}
}

func TestBrokenConfig(t *testing.T) {
	tmpDir, path := mustCreateConfig(t, "this is not key=value")
	defer testlib.RemoveIfOk(t, tmpDir)

	c, err := Load(path)
	if err == nil {
		t.Fatalf("loaded an invalid config: %v", c)
	}
}

func TestTLSListenerWithoutCertFails(t *testing.T) {
	tmpDir, path := mustCreateConfig(t, "tls_listen = 0.0.0.0:465\n")
	defer testlib.RemoveIfOk(t, tmpDir)

	if _, err := Load(path); err == nil {
		t.Fatalf("loaded a tls_listen config without cert/key")
	}
}

func TestDelayMustBeLessThanTimeout(t *testing.T) {
	tmpDir, path := mustCreateConfig(t, "timeout = 5\ndelay = 10\n")
	defer testlib.RemoveIfOk(t, tmpDir)

	if _, err := Load(path); err == nil {
		t.Fatalf("loaded a config with delay >= timeout")
	}
}

func TestTimeoutOverBoundFails(t *testing.T) {
	tmpDir, path := mustCreateConfig(t, "timeout = 181\n")
	defer testlib.RemoveIfOk(t, tmpDir)

	if _, err := Load(path); err == nil {
		t.Fatalf("loaded a config with timeout over the 180s bound")
	}
}

func TestDelayOverBoundFails(t *testing.T) {
	tmpDir, path := mustCreateConfig(t, "timeout = 0\ndelay = 61\n")
	defer testlib.RemoveIfOk(t, tmpDir)

	if _, err := Load(path); err == nil {
		t.Fatalf("loaded a config with delay over the 60s bound")
	}
}

func TestListenerDelayOverBoundFails(t *testing.T) {
	tmpDir, path := mustCreateConfig(t, "listen = 127.0.0.1:25,delay=61\n")
	defer testlib.RemoveIfOk(t, tmpDir)

	if _, err := Load(path); err == nil {
		t.Fatalf("loaded a config with a per-listener delay over the 60s bound")
	}
}

// Run LogConfig, overriding the default logger first. This exercises the
// code; it's a sanity check, not a golden-output comparison.
func testLogConfig(c *Config) {
	l := log.New(nopWCloser{ioutil.Discard})
	log.Default = l
	LogConfig(c)
}

type nopWCloser struct {
	io.Writer
}

func (nopWCloser) Close() error { return nil }
