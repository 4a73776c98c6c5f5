package worker

import (
	"net/smtp"
	"testing"
	"time"

	"github.com/wildernesstechie/blackhole/internal/config"
	"github.com/wildernesstechie/blackhole/internal/listener"
	"github.com/wildernesstechie/blackhole/internal/policy"
)

func testConfig() *config.Config {
	return &config.Config{
		Listeners: []config.Listener{
			{Host: "127.0.0.1", Port: 0, Family: "tcp4"},
		},
		Mode:           policy.ModeAccept,
		Timeout:        5 * time.Second,
		MaxMessageSize: 1 << 20,
		DynamicSwitch:  true,
		Workers:        1,
	}
}

func TestServeAndDrain(t *testing.T) {
	cfg := testConfig()
	ls, err := listener.Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	w := New(cfg, ls, nil)
	doneCh := make(chan struct{})
	go func() {
		w.Serve()
		close(doneCh)
	}()

	addr := ls[0].Addr().String()
	c, err := smtp.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := c.Hello("client.example"); err != nil {
		t.Fatalf("HELO: %v", err)
	}
	c.Close()

	w.Drain()
	for _, b := range ls {
		b.Close()
	}

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after Drain")
	}
}
