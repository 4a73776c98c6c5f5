package monitor

import (
	"net/http/httptest"
	"testing"

	"github.com/wildernesstechie/blackhole/internal/config"
	"github.com/wildernesstechie/blackhole/internal/policy"
)

func testConfig() *config.Config {
	return &config.Config{
		Listeners: []config.Listener{
			{Host: "127.0.0.1", Port: 25, Family: "tcp4"},
		},
		Mode:           policy.ModeAccept,
		Workers:        2,
		MaxMessageSize: 512000,
		DynamicSwitch:  true,
	}
}

func TestDebugConfigHandler(t *testing.T) {
	cfg := testConfig()
	h := debugConfigHandler(cfg)

	req := httptest.NewRequest("GET", "/debug/config", nil)
	w := httptest.NewRecorder()
	h(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.Len() == 0 {
		t.Fatalf("expected non-empty body")
	}
}

func TestIndexHandler(t *testing.T) {
	cfg := testConfig()
	h := indexHandler(cfg, "test-host")

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	h(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestIndexHandlerNotFound(t *testing.T) {
	cfg := testConfig()
	h := indexHandler(cfg, "test-host")

	req := httptest.NewRequest("GET", "/nope", nil)
	w := httptest.NewRecorder()
	h(w, req)

	if w.Code != 404 {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
