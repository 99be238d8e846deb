package cmd

import (
	"testing"
	"time"

	"github.com/spf13/viper"

	"prism-plan/realtime"
)

func TestLoadSettings(t *testing.T) {
	v := viper.New()
	v.Set("api-url", "http://api.local/")
	v.Set("stream-url", "https://stream.local/base/")
	v.Set("token", "tok")
	v.Set("transport", "WS")
	v.Set("request-timeout", "3s")
	v.Set("reconnect-attempts", 4)

	s, err := loadSettings(v)
	if err != nil {
		t.Fatalf("loadSettings: %v", err)
	}
	if s.APIURL != "http://api.local" || s.RequestTimeout != 3*time.Second || s.Transport != "ws" {
		t.Fatalf("unexpected settings %+v", s)
	}
	if b := s.backoff(); b.MaxAttempts != 4 || b.Initial != realtime.DefaultBackoff.Initial {
		t.Fatalf("unexpected backoff %+v", b)
	}
	tr, err := s.transport()
	if err != nil {
		t.Fatalf("transport: %v", err)
	}
	ws, ok := tr.(*realtime.WebSocketTransport)
	if !ok || ws.URL != "wss://stream.local/base/ws" || ws.Token != "tok" {
		t.Fatalf("unexpected transport %#v", tr)
	}

	s.Transport = "sse"
	tr, _ = s.transport()
	if sse, ok := tr.(*realtime.SSETransport); !ok || sse.URL != "https://stream.local/base/stream" {
		t.Fatalf("unexpected transport %#v", tr)
	}
}

func TestLoadSettingsValidation(t *testing.T) {
	tests := map[string]map[string]any{
		"missing token":      {"api-url": "http://x"},
		"missing api url":    {"token": "t"},
		"bad transport":      {"api-url": "http://x", "token": "t", "transport": "carrier-pigeon"},
		"negative reconnect": {"api-url": "http://x", "token": "t", "reconnect-attempts": -1},
	}
	for name, values := range tests {
		t.Run(name, func(t *testing.T) {
			v := viper.New()
			for k, val := range values {
				v.Set(k, val)
			}
			if _, err := loadSettings(v); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
