package gxserialbridge

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Gurux/gxcommon-go"
)

func TestParseParity(t *testing.T) {
	tests := []struct {
		in   string
		want gxcommon.Parity
	}{
		{"N", gxcommon.ParityNone},
		{"", gxcommon.ParityNone},
		{"e", gxcommon.ParityEven},
		{"O", gxcommon.ParityOdd},
		{"M", gxcommon.ParityMark},
		{"S", gxcommon.ParitySpace},
	}
	for _, tt := range tests {
		got, err := ParseParity(tt.in)
		if err != nil {
			t.Errorf("ParseParity(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseParity(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := ParseParity("X"); !errors.Is(err, gxcommon.ErrInvalidArgument) {
		t.Errorf("ParseParity(X) error = %v, want ErrInvalidArgument", err)
	}
}

func TestParseStopBits(t *testing.T) {
	tests := []struct {
		in   string
		want gxcommon.StopBits
	}{
		{"1", gxcommon.StopBitsOne},
		{"1.5", gxcommon.StopBitsTwo},
		{"2", gxcommon.StopBitsTwo},
	}
	for _, tt := range tests {
		got, err := ParseStopBits(tt.in)
		if err != nil {
			t.Errorf("ParseStopBits(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseStopBits(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	for _, in := range []string{"3", "one", ""} {
		var ce *ConfigurationError
		if _, err := ParseStopBits(in); !errors.As(err, &ce) {
			t.Errorf("ParseStopBits(%q) error = %v, want *ConfigurationError", in, err)
		}
	}
}

func TestClientConfigValidate(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.Host = "localhost"
	cfg.Port = 5000
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	bad := cfg
	bad.Port = 70000
	var ce *ConfigurationError
	if err := bad.Validate(); !errors.As(err, &ce) {
		t.Errorf("port 70000: error = %v, want *ConfigurationError", err)
	}

	bad = cfg
	bad.Host = ""
	if err := bad.Validate(); !errors.As(err, &ce) {
		t.Errorf("empty host: error = %v, want *ConfigurationError", err)
	}

	bad = cfg
	bad.DevicePath = "relative/tty"
	if err := bad.Validate(); !errors.As(err, &ce) {
		t.Errorf("relative device: error = %v, want *ConfigurationError", err)
	}
}

func TestServerConfigValidate(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.SerialPort = "/dev/ttyS0"
	cfg.NetworkPort = 5000
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	s, err := cfg.SerialSettings()
	if err != nil {
		t.Fatalf("SerialSettings: %v", err)
	}
	if s.BaudRate != gxcommon.BaudRate(9600) || s.DataBits != 8 || s.Parity != gxcommon.ParityNone || s.StopBits != gxcommon.StopBitsOne {
		t.Errorf("SerialSettings = %+v", s)
	}

	bad := cfg
	bad.DataBits = 9
	if err := bad.Validate(); !errors.Is(err, gxcommon.ErrInvalidArgument) {
		t.Errorf("databits 9: error = %v, want ErrInvalidArgument", err)
	}
	bad = cfg
	bad.MaxClients = 0
	var ce *ConfigurationError
	if err := bad.Validate(); !errors.As(err, &ce) {
		t.Errorf("max clients 0: error = %v, want *ConfigurationError", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	data := "host: example.org\nport: 4001\nreconnect_delay: 250ms\nkeepalive:\n  count: 7\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultClientConfig()
	if err := LoadConfigFile(path, &cfg); err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Host != "example.org" || cfg.Port != 4001 {
		t.Errorf("host/port = %s/%d", cfg.Host, cfg.Port)
	}
	if cfg.ReconnectDelay != 250*time.Millisecond {
		t.Errorf("ReconnectDelay = %v, want 250ms", cfg.ReconnectDelay)
	}
	if cfg.KeepAlive.Count != 7 {
		t.Errorf("KeepAlive.Count = %d, want 7", cfg.KeepAlive.Count)
	}
	// Absent fields keep their defaults.
	if cfg.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("MaxReconnectAttempts = %d, want default", cfg.MaxReconnectAttempts)
	}

	if err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"), &cfg); err == nil {
		t.Error("missing file: expected error")
	}
}
