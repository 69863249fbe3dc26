package gxserialbridge

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{50, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := BackoffDelay(tt.attempt, time.Second, 30*time.Second); got != tt.want {
			t.Errorf("BackoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestReconnectStateGuard(t *testing.T) {
	r := NewReconnectState(2, time.Millisecond, time.Second)
	if !r.begin() {
		t.Fatal("first begin refused")
	}
	if r.begin() {
		t.Fatal("second begin allowed while in progress")
	}
	r.end()
	if !r.begin() {
		t.Fatal("begin refused after end")
	}
	r.end()

	for want := 1; want <= 3; want++ {
		attempt, exhausted := r.next()
		if attempt != want {
			t.Errorf("next attempt = %d, want %d", attempt, want)
		}
		if exhausted != (want > 2) {
			t.Errorf("attempt %d exhausted = %v", want, exhausted)
		}
	}
	r.Reset()
	if r.Attempt() != 0 {
		t.Errorf("Attempt after Reset = %d", r.Attempt())
	}
}

func TestConnectorResetsAttempts(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 9
	state := NewReconnectState(5, time.Millisecond, time.Second)
	state.next()
	state.next()

	conn := &fakeConn{}
	d := &fakeDialer{dial: func() (net.Conn, error) { return conn, nil }}
	c := NewConnector(cfg, state, d, zerolog.Nop())
	got, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got != conn {
		t.Error("Connect returned a different connection")
	}
	if state.Attempt() != 0 {
		t.Errorf("Attempt = %d after successful connect, want 0", state.Attempt())
	}
}

func TestConnectorFailure(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 9
	state := NewReconnectState(5, time.Millisecond, time.Second)
	state.next()
	c := NewConnector(cfg, state, &fakeDialer{}, zerolog.Nop())
	_, err := c.Connect(context.Background())
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("Connect error = %v, want *ConnectionError", err)
	}
	if ce.Addr != "127.0.0.1:9" {
		t.Errorf("Addr = %q", ce.Addr)
	}
	if state.Attempt() != 1 {
		t.Errorf("Attempt = %d after failure, want 1", state.Attempt())
	}
}

func TestKeepaliveDialer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()
	cfg := DefaultClientConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	c := NewConnector(cfg, nil, nil, zerolog.Nop())
	conn, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.Close()
}

func TestListenerAcceptTimeout(t *testing.T) {
	l, err := Listen(context.Background(), "127.0.0.1:0", 20*time.Millisecond, 0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()
	start := time.Now()
	_, err = l.Accept()
	if !isTimeout(err) {
		t.Fatalf("Accept error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Accept wait was not bounded")
	}
	if !l.Allow() {
		t.Error("Allow = false without a rate limit")
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := l.Accept(); err == nil || isTimeout(err) {
		t.Errorf("Accept after Close = %v, want closed error", err)
	}
}

func TestListenerRateGate(t *testing.T) {
	l, err := Listen(context.Background(), "127.0.0.1:0", time.Second, 1)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()
	if !l.Allow() {
		t.Fatal("first admission refused")
	}
	if l.Allow() {
		t.Error("burst beyond the rate admitted")
	}
}

func TestListenFailure(t *testing.T) {
	l, err := Listen(context.Background(), "127.0.0.1:0", time.Second, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	// The port is already taken.
	_, err = Listen(context.Background(), l.Addr().String(), time.Second, 0)
	var ce *ConnectionError
	if !errors.As(err, &ce) || ce.Op != "listen" {
		t.Errorf("Listen error = %v, want *ConnectionError for listen", err)
	}
}
