package gxserialbridge

import (
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestReadNetworkZeroLengthIsLoss(t *testing.T) {
	conn := &fakeConn{readFn: func([]byte) (int, error) { return 0, nil }}
	_, res, err := readNetwork(conn, make([]byte, 16), time.Millisecond)
	if res != outcomeLost {
		t.Fatalf("outcome = %v, want outcomeLost", res)
	}
	if err == nil {
		t.Error("zero-length read returned no error")
	}
}

func TestReadNetworkOutcomes(t *testing.T) {
	tests := []struct {
		name string
		n    int
		err  error
		want outcome
	}{
		{"data", 3, nil, outcomeData},
		{"data with eof", 3, io.EOF, outcomeData},
		{"timeout", 0, os.ErrDeadlineExceeded, outcomeIdle},
		{"eof", 0, io.EOF, outcomeLost},
		{"reset", 0, syscall.ECONNRESET, outcomeLost},
		{"closed", 0, net.ErrClosed, outcomeLost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConn{readFn: func([]byte) (int, error) { return tt.n, tt.err }}
			n, res, _ := readNetwork(conn, make([]byte, 16), time.Millisecond)
			if res != tt.want {
				t.Errorf("outcome = %v, want %v", res, tt.want)
			}
			if res == outcomeData && n != tt.n {
				t.Errorf("n = %d, want %d", n, tt.n)
			}
		})
	}
}

// scriptedEndpoint is an endpoint with canned results.
type scriptedEndpoint struct {
	ready    bool
	waitErr  error
	readN    int
	readErr  error
	full     bool
	writeN   int
	writeErr error
	writes   int
}

func (e *scriptedEndpoint) waitReadable(time.Duration) (bool, error) { return e.ready, e.waitErr }

func (e *scriptedEndpoint) waitWritable(d time.Duration) (bool, error) {
	if e.full {
		time.Sleep(d)
		return false, nil
	}
	return true, nil
}

func (e *scriptedEndpoint) read([]byte) (int, error) { return e.readN, e.readErr }

func (e *scriptedEndpoint) write([]byte) (int, error) {
	e.writes++
	return e.writeN, e.writeErr
}

func (e *scriptedEndpoint) valid() bool { return true }

func testWrite(alive func() bool) deviceWrite {
	return deviceWrite{wait: time.Millisecond, alive: alive, log: zerolog.Nop(), direction: "test"}
}

func always() bool { return true }

func TestReadDeviceOutcomes(t *testing.T) {
	tests := []struct {
		name string
		ep   *scriptedEndpoint
		want outcome
	}{
		{"not ready", &scriptedEndpoint{}, outcomeIdle},
		{"data", &scriptedEndpoint{ready: true, readN: 4}, outcomeData},
		{"ready but empty", &scriptedEndpoint{ready: true}, outcomeIdle},
		{"invalid descriptor", &scriptedEndpoint{waitErr: errInvalidDescriptor}, outcomeLost},
		{"closed", &scriptedEndpoint{ready: true, readErr: os.ErrClosed}, outcomeLost},
		{"eio", &scriptedEndpoint{ready: true, readErr: syscall.EIO}, outcomeLost},
		{"wait failure", &scriptedEndpoint{waitErr: syscall.ENOMEM}, outcomeTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, res, err := readDevice(tt.ep, make([]byte, 8), time.Millisecond)
			if res != tt.want {
				t.Errorf("outcome = %v, want %v (err %v)", res, tt.want, err)
			}
			if res == outcomeTransient {
				var te *TransientIOError
				if !errors.As(err, &te) {
					t.Errorf("error = %v, want *TransientIOError", err)
				}
			}
		})
	}
}

func TestWriteDevicePartialIsNotRetried(t *testing.T) {
	ep := &scriptedEndpoint{writeN: 2}
	if err := writeDevice(ep, []byte("abcd"), testWrite(always)); err != nil {
		t.Fatalf("writeDevice: %v", err)
	}
	if ep.writes != 1 {
		t.Errorf("writes = %d, want 1", ep.writes)
	}
	ep = &scriptedEndpoint{writeErr: syscall.EIO}
	if err := writeDevice(ep, []byte("abcd"), testWrite(always)); !isDeviceGone(err) {
		t.Errorf("writeDevice error = %v, want device gone", err)
	}
}

func TestWriteDeviceFullStopsOnShutdown(t *testing.T) {
	ep := &scriptedEndpoint{full: true}
	deadline := time.Now().Add(20 * time.Millisecond)
	alive := func() bool { return time.Now().Before(deadline) }
	start := time.Now()
	err := writeDevice(ep, []byte("abcd"), testWrite(alive))
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("writeDevice error = %v, want ErrStopped", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("writeDevice returned after %v", elapsed)
	}
	if ep.writes != 0 {
		t.Errorf("writes = %d, want 0 while the device is full", ep.writes)
	}
}

func TestWriteDeviceLimit(t *testing.T) {
	ep := &scriptedEndpoint{full: true}
	w := testWrite(always)
	w.limit = 10 * time.Millisecond
	err := writeDevice(ep, []byte("abcd"), w)
	var te *TransientIOError
	if !errors.As(err, &te) || !errors.Is(err, errWriteTimeout) {
		t.Errorf("writeDevice error = %v, want write timeout", err)
	}
}

func TestWriteDeviceRetriesWouldBlock(t *testing.T) {
	ep := &scriptedEndpoint{writeErr: errWouldBlock}
	calls := 0
	alive := func() bool {
		calls++
		if calls == 3 {
			ep.writeErr = nil
			ep.writeN = 4
		}
		return true
	}
	if err := writeDevice(ep, []byte("abcd"), testWrite(alive)); err != nil {
		t.Fatalf("writeDevice: %v", err)
	}
	if ep.writes != 3 {
		t.Errorf("writes = %d, want 3", ep.writes)
	}
}

func TestPreview(t *testing.T) {
	short := preview([]byte("hi"))
	if short == "" || strings.HasSuffix(short, "...") {
		t.Errorf("preview of short data = %q", short)
	}
	long := preview([]byte(strings.Repeat("x", 200)))
	if !strings.HasSuffix(long, "...") {
		t.Errorf("preview of long data not truncated: %q", long)
	}
	if len(long) >= 200*2 {
		t.Errorf("preview too long: %d chars", len(long))
	}
}

func TestErrorClassification(t *testing.T) {
	for _, err := range []error{io.EOF, net.ErrClosed, syscall.ECONNRESET, syscall.EPIPE, syscall.ETIMEDOUT} {
		if !isConnectionLoss(err) {
			t.Errorf("isConnectionLoss(%v) = false", err)
		}
	}
	if isConnectionLoss(os.ErrDeadlineExceeded) {
		t.Error("deadline expiry classified as connection loss")
	}
	for _, err := range []error{os.ErrClosed, errInvalidDescriptor, syscall.EIO, syscall.EBADF} {
		if !isDeviceGone(err) {
			t.Errorf("isDeviceGone(%v) = false", err)
		}
	}
	if isDeviceGone(syscall.EAGAIN) {
		t.Error("EAGAIN classified as device gone")
	}
}
