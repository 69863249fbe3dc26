package gxserialbridge

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// ErrStopped is returned by operations invoked after the bridge has stopped.
var ErrStopped = errors.New("bridge stopped")

// ErrPeerLimit is returned when a peer is refused because the registry is
// full.
var ErrPeerLimit = errors.New("connection limit reached")

// ConfigurationError reports an invalid device path, serial setting or
// option combination. It is fatal at startup.
type ConfigurationError struct {
	Field string
	Value any
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("invalid %s %v: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ConnectionError reports a connect, listen, accept or socket option failure.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// DeviceError reports a pseudo-terminal allocation, serial open or raw-mode
// configuration failure.
type DeviceError struct {
	Op   string
	Path string
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// PeerIOError reports a read or write failure isolated to a single peer.
type PeerIOError struct {
	PeerID string
	Op     string
	Err    error
}

func (e *PeerIOError) Error() string {
	return fmt.Sprintf("peer %s %s: %v", e.PeerID, e.Op, e.Err)
}

func (e *PeerIOError) Unwrap() error {
	return e.Err
}

// TransientIOError reports a wait or poll failure that is not tied to a
// specific peer. Loops log it and keep running.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error {
	return e.Err
}

// isConnectionLoss reports whether err means the remote side is gone: EOF,
// closed connection, reset, broken pipe or a keepalive timeout.
func isConnectionLoss(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET, syscall.EPIPE, syscall.ETIMEDOUT, syscall.ECONNABORTED:
			return true
		}
	}
	return false
}

// isDeviceGone reports whether err means the device descriptor can no longer
// be used. The owning loop exits; recovery needs a new bridge.
func isDeviceGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrClosed) || errors.Is(err, errInvalidDescriptor) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EIO || errno == syscall.EBADF
	}
	return false
}

// isTimeout reports whether err is a deadline expiry from a bounded wait.
func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// errWriteTimeout is returned when a device did not accept output within
// the write timeout.
var errWriteTimeout = errors.New("write timed out")

// errWouldBlock is returned by a device write when the descriptor has no
// room for output.
var errWouldBlock = errors.New("device would block")

// errInvalidDescriptor is returned by readiness waits that observe POLLNVAL.
var errInvalidDescriptor = errors.New("invalid descriptor")
