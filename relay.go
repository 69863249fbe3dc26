package gxserialbridge

import (
	"errors"
	"net"
	"time"

	"github.com/Gurux/gxcommon-go"
	"github.com/rs/zerolog"
)

const (
	// clientChunkSize is the read size of both client relay directions.
	clientChunkSize = 4096
	// peerChunkSize is the read size of a server peer receive loop.
	peerChunkSize = 1024
	// serialChunkSize is the read size of the serial broadcast loop.
	serialChunkSize = 4096
	// echoChunkSize is the read size of the echo loop.
	echoChunkSize = 1024
	// largeChunk marks transfers worth a warning.
	largeChunk = 8192
	// previewLength bounds the bytes shown in debug transfer logs.
	previewLength = 50
)

// endpoint is the device side of a relay: a pseudo-terminal master or a
// serial port.
type endpoint interface {
	waitReadable(timeout time.Duration) (bool, error)
	waitWritable(timeout time.Duration) (bool, error)
	read(buf []byte) (int, error)
	write(data []byte) (int, error)
	valid() bool
}

// outcome classifies one bounded read.
type outcome int

const (
	// outcomeData means bytes were read.
	outcomeData outcome = iota
	// outcomeIdle means the wait expired without data.
	outcomeIdle
	// outcomeLost means the other side is gone: a network peer closed or
	// reset, or the device descriptor became unusable.
	outcomeLost
	// outcomeTransient means the wait itself failed; the loop keeps going.
	outcomeTransient
)

// readNetwork reads at most len(buf) bytes, waiting no longer than wait.
// A zero-length read is a connection loss.
func readNetwork(conn net.Conn, buf []byte, wait time.Duration) (int, outcome, error) {
	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return 0, outcomeLost, err
	}
	n, err := conn.Read(buf)
	if n > 0 {
		// Data that arrived alongside an error is still delivered; the
		// error shows up again on the next read.
		return n, outcomeData, nil
	}
	if err == nil {
		return 0, outcomeLost, errZeroRead
	}
	if isTimeout(err) {
		return 0, outcomeIdle, nil
	}
	return 0, outcomeLost, err
}

// readDevice waits for device readiness and reads what is available.
func readDevice(ep endpoint, buf []byte, wait time.Duration) (int, outcome, error) {
	ready, err := ep.waitReadable(wait)
	if err != nil {
		if isDeviceGone(err) {
			return 0, outcomeLost, err
		}
		return 0, outcomeTransient, &TransientIOError{Op: "wait for device", Err: err}
	}
	if !ready {
		return 0, outcomeIdle, nil
	}
	n, err := ep.read(buf)
	if err != nil {
		if isDeviceGone(err) {
			return 0, outcomeLost, err
		}
		return 0, outcomeTransient, &TransientIOError{Op: "read device", Err: err}
	}
	if n == 0 {
		return 0, outcomeIdle, nil
	}
	return n, outcomeData, nil
}

// deviceWrite bounds one writeDevice call.
type deviceWrite struct {
	// wait is the length of one readiness wait.
	wait time.Duration
	// limit bounds the total time spent waiting for readiness. Zero waits
	// until alive reports false.
	limit time.Duration
	// alive is checked between waits; false ends the write with ErrStopped.
	alive     func() bool
	log       zerolog.Logger
	direction string
}

// writeDevice waits in bounded steps until the device accepts output and
// then writes data with a single write call. A partial write is logged; the
// remainder is not retried.
func writeDevice(ep endpoint, data []byte, w deviceWrite) error {
	var deadline time.Time
	if w.limit > 0 {
		deadline = time.Now().Add(w.limit)
	}
	for {
		if !w.alive() {
			return ErrStopped
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return &TransientIOError{Op: "write " + w.direction, Err: errWriteTimeout}
		}
		ready, err := ep.waitWritable(w.wait)
		if err != nil {
			return err
		}
		if !ready {
			continue
		}
		n, err := ep.write(data)
		if errors.Is(err, errWouldBlock) {
			continue
		}
		if err != nil {
			return err
		}
		if n < len(data) {
			w.log.Warn().Str("direction", w.direction).Int("written", n).Int("size", len(data)).Msg("partial write")
		}
		return nil
	}
}

// writeNetwork sends all of data, bounded by timeout.
func writeNetwork(conn net.Conn, data []byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	_, err := conn.Write(data)
	return err
}

// logTransfer records one relayed chunk. The preview is only built when
// debug logging is enabled.
func logTransfer(log zerolog.Logger, direction string, data []byte) {
	if len(data) > largeChunk {
		log.Warn().Str("direction", direction).Int("size", len(data)).Msg("large data chunk")
	}
	if e := log.Debug(); e.Enabled() {
		e.Str("direction", direction).Int("size", len(data)).Str("data", preview(data)).Msg("transfer")
	}
}

// preview renders the first previewLength bytes as hex.
func preview(data []byte) string {
	head := data
	if len(head) > previewLength {
		head = head[:previewLength]
	}
	s, err := gxcommon.ToString(head)
	if err != nil {
		return ""
	}
	if len(data) > previewLength {
		s += "..."
	}
	return s
}

// closeConn half-closes the write side before the full close so the peer
// reads a clean end of stream.
func closeConn(conn net.Conn) error {
	if conn == nil {
		return nil
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	err := conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// errZeroRead is reported when a network read returned no bytes and no
// error; the stream is treated as closed.
var errZeroRead = errors.New("zero-length read")
