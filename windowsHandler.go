//go:build windows

package gxserialbridge

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/Gurux/gxcommon-go"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

// Windows has no pseudo-terminal pairs, so only the server role works here.
// Serial readiness is polled from the driver queues.
var errUnsupported = errors.New("pseudo-terminals are not supported on windows")

const (
	// pollStep is the granularity of readiness waits.
	pollStep = 10 * time.Millisecond
	// outQueueLimit is the driver output queue size below which the port
	// counts as writable.
	outQueueLimit = 4096
	// writeWaitLimit bounds one overlapped write.
	writeWaitLimit = time.Second
)

// port is an overlapped COM port handle.
type port struct {
	h       windows.Handle
	ovRead  windows.Overlapped
	ovWrite windows.Overlapped
	closing windows.Handle

	closed atomic.Bool
	once   sync.Once
	// io serializes the handle teardown against reads and writes in flight.
	io sync.RWMutex
}

func newPort(*os.File) (*port, error) {
	return nil, errUnsupported
}

func (p *port) isOpen() bool {
	return p != nil && p.h != 0 && p.h != windows.InvalidHandle && !p.closed.Load()
}

func (p *port) ensureOpen() error {
	if !p.isOpen() {
		return os.ErrClosed
	}
	return nil
}

// queues returns the bytes waiting in the driver input and output queues.
func (p *port) queues() (in, out int, err error) {
	var flags uint32
	var st windows.ComStat
	if err := windows.ClearCommError(p.h, &flags, &st); err != nil {
		if errors.Is(err, windows.ERROR_INVALID_HANDLE) {
			return 0, 0, errInvalidDescriptor
		}
		return 0, 0, fmt.Errorf("ClearCommError failed: %w", err)
	}
	return int(st.CBInQue), int(st.CBOutQue), nil
}

// waitQueue polls ready in steps of pollStep until it reports true or
// timeout elapses. Closing the port ends the wait with os.ErrClosed.
func (p *port) waitQueue(timeout time.Duration, ready func(in, out int) bool) (bool, error) {
	p.io.RLock()
	defer p.io.RUnlock()
	deadline := time.Now().Add(timeout)
	for {
		if err := p.ensureOpen(); err != nil {
			return false, err
		}
		in, out, err := p.queues()
		if err != nil {
			return false, err
		}
		if ready(in, out) {
			return true, nil
		}
		left := time.Until(deadline)
		if left <= 0 {
			return false, nil
		}
		if left > pollStep {
			left = pollStep
		}
		r, err := windows.WaitForSingleObject(p.closing, uint32(left/time.Millisecond))
		if err != nil {
			return false, fmt.Errorf("wait failed: %w", err)
		}
		if r == windows.WAIT_OBJECT_0 {
			return false, os.ErrClosed
		}
	}
}

func (p *port) waitReadable(timeout time.Duration) (bool, error) {
	return p.waitQueue(timeout, func(in, _ int) bool { return in > 0 })
}

func (p *port) waitWritable(timeout time.Duration) (bool, error) {
	return p.waitQueue(timeout, func(_, out int) bool { return out < outQueueLimit })
}

// read takes what is already queued, at most len(buf) bytes. It does not
// wait for more.
func (p *port) read(buf []byte) (int, error) {
	p.io.RLock()
	defer p.io.RUnlock()
	if err := p.ensureOpen(); err != nil {
		return 0, err
	}
	in, _, err := p.queues()
	if err != nil {
		return 0, err
	}
	if in == 0 {
		return 0, nil
	}
	if in > len(buf) {
		in = len(buf)
	}
	var n uint32
	_ = windows.ResetEvent(p.ovRead.HEvent)
	err = windows.ReadFile(p.h, buf[:in], &n, &p.ovRead)
	if err == nil {
		return int(n), nil
	}
	if !errors.Is(err, windows.ERROR_IO_PENDING) {
		return 0, fmt.Errorf("read failed: %w", err)
	}
	if err := windows.GetOverlappedResult(p.h, &p.ovRead, &n, true); err != nil {
		if errors.Is(err, windows.ERROR_OPERATION_ABORTED) {
			return 0, os.ErrClosed
		}
		return 0, fmt.Errorf("read failed: %w", err)
	}
	return int(n), nil
}

// write issues one overlapped write and waits up to writeWaitLimit for it.
func (p *port) write(data []byte) (int, error) {
	p.io.RLock()
	defer p.io.RUnlock()
	if err := p.ensureOpen(); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	var n uint32
	_ = windows.ResetEvent(p.ovWrite.HEvent)
	err := windows.WriteFile(p.h, data, &n, &p.ovWrite)
	if err == nil {
		return int(n), nil
	}
	if !errors.Is(err, windows.ERROR_IO_PENDING) {
		return 0, fmt.Errorf("write failed: %w", err)
	}
	handles := []windows.Handle{p.closing, p.ovWrite.HEvent}
	idx, err := windows.WaitForMultipleObjects(handles, false, uint32(writeWaitLimit/time.Millisecond))
	if err != nil {
		return 0, fmt.Errorf("write wait failed: %w", err)
	}
	switch idx {
	case windows.WAIT_OBJECT_0:
		_ = windows.CancelIoEx(p.h, &p.ovWrite)
		_ = windows.GetOverlappedResult(p.h, &p.ovWrite, &n, true)
		return int(n), os.ErrClosed
	case uint32(windows.WAIT_TIMEOUT):
		_ = windows.CancelIoEx(p.h, &p.ovWrite)
		_ = windows.GetOverlappedResult(p.h, &p.ovWrite, &n, true)
		if n > 0 {
			return int(n), nil
		}
		return 0, errWouldBlock
	}
	if err := windows.GetOverlappedResult(p.h, &p.ovWrite, &n, true); err != nil {
		if errors.Is(err, windows.ERROR_OPERATION_ABORTED) {
			return int(n), os.ErrClosed
		}
		return int(n), fmt.Errorf("write failed: %w", err)
	}
	return int(n), nil
}

// valid asks the driver for its queue state, which fails once the device
// is gone.
func (p *port) valid() bool {
	if !p.isOpen() {
		return false
	}
	_, _, err := p.queues()
	return err == nil
}

// close wakes every waiter, cancels pending I/O and releases the handles
// once no read or write is using them.
func (p *port) close() error {
	if p == nil {
		return nil
	}
	p.once.Do(func() {
		p.closed.Store(true)
		if p.closing != 0 {
			_ = windows.SetEvent(p.closing)
		}
		if p.h != 0 && p.h != windows.InvalidHandle {
			_ = windows.CancelIoEx(p.h, nil)
		}
		p.io.Lock()
		defer p.io.Unlock()
		for _, h := range []*windows.Handle{&p.ovRead.HEvent, &p.ovWrite.HEvent, &p.h, &p.closing} {
			if *h != 0 && *h != windows.InvalidHandle {
				_ = windows.CloseHandle(*h)
			}
			*h = 0
		}
	})
	return nil
}

const (
	dcbFBinary         = 1 << 0
	dcbFParity         = 1 << 1
	dcbFErrorChar      = 1 << 10
	dcbFNull           = 1 << 11
	dcbFAbortOnError   = 1 << 14
	dcbFDtrControlMask = 0x3 << 4  // bits 4-5
	dcbFRtsControlMask = 0x3 << 12 // bits 12-13
)

// XON/XOFF control characters
const (
	xon  byte = 0x11
	xoff byte = 0x13
)

func setFlag(d *windows.DCB, flag uint32, on bool) {
	if on {
		d.Flags |= flag
	} else {
		d.Flags &^= flag
	}
}

// configureSerial hands the line settings to the driver. Flow control and
// modem lines are left off, matching the POSIX setup.
func (p *port) configureSerial(s SerialSettings) error {
	var d windows.DCB
	d.DCBlength = uint32(unsafe.Sizeof(d))
	if err := windows.GetCommState(p.h, &d); err != nil {
		return fmt.Errorf("GetCommState failed: %w", err)
	}
	d.BaudRate = uint32(s.BaudRate)
	if s.DataBits < 5 || s.DataBits > 8 {
		return errors.New("invalid databits (must be 5..8)")
	}
	d.ByteSize = byte(s.DataBits)
	d.Parity = byte(s.Parity)
	switch s.StopBits {
	case gxcommon.StopBitsOne:
		d.StopBits = 0 // ONESTOPBIT
	case gxcommon.StopBitsTwo:
		d.StopBits = 2 // TWOSTOPBITS
	default:
		return gxcommon.ErrInvalidArgument
	}
	setFlag(&d, dcbFParity, d.Parity != 0)
	setFlag(&d, dcbFBinary, true)
	setFlag(&d, dcbFNull, false)
	setFlag(&d, dcbFErrorChar, false)
	setFlag(&d, dcbFAbortOnError, false)
	d.Flags &^= dcbFRtsControlMask | dcbFDtrControlMask
	d.XonChar = xon
	d.XoffChar = xoff
	if err := windows.SetCommState(p.h, &d); err != nil {
		return fmt.Errorf("SetCommState failed: %w", err)
	}
	return nil
}

// openSerialPort opens a COM port for overlapped I/O and applies the line
// settings.
func openSerialPort(path string, s SerialSettings) (*port, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("invalid serial port name")
	}
	p := &port{}
	closing, err := windows.CreateEvent(nil, 1, 0, nil) // manual reset
	if err != nil {
		return nil, fmt.Errorf("CreateEvent(closing) failed: %w", err)
	}
	p.closing = closing
	name := path
	if !strings.HasPrefix(name, `\\.\`) {
		name = `\\.\` + name
	}
	h, err := windows.CreateFile(
		windows.StringToUTF16Ptr(name),
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_OVERLAPPED,
		0,
	)
	if err != nil {
		_ = p.close()
		return nil, err
	}
	p.h = h
	if p.ovRead.HEvent, err = windows.CreateEvent(nil, 0, 0, nil); err != nil {
		_ = p.close()
		return nil, fmt.Errorf("CreateEvent(read) failed: %w", err)
	}
	if p.ovWrite.HEvent, err = windows.CreateEvent(nil, 0, 0, nil); err != nil {
		_ = p.close()
		return nil, fmt.Errorf("CreateEvent(write) failed: %w", err)
	}
	if err := p.configureSerial(s); err != nil {
		_ = p.close()
		return nil, err
	}
	if err := windows.PurgeComm(p.h,
		windows.PURGE_TXCLEAR|windows.PURGE_TXABORT|windows.PURGE_RXCLEAR|windows.PURGE_RXABORT,
	); err != nil {
		_ = p.close()
		return nil, fmt.Errorf("PurgeComm failed: %w", err)
	}
	return p, nil
}

func openPseudoTerminal() (master, slave *os.File, err error) {
	return nil, nil, errUnsupported
}

func makeRaw(int) error { return errUnsupported }

type socketOption struct{}

func setSocketOptions(uintptr, []socketOption) error { return nil }

func keepaliveOptions(KeepAlive) []socketOption { return nil }

func reuseAddress() socketOption { return socketOption{} }

func checkWritable(string) error { return nil }

// getPortNames lists the COM ports registered by the serial drivers.
func getPortNames() ([]string, error) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, `HARDWARE\DEVICEMAP\SERIALCOMM`, registry.QUERY_VALUE)
	if err != nil {
		if err == registry.ErrNotExist {
			return []string{}, nil
		}
		return nil, err
	}
	defer func() {
		_ = key.Close()
	}()
	names, err := key.ReadValueNames(-1)
	if err != nil {
		return nil, err
	}
	var ports []string
	for _, name := range names {
		if p, _, err := key.GetStringValue(name); err == nil {
			ports = append(ports, p)
		}
	}
	return ports, nil
}
