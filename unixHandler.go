//go:build linux || darwin

package gxserialbridge

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gurux/gxcommon-go"
	"github.com/creack/pty"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// port is a poll-driven descriptor: a pseudo-terminal master or a real
// serial device. The descriptor number never changes after construction.
type port struct {
	f      *os.File
	fd     int
	closed atomic.Bool
	once   sync.Once
}

// newPort takes over f. Fd switches the file to blocking mode, so the
// descriptor is put back into non-blocking mode: a full slave buffer must
// surface as errWouldBlock rather than stall the writer.
func newPort(f *os.File) (*port, error) {
	fd := int(f.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, err
	}
	return &port{f: f, fd: fd}, nil
}

func (p *port) isOpen() bool {
	return p != nil && p.f != nil && !p.closed.Load()
}

func (p *port) ensureOpen() error {
	if !p.isOpen() {
		return os.ErrClosed
	}
	return nil
}

// waitReadable blocks for at most timeout until the descriptor has data,
// a hang-up or an error pending.
func (p *port) waitReadable(timeout time.Duration) (bool, error) {
	return p.poll(unix.POLLIN, timeout)
}

// waitWritable blocks for at most timeout until the descriptor accepts data.
func (p *port) waitWritable(timeout time.Duration) (bool, error) {
	return p.poll(unix.POLLOUT, timeout)
}

func (p *port) poll(events int16, timeout time.Duration) (bool, error) {
	if err := p.ensureOpen(); err != nil {
		return false, err
	}
	pfds := []unix.PollFd{{Fd: int32(p.fd), Events: events}}
	n, err := unix.Poll(pfds, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if pfds[0].Revents&unix.POLLNVAL != 0 {
		return false, errInvalidDescriptor
	}
	return pfds[0].Revents&(events|unix.POLLHUP|unix.POLLERR) != 0, nil
}

func (p *port) read(buf []byte) (int, error) {
	if err := p.ensureOpen(); err != nil {
		return 0, err
	}
	for {
		n, err := unix.Read(p.fd, buf)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err == unix.EAGAIN {
			return 0, nil
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

func (p *port) write(data []byte) (int, error) {
	if err := p.ensureOpen(); err != nil {
		return 0, err
	}
	for {
		n, err := unix.Write(p.fd, data)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err == unix.EAGAIN {
			return 0, errWouldBlock
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

// valid probes the descriptor with F_GETFD, which has no side effects.
func (p *port) valid() bool {
	if !p.isOpen() {
		return false
	}
	_, err := unix.FcntlInt(uintptr(p.fd), unix.F_GETFD, 0)
	return err == nil
}

func (p *port) close() error {
	if p == nil || p.f == nil {
		return nil
	}
	var err error
	p.once.Do(func() {
		p.closed.Store(true)
		err = p.f.Close()
	})
	return err
}

// openPseudoTerminal allocates a master/slave pair.
func openPseudoTerminal() (master, slave *os.File, err error) {
	return pty.Open()
}

// makeRaw puts the terminal into an 8-bit clean byte pipe: no input or
// output translation, no line editing, no signal characters.
func makeRaw(fd int) error {
	t, err := unix.IoctlGetTermios(fd, ioctlReadTermios)
	if err != nil {
		return fmt.Errorf("tcgetattr failed: %w", err)
	}
	t.Iflag &^= unix.BRKINT | unix.ICRNL | unix.INPCK | unix.ISTRIP | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Lflag &^= unix.ECHO | unix.ICANON | unix.IEXTEN | unix.ISIG
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, ioctlWriteTermios, t); err != nil {
		return fmt.Errorf("tcsetattr failed: %w", err)
	}
	return nil
}

// openSerialPort opens a real serial device and hands the line settings to
// the driver.
func openSerialPort(path string, s SerialSettings) (*port, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0666)
	if err != nil {
		return nil, err
	}
	f := os.NewFile(uintptr(fd), path)
	if !term.IsTerminal(fd) {
		_ = f.Close()
		return nil, fmt.Errorf("%s is not a terminal device", path)
	}
	if err := configureSerial(fd, s); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &port{f: f, fd: fd}, nil
}

func configureSerial(fd int, s SerialSettings) error {
	t, err := unix.IoctlGetTermios(fd, ioctlReadTermios)
	if err != nil {
		return fmt.Errorf("tcgetattr failed: %w", err)
	}
	t.Cflag |= unix.CLOCAL | unix.CREAD
	t.Lflag &^= unix.ICANON | unix.ECHO | unix.ECHOE | unix.ECHOK | unix.ECHONL | unix.ISIG | unix.IEXTEN
	t.Oflag &^= unix.OPOST | unix.ONLCR | unix.OCRNL
	t.Iflag &^= unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IGNBRK
	if err := setSpeed(t, int(s.BaudRate)); err != nil {
		return err
	}
	t.Cflag &^= unix.CSIZE
	switch s.DataBits {
	case 5:
		t.Cflag |= unix.CS5
	case 6:
		t.Cflag |= unix.CS6
	case 7:
		t.Cflag |= unix.CS7
	case 8:
		t.Cflag |= unix.CS8
	default:
		return errors.New("invalid databits (must be 5..8)")
	}
	switch s.StopBits {
	case gxcommon.StopBitsOne:
		t.Cflag &^= unix.CSTOPB
	case gxcommon.StopBitsTwo:
		t.Cflag |= unix.CSTOPB
	default:
		return errors.New("invalid stopbits (must be 1 or 2)")
	}
	t.Iflag &^= unix.INPCK | unix.ISTRIP
	t.Cflag &^= unix.PARENB | unix.PARODD
	clearMarkSpace(t)
	switch s.Parity {
	case gxcommon.ParityNone:
	case gxcommon.ParityEven:
		t.Cflag |= unix.PARENB
	case gxcommon.ParityOdd:
		t.Cflag |= unix.PARENB | unix.PARODD
	case gxcommon.ParityMark:
		if err := setMarkSpace(t, true); err != nil {
			return err
		}
	case gxcommon.ParitySpace:
		if err := setMarkSpace(t, false); err != nil {
			return err
		}
	default:
		return errors.New("invalid parity")
	}
	t.Iflag &^= unix.IXON | unix.IXOFF
	t.Cflag &^= unix.CRTSCTS
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, ioctlWriteTermios, t); err != nil {
		return fmt.Errorf("tcsetattr failed: %w", err)
	}
	return flushInput(fd)
}

// socketOption is one setsockopt call from the capability-checked set built
// once at startup.
type socketOption struct {
	level int
	name  int
	value int
	label string
}

func setSocketOptions(fd uintptr, opts []socketOption) error {
	for _, o := range opts {
		if err := unix.SetsockoptInt(int(fd), o.level, o.name, o.value); err != nil {
			return fmt.Errorf("setsockopt %s: %w", o.label, err)
		}
	}
	return nil
}

func keepaliveEnable() socketOption {
	return socketOption{level: unix.SOL_SOCKET, name: unix.SO_KEEPALIVE, value: 1, label: "SO_KEEPALIVE"}
}

func reuseAddress() socketOption {
	return socketOption{level: unix.SOL_SOCKET, name: unix.SO_REUSEADDR, value: 1, label: "SO_REUSEADDR"}
}

// checkWritable asks the kernel whether the caller may create entries in dir.
func checkWritable(dir string) error {
	return unix.Access(dir, unix.W_OK)
}
