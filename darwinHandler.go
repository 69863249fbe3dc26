//go:build darwin

package gxserialbridge

import (
	"errors"
	"fmt"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	ioctlReadTermios  = unix.TIOCGETA
	ioctlWriteTermios = unix.TIOCSETA
)

// toUnixBaudrate maps a baud rate to the corresponding constant in the mac package.
var toUnixBaudrate = map[int]uint64{
	50:     unix.B50,
	75:     unix.B75,
	110:    unix.B110,
	134:    unix.B134,
	150:    unix.B150,
	200:    unix.B200,
	300:    unix.B300,
	600:    unix.B600,
	1200:   unix.B1200,
	1800:   unix.B1800,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}

func setSpeed(t *unix.Termios, baudRate int) error {
	speed, ok := toUnixBaudrate[baudRate]
	if !ok {
		return fmt.Errorf("unsupported baud rate: %d", baudRate)
	}
	t.Ispeed = speed
	t.Ospeed = speed
	return nil
}

func clearMarkSpace(*unix.Termios) {}

func setMarkSpace(*unix.Termios, bool) error {
	return errors.New("mark/space parity not supported on this system")
}

func flushInput(fd int) error {
	v := unix.TCIFLUSH
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(unix.TIOCFLUSH), uintptr(unsafe.Pointer(&v)))
	if errno != 0 {
		return fmt.Errorf("tcflush failed: %w", errno)
	}
	return nil
}

// keepaliveOptions returns the keepalive probes macOS supports. The idle
// time is TCP_KEEPALIVE there.
func keepaliveOptions(k KeepAlive) []socketOption {
	opts := []socketOption{keepaliveEnable()}
	if s := int(k.Idle.Seconds()); s > 0 {
		opts = append(opts, socketOption{level: unix.IPPROTO_TCP, name: unix.TCP_KEEPALIVE, value: s, label: "TCP_KEEPALIVE"})
	}
	if s := int(k.Interval.Seconds()); s > 0 {
		opts = append(opts, socketOption{level: unix.IPPROTO_TCP, name: unix.TCP_KEEPINTVL, value: s, label: "TCP_KEEPINTVL"})
	}
	if k.Count > 0 {
		opts = append(opts, socketOption{level: unix.IPPROTO_TCP, name: unix.TCP_KEEPCNT, value: k.Count, label: "TCP_KEEPCNT"})
	}
	return opts
}

// getPortNames returns the call-in and call-out serial device nodes.
func getPortNames() ([]string, error) {
	var devices []string
	seen := make(map[string]struct{})
	for _, pattern := range []string{"/dev/tty.*", "/dev/cu.*"} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, device := range matches {
			if _, ok := seen[device]; !ok {
				seen[device] = struct{}{}
				devices = append(devices, device)
			}
		}
	}
	return devices, nil
}
