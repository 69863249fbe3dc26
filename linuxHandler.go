//go:build linux

package gxserialbridge

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const (
	ioctlReadTermios  = unix.TCGETS
	ioctlWriteTermios = unix.TCSETS
	cmspar            = 0x40000000
)

// toUnixBaudrate maps a baud rate to the corresponding constant in the unix package.
var toUnixBaudrate = map[int]uint32{
	50:      unix.B50,
	75:      unix.B75,
	110:     unix.B110,
	134:     unix.B134,
	150:     unix.B150,
	200:     unix.B200,
	300:     unix.B300,
	600:     unix.B600,
	1200:    unix.B1200,
	1800:    unix.B1800,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

func setSpeed(t *unix.Termios, baudRate int) error {
	speed, ok := toUnixBaudrate[baudRate]
	if !ok {
		return fmt.Errorf("unsupported baud rate: %d", baudRate)
	}
	t.Cflag &^= unix.CBAUD
	t.Cflag |= speed
	t.Ispeed = speed
	t.Ospeed = speed
	return nil
}

func clearMarkSpace(t *unix.Termios) {
	t.Cflag &^= cmspar
}

func setMarkSpace(t *unix.Termios, mark bool) error {
	t.Cflag |= unix.PARENB | cmspar
	if mark {
		t.Cflag |= unix.PARODD
	} else {
		t.Cflag &^= unix.PARODD
	}
	return nil
}

func flushInput(fd int) error {
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH); err != nil {
		return fmt.Errorf("tcflush failed: %w", err)
	}
	return nil
}

// keepaliveOptions returns the keepalive probes Linux supports. Zero values
// are left at the kernel default.
func keepaliveOptions(k KeepAlive) []socketOption {
	opts := []socketOption{keepaliveEnable()}
	if s := int(k.Idle.Seconds()); s > 0 {
		opts = append(opts, socketOption{level: unix.IPPROTO_TCP, name: unix.TCP_KEEPIDLE, value: s, label: "TCP_KEEPIDLE"})
	}
	if s := int(k.Interval.Seconds()); s > 0 {
		opts = append(opts, socketOption{level: unix.IPPROTO_TCP, name: unix.TCP_KEEPINTVL, value: s, label: "TCP_KEEPINTVL"})
	}
	if k.Count > 0 {
		opts = append(opts, socketOption{level: unix.IPPROTO_TCP, name: unix.TCP_KEEPCNT, value: k.Count, label: "TCP_KEEPCNT"})
	}
	return opts
}

// getPortNames returns the serial devices that have a driver bound in sysfs.
func getPortNames() ([]string, error) {
	patterns := []string{
		"/dev/ttyS*",
		"/dev/ttyUSB*",
		"/dev/ttyXRUSB*",
		"/dev/ttyACM*",
		"/dev/ttyAMA*",
		"/dev/rfcomm*",
		"/dev/ttyAP*",
	}
	var devices []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, device := range matches {
			sysPath := filepath.Join("/sys/class/tty", filepath.Base(device), "device")
			if _, err := os.Stat(sysPath); err == nil {
				devices = append(devices, device)
			}
		}
	}
	return devices, nil
}
