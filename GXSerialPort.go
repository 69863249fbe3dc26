package gxserialbridge

// --------------------------------------------------------------------------
//
//	Gurux Ltd
//
// Filename:        $HeadURL$
//
// Version:         $Revision$,
//
//	$Date$
//	$Author$
//
// # Copyright (c) Gurux Ltd
//
// ---------------------------------------------------------------------------
//
//	DESCRIPTION
//
// This file is a part of Gurux Device Framework.
//
// Gurux Device Framework is Open Source software; you can redistribute it
// and/or modify it under the terms of the GNU General Public License
// as published by the Free Software Foundation; version 2 of the License.
// Gurux Device Framework is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU General Public License for more details.
//
// More information of Gurux products: https://www.gurux.org
//
// This code is licensed under the GNU General Public License v2.
// Full text may be retrieved at http://www.gnu.org/licenses/gpl-2.0.txt
// ---------------------------------------------------------------------------

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gurux/gxcommon-go"
	"github.com/rs/zerolog"
)

// SerialStateHandler is called on every media state transition of a
// SerialPort. It runs while the port is locked and must not call back into
// it.
type SerialStateHandler func(port *SerialPort, e gxcommon.MediaStateEventArgs)

// SerialPort is a real serial device used as the device side of the server
// role. Line settings are handed to the driver as given.
type SerialPort struct {
	Port     string
	settings SerialSettings
	// writeTimeout bounds how long a write waits for output readiness.
	writeTimeout time.Duration
	log          zerolog.Logger

	mu      sync.Mutex
	s       *port
	onState atomic.Pointer[SerialStateHandler]

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
}

// NewSerialPort creates a SerialPort for the given device path.
func NewSerialPort(port string, settings SerialSettings, writeTimeout time.Duration, log zerolog.Logger) *SerialPort {
	return &SerialPort{Port: port, settings: settings, writeTimeout: writeTimeout, log: log}
}

// GetPortNames returns the serial ports found on this system.
func GetPortNames() ([]string, error) {
	return getPortNames()
}

// BaudRate returns the used baud rate.
func (g *SerialPort) BaudRate() gxcommon.BaudRate {
	return g.settings.BaudRate
}

// DataBits returns the amount of the data bits.
func (g *SerialPort) DataBits() int {
	return g.settings.DataBits
}

// StopBits returns used stop bits.
func (g *SerialPort) StopBits() gxcommon.StopBits {
	return g.settings.StopBits
}

// Parity returns used parity.
func (g *SerialPort) Parity() gxcommon.Parity {
	return g.settings.Parity
}

func (g *SerialPort) String() string {
	return fmt.Sprintf("%s %s %d %s %s", g.Port, g.settings.BaudRate, g.settings.DataBits, g.settings.StopBits, g.settings.Parity)
}

// IsOpen reports whether the device is open.
func (g *SerialPort) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.s.isOpen()
}

// Open opens the device and applies the line settings.
func (g *SerialPort) Open() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.s.isOpen() {
		return nil
	}
	g.state(gxcommon.MediaStateOpening)
	s, err := openSerialPort(g.Port, g.settings)
	if err != nil {
		g.state(gxcommon.MediaStateClosed)
		return &DeviceError{Op: "open serial port", Path: g.Port, Err: err}
	}
	g.s = s
	g.state(gxcommon.MediaStateOpen)
	g.log.Info().Str("port", g.Port).Stringer("settings", g).Msg("serial port opened")
	return nil
}

// Close closes the device. It is safe to call more than once.
func (g *SerialPort) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.s.isOpen() {
		return nil
	}
	g.state(gxcommon.MediaStateClosing)
	err := g.s.close()
	g.state(gxcommon.MediaStateClosed)
	return err
}

// WriteTimeout returns how long a write may wait for the device to accept
// output.
func (g *SerialPort) WriteTimeout() time.Duration {
	return g.writeTimeout
}

// GetBytesSent returns the number of bytes written to the device.
func (g *SerialPort) GetBytesSent() uint64 {
	return g.bytesSent.Load()
}

// GetBytesReceived returns the number of bytes read from the device.
func (g *SerialPort) GetBytesReceived() uint64 {
	return g.bytesReceived.Load()
}

// SetOnMediaStateChange installs h as the state change handler. A nil h
// removes it.
func (g *SerialPort) SetOnMediaStateChange(h SerialStateHandler) {
	if h == nil {
		g.onState.Store(nil)
		return
	}
	g.onState.Store(&h)
}

func (g *SerialPort) state(s gxcommon.MediaState) {
	if h := g.onState.Load(); h != nil {
		(*h)(g, *gxcommon.NewMediaStateEventArgs(s))
	}
}

func (g *SerialPort) current() *port {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.s == nil {
		return &port{}
	}
	return g.s
}

func (g *SerialPort) waitReadable(timeout time.Duration) (bool, error) {
	return g.current().waitReadable(timeout)
}

func (g *SerialPort) waitWritable(timeout time.Duration) (bool, error) {
	return g.current().waitWritable(timeout)
}

func (g *SerialPort) read(buf []byte) (int, error) {
	n, err := g.current().read(buf)
	if n > 0 {
		g.bytesReceived.Add(uint64(n))
	}
	return n, err
}

func (g *SerialPort) write(data []byte) (int, error) {
	n, err := g.current().write(data)
	if n > 0 {
		g.bytesSent.Add(uint64(n))
	}
	return n, err
}

func (g *SerialPort) valid() bool {
	return g.current().valid()
}
