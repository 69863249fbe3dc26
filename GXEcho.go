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
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Echo publishes a pseudo-terminal and writes every byte it reads straight
// back. It stands in for a serial device when testing a client bridge.
type Echo struct {
	lifecycle
	cfg     EchoConfig
	device  *PseudoDevice
	p       *message.Printer

	// mu orders the echo loop launch against Stop.
	mu      sync.Mutex
	workers sync.WaitGroup
}

// NewEcho validates cfg and returns an echo peer in the Created state.
func NewEcho(cfg EchoConfig, log zerolog.Logger) (*Echo, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = log.With().Str("role", "echo").Logger()
	// Serial programs run by other users must be able to open the device.
	device, err := NewPseudoDevice(cfg.DevicePath, WithDeviceLogger(log), WithDeviceMode(0o666))
	if err != nil {
		return nil, err
	}
	e := &Echo{
		lifecycle: newLifecycle(log),
		cfg:       cfg,
		device:    device,
	}
	e.Localize(language.AmericanEnglish)
	return e, nil
}

// Localize selects the language of the console banner.
func (e *Echo) Localize(tag language.Tag) {
	e.p = newPrinter(tag)
}

// Device returns the published pseudo-terminal.
func (e *Echo) Device() *PseudoDevice {
	return e.device
}

// Start creates the device and starts echoing.
func (e *Echo) Start() error {
	if !e.begin() {
		return ErrStopped
	}
	e.running.Store(true)
	if err := e.device.Create(); err != nil {
		e.shutdown(func() {
			_ = e.device.Close()
		})
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx.Err() != nil || !e.advance(StateRunning) {
		return ErrStopped
	}
	e.workers.Add(1)
	go e.echoLoop()
	return nil
}

// WriteBanner prints the device path and how to stop.
func (e *Echo) WriteBanner(w io.Writer) {
	fmt.Fprintln(w, e.p.Sprintf("msg.echo_running"))
	fmt.Fprintln(w, e.p.Sprintf("msg.echo_device", e.device.DisplayPath()))
	if e.device.PublishedPath() != "" {
		fmt.Fprintln(w, e.p.Sprintf("msg.actual_device", e.device.SlaveName()))
	}
	fmt.Fprintln(w, e.p.Sprintf("msg.echo_baudrate", strconv.Itoa(e.cfg.BaudRate)))
	fmt.Fprintln(w, e.p.Sprintf("msg.press_ctrl_c"))
}

// Stop ends the echo loop and removes the device. It is idempotent.
func (e *Echo) Stop() {
	e.shutdown(func() {
		e.mu.Lock()
		e.mu.Unlock()
		if !waitTimeout(&e.workers, e.cfg.StopTimeout) {
			e.log.Warn().Msg("echo loop did not finish in time")
		}
		if err := e.device.Close(); err != nil {
			e.log.Warn().Err(err).Msg("device close failed")
		}
		e.log.Info().Msg("echo stopped")
	})
}

func (e *Echo) echoLoop() {
	defer e.workers.Done()
	buf := make([]byte, echoChunkSize)
	for e.ctx.Err() == nil {
		n, res, err := readDevice(e.device, buf, e.cfg.PollTimeout)
		switch res {
		case outcomeIdle:
			continue
		case outcomeTransient:
			e.log.Error().Err(err).Msg("device wait failed")
			continue
		case outcomeLost:
			e.log.Info().Err(err).Msg("device closed")
			return
		}
		data := buf[:n]
		logTransfer(e.log, "received", data)
		w := deviceWrite{
			wait:      e.cfg.PollTimeout,
			alive:     func() bool { return e.ctx.Err() == nil },
			log:       e.log,
			direction: "echo",
		}
		if err := writeDevice(e.device, data, w); err != nil {
			if errors.Is(err, ErrStopped) {
				return
			}
			if isDeviceGone(err) {
				e.log.Info().Err(err).Msg("device closed")
				return
			}
			e.log.Error().Err(err).Msg("echo write failed")
			continue
		}
	}
}
