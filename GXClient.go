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
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// LossResult is the outcome of one HandleConnectionLoss pass.
type LossResult int

const (
	// LossIgnored means another recovery was already in progress or the
	// bridge was not running.
	LossIgnored LossResult = iota
	// LossRecovered means a new connection is up and the relay restarted.
	LossRecovered
	// LossRetry means the attempt failed and another one is due.
	LossRetry
	// LossStopped means shutdown was requested or attempts are exhausted.
	LossStopped
)

// Client publishes a pseudo-terminal and relays its bytes to a remote TCP
// listener. A lost connection is re-established with exponential backoff;
// the device stays published throughout.
type Client struct {
	lifecycle
	cfg       ClientConfig
	device    *PseudoDevice
	reconnect *ReconnectState
	connector *Connector
	p         *message.Printer

	// loss receives one notification per relay session that saw its
	// connection fail.
	loss       chan struct{}
	supervisor sync.WaitGroup

	sessMu sync.Mutex
	sess   *clientSession
}

// clientSession is one connection and the two relay loops serving it.
type clientSession struct {
	conn    net.Conn
	lost    chan struct{}
	once    sync.Once
	workers sync.WaitGroup
}

// finish ends the session without reporting a loss.
func (s *clientSession) finish() {
	s.once.Do(func() {
		close(s.lost)
	})
}

// reportLoss ends the session and notifies the supervisor. Only the first
// call of a session has an effect.
func (s *clientSession) reportLoss(notify chan<- struct{}) {
	s.once.Do(func() {
		close(s.lost)
		select {
		case notify <- struct{}{}:
		default:
		}
	})
}

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	log    zerolog.Logger
	dialer Dialer
}

// WithClientLogger sets the client logger.
func WithClientLogger(log zerolog.Logger) ClientOption {
	return func(o *clientOptions) {
		o.log = log
	}
}

// WithDialer replaces the TCP dialer.
func WithDialer(d Dialer) ClientOption {
	return func(o *clientOptions) {
		o.dialer = d
	}
}

// NewClient validates cfg and returns a client in the Created state.
func NewClient(cfg ClientConfig, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := clientOptions{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.With().Str("role", "client").Logger()
	device, err := NewPseudoDevice(cfg.DevicePath, WithDeviceLogger(log))
	if err != nil {
		return nil, err
	}
	state := NewReconnectState(cfg.MaxReconnectAttempts, cfg.ReconnectDelay, cfg.MaxReconnectDelay)
	c := &Client{
		lifecycle: newLifecycle(log),
		cfg:       cfg,
		device:    device,
		reconnect: state,
		connector: NewConnector(cfg, state, o.dialer, log),
		loss:      make(chan struct{}, 1),
	}
	c.Localize(language.AmericanEnglish)
	return c, nil
}

// Localize selects the language of the console banner.
func (c *Client) Localize(tag language.Tag) {
	c.p = newPrinter(tag)
}

// Device returns the published pseudo-terminal.
func (c *Client) Device() *PseudoDevice {
	return c.device
}

// ReconnectAttempts returns the consecutive reconnect attempts made since
// the last successful connect.
func (c *Client) ReconnectAttempts() int {
	return c.reconnect.Attempt()
}

// Start creates the device, connects and starts relaying. Any failure
// releases what was acquired and is returned.
func (c *Client) Start() error {
	if !c.begin() {
		return ErrStopped
	}
	c.running.Store(true)
	if err := c.device.Create(); err != nil {
		c.abort()
		return err
	}
	conn, err := c.connector.Connect(c.ctx)
	if err != nil {
		c.abort()
		return err
	}
	// A Stop that raced the connect has already torn down the device; it
	// also ends a session that slipped in before it.
	if !c.startSession(conn) || !c.advance(StateRunning) || !c.launchSupervisor() {
		return ErrStopped
	}
	return nil
}

// launchSupervisor starts the recovery goroutine unless shutdown has been
// requested. Stop passes through sessMu before waiting on the group, so no
// Add can follow its Wait.
func (c *Client) launchSupervisor() bool {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	if c.ctx.Err() != nil {
		return false
	}
	c.supervisor.Add(1)
	go c.supervise()
	return true
}

// abort releases startup resources after a failed Start.
func (c *Client) abort() {
	c.shutdown(func() {
		if err := c.device.Close(); err != nil {
			c.log.Debug().Err(err).Msg("device close failed")
		}
	})
}

// WriteBanner prints how to reach the published device.
func (c *Client) WriteBanner(w io.Writer) {
	path := c.device.DisplayPath()
	fmt.Fprintln(w, c.p.Sprintf("msg.device_available", path))
	if published := c.device.PublishedPath(); published != "" {
		fmt.Fprintln(w, c.p.Sprintf("msg.actual_device", c.device.SlaveName()))
	}
	fmt.Fprintln(w, c.p.Sprintf("msg.forwarding_to", c.connector.Address()))
	fmt.Fprintln(w, c.p.Sprintf("msg.connect_using"))
	fmt.Fprintf(w, "  screen %s %s\n", path, strconv.Itoa(DefaultBaudRate))
	fmt.Fprintf(w, "  minicom -D %s\n", path)
	fmt.Fprintln(w, c.p.Sprintf("msg.other_software"))
	fmt.Fprintln(w, c.p.Sprintf("msg.press_ctrl_c_client"))
}

// Stop shuts the client down: it signals the loops, waits for them within
// the stop timeout, closes the connection and removes the device. It is
// idempotent and safe to call from any goroutine.
func (c *Client) Stop() {
	c.shutdown(func() {
		c.log.Info().Msg("stopping client")
		// Supervisors are only launched under sessMu while the context is
		// live; passing through it orders every Add before the wait below.
		c.sessMu.Lock()
		c.sessMu.Unlock()
		if !waitTimeout(&c.supervisor, c.cfg.StopTimeout) {
			c.log.Warn().Msg("reconnect supervisor did not finish in time")
		}
		c.endSession(c.cfg.StopTimeout)
		if err := c.device.Close(); err != nil {
			c.log.Warn().Err(err).Msg("device close failed")
		}
		c.log.Info().Msg("client stopped")
	})
}

// supervise turns loss notifications into recovery passes. A failed pass
// counts as the next detected loss, so attempts continue until one succeeds
// or the limit is reached.
func (c *Client) supervise() {
	defer c.supervisor.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.loss:
		}
		for {
			r := c.HandleConnectionLoss()
			if r != LossRetry {
				break
			}
		}
		if !c.Running() {
			return
		}
	}
}

// HandleConnectionLoss runs one recovery pass: it increments the attempt
// counter, waits the backoff delay, replaces the connection and restarts
// the relay loops. When the attempt limit is exceeded the client stops
// running. Concurrent calls while a pass is in progress are ignored.
func (c *Client) HandleConnectionLoss() LossResult {
	if !c.Running() {
		return LossIgnored
	}
	if !c.reconnect.begin() {
		c.log.Debug().Msg("reconnection already in progress")
		return LossIgnored
	}
	defer c.reconnect.end()

	attempt, exhausted := c.reconnect.next()
	limit := c.reconnect.MaxAttempts()
	if exhausted {
		c.log.Error().Int("max_attempts", limit).Msg("maximum reconnection attempts reached, stopping")
		c.halt()
		return LossStopped
	}
	delay := c.reconnect.Delay(attempt)
	if !c.advance(StateReconnecting) {
		return LossStopped
	}
	c.log.Info().Int("attempt", attempt).Int("max_attempts", limit).Dur("delay", delay).Msg("attempting to reconnect")
	if !c.sleep(delay) {
		c.log.Info().Msg("shutdown requested during reconnection delay")
		return LossStopped
	}

	c.endSession(c.cfg.RestartTimeout)

	conn, err := c.connector.Connect(c.ctx)
	if err != nil {
		if c.ctx.Err() != nil {
			return LossStopped
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnection failed")
		return LossRetry
	}
	if !c.device.Valid() {
		c.log.Error().Msg("virtual device is no longer valid, stopping")
		_ = closeConn(conn)
		c.halt()
		return LossStopped
	}
	if !c.startSession(conn) || !c.advance(StateRunning) {
		return LossStopped
	}
	c.log.Info().Str("addr", c.connector.Address()).Msg("reconnected")
	return LossRecovered
}

// startSession installs conn and launches both relay directions. It
// refuses, and closes conn, once shutdown has been requested.
func (c *Client) startSession(conn net.Conn) bool {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	if c.ctx.Err() != nil {
		_ = closeConn(conn)
		return false
	}
	s := &clientSession{conn: conn, lost: make(chan struct{})}
	c.sess = s
	s.workers.Add(2)
	go c.networkToDevice(s)
	go c.deviceToNetwork(s)
	return true
}

// endSession stops the current relay loops, waits for them within timeout
// and closes the connection. A session is ended at most once.
func (c *Client) endSession(timeout time.Duration) {
	c.sessMu.Lock()
	s := c.sess
	c.sess = nil
	c.sessMu.Unlock()
	if s == nil {
		return
	}
	s.finish()
	if !waitTimeout(&s.workers, timeout) {
		c.log.Warn().Msg("relay loops did not finish in time")
	}
	if err := closeConn(s.conn); err != nil {
		c.log.Debug().Err(err).Msg("connection close failed")
	}
}

func (c *Client) active(s *clientSession) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-s.lost:
		return false
	default:
		return c.Running()
	}
}

// networkToDevice copies connection bytes into the pseudo-terminal master.
func (c *Client) networkToDevice(s *clientSession) {
	defer s.workers.Done()
	buf := make([]byte, clientChunkSize)
	for c.active(s) {
		n, res, err := readNetwork(s.conn, buf, c.cfg.PollTimeout)
		switch res {
		case outcomeIdle:
			continue
		case outcomeLost, outcomeTransient:
			if c.active(s) {
				c.log.Warn().Err(err).Msg("connection lost")
				s.reportLoss(c.loss)
			}
			return
		}
		data := buf[:n]
		w := deviceWrite{
			wait:      c.cfg.PollTimeout,
			alive:     func() bool { return c.active(s) },
			log:       c.log,
			direction: "tcp->device",
		}
		if err := writeDevice(c.device, data, w); err != nil {
			if errors.Is(err, ErrStopped) {
				return
			}
			if isDeviceGone(err) {
				c.log.Info().Err(err).Msg("virtual device disconnected")
				return
			}
			c.log.Error().Err(err).Msg("device write failed")
			continue
		}
		logTransfer(c.log, "tcp->device", data)
	}
}

// deviceToNetwork copies pseudo-terminal bytes onto the connection.
func (c *Client) deviceToNetwork(s *clientSession) {
	defer s.workers.Done()
	buf := make([]byte, clientChunkSize)
	for c.active(s) {
		n, res, err := readDevice(c.device, buf, c.cfg.PollTimeout)
		switch res {
		case outcomeIdle:
			continue
		case outcomeTransient:
			c.log.Error().Err(err).Msg("device wait failed")
			continue
		case outcomeLost:
			c.log.Info().Err(err).Msg("virtual device disconnected")
			return
		}
		data := buf[:n]
		if err := writeNetwork(s.conn, data, c.cfg.ConnectTimeout); err != nil {
			if c.active(s) {
				c.log.Warn().Err(err).Msg("connection lost")
				s.reportLoss(c.loss)
			}
			return
		}
		logTransfer(c.log, "device->tcp", data)
	}
}
