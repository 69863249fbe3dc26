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
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// BackoffDelay returns the wait before reconnect attempt n (1-based):
// base doubled for every earlier attempt, capped at limit.
func BackoffDelay(attempt int, base, limit time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		if d >= limit {
			return limit
		}
		d *= 2
	}
	return min(d, limit)
}

// ReconnectState tracks consecutive reconnect attempts. At most one
// recovery runs at a time; a loss reported while one is in progress is
// ignored.
type ReconnectState struct {
	mu          sync.Mutex
	attempt     int
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	inProgress  bool
}

// NewReconnectState returns a state allowing maxAttempts consecutive
// attempts with delays between baseDelay and maxDelay.
func NewReconnectState(maxAttempts int, baseDelay, maxDelay time.Duration) *ReconnectState {
	return &ReconnectState{maxAttempts: maxAttempts, baseDelay: baseDelay, maxDelay: maxDelay}
}

// Attempt returns the number of consecutive attempts since the last
// successful connect.
func (r *ReconnectState) Attempt() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}

// MaxAttempts returns the configured attempt limit.
func (r *ReconnectState) MaxAttempts() int {
	return r.maxAttempts
}

// Reset clears the attempt counter after a successful connect.
func (r *ReconnectState) Reset() {
	r.mu.Lock()
	r.attempt = 0
	r.mu.Unlock()
}

// Delay returns the backoff before the given attempt.
func (r *ReconnectState) Delay(attempt int) time.Duration {
	return BackoffDelay(attempt, r.baseDelay, r.maxDelay)
}

// begin claims the recovery. It reports false when one is already running.
func (r *ReconnectState) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inProgress {
		return false
	}
	r.inProgress = true
	return true
}

func (r *ReconnectState) end() {
	r.mu.Lock()
	r.inProgress = false
	r.mu.Unlock()
}

// next increments the attempt counter. exhausted is true when the new
// value exceeds the limit.
func (r *ReconnectState) next() (attempt int, exhausted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempt++
	return r.attempt, r.attempt > r.maxAttempts
}

// Dialer opens stream connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Connector dials the remote listener for the client role.
type Connector struct {
	addr    string
	timeout time.Duration
	dialer  Dialer
	state   *ReconnectState
	log     zerolog.Logger
}

// NewConnector builds a connector for cfg. When dialer is nil a net.Dialer
// is used that enables TCP keepalive and the probe options the platform
// supports before the connection is established.
func NewConnector(cfg ClientConfig, state *ReconnectState, dialer Dialer, log zerolog.Logger) *Connector {
	if dialer == nil {
		dialer = newKeepaliveDialer(cfg, log)
	}
	return &Connector{
		addr:    cfg.Address(),
		timeout: cfg.ConnectTimeout,
		dialer:  dialer,
		state:   state,
		log:     log,
	}
}

func newKeepaliveDialer(cfg ClientConfig, log zerolog.Logger) *net.Dialer {
	opts := keepaliveOptions(cfg.KeepAlive)
	return &net.Dialer{
		Timeout: cfg.ConnectTimeout,
		// Probes are configured through opts.
		KeepAlive: -1,
		Control: func(_, _ string, c syscall.RawConn) error {
			var serr error
			if err := c.Control(func(fd uintptr) {
				serr = setSocketOptions(fd, opts)
			}); err != nil {
				return err
			}
			if serr != nil {
				// Keepalive only speeds up loss detection.
				log.Warn().Err(serr).Msg("failed to set keepalive options")
			}
			return nil
		},
	}
}

// Address returns the remote address.
func (c *Connector) Address() string {
	return c.addr
}

// Connect dials the remote listener within the connect timeout. On success
// the reconnect attempt counter is reset.
func (c *Connector) Connect(ctx context.Context) (net.Conn, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	c.log.Info().Str("addr", c.addr).Msg("connecting")
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		return nil, &ConnectionError{Op: "connect", Addr: c.addr, Err: err}
	}
	if c.state != nil {
		c.state.Reset()
	}
	c.log.Info().Str("addr", c.addr).Msg("connected")
	return conn, nil
}

// Listener accepts peers for the server role. Accept waits are bounded so
// the accept loop observes shutdown, and a token bucket gates bursts of new
// connections.
type Listener struct {
	ln            *net.TCPListener
	acceptTimeout time.Duration
	limiter       *rate.Limiter
	closeOnce     sync.Once
	closeErr      error
}

// Listen binds addr with address reuse enabled. acceptRate is the number of
// new peers admitted per second; zero or less disables the gate.
func Listen(ctx context.Context, addr string, acceptTimeout time.Duration, acceptRate float64) (*Listener, error) {
	opts := []socketOption{reuseAddress()}
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var serr error
			if err := c.Control(func(fd uintptr) {
				serr = setSocketOptions(fd, opts)
			}); err != nil {
				return err
			}
			return serr
		},
	}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Op: "listen", Addr: addr, Err: err}
	}
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return nil, &ConnectionError{Op: "listen", Addr: addr, Err: errors.New("not a TCP listener")}
	}
	l := &Listener{ln: tl, acceptTimeout: acceptTimeout}
	if acceptRate > 0 {
		burst := max(int(acceptRate), 1)
		l.limiter = rate.NewLimiter(rate.Limit(acceptRate), burst)
	}
	return l, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept waits at most the accept timeout for a connection. An expired wait
// returns an error matching os.ErrDeadlineExceeded.
func (l *Listener) Accept() (net.Conn, error) {
	if l.acceptTimeout > 0 {
		if err := l.ln.SetDeadline(time.Now().Add(l.acceptTimeout)); err != nil {
			return nil, err
		}
	}
	return l.ln.Accept()
}

// Allow reports whether another peer may be admitted now.
func (l *Listener) Allow() bool {
	return l.limiter == nil || l.limiter.Allow()
}

// Close stops listening. It is safe to call more than once.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.ln.Close()
		if errors.Is(l.closeErr, net.ErrClosed) {
			l.closeErr = nil
		}
	})
	return l.closeErr
}
