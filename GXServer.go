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
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Server shares one serial port with many TCP peers. Serial bytes are
// broadcast to every peer; bytes from any peer are written to the port.
type Server struct {
	lifecycle
	cfg      ServerConfig
	serial   *SerialPort
	registry *PeerRegistry
	p        *message.Printer

	mu       sync.Mutex
	listener *Listener

	workers sync.WaitGroup
	peers   sync.WaitGroup
}

// NewServer validates cfg and returns a server in the Created state.
func NewServer(cfg ServerConfig, log zerolog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	settings, err := cfg.SerialSettings()
	if err != nil {
		return nil, err
	}
	log = log.With().Str("role", "server").Logger()
	s := &Server{
		lifecycle: newLifecycle(log),
		cfg:       cfg,
		serial:    NewSerialPort(cfg.SerialPort, settings, cfg.Timeout, log),
		registry:  NewPeerRegistry(cfg.MaxClients),
	}
	s.Localize(language.AmericanEnglish)
	return s, nil
}

// Localize selects the language of the console banner.
func (s *Server) Localize(tag language.Tag) {
	s.p = newPrinter(tag)
}

// Peers returns the peer registry.
func (s *Server) Peers() *PeerRegistry {
	return s.registry
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start opens the serial port, binds the listener and starts the accept and
// broadcast loops.
func (s *Server) Start() error {
	if !s.begin() {
		return ErrStopped
	}
	s.running.Store(true)
	if err := s.serial.Open(); err != nil {
		s.abort()
		return err
	}
	l, err := Listen(s.ctx, s.cfg.Address(), s.cfg.AcceptTimeout, s.cfg.AcceptRate)
	if err != nil {
		s.abort()
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
	if s.ctx.Err() != nil || !s.advance(StateRunning) {
		// Stop ran during startup; it may have missed the listener.
		_ = l.Close()
		_ = s.serial.Close()
		return ErrStopped
	}
	s.log.Info().Str("addr", l.Addr().String()).Stringer("serial", s.serial).Msg("server started")
	s.workers.Add(2)
	go s.acceptLoop(l)
	go s.serialToPeers()
	return nil
}

// SetOnSerialStateChange installs h as the state change handler of the
// serial port. Call it before Start to see the opening transitions.
func (s *Server) SetOnSerialStateChange(h SerialStateHandler) {
	s.serial.SetOnMediaStateChange(h)
}

// WritePortList prints the serial ports found on this system. It is meant
// for diagnosing a failed Start.
func (s *Server) WritePortList(w io.Writer) error {
	names, err := GetPortNames()
	if err != nil {
		return err
	}
	if len(names) > 0 {
		fmt.Fprintln(w, s.p.Sprintf("msg.available_ports", strings.Join(names, ", ")))
	}
	return nil
}

func (s *Server) abort() {
	s.shutdown(func() {
		s.closeListener()
		if err := s.serial.Close(); err != nil {
			s.log.Debug().Err(err).Msg("serial close failed")
		}
	})
}

// WriteBanner prints where the server listens.
func (s *Server) WriteBanner(w io.Writer) {
	port := strconv.Itoa(s.cfg.NetworkPort)
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		port = strconv.Itoa(addr.Port)
	}
	fmt.Fprintln(w, s.p.Sprintf("msg.server_listening", s.serial.Port, port, strconv.Itoa(s.cfg.MaxClients)))
	fmt.Fprintln(w, s.p.Sprintf("msg.press_ctrl_c_server"))
}

// Stop closes the listener, every peer, and the serial port, in that
// order, after the loops have finished or the stop timeout elapsed. It is
// idempotent and safe to call from any goroutine.
func (s *Server) Stop() {
	s.shutdown(func() {
		s.log.Info().Msg("stopping server")
		// Loops and peer goroutines are only launched under mu while the
		// context is live; passing through mu orders every Add before the
		// waits below.
		s.mu.Lock()
		s.mu.Unlock()
		if !waitTimeout(&s.workers, s.cfg.StopTimeout) {
			s.log.Warn().Msg("server loops did not finish in time")
		}
		s.closeListener()
		if n := s.registry.CloseAll(); n > 0 {
			s.log.Info().Int("peers", n).Msg("closed client connections")
		}
		if !waitTimeout(&s.peers, s.cfg.StopTimeout) {
			s.log.Warn().Msg("client loops did not finish in time")
		}
		if err := s.serial.Close(); err != nil {
			s.log.Warn().Err(err).Msg("serial close failed")
		}
		s.log.Info().Msg("server stopped")
	})
}

func (s *Server) closeListener() {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return
	}
	if err := l.Close(); err != nil {
		s.log.Debug().Err(err).Msg("listener close failed")
	}
}

func (s *Server) active() bool {
	return s.ctx.Err() == nil && s.Running()
}

// greeting is sent to every admitted peer before any relayed data.
func (s *Server) greeting() []byte {
	return []byte(fmt.Sprintf("Connected to %s at %d baud\r\n", s.serial.Port, s.cfg.BaudRate))
}

func (s *Server) acceptLoop(l *Listener) {
	defer s.workers.Done()
	for s.active() {
		conn, err := l.Accept()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) || !s.active() {
				return
			}
			s.log.Error().Err(err).Msg("accept failed")
			continue
		}
		s.admit(conn, l)
	}
}

// admit registers an accepted connection or refuses it.
func (s *Server) admit(conn net.Conn, l *Listener) {
	log := s.log.With().Str("remote", conn.RemoteAddr().String()).Logger()
	if !l.Allow() {
		log.Warn().Msg("connection rate exceeded, refusing client")
		_ = closeConn(conn)
		return
	}
	peer := NewPeer(conn, s.cfg.Timeout)
	if err := s.registry.Add(peer); err != nil {
		if errors.Is(err, ErrPeerLimit) {
			log.Warn().Int("max_clients", s.cfg.MaxClients).Msg("connection limit reached, refusing client")
		}
		_ = closeConn(conn)
		return
	}
	log.Info().Str("peer", peer.ID).Int("clients", s.registry.Len()).Msg("client connected")
	if s.cfg.Greeting {
		if err := peer.Send(s.greeting()); err != nil {
			log.Warn().Err(err).Msg("greeting failed")
			s.dropPeer(peer)
			return
		}
	}
	if !s.trackPeer(peer) {
		s.dropPeer(peer)
	}
}

// trackPeer starts the receive loop of peer unless shutdown has been
// requested.
func (s *Server) trackPeer(peer *Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.peers.Add(1)
	go s.peerToSerial(peer)
	return true
}

// dropPeer removes and closes peer unless someone else already did.
func (s *Server) dropPeer(peer *Peer) {
	if _, ok := s.registry.Remove(peer.ID); !ok {
		return
	}
	_ = peer.Close()
	s.log.Info().
		Str("peer", peer.ID).
		Str("remote", peer.RemoteAddr).
		Str("sent", humanize.Bytes(peer.BytesSent())).
		Str("received", humanize.Bytes(peer.BytesReceived())).
		Int("clients", s.registry.Len()).
		Msg("client disconnected")
}

// peerToSerial copies one peer's bytes to the serial port.
func (s *Server) peerToSerial(peer *Peer) {
	defer s.peers.Done()
	defer s.dropPeer(peer)
	buf := make([]byte, peerChunkSize)
	for s.active() {
		if _, ok := s.registry.Get(peer.ID); !ok {
			return
		}
		n, res, err := readNetwork(peer.Conn, buf, s.cfg.PeerPollTimeout)
		switch res {
		case outcomeIdle:
			continue
		case outcomeLost, outcomeTransient:
			if s.active() && !errors.Is(err, net.ErrClosed) {
				s.log.Debug().Err(&PeerIOError{PeerID: peer.ID, Op: "receive", Err: err}).Msg("client read ended")
			}
			return
		}
		peer.addReceived(n)
		data := buf[:n]
		w := deviceWrite{
			wait:      s.cfg.PeerPollTimeout,
			limit:     s.serial.WriteTimeout(),
			alive:     s.active,
			log:       s.log,
			direction: "tcp->serial",
		}
		if err := writeDevice(s.serial, data, w); err != nil {
			if errors.Is(err, ErrStopped) {
				return
			}
			if isDeviceGone(err) {
				s.log.Error().Err(err).Msg("serial port disconnected")
				return
			}
			s.log.Error().Err(err).Str("peer", peer.ID).Msg("serial write failed")
			continue
		}
		logTransfer(s.log, "tcp->serial", data)
	}
}

// serialToPeers broadcasts serial bytes. The port is only read while at
// least one peer is connected; otherwise data stays in the driver buffer.
func (s *Server) serialToPeers() {
	defer s.workers.Done()
	buf := make([]byte, serialChunkSize)
	for s.active() {
		if s.registry.Len() == 0 {
			if !s.sleep(s.cfg.SerialPollTimeout) {
				return
			}
			continue
		}
		n, res, err := readDevice(s.serial, buf, s.cfg.SerialPollTimeout)
		switch res {
		case outcomeIdle:
			continue
		case outcomeTransient:
			s.log.Error().Err(err).Msg("serial wait failed")
			continue
		case outcomeLost:
			s.log.Error().Err(err).Msg("serial port disconnected")
			return
		}
		data := buf[:n]
		for _, p := range s.registry.Broadcast(data) {
			s.log.Info().
				Str("peer", p.ID).
				Str("remote", p.RemoteAddr).
				Str("sent", humanize.Bytes(p.BytesSent())).
				Msg("client send failed, disconnected")
		}
		logTransfer(s.log, "serial->tcp", data)
	}
}
