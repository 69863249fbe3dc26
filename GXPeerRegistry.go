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
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Peer is one accepted network connection in the server role.
type Peer struct {
	// ID is assigned at accept time and is unique for the process lifetime.
	ID          string
	Conn        net.Conn
	RemoteAddr  string
	ConnectedAt time.Time

	writeTimeout  time.Duration
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
	closeOnce     sync.Once
	closeErr      error
}

// NewPeer wraps an accepted connection. writeTimeout bounds every Send so
// one stalled reader cannot hold up a broadcast indefinitely; zero disables
// the bound.
func NewPeer(conn net.Conn, writeTimeout time.Duration) *Peer {
	p := &Peer{
		ID:           uuid.NewString(),
		Conn:         conn,
		ConnectedAt:  time.Now().UTC(),
		writeTimeout: writeTimeout,
	}
	if addr := conn.RemoteAddr(); addr != nil {
		p.RemoteAddr = addr.String()
	}
	return p
}

// Send writes all of data to the peer.
func (p *Peer) Send(data []byte) error {
	if err := writeNetwork(p.Conn, data, p.writeTimeout); err != nil {
		return &PeerIOError{PeerID: p.ID, Op: "send", Err: err}
	}
	p.bytesSent.Add(uint64(len(data)))
	return nil
}

// BytesSent returns the number of bytes delivered to the peer.
func (p *Peer) BytesSent() uint64 {
	return p.bytesSent.Load()
}

// BytesReceived returns the number of bytes read from the peer.
func (p *Peer) BytesReceived() uint64 {
	return p.bytesReceived.Load()
}

func (p *Peer) addReceived(n int) {
	p.bytesReceived.Add(uint64(n))
}

// Close closes the connection. Later calls return the first result.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = closeConn(p.Conn)
	})
	return p.closeErr
}

// PeerRegistry is a thread-safe set of the currently connected peers.
// Peers keep their accept order. Once closed, the registry refuses new
// peers.
type PeerRegistry struct {
	mu       sync.Mutex
	peers    []*Peer
	maxPeers int
	closed   bool
}

// NewPeerRegistry returns an empty registry holding at most maxPeers peers.
// A maxPeers of zero or less means no limit.
func NewPeerRegistry(maxPeers int) *PeerRegistry {
	return &PeerRegistry{maxPeers: maxPeers}
}

// Add registers p. It returns ErrPeerLimit when the registry is full and
// ErrStopped once CloseAll has run. The caller keeps ownership of p on
// error.
func (r *PeerRegistry) Add(p *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrStopped
	}
	if r.maxPeers > 0 && len(r.peers) >= r.maxPeers {
		return ErrPeerLimit
	}
	r.peers = append(r.peers, p)
	return nil
}

// Remove deletes the peer with the given ID. Only the call that actually
// removed the peer gets ok == true, so teardown runs exactly once even when
// a receive loop and a broadcast fail on the same peer concurrently.
func (r *PeerRegistry) Remove(id string) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

func (r *PeerRegistry) removeLocked(id string) (*Peer, bool) {
	for i, p := range r.peers {
		if p.ID == id {
			r.peers = append(r.peers[:i], r.peers[i+1:]...)
			return p, true
		}
	}
	return nil, false
}

// Get returns the peer with the given ID.
func (r *PeerRegistry) Get(id string) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.peers {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Len returns the number of registered peers.
func (r *PeerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Snapshot returns a copy of the registered peers. The caller may iterate
// it without holding any lock.
func (r *PeerRegistry) Snapshot() []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Peer, len(r.peers))
	copy(out, r.peers)
	return out
}

// Broadcast sends data to every peer in a snapshot taken at entry. Sends
// happen outside the lock. Peers whose send failed are removed in one batch
// afterwards, closed, and returned. A failing peer never prevents delivery
// to the others.
func (r *PeerRegistry) Broadcast(data []byte) []*Peer {
	var failed []*Peer
	for _, p := range r.Snapshot() {
		if err := p.Send(data); err != nil {
			failed = append(failed, p)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	var evicted []*Peer
	r.mu.Lock()
	for _, p := range failed {
		if _, ok := r.removeLocked(p.ID); ok {
			evicted = append(evicted, p)
		}
	}
	r.mu.Unlock()
	for _, p := range evicted {
		_ = p.Close()
	}
	return evicted
}

// CloseAll closes every peer, empties the registry and refuses further
// additions. It returns the number of peers closed.
func (r *PeerRegistry) CloseAll() int {
	r.mu.Lock()
	peers := r.peers
	r.peers = nil
	r.closed = true
	r.mu.Unlock()
	for _, p := range peers {
		_ = p.Close()
	}
	return len(peers)
}
