package gxserialbridge

import (
	"errors"
	"sync"
	"testing"
)

func TestPeerRegistryLimit(t *testing.T) {
	r := NewPeerRegistry(1)
	first := NewPeer(&fakeConn{}, 0)
	if err := r.Add(first); err != nil {
		t.Fatalf("Add: %v", err)
	}
	second := NewPeer(&fakeConn{}, 0)
	if err := r.Add(second); !errors.Is(err, ErrPeerLimit) {
		t.Fatalf("Add over limit = %v, want ErrPeerLimit", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
	if first.ID == second.ID {
		t.Error("peer IDs are not unique")
	}
}

func TestPeerRegistryRemoveOnce(t *testing.T) {
	r := NewPeerRegistry(0)
	p := NewPeer(&fakeConn{}, 0)
	if err := r.Add(p); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	removed := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Remove(p.ID); ok {
				mu.Lock()
				removed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if removed != 1 {
		t.Errorf("peer removed %d times, want 1", removed)
	}
	if _, ok := r.Get(p.ID); ok {
		t.Error("Get found a removed peer")
	}
}

func TestPeerRegistryBroadcastIsolation(t *testing.T) {
	r := NewPeerRegistry(0)
	a := &fakeConn{}
	b := &fakeConn{writeErr: errors.New("connection reset by peer")}
	c := &fakeConn{}
	pa, pb, pc := NewPeer(a, 0), NewPeer(b, 0), NewPeer(c, 0)
	for _, p := range []*Peer{pa, pb, pc} {
		if err := r.Add(p); err != nil {
			t.Fatal(err)
		}
	}

	evicted := r.Broadcast([]byte("data"))
	if len(evicted) != 1 || evicted[0] != pb {
		t.Fatalf("evicted = %v, want only the failing peer", evicted)
	}
	if a.data() != "data" || c.data() != "data" {
		t.Errorf("healthy peers got %q and %q, want data", a.data(), c.data())
	}
	if !b.isClosed() {
		t.Error("failing peer was not closed")
	}
	if a.isClosed() || c.isClosed() {
		t.Error("healthy peer was closed")
	}
	if r.Len() != 2 {
		t.Errorf("Len = %d, want 2", r.Len())
	}
	if pa.BytesSent() != 4 {
		t.Errorf("BytesSent = %d, want 4", pa.BytesSent())
	}

	// Further broadcasts reach the survivors only.
	if evicted := r.Broadcast([]byte("!")); len(evicted) != 0 {
		t.Errorf("second broadcast evicted %d peers", len(evicted))
	}
	if a.data() != "data!" || c.data() != "data!" {
		t.Errorf("survivors got %q and %q", a.data(), c.data())
	}
}

func TestPeerRegistryBroadcastEmpty(t *testing.T) {
	r := NewPeerRegistry(0)
	if evicted := r.Broadcast([]byte("x")); evicted != nil {
		t.Errorf("Broadcast to nobody evicted %v", evicted)
	}
}

func TestPeerRegistryCloseAll(t *testing.T) {
	r := NewPeerRegistry(0)
	conns := []*fakeConn{{}, {}}
	for _, c := range conns {
		if err := r.Add(NewPeer(c, 0)); err != nil {
			t.Fatal(err)
		}
	}
	if n := r.CloseAll(); n != 2 {
		t.Errorf("CloseAll = %d, want 2", n)
	}
	for i, c := range conns {
		if !c.isClosed() {
			t.Errorf("conn %d not closed", i)
		}
	}
	if err := r.Add(NewPeer(&fakeConn{}, 0)); !errors.Is(err, ErrStopped) {
		t.Errorf("Add after CloseAll = %v, want ErrStopped", err)
	}
	if len(r.Snapshot()) != 0 {
		t.Error("Snapshot not empty after CloseAll")
	}
}

func TestPeerSendError(t *testing.T) {
	p := NewPeer(&fakeConn{writeErr: errors.New("broken pipe")}, 0)
	err := p.Send([]byte("x"))
	var pe *PeerIOError
	if !errors.As(err, &pe) || pe.PeerID != p.ID {
		t.Fatalf("Send error = %v, want *PeerIOError for %s", err, p.ID)
	}
	if p.BytesSent() != 0 {
		t.Errorf("BytesSent = %d after failed send", p.BytesSent())
	}
}
