package gxserialbridge

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestStateString(t *testing.T) {
	want := map[State]string{
		StateCreated:      "Created",
		StateStarting:     "Starting",
		StateRunning:      "Running",
		StateReconnecting: "Reconnecting",
		StateStopping:     "Stopping",
		StateStopped:      "Stopped",
		State(99):         "Unknown",
	}
	for s, w := range want {
		if s.String() != w {
			t.Errorf("State(%d).String() = %q, want %q", int(s), s.String(), w)
		}
	}
}

func TestLifecycleShutdownOnce(t *testing.T) {
	l := newLifecycle(zerolog.Nop())
	l.running.Store(true)
	var mu sync.Mutex
	runs := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.shutdown(func() {
				mu.Lock()
				runs++
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
			})
			if l.State() != StateStopped {
				t.Errorf("shutdown returned in state %v", l.State())
			}
		}()
	}
	wg.Wait()
	if runs != 1 {
		t.Errorf("teardown ran %d times, want 1", runs)
	}
	if l.Running() {
		t.Error("Running = true after shutdown")
	}
	select {
	case <-l.Done():
	default:
		t.Error("Done not closed after shutdown")
	}
	if l.begin() {
		t.Error("begin succeeded after shutdown")
	}
}

func TestLifecycleSleepInterrupted(t *testing.T) {
	l := newLifecycle(zerolog.Nop())
	go func() {
		time.Sleep(10 * time.Millisecond)
		l.halt()
	}()
	start := time.Now()
	if l.sleep(5 * time.Second) {
		t.Error("sleep completed despite halt")
	}
	if time.Since(start) > time.Second {
		t.Error("sleep was not interrupted promptly")
	}
	l2 := newLifecycle(zerolog.Nop())
	if !l2.sleep(time.Millisecond) {
		t.Error("uninterrupted sleep reported false")
	}
}

func TestLifecycleAdvanceNeverLeavesStopped(t *testing.T) {
	l := newLifecycle(zerolog.Nop())
	if !l.begin() || !l.advance(StateRunning) {
		t.Fatal("advance refused before shutdown")
	}
	if !l.advance(StateReconnecting) || l.State() != StateReconnecting {
		t.Fatalf("State = %v, want Reconnecting", l.State())
	}
	l.shutdown(func() {
		if l.advance(StateRunning) {
			t.Error("advance left Stopping")
		}
	})
	for _, s := range []State{StateRunning, StateReconnecting} {
		if l.advance(s) {
			t.Errorf("advance(%v) left Stopped", s)
		}
	}
	if l.State() != StateStopped {
		t.Errorf("State = %v, want Stopped", l.State())
	}
}

func TestWaitTimeout(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	if waitTimeout(&wg, 10*time.Millisecond) {
		t.Error("waitTimeout returned true for a pending group")
	}
	wg.Done()
	if !waitTimeout(&wg, time.Second) {
		t.Error("waitTimeout returned false for a finished group")
	}
}
