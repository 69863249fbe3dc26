package gxserialbridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// State is the bridge lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateReconnecting
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateReconnecting:
		return "Reconnecting"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	}
	return "Unknown"
}

// lifecycle holds the state machine and the shared shutdown signal of one
// bridge. Every bounded wait in the relay observes ctx.
type lifecycle struct {
	log     zerolog.Logger
	state   atomic.Int32
	running atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	haltOnce sync.Once
	done     chan struct{}

	stopOnce sync.Once
	stopped  chan struct{}
}

func newLifecycle(log zerolog.Logger) lifecycle {
	ctx, cancel := context.WithCancel(context.Background())
	return lifecycle{
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (l *lifecycle) State() State {
	return State(l.state.Load())
}

// Running reports whether the relay loops are active or starting.
func (l *lifecycle) Running() bool {
	return l.running.Load()
}

// Done is closed once the bridge stops running, either because Stop was
// called or because it gave up on its own (reconnect attempts exhausted).
func (l *lifecycle) Done() <-chan struct{} {
	return l.done
}

func (l *lifecycle) setState(s State) {
	old := State(l.state.Swap(int32(s)))
	if old != s {
		l.log.Debug().Stringer("from", old).Stringer("to", s).Msg("state changed")
	}
}

// advance moves to s unless shutdown has begun. Stopping and Stopped are
// never left.
func (l *lifecycle) advance(s State) bool {
	for {
		old := State(l.state.Load())
		if old == StateStopping || old == StateStopped {
			return false
		}
		if old == s {
			return true
		}
		if l.state.CompareAndSwap(int32(old), int32(s)) {
			l.log.Debug().Stringer("from", old).Stringer("to", s).Msg("state changed")
			return true
		}
	}
}

// begin moves Created to Starting. It fails once the bridge has left Created.
func (l *lifecycle) begin() bool {
	if !l.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return false
	}
	l.log.Debug().Stringer("from", StateCreated).Stringer("to", StateStarting).Msg("state changed")
	return true
}

// halt clears running and fires the shutdown signal. No new peers are
// accepted and no reconnect is scheduled after it.
func (l *lifecycle) halt() {
	l.haltOnce.Do(func() {
		l.running.Store(false)
		l.cancel()
		close(l.done)
	})
}

// sleep waits for d and reports false when shutdown interrupted the wait.
func (l *lifecycle) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-l.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// shutdown runs teardown exactly once. Concurrent callers block until the
// first one has finished, so every caller returns with the bridge stopped.
func (l *lifecycle) shutdown(teardown func()) {
	l.stopOnce.Do(func() {
		l.setState(StateStopping)
		l.halt()
		teardown()
		l.setState(StateStopped)
		close(l.stopped)
	})
	<-l.stopped
}

// waitTimeout waits for wg and reports false when timeout elapsed first.
// A timed-out group is abandoned; its goroutines exit on their own once they
// observe the shutdown signal.
func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
