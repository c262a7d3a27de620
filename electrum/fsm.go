package electrum

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// State is an explicit connection lifecycle state for a Client, layered on
// top of the wire-protocol plumbing in client.go.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateReady
	StateDraining
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// validTransitions enumerates every allowed state transition. A transition
// not listed here is rejected by transition.
var validTransitions = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateHandshaking, StateError, StateDisconnected},
	StateHandshaking:  {StateReady, StateError, StateDisconnected},
	StateReady:        {StateDraining, StateError},
	StateDraining:     {StateDisconnected},
	StateError:        {StateDisconnected, StateConnecting},
}

// fsm tracks the current connection state and notifies watchers on change.
type fsm struct {
	state atomic.Int32

	mu       sync.Mutex
	watchers []chan State
}

func newFSM() *fsm {
	f := &fsm{}
	f.state.Store(int32(StateDisconnected))
	return f
}

// Current returns the current state.
func (f *fsm) Current() State {
	return State(f.state.Load())
}

// transition moves the FSM to next, returning an error if the transition
// isn't permitted from the current state.
func (f *fsm) transition(next State) error {
	current := f.Current()
	allowed := false
	for _, s := range validTransitions[current] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("electrum: invalid state transition %s -> %s", current, next)
	}
	f.state.Store(int32(next))
	f.notify(next)
	return nil
}

// force sets the state unconditionally, bypassing validTransitions. Used
// only for unconditional teardown (Client.Close), where the caller may be
// tearing down from any state including StateError.
func (f *fsm) force(next State) {
	f.state.Store(int32(next))
	f.notify(next)
}

// watch registers a channel that receives every subsequent state change.
// The returned func unregisters it.
func (f *fsm) watch() (<-chan State, func()) {
	ch := make(chan State, 8)
	f.mu.Lock()
	f.watchers = append(f.watchers, ch)
	f.mu.Unlock()
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, w := range f.watchers {
			if w == ch {
				f.watchers = append(f.watchers[:i], f.watchers[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

func (f *fsm) notify(s State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.watchers {
		select {
		case w <- s:
		default:
		}
	}
}

// State exposes the Client's current connection state.
func (c *Client) State() State {
	return c.fsm.Current()
}

// Drain moves the client into StateDraining: in-flight requests are allowed
// to complete but no new calls are accepted, ahead of a full Close.
func (c *Client) Drain() error {
	return c.fsm.transition(StateDraining)
}
