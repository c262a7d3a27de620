package electrum

import "testing"

func TestFSMValidTransitions(t *testing.T) {
	f := newFSM()
	if f.Current() != StateDisconnected {
		t.Fatalf("initial state = %v, want disconnected", f.Current())
	}
	steps := []State{StateConnecting, StateHandshaking, StateReady, StateDraining, StateDisconnected}
	for _, s := range steps {
		if err := f.transition(s); err != nil {
			t.Fatalf("transition to %v failed: %v", s, err)
		}
	}
}

func TestFSMRejectsInvalidTransition(t *testing.T) {
	f := newFSM()
	if err := f.transition(StateReady); err == nil {
		t.Error("expected error transitioning disconnected -> ready directly")
	}
}

func TestFSMWatchReceivesTransitions(t *testing.T) {
	f := newFSM()
	ch, unwatch := f.watch()
	defer unwatch()

	if err := f.transition(StateConnecting); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	select {
	case got := <-ch:
		if got != StateConnecting {
			t.Errorf("watch received %v, want connecting", got)
		}
	default:
		t.Error("expected a state notification on the watch channel")
	}
}

func TestServerCacheManagerPrefersLowerErrorRate(t *testing.T) {
	m := NewServerCacheManager()
	m.RecordError("bad.example.com:50002")
	m.RecordError("bad.example.com:50002")
	m.RecordSuccess("good.example.com:50002", 0)

	best := m.Best([]string{"bad.example.com:50002", "good.example.com:50002"})
	if best != "good.example.com:50002" {
		t.Errorf("Best() = %q, want good.example.com:50002", best)
	}
}

func TestServerCacheManagerResetClears(t *testing.T) {
	m := NewServerCacheManager()
	m.RecordError("x:1")
	m.Reset()
	if s := m.Stats("x:1"); s != nil {
		t.Errorf("Stats() after Reset() = %+v, want nil", s)
	}
}
