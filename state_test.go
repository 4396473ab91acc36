package mdoc

import "testing"

func TestLegalTransitionChain(t *testing.T) {
	sm := NewConnectionStateMachine()
	chain := []ConnectionState{Scanning, Connecting, Connected, Disconnecting, Disconnected, Idle}
	for _, target := range chain {
		if !sm.TransitionTo(target, "") {
			t.Fatalf("expected transition to %s to succeed", target)
		}
		if sm.GetState() != target {
			t.Fatalf("GetState() = %s, want %s", sm.GetState(), target)
		}
	}
}

func TestIllegalTransitionLeavesStateUnchanged(t *testing.T) {
	sm := NewConnectionStateMachine()
	if sm.TransitionTo(Connected, "") {
		t.Fatal("Idle -> Connected must be illegal")
	}
	if sm.GetState() != Idle {
		t.Fatal("illegal transition must not mutate state")
	}
}

func TestErrorReachableFromEveryMidState(t *testing.T) {
	for _, start := range []ConnectionState{Scanning, Connecting, Connected, Disconnecting} {
		sm := NewConnectionStateMachine()
		sm.state = start
		if !sm.TransitionTo(Error, "boom") {
			t.Fatalf("%s -> Error must be legal", start)
		}
	}
}

func TestTerminationCallbackFiresExactlyOnce(t *testing.T) {
	sm := NewConnectionStateMachine()
	sm.TransitionTo(Scanning, "")
	sm.TransitionTo(Connecting, "")
	sm.TransitionTo(Connected, "")

	fired := 0
	sm.SetTerminationCallback(func(reason string) { fired++ })

	sm.TransitionTo(Error, "adapter off")
	sm.TransitionTo(Error, "adapter off") // illegal re-entry from Error itself; must be a no-op

	if fired != 1 {
		t.Fatalf("termination callback fired %d times, want 1", fired)
	}
}

func TestIdleOnlyReachableFromDisconnectedOrError(t *testing.T) {
	sm := NewConnectionStateMachine()
	if sm.TransitionTo(Idle, "") {
		t.Fatal("Idle -> Idle must be illegal")
	}
}

func TestObserversSeeCommitOrder(t *testing.T) {
	sm := NewConnectionStateMachine()
	var seen []ConnectionState
	sm.Observe(func(from, to ConnectionState) { seen = append(seen, to) })

	sm.TransitionTo(Scanning, "")
	sm.TransitionTo(Connecting, "")

	if len(seen) != 2 || seen[0] != Scanning || seen[1] != Connecting {
		t.Fatalf("unexpected observer order: %v", seen)
	}
}

func TestHandleErrorClassifiesRecoverableAsNoOp(t *testing.T) {
	sm := NewConnectionStateMachine()
	sm.TransitionTo(Scanning, "")
	if sm.HandleError(&SendError{ErrNotPaired}) {
		t.Fatal("a recoverable-classified error must not be accepted by HandleError")
	}
	if sm.GetState() != Scanning {
		t.Fatal("recoverable error must not move the state machine")
	}
}

func TestHandleErrorTerminalMovesToError(t *testing.T) {
	sm := NewConnectionStateMachine()
	sm.TransitionTo(Scanning, "")
	sm.TransitionTo(Connecting, "")
	sm.TransitionTo(Connected, "")
	if !sm.HandleError(&ProtoError{ErrBluetoothUnavailable}) {
		t.Fatal("a terminal error must be accepted by HandleError")
	}
	if sm.GetState() != Error {
		t.Fatal("terminal error must move the state machine to Error")
	}
}
