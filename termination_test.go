package mdoc

import "testing"

type fakeSender struct {
	frames [][]byte
	fail   bool
}

func (f *fakeSender) SendFrame(frame []byte) error {
	if f.fail {
		return &SendError{ErrBluetoothUnavailable}
	}
	f.frames = append(f.frames, frame)
	return nil
}

func TestTerminateFromConnectedReachesDisconnected(t *testing.T) {
	sm := NewConnectionStateMachine()
	sm.TransitionTo(Scanning, "")
	sm.TransitionTo(Connecting, "")
	sm.TransitionTo(Connected, "")

	term := NewTerminationProvider(sm)
	sender := &fakeSender{}
	term.SetClientSender(sender)

	term.Terminate()

	if sm.GetState() != Disconnected {
		t.Fatalf("expected Disconnected after terminate from Connected, got %s", sm.GetState())
	}
	if len(sender.frames) != 1 || sender.frames[0][0] != frameTerminate {
		t.Fatal("expected exactly one 0x02 frame to be sent")
	}
}

func TestTerminateIsIdempotent(t *testing.T) {
	sm := NewConnectionStateMachine()
	sm.TransitionTo(Scanning, "")
	sm.TransitionTo(Connecting, "")
	sm.TransitionTo(Connected, "")

	term := NewTerminationProvider(sm)
	sender := &fakeSender{}
	term.SetClientSender(sender)

	term.Terminate()
	term.Terminate()
	term.Terminate()

	if len(sender.frames) != 1 {
		t.Fatalf("calling Terminate N times must send exactly one frame, got %d", len(sender.frames))
	}
}

func TestHandleErrorOnAdapterOffResetsToIdleWithoutSending(t *testing.T) {
	sm := NewConnectionStateMachine()
	sm.TransitionTo(Scanning, "")
	sm.TransitionTo(Connecting, "")
	sm.TransitionTo(Connected, "")

	term := NewTerminationProvider(sm)
	sender := &fakeSender{fail: true}
	term.SetClientSender(sender)

	fired := 0
	sm.SetTerminationCallback(func(string) { fired++ })

	terminated := term.HandleError(&ProtoError{ErrBluetoothUnavailable})
	if !terminated {
		t.Fatal("expected HandleError to report the session terminated")
	}
	if fired != 1 {
		t.Fatalf("expected termination callback exactly once, got %d", fired)
	}
	if sm.GetState() != Idle {
		t.Fatalf("expected automatic reset to Idle, got %s", sm.GetState())
	}
	if len(sender.frames) != 0 {
		t.Fatal("a failing sender must not record any successfully sent frame")
	}
}

func TestHandleErrorIgnoresRecoverableErrors(t *testing.T) {
	sm := NewConnectionStateMachine()
	sm.TransitionTo(Scanning, "")

	term := NewTerminationProvider(sm)
	if term.HandleError(&SendError{ErrNotPaired}) {
		t.Fatal("a recoverable error must not terminate the session")
	}
	if sm.GetState() != Scanning {
		t.Fatal("state must be unchanged after a recoverable error")
	}
}

func TestTerminationPrefersClientSender(t *testing.T) {
	sm := NewConnectionStateMachine()
	sm.TransitionTo(Scanning, "")
	sm.TransitionTo(Connecting, "")
	sm.TransitionTo(Connected, "")

	term := NewTerminationProvider(sm)
	client := &fakeSender{}
	server := &fakeSender{}
	term.SetClientSender(client)
	term.SetServerSender(server)

	term.Terminate()

	if len(client.frames) != 1 {
		t.Fatal("expected the client sender to be used when both are present")
	}
	if len(server.frames) != 0 {
		t.Fatal("expected the server sender to be left unused when a client sender is present")
	}
}
