package mdoc

import "sync"

// FrameSender is the minimal capability TerminationProvider needs from a
// live transport endpoint: send one already-framed byte string. Both
// PeripheralServer and CentralClient implement it (spec §4.G/§4.I note on
// the common `Transport` capability `{send, terminate, subscribe}`).
type FrameSender interface {
	SendFrame(frame []byte) error
}

// TerminationProvider emits the single-byte 0x02 session-termination frame
// through whichever endpoint is live, preferring the Central-role sender
// and falling back to the Peripheral-role sender (spec §4.G).
type TerminationProvider struct {
	mu       sync.Mutex
	client   FrameSender
	server   FrameSender
	sm       *ConnectionStateMachine
	sentOnce bool
}

func NewTerminationProvider(sm *ConnectionStateMachine) *TerminationProvider {
	return &TerminationProvider{sm: sm}
}

// SetClientSender/SetServerSender register the live senders; either may be
// nil if that role isn't active for this endpoint's mode.
func (t *TerminationProvider) SetClientSender(s FrameSender) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.client = s
}

func (t *TerminationProvider) SetServerSender(s FrameSender) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.server = s
}

// attemptSend makes one best-effort attempt to deliver the 0x02 frame
// through whichever sender is live. Idempotent: every call after the first
// is a silent no-op, so cancel-mid-send plus a later explicit Terminate()
// never emits two termination frames (spec §5).
func (t *TerminationProvider) attemptSend() {
	t.mu.Lock()
	if t.sentOnce {
		t.mu.Unlock()
		return
	}
	t.sentOnce = true
	sender := t.client
	if sender == nil {
		sender = t.server
	}
	t.mu.Unlock()

	if sender != nil {
		_ = sender.SendFrame(TerminateFrame())
	}
}

// Terminate makes a best-effort attempt to send the 0x02 frame, then
// advances the state machine per spec §4.G: from Error it resets to Idle;
// from Connected it moves to Disconnecting then Disconnected. Safe to call
// any number of times (spec §5 cancellation/idempotence).
func (t *TerminationProvider) Terminate() {
	t.attemptSend()

	if t.sm.IsInState(Error) {
		t.sm.TransitionTo(Idle, "")
		return
	}
	if t.sm.IsInState(Connected) {
		t.sm.TransitionTo(Disconnecting, "")
		t.sm.TransitionTo(Disconnected, "")
	}
}

// HandleError classifies e and, if terminal: moves the state machine to
// Error (firing the termination callback exactly once), makes a
// best-effort attempt to deliver the 0x02 frame, and — whether or not that
// attempt actually reached the peer — resets to Idle so a new session can
// be started (spec §4.G, scenario 4: an adapter-off error cannot deliver
// 0x02 at all, yet the state machine still resets once the termination
// attempt has been made). Returns whether the session was terminated.
func (t *TerminationProvider) HandleError(e error) (sessionTerminated bool) {
	class := Classify(e)
	if class != Terminal {
		return false
	}
	t.sm.TransitionTo(Error, reasonString(e))
	t.attemptSend()
	t.sm.TransitionTo(Idle, "")
	return true
}
