package mdoc

import "sync"

// ConnectionState is the canonical state of one TransportEndpoint (spec §3).
type ConnectionState int

const (
	Idle ConnectionState = iota
	Scanning
	Connecting
	Connected
	Disconnecting
	Disconnected
	Error
)

func (s ConnectionState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Scanning:
		return "Scanning"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Disconnecting:
		return "Disconnecting"
	case Disconnected:
		return "Disconnected"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// legalTransitions is the DAG of spec §4.F, rooted at Idle. Re-entering
// Idle is only permitted from Disconnected or Error.
var legalTransitions = map[ConnectionState]map[ConnectionState]bool{
	Idle:          {Scanning: true},
	Scanning:      {Connecting: true, Error: true},
	Connecting:    {Connected: true, Error: true},
	Connected:     {Disconnecting: true, Error: true, Disconnected: true},
	Disconnecting: {Disconnected: true, Error: true},
	Disconnected:  {Idle: true},
	Error:         {Idle: true},
}

// TerminationCallback is invoked exactly once on first entry to Error with
// a terminal classification (spec §4.F).
type TerminationCallback func(reason string)

// ConnectionStateMachine is the single state authority for one endpoint
// (spec §4.F). All mutation is serialized behind a mutex, consistent with
// the single-owner actor model of spec §5 — generalized from the teacher's
// EnclaveClient, which serializes all pairing/queue mutation behind a
// single sync.Mutex embedded in the struct (krd/enclave_client.go).
type ConnectionStateMachine struct {
	mu    sync.Mutex
	state ConnectionState

	onTermination   TerminationCallback
	terminationFired bool

	observers []func(from, to ConnectionState)
}

// NewConnectionStateMachine returns a machine starting in Idle.
func NewConnectionStateMachine() *ConnectionStateMachine {
	return &ConnectionStateMachine{state: Idle}
}

// TransitionTo attempts to move to target, returning false (and leaving the
// state unchanged) for illegal transitions. Never panics.
func (sm *ConnectionStateMachine) TransitionTo(target ConnectionState, reason string) bool {
	sm.mu.Lock()
	from := sm.state
	allowed := legalTransitions[from][target]
	if !allowed {
		sm.mu.Unlock()
		return false
	}
	sm.state = target
	var fireTermination bool
	if target == Error && !sm.terminationFired {
		sm.terminationFired = true
		fireTermination = true
	}
	if target != Error {
		// Re-entering Idle clears the one-shot termination latch so an
		// Error in the next cycle fires the callback again.
		if target == Idle {
			sm.terminationFired = false
		}
	}
	cb := sm.onTermination
	observers := append([]func(from, to ConnectionState){}, sm.observers...)
	sm.mu.Unlock()

	// Observers see transitions in commit order (spec §5); each
	// TransitionTo call delivers its own notification synchronously so two
	// concurrent committers can never interleave a stale view.
	for _, obs := range observers {
		obs(from, target)
	}
	if fireTermination && cb != nil {
		cb(reason)
	}
	return true
}

func (sm *ConnectionStateMachine) IsInState(s ConnectionState) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state == s
}

func (sm *ConnectionStateMachine) GetState() ConnectionState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

// SetTerminationCallback installs the callback invoked exactly once on
// first entry into Error with a terminal classification (spec §4.F).
func (sm *ConnectionStateMachine) SetTerminationCallback(fn TerminationCallback) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onTermination = fn
}

// Observe registers a callback invoked on every committed transition, in
// commit order (spec §5).
func (sm *ConnectionStateMachine) Observe(fn func(from, to ConnectionState)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.observers = append(sm.observers, fn)
}

// HandleError classifies err and, if terminal, transitions to Error with
// the error's reason string; returns true only when that transition to
// Error was made, so the caller (4.D/4.E transport code) knows whether to
// run termination. Mirrors spec §4.F/§4.G's
// handleError(e, ctx) -> sessionTerminated contract.
func (sm *ConnectionStateMachine) HandleError(err error) (terminated bool) {
	if err == nil {
		return false
	}
	class := Classify(err)
	if class != Terminal {
		return false
	}
	return sm.TransitionTo(Error, reasonString(err))
}
