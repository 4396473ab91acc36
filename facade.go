package mdoc

import (
	"context"
	"sync"

	"github.com/golang/groupcache/lru"
)

// seenIdentCacheSize bounds the LRU of idents a facade has already started,
// mirroring the teacher's ackedRequestIDs/requestCallbacksByRequestID LRU
// usage in krd/enclave_client.go — here scoped to idents instead of request
// IDs. Each TransportFacade owns its own cache and consults it only in
// DualMode Start, so it refuses a second DualMode Start of the same facade;
// it does not see idents started by other facades in the process.
const seenIdentCacheSize = 256

// roleEndpoint is the common capability TransportFacade drives, satisfied
// by both *CentralClient and *PeripheralServer (spec §9's tagged-variant
// Transport capability {send, terminate, subscribe}).
type roleEndpoint interface {
	Start(ctx context.Context) error
	OnReceived(cb func([]byte))
	OnStateChange(cb func(ConnectionState))
	Send(message []byte) error
	Terminate()
}

// engagementIdentity is what TransportFacade needs from whichever
// session-shaped object owns this side's ident/engagement — satisfied by
// both PresentationSession (holder) and ReaderSession (reader, spec_full.md
// §4 supplement #1).
type engagementIdentity interface {
	BLEIdent() Ident
	QREngagementURI() string
}

// TransportFacade constructs one or two endpoints per the chosen
// PresentationMode, each owning a distinct ConnectionStateMachine, and
// arbitrates which one's first application message reaches deliver.
type TransportFacade struct {
	cfg        Config
	engagement engagementIdentity
	obs        SessionObserver
	deliver    func(msg []byte)

	centralEndpoint roleEndpoint
	centralSM       *ConnectionStateMachine
	centralTerm     *TerminationProvider

	peripheralEndpoint roleEndpoint
	peripheralSM       *ConnectionStateMachine
	peripheralTerm     *TerminationProvider

	winnerMu sync.Mutex
	winner   roleEndpoint

	seenIdents *lru.Cache
}

// newTransportFacade wires A-G (ident, fragmenter, gatt profile, state
// machines, termination) to whichever deliver callback the caller supplies,
// building a CentralClient and/or PeripheralServer per useCentral/
// usePeripheral. NewHolderFacade and NewReaderFacade are thin role-specific
// wrappers over this shared constructor.
func newTransportFacade(cfg Config, engagement engagementIdentity, obs SessionObserver, useCentral, usePeripheral bool, deliver func(msg []byte)) *TransportFacade {
	f := &TransportFacade{
		cfg:        cfg,
		engagement: engagement,
		obs:        obs,
		deliver:    deliver,
		seenIdents: lru.New(seenIdentCacheSize),
	}

	ident := engagement.BLEIdent()
	profile := NewGattProfile(ident)

	if usePeripheral {
		f.peripheralSM = NewConnectionStateMachine()
		f.peripheralTerm = NewTerminationProvider(f.peripheralSM)
		peripheral := NewPeripheralServer(cfg, profile, ident, f.peripheralSM, f.peripheralTerm)
		f.peripheralTerm.SetServerSender(peripheral)
		f.peripheralEndpoint = peripheral
		peripheral.OnReceived(func(msg []byte) { f.onMessage(f.peripheralEndpoint, msg) })
		peripheral.OnStateChange(func(s ConnectionState) {
			if s == Connected {
				f.obs.Connected()
			}
		})
	}
	if useCentral {
		f.centralSM = NewConnectionStateMachine()
		f.centralTerm = NewTerminationProvider(f.centralSM)
		central := NewCentralClient(cfg, profile, ident, f.centralSM, f.centralTerm)
		f.centralTerm.SetClientSender(central)
		f.centralEndpoint = central
		central.OnReceived(func(msg []byte) { f.onMessage(f.centralEndpoint, msg) })
		central.OnStateChange(func(s ConnectionState) {
			if s == Connected {
				f.obs.Connected()
			}
		})
	}

	return f
}

// NewHolderFacade wires a holder's PresentationSession to the role(s) its
// engagement advertises (spec §3/§4.D-§4.E). The winning endpoint's first
// application message is handed to session.HandleRequest.
func NewHolderFacade(cfg Config, session *PresentationSession, obs SessionObserver) *TransportFacade {
	if obs == nil {
		obs = NopObserver{}
	}
	useCentral, usePeripheral := session.CarrierDescriptors()
	deliver := func(msg []byte) {
		requests, err := session.HandleRequest(msg)
		if err != nil {
			obs.Error(reasonString(err))
			return
		}
		obs.SelectNamespaces(requests)
	}
	return newTransportFacade(cfg, session, obs, useCentral, usePeripheral, deliver)
}

// NewReaderFacade wires a ReaderSession to the role(s) it is configured to
// run (spec_full.md §4 supplement #1, reader-initiated/reverse engagement):
// the same ConnectionStateMachine/Fragmenter/GattProfile construction as
// NewHolderFacade, driven by the reader's own CarrierDescriptors instead of
// a holder's. The winning endpoint's first application message is the
// holder's mdoc response, delivered to the ReaderSession rather than parsed
// as an ItemsRequest.
func NewReaderFacade(cfg Config, session *ReaderSession, obs SessionObserver) *TransportFacade {
	if obs == nil {
		obs = NopObserver{}
	}
	useCentral, usePeripheral := session.CarrierDescriptors()
	deliver := func(msg []byte) {
		session.deliverResponse(msg)
		obs.Success(msg)
	}
	return newTransportFacade(cfg, session, obs, useCentral, usePeripheral, deliver)
}

// Start brings up every configured endpoint concurrently (spec §4.I
// DualMode: both roles run concurrently).
func (f *TransportFacade) Start(ctx context.Context) error {
	if uri := f.engagement.QREngagementURI(); uri != "" {
		f.obs.EngagingQR([]byte(uri))
	}

	if f.cfg.PresentationMode == DualMode {
		if _, loaded := f.seenIdents.Get(f.engagement.BLEIdent()); loaded {
			// A fresh session always derives a fresh ident (spec §3
			// invariant); a hit here means this facade has already been
			// started once, which it refuses.
			return &ProtoError{ErrProtocolViolation}
		}
		f.seenIdents.Add(f.engagement.BLEIdent(), struct{}{})
	}

	var firstErr error
	if f.peripheralEndpoint != nil {
		if err := f.peripheralEndpoint.Start(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if f.centralEndpoint != nil {
		go recoverToLog(func() {
			if err := f.centralEndpoint.Start(ctx); err != nil {
				f.obs.Error(reasonString(err))
			}
		}, log)
	}
	return firstErr
}

// onMessage implements spec §4.I's race rule: acquire the mode-selection
// lock, record the first endpoint to arrive as the winner, terminate the
// other cleanly, forward only the winner's message to deliver. A message
// arriving after a winner is already recorded is dropped.
func (f *TransportFacade) onMessage(from roleEndpoint, msg []byte) {
	f.winnerMu.Lock()
	if f.winner != nil {
		f.winnerMu.Unlock()
		return
	}
	f.winner = from
	f.winnerMu.Unlock()

	f.terminateLoser(from)
	f.deliver(msg)
}

func (f *TransportFacade) terminateLoser(winner roleEndpoint) {
	if f.peripheralEndpoint != nil && f.peripheralEndpoint != winner {
		f.peripheralEndpoint.Terminate()
	}
	if f.centralEndpoint != nil && f.centralEndpoint != winner {
		f.centralEndpoint.Terminate()
	}
}

// Send delivers message over whichever endpoint won the race (spec §4.I).
func (f *TransportFacade) Send(message []byte) error {
	f.winnerMu.Lock()
	winner := f.winner
	f.winnerMu.Unlock()
	if winner == nil {
		return &SendError{ErrNotPaired}
	}
	f.obs.UploadProgress(0, 1)
	if err := winner.Send(message); err != nil {
		f.obs.Error(reasonString(err))
		return err
	}
	f.obs.UploadProgress(1, 1)
	f.obs.Success(message)
	return nil
}

// Terminate tears down whichever endpoints are still live. Safe to call
// any number of times (spec §5).
func (f *TransportFacade) Terminate() {
	if f.peripheralEndpoint != nil {
		f.peripheralEndpoint.Terminate()
	}
	if f.centralEndpoint != nil {
		f.centralEndpoint.Terminate()
	}
}
