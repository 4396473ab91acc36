package mdoc

import (
	"context"
	"sync"
	"testing"

	"github.com/golang/groupcache/lru"
)

// fakeEndpoint is a roleEndpoint test double: no real BLE, just enough to
// drive TransportFacade's winner-selection race (spec §4.I, §8 scenario 2).
type fakeEndpoint struct {
	mu          sync.Mutex
	started     bool
	terminated  int
	sent        [][]byte
	receiveCb   func([]byte)
	stateCb     func(ConnectionState)
}

func (f *fakeEndpoint) Start(ctx context.Context) error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *fakeEndpoint) OnReceived(cb func([]byte)) {
	f.mu.Lock()
	f.receiveCb = cb
	f.mu.Unlock()
}

func (f *fakeEndpoint) OnStateChange(cb func(ConnectionState)) {
	f.mu.Lock()
	f.stateCb = cb
	f.mu.Unlock()
}

func (f *fakeEndpoint) Send(message []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeEndpoint) Terminate() {
	f.mu.Lock()
	f.terminated++
	f.mu.Unlock()
}

func (f *fakeEndpoint) terminations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated
}

// newTestFacade builds a TransportFacade around fake endpoints, bypassing
// NewHolderFacade's real BLE construction entirely — onMessage and
// terminateLoser only ever touch the roleEndpoint interface, so a fake pair
// exercises the exact same race logic a real Central/Peripheral pair would.
// Returns the facade alongside the PresentationSession it wraps, since
// TransportFacade itself only keeps an engagementIdentity view of it.
func newTestFacade(t *testing.T, central, peripheral *fakeEndpoint) (*TransportFacade, *PresentationSession) {
	t.Helper()
	session, err := NewPresentationSession([]byte("fixture-mdoc-bytes"), []byte("device-key"), DualMode)
	if err != nil {
		t.Fatal(err)
	}
	f := &TransportFacade{
		cfg:        Config{PresentationMode: DualMode},
		engagement: session,
		obs:        NopObserver{},
		seenIdents: lru.New(seenIdentCacheSize),
	}
	f.deliver = func(msg []byte) {
		_, _ = session.HandleRequest(msg)
	}
	f.centralEndpoint = central
	f.peripheralEndpoint = peripheral
	return f, session
}

func TestDualModeRaceOnlyFirstMessageWins(t *testing.T) {
	central := &fakeEndpoint{}
	peripheral := &fakeEndpoint{}
	f, session := newTestFacade(t, central, peripheral)

	f.onMessage(peripheral, fixtureRequestBytes(t))
	f.onMessage(central, fixtureRequestBytes(t))

	if peripheral.terminations() != 0 {
		t.Fatalf("winning endpoint must not be terminated, got %d terminations", peripheral.terminations())
	}
	if central.terminations() != 1 {
		t.Fatalf("losing endpoint must be terminated exactly once, got %d", central.terminations())
	}
	if !session.Submitted() && len(session.requests) == 0 {
		t.Fatal("expected the winner's request to be handled")
	}
}

func TestDualModeRaceSpuriousSecondMessageDropped(t *testing.T) {
	central := &fakeEndpoint{}
	peripheral := &fakeEndpoint{}
	f, session := newTestFacade(t, central, peripheral)

	f.onMessage(central, fixtureRequestBytes(t))
	if peripheral.terminations() != 1 {
		t.Fatalf("expected peripheral terminated once central wins, got %d", peripheral.terminations())
	}

	// A spurious write arriving on the already-terminated loser after a
	// winner is recorded must be dropped, not forwarded to the session.
	f.onMessage(peripheral, fixtureRequestBytes(t))

	if _, err := session.HandleRequest(fixtureRequestBytes(t)); err == nil {
		t.Fatal("expected the session to already be past handleRequest from the winning message")
	}
}

func TestFacadeSendRoutesToWinner(t *testing.T) {
	central := &fakeEndpoint{}
	peripheral := &fakeEndpoint{}
	f, _ := newTestFacade(t, central, peripheral)

	if err := f.Send([]byte("x")); err == nil {
		t.Fatal("expected NotPaired before any winner is recorded")
	}

	f.onMessage(peripheral, fixtureRequestBytes(t))
	if err := f.Send([]byte("response")); err != nil {
		t.Fatal(err)
	}
	if len(peripheral.sent) != 1 {
		t.Fatalf("expected exactly one message sent on the winning endpoint, got %d", len(peripheral.sent))
	}
	if len(central.sent) != 0 {
		t.Fatal("the losing endpoint must never receive Send traffic")
	}
}

func TestFacadeTerminateIsSafeRepeated(t *testing.T) {
	central := &fakeEndpoint{}
	peripheral := &fakeEndpoint{}
	f, _ := newTestFacade(t, central, peripheral)

	f.Terminate()
	f.Terminate()

	if central.terminations() != 2 || peripheral.terminations() != 2 {
		t.Fatal("Terminate must be safe to call repeatedly on every configured endpoint")
	}
}
