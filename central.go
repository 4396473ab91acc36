package mdoc

import (
	"context"
	"sync"
	"time"

	"github.com/go-ble/ble"
)

// CentralClient implements spec §4.E: scan for the service UUID, connect,
// discover characteristics, verify Ident, subscribe to State/Server2Client,
// write the state-start byte, and send via Client2Server writes — mirror
// image of PeripheralServer.
type CentralClient struct {
	cfg     Config
	profile GattProfile
	ident   Ident

	sm   *ConnectionStateMachine
	term *TerminationProvider

	mu     sync.Mutex
	frag   *Fragmenter
	dev    ble.Device
	client ble.Client

	stateChar *ble.Characteristic
	c2sChar   *ble.Characteristic
	s2cChar   *ble.Characteristic
	psmChar   *ble.Characteristic

	preferNoResponse bool
	l2cap            *l2capChannel
	l2capConfirmed   bool

	lastActivity time.Time

	onReceived    func([]byte)
	onStateChange func(ConnectionState)
}

func NewCentralClient(cfg Config, profile GattProfile, ident Ident, sm *ConnectionStateMachine, term *TerminationProvider) *CentralClient {
	return &CentralClient{
		cfg:     cfg,
		profile: profile,
		ident:   ident,
		sm:      sm,
		term:    term,
		frag:    NewFragmenter(cfg.MaxFragmentBytes+1, cfg.MaxMessageBytes),
	}
}

func (c *CentralClient) OnReceived(cb func([]byte))             { c.onReceived = cb }
func (c *CentralClient) OnStateChange(cb func(ConnectionState))  { c.onStateChange = cb }

// Start scans for the service UUID, connects to the first peripheral that
// advertises it, checks that peripheral's Ident characteristic against the
// expected ident, and brings the connection up through MTU negotiation and
// subscription. Only that first peripheral is tried: if its Ident does not
// match, Start fails with MalformedEngagement and no other advertising
// peripheral is considered.
func (c *CentralClient) Start(ctx context.Context) error {
	dev, err := newDefaultDevice()
	if err != nil {
		return &ProtoError{ErrBluetoothUnavailable}
	}
	ble.SetDefaultDevice(dev)
	c.dev = dev

	c.sm.TransitionTo(Scanning, "")

	adv, err := c.scanWithGrace(ctx)
	if err != nil {
		werr := &ProtoError{ErrTimeout}
		c.sm.HandleError(werr)
		return werr
	}

	c.sm.TransitionTo(Connecting, "")

	client, err := c.dialWithGrace(ctx, adv.Addr())
	if err != nil {
		werr := &ProtoError{ErrBluetoothUnavailable}
		c.sm.HandleError(werr)
		return werr
	}
	c.client = client

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		werr := &ProtoError{ErrBluetoothUnavailable}
		c.sm.HandleError(werr)
		return werr
	}

	if err := c.bindCharacteristics(profile); err != nil {
		c.sm.HandleError(err)
		return err
	}

	identBytes, err := client.ReadCharacteristic(c.identChar())
	if err != nil {
		werr := &ProtoError{ErrMalformedEngagement}
		c.sm.HandleError(werr)
		return werr
	}
	gotIdent, ok := identFromBytes(identBytes)
	if !ok || !gotIdent.Equal(c.ident) {
		werr := &ProtoError{ErrMalformedEngagement}
		c.sm.HandleError(werr)
		return werr
	}

	if err := client.Subscribe(c.stateChar, false, c.handleStateNotify); err != nil {
		werr := &ProtoError{ErrBluetoothUnavailable}
		c.sm.HandleError(werr)
		return werr
	}
	if err := client.Subscribe(c.s2cChar, false, c.handleServer2ClientNotify); err != nil {
		werr := &ProtoError{ErrBluetoothUnavailable}
		c.sm.HandleError(werr)
		return werr
	}

	if txMTU, err := client.ExchangeMTU(c.cfg.MaxFragmentBytes + 1); err == nil && txMTU > 1 {
		c.mu.Lock()
		c.frag = NewFragmenter(txMTU, c.cfg.MaxMessageBytes)
		c.preferNoResponse = true
		c.mu.Unlock()
	}

	if err := client.WriteCharacteristic(c.stateChar, []byte{StateStart}, c.preferNoResponse); err != nil {
		werr := &SendError{err}
		c.sm.HandleError(werr)
		return werr
	}

	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()

	c.sm.TransitionTo(Connected, "")
	if c.onStateChange != nil {
		c.onStateChange(Connected)
	}

	go recoverToLog(func() {
		armIdleTimeout(ctx, c.cfg.IdleTimeout, func() time.Time {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.lastActivity
		}, func() {
			err := &ProtoError{ErrIdleTimeout}
			if c.sm.HandleError(err) {
				c.term.HandleError(err)
			}
		})
	}, log)

	if c.cfg.UseL2CAP != L2CAPDisable && c.psmChar != nil {
		c.tryUpgradeL2CAP(adv.Addr().String())
	}
	return nil
}

// scanWithGrace scans for cfg.ScanTimeout; on failure, if cfg.ReconnectGrace
// is set, allows one more scan attempt bounded by that grace window before
// giving up. Both attempts happen while the state machine is still in
// Scanning — no new transition is involved (spec_full.md §4 supplement #4).
func (c *CentralClient) scanWithGrace(ctx context.Context) (ble.Advertisement, error) {
	adv, err := c.scanOnce(ctx, c.cfg.ScanTimeout)
	if err == nil || c.cfg.ReconnectGrace <= 0 {
		return adv, err
	}
	return c.scanOnce(ctx, c.cfg.ReconnectGrace)
}

func (c *CentralClient) scanOnce(ctx context.Context, timeout time.Duration) (ble.Advertisement, error) {
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	found := make(chan ble.Advertisement, 1)
	filter := func(a ble.Advertisement) bool {
		for _, u := range a.Services() {
			if u.Equal(c.profile.ServiceUUID) {
				return true
			}
		}
		return false
	}
	go recoverToLog(func() {
		_ = ble.Scan(scanCtx, false, func(a ble.Advertisement) {
			select {
			case found <- a:
			default:
			}
		}, filter)
	}, log)

	select {
	case adv := <-found:
		return adv, nil
	case <-scanCtx.Done():
		return nil, &ProtoError{ErrTimeout}
	}
}

// dialWithGrace dials for cfg.ConnectionTimeout; on failure, if
// cfg.ReconnectGrace is set, allows one more dial attempt bounded by that
// grace window. Both attempts happen while the state machine is still in
// Connecting.
func (c *CentralClient) dialWithGrace(ctx context.Context, addr ble.Addr) (ble.Client, error) {
	client, err := c.dialOnce(ctx, c.cfg.ConnectionTimeout, addr)
	if err == nil || c.cfg.ReconnectGrace <= 0 {
		return client, err
	}
	return c.dialOnce(ctx, c.cfg.ReconnectGrace, addr)
}

func (c *CentralClient) dialOnce(ctx context.Context, timeout time.Duration, addr ble.Addr) (ble.Client, error) {
	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return ble.Dial(connCtx, addr)
}

// tryUpgradeL2CAP reads the PSM characteristic and opens a CoC channel,
// per spec §4.E's optional upgrade. Any failure here is swallowed and the
// session continues over GATT — "fallback to GATT if the channel errors
// before the first successful message" (spec §4.D).
func (c *CentralClient) tryUpgradeL2CAP(addr string) {
	psmBytes, err := c.client.ReadCharacteristic(c.psmChar)
	if err != nil {
		return
	}
	psm, ok := decodePSM(psmBytes)
	if !ok {
		return
	}
	ch, err := dialL2CAP(addr, psm)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.l2cap = ch
	c.l2capConfirmed = false
	c.mu.Unlock()
}

func (c *CentralClient) identChar() *ble.Characteristic {
	return c.findChar(c.profile.IdentUUID)
}

func (c *CentralClient) bindCharacteristics(profile *ble.Profile) error {
	for _, svc := range profile.Services {
		if !svc.UUID.Equal(c.profile.ServiceUUID) {
			continue
		}
		for _, ch := range svc.Characteristics {
			switch {
			case ch.UUID.Equal(c.profile.StateUUID):
				c.stateChar = ch
			case ch.UUID.Equal(c.profile.Client2ServerUUID):
				c.c2sChar = ch
			case ch.UUID.Equal(c.profile.Server2ClientUUID):
				c.s2cChar = ch
			case ch.UUID.Equal(c.profile.L2CAPPSMUUID):
				c.psmChar = ch
			}
		}
	}
	if c.stateChar == nil || c.c2sChar == nil || c.s2cChar == nil {
		return &ProtoError{ErrMalformedEngagement}
	}
	return nil
}

func (c *CentralClient) findChar(u ble.UUID) *ble.Characteristic {
	p := c.client.Profile()
	if p == nil {
		return nil
	}
	for _, svc := range p.Services {
		for _, ch := range svc.Characteristics {
			if ch.UUID.Equal(u) {
				return ch
			}
		}
	}
	return nil
}

func (c *CentralClient) handleStateNotify(req []byte) {
	if len(req) == 1 && req[0] == StateEnd {
		c.handleIncomingFrame(TerminateFrame())
	}
}

func (c *CentralClient) handleServer2ClientNotify(req []byte) {
	c.handleIncomingFrame(req)
}

func (c *CentralClient) handleIncomingFrame(frame []byte) {
	c.mu.Lock()
	c.lastActivity = time.Now()
	message, complete, isTerminate, err := c.frag.Accept(frame)
	c.mu.Unlock()

	if err != nil {
		if c.sm.HandleError(err) {
			c.term.HandleError(err)
		}
		return
	}
	if isTerminate {
		c.term.Terminate()
		return
	}
	if complete && c.onReceived != nil {
		c.onReceived(message)
	}
}

// Send fragments message once and sends it over whichever transport is
// active. If an L2CAP channel is active but has not yet carried a
// successful message, a send failure clears it and falls back to the GATT
// Client2Server path for the same frames rather than surfacing the error
// (spec §4.D/§9: "fallback to GATT if the channel errors before the first
// successful message"). Once L2CAP has confirmed at least one send, a
// later failure is terminal and is returned as-is.
func (c *CentralClient) Send(message []byte) error {
	c.mu.Lock()
	frames := c.frag.Frame(message)
	noRsp := c.preferNoResponse
	l2cap := c.l2cap
	confirmed := c.l2capConfirmed
	c.mu.Unlock()

	if l2cap != nil {
		err := retry(context.Background(), defaultRetryPolicy(c.cfg.SendTimeout, c.cfg.Retries), func() error {
			for _, f := range frames {
				if err := l2cap.sendFramed(f, c.cfg.MaxFragmentBytes); err != nil {
					return err
				}
			}
			return nil
		})
		if err == nil {
			c.mu.Lock()
			c.l2capConfirmed = true
			c.mu.Unlock()
			return nil
		}
		if confirmed {
			return err
		}
		c.mu.Lock()
		c.l2cap = nil
		c.mu.Unlock()
		_ = l2cap.Close()
	}

	return retry(context.Background(), defaultRetryPolicy(c.cfg.SendTimeout, c.cfg.Retries), func() error {
		for _, f := range frames {
			if err := c.client.WriteCharacteristic(c.c2sChar, f, noRsp); err != nil {
				return &SendError{err}
			}
		}
		return nil
	})
}

// SendFrame implements FrameSender for TerminationProvider.
func (c *CentralClient) SendFrame(frame []byte) error {
	c.mu.Lock()
	l2cap := c.l2cap
	c.mu.Unlock()
	if l2cap != nil {
		if err := l2cap.sendFramed(frame, c.cfg.MaxFragmentBytes); err == nil {
			return nil
		}
		c.mu.Lock()
		c.l2cap = nil
		c.mu.Unlock()
		_ = l2cap.Close()
	}
	if c.client == nil || c.c2sChar == nil {
		return &SendError{ErrNotPaired}
	}
	if err := c.client.WriteCharacteristic(c.c2sChar, frame, c.preferNoResponse); err != nil {
		return &SendError{err}
	}
	return nil
}

// Terminate cancels the connection, draining within the send timeout
// (spec §4.E/§5 cancellation contract).
func (c *CentralClient) Terminate() {
	_ = c.SendFrame(TerminateFrame())
	if c.client != nil {
		done := make(chan struct{})
		go func() {
			_ = c.client.CancelConnection()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(c.cfg.SendTimeout):
		}
	}
}
